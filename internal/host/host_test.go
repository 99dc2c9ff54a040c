package host

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"keycore/internal/action"
	"keycore/internal/controller"
	"keycore/internal/keycode"
	"keycore/internal/keymap"
	"keycore/internal/layer"
	"keycore/internal/rgb"
	"keycore/internal/timer"
)

// Positions on the default keymap.
const (
	posW      keymap.Pos = 14
	posE      keymap.Pos = 15
	posA      keymap.Pos = 25
	posS      keymap.Pos = 26
	posPlus   keymap.Pos = 34
	posDance  keymap.Pos = 37
	posVAI    keymap.Pos = 46
	posSlash  keymap.Pos = 46
	posLeftTG keymap.Pos = 50
)

type fixture struct {
	h        *Host
	clock    *timer.ManualClock
	rec      *action.Recorder
	matrix   *rgb.Matrix
	obs      *observer
	rendered int
}

type observer struct {
	keys       []keycode.Code
	ticks      int
	resets     int
	interrupts int
}

func (o *observer) ObserveKey(kc keycode.Code, pressed bool, now timer.Time, r controller.Result) {
	if pressed {
		o.keys = append(o.keys, kc)
	}
}

func (o *observer) ObserveTick(now timer.Time, dx, dy int, r controller.Result) { o.ticks++ }

func (o *observer) ObserveLayer(id layer.ID, on bool, now timer.Time, r controller.Result) {}

func (o *observer) ObserveInterrupt(now timer.Time, r controller.Result) { o.interrupts++ }

func (o *observer) ObserveInit(now timer.Time, r controller.Result) {}

func (o *observer) ObserveReset(now timer.Time, r controller.Result) { o.resets++ }

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	f := &fixture{
		clock:  &timer.ManualClock{},
		rec:    &action.Recorder{},
		matrix: rgb.NewMatrix(rgb.ModeSolidColor, rgb.HSV{H: 0, S: 255, V: 128}),
		obs:    &observer{},
	}
	f.clock.Set(1000)
	ctrl := controller.New(controller.DefaultConfig(), f.matrix, logger)
	f.h = New(DefaultConfig(), ctrl, keymap.Default(), f.matrix, f.rec,
		WithLogger(logger),
		WithClock(f.clock),
		WithPointer(f.rec),
		WithObserver(f.obs),
		WithIndicators(func(rgb.RenderDecision) { f.rendered++ }),
	)
	return f
}

func (f *fixture) press(pos keymap.Pos) {
	f.h.Input(KeyInput{Pos: pos, Pressed: true}, f.clock.Now())
}

func (f *fixture) release(pos keymap.Pos) {
	f.h.Input(KeyInput{Pos: pos}, f.clock.Now())
}

func (f *fixture) wait(ms int) {
	for i := 0; i < ms; i++ {
		f.h.Tick(f.clock.Advance(1))
	}
}

func (f *fixture) take() []action.Command {
	out := append([]action.Command(nil), f.rec.Commands...)
	f.rec.Reset()
	return out
}

func cmd(op action.Op, kc keycode.Code) action.Command {
	return action.Command{Op: op, Code: kc}
}

func TestPlainKeyRegistersAndUnregisters(t *testing.T) {
	f := newFixture(t)

	f.press(posW)
	f.wait(5)
	f.release(posW)

	assert.Equal(t, []action.Command{
		cmd(action.OpRegister, keycode.W),
		cmd(action.OpUnregister, keycode.W),
	}, f.take())
	assert.Equal(t, []keycode.Code{keycode.W}, f.obs.keys)
	assert.Equal(t, 5, f.obs.ticks)
}

func TestReleaseUsesCodeResolvedAtPress(t *testing.T) {
	f := newFixture(t)

	f.press(posE)
	f.h.Controller().MomentaryLayer(layer.Mouse, true, f.clock.Now())
	f.release(posE)

	assert.Equal(t, []action.Command{
		cmd(action.OpRegister, keycode.E),
		cmd(action.OpUnregister, keycode.E),
	}, f.take())
}

func TestLayerTapTap(t *testing.T) {
	f := newFixture(t)

	f.press(posSlash)
	f.wait(150)
	assert.Empty(t, f.rec.Commands)
	f.release(posSlash)

	assert.Equal(t, []action.Command{
		cmd(action.OpRegister, keycode.SLSH),
		cmd(action.OpUnregister, keycode.SLSH),
	}, f.take())
	assert.Equal(t, layer.Base, f.h.Controller().Layers().Highest())
}

func TestLayerTapHold(t *testing.T) {
	f := newFixture(t)

	f.press(posSlash)
	f.wait(DefaultLayerTapTerm - 1)
	assert.False(t, f.h.Controller().Layers().IsOn(layer.Mouse))
	f.wait(1)
	assert.True(t, f.h.Controller().Layers().IsOn(layer.Mouse))
	assert.Positive(t, f.rendered)

	f.release(posSlash)
	assert.False(t, f.h.Controller().Layers().IsOn(layer.Mouse))
	assert.Empty(t, f.take())
}

func TestLayerTapPressInterruptsDance(t *testing.T) {
	f := newFixture(t)

	f.press(posDance)
	f.wait(30)
	f.release(posDance)
	f.wait(30)

	f.press(posSlash)
	assert.Equal(t, 1, f.obs.interrupts)
	assert.Equal(t, layer.Mouse, f.h.Controller().Layers().Highest(), "interrupted dance resolves to hold")
	assert.Empty(t, f.take())
}

func TestComboFires(t *testing.T) {
	f := newFixture(t)

	f.press(posA)
	f.clock.Advance(5)
	f.press(posS)
	f.wait(30)
	f.release(posS)
	f.release(posA)

	copyKey := keycode.Ctrled(keycode.C)
	assert.Equal(t, []action.Command{
		cmd(action.OpRegister, copyKey),
		cmd(action.OpUnregister, copyKey),
	}, f.take())
}

func TestComboKeyAloneFlushesAfterTerm(t *testing.T) {
	f := newFixture(t)

	f.press(posA)
	f.wait(keymap.DefaultComboTerm - 1)
	assert.Empty(t, f.rec.Commands)
	f.wait(1)
	assert.Equal(t, []action.Command{cmd(action.OpRegister, keycode.A)}, f.take())

	f.release(posA)
	assert.Equal(t, []action.Command{cmd(action.OpUnregister, keycode.A)}, f.take())
}

func TestControllerCommandsReachSink(t *testing.T) {
	f := newFixture(t)

	f.press(posPlus)
	f.release(posPlus)
	assert.Equal(t, []action.Command{cmd(action.OpTap, keycode.Shifted(keycode.EQL))}, f.take())
}

func TestBrightnessKeyAdjustsBackend(t *testing.T) {
	f := newFixture(t)

	f.press(posLeftTG)
	f.release(posLeftTG)
	require.True(t, f.h.Controller().Layers().IsOn(layer.Symbols))

	f.press(posVAI)
	f.release(posVAI)
	assert.Equal(t, uint8(144), f.matrix.HSV().V)
	assert.Empty(t, f.take())
}

func TestClamp(t *testing.T) {
	assert.Equal(t, uint8(255), addClamp(250, 16))
	assert.Equal(t, uint8(0), subClamp(10, 16))
	assert.Equal(t, uint8(26), subClamp(42, 16))
}

func TestResetReleasesHeldKeys(t *testing.T) {
	f := newFixture(t)

	f.press(posW)
	f.press(posSlash)
	f.wait(DefaultLayerTapTerm)
	require.True(t, f.h.Controller().Layers().IsOn(layer.Mouse))
	f.take()

	f.h.reset()
	assert.Equal(t, 1, f.obs.resets)
	assert.Equal(t, []action.Command{cmd(action.OpUnregister, keycode.W)}, f.take())
	assert.Equal(t, layer.State(0), f.h.Controller().Layers().State())

	// Releases after a reset are ignored.
	f.release(posW)
	assert.Empty(t, f.take())
}

func TestRequestsFailWhenStopped(t *testing.T) {
	f := newFixture(t)
	_, err := f.h.Status(context.Background())
	assert.ErrorIs(t, err, ErrNotRunning)
}

func TestRequestFailsWhenRunExitsBeforeServing(t *testing.T) {
	f := newFixture(t)

	// Run is marked active but never reads its request channel, as when it
	// returns right after a caller saw it running.
	stopped := make(chan struct{})
	f.h.mu.Lock()
	f.h.running, f.h.stopped = true, stopped
	f.h.mu.Unlock()

	errc := make(chan error, 1)
	go func() {
		_, err := f.h.Status(context.Background())
		errc <- err
	}()

	select {
	case err := <-errc:
		t.Fatalf("returned before Run stopped: %v", err)
	case <-time.After(20 * time.Millisecond):
	}
	close(stopped)

	select {
	case err := <-errc:
		assert.ErrorIs(t, err, ErrNotRunning)
	case <-time.After(time.Second):
		t.Fatal("request blocked after Run stopped")
	}
}

func TestRunServesRequestsAndEvents(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	matrix := rgb.NewMatrix(rgb.ModeSolidColor, rgb.HSV{S: 255, V: 128})
	rec := &action.Recorder{}
	ctrl := controller.New(controller.DefaultConfig(), matrix, logger)
	h := New(DefaultConfig(), ctrl, keymap.Default(), matrix, rec, WithLogger(logger))

	events, cancelSub := h.Subscribe(16)
	defer cancelSub()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.Run(ctx) }()

	require.Eventually(t, func() bool {
		_, err := h.Status(ctx)
		return err == nil
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, h.Submit(ctx, KeyInput{Pos: posLeftTG, Pressed: true}))
	require.NoError(t, h.Submit(ctx, KeyInput{Pos: posLeftTG}))

	require.Eventually(t, func() bool {
		st, err := h.Status(ctx)
		return err == nil && st.Highest == layer.Symbols
	}, time.Second, 5*time.Millisecond)

	var sawLayer bool
	for !sawLayer {
		select {
		case ev := <-events:
			sawLayer = ev.Kind == controller.EventLayer && ev.To.Has(layer.Symbols)
		case <-time.After(time.Second):
			t.Fatal("no layer event")
		}
	}

	require.NoError(t, h.Reset(ctx))
	st, err := h.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, layer.Base, st.Highest)

	assert.ErrorIs(t, h.Run(ctx), ErrAlreadyRunning)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}
