package main

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"keycore/internal/config"
	"keycore/internal/controller"
	"keycore/internal/evdev"
	"keycore/internal/host"
	"keycore/internal/keycode"
	"keycore/internal/logging"
)

type fakeHost struct {
	keys   []host.KeyInput
	motion [][2]int
	err    error
}

func (f *fakeHost) Submit(ctx context.Context, in host.KeyInput) error {
	f.keys = append(f.keys, in)
	return f.err
}

func (f *fakeHost) Move(ctx context.Context, dx, dy int) error {
	f.motion = append(f.motion, [2]int{dx, dy})
	return f.err
}

type fakeOutput struct {
	log []string
}

func (f *fakeOutput) Register(kc keycode.Code)   { f.log = append(f.log, "+"+kc.String()) }
func (f *fakeOutput) Unregister(kc keycode.Code) { f.log = append(f.log, "-"+kc.String()) }

func (f *fakeOutput) Relay(dx, dy int32) {
	f.log = append(f.log, fmt.Sprintf("rel %d,%d", dx, dy))
}

func (f *fakeOutput) Scroll(v, h int32) {
	f.log = append(f.log, fmt.Sprintf("wheel %d,%d", v, h))
}

func (f *fakeOutput) Button(code uint16, pressed bool) {
	f.log = append(f.log, fmt.Sprintf("btn %#x %t", code, pressed))
}

func TestInputRouterKeys(t *testing.T) {
	h, out := &fakeHost{}, &fakeOutput{}
	r := newInputRouter(context.Background(), h, out, evdev.DefaultPositions(), logging.Discard())

	r.handle(evdev.Event{Type: evdev.EvKey, Code: 30, Value: evdev.KeyDown}) // KEY_A
	r.handle(evdev.Event{Type: evdev.EvKey, Code: 30, Value: evdev.KeyRepeat})
	r.handle(evdev.Event{Type: evdev.EvKey, Code: 30, Value: evdev.KeyUp})

	pos, ok := evdev.DefaultPositions().Lookup(30)
	require.True(t, ok)
	assert.Equal(t, []host.KeyInput{{Pos: pos, Pressed: true}, {Pos: pos, Pressed: false}}, h.keys)
	assert.Empty(t, out.log)
}

func TestInputRouterPassThrough(t *testing.T) {
	h, out := &fakeHost{}, &fakeOutput{}
	r := newInputRouter(context.Background(), h, out, evdev.DefaultPositions(), logging.Discard())

	r.handle(evdev.Event{Type: evdev.EvKey, Code: 59, Value: evdev.KeyDown}) // KEY_F1
	r.handle(evdev.Event{Type: evdev.EvKey, Code: 59, Value: evdev.KeyUp})
	r.handle(evdev.Event{Type: evdev.EvKey, Code: evdev.BtnLeft, Value: evdev.KeyDown})

	assert.Empty(t, h.keys)
	assert.Equal(t, []string{"+KC_F1", "-KC_F1", "btn 0x110 true"}, out.log)
}

func TestInputRouterMotion(t *testing.T) {
	h, out := &fakeHost{}, &fakeOutput{}
	r := newInputRouter(context.Background(), h, out, nil, logging.Discard())

	r.handle(evdev.Event{Type: evdev.EvRel, Code: evdev.RelX, Value: 3})
	r.handle(evdev.Event{Type: evdev.EvRel, Code: evdev.RelX, Value: 2})
	r.handle(evdev.Event{Type: evdev.EvRel, Code: evdev.RelY, Value: -1})
	r.handle(evdev.Event{Type: evdev.EvSyn, Code: evdev.SynReport})
	r.handle(evdev.Event{Type: evdev.EvRel, Code: evdev.RelWheel, Value: 1})
	r.handle(evdev.Event{Type: evdev.EvSyn, Code: evdev.SynReport})
	r.handle(evdev.Event{Type: evdev.EvSyn, Code: evdev.SynReport})

	assert.Equal(t, [][2]int{{5, -1}}, h.motion)
	assert.Equal(t, []string{"rel 5,-1", "wheel 1,0"}, out.log)
}

func TestResolveDevice(t *testing.T) {
	devices := []evdev.Device{
		{Name: "Logitech USB Receiver Mouse", Path: "/dev/input/event3", Pointer: true},
		{Name: "AT Translated Set 2 keyboard", Path: "/dev/input/event0", Keyboard: true},
	}

	d, err := resolveDevice(devices, "", isKeyboard)
	require.NoError(t, err)
	assert.Equal(t, "/dev/input/event0", d.Path)

	d, err = resolveDevice(devices, "", isPointer)
	require.NoError(t, err)
	assert.Equal(t, "/dev/input/event3", d.Path)

	d, err = resolveDevice(devices, "logitech", isKeyboard)
	require.NoError(t, err)
	assert.Equal(t, "/dev/input/event3", d.Path)

	d, err = resolveDevice(nil, "/dev/input/event9", isKeyboard)
	require.NoError(t, err)
	assert.Equal(t, "/dev/input/event9", d.Path)

	_, err = resolveDevice(devices, "nonexistent", isKeyboard)
	assert.Error(t, err)
	_, err = resolveDevice(devices[:1], "", isKeyboard)
	assert.Error(t, err)
}

func TestOptionsApply(t *testing.T) {
	cfg := config.DefaultConfig()
	off := false
	options{device: "/dev/input/event7", grab: &off, trace: "/tmp/t.db", verbose: true}.apply(cfg)

	assert.Equal(t, "/dev/input/event7", cfg.Input.Device)
	assert.False(t, cfg.Input.Grab)
	assert.True(t, cfg.Trace.Enabled)
	assert.Equal(t, "/tmp/t.db", cfg.Trace.Path)
	assert.Equal(t, "debug", cfg.Logging.Level)

	cfg = config.DefaultConfig()
	options{}.apply(cfg)
	assert.True(t, cfg.Input.Grab)
	assert.False(t, cfg.Trace.Enabled)
}

type fakeReconfigurer struct {
	got []controller.Config
	err error
}

func (f *fakeReconfigurer) Reconfigure(ctx context.Context, cfg controller.Config) error {
	f.got = append(f.got, cfg)
	return f.err
}

func TestDaemonApply(t *testing.T) {
	log, err := logging.New(&logging.Config{Writer: &discard{}})
	require.NoError(t, err)
	d := newDaemon(config.DefaultConfig(), nil, options{}, log)

	next := config.DefaultConfig()
	next.Timing.HoldThresholdMs = 250
	r := &fakeReconfigurer{}
	require.NoError(t, d.apply(context.Background(), r, next))
	require.Len(t, r.got, 1)
	assert.Equal(t, uint32(250), r.got[0].HoldThreshold)
	assert.Same(t, next, d.cfg)

	bad := config.DefaultConfig()
	bad.Controller.StartupMode = "disco"
	assert.Error(t, d.apply(context.Background(), r, bad))
	assert.Len(t, r.got, 1)
	assert.Same(t, next, d.cfg)

	r.err = host.ErrNotRunning
	assert.True(t, errors.Is(d.apply(context.Background(), r, config.DefaultConfig()), host.ErrNotRunning))
}

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }
