package main

import (
	"context"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"keycore/internal/controller"
	"keycore/internal/host"
	"keycore/internal/keycode"
	"keycore/internal/keymap"
	"keycore/internal/layer"
	"keycore/internal/logging"
	"keycore/internal/rgb"
)

func pos(t *testing.T, row, col int) keymap.Pos {
	t.Helper()
	p, ok := keymap.PosAt(row, col)
	require.True(t, ok)
	return p
}

func TestLEDIndexMatchesIndicators(t *testing.T) {
	ind := controller.DefaultIndicators()

	// The number row holds digits 1-9 then 0 in columns 1-10.
	for i := 0; i < 10; i++ {
		assert.Equal(t, ind.NumberLEDs[i], ledIndex(pos(t, 0, i+1)), "digit column %d", i+1)
	}

	for col := 0; col < keymap.LeftThumbs+keymap.RightThumbs; col++ {
		assert.Contains(t, ind.ThumbLEDs, ledIndex(pos(t, keymap.Rows, col)))
	}

	seen := make(map[int]keymap.Pos)
	for p := keymap.Pos(0); p < keymap.KeyCount; p++ {
		led := ledIndex(p)
		require.GreaterOrEqual(t, led, 0)
		require.Less(t, led, rgb.LEDCount)
		if other, dup := seen[led]; dup {
			t.Fatalf("LED %d shared by keys %d and %d", led, other, p)
		}
		seen[led] = p
	}
}

func TestKeyAtFindsEveryKey(t *testing.T) {
	for p := keymap.Pos(0); p < keymap.KeyCount; p++ {
		x, y := keyOrigin(p)
		got, ok := keyAt(x+1, y)
		require.True(t, ok, "key %d", p)
		assert.Equal(t, p, got)
	}
	_, ok := keyAt(0, 0)
	assert.False(t, ok)
}

func TestLookupRune(t *testing.T) {
	tests := []struct {
		r    rune
		pos  keymap.Pos
		hold bool
		ok   bool
	}{
		{'e', pos(t, 1, 3), false, true},
		{'E', pos(t, 1, 3), true, true},
		{'1', pos(t, 0, 1), false, true},
		{'!', pos(t, 0, 1), true, true},
		{'/', pos(t, 3, 10), false, true},
		{'?', pos(t, 3, 10), true, true},
		{' ', pos(t, keymap.Rows, keymap.LeftThumbs-1), false, true},
		{'~', 0, false, false},
	}
	for _, tt := range tests {
		p, hold, ok := lookupRune(tt.r)
		assert.Equal(t, tt.ok, ok, "%q", tt.r)
		if tt.ok {
			assert.Equal(t, tt.pos, p, "%q", tt.r)
			assert.Equal(t, tt.hold, hold, "%q", tt.r)
		}
	}
}

func TestOutputLogKeepsLatest(t *testing.T) {
	out := newOutputLog(3)
	out.Tap(keycode.A)
	out.Register(keycode.B)
	out.Unregister(keycode.B)
	out.SetCPI(3000)

	assert.Equal(t, []string{"+KC_B", "-KC_B", "cpi 3000"}, out.Lines())
	assert.Equal(t, "3000", out.CPI())
	out.ResetCPI()
	assert.Equal(t, "default", out.CPI())
}

func TestDescribeEvent(t *testing.T) {
	assert.Equal(t, "layer base -> function", describeEvent(controller.Event{
		Kind: controller.EventLayer,
		From: 0,
		To:   layer.Of(layer.Function),
	}))
	assert.Equal(t, "mode flashlight on", describeEvent(controller.Event{
		Kind: controller.EventMode, Detail: "flashlight", On: true,
	}))
}

type recordingClicker struct {
	mu  sync.Mutex
	ids []layer.ID
}

func (c *recordingClicker) Click(id layer.ID) {
	c.mu.Lock()
	c.ids = append(c.ids, id)
	c.mu.Unlock()
}

func (c *recordingClicker) clicked(id layer.ID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Contains(c.ids, id)
}

type harness struct {
	sim    *sim
	screen tcell.SimulationScreen
	out    *outputLog
	sound  *recordingClicker
	done   chan error
}

func startSim(t *testing.T) *harness {
	t.Helper()
	screen := tcell.NewSimulationScreen("UTF-8")
	require.NoError(t, screen.Init())
	screen.SetSize(120, 30)

	logger := logging.Discard()
	km := keymap.Default()
	matrix := rgb.NewMatrix(rgb.ModeSolidColor, rgb.HSV{H: 0, S: 0, V: 80})
	ctrl := controller.New(controller.DefaultConfig(), matrix, logger)
	out := newOutputLog(16)
	h := host.New(host.DefaultConfig(), ctrl, km, matrix, out, host.WithLogger(logger), host.WithPointer(out))

	cfg := defaultSimConfig()
	cfg.TapTime = 10 * time.Millisecond
	cfg.HoldTime = 300 * time.Millisecond

	hs := &harness{
		screen: screen,
		out:    out,
		sound:  &recordingClicker{},
		done:   make(chan error, 1),
	}
	hs.sim = newSim(cfg, screen, h, km, matrix, out, hs.sound, logger)

	ctx, cancel := context.WithCancel(context.Background())
	go func() { hs.done <- hs.sim.run(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case <-hs.done:
		case <-time.After(3 * time.Second):
			t.Error("simulator did not stop")
		}
		screen.Fini()
	})
	return hs
}

func (h *harness) text() string {
	cells, width, _ := h.screen.GetContents()
	var b strings.Builder
	for i, c := range cells {
		if i > 0 && i%width == 0 {
			b.WriteByte('\n')
		}
		if len(c.Runes) == 0 {
			b.WriteByte(' ')
			continue
		}
		b.WriteRune(c.Runes[0])
	}
	return b.String()
}

func (h *harness) logged(line string) bool {
	return slices.Contains(h.out.Lines(), line)
}

func TestSimTapsTypedKey(t *testing.T) {
	h := startSim(t)

	h.screen.InjectKey(tcell.KeyRune, 'e', tcell.ModNone)
	require.Eventually(t, func() bool { return h.logged("-KC_E") }, 2*time.Second, 5*time.Millisecond)
	assert.True(t, h.logged("+KC_E"))
	assert.Eventually(t, func() bool { return h.sim.Held() == 0 }, time.Second, 5*time.Millisecond)
}

func TestSimHoldChangesLayer(t *testing.T) {
	h := startSim(t)

	// KC_X_TG2 toggles the function layer when held.
	h.screen.InjectKey(tcell.KeyRune, 'X', tcell.ModShift)
	require.Eventually(t, func() bool { return h.sound.clicked(layer.Function) }, 2*time.Second, 5*time.Millisecond)
	assert.Eventually(t, func() bool {
		return strings.Contains(h.text(), "layer function")
	}, 2*time.Second, 10*time.Millisecond)
}

func TestSimDrawsBoard(t *testing.T) {
	h := startSim(t)

	require.Eventually(t, func() bool {
		return strings.Contains(h.text(), "keysim")
	}, 2*time.Second, 10*time.Millisecond)
	text := h.text()
	assert.Contains(t, text, "layer base")
	assert.Contains(t, text, "modes")
}

func TestSimQuitsOnEscape(t *testing.T) {
	h := startSim(t)

	h.screen.InjectKey(tcell.KeyEscape, 0, tcell.ModNone)
	select {
	case err := <-h.done:
		assert.NoError(t, err)
		h.done <- err
	case <-time.After(2 * time.Second):
		t.Fatal("escape did not quit")
	}
}
