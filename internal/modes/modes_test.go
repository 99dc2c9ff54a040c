package modes

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"keycore/internal/keycode"
	"keycore/internal/layer"
	"keycore/internal/rgb"
	"keycore/internal/showmode"
	"keycore/internal/timer"
)

type fixture struct {
	layers *layer.Controller
	matrix *rgb.Matrix
	show   *showmode.Sequencer
	m      *Manager
}

func newFixture() *fixture {
	f := &fixture{
		layers: layer.NewController(),
		matrix: rgb.NewMatrix(rgb.ModeSplash, rgb.HSV{H: 10, S: 20, V: 30}),
		show:   showmode.New(0, showmode.DefaultNumberLEDs),
	}
	f.m = New(Config{}, f.layers, f.matrix, f.show)
	return f
}

func TestFlashlightRoundTrip(t *testing.T) {
	starts := []rgb.Snapshot{
		{Mode: rgb.ModeSplash, HSV: rgb.HSV{H: 10, S: 20, V: 30}},
		{Mode: rgb.ModeCycleLeftRight, HSV: rgb.HSV{H: 255, S: 0, V: 1}},
		{Mode: rgb.ModeNone, HSV: rgb.HSV{}},
		{Mode: rgb.ModeSolidMultisplash, HSV: rgb.HSV{H: 128, S: 255, V: 255}},
	}
	for _, start := range starts {
		f := newFixture()
		start.Apply(f.matrix)

		require.True(t, f.m.ToggleFlashlight())
		assert.Equal(t, rgb.ModeSolidColor, f.matrix.Mode())
		assert.Equal(t, rgb.HSVWhite, f.matrix.HSV())
		assert.Equal(t, start, f.m.Saved())

		require.False(t, f.m.ToggleFlashlight())
		assert.Equal(t, start, rgb.Capture(f.matrix))
	}
}

func TestFlashlightRecapturesOnEachActivation(t *testing.T) {
	f := newFixture()
	f.m.ToggleFlashlight()
	f.m.ToggleFlashlight()

	f.matrix.SetModeNoEEPROM(rgb.ModeBreathing)
	f.m.ToggleFlashlight()
	assert.Equal(t, rgb.ModeBreathing, f.m.Saved().Mode)
}

func TestScrollSubstituteOnlyOnPress(t *testing.T) {
	f := newFixture()
	_, ok := f.m.ScrollSubstitute(keycode.MS_UP, true)
	assert.False(t, ok, "scroll mode off")

	f.m.SetScrollMode(true)
	w, ok := f.m.ScrollSubstitute(keycode.MS_UP, true)
	assert.True(t, ok)
	assert.Equal(t, keycode.MS_WHLU, w)

	w, ok = f.m.ScrollSubstitute(keycode.MS_FAST_RIGHT, true)
	assert.True(t, ok)
	assert.Equal(t, keycode.MS_WHLR, w)

	_, ok = f.m.ScrollSubstitute(keycode.MS_UP, false)
	assert.False(t, ok, "release passes through")

	_, ok = f.m.ScrollSubstitute(keycode.MS_BTN1, true)
	assert.False(t, ok)
}

func TestAutoMouseActivatesAndTimesOut(t *testing.T) {
	f := newFixture()

	assert.True(t, f.m.Motion(3, 0, 1000))
	assert.True(t, f.layers.IsOn(layer.Mouse))
	assert.True(t, f.m.Flags().AutoMouse)

	for now := timer.Time(1001); now < 1650; now++ {
		f.m.Motion(0, 0, now)
		require.False(t, f.m.CheckAutoMouse(now), "dropped early at %d", now)
	}
	assert.True(t, f.m.CheckAutoMouse(1650))
	assert.False(t, f.layers.IsOn(layer.Mouse))
	assert.False(t, f.m.Flags().AutoMouse)
}

func TestAutoMouseMotionRefreshesTimer(t *testing.T) {
	f := newFixture()
	f.m.Motion(1, 1, 0)
	assert.False(t, f.m.Motion(0, -1, 600), "already on")
	assert.False(t, f.m.CheckAutoMouse(1249))
	assert.True(t, f.m.CheckAutoMouse(1250))
}

func TestMouseLockSuspendsTimeout(t *testing.T) {
	f := newFixture()
	f.m.Motion(3, 0, 0)
	assert.True(t, f.m.ToggleMouseLock(10))

	assert.False(t, f.m.CheckAutoMouse(100000))
	assert.True(t, f.layers.IsOn(layer.Mouse))
}

func TestMouseLockForcesLayer(t *testing.T) {
	f := newFixture()
	f.m.ToggleMouseLock(0)
	assert.True(t, f.layers.IsOn(layer.Mouse))
	assert.True(t, f.m.MouseLocked())
}

func TestMouseUnlockAfterIdleDropsLayer(t *testing.T) {
	f := newFixture()
	f.m.Motion(2, 0, 1000)
	f.m.ToggleMouseLock(1100)
	assert.False(t, f.m.ToggleMouseLock(5000))
	assert.True(t, f.layers.IsOn(layer.Mouse), "unlock keeps the layer")

	assert.True(t, f.m.CheckAutoMouse(5000), "idle since 1000")
	assert.False(t, f.layers.IsOn(layer.Mouse))
}

func TestMouseUnlockMeasuresFromLastMotion(t *testing.T) {
	f := newFixture()
	f.m.ToggleMouseLock(0)
	f.m.Motion(1, 0, 4800)
	assert.False(t, f.m.ToggleMouseLock(5000))

	assert.False(t, f.m.CheckAutoMouse(5449))
	assert.True(t, f.layers.IsOn(layer.Mouse))
	assert.True(t, f.m.CheckAutoMouse(5450))
	assert.False(t, f.layers.IsOn(layer.Mouse))
}

func TestAutoCycleSteps(t *testing.T) {
	f := newFixture()
	f.matrix.SetModeNoEEPROM(rgb.ModeCycleLeftRight)
	f.m.SetAutoCycle(true, 0)

	assert.False(t, f.m.CheckAutoCycle(29999))
	assert.True(t, f.m.CheckAutoCycle(30000))
	assert.Equal(t, rgb.ModeCycleUpDown, f.matrix.Mode())
	assert.True(t, f.show.Active())
	assert.Equal(t, []uint8{1, 4}, f.show.State().Digits)

	assert.False(t, f.m.CheckAutoCycle(59999))
	assert.True(t, f.m.CheckAutoCycle(60000))

	assert.False(t, f.m.ToggleAutoCycle(60001))
	assert.False(t, f.m.CheckAutoCycle(200000))
}

func TestDropCycling(t *testing.T) {
	f := newFixture()
	assert.False(t, f.m.DropCycling())
	f.matrix.SetModeNoEEPROM(rgb.ModeCycleSpiral)
	assert.True(t, f.m.DropCycling())
	assert.Equal(t, rgb.ModeSolidColor, f.matrix.Mode())
}

func TestResetRestoresFlashlight(t *testing.T) {
	f := newFixture()
	f.m.ToggleFlashlight()
	f.m.SetScrollMode(true)
	f.m.Reset()

	assert.Equal(t, Flags{}, f.m.Flags())
	assert.Equal(t, rgb.ModeSplash, f.matrix.Mode())
}
