package rgb

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestModeNextWraps(t *testing.T) {
	assert.Equal(t, ModeCycleUpDown, ModeCycleLeftRight.Next())
	assert.Equal(t, ModeSolidColor, ModeSolidMultisplash.Next())
	assert.Equal(t, ModeSolidColor, ModeNone.Next())
}

func TestModeIDsMatchFirmwareOrder(t *testing.T) {
	assert.Equal(t, Mode(13), ModeCycleLeftRight)
	assert.Equal(t, Mode(19), ModeCycleSpiral)
	assert.Equal(t, Mode(25), ModeJellybeanRaindrops)
	assert.Equal(t, Mode(42), ModeSplash)
	assert.Equal(t, "CYCLE_SPIRAL", ModeCycleSpiral.String())
}

func TestSnapshotRoundTrip(t *testing.T) {
	m := NewMatrix(ModeSplash, HSV{12, 200, 90})
	snap := Capture(m)

	m.SetModeNoEEPROM(ModeSolidColor)
	m.SetHSVNoEEPROM(HSVWhite)
	snap.Apply(m)

	assert.Equal(t, ModeSplash, m.Mode())
	assert.Equal(t, HSV{12, 200, 90}, m.HSV())
}

func TestHSVToRGB(t *testing.T) {
	assert.Equal(t, White, HSVToRGB(HSVWhite))
	assert.Equal(t, Color{255, 0, 0}, HSVToRGB(HSV{0, 255, 255}))
	assert.Equal(t, Color{0, 0, 0}, HSVToRGB(HSV{100, 255, 0}))
}

func TestPixelHonoursDecision(t *testing.T) {
	m := NewMatrix(ModeSolidColor, HSV{0, 255, 255})

	full := RenderDecision{FullOverride: true, Fill: White}
	assert.Equal(t, White, m.Pixel(3, 0, full))

	sparse := RenderDecision{
		Overrides:       []PixelColor{{Index: 24, Color: Blue}},
		AllowBackground: true,
	}
	assert.Equal(t, Blue, m.Pixel(24, 0, sparse))
	assert.Equal(t, Color{255, 0, 0}, m.Pixel(25, 0, sparse))

	assert.Equal(t, Black, m.Pixel(25, 0, RenderDecision{}))
}

func TestParseModeAndColor(t *testing.T) {
	m, err := ParseMode("rgb_matrix_cycle_left_right")
	require.NoError(t, err)
	assert.Equal(t, ModeCycleLeftRight, m)

	m, err = ParseMode("42")
	require.NoError(t, err)
	assert.Equal(t, Mode(42), m)

	_, err = ParseMode("disco")
	assert.Error(t, err)
	_, err = ParseMode("NONE")
	assert.NoError(t, err)

	c, err := ParseColor(Teal.String())
	require.NoError(t, err)
	assert.Equal(t, Teal, c)
	_, err = ParseColor("#12345")
	assert.Error(t, err)
	_, err = ParseColor("#gg0000")
	assert.Error(t, err)
}
