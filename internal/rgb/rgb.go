// Package rgb describes the RGB matrix backend the controller drives and the
// indicator render decision it hands back once per frame.
//
// The pixel renderer itself is external. Effect ids follow the firmware's
// enumeration with every built-in effect enabled, so the numbers shown by the
// show-mode sequencer match what the keyboard reports.
package rgb

import (
	"fmt"
	"strconv"
	"strings"
)

// Mode is an RGB matrix effect id.
type Mode uint8

// Built-in effects, in firmware order.
const (
	ModeNone Mode = iota
	ModeSolidColor
	ModeAlphasMods
	ModeGradientUpDown
	ModeGradientLeftRight
	ModeBreathing
	ModeBandSat
	ModeBandVal
	ModeBandPinwheelSat
	ModeBandPinwheelVal
	ModeBandSpiralSat
	ModeBandSpiralVal
	ModeCycleAll
	ModeCycleLeftRight
	ModeCycleUpDown
	ModeCycleOutIn
	ModeCycleOutInDual
	ModeRainbowMovingChevron
	ModeCyclePinwheel
	ModeCycleSpiral
	ModeDualBeacon
	ModeRainbowBeacon
	ModeRainbowPinwheels
	ModeFlowerBlooming
	ModeRaindrops
	ModeJellybeanRaindrops
	ModeHueBreathing
	ModeHuePendulum
	ModeHueWave
	ModePixelFractal
	ModePixelFlow
	ModePixelRain
	ModeTypingHeatmap
	ModeDigitalRain
	ModeSolidReactiveSimple
	ModeSolidReactive
	ModeSolidReactiveWide
	ModeSolidReactiveMultiwide
	ModeSolidReactiveCross
	ModeSolidReactiveMulticross
	ModeSolidReactiveNexus
	ModeSolidReactiveMultinexus
	ModeSplash
	ModeMultisplash
	ModeSolidSplash
	ModeSolidMultisplash

	// ModeEffectMax is one past the last built-in effect.
	ModeEffectMax
)

var modeNames = [...]string{
	"NONE", "SOLID_COLOR", "ALPHAS_MODS", "GRADIENT_UP_DOWN", "GRADIENT_LEFT_RIGHT",
	"BREATHING", "BAND_SAT", "BAND_VAL", "BAND_PINWHEEL_SAT", "BAND_PINWHEEL_VAL",
	"BAND_SPIRAL_SAT", "BAND_SPIRAL_VAL", "CYCLE_ALL", "CYCLE_LEFT_RIGHT",
	"CYCLE_UP_DOWN", "CYCLE_OUT_IN", "CYCLE_OUT_IN_DUAL", "RAINBOW_MOVING_CHEVRON",
	"CYCLE_PINWHEEL", "CYCLE_SPIRAL", "DUAL_BEACON", "RAINBOW_BEACON",
	"RAINBOW_PINWHEELS", "FLOWER_BLOOMING", "RAINDROPS", "JELLYBEAN_RAINDROPS",
	"HUE_BREATHING", "HUE_PENDULUM", "HUE_WAVE", "PIXEL_FRACTAL", "PIXEL_FLOW",
	"PIXEL_RAIN", "TYPING_HEATMAP", "DIGITAL_RAIN", "SOLID_REACTIVE_SIMPLE",
	"SOLID_REACTIVE", "SOLID_REACTIVE_WIDE", "SOLID_REACTIVE_MULTIWIDE",
	"SOLID_REACTIVE_CROSS", "SOLID_REACTIVE_MULTICROSS", "SOLID_REACTIVE_NEXUS",
	"SOLID_REACTIVE_MULTINEXUS", "SPLASH", "MULTISPLASH", "SOLID_SPLASH",
	"SOLID_MULTISPLASH",
}

func (m Mode) String() string {
	if int(m) < len(modeNames) {
		return modeNames[m]
	}
	return fmt.Sprintf("MODE_%d", uint8(m))
}

// ParseMode looks up an effect by name, ignoring case and an optional
// RGB_MATRIX_ prefix. A decimal effect id is accepted too.
func ParseMode(s string) (Mode, error) {
	name := strings.TrimPrefix(strings.ToUpper(strings.TrimSpace(s)), "RGB_MATRIX_")
	for i, n := range modeNames {
		if n == name {
			return Mode(i), nil
		}
	}
	if n, err := strconv.Atoi(name); err == nil && n > 0 && n < int(ModeEffectMax) {
		return Mode(n), nil
	}
	return ModeNone, fmt.Errorf("rgb: unknown effect %q", s)
}

// Next returns the effect after m, wrapping past the last effect to the
// first one.
func (m Mode) Next() Mode {
	n := m + 1
	if n >= ModeEffectMax || n == ModeNone {
		return ModeSolidColor
	}
	return n
}

// IsCycling reports whether m is one of the hue-cycling effects whose hue
// and saturation cannot be adjusted.
func (m Mode) IsCycling() bool {
	return m == ModeCycleLeftRight || m == ModeCycleAll || m == ModeCycleSpiral
}

// HSV is a hue/saturation/value triple in firmware units (0-255).
type HSV struct {
	H, S, V uint8
}

// Color is an RGB triple.
type Color struct {
	R, G, B uint8
}

// Common colours.
var (
	White  = Color{255, 255, 255}
	Black  = Color{0, 0, 0}
	Teal   = Color{0, 255, 255}
	Yellow = Color{255, 255, 0}
	Pink   = Color{255, 0, 255}
	Green  = Color{0, 255, 0}
	Blue   = Color{0, 0, 255}

	HSVWhite = HSV{0, 0, 255}
)

func (c Color) String() string {
	return fmt.Sprintf("#%02x%02x%02x", c.R, c.G, c.B)
}

// ParseColor parses the "#rrggbb" form produced by String.
func ParseColor(s string) (Color, error) {
	hex := strings.TrimPrefix(strings.TrimSpace(s), "#")
	if len(hex) != 6 {
		return Color{}, fmt.Errorf("rgb: bad colour %q", s)
	}
	v, err := strconv.ParseUint(hex, 16, 32)
	if err != nil {
		return Color{}, fmt.Errorf("rgb: bad colour %q", s)
	}
	return Color{R: uint8(v >> 16), G: uint8(v >> 8), B: uint8(v)}, nil
}

// Backend is the external RGB matrix engine.
type Backend interface {
	Mode() Mode
	HSV() HSV
	// SetModeNoEEPROM changes the effect without persisting it.
	SetModeNoEEPROM(m Mode)
	// SetHSVNoEEPROM changes the colour without persisting it.
	SetHSVNoEEPROM(c HSV)
}

// Snapshot is the backend state saved when the flashlight turns on.
type Snapshot struct {
	Mode Mode
	HSV  HSV
}

// Capture reads the current mode and colour from b.
func Capture(b Backend) Snapshot {
	return Snapshot{Mode: b.Mode(), HSV: b.HSV()}
}

// Apply writes s back to b.
func (s Snapshot) Apply(b Backend) {
	b.SetModeNoEEPROM(s.Mode)
	b.SetHSVNoEEPROM(s.HSV)
}

// PixelColor overrides a single LED.
type PixelColor struct {
	Index int
	Color Color
}

// RenderDecision is what the indicator hook returns for one frame.
type RenderDecision struct {
	// FullOverride paints every LED with Fill and suppresses the effect.
	FullOverride bool
	Fill         Color

	// Overrides are applied on top of the running effect.
	Overrides []PixelColor

	// AllowBackground lets the effect render every LED without an override.
	AllowBackground bool
}

// ColorAt returns the override colour for LED i, if any.
func (d RenderDecision) ColorAt(i int) (Color, bool) {
	if d.FullOverride {
		return d.Fill, true
	}
	var (
		c     Color
		found bool
	)
	for _, o := range d.Overrides {
		if o.Index == i {
			c, found = o.Color, true
		}
	}
	return c, found
}
