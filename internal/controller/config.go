package controller

import (
	"keycore/internal/layer"
	"keycore/internal/modes"
	"keycore/internal/rgb"
	"keycore/internal/showmode"
	"keycore/internal/tapdance"
	"keycore/internal/taphold"
)

// Config holds the controller timings and indicator layout. Durations are
// in milliseconds.
type Config struct {
	HoldThreshold    uint32
	TappingTerm      uint32
	AutoMouseTimeout uint32
	ShowModePhase    uint32
	CycleInterval    uint32

	// ExitTriggersTurbo makes KC_EXIT also drive the turbo pointer speed,
	// as the firmware this keymap came from does.
	ExitTriggersTurbo bool
	TurboCPI          uint16

	StartupMode      rgb.Mode
	StartupAutoCycle bool

	Indicators Indicators
}

// Indicators describes which LEDs report layer and show-mode state.
type Indicators struct {
	ThumbLEDs   []int
	NumberLEDs  [10]int
	LayerColors map[layer.ID]rgb.Color
	LockedColor rgb.Color
	FlashColor  rgb.Color
	LightColor  rgb.Color
}

// DefaultIndicators returns the indicator layout of the 4x6 split board.
func DefaultIndicators() Indicators {
	return Indicators{
		ThumbLEDs:  []int{24, 25, 26, 27, 28, 53, 54, 55, 56, 57},
		NumberLEDs: showmode.DefaultNumberLEDs,
		LayerColors: map[layer.ID]rgb.Color{
			layer.OneHand:  rgb.Teal,
			layer.Mouse:    rgb.Yellow,
			layer.Function: rgb.Green,
			layer.Symbols:  rgb.Blue,
		},
		LockedColor: rgb.Pink,
		FlashColor:  rgb.White,
		LightColor:  rgb.White,
	}
}

// DefaultConfig returns the stock timings.
func DefaultConfig() Config {
	return Config{
		HoldThreshold:     taphold.DefaultThreshold,
		TappingTerm:       tapdance.DefaultTerm,
		AutoMouseTimeout:  modes.DefaultAutoMouseTimeout,
		ShowModePhase:     showmode.DefaultPhase,
		CycleInterval:     modes.DefaultCycleInterval,
		ExitTriggersTurbo: true,
		TurboCPI:          3000,
		StartupMode:       rgb.ModeCycleLeftRight,
		StartupAutoCycle:  true,
		Indicators:        DefaultIndicators(),
	}
}
