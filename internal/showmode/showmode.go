// Package showmode flashes the decimal id of the current RGB effect on the
// number-row LEDs, one digit at a time.
package showmode

import (
	"keycore/internal/timer"
)

// DefaultPhase is the length of each on and off phase in milliseconds.
const DefaultPhase = 300

// DefaultNumberLEDs maps keys 1..9 then 0 to LED indices.
var DefaultNumberLEDs = [10]int{36, 37, 44, 45, 49, 20, 16, 15, 8, 7}

// Phase is the flash phase.
type Phase uint8

const (
	Off Phase = iota
	On
)

func (p Phase) String() string {
	if p == On {
		return "on"
	}
	return "off"
}

// State is the sequencer state.
type State struct {
	Active     bool
	Digits     []uint8
	Index      int
	Phase      Phase
	PhaseStart timer.Time
}

// Sequencer runs the digit flash sequence.
type Sequencer struct {
	phaseLen uint32
	leds     [10]int
	state    State
}

// New returns an idle sequencer. A zero phase length selects DefaultPhase.
func New(phaseLen uint32, leds [10]int) *Sequencer {
	if phaseLen == 0 {
		phaseLen = DefaultPhase
	}
	return &Sequencer{phaseLen: phaseLen, leds: leds}
}

// Digits splits an id into its decimal digits, tens first. The tens digit
// is present only for ids of 10 and above.
func Digits(id uint8) []uint8 {
	id %= 100
	if id >= 10 {
		return []uint8{id / 10, id % 10}
	}
	return []uint8{id}
}

// Start restarts the sequence for id.
func (s *Sequencer) Start(id uint8, now timer.Time) {
	s.state = State{
		Active:     true,
		Digits:     Digits(id),
		Phase:      On,
		PhaseStart: now,
	}
}

// Stop ends the sequence.
func (s *Sequencer) Stop() { s.state = State{} }

// Active reports whether the sequence is running.
func (s *Sequencer) Active() bool { return s.state.Active }

// State returns a copy of the current state.
func (s *Sequencer) State() State {
	st := s.state
	st.Digits = append([]uint8(nil), s.state.Digits...)
	return st
}

// Tick performs at most one phase transition and reports whether one
// happened.
func (s *Sequencer) Tick(now timer.Time) bool {
	if !s.state.Active || !timer.Reached(now, s.state.PhaseStart, s.phaseLen) {
		return false
	}
	if s.state.Phase == On {
		s.state.Phase = Off
		s.state.PhaseStart = now
		return true
	}
	s.state.Index++
	if s.state.Index >= len(s.state.Digits) {
		s.state.Active = false
		return true
	}
	s.state.Phase = On
	s.state.PhaseStart = now
	return true
}

// FlashLED returns the LED to light this frame, if any.
func (s *Sequencer) FlashLED() (int, bool) {
	if !s.state.Active || s.state.Phase != On {
		return 0, false
	}
	return s.LEDFor(s.state.Digits[s.state.Index]), true
}

// LEDFor maps a digit to its number-row LED. Digit 0 is the "0" key at the
// end of the row.
func (s *Sequencer) LEDFor(digit uint8) int {
	if digit == 0 {
		return s.leds[9]
	}
	return s.leds[digit-1]
}
