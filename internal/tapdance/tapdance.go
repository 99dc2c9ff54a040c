// Package tapdance resolves a multi-function key from the number of presses
// within the tapping term and whether the last press is still held.
package tapdance

import (
	"keycore/internal/timer"
)

// DefaultTerm is the dance window in milliseconds.
const DefaultTerm = 200

// Outcome is the resolved dance.
type Outcome uint8

const (
	// Unresolved covers dances with no defined meaning (three or more presses).
	Unresolved Outcome = iota
	SingleTap
	SingleHold
	DoubleTap
)

func (o Outcome) String() string {
	switch o {
	case SingleTap:
		return "single_tap"
	case SingleHold:
		return "single_hold"
	case DoubleTap:
		return "double_tap"
	}
	return "none"
}

// State is the dance bookkeeping for the current window.
type State struct {
	Count       uint8
	Interrupted bool
	Pressed     bool
	Finished    bool
	Resolved    Outcome
	LastPress   timer.Time
}

// Active reports whether a dance is in progress or awaiting reset.
func (s State) Active() bool { return s.Count > 0 }

// Phase says which callback an Event stands for.
type Phase uint8

const (
	// Finished is reported once when the window closes.
	Finished Phase = iota + 1
	// Reset is reported once the dance is finished and the key is up.
	Reset
)

// Event is a finished or reset notification.
type Event struct {
	Phase   Phase
	Outcome Outcome
}

// Resolver tracks one dance key.
type Resolver struct {
	term  uint32
	state State
}

// New creates a resolver. A zero term selects DefaultTerm.
func New(term uint32) *Resolver {
	if term == 0 {
		term = DefaultTerm
	}
	return &Resolver{term: term}
}

// State returns a copy of the current state.
func (r *Resolver) State() State { return r.state }

// Term returns the dance window in milliseconds.
func (r *Resolver) Term() uint32 { return r.term }

// Press counts a press of the dance key.
func (r *Resolver) Press(now timer.Time) {
	if r.state.Finished {
		// A finished dance whose reset never ran cannot absorb new presses.
		r.state = State{}
	}
	r.state.Count++
	r.state.Pressed = true
	r.state.LastPress = now
}

// Release records the key going up. A dance that already finished while
// the key was down resets now.
func (r *Resolver) Release(now timer.Time) []Event {
	if !r.state.Active() {
		return nil
	}
	r.state.Pressed = false
	if r.state.Finished {
		return []Event{r.reset()}
	}
	return nil
}

// Interrupt closes an open dance because another key was pressed.
func (r *Resolver) Interrupt(now timer.Time) []Event {
	if !r.state.Active() || r.state.Finished {
		return nil
	}
	r.state.Interrupted = true
	return r.finish()
}

// Tick closes the dance once the term has elapsed since the last press.
func (r *Resolver) Tick(now timer.Time) []Event {
	if !r.state.Active() || r.state.Finished {
		return nil
	}
	if !timer.Reached(now, r.state.LastPress, r.term) {
		return nil
	}
	return r.finish()
}

// Clear abandons any dance without reporting.
func (r *Resolver) Clear() { r.state = State{} }

func (r *Resolver) finish() []Event {
	r.state.Finished = true
	r.state.Resolved = Resolve(r.state)
	events := []Event{{Phase: Finished, Outcome: r.state.Resolved}}
	if !r.state.Pressed {
		events = append(events, r.reset())
	}
	return events
}

func (r *Resolver) reset() Event {
	ev := Event{Phase: Reset, Outcome: r.state.Resolved}
	r.state = State{}
	return ev
}

// Resolve classifies a closed dance. A single press is a hold when another
// key interrupted the dance or the key is still down when the window
// closes, and a tap otherwise. Two presses are a double tap irrespective of
// how long either was held.
func Resolve(s State) Outcome {
	switch s.Count {
	case 1:
		if s.Interrupted || s.Pressed {
			return SingleHold
		}
		return SingleTap
	case 2:
		return DoubleTap
	}
	return Unresolved
}
