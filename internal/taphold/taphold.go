// Package taphold classifies key actuations as taps or holds.
//
// One Machine tracks every disambiguated key. Each key carries a Binding
// describing what a tap and a hold do; the machine only decides which one
// applies and reports it. Nothing here touches layers or outputs directly.
package taphold

import (
	"keycore/internal/action"
	"keycore/internal/keycode"
	"keycore/internal/timer"
)

// DefaultThreshold is the hold threshold in milliseconds.
const DefaultThreshold = 175

// Binding is the per-key policy.
type Binding struct {
	Key keycode.Code

	// Tap is resolved against the highest active layer at release time.
	Tap action.Choice

	// Hold fires once, from Tick, when the key has been down for the
	// threshold.
	Hold action.Action

	// Release fires on key-up when Hold has fired. Used to pair a
	// momentary layer-on with its layer-off.
	Release action.Action

	// Peek keys snapshot the layer state and force base on press. A release
	// before the threshold commits base, a later release restores.
	Peek bool
}

// State is the per-key timer record.
type State struct {
	Held      bool
	Triggered bool
	Start     timer.Time
}

// Kind tells the caller which half of a binding applies.
type Kind uint8

const (
	// Tapped means the key was released before the hold fired.
	Tapped Kind = iota + 1
	// Held means the hold threshold was reached while the key was down.
	Held
	// Released means the key went up after its hold fired.
	Released
)

func (k Kind) String() string {
	switch k {
	case Tapped:
		return "tapped"
	case Held:
		return "held"
	case Released:
		return "released"
	}
	return "unknown"
}

// Outcome is reported by Tick and Release.
type Outcome struct {
	Key     keycode.Code
	Kind    Kind
	Binding *Binding
}

// Machine owns the timer records for a fixed set of bindings.
type Machine struct {
	threshold uint32
	order     []keycode.Code
	bindings  map[keycode.Code]*Binding
	states    map[keycode.Code]*State
}

// New creates a machine. Tick visits keys in the order the bindings are
// given. A zero threshold selects DefaultThreshold.
func New(threshold uint32, bindings ...Binding) *Machine {
	if threshold == 0 {
		threshold = DefaultThreshold
	}
	m := &Machine{
		threshold: threshold,
		bindings:  make(map[keycode.Code]*Binding, len(bindings)),
		states:    make(map[keycode.Code]*State, len(bindings)),
	}
	for i := range bindings {
		b := bindings[i]
		if _, dup := m.bindings[b.Key]; dup {
			continue
		}
		m.order = append(m.order, b.Key)
		m.bindings[b.Key] = &b
		m.states[b.Key] = &State{}
	}
	return m
}

// Threshold returns the hold threshold in milliseconds.
func (m *Machine) Threshold() uint32 { return m.threshold }

// Handles reports whether kc has a binding.
func (m *Machine) Handles(kc keycode.Code) bool {
	_, ok := m.bindings[kc]
	return ok
}

// Binding returns the binding for kc, or nil.
func (m *Machine) Binding(kc keycode.Code) *Binding {
	return m.bindings[kc]
}

// State returns a copy of the timer record for kc.
func (m *Machine) State(kc keycode.Code) (State, bool) {
	s, ok := m.states[kc]
	if !ok {
		return State{}, false
	}
	return *s, true
}

// Keys returns the bound keys in evaluation order.
func (m *Machine) Keys() []keycode.Code {
	out := make([]keycode.Code, len(m.order))
	copy(out, m.order)
	return out
}

// Press starts a new press cycle for kc. It reports false when kc is not
// bound.
func (m *Machine) Press(kc keycode.Code, now timer.Time) bool {
	s, ok := m.states[kc]
	if !ok {
		return false
	}
	s.Held = true
	s.Triggered = false
	s.Start = now
	return true
}

// Tick fires at most one hold per key and returns them in binding order.
func (m *Machine) Tick(now timer.Time) []Outcome {
	var out []Outcome
	for _, kc := range m.order {
		s := m.states[kc]
		if !s.Held || s.Triggered {
			continue
		}
		if !timer.Reached(now, s.Start, m.threshold) {
			continue
		}
		s.Triggered = true
		out = append(out, Outcome{Key: kc, Kind: Held, Binding: m.bindings[kc]})
	}
	return out
}

// Release ends the press cycle for kc. Regular keys report Tapped unless the
// hold already fired. Peek keys decide on elapsed time, since the restore
// must not depend on a tick having run.
func (m *Machine) Release(kc keycode.Code, now timer.Time) (Outcome, bool) {
	s, ok := m.states[kc]
	if !ok || !s.Held {
		return Outcome{}, false
	}
	b := m.bindings[kc]
	s.Held = false

	kind := Tapped
	switch {
	case s.Triggered:
		kind = Released
	case b.Peek && timer.Reached(now, s.Start, m.threshold):
		kind = Released
	}
	s.Triggered = false
	return Outcome{Key: kc, Kind: kind, Binding: b}, true
}

// Reset clears every timer record.
func (m *Machine) Reset() {
	for _, s := range m.states {
		*s = State{}
	}
}

// Pending reports whether any key is down without its hold having fired.
func (m *Machine) Pending() bool {
	for _, s := range m.states {
		if s.Held && !s.Triggered {
			return true
		}
	}
	return false
}
