package keymap

import (
	"keycore/internal/keycode"
	"keycore/internal/timer"
)

// DefaultComboTerm is the window in milliseconds within which all keys of a
// combo must be pressed.
const DefaultComboTerm = 15

// Combo maps a set of simultaneously pressed keycodes to one output.
type Combo struct {
	Name   string
	Keys   []keycode.Code
	Output keycode.Code
}

// DefaultCombos returns the combo table.
func DefaultCombos() []Combo {
	return []Combo{
		{Name: "copy", Keys: []keycode.Code{keycode.A, keycode.S}, Output: keycode.Ctrled(keycode.C)},
		{Name: "paste", Keys: []keycode.Code{keycode.S, keycode.D}, Output: keycode.Ctrled(keycode.V)},
		{Name: "paste_special", Keys: []keycode.Code{keycode.D, keycode.F}, Output: keycode.Ctrled(keycode.Shifted(keycode.V))},
		{Name: "copy_special", Keys: []keycode.Code{keycode.A, keycode.F}, Output: keycode.Ctrled(keycode.Shifted(keycode.C))},
		{Name: "delete", Keys: []keycode.Code{keycode.J, keycode.K}, Output: keycode.DEL},
	}
}

// KeyEvent is a resolved key transition.
type KeyEvent struct {
	Pos     Pos
	Code    keycode.Code
	Pressed bool
	Time    timer.Time
}

// ComboMatcher buffers presses of combo keys for the combo term and either
// collapses them into the combo output or releases them unchanged.
type ComboMatcher struct {
	combos []Combo
	term   uint32

	member  map[keycode.Code]bool
	pending []KeyEvent
	// active maps each member position of a fired combo to its state.
	active map[Pos]*firing
}

type firing struct {
	output   keycode.Code
	released bool
}

// NewComboMatcher builds a matcher. A zero term selects DefaultComboTerm.
func NewComboMatcher(combos []Combo, term uint32) *ComboMatcher {
	if term == 0 {
		term = DefaultComboTerm
	}
	m := &ComboMatcher{
		combos: combos,
		term:   term,
		member: make(map[keycode.Code]bool),
		active: make(map[Pos]*firing),
	}
	for _, c := range combos {
		for _, k := range c.Keys {
			m.member[k] = true
		}
	}
	return m
}

// Pending reports whether presses are buffered.
func (m *ComboMatcher) Pending() bool { return len(m.pending) > 0 }

// Feed processes one event and returns the events to deliver downstream, in
// order. A combo output is delivered as a single event at the position of
// the first combo key.
func (m *ComboMatcher) Feed(ev KeyEvent) []KeyEvent {
	if !ev.Pressed {
		return m.release(ev)
	}
	if !m.member[ev.Code] {
		return append(m.flush(), ev)
	}

	m.pending = append(m.pending, ev)
	if c, ok := m.match(); ok {
		return m.fire(c, ev.Time)
	}
	if !m.couldMatch() {
		return m.flush()
	}
	return nil
}

// Tick flushes buffered presses once the combo term has passed.
func (m *ComboMatcher) Tick(now timer.Time) []KeyEvent {
	if len(m.pending) == 0 || !timer.Reached(now, m.pending[0].Time, m.term) {
		return nil
	}
	return m.flush()
}

// release ends a fired combo on the first member release; later member
// releases are swallowed.
func (m *ComboMatcher) release(ev KeyEvent) []KeyEvent {
	if f, ok := m.active[ev.Pos]; ok {
		delete(m.active, ev.Pos)
		if f.released {
			return nil
		}
		f.released = true
		return []KeyEvent{{Pos: ev.Pos, Code: f.output, Pressed: false, Time: ev.Time}}
	}
	for _, p := range m.pending {
		if p.Pos == ev.Pos {
			// Released inside the window: deliver the buffered presses first.
			return append(m.flush(), ev)
		}
	}
	return []KeyEvent{ev}
}

func (m *ComboMatcher) flush() []KeyEvent {
	out := m.pending
	m.pending = nil
	return out
}

func (m *ComboMatcher) match() (Combo, bool) {
	for _, c := range m.combos {
		if len(c.Keys) != len(m.pending) {
			continue
		}
		if m.covers(c) {
			return c, true
		}
	}
	return Combo{}, false
}

func (m *ComboMatcher) covers(c Combo) bool {
	for _, k := range c.Keys {
		found := false
		for _, p := range m.pending {
			if p.Code == k {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// couldMatch reports whether some combo still contains every pending key.
func (m *ComboMatcher) couldMatch() bool {
	for _, c := range m.combos {
		if len(c.Keys) < len(m.pending) {
			continue
		}
		all := true
		for _, p := range m.pending {
			in := false
			for _, k := range c.Keys {
				if k == p.Code {
					in = true
					break
				}
			}
			if !in {
				all = false
				break
			}
		}
		if all {
			return true
		}
	}
	return false
}

func (m *ComboMatcher) fire(c Combo, now timer.Time) []KeyEvent {
	first := m.pending[0].Pos
	f := &firing{output: c.Output}
	for _, p := range m.pending {
		m.active[p.Pos] = f
	}
	m.pending = nil
	return []KeyEvent{{Pos: first, Code: c.Output, Pressed: true, Time: now}}
}

// Reset drops buffered and active combos.
func (m *ComboMatcher) Reset() {
	m.pending = nil
	m.active = make(map[Pos]*firing)
}
