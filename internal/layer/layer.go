// Package layer implements the layer state controller.
//
// Layer state is a bitmask of active layers. Layer 0 is the implicit base:
// it is active whenever no other layer is. Layers 1 and 2 are switched
// exclusively with Move/Invert, layers 3 and 4 can additionally be stacked
// with On/Off. Highest is the precedence rule used by every
// layer-dependent key action and by the indicator renderer.
package layer

import (
	"fmt"
	"math/bits"
	"strings"
)

// ID identifies a layer.
type ID uint8

// Layers of the keymap.
const (
	Base     ID = 0
	Symbols  ID = 1
	Function ID = 2
	Mouse    ID = 3
	OneHand  ID = 4

	// Count is the number of layers in the keymap.
	Count = 5
)

// Name returns a short human readable name for the layer.
func (id ID) Name() string {
	switch id {
	case Base:
		return "base"
	case Symbols:
		return "symbols"
	case Function:
		return "function"
	case Mouse:
		return "mouse"
	case OneHand:
		return "one-hand"
	}
	return fmt.Sprintf("layer%d", uint8(id))
}

// ParseName is the inverse of Name. Decimal ids are accepted too.
func ParseName(s string) (ID, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for id := ID(0); id < Count; id++ {
		if id.Name() == s || fmt.Sprint(uint8(id)) == s {
			return id, nil
		}
	}
	return 0, fmt.Errorf("layer: unknown layer %q", s)
}

// State is a bitmask of active layers.
type State uint32

// Of builds a State with the given layers on.
func Of(ids ...ID) State {
	var s State
	for _, id := range ids {
		s |= 1 << id
	}
	return s
}

// Has reports whether id is on in s. Base counts as on when s is empty.
func (s State) Has(id ID) bool {
	if id == Base && s == 0 {
		return true
	}
	return s&(1<<id) != 0
}

// Highest returns the highest active layer id, 0 if none.
func (s State) Highest() ID {
	if s == 0 {
		return Base
	}
	return ID(31 - bits.LeadingZeros32(uint32(s)))
}

// IDs lists the active layers in ascending order.
func (s State) IDs() []ID {
	var ids []ID
	for id := ID(0); id < 32; id++ {
		if s&(1<<id) != 0 {
			ids = append(ids, id)
		}
	}
	return ids
}

func (s State) String() string {
	if s == 0 {
		return "[0]"
	}
	parts := make([]string, 0, bits.OnesCount32(uint32(s)))
	for _, id := range s.IDs() {
		parts = append(parts, fmt.Sprintf("%d", id))
	}
	return "[" + strings.Join(parts, ",") + "]"
}

// Controller owns the authoritative layer state and the peek snapshot slot.
type Controller struct {
	state State

	snapshot    State
	hasSnapshot bool

	onChange func(from, to State)
}

// NewController returns a controller on the base layer.
func NewController() *Controller {
	return &Controller{}
}

// OnChange registers a callback invoked after every effective state change.
func (c *Controller) OnChange(fn func(from, to State)) {
	c.onChange = fn
}

// State returns the current layer bitmask.
func (c *Controller) State() State { return c.state }

// Highest returns the highest active layer.
func (c *Controller) Highest() ID { return c.state.Highest() }

// IsOn reports whether id is currently active.
func (c *Controller) IsOn(id ID) bool { return c.state.Has(id) }

// Set replaces the whole layer state.
func (c *Controller) Set(s State) {
	if s == c.state {
		return
	}
	from := c.state
	c.state = s
	if c.onChange != nil {
		c.onChange(from, s)
	}
}

// Move switches exclusively to id, clearing every other layer.
func (c *Controller) Move(id ID) {
	if id == Base {
		c.Set(0)
		return
	}
	c.Set(Of(id))
}

// Invert returns to base if any non-base layer is active, otherwise moves
// to id.
func (c *Controller) Invert(id ID) {
	if c.Highest() > Base {
		c.Move(Base)
		return
	}
	c.Move(id)
}

// Toggle moves to base when id is the highest active layer, otherwise moves
// to id.
func (c *Controller) Toggle(id ID) {
	if c.Highest() == id {
		c.Move(Base)
		return
	}
	c.Move(id)
}

// ToggleFromBase moves to id when sitting on base, otherwise back to base.
func (c *Controller) ToggleFromBase(id ID) {
	if c.Highest() == Base {
		c.Move(id)
		return
	}
	c.Move(Base)
}

// On activates id in addition to the current layers.
func (c *Controller) On(id ID) {
	c.Set(c.state | 1<<id)
}

// Off deactivates id, leaving other layers untouched.
func (c *Controller) Off(id ID) {
	c.Set(c.state &^ (1 << id))
}

// Peek saves the current layer state and forces target. The snapshot slot
// is shared: a second Peek before Restore overwrites the first snapshot and
// reports true.
func (c *Controller) Peek(target ID) (overwrote bool) {
	overwrote = c.hasSnapshot
	c.snapshot = c.state
	c.hasSnapshot = true
	c.Move(target)
	return overwrote
}

// Restore reinstates the state saved by the last Peek and clears the slot.
func (c *Controller) Restore() {
	s := c.snapshot
	c.snapshot = 0
	c.hasSnapshot = false
	c.Set(s)
}

// Commit drops the saved snapshot, keeping the peeked state permanently.
func (c *Controller) Commit() {
	c.snapshot = 0
	c.hasSnapshot = false
}

// Snapshot returns the saved peek snapshot, if any.
func (c *Controller) Snapshot() (State, bool) {
	return c.snapshot, c.hasSnapshot
}

// Reset returns to base and clears the snapshot slot.
func (c *Controller) Reset() {
	c.Commit()
	c.Set(0)
}
