// Package action holds the data types that connect key bindings to effects.
//
// An Action is a declarative description of what a key does (tap a code,
// move to a layer, switch an RGB effect). Bindings are tables of Actions;
// the controller interprets them. A Command is an output the controller
// emits for the host to apply to the real output sink.
package action

import (
	"fmt"

	"keycore/internal/keycode"
	"keycore/internal/layer"
	"keycore/internal/rgb"
)

// Kind enumerates the action types.
type Kind uint8

const (
	// None does nothing.
	None Kind = iota
	// Tap emits Code as a press immediately followed by a release.
	Tap
	// Register presses Code and leaves it held.
	Register
	// LayerMove switches exclusively to Layer.
	LayerMove
	// LayerToggle moves to base if Layer is highest, otherwise to Layer.
	LayerToggle
	// LayerFromBase moves to Layer from base, otherwise back to base.
	LayerFromBase
	// LayerOn stacks Layer on top of the current state.
	LayerOn
	// LayerOff removes Layer from the current state.
	LayerOff
	// RGBMode switches to Mode and restarts the show-mode sequence.
	RGBMode
	// RGBStep advances to the next effect and restarts the show-mode sequence.
	RGBStep
)

var kindNames = [...]string{
	"none", "tap", "register", "layer_move", "layer_toggle", "layer_from_base",
	"layer_on", "layer_off", "rgb_mode", "rgb_step",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// Action is one declarative effect.
type Action struct {
	Kind  Kind
	Code  keycode.Code
	Layer layer.ID
	Mode  rgb.Mode
}

// Constructors keep binding tables short.

// TapCode taps kc.
func TapCode(kc keycode.Code) Action { return Action{Kind: Tap, Code: kc} }

// RegisterCode holds kc.
func RegisterCode(kc keycode.Code) Action { return Action{Kind: Register, Code: kc} }

// Move switches exclusively to id.
func Move(id layer.ID) Action { return Action{Kind: LayerMove, Layer: id} }

// Toggle flips between id and base.
func Toggle(id layer.ID) Action { return Action{Kind: LayerToggle, Layer: id} }

// FromBase flips between base and id, keyed on being at base.
func FromBase(id layer.ID) Action { return Action{Kind: LayerFromBase, Layer: id} }

// On stacks id.
func On(id layer.ID) Action { return Action{Kind: LayerOn, Layer: id} }

// Off removes id.
func Off(id layer.ID) Action { return Action{Kind: LayerOff, Layer: id} }

// SetRGB switches effect.
func SetRGB(m rgb.Mode) Action { return Action{Kind: RGBMode, Mode: m} }

// StepRGB advances the effect.
func StepRGB() Action { return Action{Kind: RGBStep} }

// IsZero reports whether a does nothing.
func (a Action) IsZero() bool { return a.Kind == None }

// ChangesLayer reports whether a is a layer transition.
func (a Action) ChangesLayer() bool {
	return a.Kind >= LayerMove && a.Kind <= LayerOff
}

func (a Action) String() string {
	switch a.Kind {
	case Tap, Register:
		return fmt.Sprintf("%s(%s)", a.Kind, a.Code)
	case LayerMove, LayerToggle, LayerFromBase, LayerOn, LayerOff:
		return fmt.Sprintf("%s(%d)", a.Kind, a.Layer)
	case RGBMode:
		return fmt.Sprintf("%s(%s)", a.Kind, a.Mode)
	}
	return a.Kind.String()
}

// Choice is an action that may depend on the highest active layer at the
// moment it is resolved.
type Choice struct {
	Default Action
	ByLayer map[layer.ID]Action
}

// Always returns a layer-independent choice.
func Always(a Action) Choice { return Choice{Default: a} }

// Resolve picks the action for the given highest active layer.
func (c Choice) Resolve(highest layer.ID) Action {
	if a, ok := c.ByLayer[highest]; ok {
		return a
	}
	return c.Default
}

// LayerDependent reports whether the choice varies with the layer.
func (c Choice) LayerDependent() bool { return len(c.ByLayer) > 0 }
