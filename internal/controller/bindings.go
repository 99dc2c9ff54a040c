package controller

import (
	"keycore/internal/action"
	"keycore/internal/keycode"
	"keycore/internal/layer"
	"keycore/internal/rgb"
	"keycore/internal/taphold"
)

func tapOn(def keycode.Code, byLayer map[layer.ID]keycode.Code) action.Choice {
	c := action.Choice{Default: action.TapCode(def)}
	if len(byLayer) > 0 {
		c.ByLayer = make(map[layer.ID]action.Action, len(byLayer))
		for id, kc := range byLayer {
			c.ByLayer[id] = action.TapCode(kc)
		}
	}
	return c
}

// DefaultBindings returns the tap/hold keys in the order their holds are
// evaluated on each tick.
func DefaultBindings() []taphold.Binding {
	k1 := tapOn(keycode.N1, map[layer.ID]keycode.Code{layer.Function: keycode.F1, layer.OneHand: keycode.N0})
	k1.ByLayer[layer.Mouse] = action.SetRGB(rgb.ModeCycleLeftRight)

	k2 := tapOn(keycode.N2, map[layer.ID]keycode.Code{layer.Function: keycode.F2, layer.OneHand: keycode.N9})
	k2.ByLayer[layer.Mouse] = action.StepRGB()

	return []taphold.Binding{
		{
			Key: keycode.X_TG2,
			Tap: tapOn(keycode.X, map[layer.ID]keycode.Code{
				layer.Symbols:  keycode.P1,
				layer.Function: keycode.PGUP,
				layer.OneHand:  keycode.DOT,
			}),
			Hold: action.Toggle(layer.Function),
		},
		{Key: keycode.PGUP_TO0, Tap: tapOn(keycode.PGUP, nil), Hold: action.Move(layer.Base)},
		{Key: keycode.HOME_TO0, Tap: tapOn(keycode.HOME, nil), Hold: action.Move(layer.Base)},
		{Key: keycode.Q_TG4, Tap: tapOn(keycode.Q, nil), Hold: action.Toggle(layer.OneHand)},
		{Key: keycode.P_TO0, Tap: tapOn(keycode.P, nil), Hold: action.Move(layer.Base)},
		{
			Key:     keycode.ENT_MO4,
			Tap:     tapOn(keycode.ENT, nil),
			Hold:    action.On(layer.OneHand),
			Release: action.Off(layer.OneHand),
		},
		{Key: keycode.K1_TG1, Tap: k1, Hold: action.FromBase(layer.Symbols)},
		{Key: keycode.K2_TG2, Tap: k2, Hold: action.FromBase(layer.Function)},
		{
			Key:  keycode.K3_TG3,
			Tap:  tapOn(keycode.N3, map[layer.ID]keycode.Code{layer.Function: keycode.F3, layer.OneHand: keycode.N8}),
			Hold: action.FromBase(layer.Mouse),
		},
		{
			Key:  keycode.K4_TG4,
			Tap:  tapOn(keycode.N4, map[layer.ID]keycode.Code{layer.Function: keycode.F4, layer.OneHand: keycode.N7}),
			Hold: action.FromBase(layer.OneHand),
		},
		{Key: keycode.ENT_EXIT, Tap: tapOn(keycode.ENT, nil), Peek: true},
		{Key: keycode.SPC_EXIT, Tap: tapOn(keycode.SPC, nil), Peek: true},
		{Key: keycode.BSPC_EXIT, Tap: tapOn(keycode.BSPC, nil), Peek: true},
	}
}

// DanceKey is the tap-dance key handled by the resolver.
var DanceKey = keycode.TD(keycode.TDZLayer)

// danceTap is what a single tap of the dance key does. The default is a
// register so the key repeats while the host holds it; the reset releases it.
var danceTap = action.Choice{
	Default: action.RegisterCode(keycode.Z),
	ByLayer: map[layer.ID]action.Action{
		layer.Symbols:  action.TapCode(keycode.P0),
		layer.Function: action.TapCode(keycode.HOME),
		layer.OneHand:  action.TapCode(keycode.SLSH),
	},
}

var rgbShortcuts = map[keycode.Code]rgb.Mode{
	keycode.RAINBOW:  rgb.ModeCycleLeftRight,
	keycode.REACTIVE: rgb.ModeSplash,
	keycode.JELLY:    rgb.ModeJellybeanRaindrops,
	keycode.SPIRAL:   rgb.ModeCycleSpiral,
	keycode.CHEVRON:  rgb.ModeRainbowMovingChevron,
}

var fastMouse = map[keycode.Code]keycode.Code{
	keycode.MS_FAST_UP:    keycode.MS_UP,
	keycode.MS_FAST_DOWN:  keycode.MS_DOWN,
	keycode.MS_FAST_LEFT:  keycode.MS_LEFT,
	keycode.MS_FAST_RIGHT: keycode.MS_RGHT,
}

var diagMouse = map[keycode.Code][2]keycode.Code{
	keycode.MS_DIAG_UL: {keycode.MS_UP, keycode.MS_LEFT},
	keycode.MS_DIAG_UR: {keycode.MS_UP, keycode.MS_RGHT},
	keycode.MS_DIAG_DL: {keycode.MS_DOWN, keycode.MS_LEFT},
	keycode.MS_DIAG_DR: {keycode.MS_DOWN, keycode.MS_RGHT},
}
