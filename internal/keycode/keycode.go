// Package keycode defines the 16-bit keycodes handled by the controller.
//
// The encoding follows the QMK layout so that layouts written for the
// firmware can be parsed unchanged:
//
//	0x0000-0x00FF  basic HID usages (letters, digits, navigation, mouse keys)
//	0x0100-0x1FFF  basic usage wrapped with modifier bits (S(), C(), ...)
//	0x4000-0x4FFF  layer-tap LT(layer, kc)
//	0x5220-0x527F  layer actions MO(n), TG(n)
//	0x5700-0x57FF  tap dance TD(n)
//	0x7800-0x7FFF  RGB, boot, keyboard and user keycodes
package keycode

import "fmt"

// Code is a 16-bit keycode.
type Code uint16

// Basic HID usages.
const (
	NO   Code = 0x0000
	TRNS Code = 0x0001

	A Code = 0x0004
	B Code = 0x0005
	C Code = 0x0006
	D Code = 0x0007
	E Code = 0x0008
	F Code = 0x0009
	G Code = 0x000A
	H Code = 0x000B
	I Code = 0x000C
	J Code = 0x000D
	K Code = 0x000E
	L Code = 0x000F
	M Code = 0x0010
	N Code = 0x0011
	O Code = 0x0012
	P Code = 0x0013
	Q Code = 0x0014
	R Code = 0x0015
	S Code = 0x0016
	T Code = 0x0017
	U Code = 0x0018
	V Code = 0x0019
	W Code = 0x001A
	X Code = 0x001B
	Y Code = 0x001C
	Z Code = 0x001D

	N1 Code = 0x001E
	N2 Code = 0x001F
	N3 Code = 0x0020
	N4 Code = 0x0021
	N5 Code = 0x0022
	N6 Code = 0x0023
	N7 Code = 0x0024
	N8 Code = 0x0025
	N9 Code = 0x0026
	N0 Code = 0x0027

	ENT  Code = 0x0028
	ESC  Code = 0x0029
	BSPC Code = 0x002A
	TAB  Code = 0x002B
	SPC  Code = 0x002C
	MINS Code = 0x002D
	EQL  Code = 0x002E
	LBRC Code = 0x002F
	RBRC Code = 0x0030
	BSLS Code = 0x0031
	SCLN Code = 0x0033
	QUOT Code = 0x0034
	GRV  Code = 0x0035
	COMM Code = 0x0036
	DOT  Code = 0x0037
	SLSH Code = 0x0038

	F1  Code = 0x003A
	F2  Code = 0x003B
	F3  Code = 0x003C
	F4  Code = 0x003D
	F5  Code = 0x003E
	F6  Code = 0x003F
	F7  Code = 0x0040
	F8  Code = 0x0041
	F9  Code = 0x0042
	F10 Code = 0x0043
	F11 Code = 0x0044
	F12 Code = 0x0045

	HOME Code = 0x004A
	PGUP Code = 0x004B
	DEL  Code = 0x004C
	END  Code = 0x004D
	PGDN Code = 0x004E
	RGHT Code = 0x004F
	LEFT Code = 0x0050
	DOWN Code = 0x0051
	UP   Code = 0x0052

	PSLS Code = 0x0054
	PAST Code = 0x0055
	PMNS Code = 0x0056
	PPLS Code = 0x0057
	P1   Code = 0x0059
	P2   Code = 0x005A
	P3   Code = 0x005B
	P4   Code = 0x005C
	P5   Code = 0x005D
	P6   Code = 0x005E
	P7   Code = 0x005F
	P8   Code = 0x0060
	P9   Code = 0x0061
	P0   Code = 0x0062
	PEQL Code = 0x0067
)

// Mouse keys.
const (
	MS_UP   Code = 0x00CD
	MS_DOWN Code = 0x00CE
	MS_LEFT Code = 0x00CF
	MS_RGHT Code = 0x00D0
	MS_BTN1 Code = 0x00D1
	MS_BTN2 Code = 0x00D2
	MS_BTN3 Code = 0x00D3
	MS_WHLU Code = 0x00D9
	MS_WHLD Code = 0x00DA
	MS_WHLL Code = 0x00DB
	MS_WHLR Code = 0x00DC
	MS_ACL0 Code = 0x00DD
	MS_ACL1 Code = 0x00DE
	MS_ACL2 Code = 0x00DF
)

// Modifier keys.
const (
	LCTL Code = 0x00E0
	LSFT Code = 0x00E1
	LALT Code = 0x00E2
	LGUI Code = 0x00E3
	RCTL Code = 0x00E4
	RSFT Code = 0x00E5
	RALT Code = 0x00E6
	RGUI Code = 0x00E7
)

// Modifier bits applied to a basic usage.
const (
	ModCtrl  Code = 0x0100
	ModShift Code = 0x0200
	ModAlt   Code = 0x0400
	ModGUI   Code = 0x0800
	ModRight Code = 0x1000

	modsMask  Code = 0x1F00
	basicMask Code = 0x00FF
)

// Ranges of the quantum keycode space.
const (
	layerTapBase  Code = 0x4000
	layerTapMax   Code = 0x4FFF
	momentaryBase Code = 0x5220
	toggleBase    Code = 0x5260
	tapDanceBase  Code = 0x5700
	tapDanceMax   Code = 0x57FF
)

// Boot and RGB matrix keycodes.
const (
	QK_BOOT         Code = 0x7C00
	QK_CLEAR_EEPROM Code = 0x7C03

	RGB_HUI Code = 0x7823
	RGB_HUD Code = 0x7824
	RGB_SAI Code = 0x7825
	RGB_SAD Code = 0x7826
	RGB_VAI Code = 0x7827
	RGB_VAD Code = 0x7828
	RM_NEXT Code = 0x7840
)

// Keyboard-level pointer keycodes (handled by the pointing device driver).
const (
	DPI_MOD Code = 0x7E00 + iota
	DPI_RMOD
	S_D_MOD
	S_D_RMOD
	SNIPING
	SNP_TOG
	DRGSCRL
	DRG_TOG
)

// User keycodes owned by the controller.
const (
	RAINBOW Code = 0x7E40 + iota
	REACTIVE
	MOUSE_LOCK
	X_TG2
	ENT_L2_EXIT
	PGUP_TO0
	Q_TG4
	P_TO0
	HOME_TO0
	L_TG1
	R_TG2
	ENT_MO4
	ENT_EXIT
	SPC_EXIT
	BSPC_EXIT
	EXIT
	TURBO
	MS_FAST_UP
	MS_FAST_DOWN
	MS_FAST_LEFT
	MS_FAST_RIGHT
	MS_DIAG_UL
	MS_DIAG_UR
	MS_DIAG_DL
	MS_DIAG_DR
	SCR_MODE
	K1_TG1
	K2_TG2
	K3_TG3
	K4_TG4
	JELLY
	SPIRAL
	CHEVRON
	RGB_AUTO
	PLUS_COLON

	userEnd
)

// Tap dance indices.
const (
	TDZLayer = 0
)

// Shifted wraps kc with left shift, S(kc) in layout files.
func Shifted(kc Code) Code { return ModShift | kc }

// Ctrled wraps kc with left control, C(kc) in layout files.
func Ctrled(kc Code) Code { return ModCtrl | kc }

// LT builds a layer-tap keycode.
func LT(layer uint8, kc Code) Code {
	return layerTapBase | Code(layer&0x0F)<<8 | (kc & basicMask)
}

// MO builds a momentary layer keycode.
func MO(layer uint8) Code { return momentaryBase | Code(layer&0x1F) }

// TG builds a toggle layer keycode.
func TG(layer uint8) Code { return toggleBase | Code(layer&0x1F) }

// TD builds a tap dance keycode.
func TD(index uint8) Code { return tapDanceBase | Code(index) }

// Basic returns the HID usage without modifier bits.
func (c Code) Basic() Code {
	if c > modsMask|basicMask {
		return c
	}
	return c & basicMask
}

// Mods returns the modifier bits of a modified basic keycode.
func (c Code) Mods() Code {
	if c > modsMask|basicMask {
		return 0
	}
	return c & modsMask
}

// IsBasic reports whether c is a plain HID usage.
func (c Code) IsBasic() bool { return c <= basicMask }

// IsModified reports whether c is a basic usage with modifier bits.
func (c Code) IsModified() bool { return c > basicMask && c <= modsMask|basicMask }

// IsModifier reports whether c is one of the eight modifier keys.
func (c Code) IsModifier() bool { return c >= LCTL && c <= RGUI }

// IsShift reports whether c is a shift key.
func (c Code) IsShift() bool { return c == LSFT || c == RSFT }

// IsLayerTap reports whether c is an LT() keycode.
func (c Code) IsLayerTap() bool { return c >= layerTapBase && c <= layerTapMax }

// LayerTap splits an LT() keycode into its layer and tap keycode.
func (c Code) LayerTap() (uint8, Code) {
	return uint8((c >> 8) & 0x0F), c & basicMask
}

// IsMomentary reports whether c is an MO() keycode.
func (c Code) IsMomentary() bool { return c >= momentaryBase && c < momentaryBase+0x20 }

// IsToggle reports whether c is a TG() keycode.
func (c Code) IsToggle() bool { return c >= toggleBase && c < toggleBase+0x20 }

// Layer returns the layer of an MO() or TG() keycode.
func (c Code) Layer() uint8 { return uint8(c & 0x1F) }

// IsTapDance reports whether c is a TD() keycode.
func (c Code) IsTapDance() bool { return c >= tapDanceBase && c <= tapDanceMax }

// TapDance returns the tap dance index of a TD() keycode.
func (c Code) TapDance() uint8 { return uint8(c & 0xFF) }

// IsUser reports whether c is a controller-owned user keycode.
func (c Code) IsUser() bool { return c >= RAINBOW && c < userEnd }

// IsMouse reports whether c is a mouse key.
func (c Code) IsMouse() bool { return c >= MS_UP && c <= MS_ACL2 }

// String returns the canonical name of c.
func (c Code) String() string {
	if name, ok := codeNames[c]; ok {
		return name
	}
	switch {
	case c.IsModified():
		return wrapName(c)
	case c.IsLayerTap():
		layer, kc := c.LayerTap()
		return fmt.Sprintf("LT(%d,%s)", layer, kc)
	case c.IsMomentary():
		return fmt.Sprintf("MO(%d)", c.Layer())
	case c.IsToggle():
		return fmt.Sprintf("TG(%d)", c.Layer())
	case c.IsTapDance():
		return fmt.Sprintf("TD(%d)", c.TapDance())
	}
	return fmt.Sprintf("0x%04X", uint16(c))
}

func wrapName(c Code) string {
	name := c.Basic().String()
	mods := c.Mods()
	if mods&ModShift != 0 {
		name = "S(" + name + ")"
	}
	if mods&ModAlt != 0 {
		name = "A(" + name + ")"
	}
	if mods&ModGUI != 0 {
		name = "G(" + name + ")"
	}
	if mods&ModCtrl != 0 {
		name = "C(" + name + ")"
	}
	return name
}
