package evdev

import "keycore/internal/keycode"

// Linux key codes used directly.
const (
	KeyEsc        uint16 = 1
	KeyBackspace  uint16 = 14
	KeyTab        uint16 = 15
	KeyEnter      uint16 = 28
	KeyLeftCtrl   uint16 = 29
	KeyLeftShift  uint16 = 42
	KeyRightShift uint16 = 54
	KeyLeftAlt    uint16 = 56
	KeySpace      uint16 = 57
	KeyCapsLock   uint16 = 58
	KeyRightCtrl  uint16 = 97
	KeyRightAlt   uint16 = 100
	KeyLeftMeta   uint16 = 125
	KeyRightMeta  uint16 = 126

	BtnLeft   uint16 = 0x110
	BtnRight  uint16 = 0x111
	BtnMiddle uint16 = 0x112

	// KeyMax bounds the key bitmap of the virtual device.
	KeyMax uint16 = 0x2ff
)

// linuxKeys maps HID usages (the basic keycode range) to Linux key codes.
var linuxKeys = [256]uint16{
	0x04: 30, 0x05: 48, 0x06: 46, 0x07: 32, 0x08: 18, 0x09: 33, 0x0A: 34,
	0x0B: 35, 0x0C: 23, 0x0D: 36, 0x0E: 37, 0x0F: 38, 0x10: 50, 0x11: 49,
	0x12: 24, 0x13: 25, 0x14: 16, 0x15: 19, 0x16: 31, 0x17: 20, 0x18: 22,
	0x19: 47, 0x1A: 17, 0x1B: 45, 0x1C: 21, 0x1D: 44,

	0x1E: 2, 0x1F: 3, 0x20: 4, 0x21: 5, 0x22: 6, 0x23: 7, 0x24: 8, 0x25: 9,
	0x26: 10, 0x27: 11,

	0x28: KeyEnter, 0x29: KeyEsc, 0x2A: KeyBackspace, 0x2B: KeyTab,
	0x2C: KeySpace, 0x2D: 12, 0x2E: 13, 0x2F: 26, 0x30: 27, 0x31: 43,
	0x33: 39, 0x34: 40, 0x35: 41, 0x36: 51, 0x37: 52, 0x38: 53,
	0x39: KeyCapsLock,

	0x3A: 59, 0x3B: 60, 0x3C: 61, 0x3D: 62, 0x3E: 63, 0x3F: 64, 0x40: 65,
	0x41: 66, 0x42: 67, 0x43: 68, 0x44: 87, 0x45: 88,

	0x46: 99, 0x47: 70, 0x48: 119, 0x49: 110, 0x4A: 102, 0x4B: 104,
	0x4C: 111, 0x4D: 107, 0x4E: 109, 0x4F: 106, 0x50: 105, 0x51: 108,
	0x52: 103, 0x53: 69,

	0x54: 98, 0x55: 55, 0x56: 74, 0x57: 78, 0x58: 96, 0x59: 79, 0x5A: 80,
	0x5B: 81, 0x5C: 75, 0x5D: 76, 0x5E: 77, 0x5F: 71, 0x60: 72, 0x61: 73,
	0x62: 82, 0x63: 83, 0x67: 117,

	0xE0: KeyLeftCtrl, 0xE1: KeyLeftShift, 0xE2: KeyLeftAlt, 0xE3: KeyLeftMeta,
	0xE4: KeyRightCtrl, 0xE5: KeyRightShift, 0xE6: KeyRightAlt,
	0xE7: KeyRightMeta,
}

var usages = func() map[uint16]keycode.Code {
	m := make(map[uint16]keycode.Code)
	for usage, key := range linuxKeys {
		if key != 0 {
			m[key] = keycode.Code(usage)
		}
	}
	return m
}()

// LinuxKey returns the Linux key code for a basic keycode.
func LinuxKey(kc keycode.Code) (uint16, bool) {
	if !kc.IsBasic() {
		return 0, false
	}
	key := linuxKeys[kc]
	return key, key != 0
}

// Usage returns the basic keycode for a Linux key code.
func Usage(key uint16) (keycode.Code, bool) {
	kc, ok := usages[key]
	return kc, ok
}

// modifierKeys returns the modifier keycodes encoded in the mod bits of kc,
// in press order.
func modifierKeys(kc keycode.Code) []keycode.Code {
	mods := kc.Mods()
	if mods == 0 {
		return nil
	}
	right := mods&keycode.ModRight != 0
	pick := func(l, r keycode.Code) keycode.Code {
		if right {
			return r
		}
		return l
	}

	var out []keycode.Code
	if mods&keycode.ModCtrl != 0 {
		out = append(out, pick(keycode.LCTL, keycode.RCTL))
	}
	if mods&keycode.ModShift != 0 {
		out = append(out, pick(keycode.LSFT, keycode.RSFT))
	}
	if mods&keycode.ModAlt != 0 {
		out = append(out, pick(keycode.LALT, keycode.RALT))
	}
	if mods&keycode.ModGUI != 0 {
		out = append(out, pick(keycode.LGUI, keycode.RGUI))
	}
	return out
}
