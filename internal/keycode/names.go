package keycode

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/agnivade/levenshtein"
)

// ErrUnknownKeycode is returned when a name does not match any keycode.
var ErrUnknownKeycode = errors.New("unknown keycode")

// UnknownError reports an unknown name together with close matches.
type UnknownError struct {
	Name        string
	Suggestions []string
}

func (e *UnknownError) Error() string {
	if len(e.Suggestions) == 0 {
		return fmt.Sprintf("%s: %q", ErrUnknownKeycode, e.Name)
	}
	return fmt.Sprintf("%s: %q (did you mean %s?)", ErrUnknownKeycode, e.Name, strings.Join(e.Suggestions, ", "))
}

func (e *UnknownError) Unwrap() error { return ErrUnknownKeycode }

var codeNames = map[Code]string{
	NO: "KC_NO", TRNS: "KC_TRNS",
	A: "KC_A", B: "KC_B", C: "KC_C", D: "KC_D", E: "KC_E", F: "KC_F", G: "KC_G",
	H: "KC_H", I: "KC_I", J: "KC_J", K: "KC_K", L: "KC_L", M: "KC_M", N: "KC_N",
	O: "KC_O", P: "KC_P", Q: "KC_Q", R: "KC_R", S: "KC_S", T: "KC_T", U: "KC_U",
	V: "KC_V", W: "KC_W", X: "KC_X", Y: "KC_Y", Z: "KC_Z",
	N1: "KC_1", N2: "KC_2", N3: "KC_3", N4: "KC_4", N5: "KC_5",
	N6: "KC_6", N7: "KC_7", N8: "KC_8", N9: "KC_9", N0: "KC_0",
	ENT: "KC_ENT", ESC: "KC_ESC", BSPC: "KC_BSPC", TAB: "KC_TAB", SPC: "KC_SPC",
	MINS: "KC_MINS", EQL: "KC_EQL", LBRC: "KC_LBRC", RBRC: "KC_RBRC", BSLS: "KC_BSLS",
	SCLN: "KC_SCLN", QUOT: "KC_QUOT", GRV: "KC_GRV", COMM: "KC_COMM", DOT: "KC_DOT", SLSH: "KC_SLSH",
	F1: "KC_F1", F2: "KC_F2", F3: "KC_F3", F4: "KC_F4", F5: "KC_F5", F6: "KC_F6",
	F7: "KC_F7", F8: "KC_F8", F9: "KC_F9", F10: "KC_F10", F11: "KC_F11", F12: "KC_F12",
	HOME: "KC_HOME", PGUP: "KC_PGUP", DEL: "KC_DEL", END: "KC_END", PGDN: "KC_PGDN",
	RGHT: "KC_RGHT", LEFT: "KC_LEFT", DOWN: "KC_DOWN", UP: "KC_UP",
	PSLS: "KC_PSLS", PAST: "KC_PAST", PMNS: "KC_PMNS", PPLS: "KC_PPLS",
	P1: "KC_P1", P2: "KC_P2", P3: "KC_P3", P4: "KC_P4", P5: "KC_P5",
	P6: "KC_P6", P7: "KC_P7", P8: "KC_P8", P9: "KC_P9", P0: "KC_P0", PEQL: "KC_PEQL",

	MS_UP: "MS_UP", MS_DOWN: "MS_DOWN", MS_LEFT: "MS_LEFT", MS_RGHT: "MS_RGHT",
	MS_BTN1: "MS_BTN1", MS_BTN2: "MS_BTN2", MS_BTN3: "MS_BTN3",
	MS_WHLU: "MS_WHLU", MS_WHLD: "MS_WHLD", MS_WHLL: "MS_WHLL", MS_WHLR: "MS_WHLR",
	MS_ACL0: "MS_ACL0", MS_ACL1: "MS_ACL1", MS_ACL2: "MS_ACL2",

	LCTL: "KC_LCTL", LSFT: "KC_LSFT", LALT: "KC_LALT", LGUI: "KC_LGUI",
	RCTL: "KC_RCTL", RSFT: "KC_RSFT", RALT: "KC_RALT", RGUI: "KC_RGUI",

	QK_BOOT: "QK_BOOT", QK_CLEAR_EEPROM: "QK_CLEAR_EEPROM",
	RGB_HUI: "RGB_HUI", RGB_HUD: "RGB_HUD", RGB_SAI: "RGB_SAI", RGB_SAD: "RGB_SAD",
	RGB_VAI: "RGB_VAI", RGB_VAD: "RGB_VAD", RM_NEXT: "RM_NEXT",

	DPI_MOD: "DPI_MOD", DPI_RMOD: "DPI_RMOD", S_D_MOD: "S_D_MOD", S_D_RMOD: "S_D_RMOD",
	SNIPING: "SNIPING", SNP_TOG: "SNP_TOG", DRGSCRL: "DRGSCRL", DRG_TOG: "DRG_TOG",

	RAINBOW: "KC_RAINBOW", REACTIVE: "KC_REACTIVE", MOUSE_LOCK: "KC_MOUSE_LOCK",
	X_TG2: "KC_X_TG2", ENT_L2_EXIT: "KC_ENT_L2_EXIT", PGUP_TO0: "KC_PGUP_TO0",
	Q_TG4: "KC_Q_TG4", P_TO0: "KC_P_TO0", HOME_TO0: "KC_HOME_TO0",
	L_TG1: "KC_L_TG1", R_TG2: "KC_R_TG2", ENT_MO4: "KC_ENT_MO4",
	ENT_EXIT: "KC_ENT_EXIT", SPC_EXIT: "KC_SPC_EXIT", BSPC_EXIT: "KC_BSPC_EXIT",
	EXIT: "KC_EXIT", TURBO: "KC_TURBO",
	MS_FAST_UP: "KC_MS_FAST_UP", MS_FAST_DOWN: "KC_MS_FAST_DOWN",
	MS_FAST_LEFT: "KC_MS_FAST_LEFT", MS_FAST_RIGHT: "KC_MS_FAST_RIGHT",
	MS_DIAG_UL: "KC_MS_DIAG_UL", MS_DIAG_UR: "KC_MS_DIAG_UR",
	MS_DIAG_DL: "KC_MS_DIAG_DL", MS_DIAG_DR: "KC_MS_DIAG_DR", SCR_MODE: "KC_SCR_MODE",
	K1_TG1: "KC_1_TG1", K2_TG2: "KC_2_TG2", K3_TG3: "KC_3_TG3", K4_TG4: "KC_4_TG4",
	JELLY: "KC_JELLY", SPIRAL: "KC_SPIRAL", CHEVRON: "KC_CHEVRON",
	RGB_AUTO: "KC_RGB_AUTO", PLUS_COLON: "KC_PLUS_COLON",
}

// aliases are accepted by Parse but never produced by String.
var aliases = map[string]Code{
	"XXXXXXX":        NO,
	"_______":        TRNS,
	"KC_TRANSPARENT": TRNS,
	"KC_ENTER":       ENT,
	"KC_SPACE":       SPC,
	"KC_RIGHT":       RGHT,
	"KC_ESCAPE":      ESC,
	"RESET":          QK_BOOT,
	"RGB_MOD":        RM_NEXT,
	"KC_MS_BTN1":     MS_BTN1,
	"KC_MS_BTN2":     MS_BTN2,
	"KC_MS_BTN3":     MS_BTN3,
}

var nameCodes = func() map[string]Code {
	m := make(map[string]Code, len(codeNames)+len(aliases))
	for c, name := range codeNames {
		m[name] = c
	}
	for name, c := range aliases {
		m[name] = c
	}
	return m
}()

// wrappers maps modifier wrapper function names to their bits.
var wrappers = map[string]Code{
	"S": ModShift, "LSFT": ModShift,
	"C": ModCtrl, "LCTL": ModCtrl,
	"A": ModAlt, "LALT": ModAlt,
	"G": ModGUI, "LGUI": ModGUI,
}

// Names returns every canonical keycode name in sorted order.
func Names() []string {
	names := make([]string, 0, len(codeNames))
	for _, name := range codeNames {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Parse converts a QMK-style keycode expression into a Code.
//
// Accepted forms: plain names (KC_A, MS_BTN1, KC_X_TG2), modifier wrappers
// (S(KC_EQL), C(S(KC_V))), LT(layer, kc), MO(n), TG(n), TD(n) and hex
// literals (0x7E40).
func Parse(expr string) (Code, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return NO, &UnknownError{Name: expr}
	}

	if c, ok := nameCodes[expr]; ok {
		return c, nil
	}

	if strings.HasPrefix(expr, "0x") || strings.HasPrefix(expr, "0X") {
		v, err := strconv.ParseUint(expr[2:], 16, 16)
		if err != nil {
			return NO, fmt.Errorf("parse %q: %w", expr, err)
		}
		return Code(v), nil
	}

	open := strings.IndexByte(expr, '(')
	if open > 0 && strings.HasSuffix(expr, ")") {
		fn := strings.TrimSpace(expr[:open])
		args := SplitArgs(expr[open+1 : len(expr)-1])
		return parseCall(expr, fn, args)
	}

	return NO, &UnknownError{Name: expr, Suggestions: Suggest(expr, 3)}
}

// MustParse is Parse for static tables; it panics on error.
func MustParse(expr string) Code {
	c, err := Parse(expr)
	if err != nil {
		panic(err)
	}
	return c
}

func parseCall(expr, fn string, args []string) (Code, error) {
	if bits, ok := wrappers[fn]; ok {
		if len(args) != 1 {
			return NO, fmt.Errorf("parse %q: %s takes one argument", expr, fn)
		}
		inner, err := Parse(args[0])
		if err != nil {
			return NO, err
		}
		if inner > modsMask|basicMask {
			return NO, fmt.Errorf("parse %q: modifier applied to non-basic keycode", expr)
		}
		return inner | bits, nil
	}

	switch fn {
	case "LT":
		if len(args) != 2 {
			return NO, fmt.Errorf("parse %q: LT takes two arguments", expr)
		}
		layer, err := parseSmall(expr, args[0], 15)
		if err != nil {
			return NO, err
		}
		kc, err := Parse(args[1])
		if err != nil {
			return NO, err
		}
		if !kc.IsBasic() {
			return NO, fmt.Errorf("parse %q: LT tap keycode must be basic", expr)
		}
		return LT(layer, kc), nil
	case "MO", "TG", "TD":
		if len(args) != 1 {
			return NO, fmt.Errorf("parse %q: %s takes one argument", expr, fn)
		}
		limit := 31
		if fn == "TD" {
			limit = 255
		}
		n, err := parseSmall(expr, args[0], limit)
		if err != nil {
			return NO, err
		}
		switch fn {
		case "MO":
			return MO(n), nil
		case "TG":
			return TG(n), nil
		default:
			return TD(n), nil
		}
	}
	return NO, &UnknownError{Name: fn, Suggestions: Suggest(fn, 3)}
}

func parseSmall(expr, s string, max int) (uint8, error) {
	s = strings.TrimSpace(s)
	if s == "TD_Z_LAYER" {
		return TDZLayer, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 || n > max {
		return 0, fmt.Errorf("parse %q: argument %q out of range 0..%d", expr, s, max)
	}
	return uint8(n), nil
}

// SplitArgs splits on commas that are not nested inside parentheses and
// trims each piece.
func SplitArgs(s string) []string {
	var args []string
	depth, start := 0, 0
	for i, r := range s {
		switch r {
		case '(':
			depth++
		case ')':
			depth--
		case ',':
			if depth == 0 {
				args = append(args, strings.TrimSpace(s[start:i]))
				start = i + 1
			}
		}
	}
	return append(args, strings.TrimSpace(s[start:]))
}

// Suggest returns up to n known names closest to name by edit distance.
func Suggest(name string, n int) []string {
	type scored struct {
		name string
		dist int
	}
	upper := strings.ToUpper(name)
	candidates := make([]scored, 0, len(nameCodes))
	for known := range nameCodes {
		d := levenshtein.ComputeDistance(upper, known)
		if d <= 3 {
			candidates = append(candidates, scored{known, d})
		}
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].dist != candidates[j].dist {
			return candidates[i].dist < candidates[j].dist
		}
		return candidates[i].name < candidates[j].name
	})
	if len(candidates) > n {
		candidates = candidates[:n]
	}
	out := make([]string, len(candidates))
	for i, c := range candidates {
		out[i] = c.name
	}
	return out
}
