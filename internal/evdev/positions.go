package evdev

import (
	"keycore/internal/keymap"
)

// Positions maps Linux key codes of a source keyboard to board positions.
type Positions map[uint16]keymap.Pos

// DefaultPositions lays a standard row-staggered keyboard over the split
// grid: the four alpha rows fill the 12-column rows and the modifier row
// feeds the thumb cluster.
func DefaultPositions() Positions {
	rows := [keymap.Rows][keymap.Cols]uint16{
		{KeyEsc, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12},
		{KeyTab, 16, 17, 18, 19, 20, 21, 22, 23, 24, 25, 43},
		{KeyCapsLock, 30, 31, 32, 33, 34, 35, 36, 37, 38, 39, 40},
		{KeyLeftShift, 44, 45, 46, 47, 48, 49, 50, 51, 52, 53, KeyRightShift},
	}
	thumbs := [keymap.LeftThumbs + keymap.RightThumbs]uint16{
		KeySpace, KeyLeftAlt, KeyLeftMeta, KeyLeftCtrl, KeyEnter,
		KeyRightAlt, KeyBackspace, KeyRightCtrl,
	}

	p := make(Positions, keymap.KeyCount)
	for r, row := range rows {
		for c, key := range row {
			pos, _ := keymap.PosAt(r, c)
			p[key] = pos
		}
	}
	for c, key := range thumbs {
		pos, _ := keymap.PosAt(keymap.Rows, c)
		p[key] = pos
	}
	return p
}

// Lookup returns the position of key.
func (p Positions) Lookup(key uint16) (keymap.Pos, bool) {
	pos, ok := p[key]
	return pos, ok
}
