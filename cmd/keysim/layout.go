package main

import (
	"github.com/gdamore/tcell/v2"

	"keycore/internal/keymap"
)

// ledIndex returns the LED under the key at p. Each half numbers its LEDs
// from the outer column inward, snaking down and up the columns, with the
// inner column running top-down; the right half comes first. The right
// thumb keys take the first three of that half's five thumb LEDs.
func ledIndex(p keymap.Pos) int {
	row, col := p.Row(), p.Col()
	if row == keymap.Rows {
		if col < keymap.LeftThumbs {
			return 53 + col
		}
		return 24 + col - keymap.LeftThumbs
	}

	base, k := 29, col
	if col >= keymap.Cols/2 {
		base, k = 0, keymap.Cols-1-col
	}
	start := base + 4*k
	if k%2 == 0 || k == keymap.Cols/2-1 {
		return start + row
	}
	return start + keymap.Rows - 1 - row
}

// qwerty maps the inner ten columns of the four key rows to a terminal's
// letter block.
var qwerty = [keymap.Rows]string{
	"1234567890",
	"qwertyuiop",
	"asdfghjkl;",
	"zxcvbnm,./",
}

// runeKeys maps typed runes to board positions. Shifted runes map to the
// same key as their lower case form and are held instead of tapped.
var runeKeys = func() map[rune]keymap.Pos {
	m := make(map[rune]keymap.Pos)
	for row, keys := range qwerty {
		for i, r := range keys {
			pos, _ := keymap.PosAt(row, i+1)
			m[r] = pos
		}
	}
	m[' '], _ = keymap.PosAt(keymap.Rows, keymap.LeftThumbs-1)
	return m
}()

// shifted pairs the shifted runes of the US layout with their keys.
var shifted = map[rune]rune{
	'!': '1', '@': '2', '#': '3', '$': '4', '%': '5',
	'^': '6', '&': '7', '*': '8', '(': '9', ')': '0',
	':': ';', '<': ',', '>': '.', '?': '/',
}

// specialKeys maps non-rune terminal keys to board positions.
var specialKeys = func() map[tcell.Key]keymap.Pos {
	at := func(row, col int) keymap.Pos {
		p, _ := keymap.PosAt(row, col)
		return p
	}
	return map[tcell.Key]keymap.Pos{
		tcell.KeyTab:        at(1, 0),
		tcell.KeyEnter:      at(keymap.Rows, keymap.LeftThumbs),
		tcell.KeyBackspace:  at(keymap.Rows, keymap.LeftThumbs+1),
		tcell.KeyBackspace2: at(keymap.Rows, keymap.LeftThumbs+1),
		tcell.KeyDelete:     at(keymap.Rows, keymap.LeftThumbs+2),
	}
}()

// lookupRune returns the key for r and whether it should be held.
func lookupRune(r rune) (keymap.Pos, bool, bool) {
	if pos, ok := runeKeys[r]; ok {
		return pos, false, true
	}
	if r >= 'A' && r <= 'Z' {
		pos, ok := runeKeys[r-'A'+'a']
		return pos, true, ok
	}
	if base, ok := shifted[r]; ok {
		return runeKeys[base], true, true
	}
	return 0, false, false
}
