// Package keymap holds the physical key layout, the per-layer keycode tables
// and the combo table, along with a parser and printer for the QMK LAYOUT
// text form.
package keymap

import (
	_ "embed"
	"errors"
	"fmt"

	"keycore/internal/keycode"
	"keycore/internal/layer"
)

// Geometry of the 4x6 split board: four rows of twelve keys (six per half)
// followed by a thumb cluster of five left and three right keys.
const (
	Rows        = 4
	Cols        = 12
	LeftThumbs  = 5
	RightThumbs = 3
	KeyCount    = Rows*Cols + LeftThumbs + RightThumbs
)

// Pos is a physical key position in LAYOUT order.
type Pos uint8

// Row returns the row of p; the thumb cluster is row Rows.
func (p Pos) Row() int {
	if int(p) >= Rows*Cols {
		return Rows
	}
	return int(p) / Cols
}

// Col returns the column of p within its row.
func (p Pos) Col() int {
	if int(p) >= Rows*Cols {
		return int(p) - Rows*Cols
	}
	return int(p) % Cols
}

// Left reports whether p is on the left half.
func (p Pos) Left() bool {
	if p.Row() == Rows {
		return p.Col() < LeftThumbs
	}
	return p.Col() < Cols/2
}

// PosAt returns the position at row and col.
func PosAt(row, col int) (Pos, bool) {
	switch {
	case row >= 0 && row < Rows && col >= 0 && col < Cols:
		return Pos(row*Cols + col), true
	case row == Rows && col >= 0 && col < LeftThumbs+RightThumbs:
		return Pos(Rows*Cols + col), true
	}
	return 0, false
}

// ErrLayerSize is returned when a layer does not have KeyCount entries.
var ErrLayerSize = errors.New("keymap: wrong number of keys in layer")

// Keymap is the keycode table for every layer.
type Keymap struct {
	Layers [layer.Count][KeyCount]keycode.Code
}

//go:embed default.keymap
var defaultSource string

// DefaultSource returns the LAYOUT text the default keymap is built from.
func DefaultSource() string { return defaultSource }

// Default returns the stock keymap.
func Default() *Keymap {
	km, err := ParseString(defaultSource)
	if err != nil {
		panic(fmt.Sprintf("keymap: embedded layout: %v", err))
	}
	return km
}

// At returns the keycode stored at pos on layer id.
func (k *Keymap) At(id layer.ID, pos Pos) keycode.Code {
	if int(id) >= layer.Count || int(pos) >= KeyCount {
		return keycode.NO
	}
	return k.Layers[id][pos]
}

// Lookup resolves pos against the active layers, highest first. KC_TRNS
// falls through to the next active layer below and finally to base.
func (k *Keymap) Lookup(state layer.State, pos Pos) keycode.Code {
	if int(pos) >= KeyCount {
		return keycode.NO
	}
	for id := layer.ID(layer.Count - 1); id > layer.Base; id-- {
		if !state.Has(id) {
			continue
		}
		if kc := k.Layers[id][pos]; kc != keycode.TRNS {
			return kc
		}
	}
	return k.Layers[layer.Base][pos]
}

// Find returns every position holding kc on layer id.
func (k *Keymap) Find(id layer.ID, kc keycode.Code) []Pos {
	var out []Pos
	if int(id) >= layer.Count {
		return out
	}
	for i, c := range k.Layers[id] {
		if c == kc {
			out = append(out, Pos(i))
		}
	}
	return out
}

// SetLayer replaces layer id with codes.
func (k *Keymap) SetLayer(id layer.ID, codes []keycode.Code) error {
	if int(id) >= layer.Count {
		return fmt.Errorf("keymap: layer %d out of range", id)
	}
	if len(codes) != KeyCount {
		return fmt.Errorf("%w: layer %d has %d, want %d", ErrLayerSize, id, len(codes), KeyCount)
	}
	copy(k.Layers[id][:], codes)
	return nil
}
