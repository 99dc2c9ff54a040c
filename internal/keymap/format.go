package keymap

import (
	"fmt"
	"io"
	"strings"

	"github.com/mattn/go-runewidth"

	"keycore/internal/keycode"
	"keycore/internal/layer"
)

// Label returns the short display form of kc: the KC_ prefix is dropped and
// transparent and empty keys get symbols.
func Label(kc keycode.Code) string {
	switch kc {
	case keycode.TRNS:
		return "▽"
	case keycode.NO:
		return "·"
	}
	return strings.TrimPrefix(kc.String(), "KC_")
}

// FormatOptions controls Format.
type FormatOptions struct {
	// Width is the cell width; zero fits the widest label.
	Width int
	// Layers selects which layers to print; empty prints all.
	Layers []layer.ID
}

// Format writes each selected layer as an aligned grid with the two halves
// separated by a gap, the way the keys sit on the board.
func Format(w io.Writer, km *Keymap, opts FormatOptions) error {
	ids := opts.Layers
	if len(ids) == 0 {
		for id := layer.ID(0); id < layer.Count; id++ {
			ids = append(ids, id)
		}
	}

	for _, id := range ids {
		if int(id) >= layer.Count {
			return fmt.Errorf("keymap: layer %d out of range", id)
		}
	}

	width := opts.Width
	if width == 0 {
		for _, id := range ids {
			for _, kc := range km.Layers[id] {
				if n := runewidth.StringWidth(Label(kc)); n > width {
					width = n
				}
			}
		}
	}

	for n, id := range ids {
		if n > 0 {
			if _, err := fmt.Fprintln(w); err != nil {
				return err
			}
		}
		if _, err := fmt.Fprintf(w, "Layer %d (%s)\n", id, id.Name()); err != nil {
			return err
		}
		for _, line := range layerLines(km, id, width) {
			if _, err := fmt.Fprintln(w, strings.TrimRight(line, " ")); err != nil {
				return err
			}
		}
	}
	return nil
}

func cell(kc keycode.Code, width int) string {
	return runewidth.FillRight(runewidth.Truncate(Label(kc), width, "…"), width)
}

func layerLines(km *Keymap, id layer.ID, width int) []string {
	half := Cols / 2
	gap := strings.Repeat(" ", 4)
	var lines []string
	for row := 0; row < Rows; row++ {
		var b strings.Builder
		for col := 0; col < Cols; col++ {
			if col == half {
				b.WriteString(gap)
			}
			pos, _ := PosAt(row, col)
			b.WriteString(cell(km.Layers[id][pos], width))
			b.WriteByte(' ')
		}
		lines = append(lines, b.String())
	}

	// Thumb keys sit under the inner columns of each half.
	var b strings.Builder
	indent := (half - LeftThumbs) * (width + 1)
	b.WriteString(strings.Repeat(" ", indent))
	for col := 0; col < LeftThumbs+RightThumbs; col++ {
		if col == LeftThumbs {
			b.WriteString(gap)
		}
		pos, _ := PosAt(Rows, col)
		b.WriteString(cell(km.Layers[id][pos], width))
		b.WriteByte(' ')
	}
	lines = append(lines, b.String())
	return lines
}

// Diff lists the positions where two layers differ, ignoring transparent
// keys on b.
func Diff(km *Keymap, a, b layer.ID) []Pos {
	var out []Pos
	for i := 0; i < KeyCount; i++ {
		kb := km.Layers[b][i]
		if kb != keycode.TRNS && kb != km.Layers[a][i] {
			out = append(out, Pos(i))
		}
	}
	return out
}
