package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/mattn/go-runewidth"

	"keycore/internal/keymap"
	"keycore/internal/layer"
	"keycore/internal/rgb"
)

// Screen geometry of the board drawing.
const (
	cellWidth = 8
	halfGap   = 4
	originX   = 2
	originY   = 2
	rowHeight = 2
)

// keyOrigin returns the top-left cell of the key at p.
func keyOrigin(p keymap.Pos) (x, y int) {
	row, col := p.Row(), p.Col()
	if row == keymap.Rows {
		y = originY + row*rowHeight + 1
		if col < keymap.LeftThumbs {
			col++
		} else {
			col += keymap.Cols/2 - keymap.LeftThumbs
		}
	} else {
		y = originY + row*rowHeight
	}
	x = originX + col*cellWidth
	if col >= keymap.Cols/2 {
		x += halfGap
	}
	return x, y
}

// keyAt returns the key drawn at screen cell (x, y).
func keyAt(x, y int) (keymap.Pos, bool) {
	for p := keymap.Pos(0); p < keymap.KeyCount; p++ {
		kx, ky := keyOrigin(p)
		if y == ky && x >= kx && x < kx+cellWidth-1 {
			return p, true
		}
	}
	return 0, false
}

func drawText(s tcell.Screen, x, y int, style tcell.Style, text string) int {
	for _, r := range text {
		s.SetContent(x, y, r, nil, style)
		x += runewidth.RuneWidth(r)
	}
	return x
}

// center pads label to width cells, truncating it if needed.
func center(label string, width int) string {
	label = runewidth.Truncate(label, width, "")
	pad := width - runewidth.StringWidth(label)
	return strings.Repeat(" ", pad/2) + label + strings.Repeat(" ", pad-pad/2)
}

func ledStyle(c rgb.Color) tcell.Style {
	fg := tcell.ColorWhite
	if int(c.R)*299+int(c.G)*587+int(c.B)*114 > 128000 {
		fg = tcell.ColorBlack
	}
	bg := tcell.NewRGBColor(int32(c.R), int32(c.G), int32(c.B))
	return tcell.StyleDefault.Foreground(fg).Background(bg)
}

func (s *sim) draw() {
	scr := s.screen
	scr.Clear()

	bold := tcell.StyleDefault.Bold(true)
	dim := tcell.StyleDefault.Dim(true)
	st := s.status

	x := drawText(scr, originX, 0, bold, "keysim")
	x = drawText(scr, x+2, 0, tcell.StyleDefault, "layer ")
	x = drawText(scr, x, 0, bold, st.Highest.Name())
	drawText(scr, x+2, 0, dim, fmt.Sprintf("active %s  rgb %s  cpi %s", layerNames(st.Layers), st.RGBMode, s.out.CPI()))

	s.mu.Lock()
	held := make(map[keymap.Pos]bool, len(s.down))
	for pos := range s.down {
		held[pos] = true
	}
	s.mu.Unlock()

	frame := uint32(time.Since(s.start).Milliseconds())
	for p := keymap.Pos(0); p < keymap.KeyCount; p++ {
		style := ledStyle(s.matrix.Pixel(ledIndex(p), frame, s.decision))
		if held[p] {
			style = style.Reverse(true)
		}
		kx, ky := keyOrigin(p)
		drawText(scr, kx, ky, style, center(keymap.Label(s.km.Lookup(st.Layers, p)), cellWidth-1))
	}

	y := originY + keymap.Rows*rowHeight + 3
	x = drawText(scr, originX, y, tcell.StyleDefault, "modes ")
	for _, m := range []struct {
		name string
		on   bool
	}{
		{"flashlight", st.Modes.Flashlight},
		{"scroll", st.Modes.ScrollMode},
		{"mouse-lock", st.Modes.MouseLocked},
		{"auto-mouse", st.Modes.AutoMouse},
		{"auto-cycle", st.Modes.AutoCycle},
		{"show", st.ShowMode},
	} {
		style := dim
		if m.on {
			style = bold.Foreground(tcell.ColorGreen)
		}
		x = drawText(scr, x, y, style, m.name) + 2
	}

	y += 2
	drawText(scr, originX, y, tcell.StyleDefault, "event  "+s.lastEvent)

	y += 2
	drawText(scr, originX, y, tcell.StyleDefault, "output")
	for i, line := range s.out.Lines() {
		drawText(scr, originX+2, y+1+i, dim, line)
	}

	_, h := scr.Size()
	drawText(scr, originX, h-1, dim, "type to tap, shift to hold, click keys, arrows move the pointer, ctrl-r resets, esc quits")
	scr.Show()
}

func layerNames(st layer.State) string {
	ids := st.IDs()
	if len(ids) == 0 {
		return layer.Base.Name()
	}
	names := make([]string, len(ids))
	for i, id := range ids {
		names[i] = id.Name()
	}
	return strings.Join(names, ",")
}
