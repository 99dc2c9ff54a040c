package rgb

import (
	"math"
	"sync"
)

// LEDCount is the number of per-key LEDs on the split board.
const LEDCount = 58

// Matrix is an in-process Backend used by the simulator, the daemon and
// tests. It keeps the effect state and can produce approximate pixel
// colours for display.
type Matrix struct {
	mu   sync.RWMutex
	mode Mode
	hsv  HSV
}

// NewMatrix returns a backend in the given mode and colour.
func NewMatrix(mode Mode, hsv HSV) *Matrix {
	return &Matrix{mode: mode, hsv: hsv}
}

// Mode returns the current effect.
func (m *Matrix) Mode() Mode {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.mode
}

// HSV returns the current colour.
func (m *Matrix) HSV() HSV {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.hsv
}

// SetModeNoEEPROM changes the effect.
func (m *Matrix) SetModeNoEEPROM(mode Mode) {
	m.mu.Lock()
	m.mode = mode
	m.mu.Unlock()
}

// SetHSVNoEEPROM changes the colour.
func (m *Matrix) SetHSVNoEEPROM(c HSV) {
	m.mu.Lock()
	m.hsv = c
	m.mu.Unlock()
}

// Pixel approximates the colour of LED i at frame t (milliseconds) for the
// current effect, then applies the indicator decision on top.
func (m *Matrix) Pixel(i int, t uint32, d RenderDecision) Color {
	if c, ok := d.ColorAt(i); ok {
		return c
	}
	if !d.AllowBackground {
		return Black
	}

	m.mu.RLock()
	mode, hsv := m.mode, m.hsv
	m.mu.RUnlock()

	switch {
	case mode == ModeNone:
		return Black
	case mode == ModeSolidColor:
		return HSVToRGB(hsv)
	case mode.IsCycling():
		hue := uint8((uint32(i)*256/LEDCount + t/20) % 256)
		return HSVToRGB(HSV{hue, hsv.S, hsv.V})
	default:
		hue := uint8((uint32(hsv.H) + t/40) % 256)
		return HSVToRGB(HSV{hue, hsv.S, hsv.V})
	}
}

// HSVToRGB converts firmware HSV (0-255 each) to RGB.
func HSVToRGB(c HSV) Color {
	if c.S == 0 {
		return Color{c.V, c.V, c.V}
	}
	h := float64(c.H) / 256 * 360
	s := float64(c.S) / 255
	v := float64(c.V) / 255

	chroma := v * s
	x := chroma * (1 - math.Abs(math.Mod(h/60, 2)-1))
	m := v - chroma

	var r, g, b float64
	switch {
	case h < 60:
		r, g, b = chroma, x, 0
	case h < 120:
		r, g, b = x, chroma, 0
	case h < 180:
		r, g, b = 0, chroma, x
	case h < 240:
		r, g, b = 0, x, chroma
	case h < 300:
		r, g, b = x, 0, chroma
	default:
		r, g, b = chroma, 0, x
	}
	return Color{
		R: uint8(math.Round((r + m) * 255)),
		G: uint8(math.Round((g + m) * 255)),
		B: uint8(math.Round((b + m) * 255)),
	}
}
