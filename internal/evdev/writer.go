package evdev

import (
	"io"
	"log/slog"
	"sync"

	"keycore/internal/keycode"
)

// Mouse key speeds in pixels per repeat, selected by the MS_ACL keys.
var mouseSpeeds = [3]int32{8, 16, 32}

// WriterOption configures a Writer.
type WriterOption func(*Writer)

// WithWriterLogger sets the logger.
func WithWriterLogger(l *slog.Logger) WriterOption {
	return func(w *Writer) { w.logger = l }
}

// WithDefaultCPI sets the resolution that relayed motion is scaled against.
func WithDefaultCPI(cpi uint16) WriterOption {
	return func(w *Writer) {
		if cpi > 0 {
			w.defaultCPI = cpi
		}
	}
}

// Writer turns output commands into input events on a virtual device. It
// implements action.Sink and action.Pointer, and is safe for concurrent use.
type Writer struct {
	mu     sync.Mutex
	out    io.Writer
	logger *slog.Logger
	buf    []byte

	defaultCPI uint16
	cpi        uint16

	// dirs holds the mouse key directions that are down.
	dirs  map[keycode.Code]bool
	speed int32
	// remX and remY carry the fractional part of scaled motion.
	remX, remY int32
}

// NewWriter returns a writer that encodes events to out.
func NewWriter(out io.Writer, opts ...WriterOption) *Writer {
	w := &Writer{
		out:        out,
		defaultCPI: 1000,
		dirs:       make(map[keycode.Code]bool),
		speed:      mouseSpeeds[0],
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.logger == nil {
		w.logger = slog.Default()
	}
	w.logger = w.logger.With("component", "evdev_writer")
	w.cpi = w.defaultCPI
	return w
}

// Tap presses and releases kc.
func (w *Writer) Tap(kc keycode.Code) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.key(kc, true)
	w.key(kc, false)
	w.flush()
}

// Register presses kc.
func (w *Writer) Register(kc keycode.Code) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.key(kc, true)
	w.flush()
}

// Unregister releases kc.
func (w *Writer) Unregister(kc keycode.Code) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.key(kc, false)
	w.flush()
}

// SetCPI scales relayed pointer motion to cpi.
func (w *Writer) SetCPI(cpi uint16) {
	w.mu.Lock()
	w.cpi = cpi
	w.mu.Unlock()
	w.logger.Debug("pointer cpi", "cpi", cpi)
}

// ResetCPI restores the default resolution.
func (w *Writer) ResetCPI() {
	w.mu.Lock()
	w.cpi = w.defaultCPI
	w.mu.Unlock()
}

// Relay forwards pointer motion from a grabbed device, scaled by the
// current resolution.
func (w *Writer) Relay(dx, dy int32) {
	w.mu.Lock()
	defer w.mu.Unlock()
	sx := dx*int32(w.cpi) + w.remX
	sy := dy*int32(w.cpi) + w.remY
	d := int32(w.defaultCPI)
	w.remX, w.remY = sx%d, sy%d
	w.rel(RelX, sx/d)
	w.rel(RelY, sy/d)
	w.flush()
}

// Scroll forwards wheel motion from a grabbed device unscaled.
func (w *Writer) Scroll(v, h int32) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.rel(RelWheel, v)
	w.rel(RelHWheel, h)
	w.flush()
}

// Button forwards a pointer button from a grabbed device.
func (w *Writer) Button(code uint16, pressed bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.emit(EvKey, code, boolValue(pressed))
	w.flush()
}

// Repeat moves the pointer one step for every mouse key direction that is
// held. Call it at the mouse key repeat interval.
func (w *Writer) Repeat() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.dirs) == 0 {
		return
	}
	w.step()
	w.flush()
}

func (w *Writer) key(kc keycode.Code, pressed bool) {
	if kc.IsMouse() {
		w.mouseKey(kc, pressed)
		return
	}

	mods := modifierKeys(kc)
	if pressed {
		for _, m := range mods {
			w.basic(m, true)
		}
		w.basic(kc.Basic(), true)
		return
	}
	w.basic(kc.Basic(), false)
	for i := len(mods) - 1; i >= 0; i-- {
		w.basic(mods[i], false)
	}
}

func (w *Writer) basic(kc keycode.Code, pressed bool) {
	code, ok := LinuxKey(kc)
	if !ok {
		w.logger.Debug("no linux key for keycode", "key", kc.String())
		return
	}
	w.emit(EvKey, code, boolValue(pressed))
}

func (w *Writer) mouseKey(kc keycode.Code, pressed bool) {
	switch kc {
	case keycode.MS_BTN1:
		w.emit(EvKey, BtnLeft, boolValue(pressed))
	case keycode.MS_BTN2:
		w.emit(EvKey, BtnRight, boolValue(pressed))
	case keycode.MS_BTN3:
		w.emit(EvKey, BtnMiddle, boolValue(pressed))
	case keycode.MS_WHLU, keycode.MS_WHLD, keycode.MS_WHLL, keycode.MS_WHLR:
		if pressed {
			w.wheel(kc)
		}
	case keycode.MS_ACL0, keycode.MS_ACL1, keycode.MS_ACL2:
		if pressed {
			w.speed = mouseSpeeds[kc-keycode.MS_ACL0]
		}
	case keycode.MS_UP, keycode.MS_DOWN, keycode.MS_LEFT, keycode.MS_RGHT:
		if pressed {
			w.dirs[kc] = true
			w.step()
		} else {
			delete(w.dirs, kc)
		}
	}
}

func (w *Writer) wheel(kc keycode.Code) {
	switch kc {
	case keycode.MS_WHLU:
		w.rel(RelWheel, 1)
	case keycode.MS_WHLD:
		w.rel(RelWheel, -1)
	case keycode.MS_WHLL:
		w.rel(RelHWheel, -1)
	case keycode.MS_WHLR:
		w.rel(RelHWheel, 1)
	}
}

func (w *Writer) step() {
	var dx, dy int32
	if w.dirs[keycode.MS_LEFT] {
		dx -= w.speed
	}
	if w.dirs[keycode.MS_RGHT] {
		dx += w.speed
	}
	if w.dirs[keycode.MS_UP] {
		dy -= w.speed
	}
	if w.dirs[keycode.MS_DOWN] {
		dy += w.speed
	}
	w.rel(RelX, dx)
	w.rel(RelY, dy)
}

func (w *Writer) rel(axis uint16, v int32) {
	if v != 0 {
		w.emit(EvRel, axis, v)
	}
}

func (w *Writer) emit(typ, code uint16, value int32) {
	w.buf = Event{Type: typ, Code: code, Value: value}.Encode(w.buf)
}

// flush terminates the batch with a sync report and writes it out.
func (w *Writer) flush() {
	if len(w.buf) == 0 {
		return
	}
	w.emit(EvSyn, SynReport, 0)
	if _, err := w.out.Write(w.buf); err != nil {
		w.logger.Error("write events", "error", err)
	}
	w.buf = w.buf[:0]
}

func boolValue(b bool) int32 {
	if b {
		return KeyDown
	}
	return KeyUp
}
