// Package modes owns the auxiliary modes layered on top of the keymap:
// flashlight, scroll mode, mouse lock, auto-mouse and RGB auto-cycle.
package modes

import (
	"keycore/internal/keycode"
	"keycore/internal/layer"
	"keycore/internal/rgb"
	"keycore/internal/showmode"
	"keycore/internal/timer"
)

// Defaults in milliseconds.
const (
	DefaultAutoMouseTimeout = 650
	DefaultCycleInterval    = 30000
)

// MouseLayer is the layer auto-mouse and mouse lock drive.
const MouseLayer = layer.Mouse

// Config holds the mode timings.
type Config struct {
	AutoMouseTimeout uint32
	CycleInterval    uint32
}

// Flags is a snapshot of the boolean modes.
type Flags struct {
	Flashlight  bool `json:"flashlight"`
	ScrollMode  bool `json:"scroll_mode"`
	MouseLocked bool `json:"mouse_locked"`
	AutoMouse   bool `json:"auto_mouse"`
	AutoCycle   bool `json:"auto_cycle"`
}

// Manager holds mode state. It shares the layer controller, RGB backend and
// show-mode sequencer with the dispatcher that owns it.
type Manager struct {
	cfg    Config
	layers *layer.Controller
	rgb    rgb.Backend
	show   *showmode.Sequencer

	flags      Flags
	saved      rgb.Snapshot
	lastMotion timer.Time
	lastCycle  timer.Time
}

// New returns a manager with every mode off.
func New(cfg Config, layers *layer.Controller, backend rgb.Backend, show *showmode.Sequencer) *Manager {
	if cfg.AutoMouseTimeout == 0 {
		cfg.AutoMouseTimeout = DefaultAutoMouseTimeout
	}
	if cfg.CycleInterval == 0 {
		cfg.CycleInterval = DefaultCycleInterval
	}
	return &Manager{cfg: cfg, layers: layers, rgb: backend, show: show}
}

// Flags returns the current mode flags.
func (m *Manager) Flags() Flags { return m.flags }

// Saved returns the RGB state captured when the flashlight turned on.
func (m *Manager) Saved() rgb.Snapshot { return m.saved }

// Flashlight reports whether the flashlight override is on.
func (m *Manager) Flashlight() bool { return m.flags.Flashlight }

// MouseLocked reports whether the mouse layer is locked on.
func (m *Manager) MouseLocked() bool { return m.flags.MouseLocked }

// ToggleFlashlight switches the flashlight and returns the new state. Turning
// it on captures the RGB effect and colour; turning it off restores them.
func (m *Manager) ToggleFlashlight() bool {
	if !m.flags.Flashlight {
		m.saved = rgb.Capture(m.rgb)
		m.rgb.SetModeNoEEPROM(rgb.ModeSolidColor)
		m.rgb.SetHSVNoEEPROM(rgb.HSVWhite)
		m.flags.Flashlight = true
		return true
	}
	m.saved.Apply(m.rgb)
	m.flags.Flashlight = false
	return false
}

// SetScrollMode turns scroll mode on or off.
func (m *Manager) SetScrollMode(active bool) { m.flags.ScrollMode = active }

// ScrollMode reports whether scroll mode is on.
func (m *Manager) ScrollMode() bool { return m.flags.ScrollMode }

var wheelFor = map[keycode.Code]keycode.Code{
	keycode.MS_UP:         keycode.MS_WHLU,
	keycode.MS_FAST_UP:    keycode.MS_WHLU,
	keycode.MS_DOWN:       keycode.MS_WHLD,
	keycode.MS_FAST_DOWN:  keycode.MS_WHLD,
	keycode.MS_LEFT:       keycode.MS_WHLL,
	keycode.MS_FAST_LEFT:  keycode.MS_WHLL,
	keycode.MS_RGHT:       keycode.MS_WHLR,
	keycode.MS_FAST_RIGHT: keycode.MS_WHLR,
}

// ScrollSubstitute returns the wheel code that replaces a directional mouse
// key press while scroll mode is on. Releases are never substituted.
func (m *Manager) ScrollSubstitute(kc keycode.Code, pressed bool) (keycode.Code, bool) {
	if !m.flags.ScrollMode || !pressed {
		return 0, false
	}
	w, ok := wheelFor[kc]
	return w, ok
}

// ToggleMouseLock switches the lock and returns the new state. Locking
// forces the mouse layer on. Unlocking leaves the layer on under the
// auto-mouse timeout, still measured from the last pointer motion, so a
// pointer idle for longer than the timeout drops the layer on the next
// check.
func (m *Manager) ToggleMouseLock(now timer.Time) bool {
	m.flags.MouseLocked = !m.flags.MouseLocked
	if m.flags.MouseLocked {
		m.layers.On(MouseLayer)
		return true
	}
	if m.layers.IsOn(MouseLayer) {
		m.flags.AutoMouse = true
	}
	return false
}

// Motion records pointer movement. A non-zero delta turns the mouse layer
// on and refreshes the idle timer. It reports whether the layer was turned
// on by this call.
func (m *Manager) Motion(dx, dy int, now timer.Time) bool {
	if dx == 0 && dy == 0 {
		return false
	}
	turnedOn := false
	if !m.layers.IsOn(MouseLayer) {
		m.layers.On(MouseLayer)
		turnedOn = true
	}
	m.flags.AutoMouse = true
	m.lastMotion = now
	return turnedOn
}

// CheckAutoMouse drops the mouse layer once the pointer has been idle for
// the timeout, unless the lock is on. It reports whether the layer dropped.
func (m *Manager) CheckAutoMouse(now timer.Time) bool {
	if !m.flags.AutoMouse || m.flags.MouseLocked {
		return false
	}
	if !timer.Reached(now, m.lastMotion, m.cfg.AutoMouseTimeout) {
		return false
	}
	m.layers.Off(MouseLayer)
	m.flags.AutoMouse = false
	return true
}

// ToggleAutoCycle switches RGB auto-cycling and restarts its timer.
func (m *Manager) ToggleAutoCycle(now timer.Time) bool {
	m.SetAutoCycle(!m.flags.AutoCycle, now)
	return m.flags.AutoCycle
}

// SetAutoCycle turns RGB auto-cycling on or off and restarts its timer.
func (m *Manager) SetAutoCycle(on bool, now timer.Time) {
	m.flags.AutoCycle = on
	m.lastCycle = now
}

// CheckAutoCycle steps the effect once the interval has elapsed. It reports
// whether a step happened.
func (m *Manager) CheckAutoCycle(now timer.Time) bool {
	if !m.flags.AutoCycle || !timer.Reached(now, m.lastCycle, m.cfg.CycleInterval) {
		return false
	}
	m.StepRGB(now)
	m.lastCycle = now
	return true
}

// SetRGBMode switches the effect and flashes its id.
func (m *Manager) SetRGBMode(mode rgb.Mode, now timer.Time) {
	m.rgb.SetModeNoEEPROM(mode)
	m.show.Start(uint8(m.rgb.Mode()), now)
}

// StepRGB advances to the next effect and flashes its id.
func (m *Manager) StepRGB(now timer.Time) {
	m.SetRGBMode(m.rgb.Mode().Next(), now)
}

// DropCycling switches hue-cycling effects to a solid colour so hue and
// saturation adjustments are visible. It reports whether the effect changed.
func (m *Manager) DropCycling() bool {
	if !m.rgb.Mode().IsCycling() {
		return false
	}
	m.rgb.SetModeNoEEPROM(rgb.ModeSolidColor)
	return true
}

// Reset turns every mode off. A lit flashlight is restored first so the
// backend is left as it was found.
func (m *Manager) Reset() {
	if m.flags.Flashlight {
		m.saved.Apply(m.rgb)
	}
	m.flags = Flags{}
	m.saved = rgb.Snapshot{}
}
