// Package controller is the event dispatcher. It routes key events and the
// periodic tick to the tap/hold machine, the tap-dance resolver, the layer
// controller and the mode manager, and assembles the indicator decision.
//
// A Controller is not safe for concurrent use. The host drives it from a
// single goroutine; every call runs to completion and returns the outputs
// it produced as data.
package controller

import (
	"log/slog"

	"keycore/internal/action"
	"keycore/internal/keycode"
	"keycore/internal/layer"
	"keycore/internal/modes"
	"keycore/internal/rgb"
	"keycore/internal/showmode"
	"keycore/internal/tapdance"
	"keycore/internal/taphold"
	"keycore/internal/timer"
)

// Result is what one entry point call produced.
type Result struct {
	// PassThrough asks the host to apply its default handling to the raw
	// keycode as well.
	PassThrough bool

	// Commands are outputs in emission order.
	Commands []action.Command

	// Refresh is set when indicator state changed.
	Refresh bool
}

// Status is a read-only view of the controller state.
type Status struct {
	Layers    layer.State `json:"layers"`
	Highest   layer.ID    `json:"highest"`
	Modes     modes.Flags `json:"modes"`
	RGBMode   rgb.Mode    `json:"rgb_mode"`
	RGBColor  rgb.HSV     `json:"rgb_color"`
	ShowMode  bool        `json:"show_mode"`
	PeekSaved bool        `json:"peek_saved"`
}

// Controller owns every piece of mutable input state.
type Controller struct {
	cfg    Config
	logger *slog.Logger

	layers *layer.Controller
	rgb    rgb.Backend
	show   *showmode.Sequencer
	modes  *modes.Manager
	holds  *taphold.Machine
	dance  *tapdance.Resolver

	// danceHeld is the code a single tap registered, released on reset.
	danceHeld keycode.Code
	shift     uint8

	// pending settings wait for the next Reset.
	pending *Config

	now      timer.Time
	out      []action.Command
	refresh  bool
	handlers []func(Event)
}

// New creates a controller on the base layer with every mode off. Call Init
// to apply the startup defaults.
func New(cfg Config, backend rgb.Backend, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Controller{
		cfg:    cfg,
		logger: logger.With("component", "controller"),
		layers: layer.NewController(),
		rgb:    backend,
		show:   showmode.New(cfg.ShowModePhase, cfg.Indicators.NumberLEDs),
		holds:  taphold.New(cfg.HoldThreshold, DefaultBindings()...),
		dance:  tapdance.New(cfg.TappingTerm),
	}
	c.modes = modes.New(modes.Config{
		AutoMouseTimeout: cfg.AutoMouseTimeout,
		CycleInterval:    cfg.CycleInterval,
	}, c.layers, backend, c.show)
	c.layers.OnChange(c.layerChanged)
	return c
}

// OnEvent registers fn to receive controller events. Handlers run on the
// calling goroutine and must not call back into the controller.
func (c *Controller) OnEvent(fn func(Event)) {
	c.handlers = append(c.handlers, fn)
}

// Config returns the configuration the controller was built with.
func (c *Controller) Config() Config { return c.cfg }

// Layers exposes the layer controller for inspection.
func (c *Controller) Layers() *layer.Controller { return c.layers }

// Modes exposes the mode manager for inspection.
func (c *Controller) Modes() *modes.Manager { return c.modes }

// ShowMode exposes the show-mode sequencer for inspection.
func (c *Controller) ShowMode() *showmode.Sequencer { return c.show }

// Status returns a snapshot of the controller state.
func (c *Controller) Status() Status {
	_, saved := c.layers.Snapshot()
	return Status{
		Layers:    c.layers.State(),
		Highest:   c.layers.Highest(),
		Modes:     c.modes.Flags(),
		RGBMode:   c.rgb.Mode(),
		RGBColor:  c.rgb.HSV(),
		ShowMode:  c.show.Active(),
		PeekSaved: saved,
	}
}

// Init applies the power-on defaults: the startup effect, auto-cycling and
// a show-mode flash of the effect id.
func (c *Controller) Init(now timer.Time) Result {
	c.begin(now)
	if c.cfg.ExitTriggersTurbo {
		c.logger.Warn("KC_EXIT also switches the pointer to turbo speed",
			"turbo_cpi", c.cfg.TurboCPI)
	}
	c.modes.SetAutoCycle(c.cfg.StartupAutoCycle, now)
	c.modes.SetRGBMode(c.cfg.StartupMode, now)
	c.refresh = true
	return c.finish(false)
}

// Reset returns every component to its initial state. A code registered by
// the dance key is released.
func (c *Controller) Reset(now timer.Time) Result {
	c.begin(now)
	c.releaseDance()
	if c.pending != nil {
		c.rebuild(*c.pending)
		c.pending = nil
	}
	c.dance.Clear()
	c.holds.Reset()
	c.show.Stop()
	c.modes.Reset()
	c.layers.Reset()
	c.shift = 0
	c.refresh = true
	c.logger.Info("controller reset")
	return c.finish(false)
}

// Reconfigure stages cfg. It takes effect at the next Reset, so a key that
// is mid-hold or mid-dance keeps the thresholds it started with.
func (c *Controller) Reconfigure(cfg Config) {
	c.pending = &cfg
}

func (c *Controller) rebuild(cfg Config) {
	c.cfg = cfg
	c.show = showmode.New(cfg.ShowModePhase, cfg.Indicators.NumberLEDs)
	c.holds = taphold.New(cfg.HoldThreshold, DefaultBindings()...)
	c.dance = tapdance.New(cfg.TappingTerm)
	c.modes = modes.New(modes.Config{
		AutoMouseTimeout: cfg.AutoMouseTimeout,
		CycleInterval:    cfg.CycleInterval,
	}, c.layers, c.rgb, c.show)
	c.logger.Info("settings applied", "hold_threshold", cfg.HoldThreshold, "tapping_term", cfg.TappingTerm)
}

func (c *Controller) begin(now timer.Time) {
	c.now = now
	c.out = nil
	c.refresh = false
}

func (c *Controller) finish(pass bool) Result {
	r := Result{PassThrough: pass, Commands: c.out, Refresh: c.refresh}
	c.out = nil
	c.refresh = false
	return r
}

func (c *Controller) emit(op action.Op, kc keycode.Code) {
	c.out = append(c.out, action.Command{Op: op, Code: kc})
}

func (c *Controller) layerChanged(from, to layer.State) {
	c.refresh = true
	c.logger.Debug("layer change", "from", from.String(), "to", to.String())
	c.publish(Event{Kind: EventLayer, Time: c.now, From: from, To: to})
}

// HandleKeyEvent processes one key transition and reports whether the host
// should also apply its default handling to kc.
func (c *Controller) HandleKeyEvent(kc keycode.Code, pressed bool, now timer.Time) Result {
	c.begin(now)
	return c.finish(c.handle(kc, pressed))
}

func (c *Controller) handle(kc keycode.Code, pressed bool) bool {
	if kc.IsShift() {
		c.trackShift(kc, pressed)
	}

	if pressed && kc != DanceKey {
		c.applyDance(c.dance.Interrupt(c.now))
	}

	if w, ok := c.modes.ScrollSubstitute(kc, pressed); ok {
		c.emit(action.OpTap, w)
		return false
	}

	if kc == DanceKey {
		if pressed {
			c.dance.Press(c.now)
		} else {
			c.applyDance(c.dance.Release(c.now))
		}
		return false
	}

	if c.holds.Handles(kc) {
		c.handleHold(kc, pressed)
		return false
	}

	return c.handleCustom(kc, pressed)
}

// Interrupt reports a key press the controller does not see, such as a
// layer-tap key the host resolves itself. It closes an open tap dance the
// way any other press would.
func (c *Controller) Interrupt(now timer.Time) Result {
	c.begin(now)
	c.applyDance(c.dance.Interrupt(now))
	return c.finish(false)
}

// MomentaryLayer turns id on or off for the hold half of a layer-tap key
// resolved by the host.
func (c *Controller) MomentaryLayer(id layer.ID, on bool, now timer.Time) Result {
	c.begin(now)
	if on {
		c.layers.On(id)
	} else {
		c.layers.Off(id)
	}
	return c.finish(false)
}

func (c *Controller) trackShift(kc keycode.Code, pressed bool) {
	bit := uint8(1)
	if kc == keycode.RSFT {
		bit = 2
	}
	if pressed {
		c.shift |= bit
	} else {
		c.shift &^= bit
	}
}

// ShiftHeld reports whether a shift key is down.
func (c *Controller) ShiftHeld() bool { return c.shift != 0 }

func (c *Controller) handleHold(kc keycode.Code, pressed bool) {
	b := c.holds.Binding(kc)
	if pressed {
		c.holds.Press(kc, c.now)
		if b.Peek {
			if c.layers.Peek(layer.Base) {
				c.logger.Debug("peek overwrote an unrestored snapshot", "key", kc.String())
			}
			c.refresh = true
		}
		return
	}

	out, ok := c.holds.Release(kc, c.now)
	if !ok {
		return
	}
	switch out.Kind {
	case taphold.Tapped:
		if b.Peek {
			c.layers.Commit()
		}
		a := b.Tap.Resolve(c.layers.Highest())
		c.publish(Event{Kind: EventTap, Time: c.now, Key: kc, Detail: a.String()})
		c.apply(a)
	case taphold.Released:
		if b.Peek {
			c.layers.Restore()
			c.refresh = true
			return
		}
		c.apply(b.Release)
	}
}

func (c *Controller) handleCustom(kc keycode.Code, pressed bool) bool {
	if m, ok := rgbShortcuts[kc]; ok {
		if pressed {
			c.setRGB(m)
		}
		return false
	}
	if dir, ok := fastMouse[kc]; ok {
		if pressed {
			c.emit(action.OpTap, keycode.MS_ACL2)
			c.emit(action.OpRegister, dir)
		} else {
			c.emit(action.OpUnregister, dir)
			c.emit(action.OpTap, keycode.MS_ACL0)
		}
		return false
	}
	if dirs, ok := diagMouse[kc]; ok {
		op := action.OpRegister
		if !pressed {
			op = action.OpUnregister
		}
		c.emit(op, dirs[0])
		c.emit(op, dirs[1])
		return false
	}

	switch kc {
	case keycode.EXIT:
		if pressed {
			c.layers.Move(layer.Base)
			c.refresh = true
		}
		if c.cfg.ExitTriggersTurbo {
			c.turbo(pressed)
		}
		return false
	case keycode.TURBO:
		c.turbo(pressed)
		return false
	case keycode.SCR_MODE:
		c.modes.SetScrollMode(pressed)
		return false
	case keycode.RM_NEXT:
		if pressed {
			c.modes.StepRGB(c.now)
			c.publish(Event{Kind: EventRGB, Time: c.now, Detail: c.rgb.Mode().String()})
		}
		return false
	case keycode.MOUSE_LOCK:
		if pressed {
			on := c.modes.ToggleMouseLock(c.now)
			c.refresh = true
			c.publishMode("mouse_lock", on)
		}
		return false
	case keycode.ENT_L2_EXIT:
		if pressed {
			c.layers.Off(layer.Function)
			c.emit(action.OpTap, keycode.ENT)
		}
		return false
	case keycode.L_TG1:
		if pressed {
			c.layers.Invert(layer.Symbols)
		}
		return false
	case keycode.R_TG2:
		if pressed {
			c.layers.Invert(layer.Function)
		}
		return false
	case keycode.RGB_AUTO:
		if pressed {
			c.publishMode("rgb_auto_cycle", c.modes.ToggleAutoCycle(c.now))
		}
		return false
	case keycode.RGB_HUI, keycode.RGB_HUD, keycode.RGB_SAI, keycode.RGB_SAD:
		if pressed {
			c.modes.DropCycling()
		}
		return true
	case keycode.PLUS_COLON:
		if pressed {
			if c.ShiftHeld() {
				c.emit(action.OpTap, keycode.SCLN)
			} else {
				c.emit(action.OpTap, keycode.Shifted(keycode.EQL))
			}
		}
		return false
	}
	return true
}

func (c *Controller) turbo(pressed bool) {
	if pressed {
		c.out = append(c.out, action.Command{Op: action.OpSetCPI, Value: c.cfg.TurboCPI})
		return
	}
	c.out = append(c.out, action.Command{Op: action.OpResetCPI})
}

func (c *Controller) setRGB(m rgb.Mode) {
	c.modes.SetRGBMode(m, c.now)
	c.publish(Event{Kind: EventRGB, Time: c.now, Detail: m.String()})
}

// apply interprets a binding action.
func (c *Controller) apply(a action.Action) {
	switch a.Kind {
	case action.Tap:
		c.emit(action.OpTap, a.Code)
	case action.Register:
		c.emit(action.OpRegister, a.Code)
	case action.LayerMove:
		c.layers.Move(a.Layer)
	case action.LayerToggle:
		c.layers.Toggle(a.Layer)
	case action.LayerFromBase:
		c.layers.ToggleFromBase(a.Layer)
	case action.LayerOn:
		c.layers.On(a.Layer)
	case action.LayerOff:
		c.layers.Off(a.Layer)
	case action.RGBMode:
		c.setRGB(a.Mode)
	case action.RGBStep:
		c.modes.StepRGB(c.now)
		c.publish(Event{Kind: EventRGB, Time: c.now, Detail: c.rgb.Mode().String()})
	}
	if a.ChangesLayer() {
		c.refresh = true
	}
}

func (c *Controller) applyDance(events []tapdance.Event) {
	for _, ev := range events {
		switch ev.Phase {
		case tapdance.Finished:
			c.finishDance(ev.Outcome)
		case tapdance.Reset:
			c.releaseDance()
		}
	}
}

func (c *Controller) finishDance(o tapdance.Outcome) {
	c.logger.Debug("tap dance", "outcome", o.String(), "layer", c.layers.Highest())
	c.publish(Event{Kind: EventDance, Time: c.now, Key: DanceKey, Detail: o.String()})

	switch o {
	case tapdance.SingleTap:
		a := danceTap.Resolve(c.layers.Highest())
		if a.Kind == action.Register {
			c.danceHeld = a.Code
		}
		c.apply(a)
	case tapdance.SingleHold:
		c.layers.Toggle(modes.MouseLayer)
		c.refresh = true
	case tapdance.DoubleTap:
		on := c.modes.ToggleFlashlight()
		c.refresh = true
		c.publishMode("flashlight", on)
	}
}

func (c *Controller) releaseDance() {
	if c.danceHeld == 0 {
		return
	}
	c.emit(action.OpUnregister, c.danceHeld)
	c.danceHeld = 0
}

// Tick advances every timer. dx and dy are the pointer motion since the
// previous tick.
func (c *Controller) Tick(now timer.Time, dx, dy int) Result {
	c.begin(now)

	for _, out := range c.holds.Tick(now) {
		if out.Binding.Hold.IsZero() {
			// Peek keys act on release only.
			continue
		}
		c.logger.Debug("hold", "key", out.Key.String(), "action", out.Binding.Hold.String())
		c.publish(Event{Kind: EventHold, Time: now, Key: out.Key, Detail: out.Binding.Hold.String()})
		c.apply(out.Binding.Hold)
		c.refresh = true
	}

	c.applyDance(c.dance.Tick(now))

	if c.modes.Motion(dx, dy, now) {
		c.publishMode("auto_mouse", true)
	}
	if c.modes.CheckAutoMouse(now) {
		c.publishMode("auto_mouse", false)
	}
	if c.modes.CheckAutoCycle(now) {
		c.publish(Event{Kind: EventRGB, Time: now, Detail: c.rgb.Mode().String()})
	}

	if c.show.Tick(now) {
		c.refresh = true
	}
	return c.finish(false)
}
