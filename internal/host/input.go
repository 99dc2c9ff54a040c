package host

import (
	"keycore/internal/keycode"
	"keycore/internal/keymap"
	"keycore/internal/layer"
	"keycore/internal/timer"
)

// RGB adjustment steps applied by the default handling of the RGB_* keys.
const (
	hueStep = 8
	satStep = 16
	valStep = 16
)

// layerTap is a held LT() key.
type layerTap struct {
	pos    keymap.Pos
	layer  layer.ID
	code   keycode.Code
	start  timer.Time
	active bool
}

// Input processes one physical key transition at now. Presses resolve
// against the active layers; releases reuse the keycode resolved at press
// so a layer change while the key is down cannot strand it.
func (h *Host) Input(in KeyInput, now timer.Time) {
	var kc keycode.Code
	if in.Pressed {
		kc = h.keymap.Lookup(h.ctrl.Layers().State(), in.Pos)
		h.pressed[in.Pos] = kc
	} else {
		var ok bool
		if kc, ok = h.pressed[in.Pos]; !ok {
			return
		}
		delete(h.pressed, in.Pos)
	}

	for _, ev := range h.combos.Feed(keymap.KeyEvent{Pos: in.Pos, Code: kc, Pressed: in.Pressed, Time: now}) {
		h.dispatch(ev)
	}
}

// Tick flushes expired combo windows, activates layer-tap holds and ticks
// the controller with the motion collected since the last tick.
func (h *Host) Tick(now timer.Time) {
	for _, ev := range h.combos.Tick(now) {
		h.dispatch(ev)
	}

	for _, lt := range h.lt {
		if !lt.active && timer.Reached(now, lt.start, h.cfg.LayerTapTerm) {
			lt.active = true
			h.logger.Debug("layer tap hold", "layer", lt.layer, "key", lt.code.String())
			h.momentary(lt.layer, true, now)
		}
	}

	dx, dy := h.dx, h.dy
	h.dx, h.dy = 0, 0
	r := h.ctrl.Tick(now, dx, dy)
	for _, o := range h.observers {
		o.ObserveTick(now, dx, dy, r)
	}
	h.deliver(r)
}

// AddMotion accumulates pointer motion for the next tick. It must be called
// from the loop goroutine; other goroutines use Move.
func (h *Host) AddMotion(dx, dy int) {
	h.dx += dx
	h.dy += dy
}

func (h *Host) dispatch(ev keymap.KeyEvent) {
	if ev.Code.IsLayerTap() {
		h.layerTap(ev)
		return
	}
	h.key(ev.Code, ev.Pressed, ev.Time)
}

func (h *Host) layerTap(ev keymap.KeyEvent) {
	if ev.Pressed {
		l, kc := ev.Code.LayerTap()
		h.lt = append(h.lt, &layerTap{pos: ev.Pos, layer: layer.ID(l), code: kc, start: ev.Time})
		r := h.ctrl.Interrupt(ev.Time)
		for _, o := range h.observers {
			o.ObserveInterrupt(ev.Time, r)
		}
		h.deliver(r)
		return
	}

	for i, lt := range h.lt {
		if lt.pos != ev.Pos {
			continue
		}
		h.lt = append(h.lt[:i], h.lt[i+1:]...)
		if lt.active {
			h.momentary(lt.layer, false, ev.Time)
			return
		}
		h.key(lt.code, true, ev.Time)
		h.key(lt.code, false, ev.Time)
		return
	}
}

func (h *Host) momentary(id layer.ID, on bool, now timer.Time) {
	r := h.ctrl.MomentaryLayer(id, on, now)
	for _, o := range h.observers {
		o.ObserveLayer(id, on, now, r)
	}
	h.deliver(r)
}

func (h *Host) key(kc keycode.Code, pressed bool, now timer.Time) {
	r := h.ctrl.HandleKeyEvent(kc, pressed, now)
	for _, o := range h.observers {
		o.ObserveKey(kc, pressed, now, r)
	}
	h.deliver(r)
	if r.PassThrough {
		h.passThrough(kc, pressed)
	}
}

// passThrough is the default handling for keycodes the controller did not
// consume.
func (h *Host) passThrough(kc keycode.Code, pressed bool) {
	switch {
	case kc == keycode.NO || kc == keycode.TRNS:
	case kc.IsBasic() || kc.IsModified() || kc.IsMouse():
		if pressed {
			h.sink.Register(kc)
		} else {
			h.sink.Unregister(kc)
		}
	case kc >= keycode.RGB_HUI && kc <= keycode.RGB_VAD:
		if pressed {
			h.adjustRGB(kc)
		}
	case kc == keycode.QK_BOOT || kc == keycode.QK_CLEAR_EEPROM:
		if pressed {
			h.logger.Warn("firmware keycode ignored on the host", "key", kc.String())
		}
	default:
		if pressed {
			h.logger.Debug("unhandled keycode", "key", kc.String())
		}
	}
}

func (h *Host) adjustRGB(kc keycode.Code) {
	c := h.backend.HSV()
	switch kc {
	case keycode.RGB_HUI:
		c.H += hueStep
	case keycode.RGB_HUD:
		c.H -= hueStep
	case keycode.RGB_SAI:
		c.S = addClamp(c.S, satStep)
	case keycode.RGB_SAD:
		c.S = subClamp(c.S, satStep)
	case keycode.RGB_VAI:
		c.V = addClamp(c.V, valStep)
	case keycode.RGB_VAD:
		c.V = subClamp(c.V, valStep)
	}
	h.backend.SetHSVNoEEPROM(c)
	h.logger.Debug("rgb adjust", "key", kc.String(), "hsv", c)
}

func addClamp(v, step uint8) uint8 {
	if v > 255-step {
		return 255
	}
	return v + step
}

func subClamp(v, step uint8) uint8 {
	if v < step {
		return 0
	}
	return v - step
}
