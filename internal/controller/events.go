package controller

import (
	"keycore/internal/keycode"
	"keycore/internal/layer"
	"keycore/internal/timer"
)

// EventKind classifies controller events.
type EventKind uint8

const (
	EventTap EventKind = iota + 1
	EventHold
	EventDance
	EventLayer
	EventMode
	EventRGB
)

func (k EventKind) String() string {
	switch k {
	case EventTap:
		return "tap"
	case EventHold:
		return "hold"
	case EventDance:
		return "dance"
	case EventLayer:
		return "layer"
	case EventMode:
		return "mode"
	case EventRGB:
		return "rgb"
	}
	return "unknown"
}

// Event describes something the controller decided. Events feed metrics,
// notifications and the control socket; the controller never reads them
// back.
type Event struct {
	Kind EventKind
	Time timer.Time

	// Key is set for tap, hold and dance events.
	Key keycode.Code

	// Detail is the action, dance outcome, mode name or effect name.
	Detail string

	// From and To are set for layer events.
	From, To layer.State

	// On is the new state of a mode event.
	On bool
}

func (c *Controller) publish(ev Event) {
	for _, fn := range c.handlers {
		fn(ev)
	}
}

func (c *Controller) publishMode(name string, on bool) {
	c.logger.Debug("mode change", "mode", name, "on", on)
	c.publish(Event{Kind: EventMode, Time: c.now, Detail: name, On: on})
}
