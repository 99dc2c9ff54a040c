// Package notify shows desktop notifications for layer and mode changes.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"keycore/internal/controller"
	"keycore/internal/layer"
)

// Notification is one desktop notification.
type Notification struct {
	Summary string
	Body    string

	// ReplacesID is the id of a notification to replace, 0 for a new one.
	ReplacesID uint32

	// TimeoutMs is the display time; -1 leaves it to the server.
	TimeoutMs int32
}

// Sender delivers notifications.
type Sender interface {
	Send(n Notification) (uint32, error)
	Close() error
}

// Config configures a Notifier.
type Config struct {
	Timeout  time.Duration
	Coalesce time.Duration
}

// Notifier turns controller events into notifications. Changes arriving
// within the coalescing window are merged and only the final state is
// shown; each notification replaces the previous one.
type Notifier struct {
	sender Sender
	cfg    Config
	logger *slog.Logger

	lastID  uint32
	layers  layer.State
	modes   map[string]bool
	pending bool
	summary string
}

// New creates a Notifier.
func New(sender Sender, cfg Config, logger *slog.Logger) *Notifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Notifier{
		sender: sender,
		cfg:    cfg,
		logger: logger.With("component", "notify"),
		modes:  make(map[string]bool),
	}
}

// Run consumes events until ctx is done or events is closed. A pending
// notification is flushed before returning.
func (n *Notifier) Run(ctx context.Context, events <-chan controller.Event) {
	var (
		timer *time.Timer
		fire  <-chan time.Time
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
		n.flush()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if !n.apply(ev) {
				continue
			}
			if n.cfg.Coalesce <= 0 {
				n.flush()
				continue
			}
			if timer == nil {
				timer = time.NewTimer(n.cfg.Coalesce)
				fire = timer.C
			}
		case <-fire:
			timer, fire = nil, nil
			n.flush()
		}
	}
}

// apply folds ev into the pending state and reports whether it is
// notification-worthy.
func (n *Notifier) apply(ev controller.Event) bool {
	switch ev.Kind {
	case controller.EventLayer:
		n.layers = ev.To
		n.summary = "Layer: " + ev.To.Highest().Name()
	case controller.EventMode:
		if ev.Detail != "flashlight" && ev.Detail != "mouse_lock" {
			return false
		}
		n.modes[ev.Detail] = ev.On
		n.summary = modeTitle(ev.Detail, ev.On)
	default:
		return false
	}
	n.pending = true
	return true
}

func (n *Notifier) flush() {
	if !n.pending {
		return
	}
	n.pending = false

	timeout := int32(-1)
	if n.cfg.Timeout > 0 {
		timeout = int32(n.cfg.Timeout / time.Millisecond)
	}
	id, err := n.sender.Send(Notification{
		Summary:    n.summary,
		Body:       n.body(),
		ReplacesID: n.lastID,
		TimeoutMs:  timeout,
	})
	if err != nil {
		n.logger.Warn("notification failed", "error", err)
		return
	}
	n.lastID = id
}

func (n *Notifier) body() string {
	names := make([]string, 0, layer.Count)
	for _, id := range n.layers.IDs() {
		names = append(names, id.Name())
	}
	if len(names) == 0 {
		names = append(names, layer.Base.Name())
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Active layers: %s", strings.Join(names, ", "))
	for _, mode := range []string{"mouse_lock", "flashlight"} {
		if n.modes[mode] {
			fmt.Fprintf(&b, "\n%s", modeTitle(mode, true))
		}
	}
	return b.String()
}

func modeTitle(mode string, on bool) string {
	state := "off"
	if on {
		state = "on"
	}
	switch mode {
	case "mouse_lock":
		return "Mouse lock " + state
	case "flashlight":
		return "Flashlight " + state
	}
	return mode + " " + state
}
