package main

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"keycore/internal/evdev"
	"keycore/internal/host"
	"keycore/internal/keycode"
)

// keyHost is the part of the host loop input is fed to.
type keyHost interface {
	Submit(ctx context.Context, in host.KeyInput) error
	Move(ctx context.Context, dx, dy int) error
}

// passOutput receives what the board does not handle itself.
type passOutput interface {
	Register(kc keycode.Code)
	Unregister(kc keycode.Code)
	Relay(dx, dy int32)
	Scroll(v, h int32)
	Button(code uint16, pressed bool)
}

// Pointer buttons occupy BTN_MOUSE..BTN_TASK.
const (
	btnFirst uint16 = 0x110
	btnLast  uint16 = 0x117
)

// inputRouter turns the events of one device into host input. Keys on the
// board layout become positions; other keys and pointer buttons go straight
// to the output. Relative motion is summed until the sync report.
type inputRouter struct {
	ctx       context.Context
	host      keyHost
	out       passOutput
	positions evdev.Positions
	logger    *slog.Logger

	dx, dy int32
	wv, wh int32
}

func newInputRouter(ctx context.Context, h keyHost, out passOutput, positions evdev.Positions, logger *slog.Logger) *inputRouter {
	return &inputRouter{ctx: ctx, host: h, out: out, positions: positions, logger: logger}
}

func (r *inputRouter) handle(ev evdev.Event) {
	switch ev.Type {
	case evdev.EvKey:
		if ev.Value == evdev.KeyRepeat {
			return
		}
		r.key(ev.Code, ev.Value == evdev.KeyDown)
	case evdev.EvRel:
		switch ev.Code {
		case evdev.RelX:
			r.dx += ev.Value
		case evdev.RelY:
			r.dy += ev.Value
		case evdev.RelWheel:
			r.wv += ev.Value
		case evdev.RelHWheel:
			r.wh += ev.Value
		}
	case evdev.EvSyn:
		if ev.Code == evdev.SynReport {
			r.sync()
		}
	}
}

func (r *inputRouter) key(code uint16, pressed bool) {
	if code >= btnFirst && code <= btnLast {
		r.out.Button(code, pressed)
		return
	}
	if pos, ok := r.positions.Lookup(code); ok {
		if err := r.host.Submit(r.ctx, host.KeyInput{Pos: pos, Pressed: pressed}); err != nil {
			r.logger.Debug("key dropped", "code", code, "error", err)
		}
		return
	}
	if kc, ok := evdev.Usage(code); ok {
		if pressed {
			r.out.Register(kc)
		} else {
			r.out.Unregister(kc)
		}
		return
	}
	r.logger.Debug("unmapped key", "code", code)
}

func (r *inputRouter) sync() {
	if r.dx != 0 || r.dy != 0 {
		r.out.Relay(r.dx, r.dy)
		if err := r.host.Move(r.ctx, int(r.dx), int(r.dy)); err != nil {
			r.logger.Debug("motion dropped", "error", err)
		}
		r.dx, r.dy = 0, 0
	}
	if r.wv != 0 || r.wh != 0 {
		r.out.Scroll(r.wv, r.wh)
		r.wv, r.wh = 0, 0
	}
}

// resolveDevice turns a configured device into a node path. A path is
// used as is; otherwise the listing is searched by name, or for the first
// device accepted by want when name is empty.
func resolveDevice(devices []evdev.Device, name string, want func(evdev.Device) bool) (evdev.Device, error) {
	if strings.HasPrefix(name, "/") {
		for _, d := range devices {
			if d.Path == name {
				return d, nil
			}
		}
		return evdev.Device{Name: name, Path: name}, nil
	}
	if name != "" {
		if d, ok := evdev.FindDevice(devices, name); ok {
			return d, nil
		}
		return evdev.Device{}, fmt.Errorf("no input device matches %q", name)
	}
	for _, d := range devices {
		if want(d) {
			return d, nil
		}
	}
	return evdev.Device{}, fmt.Errorf("no suitable input device found")
}

// deviceLoop reads one device until ctx is done. When the device goes away
// and replug is not nil, it waits for a hotplug signal and reopens it.
func deviceLoop(ctx context.Context, name string, grab bool, want func(evdev.Device) bool, route func(evdev.Event), replug <-chan struct{}, opened func(string), logger *slog.Logger) error {
	for {
		err := readDevice(ctx, name, grab, want, route, opened, logger)
		if opened != nil {
			opened("")
		}
		if ctx.Err() != nil {
			return nil
		}
		if replug == nil {
			return err
		}
		logger.Warn("input device lost, waiting for it to return", "device", name, "error", err)

		select {
		case <-ctx.Done():
			return nil
		case <-replug:
		case <-time.After(5 * time.Second):
		}
	}
}

func readDevice(ctx context.Context, name string, grab bool, want func(evdev.Device) bool, route func(evdev.Event), opened func(string), logger *slog.Logger) error {
	devices, err := evdev.ListDevices()
	if err != nil && !strings.HasPrefix(name, "/") {
		return err
	}
	dev, err := resolveDevice(devices, name, want)
	if err != nil {
		return err
	}
	r, err := evdev.OpenReader(dev.Path, grab, logger)
	if err != nil {
		return err
	}
	defer r.Close()

	logger.Info("reading input device", "name", dev.Name, "path", dev.Path, "grab", grab)
	if opened != nil {
		opened(dev.Path)
	}
	return r.Run(ctx, route)
}

func isKeyboard(d evdev.Device) bool { return d.Keyboard }

func isPointer(d evdev.Device) bool { return d.Pointer && !d.Keyboard }
