package main

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gdamore/tcell/v2"

	"keycore/internal/controller"
	"keycore/internal/host"
	"keycore/internal/keycode"
	"keycore/internal/keymap"
	"keycore/internal/rgb"
)

// outputLog records what the host sends to the output device and the
// pointer. The host calls it from its loop goroutine.
type outputLog struct {
	mu    sync.Mutex
	lines []string
	max   int
	cpi   string
}

func newOutputLog(max int) *outputLog {
	return &outputLog{max: max, cpi: "default"}
}

func (o *outputLog) add(format string, args ...any) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.lines = append(o.lines, fmt.Sprintf(format, args...))
	if len(o.lines) > o.max {
		o.lines = o.lines[len(o.lines)-o.max:]
	}
}

func (o *outputLog) Tap(kc keycode.Code)        { o.add("tap %s", kc) }
func (o *outputLog) Register(kc keycode.Code)   { o.add("+%s", kc) }
func (o *outputLog) Unregister(kc keycode.Code) { o.add("-%s", kc) }

func (o *outputLog) SetCPI(cpi uint16) {
	o.mu.Lock()
	o.cpi = fmt.Sprint(cpi)
	o.mu.Unlock()
	o.add("cpi %d", cpi)
}

func (o *outputLog) ResetCPI() {
	o.mu.Lock()
	o.cpi = "default"
	o.mu.Unlock()
	o.add("cpi reset")
}

// Lines returns the recorded lines, oldest first.
func (o *outputLog) Lines() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]string(nil), o.lines...)
}

// CPI returns the pointer resolution last set.
func (o *outputLog) CPI() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.cpi
}

// simConfig holds the simulator's own settings.
type simConfig struct {
	TapTime   time.Duration
	HoldTime  time.Duration
	FrameRate int
	MoveStep  int
}

func defaultSimConfig() simConfig {
	return simConfig{
		TapTime:   40 * time.Millisecond,
		HoldTime:  400 * time.Millisecond,
		FrameRate: 30,
		MoveStep:  8,
	}
}

// sim drives a host from a terminal. Terminals report key presses only, so
// every press is followed by a synthesised release.
type sim struct {
	cfg    simConfig
	screen tcell.Screen
	host   *host.Host
	km     *keymap.Keymap
	matrix *rgb.Matrix
	out    *outputLog
	sound  clicker
	logger *slog.Logger

	mu   sync.Mutex
	down map[keymap.Pos]*time.Timer

	status    controller.Status
	decision  rgb.RenderDecision
	lastEvent string
	start     time.Time
}

func newSim(cfg simConfig, screen tcell.Screen, h *host.Host, km *keymap.Keymap, matrix *rgb.Matrix, out *outputLog, sound clicker, logger *slog.Logger) *sim {
	if sound == nil {
		sound = silent{}
	}
	return &sim{
		cfg:    cfg,
		screen: screen,
		host:   h,
		km:     km,
		matrix: matrix,
		out:    out,
		sound:  sound,
		logger: logger.With("component", "keysim"),
		down:   make(map[keymap.Pos]*time.Timer),
		start:  time.Now(),
	}
}

// run starts the host and handles terminal input until the user quits or
// ctx is done.
func (s *sim) run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	events, unsubscribe := s.host.Subscribe(64)
	defer unsubscribe()

	hostErr := make(chan error, 1)
	go func() { hostErr <- s.host.Run(ctx) }()

	input := make(chan tcell.Event, 16)
	quit := make(chan struct{})
	go s.screen.ChannelEvents(input, quit)
	defer close(quit)
	defer s.releaseAll()

	frame := time.NewTicker(time.Second / time.Duration(s.cfg.FrameRate))
	defer frame.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-hostErr:
			return err
		case ev, ok := <-input:
			if !ok || s.handle(ctx, ev) {
				return nil
			}
		case ev, ok := <-events:
			if ok {
				s.observe(ev)
			}
		case <-frame.C:
			s.refresh(ctx)
			s.draw()
		}
	}
}

// handle processes one terminal event and reports whether to quit.
func (s *sim) handle(ctx context.Context, ev tcell.Event) bool {
	switch ev := ev.(type) {
	case *tcell.EventResize:
		s.screen.Sync()
	case *tcell.EventKey:
		switch ev.Key() {
		case tcell.KeyEscape, tcell.KeyCtrlC:
			return true
		case tcell.KeyCtrlR:
			s.releaseAll()
			if err := s.host.Reset(ctx); err != nil {
				s.logger.Warn("reset failed", "error", err)
			}
			return false
		case tcell.KeyUp:
			s.move(ctx, 0, -s.cfg.MoveStep)
			return false
		case tcell.KeyDown:
			s.move(ctx, 0, s.cfg.MoveStep)
			return false
		case tcell.KeyLeft:
			s.move(ctx, -s.cfg.MoveStep, 0)
			return false
		case tcell.KeyRight:
			s.move(ctx, s.cfg.MoveStep, 0)
			return false
		case tcell.KeyRune:
			if pos, hold, ok := lookupRune(ev.Rune()); ok {
				s.press(ctx, pos, hold)
			}
			return false
		}
		if pos, ok := specialKeys[ev.Key()]; ok {
			s.press(ctx, pos, false)
		}
	case *tcell.EventMouse:
		if ev.Buttons()&(tcell.Button1|tcell.Button3) == 0 {
			return false
		}
		x, y := ev.Position()
		if pos, ok := keyAt(x, y); ok {
			s.press(ctx, pos, ev.Buttons()&tcell.Button3 != 0)
		}
	}
	return false
}

// press submits a key press and schedules its release. A key pressed again
// before its release is released first.
func (s *sim) press(ctx context.Context, pos keymap.Pos, hold bool) {
	s.mu.Lock()
	prev, ok := s.down[pos]
	repeat := ok && prev.Stop()
	if repeat {
		delete(s.down, pos)
	}
	s.mu.Unlock()

	if repeat {
		s.submit(ctx, pos, false)
	}
	s.submit(ctx, pos, true)

	wait := s.cfg.TapTime
	if hold {
		wait = s.cfg.HoldTime
	}
	s.mu.Lock()
	var t *time.Timer
	t = time.AfterFunc(wait, func() {
		s.mu.Lock()
		if s.down[pos] == t {
			delete(s.down, pos)
		}
		s.mu.Unlock()
		s.submit(ctx, pos, false)
	})
	s.down[pos] = t
	s.mu.Unlock()
}

func (s *sim) submit(ctx context.Context, pos keymap.Pos, pressed bool) {
	if err := s.host.Submit(ctx, host.KeyInput{Pos: pos, Pressed: pressed}); err != nil && ctx.Err() == nil {
		s.logger.Warn("submit failed", "pos", pos, "error", err)
	}
}

// releaseAll releases every key still waiting for its synthesised key-up.
func (s *sim) releaseAll() {
	s.mu.Lock()
	pending := make([]keymap.Pos, 0, len(s.down))
	for pos, t := range s.down {
		if t.Stop() {
			pending = append(pending, pos)
		}
		delete(s.down, pos)
	}
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	for _, pos := range pending {
		s.submit(ctx, pos, false)
	}
}

// Held returns the number of keys waiting for release.
func (s *sim) Held() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.down)
}

func (s *sim) move(ctx context.Context, dx, dy int) {
	if err := s.host.Move(ctx, dx, dy); err != nil && ctx.Err() == nil {
		s.logger.Warn("move failed", "error", err)
	}
}

// observe records a controller event and clicks on layer changes.
func (s *sim) observe(ev controller.Event) {
	s.lastEvent = describeEvent(ev)
	s.logger.Debug("controller event", "kind", ev.Kind, "detail", ev.Detail)
	if ev.Kind == controller.EventLayer && ev.From.Highest() != ev.To.Highest() {
		s.sound.Click(ev.To.Highest())
	}
}

func describeEvent(ev controller.Event) string {
	switch ev.Kind {
	case controller.EventTap, controller.EventHold:
		return fmt.Sprintf("%s %s %s", ev.Kind, ev.Key, ev.Detail)
	case controller.EventDance:
		return fmt.Sprintf("dance %s -> %s", ev.Key, ev.Detail)
	case controller.EventLayer:
		return fmt.Sprintf("layer %s -> %s", ev.From.Highest().Name(), ev.To.Highest().Name())
	case controller.EventMode:
		return fmt.Sprintf("mode %s %s", ev.Detail, onOff(ev.On))
	case controller.EventRGB:
		return "rgb " + ev.Detail
	}
	return ev.Kind.String()
}

func onOff(on bool) string {
	if on {
		return "on"
	}
	return "off"
}

// refresh fetches the controller state for the next frame.
func (s *sim) refresh(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	if st, err := s.host.Status(ctx); err == nil {
		s.status = st
	}
	if d, err := s.host.Indicators(ctx); err == nil {
		s.decision = d
	}
}
