// Package host is the polling loop around the controller. It owns the
// Controller on a single goroutine, resolves physical key positions to
// keycodes through the keymap, runs layer-tap keys and combos, applies the
// default handling for pass-through keycodes and forwards the controller's
// commands to the output sink.
//
// Other goroutines talk to a running Host only through its channels:
// Submit and Move queue input, Status and Reset are request/response, and
// Subscribe hands out a channel of controller events.
package host

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"keycore/internal/action"
	"keycore/internal/controller"
	"keycore/internal/keycode"
	"keycore/internal/keymap"
	"keycore/internal/layer"
	"keycore/internal/rgb"
	"keycore/internal/timer"
)

// DefaultLayerTapTerm is how long an LT() key must be held before its layer
// turns on.
const DefaultLayerTapTerm = 200

var (
	// ErrNotRunning is returned by requests made while Run is not active.
	ErrNotRunning = errors.New("host: not running")

	// ErrAlreadyRunning is returned when Run is called twice.
	ErrAlreadyRunning = errors.New("host: already running")
)

// Config holds the loop settings.
type Config struct {
	// TickInterval is the cadence of Controller.Tick.
	TickInterval time.Duration

	// LayerTapTerm is the hold time in milliseconds for LT() keys.
	LayerTapTerm uint32

	// ComboTerm is the combo window in milliseconds.
	ComboTerm uint32

	// Combos is the combo table. Nil selects keymap.DefaultCombos.
	Combos []keymap.Combo
}

// DefaultConfig returns the stock loop settings.
func DefaultConfig() Config {
	return Config{
		TickInterval: time.Millisecond,
		LayerTapTerm: DefaultLayerTapTerm,
		ComboTerm:    keymap.DefaultComboTerm,
	}
}

// KeyInput is a physical key transition.
type KeyInput struct {
	Pos     keymap.Pos
	Pressed bool
}

// Observer sees every call into the controller and what it produced.
// Observers run on the loop goroutine.
type Observer interface {
	ObserveInit(now timer.Time, r controller.Result)
	ObserveReset(now timer.Time, r controller.Result)
	ObserveKey(kc keycode.Code, pressed bool, now timer.Time, r controller.Result)
	ObserveLayer(id layer.ID, on bool, now timer.Time, r controller.Result)
	ObserveInterrupt(now timer.Time, r controller.Result)
	ObserveTick(now timer.Time, dx, dy int, r controller.Result)
}

// Option configures a Host.
type Option func(*Host)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(h *Host) { h.logger = l }
}

// WithClock replaces the monotonic clock.
func WithClock(c timer.Clock) Option {
	return func(h *Host) { h.clock = c }
}

// WithPointer sets the pointing device that receives CPI commands.
func WithPointer(p action.Pointer) Option {
	return func(h *Host) { h.pointer = p }
}

// WithObserver adds an observer.
func WithObserver(o Observer) Option {
	return func(h *Host) { h.observers = append(h.observers, o) }
}

// WithIndicators sets the function that receives the indicator decision
// whenever the controller asks for a refresh.
func WithIndicators(fn func(rgb.RenderDecision)) Option {
	return func(h *Host) { h.indicators = fn }
}

// Host drives one Controller.
type Host struct {
	cfg        Config
	ctrl       *controller.Controller
	keymap     *keymap.Keymap
	backend    rgb.Backend
	sink       action.Sink
	pointer    action.Pointer
	clock      timer.Clock
	logger     *slog.Logger
	observers  []Observer
	indicators func(rgb.RenderDecision)

	combos *keymap.ComboMatcher
	// pressed caches the keycode each held position resolved to at press.
	pressed map[keymap.Pos]keycode.Code
	lt      []*layerTap

	dx, dy int

	keys     chan KeyInput
	motion   chan [2]int
	requests chan request

	mu      sync.Mutex
	running bool
	stopped chan struct{} // closed when the current Run returns
	subs    map[chan controller.Event]struct{}
}

type request struct {
	fn   func()
	done chan struct{}
}

// New creates a host around ctrl. The backend is the same RGB engine the
// controller was built with; the host applies hue and brightness keys to it.
func New(cfg Config, ctrl *controller.Controller, km *keymap.Keymap, backend rgb.Backend, sink action.Sink, opts ...Option) *Host {
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = time.Millisecond
	}
	if cfg.LayerTapTerm == 0 {
		cfg.LayerTapTerm = DefaultLayerTapTerm
	}
	if cfg.Combos == nil {
		cfg.Combos = keymap.DefaultCombos()
	}

	h := &Host{
		cfg:      cfg,
		ctrl:     ctrl,
		keymap:   km,
		backend:  backend,
		sink:     sink,
		pressed:  make(map[keymap.Pos]keycode.Code),
		keys:     make(chan KeyInput, 256),
		motion:   make(chan [2]int, 256),
		requests: make(chan request),
		subs:     make(map[chan controller.Event]struct{}),
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.logger == nil {
		h.logger = slog.Default()
	}
	h.logger = h.logger.With("component", "host")
	if h.clock == nil {
		h.clock = timer.NewMonotonicClock()
	}
	h.combos = keymap.NewComboMatcher(cfg.Combos, cfg.ComboTerm)
	ctrl.OnEvent(h.broadcast)
	return h
}

// Controller returns the controller. It must only be used from the loop
// goroutine or before Run starts.
func (h *Host) Controller() *controller.Controller { return h.ctrl }

// Submit queues a key transition. It blocks while the queue is full.
func (h *Host) Submit(ctx context.Context, in KeyInput) error {
	select {
	case h.keys <- in:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Move queues pointer motion. Motion is summed until the next tick.
func (h *Host) Move(ctx context.Context, dx, dy int) error {
	select {
	case h.motion <- [2]int{dx, dy}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Status returns the controller status from the loop goroutine.
func (h *Host) Status(ctx context.Context) (controller.Status, error) {
	var st controller.Status
	err := h.do(ctx, func() { st = h.ctrl.Status() })
	return st, err
}

// Reset resets the controller and every host-side key state.
func (h *Host) Reset(ctx context.Context) error {
	return h.do(ctx, h.reset)
}

// Reconfigure stages new controller settings and resets so they apply at
// once.
func (h *Host) Reconfigure(ctx context.Context, cfg controller.Config) error {
	return h.do(ctx, func() {
		h.ctrl.Reconfigure(cfg)
		h.reset()
	})
}

// Indicators returns the current indicator decision.
func (h *Host) Indicators(ctx context.Context) (rgb.RenderDecision, error) {
	var d rgb.RenderDecision
	err := h.do(ctx, func() { d = h.ctrl.RenderIndicators() })
	return d, err
}

func (h *Host) do(ctx context.Context, fn func()) error {
	h.mu.Lock()
	running, stopped := h.running, h.stopped
	h.mu.Unlock()
	if !running {
		return ErrNotRunning
	}

	req := request{fn: fn, done: make(chan struct{})}
	select {
	case h.requests <- req:
	case <-stopped:
		return ErrNotRunning
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-req.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Subscribe returns a channel of controller events and a function that
// cancels the subscription. Events are dropped when the channel is full.
func (h *Host) Subscribe(buffer int) (<-chan controller.Event, func()) {
	ch := make(chan controller.Event, buffer)
	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			if _, ok := h.subs[ch]; ok {
				delete(h.subs, ch)
				close(ch)
			}
			h.mu.Unlock()
		})
	}
}

func (h *Host) broadcast(ev controller.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Run initialises the controller and processes input until ctx is done.
func (h *Host) Run(ctx context.Context) error {
	h.mu.Lock()
	if h.running {
		h.mu.Unlock()
		return ErrAlreadyRunning
	}
	h.running = true
	stopped := make(chan struct{})
	h.stopped = stopped
	h.mu.Unlock()

	defer func() {
		h.mu.Lock()
		h.running = false
		close(stopped)
		for ch := range h.subs {
			close(ch)
		}
		h.subs = make(map[chan controller.Event]struct{})
		h.mu.Unlock()
	}()

	h.Init()

	ticker := time.NewTicker(h.cfg.TickInterval)
	defer ticker.Stop()

	h.logger.Info("host loop started", "tick", h.cfg.TickInterval)
	for {
		select {
		case <-ctx.Done():
			h.release(h.clock.Now())
			h.logger.Info("host loop stopped")
			return ctx.Err()
		case in := <-h.keys:
			h.Input(in, h.clock.Now())
		case m := <-h.motion:
			h.dx += m[0]
			h.dy += m[1]
		case req := <-h.requests:
			req.fn()
			close(req.done)
		case <-ticker.C:
			h.Tick(h.clock.Now())
		}
	}
}

// Init applies the controller's startup defaults. Run calls it; tests call
// it directly when they drive the host synchronously.
func (h *Host) Init() {
	now := h.clock.Now()
	r := h.ctrl.Init(now)
	for _, o := range h.observers {
		o.ObserveInit(now, r)
	}
	h.deliver(r)
}

func (h *Host) reset() {
	now := h.clock.Now()
	h.release(now)
	h.combos.Reset()
	h.dx, h.dy = 0, 0
	r := h.ctrl.Reset(now)
	for _, o := range h.observers {
		o.ObserveReset(now, r)
	}
	h.deliver(r)
}

// release unregisters every key the host still holds down.
func (h *Host) release(now timer.Time) {
	for _, lt := range h.lt {
		if lt.active {
			h.momentary(lt.layer, false, now)
		}
	}
	h.lt = nil
	for pos, kc := range h.pressed {
		delete(h.pressed, pos)
		if kc.IsBasic() || kc.IsModified() || kc.IsMouse() {
			h.sink.Unregister(kc)
		}
	}
}

// deliver forwards a result to the sink, pointer and indicator renderer.
func (h *Host) deliver(r controller.Result) {
	action.Apply(r.Commands, h.sink, h.pointer)
	if r.Refresh && h.indicators != nil {
		h.indicators(h.ctrl.RenderIndicators())
	}
}
