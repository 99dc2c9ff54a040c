package trace

import (
	"log/slog"
	"sync"
	"time"

	"keycore/internal/controller"
	"keycore/internal/keycode"
	"keycore/internal/layer"
	"keycore/internal/timer"
)

const (
	defaultBatchSize     = 256
	defaultFlushInterval = 250 * time.Millisecond
	recordBuffer         = 4096
)

// RecorderOption configures a Recorder.
type RecorderOption func(*Recorder)

// WithRecorderLogger sets the logger.
func WithRecorderLogger(l *slog.Logger) RecorderOption {
	return func(r *Recorder) { r.logger = l }
}

// WithBatch sets how many records are written per transaction and how long
// a partial batch may wait.
func WithBatch(size int, every time.Duration) RecorderOption {
	return func(r *Recorder) {
		if size > 0 {
			r.batchSize = size
		}
		if every > 0 {
			r.flushEvery = every
		}
	}
}

// Recorder writes everything the host feeds its controller into a session.
// Ticks with no output and no motion are skipped; replay regenerates them.
// The observe methods are called from the host loop and never touch the
// database themselves.
type Recorder struct {
	store      *Store
	session    Session
	logger     *slog.Logger
	batchSize  int
	flushEvery time.Duration

	mu      sync.Mutex
	closed  bool
	seq     int64
	records chan Record
	done    chan struct{}
	failed  int
}

// NewRecorder starts recording into sess.
func NewRecorder(store *Store, sess Session, opts ...RecorderOption) *Recorder {
	r := &Recorder{
		store:      store,
		session:    sess,
		batchSize:  defaultBatchSize,
		flushEvery: defaultFlushInterval,
		records:    make(chan Record, recordBuffer),
		done:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	r.logger = r.logger.With("component", "trace_recorder", "session", sess.ID.String())
	go r.writeLoop()
	return r
}

// Session returns the session being recorded.
func (r *Recorder) Session() Session { return r.session }

// Recorded returns the number of records accepted so far.
func (r *Recorder) Recorded() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.seq
}

// ObserveInit records a controller Init.
func (r *Recorder) ObserveInit(now timer.Time, res controller.Result) {
	r.add(Record{Kind: KindInit, Time: now, Refresh: res.Refresh, Commands: res.Commands})
}

// ObserveReset records a controller Reset.
func (r *Recorder) ObserveReset(now timer.Time, res controller.Result) {
	r.add(Record{Kind: KindReset, Time: now, Refresh: res.Refresh, Commands: res.Commands})
}

// ObserveKey records a key event.
func (r *Recorder) ObserveKey(kc keycode.Code, pressed bool, now timer.Time, res controller.Result) {
	r.add(Record{Kind: KindKey, Time: now, Code: kc, Pressed: pressed, Refresh: res.Refresh, Commands: res.Commands})
}

// ObserveLayer records a momentary layer change.
func (r *Recorder) ObserveLayer(id layer.ID, on bool, now timer.Time, res controller.Result) {
	r.add(Record{Kind: KindLayer, Time: now, Code: keycode.Code(id), Pressed: on, Refresh: res.Refresh, Commands: res.Commands})
}

// ObserveInterrupt records a press that reached the controller only as an
// interruption.
func (r *Recorder) ObserveInterrupt(now timer.Time, res controller.Result) {
	r.add(Record{Kind: KindInterrupt, Time: now, Refresh: res.Refresh, Commands: res.Commands})
}

// ObserveTick records a tick that moved the pointer or produced output.
func (r *Recorder) ObserveTick(now timer.Time, dx, dy int, res controller.Result) {
	if len(res.Commands) == 0 && !res.Refresh && dx == 0 && dy == 0 {
		return
	}
	r.add(Record{Kind: KindTick, Time: now, DX: dx, DY: dy, Refresh: res.Refresh, Commands: res.Commands})
}

func (r *Recorder) add(rec Record) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	r.seq++
	rec.Seq = r.seq
	r.records <- rec
}

func (r *Recorder) writeLoop() {
	defer close(r.done)

	ticker := time.NewTicker(r.flushEvery)
	defer ticker.Stop()

	batch := make([]Record, 0, r.batchSize)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		if err := r.store.Append(r.session.ID, batch); err != nil {
			r.failed += len(batch)
			r.logger.Error("write trace records", "error", err, "records", len(batch))
		}
		batch = batch[:0]
	}

	for {
		select {
		case rec, ok := <-r.records:
			if !ok {
				flush()
				return
			}
			batch = append(batch, rec)
			if len(batch) >= r.batchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}

// Close writes the pending records and ends the session.
func (r *Recorder) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	close(r.records)
	r.mu.Unlock()

	<-r.done
	if r.failed > 0 {
		r.logger.Warn("trace is incomplete", "lost_records", r.failed)
	}
	r.logger.Info("trace closed", "records", r.seq)
	return r.store.EndSession(r.session.ID)
}
