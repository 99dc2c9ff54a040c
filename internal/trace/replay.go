package trace

import (
	"fmt"
	"io"
	"log/slog"
	"slices"

	"keycore/internal/action"
	"keycore/internal/controller"
	"keycore/internal/layer"
	"keycore/internal/rgb"
	"keycore/internal/timer"
)

// Mismatch is a point where the replayed controller disagreed with the
// recording. Synthetic mismatches come from regenerated idle ticks, which
// were recorded as producing nothing.
type Mismatch struct {
	Seq         int64
	Kind        Kind
	Time        timer.Time
	Synthetic   bool
	Want, Got   []action.Command
	WantRefresh bool
	GotRefresh  bool
}

func (m Mismatch) String() string {
	where := fmt.Sprintf("#%d %s", m.Seq, m.Kind)
	if m.Synthetic {
		where = fmt.Sprintf("idle tick after #%d", m.Seq)
	}
	return fmt.Sprintf("%s at %d: want %v refresh=%t, got %v refresh=%t",
		where, m.Time, m.Want, m.WantRefresh, m.Got, m.GotRefresh)
}

// Report summarizes a replay.
type Report struct {
	Events     int
	IdleTicks  int
	Final      controller.Status
	Mismatches []Mismatch
}

// OK reports whether the replay matched the recording.
func (r Report) OK() bool { return len(r.Mismatches) == 0 }

// ReplayOption configures Replay.
type ReplayOption func(*replayer)

// WithTickStep sets the spacing of regenerated idle ticks in milliseconds.
// It should match the recording host's tick interval.
func WithTickStep(ms uint32) ReplayOption {
	return func(r *replayer) {
		if ms > 0 {
			r.step = ms
		}
	}
}

// WithReplayLogger sets the logger handed to the replayed controller.
func WithReplayLogger(l *slog.Logger) ReplayOption {
	return func(r *replayer) { r.logger = l }
}

type replayer struct {
	step   uint32
	logger *slog.Logger
}

// Replay feeds records to a fresh controller built from the session's
// settings and compares every output with the recorded one.
func Replay(sess Session, records []Record, opts ...ReplayOption) Report {
	rp := replayer{step: 1}
	for _, opt := range opts {
		opt(&rp)
	}
	if rp.logger == nil {
		rp.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	backend := rgb.NewMatrix(sess.RGB.Mode, sess.RGB.HSV)
	ctrl := controller.New(sess.Config, backend, rp.logger)

	var (
		report Report
		prev   *Record
	)
	for i := range records {
		rec := &records[i]
		if prev != nil {
			gap := timer.Elapsed(rec.Time, prev.Time)
			for off := rp.step; off < gap; off += rp.step {
				now := prev.Time + timer.Time(off)
				got := ctrl.Tick(now, 0, 0)
				report.IdleTicks++
				if len(got.Commands) > 0 || got.Refresh {
					report.Mismatches = append(report.Mismatches, Mismatch{
						Seq:        prev.Seq,
						Kind:       KindTick,
						Time:       now,
						Synthetic:  true,
						Got:        got.Commands,
						GotRefresh: got.Refresh,
					})
				}
			}
		}

		got := feed(ctrl, rec)
		report.Events++
		if !slices.Equal(got.Commands, rec.Commands) || got.Refresh != rec.Refresh {
			report.Mismatches = append(report.Mismatches, Mismatch{
				Seq:         rec.Seq,
				Kind:        rec.Kind,
				Time:        rec.Time,
				Want:        rec.Commands,
				Got:         got.Commands,
				WantRefresh: rec.Refresh,
				GotRefresh:  got.Refresh,
			})
		}
		prev = rec
	}
	report.Final = ctrl.Status()
	return report
}

func feed(ctrl *controller.Controller, rec *Record) controller.Result {
	switch rec.Kind {
	case KindInit:
		return ctrl.Init(rec.Time)
	case KindReset:
		return ctrl.Reset(rec.Time)
	case KindKey:
		return ctrl.HandleKeyEvent(rec.Code, rec.Pressed, rec.Time)
	case KindLayer:
		return ctrl.MomentaryLayer(layer.ID(rec.Code), rec.Pressed, rec.Time)
	case KindTick:
		return ctrl.Tick(rec.Time, rec.DX, rec.DY)
	case KindInterrupt:
		return ctrl.Interrupt(rec.Time)
	}
	return controller.Result{}
}
