package recording

import (
	"log/slog"

	"screen-recorder/internal/media"
)

// Adjuster removes paused intervals from the buffer timeline.
//
// Pause and resume edges are anchored on buffer timestamps rather than wall
// clock: the pause start is the timestamp of the first buffer seen while
// paused, and the pause ends at the timestamp of the first buffer seen after
// Resume. The accumulated pause only grows until Reset.
//
// An Adjuster is not safe for concurrent use; it belongs to the single
// goroutine consuming a session's buffers.
type Adjuster struct {
	log *slog.Logger

	paused        bool
	pauseStart    media.Time
	hasPauseStart bool
	lastPaused    media.Time
	accumulated   media.Time
}

// NewAdjuster returns an Adjuster that has never been paused.
func NewAdjuster(log *slog.Logger) *Adjuster {
	return &Adjuster{log: log}
}

// Pause starts dropping buffers. The pause start is taken from the next buffer.
func (a *Adjuster) Pause() {
	a.paused = true
}

// Resume stops dropping buffers. The pause duration is measured on the next buffer.
func (a *Adjuster) Resume() {
	a.paused = false
}

// Paused reports whether buffers are currently being dropped.
func (a *Adjuster) Paused() bool { return a.paused }

// Accumulated returns the total paused duration removed so far.
func (a *Adjuster) Accumulated() media.Time { return a.accumulated }

// Reset forgets all pause history, for a restarted session.
func (a *Adjuster) Reset() {
	*a = Adjuster{log: a.log}
}

// Adjust returns b shifted earlier by the accumulated pause, or false when b
// must be dropped: while paused, or when it cannot be retimed.
func (a *Adjuster) Adjust(b media.TimedBuffer) (media.TimedBuffer, bool) {
	pts := b.PTS()

	if a.paused {
		if !a.hasPauseStart {
			a.pauseStart = pts
			a.hasPauseStart = true
			a.log.Debug("pause anchored", "kind", b.Kind().String(), "pts", pts.String())
		}
		a.lastPaused = pts
		return media.TimedBuffer{}, false
	}

	if a.hasPauseStart {
		d := pts.Sub(a.pauseStart)
		if d.Sign() > 0 {
			a.accumulated = a.accumulated.Add(d)
		}
		a.hasPauseStart = false
		a.log.Debug("pause closed",
			"kind", b.Kind().String(),
			"pause_start", a.pauseStart.String(),
			"last_paused", a.lastPaused.String(),
			"resumed_at", pts.String(),
			"accumulated_s", a.accumulated.Seconds())
	}

	if a.accumulated.IsZero() {
		return b, true
	}

	out, err := b.Retimed(pts.Sub(a.accumulated))
	if err != nil {
		a.log.Warn("dropping buffer that cannot be retimed",
			"kind", b.Kind().String(), "pts", pts.String(), "error", err)
		return media.TimedBuffer{}, false
	}
	return out, true
}
