package recording

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"screen-recorder/internal/media"
	"screen-recorder/internal/platform/metrics"

	"golang.org/x/sync/errgroup"
)

// ContainerWriter is one output file with a track per media kind it owns.
// Implementations are driven from a single goroutine, except FinishWriting,
// which may run concurrently with FinishWriting on other containers.
type ContainerWriter interface {
	// Path is the output file location.
	Path() string
	// Kinds lists the tracks this container holds.
	Kinds() []media.Kind
	StartSession(at media.Time) error
	ReadyForMoreMediaData(kind media.Kind) bool
	// Append returns false when the buffer was not accepted; the caller drops it.
	Append(buf media.TimedBuffer) bool
	MarkFinished(kind media.Kind)
	EndSession(at media.Time)
	FinishWriting(ctx context.Context) error
}

// WriterState is the container session lifecycle.
type WriterState int

const (
	WriterIdle WriterState = iota
	WriterWriting
	WriterFinished
	WriterFailed
)

func (s WriterState) String() string {
	switch s {
	case WriterIdle:
		return "idle"
	case WriterWriting:
		return "writing"
	case WriterFinished:
		return "finished"
	case WriterFailed:
		return "failed"
	}
	return fmt.Sprintf("writer_state(%d)", int(s))
}

// Drop reasons reported to metrics.
const (
	dropPaused     = "paused"
	dropRetime     = "retime_failed"
	dropNoTrack    = "no_track"
	dropPreSession = "pre_session"
	dropOutOfOrder = "out_of_order"
	dropNotReady   = "not_ready"
	dropAppend     = "append_failed"
	dropClosed     = "writer_closed"
	dropNoWriter   = "no_writer"
	dropIncomplete = "incomplete"
	dropStale      = "stale_generation"
)

// Writer multiplexes timed buffers into one or more containers.
//
// All state is owned by a private executor: Write enqueues and returns,
// control calls enqueue and wait. The first buffer of any kind opens the
// container session at its timestamp. Buffers for a track that is not ready
// are dropped, never queued.
type Writer struct {
	containers []ContainerWriter
	tracks     map[media.Kind]ContainerWriter
	mode       AdjustmentMode
	log        *slog.Logger
	metrics    *metrics.Metrics
	exec       *executor

	// executor-owned
	state        WriterState
	sessionStart media.Time
	lastWritten  media.Time
	lastByKind   map[media.Kind]media.Time
	readiness    map[media.Kind]bool
	paused       bool
	adjuster     *Adjuster
	failErr      error
	finished     bool
	result       finishResult

	mu        sync.Mutex // guards the fields below
	published WriterState
	closed    bool
	cached    *finishResult
}

type finishResult struct {
	path string
	err  error
}

// NewWriter returns an idle Writer over containers. The first container is
// the main output whose path Finish returns. Each kind may be owned by one
// container only.
func NewWriter(containers []ContainerWriter, mode AdjustmentMode, log *slog.Logger, m *metrics.Metrics) (*Writer, error) {
	if len(containers) == 0 {
		return nil, errors.New("writer needs at least one container")
	}
	tracks := make(map[media.Kind]ContainerWriter)
	for _, c := range containers {
		for _, k := range c.Kinds() {
			if _, dup := tracks[k]; dup {
				return nil, fmt.Errorf("track %s owned by more than one container", k)
			}
			tracks[k] = c
		}
	}
	log = log.With("component", "writer", "path", containers[0].Path())
	return &Writer{
		containers: containers,
		tracks:     tracks,
		mode:       mode,
		log:        log,
		metrics:    m,
		exec:       newExecutor(log, 256),
		lastByKind: make(map[media.Kind]media.Time),
		readiness:  make(map[media.Kind]bool),
		adjuster:   NewAdjuster(log),
	}, nil
}

// Path is the main output location.
func (w *Writer) Path() string { return w.containers[0].Path() }

// Paths lists every output file this writer produces.
func (w *Writer) Paths() []string {
	paths := make([]string, 0, len(w.containers))
	for _, c := range w.containers {
		paths = append(paths, c.Path())
	}
	return paths
}

// Write enqueues buf. It reports false if the writer is closed.
func (w *Writer) Write(buf media.TimedBuffer) bool {
	ok := w.exec.Go(func() { w.write(buf) })
	if !ok {
		w.drop(buf, dropClosed)
	}
	return ok
}

// Pause records a pause. In AdjustInWriter mode buffers are dropped until Resume.
func (w *Writer) Pause() {
	w.exec.Go(func() {
		w.paused = true
		if w.mode == AdjustInWriter {
			w.adjuster.Pause()
		}
	})
}

// Resume ends a pause.
func (w *Writer) Resume() {
	w.exec.Go(func() {
		w.paused = false
		if w.mode == AdjustInWriter {
			w.adjuster.Resume()
		}
	})
}

func (w *Writer) write(buf media.TimedBuffer) {
	switch w.state {
	case WriterFinished, WriterFailed:
		w.drop(buf, dropClosed)
		return
	case WriterIdle, WriterWriting:
	}

	if w.mode == AdjustInWriter {
		adjusted, ok := w.adjuster.Adjust(buf)
		if !ok {
			reason := dropRetime
			if w.paused {
				reason = dropPaused
			}
			w.drop(buf, reason)
			return
		}
		buf = adjusted
	}

	kind := buf.Kind()
	c, ok := w.tracks[kind]
	if !ok {
		w.drop(buf, dropNoTrack)
		return
	}

	pts := buf.PTS()
	if w.state == WriterIdle {
		if err := w.startSession(pts); err != nil {
			w.setState(WriterFailed)
			w.failErr = err
			w.log.Error("container session failed to start", "error", err)
			w.drop(buf, dropClosed)
			return
		}
	}

	if pts.Before(w.sessionStart) {
		w.drop(buf, dropPreSession)
		return
	}
	if last, seen := w.lastByKind[kind]; seen && pts.Before(last) {
		w.drop(buf, dropOutOfOrder)
		return
	}

	ready := c.ReadyForMoreMediaData(kind)
	w.readiness[kind] = ready
	if !ready {
		w.drop(buf, dropNotReady)
		return
	}
	if !c.Append(buf) {
		w.log.Warn("append failed", "kind", kind.String(), "pts", pts.String())
		w.drop(buf, dropAppend)
		return
	}

	w.lastByKind[kind] = pts
	if !w.lastWritten.IsValid() || pts.After(w.lastWritten) {
		w.lastWritten = pts
	}
	w.metrics.IncBuffersWritten(kind.String())
}

func (w *Writer) startSession(at media.Time) error {
	for _, c := range w.containers {
		if err := c.StartSession(at); err != nil {
			return fmt.Errorf("start session on %s: %w", c.Path(), err)
		}
	}
	w.sessionStart = at
	w.setState(WriterWriting)
	w.log.Info("container session started", "at", at.String())
	return nil
}

func (w *Writer) drop(buf media.TimedBuffer, reason string) {
	w.metrics.IncBuffersDropped(buf.Kind().String(), reason)
	w.log.Debug("buffer dropped", "kind", buf.Kind().String(), "pts", buf.PTS().String(), "reason", reason)
}

// Finish marks every track finished, ends the session at the last written
// timestamp, finalizes all containers and returns the main output path.
// It is idempotent: later calls return the first result without finalizing again.
func (w *Writer) Finish(ctx context.Context) (string, error) {
	var res finishResult
	err := w.exec.Run(ctx, func() { res = w.finish(ctx) })
	if errors.Is(err, ErrClosed) {
		w.mu.Lock()
		defer w.mu.Unlock()
		if w.cached != nil {
			return w.cached.path, w.cached.err
		}
		return "", err
	}
	if err != nil {
		return "", err
	}
	return res.path, res.err
}

func (w *Writer) finish(ctx context.Context) finishResult {
	if w.finished {
		return w.result
	}
	w.finished = true

	for _, k := range media.Kinds {
		if c, ok := w.tracks[k]; ok {
			c.MarkFinished(k)
		}
	}

	if w.state == WriterWriting {
		end := w.lastWritten
		if !end.IsValid() {
			end = w.sessionStart
		}
		for _, c := range w.containers {
			c.EndSession(end)
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, c := range w.containers {
		c := c
		g.Go(func() error {
			if err := c.FinishWriting(gctx); err != nil {
				return fmt.Errorf("finalize %s: %w", c.Path(), err)
			}
			return nil
		})
	}
	err := g.Wait()

	switch {
	case w.failErr != nil:
		w.setState(WriterFailed)
		err = errors.Join(w.failErr, err)
	case err != nil:
		w.setState(WriterFailed)
	default:
		w.setState(WriterFinished)
	}
	if err != nil {
		w.log.Error("finalize failed", "error", err)
	} else {
		w.log.Info("recording finalized", "end", w.lastWritten.String())
	}

	w.result = finishResult{path: w.Path(), err: err}
	w.mu.Lock()
	w.cached = &w.result
	w.mu.Unlock()
	return w.result
}

// State returns the session state as of the last completed task.
func (w *Writer) State() WriterState {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.published
}

func (w *Writer) setState(s WriterState) {
	w.state = s
	w.mu.Lock()
	w.published = s
	w.mu.Unlock()
}

// SessionStart returns the session anchor, if the session has started.
func (w *Writer) SessionStart() (media.Time, bool) {
	var (
		at      media.Time
		started bool
	)
	w.exec.Run(context.Background(), func() {
		at, started = w.sessionStart, w.state != WriterIdle && w.sessionStart.IsValid()
	})
	return at, started
}

// Readiness returns the last observed readiness of each track.
func (w *Writer) Readiness() map[media.Kind]bool {
	out := make(map[media.Kind]bool)
	w.exec.Run(context.Background(), func() {
		for k, v := range w.readiness {
			out[k] = v
		}
	})
	return out
}

// Close stops the executor after queued work has run. Finish should be
// called first; buffers written after Close are dropped.
func (w *Writer) Close() {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.closed = true
	w.mu.Unlock()
	w.exec.Close()
}
