package recording

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"screen-recorder/internal/media"
	"screen-recorder/internal/platform/metrics"
)

// ContainerFactory opens the container files of one recording. The first
// container returned is the main output at path.
type ContainerFactory interface {
	Open(path string, cfg Configuration) ([]ContainerWriter, error)
}

// FileStore allocates and removes recording files.
type FileStore interface {
	NewOutputPath(ext string) (string, error)
	Delete(path string) error
}

// SessionDeps are the collaborators of a Session.
type SessionDeps struct {
	Resolver      SurfaceResolver
	Streams       StreamFactory
	Microphone    MicrophoneEngine
	// NewMicrophone, when set, gives each session its own engine and takes
	// precedence over Microphone.
	NewMicrophone func() MicrophoneEngine
	Containers    ContainerFactory
	Files         FileStore
	Log           *slog.Logger
	Metrics       *metrics.Metrics
}

// EventType is the kind of a session Event.
type EventType int

const (
	EventStarted EventType = iota
	EventStopped
	EventError
)

func (t EventType) String() string {
	switch t {
	case EventStarted:
		return "started"
	case EventStopped:
		return "stopped"
	case EventError:
		return "error"
	}
	return fmt.Sprintf("event(%d)", int(t))
}

// Event is emitted by a Session on its Events channel.
//
// A Stopped event carries the output location and the finalize error, if
// any. Deleted is set when the file was removed rather than kept.
type Event struct {
	Type     EventType
	Location string
	Err      error
	Deleted  bool
}

// Session binds a Pipeline, an Adjuster and a Writer into one recording.
//
// Three goroutines run per session: an action loop that serializes control
// requests and pipeline failures, a consumer that owns the Adjuster and feeds
// the Writer, and a forwarder for pipeline errors. Control state touched by
// the consumer is only changed through handoff.
type Session struct {
	cfg      Configuration
	deps     SessionDeps
	log      *slog.Logger
	metrics  *metrics.Metrics
	pipeline *Pipeline

	requests     chan sessionRequest
	ctrl         chan func()
	events       chan Event
	done         chan struct{}
	consumerDone chan struct{}
	wg           sync.WaitGroup
	once         sync.Once

	// action loop only
	writer    *Writer
	active    bool
	lastPaths []string

	// consumer only
	adjuster *Adjuster
	cur      *Writer

	mu       sync.Mutex
	location string
}

type sessionRequest struct {
	action Action
	fail   *Error
	reply  chan struct{}
}

// NewSession validates cfg and returns an idle Session.
func NewSession(cfg Configuration, deps SessionDeps) (*Session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if deps.Containers == nil || deps.Files == nil {
		return nil, errors.New("session needs a container factory and a file store")
	}
	cfg = cfg.withDefaults()
	log := deps.Log
	if log == nil {
		log = slog.Default()
	}
	log = log.With("component", "session", "target", cfg.Target.String())
	mic := deps.Microphone
	if deps.NewMicrophone != nil {
		mic = deps.NewMicrophone()
	}

	s := &Session{
		cfg:     cfg,
		deps:    deps,
		log:     log,
		metrics: deps.Metrics,
		pipeline: NewPipeline(cfg, PipelineDeps{
			Resolver:   deps.Resolver,
			Streams:    deps.Streams,
			Microphone: mic,
			Log:        log,
			Metrics:    deps.Metrics,
		}),
		requests:     make(chan sessionRequest, 16),
		ctrl:         make(chan func()),
		events:       make(chan Event, 32),
		done:         make(chan struct{}),
		consumerDone: make(chan struct{}),
		adjuster:     NewAdjuster(log),
	}

	s.wg.Add(3)
	go s.actionLoop()
	go s.consumeLoop()
	go s.errorLoop()
	return s, nil
}

// Events delivers session events. It is closed by Close.
func (s *Session) Events() <-chan Event { return s.events }

// State is the capture state of the underlying pipeline.
func (s *Session) State() PipelineState { return s.pipeline.State() }

// Paused reports whether the running recording is paused.
func (s *Session) Paused() bool { return s.pipeline.Paused() }

// Location is the main output path of the current or last recording.
func (s *Session) Location() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.location
}

// Send queues action without waiting.
func (s *Session) Send(action Action) {
	select {
	case s.requests <- sessionRequest{action: action}:
	case <-s.done:
	}
}

// Do queues action and waits until it has been applied. Outcomes are
// reported as events.
func (s *Session) Do(ctx context.Context, action Action) error {
	req := sessionRequest{action: action, reply: make(chan struct{})}
	select {
	case s.requests <- req:
	case <-s.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-req.reply:
		return nil
	case <-s.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops any running recording, keeping its file, and releases the
// session. Events is closed once all goroutines have exited.
func (s *Session) Close(ctx context.Context) error {
	err := s.Do(ctx, ActionStop)
	if errors.Is(err, ErrClosed) {
		return nil
	}
	s.once.Do(func() {
		if perr := s.pipeline.Close(ctx); perr != nil && err == nil {
			err = perr
		}
		close(s.done)
		s.wg.Wait()
		close(s.events)
	})
	return err
}

func (s *Session) actionLoop() {
	defer s.wg.Done()
	for {
		select {
		case req := <-s.requests:
			if req.fail != nil {
				s.handleFailure(req.fail)
			} else {
				s.handle(req.action)
			}
			if req.reply != nil {
				close(req.reply)
			}
		case <-s.done:
			return
		}
	}
}

func (s *Session) errorLoop() {
	defer s.wg.Done()
	for e := range s.pipeline.Errors() {
		select {
		case s.requests <- sessionRequest{fail: e}:
		case <-s.done:
			return
		}
	}
}

func (s *Session) consumeLoop() {
	defer s.wg.Done()
	defer close(s.consumerDone)

	buffers := s.pipeline.Buffers()
	for {
		select {
		case b, ok := <-buffers:
			if !ok {
				buffers = nil
				continue
			}
			s.consume(b)
		case fn := <-s.ctrl:
			if !s.drain(buffers) {
				buffers = nil
			}
			fn()
		case <-s.done:
			return
		}
	}
}

// drain consumes every buffer already queued. It reports false once the
// buffer channel is closed.
func (s *Session) drain(buffers <-chan media.TimedBuffer) bool {
	if buffers == nil {
		return false
	}
	for {
		select {
		case b, ok := <-buffers:
			if !ok {
				return false
			}
			s.consume(b)
		default:
			return true
		}
	}
}

func (s *Session) consume(b media.TimedBuffer) {
	if s.cur == nil {
		s.metrics.IncBuffersDropped(b.Kind().String(), dropNoWriter)
		return
	}
	if s.cfg.Adjustment == AdjustUpstream {
		adjusted, ok := s.adjuster.Adjust(b)
		if !ok {
			reason := dropRetime
			if s.adjuster.Paused() {
				reason = dropPaused
			}
			s.metrics.IncBuffersDropped(b.Kind().String(), reason)
			return
		}
		b = adjusted
	}
	s.cur.Write(b)
}

// handoff runs fn on the consumer goroutine after pending buffers and waits for it.
func (s *Session) handoff(fn func()) {
	ran := make(chan struct{})
	select {
	case s.ctrl <- func() { fn(); close(ran) }:
	case <-s.consumerDone:
		return
	}
	select {
	case <-ran:
	case <-s.consumerDone:
	}
}

func (s *Session) handle(action Action) {
	ctx := context.Background()
	s.log.Debug("session action", "action", action.String(), "active", s.active)
	switch action {
	case ActionStart:
		s.start(ctx)
	case ActionPause, ActionResume:
		s.setPaused(ctx, action == ActionPause)
	case ActionStop:
		s.stop(ctx)
	case ActionRestart:
		if s.active {
			s.discard(ctx)
		}
		s.start(ctx)
	case ActionDelete:
		s.discard(ctx)
	default:
		s.log.Warn("ignoring unknown action", "action", int(action))
	}
}

func (s *Session) start(ctx context.Context) {
	if s.active {
		s.log.Debug("start ignored, already recording")
		return
	}

	path, err := s.deps.Files.NewOutputPath(s.cfg.Format.Ext())
	if err != nil {
		s.emit(Event{Type: EventError, Err: StreamSetupFailed(err)})
		return
	}
	containers, err := s.deps.Containers.Open(path, s.cfg)
	if err != nil {
		s.emit(Event{Type: EventError, Err: StreamSetupFailed(err)})
		return
	}
	w, err := NewWriter(containers, s.cfg.Adjustment, s.log, s.metrics)
	if err != nil {
		for _, c := range containers {
			c.FinishWriting(ctx)
		}
		s.removeFiles(pathsOf(containers))
		s.emit(Event{Type: EventError, Err: StreamSetupFailed(err)})
		return
	}

	s.handoff(func() {
		s.adjuster.Reset()
		s.cur = w
	})

	if err := s.pipeline.Do(ctx, ActionStart); err != nil || s.pipeline.State() != StateRunning {
		// The pipeline reports its own failure on the error stream.
		s.handoff(func() { s.cur = nil })
		w.Finish(ctx)
		w.Close()
		s.removeFiles(w.Paths())
		return
	}

	s.writer = w
	s.active = true
	s.lastPaths = w.Paths()
	s.mu.Lock()
	s.location = path
	s.mu.Unlock()

	s.log.Info("recording started", "path", path, "adjustment", s.cfg.Adjustment.String())
	s.emit(Event{Type: EventStarted, Location: path})
}

func (s *Session) setPaused(ctx context.Context, paused bool) {
	if !s.active {
		return
	}
	action := ActionResume
	if paused {
		action = ActionPause
	}
	if err := s.pipeline.Do(ctx, action); err != nil {
		s.log.Warn("pipeline pause change failed", "paused", paused, "error", err)
		return
	}
	s.handoff(func() {
		if s.cfg.Adjustment == AdjustUpstream {
			if paused {
				s.adjuster.Pause()
			} else {
				s.adjuster.Resume()
			}
		}
		if s.cur == nil {
			return
		}
		if paused {
			s.cur.Pause()
		} else {
			s.cur.Resume()
		}
	})
	s.log.Info("recording paused state changed", "paused", paused)
}

func (s *Session) stop(ctx context.Context) {
	if !s.active {
		return
	}
	location, err := s.teardown(ctx)
	s.emit(Event{Type: EventStopped, Location: location, Err: err})
}

// discard stops the recording if needed and removes its files.
func (s *Session) discard(ctx context.Context) {
	var location string
	switch {
	case s.active:
		location, _ = s.teardown(ctx)
	case len(s.lastPaths) > 0:
		location = s.lastPaths[0]
	default:
		return
	}
	s.removeFiles(s.lastPaths)
	s.lastPaths = nil
	s.emit(Event{Type: EventStopped, Location: location, Deleted: true})
}

// teardown stops capture, flushes pending buffers into the writer and
// finalizes it.
func (s *Session) teardown(ctx context.Context) (string, error) {
	if err := s.pipeline.Do(ctx, ActionStop); err != nil {
		s.log.Warn("pipeline stop", "error", err)
	}
	s.handoff(func() { s.cur = nil })

	w := s.writer
	s.writer = nil
	s.active = false

	location, err := w.Finish(ctx)
	w.Close()
	if err != nil {
		s.log.Error("recording finalize failed", "path", location, "error", err)
	} else {
		s.log.Info("recording stopped", "path", location)
	}
	return location, err
}

func (s *Session) handleFailure(e *Error) {
	s.log.Error("recording error", "code", e.Code.String(), "error", e)
	s.emit(Event{Type: EventError, Err: e})
	if !s.active {
		return
	}
	location, err := s.teardown(context.Background())
	s.emit(Event{Type: EventStopped, Location: location, Err: err})
}

func (s *Session) removeFiles(paths []string) {
	for _, p := range paths {
		if err := s.deps.Files.Delete(p); err != nil {
			s.log.Error("delete recording file", "path", p, "error", err)
			s.emit(Event{Type: EventError, Err: Custom(fmt.Sprintf("delete %s: %v", p, err))})
		}
	}
}

func (s *Session) emit(e Event) {
	select {
	case s.events <- e:
	case <-s.done:
	}
}

func pathsOf(containers []ContainerWriter) []string {
	paths := make([]string, 0, len(containers))
	for _, c := range containers {
		paths = append(paths, c.Path())
	}
	return paths
}
