package recording

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"screen-recorder/internal/platform/metrics"

	"github.com/google/uuid"
)

// ErrRecordingClosed is returned for actions on a recording whose session
// has been released.
var ErrRecordingClosed = errors.New("recording session closed")

// FileSizer reports the size of a finished recording file.
type FileSizer interface {
	Size(path string) (int64, error)
}

// Service runs recording sessions and keeps the catalog in the Repository
// in step with their events.
type Service struct {
	repo     Repository
	deps     SessionDeps
	sizer    FileSizer
	defaults Configuration
	log      *slog.Logger
	metrics  *metrics.Metrics
	now      func() time.Time

	mu   sync.Mutex
	live map[RecordingID]*liveSession
}

type liveSession struct {
	session *Session
	syncs   chan chan struct{}
	first   chan struct{}
	done    chan struct{}

	startErr error // set before first is closed
}

// NewService returns a Service that starts sessions with deps and records them
// in repo. defaults is the base configuration for new recordings.
func NewService(repo Repository, deps SessionDeps, sizer FileSizer, defaults Configuration) *Service {
	log := deps.Log
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		repo:     repo,
		deps:     deps,
		sizer:    sizer,
		defaults: defaults,
		log:      log,
		metrics:  deps.Metrics,
		now:      func() time.Time { return time.Now().UTC() },
		live:     make(map[RecordingID]*liveSession),
	}
}

// Defaults is the base configuration for new recordings.
func (s *Service) Defaults() Configuration { return s.defaults }

// Start creates a recording for cfg and waits until it is capturing or has
// failed to start. A start failure is returned along with the failed entry.
func (s *Service) Start(ctx context.Context, cfg Configuration) (Recording, error) {
	session, err := NewSession(cfg, s.deps)
	if err != nil {
		return Recording{}, err
	}

	id := RecordingID(uuid.NewString())
	rec := Recording{
		ID:        id,
		Status:    RecordingStarting,
		Target:    cfg.Target.String(),
		StartedAt: s.now(),
	}
	if err := s.repo.Create(rec); err != nil {
		session.Close(ctx)
		return Recording{}, err
	}

	ls := &liveSession{
		session: session,
		syncs:   make(chan chan struct{}),
		first:   make(chan struct{}),
		done:    make(chan struct{}),
	}
	s.mu.Lock()
	s.live[id] = ls
	s.mu.Unlock()
	go s.watch(id, ls)

	if err := session.Do(ctx, ActionStart); err != nil {
		s.release(ctx, id)
		return s.get(id), err
	}
	select {
	case <-ls.first:
	case <-ctx.Done():
		return s.get(id), ctx.Err()
	}

	if ls.startErr != nil {
		s.log.Warn("recording failed to start", "id", string(id), "error", ls.startErr)
		// A failed recording keeps its catalog entry; a retry is a new Start.
		if err := s.release(ctx, id); err != nil {
			s.log.Debug("release failed session", "id", string(id), "error", err)
		}
		return s.get(id), ls.startErr
	}
	rec = s.get(id)
	s.log.Info("recording started", "id", string(id), "location", rec.Location)
	return rec, nil
}

// Apply runs action on a recording and returns its updated entry.
func (s *Service) Apply(ctx context.Context, id RecordingID, action Action) (Recording, error) {
	if _, ok := s.repo.Get(id); !ok {
		return Recording{}, ErrRecordingNotFound
	}
	s.mu.Lock()
	ls, ok := s.live[id]
	s.mu.Unlock()
	if !ok {
		return s.get(id), ErrRecordingClosed
	}

	if err := ls.session.Do(ctx, action); err != nil {
		return s.get(id), err
	}
	s.sync(ctx, ls)

	switch action {
	case ActionPause, ActionResume:
		paused := ls.session.Paused()
		s.repo.Update(id, func(r *Recording) {
			if r.Status == RecordingActive || r.Status == RecordingPaused {
				r.Status = RecordingActive
				if paused {
					r.Status = RecordingPaused
				}
			}
		})
	case ActionDelete:
		s.release(ctx, id)
	}
	s.updateGauge()
	return s.get(id), nil
}

// Get returns one recording.
func (s *Service) Get(id RecordingID) (Recording, bool) {
	return s.repo.Get(id)
}

// List returns all recordings, newest first.
func (s *Service) List() []Recording {
	return s.repo.List()
}

// ActiveCount is the number of recordings currently capturing.
func (s *Service) ActiveCount() int {
	return s.repo.ActiveCount()
}

// Close stops every running recording, keeping the files, and releases all sessions.
func (s *Service) Close(ctx context.Context) error {
	s.mu.Lock()
	ids := make([]RecordingID, 0, len(s.live))
	for id := range s.live {
		ids = append(ids, id)
	}
	s.mu.Unlock()

	var errs []error
	for _, id := range ids {
		if err := s.release(ctx, id); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// release closes the session of id and waits for its last events to apply.
func (s *Service) release(ctx context.Context, id RecordingID) error {
	s.mu.Lock()
	ls, ok := s.live[id]
	delete(s.live, id)
	s.mu.Unlock()
	if !ok {
		return nil
	}
	err := ls.session.Close(ctx)
	select {
	case <-ls.done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return err
}

// sync waits until the watcher has applied every event already emitted.
func (s *Service) sync(ctx context.Context, ls *liveSession) {
	reply := make(chan struct{})
	select {
	case ls.syncs <- reply:
	case <-ls.done:
		return
	case <-ctx.Done():
		return
	}
	select {
	case <-reply:
	case <-ls.done:
	case <-ctx.Done():
	}
}

func (s *Service) watch(id RecordingID, ls *liveSession) {
	defer close(ls.done)
	events := ls.session.Events()
	var signalled bool
	apply := func(e Event) {
		s.apply(id, e)
		if !signalled && (e.Type == EventStarted || e.Type == EventError) {
			signalled = true
			if e.Type == EventError {
				ls.startErr = e.Err
			}
			close(ls.first)
		}
	}
	for {
		select {
		case e, ok := <-events:
			if !ok {
				return
			}
			apply(e)
		case reply := <-ls.syncs:
			for drained := false; !drained; {
				select {
				case e, ok := <-events:
					if !ok {
						close(reply)
						return
					}
					apply(e)
				default:
					drained = true
				}
			}
			close(reply)
		}
	}
}

func (s *Service) apply(id RecordingID, e Event) {
	var size int64
	if e.Type == EventStopped && !e.Deleted && e.Location != "" && s.sizer != nil {
		if n, err := s.sizer.Size(e.Location); err == nil {
			size = n
		} else {
			s.log.Debug("recording size unavailable", "path", e.Location, "error", err)
		}
	}

	now := s.now()
	rec, err := s.repo.Update(id, func(r *Recording) {
		switch e.Type {
		case EventStarted:
			if r.Location != "" && r.Location != e.Location {
				r.Restarts++
			}
			r.Status = RecordingActive
			r.Location = e.Location
			r.Size = 0
			r.Error = ""
			r.StoppedAt = nil
		case EventStopped:
			r.Location = e.Location
			r.StoppedAt = &now
			switch {
			case e.Deleted:
				r.Status = RecordingDeleted
				r.Size = 0
			case e.Err != nil:
				r.Status = RecordingFailed
				r.Error = e.Err.Error()
				r.Size = size
			default:
				if r.Status != RecordingFailed {
					r.Status = RecordingStopped
				}
				r.Size = size
			}
		case EventError:
			r.Status = RecordingFailed
			r.Error = e.Err.Error()
		}
	})
	if err != nil {
		s.log.Error("apply recording event", "id", string(id), "error", err)
		return
	}
	s.log.Debug("recording event applied", "id", string(id), "event", e.Type.String(), "status", string(rec.Status))
	s.updateGauge()
}

func (s *Service) updateGauge() {
	s.metrics.SetActiveRecordings(s.repo.ActiveCount())
}

func (s *Service) get(id RecordingID) Recording {
	rec, _ := s.repo.Get(id)
	return rec
}
