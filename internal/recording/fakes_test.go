package recording

import (
	"context"
	"errors"
	"sync"

	"screen-recorder/internal/media"
)

// fakeResolver resolves displays and windows from maps that tests can edit.
type fakeResolver struct {
	mu       sync.Mutex
	displays map[string]Surface
	windows  map[string]Surface
	calls    int
}

func newFakeResolver() *fakeResolver {
	return &fakeResolver{
		displays: map[string]Surface{
			":0.0": {DisplayID: ":0.0", Width: 1280, Height: 720, ScaleFactor: 2},
		},
		windows: map[string]Surface{},
	}
}

func (r *fakeResolver) Resolve(ctx context.Context, cfg Configuration) (Surface, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	switch cfg.Target.Kind {
	case TargetWindow:
		if s, ok := r.windows[cfg.Target.WindowID]; ok {
			return s, nil
		}
		return Surface{}, errors.New("no such window")
	default:
		if s, ok := r.displays[cfg.Target.DisplayID]; ok {
			return s, nil
		}
		return Surface{}, errors.New("no such display")
	}
}

func (r *fakeResolver) removeWindow(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.windows, id)
}

// fakeStreams hands out fakeStreams and remembers the latest one.
type fakeStreams struct {
	mu       sync.Mutex
	streams  []*fakeStream
	newErr   error
	startErr error
	stopErr  error
}

func (f *fakeStreams) NewStream(surface Surface, cfg StreamConfig, h SampleHandler) (CaptureStream, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.newErr != nil {
		return nil, f.newErr
	}
	s := &fakeStream{cfg: cfg, handler: h, startErr: f.startErr, stopErr: f.stopErr}
	f.streams = append(f.streams, s)
	return s, nil
}

func (f *fakeStreams) latest() *fakeStream {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.streams) == 0 {
		return nil
	}
	return f.streams[len(f.streams)-1]
}

func (f *fakeStreams) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.streams)
}

type fakeStream struct {
	cfg      StreamConfig
	handler  SampleHandler
	startErr error
	stopErr  error

	mu      sync.Mutex
	started bool
	stopped bool
}

func (s *fakeStream) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.startErr != nil {
		return s.startErr
	}
	s.started = true
	return nil
}

func (s *fakeStream) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	return s.stopErr
}

func (s *fakeStream) isStopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}

func (s *fakeStream) emit(out Output, status SampleStatus, pts media.Time) {
	s.handler.HandleSample(PlatformSample{Output: out, Status: status, PTS: pts, Payload: media.Payload{Data: []byte{0}}})
}

// fakeMic records start/stop order relative to a shared log.
type fakeMic struct {
	mu       sync.Mutex
	startErr error
	handler  SampleHandler
	route    MicRoute
	running  bool
	order    *[]string
}

func (m *fakeMic) Start(ctx context.Context, device AudioDevice, route MicRoute, cfg StreamConfig, h SampleHandler) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.startErr != nil {
		return m.startErr
	}
	m.handler = h
	m.route = route
	m.running = true
	return nil
}

func (m *fakeMic) Stop(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.running = false
	if m.order != nil {
		*m.order = append(*m.order, "mic")
	}
	return nil
}

func (m *fakeMic) emit(pts media.Time) {
	m.mu.Lock()
	h := m.handler
	m.mu.Unlock()
	h.HandleSample(PlatformSample{Output: OutputAudio, Status: StatusComplete, PTS: pts, Payload: media.Payload{Data: []byte{0}}})
}

// orderedStream records its stop into a shared order log.
type orderedStream struct {
	*fakeStream
	order *[]string
}

func (s orderedStream) Stop(ctx context.Context) error {
	*s.order = append(*s.order, "stream")
	return s.fakeStream.Stop(ctx)
}

type orderedStreams struct {
	fakeStreams
	order *[]string
}

func (f *orderedStreams) NewStream(surface Surface, cfg StreamConfig, h SampleHandler) (CaptureStream, error) {
	cs, err := f.fakeStreams.NewStream(surface, cfg, h)
	if err != nil {
		return nil, err
	}
	return orderedStream{fakeStream: cs.(*fakeStream), order: f.order}, nil
}
