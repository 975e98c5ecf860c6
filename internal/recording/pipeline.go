package recording

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"screen-recorder/internal/media"
	"screen-recorder/internal/platform/metrics"
)

// Output is the platform stream output a sample came from.
type Output int

const (
	OutputScreen Output = iota
	OutputAudio
	OutputMicrophone
)

// SampleStatus is the completeness flag the platform attaches to a sample.
type SampleStatus int

const (
	StatusComplete SampleStatus = iota
	StatusIncomplete
	StatusIdle
	StatusBlank
	StatusSuspended
	StatusStopped
)

func (s SampleStatus) String() string {
	switch s {
	case StatusComplete:
		return "complete"
	case StatusIncomplete:
		return "incomplete"
	case StatusIdle:
		return "idle"
	case StatusBlank:
		return "blank"
	case StatusSuspended:
		return "suspended"
	case StatusStopped:
		return "stopped"
	}
	return fmt.Sprintf("status(%d)", int(s))
}

// PlatformSample is a raw sample as delivered by a capture source.
type PlatformSample struct {
	Output  Output
	Status  SampleStatus
	PTS     media.Time
	Payload media.Payload
}

// SampleHandler receives samples on capture source goroutines.
type SampleHandler interface {
	HandleSample(s PlatformSample)
	// HandleStop reports that the source stopped on its own with err.
	HandleStop(err error)
}

// SurfaceResolver looks up the capture surface for a configuration's target.
type SurfaceResolver interface {
	Resolve(ctx context.Context, cfg Configuration) (Surface, error)
}

// StreamFactory opens platform capture streams for screen and application audio.
type StreamFactory interface {
	NewStream(surface Surface, cfg StreamConfig, h SampleHandler) (CaptureStream, error)
}

// CaptureStream is an opened platform capture stream.
type CaptureStream interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// MicrophoneEngine captures one input device. One engine belongs to one Pipeline.
type MicrophoneEngine interface {
	Start(ctx context.Context, device AudioDevice, route MicRoute, cfg StreamConfig, h SampleHandler) error
	Stop(ctx context.Context) error
}

// PipelineState is the capture session lifecycle.
type PipelineState int32

const (
	StateIdle PipelineState = iota
	StateStarting
	StateRunning
	StateStopping
)

func (s PipelineState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	}
	return fmt.Sprintf("pipeline_state(%d)", int(s))
}

// Action is a control request for a Pipeline or Session.
type Action int

const (
	ActionStart Action = iota
	ActionPause
	ActionResume
	ActionStop
	ActionRestart
	ActionDelete
)

func (a Action) String() string {
	switch a {
	case ActionStart:
		return "start"
	case ActionPause:
		return "pause"
	case ActionResume:
		return "resume"
	case ActionStop:
		return "stop"
	case ActionRestart:
		return "restart"
	case ActionDelete:
		return "delete"
	}
	return fmt.Sprintf("action(%d)", int(a))
}

// ParseAction maps an action name to an Action.
func ParseAction(s string) (Action, error) {
	for _, a := range []Action{ActionStart, ActionPause, ActionResume, ActionStop, ActionRestart, ActionDelete} {
		if a.String() == s {
			return a, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownAction, s)
}

const flowLogInterval = 60

// PipelineDeps are the platform collaborators a Pipeline drives.
type PipelineDeps struct {
	Resolver   SurfaceResolver
	Streams    StreamFactory
	Microphone MicrophoneEngine
	Log        *slog.Logger
	Metrics    *metrics.Metrics
}

// Pipeline owns the capture sources of one recording and merges their
// samples into a single buffer channel.
//
// Control actions run one at a time on a control goroutine, so a restart sent
// during a start runs after it. Failures are reported on Errors, never
// returned from Send or Do. Pausing does not stop capture; buffers keep
// flowing and dropping them is left to the consumer.
type Pipeline struct {
	cfg     Configuration
	deps    PipelineDeps
	log     *slog.Logger
	metrics *metrics.Metrics

	requests chan pipelineRequest
	buffers  chan media.TimedBuffer
	errs     chan *Error
	done     chan struct{}
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	once     sync.Once

	sendMu sync.RWMutex // held for reading while sending on buffers and errs
	closed bool

	state      atomic.Int32
	paused     atomic.Bool
	generation atomic.Uint64
	flow       [3]atomic.Uint64

	// control goroutine only
	stream     CaptureStream
	micRunning bool
}

type pipelineRequest struct {
	action Action
	reply  chan struct{}
}

// NewPipeline returns an idle Pipeline for cfg.
func NewPipeline(cfg Configuration, deps PipelineDeps) *Pipeline {
	log := deps.Log
	if log == nil {
		log = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	p := &Pipeline{
		cfg:      cfg.withDefaults(),
		deps:     deps,
		log:      log.With("component", "pipeline"),
		metrics:  deps.Metrics,
		requests: make(chan pipelineRequest, 16),
		buffers:  make(chan media.TimedBuffer, 256),
		errs:     make(chan *Error, 16),
		done:     make(chan struct{}),
		ctx:      ctx,
		cancel:   cancel,
	}
	p.wg.Add(1)
	go p.controlLoop()
	return p
}

// Buffers delivers complete samples from all sources. Ordering holds within a
// kind only. The channel is closed by Close.
func (p *Pipeline) Buffers() <-chan media.TimedBuffer { return p.buffers }

// Errors delivers session-level failures. The channel is closed by Close.
func (p *Pipeline) Errors() <-chan *Error { return p.errs }

// State returns the current lifecycle state.
func (p *Pipeline) State() PipelineState { return PipelineState(p.state.Load()) }

// Paused reports whether the running session is paused.
func (p *Pipeline) Paused() bool { return p.paused.Load() }

// Send queues action without waiting for it to run.
func (p *Pipeline) Send(action Action) {
	select {
	case p.requests <- pipelineRequest{action: action}:
	case <-p.done:
	}
}

// Do queues action and waits until it has run. Failures of the action itself
// are reported on Errors; Do only fails if ctx ends or the Pipeline is closed.
func (p *Pipeline) Do(ctx context.Context, action Action) error {
	req := pipelineRequest{action: action, reply: make(chan struct{})}
	select {
	case p.requests <- req:
	case <-p.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-req.reply:
		return nil
	case <-p.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops capture and closes the Buffers and Errors channels.
func (p *Pipeline) Close(ctx context.Context) error {
	err := p.Do(ctx, ActionStop)
	if errors.Is(err, ErrClosed) {
		return nil
	}

	p.once.Do(func() {
		close(p.done)
		p.wg.Wait()
		p.cancel()

		p.sendMu.Lock()
		p.closed = true
		close(p.buffers)
		close(p.errs)
		p.sendMu.Unlock()
	})
	return err
}

func (p *Pipeline) controlLoop() {
	defer p.wg.Done()
	for {
		select {
		case req := <-p.requests:
			p.handle(req.action)
			if req.reply != nil {
				close(req.reply)
			}
		case <-p.done:
			return
		}
	}
}

func (p *Pipeline) handle(action Action) {
	p.log.Debug("pipeline action", "action", action.String(), "state", p.State().String())
	switch action {
	case ActionStart:
		p.start(p.ctx)
	case ActionPause:
		p.setPaused(true)
	case ActionResume:
		p.setPaused(false)
	case ActionStop, ActionDelete:
		p.stop(p.ctx)
	case ActionRestart:
		p.stop(p.ctx)
		p.start(p.ctx)
	default:
		p.log.Warn("ignoring unknown action", "action", int(action))
	}
}

func (p *Pipeline) setState(s PipelineState) {
	old := PipelineState(p.state.Swap(int32(s)))
	if old != s {
		p.log.Info("pipeline state", "from", old.String(), "to", s.String())
	}
}

func (p *Pipeline) setPaused(paused bool) {
	if p.State() != StateRunning {
		p.log.Debug("pause change ignored, not running", "paused", paused)
		return
	}
	p.paused.Store(paused)
}

func (p *Pipeline) start(ctx context.Context) {
	if s := p.State(); s != StateIdle {
		p.log.Debug("start ignored", "state", s.String())
		return
	}
	p.setState(StateStarting)

	surface, err := p.deps.Resolver.Resolve(ctx, p.cfg)
	if err != nil {
		p.failStart(resolveError(p.cfg.Target, err))
		return
	}
	sc := BuildStreamConfig(surface, p.cfg)

	gen := p.generation.Add(1)
	stream, err := p.deps.Streams.NewStream(surface, sc, &sink{p: p, gen: gen})
	if err != nil {
		p.failStart(StreamSetupFailed(err))
		return
	}
	if err := stream.Start(ctx); err != nil {
		p.failStart(CaptureStartFailed(err))
		return
	}
	p.stream = stream

	if p.cfg.MicEnabled && p.deps.Microphone != nil {
		device := p.cfg.Microphone
		h := &sink{p: p, gen: gen, microphone: true}
		if err := p.deps.Microphone.Start(ctx, device, device.Route(), sc, h); err != nil {
			if stopErr := stream.Stop(ctx); stopErr != nil {
				p.log.Warn("stream stop after microphone failure", "error", stopErr)
			}
			p.stream = nil
			p.failStart(CaptureStartFailed(fmt.Errorf("microphone %q: %w", device.ID, err)))
			return
		}
		p.micRunning = true
	}

	p.paused.Store(false)
	p.setState(StateRunning)
	p.metrics.IncSessionsStarted()
	p.log.Info("capture started",
		"target", p.cfg.Target.String(),
		"width", sc.Width, "height", sc.Height,
		"fps", sc.FrameRate,
		"mic", p.micRunning)
}

func (p *Pipeline) failStart(e *Error) {
	p.generation.Add(1)
	p.setState(StateIdle)
	p.emitError(e)
}

// resolveError maps a resolver failure onto the target's error code.
func resolveError(t Target, err error) *Error {
	var re *Error
	if errors.As(err, &re) && (re.Code == CodeDisplayNotFound || re.Code == CodeWindowUnavailable) {
		return re
	}
	if t.Kind == TargetWindow {
		return WindowUnavailable(t.WindowID, err)
	}
	return DisplayNotFound(t.DisplayID, err)
}

func (p *Pipeline) stop(ctx context.Context) {
	if s := p.State(); s != StateRunning {
		p.log.Debug("stop ignored", "state", s.String())
		return
	}
	p.setState(StateStopping)

	if p.micRunning {
		if err := p.deps.Microphone.Stop(ctx); err != nil {
			p.log.Error("microphone stop failed", "error", err)
			p.emitError(CaptureStopFailed(err.Error()))
		}
		p.micRunning = false
	}
	if p.stream != nil {
		if err := p.stream.Stop(ctx); err != nil {
			p.log.Error("stream stop failed", "error", err)
			p.emitError(CaptureStopFailed(err.Error()))
		}
		p.stream = nil
	}

	p.generation.Add(1)
	p.paused.Store(false)
	p.setState(StateIdle)
	p.log.Info("capture stopped")
}

func (p *Pipeline) emitError(e *Error) {
	p.metrics.IncSessionsFailed(e.Code.String())
	p.sendMu.RLock()
	defer p.sendMu.RUnlock()
	if p.closed {
		return
	}
	select {
	case p.errs <- e:
	case <-p.done:
	default:
		p.log.Error("error channel full, dropping error", "error", e)
	}
}

func (p *Pipeline) deliver(b media.TimedBuffer) bool {
	p.sendMu.RLock()
	defer p.sendMu.RUnlock()
	if p.closed {
		return false
	}
	select {
	case p.buffers <- b:
		return true
	case <-p.done:
		return false
	}
}

func (p *Pipeline) current(gen uint64) bool {
	return p.generation.Load() == gen
}

func (p *Pipeline) countFlow(kind media.Kind) {
	n := p.flow[kind].Add(1)
	if n%flowLogInterval == 0 {
		p.log.Debug("buffer flow", "kind", kind.String(), "count", n, "paused", p.paused.Load())
	}
}

// sink is the SampleHandler given to one generation of capture sources.
type sink struct {
	p          *Pipeline
	gen        uint64
	microphone bool
}

func (s *sink) kind(o Output) media.Kind {
	if s.microphone {
		return media.KindMicrophone
	}
	switch o {
	case OutputScreen:
		return media.KindVideo
	case OutputAudio:
		return media.KindApplicationAudio
	case OutputMicrophone:
		return media.KindMicrophone
	}
	return media.KindVideo
}

func (s *sink) HandleSample(ps PlatformSample) {
	defer s.recoverPanic("sample")

	kind := s.kind(ps.Output)
	if !s.p.current(s.gen) {
		s.p.metrics.IncBuffersDropped(kind.String(), dropStale)
		return
	}
	if ps.Status != StatusComplete {
		s.p.metrics.IncBuffersDropped(kind.String(), dropIncomplete)
		return
	}
	if !ps.PTS.IsValid() || ps.PTS.Sign() < 0 {
		s.p.metrics.IncBuffersDropped(kind.String(), dropIncomplete)
		s.p.log.Warn("sample without valid timestamp", "kind", kind.String(), "pts", ps.PTS.String())
		return
	}

	s.p.metrics.IncBuffersReceived(kind.String())
	s.p.countFlow(kind)
	s.p.deliver(media.NewTimedBuffer(kind, ps.PTS, ps.Payload))
}

func (s *sink) HandleStop(err error) {
	defer s.recoverPanic("stop")
	if !s.p.current(s.gen) {
		return
	}
	reason := "stream stopped"
	if err != nil {
		reason = err.Error()
	}
	s.p.log.Error("capture source stopped", "microphone", s.microphone, "reason", reason)
	s.p.emitError(CaptureStopFailed(reason))
}

func (s *sink) recoverPanic(where string) {
	if r := recover(); r != nil {
		s.p.log.Error("capture callback panicked", "callback", where, "panic", fmt.Sprint(r))
		s.p.emitError(Custom(fmt.Sprintf("capture %s callback panicked: %v", where, r)))
	}
}
