package recording

import (
	"context"
	"errors"
	"testing"
	"time"

	"screen-recorder/internal/media"
)

func newTestPipeline(t *testing.T, cfg Configuration, deps PipelineDeps) *Pipeline {
	t.Helper()
	if deps.Log == nil {
		deps.Log = quietLogger()
	}
	p := NewPipeline(cfg, deps)
	t.Cleanup(func() { p.Close(context.Background()) })
	return p
}

func displayConfig(id string) Configuration {
	cfg := DefaultConfiguration()
	cfg.Target = Target{Kind: TargetDisplay, DisplayID: id}
	cfg.MicEnabled = false
	return cfg
}

func waitError(t *testing.T, p *Pipeline) *Error {
	t.Helper()
	select {
	case e := <-p.Errors():
		return e
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for pipeline error")
		return nil
	}
}

func waitBuffer(t *testing.T, p *Pipeline) media.TimedBuffer {
	t.Helper()
	select {
	case b := <-p.Buffers():
		return b
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for buffer")
		return media.TimedBuffer{}
	}
}

func TestPipeline_displayNotFound(t *testing.T) {
	p := newTestPipeline(t, displayConfig(":9.0"), PipelineDeps{
		Resolver: newFakeResolver(),
		Streams:  &fakeStreams{},
	})

	if err := p.Do(context.Background(), ActionStart); err != nil {
		t.Fatalf("Do: %v", err)
	}

	e := waitError(t, p)
	if !errors.Is(e, ErrDisplayNotFound) {
		t.Errorf("error = %v, want DisplayNotFound", e)
	}
	if p.State() != StateIdle {
		t.Errorf("state = %s, want idle", p.State())
	}
}

func TestPipeline_startBuildsScaledConfig(t *testing.T) {
	streams := &fakeStreams{}
	p := newTestPipeline(t, displayConfig(":0.0"), PipelineDeps{Resolver: newFakeResolver(), Streams: streams})

	p.Do(context.Background(), ActionStart)

	if p.State() != StateRunning {
		t.Fatalf("state = %s, want running", p.State())
	}
	cfg := streams.latest().cfg
	if cfg.Width != 2560 || cfg.Height != 1440 {
		t.Errorf("stream size = %dx%d, want 2560x1440", cfg.Width, cfg.Height)
	}
	if cfg.PixelFormat != PixelFormatBGRA || cfg.SampleRate != 48000 || cfg.Channels != 2 || cfg.QueueDepth != 6 {
		t.Errorf("unexpected stream config %+v", cfg)
	}
}

func TestPipeline_invalidFramesFiltered(t *testing.T) {
	streams := &fakeStreams{}
	p := newTestPipeline(t, displayConfig(":0.0"), PipelineDeps{Resolver: newFakeResolver(), Streams: streams})
	p.Do(context.Background(), ActionStart)

	s := streams.latest()
	s.emit(OutputScreen, StatusIncomplete, media.NewTime(1, 30))
	s.emit(OutputScreen, StatusBlank, media.NewTime(2, 30))
	s.emit(OutputScreen, StatusComplete, media.NewTime(3, 30))

	b := waitBuffer(t, p)
	if b.PTS() != media.NewTime(3, 30) {
		t.Errorf("first delivered buffer at %s, want 3/30", b.PTS())
	}
	if n := len(p.buffers); n != 0 {
		t.Errorf("%d more buffers queued, want 0", n)
	}
}

func TestPipeline_kindTagging(t *testing.T) {
	streams := &fakeStreams{}
	mic := &fakeMic{}
	cfg := displayConfig(":0.0")
	cfg.MicEnabled = true
	p := newTestPipeline(t, cfg, PipelineDeps{Resolver: newFakeResolver(), Streams: streams, Microphone: mic})
	p.Do(context.Background(), ActionStart)

	streams.latest().emit(OutputScreen, StatusComplete, media.NewTime(0, 30))
	if k := waitBuffer(t, p).Kind(); k != media.KindVideo {
		t.Errorf("screen output tagged %s", k)
	}
	streams.latest().emit(OutputAudio, StatusComplete, media.NewTime(0, 48000))
	if k := waitBuffer(t, p).Kind(); k != media.KindApplicationAudio {
		t.Errorf("audio output tagged %s", k)
	}
	mic.emit(media.NewTime(0, 48000))
	if k := waitBuffer(t, p).Kind(); k != media.KindMicrophone {
		t.Errorf("microphone engine output tagged %s", k)
	}
}

func TestPipeline_pauseKeepsProducing(t *testing.T) {
	streams := &fakeStreams{}
	p := newTestPipeline(t, displayConfig(":0.0"), PipelineDeps{Resolver: newFakeResolver(), Streams: streams})
	p.Do(context.Background(), ActionStart)
	p.Do(context.Background(), ActionPause)

	if !p.Paused() || p.State() != StateRunning {
		t.Fatalf("paused=%v state=%s", p.Paused(), p.State())
	}
	streams.latest().emit(OutputScreen, StatusComplete, media.NewTime(5, 1))
	if b := waitBuffer(t, p); b.PTS() != media.NewTime(5, 1) {
		t.Errorf("buffer while paused = %s", b.PTS())
	}

	p.Do(context.Background(), ActionResume)
	if p.Paused() {
		t.Error("still paused after resume")
	}
}

func TestPipeline_stopOrderMicrophoneFirst(t *testing.T) {
	var order []string
	streams := &orderedStreams{order: &order}
	mic := &fakeMic{order: &order}
	cfg := displayConfig(":0.0")
	cfg.MicEnabled = true
	p := newTestPipeline(t, cfg, PipelineDeps{Resolver: newFakeResolver(), Streams: streams, Microphone: mic})

	p.Do(context.Background(), ActionStart)
	p.Do(context.Background(), ActionStop)

	if len(order) != 2 || order[0] != "mic" || order[1] != "stream" {
		t.Errorf("stop order = %v, want [mic stream]", order)
	}
	if p.State() != StateIdle {
		t.Errorf("state = %s", p.State())
	}
}

func TestPipeline_stopFailureStillTearsDown(t *testing.T) {
	streams := &fakeStreams{stopErr: errors.New("stream refused to stop")}
	p := newTestPipeline(t, displayConfig(":0.0"), PipelineDeps{Resolver: newFakeResolver(), Streams: streams})
	p.Do(context.Background(), ActionStart)
	p.Do(context.Background(), ActionStop)

	e := waitError(t, p)
	if !errors.Is(e, ErrCaptureStopFailed) || e.Reason != "stream refused to stop" {
		t.Errorf("error = %v", e)
	}
	if p.State() != StateIdle {
		t.Errorf("state = %s, want idle", p.State())
	}
}

func TestPipeline_startFailures(t *testing.T) {
	tests := []struct {
		name    string
		streams *fakeStreams
		mic     *fakeMic
		want    error
	}{
		{"stream setup", &fakeStreams{newErr: errors.New("no encoder")}, nil, ErrStreamSetupFailed},
		{"stream start", &fakeStreams{startErr: errors.New("denied")}, nil, ErrCaptureStartFailed},
		{"microphone start", &fakeStreams{}, &fakeMic{startErr: errors.New("busy")}, ErrCaptureStartFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := displayConfig(":0.0")
			deps := PipelineDeps{Resolver: newFakeResolver(), Streams: tt.streams}
			if tt.mic != nil {
				cfg.MicEnabled = true
				deps.Microphone = tt.mic
			}
			p := newTestPipeline(t, cfg, deps)
			p.Do(context.Background(), ActionStart)

			if e := waitError(t, p); !errors.Is(e, tt.want) {
				t.Errorf("error = %v, want %v", e, tt.want)
			}
			if p.State() != StateIdle {
				t.Errorf("state = %s, want idle", p.State())
			}
			if tt.mic != nil && !tt.streams.latest().isStopped() {
				t.Error("stream should be stopped when the microphone fails to start")
			}
		})
	}
}

func TestPipeline_restartReresolvesTarget(t *testing.T) {
	resolver := newFakeResolver()
	resolver.windows["0x3a00007"] = Surface{WindowID: "0x3a00007", Width: 800, Height: 600, ScaleFactor: 1}
	streams := &fakeStreams{}
	cfg := DefaultConfiguration()
	cfg.MicEnabled = false
	cfg.Target = Target{Kind: TargetWindow, WindowID: "0x3a00007"}
	p := newTestPipeline(t, cfg, PipelineDeps{Resolver: resolver, Streams: streams})

	p.Do(context.Background(), ActionStart)
	if p.State() != StateRunning {
		t.Fatalf("state = %s", p.State())
	}

	resolver.removeWindow("0x3a00007")
	p.Do(context.Background(), ActionRestart)

	e := waitError(t, p)
	if !errors.Is(e, ErrWindowUnavailable) {
		t.Errorf("error = %v, want WindowUnavailable", e)
	}
	if p.State() != StateIdle {
		t.Errorf("state = %s, want idle", p.State())
	}
	if resolver.calls != 2 {
		t.Errorf("resolver called %d times, want 2", resolver.calls)
	}
	if streams.count() != 1 || !streams.latest().isStopped() {
		t.Error("restart should stop the old stream and open no new one")
	}
}

func TestPipeline_staleCallbacksIgnored(t *testing.T) {
	streams := &fakeStreams{}
	p := newTestPipeline(t, displayConfig(":0.0"), PipelineDeps{Resolver: newFakeResolver(), Streams: streams})
	p.Do(context.Background(), ActionStart)
	old := streams.latest()
	p.Do(context.Background(), ActionStop)

	old.emit(OutputScreen, StatusComplete, media.NewTime(1, 1))
	old.handler.HandleStop(errors.New("late"))

	if len(p.buffers) != 0 || len(p.errs) != 0 {
		t.Errorf("stale callbacks delivered %d buffers and %d errors", len(p.buffers), len(p.errs))
	}
}

func TestPipeline_platformStopSurfacesError(t *testing.T) {
	streams := &fakeStreams{}
	p := newTestPipeline(t, displayConfig(":0.0"), PipelineDeps{Resolver: newFakeResolver(), Streams: streams})
	p.Do(context.Background(), ActionStart)

	streams.latest().handler.HandleStop(errors.New("display disconnected"))

	e := waitError(t, p)
	if !errors.Is(e, ErrCaptureStopFailed) || e.Reason != "display disconnected" {
		t.Errorf("error = %v", e)
	}
}

func TestPipeline_closeClosesChannels(t *testing.T) {
	p := NewPipeline(displayConfig(":0.0"), PipelineDeps{Resolver: newFakeResolver(), Streams: &fakeStreams{}, Log: quietLogger()})
	p.Do(context.Background(), ActionStart)

	if err := p.Close(context.Background()); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, ok := <-p.Buffers(); ok {
		t.Error("buffers channel still open")
	}
	if err := p.Do(context.Background(), ActionStart); !errors.Is(err, ErrClosed) {
		t.Errorf("Do after Close = %v, want ErrClosed", err)
	}
}

func TestParseAction(t *testing.T) {
	if a, err := ParseAction("restart"); err != nil || a != ActionRestart {
		t.Errorf("ParseAction(restart) = %v, %v", a, err)
	}
	if _, err := ParseAction("rewind"); !errors.Is(err, ErrUnknownAction) {
		t.Errorf("err = %v", err)
	}
}
