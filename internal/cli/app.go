package cli

import (
	"fmt"
	"log/slog"
	"strings"

	"screen-recorder/internal/capture/ffmpeg"
	"screen-recorder/internal/capture/x11"
	"screen-recorder/internal/container/fmp4"
	"screen-recorder/internal/platform/config"
	"screen-recorder/internal/platform/metrics"
	"screen-recorder/internal/platform/storage"
	"screen-recorder/internal/recording"
)

// Dependencies are shared by every command.
type Dependencies struct {
	Settings config.Settings
	Log      *slog.Logger
}

// baseConfiguration turns settings into the default recording configuration.
func baseConfiguration(s config.Settings) (recording.Configuration, error) {
	cfg := recording.DefaultConfiguration()
	req := recording.StartRequest{
		Display:      s.Display,
		Window:       s.Window,
		Mic:          &s.MicEnabled,
		MicDevice:    s.MicDevice,
		MicTransport: s.MicTransport,
		Format:       s.Format,
		Adjustment:   s.Adjustment,
	}
	cfg, err := req.Configuration(cfg)
	if err != nil {
		return cfg, err
	}

	if s.Codec != "" {
		cfg.Video.Codec = recording.Codec(strings.ToLower(s.Codec))
	}
	if s.ColorSpace != "" {
		cfg.Video.ColorSpace = recording.ColorSpace(strings.ToLower(s.ColorSpace))
	}
	if s.FrameRate > 0 {
		cfg.FrameRate = s.FrameRate
	}
	if s.SampleRate > 0 {
		cfg.AudioSampleRate = s.SampleRate
	}
	if s.Channels > 0 {
		cfg.AudioChannels = s.Channels
	}
	if s.FragmentDuration > 0 {
		cfg.FragmentDuration = s.FragmentDuration
	}
	cfg.SeparateAppAudio = s.SeparateAppAudio
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("settings: %w", err)
	}
	return cfg, nil
}

// sessionDeps wires the X11 resolver, ffmpeg capture and fragmented MP4
// containers into recording.SessionDeps.
func sessionDeps(deps *Dependencies, dir *storage.Dir, met *metrics.Metrics) recording.SessionDeps {
	log := deps.Log
	bin := deps.Settings.FFmpegPath
	return recording.SessionDeps{
		Resolver: &x11.Resolver{Log: log.With("component", "x11")},
		Streams:  ffmpeg.StreamFactory{FFmpeg: bin, Log: log},
		NewMicrophone: func() recording.MicrophoneEngine {
			return &ffmpeg.Microphone{FFmpeg: bin, Log: log}
		},
		Containers: fmp4.Factory{Log: log},
		Files:      dir,
		Log:        log,
		Metrics:    met,
	}
}

// newService opens the recordings directory and builds a Service on it.
func newService(deps *Dependencies, met *metrics.Metrics) (*recording.Service, *storage.Dir, error) {
	base, err := baseConfiguration(deps.Settings)
	if err != nil {
		return nil, nil, err
	}
	dir, err := storage.New(deps.Settings.RecordingsDir)
	if err != nil {
		return nil, nil, fmt.Errorf("recordings dir: %w", err)
	}
	repo := recording.NewInMemoryRepository()
	svc := recording.NewService(repo, sessionDeps(deps, dir, met), dir, base)
	return svc, dir, nil
}
