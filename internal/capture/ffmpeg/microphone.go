package ffmpeg

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"sync"

	"screen-recorder/internal/recording"
)

// defaultInput is PulseAudio's current default source.
const defaultInput = "default"

// CommandRunner runs a short-lived helper command and returns its combined output.
type CommandRunner func(ctx context.Context, name string, args ...string) ([]byte, error)

// ExecRunner runs commands with os/exec.
func ExecRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

// Microphone records one PulseAudio input with ffmpeg. It implements
// recording.MicrophoneEngine and serves a single pipeline.
type Microphone struct {
	// FFmpeg is the ffmpeg binary, "ffmpeg" when empty.
	FFmpeg string
	// Pactl is the pactl binary used for system default routing, "pactl" when empty.
	Pactl string
	// Run executes pactl; ExecRunner when nil.
	Run CommandRunner
	Log *slog.Logger

	mu  sync.Mutex
	src *source
}

// Start routes device according to route and starts capturing it.
func (m *Microphone) Start(ctx context.Context, device recording.AudioDevice, route recording.MicRoute, cfg recording.StreamConfig, h recording.SampleHandler) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.src != nil {
		return errors.New("microphone already running")
	}

	log := m.Log
	if log == nil {
		log = slog.Default()
	}
	log = log.With("component", "microphone", "device", device.ID, "route", route.String())

	input, err := m.route(ctx, device, route)
	if err != nil {
		return err
	}

	bin := m.FFmpeg
	if bin == "" {
		bin = defaultFFmpeg
	}
	src, err := startSource(sourceSpec{
		name:   "microphone",
		bin:    bin,
		args:   audioArgs(input, cfg),
		output: recording.OutputMicrophone,
		scale:  int32(cfg.SampleRate),
		split:  &adtsFrames{},
	}, h, log)
	if err != nil {
		return err
	}
	m.src = src
	log.Info("microphone capture running", "input", input)
	return nil
}

// route applies the routing strategy and returns the ffmpeg input to record.
func (m *Microphone) route(ctx context.Context, device recording.AudioDevice, route recording.MicRoute) (string, error) {
	switch route {
	case recording.RouteSystemDefault:
		run := m.Run
		if run == nil {
			run = ExecRunner
		}
		pactl := m.Pactl
		if pactl == "" {
			pactl = "pactl"
		}
		if out, err := run(ctx, pactl, "set-default-source", device.ID); err != nil {
			return "", fmt.Errorf("set default source %q: %w: %s", device.ID, err, strings.TrimSpace(string(out)))
		}
		return defaultInput, nil
	case recording.RouteExplicit:
		return device.ID, nil
	default:
		return defaultInput, nil
	}
}

// Stop ends the capture. Stopping an idle microphone is a no-op.
func (m *Microphone) Stop(ctx context.Context) error {
	m.mu.Lock()
	src := m.src
	m.src = nil
	m.mu.Unlock()
	if src == nil {
		return nil
	}
	return src.stop(ctx)
}
