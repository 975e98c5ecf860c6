package ffmpeg

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"

	"screen-recorder/internal/recording"
)

// DefaultMonitorSource is the PulseAudio monitor of the default output.
const DefaultMonitorSource = "@DEFAULT_MONITOR@"

// videoTicksPerFrame sets the video timescale to frame rate times this value.
const videoTicksPerFrame = 1000

// StreamFactory opens x11grab screen streams with application audio from a
// PulseAudio monitor source.
type StreamFactory struct {
	// FFmpeg is the ffmpeg binary, "ffmpeg" when empty.
	FFmpeg string
	// MonitorSource is the PulseAudio source recorded as application audio.
	MonitorSource string
	// Preset is the libx264 preset, "veryfast" when empty.
	Preset string
	Log    *slog.Logger
}

// NewStream prepares a stream for surface; nothing runs until Start.
func (f StreamFactory) NewStream(surface recording.Surface, cfg recording.StreamConfig, h recording.SampleHandler) (recording.CaptureStream, error) {
	if cfg.Codec != "" && cfg.Codec != recording.CodecH264 {
		return nil, fmt.Errorf("codec %s not supported by x11grab capture", cfg.Codec)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, fmt.Errorf("invalid capture size %dx%d", cfg.Width, cfg.Height)
	}
	if cfg.FrameRate <= 0 {
		return nil, errors.New("frame rate must be positive")
	}
	log := f.Log
	if log == nil {
		log = slog.Default()
	}
	if len(surface.Included) > 0 || len(surface.Excluded) > 0 {
		log.Warn("window filters are not supported by x11grab; capturing the whole surface",
			"included", len(surface.Included), "excluded", len(surface.Excluded))
	}
	return &ScreenStream{
		factory: f,
		surface: surface,
		cfg:     cfg,
		h:       h,
		log:     log.With("component", "screen-stream", "display", surface.DisplayID),
	}, nil
}

func (f StreamFactory) bin() string {
	if f.FFmpeg == "" {
		return defaultFFmpeg
	}
	return f.FFmpeg
}

// ScreenStream is a running screen capture with optional application audio.
type ScreenStream struct {
	factory StreamFactory
	surface recording.Surface
	cfg     recording.StreamConfig
	h       recording.SampleHandler
	log     *slog.Logger

	mu      sync.Mutex
	sources []*source
}

// Start launches the video and, when configured, the application audio process.
func (s *ScreenStream) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.sources) > 0 {
		return errors.New("stream already started")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	video, err := startSource(sourceSpec{
		name:   "screen",
		bin:    s.factory.bin(),
		args:   screenArgs(s.surface, s.cfg, s.factory.Preset),
		output: recording.OutputScreen,
		scale:  int32(s.cfg.FrameRate * videoTicksPerFrame),
		split:  &accessUnits{step: videoTicksPerFrame},
	}, s.h, s.log)
	if err != nil {
		return err
	}
	s.sources = append(s.sources, video)

	if s.cfg.CaptureAudio {
		monitor := s.factory.MonitorSource
		if monitor == "" {
			monitor = DefaultMonitorSource
		}
		audio, err := startSource(sourceSpec{
			name:   "app-audio",
			bin:    s.factory.bin(),
			args:   audioArgs(monitor, s.cfg),
			output: recording.OutputAudio,
			scale:  int32(s.cfg.SampleRate),
			split:  &adtsFrames{},
		}, s.h, s.log)
		if err != nil {
			video.stop(ctx)
			s.sources = nil
			return err
		}
		s.sources = append(s.sources, audio)
	}
	s.log.Info("screen capture running", "width", s.cfg.Width, "height", s.cfg.Height, "audio", s.cfg.CaptureAudio)
	return nil
}

// Stop interrupts every process and waits for them to exit.
func (s *ScreenStream) Stop(ctx context.Context) error {
	s.mu.Lock()
	sources := s.sources
	s.sources = nil
	s.mu.Unlock()

	var errs []error
	for _, src := range sources {
		if err := src.stop(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// screenArgs grabs the surface and encodes it to an H.264 Annex-B stream on
// stdout with an access unit delimiter before every frame.
func screenArgs(surface recording.Surface, cfg recording.StreamConfig, preset string) []string {
	if preset == "" {
		preset = "veryfast"
	}
	fps := strconv.Itoa(cfg.FrameRate)
	args := []string{
		"-hide_banner", "-loglevel", "error", "-nostdin",
		"-f", "x11grab",
		"-framerate", fps,
		"-video_size", fmt.Sprintf("%dx%d", cfg.Width, cfg.Height),
		"-draw_mouse", "1",
	}
	input := surface.DisplayID
	if surface.WindowID != "" {
		args = append(args, "-window_id", surface.WindowID)
	} else {
		input = fmt.Sprintf("%s+%d,%d", surface.DisplayID, cfg.X, cfg.Y)
	}
	args = append(args,
		"-thread_queue_size", strconv.Itoa(max(cfg.QueueDepth, 1)*8),
		"-i", input,
		"-fps_mode", "cfr", "-r", fps,
		"-c:v", "libx264",
		"-preset", preset,
		"-tune", "zerolatency",
		"-pix_fmt", "yuv420p",
		"-g", strconv.Itoa(cfg.FrameRate*2),
		"-x264-params", "aud=1",
	)
	if cfg.ColorSpace == recording.ColorSpaceSRGB {
		args = append(args, "-colorspace", "bt709", "-color_primaries", "bt709", "-color_trc", "iec61966-2-1")
	}
	if cfg.Bitrate > 0 {
		args = append(args, "-b:v", strconv.Itoa(cfg.Bitrate))
	}
	return append(args, "-f", "h264", "pipe:1")
}

// audioArgs records a PulseAudio source as ADTS AAC on stdout.
func audioArgs(input string, cfg recording.StreamConfig) []string {
	channels := cfg.Channels
	if channels <= 0 {
		channels = 2
	}
	return []string{
		"-hide_banner", "-loglevel", "error", "-nostdin",
		"-f", "pulse",
		"-i", input,
		"-ar", strconv.Itoa(cfg.SampleRate),
		"-ac", strconv.Itoa(channels),
		"-c:a", "aac",
		"-f", "adts", "pipe:1",
	}
}
