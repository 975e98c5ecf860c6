// Package ffmpeg captures the screen, application audio and microphone with
// ffmpeg subprocesses and feeds the encoded units to a recording pipeline.
package ffmpeg

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"screen-recorder/internal/media"
	"screen-recorder/internal/recording"
)

const (
	readSize      = 64 << 10
	stderrTail    = 4 << 10
	stopTimeout   = 5 * time.Second
	defaultFFmpeg = "ffmpeg"
)

// epoch anchors every source's timestamps to one host clock.
var epoch = time.Now()

// hostTicks is the time since epoch at t, in ticks of scale.
func hostTicks(t time.Time, scale int32) int64 {
	return media.TimeFromDuration(t.Sub(epoch)).Ticks(scale)
}

// source is one running ffmpeg process whose stdout is split into units and
// delivered to a SampleHandler as timestamped samples.
type source struct {
	name   string
	output recording.Output
	scale  int32
	split  splitter
	h      recording.SampleHandler
	log    *slog.Logger

	cmd    *exec.Cmd
	stderr *tailBuffer
	base   int64
	pos    int64

	stopping atomic.Bool
	killed   atomic.Bool
	done     chan struct{}
	stopOnce sync.Once
}

type sourceSpec struct {
	name   string
	bin    string
	args   []string
	output recording.Output
	scale  int32
	split  splitter
}

func startSource(opts sourceSpec, h recording.SampleHandler, log *slog.Logger) (*source, error) {
	s := &source{
		name:   opts.name,
		output: opts.output,
		scale:  opts.scale,
		split:  opts.split,
		h:      h,
		log:    log.With("source", opts.name),
		stderr: &tailBuffer{max: stderrTail},
		done:   make(chan struct{}),
	}

	s.cmd = exec.Command(opts.bin, opts.args...)
	s.cmd.Stderr = s.stderr
	stdout, err := s.cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("%s: stdout pipe: %w", opts.name, err)
	}
	if err := s.cmd.Start(); err != nil {
		return nil, fmt.Errorf("%s: start %s: %w", opts.name, opts.bin, err)
	}
	s.base = hostTicks(time.Now(), s.scale)
	s.log.Debug("ffmpeg started", "pid", s.cmd.Process.Pid, "args", strings.Join(opts.args, " "))

	go s.run(stdout)
	return s, nil
}

func (s *source) run(stdout io.Reader) {
	defer close(s.done)

	buf := make([]byte, readSize)
	for {
		n, err := stdout.Read(buf)
		if n > 0 {
			for _, u := range s.split.Feed(buf[:n]) {
				s.emit(u, recording.StatusComplete)
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, os.ErrClosed) {
				s.log.Warn("ffmpeg read failed", "error", err)
			}
			break
		}
	}
	waitErr := s.cmd.Wait()

	// A unit cut off by the end of the stream is only trusted when ffmpeg
	// was asked to stop and flushed on its own.
	if tail := s.split.Tail(); len(tail) > 0 {
		status := recording.StatusIncomplete
		if s.stopping.Load() && !s.killed.Load() {
			status = recording.StatusComplete
		}
		s.emit(unit{data: tail, sync: false}, status)
	}

	if s.stopping.Load() {
		s.log.Debug("ffmpeg exited", "error", waitErr)
		return
	}
	err := fmt.Errorf("%s: ffmpeg exited unexpectedly", s.name)
	if waitErr != nil {
		err = fmt.Errorf("%s: ffmpeg exited: %w", s.name, waitErr)
	}
	if msg := s.stderr.String(); msg != "" {
		err = fmt.Errorf("%w: %s", err, lastLine(msg))
	}
	s.log.Error("ffmpeg stopped on its own", "error", err)
	s.h.HandleStop(err)
}

func (s *source) emit(u unit, status recording.SampleStatus) {
	pts := media.NewTime(s.base+s.pos, s.scale)
	s.pos += u.dur
	s.h.HandleSample(recording.PlatformSample{
		Output:  s.output,
		Status:  status,
		PTS:     pts,
		Payload: media.Payload{Data: u.data, Sync: u.sync},
	})
}

// stop interrupts ffmpeg so it flushes its output, and kills it if it has
// not exited when ctx or the stop timeout expires.
func (s *source) stop(ctx context.Context) error {
	var err error
	s.stopOnce.Do(func() {
		s.stopping.Store(true)
		if sigErr := s.cmd.Process.Signal(os.Interrupt); sigErr != nil && !errors.Is(sigErr, os.ErrProcessDone) {
			s.log.Warn("interrupt ffmpeg", "error", sigErr)
		}

		timer := time.NewTimer(stopTimeout)
		defer timer.Stop()
		select {
		case <-s.done:
			return
		case <-ctx.Done():
			err = ctx.Err()
		case <-timer.C:
			err = errors.New("timed out waiting for ffmpeg to exit")
		}
		s.killed.Store(true)
		s.cmd.Process.Kill()
		<-s.done
		err = fmt.Errorf("%s: %w", s.name, err)
	})
	return err
}

// tailBuffer keeps the last max bytes written to it.
type tailBuffer struct {
	mu  sync.Mutex
	max int
	b   []byte
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.b = append(t.b, p...)
	if over := len(t.b) - t.max; over > 0 {
		t.b = t.b[over:]
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return string(t.b)
}

func lastLine(s string) string {
	s = strings.TrimRight(s, "\r\n")
	if i := strings.LastIndexAny(s, "\r\n"); i >= 0 {
		return s[i+1:]
	}
	return s
}
