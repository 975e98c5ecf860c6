package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"screen-recorder/internal/recording"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

const (
	stopTimeout  = 15 * time.Second
	pollInterval = time.Second
)

type recordOptions struct {
	req      recording.StartRequest
	mic      bool
	separate bool
	duration time.Duration
}

func NewRecordCmd(deps *Dependencies) *cobra.Command {
	var opts recordOptions

	cmd := &cobra.Command{
		Use:   "record",
		Short: "Record in the foreground until interrupted",
		Long: "Record the configured display or window in the foreground.\n" +
			"Ctrl+C stops and finalizes the file; SIGUSR1 pauses and SIGUSR2 resumes.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("mic") {
				opts.req.Mic = &opts.mic
			}
			if cmd.Flags().Changed("separate-audio") {
				opts.req.SeparateAudio = &opts.separate
			}
			return runRecord(cmd.Context(), deps, opts, cmd.OutOrStdout())
		},
	}

	f := cmd.Flags()
	f.StringVarP(&opts.req.Display, "display", "d", "", "X display (\":0.0\"), monitor index or output name")
	f.StringVarP(&opts.req.Window, "window", "w", "", "X window id to record instead of a display")
	f.BoolVar(&opts.mic, "mic", true, "Record the microphone")
	f.StringVar(&opts.req.MicDevice, "mic-device", "", "PulseAudio source name of the microphone")
	f.StringVar(&opts.req.MicTransport, "mic-transport", "", "Microphone transport: builtin, usb, bluetooth or virtual")
	f.StringVarP(&opts.req.Format, "format", "f", "", "Container format: mp4 or mov")
	f.StringVar(&opts.req.Adjustment, "adjustment", "", "Pause adjustment: upstream or writer")
	f.BoolVar(&opts.separate, "separate-audio", false, "Write application audio to its own file")
	f.DurationVar(&opts.duration, "duration", 0, "Stop automatically after this long (0 records until interrupted)")

	return cmd
}

func runRecord(ctx context.Context, deps *Dependencies, opts recordOptions, out io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}
	svc, _, err := newService(deps, nil)
	if err != nil {
		return err
	}
	cfg, err := opts.req.Configuration(svc.Defaults())
	if err != nil {
		return err
	}

	rec, err := svc.Start(ctx, cfg)
	if err != nil {
		svc.Close(context.Background())
		return fmt.Errorf("start recording: %w", err)
	}
	fmt.Fprintf(out, "Recording %s to %s\n", rec.Target, rec.Location)
	fmt.Fprintf(out, "Ctrl+C to stop, kill -USR1 %d to pause, kill -USR2 %d to resume\n", os.Getpid(), os.Getpid())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM, syscall.SIGUSR1, syscall.SIGUSR2)
	defer signal.Stop(sigCh)

	var deadline <-chan time.Time
	if opts.duration > 0 {
		deadline = time.After(opts.duration)
	}
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

loop:
	for {
		select {
		case sig := <-sigCh:
			switch sig {
			case syscall.SIGUSR1:
				apply(ctx, svc, rec.ID, recording.ActionPause, out)
			case syscall.SIGUSR2:
				apply(ctx, svc, rec.ID, recording.ActionResume, out)
			default:
				break loop
			}
		case <-deadline:
			break loop
		case <-ctx.Done():
			break loop
		case <-ticker.C:
			if cur, ok := svc.Get(rec.ID); ok && !cur.Status.Live() {
				break loop
			}
		}
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), stopTimeout)
	defer cancel()
	if cur, ok := svc.Get(rec.ID); ok && cur.Status.Live() {
		if _, err := svc.Apply(stopCtx, rec.ID, recording.ActionStop); err != nil {
			deps.Log.Error("stop recording", "error", err)
		}
	}
	if err := svc.Close(stopCtx); err != nil {
		deps.Log.Error("close recording service", "error", err)
	}

	final, _ := svc.Get(rec.ID)
	if final.Status == recording.RecordingFailed {
		return fmt.Errorf("recording failed: %s", final.Error)
	}
	fmt.Fprintf(out, "Saved %s (%s)\n", final.Location, humanize.Bytes(uint64(max(final.Size, 0))))
	return nil
}

func apply(ctx context.Context, svc *recording.Service, id recording.RecordingID, action recording.Action, out io.Writer) {
	rec, err := svc.Apply(ctx, id, action)
	if err != nil {
		fmt.Fprintf(out, "%s failed: %v\n", action, err)
		return
	}
	fmt.Fprintf(out, "Recording %s\n", rec.Status)
}
