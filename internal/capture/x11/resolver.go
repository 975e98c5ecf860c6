// Package x11 resolves recording targets to capture surfaces on an X server.
package x11

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"screen-recorder/internal/recording"
)

// Monitor is one RandR monitor.
type Monitor struct {
	Index   int
	Name    string
	Primary bool
	X, Y    int
	Width   int
	Height  int
}

// WindowInfo is a window's position on the root window and its map state.
type WindowInfo struct {
	X, Y     int
	Width    int
	Height   int
	MapState string
	Viewable bool
}

// Server is an open connection to an X display.
type Server interface {
	// RootSize is the size of the default screen's root window.
	RootSize() (width, height int, err error)
	Monitors() ([]Monitor, error)
	Window(id uint32) (WindowInfo, error)
	Close()
}

// Dialer opens a connection to the named X display.
type Dialer func(display string) (Server, error)

// Resolver implements recording.SurfaceResolver.
//
// A display target is either an X display name (":0", ":0.0"), which selects
// the whole root window, or a RandR monitor index or name ("0", "HDMI-1") on
// the resolver's display. A window target is an X window id.
type Resolver struct {
	// Display is the X display used for monitor and window lookups; $DISPLAY
	// or ":0" when empty.
	Display string
	Dial    Dialer
	Log     *slog.Logger
}

// Resolve looks up the surface for cfg.Target. X11 sizes are physical pixels,
// so the scale factor is always 1.
func (r *Resolver) Resolve(ctx context.Context, cfg recording.Configuration) (recording.Surface, error) {
	var (
		s   recording.Surface
		err error
	)
	switch cfg.Target.Kind {
	case recording.TargetWindow:
		s, err = r.window(ctx, cfg.Target.WindowID)
		if err != nil {
			return recording.Surface{}, recording.WindowUnavailable(cfg.Target.WindowID, err)
		}
	default:
		s, err = r.display(ctx, cfg.Target.DisplayID)
		if err != nil {
			return recording.Surface{}, recording.DisplayNotFound(cfg.Target.DisplayID, err)
		}
	}
	s.ScaleFactor = 1
	s.Included = cfg.IncludedWindows
	s.Excluded = cfg.ExcludedWindows
	r.logger().Debug("surface resolved",
		"target", cfg.Target.String(),
		"x", s.X, "y", s.Y, "width", s.Width, "height", s.Height)
	return s, nil
}

func (r *Resolver) display(ctx context.Context, id string) (recording.Surface, error) {
	if id == "" || strings.HasPrefix(id, ":") {
		disp := id
		if disp == "" {
			disp = r.xDisplay()
		}
		srv, err := r.dial(ctx, disp)
		if err != nil {
			return recording.Surface{}, err
		}
		defer srv.Close()
		w, h, err := srv.RootSize()
		if err != nil {
			return recording.Surface{}, err
		}
		return recording.Surface{DisplayID: disp, Width: w, Height: h}, nil
	}

	disp := r.xDisplay()
	srv, err := r.dial(ctx, disp)
	if err != nil {
		return recording.Surface{}, err
	}
	defer srv.Close()
	monitors, err := srv.Monitors()
	if err != nil {
		return recording.Surface{}, err
	}
	for _, m := range monitors {
		if m.Name == id || strconv.Itoa(m.Index) == id {
			return recording.Surface{DisplayID: disp, X: m.X, Y: m.Y, Width: m.Width, Height: m.Height}, nil
		}
	}
	return recording.Surface{}, fmt.Errorf("no monitor %q among %d", id, len(monitors))
}

func (r *Resolver) window(ctx context.Context, id string) (recording.Surface, error) {
	if id == "" {
		return recording.Surface{}, fmt.Errorf("empty window id")
	}
	wid, err := strconv.ParseUint(id, 0, 32)
	if err != nil {
		return recording.Surface{}, fmt.Errorf("window id %q: %w", id, err)
	}
	disp := r.xDisplay()
	srv, err := r.dial(ctx, disp)
	if err != nil {
		return recording.Surface{}, err
	}
	defer srv.Close()
	g, err := srv.Window(uint32(wid))
	if err != nil {
		return recording.Surface{}, err
	}
	if !g.Viewable {
		return recording.Surface{}, fmt.Errorf("window %s is not viewable (%s)", id, g.MapState)
	}
	return recording.Surface{
		DisplayID: disp,
		WindowID:  id,
		X:         g.X,
		Y:         g.Y,
		Width:     g.Width,
		Height:    g.Height,
	}, nil
}

func (r *Resolver) dial(ctx context.Context, display string) (Server, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	dial := r.Dial
	if dial == nil {
		dial = Dial
	}
	srv, err := dial(display)
	if err != nil {
		return nil, fmt.Errorf("open display %s: %w", display, err)
	}
	return srv, nil
}

func (r *Resolver) xDisplay() string {
	if r.Display != "" {
		return r.Display
	}
	if d := os.Getenv("DISPLAY"); d != "" {
		return d
	}
	return ":0"
}

func (r *Resolver) logger() *slog.Logger {
	if r.Log == nil {
		return slog.Default()
	}
	return r.Log
}
