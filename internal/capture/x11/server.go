package x11

import (
	"fmt"

	"github.com/jezek/xgb"
	"github.com/jezek/xgb/randr"
	"github.com/jezek/xgb/xproto"
)

type conn struct {
	c      *xgb.Conn
	screen *xproto.ScreenInfo
}

// Dial connects to display over the X protocol.
func Dial(display string) (Server, error) {
	c, err := xgb.NewConnDisplay(display)
	if err != nil {
		return nil, err
	}
	return &conn{c: c, screen: xproto.Setup(c).DefaultScreen(c)}, nil
}

func (x *conn) RootSize() (int, int, error) {
	return int(x.screen.WidthInPixels), int(x.screen.HeightInPixels), nil
}

func (x *conn) Monitors() ([]Monitor, error) {
	if err := randr.Init(x.c); err != nil {
		return nil, fmt.Errorf("randr: %w", err)
	}
	reply, err := randr.GetMonitors(x.c, x.screen.Root, true).Reply()
	if err != nil {
		return nil, fmt.Errorf("randr get monitors: %w", err)
	}
	monitors := make([]Monitor, 0, len(reply.Monitors))
	for i, m := range reply.Monitors {
		name, err := xproto.GetAtomName(x.c, m.Name).Reply()
		if err != nil {
			return nil, fmt.Errorf("monitor %d name: %w", i, err)
		}
		monitors = append(monitors, Monitor{
			Index:   i,
			Name:    name.Name,
			Primary: m.Primary,
			X:       int(m.X),
			Y:       int(m.Y),
			Width:   int(m.Width),
			Height:  int(m.Height),
		})
	}
	if len(monitors) == 0 {
		return nil, fmt.Errorf("no monitors reported")
	}
	return monitors, nil
}

func (x *conn) Window(id uint32) (WindowInfo, error) {
	w := xproto.Window(id)
	attrs, err := xproto.GetWindowAttributes(x.c, w).Reply()
	if err != nil {
		return WindowInfo{}, err
	}
	geom, err := xproto.GetGeometry(x.c, xproto.Drawable(w)).Reply()
	if err != nil {
		return WindowInfo{}, err
	}
	// Absolute position of the window's origin on the root window.
	pos, err := xproto.TranslateCoordinates(x.c, w, x.screen.Root, 0, 0).Reply()
	if err != nil {
		return WindowInfo{}, err
	}
	return WindowInfo{
		X:        int(pos.DstX),
		Y:        int(pos.DstY),
		Width:    int(geom.Width),
		Height:   int(geom.Height),
		MapState: mapStateName(attrs.MapState),
		Viewable: attrs.MapState == xproto.MapStateViewable,
	}, nil
}

func (x *conn) Close() { x.c.Close() }

func mapStateName(s byte) string {
	switch s {
	case xproto.MapStateUnmapped:
		return "IsUnMapped"
	case xproto.MapStateUnviewable:
		return "IsUnviewable"
	case xproto.MapStateViewable:
		return "IsViewable"
	}
	return fmt.Sprintf("MapState(%d)", s)
}
