package recording

import (
	"fmt"
	"strings"
	"time"
)

// TargetKind selects whether a whole display or a single window is captured.
type TargetKind int

const (
	TargetDisplay TargetKind = iota
	TargetWindow
)

// Target identifies the capture surface by platform identity.
type Target struct {
	Kind      TargetKind
	DisplayID string
	WindowID  string
}

func (t Target) String() string {
	if t.Kind == TargetWindow {
		return "window " + t.WindowID
	}
	return "display " + t.DisplayID
}

// Transport is how an audio input device is attached.
type Transport string

const (
	TransportUnknown   Transport = ""
	TransportBuiltIn   Transport = "builtin"
	TransportUSB       Transport = "usb"
	TransportBluetooth Transport = "bluetooth"
	TransportVirtual   Transport = "virtual"
)

// MicRoute is the low-level routing strategy a microphone engine applies.
type MicRoute int

const (
	// RouteDefault captures from whatever input is current; no routing.
	RouteDefault MicRoute = iota
	// RouteSystemDefault makes the device the system default input first.
	RouteSystemDefault
	// RouteExplicit binds the capture unit to the device directly.
	RouteExplicit
)

func (r MicRoute) String() string {
	switch r {
	case RouteDefault:
		return "default"
	case RouteSystemDefault:
		return "system-default"
	case RouteExplicit:
		return "explicit"
	}
	return fmt.Sprintf("route(%d)", int(r))
}

// AudioDevice identifies a microphone.
type AudioDevice struct {
	ID        string
	Transport Transport
}

// Route picks the routing strategy for d. Bluetooth inputs only switch
// reliably through the system default; other devices are bound explicitly.
func (d AudioDevice) Route() MicRoute {
	switch {
	case d.ID == "":
		return RouteDefault
	case d.Transport == TransportBluetooth:
		return RouteSystemDefault
	default:
		return RouteExplicit
	}
}

type Codec string

const (
	CodecH264 Codec = "h264"
	CodecHEVC Codec = "hevc"
)

type ColorSpace string

const (
	ColorSpaceSRGB      ColorSpace = "srgb"
	ColorSpaceDisplayP3 ColorSpace = "display-p3"
)

// VideoProfile selects the video encoding family.
type VideoProfile struct {
	Codec      Codec
	ColorSpace ColorSpace
	Bitrate    int // bits per second, 0 lets the encoder choose
}

// ContainerFormat is the output file format.
type ContainerFormat string

const (
	FormatMP4 ContainerFormat = "mp4"
	FormatMOV ContainerFormat = "mov"
)

// Ext returns the file extension without the dot.
func (f ContainerFormat) Ext() string {
	if f == "" {
		return string(FormatMP4)
	}
	return string(f)
}

// AdjustmentMode selects which component removes paused intervals from the
// output timeline. Exactly one of them does it in a session.
type AdjustmentMode int

const (
	// AdjustUpstream runs buffers through an Adjuster before the Writer.
	AdjustUpstream AdjustmentMode = iota
	// AdjustInWriter hands raw buffers to the Writer, which drops and retimes itself.
	AdjustInWriter
)

func (m AdjustmentMode) String() string {
	if m == AdjustInWriter {
		return "writer"
	}
	return "upstream"
}

// ParseAdjustmentMode accepts "upstream" or "writer".
func ParseAdjustmentMode(s string) (AdjustmentMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "upstream", "adjuster":
		return AdjustUpstream, nil
	case "writer":
		return AdjustInWriter, nil
	}
	return AdjustUpstream, fmt.Errorf("unknown adjustment mode %q", s)
}

// Configuration is the immutable description of one recording.
type Configuration struct {
	Target          Target
	IncludedWindows []string
	ExcludedWindows []string

	MicEnabled bool
	Microphone AudioDevice

	Video     VideoProfile
	Format    ContainerFormat
	FrameRate int

	AudioSampleRate int
	AudioChannels   int
	QueueDepth      int

	Adjustment AdjustmentMode

	// SeparateAppAudio writes application audio to its own file next to the
	// main recording instead of as a track inside it.
	SeparateAppAudio bool
	FragmentDuration time.Duration
}

// DefaultConfiguration returns a display-0 recording with microphone.
func DefaultConfiguration() Configuration {
	return Configuration{
		Target:           Target{Kind: TargetDisplay, DisplayID: ":0.0"},
		MicEnabled:       true,
		Video:            VideoProfile{Codec: CodecH264, ColorSpace: ColorSpaceSRGB},
		Format:           FormatMP4,
		FrameRate:        30,
		AudioSampleRate:  48000,
		AudioChannels:    2,
		QueueDepth:       6,
		FragmentDuration: 2 * time.Second,
	}
}

// withDefaults fills zero fields from DefaultConfiguration.
func (c Configuration) withDefaults() Configuration {
	d := DefaultConfiguration()
	if c.Video.Codec == "" {
		c.Video.Codec = d.Video.Codec
	}
	if c.Video.ColorSpace == "" {
		c.Video.ColorSpace = d.Video.ColorSpace
	}
	if c.Format == "" {
		c.Format = d.Format
	}
	if c.FrameRate <= 0 {
		c.FrameRate = d.FrameRate
	}
	if c.AudioSampleRate <= 0 {
		c.AudioSampleRate = d.AudioSampleRate
	}
	if c.AudioChannels <= 0 {
		c.AudioChannels = d.AudioChannels
	}
	if c.QueueDepth <= 0 {
		c.QueueDepth = d.QueueDepth
	}
	if c.FragmentDuration <= 0 {
		c.FragmentDuration = d.FragmentDuration
	}
	return c
}

// Validate reports configuration errors that would make a session unstartable.
func (c Configuration) Validate() error {
	switch c.Target.Kind {
	case TargetDisplay:
		if c.Target.DisplayID == "" {
			return fmt.Errorf("display target without display id")
		}
	case TargetWindow:
		if c.Target.WindowID == "" {
			return fmt.Errorf("window target without window id")
		}
	default:
		return fmt.Errorf("unknown target kind %d", c.Target.Kind)
	}
	switch c.Format {
	case "", FormatMP4, FormatMOV:
	default:
		return fmt.Errorf("unsupported container format %q", c.Format)
	}
	switch c.Video.Codec {
	case "", CodecH264, CodecHEVC:
	default:
		return fmt.Errorf("unsupported codec %q", c.Video.Codec)
	}
	// AAC tracks are recorded mono or stereo; zero selects the default.
	if c.AudioChannels < 0 || c.AudioChannels > 2 {
		return fmt.Errorf("unsupported audio channel count %d", c.AudioChannels)
	}
	return nil
}

// Surface is a resolved capture surface in logical points.
type Surface struct {
	DisplayID   string
	WindowID    string
	X, Y        int
	Width       int
	Height      int
	ScaleFactor float64

	Included []string
	Excluded []string
}

// StreamConfig is what a capture stream is opened with. Sizes are physical pixels.
type StreamConfig struct {
	X, Y        int
	Width       int
	Height      int
	PixelFormat string
	ColorSpace  ColorSpace
	Codec       Codec
	Bitrate     int
	FrameRate   int

	CaptureAudio bool
	SampleRate   int
	Channels     int
	QueueDepth   int
}

// PixelFormatBGRA is the raw frame layout requested from capture streams.
const PixelFormatBGRA = "bgra"

// BuildStreamConfig scales the surface from logical points to pixels and
// copies the media settings from cfg.
func BuildStreamConfig(s Surface, cfg Configuration) StreamConfig {
	scale := s.ScaleFactor
	if scale <= 0 {
		scale = 1
	}
	px := func(v int) int { return int(float64(v)*scale + 0.5) }
	return StreamConfig{
		X:            px(s.X),
		Y:            px(s.Y),
		Width:        even(px(s.Width)),
		Height:       even(px(s.Height)),
		PixelFormat:  PixelFormatBGRA,
		ColorSpace:   cfg.Video.ColorSpace,
		Codec:        cfg.Video.Codec,
		Bitrate:      cfg.Video.Bitrate,
		FrameRate:    cfg.FrameRate,
		CaptureAudio: true,
		SampleRate:   cfg.AudioSampleRate,
		Channels:     cfg.AudioChannels,
		QueueDepth:   cfg.QueueDepth,
	}
}

// even rounds down to an even pixel count; 4:2:0 encoders reject odd sizes.
func even(v int) int {
	return v &^ 1
}
