package recording

import (
	"fmt"
	"strings"
	"time"
)

// RecordingID uniquely identifies a recording in the catalog.
type RecordingID string

// RecordingStatus is the catalog view of a recording's lifecycle.
type RecordingStatus string

const (
	RecordingStarting RecordingStatus = "starting"
	RecordingActive   RecordingStatus = "recording"
	RecordingPaused   RecordingStatus = "paused"
	RecordingStopped  RecordingStatus = "stopped"
	RecordingFailed   RecordingStatus = "failed"
	RecordingDeleted  RecordingStatus = "deleted"
)

// Live reports whether capture is running for the status.
func (s RecordingStatus) Live() bool {
	return s == RecordingStarting || s == RecordingActive || s == RecordingPaused
}

// Recording is one entry of the recordings catalog.
// This is also the JSON body returned by the control API.
type Recording struct {
	ID       RecordingID     `json:"id"`
	Status   RecordingStatus `json:"status"`
	Target   string          `json:"target"`
	Location string          `json:"location,omitempty"`
	Size     int64           `json:"size"`
	Error    string          `json:"error,omitempty"`
	Restarts int             `json:"restarts"`

	StartedAt time.Time  `json:"started_at"`
	StoppedAt *time.Time `json:"stopped_at,omitempty"`
}

// StartRequest is the optional JSON body of POST /recordings. Empty fields
// keep the server's configured defaults.
type StartRequest struct {
	Display       string `json:"display"`
	Window        string `json:"window"`
	Mic           *bool  `json:"mic"`
	MicDevice     string `json:"mic_device"`
	MicTransport  string `json:"mic_transport"`
	Format        string `json:"format"`
	Adjustment    string `json:"adjustment"`
	SeparateAudio *bool  `json:"separate_app_audio"`
}

// Configuration applies the request on top of base.
func (r StartRequest) Configuration(base Configuration) (Configuration, error) {
	cfg := base
	switch {
	case r.Window != "":
		cfg.Target = Target{Kind: TargetWindow, WindowID: r.Window}
	case r.Display != "":
		cfg.Target = Target{Kind: TargetDisplay, DisplayID: r.Display}
	}
	if r.Mic != nil {
		cfg.MicEnabled = *r.Mic
	}
	if r.MicDevice != "" {
		cfg.Microphone = AudioDevice{ID: r.MicDevice, Transport: Transport(strings.ToLower(r.MicTransport))}
	}
	if r.Format != "" {
		cfg.Format = ContainerFormat(strings.ToLower(r.Format))
	}
	if r.Adjustment != "" {
		mode, err := ParseAdjustmentMode(r.Adjustment)
		if err != nil {
			return cfg, err
		}
		cfg.Adjustment = mode
	}
	if r.SeparateAudio != nil {
		cfg.SeparateAppAudio = *r.SeparateAudio
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid recording request: %w", err)
	}
	return cfg, nil
}
