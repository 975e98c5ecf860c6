package media

import "fmt"

// Kind identifies which capture source produced a buffer.
type Kind int

const (
	KindVideo Kind = iota
	KindApplicationAudio
	KindMicrophone
)

// Kinds lists every buffer kind in track order.
var Kinds = []Kind{KindVideo, KindApplicationAudio, KindMicrophone}

func (k Kind) String() string {
	switch k {
	case KindVideo:
		return "video"
	case KindApplicationAudio:
		return "app_audio"
	case KindMicrophone:
		return "microphone"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// IsAudio reports whether k carries audio samples.
func (k Kind) IsAudio() bool {
	switch k {
	case KindApplicationAudio, KindMicrophone:
		return true
	case KindVideo:
		return false
	}
	return false
}

// Payload is an opaque media sample. Sync marks samples that can start decoding.
type Payload struct {
	Data []byte
	Sync bool
}

// TimedBuffer is an immutable media sample tagged with its source kind and
// presentation timestamp.
type TimedBuffer struct {
	kind    Kind
	pts     Time
	payload Payload
}

// NewTimedBuffer returns a buffer of the given kind stamped at pts.
func NewTimedBuffer(kind Kind, pts Time, payload Payload) TimedBuffer {
	return TimedBuffer{kind: kind, pts: pts, payload: payload}
}

func (b TimedBuffer) Kind() Kind { return b.kind }

func (b TimedBuffer) PTS() Time { return b.pts }

func (b TimedBuffer) Payload() Payload { return b.payload }

// Retimed returns a copy of b stamped at pts. The payload is shared, not copied.
func (b TimedBuffer) Retimed(pts Time) (TimedBuffer, error) {
	if !pts.IsValid() || pts.Sign() < 0 {
		return TimedBuffer{}, fmt.Errorf("retime %s buffer to %s: %w", b.kind, pts, ErrInvalidTime)
	}
	return TimedBuffer{kind: b.kind, pts: pts, payload: b.payload}, nil
}

func (b TimedBuffer) String() string {
	return fmt.Sprintf("%s@%s", b.kind, b.pts)
}
