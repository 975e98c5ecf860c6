package ffmpeg

import (
	"bytes"

	"github.com/Eyevinn/mp4ff/avc"
)

// unit is one demuxed media unit and its duration in stream ticks.
type unit struct {
	data []byte
	dur  int64
	sync bool
}

// splitter cuts an encoder's byte stream into units.
type splitter interface {
	// Feed appends p and returns every unit completed by it.
	Feed(p []byte) []unit
	// Tail returns the bytes of a trailing, unterminated unit.
	Tail() []byte
}

const (
	naluIDR = 5
	naluAUD = 9
)

var audPrefix = []byte{0, 0, 1, naluAUD}

// accessUnits splits an H.264 Annex-B stream on access unit delimiters.
// The encoder must emit an AUD at the start of every access unit.
type accessUnits struct {
	buf     []byte
	scanned int
	step    int64
}

func (a *accessUnits) Feed(p []byte) []unit {
	a.buf = append(a.buf, p...)
	var out []unit
	for {
		// The AUD opening buf starts the current unit; look for the next one.
		from := max(a.scanned, len(audPrefix))
		if from >= len(a.buf) {
			return out
		}
		i := bytes.Index(a.buf[from:], audPrefix)
		if i < 0 {
			a.scanned = max(len(a.buf)-len(audPrefix)+1, 0)
			return out
		}
		end := from + i
		if a.buf[end-1] == 0 {
			end-- // four-byte start code
		}
		au := make([]byte, end)
		copy(au, a.buf[:end])
		out = append(out, unit{data: au, dur: a.step, sync: isIDR(au)})
		a.buf = a.buf[end:]
		a.scanned = len(audPrefix)
	}
}

func (a *accessUnits) Tail() []byte {
	tail := a.buf
	a.buf, a.scanned = nil, 0
	return tail
}

func isIDR(au []byte) bool {
	for _, nalu := range avc.ExtractNalusFromByteStream(au) {
		if len(nalu) > 0 && nalu[0]&0x1F == naluIDR {
			return true
		}
	}
	return false
}
