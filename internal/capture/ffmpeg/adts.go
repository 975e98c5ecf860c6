package ffmpeg

import (
	"bytes"
	"errors"
	"io"

	"github.com/Eyevinn/mp4ff/aac"
)

const (
	aacFrameSamples = 1024
	adtsMaxFrameLen = 1<<13 - 1
)

// adtsFrames splits an ADTS AAC stream into raw AAC frames, dropping the
// headers. Bytes before a sync word are skipped. Frames carrying more than
// one raw data block are not supported; ffmpeg's ADTS muxer writes one.
type adtsFrames struct {
	buf     []byte
	skipped int
}

func (a *adtsFrames) Feed(p []byte) []unit {
	a.buf = append(a.buf, p...)
	var out []unit
	for {
		n := a.resync()
		h, frameLen, err := decodeADTSHeader(a.buf)
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			a.skipped += n
			return out
		}
		if err != nil {
			a.buf = a.buf[1:]
			a.skipped += n + 1
			continue
		}
		a.skipped += n
		if len(a.buf) < frameLen {
			return out
		}
		frame := make([]byte, h.PayloadLength)
		copy(frame, a.buf[h.HeaderLength:frameLen])
		out = append(out, unit{data: frame, dur: aacFrameSamples, sync: true})
		a.buf = a.buf[frameLen:]
	}
}

func (a *adtsFrames) Tail() []byte {
	tail := a.buf
	a.buf = nil
	return tail
}

// resync drops bytes up to the next candidate sync word and returns how many.
func (a *adtsFrames) resync() int {
	for i := 0; i+1 < len(a.buf); i++ {
		if a.buf[i] == 0xFF && a.buf[i+1]&0xF6 == 0xF0 {
			a.buf = a.buf[i:]
			return i
		}
	}
	if len(a.buf) == 0 {
		return 0
	}
	// Keep a trailing 0xFF; it may begin the next sync word.
	n := len(a.buf) - 1
	if a.buf[n] != 0xFF {
		n++
	}
	a.buf = a.buf[n:]
	return n
}

var errADTSFrameLength = errors.New("adts: bad frame length")

// decodeADTSHeader decodes the header at the start of b and returns the
// total frame length. A truncated header yields an io.EOF error.
func decodeADTSHeader(b []byte) (*aac.ADTSHeader, int, error) {
	h, offset, err := aac.DecodeADTSHeader(bytes.NewReader(b))
	if err != nil {
		return nil, 0, err
	}
	if offset != 0 {
		return nil, 0, errors.New("adts: no sync word at frame start")
	}
	frameLen := int(h.HeaderLength) + int(h.PayloadLength)
	if h.PayloadLength == 0 || frameLen > adtsMaxFrameLen {
		return nil, 0, errADTSFrameLength
	}
	return h, frameLen, nil
}
