// Package fmp4 writes recordings as fragmented MP4 files.
//
// The init segment (ftyp+moov) is written once every track's decoder
// configuration is known; samples are then flushed as multi-track moof+mdat
// fragments, so an interrupted recording stays playable up to the last
// complete fragment.
package fmp4

import (
	"bufio"
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"screen-recorder/internal/media"

	"github.com/Eyevinn/mp4ff/aac"
	"github.com/Eyevinn/mp4ff/avc"
	"github.com/Eyevinn/mp4ff/mp4"
)

const (
	// VideoTimescale is the track timescale for video (90 kHz).
	VideoTimescale = 90000

	defaultFragmentDuration = 2 * time.Second
	defaultMaxPending       = 512
	defaultVideoSampleDur   = VideoTimescale / 30
	aacFrameSamples         = 1024
)

const (
	naluIDR = 5
	naluSPS = 7
	naluPPS = 8
	naluAUD = 9
)

var (
	// ErrNoParameterSets is returned when a video track never received SPS/PPS.
	ErrNoParameterSets = errors.New("fmp4: no H.264 parameter sets received")

	// ErrClosed is returned for writes after FinishWriting.
	ErrClosed = errors.New("fmp4: writer closed")
)

// Options configures a Writer.
type Options struct {
	Path  string
	Kinds []media.Kind

	// SampleRate and Channels describe every audio track.
	SampleRate       int
	Channels         int
	FragmentDuration time.Duration
	// MaxPending caps the samples buffered per track before readiness turns false.
	MaxPending int
	Log        *slog.Logger
}

// Writer is a recording.ContainerWriter producing one fragmented MP4 file.
// It is not safe for concurrent use.
type Writer struct {
	opts Options
	log  *slog.Logger

	f  *os.File
	bw *bufio.Writer

	tracks map[media.Kind]*track
	order  []*track

	started      bool
	sessionStart media.Time
	initWritten  bool
	seq          uint32
	closed       bool
	err          error
}

type track struct {
	kind      media.Kind
	id        uint32
	timescale uint32
	finished  bool

	held    *mp4.FullSample
	pending []mp4.FullSample
	ticks   uint64 // pending duration
	lastDur uint32

	// video only
	sps, pps [][]byte
	keyed    bool
}

// New creates the output file and returns an idle Writer.
func New(opts Options) (*Writer, error) {
	if len(opts.Kinds) == 0 {
		return nil, errors.New("fmp4: no tracks")
	}
	if opts.SampleRate <= 0 {
		opts.SampleRate = 48000
	}
	if opts.Channels <= 0 {
		opts.Channels = 2
	}
	if opts.FragmentDuration <= 0 {
		opts.FragmentDuration = defaultFragmentDuration
	}
	if opts.MaxPending <= 0 {
		opts.MaxPending = defaultMaxPending
	}
	log := opts.Log
	if log == nil {
		log = slog.Default()
	}

	f, err := os.Create(opts.Path)
	if err != nil {
		return nil, fmt.Errorf("fmp4: create %s: %w", opts.Path, err)
	}

	w := &Writer{
		opts:   opts,
		log:    log.With("component", "fmp4", "path", opts.Path),
		f:      f,
		bw:     bufio.NewWriterSize(f, 1<<20),
		tracks: make(map[media.Kind]*track),
		seq:    1,
	}
	for _, k := range media.Kinds {
		if !contains(opts.Kinds, k) {
			continue
		}
		t := &track{kind: k, timescale: uint32(opts.SampleRate), lastDur: aacFrameSamples}
		if k == media.KindVideo {
			t.timescale = VideoTimescale
			t.lastDur = defaultVideoSampleDur
		}
		w.tracks[k] = t
		w.order = append(w.order, t)
	}
	return w, nil
}

func (w *Writer) Path() string { return w.opts.Path }

func (w *Writer) Kinds() []media.Kind {
	kinds := make([]media.Kind, 0, len(w.order))
	for _, t := range w.order {
		kinds = append(kinds, t.kind)
	}
	return kinds
}

// StartSession anchors decode time zero at at. Audio-only files write their
// init segment immediately.
func (w *Writer) StartSession(at media.Time) error {
	if w.closed {
		return ErrClosed
	}
	if w.started {
		return nil
	}
	if !at.IsValid() {
		return media.ErrInvalidTime
	}
	w.started = true
	w.sessionStart = at
	if _, hasVideo := w.tracks[media.KindVideo]; !hasVideo {
		return w.writeInit()
	}
	return nil
}

// ReadyForMoreMediaData is false before the session starts, after the track is
// finished, after a write error, or while the track has too many unflushed samples.
func (w *Writer) ReadyForMoreMediaData(kind media.Kind) bool {
	t, ok := w.tracks[kind]
	if !ok || !w.started || w.closed || w.err != nil || t.finished {
		return false
	}
	return len(t.pending) < w.opts.MaxPending
}

// Append adds buf to its track. Video payloads are H.264 Annex-B access
// units; audio payloads are raw AAC frames.
func (w *Writer) Append(buf media.TimedBuffer) bool {
	t, ok := w.tracks[buf.Kind()]
	if !ok || !w.started || w.closed || w.err != nil || t.finished {
		return false
	}
	ticks := buf.PTS().Sub(w.sessionStart).Ticks(int32(t.timescale))
	if ticks < 0 {
		return false
	}

	payload := buf.Payload()
	data := payload.Data
	sync := true
	if t.kind == media.KindVideo {
		var keep bool
		data, sync, keep = w.videoSample(t, payload)
		if !keep {
			return data != nil
		}
		if !w.initWritten && w.paramsReady() {
			if err := w.writeInit(); err != nil {
				w.fail(err)
				return false
			}
		}
	}
	if len(data) == 0 {
		return false
	}

	fs := mp4.FullSample{
		Sample: mp4.Sample{
			Flags: mp4.NonSyncSampleFlags,
			Size:  uint32(len(data)),
		},
		DecodeTime: uint64(ticks),
		Data:       data,
	}
	if sync {
		fs.Sample.Flags = mp4.SyncSampleFlags
	}
	t.push(&fs)

	if w.initWritten && w.fragmentDue() {
		if err := w.flush(); err != nil {
			w.fail(err)
		}
	}
	return true
}

// videoSample converts an Annex-B access unit to AVCC, collecting parameter
// sets on the way. keep is false when there is nothing to store; data is then
// non-nil if the unit was still consumed.
func (w *Writer) videoSample(t *track, p media.Payload) (data []byte, sync, keep bool) {
	nalus := avc.ExtractNalusFromByteStream(p.Data)
	var frame [][]byte
	sync = p.Sync
	for _, nalu := range nalus {
		if len(nalu) == 0 {
			continue
		}
		switch nalu[0] & 0x1F {
		case naluSPS:
			if t.sps == nil {
				t.sps = [][]byte{append([]byte(nil), nalu...)}
			}
		case naluPPS:
			if t.pps == nil {
				t.pps = [][]byte{append([]byte(nil), nalu...)}
			}
		case naluAUD:
		case naluIDR:
			sync = true
			frame = append(frame, nalu)
		default:
			frame = append(frame, nalu)
		}
	}
	if len(frame) == 0 {
		return []byte{}, false, false
	}
	if !t.keyed {
		if !sync || t.sps == nil || t.pps == nil {
			// Undecodable until the first keyframe with parameter sets.
			return nil, false, false
		}
		t.keyed = true
	}
	return toAVCC(frame), sync, true
}

// toAVCC joins NAL units with 4-byte big-endian length prefixes.
func toAVCC(nalus [][]byte) []byte {
	size := 0
	for _, n := range nalus {
		size += 4 + len(n)
	}
	out := make([]byte, 0, size)
	for _, n := range nalus {
		out = binary.BigEndian.AppendUint32(out, uint32(len(n)))
		out = append(out, n...)
	}
	return out
}

// push stores fs as the held sample and moves the previous one to pending
// with its duration now known.
func (t *track) push(fs *mp4.FullSample) {
	if t.held != nil {
		t.release(int64(fs.DecodeTime) - int64(t.held.DecodeTime))
	}
	t.held = fs
}

// release moves the held sample to pending with duration dur, falling back to
// the previous duration when dur is not positive.
func (t *track) release(dur int64) {
	if t.held == nil {
		return
	}
	d := t.lastDur
	if dur > 0 && dur <= int64(^uint32(0)) {
		d = uint32(dur)
	}
	t.held.Dur = d
	t.lastDur = d
	t.pending = append(t.pending, *t.held)
	t.ticks += uint64(d)
	t.held = nil
}

func (w *Writer) fragmentDue() bool {
	for _, t := range w.order {
		limit := uint64(w.opts.FragmentDuration.Seconds() * float64(t.timescale))
		if t.ticks >= limit && limit > 0 {
			return true
		}
	}
	return false
}

func (w *Writer) paramsReady() bool {
	v, ok := w.tracks[media.KindVideo]
	return !ok || (v.sps != nil && v.pps != nil)
}

// MarkFinished stops accepting samples for kind.
func (w *Writer) MarkFinished(kind media.Kind) {
	if t, ok := w.tracks[kind]; ok {
		t.finished = true
	}
}

// EndSession gives every held sample a duration reaching at.
func (w *Writer) EndSession(at media.Time) {
	if !w.started {
		return
	}
	for _, t := range w.order {
		if t.held == nil {
			continue
		}
		end := at.Sub(w.sessionStart).Ticks(int32(t.timescale))
		t.release(end - int64(t.held.DecodeTime))
	}
}

// FinishWriting flushes remaining samples and closes the file. It returns the
// first write error seen during the session.
func (w *Writer) FinishWriting(ctx context.Context) error {
	if w.closed {
		return w.err
	}
	w.closed = true

	for _, t := range w.order {
		t.release(0)
	}
	if ctx.Err() != nil && w.err == nil {
		w.err = ctx.Err()
	}
	if w.err == nil && w.hasPending() {
		if !w.initWritten {
			if err := w.writeInit(); err != nil {
				w.err = err
			}
		}
		if w.err == nil {
			w.err = w.flush()
		}
	}

	if err := w.bw.Flush(); err != nil && w.err == nil {
		w.err = fmt.Errorf("fmp4: flush: %w", err)
	}
	if err := w.f.Close(); err != nil && w.err == nil {
		w.err = fmt.Errorf("fmp4: close: %w", err)
	}
	if w.err != nil {
		w.log.Error("fragmented mp4 finalize failed", "error", w.err)
	} else {
		w.log.Info("fragmented mp4 finalized", "fragments", w.seq-1)
	}
	return w.err
}

func (w *Writer) hasPending() bool {
	for _, t := range w.order {
		if len(t.pending) > 0 {
			return true
		}
	}
	return false
}

func (w *Writer) writeInit() error {
	if w.initWritten {
		return nil
	}
	init := mp4.CreateEmptyInit()
	for _, t := range w.order {
		if t.kind == media.KindVideo {
			init.AddEmptyTrack(VideoTimescale, "video", "und")
		} else {
			init.AddEmptyTrack(t.timescale, "audio", "und")
		}
		trak := init.Moov.Traks[len(init.Moov.Traks)-1]
		switch t.kind {
		case media.KindVideo:
			if t.sps == nil || t.pps == nil {
				return ErrNoParameterSets
			}
			if err := trak.SetAVCDescriptor("avc1", t.sps, t.pps, true); err != nil {
				return fmt.Errorf("fmp4: avc descriptor: %w", err)
			}
		case media.KindApplicationAudio, media.KindMicrophone:
			if err := w.setAACDescriptor(trak); err != nil {
				return fmt.Errorf("fmp4: aac descriptor: %w", err)
			}
		}
		t.id = trak.Tkhd.TrackID
	}
	if err := init.Encode(w.bw); err != nil {
		return fmt.Errorf("fmp4: encode init segment: %w", err)
	}
	w.initWritten = true
	w.log.Debug("init segment written", "tracks", len(w.order))
	return nil
}

// setAACDescriptor adds an AAC-LC sample entry with the configured channel
// count. mp4ff's TrakBox.SetAACDescriptor always declares stereo.
func (w *Writer) setAACDescriptor(trak *mp4.TrakBox) error {
	asc := &aac.AudioSpecificConfig{
		ObjectType:           aac.AAClc,
		ChannelConfiguration: byte(w.opts.Channels),
		SamplingFrequency:    w.opts.SampleRate,
	}
	var buf bytes.Buffer
	if err := asc.Encode(&buf); err != nil {
		return err
	}
	mp4a := mp4.CreateAudioSampleEntryBox("mp4a", uint16(w.opts.Channels), 16,
		uint16(w.opts.SampleRate), mp4.CreateEsdsBox(buf.Bytes()))
	trak.Mdia.Minf.Stbl.Stsd.AddChild(mp4a)
	return nil
}

// flush writes all pending samples as one multi-track fragment.
func (w *Writer) flush() error {
	var ids []uint32
	for _, t := range w.order {
		if len(t.pending) > 0 {
			ids = append(ids, t.id)
		}
	}
	if len(ids) == 0 {
		return nil
	}

	frag, err := mp4.CreateMultiTrackFragment(w.seq, ids)
	if err != nil {
		return fmt.Errorf("fmp4: create fragment: %w", err)
	}
	for _, t := range w.order {
		for _, fs := range t.pending {
			if err := frag.AddFullSampleToTrack(fs, t.id); err != nil {
				return fmt.Errorf("fmp4: add %s sample: %w", t.kind, err)
			}
		}
	}
	if err := frag.Encode(w.bw); err != nil {
		return fmt.Errorf("fmp4: encode fragment %d: %w", w.seq, err)
	}

	for _, t := range w.order {
		t.pending = t.pending[:0]
		t.ticks = 0
	}
	w.seq++
	return nil
}

// abort closes and removes the file without finalizing it.
func (w *Writer) abort() error {
	w.closed = true
	w.f.Close()
	return os.Remove(w.opts.Path)
}

func (w *Writer) fail(err error) {
	if w.err == nil {
		w.err = err
		w.log.Error("fragmented mp4 write failed", "error", err)
	}
}

func contains(kinds []media.Kind, k media.Kind) bool {
	for _, x := range kinds {
		if x == k {
			return true
		}
	}
	return false
}
