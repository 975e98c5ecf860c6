package recording

import (
	"context"
	"errors"
	"sync"
	"testing"

	"screen-recorder/internal/media"
)

// fakeContainer records every call made by the Writer.
type fakeContainer struct {
	path  string
	kinds []media.Kind

	mu          sync.Mutex
	ready       map[media.Kind]bool
	starts      []media.Time
	appended    []media.TimedBuffer
	finished    []media.Kind
	ends        []media.Time
	finalizes   int
	finalizeErr error
	startErr    error
}

func newFakeContainer(path string, kinds ...media.Kind) *fakeContainer {
	ready := make(map[media.Kind]bool)
	for _, k := range kinds {
		ready[k] = true
	}
	return &fakeContainer{path: path, kinds: kinds, ready: ready}
}

func (c *fakeContainer) Path() string        { return c.path }
func (c *fakeContainer) Kinds() []media.Kind { return c.kinds }

func (c *fakeContainer) StartSession(at media.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.starts = append(c.starts, at)
	return c.startErr
}

func (c *fakeContainer) ReadyForMoreMediaData(kind media.Kind) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ready[kind]
}

func (c *fakeContainer) setReady(kind media.Kind, ready bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ready[kind] = ready
}

func (c *fakeContainer) Append(buf media.TimedBuffer) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.appended = append(c.appended, buf)
	return true
}

func (c *fakeContainer) MarkFinished(kind media.Kind) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.finished = append(c.finished, kind)
}

func (c *fakeContainer) EndSession(at media.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ends = append(c.ends, at)
}

func (c *fakeContainer) FinishWriting(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.finalizes++
	return c.finalizeErr
}

func (c *fakeContainer) appendedPTS() []media.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]media.Time, 0, len(c.appended))
	for _, b := range c.appended {
		out = append(out, b.PTS())
	}
	return out
}

func newTestWriter(t *testing.T, mode AdjustmentMode, containers ...*fakeContainer) *Writer {
	t.Helper()
	cws := make([]ContainerWriter, 0, len(containers))
	for _, c := range containers {
		cws = append(cws, c)
	}
	w, err := NewWriter(cws, mode, quietLogger(), nil)
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	t.Cleanup(w.Close)
	return w
}

func bufAt(kind media.Kind, ms int64) media.TimedBuffer {
	return media.NewTimedBuffer(kind, media.NewTime(ms, 1000), media.Payload{Data: []byte{1}})
}

func TestWriter_sessionAnchor(t *testing.T) {
	c := newFakeContainer("/rec/a.mp4", media.KindVideo, media.KindMicrophone)
	w := newTestWriter(t, AdjustUpstream, c)

	if w.State() != WriterIdle {
		t.Fatalf("initial state = %s", w.State())
	}

	w.Write(bufAt(media.KindVideo, 1000))
	w.Write(bufAt(media.KindMicrophone, 1001))

	at, started := w.SessionStart()
	if !started || at.Compare(media.NewTime(1000, 1000)) != 0 {
		t.Fatalf("session start = %s started=%v, want 1000ms", at, started)
	}
	if w.State() != WriterWriting {
		t.Errorf("state = %s, want writing", w.State())
	}
	if len(c.starts) != 1 {
		t.Errorf("StartSession called %d times, want 1", len(c.starts))
	}
	if got := c.appendedPTS(); len(got) != 2 {
		t.Errorf("appended %d buffers, want 2 (anchor buffer included)", len(got))
	}
}

func TestWriter_readinessDrop(t *testing.T) {
	c := newFakeContainer("/rec/a.mp4", media.KindVideo)
	w := newTestWriter(t, AdjustUpstream, c)

	w.Write(bufAt(media.KindVideo, 0))
	w.Readiness() // barrier
	c.setReady(media.KindVideo, false)
	w.Write(bufAt(media.KindVideo, 33))
	if ready := w.Readiness(); ready[media.KindVideo] {
		t.Error("readiness should report video not ready")
	}
	c.setReady(media.KindVideo, true)
	w.Write(bufAt(media.KindVideo, 66))
	w.Readiness() // barrier

	got := c.appendedPTS()
	if len(got) != 2 || got[1].Compare(media.NewTime(66, 1000)) != 0 {
		t.Errorf("appended %v, want [0 66]ms", got)
	}
}

func TestWriter_dropsOutOfOrderAndPreSession(t *testing.T) {
	c := newFakeContainer("/rec/a.mp4", media.KindVideo, media.KindApplicationAudio)
	w := newTestWriter(t, AdjustUpstream, c)

	w.Write(bufAt(media.KindVideo, 500))
	w.Write(bufAt(media.KindApplicationAudio, 400)) // before session start
	w.Write(bufAt(media.KindVideo, 533))
	w.Write(bufAt(media.KindVideo, 520)) // older than last video
	w.Write(bufAt(media.KindApplicationAudio, 510))
	w.Readiness()

	got := c.appendedPTS()
	if len(got) != 3 {
		t.Fatalf("appended %d buffers (%v), want 3", len(got), got)
	}
}

func TestWriter_finishIdempotent(t *testing.T) {
	c := newFakeContainer("/rec/a.mp4", media.KindVideo, media.KindMicrophone)
	w := newTestWriter(t, AdjustUpstream, c)

	w.Write(bufAt(media.KindVideo, 0))
	w.Write(bufAt(media.KindMicrophone, 10))
	w.Write(bufAt(media.KindVideo, 33))

	ctx := context.Background()
	p1, err1 := w.Finish(ctx)
	p2, err2 := w.Finish(ctx)

	if err1 != nil || err2 != nil {
		t.Fatalf("Finish errors: %v, %v", err1, err2)
	}
	if p1 != "/rec/a.mp4" || p2 != p1 {
		t.Errorf("paths %q, %q", p1, p2)
	}
	if c.finalizes != 1 {
		t.Errorf("FinishWriting called %d times, want 1", c.finalizes)
	}
	if len(c.ends) != 1 || c.ends[0].Compare(media.NewTime(33, 1000)) != 0 {
		t.Errorf("EndSession at %v, want [33ms]", c.ends)
	}
	if len(c.finished) != 2 {
		t.Errorf("MarkFinished on %v, want video and microphone", c.finished)
	}
	if w.State() != WriterFinished {
		t.Errorf("state = %s", w.State())
	}

	w.Close()
	p3, err3 := w.Finish(ctx)
	if p3 != p1 || err3 != nil {
		t.Errorf("Finish after Close = %q, %v", p3, err3)
	}
}

func TestWriter_finishWithoutBuffers(t *testing.T) {
	c := newFakeContainer("/rec/empty.mp4", media.KindVideo)
	w := newTestWriter(t, AdjustUpstream, c)

	path, err := w.Finish(context.Background())
	if err != nil || path != "/rec/empty.mp4" {
		t.Fatalf("Finish = %q, %v", path, err)
	}
	if len(c.ends) != 0 {
		t.Error("EndSession should not be called for a session that never started")
	}
	if c.finalizes != 1 {
		t.Errorf("finalizes = %d", c.finalizes)
	}
}

func TestWriter_finalizeFailure(t *testing.T) {
	main := newFakeContainer("/rec/a.mp4", media.KindVideo)
	audio := newFakeContainer("/rec/a-audio.m4a", media.KindApplicationAudio)
	audio.finalizeErr = errors.New("disk full")
	w := newTestWriter(t, AdjustUpstream, main, audio)

	w.Write(bufAt(media.KindVideo, 0))
	w.Write(bufAt(media.KindApplicationAudio, 5))

	path, err := w.Finish(context.Background())
	if err == nil {
		t.Fatal("expected finalize error")
	}
	if path != "/rec/a.mp4" {
		t.Errorf("path = %q", path)
	}
	if w.State() != WriterFailed {
		t.Errorf("state = %s, want failed", w.State())
	}
	if main.finalizes != 1 || audio.finalizes != 1 {
		t.Errorf("finalizes main=%d audio=%d", main.finalizes, audio.finalizes)
	}
	if len(main.ends) != 1 || len(audio.ends) != 1 {
		t.Error("every container session should be ended")
	}
}

func TestWriter_writesAfterFinishDropped(t *testing.T) {
	c := newFakeContainer("/rec/a.mp4", media.KindVideo)
	w := newTestWriter(t, AdjustUpstream, c)

	w.Write(bufAt(media.KindVideo, 0))
	w.Finish(context.Background())
	w.Write(bufAt(media.KindVideo, 33))
	w.Readiness()

	if n := len(c.appendedPTS()); n != 1 {
		t.Errorf("appended %d buffers, want 1", n)
	}
}

func TestWriter_adjustInWriter(t *testing.T) {
	c := newFakeContainer("/rec/a.mp4", media.KindVideo)
	w := newTestWriter(t, AdjustInWriter, c)

	for _, s := range []int64{0, 1, 2} {
		w.Write(videoAt(s))
	}
	w.Pause()
	w.Write(videoAt(5))
	w.Write(videoAt(6))
	w.Resume()
	w.Write(videoAt(7))
	w.Write(videoAt(8))

	path, err := w.Finish(context.Background())
	if err != nil || path == "" {
		t.Fatalf("Finish: %q %v", path, err)
	}

	want := []int64{0, 1, 2, 5, 6}
	got := c.appendedPTS()
	if len(got) != len(want) {
		t.Fatalf("appended %v, want %v", got, want)
	}
	for i, s := range want {
		if got[i].Compare(media.NewTime(s, 1)) != 0 {
			t.Errorf("buffer %d at %s, want %d", i, got[i], s)
		}
	}
	if c.ends[0].Compare(media.NewTime(6, 1)) != 0 {
		t.Errorf("session ended at %s, want 6", c.ends[0])
	}
}

func TestWriter_upstreamModeDoesNotAdjust(t *testing.T) {
	c := newFakeContainer("/rec/a.mp4", media.KindVideo)
	w := newTestWriter(t, AdjustUpstream, c)

	w.Write(videoAt(0))
	w.Pause()
	w.Write(videoAt(5))
	w.Resume()
	w.Write(videoAt(7))
	w.Readiness()

	if n := len(c.appendedPTS()); n != 3 {
		t.Errorf("appended %d buffers, want 3 (no second pause authority)", n)
	}
}

func TestNewWriter_duplicateTrack(t *testing.T) {
	a := newFakeContainer("/rec/a.mp4", media.KindVideo, media.KindApplicationAudio)
	b := newFakeContainer("/rec/b.m4a", media.KindApplicationAudio)
	if _, err := NewWriter([]ContainerWriter{a, b}, AdjustUpstream, quietLogger(), nil); err == nil {
		t.Error("expected error when two containers own one track")
	}
}
