package recording

import (
	"io"
	"log/slog"
	"testing"

	"screen-recorder/internal/media"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func videoAt(sec int64) media.TimedBuffer {
	return media.NewTimedBuffer(media.KindVideo, media.NewTime(sec, 1), media.Payload{Data: []byte{byte(sec)}})
}

// sameBuffer reports whether a and b are the same sample: equal kind and
// timestamp, sharing one payload.
func sameBuffer(a, b media.TimedBuffer) bool {
	pa, pb := a.Payload().Data, b.Payload().Data
	if len(pa) != len(pb) || a.Kind() != b.Kind() || a.PTS() != b.PTS() {
		return false
	}
	return len(pa) == 0 || &pa[0] == &pb[0]
}

func TestAdjuster_pauseResumeTimeline(t *testing.T) {
	a := NewAdjuster(quietLogger())

	for _, ts := range []int64{0, 1, 2} {
		out, ok := a.Adjust(videoAt(ts))
		if !ok || out.PTS() != media.NewTime(ts, 1) {
			t.Fatalf("buffer %d: got %v ok=%v, want unchanged", ts, out.PTS(), ok)
		}
	}

	a.Pause()
	for _, ts := range []int64{5, 6} {
		if _, ok := a.Adjust(videoAt(ts)); ok {
			t.Errorf("buffer %d emitted while paused", ts)
		}
	}

	a.Resume()
	want := map[int64]int64{7: 5, 8: 6}
	for _, ts := range []int64{7, 8} {
		out, ok := a.Adjust(videoAt(ts))
		if !ok {
			t.Fatalf("buffer %d dropped after resume", ts)
		}
		if out.PTS().Compare(media.NewTime(want[ts], 1)) != 0 {
			t.Errorf("buffer %d emitted at %s, want %d", ts, out.PTS(), want[ts])
		}
	}

	if a.Accumulated().Compare(media.NewTime(2, 1)) != 0 {
		t.Errorf("accumulated = %s, want 2", a.Accumulated())
	}
}

func TestAdjuster_neverPausedIsIdentity(t *testing.T) {
	a := NewAdjuster(quietLogger())
	for i := int64(0); i < 50; i++ {
		kind := media.Kinds[i%3]
		in := media.NewTimedBuffer(kind, media.NewTime(i*1001, 30000), media.Payload{Data: []byte{1}})
		out, ok := a.Adjust(in)
		if !ok {
			t.Fatalf("buffer %d dropped", i)
		}
		if !sameBuffer(out, in) {
			t.Fatalf("buffer %d changed: %v -> %v", i, in, out)
		}
	}
}

func TestAdjuster_accumulatesAcrossPauses(t *testing.T) {
	a := NewAdjuster(quietLogger())
	a.Adjust(videoAt(0))

	a.Pause()
	a.Adjust(videoAt(1))
	a.Resume()
	a.Adjust(videoAt(3)) // +2

	a.Pause()
	a.Adjust(videoAt(10))
	a.Adjust(videoAt(11))
	a.Resume()
	out, ok := a.Adjust(videoAt(14)) // +4

	if !ok || out.PTS().Compare(media.NewTime(8, 1)) != 0 {
		t.Errorf("got %s ok=%v, want 8", out.PTS(), ok)
	}
	if a.Accumulated().Compare(media.NewTime(6, 1)) != 0 {
		t.Errorf("accumulated = %s, want 6", a.Accumulated())
	}
}

func TestAdjuster_nonPositivePauseIgnored(t *testing.T) {
	a := NewAdjuster(quietLogger())
	a.Pause()
	a.Adjust(media.NewTimedBuffer(media.KindVideo, media.NewTime(10, 1), media.Payload{}))
	a.Resume()

	// An audio buffer stamped before the video pause anchor closes the pause.
	out, ok := a.Adjust(media.NewTimedBuffer(media.KindMicrophone, media.NewTime(9, 1), media.Payload{}))
	if !ok || out.PTS().Compare(media.NewTime(9, 1)) != 0 {
		t.Errorf("got %s ok=%v, want passthrough at 9", out.PTS(), ok)
	}
	if !a.Accumulated().IsZero() {
		t.Errorf("accumulated = %s, want 0", a.Accumulated())
	}
}

func TestAdjuster_resumeWithoutBuffersWhilePaused(t *testing.T) {
	a := NewAdjuster(quietLogger())
	a.Pause()
	a.Resume()
	out, ok := a.Adjust(videoAt(4))
	if !ok || out.PTS().Compare(media.NewTime(4, 1)) != 0 {
		t.Errorf("got %s ok=%v, want unchanged", out.PTS(), ok)
	}
}

func TestAdjuster_retimeFailureDropsOneBuffer(t *testing.T) {
	a := NewAdjuster(quietLogger())
	a.Pause()
	a.Adjust(videoAt(2))
	a.Resume()
	a.Adjust(videoAt(7)) // accumulated 5

	// A late audio buffer would land before zero.
	if _, ok := a.Adjust(media.NewTimedBuffer(media.KindApplicationAudio, media.NewTime(3, 1), media.Payload{})); ok {
		t.Error("buffer retimed below zero should be dropped")
	}
	out, ok := a.Adjust(videoAt(8))
	if !ok || out.PTS().Compare(media.NewTime(3, 1)) != 0 {
		t.Errorf("next buffer: got %s ok=%v, want 3", out.PTS(), ok)
	}
}

func TestAdjuster_Reset(t *testing.T) {
	a := NewAdjuster(quietLogger())
	a.Pause()
	a.Adjust(videoAt(1))
	a.Resume()
	a.Adjust(videoAt(4))
	a.Reset()

	if !a.Accumulated().IsZero() || a.Paused() {
		t.Fatal("Reset should clear pause history")
	}
	in := videoAt(9)
	if out, _ := a.Adjust(in); !sameBuffer(out, in) {
		t.Error("after Reset buffers should pass unchanged")
	}
}
