package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestGetEnvHelpers(t *testing.T) {
	t.Setenv("REC_TEST_INT", "42")
	t.Setenv("REC_TEST_BAD_INT", "x")
	t.Setenv("REC_TEST_BOOL", "true")
	t.Setenv("REC_TEST_DUR", "1500ms")

	if got := GetEnv("REC_TEST_UNSET", "fallback"); got != "fallback" {
		t.Errorf("GetEnv = %q", got)
	}
	if got := GetEnvInt("REC_TEST_INT", 1); got != 42 {
		t.Errorf("GetEnvInt = %d", got)
	}
	if got := GetEnvInt("REC_TEST_BAD_INT", 7); got != 7 {
		t.Errorf("GetEnvInt invalid = %d, want fallback", got)
	}
	if got := GetEnvBool("REC_TEST_BOOL", false); !got {
		t.Error("GetEnvBool = false")
	}
	if got := GetEnvDuration("REC_TEST_DUR", time.Second); got != 1500*time.Millisecond {
		t.Errorf("GetEnvDuration = %v", got)
	}
}

func TestLoadSettings_fileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	content := `
recordings_dir = "/tmp/recs"
display = ":1.0"
mic_enabled = false
mic_device = "alsa_input.usb"
mic_transport = "usb"
frame_rate = 60
adjustment = "writer"
fragment_duration = "4s"
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("RECORDER_FRAME_RATE", "24")

	s, err := LoadSettings(path)
	if err != nil {
		t.Fatalf("LoadSettings: %v", err)
	}
	if s.RecordingsDir != "/tmp/recs" || s.Display != ":1.0" || s.MicDevice != "alsa_input.usb" {
		t.Errorf("file values not applied: %+v", s)
	}
	if s.MicEnabled {
		t.Error("mic_enabled=false in file should disable the microphone")
	}
	if s.FrameRate != 24 {
		t.Errorf("env should override file frame rate: got %d", s.FrameRate)
	}
	if s.Adjustment != "writer" || s.FragmentDuration != 4*time.Second {
		t.Errorf("adjustment=%q fragment=%v", s.Adjustment, s.FragmentDuration)
	}
	if s.Format != "mp4" || s.SampleRate != 48000 {
		t.Errorf("defaults lost: format=%q rate=%d", s.Format, s.SampleRate)
	}
}

func TestLoadSettings_missingFile(t *testing.T) {
	s, err := LoadSettings(filepath.Join(t.TempDir(), "absent.toml"))
	if err != nil {
		t.Fatalf("missing file should not fail: %v", err)
	}
	if s.Codec != "h264" || !s.MicEnabled {
		t.Errorf("expected defaults, got %+v", s)
	}
}

func TestLoadSettings_invalidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte("frame_rate = ["), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadSettings(path); err == nil {
		t.Error("expected decode error")
	}
}
