package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

const appName = "screen-recorder"

// Settings are the recorder defaults, resolved from built-in values, the
// TOML settings file and RECORDER_* environment variables, in that order.
type Settings struct {
	RecordingsDir string

	Display          string
	Window           string
	MicEnabled       bool
	MicDevice        string
	MicTransport     string
	Codec            string
	ColorSpace       string
	Format           string
	FrameRate        int
	SampleRate       int
	Channels         int
	Adjustment       string
	SeparateAppAudio bool
	FragmentDuration time.Duration

	FFmpegPath string
	Port       string
	LogLevel   string
	LogFormat  string
	LogFile    string
}

type fileSettings struct {
	RecordingsDir    string `toml:"recordings_dir"`
	Display          string `toml:"display"`
	Window           string `toml:"window"`
	MicEnabled       *bool  `toml:"mic_enabled"`
	MicDevice        string `toml:"mic_device"`
	MicTransport     string `toml:"mic_transport"`
	Codec            string `toml:"codec"`
	ColorSpace       string `toml:"color_space"`
	Format           string `toml:"format"`
	FrameRate        int    `toml:"frame_rate"`
	SampleRate       int    `toml:"sample_rate"`
	Channels         int    `toml:"channels"`
	Adjustment       string `toml:"adjustment"`
	SeparateAppAudio *bool  `toml:"separate_app_audio"`
	FragmentDuration string `toml:"fragment_duration"`
	FFmpegPath       string `toml:"ffmpeg_path"`
	Port             string `toml:"port"`
	LogLevel         string `toml:"log_level"`
	LogFormat        string `toml:"log_format"`
	LogFile          string `toml:"log_file"`
}

// DefaultSettings returns the built-in defaults.
func DefaultSettings() Settings {
	return Settings{
		RecordingsDir:    defaultRecordingsDir(),
		Display:          ":0.0",
		MicEnabled:       true,
		Codec:            "h264",
		ColorSpace:       "srgb",
		Format:           "mp4",
		FrameRate:        30,
		SampleRate:       48000,
		Channels:         2,
		Adjustment:       "upstream",
		FragmentDuration: 2 * time.Second,
		FFmpegPath:       "ffmpeg",
		Port:             "8080",
		LogLevel:         "info",
		LogFormat:        "json",
	}
}

// LoadSettings resolves Settings. path selects the settings file; when empty
// the default location under the user config directory is used. A missing
// file is not an error.
func LoadSettings(path string) (Settings, error) {
	s := DefaultSettings()

	if path == "" {
		path = DefaultSettingsPath()
	}
	if path != "" {
		var fc fileSettings
		_, err := toml.DecodeFile(path, &fc)
		switch {
		case err == nil:
			fc.apply(&s)
		case errors.Is(err, fs.ErrNotExist):
		default:
			return s, fmt.Errorf("decode settings %s: %w", path, err)
		}
	}

	applyEnvOverrides(&s)
	s.RecordingsDir = expandTilde(s.RecordingsDir)
	return s, nil
}

func (fc fileSettings) apply(s *Settings) {
	setString(&s.RecordingsDir, fc.RecordingsDir)
	setString(&s.Display, fc.Display)
	setString(&s.Window, fc.Window)
	if fc.MicEnabled != nil {
		s.MicEnabled = *fc.MicEnabled
	}
	setString(&s.MicDevice, fc.MicDevice)
	setString(&s.MicTransport, fc.MicTransport)
	setString(&s.Codec, fc.Codec)
	setString(&s.ColorSpace, fc.ColorSpace)
	setString(&s.Format, fc.Format)
	if fc.FrameRate > 0 {
		s.FrameRate = fc.FrameRate
	}
	if fc.SampleRate > 0 {
		s.SampleRate = fc.SampleRate
	}
	if fc.Channels > 0 {
		s.Channels = fc.Channels
	}
	setString(&s.Adjustment, fc.Adjustment)
	if fc.SeparateAppAudio != nil {
		s.SeparateAppAudio = *fc.SeparateAppAudio
	}
	if d, err := time.ParseDuration(fc.FragmentDuration); err == nil && d > 0 {
		s.FragmentDuration = d
	}
	setString(&s.FFmpegPath, fc.FFmpegPath)
	setString(&s.Port, fc.Port)
	setString(&s.LogLevel, fc.LogLevel)
	setString(&s.LogFormat, fc.LogFormat)
	setString(&s.LogFile, fc.LogFile)
}

func applyEnvOverrides(s *Settings) {
	s.RecordingsDir = GetEnv("RECORDER_DIR", s.RecordingsDir)
	s.Display = GetEnv("RECORDER_DISPLAY", s.Display)
	s.Window = GetEnv("RECORDER_WINDOW", s.Window)
	s.MicEnabled = GetEnvBool("RECORDER_MIC_ENABLED", s.MicEnabled)
	s.MicDevice = GetEnv("RECORDER_MIC_DEVICE", s.MicDevice)
	s.MicTransport = GetEnv("RECORDER_MIC_TRANSPORT", s.MicTransport)
	s.Format = GetEnv("RECORDER_FORMAT", s.Format)
	s.FrameRate = GetEnvInt("RECORDER_FRAME_RATE", s.FrameRate)
	s.Adjustment = GetEnv("RECORDER_ADJUSTMENT", s.Adjustment)
	s.SeparateAppAudio = GetEnvBool("RECORDER_SEPARATE_APP_AUDIO", s.SeparateAppAudio)
	s.FragmentDuration = GetEnvDuration("RECORDER_FRAGMENT_DURATION", s.FragmentDuration)
	s.FFmpegPath = GetEnv("RECORDER_FFMPEG", s.FFmpegPath)
	s.Port = GetEnv("PORT", s.Port)
	s.LogLevel = GetEnv("LOG_LEVEL", s.LogLevel)
	s.LogFormat = GetEnv("LOG_FORMAT", s.LogFormat)
	s.LogFile = GetEnv("LOG_FILE", s.LogFile)
}

// DefaultSettingsPath returns $XDG_CONFIG_HOME/screen-recorder/config.toml,
// falling back to ~/.config. It returns "" when no home directory is known.
func DefaultSettingsPath() string {
	var dir string
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		dir = filepath.Join(xdg, appName)
	} else if home, err := os.UserHomeDir(); err == nil {
		dir = filepath.Join(home, ".config", appName)
	} else {
		return ""
	}
	return filepath.Join(dir, "config.toml")
}

func defaultRecordingsDir() string {
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, "Recordings")
	}
	return filepath.Join(".", "recordings")
}

func expandTilde(path string) string {
	if strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[2:])
		}
	}
	return path
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}
