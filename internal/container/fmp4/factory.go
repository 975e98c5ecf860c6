package fmp4

import (
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"screen-recorder/internal/media"
	"screen-recorder/internal/recording"
)

// AudioSuffix is appended to the main file name for separate application audio.
const AudioSuffix = "-audio.m4a"

// Factory opens fragmented MP4 containers for recording sessions.
type Factory struct {
	Log        *slog.Logger
	MaxPending int
}

// Open creates the main container at path and, when application audio is
// kept separate, a second audio-only container next to it.
func (f Factory) Open(path string, cfg recording.Configuration) ([]recording.ContainerWriter, error) {
	if cfg.Video.Codec == recording.CodecHEVC {
		return nil, fmt.Errorf("fmp4: codec %s not supported", cfg.Video.Codec)
	}

	main := []media.Kind{media.KindVideo}
	if !cfg.SeparateAppAudio {
		main = append(main, media.KindApplicationAudio)
	}
	if cfg.MicEnabled {
		main = append(main, media.KindMicrophone)
	}

	mw, err := New(f.options(path, cfg, main))
	if err != nil {
		return nil, err
	}
	out := []recording.ContainerWriter{mw}
	if !cfg.SeparateAppAudio {
		return out, nil
	}

	aw, err := New(f.options(AudioPath(path), cfg, []media.Kind{media.KindApplicationAudio}))
	if err != nil {
		return nil, errors.Join(err, mw.abort())
	}
	return append(out, aw), nil
}

func (f Factory) options(path string, cfg recording.Configuration, kinds []media.Kind) Options {
	return Options{
		Path:             path,
		Kinds:            kinds,
		SampleRate:       cfg.AudioSampleRate,
		Channels:         cfg.AudioChannels,
		FragmentDuration: cfg.FragmentDuration,
		MaxPending:       f.MaxPending,
		Log:              f.Log,
	}
}

// AudioPath is the separate application audio file for a main recording path.
func AudioPath(path string) string {
	return strings.TrimSuffix(path, filepath.Ext(path)) + AudioSuffix
}
