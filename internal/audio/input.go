package audio

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"limone/internal/speech"
	"limone/pkg/audioconv"
	"limone/pkg/stt"
)

// Ducker quiets other playback while the microphone is open.
type Ducker interface {
	Duck(ctx context.Context) error
	Restore(ctx context.Context) error
}

const restoreTimeout = 3 * time.Second

// MicInput records one utterance and transcribes it in a fixed language.
type MicInput struct {
	Recorder    *Recorder
	Transcriber *stt.Transcriber
	Options     stt.Options
	MaxRecord   time.Duration
	Ducker      Ducker
	Log         *slog.Logger
}

var _ speech.Input = (*MicInput)(nil)

func (m *MicInput) Listen(ctx context.Context) (string, error) {
	if m.Ducker != nil {
		if err := m.Ducker.Duck(ctx); err != nil {
			m.Log.Debug("Ducking failed", "err", err)
		}
		defer func() {
			rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), restoreTimeout)
			defer cancel()
			if err := m.Ducker.Restore(rctx); err != nil {
				m.Log.Warn("Failed to restore volume", "err", err)
			}
		}()
	}

	start := time.Now()
	pcm, err := m.Recorder.Record(ctx, m.MaxRecord)
	if err != nil {
		return "", err
	}
	m.Log.Debug("Recorded", "samples", len(pcm), "took", time.Since(start))

	return transcribe(ctx, m.Transcriber, pcm, m.Options, m.Log)
}

// FileInput transcribes the same audio file on every Listen, for headless runs.
type FileInput struct {
	Path        string
	Transcriber *stt.Transcriber
	Options     stt.Options
	MaxRecord   time.Duration
	Log         *slog.Logger
}

var _ speech.Input = (*FileInput)(nil)

func (f *FileInput) Listen(ctx context.Context) (string, error) {
	maxSamples := 0
	if f.MaxRecord > 0 {
		maxSamples = int(f.MaxRecord.Seconds() * SampleRate)
	}

	pcm, err := audioconv.DecodeFile(f.Path, maxSamples)
	if err != nil {
		return "", fmt.Errorf("load %s: %w", f.Path, err)
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	return transcribe(ctx, f.Transcriber, pcm, f.Options, f.Log)
}

func transcribe(ctx context.Context, tr *stt.Transcriber, pcm []float32, opt stt.Options, log *slog.Logger) (string, error) {
	start := time.Now()
	res, err := tr.TranscribePCM(ctx, pcm, opt)
	if err != nil {
		return "", fmt.Errorf("transcribe: %w", err)
	}

	log.Info("Transcribed", "text", res.Text, "lang", res.Language, "took", time.Since(start))
	return res.Text, nil
}
