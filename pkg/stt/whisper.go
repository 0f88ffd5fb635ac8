// Package stt transcribes 16 kHz mono PCM with whisper.cpp.
package stt

import (
	"context"
	"errors"
	"fmt"
	"io"
	"runtime"
	"strings"
	"sync"

	"github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"
)

var ErrNoAudio = errors.New("no audio samples provided")

type Options struct {
	Language      string // "ko", "en", ... or "auto"
	Threads       int    // <=0 uses every CPU
	InitialPrompt string
	BeamSize      int // 0 keeps greedy decoding
}

type Result struct {
	Text     string
	Language string
}

// Transcriber owns one loaded model. Transcriptions are serialized; a model
// context is not shared between calls.
type Transcriber struct {
	mu    sync.Mutex
	model whisper.Model
}

func NewTranscriber(modelPath string) (*Transcriber, error) {
	if modelPath == "" {
		return nil, errors.New("empty model path")
	}

	m, err := whisper.New(modelPath)
	if err != nil {
		return nil, fmt.Errorf("load model %s: %w", modelPath, err)
	}
	return &Transcriber{model: m}, nil
}

func (t *Transcriber) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.model == nil {
		return nil
	}
	err := t.model.Close()
	t.model = nil
	return err
}

// TranscribePCM expects mono samples at 16 kHz in [-1, 1]. ctx is checked
// between segments; whisper itself cannot be interrupted mid-pass.
func (t *Transcriber) TranscribePCM(ctx context.Context, pcm []float32, opt Options) (Result, error) {
	if len(pcm) == 0 {
		return Result{}, ErrNoAudio
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.model == nil {
		return Result{}, errors.New("transcriber closed")
	}

	wctx, err := t.model.NewContext()
	if err != nil {
		return Result{}, fmt.Errorf("new context: %w", err)
	}

	lang := opt.Language
	if lang == "" {
		lang = "auto"
	}
	if err := wctx.SetLanguage(lang); err != nil {
		return Result{}, fmt.Errorf("set language %q: %w", lang, err)
	}

	threads := opt.Threads
	if threads <= 0 {
		threads = runtime.NumCPU()
	}
	wctx.SetThreads(uint(threads))

	if opt.BeamSize > 0 {
		wctx.SetBeamSize(opt.BeamSize)
	}
	if opt.InitialPrompt != "" {
		wctx.SetInitialPrompt(opt.InitialPrompt)
	}

	if err := wctx.Process(pcm, nil, nil, nil); err != nil {
		return Result{}, fmt.Errorf("process: %w", err)
	}

	var parts []string
	for {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}

		seg, err := wctx.NextSegment()
		if err == io.EOF {
			break
		}
		if err != nil {
			return Result{}, fmt.Errorf("next segment: %w", err)
		}
		if text := strings.TrimSpace(seg.Text); text != "" {
			parts = append(parts, text)
		}
	}

	detected := wctx.DetectedLanguage()
	if detected == "" {
		detected = wctx.Language()
	}

	return Result{Text: strings.Join(parts, " "), Language: detected}, nil
}
