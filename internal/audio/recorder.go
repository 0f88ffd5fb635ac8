// Package audio captures speech from the microphone or a file and turns it
// into text.
package audio

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/gordonklaus/portaudio"

	"limone/internal/speech"
)

const (
	SampleRate = 16000
	frameSize  = 320 // 20ms

	DefaultMaxRecord = 15 * time.Second
)

// Recorder reads the default input device. It stops on its own after a
// stretch of silence that follows speech.
type Recorder struct {
	SilenceRMS float64
	Silence    time.Duration
}

func NewRecorder() *Recorder {
	return &Recorder{
		SilenceRMS: 0.015,
		Silence:    600 * time.Millisecond,
	}
}

func (r *Recorder) Init() error {
	if err := portaudio.Initialize(); err != nil {
		return fmt.Errorf("%w: %w", speech.ErrPermissionDenied, err)
	}
	return nil
}

func (r *Recorder) Close() {
	portaudio.Terminate()
}

// Record captures until trailing silence, maxDur, or ctx cancellation,
// whichever comes first. Cancellation discards the audio.
func (r *Recorder) Record(ctx context.Context, maxDur time.Duration) ([]float32, error) {
	if maxDur <= 0 {
		maxDur = DefaultMaxRecord
	}

	buf := make([]float32, frameSize)
	stream, err := portaudio.OpenDefaultStream(1, 0, SampleRate, len(buf), buf)
	if err != nil {
		return nil, fmt.Errorf("open input stream: %w", err)
	}
	defer stream.Close()

	if err := stream.Start(); err != nil {
		return nil, fmt.Errorf("start input stream: %w", err)
	}
	defer stream.Stop()

	const frameDur = time.Second * frameSize / SampleRate

	var (
		out           = make([]float32, 0, SampleRate*3)
		speaking      bool
		silenceFrames int
		maxFrames     = int(maxDur / frameDur)
		quietFrames   = int(r.Silence / frameDur)
	)

	for i := 0; i < maxFrames; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		if err := stream.Read(); err != nil {
			return nil, fmt.Errorf("read input stream: %w", err)
		}

		if frameRMS(buf) > r.SilenceRMS {
			speaking = true
			silenceFrames = 0
			out = append(out, buf...)
			continue
		}

		if !speaking {
			continue
		}

		silenceFrames++
		out = append(out, buf...)
		if silenceFrames >= quietFrames {
			break
		}
	}

	if !speaking {
		return nil, speech.ErrNoSpeech
	}
	return out, nil
}

func frameRMS(f []float32) float64 {
	var s float64
	for _, x := range f {
		s += float64(x * x)
	}
	return math.Sqrt(s / float64(len(f)))
}
