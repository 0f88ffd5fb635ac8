// Package notify gives the user audible and desktop feedback.
package notify

import (
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/faiface/beep"
	"github.com/faiface/beep/mp3"
	"github.com/faiface/beep/speaker"
)

var speakerOnce sync.Once

// Beep is the listening cue: a short mp3 decoded once and replayed from memory.
type Beep struct {
	buf *beep.Buffer
	log *slog.Logger
}

func NewBeep(path string, logger *slog.Logger) (*Beep, error) {
	if logger == nil {
		logger = slog.Default()
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open cue: %w", err)
	}

	streamer, format, err := mp3.Decode(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("decode cue %s: %w", path, err)
	}
	defer streamer.Close()

	buf := beep.NewBuffer(format)
	buf.Append(streamer)

	var initErr error
	speakerOnce.Do(func() {
		initErr = speaker.Init(format.SampleRate, format.SampleRate.N(time.Second/10))
	})
	if initErr != nil {
		return nil, fmt.Errorf("init speaker: %w", initErr)
	}

	return &Beep{buf: buf, log: logger.With("component", "beep")}, nil
}

// Listening starts the cue and returns immediately.
func (b *Beep) Listening() {
	s := b.buf.Streamer(0, b.buf.Len())
	speaker.Play(s)
	b.log.Debug("Cue played")
}
