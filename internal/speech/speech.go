// Package speech defines the voice capture and playback boundaries used by
// the controller, plus the playback policy shared by all output engines.
package speech

import (
	"context"
	"errors"
	"fmt"
)

var (
	ErrPermissionDenied = errors.New("microphone unavailable")
	ErrNoSpeech         = errors.New("no speech recognized")
)

// Input captures one utterance. Cancelling ctx stops the capture; a
// cancelled Listen returns ctx.Err().
type Input interface {
	Listen(ctx context.Context) (string, error)
}

// Output speaks text without blocking the caller.
type Output interface {
	Speak(text string)
	Stop()
}

// Unavailable is the Input used when initialization failed. It fails fast.
type Unavailable struct {
	Err error
}

func (u Unavailable) Listen(context.Context) (string, error) {
	if u.Err == nil {
		return "", ErrPermissionDenied
	}
	return "", fmt.Errorf("%w: %w", ErrPermissionDenied, u.Err)
}

// InputFunc adapts a function to Input.
type InputFunc func(ctx context.Context) (string, error)

func (f InputFunc) Listen(ctx context.Context) (string, error) {
	return f(ctx)
}
