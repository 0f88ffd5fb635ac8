package speech

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
)

// Engine synthesizes and plays text, blocking until done or ctx is cancelled.
type Engine interface {
	Say(ctx context.Context, text string) error
}

// Policy decides what happens when Speak is called while speaking.
type Policy string

const (
	// PolicyReplace cancels the current utterance and drops anything pending.
	PolicyReplace Policy = "replace"
	// PolicyQueue plays utterances one after another.
	PolicyQueue Policy = "queue"
)

func ParsePolicy(s string) (Policy, error) {
	switch Policy(strings.ToLower(strings.TrimSpace(s))) {
	case "", PolicyReplace:
		return PolicyReplace, nil
	case PolicyQueue:
		return PolicyQueue, nil
	default:
		return "", fmt.Errorf("unknown speech policy %q", s)
	}
}

// Speaker plays utterances on a single background worker so callers never
// wait for speech and utterances never overlap.
type Speaker struct {
	engine Engine
	policy Policy
	log    *slog.Logger

	mu       sync.Mutex
	idle     *sync.Cond
	pending  []string
	speaking bool
	cancel   context.CancelFunc
	closed   bool

	wake chan struct{}
	done chan struct{}
}

func NewSpeaker(engine Engine, policy Policy, logger *slog.Logger) *Speaker {
	if policy == "" {
		policy = PolicyReplace
	}
	if logger == nil {
		logger = slog.Default()
	}

	s := &Speaker{
		engine: engine,
		policy: policy,
		log:    logger.With("component", "speaker"),
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	s.idle = sync.NewCond(&s.mu)

	go s.run()
	return s
}

func (s *Speaker) Speak(text string) {
	if strings.TrimSpace(text) == "" {
		return
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	if s.policy == PolicyReplace {
		s.pending = s.pending[:0]
		if s.cancel != nil {
			s.cancel()
		}
	}
	s.pending = append(s.pending, text)

	select {
	case s.wake <- struct{}{}:
	default:
	}
	s.mu.Unlock()
}

// Stop cancels the current utterance and drops everything pending.
func (s *Speaker) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.pending = nil
	if s.cancel != nil {
		s.cancel()
	}
	s.idle.Broadcast()
}

// Wait blocks until nothing is playing or pending.
func (s *Speaker) Wait() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for s.speaking || len(s.pending) > 0 {
		s.idle.Wait()
	}
}

// Close stops playback and ends the worker.
func (s *Speaker) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.pending = nil
	if s.cancel != nil {
		s.cancel()
	}
	close(s.wake)
	s.idle.Broadcast()
	s.mu.Unlock()

	<-s.done
}

func (s *Speaker) run() {
	defer close(s.done)

	for {
		s.mu.Lock()
		for len(s.pending) == 0 {
			s.mu.Unlock()
			if _, ok := <-s.wake; !ok {
				return
			}
			s.mu.Lock()
		}

		text := s.pending[0]
		s.pending = s.pending[1:]
		ctx, cancel := context.WithCancel(context.Background())
		s.cancel = cancel
		s.speaking = true
		s.mu.Unlock()

		err := s.engine.Say(ctx, text)
		cancel()
		if err != nil && !errors.Is(err, context.Canceled) {
			s.log.Error("Failed to voice out", "err", err)
		}

		s.mu.Lock()
		s.cancel = nil
		s.speaking = false
		s.idle.Broadcast()
		s.mu.Unlock()
	}
}
