// Package controller runs the voice-command round trip: capture, dispatch,
// history update, rendering and spoken feedback.
package controller

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"

	"limone/internal/gateway"
	"limone/internal/history"
	"limone/internal/speech"
	"limone/pkg/protocol"
)

type State int

const (
	Idle State = iota
	Listening
	Processing
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Listening:
		return "listening"
	case Processing:
		return "processing"
	default:
		return "unknown"
	}
}

const (
	StatusListening  = "듣고 있습니다..."
	StatusProcessing = "명령을 처리하고 있습니다..."

	MsgSuccess          = "명령이 성공적으로 처리되었습니다."
	MsgFallback         = "데모 모드로 실행됨"
	MsgRecognitionError = "음성 인식 오류가 발생했습니다."
	MsgMicUnavailable   = "음성 인식을 사용할 수 없습니다."
	MsgListenCancelled  = "음성 인식이 취소되었습니다."
	MsgProcessingError  = "명령 처리 중 오류가 발생했습니다."
	MsgQuickCommand     = "명령을 실행하고 있습니다..."
	MsgReplay           = "작업을 재실행하고 있습니다..."
)

var (
	ErrBusy         = errors.New("a command is already in progress")
	ErrTaskNotFound = errors.New("task not found")
	ErrClosed       = errors.New("controller is shutting down")
)

// Dispatcher interprets a command and always yields a complete reply.
type Dispatcher interface {
	Send(ctx context.Context, command string) gateway.Reply
}

// Cue signals the user that capture has started.
type Cue interface {
	Listening()
}

type Deps struct {
	Input   speech.Input
	Output  speech.Output
	Gateway Dispatcher
	History *history.Store
	View    View
	Cue     Cue
	Logger  *slog.Logger
}

// Controller is the sole owner of the round-trip state. At most one round
// trip is in flight; once dispatched it always runs to completion.
type Controller struct {
	input   speech.Input
	output  speech.Output
	gateway Dispatcher
	history *history.Store
	view    View
	cue     Cue
	log     *slog.Logger

	mu           sync.Mutex
	state        State
	status       string
	round        uint64
	cancelListen context.CancelFunc
	closed       bool

	wg sync.WaitGroup
}

func New(d Deps) *Controller {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	view := d.View
	if view == nil {
		view = Views(nil)
	}

	c := &Controller{
		input:   d.Input,
		output:  d.Output,
		gateway: d.Gateway,
		history: d.History,
		view:    view,
		cue:     d.Cue,
		log:     logger.With("component", "controller"),
	}

	// A capture device that failed to initialize is reported once up front.
	if u, ok := d.Input.(speech.Unavailable); ok {
		c.log.Warn("Speech input unavailable", "err", u.Err)
		c.view.Notice(Notice{Level: LevelWarning, Message: MsgMicUnavailable})
	}

	return c
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Controller) Status() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Wait blocks until the in-flight round trip, if any, has finished.
func (c *Controller) Wait() {
	c.wg.Wait()
}

// Shutdown refuses further round trips, cancels capture and waits for the
// round trip in flight to finish. Shutdown must be called before the
// history store and speech output are closed.
func (c *Controller) Shutdown() {
	c.mu.Lock()
	c.closed = true
	if c.state == Listening {
		c.stopLocked()
	}
	c.mu.Unlock()

	c.wg.Wait()
}

// PressMic toggles capture: it starts listening from Idle and cancels from
// Listening. It does nothing while a command is processing.
func (c *Controller) PressMic(ctx context.Context) State {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return c.state
	}

	switch c.state {
	case Listening:
		c.stopLocked()
		return c.state
	case Processing:
		c.log.Debug("Mic pressed while processing, ignored")
		return c.state
	}

	if c.input == nil {
		c.noticeLocked(LevelWarning, MsgMicUnavailable)
		return c.state
	}

	c.round++
	round := c.round
	lctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	c.cancelListen = cancel
	c.setStateLocked(Listening, StatusListening)

	if c.cue != nil {
		c.cue.Listening()
	}

	c.wg.Add(1)
	go c.listen(lctx, round)

	return c.state
}

// Stop cancels an in-flight capture. It is a no-op outside Listening.
func (c *Controller) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == Listening {
		c.stopLocked()
	}
}

func (c *Controller) stopLocked() {
	if c.cancelListen != nil {
		c.cancelListen()
		c.cancelListen = nil
	}
	// Any result of the cancelled capture belongs to a stale round.
	c.round++
	c.setStateLocked(Idle, "")
	c.noticeLocked(LevelWarning, MsgListenCancelled)
	c.log.Info("Listening cancelled")
}

func (c *Controller) listen(ctx context.Context, round uint64) {
	defer c.wg.Done()

	text, err := c.input.Listen(ctx)
	text = strings.TrimSpace(text)

	c.mu.Lock()
	if c.round != round || c.state != Listening {
		c.mu.Unlock()
		c.log.Debug("Discarding late recognition result", "text", text)
		return
	}

	c.cancelListen = nil

	if err == nil && text == "" {
		err = speech.ErrNoSpeech
	}
	if err != nil {
		c.setStateLocked(Idle, "")
		if errors.Is(err, speech.ErrPermissionDenied) {
			c.noticeLocked(LevelWarning, MsgMicUnavailable)
		} else {
			c.noticeLocked(LevelError, MsgRecognitionError)
		}
		c.mu.Unlock()
		c.log.Warn("Recognition failed", "err", err)
		return
	}

	c.setStateLocked(Processing, StatusProcessing)
	c.mu.Unlock()

	c.log.Info("Recognized", "text", text)
	c.process(ctx, text)
}

// Submit dispatches command directly, skipping capture. It reports false if
// another round trip is active.
func (c *Controller) Submit(ctx context.Context, command string) bool {
	return c.begin(ctx, command, MsgQuickCommand) == nil
}

// Replay resubmits the command of a stored task.
func (c *Controller) Replay(ctx context.Context, id string) error {
	if c.history == nil {
		return ErrTaskNotFound
	}
	task, ok := c.history.Find(id)
	if !ok {
		return ErrTaskNotFound
	}
	return c.begin(ctx, task.Command, MsgReplay)
}

func (c *Controller) begin(ctx context.Context, command, notice string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClosed
	}
	if c.state != Idle {
		c.log.Debug("Command ignored, busy", "state", c.state, "command", command)
		return ErrBusy
	}

	c.round++
	c.noticeLocked(LevelSuccess, notice)
	c.setStateLocked(Processing, StatusProcessing)

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.process(context.WithoutCancel(ctx), command)
	}()

	return nil
}

// process completes a round trip. Every path ends in Idle.
func (c *Controller) process(ctx context.Context, command string) {
	defer func() {
		if r := recover(); r != nil {
			c.log.Error("Round trip panicked", "panic", r)
			c.mu.Lock()
			c.setStateLocked(Idle, "")
			c.noticeLocked(LevelError, MsgProcessingError)
			c.mu.Unlock()
		}
	}()

	reply := c.gateway.Send(ctx, command)

	if c.history != nil {
		c.history.Record(command, reply.Kind)
	}

	if reply.Speak != "" && c.output != nil {
		c.output.Speak(reply.Speak)
	}

	c.view.Render(reply.CommandResponse)

	c.mu.Lock()
	if reply.Fallback {
		c.noticeLocked(LevelWarning, MsgFallback)
	} else {
		c.noticeLocked(LevelSuccess, MsgSuccess)
	}
	c.setStateLocked(Idle, "")
	c.mu.Unlock()

	c.log.Info("Command done", "command", command, "title", reply.Title, "fallback", reply.Fallback)
}

// Hush stops spoken feedback.
func (c *Controller) Hush() {
	if c.output != nil {
		c.output.Stop()
	}
}

func (c *Controller) setStateLocked(s State, status string) {
	c.state = s
	c.status = status
	c.view.SetStatus(s, status)
}

func (c *Controller) noticeLocked(level Level, msg string) {
	c.view.Notice(Notice{Level: level, Message: msg})
}

// History exposes the store for presentation layers.
func (c *Controller) History() []protocol.Task {
	if c.history == nil {
		return nil
	}
	return c.history.List()
}
