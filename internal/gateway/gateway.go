// Package gateway forwards commands to the remote interpreter and answers
// locally whenever the remote cannot.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"limone/pkg/protocol"
)

var (
	ErrUnsupported  = errors.New("operation not supported by remote")
	ErrDisconnected = errors.New("backend disconnected")
	ErrMalformed    = errors.New("malformed response")
)

// StatusError is a non-2xx answer from the remote.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("remote returned %d: %s", e.Code, e.Body)
}

// Remote is the interpreter the gateway prefers over its local rules.
type Remote interface {
	Health(ctx context.Context) error
	Interpret(ctx context.Context, req protocol.CommandRequest) (protocol.CommandResponse, error)
}

// Catalog is implemented by remotes that also serve history, insights and feedback.
type Catalog interface {
	RecentTasks(ctx context.Context) ([]protocol.Task, error)
	UserInsights(ctx context.Context) (protocol.Insights, error)
	SubmitFeedback(ctx context.Context, fb protocol.Feedback) error
}

const (
	DefaultHealthTimeout  = 5 * time.Second
	DefaultCommandTimeout = 30 * time.Second
	DefaultPollInterval   = 30 * time.Second
)

type Config struct {
	HealthTimeout  time.Duration
	CommandTimeout time.Duration
	UserAgent      string
	// ProbeBeforeSend runs a health check ahead of every Send.
	ProbeBeforeSend bool
}

// Reply is a response plus where it came from.
type Reply struct {
	protocol.CommandResponse
	Fallback bool
}

type Gateway struct {
	remote Remote
	rules  []Rule
	cfg    Config
	queue  *OfflineQueue
	log    *slog.Logger

	connected atomic.Bool

	hookMu   sync.Mutex
	onStatus func(connected bool)

	drainMu sync.Mutex

	now func() time.Time
}

// New builds a gateway. The connectivity flag starts false, so until the
// first successful probe every command is answered locally.
func New(remote Remote, cfg Config, logger *slog.Logger) *Gateway {
	if cfg.HealthTimeout <= 0 {
		cfg.HealthTimeout = DefaultHealthTimeout
	}
	if cfg.CommandTimeout <= 0 {
		cfg.CommandTimeout = DefaultCommandTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Gateway{
		remote: remote,
		rules:  DefaultRules(),
		cfg:    cfg,
		log:    logger.With("component", "gateway"),
		now:    time.Now,
	}
}

// SetRules replaces the fallback rule set.
func (g *Gateway) SetRules(rules []Rule) {
	g.rules = rules
}

// SetQueue enables durable buffering of commands answered while offline.
func (g *Gateway) SetQueue(q *OfflineQueue) {
	g.queue = q
}

// OnStatus registers a hook called on every connectivity transition.
func (g *Gateway) OnStatus(fn func(connected bool)) {
	g.hookMu.Lock()
	defer g.hookMu.Unlock()
	g.onStatus = fn
}

func (g *Gateway) Connected() bool {
	return g.connected.Load()
}

// setConnected stores v and reports whether the flag went from false to true.
func (g *Gateway) setConnected(v bool) bool {
	old := g.connected.Swap(v)
	if old == v {
		return false
	}

	if v {
		g.log.Info("Backend connected")
	} else {
		g.log.Warn("Backend disconnected, answering locally")
	}

	g.hookMu.Lock()
	hook := g.onStatus
	g.hookMu.Unlock()
	if hook != nil {
		hook(v)
	}

	return v
}

// CheckConnection probes the remote with a bounded timeout and updates the
// shared connectivity flag.
func (g *Gateway) CheckConnection(ctx context.Context) bool {
	ok, _ := g.probe(ctx)
	return ok
}

func (g *Gateway) probe(ctx context.Context) (ok bool, cameUp bool) {
	if g.remote == nil {
		g.setConnected(false)
		return false, false
	}

	ctx, cancel := context.WithTimeout(ctx, g.cfg.HealthTimeout)
	defer cancel()

	if err := g.remote.Health(ctx); err != nil {
		g.log.Debug("Health check failed", "err", err)
		g.setConnected(false)
		return false, false
	}

	return true, g.setConnected(true)
}

// Monitor probes now and then every interval until ctx ends. Each time the
// backend comes back, the offline queue is drained.
func (g *Gateway) Monitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultPollInterval
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if _, cameUp := g.probe(ctx); cameUp {
			if n, err := g.Drain(ctx); err != nil {
				g.log.Warn("Offline queue drain interrupted", "replayed", n, "err", err)
			} else if n > 0 {
				g.log.Info("Offline queue drained", "replayed", n)
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Send interprets command. It never fails: any remote problem yields the
// local fallback response.
func (g *Gateway) Send(ctx context.Context, command string) Reply {
	if g.cfg.ProbeBeforeSend {
		g.CheckConnection(ctx)
	}

	if !g.Connected() {
		g.log.Debug("Answering locally", "command", command)
		g.enqueue(command)
		return g.fallback(command)
	}

	resp, err := g.interpret(ctx, protocol.NewCommandRequest(command, g.cfg.UserAgent, g.now()))
	if err != nil {
		if isTransport(err) {
			g.setConnected(false)
			g.enqueue(command)
		}
		g.log.Warn("Remote interpreter failed, falling back", "command", command, "err", err)
		return g.fallback(command)
	}

	return Reply{CommandResponse: resp}
}

func (g *Gateway) fallback(command string) Reply {
	return Reply{CommandResponse: Respond(g.rules, command), Fallback: true}
}

func (g *Gateway) interpret(ctx context.Context, req protocol.CommandRequest) (protocol.CommandResponse, error) {
	if g.remote == nil {
		return protocol.CommandResponse{}, ErrDisconnected
	}

	ctx, cancel := context.WithTimeout(ctx, g.cfg.CommandTimeout)
	defer cancel()

	resp, err := g.remote.Interpret(ctx, req)
	if err != nil {
		return protocol.CommandResponse{}, err
	}
	if err := resp.Validate(); err != nil {
		return protocol.CommandResponse{}, fmt.Errorf("%w: %w", ErrMalformed, err)
	}

	resp.Kind = resp.Kind.Normalize()
	return resp, nil
}

func (g *Gateway) enqueue(command string) {
	if g.queue == nil {
		return
	}
	if err := g.queue.Add(command, g.now()); err != nil {
		g.log.Error("Failed to queue offline command", "command", command, "err", err)
	}
}

// isTransport reports whether err means the remote could not be reached, as
// opposed to the remote answering badly.
func isTransport(err error) bool {
	var se *StatusError
	if errors.As(err, &se) {
		return false
	}
	return !errors.Is(err, ErrMalformed)
}

// RecentTasks fetches the backend's history. It fails when disconnected or
// when the remote has no catalog.
func (g *Gateway) RecentTasks(ctx context.Context) ([]protocol.Task, error) {
	cat, err := g.catalog()
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, g.cfg.CommandTimeout)
	defer cancel()

	tasks, err := cat.RecentTasks(ctx)
	if err != nil {
		return nil, fmt.Errorf("recent tasks: %w", err)
	}
	return tasks, nil
}

// UserInsights returns the backend's aggregate, or the built-in demo insights
// when the backend cannot provide one.
func (g *Gateway) UserInsights(ctx context.Context) protocol.Insights {
	cat, err := g.catalog()
	if err != nil {
		return demoInsights()
	}

	ctx, cancel := context.WithTimeout(ctx, g.cfg.CommandTimeout)
	defer cancel()

	ins, err := cat.UserInsights(ctx)
	if err != nil {
		g.log.Warn("Failed to fetch user insights", "err", err)
		return demoInsights()
	}
	return ins
}

// SubmitFeedback delivers fb if possible. Failures are only logged.
func (g *Gateway) SubmitFeedback(ctx context.Context, fb protocol.Feedback) {
	cat, err := g.catalog()
	if err != nil {
		g.log.Info("Feedback kept locally", "rating", fb.Rating, "comment", fb.Comment, "reason", err)
		return
	}

	ctx, cancel := context.WithTimeout(ctx, g.cfg.CommandTimeout)
	defer cancel()

	if err := cat.SubmitFeedback(ctx, fb); err != nil {
		g.log.Error("Failed to submit feedback", "err", err)
	}
}

func (g *Gateway) catalog() (Catalog, error) {
	cat, ok := g.remote.(Catalog)
	if !ok {
		return nil, ErrUnsupported
	}
	if !g.Connected() {
		return nil, ErrDisconnected
	}
	return cat, nil
}
