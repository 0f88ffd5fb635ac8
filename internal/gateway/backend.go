package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"limone/pkg/protocol"
)

// Backend talks JSON over HTTP to the LimoneIDE server.
type Backend struct {
	client    *http.Client
	userAgent string
	log       *slog.Logger

	mu      sync.RWMutex
	baseURL string
}

func NewBackend(baseURL string, client *http.Client, userAgent string, logger *slog.Logger) *Backend {
	if client == nil {
		client = &http.Client{}
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Backend{
		client:    client,
		userAgent: userAgent,
		log:       logger.With("component", "backend"),
		baseURL:   strings.TrimRight(baseURL, "/"),
	}
}

func (b *Backend) BaseURL() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.baseURL
}

func (b *Backend) SetBaseURL(url string) {
	b.mu.Lock()
	b.baseURL = strings.TrimRight(url, "/")
	b.mu.Unlock()
	b.log.Info("Backend URL updated", "url", url)
}

func (b *Backend) Health(ctx context.Context) error {
	return b.do(ctx, http.MethodGet, "/health", nil, nil)
}

func (b *Backend) Interpret(ctx context.Context, req protocol.CommandRequest) (protocol.CommandResponse, error) {
	var resp protocol.CommandResponse
	if err := b.do(ctx, http.MethodPost, "/voice-command", req, &resp); err != nil {
		return protocol.CommandResponse{}, err
	}
	return resp, nil
}

func (b *Backend) RecentTasks(ctx context.Context) ([]protocol.Task, error) {
	var list protocol.TaskList
	if err := b.do(ctx, http.MethodGet, "/recent-tasks", nil, &list); err != nil {
		return nil, err
	}
	if list.Tasks == nil {
		return []protocol.Task{}, nil
	}
	return list.Tasks, nil
}

func (b *Backend) UserInsights(ctx context.Context) (protocol.Insights, error) {
	var ins protocol.Insights
	if err := b.do(ctx, http.MethodGet, "/user-insights", nil, &ins); err != nil {
		return nil, err
	}
	return ins, nil
}

func (b *Backend) SubmitFeedback(ctx context.Context, fb protocol.Feedback) error {
	return b.do(ctx, http.MethodPost, "/feedback", fb, nil)
}

// do sends body as JSON and decodes a 2xx answer into out when out is not nil.
func (b *Backend) do(ctx context.Context, method, path string, body, out any) error {
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		rd = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, b.BaseURL()+path, rd)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if b.userAgent != "" {
		req.Header.Set("User-Agent", b.userAgent)
	}

	resp, err := b.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &StatusError{Code: resp.StatusCode, Body: string(data)}
	}

	if out == nil {
		return nil
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decode %s: %w", ErrMalformed, path, err)
	}
	return nil
}
