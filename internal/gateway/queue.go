package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"limone/internal/storage"
	"limone/pkg/protocol"
)

// Backlog is the persistent FIFO behind the offline queue.
type Backlog interface {
	Push(value []byte) (uint64, error)
	Peek() (storage.Record, error)
	Update(seq uint64, value []byte) error
	Delete(seq uint64) error
	Len() (int, error)
}

type offlineEntry struct {
	ID        string    `json:"id"`
	Command   string    `json:"command"`
	Timestamp time.Time `json:"timestamp"`
	Attempts  int       `json:"attempts"`
}

const (
	DefaultMaxAttempts = 3
	DefaultBackoff     = time.Second
)

// OfflineQueue holds commands issued while the backend was unreachable so
// they can be replayed, oldest first, once it is back.
type OfflineQueue struct {
	store       Backlog
	maxAttempts int
	backoff     time.Duration
	log         *slog.Logger

	sleep func(ctx context.Context, d time.Duration) error
}

func NewOfflineQueue(store Backlog, maxAttempts int, backoff time.Duration, logger *slog.Logger) *OfflineQueue {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	if backoff <= 0 {
		backoff = DefaultBackoff
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &OfflineQueue{
		store:       store,
		maxAttempts: maxAttempts,
		backoff:     backoff,
		log:         logger.With("component", "offline-queue"),
		sleep:       sleepCtx,
	}
}

func (q *OfflineQueue) Add(command string, at time.Time) error {
	data, err := json.Marshal(offlineEntry{
		ID:        uuid.NewString(),
		Command:   command,
		Timestamp: at,
	})
	if err != nil {
		return err
	}

	if _, err := q.store.Push(data); err != nil {
		return fmt.Errorf("push offline command: %w", err)
	}

	q.log.Debug("Queued offline command", "command", command)
	return nil
}

func (q *OfflineQueue) Len() int {
	n, err := q.store.Len()
	if err != nil {
		q.log.Error("Failed to count offline queue", "err", err)
		return 0
	}
	return n
}

// head returns the oldest decodable entry, discarding corrupt ones.
func (q *OfflineQueue) head() (uint64, offlineEntry, error) {
	for {
		rec, err := q.store.Peek()
		if err != nil {
			return 0, offlineEntry{}, err
		}

		var e offlineEntry
		if err := json.Unmarshal(rec.Value, &e); err != nil {
			q.log.Warn("Dropping corrupt offline entry", "seq", rec.Seq, "err", err)
			if err := q.store.Delete(rec.Seq); err != nil {
				return 0, offlineEntry{}, err
			}
			continue
		}
		return rec.Seq, e, nil
	}
}

func (q *OfflineQueue) save(seq uint64, e offlineEntry) error {
	data, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return q.store.Update(seq, data)
}

// wait sleeps backoff * 2^(attempt-1).
func (q *OfflineQueue) wait(ctx context.Context, attempt int) error {
	d := q.backoff
	for i := 1; i < attempt; i++ {
		d *= 2
	}
	return q.sleep(ctx, d)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Drain replays queued commands in FIFO order and returns how many were
// delivered. A transport failure stops the drain and marks the backend
// disconnected; the failed entry keeps its place and its attempt count.
func (g *Gateway) Drain(ctx context.Context) (int, error) {
	if g.queue == nil {
		return 0, nil
	}

	g.drainMu.Lock()
	defer g.drainMu.Unlock()

	q := g.queue
	delivered := 0

	for {
		seq, entry, err := q.head()
		if errors.Is(err, storage.ErrEmpty) {
			return delivered, nil
		}
		if err != nil {
			return delivered, fmt.Errorf("read offline queue: %w", err)
		}

		for {
			if !g.Connected() {
				return delivered, ErrDisconnected
			}

			req := protocol.NewCommandRequest(entry.Command, g.cfg.UserAgent, entry.Timestamp)
			resp, err := g.interpret(ctx, req)
			if err == nil {
				if err := q.store.Delete(seq); err != nil {
					return delivered, fmt.Errorf("delete offline entry: %w", err)
				}
				delivered++
				g.log.Info("Replayed offline command", "command", entry.Command, "title", resp.Title)
				break
			}

			if isTransport(err) {
				g.setConnected(false)
				return delivered, err
			}

			entry.Attempts++
			if entry.Attempts >= q.maxAttempts {
				g.log.Warn("Dropping offline command", "command", entry.Command, "attempts", entry.Attempts, "err", err)
				if err := q.store.Delete(seq); err != nil {
					return delivered, fmt.Errorf("delete offline entry: %w", err)
				}
				break
			}

			if err := q.save(seq, entry); err != nil {
				return delivered, fmt.Errorf("update offline entry: %w", err)
			}

			if err := q.wait(ctx, entry.Attempts); err != nil {
				return delivered, err
			}
		}
	}
}
