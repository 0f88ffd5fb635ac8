// Package events publishes controller activity to a websocket hub so other
// front ends can mirror the assistant.
package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"

	"limone/internal/controller"
	"limone/pkg/protocol"
)

const (
	KindStatus     = "status"
	KindRender     = "render"
	KindNotice     = "notice"
	KindConnection = "connection"
)

type Event struct {
	Kind      string                    `json:"kind"`
	State     string                    `json:"state,omitempty"`
	Status    string                    `json:"status,omitempty"`
	Response  *protocol.CommandResponse `json:"response,omitempty"`
	Text      string                    `json:"text,omitempty"`
	Level     string                    `json:"level,omitempty"`
	Message   string                    `json:"message,omitempty"`
	Connected *bool                     `json:"connected,omitempty"`
}

const (
	DefaultReconnect = 5 * time.Second
	writeTimeout     = 5 * time.Second
	backlog          = 64
)

// Bus is a controller.View that forwards every call as an Event. Sends are
// queued and written by Run, so the controller never waits on the network.
// Events published while the hub is unreachable are dropped.
type Bus struct {
	url       string
	reconnect time.Duration
	dialer    *websocket.Dialer
	log       *slog.Logger

	out chan Event

	conn    *websocket.Conn
	retryAt time.Time
}

var _ controller.View = (*Bus)(nil)

func New(url string, reconnect time.Duration, logger *slog.Logger) *Bus {
	if reconnect <= 0 {
		reconnect = DefaultReconnect
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Bus{
		url:       url,
		reconnect: reconnect,
		dialer:    websocket.DefaultDialer,
		log:       logger.With("component", "events"),
		out:       make(chan Event, backlog),
	}
}

func (b *Bus) Publish(e Event) {
	select {
	case b.out <- e:
	default:
		b.log.Debug("Event backlog full, dropping", "kind", e.Kind)
	}
}

func (b *Bus) SetStatus(state controller.State, status string) {
	b.Publish(Event{Kind: KindStatus, State: state.String(), Status: status})
}

func (b *Bus) Render(resp protocol.CommandResponse) {
	b.Publish(Event{Kind: KindRender, Response: &resp, Text: resp.Text()})
}

func (b *Bus) Notice(n controller.Notice) {
	b.Publish(Event{Kind: KindNotice, Level: string(n.Level), Message: n.Message})
}

func (b *Bus) Connection(connected bool) {
	b.Publish(Event{Kind: KindConnection, Connected: &connected})
}

// Run writes queued events until ctx ends.
func (b *Bus) Run(ctx context.Context) {
	defer b.closeConn()

	for {
		select {
		case <-ctx.Done():
			return
		case e := <-b.out:
			b.write(ctx, e)
		}
	}
}

func (b *Bus) write(ctx context.Context, e Event) {
	payload, err := json.Marshal(e)
	if err != nil {
		b.log.Error("Failed to encode event", "kind", e.Kind, "err", err)
		return
	}

	// One redial per event: a stale connection usually shows up as the first
	// write error after the hub restarted.
	for attempt := 0; attempt < 2; attempt++ {
		if !b.ensureConn(ctx) {
			return
		}

		_ = b.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		err := b.conn.WriteMessage(websocket.TextMessage, payload)
		if err == nil {
			b.log.Debug("Event sent", "kind", e.Kind)
			return
		}

		b.log.Warn("Event write failed, reconnecting", "err", err)
		b.closeConn()
	}
}

func (b *Bus) ensureConn(ctx context.Context) bool {
	if b.conn != nil {
		return true
	}
	if time.Now().Before(b.retryAt) {
		return false
	}

	conn, _, err := b.dialer.DialContext(ctx, b.url, nil)
	if err != nil {
		b.retryAt = time.Now().Add(b.reconnect)
		b.log.Debug("Hub unreachable", "url", b.url, "err", err)
		return false
	}

	b.log.Info("Connected to event hub", "url", b.url)
	b.conn = conn
	go b.discardReads(conn)
	return true
}

// discardReads services control frames; the hub is not expected to talk back.
func (b *Bus) discardReads(conn *websocket.Conn) {
	for {
		if _, _, err := conn.NextReader(); err != nil {
			return
		}
	}
}

func (b *Bus) closeConn() {
	if b.conn == nil {
		return
	}
	_ = b.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	_ = b.conn.Close()
	b.conn = nil
}
