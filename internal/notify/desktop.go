package notify

import (
	"context"
	"log/slog"
	"os/exec"
	"time"

	"limone/internal/controller"
	"limone/pkg/protocol"
)

const (
	appName       = "LimoneIDE"
	notifyTimeout = 5 * time.Second
)

type desktopMsg struct {
	urgency string
	summary string
	body    string
}

// Desktop is a controller.View that raises notify-send popups for notices,
// rendered responses and connectivity changes. Popups are sent from a worker
// so the controller never waits on the notification daemon.
type Desktop struct {
	out chan desktopMsg
	log *slog.Logger
}

var _ controller.View = (*Desktop)(nil)

func NewDesktop(logger *slog.Logger) *Desktop {
	if logger == nil {
		logger = slog.Default()
	}
	return &Desktop{
		out: make(chan desktopMsg, 16),
		log: logger.With("component", "desktop"),
	}
}

// Run delivers popups until ctx ends.
func (d *Desktop) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case m := <-d.out:
			d.send(ctx, m)
		}
	}
}

func (d *Desktop) send(ctx context.Context, m desktopMsg) {
	ctx, cancel := context.WithTimeout(ctx, notifyTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "notify-send", "-a", appName, "-u", m.urgency, m.summary, m.body)
	if out, err := cmd.CombinedOutput(); err != nil {
		d.log.Debug("notify-send failed", "err", err, "output", string(out))
	}
}

func (d *Desktop) push(m desktopMsg) {
	select {
	case d.out <- m:
	default:
		d.log.Debug("Notification dropped", "summary", m.summary)
	}
}

func (d *Desktop) SetStatus(state controller.State, status string) {
	if state == controller.Listening {
		d.push(desktopMsg{urgency: "low", summary: appName, body: status})
	}
}

func (d *Desktop) Render(resp protocol.CommandResponse) {
	d.push(desktopMsg{
		urgency: "normal",
		summary: resp.Kind.Icon() + " " + resp.Title,
		body:    resp.Content,
	})
}

func (d *Desktop) Notice(n controller.Notice) {
	if n.Level == controller.LevelSuccess {
		return
	}
	urgency := "normal"
	if n.Level == controller.LevelError {
		urgency = "critical"
	}
	d.push(desktopMsg{urgency: urgency, summary: appName, body: n.Message})
}

func (d *Desktop) Connection(connected bool) {
	body := "백엔드 연결 끊김"
	if connected {
		body = "백엔드 연결됨"
	}
	d.push(desktopMsg{urgency: "low", summary: appName, body: body})
}
