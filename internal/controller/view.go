package controller

import (
	"log/slog"

	"limone/pkg/protocol"
)

type Level string

const (
	LevelSuccess Level = "success"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

// Notice is a transient user-facing message.
type Notice struct {
	Level   Level  `json:"level"`
	Message string `json:"message"`
}

// View is a presentation layer. The controller calls it while holding its
// state lock, so implementations must not block or call back.
type View interface {
	SetStatus(state State, status string)
	Render(resp protocol.CommandResponse)
	Notice(n Notice)
	Connection(connected bool)
}

type multiView []View

// Views fans every call out to each non-nil view in order.
func Views(views ...View) View {
	out := make(multiView, 0, len(views))
	for _, v := range views {
		if v != nil {
			out = append(out, v)
		}
	}
	return out
}

func (m multiView) SetStatus(state State, status string) {
	for _, v := range m {
		v.SetStatus(state, status)
	}
}

func (m multiView) Render(resp protocol.CommandResponse) {
	for _, v := range m {
		v.Render(resp)
	}
}

func (m multiView) Notice(n Notice) {
	for _, v := range m {
		v.Notice(n)
	}
}

func (m multiView) Connection(connected bool) {
	for _, v := range m {
		v.Connection(connected)
	}
}

// LogView writes every event to a logger.
type LogView struct {
	Log *slog.Logger
}

func (l LogView) SetStatus(state State, status string) {
	l.Log.Debug("State", "state", state, "status", status)
}

func (l LogView) Render(resp protocol.CommandResponse) {
	l.Log.Info("──────── LIMONE ────────")
	l.Log.Info("title:  ", "text", resp.Title)
	l.Log.Info("content:", "text", resp.Content)
	if resp.URL != "" {
		l.Log.Info("url:    ", "url", resp.URL)
	}
	for i, step := range resp.Steps {
		l.Log.Info("step:   ", "n", i+1, "text", step)
	}
	l.Log.Info("────────────────────────")
}

func (l LogView) Notice(n Notice) {
	switch n.Level {
	case LevelError:
		l.Log.Error(n.Message)
	case LevelWarning:
		l.Log.Warn(n.Message)
	default:
		l.Log.Info(n.Message)
	}
}

func (l LogView) Connection(connected bool) {
	if connected {
		l.Log.Info("연결됨")
	} else {
		l.Log.Warn("연결 끊김")
	}
}
