package main

import (
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"limone/internal/ipc"
)

var (
	titleStyle = lipgloss.NewStyle().Bold(true)
	dimStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	okStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	warnStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("3"))
)

func render(cmd string, r ipc.ControlReply) string {
	switch cmd {
	case ipc.CmdHistory:
		return renderHistory(r)
	case ipc.CmdStatus:
		return renderStatus(r)
	case ipc.CmdInsights:
		return renderInsights(r)
	}

	var parts []string
	if r.State != "" {
		parts = append(parts, titleStyle.Render(r.State))
	}
	if r.Message != "" {
		parts = append(parts, r.Message)
	}
	if len(parts) == 0 {
		return okStyle.Render("ok")
	}
	return strings.Join(parts, ": ")
}

func renderHistory(r ipc.ControlReply) string {
	if len(r.Tasks) == 0 {
		return dimStyle.Render("최근 작업이 없습니다.")
	}

	lines := make([]string, 0, len(r.Tasks))
	for _, t := range r.Tasks {
		lines = append(lines, fmt.Sprintf("%s %s  %s  %s",
			t.Icon, titleStyle.Render(t.Title), dimStyle.Render(t.Time), dimStyle.Render("#"+t.ID)))
	}
	return lipgloss.JoinVertical(lipgloss.Left, lines...)
}

func renderStatus(r ipc.ControlReply) string {
	conn := warnStyle.Render("offline (demo mode)")
	if r.Connected != nil && *r.Connected {
		conn = okStyle.Render("connected")
	}

	lines := []string{
		"state:   " + titleStyle.Render(r.State),
		"backend: " + conn,
	}
	if r.Status != "" {
		lines = append(lines, "status:  "+r.Status)
	}
	return lipgloss.JoinVertical(lipgloss.Left, lines...)
}

func renderInsights(r ipc.ControlReply) string {
	lines := make([]string, 0, len(r.Insights))
	for _, k := range slices.Sorted(maps.Keys(r.Insights)) {
		lines = append(lines, fmt.Sprintf("%s %v", dimStyle.Render(k+":"), r.Insights[k]))
	}
	return lipgloss.JoinVertical(lipgloss.Left, lines...)
}
