// Package protocol holds the JSON types exchanged with the LimoneIDE interpreter backend.
package protocol

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

type Kind string

const (
	KindWebsite    Kind = "website"
	KindEmail      Kind = "email"
	KindSchedule   Kind = "schedule"
	KindDocument   Kind = "document"
	KindAutomation Kind = "automation"
	KindGeneral    Kind = "general"
)

var icons = map[Kind]string{
	KindWebsite:    "🌐",
	KindEmail:      "📧",
	KindSchedule:   "📅",
	KindDocument:   "📄",
	KindAutomation: "⚙️",
	KindGeneral:    "🎯",
}

// Icon returns the history icon for k. Unknown kinds get the general icon.
func (k Kind) Icon() string {
	if icon, ok := icons[k]; ok {
		return icon
	}
	return icons[KindGeneral]
}

// Normalize maps unknown or empty kinds to KindGeneral.
func (k Kind) Normalize() Kind {
	if _, ok := icons[k]; ok {
		return k
	}
	return KindGeneral
}

// CommandRequest is the body of POST /voice-command.
type CommandRequest struct {
	Command   string `json:"command"`
	Timestamp string `json:"timestamp"`
	UserAgent string `json:"user_agent,omitempty"`
}

func NewCommandRequest(command, userAgent string, now time.Time) CommandRequest {
	return CommandRequest{
		Command:   command,
		Timestamp: now.UTC().Format(time.RFC3339Nano),
		UserAgent: userAgent,
	}
}

type CommandResponse struct {
	Title   string   `json:"title"`
	Content string   `json:"content"`
	Kind    Kind     `json:"type"`
	URL     string   `json:"url,omitempty"`
	Speak   string   `json:"speak,omitempty"`
	Steps   []string `json:"steps,omitempty"`
}

var (
	ErrNoTitle   = errors.New("response has no title")
	ErrNoContent = errors.New("response has no content")
)

// Validate reports whether r can be shown to the user as is.
func (r CommandResponse) Validate() error {
	if strings.TrimSpace(r.Title) == "" {
		return ErrNoTitle
	}
	if strings.TrimSpace(r.Content) == "" {
		return ErrNoContent
	}
	return nil
}

// Text renders r as plain text: title, content, link and steps.
func (r CommandResponse) Text() string {
	var sb strings.Builder
	if r.Title != "" {
		sb.WriteString(r.Title)
		sb.WriteString("\n")
	}
	if r.Content != "" {
		sb.WriteString(r.Content)
		sb.WriteString("\n")
	}
	if r.URL != "" {
		fmt.Fprintf(&sb, "🔗 결과 보기: %s\n", r.URL)
	}
	for _, step := range r.Steps {
		fmt.Fprintf(&sb, "• %s\n", step)
	}
	return strings.TrimRight(sb.String(), "\n")
}

// Task is one history record. It is never modified after creation.
type Task struct {
	ID      string `json:"id"`
	Title   string `json:"title"`
	Time    string `json:"time"`
	Icon    string `json:"icon"`
	Command string `json:"command"`
}

// TaskList is the body of GET /recent-tasks.
type TaskList struct {
	Tasks []Task `json:"tasks"`
}

// Feedback is the body of POST /feedback.
type Feedback struct {
	Rating  int    `json:"rating"`
	Comment string `json:"comment"`
	Command string `json:"command,omitempty"`
}

// Insights is the opaque aggregate served by GET /user-insights.
type Insights map[string]any

// KoreanClock formats t the way ko-KR locale time strings look: "오후 2:05:09".
func KoreanClock(t time.Time) string {
	half := "오전"
	if t.Hour() >= 12 {
		half = "오후"
	}
	h := t.Hour() % 12
	if h == 0 {
		h = 12
	}
	return fmt.Sprintf("%s %d:%02d:%02d", half, h, t.Minute(), t.Second())
}
