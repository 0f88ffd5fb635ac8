package protocol

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestKindIcon(t *testing.T) {
	assert.Equal(t, "🌐", KindWebsite.Icon())
	assert.Equal(t, "📧", KindEmail.Icon())
	assert.Equal(t, "📅", KindSchedule.Icon())
	assert.Equal(t, "📄", KindDocument.Icon())
	assert.Equal(t, "🎯", KindGeneral.Icon())
	assert.Equal(t, "🎯", Kind("weather").Icon())
	assert.Equal(t, "🎯", Kind("").Icon())
}

func TestKindNormalize(t *testing.T) {
	assert.Equal(t, KindEmail, KindEmail.Normalize())
	assert.Equal(t, KindGeneral, Kind("unknown").Normalize())
}

func TestCommandResponseValidate(t *testing.T) {
	assert.NoError(t, CommandResponse{Title: "t", Content: "c"}.Validate())
	assert.ErrorIs(t, CommandResponse{Content: "c"}.Validate(), ErrNoTitle)
	assert.ErrorIs(t, CommandResponse{Title: "t", Content: "  "}.Validate(), ErrNoContent)
}

func TestCommandResponseText(t *testing.T) {
	r := CommandResponse{
		Title:   "웹사이트 생성 완료",
		Content: "완료되었습니다.",
		URL:     "https://example.com",
		Steps:   []string{"one", "two"},
	}

	want := "웹사이트 생성 완료\n완료되었습니다.\n🔗 결과 보기: https://example.com\n• one\n• two"
	assert.Equal(t, want, r.Text())
}

func TestNewCommandRequest(t *testing.T) {
	now := time.Date(2025, 3, 1, 9, 30, 0, 0, time.UTC)
	req := NewCommandRequest("이메일 보내줘", "agent/1", now)

	assert.Equal(t, "이메일 보내줘", req.Command)
	assert.Equal(t, "2025-03-01T09:30:00Z", req.Timestamp)
	assert.Equal(t, "agent/1", req.UserAgent)
}

func TestKoreanClock(t *testing.T) {
	assert.Equal(t, "오전 12:05:09", KoreanClock(time.Date(2025, 1, 1, 0, 5, 9, 0, time.Local)))
	assert.Equal(t, "오전 11:00:00", KoreanClock(time.Date(2025, 1, 1, 11, 0, 0, 0, time.Local)))
	assert.Equal(t, "오후 12:30:00", KoreanClock(time.Date(2025, 1, 1, 12, 30, 0, 0, time.Local)))
	assert.Equal(t, "오후 2:30:05", KoreanClock(time.Date(2025, 1, 1, 14, 30, 5, 0, time.Local)))
}
