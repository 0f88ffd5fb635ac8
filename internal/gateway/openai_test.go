package gateway

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"limone/pkg/protocol"
)

func TestParseInterpretation(t *testing.T) {
	raw := "```json\n{\"title\":\"이메일 작성 완료\",\"content\":\"초안을 만들었습니다.\",\"type\":\"email\",\"speak\":\"완료\"}\n```"

	resp, err := parseInterpretation(raw)
	require.NoError(t, err)
	assert.Equal(t, "이메일 작성 완료", resp.Title)
	assert.Equal(t, protocol.KindEmail, resp.Kind)
	assert.Equal(t, "완료", resp.Speak)
}

func TestParseInterpretationMalformed(t *testing.T) {
	for _, raw := range []string{"", "   ", "sure! here you go", "{\"title\": 3}"} {
		_, err := parseInterpretation(raw)
		assert.ErrorIs(t, err, ErrMalformed, raw)
	}
}

func TestConvertAPIErrorPassesThrough(t *testing.T) {
	err := assert.AnError
	assert.Equal(t, err, convertAPIError(err))
	assert.True(t, isTransport(convertAPIError(err)))
}
