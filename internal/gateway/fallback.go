package gateway

import (
	"fmt"
	"strings"

	"limone/pkg/protocol"
)

// Rule pairs a predicate over the command text with the response it produces.
type Rule struct {
	Name    string
	Match   func(command string) bool
	Respond func(command string) protocol.CommandResponse
}

func contains(keyword string) func(string) bool {
	return func(command string) bool {
		return strings.Contains(command, keyword)
	}
}

func fixed(resp protocol.CommandResponse) func(string) protocol.CommandResponse {
	return func(string) protocol.CommandResponse {
		return resp
	}
}

const DemoSiteURL = "https://sites.google.com/view/demo-site"

// DefaultRules is the local responder used whenever the remote interpreter is
// unreachable. Order matters: the first matching rule wins.
func DefaultRules() []Rule {
	return []Rule{
		{
			Name:  "website",
			Match: contains("웹사이트"),
			Respond: fixed(protocol.CommandResponse{
				Title:   "웹사이트 생성 완료",
				Content: "요청하신 웹사이트가 성공적으로 생성되었습니다.",
				Kind:    protocol.KindWebsite,
				URL:     DemoSiteURL,
				Speak:   "웹사이트가 성공적으로 생성되었습니다.",
			}),
		},
		{
			Name:  "email",
			Match: contains("이메일"),
			Respond: fixed(protocol.CommandResponse{
				Title:   "이메일 작성 완료",
				Content: "이메일이 작성되었습니다. 확인해보세요.",
				Kind:    protocol.KindEmail,
				Speak:   "이메일이 작성되었습니다.",
			}),
		},
		{
			Name:  "schedule",
			Match: contains("일정"),
			Respond: fixed(protocol.CommandResponse{
				Title:   "일정 관리 완료",
				Content: "일정이 성공적으로 관리되었습니다.",
				Kind:    protocol.KindSchedule,
				Speak:   "일정이 관리되었습니다.",
			}),
		},
		{
			Name:  "document",
			Match: contains("문서"),
			Respond: fixed(protocol.CommandResponse{
				Title:   "문서 요약 완료",
				Content: "문서가 성공적으로 요약되었습니다.",
				Kind:    protocol.KindDocument,
				Speak:   "문서 요약이 완료되었습니다.",
			}),
		},
	}
}

func generalResponse(command string) protocol.CommandResponse {
	return protocol.CommandResponse{
		Title:   "명령 처리 완료",
		Content: fmt.Sprintf("\"%s\" 명령이 성공적으로 처리되었습니다.", command),
		Kind:    protocol.KindGeneral,
		Speak:   "명령이 처리되었습니다.",
	}
}

// Respond evaluates rules top to bottom. With no match, or when a rule yields
// an incomplete response, the generic answer echoing the command is returned.
func Respond(rules []Rule, command string) protocol.CommandResponse {
	for _, r := range rules {
		if r.Match == nil || r.Respond == nil || !r.Match(command) {
			continue
		}
		resp := r.Respond(command)
		if resp.Validate() != nil {
			break
		}
		return resp
	}
	return generalResponse(command)
}

func demoInsights() protocol.Insights {
	return protocol.Insights{
		"totalConversations": 15,
		"preferredTopics":    []string{"website", "email", "schedule"},
		"productivityScore":  85,
		"mostUsedCommands": []map[string]any{
			{"command": "웹사이트 만들어줘", "count": 8},
			{"command": "이메일 보내줘", "count": 5},
			{"command": "일정 관리해줘", "count": 2},
		},
		"suggestions": []string{
			"자주 사용하는 명령을 음성 단축키로 설정해보세요",
			"새로운 자동화 워크플로우를 만들어보세요",
			"프로젝트 템플릿을 활용해보세요",
		},
	}
}
