package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	openai "github.com/openai/openai-go/v3"

	"limone/pkg/protocol"
)

const interpreterPrompt = `
You are the command interpreter of LimoneIDE, a Korean voice automation assistant.
Convert the user's spoken command into ONE JSON object describing the result.

RULES:
1. Output ONLY JSON. No markdown, no explanations.
2. Write title, content, speak and steps in Korean.
3. Never invent URLs. Omit "url" unless the user gave one.

OUTPUT FORMAT:
{
  "title": "<short headline>",
  "content": "<one or two sentences>",
  "type": "website" | "email" | "schedule" | "document" | "automation" | "general",
  "speak": "<short sentence to read aloud>",
  "steps": ["<optional step>", ...]
}

If the meaning is unclear use "type": "general" and restate the command in content.
`

// OpenAIInterpreter is a Remote backed by a chat completion model, for
// deployments without the LimoneIDE server.
type OpenAIInterpreter struct {
	client openai.Client
	model  string
	log    *slog.Logger
}

func NewOpenAIInterpreter(client openai.Client, model string, logger *slog.Logger) *OpenAIInterpreter {
	if model == "" {
		model = openai.ChatModelGPT5Nano
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &OpenAIInterpreter{
		client: client,
		model:  model,
		log:    logger.With("component", "openai"),
	}
}

func (o *OpenAIInterpreter) Health(ctx context.Context) error {
	if _, err := o.client.Models.Get(ctx, o.model); err != nil {
		return convertAPIError(err)
	}
	return nil
}

func (o *OpenAIInterpreter) Interpret(ctx context.Context, req protocol.CommandRequest) (protocol.CommandResponse, error) {
	resp, err := o.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(interpreterPrompt),
			openai.UserMessage(req.Command),
		},
		Model: o.model,
	})
	if err != nil {
		return protocol.CommandResponse{}, fmt.Errorf("chat completion: %w", convertAPIError(err))
	}

	if len(resp.Choices) == 0 {
		return protocol.CommandResponse{}, fmt.Errorf("%w: no choices in response", ErrMalformed)
	}

	content := resp.Choices[0].Message.Content
	o.log.Debug("Interpreted", "data", content)

	return parseInterpretation(content)
}

func parseInterpretation(content string) (protocol.CommandResponse, error) {
	content = strings.TrimSpace(content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")
	content = strings.TrimSpace(content)

	if content == "" {
		return protocol.CommandResponse{}, fmt.Errorf("%w: empty message content", ErrMalformed)
	}

	var out protocol.CommandResponse
	if err := json.Unmarshal([]byte(content), &out); err != nil {
		return protocol.CommandResponse{}, fmt.Errorf("%w: %w (raw: %s)", ErrMalformed, err, content)
	}
	return out, nil
}

// convertAPIError turns API status failures into StatusError so they do not
// count as connectivity loss.
func convertAPIError(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return &StatusError{Code: apiErr.StatusCode, Body: apiErr.Message}
	}
	return err
}
