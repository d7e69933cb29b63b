package oracle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/pdnlabs/pdn-chat/internal/domain"
)

// OpenAIClient implements Client against the OpenAI chat completions API.
type OpenAIClient struct {
	client      openai.Client
	model       string
	temperature float64
}

// NewOpenAI creates a completion client for the given model.
func NewOpenAI(apiKey, model string, temperature float64) *OpenAIClient {
	return &OpenAIClient{
		client:      openai.NewClient(option.WithAPIKey(apiKey)),
		model:       model,
		temperature: temperature,
	}
}

// Complete sends the full ordered history and returns the parsed result.
// Failures are classified as domain.ErrOracleUnavailable; no retries happen
// here, retry policy belongs to the caller.
func (c *OpenAIClient) Complete(ctx context.Context, turns []domain.Turn) (*Result, error) {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(turns))
	for i := range turns {
		t := &turns[i]
		switch t.Role {
		case domain.RoleSystem:
			messages = append(messages, openai.SystemMessage(t.Content))
		case domain.RoleUser:
			messages = append(messages, openai.UserMessage(t.Content))
		case domain.RoleAssistant:
			messages = append(messages, openai.AssistantMessage(t.Content))
		default:
			slog.Warn("Skipping turn with unknown role", "role", t.Role)
		}
	}

	start := time.Now()
	resp, err := c.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model:       openai.ChatModel(c.model),
		Messages:    messages,
		Temperature: openai.Float(c.temperature),
	})
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, fmt.Errorf("completion canceled: %w", err)
		}
		return nil, fmt.Errorf("%w: %v", domain.ErrOracleUnavailable, err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("%w: completion returned no choices", domain.ErrOracleUnavailable)
	}

	result := ParseSignals(resp.Choices[0].Message.Content)
	slog.Debug("Completion generated",
		"model", c.model,
		"turns", len(turns),
		"reply_chars", len(result.Text),
		"advance", result.Advance,
		"duration", time.Since(start))

	return result, nil
}
