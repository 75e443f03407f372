package extraction

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ashureev/batchbot/internal/domain"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
)

// OpenAIConfig configures the OpenAI-compatible extractor.
type OpenAIConfig struct {
	Model       string
	APIKey      string
	BaseURL     string
	Temperature float64
}

// OpenAIExtractor calls an OpenAI-compatible chat model in JSON mode.
type OpenAIExtractor struct {
	model       llms.Model
	temperature float64
	logger      *slog.Logger
}

// NewOpenAI creates an extractor backed by langchaingo's OpenAI client.
func NewOpenAI(cfg OpenAIConfig, logger *slog.Logger) (*OpenAIExtractor, error) {
	opts := []openai.Option{
		openai.WithModel(cfg.Model),
		openai.WithToken(cfg.APIKey),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
	}

	model, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("create openai client: %w", err)
	}
	return newOpenAIExtractor(model, cfg.Temperature, logger), nil
}

func newOpenAIExtractor(model llms.Model, temperature float64, logger *slog.Logger) *OpenAIExtractor {
	if logger == nil {
		logger = slog.Default()
	}
	return &OpenAIExtractor{model: model, temperature: temperature, logger: logger}
}

// Extract sends the history as chat messages and returns the first choice.
func (e *OpenAIExtractor) Extract(ctx context.Context, history []domain.Message) (string, error) {
	messages := make([]llms.MessageContent, 0, len(history))
	for _, m := range history {
		messages = append(messages, llms.TextParts(messageType(m.Role), m.Content))
	}

	resp, err := e.model.GenerateContent(ctx, messages,
		llms.WithTemperature(e.temperature),
		llms.WithJSONMode(),
	)
	if err != nil {
		return "", domain.Upstream("extraction", err)
	}
	if len(resp.Choices) == 0 {
		return "", domain.Upstream("extraction", errors.New("model returned no choices"))
	}

	content := resp.Choices[0].Content
	e.logger.Debug("extraction completed", "messages", len(messages), "bytes", len(content))
	return content, nil
}

func messageType(role string) llms.ChatMessageType {
	switch role {
	case domain.RoleSystem:
		return llms.ChatMessageTypeSystem
	case domain.RoleAssistant:
		return llms.ChatMessageTypeAI
	default:
		return llms.ChatMessageTypeHuman
	}
}
