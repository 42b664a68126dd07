// Package llm sends prompts with images to a hosted vision/chat model
// through langchaingo.
package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/anthropic"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/raphaelgruber/observer/internal/config"
	"github.com/raphaelgruber/observer/internal/metrics"
	"github.com/raphaelgruber/observer/internal/models"
)

// Fixed sampling parameters for every inference call.
const (
	Temperature      = 1.0
	MaxTokens        = 2048
	TopP             = 1.0
	FrequencyPenalty = 0.0
	PresencePenalty  = 0.0
)

// ImageRef is one image attached to a prompt.
type ImageRef struct {
	MIMEType string
	Data     []byte
}

// Completion is the provider reply in chat-completion shape:
// object, created, model, choices[].message.content,
// choices[].finish_reason and usage.
type Completion map[string]any

// Content returns the text of the first choice.
func (c Completion) Content() string {
	return models.CompletionContent(c)
}

// Model wraps a langchaingo chat model.
type Model struct {
	llm       llms.Model
	modelName string
	metrics   *metrics.Collector
	now       func() time.Time
}

// NewModel creates the chat model for the configured provider.
func NewModel(cfg config.Config, mc *metrics.Collector) (*Model, error) {
	var model llms.Model
	var err error

	switch cfg.LLMProvider {
	case config.ProviderOllama:
		model, err = ollama.New(
			ollama.WithModel(cfg.LLMModel),
			ollama.WithServerURL(cfg.OllamaHost),
		)
		if err != nil {
			return nil, fmt.Errorf("create ollama model: %w", err)
		}

	case config.ProviderOpenAI:
		if cfg.OpenAIAPIKey == "" {
			return nil, errors.New("OPENAI_API_KEY environment variable is not set")
		}
		model, err = openai.New(
			openai.WithToken(cfg.OpenAIAPIKey),
			openai.WithModel(cfg.LLMModel),
		)
		if err != nil {
			return nil, fmt.Errorf("create openai model: %w", err)
		}

	case config.ProviderAnthropic:
		if cfg.AnthropicAPIKey == "" {
			return nil, errors.New("ANTHROPIC_API_KEY environment variable is not set")
		}
		model, err = anthropic.New(
			anthropic.WithToken(cfg.AnthropicAPIKey),
			anthropic.WithModel(cfg.LLMModel),
		)
		if err != nil {
			return nil, fmt.Errorf("create anthropic model: %w", err)
		}

	default:
		return nil, fmt.Errorf("unsupported LLM provider: %s", cfg.LLMProvider)
	}

	return NewModelWithLLM(model, cfg.LLMModel, mc), nil
}

// NewModelWithLLM wraps an existing langchaingo model.
func NewModelWithLLM(model llms.Model, modelName string, mc *metrics.Collector) *Model {
	return &Model{
		llm:       model,
		modelName: modelName,
		metrics:   mc,
		now:       time.Now,
	}
}

// Model returns the model name.
func (m *Model) Model() string {
	return m.modelName
}

// Infer sends one user turn made of the prompt and the images and returns
// the provider's reply. Failures wrap ErrUpstream. There is no retry.
func (m *Model) Infer(ctx context.Context, prompt string, images []ImageRef) (Completion, error) {
	parts := make([]llms.ContentPart, 0, len(images)+1)
	parts = append(parts, llms.TextPart(prompt))
	for _, img := range images {
		parts = append(parts, llms.BinaryPart(img.MIMEType, img.Data))
	}
	messages := []llms.MessageContent{
		{Role: llms.ChatMessageTypeHuman, Parts: parts},
	}

	slog.Info("sending inference request", "model", m.modelName, "images", len(images), "prompt_len", len(prompt))

	start := m.now()
	resp, err := m.llm.GenerateContent(ctx, messages, callOptions()...)
	duration := time.Since(start)

	if err == nil && (resp == nil || len(resp.Choices) == 0) {
		err = errors.New("no response choices")
	}
	if err != nil {
		m.metrics.RecordInference(duration, 0, 0, err)
		slog.Warn("inference failed", "model", m.modelName, "duration_ms", duration.Milliseconds(), "error", err)
		return nil, upstreamError(err)
	}

	completion := toCompletion(resp, m.modelName, start)
	usage, _ := completion["usage"].(map[string]any)
	in, _ := usage["prompt_tokens"].(int64)
	out, _ := usage["completion_tokens"].(int64)
	m.metrics.RecordInference(duration, in, out, nil)

	slog.Info("inference complete", "model", m.modelName, "duration_ms", duration.Milliseconds(),
		"prompt_tokens", in, "completion_tokens", out)
	return completion, nil
}

func callOptions() []llms.CallOption {
	return []llms.CallOption{
		llms.WithTemperature(Temperature),
		llms.WithMaxTokens(MaxTokens),
		llms.WithTopP(TopP),
		llms.WithFrequencyPenalty(FrequencyPenalty),
		llms.WithPresencePenalty(PresencePenalty),
	}
}

// toCompletion renders a langchaingo response as a chat-completion document.
func toCompletion(resp *llms.ContentResponse, model string, created time.Time) Completion {
	choices := make([]any, 0, len(resp.Choices))
	for i, c := range resp.Choices {
		choices = append(choices, map[string]any{
			"index":         i,
			"message":       map[string]any{"role": "assistant", "content": c.Content},
			"finish_reason": c.StopReason,
		})
	}

	var info map[string]any
	if len(resp.Choices) > 0 {
		info = resp.Choices[0].GenerationInfo
	}
	prompt := tokenCount(info, "PromptTokens", "InputTokens")
	completion := tokenCount(info, "CompletionTokens", "OutputTokens")
	total := tokenCount(info, "TotalTokens")
	if total == 0 {
		total = prompt + completion
	}

	return Completion{
		"object":  "chat.completion",
		"created": created.Unix(),
		"model":   model,
		"choices": choices,
		"usage": map[string]any{
			"prompt_tokens":     prompt,
			"completion_tokens": completion,
			"total_tokens":      total,
		},
	}
}

// tokenCount reads the first present key from provider generation info.
// Providers report counts as int, int32, int64 or float64.
func tokenCount(info map[string]any, keys ...string) int64 {
	for _, k := range keys {
		switch v := info[k].(type) {
		case int:
			return int64(v)
		case int32:
			return int64(v)
		case int64:
			return v
		case float64:
			return int64(v)
		}
	}
	return 0
}
