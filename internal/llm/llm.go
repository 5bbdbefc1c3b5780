// Package llm asks an OpenAI-compatible model for study advice after a
// diagnostic.
package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/pavelanni/boost/internal/diagnostic"
	"github.com/pavelanni/boost/internal/llm/prompts"
	"github.com/pavelanni/boost/internal/model"
)

// Advice is the model's recommendation for a level.
type Advice struct {
	Summary string   `json:"summary"`
	Focus   []string `json:"focus"`
}

// AdviceRequest describes the result the advice is for.
type AdviceRequest struct {
	Level          model.Level
	LevelLabel     string // localized, e.g. "B1 (Intermedio)"
	CorrectAnswers int
	Language       string // language name the advice should be written in
}

// Client wraps an OpenAI-compatible API client.
type Client struct {
	api     *openai.Client
	model   string
	variant prompts.Variant
}

// New creates a new LLM client. An empty variant means standard.
func New(baseURL, apiKey, modelName string, variant prompts.Variant) (*Client, error) {
	if err := prompts.Load(prompts.FS); err != nil {
		return nil, err
	}
	if variant == "" {
		variant = prompts.VariantStandard
	}
	if !prompts.IsValidVariant(string(variant)) {
		return nil, fmt.Errorf("invalid advice variant %q", variant)
	}

	config := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		config.BaseURL = baseURL
	}
	return &Client{
		api:     openai.NewClientWithConfig(config),
		model:   modelName,
		variant: variant,
	}, nil
}

// Ping checks that the endpoint answers and serves the configured model.
func (c *Client) Ping(ctx context.Context) error {
	models, err := c.api.ListModels(ctx)
	if err != nil {
		return fmt.Errorf("list models: %w", err)
	}
	for _, m := range models.Models {
		if m.ID == c.model {
			return nil
		}
	}
	return fmt.Errorf("model %q not served by endpoint", c.model)
}

// StudyAdvice asks the model for a short study recommendation.
func (c *Client) StudyAdvice(ctx context.Context, req AdviceRequest) (*Advice, error) {
	if !diagnostic.ValidLevel(req.Level) {
		return nil, fmt.Errorf("unknown level %q", req.Level)
	}
	label := req.LevelLabel
	if label == "" {
		label = string(req.Level)
	}

	systemPrompt, err := prompts.BuildAdvicePrompt(c.variant, prompts.AdviceData{
		Level:          string(req.Level),
		LevelLabel:     label,
		CorrectAnswers: req.CorrectAnswers,
		TotalQuestions: diagnostic.QuestionCount,
		Language:       req.Language,
	})
	if err != nil {
		return nil, fmt.Errorf("build prompt: %w", err)
	}

	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Temperature: 0.5,
	})
	if err != nil {
		return nil, fmt.Errorf("LLM API call: %w", err)
	}

	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("LLM returned no choices")
	}

	raw := resp.Choices[0].Message.Content
	slog.Debug("LLM response", "raw", raw)
	return parseAdvice(raw)
}

func parseAdvice(raw string) (*Advice, error) {
	// Some models wrap JSON in a code fence despite the response format.
	raw = strings.TrimSpace(raw)
	raw = strings.TrimPrefix(raw, "```json")
	raw = strings.TrimPrefix(raw, "```")
	raw = strings.TrimSuffix(raw, "```")

	var advice Advice
	if err := json.Unmarshal([]byte(raw), &advice); err != nil {
		return nil, fmt.Errorf("parse LLM response: %w (raw: %s)", err, raw)
	}
	advice.Summary = strings.TrimSpace(advice.Summary)
	if advice.Summary == "" {
		return nil, errors.New("LLM response has no summary")
	}
	return &advice, nil
}
