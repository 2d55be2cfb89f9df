// Package openai adapts the OpenAI API to the translation and synthesis
// engine contracts.
package openai

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/shared"
	"golang.org/x/text/language"
	"golang.org/x/text/language/display"
)

const (
	DefaultModel   = "gpt-4o-mini"
	DefaultTimeout = 60 * time.Second
)

var (
	ErrAPIKeyNotSet  = errors.New("openai api key not set")
	ErrEmptyResponse = errors.New("no completion choices returned")
)

type TranslatorConfig struct {
	APIKey         string
	BaseURL        string
	Model          string
	TargetLanguage string
	Temperature    float64
	Timeout        time.Duration
}

// Translator translates text with a chat completion model.
type Translator struct {
	client      openai.Client
	model       string
	target      language.Tag
	temperature float64
	timeout     time.Duration
}

func NewTranslator(cfg TranslatorConfig) (*Translator, error) {
	if cfg.APIKey == "" {
		return nil, ErrAPIKeyNotSet
	}
	target, err := language.Parse(cfg.TargetLanguage)
	if err != nil {
		return nil, fmt.Errorf("parse target language: %w", err)
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}

	return &Translator{
		client:      openai.NewClient(clientOptions(cfg.APIKey, cfg.BaseURL)...),
		model:       cfg.Model,
		target:      target,
		temperature: cfg.Temperature,
		timeout:     cfg.Timeout,
	}, nil
}

func clientOptions(apiKey, baseURL string) []option.RequestOption {
	// Failed calls fall back to the source text instead of being retried.
	opts := []option.RequestOption{option.WithAPIKey(apiKey), option.WithMaxRetries(0)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return opts
}

func (t *Translator) Translate(ctx context.Context, text, sourceLang string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	params := openai.ChatCompletionNewParams{
		Model: shared.ChatModel(t.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemPrompt(sourceLang, t.target)),
			openai.UserMessage(text),
		},
		Temperature: openai.Float(t.temperature),
	}

	completion, err := t.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(completion.Choices) == 0 {
		return "", ErrEmptyResponse
	}
	return strings.TrimSpace(completion.Choices[0].Message.Content), nil
}

func systemPrompt(sourceLang string, target language.Tag) string {
	from := "the source language"
	if tag, err := language.Parse(sourceLang); err == nil && sourceLang != "" {
		from = displayName(tag)
	}
	return fmt.Sprintf(
		"Translate the user's text from %s into %s. "+
			"Keep paragraph breaks and sentence order. "+
			"Reply with the translation only.",
		from, displayName(target),
	)
}

func displayName(tag language.Tag) string {
	if name := display.English.Tags().Name(tag); name != "" {
		return name
	}
	return tag.String()
}
