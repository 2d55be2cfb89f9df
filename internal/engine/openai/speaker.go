package openai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/openai/openai-go/v3"
)

const (
	DefaultSpeechModel = "tts-1"
	DefaultVoice       = "alloy"
)

type SpeakerConfig struct {
	APIKey  string
	BaseURL string
	Model   string
	Voice   string
	Format  string
	Timeout time.Duration
}

// Speaker synthesizes speech through the audio/speech endpoint.
type Speaker struct {
	client  openai.Client
	model   string
	voice   string
	format  string
	timeout time.Duration
}

func NewSpeaker(cfg SpeakerConfig) (*Speaker, error) {
	if cfg.APIKey == "" {
		return nil, ErrAPIKeyNotSet
	}
	if cfg.Model == "" {
		cfg.Model = DefaultSpeechModel
	}
	if cfg.Voice == "" {
		cfg.Voice = DefaultVoice
	}
	if cfg.Format == "" {
		cfg.Format = "mp3"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}

	return &Speaker{
		client:  openai.NewClient(clientOptions(cfg.APIKey, cfg.BaseURL)...),
		model:   cfg.Model,
		voice:   cfg.Voice,
		format:  cfg.Format,
		timeout: cfg.Timeout,
	}, nil
}

// Synthesize returns encoded audio for text. The model detects the spoken
// language itself.
func (s *Speaker) Synthesize(ctx context.Context, text, lang string) ([]byte, error) {
	if text == "" {
		return nil, fmt.Errorf("synthesize %s: empty text", lang)
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	resp, err := s.client.Audio.Speech.New(ctx, openai.AudioSpeechNewParams{
		Input:          text,
		Model:          openai.SpeechModel(s.model),
		Voice:          openai.AudioSpeechNewParamsVoice(s.voice),
		ResponseFormat: openai.AudioSpeechNewParamsResponseFormat(s.format),
	})
	if err != nil {
		return nil, fmt.Errorf("speech request: %w", err)
	}
	defer resp.Body.Close()

	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read speech response: %w", err)
	}
	if len(audio) == 0 {
		return nil, errors.New("speech request: empty audio")
	}
	return audio, nil
}
