// Package deepgram streams microphone audio to Deepgram's live transcription websocket.
package deepgram

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/gorilla/websocket"

	"agrivoice/internal/domain"
	"agrivoice/internal/ports"
)

const (
	defaultBaseURL  = "https://api.deepgram.com/v1"
	defaultModel    = "nova-2"
	defaultLanguage = "ja"
)

// ErrMissingAPIKey is returned when no API key was configured.
var ErrMissingAPIKey = errors.New("deepgram API key is not configured")

// Config controls the listen endpoint.
type Config struct {
	APIKey     string
	APIBaseURL string
	Model      string
	Language   string
	// Endpointing is the silence in milliseconds after which Deepgram marks speech final.
	// Zero leaves the server default.
	Endpointing int
	// UtteranceEndMs enables UtteranceEnd messages when positive.
	UtteranceEndMs int
	SmartFormat    bool
	Keywords       []string
}

// Provider implements ports.TranscriptionProvider.
type Provider struct {
	cfg    Config
	dialer *websocket.Dialer
}

func NewProvider(cfg Config) *Provider {
	cfg.APIBaseURL = strings.TrimSpace(cfg.APIBaseURL)
	if cfg.APIBaseURL == "" {
		cfg.APIBaseURL = defaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}
	if cfg.Language == "" {
		cfg.Language = defaultLanguage
	}
	return &Provider{cfg: cfg, dialer: websocket.DefaultDialer}
}

func (p *Provider) StartStreaming(ctx context.Context, cfg ports.StreamingConfig) (ports.StreamingSession, error) {
	if strings.TrimSpace(p.cfg.APIKey) == "" {
		return nil, ErrMissingAPIKey
	}
	endpoint, err := listenURL(p.cfg, cfg)
	if err != nil {
		return nil, err
	}

	headers := http.Header{}
	headers.Set("Authorization", "Token "+p.cfg.APIKey)
	conn, resp, err := p.dialer.DialContext(ctx, endpoint, headers)
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return nil, fmt.Errorf("deepgram rejected the API key (%s): %w", resp.Status, err)
		}
		return nil, fmt.Errorf("failed to connect to deepgram: %w", err)
	}
	return newSession(ctx, conn), nil
}

func listenURL(providerCfg Config, streamCfg ports.StreamingConfig) (string, error) {
	base := strings.TrimSpace(providerCfg.APIBaseURL)
	if base == "" {
		base = defaultBaseURL
	}
	switch {
	case strings.HasPrefix(base, "https://"):
		base = "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}

	u, err := url.Parse(strings.TrimRight(base, "/") + "/listen")
	if err != nil {
		return "", fmt.Errorf("invalid deepgram base URL: %w", err)
	}

	encoding := streamCfg.Encoding
	if encoding == "" {
		encoding = "linear16"
	}
	rate := streamCfg.SampleRate
	if rate <= 0 {
		rate = 16000
	}
	channels := streamCfg.Channels
	if channels <= 0 {
		channels = 1
	}

	q := u.Query()
	q.Set("model", providerCfg.Model)
	q.Set("encoding", encoding)
	q.Set("sample_rate", strconv.Itoa(rate))
	q.Set("channels", strconv.Itoa(channels))
	q.Set("interim_results", strconv.FormatBool(streamCfg.InterimResults))
	q.Set("smart_format", strconv.FormatBool(providerCfg.SmartFormat))
	q.Set("punctuate", "true")
	if providerCfg.Language != "" {
		q.Set("language", providerCfg.Language)
	}
	if providerCfg.Endpointing > 0 {
		q.Set("endpointing", strconv.Itoa(providerCfg.Endpointing))
	}
	if providerCfg.UtteranceEndMs > 0 {
		q.Set("utterance_end_ms", strconv.Itoa(providerCfg.UtteranceEndMs))
	}
	for _, kw := range providerCfg.Keywords {
		if kw = strings.TrimSpace(kw); kw != "" {
			q.Add("keywords", kw)
		}
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// message is the subset of Deepgram's listen responses we read.
type message struct {
	Type        string `json:"type"`
	Message     string `json:"message"`
	Description string `json:"description"`
	IsFinal     bool   `json:"is_final"`
	SpeechFinal bool   `json:"speech_final"`
	Channel     struct {
		Alternatives []alternative `json:"alternatives"`
	} `json:"channel"`
}

type alternative struct {
	Transcript string  `json:"transcript"`
	Confidence float64 `json:"confidence"`
}

func (m message) transcript() string {
	if len(m.Channel.Alternatives) == 0 {
		return ""
	}
	return strings.TrimSpace(m.Channel.Alternatives[0].Transcript)
}

// event converts a listen response. ok is false for messages that carry nothing for the engine.
func (m message) event() (domain.TranscriptEvent, bool) {
	switch m.Type {
	case "UtteranceEnd":
		return domain.TranscriptEvent{Kind: domain.TranscriptKindFinal, IsSpeechFinal: true}, true
	case "", "Results":
	default:
		return domain.TranscriptEvent{}, false
	}
	text := m.transcript()
	if text == "" && !m.SpeechFinal {
		return domain.TranscriptEvent{}, false
	}
	kind := domain.TranscriptKindPartial
	if m.IsFinal || m.SpeechFinal {
		kind = domain.TranscriptKindFinal
	}
	return domain.TranscriptEvent{Kind: kind, Text: text, IsSpeechFinal: m.SpeechFinal}, true
}

func (m message) failure() error {
	if !strings.EqualFold(m.Type, "Error") {
		return nil
	}
	text := strings.TrimSpace(m.Description)
	if text == "" {
		text = strings.TrimSpace(m.Message)
	}
	if text == "" {
		text = "unknown error"
	}
	return fmt.Errorf("deepgram error: %s", text)
}
