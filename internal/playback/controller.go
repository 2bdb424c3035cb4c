// Package playback serializes text-to-speech output and resolves each request when the audio
// has really finished.
package playback

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"agrivoice/internal/logging"
	"agrivoice/internal/ports"
)

// ErrInterrupted is returned by Speak when a newer request or Cancel abandoned it.
var ErrInterrupted = errors.New("playback interrupted")

// Config tunes voice choice and the timing workarounds.
type Config struct {
	Lang            string
	PreferredVoices []string
	VoiceHints      []string
	Rate            float64
	Pitch           float64
	// CancelDelay separates a cancel from the next utterance.
	CancelDelay time.Duration
	// Unreliable enables the fallback timer and the drain delay for platforms whose finish
	// event may never fire.
	Unreliable    bool
	FallbackFloor time.Duration
	PerRune       time.Duration
	DrainDelay    time.Duration
}

// DefaultConfig returns the Japanese voice ranking and timings.
func DefaultConfig() Config {
	return Config{
		Lang:            "ja-JP",
		PreferredVoices: []string{"Google 日本語"},
		VoiceHints:      []string{"Kyoko", "O-ren", "Haruka", "Sayaka"},
		Rate:            1.0,
		Pitch:           1.0,
		CancelDelay:     50 * time.Millisecond,
		FallbackFloor:   4 * time.Second,
		PerRune:         250 * time.Millisecond,
		DrainDelay:      300 * time.Millisecond,
	}
}

// Controller plays one utterance at a time.
type Controller struct {
	synth ports.Synthesizer
	cfg   Config
	log   *slog.Logger
	after func(time.Duration) <-chan time.Time

	mu      sync.Mutex
	current *request
	voice   *ports.Voice
	ranked  bool
}

type request struct {
	abandon chan struct{}
	once    sync.Once
}

func (r *request) stop() {
	r.once.Do(func() { close(r.abandon) })
}

func NewController(synth ports.Synthesizer, cfg Config) *Controller {
	defaults := DefaultConfig()
	if cfg.Lang == "" {
		cfg.Lang = defaults.Lang
	}
	if cfg.Rate <= 0 {
		cfg.Rate = defaults.Rate
	}
	if cfg.Pitch <= 0 {
		cfg.Pitch = defaults.Pitch
	}
	if cfg.FallbackFloor <= 0 {
		cfg.FallbackFloor = defaults.FallbackFloor
	}
	if cfg.PerRune <= 0 {
		cfg.PerRune = defaults.PerRune
	}
	return &Controller{synth: synth, cfg: cfg, log: logging.New("playback"), after: time.After}
}

// Speak plays text and blocks until playback ends, falls back, or is abandoned. Synthesizer
// failures end the call with an error instead of stalling.
func (c *Controller) Speak(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	req := &request{abandon: make(chan struct{})}
	c.mu.Lock()
	if c.current != nil {
		c.current.stop()
	}
	c.current = req
	c.mu.Unlock()
	defer c.release(req)

	if c.synth.Speaking() || c.synth.Pending() {
		c.synth.Cancel()
		if err := c.wait(ctx, req, c.cfg.CancelDelay); err != nil {
			return err
		}
	}

	done, err := c.synth.Speak(ports.Utterance{
		Text:  text,
		Lang:  c.cfg.Lang,
		Voice: c.selectVoice(ctx),
		Rate:  c.cfg.Rate,
		Pitch: c.cfg.Pitch,
	})
	if err != nil {
		return fmt.Errorf("failed to speak: %w", err)
	}

	var fallback <-chan time.Time
	if c.cfg.Unreliable {
		fallback = c.after(c.FallbackFor(text))
	}

	var playErr error
	select {
	case playErr = <-done:
	case <-fallback:
		c.log.Debug("finish event missing, resolving by fallback timer", "runes", utf8.RuneCountInString(text))
	case <-req.abandon:
		return ErrInterrupted
	case <-ctx.Done():
		c.synth.Cancel()
		return ctx.Err()
	}

	if c.cfg.Unreliable {
		if err := c.wait(ctx, req, c.cfg.DrainDelay); err != nil {
			return err
		}
	}
	if playErr != nil {
		return fmt.Errorf("playback failed: %w", playErr)
	}
	return nil
}

// Cancel abandons the utterance in flight and silences the synthesizer.
func (c *Controller) Cancel() {
	c.mu.Lock()
	if c.current != nil {
		c.current.stop()
		c.current = nil
	}
	c.mu.Unlock()
	c.synth.Cancel()
}

// FallbackFor is the longest Speak waits for a finish event on unreliable platforms.
func (c *Controller) FallbackFor(text string) time.Duration {
	estimate := time.Duration(utf8.RuneCountInString(text)) * c.cfg.PerRune
	if estimate < c.cfg.FallbackFloor {
		return c.cfg.FallbackFloor
	}
	return estimate
}

func (c *Controller) release(req *request) {
	c.mu.Lock()
	if c.current == req {
		c.current = nil
	}
	c.mu.Unlock()
}

func (c *Controller) wait(ctx context.Context, req *request, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	select {
	case <-c.after(d):
		return nil
	case <-req.abandon:
		return ErrInterrupted
	case <-ctx.Done():
		return ctx.Err()
	}
}

// selectVoice ranks the installed voices once a non-empty list is available. A nil voice means
// the platform default.
func (c *Controller) selectVoice(ctx context.Context) *ports.Voice {
	c.mu.Lock()
	if c.ranked {
		voice := c.voice
		c.mu.Unlock()
		return voice
	}
	c.mu.Unlock()

	voices, err := c.synth.Voices(ctx)
	if err != nil {
		c.log.Debug("voice list unavailable", "error", err)
		return nil
	}
	if len(voices) == 0 {
		return nil
	}
	voice := RankVoice(voices, c.cfg)

	c.mu.Lock()
	c.voice, c.ranked = voice, true
	c.mu.Unlock()
	return voice
}

// RankVoice picks an exact preferred name, then a name containing a hint, then any voice of the
// configured locale. It returns nil when only the platform default is left.
func RankVoice(voices []ports.Voice, cfg Config) *ports.Voice {
	for _, name := range cfg.PreferredVoices {
		for i := range voices {
			if voices[i].Name == name {
				return &voices[i]
			}
		}
	}
	for _, hint := range cfg.VoiceHints {
		for i := range voices {
			if strings.Contains(voices[i].Name, hint) {
				return &voices[i]
			}
		}
	}
	for i := range voices {
		if sameLocale(voices[i].Lang, cfg.Lang) {
			return &voices[i]
		}
	}
	return nil
}

func sameLocale(a, b string) bool {
	return strings.EqualFold(strings.ReplaceAll(a, "_", "-"), strings.ReplaceAll(b, "_", "-"))
}
