// Package speech drives a command-line text-to-speech engine (macOS say or espeak-ng).
package speech

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"sync"

	"agrivoice/internal/ports"
)

// Dialect selects how arguments are built and voices are listed.
type Dialect string

const (
	DialectSay    Dialect = "say"
	DialectEspeak Dialect = "espeak"
)

var errCanceled = errors.New("speech canceled")

type Config struct {
	Command string
	Dialect Dialect
}

// Engine implements ports.Synthesizer. It runs one process per utterance.
type Engine struct {
	cfg Config

	mu      sync.Mutex
	current *exec.Cmd
	killed  bool
}

func New(cfg Config) *Engine {
	if cfg.Dialect == "" {
		cfg.Dialect = DialectSay
		if strings.Contains(cfg.Command, "espeak") {
			cfg.Dialect = DialectEspeak
		}
	}
	if cfg.Command == "" {
		cfg.Command = string(cfg.Dialect)
		if cfg.Dialect == DialectEspeak {
			cfg.Command = "espeak-ng"
		}
	}
	return &Engine{cfg: cfg}
}

func (e *Engine) Speaking() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.current != nil
}

// Pending is always false: utterances are never queued behind one another.
func (e *Engine) Pending() bool { return false }

func (e *Engine) Cancel() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.current != nil && e.current.Process != nil {
		e.killed = true
		_ = e.current.Process.Kill()
	}
}

func (e *Engine) Speak(u ports.Utterance) (<-chan error, error) {
	cmd := exec.Command(e.cfg.Command, e.args(u)...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	e.mu.Lock()
	if e.current != nil {
		e.mu.Unlock()
		return nil, errors.New("speech engine is busy")
	}
	if err := cmd.Start(); err != nil {
		e.mu.Unlock()
		return nil, fmt.Errorf("failed to start %s: %w", e.cfg.Command, err)
	}
	e.current = cmd
	e.killed = false
	e.mu.Unlock()

	done := make(chan error, 1)
	go func() {
		err := cmd.Wait()
		e.mu.Lock()
		killed := e.killed
		if e.current == cmd {
			e.current = nil
		}
		e.mu.Unlock()
		switch {
		case killed:
			err = errCanceled
		case err != nil:
			err = fmt.Errorf("%s failed: %w: %s", e.cfg.Command, err, strings.TrimSpace(stderr.String()))
		}
		done <- err
	}()
	return done, nil
}

func (e *Engine) args(u ports.Utterance) []string {
	var args []string
	switch e.cfg.Dialect {
	case DialectEspeak:
		voice := u.Lang
		if u.Voice != nil {
			voice = u.Voice.Name
		}
		if voice != "" {
			args = append(args, "-v", voice)
		}
		if u.Rate > 0 {
			args = append(args, "-s", strconv.Itoa(int(175*u.Rate)))
		}
		if u.Pitch > 0 {
			args = append(args, "-p", strconv.Itoa(int(50*u.Pitch)))
		}
	default:
		if u.Voice != nil {
			args = append(args, "-v", u.Voice.Name)
		}
		if u.Rate > 0 {
			args = append(args, "-r", strconv.Itoa(int(175*u.Rate)))
		}
	}
	return append(args, "--", u.Text)
}

// Voices lists installed voices. Output parsing follows each dialect's listing format.
func (e *Engine) Voices(ctx context.Context) ([]ports.Voice, error) {
	listArgs := []string{"-v", "?"}
	if e.cfg.Dialect == DialectEspeak {
		listArgs = []string{"--voices"}
	}
	out, err := exec.CommandContext(ctx, e.cfg.Command, listArgs...).Output()
	if err != nil {
		return nil, fmt.Errorf("failed to list voices: %w", err)
	}
	if e.cfg.Dialect == DialectEspeak {
		return parseEspeakVoices(out), nil
	}
	return parseSayVoices(out), nil
}

// parseSayVoices reads lines like "Kyoko               ja_JP    # こんにちは".
func parseSayVoices(out []byte) []ports.Voice {
	var voices []ports.Voice
	sc := bufio.NewScanner(bytes.NewReader(out))
	for sc.Scan() {
		line, _, _ := strings.Cut(sc.Text(), "#")
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		lang := fields[len(fields)-1]
		name := strings.Join(fields[:len(fields)-1], " ")
		voices = append(voices, ports.Voice{Name: name, Lang: strings.ReplaceAll(lang, "_", "-")})
	}
	return voices
}

// parseEspeakVoices reads the "Pty Language Age/Gender VoiceName File" table.
func parseEspeakVoices(out []byte) []ports.Voice {
	var voices []ports.Voice
	sc := bufio.NewScanner(bytes.NewReader(out))
	header := true
	for sc.Scan() {
		if header {
			header = false
			continue
		}
		fields := strings.Fields(sc.Text())
		if len(fields) < 4 {
			continue
		}
		voices = append(voices, ports.Voice{Name: fields[1], Lang: fields[1]})
	}
	return voices
}
