// Package audio captures the microphone as raw PCM by running ffmpeg as a child process.
package audio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"agrivoice/internal/domain"
	"agrivoice/internal/ports"
)

// deniedRE matches the ffmpeg diagnostics that mean the input device refused access.
var deniedRE = regexp.MustCompile(`(?i)permission denied|operation not permitted|access denied|not authori[sz]ed|connection refused`)

// Microphone starts ffmpeg capture sessions.
type Microphone struct {
	command     string
	startupWait time.Duration
	stopWait    time.Duration
}

func NewMicrophone(command string) *Microphone {
	if command == "" {
		command = "ffmpeg"
	}
	return &Microphone{command: command, startupWait: 250 * time.Millisecond, stopWait: 1200 * time.Millisecond}
}

func (m *Microphone) Start(ctx context.Context, cfg ports.AudioConfig) (ports.AudioSession, error) {
	cmd := exec.CommandContext(ctx, m.command, captureArgs(cfg)...)
	stderr := &diagnostics{}
	cmd.Stderr = stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create ffmpeg stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start ffmpeg: %w", err)
	}

	exited := make(chan error, 1)
	go func() {
		exited <- cmd.Wait()
		close(exited)
	}()

	// ffmpeg reports device errors within a few hundred milliseconds; a process still running
	// after the grace period is capturing.
	select {
	case err := <-exited:
		return nil, startFailure(err, stderr.String())
	case <-time.After(m.startupWait):
	}

	return &micSession{
		stdout:   stdout,
		stderr:   stderr,
		process:  cmd.Process,
		exited:   exited,
		stopWait: m.stopWait,
	}, nil
}

func captureArgs(cfg ports.AudioConfig) []string {
	rate := cfg.SampleRate
	if rate <= 0 {
		rate = 16000
	}
	channels := cfg.Channels
	if channels <= 0 {
		channels = 1
	}
	format := cfg.InputFormat
	if format == "" {
		format = "pulse"
	}
	device := cfg.InputDevice
	if device == "" {
		device = "default"
	}
	return []string{
		"-nostdin", "-hide_banner", "-loglevel", "warning",
		"-f", format, "-i", device,
		"-ac", strconv.Itoa(channels), "-ar", strconv.Itoa(rate),
		"-f", "s16le", "-",
	}
}

// startFailure explains an ffmpeg exit during startup. Device refusals wrap
// domain.ErrPermissionDenied so callers stop retrying.
func startFailure(err error, stderr string) error {
	stderr = strings.TrimSpace(stderr)
	if deniedRE.MatchString(stderr) {
		return fmt.Errorf("%w: %s", domain.ErrPermissionDenied, stderr)
	}
	if err == nil {
		return errors.New("ffmpeg exited before capture started")
	}
	if stderr == "" {
		return fmt.Errorf("ffmpeg exited before capture started: %w", err)
	}
	return fmt.Errorf("ffmpeg exited before capture started: %w: %s", err, stderr)
}

type micSession struct {
	stdout   io.ReadCloser
	stderr   *diagnostics
	process  *os.Process
	exited   <-chan error
	stopWait time.Duration

	stopOnce sync.Once
	stopErr  error
}

func (s *micSession) Read(p []byte) (int, error) {
	n, err := s.stdout.Read(p)
	if err != nil && !errors.Is(err, io.EOF) && deniedRE.MatchString(s.stderr.String()) {
		return n, fmt.Errorf("%w: %w", domain.ErrPermissionDenied, err)
	}
	return n, err
}

func (s *micSession) Close() error {
	return s.Stop()
}

// Stop interrupts ffmpeg and kills it when it does not exit within the stop wait.
func (s *micSession) Stop() error {
	s.stopOnce.Do(func() {
		if s.process != nil {
			_ = s.process.Signal(os.Interrupt)
		}
		var err error
		select {
		case err = <-s.exited:
		case <-time.After(s.stopWait):
			if s.process != nil {
				_ = s.process.Kill()
			}
			err = <-s.exited
		}
		s.stopErr = ignoreExitStatus(err)

		if closeErr := s.stdout.Close(); closeErr != nil && !errors.Is(closeErr, os.ErrClosed) && s.stopErr == nil {
			s.stopErr = closeErr
		}
		if s.stopErr != nil {
			if detail := strings.TrimSpace(s.stderr.String()); detail != "" {
				s.stopErr = fmt.Errorf("%w: %s", s.stopErr, detail)
			}
		}
	})
	return s.stopErr
}

// ignoreExitStatus drops the non-zero exit status ffmpeg reports after an interrupt.
func ignoreExitStatus(err error) error {
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return nil
	}
	return err
}

// diagnostics collects stderr written by the exec copier goroutine.
type diagnostics struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (d *diagnostics) Write(p []byte) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.buf.Write(p)
}

func (d *diagnostics) String() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.buf.String()
}
