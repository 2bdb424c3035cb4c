// Package capture owns the speech recognition session lifecycle: the single engine instance,
// muting, the listening time limit and silent restarts after the engine drops a session.
package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"agrivoice/internal/domain"
	"agrivoice/internal/logging"
	"agrivoice/internal/ports"
	"agrivoice/internal/retry"
)

var (
	// ErrNotListening is returned by Stop when no session is open.
	ErrNotListening = errors.New("capture is not listening")

	errUnexpectedEnd = errors.New("recognition session ended unexpectedly")
)

// Mode selects how a session reports speech.
type Mode int

const (
	// ModeNormal accumulates one transcript until Stop or the time limit.
	ModeNormal Mode = iota
	// ModePersistent reports one utterance per speech-final segment and keeps listening.
	ModePersistent
)

// StopReason explains why a listening window closed.
type StopReason string

const (
	StopUser        StopReason = "user"
	StopMaxDuration StopReason = "max_duration"
)

// FailureKind classifies terminal session failures.
type FailureKind string

const (
	FailurePermission FailureKind = "permission"
	FailureRestart    FailureKind = "restart"
)

// Handler receives session output. Callbacks run outside the manager's lock and may call
// back into the manager.
type Handler struct {
	OnPartial   func(transcript string)
	OnUtterance func(text string)
	OnStopped   func(transcript string, reason StopReason)
	OnFailure   func(kind FailureKind, err error)
}

// Config controls listening limits and the restart policy.
type Config struct {
	MaxListen time.Duration
	Restart   retry.Policy
}

// DefaultRestartPolicy retries a dropped session three times with a short constant backoff.
func DefaultRestartPolicy() retry.Policy {
	return retry.Policy{
		MaxAttempts: 4,
		Backoff:     retry.Constant(300 * time.Millisecond),
		ShouldRetry: func(err error) bool { return !errors.Is(err, domain.ErrPermissionDenied) },
	}
}

// Manager runs at most one recognition session at a time on the shared engine.
type Manager struct {
	resource *EngineResource
	cfg      Config
	log      *slog.Logger

	mu      sync.Mutex
	current *session
}

type session struct {
	ctx     context.Context
	cancel  context.CancelFunc
	mode    Mode
	handler Handler

	stream ports.RecognitionStream
	gen    int

	segments map[int]string
	offset   int
	latest   int
	prefix   string

	muted      bool
	stopping   bool
	reason     StopReason
	restarting bool
	attempts   int
	delivered  bool

	timer    *time.Timer
	timerGen int
}

func NewManager(resource *EngineResource, cfg Config) *Manager {
	if cfg.MaxListen <= 0 {
		cfg.MaxListen = 120 * time.Second
	}
	if cfg.Restart.MaxAttempts == 0 {
		cfg.Restart = DefaultRestartPolicy()
	}
	return &Manager{resource: resource, cfg: cfg, log: logging.New("capture")}
}

// Start opens a session, replacing any session still open.
func (m *Manager) Start(ctx context.Context, mode Mode, handler Handler) error {
	m.mu.Lock()
	previous := m.current
	m.current = nil
	m.mu.Unlock()
	if previous != nil {
		m.abortSession(previous)
	}

	engine, err := m.resource.Acquire()
	if err != nil {
		return err
	}
	sessionCtx, cancel := context.WithCancel(ctx)
	stream, err := engine.Start(sessionCtx)
	if err != nil {
		cancel()
		return fmt.Errorf("failed to start recognition: %w", err)
	}

	s := &session{
		ctx:      sessionCtx,
		cancel:   cancel,
		mode:     mode,
		handler:  handler,
		stream:   stream,
		segments: map[int]string{},
		latest:   -1,
	}

	m.mu.Lock()
	m.current = s
	m.armTimer(s)
	m.mu.Unlock()

	go m.run(s, stream, s.gen)
	return nil
}

// Stop ends the open session at the user's request. The handler receives OnStopped once the
// engine has flushed; no restart follows.
func (m *Manager) Stop() error {
	return m.stop(nil, StopUser)
}

// Abort drops the open session without delivering anything.
func (m *Manager) Abort() {
	m.mu.Lock()
	s := m.current
	m.current = nil
	m.mu.Unlock()
	if s != nil {
		m.abortSession(s)
	}
}

// Mute suppresses result delivery without ending the session. Results arriving while muted
// move the offset past their index so they are never delivered later.
func (m *Manager) Mute() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s := m.current; s != nil {
		s.muted = true
		m.disarmTimer(s)
	}
}

// Unmute resumes delivery from the current offset and re-arms the time limit.
func (m *Manager) Unmute() {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.current
	if s == nil || !s.muted {
		return
	}
	s.muted = false
	for index := range s.segments {
		if index < s.offset {
			delete(s.segments, index)
		}
	}
	m.armTimer(s)
}

// Listening reports whether a session is open.
func (m *Manager) Listening() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current != nil
}

// Warm creates the engine ahead of the first session so device permission prompts appear early.
func (m *Manager) Warm() error {
	_, err := m.resource.Acquire()
	return err
}

// Invalidate aborts any session and drops the engine so the next Start builds a new one.
func (m *Manager) Invalidate() {
	m.Abort()
	m.resource.Invalidate()
}

func (m *Manager) stop(target *session, reason StopReason) error {
	m.mu.Lock()
	s := m.current
	if s == nil || (target != nil && s != target) {
		m.mu.Unlock()
		return ErrNotListening
	}
	if s.stopping {
		m.mu.Unlock()
		return nil
	}
	s.stopping = true
	s.reason = reason
	m.disarmTimer(s)
	if s.restarting {
		emit := m.finishLocked(s)
		m.mu.Unlock()
		emit()
		return nil
	}
	stream := s.stream
	m.mu.Unlock()

	if err := stream.Stop(); err != nil {
		m.log.Warn("recognition stop failed", "error", err)
	}
	return nil
}

func (m *Manager) abortSession(s *session) {
	m.mu.Lock()
	m.disarmTimer(s)
	stream := s.stream
	m.mu.Unlock()
	s.cancel()
	if err := stream.Abort(); err != nil {
		m.log.Debug("recognition abort failed", "error", err)
	}
}

func (m *Manager) run(s *session, stream ports.RecognitionStream, gen int) {
	for result := range stream.Results() {
		m.onResult(s, gen, result)
	}
	m.onEnded(s, gen, stream.Wait())
}

func (m *Manager) onResult(s *session, gen int, result domain.RecognitionResult) {
	m.mu.Lock()
	if m.current != s || s.gen != gen {
		m.mu.Unlock()
		return
	}
	if result.Index > s.latest {
		s.latest = result.Index
	}
	if s.muted {
		if result.Index+1 > s.offset {
			s.offset = result.Index + 1
		}
		m.mu.Unlock()
		return
	}
	if result.Index < s.offset {
		m.mu.Unlock()
		return
	}
	if result.Text != "" {
		s.segments[result.Index] = result.Text
		s.delivered = true
	}

	var emit []func()
	transcript := s.transcript()
	if h := s.handler.OnPartial; h != nil && transcript != "" {
		emit = append(emit, func() { h(transcript) })
	}
	if s.mode == ModePersistent && result.SpeechFinal {
		utterance := s.pending()
		s.segments = map[int]string{}
		s.offset = s.latest + 1
		if h := s.handler.OnUtterance; h != nil && utterance != "" {
			emit = append(emit, func() { h(utterance) })
		}
	}
	m.mu.Unlock()

	for _, fn := range emit {
		fn()
	}
}

func (m *Manager) onEnded(s *session, gen int, cause error) {
	m.mu.Lock()
	if m.current != s || s.gen != gen {
		m.mu.Unlock()
		return
	}
	if s.stopping {
		emit := m.finishLocked(s)
		m.mu.Unlock()
		emit()
		return
	}
	m.mu.Unlock()
	m.recover(s, cause)
}

// recover decides between a silent restart and a terminal failure after a session ended on its
// own.
func (m *Manager) recover(s *session, cause error) {
	if cause == nil {
		cause = errUnexpectedEnd
	}

	m.mu.Lock()
	if m.current != s {
		m.mu.Unlock()
		return
	}
	if errors.Is(cause, domain.ErrPermissionDenied) {
		emit := m.failLocked(s, FailurePermission, cause)
		m.mu.Unlock()
		emit()
		return
	}

	if s.delivered {
		s.attempts = 0
	}
	s.delivered = false
	s.attempts++
	delay, ok := m.cfg.Restart.Allow(s.attempts, cause)
	if !ok {
		err := fmt.Errorf("%w after %d attempts: %w", retry.ErrExhausted, s.attempts, cause)
		emit := m.failLocked(s, FailureRestart, err)
		m.mu.Unlock()
		m.resource.Invalidate()
		emit()
		return
	}

	if s.mode == ModeNormal {
		s.prefix = s.transcript()
	}
	s.segments = map[int]string{}
	s.offset = 0
	s.latest = -1
	s.restarting = true
	s.gen++
	m.mu.Unlock()

	m.log.Info("restarting recognition", "attempt", s.attempts, "delay", delay, "cause", cause)
	time.AfterFunc(delay, func() { m.restart(s) })
}

func (m *Manager) restart(s *session) {
	m.mu.Lock()
	if m.current != s || !s.restarting {
		m.mu.Unlock()
		return
	}
	gen := s.gen
	m.mu.Unlock()

	engine, err := m.resource.Acquire()
	var stream ports.RecognitionStream
	if err == nil {
		stream, err = engine.Start(s.ctx)
	}
	if err != nil {
		m.recover(s, err)
		return
	}

	m.mu.Lock()
	if m.current != s || s.gen != gen || !s.restarting {
		m.mu.Unlock()
		_ = stream.Abort()
		return
	}
	s.stream = stream
	s.restarting = false
	m.mu.Unlock()

	go m.run(s, stream, gen)
}

func (m *Manager) finishLocked(s *session) func() {
	m.current = nil
	s.cancel()
	transcript := s.transcript()
	reason := s.reason
	h := s.handler.OnStopped
	return func() {
		if h != nil {
			h(transcript, reason)
		}
	}
}

func (m *Manager) failLocked(s *session, kind FailureKind, err error) func() {
	m.current = nil
	m.disarmTimer(s)
	s.cancel()
	h := s.handler.OnFailure
	return func() {
		if h != nil {
			h(kind, err)
		}
	}
}

func (m *Manager) armTimer(s *session) {
	m.disarmTimer(s)
	s.timerGen++
	gen := s.timerGen
	s.timer = time.AfterFunc(m.cfg.MaxListen, func() {
		m.mu.Lock()
		live := m.current == s && s.timerGen == gen
		m.mu.Unlock()
		if live {
			_ = m.stop(s, StopMaxDuration)
		}
	})
}

func (m *Manager) disarmTimer(s *session) {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.timerGen++
}

// transcript joins the restart prefix with every segment at or after the offset.
func (s *session) transcript() string {
	return s.prefix + s.pending()
}

func (s *session) pending() string {
	indexes := make([]int, 0, len(s.segments))
	for index := range s.segments {
		if index >= s.offset {
			indexes = append(indexes, index)
		}
	}
	sort.Ints(indexes)
	var b strings.Builder
	for _, index := range indexes {
		b.WriteString(s.segments[index])
	}
	return b.String()
}
