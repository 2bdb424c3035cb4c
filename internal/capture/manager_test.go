package capture

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"agrivoice/internal/domain"
	"agrivoice/internal/ports"
	"agrivoice/internal/retry"
)

func TestEngineResourceCreatesOnce(t *testing.T) {
	t.Parallel()

	resource := NewEngineResource(func() (ports.RecognitionEngine, error) { return newFakeEngine(), nil })
	first, err := resource.Acquire()
	if err != nil {
		t.Fatalf("acquire failed: %v", err)
	}
	second, _ := resource.Acquire()
	if first != second || resource.Created() != 1 {
		t.Fatalf("expected a single shared engine, created=%d", resource.Created())
	}

	resource.Invalidate()
	third, _ := resource.Acquire()
	if third == first || resource.Created() != 2 {
		t.Fatalf("expected a fresh engine after invalidate, created=%d", resource.Created())
	}
}

func TestEngineResourceFactoryError(t *testing.T) {
	t.Parallel()

	resource := NewEngineResource(func() (ports.RecognitionEngine, error) { return nil, errors.New("boom") })
	if _, err := resource.Acquire(); err == nil || err.Error() != "failed to create recognition engine: boom" {
		t.Fatalf("unexpected error: %v", err)
	}
	if resource.Created() != 0 {
		t.Fatalf("failed factory must not count as created")
	}
}

func TestManagerReusesEngineAcrossSessions(t *testing.T) {
	t.Parallel()

	engine := newFakeEngine()
	manager, resource := newTestManager(engine, Config{})

	for i := 0; i < 3; i++ {
		if err := manager.Start(context.Background(), ModeNormal, Handler{}); err != nil {
			t.Fatalf("start %d failed: %v", i, err)
		}
		engine.next(t)
		manager.Abort()
	}
	if resource.Created() != 1 {
		t.Fatalf("expected one engine for every session, created=%d", resource.Created())
	}
	if manager.Listening() {
		t.Fatalf("expected no open session after abort")
	}
}

func TestManagerMutedResultsAreNotRedelivered(t *testing.T) {
	t.Parallel()

	engine := newFakeEngine()
	manager, _ := newTestManager(engine, Config{})
	rec := newRecorder()

	if err := manager.Start(context.Background(), ModePersistent, rec.handler()); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	stream := engine.next(t)

	manager.Mute()
	stream.send(domain.RecognitionResult{Index: 0, Text: "肥料は何を"})
	stream.send(domain.RecognitionResult{Index: 0, Text: "肥料は何を使いましたか", Final: true, SpeechFinal: true})
	waitFor(t, func() bool { return manager.offset() == 1 })
	manager.Unmute()

	stream.send(domain.RecognitionResult{Index: 1, Text: "油かす", Final: true, SpeechFinal: true})
	if got := rec.utterance(t); got != "油かす" {
		t.Fatalf("expected only the post-unmute answer, got %q", got)
	}
	for _, partial := range rec.partialsSnapshot() {
		if partial != "油かす" {
			t.Fatalf("muted text leaked into partials: %q", partial)
		}
	}
}

func TestManagerPersistentDeliversEachUtterance(t *testing.T) {
	t.Parallel()

	engine := newFakeEngine()
	manager, _ := newTestManager(engine, Config{})
	rec := newRecorder()

	if err := manager.Start(context.Background(), ModePersistent, rec.handler()); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	stream := engine.next(t)

	stream.send(domain.RecognitionResult{Index: 0, Text: "アブラムシが", Final: true})
	stream.send(domain.RecognitionResult{Index: 1, Text: "少し", Final: true, SpeechFinal: true})
	if got := rec.utterance(t); got != "アブラムシが少し" {
		t.Fatalf("unexpected first utterance: %q", got)
	}
	stream.send(domain.RecognitionResult{Index: 2, Text: "三時間", Final: true, SpeechFinal: true})
	if got := rec.utterance(t); got != "三時間" {
		t.Fatalf("unexpected second utterance: %q", got)
	}
	if !manager.Listening() {
		t.Fatalf("persistent session should stay open")
	}
}

func TestManagerStopDeliversTranscriptWithoutRestart(t *testing.T) {
	t.Parallel()

	engine := newFakeEngine()
	manager, _ := newTestManager(engine, Config{})
	rec := newRecorder()

	if err := manager.Start(context.Background(), ModeNormal, rec.handler()); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	stream := engine.next(t)
	stream.send(domain.RecognitionResult{Index: 0, Text: "今日は灌水した", Final: true})
	stream.send(domain.RecognitionResult{Index: 1, Text: "気温28度"})

	if err := manager.Stop(); err != nil {
		t.Fatalf("stop failed: %v", err)
	}
	stop := rec.stopped(t)
	if stop.transcript != "今日は灌水した気温28度" || stop.reason != StopUser {
		t.Fatalf("unexpected stop: %+v", stop)
	}
	if engine.startCount() != 1 {
		t.Fatalf("user stop must not restart, starts=%d", engine.startCount())
	}
	if err := manager.Stop(); !errors.Is(err, ErrNotListening) {
		t.Fatalf("expected ErrNotListening, got %v", err)
	}
}

func TestManagerRestartsSilentlyKeepingPrefix(t *testing.T) {
	t.Parallel()

	engine := newFakeEngine()
	manager, _ := newTestManager(engine, Config{Restart: retry.Policy{MaxAttempts: 3}})
	rec := newRecorder()

	if err := manager.Start(context.Background(), ModeNormal, rec.handler()); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	first := engine.next(t)
	first.send(domain.RecognitionResult{Index: 0, Text: "今日は", Final: true})
	waitFor(t, func() bool { return len(rec.partialsSnapshot()) == 1 })
	first.end(errors.New("network"))

	second := engine.next(t)
	second.send(domain.RecognitionResult{Index: 0, Text: "剪定をした", Final: true})
	waitFor(t, func() bool { return len(rec.partialsSnapshot()) == 2 })
	if err := manager.Stop(); err != nil {
		t.Fatalf("stop failed: %v", err)
	}

	if stop := rec.stopped(t); stop.transcript != "今日は剪定をした" {
		t.Fatalf("expected the prefix to survive the restart, got %q", stop.transcript)
	}
	if rec.failureCount() != 0 {
		t.Fatalf("silent restart must not report a failure")
	}
}

func TestManagerPermissionDeniedDoesNotRetry(t *testing.T) {
	t.Parallel()

	engine := newFakeEngine()
	manager, _ := newTestManager(engine, Config{})
	rec := newRecorder()

	if err := manager.Start(context.Background(), ModeNormal, rec.handler()); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	engine.next(t).end(fmt.Errorf("audio: %w", domain.ErrPermissionDenied))

	failure := rec.failure(t)
	if failure.kind != FailurePermission || !errors.Is(failure.err, domain.ErrPermissionDenied) {
		t.Fatalf("unexpected failure: %+v", failure)
	}
	if engine.startCount() != 1 {
		t.Fatalf("permission denial must not restart, starts=%d", engine.startCount())
	}
}

func TestManagerStartReportsPermissionDenied(t *testing.T) {
	t.Parallel()

	engine := newFakeEngine()
	engine.startErrs = []error{domain.ErrPermissionDenied}
	manager, _ := newTestManager(engine, Config{})

	err := manager.Start(context.Background(), ModeNormal, Handler{})
	if !errors.Is(err, domain.ErrPermissionDenied) {
		t.Fatalf("expected permission error, got %v", err)
	}
	if manager.Listening() {
		t.Fatalf("failed start must not leave a session open")
	}
}

func TestManagerRestartExhaustionInvalidatesEngine(t *testing.T) {
	t.Parallel()

	engine := newFakeEngine()
	manager, resource := newTestManager(engine, Config{Restart: retry.Policy{MaxAttempts: 3}})
	rec := newRecorder()

	if err := manager.Start(context.Background(), ModePersistent, rec.handler()); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	engine.setStartErrs(errors.New("busy"), errors.New("busy"))
	engine.next(t).end(errors.New("aborted"))

	failure := rec.failure(t)
	if failure.kind != FailureRestart || !errors.Is(failure.err, retry.ErrExhausted) {
		t.Fatalf("unexpected failure: %+v", failure)
	}
	if manager.Listening() {
		t.Fatalf("exhausted session must close")
	}
	if _, err := resource.Acquire(); err != nil || resource.Created() != 2 {
		t.Fatalf("expected the engine to be rebuilt after exhaustion, created=%d", resource.Created())
	}
}

func TestManagerMaxDurationStopsSession(t *testing.T) {
	t.Parallel()

	engine := newFakeEngine()
	manager, _ := newTestManager(engine, Config{MaxListen: 150 * time.Millisecond})
	rec := newRecorder()

	if err := manager.Start(context.Background(), ModeNormal, rec.handler()); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	engine.next(t).send(domain.RecognitionResult{Index: 0, Text: "収穫20キロ", Final: true})

	stop := rec.stopped(t)
	if stop.reason != StopMaxDuration || stop.transcript != "収穫20キロ" {
		t.Fatalf("unexpected stop: %+v", stop)
	}
}

func TestManagerMuteHoldsTimeLimit(t *testing.T) {
	t.Parallel()

	engine := newFakeEngine()
	manager, _ := newTestManager(engine, Config{MaxListen: 60 * time.Millisecond})
	rec := newRecorder()

	if err := manager.Start(context.Background(), ModePersistent, rec.handler()); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	manager.Mute()
	engine.next(t)
	time.Sleep(150 * time.Millisecond)
	if !manager.Listening() {
		t.Fatalf("muted session must not hit the time limit")
	}
	manager.Unmute()
	if stop := rec.stopped(t); stop.reason != StopMaxDuration {
		t.Fatalf("unexpected stop reason %q", stop.reason)
	}
}

func newTestManager(engine *fakeEngine, cfg Config) (*Manager, *EngineResource) {
	resource := NewEngineResource(func() (ports.RecognitionEngine, error) { return engine, nil })
	if cfg.Restart.MaxAttempts == 0 {
		cfg.Restart = retry.Policy{MaxAttempts: 2}
	}
	return NewManager(resource, cfg), resource
}

func (m *Manager) offset() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return -1
	}
	return m.current.offset
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("condition not met in time")
		}
		time.Sleep(2 * time.Millisecond)
	}
}

type fakeEngine struct {
	mu        sync.Mutex
	startErrs []error
	starts    int
	started   chan *fakeStream
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{started: make(chan *fakeStream, 8)}
}

func (e *fakeEngine) Start(_ context.Context) (ports.RecognitionStream, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.starts++
	if len(e.startErrs) > 0 {
		err := e.startErrs[0]
		e.startErrs = e.startErrs[1:]
		return nil, err
	}
	stream := newFakeStream()
	e.started <- stream
	return stream, nil
}

func (e *fakeEngine) setStartErrs(errs ...error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.startErrs = errs
}

func (e *fakeEngine) startCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.starts
}

func (e *fakeEngine) next(t *testing.T) *fakeStream {
	t.Helper()
	select {
	case stream := <-e.started:
		return stream
	case <-time.After(2 * time.Second):
		t.Fatalf("engine was not started")
		return nil
	}
}

type fakeStream struct {
	results chan domain.RecognitionResult
	done    chan struct{}
	once    sync.Once
	err     error
}

func newFakeStream() *fakeStream {
	return &fakeStream{results: make(chan domain.RecognitionResult, 16), done: make(chan struct{})}
}

func (s *fakeStream) send(result domain.RecognitionResult) { s.results <- result }

func (s *fakeStream) end(err error) {
	s.once.Do(func() {
		s.err = err
		close(s.results)
		close(s.done)
	})
}

func (s *fakeStream) Results() <-chan domain.RecognitionResult { return s.results }

func (s *fakeStream) Wait() error {
	<-s.done
	return s.err
}

func (s *fakeStream) Stop() error {
	s.end(nil)
	return nil
}

func (s *fakeStream) Abort() error {
	s.end(nil)
	return nil
}

type stopEvent struct {
	transcript string
	reason     StopReason
}

type failureEvent struct {
	kind FailureKind
	err  error
}

type recorder struct {
	mu         sync.Mutex
	partials   []string
	utterances chan string
	stops      chan stopEvent
	failures   chan failureEvent
}

func newRecorder() *recorder {
	return &recorder{
		utterances: make(chan string, 8),
		stops:      make(chan stopEvent, 4),
		failures:   make(chan failureEvent, 4),
	}
}

func (r *recorder) handler() Handler {
	return Handler{
		OnPartial: func(text string) {
			r.mu.Lock()
			r.partials = append(r.partials, text)
			r.mu.Unlock()
		},
		OnUtterance: func(text string) { r.utterances <- text },
		OnStopped:   func(text string, reason StopReason) { r.stops <- stopEvent{transcript: text, reason: reason} },
		OnFailure:   func(kind FailureKind, err error) { r.failures <- failureEvent{kind: kind, err: err} },
	}
}

func (r *recorder) partialsSnapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.partials...)
}

func (r *recorder) failureCount() int { return len(r.failures) }

func (r *recorder) utterance(t *testing.T) string {
	t.Helper()
	select {
	case text := <-r.utterances:
		return text
	case <-time.After(2 * time.Second):
		t.Fatalf("no utterance delivered")
		return ""
	}
}

func (r *recorder) stopped(t *testing.T) stopEvent {
	t.Helper()
	select {
	case event := <-r.stops:
		return event
	case <-time.After(2 * time.Second):
		t.Fatalf("session did not stop")
		return stopEvent{}
	}
}

func (r *recorder) failure(t *testing.T) failureEvent {
	t.Helper()
	select {
	case event := <-r.failures:
		return event
	case <-time.After(2 * time.Second):
		t.Fatalf("no failure reported")
		return failureEvent{}
	}
}
