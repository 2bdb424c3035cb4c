package interview

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/bep/debounce"
	"golang.org/x/sync/errgroup"

	"agrivoice/internal/capture"
	"agrivoice/internal/domain"
	"agrivoice/internal/finalize"
	"agrivoice/internal/logging"
	"agrivoice/internal/ports"
	"agrivoice/internal/risk"
)

var (
	// ErrStopped is returned by API calls after Run has returned.
	ErrStopped = errors.New("interview machine stopped")

	errNoExtractor = errors.New("extraction service not configured")
	errNoOCR       = errors.New("ocr service not configured")
)

// Capture is the session manager as seen by the machine.
type Capture interface {
	Start(ctx context.Context, mode capture.Mode, handler capture.Handler) error
	Stop() error
	Abort()
	Mute()
	Unmute()
	Warm() error
}

// Speaker plays one utterance at a time. Speak returns when playback ends.
type Speaker interface {
	Speak(ctx context.Context, text string) error
	Cancel()
}

type Classifier interface {
	Classify(text string) domain.EmotionAnalysis
}

type Finalizer interface {
	Finalize(ctx context.Context, draft finalize.Draft) (domain.LocalRecord, error)
}

// Deps are the collaborators of a Machine. Capture, Speaker, Classifier, Finalizer and Sink
// are required; the rest degrade to local behavior when nil.
type Deps struct {
	Capture    Capture
	Speaker    Speaker
	Classifier Classifier
	Finalizer  Finalizer
	Sink       ports.EventSink

	Corrector ports.TermCorrector
	Extractor ports.Extractor
	AdminLog  ports.AdminLogWriter
	OCR       ports.OCR
	Weather   ports.WeatherSource
	Memory    ports.SessionMemory
	Locations ports.LocationStore
	Syncer    ports.RecordSyncer
	Records   ports.RecordStore

	Now func() time.Time
}

// Options tune the machine's timing.
type Options struct {
	Timing           Timing
	AdminLogDebounce time.Duration
	ExtractTimeout   time.Duration
	WeatherTimeout   time.Duration
	SyncTimeout      time.Duration
}

// DefaultOptions returns the production timings.
func DefaultOptions() Options {
	return Options{
		Timing:           DefaultTiming(),
		AdminLogDebounce: 1500 * time.Millisecond,
		ExtractTimeout:   20 * time.Second,
		WeatherTimeout:   5 * time.Second,
		SyncTimeout:      30 * time.Second,
	}
}

// Machine owns the interview Context. Run applies events one at a time on a single goroutine;
// effects that block run on their own goroutines and report back through Post.
type Machine struct {
	deps Deps
	opts Options
	log  *slog.Logger

	events   chan Event
	captures chan func()
	done     chan struct{}
	schedule func(func())

	mu       sync.RWMutex
	snapshot Context
}

func NewMachine(deps Deps, opts Options) *Machine {
	defaults := DefaultOptions()
	if opts.Timing == (Timing{}) {
		opts.Timing = defaults.Timing
	}
	if opts.AdminLogDebounce <= 0 {
		opts.AdminLogDebounce = defaults.AdminLogDebounce
	}
	if opts.ExtractTimeout <= 0 {
		opts.ExtractTimeout = defaults.ExtractTimeout
	}
	if opts.WeatherTimeout <= 0 {
		opts.WeatherTimeout = defaults.WeatherTimeout
	}
	if opts.SyncTimeout <= 0 {
		opts.SyncTimeout = defaults.SyncTimeout
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	return &Machine{
		deps:     deps,
		opts:     opts,
		log:      logging.New("interview"),
		events:   make(chan Event, 64),
		captures: make(chan func(), 32),
		done:     make(chan struct{}),
		schedule: debounce.New(opts.AdminLogDebounce),
		snapshot: NewContext(opts.Timing),
	}
}

// Run processes events until ctx is cancelled.
func (m *Machine) Run(ctx context.Context) error {
	defer close(m.done)
	go m.captureWorker(ctx)

	c := m.Snapshot()
	for {
		select {
		case <-ctx.Done():
			m.deps.Speaker.Cancel()
			m.deps.Capture.Abort()
			return ctx.Err()
		case ev := <-m.events:
			next, effects := Transition(c, ev)
			if next.Phase != c.Phase {
				m.log.Debug("phase changed", "from", c.Phase, "to", next.Phase, "event", fmt.Sprintf("%T", ev))
			}
			c = next
			m.mu.Lock()
			m.snapshot = c
			m.mu.Unlock()
			for _, effect := range effects {
				m.execute(ctx, effect)
			}
		}
	}
}

// Post queues ev. It reports false once the machine has stopped.
func (m *Machine) Post(ev Event) bool {
	select {
	case m.events <- ev:
		return true
	case <-m.done:
		return false
	}
}

// Snapshot returns the context as of the last applied event.
func (m *Machine) Snapshot() Context {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snapshot
}

// Begin loads the previous session and the location names, then starts a new interview. The
// outdoor weather is fetched in the background and arrives as WeatherLoaded. Lookup failures
// are logged and leave the value empty.
func (m *Machine) Begin(ctx context.Context) error {
	ev := Begin{Today: m.deps.Now().Format(time.DateOnly)}
	if m.deps.Memory != nil {
		last, ok, err := m.deps.Memory.LastSession(ctx)
		switch {
		case err != nil:
			m.log.Warn("last session unavailable", "error", err)
		case ok:
			ev.Last = &last
		}
	}
	if m.deps.Locations != nil {
		masters, err := m.deps.Locations.ListLocations(ctx)
		if err != nil {
			m.log.Warn("locations unavailable", "error", err)
		}
		for _, master := range masters {
			ev.Locations = append(ev.Locations, master.Name)
		}
	}
	if err := m.post(ev); err != nil {
		return err
	}
	if m.deps.Weather != nil {
		go m.loadWeather(ctx)
	}
	return nil
}

func (m *Machine) loadWeather(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, m.opts.WeatherTimeout)
	defer cancel()
	current, err := m.deps.Weather.Current(ctx)
	if err != nil {
		m.log.Warn("outdoor weather unavailable", "error", err)
		return
	}
	m.Post(WeatherLoaded{Weather: current})
}

func (m *Machine) StopListening() error { return m.post(StopListening{}) }
func (m *Machine) SkipStep() error      { return m.post(SkipStep{}) }

// Discard drops the session without saving anything.
func (m *Machine) Discard() error { return m.post(Discard{}) }

func (m *Machine) EditItem(key, value string) error {
	return m.post(EditItem{Key: key, Value: value})
}

func (m *Machine) Save() error { return m.post(SaveRequested{}) }

func (m *Machine) AnswerMentor(yes bool) error { return m.post(MentorAnswer{Yes: yes}) }

func (m *Machine) AddPhotos(count int) error { return m.post(PhotoAdded{Count: count}) }

// EnterText feeds typed input through the same correction and risk check as speech.
func (m *Machine) EnterText(text string) error {
	return m.post(TextEntered{Utterance: m.utterance(text)})
}

// ScanPhoto reads a photographed diary page and seeds the review with it.
func (m *Machine) ScanPhoto(ctx context.Context, image []byte, mimeType string) error {
	if m.deps.OCR == nil {
		return errNoOCR
	}
	result, err := m.deps.OCR.Scan(ctx, image, mimeType)
	if err != nil {
		err = fmt.Errorf("failed to scan photo: %w", err)
	}
	if postErr := m.post(PhotoScanned{Today: m.deps.Now().Format(time.DateOnly), Result: result, Err: err}); postErr != nil {
		return postErr
	}
	return err
}

func (m *Machine) post(ev Event) error {
	if !m.Post(ev) {
		return ErrStopped
	}
	return nil
}

// utterance corrects recognizer mistakes and classifies the corrected text.
func (m *Machine) utterance(raw string) Utterance {
	raw = strings.TrimSpace(raw)
	text := raw
	if m.deps.Corrector != nil {
		corrected, err := m.deps.Corrector.Apply(raw)
		if err != nil {
			m.log.Warn("term correction failed", "error", err)
		} else {
			text = corrected
		}
	}
	return Utterance{Raw: raw, Text: text, Risk: m.deps.Classifier.Classify(text)}
}

func (m *Machine) stale(playbackToken int) bool {
	return m.Snapshot().PlaybackToken != playbackToken
}

func (m *Machine) execute(ctx context.Context, effect Effect) {
	sink := m.deps.Sink
	switch e := effect.(type) {
	case Speak:
		go m.speak(ctx, e)
	case CancelSpeech:
		m.deps.Speaker.Cancel()
	case PrepareCapture:
		m.enqueueCapture(func() {
			if err := m.deps.Capture.Warm(); err != nil {
				m.log.Warn("recognition engine not ready", "error", err)
			}
		})
	case StartCapture:
		m.enqueueCapture(func() { m.startCapture(ctx, e) })
	case StopCapture:
		m.enqueueCapture(func() {
			if err := m.deps.Capture.Stop(); err != nil && !errors.Is(err, capture.ErrNotListening) {
				m.log.Warn("capture stop failed", "error", err)
			}
		})
	case AbortCapture:
		m.enqueueCapture(m.deps.Capture.Abort)
	case MuteCapture:
		m.enqueueCapture(m.deps.Capture.Mute)
	case UnmuteCapture:
		m.enqueueCapture(m.deps.Capture.Unmute)
	case Extract:
		go m.extract(ctx, e)
	case StartTimer:
		time.AfterFunc(e.Delay, func() { m.Post(TimerFired{Token: e.Token}) })
	case ScheduleAdminLog:
		m.schedule(func() { m.Post(AdminLogDue{Revision: e.Revision}) })
	case FetchAdminLog:
		go m.fetchAdminLog(ctx, e)
	case Persist:
		go func() {
			record, err := m.deps.Finalizer.Finalize(ctx, e.Draft)
			m.Post(Saved{Record: record, Err: err})
		}()
	case SyncRecord:
		if m.deps.Syncer != nil {
			go m.sync(ctx, e.Record)
		}
	case RunMentor:
		go m.runMentor(ctx, e.Token)
	case EmitPhase:
		sink.PhaseChanged(e.Phase, e.Reason)
	case EmitPartial:
		sink.PartialTranscript(e.Text)
	case EmitAssistant:
		sink.AssistantSpoke(e.Text)
	case EmitProgress:
		sink.FollowUpProgress(e.Step, e.Question, e.Current, e.Total)
	case EmitConfirm:
		sink.ConfirmReady(e.Items, e.AdminLog, e.Source, e.Pending)
	case EmitSaved:
		sink.Saved(e.Record, e.Comfort)
	case EmitMentorSheet:
		sink.MentorSheet(e.Sheet)
	case EmitError:
		m.log.Warn("session error", "code", e.Code, "detail", e.Detail)
		sink.SessionError(e.Code, e.Detail)
	default:
		m.log.Error("unknown effect", "effect", fmt.Sprintf("%T", effect))
	}
}

// captureWorker applies capture operations in the order the transitions issued them.
func (m *Machine) captureWorker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case op := <-m.captures:
			op()
		}
	}
}

func (m *Machine) enqueueCapture(op func()) {
	select {
	case m.captures <- op:
	case <-m.done:
	}
}

func (m *Machine) startCapture(ctx context.Context, e StartCapture) {
	token := e.Token
	handler := capture.Handler{
		OnPartial: func(text string) {
			m.Post(PartialHeard{Token: token, Text: text})
		},
		OnUtterance: func(text string) {
			m.Post(AnswerCaptured{Token: token, Utterance: m.utterance(text)})
		},
		OnStopped: func(transcript string, reason capture.StopReason) {
			m.log.Debug("capture stopped", "reason", reason, "chars", len(transcript))
			if e.Mode == capture.ModeNormal {
				m.Post(NarrationCaptured{Token: token, Utterance: m.utterance(transcript)})
				return
			}
			if strings.TrimSpace(transcript) != "" {
				m.Post(AnswerCaptured{Token: token, Utterance: m.utterance(transcript)})
			}
			m.Post(CaptureClosed{Token: token})
		},
		OnFailure: func(kind capture.FailureKind, err error) {
			m.Post(CaptureFailed{Token: token, Permission: kind == capture.FailurePermission, Err: err})
		},
	}
	if err := m.deps.Capture.Start(ctx, e.Mode, handler); err != nil {
		m.Post(CaptureFailed{Token: token, Permission: errors.Is(err, domain.ErrPermissionDenied), Err: err})
	}
}

func (m *Machine) speak(ctx context.Context, e Speak) {
	if m.stale(e.Token) {
		return
	}
	err := m.deps.Speaker.Speak(ctx, e.Text)
	m.Post(PlaybackDone{Token: e.Token, Err: err})
}

func (m *Machine) extract(ctx context.Context, e Extract) {
	if m.deps.Extractor == nil {
		m.Post(ExtractionDone{Token: e.Token, Err: errNoExtractor})
		return
	}
	extractCtx, cancel := context.WithTimeout(ctx, m.opts.ExtractTimeout)
	defer cancel()
	resp, err := m.deps.Extractor.Extract(extractCtx, e.Request)
	if err != nil {
		err = fmt.Errorf("failed to extract slots: %w", err)
	}
	m.Post(ExtractionDone{Token: e.Token, Response: resp, Err: err})
}

func (m *Machine) fetchAdminLog(ctx context.Context, e FetchAdminLog) {
	if m.deps.AdminLog == nil {
		m.Post(AdminLogDone{Revision: e.Revision})
		return
	}
	fetchCtx, cancel := context.WithTimeout(ctx, m.opts.ExtractTimeout)
	defer cancel()
	text, err := m.deps.AdminLog.WriteAdminLog(fetchCtx, e.Items)
	if err != nil {
		err = fmt.Errorf("failed to write admin log: %w", err)
	}
	m.Post(AdminLogDone{Revision: e.Revision, Text: text, Err: err})
}

func (m *Machine) sync(ctx context.Context, record domain.LocalRecord) {
	syncCtx, cancel := context.WithTimeout(ctx, m.opts.SyncTimeout)
	defer cancel()
	if err := m.deps.Syncer.PushRecord(syncCtx, record); err != nil {
		m.log.Warn("record sync failed", "id", record.ID, "error", err)
		return
	}
	if m.deps.Records == nil {
		return
	}
	if err := m.deps.Records.MarkSynced(syncCtx, record.ID, m.deps.Now()); err != nil {
		m.log.Warn("sync marker not written", "id", record.ID, "error", err)
	}
}

// runMentor speaks the comfort line while tomorrow's forecast loads, then the forecast hint and
// the escalation question.
func (m *Machine) runMentor(ctx context.Context, token int) {
	var forecast *domain.Forecast
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		m.deps.Sink.AssistantSpoke(risk.ComfortLine)
		return m.deps.Speaker.Speak(gctx, risk.ComfortLine)
	})
	if m.deps.Weather != nil {
		g.Go(func() error {
			weatherCtx, cancel := context.WithTimeout(gctx, m.opts.WeatherTimeout)
			defer cancel()
			f, err := m.deps.Weather.Tomorrow(weatherCtx)
			if err != nil {
				m.log.Warn("tomorrow forecast unavailable", "error", err)
				return nil
			}
			forecast = &f
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		m.log.Debug("comfort line not completed", "error", err)
	}

	lines := []string{risk.EscalationQuestion}
	if forecast != nil {
		lines = append([]string{risk.TomorrowHint(*forecast)}, lines...)
	}
	for _, line := range lines {
		if m.stale(token) {
			return
		}
		m.deps.Sink.AssistantSpoke(line)
		if err := m.deps.Speaker.Speak(ctx, line); err != nil {
			m.log.Debug("mentor line not completed", "error", err)
		}
	}
	m.Post(MentorReady{Token: token, Forecast: forecast, At: m.deps.Now()})
}
