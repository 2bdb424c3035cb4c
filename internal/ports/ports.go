package ports

import (
	"context"
	"io"
	"time"

	"agrivoice/internal/domain"
)

// AudioConfig describes how the microphone should be captured.
type AudioConfig struct {
	SampleRate  int
	Channels    int
	InputFormat string
	InputDevice string
}

// AudioSession is a live capture session.
type AudioSession interface {
	io.ReadCloser
	Stop() error
}

// AudioCapture creates microphone capture sessions.
type AudioCapture interface {
	Start(ctx context.Context, cfg AudioConfig) (AudioSession, error)
}

// StreamingConfig describes provider-agnostic streaming settings.
type StreamingConfig struct {
	SampleRate     int
	Channels       int
	Encoding       string
	InterimResults bool
}

// StreamingSession is an active provider websocket session.
type StreamingSession interface {
	SendAudio(chunk []byte) error
	KeepAlive() error
	CloseSend() error
	Events() <-chan domain.TranscriptEvent
	Wait() error
	Close() error
}

// TranscriptionProvider starts streaming transcription sessions.
type TranscriptionProvider interface {
	StartStreaming(ctx context.Context, cfg StreamingConfig) (StreamingSession, error)
}

// RecognitionStream is one running recognition session of an engine.
type RecognitionStream interface {
	Results() <-chan domain.RecognitionResult
	// Wait blocks until the stream terminates and returns the termination cause.
	Wait() error
	// Stop ends the session after flushing pending results.
	Stop() error
	// Abort ends the session immediately, dropping pending results.
	Abort() error
}

// RecognitionEngine is a speech-to-text engine able to run one session at a time.
type RecognitionEngine interface {
	Start(ctx context.Context) (RecognitionStream, error)
}

// Voice is a synthesizer voice.
type Voice struct {
	Name    string
	Lang    string
	Default bool
}

// Utterance is one text-to-speech request.
type Utterance struct {
	Text  string
	Lang  string
	Voice *Voice
	Rate  float64
	Pitch float64
}

// Synthesizer is a text-to-speech engine.
type Synthesizer interface {
	Speaking() bool
	Pending() bool
	Cancel()
	Voices(ctx context.Context) ([]Voice, error)
	// Speak issues u and returns a channel that receives once when playback ends.
	// On some platforms the channel may never receive.
	Speak(u Utterance) (<-chan error, error)
}

// ExtractionRequest is sent to the AI extraction service.
type ExtractionRequest struct {
	Utterance string
	Corrected string
	History   []domain.Message
	Locations []string
	Location  string
	Weather   *domain.OutdoorWeather
	Partial   domain.Slots
}

// ExtractionResponse is the AI extraction contract. MissingQuestions may hold unknown names.
type ExtractionResponse struct {
	Reply            string
	Slots            domain.Slots
	MissingQuestions []string
	Confidence       domain.Confidence
	NewLocation      string
	MentorMode       bool
	Advice           string
	StrategicAdvice  string
}

// Extractor performs primary slot extraction.
type Extractor interface {
	Extract(ctx context.Context, req ExtractionRequest) (ExtractionResponse, error)
}

// AdminLogWriter produces a natural-language admin log from labeled fields.
type AdminLogWriter interface {
	WriteAdminLog(ctx context.Context, items []domain.ConfirmItem) (string, error)
}

// OCRResult is the seed data read from a photographed diary page.
type OCRResult struct {
	RawText string
	Slots   domain.Slots
	Date    string
}

// OCR reads text from an image.
type OCR interface {
	Scan(ctx context.Context, image []byte, mimeType string) (OCRResult, error)
}

// WeatherSource provides optional outdoor weather.
type WeatherSource interface {
	Current(ctx context.Context) (domain.OutdoorWeather, error)
	Tomorrow(ctx context.Context) (domain.Forecast, error)
}

// RecordStore is the append-only record log.
type RecordStore interface {
	AppendRecord(ctx context.Context, record domain.LocalRecord) error
	ListRecords(ctx context.Context, limit int) ([]domain.LocalRecord, error)
	UnsyncedRecords(ctx context.Context) ([]domain.LocalRecord, error)
	MarkSynced(ctx context.Context, id string, at time.Time) error
}

// LocationStore is the location master list.
type LocationStore interface {
	ListLocations(ctx context.Context) ([]domain.LocationMaster, error)
	CreateLocation(ctx context.Context, location domain.LocationMaster) error
}

// MoodLog stores coarse risk summaries.
type MoodLog interface {
	AppendMood(ctx context.Context, entry domain.MoodEntry) error
	PruneMoods(ctx context.Context, before time.Time) (int64, error)
}

// SessionMemory remembers the previous interview.
type SessionMemory interface {
	SaveLastSession(ctx context.Context, session domain.LastSession) error
	LastSession(ctx context.Context) (domain.LastSession, bool, error)
}

// RecordSyncer pushes saved records to a remote store.
type RecordSyncer interface {
	PushRecord(ctx context.Context, record domain.LocalRecord) error
}

// TermCorrector fixes recognizer mistakes in domain vocabulary.
type TermCorrector interface {
	Apply(text string) (string, error)
}

// Clipboard writes text into the system clipboard.
type Clipboard interface {
	SetText(ctx context.Context, text string) error
}

// EventSink emits backend state/events to the UI.
type EventSink interface {
	PhaseChanged(phase domain.Phase, reason domain.PhaseReason)
	PartialTranscript(text string)
	AssistantSpoke(text string)
	FollowUpProgress(step domain.FollowUpStep, question string, current int, total int)
	ConfirmReady(items []domain.ConfirmItem, adminLog string, source domain.AdminLogSource, pending bool)
	Saved(record domain.LocalRecord, comfort *domain.ComfortContent)
	MentorSheet(sheet string)
	SessionError(code domain.ErrorCode, detail string)
}
