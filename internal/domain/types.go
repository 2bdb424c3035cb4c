package domain

import "errors"

// ErrPermissionDenied is returned by capture engines when microphone access is refused.
var ErrPermissionDenied = errors.New("microphone permission denied")

// Phase is the interview state machine phase.
type Phase string

const (
	PhaseIdle      Phase = "IDLE"
	PhaseListening Phase = "LISTENING"
	PhaseThinking  Phase = "THINKING"
	PhaseFollowUp  Phase = "FOLLOW_UP"
	PhaseBreathing Phase = "BREATHING"
	PhaseConfirm   Phase = "CONFIRM"
	PhaseMentor    Phase = "MENTOR"
)

// PhaseReason provides a structured reason for phase transitions.
type PhaseReason string

const (
	ReasonReady             PhaseReason = "ready"
	ReasonBegin             PhaseReason = "begin"
	ReasonNarrationCaptured PhaseReason = "narration_captured"
	ReasonNoTranscript      PhaseReason = "no_transcript"
	ReasonExtracted         PhaseReason = "extracted"
	ReasonExtractionLocal   PhaseReason = "extraction_local"
	ReasonQuestion          PhaseReason = "question"
	ReasonQueueExhausted    PhaseReason = "queue_exhausted"
	ReasonDone              PhaseReason = "done_requested"
	ReasonRiskCritical      PhaseReason = "risk_critical"
	ReasonMentorDeclined    PhaseReason = "mentor_declined"
	ReasonSaved             PhaseReason = "saved"
	ReasonDiscarded         PhaseReason = "discarded"
	ReasonPhotoScanned      PhaseReason = "photo_scanned"
	ReasonManualEntry       PhaseReason = "manual_entry"
	ReasonPermissionDenied  PhaseReason = "permission_denied"
)

// ErrorCode identifies non-fatal and fatal backend errors.
type ErrorCode string

const (
	ErrorCodeStartup     ErrorCode = "startup"
	ErrorCodePermission  ErrorCode = "permission"
	ErrorCodeCapture     ErrorCode = "capture"
	ErrorCodeExtraction  ErrorCode = "extraction"
	ErrorCodeAdminLog    ErrorCode = "admin_log"
	ErrorCodeOCR         ErrorCode = "ocr"
	ErrorCodeSave        ErrorCode = "save"
	ErrorCodeClipboard   ErrorCode = "clipboard"
	ErrorCodeAudioStream ErrorCode = "audio_stream"
)

// TranscriptKind identifies whether a stream event is partial or final text.
type TranscriptKind string

const (
	TranscriptKindPartial TranscriptKind = "partial"
	TranscriptKindFinal   TranscriptKind = "final"
)

// TranscriptEvent represents incremental transcription output from a provider.
type TranscriptEvent struct {
	Kind          TranscriptKind `json:"kind"`
	Text          string         `json:"text"`
	IsSpeechFinal bool           `json:"isSpeechFinal"`
}

// RecognitionResult is one indexed entry of a recognition session's result list.
// Interim results share the index of the segment they refine.
type RecognitionResult struct {
	Index       int
	Text        string
	Final       bool
	SpeechFinal bool
}

// Message is one conversation turn sent as history to the extraction service.
type Message struct {
	Role string `json:"role"`
	Text string `json:"text"`
}

// Confidence is the coarse bucket for how much data a turn captured.
type Confidence string

const (
	ConfidenceLow    Confidence = "low"
	ConfidenceMedium Confidence = "medium"
	ConfidenceHigh   Confidence = "high"
)

// OutdoorWeather is the current outdoor condition.
type OutdoorWeather struct {
	Description string  `json:"description"`
	Temperature float64 `json:"temperature"`
	Code        int     `json:"code"`
}

// Forecast is a single-day forecast.
type Forecast struct {
	Description string  `json:"description"`
	MaxTemp     float64 `json:"maxTemp"`
	MinTemp     float64 `json:"minTemp"`
}

// Status summarizes the current runtime status.
type Status struct {
	Phase   Phase  `json:"phase"`
	Active  bool   `json:"active"`
	Message string `json:"message,omitempty"`
}
