// Package interview is the conversational state machine. Transition is a pure function over an
// explicit Context; Machine runs it on one goroutine and executes the effects it returns.
package interview

import (
	"slices"
	"time"

	"agrivoice/internal/domain"
	"agrivoice/internal/slots"
)

// Purpose records what the utterance in flight is for, so its completion can continue the flow.
type Purpose int

const (
	PurposeNone Purpose = iota
	PurposeOpening
	PurposeReply
	PurposeQuestion
	PurposeAck
	PurposeInfo
	PurposeMentor
	PurposeMentorAsk
)

// Timing holds the delays the machine schedules.
type Timing struct {
	Breathing     time.Duration
	SkipBreathing time.Duration
}

// DefaultTiming is 1.5s of breathing room, shortened to 0.5s after a skip.
func DefaultTiming() Timing {
	return Timing{Breathing: 1500 * time.Millisecond, SkipBreathing: 500 * time.Millisecond}
}

// Mentor is the support-flow state.
type Mentor struct {
	Text     string
	Forecast *domain.Forecast
	At       time.Time
	Asking   bool
	Sheet    string
}

// AdminLogState tracks the asynchronous admin-log replacement of the current revision.
type AdminLogState struct {
	Revision  int
	Scheduled bool
	// InFlight is the revision being fetched, 0 when none.
	InFlight int
}

// Blocked reports whether a save must wait for the fetch of the current revision.
func (a AdminLogState) Blocked() bool {
	return a.Scheduled || (a.InFlight != 0 && a.InFlight == a.Revision)
}

// Context is everything a transition may read or change. Slices are never mutated in place.
type Context struct {
	Phase  domain.Phase
	Timing Timing
	Today  string

	Location    string
	Locations   []string
	LastSession *domain.LastSession
	Weather     *domain.OutdoorWeather

	Slots      domain.Slots
	History    []domain.Message
	Transcript string
	Date       string
	Risk       domain.EmotionAnalysis
	Nudge      domain.EmotionCategory

	Queue         []domain.FollowUpStep
	Index         int
	FollowUp      bool
	FirstQuestion bool
	LastSkipped   bool
	PhotoWaiting  bool
	PhotoCount    int
	Asked         [8]int
	Turn          int

	Items          []domain.ConfirmItem
	AdminLog       string
	AdminLogSource domain.AdminLogSource
	Log            AdminLogState
	SaveRequested  bool
	Saving         bool

	Mentor Mentor

	// Completion tokens. A completion event whose token differs from the current one is stale.
	PlaybackToken int
	Playing       Purpose
	ExtractToken  int
	CaptureToken  int
	Capturing     bool
	Muted         bool
	TimerToken    int
}

// NewContext returns an idle context.
func NewContext(timing Timing) Context {
	return Context{
		Phase:    domain.PhaseIdle,
		Timing:   timing,
		Location: slots.DefaultLocation,
	}
}

// Step returns the follow-up step at the current index.
func (c Context) Step() (domain.FollowUpStep, bool) {
	if !c.FollowUp || c.Index < 0 || c.Index >= len(c.Queue) {
		return "", false
	}
	return c.Queue[c.Index], true
}

// reset clears session data and keeps the tokens, the location and the question rotation.
func (c Context) reset() Context {
	next := NewContext(c.Timing)
	next.Today = c.Today
	next.Location = c.Location
	next.Locations = c.Locations
	next.LastSession = c.LastSession
	next.Weather = c.Weather
	next.Asked = c.Asked
	next.Turn = c.Turn
	next.PlaybackToken = c.PlaybackToken
	next.ExtractToken = c.ExtractToken
	next.CaptureToken = c.CaptureToken
	next.TimerToken = c.TimerToken
	next.Log.Revision = c.Log.Revision
	return next
}

func (c Context) historyTexts() []string {
	out := make([]string, 0, len(c.History))
	for _, m := range c.History {
		if m.Role == roleUser {
			out = append(out, m.Text)
		}
	}
	return out
}

const (
	roleUser      = "user"
	roleAssistant = "assistant"
)

func appendMessage(history []domain.Message, role, text string) []domain.Message {
	out := slices.Clip(history)
	return append(out, domain.Message{Role: role, Text: text})
}
