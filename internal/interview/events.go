package interview

import (
	"time"

	"agrivoice/internal/domain"
	"agrivoice/internal/ports"
)

// Event is an input to Transition.
type Event interface{ event() }

// Utterance is one piece of user speech or typed text, already term-corrected and classified.
type Utterance struct {
	Raw  string
	Text string
	Risk domain.EmotionAnalysis
}

type (
	// Begin starts a new interview.
	Begin struct {
		Today     string
		Last      *domain.LastSession
		Locations []string
	}
	// WeatherLoaded refreshes the outdoor weather sent along with extraction requests.
	WeatherLoaded struct {
		Weather domain.OutdoorWeather
	}
	// StopListening is the user ending free narration.
	StopListening struct{}
	PartialHeard  struct {
		Token int
		Text  string
	}
	// NarrationCaptured is the transcript of a normal-mode capture session.
	NarrationCaptured struct {
		Token     int
		Utterance Utterance
	}
	// AnswerCaptured is one speech-final utterance of the persistent session.
	AnswerCaptured struct {
		Token     int
		Utterance Utterance
	}
	// CaptureClosed reports that a session ended without a failure, for example on the time limit
	// while waiting for an answer.
	CaptureClosed struct {
		Token int
	}
	CaptureFailed struct {
		Token      int
		Permission bool
		Err        error
	}
	// TextEntered is typed input, used when capture is unavailable.
	TextEntered struct {
		Utterance Utterance
	}
	ExtractionDone struct {
		Token    int
		Response ports.ExtractionResponse
		Err      error
	}
	PlaybackDone struct {
		Token int
		Err   error
	}
	TimerFired struct {
		Token int
	}
	SkipStep struct{}
	// Discard drops the session without saving. Skip-all maps to it too.
	Discard    struct{}
	PhotoAdded struct {
		Count int
	}
	PhotoScanned struct {
		Today  string
		Result ports.OCRResult
		Err    error
	}
	EditItem struct {
		Key   string
		Value string
	}
	AdminLogDue struct {
		Revision int
	}
	AdminLogDone struct {
		Revision int
		Text     string
		Err      error
	}
	SaveRequested struct{}
	Saved         struct {
		Record domain.LocalRecord
		Err    error
	}
	MentorReady struct {
		Token    int
		Forecast *domain.Forecast
		At       time.Time
	}
	MentorAnswer struct {
		Yes bool
	}
)

func (Begin) event()             {}
func (WeatherLoaded) event()     {}
func (StopListening) event()     {}
func (PartialHeard) event()      {}
func (NarrationCaptured) event() {}
func (AnswerCaptured) event()    {}
func (CaptureClosed) event()     {}
func (CaptureFailed) event()     {}
func (TextEntered) event()       {}
func (ExtractionDone) event()    {}
func (PlaybackDone) event()      {}
func (TimerFired) event()        {}
func (SkipStep) event()          {}
func (Discard) event()           {}
func (PhotoAdded) event()        {}
func (PhotoScanned) event()      {}
func (EditItem) event()          {}
func (AdminLogDue) event()       {}
func (AdminLogDone) event()      {}
func (SaveRequested) event()     {}
func (Saved) event()             {}
func (MentorReady) event()       {}
func (MentorAnswer) event()      {}
