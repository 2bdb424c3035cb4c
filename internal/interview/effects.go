package interview

import (
	"time"

	"agrivoice/internal/capture"
	"agrivoice/internal/domain"
	"agrivoice/internal/finalize"
	"agrivoice/internal/ports"
)

// Effect is an instruction returned by Transition for the machine to carry out.
type Effect interface{ effect() }

type (
	// Speak plays text; completion is reported as PlaybackDone with Token.
	Speak struct {
		Token int
		Text  string
	}
	CancelSpeech   struct{}
	PrepareCapture struct{}
	// StartCapture opens a capture session whose output events carry Token.
	StartCapture struct {
		Token int
		Mode  capture.Mode
	}
	StopCapture   struct{}
	AbortCapture  struct{}
	MuteCapture   struct{}
	UnmuteCapture struct{}
	Extract       struct {
		Token   int
		Request ports.ExtractionRequest
	}
	StartTimer struct {
		Token int
		Delay time.Duration
	}
	// ScheduleAdminLog asks for AdminLogDue after the debounce window.
	ScheduleAdminLog struct {
		Revision int
	}
	FetchAdminLog struct {
		Revision int
		Items    []domain.ConfirmItem
	}
	Persist struct {
		Draft finalize.Draft
	}
	SyncRecord struct {
		Record domain.LocalRecord
	}
	// RunMentor speaks the comfort line while fetching tomorrow's forecast, then the hint and
	// the escalation question. It reports MentorReady with Token.
	RunMentor struct {
		Token int
	}

	EmitPhase struct {
		Phase  domain.Phase
		Reason domain.PhaseReason
	}
	EmitPartial struct {
		Text string
	}
	EmitAssistant struct {
		Text string
	}
	EmitProgress struct {
		Step     domain.FollowUpStep
		Question string
		Current  int
		Total    int
	}
	EmitConfirm struct {
		Items    []domain.ConfirmItem
		AdminLog string
		Source   domain.AdminLogSource
		Pending  bool
	}
	EmitSaved struct {
		Record  domain.LocalRecord
		Comfort *domain.ComfortContent
	}
	EmitMentorSheet struct {
		Sheet string
	}
	EmitError struct {
		Code   domain.ErrorCode
		Detail string
	}
)

func (Speak) effect()            {}
func (CancelSpeech) effect()     {}
func (PrepareCapture) effect()   {}
func (StartCapture) effect()     {}
func (StopCapture) effect()      {}
func (AbortCapture) effect()     {}
func (MuteCapture) effect()      {}
func (UnmuteCapture) effect()    {}
func (Extract) effect()          {}
func (StartTimer) effect()       {}
func (ScheduleAdminLog) effect() {}
func (FetchAdminLog) effect()    {}
func (Persist) effect()          {}
func (SyncRecord) effect()       {}
func (RunMentor) effect()        {}
func (EmitPhase) effect()        {}
func (EmitPartial) effect()      {}
func (EmitAssistant) effect()    {}
func (EmitProgress) effect()     {}
func (EmitConfirm) effect()      {}
func (EmitSaved) effect()        {}
func (EmitMentorSheet) effect()  {}
func (EmitError) effect()        {}
