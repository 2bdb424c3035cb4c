package interview

import (
	"fmt"
	"strings"

	"agrivoice/internal/capture"
	"agrivoice/internal/domain"
	"agrivoice/internal/finalize"
	"agrivoice/internal/ports"
	"agrivoice/internal/risk"
	"agrivoice/internal/slots"
)

// Transition computes the next context and the effects that carry it out. It never blocks and
// never touches the outside world.
func Transition(c Context, ev Event) (Context, []Effect) {
	t := &step{c: c}
	switch ev := ev.(type) {
	case Begin:
		t.begin(ev)
	case StopListening:
		if t.c.Phase == domain.PhaseListening && t.c.Capturing {
			t.emit(StopCapture{})
		}
	case PartialHeard:
		if ev.Token == t.c.CaptureToken && t.c.Capturing && !t.c.Muted {
			t.emit(EmitPartial{Text: ev.Text})
		}
	case NarrationCaptured:
		if ev.Token != t.c.CaptureToken || t.c.Phase != domain.PhaseListening {
			break
		}
		t.c.Capturing = false
		t.narration(ev.Utterance)
	case AnswerCaptured:
		if ev.Token != t.c.CaptureToken || !t.c.Capturing || t.c.Muted {
			break
		}
		t.answer(ev.Utterance)
	case TextEntered:
		t.typed(ev.Utterance)
	case WeatherLoaded:
		weather := ev.Weather
		t.c.Weather = &weather
	case CaptureClosed:
		if ev.Token == t.c.CaptureToken && t.c.Capturing {
			t.c.Capturing = false
			t.c.Muted = false
		}
	case CaptureFailed:
		t.captureFailed(ev)
	case ExtractionDone:
		if ev.Token != t.c.ExtractToken || t.c.Phase != domain.PhaseThinking {
			break
		}
		t.extracted(ev)
	case PlaybackDone:
		if ev.Token != t.c.PlaybackToken {
			break
		}
		t.playbackDone()
	case TimerFired:
		if ev.Token != t.c.TimerToken || t.c.Phase != domain.PhaseBreathing {
			break
		}
		t.ask()
	case SkipStep:
		t.skipStep()
	case Discard:
		t.silence()
		t.c = t.c.reset()
		t.phase(domain.PhaseIdle, domain.ReasonDiscarded)
	case PhotoAdded:
		t.photoAdded(ev.Count)
	case PhotoScanned:
		t.photoScanned(ev)
	case EditItem:
		t.edit(ev)
	case AdminLogDue:
		t.adminLogDue(ev.Revision)
	case AdminLogDone:
		t.adminLogDone(ev)
	case SaveRequested:
		t.requestSave()
	case Saved:
		t.saved(ev)
	case MentorReady:
		t.mentorReady(ev)
	case MentorAnswer:
		if t.c.Phase == domain.PhaseMentor {
			t.mentorAnswer(ev.Yes)
		}
	}
	return t.c, t.effects
}

type step struct {
	c       Context
	effects []Effect
}

func (t *step) emit(effects ...Effect) {
	t.effects = append(t.effects, effects...)
}

func (t *step) phase(p domain.Phase, reason domain.PhaseReason) {
	t.c.Phase = p
	t.emit(EmitPhase{Phase: p, Reason: reason})
}

func (t *step) speak(text string, purpose Purpose) {
	t.c.PlaybackToken++
	t.c.Playing = purpose
	t.emit(Speak{Token: t.c.PlaybackToken, Text: text}, EmitAssistant{Text: text})
}

// silence cancels playback, pending timers and capture so nothing in flight survives the
// transition.
func (t *step) silence() {
	t.c.PlaybackToken++
	t.c.Playing = PurposeNone
	t.c.TimerToken++
	t.emit(CancelSpeech{})
	if t.c.Capturing {
		t.c.Capturing = false
		t.c.Muted = false
		t.c.CaptureToken++
		t.emit(AbortCapture{})
	}
}

func (t *step) mute() {
	if t.c.Capturing && !t.c.Muted {
		t.c.Muted = true
		t.emit(MuteCapture{})
	}
}

func (t *step) listen(mode capture.Mode) {
	if t.c.Capturing && mode == capture.ModePersistent {
		if t.c.Muted {
			t.c.Muted = false
			t.emit(UnmuteCapture{})
		}
		return
	}
	t.c.CaptureToken++
	t.c.Capturing = true
	t.c.Muted = false
	t.emit(StartCapture{Token: t.c.CaptureToken, Mode: mode})
}

func (t *step) begin(ev Begin) {
	t.silence()
	t.c = t.c.reset()
	t.c.Today = ev.Today
	t.c.LastSession = ev.Last
	if ev.Locations != nil {
		t.c.Locations = ev.Locations
	}
	t.emit(PrepareCapture{})
	t.phase(domain.PhaseListening, domain.ReasonBegin)
	t.speak(openingPrompt(ev.Last), PurposeOpening)
}

// critical routes tier-3 speech to the support flow and reports whether it did.
func (t *step) critical(u Utterance) bool {
	if u.Risk.Tier < 3 {
		return false
	}
	t.enterMentor(u.Text)
	return true
}

func (t *step) narration(u Utterance) {
	text := strings.TrimSpace(u.Text)
	if text == "" {
		t.phase(domain.PhaseIdle, domain.ReasonNoTranscript)
		return
	}
	if t.critical(u) {
		return
	}
	t.c.Risk = risk.Max(t.c.Risk, u.Risk)
	if u.Risk.Tier == 1 {
		t.c.Nudge = u.Risk.PrimaryCategory
	}
	if loc, ok := slots.DetectLocationOverride(text, t.c.Location); ok {
		t.c.Location = loc
	}
	t.c.Transcript = strings.TrimSpace(t.c.Transcript + " " + u.Raw)
	t.c.History = appendMessage(t.c.History, roleUser, text)
	t.phase(domain.PhaseThinking, domain.ReasonNarrationCaptured)

	t.c.ExtractToken++
	t.emit(Extract{Token: t.c.ExtractToken, Request: ports.ExtractionRequest{
		Utterance: u.Raw,
		Corrected: text,
		History:   t.c.History,
		Locations: t.c.Locations,
		Location:  t.c.Location,
		Weather:   t.c.Weather,
		Partial:   t.c.Slots.Clone(),
	}})
}

func (t *step) extracted(ev ExtractionDone) {
	reply := ""
	reason := domain.ReasonExtracted
	var missing []string
	if ev.Err != nil {
		texts := t.c.historyTexts()
		if n := len(texts); n > 0 {
			t.c.Slots = slots.Extract(texts[n-1], texts[:n-1], t.c.Slots)
		}
		reply = slots.LocalReply(t.c.Slots)
		reason = domain.ReasonExtractionLocal
		t.emit(EmitError{Code: domain.ErrorCodeExtraction, Detail: ev.Err.Error()})
	} else {
		resp := ev.Response
		if resp.MentorMode {
			t.enterMentor(lastUser(t.c.History))
			return
		}
		t.c.Slots.Merge(resp.Slots)
		if name := slots.SanitizeLocation(resp.NewLocation); name != "" {
			t.c.Location = name
		}
		reply = strings.TrimSpace(resp.Reply)
		if reply == "" {
			reply = slots.LocalReply(t.c.Slots)
		}
		missing = resp.MissingQuestions
	}

	t.c.Queue = slots.BuildQueue(missing, t.c.Slots)
	t.c.History = appendMessage(t.c.History, roleAssistant, reply)
	if t.c.Nudge != "" {
		responder := risk.Responder{Pick: t.rotate}
		if line := responder.Nudge(t.c.Nudge); line != "" {
			reply += " " + line
		}
		t.c.Nudge = ""
	}
	t.emit(EmitPhase{Phase: domain.PhaseThinking, Reason: reason})
	t.speak(reply, PurposeReply)
}

func (t *step) rotate(n int) int {
	i := t.c.Turn % n
	t.c.Turn++
	return i
}

func lastUser(history []domain.Message) string {
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Role == roleUser {
			return history[i].Text
		}
	}
	return ""
}

func (t *step) playbackDone() {
	purpose := t.c.Playing
	t.c.Playing = PurposeNone
	switch purpose {
	case PurposeOpening:
		if t.c.Phase == domain.PhaseListening {
			t.listen(capture.ModeNormal)
		}
	case PurposeReply:
		if t.c.Phase == domain.PhaseThinking {
			t.c.FollowUp = true
			t.c.FirstQuestion = true
			t.c.Index = 0
			t.advance()
		}
	case PurposeQuestion:
		step, ok := t.c.Step()
		if !ok || t.c.Phase != domain.PhaseFollowUp {
			return
		}
		if step == domain.StepPhoto {
			t.c.PhotoWaiting = true
			return
		}
		t.listen(capture.ModePersistent)
	case PurposeAck:
		t.enterConfirm(domain.ReasonQueueExhausted)
	case PurposeMentorAsk:
		if t.c.Phase == domain.PhaseMentor {
			t.listen(capture.ModePersistent)
		}
	}
}

// advance moves to the next unfilled step, or to completion when none is left.
func (t *step) advance() {
	t.c.PhotoWaiting = false
	t.c.Index = slots.NextIndex(t.c.Queue, t.c.Index, t.c.Slots)
	if t.c.Index >= len(t.c.Queue) {
		t.complete(domain.ReasonQueueExhausted)
		return
	}
	if t.c.FirstQuestion {
		t.c.FirstQuestion = false
		t.c.LastSkipped = false
		t.ask()
		return
	}
	delay := t.c.Timing.Breathing
	if t.c.LastSkipped {
		delay = t.c.Timing.SkipBreathing
	}
	t.c.LastSkipped = false
	t.mute()
	t.c.TimerToken++
	t.phase(domain.PhaseBreathing, domain.ReasonQuestion)
	t.emit(StartTimer{Token: t.c.TimerToken, Delay: delay})
}

func (t *step) ask() {
	step, ok := t.c.Step()
	if !ok {
		return
	}
	text, asked := question(step, t.c.Asked)
	t.c.Asked = asked
	t.mute()
	t.phase(domain.PhaseFollowUp, domain.ReasonQuestion)
	t.emit(EmitProgress{Step: step, Question: text, Current: t.c.Index + 1, Total: len(t.c.Queue)})
	t.speak(spokenQuestion(step, text), PurposeQuestion)
}

func (t *step) answer(u Utterance) {
	switch t.c.Phase {
	case domain.PhaseFollowUp:
		t.followUpAnswer(u)
	case domain.PhaseMentor:
		if !t.c.Mentor.Asking {
			return
		}
		if yes, ok := mentorReply(u.Text); ok {
			t.mentorAnswer(yes)
			return
		}
		t.mute()
		t.speak(risk.EscalationQuestion, PurposeMentorAsk)
	}
}

func (t *step) typed(u Utterance) {
	switch t.c.Phase {
	case domain.PhaseIdle, domain.PhaseListening:
		t.silence()
		if t.c.Phase == domain.PhaseIdle {
			t.emit(EmitPhase{Phase: domain.PhaseListening, Reason: domain.ReasonManualEntry})
			t.c.Phase = domain.PhaseListening
		}
		t.narration(u)
	case domain.PhaseFollowUp:
		t.followUpAnswer(u)
	case domain.PhaseMentor:
		if yes, ok := mentorReply(u.Text); ok && t.c.Mentor.Asking {
			t.mentorAnswer(yes)
		}
	default:
		t.critical(u)
	}
}

func (t *step) followUpAnswer(u Utterance) {
	if t.critical(u) {
		return
	}
	step, ok := t.c.Step()
	if !ok {
		return
	}
	t.c.Risk = risk.Max(t.c.Risk, u.Risk)
	t.mute()
	if text := strings.TrimSpace(u.Text); text != "" {
		t.c.Transcript = strings.TrimSpace(t.c.Transcript + " " + u.Raw)
		t.c.History = appendMessage(t.c.History, roleUser, text)
	}

	ans := slots.ClassifyAnswer(step, u.Text, t.c.Slots)
	switch ans.Outcome {
	case slots.OutcomeDone:
		t.complete(domain.ReasonDone)
	case slots.OutcomeRetry:
		t.speak(slots.RetryPrompt, PurposeQuestion)
	case slots.OutcomeAwaitPhoto:
		t.c.PhotoWaiting = true
	case slots.OutcomeSkipped:
		t.c.Index++
		t.c.LastSkipped = true
		t.advance()
	default:
		t.c.Slots = ans.Slots
		t.c.Index++
		t.advance()
	}
}

func (t *step) skipStep() {
	switch t.c.Phase {
	case domain.PhaseFollowUp, domain.PhaseBreathing:
	default:
		return
	}
	t.c.PlaybackToken++
	t.c.Playing = PurposeNone
	t.c.TimerToken++
	t.emit(CancelSpeech{})
	t.mute()
	t.c.Index++
	t.c.LastSkipped = true
	t.advance()
}

func (t *step) photoAdded(n int) {
	if n <= 0 {
		return
	}
	t.c.PhotoCount += n
	if step, ok := t.c.Step(); ok && step == domain.StepPhoto && t.c.Phase == domain.PhaseFollowUp {
		t.c.Index++
		t.advance()
	}
}

// complete ends the follow-up cycle with a short acknowledgment.
func (t *step) complete(reason domain.PhaseReason) {
	t.c.TimerToken++
	t.c.FollowUp = false
	t.c.PhotoWaiting = false
	if t.c.Capturing {
		t.c.Capturing = false
		t.c.Muted = false
		t.c.CaptureToken++
		t.emit(AbortCapture{})
	}
	t.emit(CancelSpeech{})
	t.phase(domain.PhaseFollowUp, reason)
	t.speak(completionAck, PurposeAck)
}

func (t *step) enterConfirm(reason domain.PhaseReason) {
	t.c.FollowUp = false
	t.c.Items = slots.ConfirmItems(t.c.Slots)
	t.c.SaveRequested = false
	t.phase(domain.PhaseConfirm, reason)
	t.regenerate()
	if slots.LongDuration(t.c.Slots) {
		t.speak(slots.RestPrompt, PurposeInfo)
	}
}

// regenerate replaces the admin log with the template for the current rows and schedules the
// richer asynchronous version.
func (t *step) regenerate() {
	current := slots.ApplyConfirmItems(t.c.Items, t.c.Slots)
	t.c.Log.Revision++
	t.c.Log.Scheduled = true
	t.c.AdminLog = slots.AdminLog(current, t.c.Location, t.date())
	t.c.AdminLogSource = domain.AdminLogTemplate
	t.emit(ScheduleAdminLog{Revision: t.c.Log.Revision})
	t.confirmReady()
}

func (t *step) confirmReady() {
	t.emit(EmitConfirm{
		Items:    t.c.Items,
		AdminLog: t.c.AdminLog,
		Source:   t.c.AdminLogSource,
		Pending:  t.c.SaveRequested,
	})
}

func (t *step) date() string {
	if t.c.Date != "" {
		return t.c.Date
	}
	return t.c.Today
}

func (t *step) edit(ev EditItem) {
	if t.c.Phase != domain.PhaseConfirm || t.c.Saving {
		return
	}
	t.c.Items = slots.UpdateItem(t.c.Items, ev.Key, ev.Value)
	t.regenerate()
}

func (t *step) adminLogDue(revision int) {
	if t.c.Phase != domain.PhaseConfirm || revision != t.c.Log.Revision || !t.c.Log.Scheduled {
		return
	}
	t.fetchAdminLog()
}

func (t *step) fetchAdminLog() {
	t.c.Log.Scheduled = false
	t.c.Log.InFlight = t.c.Log.Revision
	t.emit(FetchAdminLog{Revision: t.c.Log.Revision, Items: t.c.Items})
}

func (t *step) adminLogDone(ev AdminLogDone) {
	if ev.Revision == t.c.Log.InFlight {
		t.c.Log.InFlight = 0
	}
	if t.c.Phase != domain.PhaseConfirm || ev.Revision != t.c.Log.Revision {
		return
	}
	if ev.Err != nil {
		t.emit(EmitError{Code: domain.ErrorCodeAdminLog, Detail: ev.Err.Error()})
	} else if text := strings.TrimSpace(ev.Text); text != "" {
		t.c.AdminLog = text
		t.c.AdminLogSource = domain.AdminLogAI
	}
	if t.c.SaveRequested && !t.c.Log.Blocked() {
		t.save()
		return
	}
	t.confirmReady()
}

// requestSave persists the record, or waits when a newer admin log is still being produced.
func (t *step) requestSave() {
	if t.c.Phase != domain.PhaseConfirm || t.c.Saving {
		return
	}
	t.c.SaveRequested = true
	if t.c.Log.Scheduled {
		t.fetchAdminLog()
	}
	if t.c.Log.Blocked() {
		t.confirmReady()
		return
	}
	t.save()
}

func (t *step) save() {
	t.c.SaveRequested = false
	t.c.Saving = true
	t.silence()
	t.emit(Persist{Draft: finalize.Draft{
		Date:           t.date(),
		Location:       t.c.Location,
		Slots:          t.c.Slots.Clone(),
		Items:          t.c.Items,
		AdminLog:       t.c.AdminLog,
		AdminLogSource: t.c.AdminLogSource,
		PhotoCount:     t.c.PhotoCount,
		Transcript:     t.c.Transcript,
		Risk:           t.c.Risk,
		Weather:        t.c.Weather,
	}})
}

func (t *step) saved(ev Saved) {
	if !t.c.Saving {
		return
	}
	t.c.Saving = false
	if ev.Err != nil {
		t.emit(EmitError{Code: domain.ErrorCodeSave, Detail: ev.Err.Error()})
		t.confirmReady()
		return
	}

	var comfort *domain.ComfortContent
	closing := savedLine
	if t.c.Risk.Tier == 2 {
		content := risk.Responder{Pick: t.rotate}.Comfort(t.c.Risk.PrimaryCategory)
		comfort = &content
		closing = content.Message
	} else if profit := slots.EstimateProfit(ev.Record.Slots); profit.Total > 0 {
		closing = fmt.Sprintf("%s %s。", profit.Praise, profit.Note)
	}
	t.emit(EmitSaved{Record: ev.Record, Comfort: comfort}, SyncRecord{Record: ev.Record})

	t.c = t.c.reset()
	t.c.LastSession = &domain.LastSession{
		Location: ev.Record.Location,
		Work:     ev.Record.Slots.WorkLog,
		Date:     ev.Record.Date,
	}
	t.phase(domain.PhaseIdle, domain.ReasonSaved)
	t.speak(closing, PurposeInfo)
}

func (t *step) captureFailed(ev CaptureFailed) {
	if ev.Token != t.c.CaptureToken || !t.c.Capturing {
		return
	}
	t.c.Capturing = false
	t.c.Muted = false
	detail := ""
	if ev.Err != nil {
		detail = ev.Err.Error()
	}
	if ev.Permission {
		t.emit(EmitError{Code: domain.ErrorCodePermission, Detail: detail})
		t.emit(EmitPhase{Phase: t.c.Phase, Reason: domain.ReasonPermissionDenied})
		return
	}
	t.emit(EmitError{Code: domain.ErrorCodeCapture, Detail: detail})
	t.emit(EmitPhase{Phase: t.c.Phase, Reason: domain.ReasonManualEntry})
}

func (t *step) photoScanned(ev PhotoScanned) {
	if ev.Err != nil {
		t.emit(EmitError{Code: domain.ErrorCodeOCR, Detail: ev.Err.Error()})
		return
	}
	switch t.c.Phase {
	case domain.PhaseMentor, domain.PhaseConfirm:
		return
	}
	if ev.Today != "" {
		t.c.Today = ev.Today
	}
	t.silence()
	t.c.FollowUp = false
	t.c.Slots.Merge(ev.Result.Slots)
	if ev.Result.Date != "" {
		t.c.Date = ev.Result.Date
	}
	raw := strings.TrimSpace(ev.Result.RawText)
	if noData(t.c.Slots) && raw != "" {
		t.c.Slots.WorkLog = raw
	}
	if noData(t.c.Slots) {
		t.phase(domain.PhaseIdle, domain.ReasonPhotoScanned)
		t.speak(emptyScan, PurposeInfo)
		return
	}
	if raw != "" {
		t.c.Transcript = strings.TrimSpace(t.c.Transcript + " " + raw)
	}
	t.enterConfirm(domain.ReasonPhotoScanned)
}

func noData(s domain.Slots) bool {
	s.Location = ""
	return s == domain.Slots{}
}

func (t *step) enterMentor(text string) {
	t.silence()
	t.c.FollowUp = false
	t.c.Mentor = Mentor{Text: text}
	t.c.Risk.Tier = 3
	t.phase(domain.PhaseMentor, domain.ReasonRiskCritical)
	t.c.PlaybackToken++
	t.c.Playing = PurposeMentor
	t.emit(RunMentor{Token: t.c.PlaybackToken})
}

func (t *step) mentorReady(ev MentorReady) {
	if ev.Token != t.c.PlaybackToken || t.c.Phase != domain.PhaseMentor {
		return
	}
	t.c.Playing = PurposeNone
	t.c.Mentor.Forecast = ev.Forecast
	t.c.Mentor.At = ev.At
	t.c.Mentor.Asking = true
	t.listen(capture.ModePersistent)
}

func (t *step) mentorAnswer(yes bool) {
	if !yes {
		t.silence()
		t.c = t.c.reset()
		t.phase(domain.PhaseIdle, domain.ReasonMentorDeclined)
		return
	}
	t.silence()
	t.c.Mentor.Asking = false
	t.c.Mentor.Sheet = risk.ConsultationSheet(t.c.Mentor.Text, t.c.Mentor.At, t.c.Mentor.Forecast)
	t.emit(EmitMentorSheet{Sheet: t.c.Mentor.Sheet})
	t.speak(sheetReady, PurposeInfo)
}
