package interview

import (
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"agrivoice/internal/capture"
	"agrivoice/internal/domain"
	"agrivoice/internal/ports"
	"agrivoice/internal/risk"
	"agrivoice/internal/slots"
)

var testClassifier = risk.NewClassifier(risk.DefaultTable(), risk.Thresholds{})

type driver struct {
	t       *testing.T
	c       Context
	effects []Effect
}

func newDriver(t *testing.T) *driver {
	t.Helper()
	return &driver{t: t, c: NewContext(DefaultTiming())}
}

func (d *driver) send(ev Event) []Effect {
	d.t.Helper()
	d.c, d.effects = Transition(d.c, ev)
	return d.effects
}

func (d *driver) finishPlayback() []Effect {
	d.t.Helper()
	return d.send(PlaybackDone{Token: d.c.PlaybackToken})
}

func (d *driver) narrate(text string) []Effect {
	d.t.Helper()
	return d.send(NarrationCaptured{Token: d.c.CaptureToken, Utterance: say(text)})
}

func (d *driver) answer(text string) []Effect {
	d.t.Helper()
	return d.send(AnswerCaptured{Token: d.c.CaptureToken, Utterance: say(text)})
}

// begin runs the opening prompt and returns with the narration capture open.
func (d *driver) begin() {
	d.t.Helper()
	d.send(Begin{Today: "2026-05-12"})
	d.finishPlayback()
	if !d.c.Capturing || d.c.Phase != domain.PhaseListening {
		d.t.Fatalf("expected narration capture to be open, got phase %s capturing=%v", d.c.Phase, d.c.Capturing)
	}
}

// extracted answers the pending extraction with resp and plays the reply.
func (d *driver) extracted(resp ports.ExtractionResponse) []Effect {
	d.t.Helper()
	extract := last[Extract](d.t, d.effects)
	d.send(ExtractionDone{Token: extract.Token, Response: resp})
	return d.finishPlayback()
}

// toConfirm reaches CONFIRM through a photo-only queue.
func (d *driver) toConfirm() {
	d.t.Helper()
	d.begin()
	d.narrate("今日は灌水した、気温28度")
	s := domain.Slots{WorkLog: "灌水"}
	s.SetMaxTemp(28)
	d.extracted(ports.ExtractionResponse{Reply: "了解です。", Slots: s, MissingQuestions: []string{}})
	d.send(SkipStep{})
	d.finishPlayback()
	if d.c.Phase != domain.PhaseConfirm {
		d.t.Fatalf("expected CONFIRM, got %s", d.c.Phase)
	}
}

func say(text string) Utterance {
	return Utterance{Raw: text, Text: text, Risk: testClassifier.Classify(text)}
}

func only[T Effect](effects []Effect) []T {
	var out []T
	for _, effect := range effects {
		if e, ok := effect.(T); ok {
			out = append(out, e)
		}
	}
	return out
}

func last[T Effect](t *testing.T, effects []Effect) T {
	t.Helper()
	found := only[T](effects)
	if len(found) == 0 {
		var zero T
		t.Fatalf("no %T among effects %#v", zero, effects)
	}
	return found[len(found)-1]
}

func TestBeginSpeaksOpeningThenListens(t *testing.T) {
	t.Parallel()

	d := newDriver(t)
	effects := d.send(Begin{Today: "2026-05-12", Last: &domain.LastSession{Location: "A号ハウス", Work: "剪定"}})
	if d.c.Phase != domain.PhaseListening {
		t.Fatalf("expected LISTENING, got %s", d.c.Phase)
	}
	if len(only[PrepareCapture](effects)) != 1 {
		t.Fatalf("expected an opportunistic capture warm-up")
	}
	if len(only[StartCapture](effects)) != 0 {
		t.Fatalf("capture must not start before the opening prompt ends")
	}
	speak := last[Speak](t, effects)
	if !strings.Contains(speak.Text, "前回はA号ハウスで剪定") {
		t.Fatalf("unexpected opening prompt %q", speak.Text)
	}

	start := last[StartCapture](t, d.finishPlayback())
	if start.Mode != capture.ModeNormal || start.Token != d.c.CaptureToken {
		t.Fatalf("unexpected capture start %+v", start)
	}
}

func TestLocalFallbackBuildsQueueFromNarration(t *testing.T) {
	t.Parallel()

	d := newDriver(t)
	d.begin()
	effects := d.narrate("今日は灌水した、気温28度")
	if d.c.Phase != domain.PhaseThinking {
		t.Fatalf("expected THINKING, got %s", d.c.Phase)
	}
	extract := last[Extract](t, effects)
	if extract.Request.Corrected != "今日は灌水した、気温28度" {
		t.Fatalf("unexpected extraction request %+v", extract.Request)
	}

	effects = d.send(ExtractionDone{Token: extract.Token, Err: errors.New("deadline exceeded")})
	if got := last[EmitError](t, effects).Code; got != domain.ErrorCodeExtraction {
		t.Fatalf("expected extraction error, got %s", got)
	}
	if d.c.Slots.WorkLog != "灌水" || d.c.Slots.MaxTemp == nil || *d.c.Slots.MaxTemp != 28 {
		t.Fatalf("unexpected local slots %+v", d.c.Slots)
	}
	want := []domain.FollowUpStep{
		domain.StepFertilizer, domain.StepPest, domain.StepHarvest,
		domain.StepCost, domain.StepDuration, domain.StepPhoto,
	}
	if diff := cmp.Diff(want, d.c.Queue); diff != "" {
		t.Fatalf("queue mismatch (-want +got):\n%s", diff)
	}
	if got := last[Speak](t, effects).Text; got != slots.LocalReply(d.c.Slots) {
		t.Fatalf("expected local reply, got %q", got)
	}
}

func TestFirstQuestionSkipsBreathing(t *testing.T) {
	t.Parallel()

	d := newDriver(t)
	d.begin()
	d.narrate("今日は灌水した、気温28度")
	effects := d.extracted(ports.ExtractionResponse{
		Reply:            "了解です。",
		Slots:            domain.Slots{WorkLog: "灌水"},
		MissingQuestions: []string{"FERTILIZER", "PEST"},
	})
	if len(only[StartTimer](effects)) != 0 {
		t.Fatalf("first question must not wait for breathing")
	}
	if d.c.Phase != domain.PhaseFollowUp {
		t.Fatalf("expected FOLLOW_UP, got %s", d.c.Phase)
	}
	progress := last[EmitProgress](t, effects)
	if progress.Step != domain.StepFertilizer || progress.Current != 1 || progress.Total != 3 {
		t.Fatalf("unexpected progress %+v", progress)
	}
	if got := last[Speak](t, effects).Text; !strings.HasSuffix(got, "なければ「次へ」。") {
		t.Fatalf("question lacks the skip hint: %q", got)
	}

	start := last[StartCapture](t, d.finishPlayback())
	if start.Mode != capture.ModePersistent {
		t.Fatalf("follow-up answers need the persistent mode, got %v", start.Mode)
	}
}

func TestShortFertilizerAnswerRetriesSameStep(t *testing.T) {
	t.Parallel()

	d := newDriver(t)
	d.begin()
	d.narrate("灌水した")
	d.extracted(ports.ExtractionResponse{Slots: domain.Slots{WorkLog: "灌水"}, MissingQuestions: []string{"FERTILIZER"}})
	d.finishPlayback()

	effects := d.answer("あ")
	if len(only[MuteCapture](effects)) != 1 {
		t.Fatalf("capture must be muted while the retry prompt plays")
	}
	if got := last[Speak](t, effects).Text; got != slots.RetryPrompt {
		t.Fatalf("expected retry prompt, got %q", got)
	}
	if step, _ := d.c.Step(); step != domain.StepFertilizer || d.c.Slots.Fertilizer != "" {
		t.Fatalf("retry must stay on the same step without writing, got %s %+v", step, d.c.Slots)
	}
	if len(only[UnmuteCapture](d.finishPlayback())) != 1 {
		t.Fatalf("capture must resume after the retry prompt")
	}
}

func TestHouseTemperatureAnswerThenBreathing(t *testing.T) {
	t.Parallel()

	d := newDriver(t)
	d.begin()
	d.narrate("灌水した")
	d.extracted(ports.ExtractionResponse{Slots: domain.Slots{WorkLog: "灌水"}, MissingQuestions: []string{"HOUSE_TEMP"}})
	d.finishPlayback()

	effects := d.answer("最高28度、最低19度")
	if *d.c.Slots.MaxTemp != 28 || *d.c.Slots.MinTemp != 19 {
		t.Fatalf("unexpected temperatures %+v", d.c.Slots)
	}
	if d.c.Phase != domain.PhaseBreathing {
		t.Fatalf("expected BREATHING, got %s", d.c.Phase)
	}
	timer := last[StartTimer](t, effects)
	if timer.Delay != DefaultTiming().Breathing {
		t.Fatalf("expected full breathing delay, got %v", timer.Delay)
	}

	effects = d.send(TimerFired{Token: timer.Token})
	if step, _ := d.c.Step(); step != domain.StepPhoto || d.c.Phase != domain.PhaseFollowUp {
		t.Fatalf("expected the photo question, got %s in %s", step, d.c.Phase)
	}
	if got := last[Speak](t, effects).Text; !strings.HasSuffix(got, "「次へ」でとばせます。") {
		t.Fatalf("photo question lacks its hint: %q", got)
	}
	if len(only[UnmuteCapture](d.finishPlayback())) != 0 || !d.c.PhotoWaiting {
		t.Fatalf("the photo step waits for a photo instead of listening")
	}
}

func TestSkipUsesShortBreathing(t *testing.T) {
	t.Parallel()

	d := newDriver(t)
	d.begin()
	d.narrate("灌水した")
	d.extracted(ports.ExtractionResponse{Slots: domain.Slots{WorkLog: "灌水"}, MissingQuestions: []string{"PEST", "HARVEST"}})
	d.finishPlayback()

	effects := d.answer("なし")
	if d.c.Slots.PestStatus != "" {
		t.Fatalf("a negative answer must not fill the slot, got %q", d.c.Slots.PestStatus)
	}
	if timer := last[StartTimer](t, effects); timer.Delay != DefaultTiming().SkipBreathing {
		t.Fatalf("expected the short delay after a skip, got %v", timer.Delay)
	}
}

func TestStaleCompletionsAreIgnored(t *testing.T) {
	t.Parallel()

	d := newDriver(t)
	d.begin()
	d.narrate("灌水した")
	d.extracted(ports.ExtractionResponse{Slots: domain.Slots{WorkLog: "灌水"}, MissingQuestions: []string{"PEST", "HARVEST"}})
	d.finishPlayback()
	staleCapture := d.c.CaptureToken
	stalePlayback := d.c.PlaybackToken

	effects := d.answer("次へ")
	timer := last[StartTimer](t, effects)
	before := d.c

	cases := []struct {
		name string
		ev   Event
	}{
		{name: "old timer", ev: TimerFired{Token: timer.Token - 1}},
		{name: "old playback", ev: PlaybackDone{Token: stalePlayback - 1}},
		{name: "muted answer", ev: AnswerCaptured{Token: staleCapture, Utterance: say("カイガラムシがいた")}},
		{name: "old capture", ev: AnswerCaptured{Token: staleCapture - 1, Utterance: say("カイガラムシがいた")}},
		{name: "old extraction", ev: ExtractionDone{Token: d.c.ExtractToken - 1}},
		{name: "old admin log", ev: AdminLogDone{Revision: 7, Text: "古い"}},
	}
	for _, tc := range cases {
		next, effects := Transition(before, tc.ev)
		if len(effects) != 0 {
			t.Fatalf("%s: expected no effects, got %#v", tc.name, effects)
		}
		if next.Phase != before.Phase || next.Index != before.Index || next.Slots.PestStatus != "" {
			t.Fatalf("%s: context changed", tc.name)
		}
	}
}

func TestDoneWordJumpsToConfirm(t *testing.T) {
	t.Parallel()

	d := newDriver(t)
	d.begin()
	d.narrate("灌水した")
	d.extracted(ports.ExtractionResponse{Slots: domain.Slots{WorkLog: "灌水"}})
	d.finishPlayback()

	effects := d.answer("以上です")
	if len(only[AbortCapture](effects)) != 1 {
		t.Fatalf("completion must close the answer capture")
	}
	if got := last[Speak](t, effects).Text; got != completionAck {
		t.Fatalf("expected acknowledgment, got %q", got)
	}
	effects = d.finishPlayback()
	if d.c.Phase != domain.PhaseConfirm {
		t.Fatalf("expected CONFIRM, got %s", d.c.Phase)
	}
	confirm := last[EmitConfirm](t, effects)
	if confirm.Source != domain.AdminLogTemplate || !strings.Contains(confirm.AdminLog, "【作業】灌水") {
		t.Fatalf("unexpected confirm payload %+v", confirm)
	}
	if len(only[ScheduleAdminLog](effects)) != 1 {
		t.Fatalf("expected the AI admin log to be scheduled")
	}
}

func TestSkippingEveryStepKeepsCollectedSlots(t *testing.T) {
	t.Parallel()

	d := newDriver(t)
	d.begin()
	d.narrate("今日は灌水した、気温28度")
	extract := last[Extract](t, d.effects)
	d.send(ExtractionDone{Token: extract.Token, Err: errors.New("offline")})
	d.finishPlayback()

	for i := 0; i < 10 && d.c.Playing != PurposeAck; i++ {
		d.send(SkipStep{})
	}
	d.finishPlayback()
	if d.c.Phase != domain.PhaseConfirm {
		t.Fatalf("expected CONFIRM after skipping everything, got %s", d.c.Phase)
	}
	if d.c.Slots.WorkLog != "灌水" || *d.c.Slots.MaxTemp != 28 {
		t.Fatalf("skips must not drop collected slots: %+v", d.c.Slots)
	}
}

func TestDiscardPersistsNothing(t *testing.T) {
	t.Parallel()

	d := newDriver(t)
	d.begin()
	d.narrate("灌水した")
	d.extracted(ports.ExtractionResponse{Slots: domain.Slots{WorkLog: "灌水"}})
	d.finishPlayback()

	effects := d.send(Discard{})
	if d.c.Phase != domain.PhaseIdle || d.c.Slots.WorkLog != "" || d.c.Capturing {
		t.Fatalf("discard must clear the session, got %s %+v", d.c.Phase, d.c.Slots)
	}
	if len(only[CancelSpeech](effects)) != 1 || len(only[AbortCapture](effects)) != 1 {
		t.Fatalf("discard must cancel playback and capture, got %#v", effects)
	}
	if len(only[Persist](effects)) != 0 {
		t.Fatalf("discard must not persist")
	}
}

func TestCriticalNarrationEntersMentor(t *testing.T) {
	t.Parallel()

	d := newDriver(t)
	d.begin()
	effects := d.narrate("死にたい")
	if d.c.Phase != domain.PhaseMentor {
		t.Fatalf("expected MENTOR, got %s", d.c.Phase)
	}
	if len(only[Extract](effects)) != 0 {
		t.Fatalf("critical speech must not be sent for extraction")
	}
	run := last[RunMentor](t, effects)

	d.send(MentorReady{Token: run.Token, Forecast: &domain.Forecast{Description: "晴れ", MaxTemp: 24}})
	if !d.c.Mentor.Asking || !d.c.Capturing {
		t.Fatalf("expected the yes/no question to be listening")
	}
	effects = d.answer("はい、お願いします")
	sheet := last[EmitMentorSheet](t, effects)
	if !strings.Contains(sheet.Sheet, "死にたい") || !strings.Contains(sheet.Sheet, "晴れ") {
		t.Fatalf("unexpected consultation sheet:\n%s", sheet.Sheet)
	}
}

func TestCriticalAnswerInterruptsFollowUp(t *testing.T) {
	t.Parallel()

	d := newDriver(t)
	d.begin()
	d.narrate("灌水した")
	d.extracted(ports.ExtractionResponse{Slots: domain.Slots{WorkLog: "灌水"}})
	d.finishPlayback()

	effects := d.answer("もう消えたい")
	if d.c.Phase != domain.PhaseMentor {
		t.Fatalf("expected MENTOR, got %s", d.c.Phase)
	}
	if len(only[CancelSpeech](effects)) == 0 || len(only[AbortCapture](effects)) != 1 {
		t.Fatalf("mentor must silence playback and capture, got %#v", effects)
	}
}

func TestMentorDeclinedReturnsToIdle(t *testing.T) {
	t.Parallel()

	d := newDriver(t)
	d.begin()
	run := last[RunMentor](t, d.narrate("死にたい"))
	d.send(MentorReady{Token: run.Token})
	d.answer("いいえ")
	if d.c.Phase != domain.PhaseIdle {
		t.Fatalf("expected IDLE, got %s", d.c.Phase)
	}
}

func TestMildRiskAppendsNudge(t *testing.T) {
	t.Parallel()

	d := newDriver(t)
	d.begin()
	u := Utterance{
		Raw:  "灌水した、腰が痛い",
		Text: "灌水した、腰が痛い",
		Risk: domain.EmotionAnalysis{Tier: 1, Score: 1, PrimaryCategory: domain.CategoryPhysical},
	}
	d.send(NarrationCaptured{Token: d.c.CaptureToken, Utterance: u})
	extract := last[Extract](t, d.effects)
	effects := d.send(ExtractionDone{Token: extract.Token, Response: ports.ExtractionResponse{Reply: "了解です。"}})
	if got := last[Speak](t, effects).Text; got != "了解です。 むりせんでね。" {
		t.Fatalf("unexpected reply %q", got)
	}
}

func TestSaveWaitsForAdminLog(t *testing.T) {
	t.Parallel()

	d := newDriver(t)
	d.toConfirm()
	revision := d.c.Log.Revision

	effects := d.send(SaveRequested{})
	if len(only[Persist](effects)) != 0 {
		t.Fatalf("save must wait while the admin log is pending")
	}
	fetch := last[FetchAdminLog](t, effects)
	if fetch.Revision != revision || !last[EmitConfirm](t, effects).Pending {
		t.Fatalf("expected a flushed fetch and a pending confirm, got %#v", effects)
	}

	effects = d.send(AdminLogDone{Revision: revision, Text: "本日は灌水を実施した。"})
	persist := last[Persist](t, effects)
	if persist.Draft.AdminLog != "本日は灌水を実施した。" || persist.Draft.AdminLogSource != domain.AdminLogAI {
		t.Fatalf("expected the AI admin log to be persisted, got %+v", persist.Draft)
	}
}

func TestEditDropsStaleAdminLog(t *testing.T) {
	t.Parallel()

	d := newDriver(t)
	d.toConfirm()
	first := d.c.Log.Revision
	d.send(AdminLogDue{Revision: first})

	effects := d.send(EditItem{Key: slots.KeyMaxTemp, Value: "30"})
	if !strings.Contains(last[EmitConfirm](t, effects).AdminLog, "30℃") {
		t.Fatalf("edit must regenerate the template immediately")
	}
	d.send(AdminLogDone{Revision: first, Text: "古い日誌"})
	if d.c.AdminLog == "古い日誌" {
		t.Fatalf("a response for an older revision must be dropped")
	}

	effects = d.send(SaveRequested{})
	fetch := last[FetchAdminLog](t, effects)
	effects = d.send(AdminLogDone{Revision: fetch.Revision, Text: "新しい日誌"})
	if got := last[Persist](t, effects).Draft.AdminLog; got != "新しい日誌" {
		t.Fatalf("expected the current revision to be saved, got %q", got)
	}
}

func TestSaveWithoutPendingLogPersistsImmediately(t *testing.T) {
	t.Parallel()

	d := newDriver(t)
	d.toConfirm()
	fetch := last[FetchAdminLog](t, d.send(AdminLogDue{Revision: d.c.Log.Revision}))
	d.send(AdminLogDone{Revision: fetch.Revision, Text: "AI日誌"})

	effects := d.send(SaveRequested{})
	if got := last[Persist](t, effects).Draft.AdminLog; got != "AI日誌" {
		t.Fatalf("expected the AI admin log, got %q", got)
	}
}

func TestSavedEmitsRecordAndReturnsToIdle(t *testing.T) {
	t.Parallel()

	d := newDriver(t)
	d.toConfirm()
	d.c.Risk = domain.EmotionAnalysis{Tier: 2, Score: 3, PrimaryCategory: domain.CategoryPhysical}
	d.send(SaveRequested{})
	d.send(AdminLogDone{Revision: d.c.Log.Revision})

	record := domain.LocalRecord{ID: "r1", Date: "2026-05-12", Location: "A号ハウス", Slots: domain.Slots{WorkLog: "灌水"}}
	effects := d.send(Saved{Record: record})
	saved := last[EmitSaved](t, effects)
	if saved.Comfort == nil {
		t.Fatalf("a tier-2 session must show comfort content")
	}
	if last[SyncRecord](t, effects).Record.ID != "r1" {
		t.Fatalf("expected the saved record to be synced")
	}
	if d.c.Phase != domain.PhaseIdle || d.c.LastSession == nil || d.c.LastSession.Location != "A号ハウス" {
		t.Fatalf("unexpected context after save: %s %+v", d.c.Phase, d.c.LastSession)
	}
}

func TestSaveFailureStaysInConfirm(t *testing.T) {
	t.Parallel()

	d := newDriver(t)
	d.toConfirm()
	d.send(SaveRequested{})
	d.send(AdminLogDone{Revision: d.c.Log.Revision})

	effects := d.send(Saved{Err: errors.New("disk full")})
	if got := last[EmitError](t, effects).Code; got != domain.ErrorCodeSave {
		t.Fatalf("expected a save error, got %s", got)
	}
	if d.c.Phase != domain.PhaseConfirm || d.c.Saving {
		t.Fatalf("a failed save must leave the review open")
	}
}

func TestCaptureFailureFallsBackToTyping(t *testing.T) {
	t.Parallel()

	d := newDriver(t)
	d.begin()
	effects := d.send(CaptureFailed{Token: d.c.CaptureToken, Err: errors.New("restart exhausted")})
	phase := last[EmitPhase](t, effects)
	if phase.Reason != domain.ReasonManualEntry || d.c.Capturing {
		t.Fatalf("expected manual entry fallback, got %+v", phase)
	}

	effects = d.send(TextEntered{Utterance: say("今日は灌水した")})
	if d.c.Phase != domain.PhaseThinking || len(only[Extract](effects)) != 1 {
		t.Fatalf("typed narration must be extracted, got %s", d.c.Phase)
	}
}

func TestTypedNarrationCancelsOpeningPrompt(t *testing.T) {
	t.Parallel()

	d := newDriver(t)
	d.send(Begin{Today: "2026-05-12"})
	opening := d.c.PlaybackToken
	effects := d.send(TextEntered{Utterance: say("今日は灌水した")})
	if len(only[CancelSpeech](effects)) != 1 {
		t.Fatalf("expected the opening prompt to be cancelled, got %#v", effects)
	}
	if d.c.Phase != domain.PhaseThinking || len(only[Extract](effects)) != 1 {
		t.Fatalf("typed narration must be extracted, got %s", d.c.Phase)
	}

	effects = d.send(PlaybackDone{Token: opening})
	if len(only[StartCapture](effects)) != 0 || d.c.Capturing {
		t.Fatalf("late completion of the opening prompt must not open capture")
	}
}

func TestLoadedWeatherReachesExtraction(t *testing.T) {
	t.Parallel()

	d := newDriver(t)
	d.begin()
	d.send(WeatherLoaded{Weather: domain.OutdoorWeather{Description: "曇り", Temperature: 21, Code: 3}})
	effects := d.narrate("今日は灌水した")
	got := last[Extract](t, effects).Request.Weather
	if got == nil || got.Description != "曇り" {
		t.Fatalf("expected loaded weather in the extraction request, got %+v", got)
	}
}

func TestPhotoScanSeedsConfirm(t *testing.T) {
	t.Parallel()

	d := newDriver(t)
	s := domain.Slots{WorkLog: "摘果"}
	d.send(PhotoScanned{Today: "2026-05-12", Result: ports.OCRResult{RawText: "5/10 摘果", Slots: s, Date: "2026-05-10"}})
	if d.c.Phase != domain.PhaseConfirm || d.c.Date != "2026-05-10" {
		t.Fatalf("expected CONFIRM dated from the page, got %s %q", d.c.Phase, d.c.Date)
	}
	if !strings.Contains(d.c.AdminLog, "【日付】2026-05-10") {
		t.Fatalf("unexpected admin log %q", d.c.AdminLog)
	}

	empty := newDriver(t)
	empty.send(PhotoScanned{Today: "2026-05-12"})
	if empty.c.Phase != domain.PhaseIdle {
		t.Fatalf("an empty scan must not open the review, got %s", empty.c.Phase)
	}
}
