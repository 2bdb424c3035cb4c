package main

import (
	"context"
	"errors"
	"strings"

	"github.com/wailsapp/wails/v2/pkg/runtime"

	"agrivoice/internal/bootstrap"
	"agrivoice/internal/config"
	"agrivoice/internal/domain"
	"agrivoice/internal/interview"
	"agrivoice/internal/logging"
)

const (
	eventPhase    = "agrivoice:phase"
	eventPartial  = "agrivoice:partial"
	eventSpoke    = "agrivoice:spoke"
	eventFollowUp = "agrivoice:followup"
	eventConfirm  = "agrivoice:confirm"
	eventSaved    = "agrivoice:saved"
	eventMentor   = "agrivoice:mentor"
	eventError    = "agrivoice:error"
)

// App is the Wails application root.
type App struct {
	ctx context.Context

	services bootstrap.Services
	machine  *interview.Machine
	cfg      config.Config
	bootErr  error
}

func NewApp() *App {
	return &App{}
}

func (a *App) startup(ctx context.Context) {
	a.ctx = ctx

	services, err := bootstrap.Build(ctx, a, &wailsClipboard{})
	if err != nil {
		a.bootErr = err
		a.SessionError(domain.ErrorCodeStartup, err.Error())
		return
	}

	a.services = services
	a.cfg = services.Config
	a.machine = services.Machine
	go func() {
		if err := a.machine.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logging.New("app").Error("interview loop stopped", "error", err)
		}
	}()
	a.PhaseChanged(domain.PhaseIdle, domain.ReasonReady)
}

func (a *App) shutdown(context.Context) {
	if err := a.services.Close(); err != nil {
		logging.New("app").Warn("failed to close store", "error", err)
	}
}

// BeginInterview starts a new session from the idle screen.
func (a *App) BeginInterview() error {
	if err := a.requireReady(); err != nil {
		return err
	}
	return a.machine.Begin(a.ctx)
}

// StopListening ends the current capture and submits what was heard.
func (a *App) StopListening() error {
	if err := a.requireReady(); err != nil {
		return err
	}
	return a.machine.StopListening()
}

func (a *App) SkipStep() error {
	if err := a.requireReady(); err != nil {
		return err
	}
	return a.machine.SkipStep()
}

func (a *App) Discard() error {
	if err := a.requireReady(); err != nil {
		return err
	}
	return a.machine.Discard()
}

// EditItem changes one confirmation row.
func (a *App) EditItem(key string, value string) error {
	if err := a.requireReady(); err != nil {
		return err
	}
	return a.machine.EditItem(key, value)
}

func (a *App) Save() error {
	if err := a.requireReady(); err != nil {
		return err
	}
	return a.machine.Save()
}

func (a *App) AnswerMentor(yes bool) error {
	if err := a.requireReady(); err != nil {
		return err
	}
	return a.machine.AnswerMentor(yes)
}

func (a *App) AddPhotos(count int) error {
	if err := a.requireReady(); err != nil {
		return err
	}
	return a.machine.AddPhotos(count)
}

// EnterText submits typed input in place of speech.
func (a *App) EnterText(text string) error {
	if err := a.requireReady(); err != nil {
		return err
	}
	return a.machine.EnterText(text)
}

// ScanPhoto reads a diary photo. The frontend sends the image as base64, which JSON decodes
// into image.
func (a *App) ScanPhoto(image []byte, mimeType string) error {
	if err := a.requireReady(); err != nil {
		return err
	}
	if err := a.machine.ScanPhoto(a.ctx, image, mimeType); err != nil {
		a.SessionError(domain.ErrorCodeOCR, err.Error())
		return err
	}
	return nil
}

// CopyAdminLog places the current administrative log on the clipboard.
func (a *App) CopyAdminLog() error {
	if err := a.requireReady(); err != nil {
		return err
	}
	text := strings.TrimSpace(a.machine.Snapshot().AdminLog)
	if text == "" {
		return errors.New("no admin log to copy")
	}
	if err := a.services.Clipboard.SetText(a.ctx, text); err != nil {
		a.SessionError(domain.ErrorCodeClipboard, err.Error())
		return err
	}
	return nil
}

// GetStatus returns the current interview status.
func (a *App) GetStatus() domain.Status {
	if a.machine == nil {
		if a.bootErr != nil {
			return domain.Status{Phase: domain.PhaseIdle, Active: false, Message: a.bootErr.Error()}
		}
		return domain.Status{Phase: domain.PhaseIdle, Active: false}
	}
	phase := a.machine.Snapshot().Phase
	return domain.Status{Phase: phase, Active: phase != domain.PhaseIdle}
}

// GetRuntimeInfo returns non-sensitive config for the UI.
func (a *App) GetRuntimeInfo() map[string]string {
	if a.bootErr != nil {
		return map[string]string{"error": a.bootErr.Error()}
	}

	return map[string]string{
		"provider":   "Deepgram",
		"model":      a.cfg.Deepgram.Model,
		"language":   a.cfg.Deepgram.Language,
		"rulesFile":  a.cfg.Rules.Path,
		"audioInput": a.cfg.Audio.InputDevice,
		"extraction": enabled(a.cfg.Gemini.APIKey != ""),
		"weather":    enabled(a.cfg.Weather.Enabled),
		"sync":       enabled(a.services.Syncer != nil),
		"store":      a.cfg.Store.Path,
	}
}

func (a *App) requireReady() error {
	if a.bootErr != nil {
		return a.bootErr
	}
	if a.machine == nil {
		return bootstrap.ErrNotReady
	}
	return nil
}

func (a *App) emit(name string, payload any) {
	if a.ctx == nil {
		return
	}
	runtime.EventsEmit(a.ctx, name, payload)
}

// PhaseChanged emits interview phase transitions to the frontend.
func (a *App) PhaseChanged(phase domain.Phase, reason domain.PhaseReason) {
	a.emit(eventPhase, map[string]string{
		"phase":   string(phase),
		"reason":  string(reason),
		"message": phaseReasonMessage(reason),
	})
}

// PartialTranscript emits live partial transcript text.
func (a *App) PartialTranscript(text string) {
	a.emit(eventPartial, map[string]string{"text": text})
}

// AssistantSpoke mirrors spoken prompts as captions.
func (a *App) AssistantSpoke(text string) {
	a.emit(eventSpoke, map[string]string{"text": text})
}

func (a *App) FollowUpProgress(step domain.FollowUpStep, question string, current int, total int) {
	a.emit(eventFollowUp, map[string]any{
		"step":     step,
		"question": question,
		"current":  current,
		"total":    total,
	})
}

func (a *App) ConfirmReady(items []domain.ConfirmItem, adminLog string, source domain.AdminLogSource, pending bool) {
	a.emit(eventConfirm, map[string]any{
		"items":    items,
		"adminLog": adminLog,
		"source":   source,
		"pending":  pending,
	})
}

func (a *App) Saved(record domain.LocalRecord, comfort *domain.ComfortContent) {
	a.emit(eventSaved, map[string]any{"record": record, "comfort": comfort})
}

func (a *App) MentorSheet(sheet string) {
	a.emit(eventMentor, map[string]string{"sheet": sheet})
}

// SessionError emits backend errors to the UI.
func (a *App) SessionError(code domain.ErrorCode, detail string) {
	a.emit(eventError, map[string]string{
		"code":    string(code),
		"message": errorMessage(code, detail),
		"detail":  detail,
	})
}

func phaseReasonMessage(reason domain.PhaseReason) string {
	switch reason {
	case domain.ReasonReady:
		return "準備ができました"
	case domain.ReasonBegin:
		return "お話しください"
	case domain.ReasonNarrationCaptured:
		return "内容を確認しています"
	case domain.ReasonNoTranscript:
		return "うまく聞き取れませんでした"
	case domain.ReasonExtracted:
		return "記録を整理しました"
	case domain.ReasonExtractionLocal:
		return "端末内で記録を整理しました"
	case domain.ReasonQuestion:
		return "質問しています"
	case domain.ReasonQueueExhausted, domain.ReasonDone:
		return "内容を確認してください"
	case domain.ReasonRiskCritical:
		return "相談窓口のご案内"
	case domain.ReasonMentorDeclined:
		return "記録に戻ります"
	case domain.ReasonSaved:
		return "保存しました"
	case domain.ReasonDiscarded:
		return "記録を破棄しました"
	case domain.ReasonPhotoScanned:
		return "写真から読み取りました"
	case domain.ReasonManualEntry:
		return "入力を受け付けました"
	case domain.ReasonPermissionDenied:
		return "マイクが使えません"
	default:
		return ""
	}
}

func errorMessage(code domain.ErrorCode, detail string) string {
	switch code {
	case domain.ErrorCodeStartup:
		return "起動に失敗しました"
	case domain.ErrorCodePermission:
		return "マイクの許可がありません"
	case domain.ErrorCodeCapture:
		return "音声の取得に失敗しました"
	case domain.ErrorCodeExtraction:
		return "記録の整理に失敗しました"
	case domain.ErrorCodeAdminLog:
		return "作業日誌の作成に失敗しました"
	case domain.ErrorCodeOCR:
		return "写真の読み取りに失敗しました"
	case domain.ErrorCodeSave:
		return "保存に失敗しました"
	case domain.ErrorCodeClipboard:
		return "コピーに失敗しました"
	case domain.ErrorCodeAudioStream:
		return "音声の送信に問題があります"
	default:
		if detail == "" {
			return "不明なエラー"
		}
		return detail
	}
}

func enabled(on bool) string {
	if on {
		return "on"
	}
	return "off"
}

type wailsClipboard struct{}

func (c *wailsClipboard) SetText(ctx context.Context, text string) error {
	return runtime.ClipboardSetText(ctx, text)
}
