package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"agrivoice/internal/bootstrap"
	"agrivoice/internal/domain"
	"agrivoice/internal/interview"
)

func newInterviewCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "interview",
		Short: "Run a spoken interview in the terminal",
		Long: "interview starts the microphone and asks about today's work. Type a line to answer\n" +
			"in text instead of speech, or press Enter on an empty line to finish speaking.\n" +
			"Commands: /begin /skip /save /discard /yes /no /edit <key> <value> /photos <n>\n" +
			"/scan <file> /log /quit",
		RunE: runInterview,
	}
}

func runInterview(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sink := &consoleSink{out: cmd.OutOrStdout()}
	services, err := bootstrap.BuildWith(ctx, cfg, sink, nil)
	if err != nil {
		return err
	}
	defer services.Close()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := services.Machine.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})
	if err := services.Machine.Begin(ctx); err != nil {
		cancel()
		_ = g.Wait()
		return err
	}

	// The reader is not part of the group: a blocked stdin read must not hold up shutdown.
	go func() {
		defer cancel()
		readConsole(gctx, cmd.InOrStdin(), services.Machine, sink)
	}()
	return g.Wait()
}

func readConsole(ctx context.Context, in io.Reader, machine *interview.Machine, sink *consoleSink) {
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		action := parseConsoleLine(scanner.Text())
		if action.kind == actionQuit {
			return
		}
		if err := dispatch(ctx, machine, sink, action); err != nil {
			if errors.Is(err, interview.ErrStopped) {
				return
			}
			sink.printf("! %v\n", err)
		}
	}
}

type actionKind int

const (
	actionText actionKind = iota
	actionStop
	actionBegin
	actionSkip
	actionSave
	actionDiscard
	actionMentorYes
	actionMentorNo
	actionEdit
	actionPhotos
	actionScan
	actionLog
	actionQuit
	actionUnknown
)

type consoleAction struct {
	kind  actionKind
	text  string
	key   string
	count int
}

// parseConsoleLine maps one input line to an interview action. Lines that do not start with
// a slash are answers.
func parseConsoleLine(line string) consoleAction {
	line = strings.TrimSpace(line)
	if line == "" {
		return consoleAction{kind: actionStop}
	}
	if !strings.HasPrefix(line, "/") {
		return consoleAction{kind: actionText, text: line}
	}
	fields := strings.Fields(line)
	switch fields[0] {
	case "/begin":
		return consoleAction{kind: actionBegin}
	case "/skip":
		return consoleAction{kind: actionSkip}
	case "/save":
		return consoleAction{kind: actionSave}
	case "/discard":
		return consoleAction{kind: actionDiscard}
	case "/yes":
		return consoleAction{kind: actionMentorYes}
	case "/no":
		return consoleAction{kind: actionMentorNo}
	case "/log":
		return consoleAction{kind: actionLog}
	case "/quit", "/exit":
		return consoleAction{kind: actionQuit}
	case "/edit":
		if len(fields) < 2 {
			return consoleAction{kind: actionUnknown, text: line}
		}
		return consoleAction{kind: actionEdit, key: fields[1], text: strings.Join(fields[2:], " ")}
	case "/photos":
		n := 1
		if len(fields) > 1 {
			parsed, err := strconv.Atoi(fields[1])
			if err != nil || parsed <= 0 {
				return consoleAction{kind: actionUnknown, text: line}
			}
			n = parsed
		}
		return consoleAction{kind: actionPhotos, count: n}
	case "/scan":
		if len(fields) != 2 {
			return consoleAction{kind: actionUnknown, text: line}
		}
		return consoleAction{kind: actionScan, text: fields[1]}
	default:
		return consoleAction{kind: actionUnknown, text: line}
	}
}

func dispatch(ctx context.Context, machine *interview.Machine, sink *consoleSink, action consoleAction) error {
	switch action.kind {
	case actionText:
		return machine.EnterText(action.text)
	case actionStop:
		return machine.StopListening()
	case actionBegin:
		return machine.Begin(ctx)
	case actionSkip:
		return machine.SkipStep()
	case actionSave:
		return machine.Save()
	case actionDiscard:
		return machine.Discard()
	case actionMentorYes:
		return machine.AnswerMentor(true)
	case actionMentorNo:
		return machine.AnswerMentor(false)
	case actionEdit:
		return machine.EditItem(action.key, action.text)
	case actionPhotos:
		return machine.AddPhotos(action.count)
	case actionScan:
		data, err := os.ReadFile(action.text)
		if err != nil {
			return fmt.Errorf("failed to read photo: %w", err)
		}
		return machine.ScanPhoto(ctx, data, http.DetectContentType(data))
	case actionLog:
		sink.printf("%s\n", machine.Snapshot().AdminLog)
		return nil
	default:
		return fmt.Errorf("unknown command %q", action.text)
	}
}

// consoleSink prints interview events as plain lines.
type consoleSink struct {
	mu  sync.Mutex
	out io.Writer
}

func (s *consoleSink) printf(format string, args ...any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprintf(s.out, format, args...)
}

func (s *consoleSink) PhaseChanged(phase domain.Phase, reason domain.PhaseReason) {
	s.printf("[%s] %s\n", phase, reason)
}

// Partial transcripts are too chatty for a line-oriented console.
func (s *consoleSink) PartialTranscript(string) {}

func (s *consoleSink) AssistantSpoke(text string) {
	s.printf("> %s\n", text)
}

func (s *consoleSink) FollowUpProgress(step domain.FollowUpStep, question string, current int, total int) {
	s.printf("(%d/%d %s)\n", current, total, step)
}

func (s *consoleSink) ConfirmReady(items []domain.ConfirmItem, adminLog string, source domain.AdminLogSource, pending bool) {
	var b strings.Builder
	for _, item := range items {
		fmt.Fprintf(&b, "  %s [%s]: %s\n", item.Label, item.Key, item.Value)
	}
	if pending {
		b.WriteString("  (admin log pending)\n")
	} else if adminLog != "" {
		fmt.Fprintf(&b, "--- admin log (%s)\n%s\n", source, adminLog)
	}
	s.printf("%s", b.String())
}

func (s *consoleSink) Saved(record domain.LocalRecord, comfort *domain.ComfortContent) {
	s.printf("saved %s\n", record.ID)
	if comfort != nil {
		s.printf("%s\n%s\n", comfort.Title, comfort.Message)
	}
}

func (s *consoleSink) MentorSheet(sheet string) {
	s.printf("%s\n", sheet)
}

func (s *consoleSink) SessionError(code domain.ErrorCode, detail string) {
	s.printf("! %s: %s\n", code, detail)
}
