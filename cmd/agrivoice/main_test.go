package main

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out, errOut bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func isolate(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("AGRIVOICE_CONFIG", filepath.Join(home, "missing.yaml"))
	t.Setenv("AGRIVOICE_DB", filepath.Join(home, "agrivoice.db"))
	t.Setenv("AGRIVOICE_DYNAMO_TABLE", "")
	t.Setenv("GOOGLE_GEMINI_API_KEY", "")
	t.Setenv("GOOGLE_GENERATIVE_AI_API_KEY", "")
	t.Chdir(home)
	return home
}

func TestClassifyCommand(t *testing.T) {
	isolate(t)

	out, err := runCLI(t, "classify", "腰が痛い")
	if err != nil {
		t.Fatalf("classify failed: %v", err)
	}
	if !strings.Contains(out, "Tier:     1") || !strings.Contains(out, "physical") {
		t.Fatalf("unexpected classify output:\n%s", out)
	}

	out, err = runCLI(t, "classify", "--json", "いい天気")
	if err != nil {
		t.Fatalf("classify --json failed: %v", err)
	}
	var decoded struct {
		Analysis struct {
			Tier int `json:"tier"`
		} `json:"analysis"`
	}
	if err := json.Unmarshal([]byte(out), &decoded); err != nil || decoded.Analysis.Tier != 0 {
		t.Fatalf("unexpected json output %q: %v", out, err)
	}
}

func TestLocationsRoundTrip(t *testing.T) {
	isolate(t)

	if out, err := runCLI(t, "locations", "list"); err != nil || !strings.Contains(out, "No locations.") {
		t.Fatalf("expected empty list, got %q %v", out, err)
	}
	if _, err := runCLI(t, "locations", "add", "A号ハウス"); err != nil {
		t.Fatalf("add failed: %v", err)
	}
	if _, err := runCLI(t, "locations", "alias", "A号ハウス", "Aハウス"); err != nil {
		t.Fatalf("alias failed: %v", err)
	}
	if _, err := runCLI(t, "locations", "alias", "B号ハウス", "B"); err == nil {
		t.Fatalf("expected alias on unknown location to fail")
	}
	out, err := runCLI(t, "locations", "list")
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if want := "A号ハウス  (Aハウス)\n"; out != want {
		t.Fatalf("unexpected list output (-want +got):\n%s", cmp.Diff(want, out))
	}
}

func TestRecordsEmpty(t *testing.T) {
	isolate(t)

	out, err := runCLI(t, "records", "list")
	if err != nil || !strings.Contains(out, "No records.") {
		t.Fatalf("expected no records, got %q %v", out, err)
	}
	if _, err := runCLI(t, "records", "show", "missing"); err == nil {
		t.Fatalf("expected missing record to fail")
	}
}

func TestExtractLocal(t *testing.T) {
	isolate(t)

	out, err := runCLI(t, "extract", "最高気温は28度でした")
	if err != nil {
		t.Fatalf("extract failed: %v", err)
	}
	var decoded map[string]any
	if err := json.Unmarshal([]byte(out), &decoded); err != nil {
		t.Fatalf("expected json output, got %q: %v", out, err)
	}
	for _, key := range []string{"slots", "confidence", "reply", "admin_log"} {
		if _, ok := decoded[key]; !ok {
			t.Fatalf("missing %q in %v", key, decoded)
		}
	}
	if _, err := runCLI(t, "extract"); err == nil {
		t.Fatalf("expected an error without text")
	}
	if _, err := runCLI(t, "extract", "--ai", "灌水"); err == nil {
		t.Fatalf("expected --ai to require a key")
	}
}

func TestSyncRequiresTable(t *testing.T) {
	isolate(t)

	if _, err := runCLI(t, "sync"); err == nil || !strings.Contains(err.Error(), "table") {
		t.Fatalf("expected missing table error, got %v", err)
	}
}

func TestParseConsoleLine(t *testing.T) {
	t.Parallel()

	tests := []struct {
		line string
		want consoleAction
	}{
		{line: "", want: consoleAction{kind: actionStop}},
		{line: "  トマトを収穫した ", want: consoleAction{kind: actionText, text: "トマトを収穫した"}},
		{line: "/skip", want: consoleAction{kind: actionSkip}},
		{line: "/save", want: consoleAction{kind: actionSave}},
		{line: "/yes", want: consoleAction{kind: actionMentorYes}},
		{line: "/edit work_log 灌水 と 剪定", want: consoleAction{kind: actionEdit, key: "work_log", text: "灌水 と 剪定"}},
		{line: "/edit", want: consoleAction{kind: actionUnknown, text: "/edit"}},
		{line: "/photos", want: consoleAction{kind: actionPhotos, count: 1}},
		{line: "/photos 3", want: consoleAction{kind: actionPhotos, count: 3}},
		{line: "/photos x", want: consoleAction{kind: actionUnknown, text: "/photos x"}},
		{line: "/scan page.jpg", want: consoleAction{kind: actionScan, text: "page.jpg"}},
		{line: "/exit", want: consoleAction{kind: actionQuit}},
		{line: "/dance", want: consoleAction{kind: actionUnknown, text: "/dance"}},
	}
	for _, tc := range tests {
		got := parseConsoleLine(tc.line)
		if diff := cmp.Diff(tc.want, got, cmp.AllowUnexported(consoleAction{})); diff != "" {
			t.Fatalf("parseConsoleLine(%q) mismatch (-want +got):\n%s", tc.line, diff)
		}
	}
}

func TestVersionCommand(t *testing.T) {
	out, err := runCLI(t, "version")
	if err != nil || strings.TrimSpace(out) != version {
		t.Fatalf("unexpected version output %q %v", out, err)
	}
}
