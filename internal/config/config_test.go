package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("AGRIVOICE_CONFIG", "")
	t.Chdir(t.TempDir())

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.Source != "" {
		t.Fatalf("expected no config file, got %q", cfg.Source)
	}
	if cfg.Deepgram.Language != "ja" || cfg.Deepgram.Model != "nova-2" {
		t.Fatalf("unexpected deepgram defaults: %+v", cfg.Deepgram)
	}
	if cfg.Risk.Critical != 6 || cfg.Risk.Elevated != 3 || cfg.Risk.Mild != 1 {
		t.Fatalf("unexpected risk thresholds: %+v", cfg.Risk)
	}
	if cfg.Store.Path != filepath.Join(home, ".local", "share", "agrivoice", "agrivoice.db") {
		t.Fatalf("unexpected store path %q", cfg.Store.Path)
	}
	if cfg.Interview.AdminLogDebounce != 1500*time.Millisecond || cfg.Capture.MaxListen != 2*time.Minute {
		t.Fatalf("unexpected timings: %+v %+v", cfg.Interview, cfg.Capture)
	}
}

func TestLoadLayersFileThenEnv(t *testing.T) {
	home := t.TempDir()
	path := filepath.Join(home, "agrivoice.yaml")
	yamlDoc := `
deepgram:
  model: nova-3
  keywords: [灌水, " ", 摘果]
capture:
  max_listen: 45s
risk:
  critical: 8
weather:
  enabled: false
store:
  path: /tmp/from-file.db
`
	if err := os.WriteFile(path, []byte(yamlDoc), 0o600); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	t.Setenv("HOME", home)
	t.Setenv("AGRIVOICE_CONFIG", path)
	t.Setenv("AGRIVOICE_DB", "/tmp/from-env.db")
	t.Setenv("AGRIVOICE_BREATHING", "800")
	t.Setenv("AGRIVOICE_RESTART_BACKOFF", "2s")
	t.Setenv("GOOGLE_GEMINI_API_KEY", "g-key")
	t.Chdir(t.TempDir())

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.Source != path {
		t.Fatalf("expected source %q, got %q", path, cfg.Source)
	}
	if cfg.Deepgram.Model != "nova-3" || cfg.Deepgram.Language != "ja" {
		t.Fatalf("file should override model only: %+v", cfg.Deepgram)
	}
	if len(cfg.Deepgram.Keywords) != 2 || cfg.Deepgram.Keywords[1] != "摘果" {
		t.Fatalf("unexpected keywords %q", cfg.Deepgram.Keywords)
	}
	if cfg.Capture.MaxListen != 45*time.Second || cfg.Risk.Critical != 8 || cfg.Risk.Elevated != 3 {
		t.Fatalf("unexpected file values: %+v %+v", cfg.Capture, cfg.Risk)
	}
	if cfg.Weather.Enabled {
		t.Fatalf("expected weather disabled by file")
	}
	if cfg.Store.Path != "/tmp/from-env.db" {
		t.Fatalf("env should win over file, got %q", cfg.Store.Path)
	}
	if cfg.Interview.Breathing != 800*time.Millisecond || cfg.Capture.RestartBackoff != 2*time.Second {
		t.Fatalf("unexpected env durations: %+v %+v", cfg.Interview, cfg.Capture)
	}
	if cfg.Gemini.APIKey != "g-key" {
		t.Fatalf("expected gemini key from env")
	}
}

func TestLoadRejectsMalformedFile(t *testing.T) {
	home := t.TempDir()
	path := filepath.Join(home, "bad.yaml")
	if err := os.WriteFile(path, []byte("risk: [unclosed"), 0o600); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	t.Setenv("HOME", home)
	t.Setenv("AGRIVOICE_CONFIG", path)
	t.Chdir(t.TempDir())

	if _, err := Load(); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestLoadReadsDotEnv(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("AGRIVOICE_CONFIG", "")
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte("AGRIVOICE_DYNAMO_TABLE=farm-records\n"), 0o600); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	t.Chdir(dir)
	t.Cleanup(func() { _ = os.Unsetenv("AGRIVOICE_DYNAMO_TABLE") })

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.Dynamo.Table != "farm-records" {
		t.Fatalf("expected table from .env, got %q", cfg.Dynamo.Table)
	}
}

func TestLoadInvalidValuesFallBack(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv("AGRIVOICE_CONFIG", "")
	t.Setenv("AGRIVOICE_SAMPLE_RATE", "bad")
	t.Setenv("AGRIVOICE_CHANNELS", "-1")
	t.Setenv("AGRIVOICE_RULE_ITERATION_LIMIT", "0")
	t.Setenv("AGRIVOICE_AUDIO_CHUNK_SIZE", "5")
	t.Setenv("AGRIVOICE_MAX_LISTEN", "soon")
	t.Setenv("DEEPGRAM_SMART_FORMAT", "not-bool")
	t.Chdir(t.TempDir())

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.Audio.SampleRate != 16000 || cfg.Audio.Channels != 1 || cfg.Audio.ChunkSize != 4096 {
		t.Fatalf("unexpected audio fallbacks: %+v", cfg.Audio)
	}
	if cfg.Rules.IterationLimit != 30 {
		t.Fatalf("expected default iteration limit, got %d", cfg.Rules.IterationLimit)
	}
	if cfg.Capture.MaxListen != 2*time.Minute {
		t.Fatalf("expected default max listen, got %s", cfg.Capture.MaxListen)
	}
	if !cfg.Deepgram.SmartFormat {
		t.Fatalf("expected default smart format true")
	}
}
