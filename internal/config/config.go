// Package config resolves runtime settings from defaults, an optional YAML file, a .env file
// and the environment, in increasing priority.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Log       LogConfig       `yaml:"log"`
	Deepgram  DeepgramConfig  `yaml:"deepgram"`
	Audio     AudioConfig     `yaml:"audio"`
	Capture   CaptureConfig   `yaml:"capture"`
	Playback  PlaybackConfig  `yaml:"playback"`
	Interview InterviewConfig `yaml:"interview"`
	Risk      RiskConfig      `yaml:"risk"`
	Rules     RulesConfig     `yaml:"rules"`
	Gemini    GeminiConfig    `yaml:"gemini"`
	Weather   WeatherConfig   `yaml:"weather"`
	Store     StoreConfig     `yaml:"store"`
	Dynamo    DynamoConfig    `yaml:"dynamo"`
	// Source is the YAML file that was applied, if any.
	Source string `yaml:"-"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type DeepgramConfig struct {
	APIKey         string   `yaml:"api_key"`
	APIBaseURL     string   `yaml:"api_base"`
	Model          string   `yaml:"model"`
	Language       string   `yaml:"language"`
	SmartFormat    bool     `yaml:"smart_format"`
	Endpointing    int      `yaml:"endpointing_ms"`
	UtteranceEndMs int      `yaml:"utterance_end_ms"`
	Keywords       []string `yaml:"keywords"`
}

type AudioConfig struct {
	RecorderCommand string `yaml:"recorder_command"`
	InputFormat     string `yaml:"input_format"`
	InputDevice     string `yaml:"input_device"`
	SampleRate      int    `yaml:"sample_rate"`
	Channels        int    `yaml:"channels"`
	ChunkSize       int    `yaml:"chunk_size"`
}

type CaptureConfig struct {
	MaxListen       time.Duration `yaml:"max_listen"`
	RestartAttempts int           `yaml:"restart_attempts"`
	RestartBackoff  time.Duration `yaml:"restart_backoff"`
	StopGrace       time.Duration `yaml:"stop_grace"`
	KeepAlive       time.Duration `yaml:"keep_alive"`
}

type PlaybackConfig struct {
	Command    string   `yaml:"command"`
	Voices     []string `yaml:"voices"`
	Rate       float64  `yaml:"rate"`
	Unreliable bool     `yaml:"unreliable"`
}

type InterviewConfig struct {
	Breathing        time.Duration `yaml:"breathing"`
	SkipBreathing    time.Duration `yaml:"skip_breathing"`
	AdminLogDebounce time.Duration `yaml:"admin_log_debounce"`
	ExtractTimeout   time.Duration `yaml:"extract_timeout"`
}

type RiskConfig struct {
	Critical int `yaml:"critical"`
	Elevated int `yaml:"elevated"`
	Mild     int `yaml:"mild"`
	// RulesPath is an optional risk table that replaces the built-in one and is hot reloaded.
	RulesPath string `yaml:"rules_path"`
}

type RulesConfig struct {
	Path           string `yaml:"path"`
	IterationLimit int    `yaml:"iteration_limit"`
}

type GeminiConfig struct {
	APIKey  string        `yaml:"api_key"`
	Model   string        `yaml:"model"`
	BaseURL string        `yaml:"base_url"`
	Timeout time.Duration `yaml:"timeout"`
}

type WeatherConfig struct {
	Enabled   bool    `yaml:"enabled"`
	Latitude  float64 `yaml:"latitude"`
	Longitude float64 `yaml:"longitude"`
	Timezone  string  `yaml:"timezone"`
}

type StoreConfig struct {
	Path string `yaml:"path"`
}

type DynamoConfig struct {
	Table  string `yaml:"table"`
	Region string `yaml:"region"`
}

// Default returns the built-in settings.
func Default(home string) Config {
	return Config{
		Log: LogConfig{Level: "info", Format: "text"},
		Deepgram: DeepgramConfig{
			APIBaseURL:     "https://api.deepgram.com/v1",
			Model:          "nova-2",
			Language:       "ja",
			SmartFormat:    true,
			Endpointing:    300,
			UtteranceEndMs: 1000,
		},
		Audio: AudioConfig{
			RecorderCommand: "ffmpeg",
			InputFormat:     "pulse",
			InputDevice:     "default",
			SampleRate:      16000,
			Channels:        1,
			ChunkSize:       4096,
		},
		Capture: CaptureConfig{
			MaxListen:       2 * time.Minute,
			RestartAttempts: 3,
			RestartBackoff:  300 * time.Millisecond,
			StopGrace:       250 * time.Millisecond,
			KeepAlive:       8 * time.Second,
		},
		Playback: PlaybackConfig{Command: "say", Rate: 1.0},
		Interview: InterviewConfig{
			Breathing:        1500 * time.Millisecond,
			SkipBreathing:    500 * time.Millisecond,
			AdminLogDebounce: 1500 * time.Millisecond,
			ExtractTimeout:   20 * time.Second,
		},
		Risk:    RiskConfig{Critical: 6, Elevated: 3, Mild: 1},
		Rules:   RulesConfig{Path: filepath.Join(home, ".config", "agrivoice", "terms.rules"), IterationLimit: 30},
		Gemini:  GeminiConfig{Model: "gemini-2.5-flash-lite", Timeout: 30 * time.Second},
		Weather: WeatherConfig{Enabled: true, Latitude: 32.75, Longitude: 129.87, Timezone: "Asia/Tokyo"},
		Store:   StoreConfig{Path: filepath.Join(home, ".local", "share", "agrivoice", "agrivoice.db")},
	}
}

// Load resolves configuration. A missing YAML or .env file is not an error; a malformed one is.
func Load() (Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return Config{}, errors.New("could not determine home directory")
	}
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("failed to load .env: %w", err)
	}

	cfg := Default(home)
	path := envOrDefault("AGRIVOICE_CONFIG", filepath.Join(home, ".config", "agrivoice", "config.yaml"))
	if err := applyFile(&cfg, path); err != nil {
		return Config{}, err
	}
	applyEnv(&cfg)
	normalize(&cfg)
	return cfg, nil
}

func applyFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to read config %q: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config %q: %w", path, err)
	}
	cfg.Source = path
	return nil
}

func applyEnv(cfg *Config) {
	cfg.Log.Level = envOrDefault("AGRIVOICE_LOG_LEVEL", cfg.Log.Level)
	cfg.Log.Format = envOrDefault("AGRIVOICE_LOG_FORMAT", cfg.Log.Format)

	cfg.Deepgram.APIKey = envOrDefault("DEEPGRAM_API_KEY", cfg.Deepgram.APIKey)
	cfg.Deepgram.APIBaseURL = envOrDefault("DEEPGRAM_API_BASE", cfg.Deepgram.APIBaseURL)
	cfg.Deepgram.Model = envOrDefault("DEEPGRAM_MODEL", cfg.Deepgram.Model)
	cfg.Deepgram.Language = envOrDefault("DEEPGRAM_LANGUAGE", cfg.Deepgram.Language)
	cfg.Deepgram.SmartFormat = envOrDefaultBool("DEEPGRAM_SMART_FORMAT", cfg.Deepgram.SmartFormat)
	cfg.Deepgram.Endpointing = envOrDefaultInt("DEEPGRAM_ENDPOINTING_MS", cfg.Deepgram.Endpointing)
	if v := envOrDefault("DEEPGRAM_KEYWORDS", ""); v != "" {
		cfg.Deepgram.Keywords = strings.Split(v, ",")
	}

	cfg.Audio.RecorderCommand = envOrDefault("AGRIVOICE_FFMPEG_COMMAND", cfg.Audio.RecorderCommand)
	cfg.Audio.InputFormat = envOrDefault("AGRIVOICE_AUDIO_INPUT_FORMAT", cfg.Audio.InputFormat)
	cfg.Audio.InputDevice = firstNonEmpty(os.Getenv("AGRIVOICE_AUDIO_INPUT_DEVICE"), os.Getenv("DEEPGRAM_PULSE_SOURCE"), cfg.Audio.InputDevice)
	cfg.Audio.SampleRate = envOrDefaultInt("AGRIVOICE_SAMPLE_RATE", cfg.Audio.SampleRate)
	cfg.Audio.Channels = envOrDefaultInt("AGRIVOICE_CHANNELS", cfg.Audio.Channels)
	cfg.Audio.ChunkSize = envOrDefaultInt("AGRIVOICE_AUDIO_CHUNK_SIZE", cfg.Audio.ChunkSize)

	cfg.Capture.MaxListen = envOrDefaultDuration("AGRIVOICE_MAX_LISTEN", cfg.Capture.MaxListen)
	cfg.Capture.RestartAttempts = envOrDefaultInt("AGRIVOICE_RESTART_ATTEMPTS", cfg.Capture.RestartAttempts)
	cfg.Capture.RestartBackoff = envOrDefaultDuration("AGRIVOICE_RESTART_BACKOFF", cfg.Capture.RestartBackoff)

	cfg.Playback.Command = envOrDefault("AGRIVOICE_TTS_COMMAND", cfg.Playback.Command)
	if v := envOrDefault("AGRIVOICE_TTS_VOICES", ""); v != "" {
		cfg.Playback.Voices = strings.Split(v, ",")
	}
	cfg.Playback.Unreliable = envOrDefaultBool("AGRIVOICE_TTS_UNRELIABLE", cfg.Playback.Unreliable)

	cfg.Interview.Breathing = envOrDefaultDuration("AGRIVOICE_BREATHING", cfg.Interview.Breathing)
	cfg.Interview.SkipBreathing = envOrDefaultDuration("AGRIVOICE_SKIP_BREATHING", cfg.Interview.SkipBreathing)
	cfg.Interview.AdminLogDebounce = envOrDefaultDuration("AGRIVOICE_ADMIN_LOG_DEBOUNCE", cfg.Interview.AdminLogDebounce)

	cfg.Risk.Critical = envOrDefaultInt("AGRIVOICE_RISK_CRITICAL", cfg.Risk.Critical)
	cfg.Risk.Elevated = envOrDefaultInt("AGRIVOICE_RISK_ELEVATED", cfg.Risk.Elevated)
	cfg.Risk.Mild = envOrDefaultInt("AGRIVOICE_RISK_MILD", cfg.Risk.Mild)
	cfg.Risk.RulesPath = envOrDefault("AGRIVOICE_RISK_RULES", cfg.Risk.RulesPath)

	cfg.Rules.Path = envOrDefault("AGRIVOICE_RULES_FILE", cfg.Rules.Path)
	cfg.Rules.IterationLimit = envOrDefaultInt("AGRIVOICE_RULE_ITERATION_LIMIT", cfg.Rules.IterationLimit)

	cfg.Gemini.APIKey = firstNonEmpty(os.Getenv("GOOGLE_GEMINI_API_KEY"), os.Getenv("GOOGLE_GENERATIVE_AI_API_KEY"), cfg.Gemini.APIKey)
	cfg.Gemini.Model = envOrDefault("AGRIVOICE_GEMINI_MODEL", cfg.Gemini.Model)
	cfg.Gemini.BaseURL = envOrDefault("AGRIVOICE_GEMINI_BASE", cfg.Gemini.BaseURL)
	cfg.Gemini.Timeout = envOrDefaultDuration("AGRIVOICE_GEMINI_TIMEOUT", cfg.Gemini.Timeout)

	cfg.Weather.Enabled = envOrDefaultBool("AGRIVOICE_WEATHER", cfg.Weather.Enabled)
	cfg.Weather.Latitude = envOrDefaultFloat("AGRIVOICE_LATITUDE", cfg.Weather.Latitude)
	cfg.Weather.Longitude = envOrDefaultFloat("AGRIVOICE_LONGITUDE", cfg.Weather.Longitude)

	cfg.Store.Path = envOrDefault("AGRIVOICE_DB", cfg.Store.Path)
	cfg.Dynamo.Table = envOrDefault("AGRIVOICE_DYNAMO_TABLE", cfg.Dynamo.Table)
	cfg.Dynamo.Region = firstNonEmpty(os.Getenv("AGRIVOICE_DYNAMO_REGION"), cfg.Dynamo.Region)
}

func normalize(cfg *Config) {
	if cfg.Audio.SampleRate <= 0 {
		cfg.Audio.SampleRate = 16000
	}
	if cfg.Audio.Channels <= 0 {
		cfg.Audio.Channels = 1
	}
	if cfg.Audio.ChunkSize < 256 {
		cfg.Audio.ChunkSize = 4096
	}
	if cfg.Rules.IterationLimit <= 0 {
		cfg.Rules.IterationLimit = 30
	}
	if cfg.Capture.RestartAttempts < 0 {
		cfg.Capture.RestartAttempts = 0
	}
	var keywords []string
	for _, kw := range cfg.Deepgram.Keywords {
		if kw = strings.TrimSpace(kw); kw != "" {
			keywords = append(keywords, kw)
		}
	}
	cfg.Deepgram.Keywords = keywords
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		trimmed := strings.TrimSpace(value)
		if trimmed != "" {
			return trimmed
		}
	}
	return ""
}

func envOrDefault(key string, fallback string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	return value
}

func envOrDefaultInt(key string, fallback int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func envOrDefaultFloat(key string, fallback float64) float64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func envOrDefaultBool(key string, fallback bool) bool {
	value := strings.TrimSpace(strings.ToLower(os.Getenv(key)))
	switch value {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

// envOrDefaultDuration accepts Go durations ("1.5s") or bare milliseconds ("1500").
func envOrDefaultDuration(key string, fallback time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	if ms, err := strconv.Atoi(value); err == nil && ms >= 0 {
		return time.Duration(ms) * time.Millisecond
	}
	if d, err := time.ParseDuration(value); err == nil && d >= 0 {
		return d
	}
	return fallback
}
