// Package bootstrap assembles the runtime graph shared by the desktop app and the CLI.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"agrivoice/internal/audio"
	"agrivoice/internal/capture"
	"agrivoice/internal/config"
	"agrivoice/internal/finalize"
	"agrivoice/internal/interview"
	"agrivoice/internal/logging"
	"agrivoice/internal/playback"
	"agrivoice/internal/ports"
	"agrivoice/internal/providers/deepgram"
	"agrivoice/internal/providers/dynamo"
	"agrivoice/internal/providers/gemini"
	"agrivoice/internal/providers/openmeteo"
	"agrivoice/internal/providers/speech"
	"agrivoice/internal/retry"
	"agrivoice/internal/risk"
	"agrivoice/internal/rules"
	"agrivoice/internal/ruletable"
	"agrivoice/internal/store"
)

// Services is the assembled runtime graph. Optional services are nil when not configured.
type Services struct {
	Config     config.Config
	Store      *store.Store
	Machine    *interview.Machine
	Capture    *capture.Manager
	Classifier *risk.Classifier
	Corrector  *rules.Corrector
	Finalizer  *finalize.Finalizer
	Clipboard  ports.Clipboard

	Gemini  *gemini.Client
	Weather *openmeteo.Client
	Syncer  *dynamo.Syncer
}

// Close releases the store.
func (s Services) Close() error {
	if s.Store == nil {
		return nil
	}
	return s.Store.Close()
}

// Build loads configuration and wires every backend dependency. ctx bounds background
// watchers; the machine itself is started by the caller with Machine.Run.
func Build(ctx context.Context, eventSink ports.EventSink, clipboard ports.Clipboard) (Services, error) {
	cfg, err := config.Load()
	if err != nil {
		return Services{}, err
	}
	logging.Init(logging.ParseLevel(cfg.Log.Level), cfg.Log.Format)
	return BuildWith(ctx, cfg, eventSink, clipboard)
}

// BuildWith wires services from an already resolved configuration.
func BuildWith(ctx context.Context, cfg config.Config, eventSink ports.EventSink, clipboard ports.Clipboard) (Services, error) {
	log := logging.New("bootstrap")

	corrector, err := rules.Load(cfg.Rules.Path, cfg.Rules.IterationLimit)
	if err != nil {
		return Services{}, err
	}
	classifier, err := buildClassifier(ctx, cfg.Risk, log)
	if err != nil {
		return Services{}, err
	}

	st, err := store.Open(cfg.Store.Path)
	if err != nil {
		return Services{}, err
	}
	services := Services{
		Config:     cfg,
		Store:      st,
		Classifier: classifier,
		Corrector:  corrector,
		Clipboard:  clipboard,
	}

	services.Capture = capture.NewManager(
		capture.NewEngineResource(engineFactory(cfg)),
		capture.Config{MaxListen: cfg.Capture.MaxListen, Restart: restartPolicy(cfg.Capture)},
	)
	speaker := playback.NewController(
		speech.New(speech.Config{Command: cfg.Playback.Command}),
		playbackConfig(cfg.Playback),
	)

	services.Finalizer = finalize.New(st, st, finalize.WithMoodLog(st), finalize.WithSessionMemory(st))

	deps := interview.Deps{
		Capture:    services.Capture,
		Speaker:    speaker,
		Classifier: classifier,
		Finalizer:  services.Finalizer,
		Sink:       eventSink,
		Corrector:  corrector,
		Memory:     st,
		Locations:  st,
		Records:    st,
	}

	if cfg.Gemini.APIKey != "" {
		services.Gemini = gemini.New(gemini.Config{
			APIKey:  cfg.Gemini.APIKey,
			BaseURL: cfg.Gemini.BaseURL,
			Model:   cfg.Gemini.Model,
			Timeout: cfg.Gemini.Timeout,
		})
		deps.Extractor = services.Gemini
		deps.AdminLog = services.Gemini
		deps.OCR = services.Gemini
	} else {
		log.Info("gemini key not set; using local extraction and template admin logs")
	}

	if cfg.Weather.Enabled {
		services.Weather = openmeteo.New(openmeteo.Config{
			Latitude:  cfg.Weather.Latitude,
			Longitude: cfg.Weather.Longitude,
			Timezone:  cfg.Weather.Timezone,
		})
		deps.Weather = services.Weather
	}

	if cfg.Dynamo.Table != "" {
		syncer, err := dynamo.Connect(ctx, cfg.Dynamo.Table, cfg.Dynamo.Region)
		if err != nil {
			log.Warn("record sync disabled", "error", err)
		} else {
			services.Syncer = syncer
			deps.Syncer = syncer
		}
	}

	opts := interview.DefaultOptions()
	opts.Timing = interview.Timing{Breathing: cfg.Interview.Breathing, SkipBreathing: cfg.Interview.SkipBreathing}
	if cfg.Interview.AdminLogDebounce > 0 {
		opts.AdminLogDebounce = cfg.Interview.AdminLogDebounce
	}
	if cfg.Interview.ExtractTimeout > 0 {
		opts.ExtractTimeout = cfg.Interview.ExtractTimeout
	}
	services.Machine = interview.NewMachine(deps, opts)
	return services, nil
}

// buildClassifier loads the risk table override, if any, and keeps it hot reloaded.
func buildClassifier(ctx context.Context, cfg config.RiskConfig, log *slog.Logger) (*risk.Classifier, error) {
	thresholds := risk.Thresholds{Critical: cfg.Critical, Elevated: cfg.Elevated, Mild: cfg.Mild}
	if cfg.RulesPath == "" {
		return risk.NewClassifier(nil, thresholds), nil
	}
	table, err := ruletable.Load(cfg.RulesPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load risk rules: %w", err)
	}
	classifier := risk.NewClassifier(table, thresholds)
	err = ruletable.Watch(ctx, cfg.RulesPath,
		func(t *ruletable.Table) {
			classifier.Replace(t)
			log.Info("risk rules reloaded", "path", cfg.RulesPath, "rules", t.Len())
		},
		func(err error) { log.Warn("risk rules reload failed", "error", err) },
	)
	if err != nil {
		log.Warn("risk rules will not be hot reloaded", "error", err)
	}
	return classifier, nil
}

func engineFactory(cfg config.Config) capture.EngineFactory {
	return func() (ports.RecognitionEngine, error) {
		if cfg.Deepgram.APIKey == "" {
			return nil, deepgram.ErrMissingAPIKey
		}
		provider := deepgram.NewProvider(deepgram.Config{
			APIKey:         cfg.Deepgram.APIKey,
			APIBaseURL:     cfg.Deepgram.APIBaseURL,
			Model:          cfg.Deepgram.Model,
			Language:       cfg.Deepgram.Language,
			Endpointing:    cfg.Deepgram.Endpointing,
			UtteranceEndMs: cfg.Deepgram.UtteranceEndMs,
			SmartFormat:    cfg.Deepgram.SmartFormat,
			Keywords:       cfg.Deepgram.Keywords,
		})
		return capture.NewStreamEngine(audio.NewMicrophone(cfg.Audio.RecorderCommand), provider, capture.EngineConfig{
			Audio: ports.AudioConfig{
				SampleRate:  cfg.Audio.SampleRate,
				Channels:    cfg.Audio.Channels,
				InputFormat: cfg.Audio.InputFormat,
				InputDevice: cfg.Audio.InputDevice,
			},
			Streaming: ports.StreamingConfig{
				SampleRate:     cfg.Audio.SampleRate,
				Channels:       cfg.Audio.Channels,
				Encoding:       "linear16",
				InterimResults: true,
			},
			ChunkSize: cfg.Audio.ChunkSize,
			StopGrace: cfg.Capture.StopGrace,
			KeepAlive: cfg.Capture.KeepAlive,
		}), nil
	}
}

func restartPolicy(cfg config.CaptureConfig) retry.Policy {
	p := capture.DefaultRestartPolicy()
	p.MaxAttempts = cfg.RestartAttempts + 1
	if cfg.RestartBackoff > 0 {
		p.Backoff = retry.Constant(cfg.RestartBackoff)
	}
	return p
}

func playbackConfig(cfg config.PlaybackConfig) playback.Config {
	pc := playback.DefaultConfig()
	if len(cfg.Voices) > 0 {
		pc.PreferredVoices = cfg.Voices
	}
	if cfg.Rate > 0 {
		pc.Rate = cfg.Rate
	}
	pc.Unreliable = cfg.Unreliable
	return pc
}

// ErrNotReady is returned by callers that need services before Build succeeded.
var ErrNotReady = errors.New("application is not initialized")
