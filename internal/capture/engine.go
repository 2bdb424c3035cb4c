package capture

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"agrivoice/internal/domain"
	"agrivoice/internal/logging"
	"agrivoice/internal/ports"
)

// EngineConfig controls how the streaming engine wires microphone audio into the provider.
type EngineConfig struct {
	Audio     ports.AudioConfig
	Streaming ports.StreamingConfig
	ChunkSize int
	// StopGrace lets trailing audio reach the provider before the send side closes.
	StopGrace time.Duration
	// FlushTimeout bounds how long Stop waits for the provider's last results.
	FlushTimeout time.Duration
	// KeepAlive is the idle interval after which a keep-alive frame is sent.
	KeepAlive time.Duration
}

// StreamEngine is a recognition engine built from a microphone capture and a streaming
// transcription provider.
type StreamEngine struct {
	audio    ports.AudioCapture
	provider ports.TranscriptionProvider
	cfg      EngineConfig
	log      *slog.Logger
}

// NewStreamEngine returns an engine that starts one audio capture and one provider stream per session.
func NewStreamEngine(audio ports.AudioCapture, provider ports.TranscriptionProvider, cfg EngineConfig) *StreamEngine {
	if cfg.ChunkSize < 256 {
		cfg.ChunkSize = 4096
	}
	if cfg.FlushTimeout <= 0 {
		cfg.FlushTimeout = 4 * time.Second
	}
	return &StreamEngine{audio: audio, provider: provider, cfg: cfg, log: logging.New("capture.engine")}
}

// Start opens the provider stream, then the microphone.
func (e *StreamEngine) Start(ctx context.Context) (ports.RecognitionStream, error) {
	streamCtx, cancel := context.WithCancel(ctx)
	provider, err := e.provider.StartStreaming(streamCtx, e.cfg.Streaming)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to start transcription stream: %w", err)
	}
	audio, err := e.audio.Start(streamCtx, e.cfg.Audio)
	if err != nil {
		_ = provider.Close()
		cancel()
		return nil, fmt.Errorf("failed to start audio capture: %w", err)
	}

	s := &engineStream{
		cfg:        e.cfg,
		log:        e.log,
		cancel:     cancel,
		audio:      audio,
		provider:   provider,
		results:    make(chan domain.RecognitionResult, 64),
		eventsDone: make(chan struct{}),
		audioDone:  make(chan struct{}),
	}
	s.lastSend.Store(time.Now().UnixNano())

	go s.consumeEvents(streamCtx)
	go s.pumpAudio()
	if e.cfg.KeepAlive > 0 {
		go s.keepAlive(streamCtx)
	}
	return s, nil
}

type engineStream struct {
	cfg      EngineConfig
	log      *slog.Logger
	cancel   context.CancelFunc
	audio    ports.AudioSession
	provider ports.StreamingSession
	results  chan domain.RecognitionResult

	eventsDone chan struct{}
	audioDone  chan struct{}
	lastSend   atomic.Int64

	errOnce  sync.Once
	audioErr error
	stopOnce sync.Once
	stopping atomic.Bool
}

func (s *engineStream) Results() <-chan domain.RecognitionResult {
	return s.results
}

// consumeEvents turns provider events into indexed results. Interim text shares the index of
// the segment it refines; the index advances after every final segment.
func (s *engineStream) consumeEvents(ctx context.Context) {
	defer close(s.eventsDone)
	defer close(s.results)

	index := 0
	for event := range s.provider.Events() {
		text := strings.TrimSpace(event.Text)
		if text == "" && !event.IsSpeechFinal {
			continue
		}
		result := domain.RecognitionResult{
			Index:       index,
			Text:        text,
			Final:       event.Kind == domain.TranscriptKindFinal,
			SpeechFinal: event.IsSpeechFinal,
		}
		select {
		case s.results <- result:
		case <-ctx.Done():
			return
		}
		if result.Final && text != "" {
			index++
		}
	}
}

// pumpAudio forwards microphone chunks. When the microphone ends on its own the provider's
// send side is closed so the event stream drains too.
func (s *engineStream) pumpAudio() {
	defer close(s.audioDone)
	defer func() {
		if !s.stopping.Load() {
			_ = s.provider.CloseSend()
			go s.closeAfter(s.cfg.FlushTimeout)
		}
	}()

	buf := make([]byte, s.cfg.ChunkSize)
	for {
		n, err := s.audio.Read(buf)
		if n > 0 {
			if sendErr := s.provider.SendAudio(buf[:n]); sendErr != nil {
				s.setAudioErr(fmt.Errorf("failed to stream audio: %w", sendErr))
				return
			}
			s.lastSend.Store(time.Now().UnixNano())
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrClosedPipe) {
				s.setAudioErr(fmt.Errorf("audio capture error: %w", err))
			}
			return
		}
	}
}

func (s *engineStream) keepAlive(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.KeepAlive / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.audioDone:
			return
		case <-ticker.C:
			idle := time.Since(time.Unix(0, s.lastSend.Load()))
			if idle < s.cfg.KeepAlive {
				continue
			}
			if err := s.provider.KeepAlive(); err != nil {
				s.log.Debug("keep-alive failed", "error", err)
				return
			}
		}
	}
}

func (s *engineStream) setAudioErr(err error) {
	s.errOnce.Do(func() { s.audioErr = err })
}

// Wait returns once both the audio pump and the event stream have ended. A provider that
// closes first takes the microphone down with it.
func (s *engineStream) Wait() error {
	<-s.eventsDone
	_ = s.audio.Stop()
	<-s.audioDone
	streamErr := s.provider.Wait()
	s.cancel()
	if s.audioErr != nil {
		return s.audioErr
	}
	return streamErr
}

func (s *engineStream) Stop() error {
	var err error
	s.stopOnce.Do(func() {
		s.stopping.Store(true)
		if stopErr := s.audio.Stop(); stopErr != nil {
			err = fmt.Errorf("failed to stop audio capture: %w", stopErr)
		}
		if s.cfg.StopGrace > 0 {
			time.Sleep(s.cfg.StopGrace)
		}
		_ = s.provider.CloseSend()
		go s.closeAfter(s.cfg.FlushTimeout)
	})
	return err
}

func (s *engineStream) closeAfter(timeout time.Duration) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-s.eventsDone:
	case <-timer.C:
		_ = s.provider.Close()
	}
}

func (s *engineStream) Abort() error {
	s.stopOnce.Do(func() {})
	s.stopping.Store(true)
	s.cancel()
	_ = s.audio.Stop()
	return s.provider.Close()
}
