package deepgram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/gorilla/websocket"

	"agrivoice/internal/domain"
)

var (
	errSendClosed    = errors.New("audio stream is already closed")
	errSessionClosed = errors.New("deepgram session closed")

	keepAliveFrame   = []byte(`{"type":"KeepAlive"}`)
	closeStreamFrame = []byte(`{"type":"CloseStream"}`)
)

type frame struct {
	kind int
	data []byte
}

// session owns one websocket. Every write goes through writeLoop since a
// gorilla connection allows a single concurrent writer.
type session struct {
	conn   *websocket.Conn
	events chan domain.TranscriptEvent
	frames chan frame
	// readDone closes when the socket stops delivering; writeLoop exits with it.
	readDone chan struct{}
	done     chan struct{}
	wg       sync.WaitGroup

	sendMu     sync.Mutex
	sendClosed bool

	errMu sync.Mutex
	err   error

	closed atomic.Bool
}

func newSession(ctx context.Context, conn *websocket.Conn) *session {
	s := &session{
		conn:   conn,
		events: make(chan domain.TranscriptEvent, 64),
		frames:   make(chan frame, 32),
		readDone: make(chan struct{}),
		done:     make(chan struct{}),
	}
	s.wg.Add(2)
	go s.readLoop()
	go s.writeLoop()
	go func() {
		s.wg.Wait()
		close(s.events)
		close(s.done)
		_ = conn.Close()
	}()
	go func() {
		select {
		case <-ctx.Done():
			_ = s.Close()
		case <-s.done:
		}
	}()
	return s
}

func (s *session) SendAudio(chunk []byte) error {
	if len(chunk) == 0 {
		return nil
	}
	return s.enqueue(frame{kind: websocket.BinaryMessage, data: append([]byte(nil), chunk...)}, true)
}

// KeepAlive asks Deepgram to hold the stream open through silence. A full queue means
// audio is flowing anyway, so the frame is dropped.
func (s *session) KeepAlive() error {
	return s.enqueue(frame{kind: websocket.TextMessage, data: keepAliveFrame}, false)
}

func (s *session) enqueue(f frame, block bool) error {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	if s.sendClosed {
		return errSendClosed
	}

	if !block {
		select {
		case s.frames <- f:
		default:
		}
		return nil
	}
	select {
	case s.frames <- f:
		return nil
	case <-s.done:
		if err := s.failure(); err != nil {
			return err
		}
		return errSessionClosed
	}
}

// CloseSend ends the audio stream; Deepgram flushes its last results and closes.
func (s *session) CloseSend() error {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	if !s.sendClosed {
		s.sendClosed = true
		close(s.frames)
	}
	return nil
}

func (s *session) Events() <-chan domain.TranscriptEvent {
	return s.events
}

func (s *session) Wait() error {
	<-s.done
	return s.failure()
}

func (s *session) Close() error {
	if s.closed.CompareAndSwap(false, true) {
		_ = s.conn.Close()
		_ = s.CloseSend()
	}
	<-s.done
	return s.failure()
}

func (s *session) failure() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

// fail records the first transport error. Errors caused by a local Close are not failures.
func (s *session) fail(err error) {
	if err == nil || s.closed.Load() || websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseNoStatusReceived,
	) {
		return
	}
	s.errMu.Lock()
	defer s.errMu.Unlock()
	if s.err == nil {
		s.err = err
	}
}

func (s *session) writeLoop() {
	defer s.wg.Done()
	for {
		select {
		case <-s.readDone:
			return
		case f, ok := <-s.frames:
			if !ok {
				if err := s.conn.WriteMessage(websocket.TextMessage, closeStreamFrame); err != nil {
					s.fail(fmt.Errorf("failed to close deepgram stream: %w", err))
				}
				return
			}
			if err := s.conn.WriteMessage(f.kind, f.data); err != nil {
				s.fail(fmt.Errorf("failed to send to deepgram: %w", err))
				_ = s.conn.Close()
				return
			}
		}
	}
}

func (s *session) readLoop() {
	defer s.wg.Done()
	defer close(s.readDone)
	for {
		_, payload, err := s.conn.ReadMessage()
		if err != nil {
			s.fail(fmt.Errorf("failed to read deepgram event: %w", err))
			return
		}

		var msg message
		if err := json.Unmarshal(payload, &msg); err != nil {
			continue
		}
		if err := msg.failure(); err != nil {
			s.emit(domain.TranscriptEvent{Kind: domain.TranscriptKindFinal, IsSpeechFinal: true})
			s.fail(err)
			return
		}
		if event, ok := msg.event(); ok {
			s.emit(event)
		}
	}
}

func (s *session) emit(event domain.TranscriptEvent) {
	select {
	case s.events <- event:
	default:
	}
}
