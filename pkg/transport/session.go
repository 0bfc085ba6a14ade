// Copyright 2025 Certen Protocol
//
// Session wraps one WebSocket connection: a read loop feeding frames to a
// Dispatcher, a write loop draining the session's OutboundQueue, and a
// cooperative cancellation signal observed by in-flight generation at every
// emitted token or chunk.

package transport

import (
	"context"
	"log"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// Session owns one client connection's lifecycle.
type Session struct {
	ID     string
	ChainID uint64

	conn   *websocket.Conn
	queue  *OutboundQueue
	ctx    context.Context
	cancel context.CancelFunc
	logger *log.Logger
}

// NewSession wraps conn for sessionID, with a bounded outbound queue of the
// given capacity.
func NewSession(sessionID string, chainID uint64, conn *websocket.Conn, queueCapacity int) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	return &Session{
		ID:      sessionID,
		ChainID: chainID,
		conn:    conn,
		queue:   NewOutboundQueue(sessionID, queueCapacity),
		ctx:     ctx,
		cancel:  cancel,
		logger:  log.New(log.Writer(), "[Session "+sessionID+"] ", log.LstdFlags),
	}
}

// Context is the cooperative cancellation signal for this session's
// in-flight work. Generation loops must check it at every token/chunk
// boundary and release decoder/key resources when it is done.
func (s *Session) Context() context.Context {
	return s.ctx
}

// Close cancels in-flight work and closes the underlying connection. Safe to
// call multiple times.
func (s *Session) Close() {
	s.cancel()
	_ = s.conn.Close()
}

// Enqueue pushes frame onto this session's bounded outbound queue.
func (s *Session) Enqueue(frame OutboundFrame) {
	s.queue.Push(frame)
}

// ReadLoop reads frames from the connection and hands each to dispatch until
// the connection closes or the session is cancelled, at which point it
// cancels the session's context (covering both a client-initiated close and
// a read error).
func (s *Session) ReadLoop(dispatch func(Frame)) {
	defer s.cancel()

	s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		s.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		select {
		case <-s.ctx.Done():
			return
		default:
		}

		_, raw, err := s.conn.ReadMessage()
		if err != nil {
			s.logger.Printf("read loop ending: %v", err)
			return
		}
		dispatch(Frame{SessionID: s.ID, Raw: raw})
	}
}

// WriteLoop drains the outbound queue to the connection on a fixed cadence
// and sends periodic pings, until the session is cancelled.
func (s *Session) WriteLoop(encode func(OutboundFrame) ([]byte, error)) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	defer s.Close()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			for _, frame := range s.queue.Drain() {
				data, err := encode(frame)
				if err != nil {
					s.logger.Printf("encode outbound frame: %v", err)
					continue
				}
				s.conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
					s.logger.Printf("write outbound frame: %v", err)
					return
				}
			}
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
