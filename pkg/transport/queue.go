// Copyright 2025 Certen Protocol
//
// Bounded per-session outbound queue. On overflow the oldest non-final frame
// is dropped (never the final frame of a stream) and a backpressure metric
// is recorded.

package transport

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var outboundDropped = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "certen_inference_host_outbound_frames_dropped_total",
		Help: "Frames dropped from a session's outbound queue due to backpressure.",
	},
	[]string{"session_id"},
)

func init() {
	prometheus.MustRegister(outboundDropped)
}

// OutboundFrame is one frame queued for send to a session's client.
type OutboundFrame struct {
	Payload any
	Final   bool
}

// OutboundQueue is a bounded FIFO of frames for a single session.
type OutboundQueue struct {
	mu        sync.Mutex
	sessionID string
	capacity  int
	frames    []OutboundFrame
}

// NewOutboundQueue builds a queue with the given capacity for sessionID.
func NewOutboundQueue(sessionID string, capacity int) *OutboundQueue {
	return &OutboundQueue{
		sessionID: sessionID,
		capacity:  capacity,
		frames:    make([]OutboundFrame, 0, capacity),
	}
}

// Push appends frame, dropping the oldest non-final frame if at capacity.
// If every queued frame is final (should not normally happen), the new
// frame is dropped instead, even if it is itself final, so no final frame
// already in the queue is lost.
func (q *OutboundQueue) Push(frame OutboundFrame) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.frames) < q.capacity {
		q.frames = append(q.frames, frame)
		return
	}

	for i, f := range q.frames {
		if !f.Final {
			q.frames = append(q.frames[:i], q.frames[i+1:]...)
			q.frames = append(q.frames, frame)
			outboundDropped.WithLabelValues(q.sessionID).Inc()
			return
		}
	}
	outboundDropped.WithLabelValues(q.sessionID).Inc()
}

// Drain removes and returns every queued frame, in order.
func (q *OutboundQueue) Drain() []OutboundFrame {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := q.frames
	q.frames = make([]OutboundFrame, 0, q.capacity)
	return out
}

// Len returns the current queue length.
func (q *OutboundQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.frames)
}
