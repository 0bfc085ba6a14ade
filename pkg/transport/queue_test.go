package transport

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestQueueDropsOldestNonFinalOnOverflow(t *testing.T) {
	q := NewOutboundQueue("sess-1", 2)
	q.Push(OutboundFrame{Payload: "a"})
	q.Push(OutboundFrame{Payload: "b"})
	q.Push(OutboundFrame{Payload: "c"})

	frames := q.Drain()
	require.Len(t, frames, 2)
	require.Equal(t, "b", frames[0].Payload)
	require.Equal(t, "c", frames[1].Payload)
}

func TestQueueNeverDropsFinalFrameWhenRoomExists(t *testing.T) {
	q := NewOutboundQueue("sess-1", 2)
	q.Push(OutboundFrame{Payload: "final", Final: true})
	q.Push(OutboundFrame{Payload: "b"})
	q.Push(OutboundFrame{Payload: "c"})

	frames := q.Drain()
	require.Len(t, frames, 2)
	var payloads []any
	for _, f := range frames {
		payloads = append(payloads, f.Payload)
	}
	require.Contains(t, payloads, "final")
}

func TestQueueDrainEmptiesQueue(t *testing.T) {
	q := NewOutboundQueue("sess-1", 4)
	q.Push(OutboundFrame{Payload: "a"})
	require.Equal(t, 1, q.Len())
	q.Drain()
	require.Equal(t, 0, q.Len())
}
