package events

import (
	"io"
	"sync"

	"github.com/risenfromashes/harmony-http/internal/buffer"
	"github.com/risenfromashes/harmony-http/internal/stream"
)

// HeartbeatInterval is the periodic keep-alive cadence of spec.md §4.9.
const HeartbeatInterval = 2 // seconds; an untyped constant rather than
// a time.Duration, so the worker multiplies it by time.Second for its
// heartbeat ticker.

// EventStream is a DataStream that never ends (spec.md §4.9): an
// unbounded-lifetime FIFO of Events, serialized on demand into
// `event: <name>\ndata: <payload>\n\n` frames. When the queue drains it
// pauses itself (reports zero bytes available) until the next Submit.
//
// Submit runs on whatever goroutine is publishing (a worker's heartbeat
// or NOTIFY-drain loop, or another session's handler), while
// Remaining/Send/ensurePending run on the owning session's goroutine via
// FlushBody. mu guards the fields both sides touch; onReady is invoked
// outside the lock so it can freely hand off to the session without
// risking reentrant lock acquisition.
type EventStream struct {
	mu      sync.Mutex
	queue   []Event
	pending []byte
	pendOff int
	paused  bool
	onReady func()
}

// NewEventStream returns an EventStream. onReady, if non-nil, is called
// by Submit whenever a paused stream gets new data, so the owning
// session can resume the codec for this stream.
func NewEventStream(onReady func()) *EventStream {
	return &EventStream{onReady: onReady}
}

func (e *EventStream) Kind() stream.Kind { return stream.KindEvent }

// Length is meaningless for an open-ended body; EventStream responses
// never set Content-Length (spec.md §4.3).
func (e *EventStream) Length() int64 { return -1 }

// Remaining reports how many bytes are ready to send right now. The
// second result is always false: EventStream never requires an exact
// EOF match since the body has no fixed length.
func (e *EventStream) Remaining() (int64, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.ensurePending()
	if len(e.pending)-e.pendOff == 0 {
		e.paused = true
		return 0, false
	}
	e.paused = false
	return int64(len(e.pending) - e.pendOff), false
}

// ensurePending assumes e.mu is already held.
func (e *EventStream) ensurePending() {
	for e.pendOff >= len(e.pending) && len(e.queue) > 0 {
		next := e.queue[0]
		e.queue = e.queue[1:]
		e.pending = serialize(next)
		e.pendOff = 0
	}
}

func serialize(ev Event) []byte {
	out := make([]byte, 0, len("event: \ndata: \n\n")+len(ev.Name)+len(ev.Payload.Bytes()))
	out = append(out, "event: "...)
	out = append(out, ev.Name...)
	out = append(out, '\n')
	out = append(out, "data: "...)
	out = append(out, ev.Payload.Bytes()...)
	out = append(out, '\n', '\n')
	return out
}

// Send writes exactly n bytes into buf, draining serialized events and
// padding with '\n' if the codec asked for more bytes than are actually
// pending (to account for frame padding), per spec.md §4.9.
func (e *EventStream) Send(buf *buffer.Buffer, n int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	remaining := n
	for remaining > 0 {
		e.ensurePending()
		avail := len(e.pending) - e.pendOff
		if avail == 0 {
			// Padding: the codec asked for more than we actually have.
			pad := make([]byte, remaining)
			for i := range pad {
				pad[i] = '\n'
			}
			if buf.Write(pad) != remaining {
				return io.ErrShortWrite
			}
			return nil
		}
		chunk := avail
		if chunk > remaining {
			chunk = remaining
		}
		if buf.Write(e.pending[e.pendOff:e.pendOff+chunk]) != chunk {
			return io.ErrShortWrite
		}
		e.pendOff += chunk
		remaining -= chunk
	}
	return nil
}

// Submit enqueues ev for delivery. If the stream was paused (its queue
// was empty), Submit calls onReady to let the session resume writing.
func (e *EventStream) Submit(ev Event) {
	e.mu.Lock()
	e.queue = append(e.queue, ev)
	wasPaused := e.paused
	if wasPaused {
		e.paused = false
	}
	e.mu.Unlock()

	if wasPaused && e.onReady != nil {
		e.onReady()
	}
}

// Paused reports whether the stream is currently waiting for a Submit.
func (e *EventStream) Paused() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.paused
}
