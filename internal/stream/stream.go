package stream

import (
	"time"

	"github.com/risenfromashes/harmony-http/internal/buffer"
	"github.com/risenfromashes/harmony-http/internal/headers"
	"github.com/risenfromashes/harmony-http/internal/router"
	"github.com/risenfromashes/harmony-http/internal/task"
)

// BodyChunk is the chunk-mode awaiter result: a borrowed view of one
// arrived DATA frame's payload, or the EOF sentinel (EOF=true, Data=nil)
// delivered once at END_STREAM. Implements the explicit two-variant
// awaiter result spec.md §9's open question suggests, rather than
// relying on an empty slice being ambiguous with an empty chunk.
type BodyChunk struct {
	Data []byte
	EOF  bool
}

// bodyMode tracks which body-delivery mode (if any) the handler has
// committed to, per spec.md §4.6.
type bodyMode uint8

const (
	bodyModeUnset bodyMode = iota
	bodyModeWhole
	bodyModeChunk
)

// Stream is one HTTP/2 request/response exchange, per spec.md §3.
type Stream struct {
	ID     uint32 // protocol stream ID
	Serial uint64 // worker-unique monotone serial, used to detect post-cancellation deliveries

	Request  headers.RequestHeaders
	Response headers.ResponseHeaders
	Params   []router.Param

	Path  string
	Query string

	Mem buffer.MemBlock

	Data DataStream

	readTimer  *time.Timer
	writeTimer *time.Timer

	bodyMode    bodyMode
	bodyBuf     []byte // accumulated prefix before a mode is chosen, or the whole-body result
	bodyDone    bool   // END_STREAM observed
	wholeAwait  *task.Task[[]byte]
	chunkAwait  *task.Task[BodyChunk]
	handlerTask *task.Task[struct{}]

	closed bool
}

// Reset prepares the Stream for reuse against a new protocol stream ID,
// releasing everything tied to the previous request.
func (s *Stream) Reset(id uint32, serial uint64) {
	s.ID = id
	s.Serial = serial
	s.Request.Reset()
	s.Response.Reset()
	s.Params = s.Params[:0]
	s.Path = ""
	s.Query = ""
	s.Mem.Reset()
	s.Data = nil
	s.readTimer = nil
	s.writeTimer = nil
	s.bodyMode = bodyModeUnset
	s.bodyBuf = s.bodyBuf[:0]
	s.bodyDone = false
	s.wholeAwait = nil
	s.chunkAwait = nil
	s.handlerTask = nil
	s.closed = false
}

// SetReadTimer / SetWriteTimer install the per-stream inactivity timers;
// the session owns starting/stopping them on frame send/receive.
func (s *Stream) SetReadTimer(t *time.Timer)  { s.readTimer = t }
func (s *Stream) SetWriteTimer(t *time.Timer) { s.writeTimer = t }
func (s *Stream) ReadTimer() *time.Timer      { return s.readTimer }
func (s *Stream) WriteTimer() *time.Timer     { return s.writeTimer }

// SetHandlerTask attaches the suspendable handler computation for a
// suspendable route. It is destroyed along with the Stream.
func (s *Stream) SetHandlerTask(t *task.Task[struct{}]) { s.handlerTask = t }

// Closed reports whether Destroy has already run, guarding against a
// double-destroy (spec.md §8's "for every stream created there is
// exactly one destroy").
func (s *Stream) Closed() bool { return s.closed }

// Destroy tears the stream down: cancels its handler task (orphaning any
// held continuation, per spec.md §4.5) and any outstanding body awaiters,
// stops its timers, and marks it closed. Idempotent.
func (s *Stream) Destroy() {
	if s.closed {
		return
	}
	s.closed = true
	if s.handlerTask != nil {
		s.handlerTask.Cancel()
	}
	if s.wholeAwait != nil {
		s.wholeAwait.Cancel()
	}
	if s.chunkAwait != nil {
		s.chunkAwait.Cancel()
	}
	if s.readTimer != nil {
		s.readTimer.Stop()
	}
	if s.writeTimer != nil {
		s.writeTimer.Stop()
	}
}

// ---- request body delivery (spec.md §4.6) ----

// AwaitBody registers the whole-body awaiter. If END_STREAM already
// arrived (the body was fully buffered before the handler asked for it),
// it resolves immediately; otherwise it returns a pending task that
// DeliverChunk resumes at END_STREAM.
func (s *Stream) AwaitBody() *task.Task[[]byte] {
	if s.bodyMode == bodyModeUnset {
		s.bodyMode = bodyModeWhole
	}
	if s.bodyDone {
		return task.Resolved(append([]byte(nil), s.bodyBuf...))
	}
	t := task.Pending[[]byte]()
	s.wholeAwait = t
	return t
}

// AwaitChunk registers the chunk-mode awaiter for the next arrived DATA
// frame (or the END_STREAM sentinel). At most one chunk awaiter is ever
// outstanding, per spec.md §4.6.
func (s *Stream) AwaitChunk() *task.Task[BodyChunk] {
	if s.bodyMode == bodyModeUnset {
		s.bodyMode = bodyModeChunk
		if len(s.bodyBuf) > 0 {
			pending := s.bodyBuf
			s.bodyBuf = nil
			return task.Resolved(BodyChunk{Data: pending})
		}
	}
	if s.bodyDone && len(s.bodyBuf) == 0 {
		return task.Resolved(BodyChunk{EOF: true})
	}
	t := task.Pending[BodyChunk]()
	s.chunkAwait = t
	return t
}

// DeliverChunk feeds one arrived DATA chunk (data == nil, end == true at
// END_STREAM) to whichever body-delivery mode is active, per the
// buffering rules of spec.md §4.6: chunks arriving before a mode is
// chosen accumulate in bodyBuf; once chunk mode is chosen, the buffered
// prefix is delivered once and then chunks deliver unbuffered.
func (s *Stream) DeliverChunk(data []byte, end bool) {
	switch s.bodyMode {
	case bodyModeChunk:
		// AwaitChunk already drained any buffered prefix when chunk mode
		// was chosen; every chunk from here on delivers unbuffered.
		if len(data) > 0 {
			s.resumeChunk(BodyChunk{Data: data})
		}
	default:
		s.bodyBuf = append(s.bodyBuf, data...)
	}
	if end {
		s.bodyDone = true
		switch s.bodyMode {
		case bodyModeWhole:
			if s.wholeAwait != nil {
				awaited := s.wholeAwait
				s.wholeAwait = nil
				awaited.Resume(append([]byte(nil), s.bodyBuf...), nil)
			}
		case bodyModeChunk:
			s.resumeChunk(BodyChunk{EOF: true})
		}
	}
}

func (s *Stream) resumeChunk(c BodyChunk) {
	if s.chunkAwait == nil {
		return
	}
	awaited := s.chunkAwait
	s.chunkAwait = nil
	awaited.Resume(c, nil)
}
