package session

import (
	"time"

	"golang.org/x/net/http2"
	"golang.org/x/net/http2/hpack"

	"github.com/risenfromashes/harmony-http/internal/stream"
)

// maxDataFrameSize bounds a single DATA frame's payload, matching the
// SETTINGS_MAX_FRAME_SIZE default RFC 7540 mandates absent negotiation.
const maxDataFrameSize = 16384

// WriteResponseHeaders flushes a stream's accumulated ResponseHeaders as
// one HEADERS frame, per spec.md §4.3's response builders ("set
// :status, required headers... start writes"). endStream is true for
// header-only responses (304, HEAD, zero-length bodies).
func (s *Session) WriteResponseHeaders(st *stream.Stream, endStream bool) error {
	s.headerBuf.Reset()
	for _, f := range st.Response.Fields() {
		if err := s.enc.WriteField(f); err != nil {
			return err
		}
	}
	if st.WriteTimer() != nil {
		st.WriteTimer().Stop()
	}
	err := s.framer.WriteHeaders(http2.HeadersFrameParam{
		StreamID:      st.ID,
		BlockFragment: append([]byte(nil), s.headerBuf.Bytes()...),
		EndStream:     endStream,
		EndHeaders:    true,
	})
	if endStream {
		s.finishStream(st)
	}
	return err
}

// WriteInterimStatus flushes a bare `:status 100` HEADERS frame for an
// `Expect: 100-continue` request, per spec.md §4.2/§6. It never ends the
// stream and never touches st.Response, since the final response still
// has its own HEADERS frame to come.
func (s *Session) WriteInterimStatus(st *stream.Stream, status string) error {
	s.headerBuf.Reset()
	if err := s.enc.WriteField(hpack.HeaderField{Name: ":status", Value: status}); err != nil {
		return err
	}
	return s.framer.WriteHeaders(http2.HeadersFrameParam{
		StreamID:      st.ID,
		BlockFragment: append([]byte(nil), s.headerBuf.Bytes()...),
		EndStream:     false,
		EndHeaders:    true,
	})
}

// FlushBody drains as much of a stream's DataStream as is currently
// available into DATA frames, per spec.md §4.2's write path: the codec
// asks the DataStream for `remaining()`, writes a frame header, then
// delegates exactly that many payload bytes to `send`. It returns once
// the stream has no more bytes ready right now — for a StringStream or
// FileStream that means the body is fully sent (END_STREAM written);
// for an EventStream with an empty queue, it means the stream paused
// and FlushBody must be called again once Submit wakes it (internal/app's
// Context.InitEventSource wires that wakeup via EventStream's onReady
// callback).
func (s *Session) FlushBody(st *stream.Stream) error {
	if st.Data == nil {
		return nil
	}
	for {
		avail, mustMatch := st.Data.Remaining()
		if avail == 0 {
			if mustMatch {
				if err := s.framer.WriteData(st.ID, true, nil); err != nil {
					return err
				}
				s.finishStream(st)
			}
			return nil
		}

		n := avail
		if n > maxDataFrameSize {
			n = maxDataFrameSize
		}
		s.out.Reset()
		if err := st.Data.Send(s.out, int(n)); err != nil {
			return err
		}

		remaining, _ := st.Data.Remaining()
		end := mustMatch && remaining == 0
		if err := s.framer.WriteData(st.ID, end, s.out.Unread()); err != nil {
			return err
		}
		if end {
			s.finishStream(st)
			return nil
		}
		s.armWriteTimer(st)
	}
}

// armWriteTimer (re)starts the per-stream write-inactivity timer of
// spec.md §4.3, created lazily on first use since most responses finish
// in a single FlushBody pass and never need one.
func (s *Session) armWriteTimer(st *stream.Stream) {
	if t := st.WriteTimer(); t != nil {
		t.Reset(readTimeout)
		return
	}
	id := st.ID
	st.SetWriteTimer(time.AfterFunc(readTimeout, func() {
		s.signalEvent(inboundFrame{timeoutStreamID: id})
	}))
}

func (s *Session) finishStream(st *stream.Stream) {
	if st.WriteTimer() != nil {
		st.WriteTimer().Stop()
	}
	s.closeStream(st)
}
