package session

import (
	"time"

	"golang.org/x/net/http2"
	"golang.org/x/net/http2/hpack"

	"github.com/risenfromashes/harmony-http/internal/stream"
)

// dispatch is processFrame from baranov1ch-http2/server.go, generalized
// to the real golang.org/x/net/http2 Frame types and our Stream type.
func (s *Session) dispatch(f http2.Frame) error {
	if s.curHeaderStreamID() != 0 {
		cf, ok := f.(*http2.ContinuationFrame)
		if !ok || cf.Header().StreamID != s.curHeaderStreamID() {
			return streamError{f.Header().StreamID, http2.ErrCodeProtocol}
		}
	}

	switch fr := f.(type) {
	case *http2.SettingsFrame:
		return s.processSettings(fr)
	case *http2.HeadersFrame:
		return s.processHeaders(fr)
	case *http2.ContinuationFrame:
		return s.processContinuation(fr)
	case *http2.DataFrame:
		return s.processData(fr)
	case *http2.WindowUpdateFrame:
		return s.processWindowUpdate(fr)
	case *http2.PingFrame:
		return s.processPing(fr)
	case *http2.RSTStreamFrame:
		return s.processRSTStream(fr)
	case *http2.GoAwayFrame:
		s.sentGoAway = true
		return nil
	case *http2.PriorityFrame:
		return nil
	default:
		if s.log != nil {
			s.log.WithField("type", f.Header().Type).Debug("session: ignoring unhandled frame type")
		}
		return nil
	}
}

func (s *Session) curHeaderStreamID() uint32 {
	if s.pending.stream == nil {
		return 0
	}
	return s.pending.stream.ID
}

func (s *Session) processSettings(f *http2.SettingsFrame) error {
	if f.IsAck() {
		s.ackSettingsTimer()
		return nil
	}
	err := f.ForeachSetting(func(setting http2.Setting) error {
		if setting.ID == http2.SettingInitialWindowSize {
			s.initialWindowSize = setting.Val
		}
		return nil
	})
	if err != nil {
		return err
	}
	return s.framer.WriteSettingsAck()
}

func (s *Session) processPing(f *http2.PingFrame) error {
	if f.IsAck() {
		return nil
	}
	return s.framer.WritePing(true, f.Data)
}

func (s *Session) processWindowUpdate(f *http2.WindowUpdateFrame) error {
	// Flow-control accounting is delegated to the codec in spec.md's
	// model; golang.org/x/net/http2's Framer exposes the raw increment
	// only, so beyond ignoring updates for unknown/closed streams there
	// is nothing further to track here (see DESIGN.md).
	if f.Header().StreamID != 0 {
		if _, ok := s.streams[f.Header().StreamID]; !ok {
			return nil
		}
	}
	return nil
}

func (s *Session) processRSTStream(f *http2.RSTStreamFrame) error {
	if st, ok := s.streams[f.Header().StreamID]; ok {
		s.closeStream(st)
	}
	return nil
}

func (s *Session) processHeaders(f *http2.HeadersFrame) error {
	id := f.Header().StreamID
	if s.sentGoAway {
		return nil
	}
	if id%2 != 1 || id <= s.maxStreamID || s.pending.stream != nil {
		return streamError{id, http2.ErrCodeProtocol}
	}
	if len(s.streams) >= maxConcurrent {
		return streamError{id, http2.ErrCodeRefusedStream}
	}
	if id > s.maxStreamID {
		s.maxStreamID = id
	}

	st := &stream.Stream{}
	st.Reset(id, s.nextStreamSerial())
	s.registerStream(st)
	s.pending = pendingRequest{stream: st}
	if s.cb.OnStreamCreated != nil {
		s.cb.OnStreamCreated(st)
	}

	return s.processHeaderBlockFragment(f.HeaderBlockFragment(), f.HeadersEnded(), f.StreamEnded())
}

func (s *Session) processContinuation(f *http2.ContinuationFrame) error {
	return s.processHeaderBlockFragment(f.HeaderBlockFragment(), f.HeadersEnded(), false)
}

func (s *Session) processHeaderBlockFragment(frag []byte, end, streamEnded bool) error {
	if _, err := s.dec.Write(frag); err != nil {
		return streamError{s.curHeaderStreamID(), http2.ErrCodeCompression}
	}
	if !end {
		return nil
	}
	st := s.pending.stream
	invalid := s.pending.invalid || st.Request.Invalid()
	s.pending = pendingRequest{}

	if invalid || st.Request.Method == "" || st.Request.Path == "" {
		return streamError{st.ID, http2.ErrCodeProtocol}
	}

	if streamEnded {
		st.DeliverChunk(nil, true)
	} else {
		if st.Request.Expect == "100-continue" {
			if err := s.WriteInterimStatus(st, "100"); err != nil {
				return err
			}
		}
		id := st.ID
		st.SetReadTimer(time.AfterFunc(readTimeout, func() {
			s.signalEvent(inboundFrame{timeoutStreamID: id})
		}))
	}

	if s.cb.OnRequest != nil {
		s.cb.OnRequest(s, st)
	}
	return nil
}

// onHeaderField is the hpack decoder's emit callback, generalizing
// baranov1ch-http2's onNewHeaderField to our headers.RequestHeaders
// store instead of net/http.Header. Pseudo/regular ordering and the
// cumulative byte budget are enforced inside RequestHeaders.Add itself.
func (s *Session) onHeaderField(f hpack.HeaderField) {
	st := s.pending.stream
	if st == nil {
		return
	}
	if !st.Request.Add(f) {
		s.pending.invalid = true
	}
}

func (s *Session) processData(f *http2.DataFrame) error {
	id := f.Header().StreamID
	st, ok := s.streams[id]
	if !ok {
		return streamError{id, http2.ErrCodeStreamClosed}
	}
	data := f.Data()
	end := f.StreamEnded()
	if len(data) > 0 || end {
		st.DeliverChunk(data, end)
	}
	if t := st.ReadTimer(); t != nil {
		if end {
			t.Stop()
		} else {
			t.Reset(readTimeout)
		}
	} else if !end {
		id := st.ID
		st.SetReadTimer(time.AfterFunc(readTimeout, func() {
			s.signalEvent(inboundFrame{timeoutStreamID: id})
		}))
	}
	return nil
}
