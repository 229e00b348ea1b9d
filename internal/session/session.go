// Package session implements the HTTP/2-over-TLS session state machine
// of spec.md §4.2: one Session per TCP connection, each served by its
// own goroutine running Serve.
//
// Grounded on baranov1ch-http2/server.go's serverConn: the same
// frame-and-ack handoff between a dumb reader goroutine and a single
// state-owning loop (there, frameAndProcessed/processed; here,
// inboundFrame/ack), and the same codec-callback shape (onNewHeaderField,
// processFrame's type switch, writeHeaderInLoop). The frame codec itself
// is golang.org/x/net/http2's Framer/hpack rather than the teacher's
// hand-rolled one — see DESIGN.md for why that swap was made. As in the
// teacher, each connection has its own serving goroutine: internal/worker
// starts one per accepted connection (see its package doc), and Serve's
// loop handles that connection's frames and timer events.
package session

import (
	"bytes"
	"crypto/tls"
	"fmt"
	"net"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/hpack"

	"github.com/risenfromashes/harmony-http/internal/buffer"
	"github.com/risenfromashes/harmony-http/internal/headers"
	"github.com/risenfromashes/harmony-http/internal/stream"
)

// State is the session-level state machine of spec.md §4.2.
type State uint8

const (
	StateHandshaking State = iota
	StateConnected
	StateClosing
)

const (
	readTimeout       = 30 * time.Second
	settingsAckWindow = 10 * time.Second
	inboundScratch    = 16 << 10
	outboundCapacity  = 64 << 10
	maxConcurrent     = 100
	maxHeaderBytes    = headers.MaxHeaderBytes
)

// ALPN protocol identifiers the handshake must land on, per spec.md
// §4.2 ("the ALPN/NPN result must be h2 (or an h2-14/16 alias for
// compatibility)").
var acceptedALPN = map[string]bool{"h2": true, "h2-16": true, "h2-14": true}

// Callbacks are the host hooks a Session drives into — the
// worker-level `prepare_response` orchestration, kept out of this
// package to avoid session ↔ worker/router import cycles, the same
// pattern internal/stream uses for FileReaderAt. Every callback is
// invoked from the goroutine running this Session's Serve; state shared
// with other sessions must be synchronized by the callback itself
// (internal/worker guards it with its own mutexes).
type Callbacks struct {
	// OnStreamCreated fires as soon as a Stream is allocated for a new
	// HEADERS frame, before its request headers are even fully parsed —
	// spec.md §3's "liveness registered with Worker at creation." The
	// worker uses this to add the stream's serial to its cross-session
	// live-set, the registry internal/db's pump goroutine consults
	// before delivering a completion.
	OnStreamCreated func(st *stream.Stream)
	// OnRequest fires once a stream's request headers are complete
	// (HEADERS with END_HEADERS, after any CONTINUATION frames), per
	// spec.md §4.3's prepare_response.
	OnRequest func(sess *Session, st *stream.Stream)
	// OnStreamClosed fires when a stream is fully torn down, letting the
	// worker deregister its liveness entry.
	OnStreamClosed func(st *stream.Stream)
	// OnSettingsTimeout fires on Serve's goroutine when the client never
	// acked our initial SETTINGS within settingsAckWindow, just before
	// Serve returns errSettingsTimeout.
	OnSettingsTimeout func(sess *Session)
}

type pendingRequest struct {
	stream  *stream.Stream
	invalid bool
}

// Session is one HTTP/2 connection, served by the goroutine that runs
// its Serve loop.
type Session struct {
	id   uint64
	conn net.Conn
	log  *logrus.Entry

	framer   *http2.Framer
	enc      *hpack.Encoder
	dec      *hpack.Decoder
	headerBuf bytes.Buffer

	out *buffer.Buffer

	state State

	streams     map[uint32]*stream.Stream
	bySerial    map[uint64]*stream.Stream
	maxStreamID uint32
	nextSerial  uint64

	initialWindowSize uint32
	sentGoAway        bool
	settingsAcked     bool
	settingsTimer     *time.Timer

	pending pendingRequest

	cb Callbacks

	inbound chan inboundFrame
	ack     chan struct{}
	closed  chan struct{}
}

// inboundFrame is one event handed to Serve's single-goroutine dispatch
// loop: either a frame (or terminal read error) from the dumb readLoop
// goroutine, or a synthetic timeout notification from a settings-ack or
// per-stream timer's own time.AfterFunc goroutine. Only readLoop-sourced
// events pair with a send on s.ack; timer-sourced ones do not, since
// readLoop never blocked waiting on them.
type inboundFrame struct {
	frame http2.Frame
	err   error

	settingsTimeoutFired bool
	timeoutStreamID      uint32
	flushStreamID        uint32
}

// Event is one frame (or terminal read error) tagged with the Session it
// came from, so a consumer fanning in many sessions' frames onto one
// channel can tell them apart. Nothing in this package produces Events:
// Serve receives its frames from readLoop over the inbound channel.
type Event struct {
	Sess  *Session
	Frame http2.Frame
	Err   error
}

// New wraps an already-TLS-handshaken connection (ALPN already
// negotiated to h2 by the caller's tls.Config, per spec.md §4.2) into a
// Session and starts its dumb frame-reading goroutine. id is a
// worker-unique connection identifier used only for logging.
func New(id uint64, conn net.Conn, cb Callbacks, log *logrus.Entry) *Session {
	s := &Session{
		id:                id,
		conn:              conn,
		log:               log,
		out:               buffer.New(outboundCapacity),
		streams:           make(map[uint32]*stream.Stream),
		bySerial:          make(map[uint64]*stream.Stream),
		initialWindowSize: 65535,
		cb:                cb,
		inbound:           make(chan inboundFrame),
		ack:               make(chan struct{}),
		closed:            make(chan struct{}),
	}
	s.framer = http2.NewFramer(conn, conn)
	s.framer.SetMaxReadFrameSize(16384)
	s.enc = hpack.NewEncoder(&s.headerBuf)
	s.dec = hpack.NewDecoder(4096, s.onHeaderField)
	return s
}

// VerifyALPN enforces spec.md §4.2's "on success, the ALPN/NPN result
// must be h2 ... otherwise the session is dropped" and the adjoining
// "TLS ≥ 1.2 enforced" rule, given the already-completed handshake
// state from the net/tls connection.
func VerifyALPN(cs tls.ConnectionState) error {
	if cs.Version < tls.VersionTLS12 {
		return errors.Errorf("session: TLS version %x below minimum", cs.Version)
	}
	if !acceptedALPN[cs.NegotiatedProtocol] {
		return errors.Errorf("session: ALPN negotiated %q, want h2", cs.NegotiatedProtocol)
	}
	return nil
}

// Serve runs the connection preface + settings exchange, starts the
// reader goroutine, then drives the session until a fatal error or
// GOAWAY completion. It returns when the connection is done or once
// Close has been called; the caller (the worker) is responsible for
// calling Close.
func (s *Session) Serve() error {
	if err := s.readPreface(); err != nil {
		return err
	}

	// Started before the synchronous settings write below so that, on a
	// real socket, the client's own preface+SETTINGS can be read
	// concurrently with our write instead of waiting in lockstep.
	go s.readLoop()

	if err := s.framer.WriteSettings(
		http2.Setting{ID: http2.SettingMaxConcurrentStreams, Val: maxConcurrent},
		http2.Setting{ID: http2.SettingInitialWindowSize, Val: s.initialWindowSize},
	); err != nil {
		return errors.Wrap(err, "session: writing initial settings")
	}
	s.state = StateConnected
	s.startSettingsTimer()

	for {
		select {
		case <-s.closed:
			return nil
		case in := <-s.inbound:
			if in.settingsTimeoutFired {
				if !s.settingsAcked {
					if s.cb.OnSettingsTimeout != nil {
						s.cb.OnSettingsTimeout(s)
					}
					return errSettingsTimeout
				}
				continue
			}
			if in.timeoutStreamID != 0 {
				if err := s.resetStream(in.timeoutStreamID, http2.ErrCodeInternal); err != nil {
					return err
				}
				continue
			}
			if in.flushStreamID != 0 {
				if st, ok := s.streams[in.flushStreamID]; ok {
					if err := s.FlushBody(st); err != nil {
						return err
					}
				}
				continue
			}
			if in.err != nil {
				return s.handleReadError(in.err)
			}
			err := s.dispatch(in.frame)
			select {
			case s.ack <- struct{}{}:
			case <-s.closed:
				return nil
			}
			if err != nil {
				return s.handleFrameError(err)
			}
			if s.sentGoAway && len(s.streams) == 0 {
				return nil
			}
		}
	}
}

// errSettingsTimeout is returned by Serve when the client never acks the
// initial SETTINGS frame within settingsAckWindow, per spec.md §4.2's
// "expiry terminates the session with SETTINGS_TIMEOUT" — a session-fatal
// error distinct from a per-stream timeout.
var errSettingsTimeout = errors.New("session: SETTINGS_TIMEOUT")

func (s *Session) handleReadError(err error) error {
	if errors.Is(err, errClientClosed) {
		return nil
	}
	return err
}

func (s *Session) handleFrameError(err error) error {
	if se, ok := err.(streamError); ok {
		return s.resetStream(se.id, se.code)
	}
	return s.goAway(errCodeOf(err))
}

var errClientClosed = errors.New("session: client closed connection")

// readLoop is the dumb frame pump: it never touches Session/Stream
// state directly, only hands frames to the serve loop and waits for an
// ack before reading the next one — the Go channel equivalent of
// baranov1ch-http2's frameAndProcessed handshake.
func (s *Session) readLoop() {
	for {
		f, err := s.framer.ReadFrame()
		select {
		case s.inbound <- inboundFrame{frame: f, err: err}:
		case <-s.closed:
			return
		}
		if err != nil {
			return
		}
		select {
		case <-s.ack:
		case <-s.closed:
			return
		}
	}
}

var clientPreface = []byte(http2.ClientPreface)

func (s *Session) readPreface() error {
	buf := make([]byte, len(clientPreface))
	if _, err := readFull(s.conn, buf); err != nil {
		return errors.Wrap(err, "session: reading client preface")
	}
	if !bytes.Equal(buf, clientPreface) {
		return errors.New("session: bad client preface")
	}
	return nil
}

func readFull(conn net.Conn, buf []byte) (int, error) {
	n := 0
	for n < len(buf) {
		m, err := conn.Read(buf[n:])
		n += m
		if err != nil {
			return n, err
		}
	}
	return n, nil
}

func (s *Session) startSettingsTimer() {
	s.settingsTimer = time.AfterFunc(settingsAckWindow, func() {
		s.signalEvent(inboundFrame{settingsTimeoutFired: true})
	})
}

// signalEvent hands a synthetic event (timer fire, cross-session wake)
// goroutine to Serve's dispatch loop, guarding against sending after the
// session has already closed (Serve no longer reading s.inbound).
func (s *Session) signalEvent(ev inboundFrame) {
	select {
	case s.inbound <- ev:
	case <-s.closed:
	}
}

func (s *Session) ackSettingsTimer() {
	if s.settingsTimer != nil {
		s.settingsTimer.Stop()
		s.settingsTimer = nil
	}
	s.settingsAcked = true
}

// nextStreamSerial hands out the monotone, worker-unique serial of
// spec.md §3 used to detect post-cancellation deliveries.
func (s *Session) nextStreamSerial() uint64 {
	s.nextSerial++
	return s.nextSerial
}

// WakeStream asks this session's own goroutine to flush a stream's
// DataStream again, per spec.md §4.9's EventStream "onReady" wakeup:
// "the next submit resumes the codec for that stream." Safe to call from
// any goroutine — in particular, from a different session's goroutine
// publishing into this session's EventStream subscriber.
func (s *Session) WakeStream(id uint32) {
	s.signalEvent(inboundFrame{flushStreamID: id})
}

// IsStreamAlive reports whether a stream with the given serial is still
// registered — the liveness check spec.md §4.5 and §4.8 require before
// delivering a suspended task's result.
func (s *Session) IsStreamAlive(serial uint64) bool {
	_, ok := s.bySerial[serial]
	return ok
}

func (s *Session) registerStream(st *stream.Stream) {
	s.streams[st.ID] = st
	s.bySerial[st.Serial] = st
}

func (s *Session) closeStream(st *stream.Stream) {
	if st.Closed() {
		return
	}
	st.Destroy()
	delete(s.streams, st.ID)
	delete(s.bySerial, st.Serial)
	if s.cb.OnStreamClosed != nil {
		s.cb.OnStreamClosed(st)
	}
}

// Close tears the session down per spec.md §4.2's failure semantics:
// every stream's timers stop, the TLS connection is closed, and no
// further writes are attempted.
func (s *Session) Close() {
	if s.state == StateClosing {
		return
	}
	s.state = StateClosing
	close(s.closed)
	if s.settingsTimer != nil {
		s.settingsTimer.Stop()
	}
	for _, st := range s.streams {
		s.closeStream(st)
	}
	s.conn.Close()
}

func (s *Session) goAway(code http2.ErrCode) error {
	s.sentGoAway = true
	return s.framer.WriteGoAway(s.maxStreamID, code, nil)
}

func (s *Session) resetStream(id uint32, code http2.ErrCode) error {
	if err := s.framer.WriteRSTStream(id, code); err != nil {
		return err
	}
	if st, ok := s.streams[id]; ok {
		s.closeStream(st)
	}
	return nil
}

type streamError struct {
	id   uint32
	code http2.ErrCode
}

func (e streamError) Error() string {
	return fmt.Sprintf("session: stream %d error %v", e.id, e.code)
}

func errCodeOf(err error) http2.ErrCode {
	if se, ok := err.(streamError); ok {
		return se.code
	}
	return http2.ErrCodeInternal
}
