package app

import (
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/hpack"

	"github.com/risenfromashes/harmony-http/internal/db"
	"github.com/risenfromashes/harmony-http/internal/events"
	"github.com/risenfromashes/harmony-http/internal/router"
	"github.com/risenfromashes/harmony-http/internal/session"
	"github.com/risenfromashes/harmony-http/internal/static"
	"github.com/risenfromashes/harmony-http/internal/stream"
)

// fakeHost satisfies app.Host with an in-memory static cache and no
// database session, enough to drive PrepareResponse end to end.
type fakeHost struct {
	cache *static.Cache
}

func (h *fakeHost) CachedDate() string { return "Wed, 21 Oct 2026 07:28:00 GMT" }
func (h *fakeHost) StaticFile(relpath string, acceptBrotli bool) (*static.FileEntry, bool) {
	if h.cache == nil {
		return nil, false
	}
	return h.cache.Lookup(relpath, acceptBrotli)
}
func (h *fakeHost) DB() *db.Session                               { return nil }
func (h *fakeHost) Publish(ev events.Event)                       {}
func (h *fakeHost) Subscribe(channel string, sub events.Subscriber) {}
func (h *fakeHost) Unsubscribe(sub events.Subscriber)              {}
func (h *fakeHost) NewUUID() uuid.UUID                             { return uuid.New() }
func (h *fakeHost) JSON() jsoniter.API                             { return jsoniter.ConfigCompatibleWithStandardLibrary }

// newTestSession builds a real *session.Session over a net.Pipe so
// WriteResponseHeaders/FlushBody have somewhere to write, draining the
// client side in the background and returning the decoded frames.
func newTestSession(t *testing.T) (*session.Session, <-chan http2.Frame) {
	t.Helper()
	serverConn, clientConn := net.Pipe()
	t.Cleanup(func() { serverConn.Close(); clientConn.Close() })

	sess := session.New(1, serverConn, session.Callbacks{}, nil)

	frames := make(chan http2.Frame, 16)
	go func() {
		clientFramer := http2.NewFramer(clientConn, clientConn)
		for {
			f, err := clientFramer.ReadFrame()
			if err != nil {
				close(frames)
				return
			}
			frames <- f
		}
	}()
	return sess, frames
}

func newTestStream(id uint32, method, path string) *stream.Stream {
	st := &stream.Stream{}
	st.Reset(id, uint64(id))
	st.Request.Method = method
	st.Request.Path = path
	return st
}

func recvHeaders(t *testing.T, frames <-chan http2.Frame) *http2.HeadersFrame {
	t.Helper()
	select {
	case f := <-frames:
		hf, ok := f.(*http2.HeadersFrame)
		require.True(t, ok, "expected HeadersFrame, got %T", f)
		return hf
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for HEADERS frame")
		return nil
	}
}

func decodeStatus(t *testing.T, hf *http2.HeadersFrame) string {
	t.Helper()
	var status string
	dec := hpack.NewDecoder(4096, func(f hpack.HeaderField) {
		if f.Name == ":status" {
			status = f.Value
		}
	})
	_, err := dec.Write(hf.HeaderBlockFragment())
	require.NoError(t, err)
	return status
}

func TestPrepareResponseDispatchesBlockingHandler(t *testing.T) {
	a := New()
	a.GET("/hello", func(ctx *Context) {
		ctx.SendHTML("200", []byte("hi"))
	})

	sess, frames := newTestSession(t)
	st := newTestStream(1, "GET", "/hello")
	host := &fakeHost{}

	a.PrepareResponse(sess, st, host)

	hf := recvHeaders(t, frames)
	assert.Equal(t, "200", decodeStatus(t, hf))
}

func TestPrepareResponseMatchesRouteParams(t *testing.T) {
	a := New()
	var gotID, gotTo, gotText string
	a.Handle(router.POST, "/api/{id:int}/messages/{to:int}/{text}", func(ctx *Context) {
		gotID, _ = ctx.Param("id")
		gotTo, _ = ctx.Param("to")
		gotText, _ = ctx.Param("text")
		ctx.SendHTML("200", nil)
	})

	sess, frames := newTestSession(t)
	st := newTestStream(1, "POST", "/api/7/messages/9/hello")
	a.PrepareResponse(sess, st, &fakeHost{})
	recvHeaders(t, frames)

	assert.Equal(t, "7", gotID)
	assert.Equal(t, "9", gotTo)
	assert.Equal(t, "hello", gotText)
}

func TestPrepareResponseFallsBackToStaticFile(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "index.html"), []byte("<html></html>"), 0o644))
	cache, err := static.New(root, nil)
	require.NoError(t, err)
	t.Cleanup(func() { cache.Close() })

	a := New()
	sess, frames := newTestSession(t)
	st := newTestStream(1, "GET", "/index.html")
	a.PrepareResponse(sess, st, &fakeHost{cache: cache})

	hf := recvHeaders(t, frames)
	assert.Equal(t, "200", decodeStatus(t, hf))
}

func TestPrepareResponseSends404OnStaticMiss(t *testing.T) {
	a := New()
	sess, frames := newTestSession(t)
	st := newTestStream(1, "GET", "/missing.html")
	a.PrepareResponse(sess, st, &fakeHost{})

	hf := recvHeaders(t, frames)
	assert.Equal(t, "404", decodeStatus(t, hf))
}

func TestPrepareResponseSends400ForUnmatchedNonGET(t *testing.T) {
	a := New()
	sess, frames := newTestSession(t)
	st := newTestStream(1, "DELETE", "/nope")
	a.PrepareResponse(sess, st, &fakeHost{})

	hf := recvHeaders(t, frames)
	assert.Equal(t, "400", decodeStatus(t, hf))
}

func TestParsePathQueryDecodesPercentEncoding(t *testing.T) {
	st := newTestStream(1, "GET", "/a%20b?x=1")
	parsePathQuery(st)
	assert.Equal(t, "/a b", st.Path)
	assert.Equal(t, "x=1", st.Query)
}
