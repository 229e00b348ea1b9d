// Package app implements the router-to-handler binding of spec.md §4.3
// and §4.4: the response builders ("set :status, required headers,
// install a DataStream, start writes"), the two handler variants
// (blocking and suspendable), and prepare_response's ordered resolution
// (route match → static file fallback → 400/404 synthesis).
//
// Per spec.md §9's design note — "global server access (static
// instance) should be replaced by explicit dependency injection into
// handlers via the HttpRequest context" — everything a handler needs
// beyond its own Stream (the cached date string, the static cache, the
// DB session, the event dispatcher, a UUID, a JSON codec) arrives
// through the Context's Host, never a package-level singleton.
package app

import (
	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"

	"github.com/risenfromashes/harmony-http/internal/db"
	"github.com/risenfromashes/harmony-http/internal/events"
	"github.com/risenfromashes/harmony-http/internal/router"
	"github.com/risenfromashes/harmony-http/internal/session"
	"github.com/risenfromashes/harmony-http/internal/static"
	"github.com/risenfromashes/harmony-http/internal/stream"
	"github.com/risenfromashes/harmony-http/internal/task"
)

// Host is the worker-owned surface a Context needs, injected rather than
// reached through a global, per spec.md §9. *worker.Worker satisfies
// this without internal/app ever importing internal/worker.
type Host interface {
	CachedDate() string
	StaticFile(relpath string, acceptBrotli bool) (*static.FileEntry, bool)
	DB() *db.Session
	// Publish, Subscribe, and Unsubscribe forward to the worker's
	// EventDispatcher. They are methods here rather than a raw
	// *events.Dispatcher getter because, unlike the spec's single
	// goroutine per worker, this module runs one goroutine per Session
	// (see DESIGN.md) — the dispatcher's nullable-slot map can be
	// reached concurrently from several sessions' handlers and needs the
	// Host implementation to serialize it.
	Publish(ev events.Event)
	Subscribe(channel string, sub events.Subscriber)
	Unsubscribe(sub events.Subscriber)
	NewUUID() uuid.UUID
	JSON() jsoniter.API
}

// BlockingHandler runs to completion before prepare_response returns; it
// must call one of Context's response builders before returning, per
// spec.md §4.3.
type BlockingHandler func(ctx *Context)

// SuspendHandler returns a Task that may still be in flight when
// prepare_response returns; its handler task is stored on the Stream and
// driven eagerly to its first suspension, per spec.md §4.3 and §4.5.
type SuspendHandler func(ctx *Context) *task.Task[struct{}]

type routeEntry struct {
	blocking BlockingHandler
	suspend  SuspendHandler
}

// App binds a router.Router to the handler variants registered against
// it, the piece spec.md §4.4 leaves as "Router: trie-matched (method,
// path) → handler" without naming a concrete handler table.
type App struct {
	router *router.Router
	routes []routeEntry
}

// New returns an empty App.
func New() *App {
	return &App{router: router.New()}
}

// Handle registers a blocking handler for method and pattern.
func (a *App) Handle(method router.Method, pattern string, h BlockingHandler) {
	a.routes = append(a.routes, routeEntry{blocking: h})
	a.router.Register(method, pattern, len(a.routes)-1)
}

// HandleTask registers a suspendable handler for method and pattern.
func (a *App) HandleTask(method router.Method, pattern string, h SuspendHandler) {
	a.routes = append(a.routes, routeEntry{suspend: h})
	a.router.Register(method, pattern, len(a.routes)-1)
}

func (a *App) GET(pattern string, h BlockingHandler)    { a.Handle(router.GET, pattern, h) }
func (a *App) POST(pattern string, h BlockingHandler)   { a.Handle(router.POST, pattern, h) }
func (a *App) PUT(pattern string, h BlockingHandler)    { a.Handle(router.PUT, pattern, h) }
func (a *App) PATCH(pattern string, h BlockingHandler)  { a.Handle(router.PATCH, pattern, h) }
func (a *App) DELETE(pattern string, h BlockingHandler) { a.Handle(router.DELETE, pattern, h) }

func (a *App) GETTask(pattern string, h SuspendHandler)  { a.HandleTask(router.GET, pattern, h) }
func (a *App) POSTTask(pattern string, h SuspendHandler) { a.HandleTask(router.POST, pattern, h) }

// methodOf maps an HPACK-decoded :method value to the router.Method bit,
// returning ok=false for methods the router never registers routes
// under (prepare_response treats those the same as "unmatched").
func methodOf(m string) (router.Method, bool) {
	switch m {
	case "GET":
		return router.GET, true
	case "POST":
		return router.POST, true
	case "PUT":
		return router.PUT, true
	case "PATCH":
		return router.PATCH, true
	case "DELETE":
		return router.DELETE, true
	case "HEAD":
		return router.HEAD, true
	case "OPTIONS":
		return router.OPTIONS, true
	}
	return 0, false
}

// PrepareResponse is prepare_response of spec.md §4.3: parse path/query,
// route, dispatch to whichever handler variant matched, falling back to
// a static file for unmatched GETs and finally synthesising 400/404.
func (a *App) PrepareResponse(sess *session.Session, st *stream.Stream, host Host) {
	parsePathQuery(st)

	method, known := methodOf(st.Request.Method)
	if known {
		if idx, params, err := a.router.Match(method, st.Path); err == nil {
			st.Params = append(st.Params[:0], params...)
			a.dispatch(sess, st, host, a.routes[idx])
			return
		} else if err == router.ErrMethodNotAllowed {
			sendBadRequest(sess, st, host)
			return
		}
	}

	if st.Request.Method == "GET" {
		// serveStatic (via Context.SendFile) sends a 404 itself on a
		// cache miss, so there is nothing further to do either way.
		serveStatic(sess, st, host)
		return
	}

	sendBadRequest(sess, st, host)
}

func (a *App) dispatch(sess *session.Session, st *stream.Stream, host Host, r routeEntry) {
	ctx := &Context{Sess: sess, Stream: st, Host: host}
	switch {
	case r.blocking != nil:
		r.blocking(ctx)
	case r.suspend != nil:
		t := r.suspend(ctx)
		if !t.Done() {
			st.SetHandlerTask(t)
		}
	}
}

// parsePathQuery splits :path into Path/Query and percent-decodes Path
// into the stream's MemBlock only if it contains a '%', per spec.md
// §4.3 step 1.
func parsePathQuery(st *stream.Stream) {
	raw := st.Request.Path
	path, query := raw, ""
	if i := indexByte(raw, '?'); i >= 0 {
		path, query = raw[:i], raw[i+1:]
	}
	st.Query = query
	if hasPercent(path) {
		dst := st.Mem.Alloc(len(path))
		st.Path = string(decodePercent(dst, path))
		return
	}
	st.Path = path
}

func indexByte(s string, c byte) int {
	for i := 0; i < len(s); i++ {
		if s[i] == c {
			return i
		}
	}
	return -1
}

func hasPercent(s string) bool { return indexByte(s, '%') >= 0 }

// decodePercent is httputil.PercentDecode inlined to avoid a dependency
// edge app doesn't otherwise need; kept byte-for-byte identical to
// internal/httputil's algorithm (tested there).
func decodePercent(dst []byte, s string) []byte {
	dst = dst[:0]
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c == '%' && i+2 < len(s) && isHex(s[i+1]) && isHex(s[i+2]) {
			dst = append(dst, unhex(s[i+1])<<4|unhex(s[i+2]))
			i += 2
			continue
		}
		dst = append(dst, c)
	}
	return dst
}

func isHex(c byte) bool {
	return (c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')
}

func unhex(c byte) byte {
	switch {
	case c >= '0' && c <= '9':
		return c - '0'
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10
	}
	return 0
}

func setCommonHeaders(sess *session.Session, st *stream.Stream, host Host) {
	st.Response.SetHeaderNC("date", host.CachedDate())
}

func sendNotFound(sess *session.Session, st *stream.Stream, host Host) {
	body := []byte("<html><body><h1>404 Not Found</h1></body></html>")
	st.Response.SetStatus("404")
	finishHTML(sess, st, host, body)
}

func sendBadRequest(sess *session.Session, st *stream.Stream, host Host) {
	body := []byte("<html><body><h1>400 Bad Request</h1></body></html>")
	st.Response.SetStatus("400")
	finishHTML(sess, st, host, body)
}

func finishHTML(sess *session.Session, st *stream.Stream, host Host, body []byte) {
	st.Response.SetHeader("content-type", "text/html; charset=utf-8")
	installStringBody(sess, st, host, body)
}

func installStringBody(sess *session.Session, st *stream.Stream, host Host, body []byte) {
	ds := stream.NewStringStream(body)
	st.Data = ds
	setCommonHeaders(sess, st, host)
	st.Response.SetHeaderNC("content-length", itoa(ds.Length()))
	writeResponse(sess, st)
}

func writeResponse(sess *session.Session, st *stream.Stream) {
	endStream := st.Data == nil
	if !endStream {
		if avail, mustMatch := st.Data.Remaining(); mustMatch && avail == 0 {
			endStream = true
		}
	}
	sess.WriteResponseHeaders(st, endStream)
	if !endStream {
		sess.FlushBody(st)
	}
}

func itoa(n int64) string {
	if n == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	neg := n < 0
	if neg {
		n = -n
	}
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}
