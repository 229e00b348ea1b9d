package app

import (
	"strings"
	"time"

	"github.com/risenfromashes/harmony-http/internal/db"
	"github.com/risenfromashes/harmony-http/internal/events"
	"github.com/risenfromashes/harmony-http/internal/httputil"
	"github.com/risenfromashes/harmony-http/internal/router"
	"github.com/risenfromashes/harmony-http/internal/session"
	"github.com/risenfromashes/harmony-http/internal/stream"
	"github.com/risenfromashes/harmony-http/internal/task"
)

// Context is the per-request handler surface: the matched Stream, its
// owning Session, and the injected Host for everything else a handler
// might need (spec.md §9's dependency-injection note).
type Context struct {
	Sess   *session.Session
	Stream *stream.Stream
	Host   Host
}

// Param looks up a matched route parameter by name.
func (c *Context) Param(name string) (string, bool) {
	return router.Lookup(c.Stream.Params, name)
}

// ParamInt looks up and parses a matched {name:int} parameter.
func (c *Context) ParamInt(name string) (int64, bool) {
	return router.ParamInt(c.Stream.Params, name)
}

// Header returns a request header by name.
func (c *Context) Header(name string) (string, bool) {
	return c.Stream.Request.Get(name)
}

// AwaitBody registers the whole-body awaiter of spec.md §4.6.
func (c *Context) AwaitBody() *task.Task[[]byte] {
	return c.Stream.AwaitBody()
}

// AwaitChunk registers the chunk-mode awaiter of spec.md §4.6.
func (c *Context) AwaitChunk() *task.Task[stream.BodyChunk] {
	return c.Stream.AwaitChunk()
}

// AwaitJSON awaits the whole body, then decodes it with the host's JSON
// codec, chaining onto a fresh Task so the handler suspends exactly once
// more past the body having already been fully buffered.
func (c *Context) AwaitJSON(out any) *task.Task[struct{}] {
	whole := c.AwaitBody()
	result := task.Pending[struct{}]()
	whole.OnResume(func(body []byte, err error) {
		if err != nil {
			result.Resume(struct{}{}, err)
			return
		}
		result.Resume(struct{}{}, c.Host.JSON().Unmarshal(body, out))
	})
	return result
}

// Query awaits a plain, unparameterised DB query for the handler's
// stream, guarded by its stream serial per spec.md §4.5's cancellation
// contract.
func (c *Context) Query(command string) *task.Task[db.Result] {
	return c.Host.DB().Query(c.Stream.Serial, command)
}

// QueryParams awaits a parameterised DB query.
func (c *Context) QueryParams(command string, params []string) *task.Task[db.Result] {
	return c.Host.DB().QueryParams(c.Stream.Serial, command, params)
}

// QueryPrepared awaits a prepared-statement execution, loading the SQL
// from `{query_dir}/{statement}.sql` on first use.
func (c *Context) QueryPrepared(statement string, params []string) *task.Task[db.Result] {
	return c.Host.DB().QueryPrepared(c.Stream.Serial, statement, params)
}

// Publish publishes an event on channel to every live EventStream
// subscriber, per spec.md §4.9.
func (c *Context) Publish(channel string, payload events.Payload) {
	c.Host.Publish(events.NewEvent(channel, payload))
}

// ---- response builders (spec.md §4.3) ----

// Send installs body as a StringStream response with contentType set by
// the caller.
func (c *Context) Send(status, contentType string, body []byte) {
	c.Stream.Response.SetStatus(status)
	c.Stream.Response.SetHeader("content-type", contentType)
	installStringBody(c.Sess, c.Stream, c.Host, body)
}

// SendHTML sends body as text/html; charset=utf-8.
func (c *Context) SendHTML(status string, body []byte) {
	c.Send(status, "text/html; charset=utf-8", body)
}

// SendJSON marshals v with the host's JSON codec and sends it as
// application/json.
func (c *Context) SendJSON(status string, v any) error {
	body, err := c.Host.JSON().Marshal(v)
	if err != nil {
		return err
	}
	c.Send(status, "application/json", body)
	return nil
}

// SendFile installs a FileStream over the static cache entry at relpath,
// honouring conditional GET (If-Modified-Since) and the pre-compressed
// Content-Encoding, per spec.md §4.3. It reports false (sending a 404
// itself) if no entry exists under relpath.
func (c *Context) SendFile(relpath string) bool {
	acceptBrotli := strings.Contains(firstOr(c.Stream.Request.Get("accept-encoding")), "br")
	entry, ok := c.Host.StaticFile(relpath, acceptBrotli)
	if !ok {
		sendNotFound(c.Sess, c.Stream, c.Host)
		return false
	}
	meta := entry.Stat()

	// RequestHeaders keeps if-modified-since in its own slot, and HTTP
	// dates carry whole seconds only.
	if v := c.Stream.Request.IfModSince; v != "" {
		if parsed, ok := httputil.ParseHTTPDate(v); ok && !meta.ModTime.Truncate(time.Second).After(parsed) {
			c.Stream.Response.SetStatus("304")
			c.Stream.Data = nil
			setCommonHeaders(c.Sess, c.Stream, c.Host)
			writeResponse(c.Sess, c.Stream)
			return true
		}
	}

	c.Stream.Response.SetStatus("200")
	c.Stream.Response.SetHeader("content-type", entry.MIME)
	c.Stream.Response.SetHeader("last-modified", httputil.FormatHTTPDate(meta.ModTime))
	if entry.ContentEncoding != "" {
		c.Stream.Response.SetHeader("content-encoding", entry.ContentEncoding)
	}
	ds := stream.NewFileStream(entry, 0, meta.Length)
	c.Stream.Data = ds
	setCommonHeaders(c.Sess, c.Stream, c.Host)
	c.Stream.Response.SetHeaderNC("content-length", itoa(ds.Length()))
	writeResponse(c.Sess, c.Stream)
	return true
}

func firstOr(v string, ok bool) string {
	if ok {
		return v
	}
	return ""
}

// InitEventSource installs an EventStream response (text/event-stream,
// cache-control: no-store), subscribing it to channel. Per spec.md
// §4.3, Content-Length is never set for EventStream bodies.
//
// The onReady callback calls Sess.WakeStream directly rather than going
// through Host: a Publish on another session's handler goroutine must
// resume writes on *this* stream's own owning session goroutine, and
// Session.WakeStream is exactly that cross-goroutine hand-off (see
// internal/session's inboundFrame.flushStreamID).
func (c *Context) InitEventSource(channel string) *events.EventStream {
	st := c.Stream
	sess := c.Sess
	id := st.ID
	es := events.NewEventStream(func() { sess.WakeStream(id) })
	st.Data = es
	st.Response.SetStatus("200")
	st.Response.SetHeader("content-type", "text/event-stream")
	st.Response.SetHeader("cache-control", "no-store")
	setCommonHeaders(c.Sess, st, c.Host)
	c.Sess.WriteResponseHeaders(st, false)
	c.Host.Subscribe(channel, es)
	if channel != "ping" {
		c.Host.Subscribe("ping", es)
	}
	return es
}
