package app

import (
	"path"

	"github.com/risenfromashes/harmony-http/internal/session"
	"github.com/risenfromashes/harmony-http/internal/stream"
)

// serveStatic attempts spec.md §4.3 step 3: "if unmatched and method is
// GET, attempt to serve as static file." SendFile itself sends a 404 on
// a cache miss, so a response is started either way; the return value
// reports whether a file was served (true) or the 404 was sent (false).
// The path is cleaned as a rooted path first, so ".." segments cannot
// climb above the static root.
func serveStatic(sess *session.Session, st *stream.Stream, host Host) bool {
	ctx := &Context{Sess: sess, Stream: st, Host: host}
	return ctx.SendFile(path.Clean("/" + st.Path))
}
