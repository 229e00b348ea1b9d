package db

import "github.com/risenfromashes/harmony-http/internal/task"

// argKind tags which of the three PGconn send calls a Query dispatches
// to: plain, parameterised, or prepared-statement execute.
type argKind uint8

const (
	argQuery argKind = iota
	argQueryParams
	argQueryPrepared
)

// Query is one command waiting to be flushed to the backend: a
// {stream_serial, is_sync_point, completion sink} record plus whichever
// argument variant the command needs.
type Query struct {
	streamSerial uint64
	isSyncPoint  bool
	result       *task.Task[Result]

	kind      argKind
	command   string // SQL text for argQuery/argQueryParams
	statement string // prepared-statement name for argQueryPrepared
	params    []string
}
