// Package db implements the per-worker pipelined database session of
// spec.md §4.8, grounded on original_source/src/dbsession.{h,cc}: a
// single backend connection per worker, a queued/dispatched command
// pipeline with `is_sync_point` fencing, a prepared-statement cache
// loaded from `{query_dir}/{statement}.sql`, and NOTIFY-to-Event
// bridging.
//
// The original drives PQconsumeInput/PQflush from libev read/write
// watchers on the worker's own event loop. Go's github.com/jackc/pgx/v5
// driver exposes pipelining as a synchronous, blocking API instead of a
// non-blocking poll loop, so the crossing from the worker's
// single-threaded reactor to the database's I/O happens on a dedicated
// per-session goroutine — the same shape as the worker's own
// accept-path crossing (a lock-free inbox plus a wakeup), just applied
// to database results instead of accepted sockets (see DESIGN.md).
package db

import (
	"context"
	"os"
	"path/filepath"
	"sync"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/risenfromashes/harmony-http/internal/task"
)

// State mirrors spec.md §4.8's CONNECTING → READY → CLOSING states.
type State uint8

const (
	StateConnecting State = iota
	StateReady
	StateClosing
)

// batchSize is the write-side batching factor of dbsession.cc's write():
// "send queries in batches of 20".
const batchSize = 20

type dispatchedKind uint8

const (
	dispatchedPrepare dispatchedKind = iota
	dispatchedExec
	dispatchedSync
)

type dispatchedEntry struct {
	kind         dispatchedKind
	streamSerial uint64
	result       *task.Task[Result]
}

type completion struct {
	t   *task.Task[Result]
	res Result
}

// Notification is one LISTEN/NOTIFY delivery, buffered until the
// worker's next Drain so it never reaches worker-owned state (the
// EventDispatcher) from the pump goroutine directly.
type Notification struct {
	Channel string
	Payload []byte
}

// notificationBacklog bounds how many deliveries can sit unread between
// worker ticks before the pump goroutine starts dropping them.
const notificationBacklog = 256

// Session owns one backend connection for the lifetime of a worker. All
// public Send-style methods are safe to call from the worker goroutine;
// internally they hand the command to a dedicated pump goroutine that
// owns the pgconn.PgConn exclusively.
type Session struct {
	log      *logrus.Entry
	queryDir string

	conn *pgconn.PgConn

	state State

	isStreamAlive func(serial uint64) bool
	onFatal       func(error)

	submit        chan *Query
	completions   chan completion
	notifications chan Notification
	closeCh       chan struct{}
	closeOnce     sync.Once

	sqlCache map[string]string
	prepared map[string]bool
}

// Connect dials connString, enables pipeline mode, and starts the
// session's pump goroutine. isStreamAlive lets the read path drop
// results for streams the worker has already destroyed, per spec.md
// §4.8 ("only if stream_serial is still live; otherwise the result is
// discarded"). onFatal is invoked once, from the pump goroutine, if the
// session hits an unrecoverable error — the worker is expected to
// recreate the Session, mirroring "on fatal error the whole session is
// torn down and recreated by the worker."
func Connect(ctx context.Context, connString, queryDir string, isStreamAlive func(uint64) bool, onFatal func(error), log *logrus.Entry) (*Session, error) {
	s := &Session{
		log:           log,
		queryDir:      queryDir,
		state:         StateConnecting,
		isStreamAlive: isStreamAlive,
		onFatal:       onFatal,
		submit:        make(chan *Query, batchSize*4),
		completions:   make(chan completion, batchSize*4),
		notifications: make(chan Notification, notificationBacklog),
		closeCh:       make(chan struct{}),
		sqlCache:      map[string]string{},
		prepared:      map[string]bool{},
	}

	cfg, err := pgconn.ParseConfig(connString)
	if err != nil {
		return nil, errors.Wrap(err, "db: parsing connection string")
	}
	cfg.OnNotification = func(_ *pgconn.PgConn, n *pgconn.Notification) {
		s.bufferNotification(n)
	}

	conn, err := pgconn.ConnectConfig(ctx, cfg)
	if err != nil {
		return nil, errors.Wrap(err, "db: connecting")
	}
	s.conn = conn
	s.state = StateReady

	go s.pump()
	return s, nil
}

// bufferNotification runs on the pump goroutine (pgconn's message
// reader invokes OnNotification inline while consuming backend
// traffic), so it only ever touches the notifications channel — never
// worker-owned state directly. A full channel means the worker isn't
// draining fast enough; the notification is dropped and logged rather
// than blocking the pump and stalling query pipelining.
func (s *Session) bufferNotification(n *pgconn.Notification) {
	select {
	case s.notifications <- Notification{Channel: n.Channel, Payload: []byte(n.Payload)}:
	default:
		if s.log != nil {
			s.log.WithField("channel", n.Channel).Warn("db: notification backlog full, dropping")
		}
	}
}

// DrainNotifications returns every LISTEN/NOTIFY delivery buffered
// since the last call, for the worker to wrap as Events and publish —
// spec.md §4.8's "after each read cycle, drain backend notifications".
// Meant to be called from the same per-tick place as Drain.
func (s *Session) DrainNotifications() []Notification {
	var out []Notification
	for {
		select {
		case n := <-s.notifications:
			out = append(out, n)
		default:
			return out
		}
	}
}

// Connected reports whether the session has completed its handshake.
func (s *Session) Connected() bool { return s.state == StateReady }

// Query submits a plain, unparameterised command, always a pipeline
// sync point — matching dbsession.cc's send_query.
func (s *Session) Query(streamSerial uint64, command string) *task.Task[Result] {
	t := task.Pending[Result]()
	s.enqueue(&Query{streamSerial: streamSerial, isSyncPoint: true, result: t, kind: argQuery, command: command})
	return t
}

// QueryParams submits a parameterised command, text-format in and out,
// matching dbsession.cc's send_query_params.
func (s *Session) QueryParams(streamSerial uint64, command string, params []string) *task.Task[Result] {
	t := task.Pending[Result]()
	s.enqueue(&Query{streamSerial: streamSerial, isSyncPoint: true, result: t, kind: argQueryParams, command: command, params: params})
	return t
}

// QueryPrepared submits a prepared-statement execution, preparing the
// statement first (from `{query_dir}/{statement}.sql`) if the pump has
// not seen this statement name before — spec.md §4.8's "query_prepared
// coroutine first ensures the statement exists... then dispatches the
// execution."
func (s *Session) QueryPrepared(streamSerial uint64, statement string, params []string) *task.Task[Result] {
	t := task.Pending[Result]()
	s.enqueue(&Query{streamSerial: streamSerial, isSyncPoint: true, result: t, kind: argQueryPrepared, statement: statement, params: params})
	return t
}

func (s *Session) enqueue(q *Query) {
	select {
	case s.submit <- q:
	case <-s.closeCh:
		q.result.Resume(ErrorResult(errors.New("db: session closed")), nil)
	}
}

// Drain delivers every completion the pump goroutine has posted since
// the last call, resolving each query's Task on the caller's own
// goroutine — meant to be called once per worker event-loop tick, the
// Go analogue of the worker waking on its inbound-fd eventfd.
func (s *Session) Drain() {
	for {
		select {
		case c := <-s.completions:
			c.t.Resume(c.res, nil)
		default:
			return
		}
	}
}

// Close tears the session down: stops the pump goroutine and closes the
// backend connection.
func (s *Session) Close() error {
	s.closeOnce.Do(func() { close(s.closeCh) })
	return s.conn.Close(context.Background())
}

func (s *Session) pump() {
	ctx := context.Background()
	for {
		var batch []*Query
		select {
		case q := <-s.submit:
			batch = append(batch, q)
		case <-s.closeCh:
			return
		}
	drain:
		for len(batch) < batchSize {
			select {
			case q := <-s.submit:
				batch = append(batch, q)
			default:
				break drain
			}
		}

		if err := s.sendAndRead(ctx, batch); err != nil {
			s.fail(err)
			return
		}
	}
}

func (s *Session) fail(err error) {
	s.state = StateClosing
	if s.log != nil {
		s.log.WithError(err).Error("db: session failed, needs restart")
	}
	if s.onFatal != nil {
		s.onFatal(err)
	}
}

// sendAndRead flushes one write batch, matching dbsession.cc's write()
// ("send queries in batches of 20"), then drains every result the
// backend produced for it, matching dbsession.cc's read() loop over
// PQgetResult.
func (s *Session) sendAndRead(ctx context.Context, batch []*Query) error {
	pipeline := s.conn.StartPipeline(ctx)

	var dispatched []dispatchedEntry
	for _, q := range batch {
		switch q.kind {
		case argQuery:
			pipeline.SendQueryParams(q.command, nil, nil, nil, nil)
		case argQueryParams:
			pipeline.SendQueryParams(q.command, paramBytes(q.params), nil, nil, nil)
		case argQueryPrepared:
			if !s.prepared[q.statement] {
				sql, err := s.loadQuery(q.statement)
				if err != nil {
					q.result.Resume(ErrorResult(err), nil)
					continue
				}
				pipeline.SendPrepare(q.statement, sql, nil)
				s.prepared[q.statement] = true
				dispatched = append(dispatched, dispatchedEntry{kind: dispatchedPrepare})
			}
			pipeline.SendQueryPrepared(q.statement, paramBytes(q.params), nil, nil)
		}
		dispatched = append(dispatched, dispatchedEntry{kind: dispatchedExec, streamSerial: q.streamSerial, result: q.result})
		if q.isSyncPoint {
			if err := pipeline.Sync(); err != nil {
				pipeline.Close()
				return errors.Wrap(err, "db: pipeline sync failed")
			}
			dispatched = append(dispatched, dispatchedEntry{kind: dispatchedSync})
		}
	}
	if err := pipeline.Sync(); err != nil {
		pipeline.Close()
		return errors.Wrap(err, "db: pipeline sync failed")
	}
	dispatched = append(dispatched, dispatchedEntry{kind: dispatchedSync})

	for len(dispatched) > 0 {
		results, err := pipeline.GetResults()
		if err != nil {
			pipeline.Close()
			return errors.Wrap(err, "db: reading pipeline results")
		}
		if results == nil {
			break
		}
		d := dispatched[0]
		dispatched = dispatched[1:]

		switch r := results.(type) {
		case *pgconn.StatementDescription:
			// matches dispatchedPrepare: nothing to deliver.
		case *pgconn.PipelineSync:
			// matches dispatchedSync: nothing to deliver.
		case *pgconn.ResultReader:
			res := r.Read()
			if d.result == nil {
				continue
			}
			if s.isStreamAlive == nil || s.isStreamAlive(d.streamSerial) {
				s.completions <- completion{t: d.result, res: NewResult(res)}
			} else {
				d.result.Cancel()
			}
		}
	}
	return pipeline.Close()
}

func paramBytes(params []string) [][]byte {
	if len(params) == 0 {
		return nil
	}
	out := make([][]byte, len(params))
	for i, p := range params {
		out[i] = []byte(p)
	}
	return out
}

func (s *Session) loadQuery(statement string) (string, error) {
	if sql, ok := s.sqlCache[statement]; ok {
		return sql, nil
	}
	path := filepath.Join(s.queryDir, statement+".sql")
	b, err := os.ReadFile(path)
	if err != nil {
		return "", errors.Wrapf(err, "db: loading prepared statement %q", statement)
	}
	sql := string(b)
	s.sqlCache[statement] = sql
	return sql, nil
}
