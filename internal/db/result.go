package db

import (
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pkg/errors"
)

// Kind is one of the four completion-value variants spec.md §4.8
// requires from a prepared-query coroutine: `{Error, Empty, SingleRow,
// ManyRows}` with row-indexed field access, carried over from
// dbresult.cc's Status enum (EMPTY/MANY/SINGLE/ERROR).
type Kind uint8

const (
	KindEmpty Kind = iota
	KindSingleRow
	KindManyRows
	KindError
)

// Result is the value a Query's completion sink receives: a snapshot of
// one PGRES_* result, with typed, row-indexed field access mirrored
// from dbresult.cc's Row/Iterator pair.
type Result struct {
	Kind    Kind
	Err     error
	cmdTag  string
	fields  []pgconn.FieldDescription
	rows    [][][]byte
}

// NewResult classifies a driver result per spec.md §4.8's read-path
// switch (COMMAND_OK → Empty, TUPLES_OK/SINGLE_TUPLE → rows, anything
// PGRES_FATAL_ERROR-shaped → Error).
func NewResult(r *pgconn.Result) Result {
	if r.Err != nil {
		return Result{Kind: KindError, Err: r.Err}
	}
	if len(r.Rows) == 0 {
		return Result{Kind: KindEmpty, cmdTag: r.CommandTag.String()}
	}
	kind := KindManyRows
	if len(r.Rows) == 1 {
		kind = KindSingleRow
	}
	return Result{Kind: kind, cmdTag: r.CommandTag.String(), fields: r.FieldDescriptions, rows: r.Rows}
}

// ErrorResult wraps a fatal backend error (PQresultErrorMessage in the
// original) as a KindError Result.
func ErrorResult(err error) Result { return Result{Kind: KindError, Err: err} }

// CommandTag reports the backend's command completion tag ("INSERT 0
// 1", "SELECT 3", ...), valid for KindEmpty and row-bearing results.
func (r Result) CommandTag() string { return r.cmdTag }

// NumRows reports how many rows the result carries.
func (r Result) NumRows() int { return len(r.rows) }

// NumFields reports the column count.
func (r Result) NumFields() int { return len(r.fields) }

// FieldName returns the name of the column at index i, mirroring
// dbresult.cc's Result::name_at.
func (r Result) FieldName(i int) string {
	return string(r.fields[i].Name)
}

// Field returns row-indexed column i as raw text-format bytes, mirroring
// dbresult.cc's Result::value_at. Panics if row or i are out of range,
// matching the original's asserts.
func (r Result) Field(row, i int) []byte {
	return r.rows[row][i]
}

// FieldByName returns row-indexed column `name`, mirroring
// dbresult.cc's Result::get(row, name). ok is false if no such column
// exists.
func (r Result) FieldByName(row int, name string) (val []byte, ok bool) {
	for i, f := range r.fields {
		if string(f.Name) == name {
			return r.rows[row][i], true
		}
	}
	return nil, false
}

// ErrorMessage returns the backend's error text, valid only for
// Kind == KindError, mirroring dbresult.cc's Result::error_message.
func (r Result) ErrorMessage() string {
	if r.Err == nil {
		return ""
	}
	return r.Err.Error()
}

var errNotSingleRow = errors.New("db: result is not a single row")

// Row0 is a convenience accessor for the common SingleRow case, used by
// handlers that ran a `SELECT ... LIMIT 1`.
func (r Result) Row0(name string) ([]byte, error) {
	if r.Kind != KindSingleRow && r.Kind != KindManyRows {
		return nil, errNotSingleRow
	}
	v, ok := r.FieldByName(0, name)
	if !ok {
		return nil, errors.Errorf("db: no such field %q", name)
	}
	return v, nil
}
