package db

import (
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pkg/errors"
)

func TestNewResultClassifiesEmptyCommand(t *testing.T) {
	r := NewResult(&pgconn.Result{CommandTag: pgconn.NewCommandTag("UPDATE 3")})
	if r.Kind != KindEmpty {
		t.Fatalf("Kind = %v, want KindEmpty", r.Kind)
	}
	if r.CommandTag() != "UPDATE 3" {
		t.Fatalf("CommandTag = %q", r.CommandTag())
	}
}

func TestNewResultClassifiesSingleAndManyRows(t *testing.T) {
	fields := []pgconn.FieldDescription{{Name: "id"}, {Name: "name"}}

	single := NewResult(&pgconn.Result{
		FieldDescriptions: fields,
		Rows:              [][][]byte{{[]byte("1"), []byte("alice")}},
	})
	if single.Kind != KindSingleRow {
		t.Fatalf("Kind = %v, want KindSingleRow", single.Kind)
	}

	many := NewResult(&pgconn.Result{
		FieldDescriptions: fields,
		Rows: [][][]byte{
			{[]byte("1"), []byte("alice")},
			{[]byte("2"), []byte("bob")},
		},
	})
	if many.Kind != KindManyRows {
		t.Fatalf("Kind = %v, want KindManyRows", many.Kind)
	}
	if many.NumRows() != 2 || many.NumFields() != 2 {
		t.Fatalf("NumRows/NumFields = %d/%d", many.NumRows(), many.NumFields())
	}
}

func TestNewResultClassifiesError(t *testing.T) {
	r := NewResult(&pgconn.Result{Err: errors.New("syntax error")})
	if r.Kind != KindError {
		t.Fatalf("Kind = %v, want KindError", r.Kind)
	}
	if r.ErrorMessage() != "syntax error" {
		t.Fatalf("ErrorMessage = %q", r.ErrorMessage())
	}
}

func TestFieldByNameLooksUpColumnByName(t *testing.T) {
	fields := []pgconn.FieldDescription{{Name: "id"}, {Name: "name"}}
	r := NewResult(&pgconn.Result{
		FieldDescriptions: fields,
		Rows:              [][][]byte{{[]byte("7"), []byte("carol")}},
	})

	v, ok := r.FieldByName(0, "name")
	if !ok || string(v) != "carol" {
		t.Fatalf("FieldByName(name) = %q, %v", v, ok)
	}
	if _, ok := r.FieldByName(0, "missing"); ok {
		t.Fatal("expected missing column to report not found")
	}
}

func TestRow0RequiresRowBearingKind(t *testing.T) {
	empty := NewResult(&pgconn.Result{CommandTag: pgconn.NewCommandTag("DELETE 1")})
	if _, err := empty.Row0("id"); err == nil {
		t.Fatal("expected Row0 on an empty result to error")
	}

	single := NewResult(&pgconn.Result{
		FieldDescriptions: []pgconn.FieldDescription{{Name: "id"}},
		Rows:              [][][]byte{{[]byte("9")}},
	})
	v, err := single.Row0("id")
	if err != nil || string(v) != "9" {
		t.Fatalf("Row0 = %q, %v", v, err)
	}
}
