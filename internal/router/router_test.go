package router

import "testing"

func TestMatchIntParam(t *testing.T) {
	r := New()
	r.Register(GET, "/api/{id:int}/messages", 1)

	idx, params, err := r.Match(GET, "/api/42/messages")
	if err != nil {
		t.Fatalf("Match failed: %v", err)
	}
	if idx != 1 {
		t.Fatalf("idx = %d, want 1", idx)
	}
	v, ok := Lookup(params, "id")
	if !ok || v != "42" {
		t.Fatalf("id param = %q, %v", v, ok)
	}
}

func TestMatchRejectsNonDigitIntParam(t *testing.T) {
	r := New()
	r.Register(GET, "/api/{id:int}/messages", 1)
	if _, _, err := r.Match(GET, "/api/42x/messages"); err != ErrNotFound {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestMatchRejectsExtraSegment(t *testing.T) {
	r := New()
	r.Register(GET, "/api/{id:int}/messages", 1)
	if _, _, err := r.Match(GET, "/api/42/messages/extra"); err != ErrNotFound {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestMatchMultipleParams(t *testing.T) {
	r := New()
	r.Register(POST, "/api/{id:int}/messages/{to:int}/{text}", 7)

	idx, params, err := r.Match(POST, "/api/7/messages/9/hello")
	if err != nil {
		t.Fatalf("Match failed: %v", err)
	}
	if idx != 7 {
		t.Fatalf("idx = %d, want 7", idx)
	}
	id, _ := Lookup(params, "id")
	to, _ := Lookup(params, "to")
	text, _ := Lookup(params, "text")
	if id != "7" || to != "9" || text != "hello" {
		t.Fatalf("params = id=%q to=%q text=%q", id, to, text)
	}
}

func TestMatchMethodMismatch(t *testing.T) {
	r := New()
	r.Register(GET, "/x", 1)
	if _, _, err := r.Match(POST, "/x"); err != ErrMethodNotAllowed {
		t.Fatalf("err = %v, want ErrMethodNotAllowed", err)
	}
}

func TestMatchWildcardAndRoot(t *testing.T) {
	r := New()
	r.Register(GET, "/", 1)
	r.Register(GET, "/any/*", 2)

	if idx, _, err := r.Match(GET, "/"); err != nil || idx != 1 {
		t.Fatalf("root match failed: idx=%d err=%v", idx, err)
	}
	if idx, _, err := r.Match(GET, "/any/thing"); err != nil || idx != 2 {
		t.Fatalf("wildcard match failed: idx=%d err=%v", idx, err)
	}
}

func TestMatchFloatParam(t *testing.T) {
	r := New()
	r.Register(GET, "/price/{amount:float}", 1)
	if _, _, err := r.Match(GET, "/price/3.14"); err != nil {
		t.Fatalf("Match failed: %v", err)
	}
	if _, _, err := r.Match(GET, "/price/3.1.4"); err != ErrNotFound {
		t.Fatalf("err = %v, want ErrNotFound for malformed float", err)
	}
}
