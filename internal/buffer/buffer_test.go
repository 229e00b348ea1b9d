package buffer

import "testing"

func TestWriteTruncatesToWriteLeft(t *testing.T) {
	b := New(4)
	n := b.Write([]byte("hello world"))
	if n != 4 {
		t.Fatalf("Write returned %d, want 4", n)
	}
	if b.WriteLeft() != 0 {
		t.Fatalf("WriteLeft() = %d, want 0", b.WriteLeft())
	}
}

func TestDrainTruncatesToReadLeft(t *testing.T) {
	b := New(8)
	b.Write([]byte("abc"))
	n := b.Drain(10)
	if n != 3 {
		t.Fatalf("Drain returned %d, want 3", n)
	}
	if !b.Empty() {
		t.Fatalf("expected buffer empty after draining all unread bytes")
	}
}

func TestDrainResetPreservesUnread(t *testing.T) {
	b := New(8)
	b.Write([]byte("abcdef"))
	b.Drain(2)
	b.DrainReset()
	if got := string(b.Unread()); got != "cdef" {
		t.Fatalf("Unread() = %q, want %q", got, "cdef")
	}
	if b.WriteLeft() != 4 {
		t.Fatalf("WriteLeft() = %d, want 4", b.WriteLeft())
	}
}

func TestResetRewindsBothCursors(t *testing.T) {
	b := New(8)
	b.Write([]byte("abcdef"))
	b.Drain(2)
	b.Reset()
	if b.ReadLeft() != 0 || b.WriteLeft() != 8 {
		t.Fatalf("Reset() did not rewind cursors: readLeft=%d writeLeft=%d", b.ReadLeft(), b.WriteLeft())
	}
}
