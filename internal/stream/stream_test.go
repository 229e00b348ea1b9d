package stream

import "testing"

func TestWholeBodyResumesOnceWithConcatenation(t *testing.T) {
	var s Stream
	s.Reset(1, 1)

	awaiter := s.AwaitBody()
	var got []byte
	calls := 0
	awaiter.OnResume(func(v []byte, err error) {
		calls++
		got = v
	})

	s.DeliverChunk([]byte("hel"), false)
	s.DeliverChunk([]byte("lo "), false)
	s.DeliverChunk([]byte("world"), true)

	if calls != 1 {
		t.Fatalf("awaiter resumed %d times, want 1", calls)
	}
	if string(got) != "hello world" {
		t.Fatalf("got %q, want %q", got, "hello world")
	}
}

func TestChunkModeDeliversBufferedPrefixThenUnbuffered(t *testing.T) {
	var s Stream
	s.Reset(1, 1)

	// Data arrives before a mode is chosen.
	s.DeliverChunk([]byte("prefix"), false)

	first := s.AwaitChunk()
	if !first.Done() {
		t.Fatal("expected buffered prefix to resolve AwaitChunk immediately")
	}
	v, _ := first.Value()
	if string(v.Data) != "prefix" || v.EOF {
		t.Fatalf("first chunk = %+v", v)
	}

	second := s.AwaitChunk()
	var gotSecond BodyChunk
	second.OnResume(func(v BodyChunk, err error) { gotSecond = v })
	s.DeliverChunk([]byte("more"), false)
	if string(gotSecond.Data) != "more" {
		t.Fatalf("second chunk = %+v", gotSecond)
	}

	third := s.AwaitChunk()
	var gotThird BodyChunk
	third.OnResume(func(v BodyChunk, err error) { gotThird = v })
	s.DeliverChunk(nil, true)
	if !gotThird.EOF || gotThird.Data != nil {
		t.Fatalf("expected EOF sentinel, got %+v", gotThird)
	}
}

func TestDestroyCancelsOutstandingAwaiters(t *testing.T) {
	var s Stream
	s.Reset(1, 1)

	awaiter := s.AwaitBody()
	s.Destroy()
	if !awaiter.Canceled() {
		t.Fatal("expected outstanding whole-body awaiter canceled on Destroy")
	}

	calls := 0
	awaiter.OnResume(func([]byte, error) { calls++ })
	s.DeliverChunk([]byte("late"), true)
	if calls != 0 {
		t.Fatalf("canceled awaiter resumed %d times, want 0", calls)
	}
}
