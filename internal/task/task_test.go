package task

import "testing"

func TestResolvedIsImmediatelyDone(t *testing.T) {
	tsk := Resolved(42)
	if !tsk.Done() {
		t.Fatal("expected task done after Resolved")
	}
	v, err := tsk.Value()
	if err != nil || v != 42 {
		t.Fatalf("Value() = %d, %v", v, err)
	}
}

func TestPendingResumeRunsContinuationOnce(t *testing.T) {
	calls := 0
	tsk := Pending[string]()
	tsk.OnResume(func(v string, err error) {
		calls++
	})

	tsk.Resume("hello", nil)
	if calls != 1 {
		t.Fatalf("continuation invoked %d times, want 1", calls)
	}
	tsk.Resume("world", nil) // second resume must be a no-op
	if calls != 1 {
		t.Fatalf("continuation invoked %d times after second Resume, want 1", calls)
	}
}

func TestCancelOrphansContinuation(t *testing.T) {
	calls := 0
	tsk := Pending[int]()
	tsk.OnResume(func(v int, err error) {
		calls++
	})
	tsk.Cancel()
	tsk.Resume(1, nil)
	if calls != 0 {
		t.Fatalf("continuation invoked after Cancel, calls=%d", calls)
	}
	if !tsk.Canceled() {
		t.Fatal("expected Canceled() true")
	}
}
