// Package task implements the suspendable handler runtime of spec.md
// §4.5: a single-threaded, cooperative Task[T] that starts eagerly,
// suspends by capturing a continuation, and resumes only from the
// worker's own goroutine — never via an extra scheduler goroutine, since
// "there is no multi-thread scheduler; resumption happens within the
// worker thread, usually from an I/O or timer callback."
//
// Grounded on original_source/src/awaitabletask.h's contract (eager
// start, single consumer, destructor cancels) expressed as an explicit
// continuation-passing struct rather than native async/await, which Go
// does not have.
package task

// Task is an in-flight suspendable computation that will eventually
// produce a T (or never, if canceled first). Callers that already have
// a value construct one with Resolved/Failed; callers about to suspend
// construct one with Pending and register a continuation with OnResume
// for whichever producer (DB pump, body awaiter, event dispatcher) will
// eventually call Resume.
type Task[T any] struct {
	done     bool
	canceled bool
	value    T
	err      error
	onDone   func(T, error)
}

// Pending returns an unresolved task with no registered continuation
// yet; the caller must call OnResume before returning control to the
// event loop, matching "a suspension captures the current continuation."
func Pending[T any]() *Task[T] {
	return &Task[T]{}
}

// Resolved returns an already-complete task, for the common case where a
// blocking handler never actually needed to suspend.
func Resolved[T any](v T) *Task[T] {
	return &Task[T]{done: true, value: v}
}

// Failed returns an already-failed task.
func Failed[T any](err error) *Task[T] {
	return &Task[T]{done: true, err: err}
}

// OnResume registers the continuation this task resumes into once
// Resume is called. At most one continuation is ever registered or
// invoked per task (single consumer).
func (t *Task[T]) OnResume(cont func(T, error)) {
	if t.done || t.canceled {
		return
	}
	t.onDone = cont
}

// Resume delivers a value (or error) to a suspended task's continuation.
// It is a no-op if the task already completed or was canceled — the
// mechanism spec.md §4.5 uses to silently drop post-cancellation
// deliveries once the caller has separately checked stream liveness.
func (t *Task[T]) Resume(v T, err error) {
	if t.done || t.canceled {
		return
	}
	t.done = true
	t.value = v
	t.err = err
	if t.onDone != nil {
		cont := t.onDone
		t.onDone = nil
		cont(v, err)
	}
}

// Cancel marks the task canceled: any continuation registered via
// OnResume is dropped and never invoked, and any later Resume is a
// no-op. This is called when the task's owning Stream is destroyed,
// matching "the handler task is destroyed with the Stream; any
// continuation held outside is orphaned and never resumed."
func (t *Task[T]) Cancel() {
	if t.done {
		return
	}
	t.canceled = true
	t.onDone = nil
}

// Done reports whether the task has resolved, failed, or been canceled.
func (t *Task[T]) Done() bool { return t.done || t.canceled }

// Canceled reports whether Cancel was called before the task completed.
func (t *Task[T]) Canceled() bool { return t.canceled }

// Value returns the task's resolved value and error. Valid only once
// Done reports true and Canceled reports false.
func (t *Task[T]) Value() (T, error) { return t.value, t.err }
