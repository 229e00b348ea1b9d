package db

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/risenfromashes/harmony-http/internal/task"
)

type testTask struct {
	task *task.Task[Result]
}

func newTestTask() testTask {
	return testTask{task: task.Pending[Result]()}
}

func TestParamBytesConvertsAndHandlesEmpty(t *testing.T) {
	if got := paramBytes(nil); got != nil {
		t.Fatalf("paramBytes(nil) = %v, want nil", got)
	}
	got := paramBytes([]string{"a", "b"})
	if len(got) != 2 || string(got[0]) != "a" || string(got[1]) != "b" {
		t.Fatalf("paramBytes = %v", got)
	}
}

func TestLoadQueryReadsAndCachesFile(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "get_user.sql"), []byte("SELECT * FROM users WHERE id = $1"), 0o644); err != nil {
		t.Fatalf("writing fixture: %v", err)
	}

	s := &Session{queryDir: dir, sqlCache: map[string]string{}}

	sql, err := s.loadQuery("get_user")
	if err != nil {
		t.Fatalf("loadQuery: %v", err)
	}
	if sql != "SELECT * FROM users WHERE id = $1" {
		t.Fatalf("sql = %q", sql)
	}
	if _, ok := s.sqlCache["get_user"]; !ok {
		t.Fatal("expected loadQuery to populate sqlCache")
	}

	// Remove the file; the cached copy must still be served.
	if err := os.Remove(filepath.Join(dir, "get_user.sql")); err != nil {
		t.Fatalf("removing fixture: %v", err)
	}
	if _, err := s.loadQuery("get_user"); err != nil {
		t.Fatalf("loadQuery from cache: %v", err)
	}
}

func TestLoadQueryMissingFileErrors(t *testing.T) {
	s := &Session{queryDir: t.TempDir(), sqlCache: map[string]string{}}
	if _, err := s.loadQuery("nonexistent"); err == nil {
		t.Fatal("expected error for missing statement file")
	}
}

func TestEnqueueAfterCloseResolvesWithError(t *testing.T) {
	s := &Session{closeCh: make(chan struct{})}
	close(s.closeCh)

	t0 := newTestTask()
	s.enqueue(&Query{result: t0.task})

	if !t0.task.Done() {
		t.Fatal("expected task to resolve immediately once session is closed")
	}
	v, _ := t0.task.Value()
	if v.Kind != KindError {
		t.Fatalf("Kind = %v, want KindError", v.Kind)
	}
}

func TestDrainDeliversQueuedCompletions(t *testing.T) {
	s := &Session{completions: make(chan completion, 4)}
	t0 := newTestTask()
	res := Result{Kind: KindEmpty}
	s.completions <- completion{t: t0.task, res: res}

	s.Drain()

	if !t0.task.Done() {
		t.Fatal("expected Drain to resolve the queued completion")
	}
	v, _ := t0.task.Value()
	if v.Kind != KindEmpty {
		t.Fatalf("Kind = %v, want KindEmpty", v.Kind)
	}
}
