package worker

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/risenfromashes/harmony-http/internal/app"
	"github.com/risenfromashes/harmony-http/internal/events"
	"github.com/risenfromashes/harmony-http/internal/stream"
)

func newTestWorker(t *testing.T) *Worker {
	t.Helper()
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "index.html"), []byte("<html></html>"), 0o644))

	w, err := New(0, Config{StaticRoot: root}, app.New(), logrus.NewEntry(logrus.New()))
	require.NoError(t, err)
	t.Cleanup(func() { w.staticCache.Close() })
	return w
}

func TestWorkerSatisfiesHost(t *testing.T) {
	var _ app.Host = (*Worker)(nil)
}

func TestWorkerCachedDateIsPopulatedAtConstruction(t *testing.T) {
	w := newTestWorker(t)
	assert.NotEmpty(t, w.CachedDate())
}

func TestWorkerNewUUIDReturnsDistinctValues(t *testing.T) {
	w := newTestWorker(t)
	a, b := w.NewUUID(), w.NewUUID()
	assert.NotEqual(t, a, b)
}

func TestWorkerStaticFileServesFromCache(t *testing.T) {
	w := newTestWorker(t)
	entry, ok := w.StaticFile("/index.html", false)
	require.True(t, ok)
	assert.Equal(t, "text/html; charset=utf-8", entry.MIME)
}

func TestWorkerStreamLivenessRegistry(t *testing.T) {
	w := newTestWorker(t)
	st := &stream.Stream{}
	st.Reset(1, 42)

	assert.False(t, w.IsStreamAlive(42), "stream should not be live before creation callback fires")
	w.onStreamCreated(st)
	assert.True(t, w.IsStreamAlive(42))
	w.onStreamClosed(st)
	assert.False(t, w.IsStreamAlive(42), "stream should be gone after close callback fires")
}

func TestWorkerPublishSubscribeUnsubscribe(t *testing.T) {
	defer goleak.VerifyNone(t)

	w := newTestWorker(t)
	defer w.staticCache.Close() // runs before goleak.VerifyNone; t.Cleanup would run after it
	var received []string
	sub := recordingSubscriber{out: &received}

	w.Subscribe("room", sub)
	w.Publish(events.NewEvent("room", events.OwnedPayload([]byte("hi"))))
	w.Unsubscribe(sub)
	w.Publish(events.NewEvent("room", events.OwnedPayload([]byte("bye"))))

	assert.Equal(t, []string{"hi"}, received)
}

func TestWorkerOnStreamClosedUnsubscribesEventStream(t *testing.T) {
	w := newTestWorker(t)
	es := events.NewEventStream(nil)
	es.Remaining() // empty queue: the stream pauses until a Submit arrives
	w.Subscribe("chat", es)

	st := &stream.Stream{}
	st.Reset(3, 7)
	st.Data = es

	w.onStreamClosed(st)
	w.Publish(events.NewEvent("chat", events.OwnedPayload([]byte("after-close"))))
	assert.True(t, es.Paused(), "unsubscribed EventStream should never receive a post-close publish")
}

type recordingSubscriber struct {
	out *[]string
}

func (r recordingSubscriber) Submit(ev events.Event) {
	*r.out = append(*r.out, string(ev.Payload.Bytes()))
}
