package static

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("writing fixture %s: %v", path, err)
	}
}

func TestLookupPrefersBrotliWhenAccepted(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "index.html"), "plain")
	writeFile(t, filepath.Join(root, "index.html.br"), "brotli")

	c, err := New(root, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer c.Close()

	e, ok := c.Lookup("/index.html", true)
	if !ok {
		t.Fatal("expected lookup to succeed")
	}
	if e.ContentEncoding != "br" {
		t.Fatalf("ContentEncoding = %q, want br", e.ContentEncoding)
	}

	buf := make([]byte, len("brotli"))
	if _, err := e.ReadAt(buf, 0); err != nil {
		t.Fatalf("ReadAt: %v", err)
	}
	if string(buf) != "brotli" {
		t.Fatalf("content = %q, want brotli", buf)
	}
}

func TestLookupFallsBackToPlainWhenBrotliNotAccepted(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "index.html"), "plain")
	writeFile(t, filepath.Join(root, "index.html.br"), "brotli")

	c, err := New(root, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer c.Close()

	e, ok := c.Lookup("/index.html", false)
	if !ok {
		t.Fatal("expected lookup to succeed")
	}
	if e.ContentEncoding != "" {
		t.Fatalf("ContentEncoding = %q, want plain", e.ContentEncoding)
	}
}

func TestLookupRootMapsToIndexHTML(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "index.html"), "home")

	c, err := New(root, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer c.Close()

	e, ok := c.Lookup("/", true)
	if !ok {
		t.Fatal("expected / to resolve to index.html")
	}
	if e.RelPath != "/index.html" {
		t.Fatalf("RelPath = %q, want /index.html", e.RelPath)
	}
}

func TestLookupMissingFileFails(t *testing.T) {
	root := t.TempDir()
	c, err := New(root, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer c.Close()

	if _, ok := c.Lookup("/nope.txt", true); ok {
		t.Fatal("expected lookup of missing file to fail")
	}
}

func TestLookupIsCachedAfterFirstOpen(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "a.txt"), "one")

	c, err := New(root, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer c.Close()

	first, ok := c.Lookup("/a.txt", false)
	if !ok {
		t.Fatal("expected first lookup to succeed")
	}
	second, ok := c.Lookup("/a.txt", false)
	if !ok {
		t.Fatal("expected second lookup to succeed")
	}
	if first != second {
		t.Fatal("expected cached entry to be reused, not reopened")
	}
}

func TestMimeForPathStripsCompressionSuffix(t *testing.T) {
	plain := mimeForPath("/app.js")
	if mimeForPath("/app.js.br") != plain {
		t.Errorf("mimeForPath(.js.br) = %q, want same as plain %q", mimeForPath("/app.js.br"), plain)
	}
	if mimeForPath("/app.js.gz") != plain {
		t.Errorf("mimeForPath(.js.gz) = %q, want same as plain %q", mimeForPath("/app.js.gz"), plain)
	}
	if mimeForPath("/data.bin") != "application/octet-stream" {
		t.Errorf("mimeForPath(unknown ext) = %q, want application/octet-stream", mimeForPath("/data.bin"))
	}
}

func TestWatcherMarksRemovedFileAsRemoved(t *testing.T) {
	root := t.TempDir()
	target := filepath.Join(root, "gone.txt")
	writeFile(t, target, "bye")

	c, err := New(root, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer c.Close()

	e, ok := c.Lookup("/gone.txt", false)
	if !ok {
		t.Fatal("expected lookup to succeed before removal")
	}

	if err := os.Remove(target); err != nil {
		t.Fatalf("removing fixture: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for !e.Removed() && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if !e.Removed() {
		t.Fatal("expected watcher to mark entry removed")
	}

	// A fresh lookup must not resolve the removed variant.
	if _, ok := c.Lookup("/gone.txt", false); ok {
		t.Fatal("expected lookup to treat removed entry as absent")
	}
}
