// Package static implements the per-worker StaticFileCache of spec.md
// §4.7: a relpath → []FileEntry map that prefers a pre-compressed
// variant when requested and available, opens+registers files on first
// lookup (speculatively probing for a ".br" sibling), and watches each
// entry for modification/removal via fsnotify — the same file-watch
// concern docker-compose solves with tilt-dev/fsnotify for compose-file
// reload (DESIGN.md).
//
// Grounded structurally on badu-http/filetransport's root-relative path
// cleaning (file_handler.go) for the {static_root}/{relpath} join.
package static

import (
	"io"
	"mime"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Metadata is a FileEntry's asynchronously-updated (mtime, length) cell.
// dirty is set by the watch callback and cleared by the next reader that
// swaps in the fresh values, per spec.md §4.7.
type Metadata struct {
	ModTime time.Time
	Length  int64
	dirty   atomic.Bool
}

// FileEntry is an immutable filesystem identity — absolute path and an
// already-opened file descriptor — plus a Metadata cell kept current by
// a background watch. Spec.md §9's resolution for backend-unlinked files
// applies here: an in-flight response keeps reading the already-open fd
// regardless of what the watcher later observes.
type FileEntry struct {
	AbsPath         string
	ContentEncoding string // "" or "br"
	RelPath         string // index key, with any .br/.gz suffix stripped
	MIME            string

	file *os.File
	meta Metadata

	removed atomic.Bool
}

// ReadAt satisfies stream.FileReaderAt, delegating to the open fd.
func (e *FileEntry) ReadAt(p []byte, off int64) (int, error) {
	return e.file.ReadAt(p, off)
}

// Stat returns the entry's current metadata, refreshing it from the
// filesystem if the watcher marked it dirty.
func (e *FileEntry) Stat() Metadata {
	if e.meta.dirty.Load() {
		if fi, err := e.file.Stat(); err == nil {
			e.meta.ModTime = fi.ModTime()
			e.meta.Length = fi.Size()
		}
		e.meta.dirty.Store(false)
	}
	return e.meta
}

// Removed reports whether the watcher observed this entry's file being
// unlinked. Cache lookups treat a removed entry as absent; in-flight
// FileStreams already holding the fd are unaffected (spec.md §9).
func (e *FileEntry) Removed() bool { return e.removed.Load() }

func (e *FileEntry) Close() error { return e.file.Close() }

// Cache is the per-worker static file cache: relpath → list of variants
// (plain and .br; .gz/.gzip siblings on disk are neither probed nor
// served), populated lazily and kept warm by a shared fsnotify
// watcher. entries is read and written from whichever goroutine calls
// Lookup as well as from the Cache's own watch goroutine, so mu guards
// it; FileEntry's own fields stay lock-free (atomic.Bool, or immutable).
type Cache struct {
	root    string
	watcher *fsnotify.Watcher
	log     *logrus.Entry

	mu      sync.Mutex
	entries map[string][]*FileEntry
}

// New creates a Cache rooted at root. The returned Cache owns the
// fsnotify watcher and must be closed with Close when the worker shuts
// down.
func New(root string, log *logrus.Entry) (*Cache, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.Wrap(err, "static: creating file watcher")
	}
	c := &Cache{root: root, watcher: w, entries: map[string][]*FileEntry{}, log: log}
	go c.watchLoop()
	return c, nil
}

// Close stops the watcher and releases every cached file descriptor.
func (c *Cache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, variants := range c.entries {
		for _, e := range variants {
			e.Close()
		}
	}
	return c.watcher.Close()
}

// Lookup resolves relpath (already percent-decoded and path.Clean'd by
// the caller), preferring the Brotli variant when acceptBrotli is true
// and present, per spec.md §4.7's three-step resolution.
func (c *Cache) Lookup(relpath string, acceptBrotli bool) (*FileEntry, bool) {
	if relpath == "/" {
		relpath = "/index.html"
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if variants, ok := c.entries[relpath]; ok {
		e := pickVariant(variants, acceptBrotli)
		return e, e != nil
	}
	return c.openAndRegister(relpath, acceptBrotli)
}

func pickVariant(variants []*FileEntry, acceptBrotli bool) *FileEntry {
	var plain *FileEntry
	for _, e := range variants {
		if e.Removed() {
			continue
		}
		if e.ContentEncoding == "br" {
			if acceptBrotli {
				return e
			}
			continue
		}
		if e.ContentEncoding == "" {
			plain = e
		}
	}
	return plain
}

// openAndRegister assumes c.mu is already held by the caller.
func (c *Cache) openAndRegister(relpath string, acceptBrotli bool) (*FileEntry, bool) {
	plain, plainOK := c.open(relpath, "")
	if plainOK {
		c.entries[relpath] = append(c.entries[relpath], plain)
	}
	br, brOK := c.open(relpath, "br")
	if brOK {
		c.entries[relpath] = append(c.entries[relpath], br)
	}
	if !plainOK && !brOK {
		return nil, false
	}
	e := pickVariant(c.entries[relpath], acceptBrotli)
	return e, e != nil
}

func (c *Cache) open(relpath, encoding string) (*FileEntry, bool) {
	diskPath := filepath.Join(c.root, filepath.FromSlash(relpath))
	if encoding != "" {
		diskPath += "." + encoding
	}
	f, err := os.Open(diskPath)
	if err != nil {
		return nil, false
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, false
	}
	e := &FileEntry{
		AbsPath:         diskPath,
		ContentEncoding: encoding,
		RelPath:         relpath,
		MIME:            mimeForPath(relpath),
		file:            f,
	}
	e.meta.ModTime = fi.ModTime()
	e.meta.Length = fi.Size()
	if err := c.watcher.Add(diskPath); err != nil && c.log != nil {
		c.log.WithError(err).WithField("path", diskPath).Warn("static: failed to watch file")
	}
	return e, true
}

// mimeForPath peels a trailing .br/.gz/.gzip suffix before resolving the
// MIME type by extension, per spec.md §4.7.
func mimeForPath(relpath string) string {
	base := relpath
	for _, suffix := range []string{".br", ".gz", ".gzip"} {
		if strings.HasSuffix(base, suffix) {
			base = strings.TrimSuffix(base, suffix)
			break
		}
	}
	ext := path.Ext(base)
	if t := mime.TypeByExtension(ext); t != "" {
		return t
	}
	return "application/octet-stream"
}

func (c *Cache) watchLoop() {
	for {
		select {
		case ev, ok := <-c.watcher.Events:
			if !ok {
				return
			}
			c.handleEvent(ev)
		case err, ok := <-c.watcher.Errors:
			if !ok {
				return
			}
			if c.log != nil {
				c.log.WithError(err).Warn("static: watcher error")
			}
		}
	}
}

func (c *Cache) handleEvent(ev fsnotify.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, variants := range c.entries {
		for _, e := range variants {
			if e.AbsPath != ev.Name {
				continue
			}
			switch {
			case ev.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
				e.removed.Store(true)
			case ev.Op&fsnotify.Write != 0:
				e.meta.dirty.Store(true)
			case ev.Op&fsnotify.Chmod != 0:
				// While the cache holds the file open, inotify reports an
				// unlink as a link-count change (Chmod), not a Remove.
				if _, err := os.Stat(e.AbsPath); os.IsNotExist(err) {
					e.removed.Store(true)
				}
			}
		}
	}
}

var _ io.ReaderAt = (*FileEntry)(nil)
