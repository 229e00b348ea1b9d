// Package stream implements the per-HTTP/2-stream lifecycle and
// response pipeline of spec.md §3–§4.3: the Stream type, its
// DataStream-producer contract, and the two concrete variants whose
// bytes are wholly known up front (StringStream, FileStream). The third
// variant, EventStream, lives in internal/events since it is owned by
// the event dispatcher rather than by a Stream alone.
//
// DataStream is kept a closed, three-way sum (spec.md §9's "polymorphic
// DataStream is a three-way tagged variant; no dynamic hierarchy needs
// to escape the Stream") expressed as a small interface plus a Kind tag
// callers can switch on, rather than an open interface hierarchy.
package stream

import (
	"io"

	"github.com/risenfromashes/harmony-http/internal/buffer"
)

// Kind tags which DataStream variant a Stream is currently using.
type Kind uint8

const (
	KindNone Kind = iota
	KindString
	KindFile
	KindEvent
)

// DataStream is the response body producer contract every variant
// implements. Length reports the total bytes the body will produce;
// EventStream has no fixed length and reports -1.
// Remaining reports how many bytes are available to send right now and
// whether the stream contract requires an exact EOF match (true for
// fixed-size bodies, false for open-ended ones like EventStream). Send
// must write exactly n bytes into buf, starting at the stream's current
// offset, and advance that offset by n.
type DataStream interface {
	Kind() Kind
	Length() int64
	Remaining() (available int64, mustEOFMatch bool)
	Send(buf *buffer.Buffer, n int) error
}

// StringStream serves a response body that is already fully in memory —
// used by send, send_html, and send_json.
type StringStream struct {
	body   []byte
	offset int
}

// NewStringStream wraps body for serving. body is not copied; the
// caller must not mutate it afterwards.
func NewStringStream(body []byte) *StringStream {
	return &StringStream{body: body}
}

func (s *StringStream) Kind() Kind     { return KindString }
func (s *StringStream) Length() int64  { return int64(len(s.body)) }
func (s *StringStream) Remaining() (int64, bool) {
	return int64(len(s.body) - s.offset), true
}

func (s *StringStream) Send(buf *buffer.Buffer, n int) error {
	if n > len(s.body)-s.offset {
		return io.ErrShortBuffer
	}
	written := buf.Write(s.body[s.offset : s.offset+n])
	if written != n {
		return io.ErrShortWrite
	}
	s.offset += n
	return nil
}

// FileReaderAt is the minimal surface FileStream needs from an open
// file: positioned reads, so the underlying fd can be shared re-entrantly
// across streams (spec.md §5: "their send path is re-entrant because
// per-stream offset lives in the Stream's FileStream wrapper").
type FileReaderAt interface {
	ReadAt(p []byte, off int64) (int, error)
}

// FileStream serves a byte range of an open file, keeping its own
// offset so the same *os.File can back several concurrent FileStreams.
type FileStream struct {
	file   FileReaderAt
	base   int64 // starting offset within the file (for range requests; 0 for whole-file)
	length int64
	offset int64
}

// NewFileStream wraps file, serving length bytes starting at base.
func NewFileStream(file FileReaderAt, base, length int64) *FileStream {
	return &FileStream{file: file, base: base, length: length}
}

func (f *FileStream) Kind() Kind    { return KindFile }
func (f *FileStream) Length() int64 { return f.length }
func (f *FileStream) Remaining() (int64, bool) {
	return f.length - f.offset, true
}

func (f *FileStream) Send(buf *buffer.Buffer, n int) error {
	if n > int(f.length-f.offset) {
		return io.ErrShortBuffer
	}
	dst := buf.Free()
	if len(dst) < n {
		return io.ErrShortWrite
	}
	read, err := f.file.ReadAt(dst[:n], f.base+f.offset)
	if err != nil && err != io.EOF {
		return err
	}
	if read != n {
		return io.ErrUnexpectedEOF
	}
	buf.Advance(n)
	f.offset += int64(n)
	return nil
}
