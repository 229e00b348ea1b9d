// Package events implements the per-worker publish/subscribe registry
// and the EventStream DataStream variant of spec.md §4.9, grounded on
// other_examples/ccebe986_vsavkov-kilroy__internal-server-sse.go.go's
// broadcaster/subscriber-channel shape — adapted here from a
// mutex-guarded multi-threaded broadcaster to the single-threaded,
// nullable-slot registry the spec calls for (the dispatcher has no lock
// of its own; its owning worker serializes calls under Worker.mu).
package events

// PayloadKind tags which of the four payload ownership variants an Event
// carries, per spec.md §3 and original_source/src/dbnotify.cc's
// distinction between owned and borrowed/shared notification text
// (SPEC_FULL.md §5).
type PayloadKind uint8

const (
	PayloadOwned PayloadKind = iota
	PayloadBorrowed
	PayloadDBText
	PayloadDBNotify
)

// Payload is a small tagged union over an Event's body bytes, letting a
// Postgres NOTIFY payload ride through to SSE subscribers without an
// extra copy when its lifetime allows it.
type Payload struct {
	Kind PayloadKind
	data []byte
}

// OwnedPayload copies b into a fresh, independently-owned Payload.
func OwnedPayload(b []byte) Payload {
	return Payload{Kind: PayloadOwned, data: append([]byte(nil), b...)}
}

// BorrowedPayload wraps b without copying; caller guarantees b outlives
// every subscriber's use of the resulting Event. Publish returning is
// not enough: an EventStream queues the Event in Submit and reads its
// bytes later, when it serializes them, so b must stay unchanged
// until then.
func BorrowedPayload(b []byte) Payload {
	return Payload{Kind: PayloadBorrowed, data: b}
}

// DBTextPayload wraps a TUPLES_OK text field's bytes, shared with the
// database session's own result buffer.
func DBTextPayload(b []byte) Payload {
	return Payload{Kind: PayloadDBText, data: b}
}

// DBNotifyPayload wraps a LISTEN/NOTIFY payload straight from the driver.
func DBNotifyPayload(b []byte) Payload {
	return Payload{Kind: PayloadDBNotify, data: b}
}

// Bytes returns the payload's bytes, regardless of ownership kind.
func (p Payload) Bytes() []byte { return p.data }

// Event is {channel, name, payload}; name is the channel prefix up to
// the first '/', per spec.md §3.
type Event struct {
	Channel string
	Name    string
	Payload Payload
}

// NewEvent builds an Event, deriving Name from channel's prefix up to
// '/' (or the whole channel if it has none).
func NewEvent(channel string, payload Payload) Event {
	name := channel
	for i := 0; i < len(channel); i++ {
		if channel[i] == '/' {
			name = channel[:i]
			break
		}
	}
	return Event{Channel: channel, Name: name, Payload: payload}
}
