// Package headers implements the fixed-capacity, order-preserving header
// stores used by a stream's request and response, following the inline
// array + overflow-list shape badu-http/hdr uses for MIME headers but
// sized for HTTP/2 pseudo-headers and the small number of headers a
// typical request/response pair carries.
package headers

import "golang.org/x/net/http2/hpack"

// MaxHeaderBytes is the cumulative header-bytes budget a stream's request
// headers may not exceed; prepare_response rejects the stream past this.
const MaxHeaderBytes = 64 * 1024

// inlineCap is the number of non-pseudo request headers stored without
// allocating an overflow slice.
const inlineCap = 16

// RequestHeaders holds the decoded HEADERS block for one stream.
// Pseudo-headers and the handful of headers the engine inspects directly
// (Expect, If-Modified-Since) get distinguished slots; everything else is
// appended in arrival order to an inline array, spilling to an overflow
// slice past inlineCap.
type RequestHeaders struct {
	Method       string
	Scheme       string
	Authority    string
	Path         string
	Expect       string
	IfModSince   string
	ContentLen   string
	inline       [inlineCap]hpack.HeaderField
	inlineLen    int
	overflow     []hpack.HeaderField
	byteCount    int
	invalid      bool
	sawRegularHd bool
}

// Add records one decoded header field, classifying pseudo-headers into
// their slot and everything else into the inline/overflow store. It
// returns false once the cumulative byte budget is exceeded, signalling
// the caller to reset the stream.
func (r *RequestHeaders) Add(f hpack.HeaderField) bool {
	r.byteCount += len(f.Name) + len(f.Value) + 32 // HPACK per-field overhead, RFC 7541 §4.1
	if r.byteCount > MaxHeaderBytes {
		return false
	}
	if len(f.Name) > 0 && f.Name[0] == ':' {
		r.addPseudo(f)
		return true
	}
	r.sawRegularHd = true
	switch f.Name {
	case "expect":
		r.Expect = f.Value
		return true
	case "if-modified-since":
		r.IfModSince = f.Value
		return true
	case "content-length":
		r.ContentLen = f.Value
		return true
	}
	if r.inlineLen < len(r.inline) {
		r.inline[r.inlineLen] = f
		r.inlineLen++
		return true
	}
	r.overflow = append(r.overflow, f)
	return true
}

func (r *RequestHeaders) addPseudo(f hpack.HeaderField) {
	if r.sawRegularHd {
		r.invalid = true
		return
	}
	switch f.Name {
	case ":method":
		r.Method = f.Value
	case ":scheme":
		r.Scheme = f.Value
	case ":authority":
		r.Authority = f.Value
	case ":path":
		r.Path = f.Value
	default:
		r.invalid = true
	}
}

// Invalid reports whether a malformed or out-of-order pseudo-header was
// seen; prepare_response must not route such a stream.
func (r *RequestHeaders) Invalid() bool { return r.invalid }

// Get performs a single-pass lookup by header name (case already
// lowercased by HPACK decoding) across the inline array then the
// overflow list, in insertion order.
func (r *RequestHeaders) Get(name string) (string, bool) {
	for i := 0; i < r.inlineLen; i++ {
		if r.inline[i].Name == name {
			return r.inline[i].Value, true
		}
	}
	for _, f := range r.overflow {
		if f.Name == name {
			return f.Value, true
		}
	}
	return "", false
}

// Len returns the total number of non-pseudo headers stored.
func (r *RequestHeaders) Len() int { return r.inlineLen + len(r.overflow) }

// ByteCount returns the cumulative header-bytes counter.
func (r *RequestHeaders) ByteCount() int { return r.byteCount }

// Reset clears the store for reuse by a fresh Stream slot.
func (r *RequestHeaders) Reset() {
	*r = RequestHeaders{}
}

// ResponseHeaders accumulates the outgoing header block. Index 0 is
// always reserved for :status; SetHeader copies the value in (the
// store may outlive the caller's buffer), SetHeaderNC borrows it
// (caller must guarantee the value outlives the session write).
type ResponseHeaders struct {
	status hpack.HeaderField
	fields []hpack.HeaderField
}

// SetStatus sets the reserved :status pseudo-header.
func (h *ResponseHeaders) SetStatus(status string) {
	h.status = hpack.HeaderField{Name: ":status", Value: status}
}

// SetHeader appends name/value, copying value into a fresh string so the
// caller's backing storage may be reused or freed immediately after.
func (h *ResponseHeaders) SetHeader(name, value string) {
	cp := string(append([]byte(nil), value...))
	h.fields = append(h.fields, hpack.HeaderField{Name: name, Value: cp})
}

// SetHeaderNC appends name/value without copying; the caller guarantees
// value's lifetime extends at least until the session has written it.
func (h *ResponseHeaders) SetHeaderNC(name, value string) {
	h.fields = append(h.fields, hpack.HeaderField{Name: name, Value: value})
}

// Fields returns :status followed by every other header, in append
// order, ready for HPACK encoding.
func (h *ResponseHeaders) Fields() []hpack.HeaderField {
	out := make([]hpack.HeaderField, 0, len(h.fields)+1)
	out = append(out, h.status)
	out = append(out, h.fields...)
	return out
}

// Reset clears the store for reuse by a fresh Stream slot.
func (h *ResponseHeaders) Reset() {
	h.status = hpack.HeaderField{}
	h.fields = h.fields[:0]
}
