package buffer

// memBlockStackSize is the size of the inline scratch array a MemBlock
// tries to satisfy allocations from before falling back to the heap.
const memBlockStackSize = 512

// MemBlock is a scratch arena bound to one request. Small allocations
// (percent-decoded paths, short header copies) are carved out of an
// inline array; anything that doesn't fit falls back to a heap
// allocation owned by the block. The whole thing is dropped when the
// owning Stream completes — there is no per-allocation free.
type MemBlock struct {
	stack [memBlockStackSize]byte
	used  int
	heap  [][]byte
}

// Alloc returns a zeroed slice of length n, carved from the inline stack
// array when it still fits, otherwise a fresh heap slice tracked by the
// block for the caller's convenience (e.g. to know liveness extends to
// the block's own).
func (m *MemBlock) Alloc(n int) []byte {
	if m.used+n <= len(m.stack) {
		b := m.stack[m.used : m.used+n : m.used+n]
		clear(b) // the inline array is reused after Reset
		m.used += n
		return b
	}
	b := make([]byte, n)
	m.heap = append(m.heap, b)
	return b
}

// CopyString allocates space for s and copies it in, returning a string
// header over that storage.
func (m *MemBlock) CopyString(s string) string {
	b := m.Alloc(len(s))
	copy(b, s)
	return string(b)
}

// Reset releases heap fallbacks and rewinds the inline cursor so the
// block can be reused for the next request on the same stream slot.
func (m *MemBlock) Reset() {
	m.used = 0
	m.heap = m.heap[:0]
}
