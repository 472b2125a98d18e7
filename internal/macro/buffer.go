package macro

// DefaultBufferSize is the smallest output capacity used when
// Options.BufferSize is not set.
const DefaultBufferSize = 64 * 1024

// inputFactor sizes the default capacity from the input: an unset
// BufferSize allows max(DefaultBufferSize, inputFactor*len(text)).
const inputFactor = 4

// capacityFor returns the capacity of the buffer for expanding text.
// A positive size is used as is.
func capacityFor(size int, text string) int {
	if size > 0 {
		return size
	}
	return max(DefaultBufferSize, inputFactor*len(text))
}

// buffer accumulates expansion output up to a fixed capacity. Writes that
// would go past the capacity fail instead of growing the buffer.
type buffer struct {
	buf []byte
	cap int
}

func newBuffer(capacity int) *buffer {
	if capacity <= 0 {
		capacity = DefaultBufferSize
	}
	return &buffer{cap: capacity}
}

// remaining returns the number of bytes that can still be written.
func (b *buffer) remaining() int { return b.cap - len(b.buf) }

func (b *buffer) Len() int { return len(b.buf) }

func (b *buffer) String() string { return string(b.buf) }

// since returns the text written after mark.
func (b *buffer) since(mark int) string { return string(b.buf[mark:]) }

func (b *buffer) WriteByte(c byte) error {
	if b.remaining() < 1 {
		return &BufferOverflowError{Capacity: b.cap}
	}
	b.buf = append(b.buf, c)
	return nil
}

func (b *buffer) WriteString(s string) error {
	if len(s) > b.remaining() {
		return &BufferOverflowError{Capacity: b.cap}
	}
	b.buf = append(b.buf, s...)
	return nil
}

// truncate drops everything written after mark.
func (b *buffer) truncate(mark int) {
	if mark < len(b.buf) {
		b.buf = b.buf[:mark]
	}
}
