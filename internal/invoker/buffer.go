package invoker

import "bytes"

// boundedBuffer keeps at most max bytes of process output and discards the rest.
// Writes never fail so the child does not die on a broken pipe.
type boundedBuffer struct {
	buf      bytes.Buffer
	max      int
	overflow bool
}

func newBoundedBuffer(max int) *boundedBuffer {
	return &boundedBuffer{max: max}
}

func (b *boundedBuffer) Write(p []byte) (int, error) {
	room := b.max - b.buf.Len()
	if room <= 0 {
		if len(p) > 0 {
			b.overflow = true
		}
		return len(p), nil
	}
	if len(p) > room {
		b.buf.Write(p[:room])
		b.overflow = true
		return len(p), nil
	}
	return b.buf.Write(p)
}

func (b *boundedBuffer) Bytes() []byte  { return b.buf.Bytes() }
func (b *boundedBuffer) String() string { return b.buf.String() }
func (b *boundedBuffer) Len() int       { return b.buf.Len() }

// Overflowed reports whether output was dropped.
func (b *boundedBuffer) Overflowed() bool { return b.overflow }
