// Package buffer implements the reactor's per-connection duplex byte
// buffer: a growable byte slice with separate read and write cursors,
// direct socket I/O, and scatter-gather reads sized to drain a socket in
// one syscall under edge-triggered readiness.
//
// Grounded on original_source/code/buffer/buffer.cpp (Buffer::ReadableBytes,
// WritableBytes, PrependableBytes, Append, EnsureWriteable, MakeSpace_,
// ReadFd, WriteFd) and spec.md §4.1. Not a true circular ring buffer: the
// prependable region is a reclaimable prefix, not a wraparound write area.
package buffer

import (
	"golang.org/x/sys/unix"
)

// spillSize is the size of the stack-local overflow buffer used by
// ReadFromFD's second scatter-read vector, per spec.md §4.1.
const spillSize = 64 * 1024

// Buffer is a growable byte buffer with read/write cursors. It is not
// goroutine-safe; each Connection owns two and never shares them.
type Buffer struct {
	buf   []byte
	read  int
	write int
}

// New returns a Buffer with the given initial capacity.
func New(initialSize int) *Buffer {
	if initialSize <= 0 {
		initialSize = 1024
	}
	return &Buffer{buf: make([]byte, initialSize)}
}

// Readable returns the number of unread bytes.
func (b *Buffer) Readable() int { return b.write - b.read }

// Writable returns the number of bytes that can be written without growing.
func (b *Buffer) Writable() int { return len(b.buf) - b.write }

// Prependable returns the size of the reclaimable prefix before read.
func (b *Buffer) Prependable() int { return b.read }

// Peek returns a read-only view of the readable region. The view is valid
// until the next mutating call.
func (b *Buffer) Peek() []byte {
	return b.buf[b.read:b.write]
}

// Retrieve advances the read cursor by n. n must not exceed Readable().
func (b *Buffer) Retrieve(n int) {
	if n > b.Readable() {
		panic("buffer: Retrieve: n exceeds readable bytes")
	}
	b.read += n
}

// RetrieveUntil advances the read cursor up to end, a subslice of the
// current Peek() — typically the remainder of the readable region just
// past a delimiter a caller scanned for with bytes.Index. Mirrors
// Buffer::RetrieveUntil(const char* end)'s pointer-distance
// Retrieve(end - Peek()) in the original.
func (b *Buffer) RetrieveUntil(end []byte) {
	b.Retrieve(len(b.Peek()) - len(end))
}

// RetrieveAll resets both cursors to the start of the buffer.
func (b *Buffer) RetrieveAll() {
	b.read = 0
	b.write = 0
}

// Append copies data into the writable region, growing or compacting first
// if necessary, and advances the write cursor.
func (b *Buffer) Append(data []byte) {
	b.ensureWritable(len(data))
	copy(b.buf[b.write:], data)
	b.write += len(data)
}

// ensureWritable guarantees Writable() >= n, compacting the readable region
// to offset 0 first and growing only if that is still not enough — per
// spec.md §3's "On a write-space shortage of n bytes" rule.
func (b *Buffer) ensureWritable(n int) {
	if b.Writable() >= n {
		return
	}
	if b.Writable()+b.Prependable() >= n {
		readable := b.Readable()
		copy(b.buf, b.buf[b.read:b.write])
		b.read = 0
		b.write = readable
		return
	}
	grown := make([]byte, b.write+n+1)
	copy(grown, b.buf[:b.write])
	b.buf = grown
}

// ReadFromFD performs a single two-vector scatter read via readv: vector 0
// points into the buffer's writable region, vector 1 points into a
// spillSize stack-local buffer. If the kernel fills more than the buffer's
// writable region, the overflow is appended (which may grow the buffer).
// Returns the number of bytes read and the errno on failure (nil on success).
func (b *Buffer) ReadFromFD(fd int) (int, error) {
	var spill [spillSize]byte
	writable := b.Writable()
	if writable == 0 {
		// No room left in the buffer's own writable region; grow lazily by
		// one byte so we still have a valid iovec base to hand the kernel.
		b.ensureWritable(1)
		writable = b.Writable()
	}

	iovs := [][]byte{
		b.buf[b.write : b.write+writable],
		spill[:],
	}

	n, err := unix.Readv(fd, iovs)
	if err != nil {
		return 0, err
	}
	nRead := n

	if nRead <= writable {
		b.write += nRead
	} else {
		b.write = len(b.buf)
		b.Append(spill[:nRead-writable])
	}
	return nRead, nil
}

// WriteToFD writes the readable region to fd in a single write syscall and
// advances the read cursor by the number of bytes actually written.
func (b *Buffer) WriteToFD(fd int) (int, error) {
	readable := b.Peek()
	if len(readable) == 0 {
		return 0, nil
	}
	n, err := unix.Write(fd, readable)
	if n > 0 {
		b.read += n
	}
	if err != nil {
		return n, err
	}
	return n, nil
}

// Cap reports the current underlying capacity, exposed for tests verifying
// spec.md §8 property 2 (capacity never exceeds the running maximum + 1).
func (b *Buffer) Cap() int { return len(b.buf) }
