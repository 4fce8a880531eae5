package buffer

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAppendAccumulatesReadable(t *testing.T) {
	b := New(16)
	var want []byte
	for i := 0; i < 5; i++ {
		chunk := bytes.Repeat([]byte{byte('a' + i)}, 7)
		want = append(want, chunk...)
		b.Append(chunk)
	}
	require.Equal(t, len(want), b.Readable())
	require.Equal(t, want, b.Peek())
}

func TestAppendRetrieveRoundTripKeepsCapacityBounded(t *testing.T) {
	b := New(8)
	maxLive := 0
	for i := 0; i < 200; i++ {
		chunk := bytes.Repeat([]byte{byte(i)}, 13)
		b.Append(chunk)
		if b.Readable() > maxLive {
			maxLive = b.Readable()
		}
		b.Retrieve(len(chunk))
	}
	require.Equal(t, 0, b.Readable())
	require.LessOrEqual(t, b.Cap(), maxLive+1)
}

func TestRetrieveAllResetsCursors(t *testing.T) {
	b := New(16)
	b.Append([]byte("hello"))
	b.RetrieveAll()
	require.Equal(t, 0, b.Readable())
	require.Equal(t, b.Cap(), b.Writable())
}

func TestEnsureWritableCompactsBeforeGrowing(t *testing.T) {
	b := New(16)
	b.Append(bytes.Repeat([]byte{'x'}, 10))
	b.Retrieve(10) // readable 0, prependable 10, writable 6
	capBefore := b.Cap()

	b.Append(bytes.Repeat([]byte{'y'}, 8)) // needs compaction, not growth
	require.Equal(t, capBefore, b.Cap())
}

func TestEnsureWritableGrowsWhenCompactionInsufficient(t *testing.T) {
	b := New(4)
	b.Append([]byte("ab"))
	b.Retrieve(2)
	b.Append([]byte("toolongtofit"))
	require.GreaterOrEqual(t, b.Cap(), len("toolongtofit"))
	require.Equal(t, "toolongtofit", string(b.Peek()))
}

func TestRetrieveUntilConsumesUpToGivenSubslice(t *testing.T) {
	b := New(16)
	b.Append([]byte("GET / HTTP/1.1\r\nHost: x\r\n"))

	peek := b.Peek()
	idx := bytes.Index(peek, []byte("\r\n"))
	require.GreaterOrEqual(t, idx, 0)

	b.RetrieveUntil(peek[idx+2:])
	require.Equal(t, "Host: x\r\n", string(b.Peek()))
}
