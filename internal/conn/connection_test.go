package conn

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/reactorweb/server/internal/httpproto"
)

func socketPair(t *testing.T) (local, peer int) {
	t.Helper()
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	require.NoError(t, err)
	return fds[0], fds[1]
}

func TestProcessReturnsFalseWhenInputEmpty(t *testing.T) {
	local, peer := socketPair(t)
	defer unix.Close(peer)

	var live atomic.Int64
	c := New(local, "127.0.0.1:1234", t.TempDir(), false, nil, &live)
	defer c.Close()

	require.False(t, c.Process(context.Background()))
}

func TestProcessBuildsResponseForCompleteRequest(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "index.html"), []byte("<html>hi</html>"), 0o644))

	local, peer := socketPair(t)
	defer unix.Close(peer)

	var live atomic.Int64
	c := New(local, "127.0.0.1:1234", dir, false, nil, &live)
	defer c.Close()

	c.in.Append([]byte("GET /index.html HTTP/1.1\r\nConnection: keep-alive\r\n\r\n"))

	require.True(t, c.Process(context.Background()))
	require.True(t, c.IsKeepAlive())
	require.Greater(t, c.ToWriteBytes(), 0)
	require.Equal(t, httpproto.StatusOK, c.StatusCode())
	require.NotEmpty(t, c.ID())
	require.False(t, c.RequestStarted().IsZero())
}

func TestWriteDrainsHeaderAndFileVectors(t *testing.T) {
	dir := t.TempDir()
	content := "<html>hi</html>"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "index.html"), []byte(content), 0o644))

	local, peer := socketPair(t)
	defer unix.Close(peer)

	var live atomic.Int64
	c := New(local, "127.0.0.1:1234", dir, false, nil, &live)
	defer c.Close()

	c.in.Append([]byte("GET /index.html HTTP/1.1\r\nConnection: close\r\n\r\n"))
	require.True(t, c.Process(context.Background()))

	var headerDone, fileDone bool
	for !headerDone || !fileDone {
		_, hd, fd, err := c.Write()
		require.NoError(t, err)
		headerDone, fileDone = hd, fd
	}

	unix.Close(local)
	got, err := io.ReadAll(os.NewFile(uintptr(peer), "peer"))
	require.NoError(t, err)
	require.Contains(t, string(got), "HTTP/1.1 200 OK")
	require.Contains(t, string(got), content)
}

func TestCloseIsIdempotentAndDecrementsLiveCountOnce(t *testing.T) {
	local, peer := socketPair(t)
	defer unix.Close(peer)

	var live atomic.Int64
	live.Store(1)
	c := New(local, "127.0.0.1:1234", t.TempDir(), false, nil, &live)

	require.NoError(t, c.Close())
	require.NoError(t, c.Close())
	require.Equal(t, int64(0), live.Load())
	require.True(t, c.Closed())
}

func TestResetForNextRequestReturnsToRequestLineState(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "index.html"), []byte("hi"), 0o644))

	local, peer := socketPair(t)
	defer unix.Close(peer)

	var live atomic.Int64
	c := New(local, "127.0.0.1:1234", dir, false, nil, &live)
	defer c.Close()

	c.in.Append([]byte("GET /index.html HTTP/1.1\r\nConnection: keep-alive\r\n\r\n"))
	require.True(t, c.Process(context.Background()))

	require.NoError(t, c.ResetForNextRequest())
	require.Nil(t, c.resp.File())
	require.Equal(t, 0, c.out.Readable())

	// A parser still in FINISH would report the previous keep-alive request;
	// a fresh parse from REQUEST_LINE picks up the new Connection header.
	c.in.Append([]byte("GET /index.html HTTP/1.1\r\nConnection: close\r\n\r\n"))
	require.True(t, c.Process(context.Background()))
	require.False(t, c.IsKeepAlive())
}
