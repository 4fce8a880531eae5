package httpproto

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/reactorweb/server/internal/buffer"
)

func TestMakeResponseMapsRegularFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "index.html"), []byte("<html>hi</html>"), 0o644))

	r := NewResponse()
	r.Init(dir, "/index.html", true, -1)
	require.Equal(t, StatusOK, r.Code())

	out := buffer.New(256)
	require.NoError(t, r.MakeResponse(out))

	header := string(out.Peek())
	require.Contains(t, header, "HTTP/1.1 200 OK\r\n")
	require.Contains(t, header, "Content-Type: text/html\r\n")
	require.Contains(t, header, "Content-Length: 15\r\n")

	require.Equal(t, int64(15), r.FileLen())
	require.Equal(t, "<html>hi</html>", string(r.File()))

	require.NoError(t, r.UnmapFile())
	require.Nil(t, r.File())
}

func TestMakeResponseMissingFileIs404WithInlineBody(t *testing.T) {
	dir := t.TempDir()

	r := NewResponse()
	r.Init(dir, "/nope.html", false, -1)
	require.Equal(t, StatusNotFound, r.Code())

	out := buffer.New(256)
	require.NoError(t, r.MakeResponse(out))

	body := string(out.Peek())
	require.Contains(t, body, "HTTP/1.1 404 Not Found\r\n")
	require.Contains(t, body, "Connection: close\r\n")
	require.Contains(t, body, "<html>")
	require.Nil(t, r.File())
}

func TestMakeResponseExplicitErrorCodeSkipsFileResolution(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "index.html"), []byte("ignored"), 0o644))

	r := NewResponse()
	r.Init(dir, "/index.html", false, StatusBadRequest)
	require.Equal(t, StatusBadRequest, r.Code())

	out := buffer.New(256)
	require.NoError(t, r.MakeResponse(out))
	require.Contains(t, string(out.Peek()), "HTTP/1.1 400 Bad Request\r\n")
	require.Nil(t, r.File())
}
