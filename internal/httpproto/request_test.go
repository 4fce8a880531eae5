package httpproto

import (
	"context"
	"strconv"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/reactorweb/server/internal/buffer"
)

type fakeVerifier struct {
	allow bool
}

func (f *fakeVerifier) Verify(_ context.Context, _, _ string, _ bool) bool { return f.allow }

func TestParseGetRequestKeepAlive(t *testing.T) {
	buf := buffer.New(256)
	buf.Append([]byte("GET /index.html HTTP/1.1\r\nHost: x\r\nConnection: keep-alive\r\n\r\n"))

	p := NewParser(nil)
	complete := p.Parse(context.Background(), buf)
	require.True(t, complete)

	req := p.Request()
	require.False(t, req.Malformed)
	require.Equal(t, "GET", req.Method)
	require.Equal(t, "/index.html", req.Path)
	require.True(t, req.IsKeepAlive())
}

func TestParseLeavesIncompleteRequestUnconsumed(t *testing.T) {
	buf := buffer.New(256)
	buf.Append([]byte("GET /index.html HTTP/1.1\r\nHost: x"))

	p := NewParser(nil)
	complete := p.Parse(context.Background(), buf)
	require.False(t, complete)
	require.Greater(t, buf.Readable(), 0)
}

func TestParseMalformedRequestLine(t *testing.T) {
	buf := buffer.New(256)
	buf.Append([]byte("GARBAGE\r\n\r\n"))

	p := NewParser(nil)
	complete := p.Parse(context.Background(), buf)
	require.True(t, complete)
	require.True(t, p.Request().Malformed)
}

func TestParseLoginFormPOSTSuccess(t *testing.T) {
	buf := buffer.New(256)
	body := "username=alice&password=pw"
	req := "POST /login HTTP/1.1\r\nHost: x\r\nContent-Type: application/x-www-form-urlencoded\r\nContent-Length: " +
		strconv.Itoa(len(body)) + "\r\n\r\n" + body
	buf.Append([]byte(req))

	p := NewParser(&fakeVerifier{allow: true})
	complete := p.Parse(context.Background(), buf)
	require.True(t, complete)
	require.Equal(t, "welcome.html", p.Request().AuthTarget)
}

func TestParseLoginFormPOSTFailure(t *testing.T) {
	buf := buffer.New(256)
	body := "username=alice&password=wrong"
	req := "POST /login HTTP/1.1\r\nHost: x\r\nContent-Type: application/x-www-form-urlencoded\r\nContent-Length: " +
		strconv.Itoa(len(body)) + "\r\n\r\n" + body
	buf.Append([]byte(req))

	p := NewParser(&fakeVerifier{allow: false})
	complete := p.Parse(context.Background(), buf)
	require.True(t, complete)
	require.Equal(t, "error.html", p.Request().AuthTarget)
}

func TestResetReturnsToRequestLineState(t *testing.T) {
	buf := buffer.New(256)
	buf.Append([]byte("GET /index.html HTTP/1.1\r\nConnection: close\r\n\r\n"))

	p := NewParser(nil)
	require.True(t, p.Parse(context.Background(), buf))
	p.Reset()
	require.Equal(t, stateRequestLine, p.state)
}

