// Package httpproto implements the Reactor's external request parser and
// response builder, per spec.md §4.7. Grounded on
// original_source/code/http/httprequest.h and httpresponse.h (interface
// shapes: PARSE_STATE, GetPost, IsKeepAlive, MakeResponse, the suffix and
// code-path lookup tables) with the parsing bodies written fresh in Go
// since no httprequest.cpp was retrieved — this is a from-scratch,
// idiomatic reimplementation of the documented state machine, not a
// transliteration.
package httpproto

import (
	"bytes"
	"context"
	"net/url"
	"strconv"
	"strings"

	"github.com/reactorweb/server/internal/buffer"
)

type remoteIPKey struct{}

// WithRemoteIP attaches the peer address the Connection accepted, so the
// Verifier can attribute audit events without the Parser needing to know
// about sockets.
func WithRemoteIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, remoteIPKey{}, ip)
}

// RemoteIP extracts the address WithRemoteIP attached, or "" if none.
func RemoteIP(ctx context.Context) string {
	ip, _ := ctx.Value(remoteIPKey{}).(string)
	return ip
}

type requestIDKey struct{}

// WithRequestID attaches the Connection's correlation ID, so the Verifier
// can stamp audit events with the same ID the Reactor logs against.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

// RequestID extracts the correlation ID WithRequestID attached, or "" if
// none.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// state mirrors HttpRequest::PARSE_STATE.
type state int

const (
	stateRequestLine state = iota
	stateHeaders
	stateBody
	stateFinish
)

// Verifier checks a username/password pair against the user store. isLogin
// distinguishes the login flow (password must match) from the register
// flow (username must not already exist).
type Verifier interface {
	Verify(ctx context.Context, username, password string, isLogin bool) bool
}

// defaultHTML is the set of recognized tag paths rewritten to "<tag>.html",
// mirroring HttpRequest::DEFAULT_HTML.
var defaultHTML = map[string]bool{
	"/index":    true,
	"/register": true,
	"/login":    true,
	"/welcome":  true,
	"/video":    true,
	"/picture":  true,
}

// defaultHTMLTag marks which recognized paths are login-flow forms (the
// original's DEFAULT_HTML_TAG: 0 = register, 1 = login).
var defaultHTMLTag = map[string]bool{
	"/register": false,
	"/login":    true,
}

// Request is the parsed result of one HTTP/1.1 request.
type Request struct {
	Method   string
	Path     string
	Version  string
	Headers  map[string]string
	Body     []byte
	PostForm map[string]string

	// Malformed is set when the request line could not be parsed (not
	// three fields, or a method other than GET/POST); header lines without
	// a colon are skipped rather than flagged. Connection.Process maps
	// this to a 400 response.
	Malformed bool
	// AuthTarget is set to "welcome.html" or "error.html" when the parser
	// resolved a login/register POST against the Verifier.
	AuthTarget string
}

// Parser is a line-oriented state machine over an input Buffer, consuming
// complete CRLF-delimited lines and leaving partial input untouched.
type Parser struct {
	state    state
	verifier Verifier

	req        Request
	contentLen int
}

// NewParser returns a Parser that consults v for login/register POSTs. v
// may be nil, in which case login/register always resolves to the failure
// page (matching spec.md §7's "DB unavailable ⇒ authentication fails").
func NewParser(v Verifier) *Parser {
	p := &Parser{verifier: v}
	p.reset()
	return p
}

func (p *Parser) reset() {
	p.state = stateRequestLine
	p.contentLen = 0
	p.req = Request{
		Headers:  make(map[string]string),
		PostForm: make(map[string]string),
	}
}

// Reset returns the Parser to REQUEST_LINE for the next request on a
// keep-alive connection, per spec.md §8 property 6.
func (p *Parser) Reset() { p.reset() }

// Request returns the most recently completed (or in-progress) request.
func (p *Parser) Request() *Request { return &p.req }

// Parse consumes as many complete lines as are available in buf, advancing
// through REQUEST_LINE, HEADERS, and BODY. It returns true once FINISH is
// reached (complete, well-formed or malformed); incomplete input returns
// false without consuming the trailing partial line.
func (p *Parser) Parse(ctx context.Context, buf *buffer.Buffer) bool {
	for p.state != stateFinish {
		if p.state == stateBody {
			if !p.parseBody(ctx, buf) {
				return false
			}
			continue
		}

		line, ok := nextLine(buf)
		if !ok {
			return false
		}

		switch p.state {
		case stateRequestLine:
			if !p.parseRequestLine(line) {
				p.req.Malformed = true
				p.state = stateFinish
				return true
			}
			p.state = stateHeaders
		case stateHeaders:
			if len(line) == 0 {
				if p.contentLen > 0 {
					p.state = stateBody
				} else {
					p.state = stateFinish
					return true
				}
			} else {
				p.parseHeader(line)
			}
		}
	}
	return true
}

// nextLine returns the next CRLF-delimited line (without the CRLF) and
// consumes it from buf, or (nil, false) if no complete line is buffered.
func nextLine(buf *buffer.Buffer) ([]byte, bool) {
	peek := buf.Peek()
	idx := bytes.Index(peek, []byte("\r\n"))
	if idx < 0 {
		return nil, false
	}
	line := make([]byte, idx)
	copy(line, peek[:idx])
	buf.RetrieveUntil(peek[idx+2:])
	return line, true
}

func (p *Parser) parseRequestLine(line []byte) bool {
	fields := bytes.Fields(line)
	if len(fields) != 3 {
		return false
	}
	p.req.Method = string(fields[0])
	p.req.Path = string(fields[1])
	p.req.Version = string(fields[2])
	if p.req.Method != "GET" && p.req.Method != "POST" {
		return false
	}
	p.parsePath()
	return true
}

// parsePath mirrors ParsePath_: trailing "/" defaults to index.html, and
// recognized tag paths get ".html" appended.
func (p *Parser) parsePath() {
	if p.req.Path == "/" {
		p.req.Path = "/index.html"
		return
	}
	if defaultHTML[p.req.Path] {
		p.req.Path += ".html"
	}
}

func (p *Parser) parseHeader(line []byte) {
	idx := bytes.IndexByte(line, ':')
	if idx < 0 {
		return
	}
	key := strings.TrimSpace(string(line[:idx]))
	val := strings.TrimSpace(string(line[idx+1:]))
	p.req.Headers[key] = val
	if strings.EqualFold(key, "Content-Length") {
		if n, err := strconv.Atoi(val); err == nil {
			p.contentLen = n
		}
	}
}

func (p *Parser) parseBody(ctx context.Context, buf *buffer.Buffer) bool {
	if buf.Readable() < p.contentLen {
		return false
	}
	body := make([]byte, p.contentLen)
	copy(body, buf.Peek()[:p.contentLen])
	buf.Retrieve(p.contentLen)
	p.req.Body = body
	p.finishWithBody(ctx)
	return true
}

func (p *Parser) finishWithBody(ctx context.Context) {
	p.state = stateFinish
	if p.req.Method == "POST" && strings.EqualFold(p.req.Headers["Content-Type"], "application/x-www-form-urlencoded") {
		p.parseFormURLEncoded()
		p.maybeAuthenticate(ctx)
	}
}

func (p *Parser) parseFormURLEncoded() {
	values, err := url.ParseQuery(string(p.req.Body))
	if err != nil {
		return
	}
	for k, v := range values {
		if len(v) > 0 {
			p.req.PostForm[k] = v[0]
		}
	}
}

// maybeAuthenticate runs the post-processing step spec.md §4.7 describes
// for form-urlencoded POSTs to recognized login/register paths.
func (p *Parser) maybeAuthenticate(ctx context.Context) {
	isLogin, recognized := defaultHTMLTag[strings.TrimSuffix(p.req.Path, ".html")]
	if !recognized {
		return
	}
	username := p.req.PostForm["username"]
	password := p.req.PostForm["password"]

	ok := false
	if p.verifier != nil {
		ok = p.verifier.Verify(ctx, username, password, isLogin)
	}
	if ok {
		p.req.AuthTarget = "welcome.html"
	} else {
		p.req.AuthTarget = "error.html"
	}
}

// IsKeepAlive is true iff HTTP/1.1 and the Connection header is
// "keep-alive", matching HttpRequest::IsKeepAlive.
func (r *Request) IsKeepAlive() bool {
	if r.Version != "HTTP/1.1" {
		return false
	}
	return strings.EqualFold(r.Headers["Connection"], "keep-alive")
}
