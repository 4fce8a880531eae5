package httpproto

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/sys/unix"

	"github.com/reactorweb/server/internal/buffer"
)

// Status codes the response builder can produce, matching
// HttpResponse::CODE_STATUS / CODE_PATH.
const (
	StatusOK            = 200
	StatusBadRequest    = 400
	StatusForbidden     = 403
	StatusNotFound      = 404
	StatusInternalError = 500
)

var codeStatus = map[int]string{
	StatusOK:            "OK",
	StatusBadRequest:    "Bad Request",
	StatusForbidden:     "Forbidden",
	StatusNotFound:      "Not Found",
	StatusInternalError: "Internal Server Error",
}

// suffixType maps a file extension to its Content-Type, matching
// HttpResponse::SUFFIX_TYPE.
var suffixType = map[string]string{
	".html": "text/html",
	".xml":   "text/xml",
	".xhtml": "application/xhtml+xml",
	".txt":   "text/plain",
	".rtf":  "application/rtf",
	".pdf":  "application/pdf",
	".word": "application/nsword",
	".png":  "image/png",
	".gif":  "image/gif",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".au":   "audio/basic",
	".mpeg": "video/mpeg",
	".mpg":  "video/mpeg",
	".avi":  "video/x-msvideo",
	".gz":   "application/x-gzip",
	".tar":  "application/x-tar",
	".css":  "text/css",
	".js":   "text/javascript",
}

// Response resolves a request path within the document root and builds
// the status line, headers, and either a memory-mapped file body or an
// inline error body, per spec.md §4.7.
type Response struct {
	code      int
	keepAlive bool
	path      string
	srcDir    string

	mmFile []byte
	fileLen int64
}

// NewResponse returns a zero-value Response ready for Init.
func NewResponse() *Response { return &Response{code: -1} }

// Init resolves path under srcDir, stat-ing it to decide between 200,
// 403, and 404 when code is left at -1 (the caller's chosen code, if
// any, e.g. a parser-detected 400, always wins).
func (r *Response) Init(srcDir, path string, keepAlive bool, code int) {
	r.srcDir = srcDir
	r.path = path
	r.keepAlive = keepAlive
	r.code = code
	r.mmFile = nil
	r.fileLen = 0

	if r.code != -1 {
		return
	}

	full := filepath.Join(srcDir, path)
	info, err := os.Stat(full)
	switch {
	case err != nil:
		r.code = StatusNotFound
	case info.IsDir():
		r.code = StatusNotFound
	case info.Mode().Perm()&0o444 == 0:
		r.code = StatusForbidden
	default:
		r.code = StatusOK
	}
}

// Code reports the resolved status code.
func (r *Response) Code() int { return r.code }

// File returns the memory-mapped file body, or nil if none was mapped.
func (r *Response) File() []byte { return r.mmFile }

// FileLen reports the length of the mapped file.
func (r *Response) FileLen() int64 { return r.fileLen }

// MakeResponse writes the status line, headers, and a blank line into
// out, and on a 200 response memory-maps the target file read-only. On
// any error status it substitutes a tiny inline HTML body into out
// instead of mapping a file, matching HttpResponse::ErrorHtml_.
func (r *Response) MakeResponse(out *buffer.Buffer) error {
	var body []byte
	if r.code == StatusOK {
		mapped, err := r.mapFile()
		if err != nil {
			r.code = StatusInternalError
			body = r.errorBody()
		}
		if mapped {
			r.addStateLine(out)
			r.addHeader(out, int(r.fileLen))
			return nil
		}
	} else {
		body = r.errorBody()
	}

	r.addStateLine(out)
	r.addHeader(out, len(body))
	out.Append(body)
	return nil
}

func (r *Response) mapFile() (bool, error) {
	full := filepath.Join(r.srcDir, r.path)
	f, err := os.Open(full)
	if err != nil {
		return false, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return false, err
	}
	if info.Size() == 0 {
		r.fileLen = 0
		r.mmFile = nil
		return true, nil
	}

	data, err := unix.Mmap(int(f.Fd()), 0, int(info.Size()), unix.PROT_READ, unix.MAP_PRIVATE)
	if err != nil {
		return false, err
	}
	r.mmFile = data
	r.fileLen = info.Size()
	return true, nil
}

// UnmapFile releases the mapped file, if any. Idempotent.
func (r *Response) UnmapFile() error {
	if r.mmFile == nil {
		return nil
	}
	err := unix.Munmap(r.mmFile)
	r.mmFile = nil
	r.fileLen = 0
	return err
}

func (r *Response) errorBody() []byte {
	status := codeStatus[r.code]
	html := fmt.Sprintf(
		"<html><head><title>%d %s</title></head><body><h1>%d %s</h1></body></html>",
		r.code, status, r.code, status)
	return []byte(html)
}

func (r *Response) addStateLine(out *buffer.Buffer) {
	status, ok := codeStatus[r.code]
	if !ok {
		r.code = StatusBadRequest
		status = codeStatus[r.code]
	}
	out.Append([]byte(fmt.Sprintf("HTTP/1.1 %d %s\r\n", r.code, status)))
}

func (r *Response) addHeader(out *buffer.Buffer, contentLength int) {
	conn := "close"
	if r.keepAlive {
		conn = "keep-alive"
	}
	out.Append([]byte(fmt.Sprintf("Connection: %s\r\n", conn)))
	out.Append([]byte(fmt.Sprintf("Content-Type: %s\r\n", r.contentType())))
	out.Append([]byte(fmt.Sprintf("Content-Length: %d\r\n", contentLength)))
	out.Append([]byte("\r\n"))
}

func (r *Response) contentType() string {
	if r.code != StatusOK {
		return "text/html"
	}
	ext := strings.ToLower(filepath.Ext(r.path))
	if ct, ok := suffixType[ext]; ok {
		return ct
	}
	return "text/plain"
}
