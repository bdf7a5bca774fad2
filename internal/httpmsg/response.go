package httpmsg

import (
	"os"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"

	"github.com/fastpath/evhttpd/internal/buffer"
)

// suffixMIME is the exact suffix-to-content-type table, trailing spaces on
// .css and .js preserved bit-for-bit.
var suffixMIME = map[string]string{
	".html":  "text/html",
	".xml":   "text/xml",
	".xhtml": "application/xhtml+xml",
	".txt":   "text/plain",
	".rtf":   "application/rtf",
	".pdf":   "application/pdf",
	".word":  "application/msword",
	".png":   "image/png",
	".gif":   "image/gif",
	".jpg":   "image/jpeg",
	".jpeg":  "image/jpeg",
	".au":    "audio/basic",
	".mpeg":  "video/mpeg",
	".mpg":   "video/mpeg",
	".avi":   "video/x-msvideo",
	".gz":    "application/x-gzip",
	".tar":   "application/x-tar",
	".css":   "text/css ",
	".js":    "text/javascript ",
}

var codeStatus = map[int]string{
	200: "OK",
	400: "Bad Request",
	403: "Forbidden",
	404: "Not Found",
}

var codeErrorPage = map[int]string{
	400: "/400.html",
	403: "/403.html",
	404: "/404.html",
}

// fileType returns the MIME type for path by suffix lookup, defaulting to
// text/plain when the suffix is absent or unrecognized.
func fileType(path string) string {
	idx := strings.LastIndexByte(path, '.')
	if idx == -1 {
		return "text/plain"
	}
	if t, ok := suffixMIME[path[idx:]]; ok {
		return t
	}
	return "text/plain"
}

// Response is the outcome of composing a static-file reply: a header
// already appended to the caller's write buffer, and either a
// memory-mapped body or none (when the body was inlined as an error page
// directly into the header buffer).
type Response struct {
	Code      int
	MappedBody []byte
}

// Unmap releases the response's memory mapping, if any. It is safe to
// call more than once.
func (r *Response) Unmap() error {
	if r.MappedBody == nil {
		return nil
	}
	body := r.MappedBody
	r.MappedBody = nil
	return unix.Munmap(body)
}

// ComposeStaticFile implements the response-composition rules: stat the
// target under srcDir, resolve status, retarget to an error page and
// re-stat when applicable (tightening the upstream stale-stat behavior),
// emit the status line and headers into header, and either mmap the body
// or inline a small HTML error page.
//
// presetCode, if non-zero, is honored as already decided by the caller
// (e.g. a parser-detected 400); zero means "let the stat results decide".
func ComposeStaticFile(header *buffer.Buffer, srcDir, path string, keepAlive bool, presetCode int) (*Response, error) {
	code := presetCode

	st, statErr := os.Stat(srcDir + path)
	switch {
	case statErr != nil || st.IsDir():
		code = 404
	case !worldReadable(st):
		code = 403
	case code == 0:
		code = 200
	}

	if errPage, retarget := codeErrorPage[code]; retarget {
		path = errPage
		st, statErr = os.Stat(srcDir + path)
	}

	addStatusLine(header, &code)
	addCommonHeaders(header, keepAlive, path)

	resp := &Response{Code: code}

	if statErr != nil {
		addErrorBody(header, code, "File Not Found!")
		return resp, nil
	}

	f, err := os.Open(srcDir + path)
	if err != nil {
		addErrorBody(header, code, "File Not Found!")
		return resp, nil
	}
	defer f.Close()

	size := st.Size()
	if size == 0 {
		header.Append([]byte("Content-length: 0\r\n\r\n"))
		return resp, nil
	}

	mapped, mmErr := unix.Mmap(int(f.Fd()), 0, int(size), unix.PROT_READ, unix.MAP_PRIVATE)
	if mmErr != nil {
		addErrorBody(header, code, "File Not Found!")
		return resp, nil
	}

	resp.MappedBody = mapped
	header.Append([]byte("Content-length: " + strconv.FormatInt(size, 10) + "\r\n\r\n"))
	return resp, nil
}

func addStatusLine(header *buffer.Buffer, code *int) {
	status, ok := codeStatus[*code]
	if !ok {
		*code = 400
		status = codeStatus[400]
	}
	header.Append([]byte("HTTP/1.1 " + strconv.Itoa(*code) + " " + status + "\r\n"))
}

func addCommonHeaders(header *buffer.Buffer, keepAlive bool, path string) {
	if keepAlive {
		header.Append([]byte("Connection: keep-alive\r\n"))
		header.Append([]byte("keep-alive: max=6, timeout=120\r\n"))
	} else {
		header.Append([]byte("Connection: close\r\n"))
	}
	header.Append([]byte("Content-type: " + fileType(path) + "\r\n"))
}

func addErrorBody(header *buffer.Buffer, code int, message string) {
	status, ok := codeStatus[code]
	if !ok {
		status = "Bad Request"
	}
	var body strings.Builder
	body.WriteString("<html><title>Error</title>")
	body.WriteString("<body bgcolor=\"ffffff\">")
	body.WriteString(strconv.Itoa(code) + " : " + status + "\n")
	body.WriteString("<p>" + message + "</p>")
	body.WriteString("<hr><em>evhttpd</em></body></html>")

	header.Append([]byte("Content-length: " + strconv.Itoa(body.Len()) + "\r\n\r\n"))
	header.Append([]byte(body.String()))
}

func worldReadable(st os.FileInfo) bool {
	return st.Mode().Perm()&0o004 != 0
}

// ComposeBadRequest writes a plain 400 response with no body lookup, used
// when the request parser reports a malformed request.
func ComposeBadRequest(header *buffer.Buffer) {
	code := 400
	addStatusLine(header, &code)
	header.Append([]byte("Connection: close\r\n"))
	header.Append([]byte("Content-type: text/html\r\n"))
	addErrorBody(header, code, "malformed request")
}

// ComposeBusy writes the fixed overload reply: a bare ASCII line, no
// status line or headers, matching the literal wire bytes the original
// sends when the connection cap is reached.
func ComposeBusy(header *buffer.Buffer) {
	header.Append([]byte("Server Busy!"))
}
