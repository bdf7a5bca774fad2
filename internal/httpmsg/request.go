// Package httpmsg implements the request parser and response composer as
// pure functions over byte buffers: no I/O, no allocation beyond what's
// needed to hand the caller a usable Request/Response, and a three-way
// parse outcome (needs-more, complete, malformed) that the connection
// state machine drives its transitions from.
package httpmsg

import (
	"bytes"
	"errors"
	"strings"

	"golang.org/x/net/http/httpguts"
)

// Outcome is the three-way result of feeding bytes to Parse.
type Outcome int

const (
	// NeedsMore means the buffer does not yet hold a full request; the
	// caller should read more and retry with the larger buffer.
	NeedsMore Outcome = iota
	// Complete means data[:Consumed] held exactly one well-formed request.
	Complete
	// Malformed means the buffer can never become a valid request no
	// matter how many more bytes arrive.
	Malformed
)

// ErrMalformed is returned alongside a Malformed outcome.
var ErrMalformed = errors.New("httpmsg: malformed request")

// Request is a parsed HTTP/1.1 request line, headers and body.
type Request struct {
	Method  string
	Path    string
	Query   map[string]string
	Proto   string
	Headers map[string]string
	Body    []byte

	// KeepAlive reports whether the connection should be reused: the
	// request must be HTTP/1.1 and carry Connection: keep-alive.
	KeepAlive bool
}

// Header looks up a header by case-insensitive name.
func (r *Request) Header(name string) (string, bool) {
	v, ok := r.Headers[strings.ToLower(name)]
	return v, ok
}

// Parse attempts to parse exactly one HTTP request from the front of data.
// It never blocks and never retains data: everything it needs out of the
// buffer is copied into the returned Request before it returns.
//
// Consumed is only meaningful when outcome is Complete; the caller then
// advances its buffer's read cursor by Consumed bytes.
func Parse(data []byte) (outcome Outcome, req *Request, consumed int, err error) {
	lineEnd := bytes.IndexByte(data, '\n')
	if lineEnd == -1 {
		if len(data) > maxRequestLineLen {
			return Malformed, nil, 0, ErrMalformed
		}
		return NeedsMore, nil, 0, nil
	}

	line := data[:lineEnd]
	if len(line) > 0 && line[len(line)-1] == '\r' {
		line = line[:len(line)-1]
	}

	sp1 := bytes.IndexByte(line, ' ')
	if sp1 == -1 {
		return Malformed, nil, 0, ErrMalformed
	}
	sp2 := bytes.IndexByte(line[sp1+1:], ' ')
	if sp2 == -1 {
		return Malformed, nil, 0, ErrMalformed
	}
	sp2 += sp1 + 1

	method := string(line[:sp1])
	path := string(line[sp1+1 : sp2])
	proto := string(line[sp2+1:])
	if method == "" || path == "" || proto == "" {
		return Malformed, nil, 0, ErrMalformed
	}

	headerStart := lineEnd + 1
	var headerEnd, bodyStart int
	if bytes.HasPrefix(data[headerStart:], []byte("\r\n")) {
		// No header lines: the blank line follows the request line directly.
		headerEnd = headerStart
		bodyStart = headerStart + 2
	} else {
		headerEndRel := bytes.Index(data[headerStart:], []byte("\r\n\r\n"))
		if headerEndRel == -1 {
			return NeedsMore, nil, 0, nil
		}
		headerEnd = headerStart + headerEndRel
		bodyStart = headerEnd + 4
	}

	headers := make(map[string]string)
	ok := parseHeaders(data[headerStart:headerEnd], headers)
	if !ok {
		return Malformed, nil, 0, ErrMalformed
	}

	contentLength := 0
	if cl, present := headers["content-length"]; present {
		n, perr := parsePositiveInt(cl)
		if perr != nil {
			return Malformed, nil, 0, ErrMalformed
		}
		contentLength = n
	}

	if len(data)-bodyStart < contentLength {
		return NeedsMore, nil, 0, nil
	}

	query := map[string]string(nil)
	if idx := strings.IndexByte(path, '?'); idx != -1 {
		query = parseQuery(path[idx+1:])
		path = path[:idx]
	}

	body := make([]byte, contentLength)
	copy(body, data[bodyStart:bodyStart+contentLength])

	req = &Request{
		Method:  method,
		Path:    path,
		Query:   query,
		Proto:   proto,
		Headers: headers,
		Body:    body,
	}
	conn, hasConn := req.Header("connection")
	req.KeepAlive = proto == "HTTP/1.1" && hasConn && strings.EqualFold(conn, "keep-alive")

	return Complete, req, bodyStart + contentLength, nil
}

// maxRequestLineLen bounds how long an unterminated request line may grow
// before Parse gives up and reports Malformed instead of waiting forever
// on an attacker who never sends '\n'.
const maxRequestLineLen = 8192

func parseHeaders(data []byte, out map[string]string) bool {
	for len(data) > 0 {
		lineEnd := bytes.IndexByte(data, '\n')
		if lineEnd == -1 {
			lineEnd = len(data)
		}

		line := data[:lineEnd]
		if len(line) > 0 && line[len(line)-1] == '\r' {
			line = line[:len(line)-1]
		}
		if len(line) == 0 {
			if lineEnd == len(data) {
				break
			}
			data = data[lineEnd+1:]
			continue
		}

		colon := bytes.IndexByte(line, ':')
		if colon <= 0 {
			return false
		}
		key := string(bytes.TrimSpace(line[:colon]))
		value := string(bytes.TrimSpace(line[colon+1:]))
		if !httpguts.ValidHeaderFieldName(key) || !httpguts.ValidHeaderFieldValue(value) {
			return false
		}
		out[strings.ToLower(key)] = value

		if lineEnd == len(data) {
			break
		}
		data = data[lineEnd+1:]
	}
	return true
}

func parseQuery(raw string) map[string]string {
	q := make(map[string]string)
	for _, pair := range strings.Split(raw, "&") {
		if pair == "" {
			continue
		}
		if idx := strings.IndexByte(pair, '='); idx != -1 {
			q[pair[:idx]] = pair[idx+1:]
		} else {
			q[pair] = ""
		}
	}
	return q
}

func parsePositiveInt(s string) (int, error) {
	if s == "" {
		return 0, ErrMalformed
	}
	n := 0
	for _, c := range s {
		if c < '0' || c > '9' {
			return 0, ErrMalformed
		}
		n = n*10 + int(c-'0')
	}
	return n, nil
}
