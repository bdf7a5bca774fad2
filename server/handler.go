package server

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/fastpath/evhttpd/internal/buffer"
	"github.com/fastpath/evhttpd/internal/httpmsg"
)

// dispatchRequest runs the application handler for a parsed request: an
// upload ingest when the path targets the upload root, otherwise a
// static-file lookup under the static root. It composes the response
// header into c.writeBuf and returns the body mapping, if any.
func (s *Server) dispatchRequest(c *conn, req *httpmsg.Request) (*httpmsg.Response, error) {
	if req.Method == "POST" && strings.HasPrefix(req.Path, "/upload") {
		return s.handleUpload(c.writeBuf, req)
	}
	return s.handleStatic(c.writeBuf, req)
}

func (s *Server) handleStatic(w *buffer.Buffer, req *httpmsg.Request) (*httpmsg.Response, error) {
	path := req.Path
	if path == "/" {
		path = "/index.html"
	}
	return httpmsg.ComposeStaticFile(w, s.registry.StaticRoot(), path, req.KeepAlive, 0)
}

// handleUpload writes the request body under the upload root, rejecting
// any path that attempts to escape it via ".." or an absolute path, and
// confirms with a 200 whose body echoes the stored file name.
func (s *Server) handleUpload(w *buffer.Buffer, req *httpmsg.Request) (*httpmsg.Response, error) {
	name := strings.TrimPrefix(req.Path, "/upload")
	name = strings.TrimPrefix(name, "/")

	if name == "" || strings.Contains(name, "..") || filepath.IsAbs(name) {
		httpmsg.ComposeBadRequest(w)
		return &httpmsg.Response{Code: 400}, nil
	}

	dest := filepath.Join(s.registry.UploadRoot(), name)
	if err := os.WriteFile(dest, req.Body, 0o644); err != nil {
		resp := &httpmsg.Response{Code: 500}
		httpmsg.ComposeBadRequest(w)
		return resp, nil
	}

	body := "uploaded " + name
	addUploadOKHeader(w, req.KeepAlive, len(body))
	w.Append([]byte(body))
	return &httpmsg.Response{Code: 200}, nil
}

func addUploadOKHeader(w *buffer.Buffer, keepAlive bool, bodyLen int) {
	w.Append([]byte("HTTP/1.1 200 OK\r\n"))
	if keepAlive {
		w.Append([]byte("Connection: keep-alive\r\n"))
		w.Append([]byte("keep-alive: max=6, timeout=120\r\n"))
	} else {
		w.Append([]byte("Connection: close\r\n"))
	}
	w.Append([]byte("Content-type: text/plain\r\n"))
	w.Append([]byte("Content-length: " + strconv.Itoa(bodyLen) + "\r\n\r\n"))
}
