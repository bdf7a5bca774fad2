package httpmsg

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCompleteSimpleGet(t *testing.T) {
	raw := []byte("GET /index.html HTTP/1.1\r\nHost: x\r\n\r\n")
	outcome, req, consumed, err := Parse(raw)
	require.NoError(t, err)
	require.Equal(t, Complete, outcome)
	assert.Equal(t, len(raw), consumed)
	assert.Equal(t, "GET", req.Method)
	assert.Equal(t, "/index.html", req.Path)
	assert.Equal(t, "HTTP/1.1", req.Proto)
	host, ok := req.Header("host")
	assert.True(t, ok)
	assert.Equal(t, "x", host)
}

func TestParseNeedsMoreOnTruncatedHeaders(t *testing.T) {
	raw := []byte("GET /index.html HTTP/1.1\r\nHost: x\r\n")
	outcome, req, _, err := Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, NeedsMore, outcome)
	assert.Nil(t, req)
}

func TestParseNeedsMoreOnPartialBody(t *testing.T) {
	raw := []byte("POST /upload HTTP/1.1\r\nContent-length: 10\r\n\r\nabc")
	outcome, _, _, err := Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, NeedsMore, outcome)
}

func TestParseCompleteWithBody(t *testing.T) {
	raw := []byte("POST /upload HTTP/1.1\r\nContent-length: 3\r\n\r\nabcEXTRA")
	outcome, req, consumed, err := Parse(raw)
	require.NoError(t, err)
	require.Equal(t, Complete, outcome)
	assert.Equal(t, []byte("abc"), req.Body)
	assert.Equal(t, len(raw)-len("EXTRA"), consumed)
}

func TestParseMalformedGarbage(t *testing.T) {
	outcome, req, _, err := Parse([]byte("GARBAGE\r\n\r\n"))
	assert.Equal(t, Malformed, outcome)
	assert.Nil(t, req)
	assert.Error(t, err)
}

func TestParseKeepAliveDetection(t *testing.T) {
	raw := []byte("GET / HTTP/1.1\r\nConnection: keep-alive\r\n\r\n")
	_, req, _, err := Parse(raw)
	require.NoError(t, err)
	assert.True(t, req.KeepAlive)
}

func TestParseQueryString(t *testing.T) {
	raw := []byte("GET /search?q=go&empty HTTP/1.1\r\n\r\n")
	_, req, _, err := Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, "/search", req.Path)
	assert.Equal(t, "go", req.Query["q"])
	_, ok := req.Query["empty"]
	assert.True(t, ok)
}

func TestParseRejectsInvalidHeaderValue(t *testing.T) {
	raw := []byte("GET / HTTP/1.1\r\nX-Bad: a\x00b\r\n\r\n")
	outcome, _, _, _ := Parse(raw)
	assert.Equal(t, Malformed, outcome)
}
