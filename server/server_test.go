package server

import (
	"bufio"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/fastpath/evhttpd/config"
	"github.com/fastpath/evhttpd/internal/authpool"
	"github.com/fastpath/evhttpd/internal/registry"
)

type nullSink struct{}

func (nullSink) Debugf(string, ...any) {}
func (nullSink) Infof(string, ...any)  {}
func (nullSink) Warnf(string, ...any)  {}
func (nullSink) Errorf(string, ...any) {}
func (nullSink) Sync() error           { return nil }

func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port
}

func startTestServer(t *testing.T, actor config.ActorMode) (addr string, srcDir string, stop func()) {
	t.Helper()

	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "upload"), 0o755))

	reg := registry.New()
	reg.SetStaticRoot(dir)
	reg.SetUploadRoot(filepath.Join(dir, "upload"))

	cfg := &config.Config{
		Port:           freePort(t),
		Trigger:        config.TriggerLevelLevel,
		TimeoutMS:      60000,
		Actor:          actor,
		ThreadPoolSize: 4,
	}

	s, err := New(cfg, reg, nullSink{}, authpool.NewStaticPool(2))
	require.NoError(t, err)
	require.NoError(t, s.Listen())

	done := make(chan struct{})
	go func() {
		s.Run()
		close(done)
	}()

	stop = func() {
		s.Shutdown()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("server did not shut down in time")
		}
	}

	return "127.0.0.1:" + strconv.Itoa(cfg.Port), dir, stop
}

func TestScenarioAGetIndexHtml200(t *testing.T) {
	addr, dir, stop := startTestServer(t, config.Reactor)
	defer stop()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "index.html"), []byte("<h1>hi</h1>"), 0o644))

	waitForListener(t, addr)

	conn, err := net.DialTimeout("tcp", addr, 2*time.Second)
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte("GET /index.html HTTP/1.1\r\nHost: x\r\n\r\n"))
	require.NoError(t, err)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	line, err := bufio.NewReader(conn).ReadString('\n')
	require.NoError(t, err)
	require.Equal(t, "HTTP/1.1 200 OK\r\n", line)
}

func TestScenarioBGetMissing404(t *testing.T) {
	addr, _, stop := startTestServer(t, config.Reactor)
	defer stop()

	waitForListener(t, addr)

	conn, err := net.DialTimeout("tcp", addr, 2*time.Second)
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte("GET /nope HTTP/1.1\r\nHost: x\r\n\r\n"))
	require.NoError(t, err)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	line, err := bufio.NewReader(conn).ReadString('\n')
	require.NoError(t, err)
	require.Equal(t, "HTTP/1.1 404 Not Found\r\n", line)
}

func TestScenarioCMalformed400(t *testing.T) {
	addr, _, stop := startTestServer(t, config.Reactor)
	defer stop()

	waitForListener(t, addr)

	conn, err := net.DialTimeout("tcp", addr, 2*time.Second)
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte("GARBAGE\r\n\r\n"))
	require.NoError(t, err)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	line, err := bufio.NewReader(conn).ReadString('\n')
	require.NoError(t, err)
	require.Equal(t, "HTTP/1.1 400 Bad Request\r\n", line)
}

func waitForListener(t *testing.T, addr string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		c, err := net.DialTimeout("tcp", addr, 100*time.Millisecond)
		if err == nil {
			c.Close()
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("server never started listening on %s", addr)
}
