package sigpipe

import (
	"os"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func waitReadable(t *testing.T, fd int, timeout time.Duration) bool {
	t.Helper()
	deadline := time.Now().Add(timeout)
	fds := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLIN}}
	for time.Now().Before(deadline) {
		n, err := unix.Poll(fds, 50)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			t.Fatalf("poll: %v", err)
		}
		if n > 0 {
			return true
		}
	}
	return false
}

func TestSigintIsDrainedAsShutdown(t *testing.T) {
	p, err := New()
	require.NoError(t, err)
	defer p.Close()

	require.NoError(t, syscall.Kill(os.Getpid(), syscall.SIGINT))
	require.True(t, waitReadable(t, p.ReadFd(), 2*time.Second), "self-pipe never became readable")

	shutdown, err := p.Drain()
	require.NoError(t, err)
	assert.True(t, shutdown)
}

func TestDrainOnIdlePipeIsFalse(t *testing.T) {
	p, err := New()
	require.NoError(t, err)
	defer p.Close()

	shutdown, err := p.Drain()
	require.NoError(t, err)
	assert.False(t, shutdown)
}

func TestClosePipeReleasesFds(t *testing.T) {
	p, err := New()
	require.NoError(t, err)
	require.NoError(t, p.Close())

	_, err = unix.Write(p.writeFd, []byte{0})
	assert.Error(t, err)
}
