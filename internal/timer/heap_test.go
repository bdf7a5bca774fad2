package timer

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func TestOrderingNonDecreasing(t *testing.T) {
	clk := &fakeClock{t: time.Unix(0, 0)}
	th := New(clk.now)

	var fired []int
	require.NoError(t, th.Add(1, 30*time.Millisecond, func(fd int) { fired = append(fired, fd) }))
	require.NoError(t, th.Add(2, 10*time.Millisecond, func(fd int) { fired = append(fired, fd) }))
	require.NoError(t, th.Add(3, 20*time.Millisecond, func(fd int) { fired = append(fired, fd) }))

	clk.advance(100 * time.Millisecond)
	next := th.Tick()

	assert.Equal(t, []int{2, 3, 1}, fired)
	assert.Equal(t, -1, next)
}

func TestCancelPreventsFiring(t *testing.T) {
	clk := &fakeClock{t: time.Unix(0, 0)}
	th := New(clk.now)

	fired := false
	require.NoError(t, th.Add(5, 10*time.Millisecond, func(int) { fired = true }))
	th.Cancel(5)

	clk.advance(time.Second)
	th.Tick()

	assert.False(t, fired)
	assert.Equal(t, 0, th.Len())
}

func TestAdjustMovesDeadline(t *testing.T) {
	clk := &fakeClock{t: time.Unix(0, 0)}
	th := New(clk.now)

	var fired []int
	require.NoError(t, th.Add(1, 10*time.Millisecond, func(fd int) { fired = append(fired, fd) }))
	require.NoError(t, th.Add(2, 20*time.Millisecond, func(fd int) { fired = append(fired, fd) }))

	th.Adjust(1, 50*time.Millisecond)

	clk.advance(25 * time.Millisecond)
	th.Tick()
	assert.Equal(t, []int{2}, fired)

	clk.advance(30 * time.Millisecond)
	th.Tick()
	assert.Equal(t, []int{2, 1}, fired)
}

func TestRandomSequenceOrdersAndRespectsCancel(t *testing.T) {
	clk := &fakeClock{t: time.Unix(0, 0)}
	th := New(clk.now)

	rng := rand.New(rand.NewSource(7))
	cancelled := make(map[int]bool)
	deadlines := make(map[int]time.Duration)

	for fd := 0; fd < 200; fd++ {
		d := time.Duration(rng.Intn(1000)) * time.Millisecond
		deadlines[fd] = d
		require.NoError(t, th.Add(fd, d, func(int) {}))
	}
	for fd := 0; fd < 200; fd += 3 {
		th.Cancel(fd)
		cancelled[fd] = true
	}

	var fired []int
	for fd := range deadlines {
		if !cancelled[fd] {
			fdCopy := fd
			th.Cancel(fd)
			require.NoError(t, th.Add(fd, deadlines[fd], func(int) { fired = append(fired, fdCopy) }))
		}
	}

	clk.advance(2 * time.Second)
	th.Tick()

	for i := 1; i < len(fired); i++ {
		assert.LessOrEqual(t, deadlines[fired[i-1]], deadlines[fired[i]])
	}
	for fd := range cancelled {
		for _, f := range fired {
			assert.NotEqual(t, fd, f)
		}
	}
}
