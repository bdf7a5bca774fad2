package logging

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewZapSinkWritesWithoutError(t *testing.T) {
	sink, err := NewZapSink(os.Stderr.Fd(), LevelDebug, 16)
	require.NoError(t, err)

	sink.Infof("listening on port %d", 8080)
	sink.Warnf("clients is full")
	sink.Errorf("bind failed: %v", assert.AnError)
	sink.Debugf("trace detail %s", "x")

	assert.NoError(t, sink.Sync())
}

func TestLevelMapping(t *testing.T) {
	assert.Equal(t, LevelError, Level(0))
	assert.Equal(t, LevelDebug, Level(3))
}
