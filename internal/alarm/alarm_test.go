package alarm

import (
	"bytes"
	"os/exec"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestPlayer_BellUntilStopped(t *testing.T) {
	out := &syncBuffer{}
	p := NewPlayer("", out)

	require.NoError(t, p.Play())
	assert.True(t, p.Playing())
	assert.Eventually(t, func() bool { return strings.Contains(out.String(), "\a") }, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, p.Stop())
	assert.False(t, p.Playing())
	require.NoError(t, p.Stop())
}

func TestPlayer_PlayIsIdempotent(t *testing.T) {
	out := &syncBuffer{}
	p := NewPlayer("", out)
	defer p.Close()

	require.NoError(t, p.Play())
	require.NoError(t, p.Play())
	require.NoError(t, p.Play())

	// one loop rings once per interval, so three loops would ring three times
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 1, strings.Count(out.String(), "\a"))
}

func TestPlayer_StopKillsCommand(t *testing.T) {
	if _, err := exec.LookPath("sleep"); err != nil {
		t.Skip("sleep not available")
	}
	p := NewPlayer("sleep 30", nil)

	require.NoError(t, p.Play())
	time.Sleep(50 * time.Millisecond)

	start := time.Now()
	require.NoError(t, p.Stop())
	assert.Less(t, time.Since(start), 5*time.Second)
	assert.False(t, p.Playing())

	// playable again after a stop
	require.NoError(t, p.Play())
	assert.True(t, p.Playing())
	require.NoError(t, p.Close())
}

func TestPlayer_MissingCommandFallsBackToBell(t *testing.T) {
	out := &syncBuffer{}
	p := NewPlayer("definitely-not-an-alarm-binary --loud", out)
	defer p.Close()

	require.NoError(t, p.Play())
	assert.Eventually(t, func() bool { return strings.Contains(out.String(), "\a") }, 5*time.Second, 10*time.Millisecond)
}

func TestPlayer_ImplementsActuator(t *testing.T) {
	var _ Actuator = NewPlayer("", nil)
}
