package jobmgr

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func blocker(ctx context.Context) error {
	<-ctx.Done()
	return ctx.Err()
}

func TestStartStop(t *testing.T) {
	var (
		mu      sync.Mutex
		reports []string
	)
	m := NewManager(func(s string) {
		mu.Lock()
		reports = append(reports, s)
		mu.Unlock()
	})

	job, err := m.Start("position:1", blocker)
	require.NoError(t, err)
	_, err = m.Start("position:1", blocker)
	assert.ErrorIs(t, err, ErrJobRunning)
	assert.True(t, m.Running("position:1"))

	assert.True(t, m.Stop("position:1"))
	assert.False(t, m.Stop("position:1"))
	<-job.Done()
	assert.False(t, m.Running("position:1"))
	assert.Equal(t, "No jobs are running.", m.Status())

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"running:position:1", "done:position:1"}, reports)
}

func TestRestartReplacesRun(t *testing.T) {
	m := NewManager(nil)
	first := m.Restart("node:a:reconnect", blocker)
	second := m.Restart("node:a:reconnect", blocker)

	<-first.Done()
	// the old run finishing must not unregister the new one
	assert.True(t, m.Running("node:a:reconnect"))
	assert.Equal(t, []string{"node:a:reconnect"}, m.List())

	m.Stop("node:a:reconnect")
	<-second.Done()
}

func TestStopPrefixAndCompletion(t *testing.T) {
	m := NewManager(nil)
	for _, name := range []string{"position:1", "position:2", "node:x:reconnect"} {
		_, err := m.Start(name, blocker)
		require.NoError(t, err)
	}
	assert.Equal(t, 2, m.StopPrefix("position:"))
	assert.Equal(t, []string{"node:x:reconnect"}, m.List())
	assert.Contains(t, m.Status(), "node:x:reconnect")
	m.Stop("node:x:reconnect")

	errJob, err := m.Start("failing", func(context.Context) error { return errors.New("boom") })
	require.NoError(t, err)
	<-errJob.Done()
	require.Eventually(t, func() bool { return !m.Running("failing") }, time.Second, time.Millisecond)
}
