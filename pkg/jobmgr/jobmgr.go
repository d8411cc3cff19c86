// Package jobmgr runs named background jobs with cancellation and
// in-memory tracking. A job name is unique while the job runs.
//
// Typical usage:
//
//	jm := jobmgr.NewManager(nil)
//
//	_ = jm.Restart("position:1234", func(ctx context.Context) error {
//	    // tick until ctx is cancelled
//	    return nil
//	})
//
//	jm.Stop("position:1234")
//
// Jobs are removed automatically on completion. Restarting a job cancels the
// previous run before the new one starts.
package jobmgr

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// ErrJobRunning is returned by Start when the name is taken.
var ErrJobRunning = errors.New("job is already running")

// Job represents a running unit of work.
type Job struct {
	Name   string
	cancel context.CancelFunc
	done   chan struct{}
}

// Done is closed when the job's runner has returned.
func (j *Job) Done() <-chan struct{} { return j.done }

// StatusReporter receives lifecycle messages for jobs:
//
//	running:reconnect:main
//	error:reconnect:main:max attempts exceeded
//	done:reconnect:main
type StatusReporter func(string)

// Manager orchestrates starting, stopping and tracking jobs.
// It is safe for concurrent use.
type Manager struct {
	mu       sync.Mutex
	jobs     map[string]*Job
	reporter StatusReporter
}

// NewManager creates a new Manager. The reporter may be nil.
func NewManager(reporter StatusReporter) *Manager {
	return &Manager{
		jobs:     make(map[string]*Job),
		reporter: reporter,
	}
}

// Start runs a job in its own goroutine and returns immediately.
func (m *Manager) Start(name string, runner func(ctx context.Context) error) (*Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.jobs[name]; exists {
		return nil, fmt.Errorf("%w: %s", ErrJobRunning, name)
	}
	return m.startLocked(name, runner), nil
}

// Restart cancels a running job of the same name, if any, and starts runner in its place.
func (m *Manager) Restart(name string, runner func(ctx context.Context) error) *Job {
	m.mu.Lock()
	defer m.mu.Unlock()

	if old, ok := m.jobs[name]; ok {
		old.cancel()
		delete(m.jobs, name)
	}
	return m.startLocked(name, runner)
}

func (m *Manager) startLocked(name string, runner func(ctx context.Context) error) *Job {
	ctx, cancel := context.WithCancel(context.Background())
	job := &Job{Name: name, cancel: cancel, done: make(chan struct{})}
	m.jobs[name] = job

	go func() {
		defer close(job.done)
		defer cancel()
		m.report("running:" + name)

		if err := runner(ctx); err != nil && !errors.Is(err, context.Canceled) {
			m.report("error:" + name + ":" + err.Error())
		} else {
			m.report("done:" + name)
		}

		m.mu.Lock()
		if m.jobs[name] == job {
			delete(m.jobs, name)
		}
		m.mu.Unlock()
	}()
	return job
}

// Stop cancels a running job by name. It reports whether a job was running.
func (m *Manager) Stop(name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[name]
	if !ok {
		return false
	}
	job.cancel()
	delete(m.jobs, name)
	return true
}

// StopPrefix cancels every job whose name starts with prefix.
func (m *Manager) StopPrefix(prefix string) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for name, job := range m.jobs {
		if strings.HasPrefix(name, prefix) {
			job.cancel()
			delete(m.jobs, name)
			n++
		}
	}
	return n
}

// Running reports whether a job with the name is active.
func (m *Manager) Running(name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.jobs[name]
	return ok
}

// List returns the sorted names of active jobs.
func (m *Manager) List() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]string, 0, len(m.jobs))
	for k := range m.jobs {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Status returns a human-readable summary of active jobs.
func (m *Manager) Status() string {
	active := m.List()
	if len(active) == 0 {
		return "No jobs are running."
	}
	return fmt.Sprintf("Running jobs: %s", strings.Join(active, ", "))
}

func (m *Manager) report(s string) {
	if m.reporter != nil {
		m.reporter(s)
	}
}
