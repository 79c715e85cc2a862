// Package jobs runs transcodes concurrently and tracks the active ones,
// keyed by output so two jobs never write the same target.
package jobs

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Job is one running transcode.
type Job struct {
	ID        uuid.UUID
	Input     string
	Output    string
	StartedAt time.Time
	done      chan struct{}
}

// Done is closed when the job is removed from its manager.
func (j *Job) Done() <-chan struct{} { return j.done }

// Manager tracks active jobs by output.
type Manager struct {
	log  *slog.Logger
	mu   sync.RWMutex
	jobs map[string]*Job
}

// NewManager creates a new job manager. If log is nil, slog.Default() is used.
func NewManager(log *slog.Logger) *Manager {
	if log == nil {
		log = slog.Default()
	}
	return &Manager{
		log:  log.With("component", "job-manager"),
		jobs: make(map[string]*Job),
	}
}

// Create registers a job writing output. It returns nil and false if a
// job already writes that output.
func (m *Manager) Create(input, output string) (*Job, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if prev, ok := m.jobs[output]; ok {
		m.log.Warn("output already in use, rejecting job", "output", output, "job", prev.ID)
		return nil, false
	}

	j := &Job{
		ID:        uuid.New(),
		Input:     input,
		Output:    output,
		StartedAt: time.Now(),
		done:      make(chan struct{}),
	}
	m.jobs[output] = j
	m.log.Debug("job created", "job", j.ID, "input", input, "output", output)
	return j, true
}

// Remove unregisters the job writing output.
func (m *Manager) Remove(output string) {
	m.mu.Lock()
	j, ok := m.jobs[output]
	if ok {
		delete(m.jobs, output)
	}
	m.mu.Unlock()

	if ok {
		close(j.done)
		m.log.Debug("job removed", "job", j.ID, "output", output)
	}
}

// List returns the active jobs, oldest first.
func (m *Manager) List() []*Job {
	m.mu.RLock()
	jobs := make([]*Job, 0, len(m.jobs))
	for _, j := range m.jobs {
		jobs = append(jobs, j)
	}
	m.mu.RUnlock()

	sort.Slice(jobs, func(a, b int) bool { return jobs[a].StartedAt.Before(jobs[b].StartedAt) })
	return jobs
}
