package mcp

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/trionica/catalog-enricher/pkg/runner"
)

// JobStatus represents the current state of an enrichment job
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

func (s JobStatus) active() bool {
	return s == JobStatusPending || s == JobStatusRunning
}

// ErrJobActive is returned when a job is requested while another is active
var ErrJobActive = errors.New("an enrichment job is already active")

// Job is one background run started through a tool call
type Job struct {
	ID           string          `json:"id"`
	Kind         string          `json:"kind"` // Tool that started it
	ItemIDs      []string        `json:"item_ids,omitempty"`
	Force        bool            `json:"force,omitempty"`
	Status       JobStatus       `json:"status"`
	StartedAt    time.Time       `json:"started_at"`
	CompletedAt  time.Time       `json:"completed_at,omitempty"`
	Summary      *runner.Summary `json:"summary,omitempty"`
	ErrorMessage string          `json:"error_message,omitempty"`

	ctx    context.Context
	cancel context.CancelFunc
}

// JobManager tracks background jobs. Only one job may be active because
// runs share the request budget and the key rotation cursor.
type JobManager struct {
	jobs   map[string]*Job
	active string
	mu     sync.RWMutex
}

// NewJobManager creates a new job manager
func NewJobManager() *JobManager {
	return &JobManager{jobs: make(map[string]*Job)}
}

// CreateJob registers a pending job. When a job is already active it is
// returned together with ErrJobActive.
func (m *JobManager) CreateJob(kind string, itemIDs []string, force bool) (*Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if cur, ok := m.jobs[m.active]; ok && cur.Status.active() {
		snapshot := *cur
		return &snapshot, ErrJobActive
	}

	ctx, cancel := context.WithCancel(context.Background())
	job := &Job{
		ID:        uuid.New().String(),
		Kind:      kind,
		ItemIDs:   itemIDs,
		Force:     force,
		Status:    JobStatusPending,
		StartedAt: time.Now(),
		ctx:       ctx,
		cancel:    cancel,
	}
	m.jobs[job.ID] = job
	m.active = job.ID

	snapshot := *job
	return &snapshot, nil
}

// GetJob returns a copy of the job, or nil
func (m *JobManager) GetJob(jobID string) *Job {
	m.mu.RLock()
	defer m.mu.RUnlock()
	job, ok := m.jobs[jobID]
	if !ok {
		return nil
	}
	snapshot := *job
	return &snapshot
}

// Active returns a copy of the active job, or nil
func (m *JobManager) Active() *Job {
	m.mu.RLock()
	defer m.mu.RUnlock()
	job, ok := m.jobs[m.active]
	if !ok || !job.Status.active() {
		return nil
	}
	snapshot := *job
	return &snapshot
}

// UpdateStatus moves a job to status; terminal states free the active slot
func (m *JobManager) UpdateStatus(jobID string, status JobStatus, errorMsg string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[jobID]
	if !ok || job.Status == JobStatusCancelled {
		return
	}
	job.Status = status
	if !status.active() {
		job.CompletedAt = time.Now()
		job.cancel()
		if m.active == jobID {
			m.active = ""
		}
	}
	if errorMsg != "" {
		job.ErrorMessage = errorMsg
	}
}

// Finish records the run summary and the terminal status derived from err
func (m *JobManager) Finish(jobID string, sum runner.Summary, err error) {
	m.mu.Lock()
	if job, ok := m.jobs[jobID]; ok {
		s := sum
		job.Summary = &s
	}
	m.mu.Unlock()

	switch {
	case err == nil:
		m.UpdateStatus(jobID, JobStatusCompleted, "")
	case errors.Is(err, context.Canceled):
		m.UpdateStatus(jobID, JobStatusCancelled, "")
	default:
		m.UpdateStatus(jobID, JobStatusFailed, err.Error())
	}
}

// CancelJob cancels an active job
func (m *JobManager) CancelJob(jobID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[jobID]
	if !ok || !job.Status.active() {
		return false
	}
	job.cancel()
	job.Status = JobStatusCancelled
	job.CompletedAt = time.Now()
	if m.active == jobID {
		m.active = ""
	}
	return true
}

// CancelAll cancels every active job
func (m *JobManager) CancelAll() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, job := range m.jobs {
		if job.Status.active() {
			job.cancel()
			job.Status = JobStatusCancelled
			job.CompletedAt = time.Now()
		}
	}
	m.active = ""
}

// ListJobs returns copies of all jobs, newest first
func (m *JobManager) ListJobs() []*Job {
	m.mu.RLock()
	defer m.mu.RUnlock()

	jobs := make([]*Job, 0, len(m.jobs))
	for _, job := range m.jobs {
		snapshot := *job
		jobs = append(jobs, &snapshot)
	}
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].StartedAt.After(jobs[j].StartedAt) })
	return jobs
}

// GetContext returns the context a job's run must use
func (m *JobManager) GetContext(jobID string) context.Context {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if job, ok := m.jobs[jobID]; ok {
		return job.ctx
	}
	return context.Background()
}
