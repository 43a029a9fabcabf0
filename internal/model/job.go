package model

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// JobStatus is the lifecycle state of a BatchJob.
type JobStatus string

const (
	JobStatusIdle      JobStatus = "idle"
	JobStatusRunning   JobStatus = "running"
	JobStatusCancelled JobStatus = "cancelled"
	JobStatusDone      JobStatus = "done"
	JobStatusError     JobStatus = "error"
)

// Counters holds the cumulative tallies of a BatchJob.
type Counters struct {
	Processed int `json:"processed"`
	Success   int `json:"success"`
	Failed    int `json:"failed"`
	Skipped   int `json:"skipped"`
}

// BatchJob owns the ordered record set of one resolution run. Counters and
// records are guarded by mu; the cancel flag is lock-free so it can be set
// from a signal handler.
type BatchJob struct {
	ID        string
	CreatedAt time.Time

	mu        sync.Mutex
	records   []ImportRecord
	counters  Counters
	status    JobStatus
	cancelled atomic.Bool
}

// NewBatchJob creates an idle job over a copy of recs. Indexes are assigned
// from slice position when the caller left them unset.
func NewBatchJob(recs []ImportRecord) *BatchJob {
	owned := make([]ImportRecord, len(recs))
	copy(owned, recs)
	for i := range owned {
		if owned[i].Index == 0 && i != 0 {
			owned[i].Index = i
		}
		if owned[i].Status == "" {
			owned[i].Status = StatusPending
		}
	}
	return &BatchJob{
		ID:        uuid.New().String(),
		CreatedAt: time.Now().UTC(),
		records:   owned,
		status:    JobStatusIdle,
	}
}

// Len returns the number of records in the job.
func (j *BatchJob) Len() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return len(j.records)
}

// Record returns a copy of the record at position i.
func (j *BatchJob) Record(i int) ImportRecord {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.records[i]
}

// Records returns a copy of all records in input order.
func (j *BatchJob) Records() []ImportRecord {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := make([]ImportRecord, len(j.records))
	copy(out, j.records)
	return out
}

// SetRecord writes rec back into position i.
func (j *BatchJob) SetRecord(i int, rec ImportRecord) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.records[i] = rec
}

// Update applies fn to the counters under the job lock.
func (j *BatchJob) Update(fn func(c *Counters)) Counters {
	j.mu.Lock()
	defer j.mu.Unlock()
	fn(&j.counters)
	return j.counters
}

// Counters returns a snapshot of the cumulative counters.
func (j *BatchJob) Counters() Counters {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.counters
}

// Status returns the job status.
func (j *BatchJob) Status() JobStatus {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.status
}

// SetStatus sets the job status.
func (j *BatchJob) SetStatus(s JobStatus) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.status = s
}

// Cancel requests cooperative cancellation. The orchestrator observes it at
// the next chunk boundary.
func (j *BatchJob) Cancel() {
	j.cancelled.Store(true)
}

// Cancelled reports whether Cancel has been called.
func (j *BatchJob) Cancelled() bool {
	return j.cancelled.Load()
}

// Clear discards all records and counters.
func (j *BatchJob) Clear() {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.records = nil
	j.counters = Counters{}
	j.status = JobStatusIdle
}
