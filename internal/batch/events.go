package batch

import (
	"time"

	"github.com/sells-group/pointsync/internal/model"
)

// Event is a message on the orchestrator's progress stream. It is one of
// ProgressEvent, ChunkFailedEvent or DoneEvent.
type Event interface {
	event()
}

// ProgressEvent is emitted after every chunk is merged.
type ProgressEvent struct {
	Chunk     int           `json:"chunk"`
	Chunks    int           `json:"chunks"`
	Processed int           `json:"processed"`
	Total     int           `json:"total"`
	Success   int           `json:"success"`
	Errors    int           `json:"errors"`
	Skipped   int           `json:"skipped"`
	Percent   float64       `json:"percent"`
	ETA       time.Duration `json:"eta"`
}

// ChunkFailedEvent reports a chunk that failed as a whole. Its records are
// counted as errors and the run continues.
type ChunkFailedEvent struct {
	Chunk   int    `json:"chunk"`
	Indices []int  `json:"indices"`
	Class   string `json:"class"`
	Err     error  `json:"-"`
}

// DoneEvent is always the last event of a run.
type DoneEvent struct {
	Status  model.JobStatus `json:"status"`
	Summary Summary         `json:"summary"`
}

func (ProgressEvent) event()    {}
func (ChunkFailedEvent) event() {}
func (DoneEvent) event()        {}

// Outcome classifies a finished run for the operator.
type Outcome string

const (
	OutcomeNone           Outcome = "none"
	OutcomeAllSucceeded   Outcome = "all_succeeded"
	OutcomePartialSuccess Outcome = "partial_success"
	OutcomeMostlyFailed   Outcome = "mostly_failed"
)

// Summary holds the final totals of a run.
type Summary struct {
	Total     int           `json:"total"`
	Processed int           `json:"processed"`
	Success   int           `json:"success"`
	Failed    int           `json:"failed"`
	Skipped   int           `json:"skipped"`
	Pending   int           `json:"pending"`
	Elapsed   time.Duration `json:"elapsed"`
}

// SuccessRate is Success over Processed, or zero when nothing ran.
func (s Summary) SuccessRate() float64 {
	if s.Processed == 0 {
		return 0
	}
	return float64(s.Success) / float64(s.Processed)
}

// Outcome reports all_succeeded when every processed record succeeded,
// mostly_failed when the success rate is at or below one half, and
// partial_success otherwise.
func (s Summary) Outcome() Outcome {
	switch {
	case s.Processed == 0:
		return OutcomeNone
	case s.Success == s.Processed:
		return OutcomeAllSucceeded
	case s.SuccessRate() <= 0.5:
		return OutcomeMostlyFailed
	default:
		return OutcomePartialSuccess
	}
}

// Drain consumes events until the stream closes, passing each to fn when fn
// is non-nil, and returns the final DoneEvent.
func Drain(events <-chan Event, fn func(Event)) DoneEvent {
	var done DoneEvent
	for ev := range events {
		if fn != nil {
			fn(ev)
		}
		if d, ok := ev.(DoneEvent); ok {
			done = d
		}
	}
	return done
}
