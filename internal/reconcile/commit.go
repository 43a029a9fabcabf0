package reconcile

import (
	"context"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/pointsync/internal/model"
	"github.com/sells-group/pointsync/internal/resilience"
	"github.com/sells-group/pointsync/pkg/pointstore"
)

// CommitResult summarizes a commit.
type CommitResult struct {
	Created    int           `json:"created"`
	Updated    int           `json:"updated"`
	Errors     []RecordError `json:"errors,omitempty"`
	Unverified []string      `json:"unverified,omitempty"`
	Elapsed    time.Duration `json:"elapsed"`
}

// ValidationErrors returns the errors of kind validation.
func (r *CommitResult) ValidationErrors() []RecordError { return r.byKind(KindValidation) }

// ProcessingErrors returns the errors of kind processing.
func (r *CommitResult) ProcessingErrors() []RecordError { return r.byKind(KindProcessing) }

func (r *CommitResult) byKind(k ErrorKind) []RecordError {
	var out []RecordError
	for _, e := range r.Errors {
		if e.Kind == k {
			out = append(out, e)
		}
	}
	return out
}

// Commit writes the plan's records in chunks. A plan with duplicates needs a
// decision first. The whole commit is bounded by the configured timeout; on
// expiry a *CommitTimeoutError carries what was written.
func (e *Engine) Commit(ctx context.Context, plan *Plan) (*CommitResult, error) {
	if plan.HasConflicts() && plan.decision == nil {
		return nil, ErrUndecided
	}
	if plan.decision != nil && plan.decision.Action == ActionAbort {
		return nil, ErrAborted
	}

	start := time.Now()
	res := &CommitResult{Unverified: plan.Unverified}
	res.Errors = append(res.Errors, plan.ValidationErrors...)
	res.Errors = append(res.Errors, plan.excluded...)

	items := append([]Item(nil), plan.ToCreate...)
	if plan.decision != nil && plan.decision.Action == ActionUpsert {
		items = append(items, plan.ToUpdate...)
	}

	cctx, cancel := context.WithTimeout(ctx, e.cfg.CommitTimeout)
	defer cancel()

	processed := 0
	for _, chunk := range split(items, e.cfg.CommitChunkSize) {
		if err := cctx.Err(); err != nil {
			return e.commitAborted(ctx, res, start, err)
		}

		written := e.commitChunk(cctx, plan, chunk, res)
		if err := cctx.Err(); err != nil && written == 0 {
			return e.commitAborted(ctx, res, start, err)
		}

		processed += len(chunk)
		e.emit(cctx, Progress{
			Phase:     PhaseCommit,
			Processed: processed,
			Total:     len(items),
			Success:   res.Created + res.Updated,
			Errors:    len(res.ProcessingErrors()),
		})
	}

	res.Elapsed = time.Since(start)
	zap.L().Info("reconcile: commit complete",
		zap.String("job_id", plan.JobID),
		zap.Int("created", res.Created),
		zap.Int("updated", res.Updated),
		zap.Int("errors", len(res.Errors)),
		zap.Duration("elapsed", res.Elapsed),
	)
	return res, nil
}

// commitAborted maps the end of the commit context to the right error: a
// deadline of our own is a timeout, anything else is the caller's.
func (e *Engine) commitAborted(parent context.Context, res *CommitResult, start time.Time, err error) (*CommitResult, error) {
	res.Elapsed = time.Since(start)
	if errors.Is(err, context.DeadlineExceeded) && parent.Err() == nil {
		zap.L().Error("reconcile: commit timed out",
			zap.Duration("timeout", e.cfg.CommitTimeout),
			zap.Int("created", res.Created),
			zap.Int("updated", res.Updated),
		)
		return res, &CommitTimeoutError{Timeout: e.cfg.CommitTimeout, Partial: res}
	}
	return res, eris.Wrap(err, "reconcile: commit")
}

// commitChunk upserts one chunk, retrying transient failures, and folds the
// outcome into res. It returns how many points the store accepted.
func (e *Engine) commitChunk(ctx context.Context, plan *Plan, chunk []Item, res *CommitResult) int {
	points := make([]model.CollectionPoint, len(chunk))
	for i, it := range chunk {
		points[i] = it.Point
	}

	out, err := resilience.DoVal(ctx, e.commitRetry(), func(ctx context.Context) (*pointstore.BatchResult, error) {
		return e.store.BatchUpsert(ctx, points)
	})
	if err != nil {
		zap.L().Warn("reconcile: commit chunk failed", zap.Int("points", len(points)), zap.Error(err))
		for _, it := range chunk {
			res.Errors = append(res.Errors, RecordError{
				Index: it.Index, ExternalID: it.Point.ExternalID, Kind: KindProcessing, Message: err.Error(),
			})
		}
		return 0
	}

	res.Created += out.Created
	res.Updated += out.Updated

	// Results without an external id cannot be matched by key, so they are
	// consumed in order by the chunk's id-less points.
	failed := make(map[string]string)
	var anonOK int
	var anonFailed []string
	for _, r := range out.Results {
		switch {
		case r.ExternalID == "" && r.Success:
			anonOK++
		case r.ExternalID == "":
			anonFailed = append(anonFailed, r.Error)
		case !r.Success:
			failed[r.ExternalID] = r.Error
		}
	}
	for _, it := range chunk {
		id := it.Point.ExternalID
		if id == "" {
			if anonOK > 0 {
				anonOK--
				continue
			}
			msg := "ID externo ausente: ponto ignorado pelo servidor"
			if len(anonFailed) > 0 {
				if anonFailed[0] != "" {
					msg = anonFailed[0]
				}
				anonFailed = anonFailed[1:]
			}
			res.Errors = append(res.Errors, RecordError{Index: it.Index, Kind: KindProcessing, Message: msg})
			continue
		}
		if msg, bad := failed[id]; bad {
			if msg == "" {
				msg = "rejeitado pelo servidor"
			}
			res.Errors = append(res.Errors, RecordError{Index: it.Index, ExternalID: id, Kind: KindProcessing, Message: msg})
			continue
		}
		e.markRestored(ctx, plan, id)
	}
	return out.Created + out.Updated
}

// markRestored flags the recovery entry of a replaced id once its new
// version is written.
func (e *Engine) markRestored(ctx context.Context, plan *Plan, id string) {
	entryID, ok := plan.replaced[id]
	if !ok {
		return
	}
	entries, err := e.recovery.ListDeletions(ctx, resilience.DeletionFilter{JobID: plan.JobID, OnlyPending: true})
	if err != nil {
		zap.L().Warn("reconcile: list deletions", zap.Error(err))
		return
	}
	for _, entry := range entries {
		if entry.ID != entryID {
			continue
		}
		entry.Restored = true
		if err := e.recovery.RecordDeletion(ctx, entry); err != nil {
			zap.L().Warn("reconcile: mark restored", zap.String("external_id", id), zap.Error(err))
		}
		return
	}
}

func (e *Engine) commitRetry() resilience.RetryConfig {
	return resilience.RetryConfig{
		MaxAttempts:    e.cfg.CommitMaxAttempts,
		InitialBackoff: e.cfg.CheckInitialBackoff,
		MaxBackoff:     e.cfg.CheckMaxBackoff,
		Multiplier:     2,
		JitterFraction: 0.25,
		OnRetry:        resilience.RetryLogger("pointstore", "batch_upsert"),
	}
}
