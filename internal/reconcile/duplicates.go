package reconcile

import (
	"context"
	"errors"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/pointsync/internal/resilience"
	"github.com/sells-group/pointsync/pkg/pointstore"
)

// Action is what to do with records whose external id already exists.
type Action string

const (
	// ActionAbort stops the import.
	ActionAbort Action = "abort"
	// ActionReplace deletes the stored points and recreates them.
	ActionReplace Action = "replace"
	// ActionUpsert overwrites the stored points in place.
	ActionUpsert Action = "upsert"
)

// ParseAction maps a flag value to an Action.
func ParseAction(s string) (Action, error) {
	switch a := Action(s); a {
	case ActionAbort, ActionReplace, ActionUpsert:
		return a, nil
	default:
		return "", eris.Errorf("reconcile: unknown duplicate action %q", s)
	}
}

// Decision is the caller's answer to a plan's duplicates.
type Decision struct {
	Action Action
	// AllowPartial lets a replace proceed when some deletions failed. The
	// failed records are reported as processing errors and not written.
	AllowPartial bool
}

const replaceReason = "replaced by import"

// ResolveDuplicates applies d to plan. Replace runs in phases: every
// duplicate is logged to the recovery log, deleted, then re-checked; the
// confirmed deletions move to ToCreate. Calling again after a
// PartialDeleteError retries only the ids not yet deleted.
func (e *Engine) ResolveDuplicates(ctx context.Context, plan *Plan, d Decision) error {
	switch d.Action {
	case ActionAbort:
		plan.decision = &d
		return ErrAborted
	case ActionUpsert:
		plan.decision = &d
		return nil
	case ActionReplace:
	default:
		return eris.Errorf("reconcile: unknown duplicate action %q", d.Action)
	}

	if plan.replaced == nil {
		plan.replaced = make(map[string]string)
	}

	failed := e.deleteDuplicates(ctx, plan)
	if err := ctx.Err(); err != nil {
		return eris.Wrap(err, "reconcile: replace duplicates")
	}
	failed = append(failed, e.verifyDeleted(ctx, plan)...)

	if len(failed) > 0 && !d.AllowPartial {
		return &PartialDeleteError{FailedIDs: failed}
	}

	failedSet := make(map[string]bool, len(failed))
	for _, id := range failed {
		failedSet[id] = true
	}

	var kept []Item
	var conflicts []*ConflictError
	for i, it := range plan.ToUpdate {
		id := it.Point.ExternalID
		if failedSet[id] {
			plan.excluded = append(plan.excluded, RecordError{
				Index: it.Index, ExternalID: id, Kind: KindProcessing,
				Message: "não foi possível remover o ponto existente",
			})
			continue
		}
		if _, ok := plan.replaced[id]; ok {
			plan.ToCreate = append(plan.ToCreate, it)
			continue
		}
		kept = append(kept, it)
		conflicts = append(conflicts, plan.Conflicts[i])
	}
	plan.ToUpdate = kept
	plan.Conflicts = conflicts
	plan.decision = &d

	zap.L().Info("reconcile: duplicates replaced",
		zap.String("job_id", plan.JobID),
		zap.Int("replaced", len(plan.replaced)),
		zap.Strings("failed", failed),
	)
	return nil
}

// deleteDuplicates removes every duplicate not already deleted and returns
// the ids whose deletion failed.
func (e *Engine) deleteDuplicates(ctx context.Context, plan *Plan) []string {
	var failed []string
	total := len(plan.ToUpdate)
	processed := 0
	for _, it := range plan.ToUpdate {
		id := it.Point.ExternalID
		if _, done := plan.replaced[id]; done {
			processed++
			continue
		}
		if ctx.Err() != nil {
			return failed
		}

		entry := resilience.NewDeletionEntry(plan.JobID, id, it.Point, replaceReason)
		if err := e.recovery.RecordDeletion(ctx, entry); err != nil {
			// Without a recovery entry the point must not be deleted.
			zap.L().Error("reconcile: record deletion", zap.String("external_id", id), zap.Error(err))
			failed = append(failed, id)
			processed++
			e.emit(ctx, Progress{Phase: PhaseDelete, Processed: processed, Total: total, Errors: len(failed), Success: processed - len(failed)})
			continue
		}

		err := resilience.Do(ctx, e.deleteRetry(), func(ctx context.Context) error {
			return e.store.Delete(ctx, id)
		})
		if errors.Is(err, pointstore.ErrNotFound) {
			err = nil
		}
		if err != nil {
			entry.Error = err.Error()
			zap.L().Warn("reconcile: delete duplicate failed", zap.String("external_id", id), zap.Error(err))
			failed = append(failed, id)
		} else {
			entry.Deleted = true
			plan.replaced[id] = entry.ID
		}
		if err := e.recovery.RecordDeletion(ctx, entry); err != nil {
			zap.L().Error("reconcile: update deletion entry", zap.String("external_id", id), zap.Error(err))
		}

		processed++
		e.emit(ctx, Progress{Phase: PhaseDelete, Processed: processed, Total: total, Errors: len(failed), Success: processed - len(failed)})
	}
	return failed
}

// verifyDeleted re-checks the ids deleted so far. Ids the store still
// reports as existing are dropped from the replaced set and returned.
func (e *Engine) verifyDeleted(ctx context.Context, plan *Plan) []string {
	ids := make([]string, 0, len(plan.replaced))
	for _, it := range plan.ToUpdate {
		if _, ok := plan.replaced[it.Point.ExternalID]; ok {
			ids = append(ids, it.Point.ExternalID)
		}
	}
	if len(ids) == 0 {
		return nil
	}

	var still []string
	for _, chunk := range split(ids, e.cfg.CheckChunkSize) {
		found, unverified := e.checkChunk(ctx, chunk)
		if len(unverified) > 0 {
			// The deletes themselves succeeded; an unreachable check is logged only.
			zap.L().Warn("reconcile: could not verify deletions", zap.Strings("ids", unverified))
		}
		for _, id := range chunk {
			if found[id] {
				still = append(still, id)
				delete(plan.replaced, id)
			}
		}
	}
	return still
}

func (e *Engine) deleteRetry() resilience.RetryConfig {
	return resilience.RetryConfig{
		MaxAttempts:    e.cfg.CommitMaxAttempts,
		InitialBackoff: e.cfg.CheckInitialBackoff,
		MaxBackoff:     e.cfg.CheckMaxBackoff,
		Multiplier:     2,
		JitterFraction: 0.25,
		OnRetry:        resilience.RetryLogger("pointstore", "delete"),
	}
}
