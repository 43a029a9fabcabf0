package reconcile

import (
	"context"
	"sort"
	"sync"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/pointsync/internal/model"
	"github.com/sells-group/pointsync/internal/resilience"
	"github.com/sells-group/pointsync/pkg/pointstore"
)

// RecoveryLog persists points removed while replacing duplicates.
// RecordDeletion inserts or replaces the entry with the same ID.
type RecoveryLog interface {
	RecordDeletion(ctx context.Context, entry resilience.DeletionEntry) error
	ListDeletions(ctx context.Context, filter resilience.DeletionFilter) ([]resilience.DeletionEntry, error)
}

// MemoryRecoveryLog is a RecoveryLog held in memory.
type MemoryRecoveryLog struct {
	mu      sync.Mutex
	entries map[string]resilience.DeletionEntry
}

// NewMemoryRecoveryLog creates an empty log.
func NewMemoryRecoveryLog() *MemoryRecoveryLog {
	return &MemoryRecoveryLog{entries: make(map[string]resilience.DeletionEntry)}
}

// RecordDeletion stores entry.
func (m *MemoryRecoveryLog) RecordDeletion(_ context.Context, entry resilience.DeletionEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[entry.ID] = entry
	return nil
}

// ListDeletions returns matching entries, oldest first.
func (m *MemoryRecoveryLog) ListDeletions(_ context.Context, f resilience.DeletionFilter) ([]resilience.DeletionEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []resilience.DeletionEntry
	for _, e := range m.entries {
		if f.JobID != "" && e.JobID != f.JobID {
			continue
		}
		if f.OnlyDeleted && !e.Deleted {
			continue
		}
		if f.OnlyPending && !e.NeedsRestore() {
			continue
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ExternalID < out[j].ExternalID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

// RestoreResult summarizes a Restore run.
type RestoreResult struct {
	Restored []string      `json:"restored"`
	Failed   []RecordError `json:"failed,omitempty"`
}

// Restore writes back every point the recovery log holds as deleted but not
// recreated, optionally limited to one job, and marks the written entries
// restored.
func (e *Engine) Restore(ctx context.Context, jobID string) (*RestoreResult, error) {
	entries, err := e.recovery.ListDeletions(ctx, resilience.DeletionFilter{JobID: jobID, OnlyPending: true})
	if err != nil {
		return nil, eris.Wrap(err, "reconcile: list pending deletions")
	}

	res := &RestoreResult{}
	for _, chunk := range split(entries, e.cfg.CommitChunkSize) {
		points := make([]model.CollectionPoint, len(chunk))
		for i, entry := range chunk {
			points[i] = entry.Point
			points[i].IsActive = true
		}

		out, err := resilience.DoVal(ctx, e.commitRetry(), func(ctx context.Context) (*pointstore.BatchResult, error) {
			return e.store.BatchUpsert(ctx, points)
		})
		if err != nil {
			if ctx.Err() != nil {
				return res, eris.Wrap(ctx.Err(), "reconcile: restore")
			}
			for _, entry := range chunk {
				res.Failed = append(res.Failed, RecordError{ExternalID: entry.ExternalID, Kind: KindProcessing, Message: err.Error()})
			}
			continue
		}

		rejected := make(map[string]string)
		for _, r := range out.Results {
			if !r.Success {
				rejected[r.ExternalID] = r.Error
			}
		}
		for _, entry := range chunk {
			if msg, bad := rejected[entry.ExternalID]; bad {
				res.Failed = append(res.Failed, RecordError{ExternalID: entry.ExternalID, Kind: KindProcessing, Message: msg})
				continue
			}
			entry.Restored = true
			entry.Error = ""
			if err := e.recovery.RecordDeletion(ctx, entry); err != nil {
				zap.L().Warn("reconcile: mark restored", zap.String("external_id", entry.ExternalID), zap.Error(err))
			}
			res.Restored = append(res.Restored, entry.ExternalID)
		}
	}

	zap.L().Info("reconcile: restore complete",
		zap.String("job_id", jobID),
		zap.Int("restored", len(res.Restored)),
		zap.Int("failed", len(res.Failed)),
	)
	return res, nil
}
