package resilience

import (
	"time"

	"github.com/google/uuid"

	"github.com/sells-group/pointsync/internal/model"
)

// DeletionEntry records a point removed during duplicate replacement, so an
// operator can restore it if the subsequent create fails.
type DeletionEntry struct {
	ID         string                `json:"id"`
	JobID      string                `json:"job_id"`
	ExternalID string                `json:"external_id"`
	Point      model.CollectionPoint `json:"point"`
	Reason     string                `json:"reason"`
	Deleted    bool                  `json:"deleted"`
	Error      string                `json:"error,omitempty"`
	Restored   bool                  `json:"restored"`
	CreatedAt  time.Time             `json:"created_at"`
}

// NewDeletionEntry builds a pending entry for externalID. Deleted stays false
// until the delete call is confirmed.
func NewDeletionEntry(jobID, externalID string, point model.CollectionPoint, reason string) DeletionEntry {
	return DeletionEntry{
		ID:         uuid.New().String(),
		JobID:      jobID,
		ExternalID: externalID,
		Point:      point,
		Reason:     reason,
		CreatedAt:  time.Now().UTC(),
	}
}

// DeletionFilter specifies criteria for querying the recovery log.
type DeletionFilter struct {
	JobID       string `json:"job_id,omitempty"`
	OnlyDeleted bool   `json:"only_deleted,omitempty"`
	OnlyPending bool   `json:"only_pending,omitempty"` // deleted but not restored
	Limit       int    `json:"limit,omitempty"`
}

// NeedsRestore reports whether the entry describes a deleted point that was
// never recreated or restored.
func (e *DeletionEntry) NeedsRestore() bool {
	return e.Deleted && !e.Restored
}
