// Package store persists collection points and the deletion recovery log.
package store

import (
	"context"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/pointsync/internal/model"
	"github.com/sells-group/pointsync/internal/resilience"
	"github.com/sells-group/pointsync/pkg/pointstore"
)

// ErrNotFound is returned when no active point has the requested external id.
var ErrNotFound = eris.New("store: point not found")

// missingExternalID is reported for points the batch upsert skips.
const missingExternalID = "external_id ausente"

// ListFilter specifies criteria for listing points.
type ListFilter struct {
	City            string `json:"city,omitempty"`
	State           string `json:"state,omitempty"`
	IncludeInactive bool   `json:"include_inactive,omitempty"`
	Limit           int    `json:"limit,omitempty"`
	Offset          int    `json:"offset,omitempty"`
}

// Store defines the persistence interface behind the collection-points API.
type Store interface {
	// Points
	CheckExisting(ctx context.Context, ids []string) (map[string]bool, error)
	UpsertBatch(ctx context.Context, points []model.CollectionPoint) (*pointstore.BatchResult, error)
	DeleteByExternalID(ctx context.Context, externalID string) error
	Get(ctx context.Context, externalID string) (*model.CollectionPoint, error)
	List(ctx context.Context, filter ListFilter) ([]model.CollectionPoint, error)

	// Recovery log
	RecordDeletion(ctx context.Context, entry resilience.DeletionEntry) error
	ListDeletions(ctx context.Context, filter resilience.DeletionFilter) ([]resilience.DeletionEntry, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

// Open returns the store for driver ("sqlite" or "postgres").
func Open(ctx context.Context, driver, dsn string, poolCfg *PoolConfig) (Store, error) {
	switch strings.ToLower(driver) {
	case "", "sqlite":
		return NewSQLite(dsn)
	case "postgres", "postgresql", "pgx":
		return NewPostgres(ctx, dsn, poolCfg)
	default:
		return nil, eris.Errorf("store: unknown driver %q", driver)
	}
}

// splitByExternalID separates points the store can key from those it skips.
func splitByExternalID(points []model.CollectionPoint) (keyed []model.CollectionPoint, skipped []pointstore.PointResult) {
	seen := make(map[string]int, len(points))
	for _, p := range points {
		p.ExternalID = strings.TrimSpace(p.ExternalID)
		if p.ExternalID == "" {
			skipped = append(skipped, pointstore.PointResult{Error: missingExternalID})
			continue
		}
		// The last occurrence of a repeated id wins.
		if i, dup := seen[p.ExternalID]; dup {
			keyed[i] = p
			continue
		}
		seen[p.ExternalID] = len(keyed)
		keyed = append(keyed, p)
	}
	return keyed, skipped
}

func listLimit(n int) int {
	if n <= 0 {
		return 100
	}
	return n
}
