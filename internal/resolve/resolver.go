// Package resolve turns one import record into coordinates by trying its
// query variants against the geocoder in priority order.
package resolve

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/pointsync/internal/address"
	"github.com/sells-group/pointsync/internal/model"
	"github.com/sells-group/pointsync/pkg/geocode"
)

// Resolver runs the per-record state machine
// pending -> resolving -> success | error | skipped.
type Resolver struct {
	searcher geocode.Searcher
	scorer   *geocode.Scorer
	now      func() time.Time
}

// New creates a Resolver. A nil scorer uses the default weights.
func New(searcher geocode.Searcher, scorer *geocode.Scorer) *Resolver {
	if scorer == nil {
		scorer = geocode.NewScorer(geocode.DefaultScoreWeights())
	}
	return &Resolver{searcher: searcher, scorer: scorer, now: time.Now}
}

// MissingFields lists the labels of required fields that are blank.
func MissingFields(rec model.ImportRecord) []string {
	var missing []string
	if strings.TrimSpace(rec.Address) == "" {
		missing = append(missing, FieldAddress)
	}
	if strings.TrimSpace(rec.City) == "" {
		missing = append(missing, FieldCity)
	}
	return missing
}

// Resolve returns rec in a terminal state. It never returns an error: every
// failure is recorded on the record itself.
func (r *Resolver) Resolve(ctx context.Context, rec model.ImportRecord) model.ImportRecord {
	rec.Reset()
	rec.Status = model.StatusResolving

	if rec.HasValidCoordinates() {
		rec.Status = model.StatusSuccess
		rec.Source = model.SourceExisting
		rec.ResolvedAt = r.now().UTC()
		return rec
	}

	if missing := MissingFields(rec); len(missing) > 0 {
		err := &InsufficientDataError{Missing: missing}
		rec.Status = model.StatusSkipped
		rec.MissingFields = missing
		rec.Reason = strings.Join(missing, ", ")
		rec.LastError = err.Error()
		rec.ResolvedAt = r.now().UTC()
		zap.L().Debug("resolve: record skipped",
			zap.String("record", rec.Key()),
			zap.Strings("missing", missing),
		)
		return rec
	}

	var lastErr error
	for _, v := range address.BuildVariants(rec) {
		if !v.Usable() {
			continue
		}
		if ctx.Err() != nil {
			lastErr = ctx.Err()
			break
		}

		rec.Attempts++
		rec.AttemptedVariant = string(v.Kind)

		cands, err := r.searcher.Search(ctx, v.Query)
		if err != nil {
			lastErr = err
			zap.L().Debug("resolve: variant failed",
				zap.String("record", rec.Key()),
				zap.String("variant", string(v.Kind)),
				zap.Error(err),
			)
			if errors.Is(err, context.Canceled) {
				break
			}
			continue
		}

		best, score, ok := r.scorer.Best(cands, rec.City, rec.State)
		if !ok {
			lastErr = geocode.ErrNoResults
			continue
		}
		if !r.scorer.Acceptable(score) {
			lastErr = &geocode.LowQualityError{Score: score, Threshold: r.scorer.Weights().Threshold}
			continue
		}

		rec.SetCoordinates(best.Latitude, best.Longitude)
		rec.Status = model.StatusSuccess
		rec.Source = model.SourceGeocoded
		rec.Variant = string(v.Kind)
		rec.Quality = model.QualityHigh
		rec.Score = score
		rec.DisplayName = best.DisplayName
		rec.ResolvedAt = r.now().UTC()
		return rec
	}

	if lastErr == nil {
		lastErr = &InsufficientDataError{}
	}
	rec.Status = model.StatusError
	rec.Reason = Reason(lastErr)
	rec.LastError = lastErr.Error()
	rec.ResolvedAt = r.now().UTC()
	zap.L().Debug("resolve: record failed",
		zap.String("record", rec.Key()),
		zap.Int("attempts", rec.Attempts),
		zap.String("reason", rec.Reason),
	)
	return rec
}
