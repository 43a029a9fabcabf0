// Package model defines the records that flow through the import pipeline.
package model

import (
	"strconv"
	"strings"
	"time"
)

// Status is the resolution state of an ImportRecord.
type Status string

const (
	StatusPending             Status = "pending"
	StatusResolving           Status = "resolving"
	StatusSuccess             Status = "success"
	StatusSkipped             Status = "skipped"
	StatusError               Status = "error"
	StatusAwaitingGeolocation Status = "awaiting_geolocation"
)

// Terminal reports whether the status ends a resolution attempt.
func (s Status) Terminal() bool {
	switch s {
	case StatusSuccess, StatusSkipped, StatusError:
		return true
	default:
		return false
	}
}

// Coordinate sources recorded on successful records.
const (
	SourceExisting = "existing"
	SourceGeocoded = "geocoded"
)

// Quality tiers for accepted matches.
const (
	QualityHigh = "high"
	QualityLow  = "low"
)

// Schedule is the structured output of the schedule interpreter. The
// pipeline carries it through to persistence untouched.
type Schedule struct {
	Frequency    string `json:"frequency,omitempty"`
	DaysOfWeek   []int  `json:"days_of_week,omitempty"`
	WeeksOfMonth []int  `json:"weeks_of_month,omitempty"`
}

// IsZero reports whether no schedule information is present.
func (s Schedule) IsZero() bool {
	return s.Frequency == "" && len(s.DaysOfWeek) == 0 && len(s.WeeksOfMonth) == 0
}

// ImportRecord is one spreadsheet row under resolution.
type ImportRecord struct {
	Index        int      `json:"index"`
	ExternalID   string   `json:"external_id,omitempty"`
	Name         string   `json:"name"`
	Address      string   `json:"address"`
	Neighborhood string   `json:"neighborhood,omitempty"`
	City         string   `json:"city"`
	State        string   `json:"state"`
	ZipCode      string   `json:"zip_code,omitempty"`
	Phone        string   `json:"phone,omitempty"`
	Email        string   `json:"email,omitempty"`
	Notes        string   `json:"notes,omitempty"`
	Latitude     *float64 `json:"latitude,omitempty"`
	Longitude    *float64 `json:"longitude,omitempty"`
	Schedule     Schedule `json:"schedule,omitempty"`

	Status           Status    `json:"status"`
	Source           string    `json:"source,omitempty"`
	Variant          string    `json:"variant,omitempty"`
	Quality          string    `json:"quality,omitempty"`
	Score            float64   `json:"score,omitempty"`
	DisplayName      string    `json:"display_name,omitempty"`
	MissingFields    []string  `json:"missing_fields,omitempty"`
	Reason           string    `json:"reason,omitempty"`
	LastError        string    `json:"last_error,omitempty"`
	AttemptedVariant string    `json:"attempted_variant,omitempty"`
	Attempts         int       `json:"attempts,omitempty"`
	ResolvedAt       time.Time `json:"resolved_at,omitempty"`
}

// ValidLatitude reports whether lat is within [-90, 90].
func ValidLatitude(lat float64) bool { return lat >= -90 && lat <= 90 }

// ValidLongitude reports whether lon is within [-180, 180].
func ValidLongitude(lon float64) bool { return lon >= -180 && lon <= 180 }

// HasValidCoordinates reports whether both coordinates are set and in range.
func (r *ImportRecord) HasValidCoordinates() bool {
	if r.Latitude == nil || r.Longitude == nil {
		return false
	}
	return ValidLatitude(*r.Latitude) && ValidLongitude(*r.Longitude)
}

// SetCoordinates stores lat/lon on the record.
func (r *ImportRecord) SetCoordinates(lat, lon float64) {
	r.Latitude = &lat
	r.Longitude = &lon
}

// Key returns the identifier used in logs and error reports: the external id
// when present, otherwise the row index.
func (r *ImportRecord) Key() string {
	if id := strings.TrimSpace(r.ExternalID); id != "" {
		return id
	}
	return "row-" + strconv.Itoa(r.Index)
}

// Reset returns the record to pending, discarding any previous outcome.
func (r *ImportRecord) Reset() {
	r.Status = StatusPending
	r.Source = ""
	r.Variant = ""
	r.Quality = ""
	r.Score = 0
	r.DisplayName = ""
	r.MissingFields = nil
	r.Reason = ""
	r.LastError = ""
	r.AttemptedVariant = ""
	r.Attempts = 0
	r.ResolvedAt = time.Time{}
}
