package model

import (
	"math"
	"strconv"
	"strings"
	"time"
)

// CollectionPoint is the persisted shape of a collection point, as accepted
// by the backing store's batch endpoint.
type CollectionPoint struct {
	ID           int64     `json:"id,omitempty"`
	ExternalID   string    `json:"external_id,omitempty"`
	Name         string    `json:"name"`
	Address      string    `json:"address"`
	Neighborhood string    `json:"neighborhood,omitempty"`
	City         string    `json:"city"`
	State        string    `json:"state,omitempty"`
	ZipCode      string    `json:"zip_code,omitempty"`
	Phone        string    `json:"phone,omitempty"`
	Email        string    `json:"email,omitempty"`
	Notes        string    `json:"notes,omitempty"`
	Latitude     *float64  `json:"latitude,omitempty"`
	Longitude    *float64  `json:"longitude,omitempty"`
	Frequency    string    `json:"frequency,omitempty"`
	DaysOfWeek   string    `json:"days_of_week,omitempty"`
	WeeksOfMonth string    `json:"weeks_of_month,omitempty"`
	IsActive     bool      `json:"is_active"`
	CreatedAt    time.Time `json:"created_at,omitempty"`
	UpdatedAt    time.Time `json:"updated_at,omitempty"`
}

// RoundCoordinate rounds to 6 decimal places (~0.1m).
func RoundCoordinate(v float64) float64 {
	return math.Round(v*1e6) / 1e6
}

// PointFromRecord converts a resolved record to its persisted shape.
func PointFromRecord(r ImportRecord) CollectionPoint {
	p := CollectionPoint{
		ExternalID:   strings.TrimSpace(r.ExternalID),
		Name:         strings.TrimSpace(r.Name),
		Address:      strings.TrimSpace(r.Address),
		Neighborhood: strings.TrimSpace(r.Neighborhood),
		City:         strings.TrimSpace(r.City),
		State:        strings.ToUpper(strings.TrimSpace(r.State)),
		ZipCode:      strings.TrimSpace(r.ZipCode),
		Phone:        strings.TrimSpace(r.Phone),
		Email:        strings.TrimSpace(r.Email),
		Notes:        r.Notes,
		Frequency:    r.Schedule.Frequency,
		DaysOfWeek:   JoinInts(r.Schedule.DaysOfWeek),
		WeeksOfMonth: JoinInts(r.Schedule.WeeksOfMonth),
		IsActive:     true,
	}
	if r.HasValidCoordinates() {
		lat := RoundCoordinate(*r.Latitude)
		lon := RoundCoordinate(*r.Longitude)
		p.Latitude = &lat
		p.Longitude = &lon
	}
	return p
}

// JoinInts renders []int{1,3} as "1,3".
func JoinInts(vals []int) string {
	if len(vals) == 0 {
		return ""
	}
	parts := make([]string, len(vals))
	for i, v := range vals {
		parts[i] = strconv.Itoa(v)
	}
	return strings.Join(parts, ",")
}

// SplitInts parses "1,3" into []int{1,3}, ignoring malformed entries.
func SplitInts(s string) []int {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	var out []int
	for _, part := range strings.Split(s, ",") {
		n, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil {
			continue
		}
		out = append(out, n)
	}
	return out
}
