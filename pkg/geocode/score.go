package geocode

import (
	"github.com/sells-group/pointsync/internal/address"
)

// ScoreWeights parameterizes candidate scoring. The defaults are the
// historical constants; they are configurable because their derivation is
// unknown.
type ScoreWeights struct {
	Importance    float64 `mapstructure:"importance"`
	Type          float64 `mapstructure:"type"`
	CityBonus     float64 `mapstructure:"city_bonus"`
	StateBonus    float64 `mapstructure:"state_bonus"`
	Threshold     float64 `mapstructure:"threshold"`
	LowImportance float64 `mapstructure:"low_importance"`
}

// DefaultScoreWeights returns 0.7/0.3 weights, 0.2/0.1 location bonuses and
// a 0.5 acceptance threshold.
func DefaultScoreWeights() ScoreWeights {
	return ScoreWeights{
		Importance:    0.7,
		Type:          0.3,
		CityBonus:     0.2,
		StateBonus:    0.1,
		Threshold:     0.5,
		LowImportance: 0.3,
	}
}

// Scorer ranks candidates against the record they were searched for.
type Scorer struct {
	w ScoreWeights
}

// NewScorer creates a Scorer with w.
func NewScorer(w ScoreWeights) *Scorer {
	return &Scorer{w: w}
}

// Weights returns the scorer's weights.
func (s *Scorer) Weights() ScoreWeights { return s.w }

// TypeWeight rates how precise a candidate's OSM class/type is.
func TypeWeight(c Candidate) float64 {
	switch {
	case c.Class == "building", c.Type == "house", c.Type == "building":
		return 1.0
	case c.Class == "amenity", c.Class == "shop":
		return 0.9
	case c.Class == "highway", c.Class == "place":
		return 0.8
	case c.Class == "boundary" && c.Type == "administrative":
		return 0.7
	default:
		return 0
	}
}

// Score returns the candidate's score in [0,1] for a record located in
// city/state.
func (s *Scorer) Score(c Candidate, city, state string) float64 {
	tw := TypeWeight(c)
	if c.Importance < s.w.LowImportance {
		tw /= 2
	}
	score := s.w.Importance*c.Importance + s.w.Type*tw + s.locationBonus(c, city, state)
	return clamp01(score)
}

func (s *Scorer) locationBonus(c Candidate, city, state string) float64 {
	var bonus float64
	if want := address.Fold(city); want != "" {
		for _, loc := range c.Address.Localities() {
			if address.Fold(loc) == want {
				bonus += s.w.CityBonus
				break
			}
		}
	}
	if state != "" && (address.SameState(state, c.Address.State) || address.SameState(state, c.Address.StateCode)) {
		bonus += s.w.StateBonus
	}
	return bonus
}

// Acceptable reports whether score clears the quality threshold.
func (s *Scorer) Acceptable(score float64) bool {
	return score >= s.w.Threshold
}

// Best returns the highest-scoring candidate. ok is false when cands is
// empty. Ties keep the provider's order.
func (s *Scorer) Best(cands []Candidate, city, state string) (best Candidate, score float64, ok bool) {
	score = -1
	for _, c := range cands {
		if !validCandidate(c) {
			continue
		}
		if sc := s.Score(c, city, state); sc > score {
			best, score, ok = c, sc, true
		}
	}
	if !ok {
		return Candidate{}, 0, false
	}
	return best, score, true
}

// validCandidate excludes zero-value coordinates that slipped past decoding.
func validCandidate(c Candidate) bool {
	return !(c.Latitude == 0 && c.Longitude == 0)
}
