package proximity

import (
	"context"
	"math"
	"sort"
)

const (
	DefaultRadiusKm = 10.0
	DefaultLimit    = 20
	MaxLimit        = 100
)

// Candidate is the read-only slice of a user record needed for matching.
type Candidate struct {
	ID              string  `json:"_id"`
	Name            string  `json:"name"`
	ProfilePhotoURL string  `json:"profilePhotoUrl,omitempty"`
	Location        Point   `json:"location"`
	Status          string  `json:"status,omitempty"`
	Distance        float64 `json:"distance"`
}

// CandidateSource returns records of the given role whose location lies
// inside box. It may return records outside the radius; the matcher
// filters them out.
type CandidateSource interface {
	CandidatesWithin(ctx context.Context, role string, box Box) ([]Candidate, error)
}

type Query struct {
	Center   Point
	RadiusKm float64
	Limit    int
	Role     string

	// Filter, when set, drops candidates it returns false for before the
	// limit is applied.
	Filter func(Candidate) bool
}

type Matcher struct {
	source CandidateSource
}

func NewMatcher(source CandidateSource) *Matcher {
	return &Matcher{source: source}
}

// Nearby returns the candidates within q.RadiusKm of q.Center, closest first,
// capped at q.Limit. The radius is inclusive.
func (m *Matcher) Nearby(ctx context.Context, q Query) ([]Candidate, error) {
	switch {
	case q.RadiusKm <= 0:
		q.RadiusKm = DefaultRadiusKm
	case q.RadiusKm > MaxRadiusKm:
		q.RadiusKm = MaxRadiusKm
	}

	switch {
	case q.Limit <= 0:
		q.Limit = DefaultLimit
	case q.Limit > MaxLimit:
		q.Limit = MaxLimit
	}

	candidates, err := m.source.CandidatesWithin(ctx, q.Role, BoundingBox(q.Center, q.RadiusKm))
	if err != nil {
		return nil, err
	}

	return Rank(q, candidates), nil
}

// Rank computes distances from q.Center, drops candidates beyond the radius
// and sorts the remainder closest first.
func Rank(q Query, candidates []Candidate) []Candidate {
	result := []Candidate{}
	for _, candidate := range candidates {
		candidate.Distance = Distance(q.Center, candidate.Location)
		if math.IsNaN(candidate.Distance) || candidate.Distance > q.RadiusKm {
			continue
		}
		if q.Filter != nil && !q.Filter(candidate) {
			continue
		}
		result = append(result, candidate)
	}

	sort.SliceStable(result, func(i, j int) bool {
		if result[i].Distance == result[j].Distance {
			return result[i].ID < result[j].ID
		}
		return result[i].Distance < result[j].Distance
	})

	if q.Limit > 0 && len(result) > q.Limit {
		result = result[:q.Limit]
	}

	return result
}
