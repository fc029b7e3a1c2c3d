package appointment

import (
	"sort"

	"github.com/google/uuid"

	"github.com/hackgods/locum-marketplace/internal/geo"
)

// VisibleFilter describes the locum browsing open requests.
type VisibleFilter struct {
	Role      Role
	Location  geo.Location
	Responded map[uuid.UUID]struct{} // applied or ignored request ids
	// MaxDistanceKm of 0 means no limit.
	MaxDistanceKm float64
}

type VisibleRequest struct {
	Request    AppointmentRequest
	DistanceKm *float64
}

// FilterVisible keeps the open requests a locum may still respond to.
// Requests whose distance is unknown always pass the distance filter.
func FilterVisible(f VisibleFilter, pool []AppointmentRequest) []VisibleRequest {
	out := make([]VisibleRequest, 0, len(pool))
	for _, req := range pool {
		if req.Status != RequestOpen || req.RequiredRole != f.Role {
			continue
		}
		if _, seen := f.Responded[req.ID]; seen {
			continue
		}

		v := VisibleRequest{Request: req}
		if km, ok := geo.DistanceKm(f.Location, req.Location); ok {
			if f.MaxDistanceKm > 0 && km > f.MaxDistanceKm {
				continue
			}
			v.DistanceKm = &km
		}
		out = append(out, v)
	}
	return out
}

// RankApplicants orders applicants by average rating, best first, breaking
// ties by distance to the request. Missing ratings count as 0. When either
// distance is unknown the pair keeps its input order.
func RankApplicants(req AppointmentRequest, applicants []Applicant) []Applicant {
	ranked := make([]Applicant, len(applicants))
	copy(ranked, applicants)

	for i := range ranked {
		ranked[i].DistanceKm = nil
		if km, ok := geo.DistanceKm(req.Location, ranked[i].Profile.Location); ok {
			ranked[i].DistanceKm = &km
		}
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		ri, rj := rating(ranked[i]), rating(ranked[j])
		if ri != rj {
			return ri > rj
		}
		di, dj := ranked[i].DistanceKm, ranked[j].DistanceKm
		if di == nil || dj == nil {
			return false
		}
		return *di < *dj
	})
	return ranked
}

// MinRating is a display filter; it keeps the ranked order.
func MinRating(applicants []Applicant, threshold float64) []Applicant {
	if threshold <= 0 {
		return applicants
	}
	out := make([]Applicant, 0, len(applicants))
	for _, a := range applicants {
		if rating(a) >= threshold {
			out = append(out, a)
		}
	}
	return out
}

func rating(a Applicant) float64 {
	if a.Profile.AverageRating == nil {
		return 0
	}
	return *a.Profile.AverageRating
}
