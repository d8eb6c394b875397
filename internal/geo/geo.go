package geo

import (
	"math"

	"github.com/example/ride-lifecycle/internal/models"
)

// Candidate is anything with a last reported position.
type Candidate interface {
	Position() models.Coord
}

// Distance is the planar Euclidean distance between two coordinates. The
// lifecycle works on a flat grid, not on the earth's surface.
func Distance(a, b models.Coord) float64 {
	dLat := a.Lat - b.Lat
	dLon := a.Lon - b.Lon
	return math.Sqrt(dLat*dLat + dLon*dLon)
}

// Nearest returns the index of the candidate closest to origin and its
// distance. Ties go to the first one seen. ok is false for an empty slice.
func Nearest[C Candidate](origin models.Coord, cands []C) (idx int, dist float64, ok bool) {
	idx = -1
	for i, c := range cands {
		d := Distance(origin, c.Position())
		if idx < 0 || d < dist {
			idx, dist = i, d
		}
	}
	return idx, dist, idx >= 0
}
