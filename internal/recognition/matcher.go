package recognition

import "math"

// Vector is an opaque fixed-length feature vector produced by the external
// extractor.
type Vector []float64

// Entry is one gallery member: an identity and its enrolled vector.
type Entry struct {
	IdentityID int64
	Vector     Vector
}

// Match is the best gallery candidate for a probe.
type Match struct {
	IdentityID int64
	Confidence float64
}

// BestMatch compares probe against every gallery entry and returns the entry
// of minimum distance with confidence = 1 - distance. Ties resolve to the
// first entry in gallery order, which is fixed (ordered by identity id), so
// the result is deterministic. Returns false on an empty gallery.
func BestMatch(probe Vector, gallery []Entry) (Match, bool) {
	if len(gallery) == 0 {
		return Match{}, false
	}
	best := 0
	bestDist := Distance(probe, gallery[0].Vector)
	for i := 1; i < len(gallery); i++ {
		if d := Distance(probe, gallery[i].Vector); d < bestDist {
			best = i
			bestDist = d
		}
	}
	return Match{
		IdentityID: gallery[best].IdentityID,
		Confidence: 1 - bestDist,
	}, true
}

// Distance is the Euclidean distance between two vectors. Trailing
// dimensions of the shorter vector are treated as zero.
func Distance(a, b Vector) float64 {
	n := len(a)
	if len(b) > n {
		n = len(b)
	}
	var sum float64
	for i := 0; i < n; i++ {
		var av, bv float64
		if i < len(a) {
			av = a[i]
		}
		if i < len(b) {
			bv = b[i]
		}
		d := av - bv
		sum += d * d
	}
	return math.Sqrt(sum)
}
