package memory

import (
	"math"
	"sort"
)

// dedupThreshold is the cosine similarity at or above which two memories are
// considered duplicates of each other.
const dedupThreshold = 0.85

// Cosine returns the cosine similarity of two vectors, 0 when either has
// zero magnitude or the lengths differ.
func Cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// DedupByCosine collapses records whose embeddings are near-duplicates,
// keeping one representative per cluster. Candidates are ranked by importance
// descending, then created_at descending, and each ranked record survives
// only if it is not a duplicate of an already-kept one.
func DedupByCosine(records []Record, threshold float64) []Record {
	ranked := make([]Record, len(records))
	copy(ranked, records)
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].Importance != ranked[j].Importance {
			return ranked[i].Importance > ranked[j].Importance
		}
		return ranked[i].CreatedAt.After(ranked[j].CreatedAt)
	})

	var kept []Record
	for _, candidate := range ranked {
		duplicate := false
		for _, k := range kept {
			if Cosine(candidate.Vector, k.Vector) >= threshold {
				duplicate = true
				break
			}
		}
		if !duplicate {
			kept = append(kept, candidate)
		}
	}
	return kept
}
