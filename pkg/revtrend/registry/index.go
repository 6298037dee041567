package registry

import "github.com/cognicore/revtrend/pkg/revtrend/embed"

// Match is a topic and its similarity to a query vector.
type Match struct {
	ID         int64
	Similarity float64
}

// Index finds the representative vector closest to a query. Ids are added
// in ascending order. Implementations must break ties deterministically:
// among topics at or above floor and within epsilon of the best
// similarity, the lowest id wins. When no topic reaches floor the best
// match is still returned so callers can report its similarity.
type Index interface {
	Add(id int64, vec []float32)
	Nearest(vec []float32, floor, epsilon float64) (Match, bool)
	Len() int
	Clone() Index
}

// LinearIndex scans every representative. Lookup is O(topics), which is
// fine while registries stay in the tens to hundreds of topics.
type LinearIndex struct {
	ids  []int64
	vecs [][]float32
}

// NewLinearIndex creates an empty linear index.
func NewLinearIndex() *LinearIndex {
	return &LinearIndex{}
}

// Add appends a representative.
func (l *LinearIndex) Add(id int64, vec []float32) {
	l.ids = append(l.ids, id)
	l.vecs = append(l.vecs, vec)
}

// Nearest returns the lowest-id topic whose similarity is within epsilon of
// the maximum and not below floor.
func (l *LinearIndex) Nearest(vec []float32, floor, epsilon float64) (Match, bool) {
	if len(l.ids) == 0 {
		return Match{}, false
	}

	sims := make([]float64, len(l.ids))
	best := sims[0]
	for i, rep := range l.vecs {
		sims[i] = embed.Cosine(vec, rep)
		if i == 0 || sims[i] > best {
			best = sims[i]
		}
	}

	cutoff := best - epsilon
	if best >= floor && cutoff < floor {
		cutoff = floor
	}

	var out Match
	found := false
	for i, sim := range sims {
		if sim < cutoff {
			continue
		}
		if !found || l.ids[i] < out.ID {
			out = Match{ID: l.ids[i], Similarity: sim}
			found = true
		}
	}
	return out, found
}

// Len returns the number of representatives.
func (l *LinearIndex) Len() int { return len(l.ids) }

// Clone copies the index. Vectors are shared; they are never mutated.
func (l *LinearIndex) Clone() Index {
	return &LinearIndex{
		ids:  append([]int64(nil), l.ids...),
		vecs: append([][]float32(nil), l.vecs...),
	}
}
