package kmeans

import "math/rand/v2"

// Seeder picks initial centroids from distinct random points. Each worker
// owns its own Seeder; the generator is not safe for concurrent use.
type Seeder struct {
	rng     *rand.Rand
	indices []int
}

// NewSeeder returns a Seeder whose draws are fully determined by seed.
func NewSeeder(seed uint64) *Seeder {
	return &Seeder{rng: rand.New(rand.NewPCG(seed, seed))}
}

// Seed copies c.K() distinct random points of points into c and returns
// their indices. The returned slice is reused by the next call.
func (s *Seeder) Seed(points *PointSet, c *Centroids) []int {
	n := points.Len()
	s.indices = s.indices[:0]
	for len(s.indices) < c.K() {
		idx := s.rng.IntN(n)
		for contains(s.indices, idx) {
			idx = s.rng.IntN(n)
		}
		s.indices = append(s.indices, idx)
	}
	for j, idx := range s.indices {
		copy(c.At(j), points.At(idx))
	}
	return s.indices
}

func contains(indices []int, v int) bool {
	for _, idx := range indices {
		if idx == v {
			return true
		}
	}
	return false
}
