package kmeans

import (
	"errors"
	"math"
	"math/rand/v2"
	"testing"
)

func mustPoints(t *testing.T, data []float64, dim int) *PointSet {
	t.Helper()
	points, err := NewPointSet(data, dim)
	if err != nil {
		t.Fatalf("NewPointSet failed: %v", err)
	}
	return points
}

func randomPoints(t *testing.T, n, dim int, seed uint64) *PointSet {
	t.Helper()
	rng := rand.New(rand.NewPCG(seed, 1))
	data := make([]float64, n*dim)
	for i := range data {
		data[i] = rng.Float64() * 100
	}
	return mustPoints(t, data, dim)
}

func TestNewPointSetRejectsRaggedBuffer(t *testing.T) {
	if _, err := NewPointSet([]float64{1, 2, 3}, 2); !errors.Is(err, ErrInvalidDimensions) {
		t.Errorf("expected ErrInvalidDimensions, got %v", err)
	}
	if _, err := NewPointSet(nil, 0); !errors.Is(err, ErrInvalidDimensions) {
		t.Errorf("expected ErrInvalidDimensions for zero dimension, got %v", err)
	}
}

func TestValidateClusters(t *testing.T) {
	if err := ValidateClusters(0, 10); !errors.Is(err, ErrInvalidClusters) {
		t.Errorf("expected ErrInvalidClusters, got %v", err)
	}
	if err := ValidateClusters(MaxClusters+1, 1<<20); !errors.Is(err, ErrInvalidClusters) {
		t.Errorf("expected ErrInvalidClusters, got %v", err)
	}
	if err := ValidateClusters(5, 4); !errors.Is(err, ErrTooFewPoints) {
		t.Errorf("expected ErrTooFewPoints, got %v", err)
	}
	if err := ValidateClusters(4, 4); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestSeederDistinctCopies(t *testing.T) {
	points := randomPoints(t, 50, 3, 7)
	for seed := uint64(0); seed < 20; seed++ {
		for _, k := range []int{1, 5, 50} {
			c := NewCentroids(k, 3)
			indices := NewSeeder(seed).Seed(points, c)
			if len(indices) != k {
				t.Fatalf("seed=%d k=%d: got %d indices", seed, k, len(indices))
			}
			seen := make(map[int]bool)
			for j, idx := range indices {
				if seen[idx] {
					t.Fatalf("seed=%d k=%d: duplicate index %d", seed, k, idx)
				}
				seen[idx] = true
				for d, v := range c.At(j) {
					if math.Float64bits(v) != math.Float64bits(points.At(idx)[d]) {
						t.Fatalf("seed=%d k=%d: centroid %d differs from point %d", seed, k, j, idx)
					}
				}
			}
		}
	}
}

func TestSeederDeterministic(t *testing.T) {
	points := randomPoints(t, 100, 2, 3)
	a := append([]int(nil), NewSeeder(42).Seed(points, NewCentroids(8, 2))...)
	b := append([]int(nil), NewSeeder(42).Seed(points, NewCentroids(8, 2))...)
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("same seed produced %v and %v", a, b)
		}
	}
}

func TestEndToEndExample(t *testing.T) {
	points := mustPoints(t, []float64{0, 0, 0, 1, 10, 0, 10, 1}, 2)
	l := NewLloyd(points, 2, nil, EmptyKeep)
	copy(l.Centroids.At(0), points.At(0))
	copy(l.Centroids.At(1), points.At(2))

	if _, err := l.Run(); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	want := []uint16{0, 0, 1, 1}
	for i := range want {
		if l.Assignment[i] != want[i] {
			t.Fatalf("assignment = %v, want %v", l.Assignment, want)
		}
	}
	// Centroids settle at (0,0.5) and (10,0.5): four points at 0.25 each.
	if cost := l.Cost(); cost != 1.0 {
		t.Errorf("cost = %v, want 1", cost)
	}
	if got := l.Centroids.At(1); got[0] != 10 || got[1] != 0.5 {
		t.Errorf("centroid 1 = %v, want [10 0.5]", got)
	}
}

func TestAssignKeepsPreviousClusterOnTie(t *testing.T) {
	points := mustPoints(t, []float64{5}, 1)
	c := NewCentroids(3, 1)
	copy(c.Data(), []float64{4, 6, 4})

	assign := []uint16{2}
	if !Assign(points, c, assign) || assign[0] != 2 {
		t.Errorf("expected point to stay in cluster 2, got %d", assign[0])
	}

	assign[0] = 1
	if !Assign(points, c, assign) || assign[0] != 1 {
		t.Errorf("expected point to stay in cluster 1, got %d", assign[0])
	}

	// A strictly closer centroid wins; ties between the others go to the lower index.
	copy(c.Data(), []float64{5, 9, 5})
	assign[0] = 1
	if Assign(points, c, assign) || assign[0] != 0 {
		t.Errorf("expected point to move to cluster 0, got %d", assign[0])
	}
}

func TestLloydMonotonicCost(t *testing.T) {
	points := randomPoints(t, 300, 2, 11)
	for seed := uint64(0); seed < 5; seed++ {
		l := NewLloyd(points, 6, nil, EmptyKeep)
		NewSeeder(seed).Seed(points, l.Centroids)
		clear(l.Assignment)

		prev := math.Inf(1)
		for iter := 0; iter < 1000; iter++ {
			stable := Assign(points, l.Centroids, l.Assignment)
			afterAssign := l.Cost()
			if afterAssign > prev+1e-9 {
				t.Fatalf("seed=%d iter=%d: cost rose from %v to %v after assignment", seed, iter, prev, afterAssign)
			}
			if stable {
				break
			}
			if _, err := l.Update(); err != nil {
				t.Fatalf("Update failed: %v", err)
			}
			afterUpdate := l.Cost()
			if afterUpdate > afterAssign+1e-9 {
				t.Fatalf("seed=%d iter=%d: cost rose from %v to %v after update", seed, iter, afterAssign, afterUpdate)
			}
			prev = afterUpdate
		}
	}
}

func TestLloydConvergesToNearestCentroids(t *testing.T) {
	points := randomPoints(t, 500, 3, 5)
	l := NewLloyd(points, 7, nil, EmptyKeep)
	NewSeeder(1).Seed(points, l.Centroids)

	stats, err := l.Run()
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if stats.Iterations < 1 {
		t.Errorf("expected at least one iteration, got %d", stats.Iterations)
	}

	for i, cluster := range l.Assignment {
		if int(cluster) >= 7 {
			t.Fatalf("point %d assigned to out-of-range cluster %d", i, cluster)
		}
		own := SquaredDistance(points.At(i), l.Centroids.At(int(cluster)))
		for j := 0; j < 7; j++ {
			if d := SquaredDistance(points.At(i), l.Centroids.At(j)); d < own {
				t.Fatalf("point %d: centroid %d is closer (%v) than assigned %d (%v)", i, j, d, cluster, own)
			}
		}
	}
}

func TestDivideEmptyClusterPolicies(t *testing.T) {
	c := NewCentroids(2, 2)
	copy(c.Data(), []float64{1, 1, 7, 7})
	sums := []float64{4, 6, 0, 0}
	sizes := []uint32{2, 0}

	empty, err := Divide(c, sums, sizes, EmptyKeep)
	if err != nil {
		t.Fatalf("Divide failed: %v", err)
	}
	if empty != 1 {
		t.Errorf("expected 1 empty cluster, got %d", empty)
	}
	if got := c.At(0); got[0] != 2 || got[1] != 3 {
		t.Errorf("centroid 0 = %v, want [2 3]", got)
	}
	if got := c.At(1); got[0] != 7 || got[1] != 7 {
		t.Errorf("empty centroid moved to %v", got)
	}

	if _, err := Divide(c, sums, sizes, EmptyFail); !errors.Is(err, ErrEmptyCluster) {
		t.Errorf("expected ErrEmptyCluster, got %v", err)
	}
}

func TestLloydEmptyClusterFail(t *testing.T) {
	points := mustPoints(t, []float64{0, 1, 2, 10}, 1)
	l := NewLloyd(points, 3, nil, EmptyFail)

	// Coincident centroids never move a point, so no update runs.
	copy(l.Centroids.Data(), []float64{1, 1, 1})
	if _, err := l.Run(); err != nil {
		t.Fatalf("a stable first assignment should not update centroids: %v", err)
	}

	// Centroid 1 is nobody's nearest while point 10 moves to centroid 2.
	copy(l.Centroids.Data(), []float64{0, 100, 11})
	if _, err := l.Run(); !errors.Is(err, ErrEmptyCluster) {
		t.Errorf("expected ErrEmptyCluster, got %v", err)
	}

	l = NewLloyd(points, 3, nil, EmptyKeep)
	copy(l.Centroids.Data(), []float64{0, 100, 11})
	stats, err := l.Run()
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if stats.EmptyClusters == 0 {
		t.Error("expected the empty cluster to be counted")
	}
	if l.Centroids.At(1)[0] != 100 {
		t.Errorf("empty centroid moved to %v", l.Centroids.At(1)[0])
	}
}

func TestParseEmptyClusterPolicy(t *testing.T) {
	tests := []struct {
		in      string
		want    EmptyClusterPolicy
		wantErr bool
	}{
		{"", EmptyKeep, false},
		{"keep", EmptyKeep, false},
		{"fail", EmptyFail, false},
		{"reseed", "", true},
	}
	for _, tt := range tests {
		got, err := ParseEmptyClusterPolicy(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseEmptyClusterPolicy(%q) error = %v", tt.in, err)
		}
		if got != tt.want {
			t.Errorf("ParseEmptyClusterPolicy(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
