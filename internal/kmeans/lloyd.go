package kmeans

import "fmt"

// EmptyClusterPolicy decides what happens to a centroid whose cluster
// received no points in an update step.
type EmptyClusterPolicy string

const (
	// EmptyKeep leaves the centroid at its previous coordinates.
	EmptyKeep EmptyClusterPolicy = "keep"
	// EmptyFail aborts the restart with ErrEmptyCluster.
	EmptyFail EmptyClusterPolicy = "fail"
)

// ParseEmptyClusterPolicy returns the policy named s. The empty string
// selects EmptyKeep.
func ParseEmptyClusterPolicy(s string) (EmptyClusterPolicy, error) {
	switch EmptyClusterPolicy(s) {
	case "", EmptyKeep:
		return EmptyKeep, nil
	case EmptyFail:
		return EmptyFail, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidPolicy, s)
	}
}

// Assign moves every point to its nearest centroid and reports whether no
// point changed cluster. The point's previous centroid is measured first
// and is only replaced by a strictly closer one; other centroids are
// scanned in ascending index order.
func Assign(points *PointSet, c *Centroids, assign []uint16) bool {
	stable := true
	k := uint16(c.K())
	for i := range assign {
		point := points.At(i)
		prev := assign[i]
		best := prev
		lowest := SquaredDistance(point, c.At(int(prev)))

		for j := uint16(0); j < prev; j++ {
			if d := SquaredDistance(point, c.At(int(j))); d < lowest {
				best, lowest = j, d
			}
		}
		for j := prev + 1; j < k; j++ {
			if d := SquaredDistance(point, c.At(int(j))); d < lowest {
				best, lowest = j, d
			}
		}

		if best != prev {
			stable = false
			assign[i] = best
		}
	}
	return stable
}

// Accumulate zeroes sums and sizes and then adds every point into the
// accumulator of its assigned cluster.
func Accumulate(points *PointSet, assign []uint16, sums []float64, sizes []uint32) {
	clear(sums)
	clear(sizes)
	dim := points.Dim()
	for i, cluster := range assign {
		sizes[cluster]++
		acc := sums[int(cluster)*dim : (int(cluster)+1)*dim]
		for d, v := range points.At(i) {
			acc[d] += v
		}
	}
}

// Divide turns accumulated sums into centroid means. It returns the number
// of clusters that had no points; their centroids are left untouched under
// EmptyKeep.
func Divide(c *Centroids, sums []float64, sizes []uint32, policy EmptyClusterPolicy) (int, error) {
	empty := 0
	for j := 0; j < c.K(); j++ {
		if sizes[j] == 0 {
			empty++
			if policy == EmptyFail {
				return empty, fmt.Errorf("%w: cluster %d", ErrEmptyCluster, j)
			}
			continue
		}
		centroid := c.At(j)
		acc := sums[j*c.Dim() : (j+1)*c.Dim()]
		n := float64(sizes[j])
		for d := range centroid {
			centroid[d] = acc[d] / n
		}
	}
	return empty, nil
}

// Cost returns the sum of squared distances from every point to its
// assigned centroid.
func Cost(points *PointSet, c *Centroids, assign []uint16) float64 {
	var cost float64
	for i, cluster := range assign {
		cost += SquaredDistance(points.At(i), c.At(int(cluster)))
	}
	return cost
}

// Reducer combines per-worker partial state. Workers that share one
// logical assignment must agree on every call.
type Reducer interface {
	// All returns the logical AND of stable across workers.
	All(stable bool) (bool, error)
	// Sum replaces sums and sizes with their element-wise totals across workers.
	Sum(sums []float64, sizes []uint32) error
}

// Local is the Reducer of a worker that owns its whole problem.
type Local struct{}

func (Local) All(stable bool) (bool, error)            { return stable, nil }
func (Local) Sum(sums []float64, sizes []uint32) error { return nil }

// Stats describes one converged restart.
type Stats struct {
	Iterations    int
	EmptyClusters int
}

// Lloyd runs the assignment/update loop of a single restart over the
// points owned by one worker.
type Lloyd struct {
	Points     *PointSet
	Centroids  *Centroids
	Assignment []uint16
	Reducer    Reducer
	Policy     EmptyClusterPolicy

	sums  []float64
	sizes []uint32
}

// NewLloyd allocates the assignment and accumulators for points and k clusters.
func NewLloyd(points *PointSet, k int, reducer Reducer, policy EmptyClusterPolicy) *Lloyd {
	if reducer == nil {
		reducer = Local{}
	}
	return &Lloyd{
		Points:     points,
		Centroids:  NewCentroids(k, points.Dim()),
		Assignment: make([]uint16, points.Len()),
		Reducer:    reducer,
		Policy:     policy,
		sums:       make([]float64, k*points.Dim()),
		sizes:      make([]uint32, k),
	}
}

// Run converges from the current centroids. Every point starts in
// cluster 0. The loop ends once no point on any worker changes cluster.
func (l *Lloyd) Run() (Stats, error) {
	var stats Stats
	clear(l.Assignment)
	for {
		stats.Iterations++
		stable, err := l.Reducer.All(Assign(l.Points, l.Centroids, l.Assignment))
		if err != nil {
			return stats, err
		}
		if stable {
			return stats, nil
		}
		empty, err := l.Update()
		stats.EmptyClusters += empty
		if err != nil {
			return stats, err
		}
	}
}

// Update recomputes the centroids from the current assignment.
func (l *Lloyd) Update() (int, error) {
	Accumulate(l.Points, l.Assignment, l.sums, l.sizes)
	if err := l.Reducer.Sum(l.sums, l.sizes); err != nil {
		return 0, err
	}
	return Divide(l.Centroids, l.sums, l.sizes, l.Policy)
}

// Cost evaluates the local cost of the current assignment.
func (l *Lloyd) Cost() float64 {
	return Cost(l.Points, l.Centroids, l.Assignment)
}
