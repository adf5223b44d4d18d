package kmeans

import (
	"fmt"
	"math"

	"github.com/vexsearch/kmeans/internal/partition"
)

// MaxClusters is the largest cluster count an Assignment can address.
const MaxClusters = math.MaxUint16

// PointSet is an immutable row-major buffer of points of equal dimension.
type PointSet struct {
	data []float64
	dim  int
}

// NewPointSet wraps data as rows of dim coordinates. The buffer is not copied.
func NewPointSet(data []float64, dim int) (*PointSet, error) {
	if dim <= 0 || len(data)%dim != 0 {
		return nil, fmt.Errorf("%w: %d values with dimension %d", ErrInvalidDimensions, len(data), dim)
	}
	return &PointSet{data: data, dim: dim}, nil
}

// Len returns the number of points.
func (p *PointSet) Len() int {
	return len(p.data) / p.dim
}

// Dim returns the number of coordinates per point.
func (p *PointSet) Dim() int {
	return p.dim
}

// At returns the coordinates of point i. The slice aliases the buffer.
func (p *PointSet) At(i int) []float64 {
	return p.data[i*p.dim : (i+1)*p.dim]
}

// Data returns the underlying buffer.
func (p *PointSet) Data() []float64 {
	return p.data
}

// Slice returns the points covered by r, sharing the buffer.
func (p *PointSet) Slice(r partition.Range) *PointSet {
	return &PointSet{
		data: p.data[r.Offset*p.dim : r.End()*p.dim],
		dim:  p.dim,
	}
}

// Centroids holds K cluster centres of the same dimension as the points.
type Centroids struct {
	data []float64
	k    int
	dim  int
}

// NewCentroids allocates k zeroed centroids.
func NewCentroids(k, dim int) *Centroids {
	return &Centroids{
		data: make([]float64, k*dim),
		k:    k,
		dim:  dim,
	}
}

// K returns the number of centroids.
func (c *Centroids) K() int {
	return c.k
}

// Dim returns the number of coordinates per centroid.
func (c *Centroids) Dim() int {
	return c.dim
}

// At returns centroid j. The slice aliases the buffer.
func (c *Centroids) At(j int) []float64 {
	return c.data[j*c.dim : (j+1)*c.dim]
}

// Data returns the underlying buffer, suitable for broadcasting.
func (c *Centroids) Data() []float64 {
	return c.data
}

// ValidateClusters checks that k clusters can be formed from n points.
func ValidateClusters(k, n int) error {
	if k < 1 || k > MaxClusters {
		return fmt.Errorf("%w: %d", ErrInvalidClusters, k)
	}
	if n < k {
		return fmt.Errorf("%w: %d points, %d clusters", ErrTooFewPoints, n, k)
	}
	return nil
}
