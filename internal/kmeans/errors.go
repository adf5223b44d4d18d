package kmeans

import "errors"

var (
	// ErrInvalidDimensions is returned when a point buffer is not a whole number of rows.
	ErrInvalidDimensions = errors.New("invalid point dimensions")

	// ErrInvalidClusters is returned when the cluster count is outside [1, 65535].
	ErrInvalidClusters = errors.New("invalid cluster count")

	// ErrTooFewPoints is returned when there are fewer points than clusters.
	ErrTooFewPoints = errors.New("fewer points than clusters")

	// ErrEmptyCluster is returned under EmptyFail when a cluster loses all its points.
	ErrEmptyCluster = errors.New("cluster has no assigned points")

	// ErrInvalidPolicy is returned for an unknown empty-cluster policy name.
	ErrInvalidPolicy = errors.New("invalid empty cluster policy")
)
