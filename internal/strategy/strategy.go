// Package strategy runs the restart loop of a clustering job: sequentially,
// with the point set partitioned across workers (grouped), or with the
// restarts partitioned across workers that each hold every point
// (replicated).
package strategy

import (
	"errors"
	"fmt"

	"github.com/vexsearch/kmeans/internal/coord"
	"github.com/vexsearch/kmeans/internal/kmeans"
	"github.com/vexsearch/kmeans/internal/logging"
)

// Kind names a strategy.
type Kind string

const (
	KindSequential Kind = "seq"
	KindGrouped    Kind = "group"
	KindReplicated Kind = "rep"
)

var (
	// ErrUnknownKind is returned for a strategy name that is not seq, group or rep.
	ErrUnknownKind = errors.New("unknown strategy")

	// ErrInvalidRepetitions is returned when fewer than one restart is requested.
	ErrInvalidRepetitions = errors.New("repetitions must be positive")

	// ErrShardMismatch is returned when a worker's points do not match its partition.
	ErrShardMismatch = errors.New("shard does not match partition")

	// ErrPeerFailed is returned on workers whose own restarts succeeded
	// while another worker's failed.
	ErrPeerFailed = errors.New("restart failed on another worker")
)

// ParseKind returns the strategy named s.
func ParseKind(s string) (Kind, error) {
	switch k := Kind(s); k {
	case KindSequential, KindGrouped, KindReplicated:
		return k, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownKind, s)
	}
}

// Params are the clustering parameters shared by every worker of a run.
type Params struct {
	Clusters      int
	Repetitions   int
	Seed          uint64
	EmptyClusters kmeans.EmptyClusterPolicy
	Logger        *logging.Logger
}

func (p Params) validate(points int) error {
	if p.Repetitions < 1 {
		return fmt.Errorf("%w: %d", ErrInvalidRepetitions, p.Repetitions)
	}
	if _, err := kmeans.ParseEmptyClusterPolicy(string(p.EmptyClusters)); err != nil {
		return err
	}
	return kmeans.ValidateClusters(p.Clusters, points)
}

func (p Params) policy() kmeans.EmptyClusterPolicy {
	if p.EmptyClusters == "" {
		return kmeans.EmptyKeep
	}
	return p.EmptyClusters
}

func (p Params) logger() *logging.Logger {
	if p.Logger == nil {
		return logging.Nop()
	}
	return p.Logger
}

// collective reduces a Lloyd restart across every worker of a group.
type collective struct {
	comm coord.Communicator
}

func (c collective) All(stable bool) (bool, error) {
	return c.comm.All(stable)
}

func (c collective) Sum(sums []float64, sizes []uint32) error {
	if err := c.comm.SumFloat64s(sums); err != nil {
		return err
	}
	return c.comm.SumUint32s(sizes)
}
