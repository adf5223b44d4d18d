package strategy

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/vexsearch/kmeans/internal/coord"
	"github.com/vexsearch/kmeans/internal/kmeans"
)

// RunTeam starts one goroutine per worker of a shared-memory team, hands
// each its own Communicator and returns the first error.
func RunTeam(ctx context.Context, size int, fn func(ctx context.Context, comm coord.Communicator) error) error {
	team := coord.NewTeam(size)
	g, ctx := errgroup.WithContext(ctx)
	for rank := 0; rank < size; rank++ {
		comm := coord.NewInstrumented(team.Member(rank), "team")
		g.Go(func() error {
			return fn(ctx, comm)
		})
	}
	return g.Wait()
}

// Team runs kind over workers goroutines sharing points and returns rank 0's
// result. Sequential ignores workers.
func Team(ctx context.Context, kind Kind, workers int, points *kmeans.PointSet, p Params) (*kmeans.Result, error) {
	if kind == KindSequential {
		return Sequential(points, p)
	}
	if workers < 1 {
		return nil, fmt.Errorf("%w: %d workers", coord.ErrRankOutOfRange, workers)
	}

	var result *kmeans.Result
	err := RunTeam(ctx, workers, func(ctx context.Context, comm coord.Communicator) error {
		wp := p
		wp.Logger = p.logger().With("rank", comm.Rank())

		var (
			r   *kmeans.Result
			err error
		)
		switch kind {
		case KindGrouped:
			r, err = Grouped(comm, ShardOf(points, comm.Rank(), comm.Size()), wp)
		case KindReplicated:
			r, err = Replicated(comm, points, wp)
		default:
			return fmt.Errorf("%w: %q", ErrUnknownKind, kind)
		}
		if err != nil {
			return err
		}
		if comm.Rank() == 0 {
			result = r
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}
