package strategy

import (
	"fmt"

	"github.com/vexsearch/kmeans/internal/coord"
	"github.com/vexsearch/kmeans/internal/kmeans"
	"github.com/vexsearch/kmeans/internal/metrics"
	"github.com/vexsearch/kmeans/internal/partition"
)

// Shard is one worker's slice of a partitioned point set.
type Shard struct {
	// Points are the rows partition.Of(Total, size, rank) of the full set.
	Points *kmeans.PointSet
	// Total is the number of points across every worker.
	Total int
	// Full is the whole point set. Only rank 0 needs it, to seed centroids.
	Full *kmeans.PointSet
}

// ShardOf slices points for worker rank of size.
func ShardOf(points *kmeans.PointSet, rank, size int) Shard {
	s := Shard{
		Points: points.Slice(partition.Of(points.Len(), size, rank)),
		Total:  points.Len(),
	}
	if rank == 0 {
		s.Full = points
	}
	return s
}

func (s Shard) check(rank, size int) error {
	want := partition.Of(s.Total, size, rank)
	if s.Points == nil || s.Points.Len() != want.Length {
		return fmt.Errorf("%w: rank %d expects %d points", ErrShardMismatch, rank, want.Length)
	}
	if rank == 0 && (s.Full == nil || s.Full.Len() != s.Total) {
		return fmt.Errorf("%w: rank 0 needs all %d points", ErrShardMismatch, s.Total)
	}
	return nil
}

// Grouped runs every restart cooperatively over the workers of comm, each
// holding one shard of the points. Rank 0 seeds and broadcasts the
// centroids; every iteration reduces the convergence vote and the centroid
// accumulators. When a restart beats the best cost, the shards of its
// assignment are gathered on rank 0.
//
// Every worker returns the best cost. Only rank 0's result carries the
// assignment.
func Grouped(comm coord.Communicator, shard Shard, p Params) (*kmeans.Result, error) {
	rank, size := comm.Rank(), comm.Size()
	if err := p.validate(shard.Total); err != nil {
		return nil, err
	}
	if err := shard.check(rank, size); err != nil {
		return nil, err
	}
	log := p.logger()

	engine := kmeans.NewLloyd(shard.Points, p.Clusters, collective{comm: comm}, p.policy())
	counts := partition.Counts(shard.Total, size, 1)

	var seeder *kmeans.Seeder
	best := kmeans.NewBest(-1)
	if rank == 0 {
		seeder = kmeans.NewSeeder(p.Seed)
		best = kmeans.NewBest(shard.Total)
	}

	cost := make([]float64, 1)
	for r := 0; r < p.Repetitions; r++ {
		if rank == 0 {
			seeder.Seed(shard.Full, engine.Centroids)
		}
		if err := comm.BroadcastFloat64s(0, engine.Centroids.Data()); err != nil {
			return nil, fmt.Errorf("restart %d: broadcast centroids: %w", r, err)
		}

		stats, err := engine.Run()
		metrics.ObserveRestart(string(KindGrouped), stats.Iterations, stats.EmptyClusters)
		if err != nil {
			return nil, fmt.Errorf("restart %d: %w", r, err)
		}

		cost[0] = engine.Cost()
		if err := comm.SumFloat64s(cost); err != nil {
			return nil, fmt.Errorf("restart %d: reduce cost: %w", r, err)
		}

		// Every worker sees the same cost, so all of them take the gather.
		kept, err := best.Offer(cost[0], r, func(dst []uint16) error {
			return comm.GatherUint16s(0, engine.Assignment, counts, dst)
		})
		if err != nil {
			return nil, fmt.Errorf("restart %d: gather assignment: %w", r, err)
		}
		log.Debug("restart converged",
			"restart", r,
			"iterations", stats.Iterations,
			"empty_clusters", stats.EmptyClusters,
			"cost", cost[0],
			"best", kept,
		)
	}
	return best.Result(0), nil
}
