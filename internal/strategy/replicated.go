package strategy

import (
	"fmt"

	"github.com/vexsearch/kmeans/internal/coord"
	"github.com/vexsearch/kmeans/internal/kmeans"
	"github.com/vexsearch/kmeans/internal/metrics"
	"github.com/vexsearch/kmeans/internal/partition"
)

// Replicated splits the restarts across the workers of comm. Each worker
// holds every point, seeds its own generator with p.Seed plus its rank and
// keeps its local best. A single minimum-with-location reduction then
// elects the winner, whose assignment is sent to rank 0 unless rank 0 won.
//
// Every worker returns the winning cost, rank and restart. Only rank 0's
// result carries the assignment.
func Replicated(comm coord.Communicator, points *kmeans.PointSet, p Params) (*kmeans.Result, error) {
	rank, size := comm.Rank(), comm.Size()
	if err := p.validate(points.Len()); err != nil {
		return nil, err
	}
	log := p.logger()

	share := partition.Of(p.Repetitions, size, rank)
	seeder := kmeans.NewSeeder(p.Seed + uint64(rank))
	engine := kmeans.NewLloyd(points, p.Clusters, kmeans.Local{}, p.policy())
	best := kmeans.NewBest(points.Len())

	var failed error
	for i := 0; i < share.Length; i++ {
		restart := share.Offset + i
		seeder.Seed(points, engine.Centroids)
		stats, err := engine.Run()
		metrics.ObserveRestart(string(KindReplicated), stats.Iterations, stats.EmptyClusters)
		if err != nil {
			failed = fmt.Errorf("restart %d: %w", restart, err)
			break
		}

		cost := engine.Cost()
		kept, _ := best.Offer(cost, restart, func(dst []uint16) error {
			copy(dst, engine.Assignment)
			return nil
		})
		log.Debug("restart converged",
			"restart", restart,
			"iterations", stats.Iterations,
			"empty_clusters", stats.EmptyClusters,
			"cost", cost,
			"best", kept,
		)
	}

	// A failed worker still takes part in the vote so nobody waits on it.
	ok, err := comm.All(failed == nil)
	if err != nil {
		return nil, err
	}
	if failed != nil {
		return nil, failed
	}
	if !ok {
		return nil, ErrPeerFailed
	}

	winner, err := comm.MinLoc(best.Cost())
	if err != nil {
		return nil, fmt.Errorf("elect winner: %w", err)
	}
	restart := []uint32{uint32(best.Restart())}
	if err := comm.BroadcastUint32s(winner.Rank, restart); err != nil {
		return nil, fmt.Errorf("share winning restart: %w", err)
	}

	if winner.Rank != 0 {
		switch rank {
		case winner.Rank:
			if err := comm.SendUint16s(0, best.Assignment()); err != nil {
				return nil, fmt.Errorf("send assignment: %w", err)
			}
		case 0:
			if err := comm.RecvUint16s(winner.Rank, best.Assignment()); err != nil {
				return nil, fmt.Errorf("receive assignment from rank %d: %w", winner.Rank, err)
			}
		}
	}

	result := &kmeans.Result{
		Cost:    winner.Value,
		Restart: int(restart[0]),
		Rank:    winner.Rank,
	}
	if rank == 0 {
		result.Assignment = best.Assignment()
	}
	return result, nil
}
