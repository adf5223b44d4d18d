package strategy

import (
	"fmt"

	"github.com/vexsearch/kmeans/internal/kmeans"
	"github.com/vexsearch/kmeans/internal/metrics"
)

// Sequential runs every restart on the calling goroutine.
func Sequential(points *kmeans.PointSet, p Params) (*kmeans.Result, error) {
	if err := p.validate(points.Len()); err != nil {
		return nil, err
	}
	log := p.logger()

	seeder := kmeans.NewSeeder(p.Seed)
	engine := kmeans.NewLloyd(points, p.Clusters, kmeans.Local{}, p.policy())
	best := kmeans.NewBest(points.Len())

	for r := 0; r < p.Repetitions; r++ {
		seeder.Seed(points, engine.Centroids)
		stats, err := engine.Run()
		metrics.ObserveRestart(string(KindSequential), stats.Iterations, stats.EmptyClusters)
		if err != nil {
			return nil, fmt.Errorf("restart %d: %w", r, err)
		}

		cost := engine.Cost()
		kept, _ := best.Offer(cost, r, func(dst []uint16) error {
			copy(dst, engine.Assignment)
			return nil
		})
		log.Debug("restart converged",
			"restart", r,
			"iterations", stats.Iterations,
			"empty_clusters", stats.EmptyClusters,
			"cost", cost,
			"best", kept,
		)
	}
	return best.Result(0), nil
}
