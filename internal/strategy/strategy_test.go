package strategy

import (
	"context"
	"errors"
	"math"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/vexsearch/kmeans/internal/coord"
	"github.com/vexsearch/kmeans/internal/kmeans"
	"github.com/vexsearch/kmeans/internal/netgroup"
	"github.com/vexsearch/kmeans/internal/partition"
)

// blobs returns four unevenly spaced groups of ten integer points, so that
// three clusters have several local optima of different cost.
func blobs(t *testing.T) *kmeans.PointSet {
	t.Helper()
	centers := [][2]float64{{0, 0}, {30, 0}, {0, 45}, {60, 60}}
	var data []float64
	for _, c := range centers {
		for i := 0; i < 10; i++ {
			data = append(data, c[0]+float64(i%4), c[1]+float64(i/4))
		}
	}
	points, err := kmeans.NewPointSet(data, 2)
	if err != nil {
		t.Fatalf("NewPointSet: %v", err)
	}
	return points
}

type outcome struct {
	cost       float64
	rank       int
	restart    int
	assignment []uint16
}

// simulate replays the restarts of size replicated workers one after another.
func simulate(points *kmeans.PointSet, p Params, size int) outcome {
	best := outcome{cost: math.Inf(1)}
	for rank := 0; rank < size; rank++ {
		share := partition.Of(p.Repetitions, size, rank)
		seeder := kmeans.NewSeeder(p.Seed + uint64(rank))
		engine := kmeans.NewLloyd(points, p.Clusters, nil, kmeans.EmptyKeep)
		for i := 0; i < share.Length; i++ {
			seeder.Seed(points, engine.Centroids)
			if _, err := engine.Run(); err != nil {
				panic(err)
			}
			if c := engine.Cost(); c < best.cost {
				best = outcome{cost: c, rank: rank, restart: share.Offset + i, assignment: slices.Clone(engine.Assignment)}
			}
		}
	}
	return best
}

func closeTo(a, b float64) bool {
	return math.Abs(a-b) <= 1e-9*math.Max(1, math.Abs(b))
}

func TestParseKind(t *testing.T) {
	for _, s := range []string{"seq", "group", "rep"} {
		if k, err := ParseKind(s); err != nil || string(k) != s {
			t.Errorf("ParseKind(%q) = %q, %v", s, k, err)
		}
	}
	if _, err := ParseKind("omp"); !errors.Is(err, ErrUnknownKind) {
		t.Errorf("ParseKind(omp): got %v, want ErrUnknownKind", err)
	}
}

func TestParamsValidation(t *testing.T) {
	points := blobs(t)
	tests := []struct {
		name string
		p    Params
		want error
	}{
		{"no repetitions", Params{Clusters: 2, Repetitions: 0}, ErrInvalidRepetitions},
		{"no clusters", Params{Clusters: 0, Repetitions: 1}, kmeans.ErrInvalidClusters},
		{"too many clusters", Params{Clusters: 41, Repetitions: 1}, kmeans.ErrTooFewPoints},
		{"bad policy", Params{Clusters: 2, Repetitions: 1, EmptyClusters: "reseed"}, kmeans.ErrInvalidPolicy},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := Sequential(points, tc.p); !errors.Is(err, tc.want) {
				t.Errorf("Sequential: got %v, want %v", err, tc.want)
			}
		})
	}
}

func TestSequentialEndToEnd(t *testing.T) {
	points, err := kmeans.NewPointSet([]float64{0, 0, 0, 1, 10, 0, 10, 1}, 2)
	if err != nil {
		t.Fatalf("NewPointSet: %v", err)
	}
	result, err := Sequential(points, Params{Clusters: 2, Repetitions: 32})
	if err != nil {
		t.Fatalf("Sequential: %v", err)
	}
	if result.Cost != 1 {
		t.Errorf("cost = %v, want 1", result.Cost)
	}
	if !kmeans.Equivalent(result.Assignment, []uint16{0, 0, 1, 1}) {
		t.Errorf("assignment = %v, want a relabeling of [0 0 1 1]", result.Assignment)
	}
}

func TestSequentialKeepsBestRestart(t *testing.T) {
	points := blobs(t)
	p := Params{Clusters: 3, Repetitions: 12, Seed: 7}

	result, err := Sequential(points, p)
	if err != nil {
		t.Fatalf("Sequential: %v", err)
	}
	want := simulate(points, p, 1)
	if result.Cost != want.cost || result.Restart != want.restart {
		t.Errorf("result = (%v, restart %d), want (%v, restart %d)", result.Cost, result.Restart, want.cost, want.restart)
	}
	if !slices.Equal(result.Assignment, want.assignment) {
		t.Errorf("assignment = %v, want %v", result.Assignment, want.assignment)
	}

	// No single restart may beat the reported best.
	seeder := kmeans.NewSeeder(p.Seed)
	engine := kmeans.NewLloyd(points, p.Clusters, nil, kmeans.EmptyKeep)
	for r := 0; r < p.Repetitions; r++ {
		seeder.Seed(points, engine.Centroids)
		if _, err := engine.Run(); err != nil {
			t.Fatalf("restart %d: %v", r, err)
		}
		if c := engine.Cost(); c < result.Cost {
			t.Errorf("restart %d cost %v beats reported best %v", r, c, result.Cost)
		}
	}
}

func TestGroupedSoloMatchesSequential(t *testing.T) {
	points := blobs(t)
	p := Params{Clusters: 3, Repetitions: 5, Seed: 3}

	want, err := Sequential(points, p)
	if err != nil {
		t.Fatalf("Sequential: %v", err)
	}
	got, err := Grouped(coord.NewSolo(), ShardOf(points, 0, 1), p)
	if err != nil {
		t.Fatalf("Grouped: %v", err)
	}
	if got.Cost != want.Cost || !slices.Equal(got.Assignment, want.Assignment) {
		t.Errorf("grouped = (%v, %v), want (%v, %v)", got.Cost, got.Assignment, want.Cost, want.Assignment)
	}
}

func TestGroupedTeamMatchesSequential(t *testing.T) {
	points := blobs(t)
	for _, workers := range []int{1, 2, 3, 4, 7} {
		for _, seed := range []uint64{0, 1, 2} {
			p := Params{Clusters: 3, Repetitions: 4, Seed: seed}
			want, err := Sequential(points, p)
			if err != nil {
				t.Fatalf("Sequential: %v", err)
			}
			got, err := Team(context.Background(), KindGrouped, workers, points, p)
			if err != nil {
				t.Fatalf("workers %d seed %d: %v", workers, seed, err)
			}
			if !closeTo(got.Cost, want.Cost) {
				t.Errorf("workers %d seed %d: cost %v, want %v", workers, seed, got.Cost, want.Cost)
			}
			if got.Restart != want.Restart {
				t.Errorf("workers %d seed %d: restart %d, want %d", workers, seed, got.Restart, want.Restart)
			}
			if !slices.Equal(got.Assignment, want.Assignment) {
				t.Errorf("workers %d seed %d: assignment %v, want %v", workers, seed, got.Assignment, want.Assignment)
			}
		}
	}
}

func TestGroupedShardMismatch(t *testing.T) {
	points := blobs(t)
	shard := ShardOf(points, 0, 2)
	if _, err := Grouped(coord.NewSolo(), shard, Params{Clusters: 2, Repetitions: 1}); !errors.Is(err, ErrShardMismatch) {
		t.Errorf("Grouped with a half shard on one worker: got %v, want ErrShardMismatch", err)
	}
}

func TestReplicatedTeam(t *testing.T) {
	points := blobs(t)
	remoteWinner := false
	for seed := uint64(0); seed < 200 && !remoteWinner; seed++ {
		p := Params{Clusters: 3, Repetitions: 2, Seed: seed}
		want := simulate(points, p, 2)

		got, err := Team(context.Background(), KindReplicated, 2, points, p)
		if err != nil {
			t.Fatalf("seed %d: %v", seed, err)
		}
		if got.Cost != want.cost || got.Rank != want.rank || got.Restart != want.restart {
			t.Errorf("seed %d: got (%v, rank %d, restart %d), want (%v, rank %d, restart %d)",
				seed, got.Cost, got.Rank, got.Restart, want.cost, want.rank, want.restart)
		}
		if !slices.Equal(got.Assignment, want.assignment) {
			t.Errorf("seed %d: assignment %v, want %v", seed, got.Assignment, want.assignment)
		}
		remoteWinner = want.rank != 0
	}
	if !remoteWinner {
		t.Fatal("no seed made rank 1 win; the transfer path went untested")
	}
}

func TestReplicatedMoreWorkersThanRestarts(t *testing.T) {
	points := blobs(t)
	p := Params{Clusters: 3, Repetitions: 3, Seed: 11}
	want := simulate(points, p, 5)

	got, err := Team(context.Background(), KindReplicated, 5, points, p)
	if err != nil {
		t.Fatalf("Team: %v", err)
	}
	if got.Cost != want.cost || got.Rank != want.rank {
		t.Errorf("got (%v, rank %d), want (%v, rank %d)", got.Cost, got.Rank, want.cost, want.rank)
	}
	if math.IsInf(got.Cost, 1) {
		t.Error("idle workers won the election")
	}
}

func TestTeamRejectsNoWorkers(t *testing.T) {
	if _, err := Team(context.Background(), KindGrouped, 0, blobs(t), Params{Clusters: 2, Repetitions: 1}); err == nil {
		t.Error("Team with zero workers succeeded")
	}
}

// netGroup connects size workers over loopback TCP.
func netGroup(t *testing.T, size int) []coord.Communicator {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	hub, err := netgroup.Announce("127.0.0.1:0", netgroup.Options{CompressThreshold: 128})
	if err != nil {
		t.Fatalf("Announce: %v", err)
	}
	defer hub.Close()

	comms := make([]coord.Communicator, size)
	errs := make([]error, size)
	var wg sync.WaitGroup
	for r := 1; r < size; r++ {
		wg.Add(1)
		go func(rank int) {
			defer wg.Done()
			g, err := netgroup.Join(ctx, hub.Addr(), rank, size, netgroup.Options{CompressThreshold: 128})
			comms[rank], errs[rank] = g, err
		}(r)
	}
	g, err := hub.Accept(ctx, size)
	comms[0], errs[0] = g, err
	wg.Wait()
	for r, err := range errs {
		if err != nil {
			t.Fatalf("rank %d: %v", r, err)
		}
	}
	t.Cleanup(func() {
		for _, c := range comms {
			c.Close()
		}
	})
	return comms
}

func runDistributed(t *testing.T, comms []coord.Communicator, kind Kind, points *kmeans.PointSet, p Params) []*kmeans.Result {
	t.Helper()
	results := make([]*kmeans.Result, len(comms))
	errs := make([]error, len(comms))
	var wg sync.WaitGroup
	for r, c := range comms {
		wg.Add(1)
		go func(r int, c coord.Communicator) {
			defer wg.Done()
			var local *kmeans.PointSet
			if r == 0 {
				local = points
			}
			results[r], errs[r] = Distributed(c, kind, local, p)
		}(r, c)
	}
	wg.Wait()
	for r, err := range errs {
		if err != nil {
			t.Fatalf("rank %d: %v", r, err)
		}
	}
	return results
}

func TestDistributedGrouped(t *testing.T) {
	points := blobs(t)
	p := Params{Clusters: 3, Repetitions: 4, Seed: 5}
	want, err := Sequential(points, p)
	if err != nil {
		t.Fatalf("Sequential: %v", err)
	}

	results := runDistributed(t, netGroup(t, 3), KindGrouped, points, p)
	if !slices.Equal(results[0].Assignment, want.Assignment) {
		t.Errorf("assignment = %v, want %v", results[0].Assignment, want.Assignment)
	}
	for r, res := range results {
		if !closeTo(res.Cost, want.Cost) {
			t.Errorf("rank %d: cost %v, want %v", r, res.Cost, want.Cost)
		}
		if r != 0 && res.Assignment != nil {
			t.Errorf("rank %d holds an assignment", r)
		}
	}
}

func TestDistributedReplicated(t *testing.T) {
	points := blobs(t)
	p := Params{Clusters: 3, Repetitions: 7, Seed: 9}
	want := simulate(points, p, 3)

	results := runDistributed(t, netGroup(t, 3), KindReplicated, points, p)
	if !slices.Equal(results[0].Assignment, want.assignment) {
		t.Errorf("assignment = %v, want %v", results[0].Assignment, want.assignment)
	}
	for r, res := range results {
		if res.Cost != want.cost || res.Rank != want.rank || res.Restart != want.restart {
			t.Errorf("rank %d: got (%v, rank %d, restart %d), want (%v, rank %d, restart %d)",
				r, res.Cost, res.Rank, res.Restart, want.cost, want.rank, want.restart)
		}
	}
}

func TestDistributedManyFrames(t *testing.T) {
	// Odd so that pieces split points across frames.
	defer func(n int) { frameFloats = n }(frameFloats)
	frameFloats = 7

	points := blobs(t)
	p := Params{Clusters: 3, Repetitions: 4, Seed: 5}
	want, err := Sequential(points, p)
	if err != nil {
		t.Fatalf("Sequential: %v", err)
	}
	results := runDistributed(t, netGroup(t, 3), KindGrouped, points, p)
	if !slices.Equal(results[0].Assignment, want.Assignment) {
		t.Errorf("grouped assignment = %v, want %v", results[0].Assignment, want.Assignment)
	}

	p = Params{Clusters: 3, Repetitions: 7, Seed: 9}
	rep := simulate(points, p, 3)
	results = runDistributed(t, netGroup(t, 3), KindReplicated, points, p)
	for r, res := range results {
		if res.Cost != rep.cost || res.Rank != rep.rank || res.Restart != rep.restart {
			t.Errorf("rank %d: got (%v, rank %d, restart %d), want (%v, rank %d, restart %d)",
				r, res.Cost, res.Rank, res.Restart, rep.cost, rep.rank, rep.restart)
		}
	}
}

func TestDistributedRejectsSequential(t *testing.T) {
	if _, err := Distributed(coord.NewSolo(), KindSequential, blobs(t), Params{Clusters: 2, Repetitions: 1}); !errors.Is(err, ErrUnknownKind) {
		t.Errorf("Distributed seq: got %v, want ErrUnknownKind", err)
	}
}
