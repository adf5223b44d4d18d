// Package run implements the run subcommand: load a point set, cluster it
// on a worker team or a TCP process group and write the assignment.
package run

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/vexsearch/kmeans/internal/config"
	"github.com/vexsearch/kmeans/internal/coord"
	"github.com/vexsearch/kmeans/internal/dataset"
	"github.com/vexsearch/kmeans/internal/kmeans"
	"github.com/vexsearch/kmeans/internal/logging"
	"github.com/vexsearch/kmeans/internal/membership"
	"github.com/vexsearch/kmeans/internal/metrics"
	"github.com/vexsearch/kmeans/internal/netgroup"
	"github.com/vexsearch/kmeans/internal/strategy"
	"github.com/vexsearch/kmeans/pkg/objectstore"
)

// Run executes the subcommand and exits non-zero on failure.
func Run(args []string) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := Execute(ctx, args, os.Stderr)
	stop()
	switch {
	case errors.Is(err, flag.ErrHelp):
		os.Exit(0)
	case err != nil:
		fmt.Fprintf(os.Stderr, "kmeans run: %v\n", err)
		os.Exit(1)
	}
}

// Execute parses args, runs the job and logs to stderr.
func Execute(ctx context.Context, args []string, stderr io.Writer) error {
	cfg, err := parse(args, stderr)
	if err != nil {
		return err
	}

	level, err := logging.ParseLevel(cfg.LogLevel)
	if err != nil {
		return err
	}
	policy, err := kmeans.ParseEmptyClusterPolicy(cfg.EmptyClusters)
	if err != nil {
		return err
	}
	kind, err := strategy.ParseKind(cfg.Strategy)
	if err != nil {
		return err
	}

	j := &job{
		cfg:    cfg,
		kind:   kind,
		logger: logging.NewWithLevel(stderr, level),
		params: strategy.Params{
			Clusters:      cfg.Clusters,
			Repetitions:   cfg.Repetitions,
			Seed:          cfg.Seed,
			EmptyClusters: policy,
		},
		resolver: dataset.Resolver{
			S3: objectstore.S3Config{
				Endpoint:  cfg.ObjectStore.Endpoint,
				AccessKey: cfg.ObjectStore.AccessKey,
				SecretKey: cfg.ObjectStore.SecretKey,
				Region:    cfg.ObjectStore.Region,
				UseSSL:    cfg.ObjectStore.UseSSL,
			},
			Instrument: true,
		},
	}

	if cfg.MetricsAddr != "" {
		_, stopMetrics, err := serveMetrics(cfg.MetricsAddr, j.logger, j.info.Load)
		if err != nil {
			return err
		}
		defer stopMetrics()
	}

	if cfg.Substrate == config.SubstrateNet {
		return j.runNet(ctx)
	}
	return j.runTeam(ctx)
}

// parse layers flags and positional arguments over the loaded config.
func parse(args []string, stderr io.Writer) (*config.Config, error) {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "", "Path to config file")
	fs.String("strategy", "", "Strategy: seq, group or rep")
	fs.String("substrate", "", "Substrate: team or net")
	fs.Int("workers", 0, "Team size (default: one per CPU)")
	fs.Int("k", 0, "Number of clusters")
	fs.Int("repetitions", 0, "Number of restarts")
	fs.Uint64("seed", 0, "Random seed")
	fs.String("input", "", "Point set location (path or s3://bucket/key)")
	fs.String("output", "", "Assignment location (path or s3://bucket/key)")
	fs.String("empty-clusters", "", "Empty cluster policy: keep or fail")
	fs.String("log-level", "", "Log level: debug, info, warn or error")
	fs.String("metrics-addr", "", "Serve Prometheus metrics on this address")
	fs.Int("rank", 0, "Rank of this process in the group (net, static membership)")
	fs.Int("size", 0, "Number of processes in the group (net)")
	fs.String("coordinator", "", "Address of rank 0 (net, static membership)")
	fs.String("listen", "", "Address rank 0 accepts workers on (net)")
	fs.String("session", "", "Session every process of the group must agree on (net)")
	fs.String("membership", "", "Membership: static or gossip (net)")
	fs.Usage = func() {
		fmt.Fprintln(stderr, "Usage: kmeans run [options] [K REPETITIONS INPUT OUTPUT]")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	var flagErr error
	fs.Visit(func(f *flag.Flag) {
		v := f.Value.String()
		switch f.Name {
		case "strategy":
			cfg.Strategy = v
		case "substrate":
			cfg.Substrate = v
		case "workers":
			cfg.Workers, _ = strconv.Atoi(v)
		case "k":
			cfg.Clusters, _ = strconv.Atoi(v)
		case "repetitions":
			cfg.Repetitions, _ = strconv.Atoi(v)
		case "seed":
			cfg.Seed, _ = strconv.ParseUint(v, 10, 64)
		case "input":
			cfg.Input = v
		case "output":
			cfg.Output = v
		case "empty-clusters":
			cfg.EmptyClusters = v
		case "log-level":
			cfg.LogLevel = v
		case "metrics-addr":
			cfg.MetricsAddr = v
		case "rank":
			cfg.Net.Rank, _ = strconv.Atoi(v)
		case "size":
			cfg.Net.Size, _ = strconv.Atoi(v)
		case "coordinator":
			cfg.Net.Coordinator = v
		case "listen":
			cfg.Net.ListenAddr = v
		case "session":
			cfg.Net.Session = v
		case "membership":
			cfg.Membership.Type = v
		}
	})

	switch fs.NArg() {
	case 0:
	case 4:
		pos := fs.Args()
		if cfg.Clusters, err = strconv.Atoi(pos[0]); err != nil {
			flagErr = fmt.Errorf("%w: %q", config.ErrInvalidClusters, pos[0])
		} else if cfg.Repetitions, err = strconv.Atoi(pos[1]); err != nil {
			flagErr = fmt.Errorf("%w: %q", config.ErrInvalidRepetitions, pos[1])
		}
		cfg.Input, cfg.Output = pos[2], pos[3]
	default:
		fs.Usage()
		flagErr = fmt.Errorf("expected K REPETITIONS INPUT OUTPUT, got %d arguments", fs.NArg())
	}
	if flagErr != nil {
		return nil, flagErr
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

type job struct {
	cfg      *config.Config
	kind     strategy.Kind
	params   strategy.Params
	logger   *logging.Logger
	resolver dataset.Resolver
	// info is read by the metrics endpoint while the run goes on.
	info atomic.Pointer[logging.RunInfo]
}

func (j *job) runTeam(ctx context.Context) error {
	workers := j.cfg.GetWorkers()
	if j.kind == strategy.KindSequential {
		workers = 1
	}
	info := &logging.RunInfo{
		RunID:     uuid.NewString(),
		Strategy:  string(j.kind),
		Substrate: config.SubstrateTeam,
		Workers:   workers,
	}
	j.info.Store(info)
	ctx = logging.ContextWithRunInfo(ctx, info)
	logger := j.logger.WithRunInfo(info)

	points, out, err := j.open(ctx)
	if err != nil {
		return err
	}
	logger.Info("points loaded", "points", points.Len(), "dim", points.Dim(), "input", j.cfg.Input)

	params := j.params
	params.Logger = logger
	start := time.Now()
	result, err := strategy.Team(ctx, j.kind, workers, points, params)
	if err != nil {
		return err
	}
	return j.finish(ctx, logger, config.SubstrateTeam, result, time.Since(start), out)
}

func (j *job) runNet(ctx context.Context) error {
	resolver := membership.NewFromConfig(j.cfg)
	defer resolver.Stop()

	joinCtx, cancel := context.WithTimeout(ctx, j.cfg.Net.GetJoinTimeout())
	defer cancel()
	topo, err := resolver.Resolve(joinCtx)
	if err != nil {
		return fmt.Errorf("resolve topology: %w", err)
	}

	opts := netgroup.Options{
		Session:           j.cfg.Net.Session,
		IOTimeout:         j.cfg.Net.GetIOTimeout(),
		CompressThreshold: j.cfg.Net.CompressThreshold,
	}

	var (
		group  *netgroup.Group
		points *kmeans.PointSet
		out    dataset.Location
	)
	if topo.Rank == 0 {
		if j.cfg.Input == "" || j.cfg.Output == "" {
			return config.ErrMissingPath
		}
		// Input errors surface before any worker is admitted.
		if points, out, err = j.open(ctx); err != nil {
			return err
		}
		hub, err := netgroup.Announce(j.cfg.Net.GetListenAddr(), opts)
		if err != nil {
			return err
		}
		defer hub.Close()
		j.logger.Info("waiting for workers", "addr", hub.Addr(), "size", topo.Size, "session", hub.Session())
		if group, err = hub.Accept(joinCtx, topo.Size); err != nil {
			return fmt.Errorf("form group: %w", err)
		}
	} else {
		if group, err = netgroup.Join(joinCtx, topo.Coordinator, topo.Rank, topo.Size, opts); err != nil {
			return fmt.Errorf("join group: %w", err)
		}
	}
	defer group.Close()
	// Unblocks collectives when the process is interrupted.
	stopClose := context.AfterFunc(ctx, func() { group.Close() })
	defer stopClose()

	info := &logging.RunInfo{
		RunID:     group.Session(),
		Strategy:  string(j.kind),
		Substrate: config.SubstrateNet,
		Rank:      topo.Rank,
		Workers:   topo.Size,
	}
	j.info.Store(info)
	ctx = logging.ContextWithRunInfo(ctx, info)
	logger := j.logger.WithRunInfo(info)
	logger.Info("group formed")

	params := j.params
	params.Logger = logger
	start := time.Now()
	result, err := strategy.Distributed(coord.NewInstrumented(group, config.SubstrateNet), j.kind, points, params)
	if err != nil {
		if ctx.Err() != nil {
			return errors.Join(ctx.Err(), err)
		}
		return err
	}
	if topo.Rank != 0 {
		logger.Info("worker finished", "elapsed_ms", float64(time.Since(start).Microseconds())/1000.0)
		return nil
	}
	return j.finish(ctx, logger, config.SubstrateNet, result, time.Since(start), out)
}

// open loads the input and resolves the output location.
func (j *job) open(ctx context.Context) (*kmeans.PointSet, dataset.Location, error) {
	in, err := j.resolver.Resolve(j.cfg.Input)
	if err != nil {
		return nil, dataset.Location{}, fmt.Errorf("input: %w", err)
	}
	out, err := j.resolver.Resolve(j.cfg.Output)
	if err != nil {
		return nil, dataset.Location{}, fmt.Errorf("output: %w", err)
	}
	points, err := dataset.LoadPoints(ctx, in)
	if err != nil {
		return nil, dataset.Location{}, err
	}
	return points, out, nil
}

func (j *job) finish(ctx context.Context, logger *logging.Logger, substrate string, result *kmeans.Result, elapsed time.Duration, out dataset.Location) error {
	metrics.ObserveRun(string(j.kind), substrate, elapsed.Seconds(), result.Cost)
	logger.Info("run finished",
		"cost", result.Cost,
		"restart", result.Restart,
		"winner_rank", result.Rank,
		"elapsed_ms", float64(elapsed.Microseconds())/1000.0,
	)

	if err := dataset.SaveAssignment(ctx, out, result.Assignment); err != nil {
		return err
	}
	logger.Info("assignment written",
		"output", j.cfg.Output,
		"points", len(result.Assignment),
		"cluster_sizes", kmeans.Sizes(result.Assignment, j.params.Clusters),
	)
	return nil
}
