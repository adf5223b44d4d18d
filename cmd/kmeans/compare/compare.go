// Package compare implements the compare subcommand: two assignments are
// equivalent when a bijection of cluster labels maps one onto the other.
package compare

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/vexsearch/kmeans/internal/config"
	"github.com/vexsearch/kmeans/internal/dataset"
	"github.com/vexsearch/kmeans/internal/kmeans"
	"github.com/vexsearch/kmeans/pkg/objectstore"
)

// Run exits 0 when the assignments are equivalent, 1 when they differ and
// 2 when either cannot be read.
func Run(args []string) {
	same, err := Execute(context.Background(), args, os.Stdout, os.Stderr)
	switch {
	case errors.Is(err, flag.ErrHelp):
		os.Exit(0)
	case err != nil:
		fmt.Fprintf(os.Stderr, "kmeans compare: %v\n", err)
		os.Exit(2)
	case !same:
		os.Exit(1)
	}
}

// Execute reports whether the assignments at the two locations in args
// are equivalent.
func Execute(ctx context.Context, args []string, stdout, stderr io.Writer) (bool, error) {
	fs := flag.NewFlagSet("compare", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "", "Path to config file (object store settings)")
	quiet := fs.Bool("quiet", false, "Only set the exit status")
	fs.Usage = func() {
		fmt.Fprintln(stderr, "Usage: kmeans compare [options] ASSIGNMENT_A ASSIGNMENT_B")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return false, err
	}
	if fs.NArg() != 2 {
		fs.Usage()
		return false, fmt.Errorf("expected two assignment locations, got %d", fs.NArg())
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return false, fmt.Errorf("load config: %w", err)
	}
	resolver := dataset.Resolver{S3: objectstore.S3Config{
		Endpoint:  cfg.ObjectStore.Endpoint,
		AccessKey: cfg.ObjectStore.AccessKey,
		SecretKey: cfg.ObjectStore.SecretKey,
		Region:    cfg.ObjectStore.Region,
		UseSSL:    cfg.ObjectStore.UseSSL,
	}}

	var assigns [2][]uint16
	for i, arg := range fs.Args() {
		loc, err := resolver.Resolve(arg)
		if err != nil {
			return false, err
		}
		if assigns[i], err = dataset.LoadAssignment(ctx, loc); err != nil {
			return false, err
		}
	}

	same := kmeans.Equivalent(assigns[0], assigns[1])
	if !*quiet {
		if same {
			fmt.Fprintln(stdout, "equivalent")
		} else {
			fmt.Fprintln(stdout, "different")
		}
	}
	return same, nil
}
