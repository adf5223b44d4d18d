package main

import (
	"fmt"
	"os"

	"github.com/vexsearch/kmeans/cmd/kmeans/compare"
	"github.com/vexsearch/kmeans/cmd/kmeans/run"
	"github.com/vexsearch/kmeans/cmd/kmeans/version"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "run":
		run.Run(os.Args[2:])
	case "compare":
		compare.Run(os.Args[2:])
	case "version":
		version.Run(os.Stdout)
	case "-h", "--help", "help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`kmeans - best-of-R k-means clustering on a worker team or process group

Usage:
  kmeans <command> [options]

Commands:
  run       Cluster a CSV point set and write the assignment
  compare   Check whether two assignments are equal up to label renaming
  version   Print version information
  help      Show this help message

Run 'kmeans <command> --help' for more information on a command.`)
}
