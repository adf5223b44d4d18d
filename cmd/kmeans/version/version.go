package version

import (
	"fmt"
	"io"
)

var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

func Run(w io.Writer) {
	fmt.Fprintf(w, "kmeans version %s\n", Version)
	fmt.Fprintf(w, "  commit: %s\n", GitCommit)
	fmt.Fprintf(w, "  built:  %s\n", BuildTime)
}
