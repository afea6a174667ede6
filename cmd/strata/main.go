// Command strata inspects strata schemas and the databases they map to.
package main

import (
	"os"

	"github.com/syssam/strata/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}
