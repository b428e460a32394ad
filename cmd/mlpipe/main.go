// Command mlpipe runs pipelines from YAML configuration and lists pipelines
// and runs recorded in the metadata store.
package main

import (
	"github.com/dcshock/mlpipe/internal/cli"

	// modules available to `mlpipe pipeline run <module>`
	_ "github.com/dcshock/mlpipe/examples/mnist"
)

func main() {
	cli.Execute()
}
