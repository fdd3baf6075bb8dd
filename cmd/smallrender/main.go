package main

import (
	"fmt"
	"os"

	"github.com/smallrender/core/pkg/cli"
	"github.com/smallrender/core/pkg/node"
)

var (
	// Version, Commit, and BuildTime are set via ldflags during build.
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	cli.Version, cli.Commit, cli.BuildTime = Version, Commit, BuildTime
	node.AppVersion = Version

	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
