package main

import (
	"fmt"
	"os"

	"github.com/openeduhub/metaqs/internal/cli"
)

// Version is set at build time via ldflags
var Version = "dev"

func main() {
	cli.Version = Version
	if err := cli.NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
