// Command styx reads, writes and watches a shared styx value held in a
// mapped region, a plain file or an S3 object.
package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"
)

const (
	AppName    = "styx"
	AppVersion = "0.1.0"
)

var commands = []*cli.Command{}

func newCLI() *cli.App {
	return &cli.App{
		Name:     AppName,
		Usage:    "inspect and update a versioned shared value",
		Version:  AppVersion,
		Flags:    configFlags,
		Commands: commands,
	}
}

func main() {
	if err := newCLI().Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", AppName, err)
		os.Exit(1)
	}
}
