// Command berth builds container images and drives them through their
// lifecycle on local and remote Docker hosts.
package main

import (
	"github.com/f9-o/berth/internal/cli"
	"github.com/f9-o/berth/internal/cli/commands"
)

// Set at link time:
//
//	go build -ldflags "-X main.version=v1.0.0 -X main.commit=abc1234 -X main.buildDate=2026-01-01"
var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func main() {
	commands.Version = version
	commands.Commit = commit
	commands.BuildDate = buildDate

	cli.Execute()
}
