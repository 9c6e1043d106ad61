package main

import (
	"os"

	"github.com/ralph-tui/ralph-tui/cmd/ralph/cmd"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	cmd.SetVersion(version, commit, date)
	os.Exit(cmd.Execute())
}
