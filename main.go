package main

import (
	"os"

	"github.com/trackwatch/trackwatch/cmd"
	"github.com/trackwatch/trackwatch/internal/buildinfo"
	"github.com/trackwatch/trackwatch/internal/conf"
)

// Set at build time with -ldflags "-X main.version=...".
var (
	version   string
	buildDate string
	commit    string
)

func main() {
	settings := &conf.Settings{}
	rootCmd := cmd.RootCommand(settings, buildinfo.New(version, buildDate, commit))

	err := rootCmd.Execute()
	cmd.Shutdown()
	if err != nil {
		os.Exit(1)
	}
}
