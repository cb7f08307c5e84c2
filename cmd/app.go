package cmd

import (
	"github.com/urfave/cli/v2"
)

// Version is stamped at build time.
var Version = "0.1.0"

// NewApp returns the timeprofiler command line application.
func NewApp() *cli.App {
	return &cli.App{
		Name:    "timeprofiler",
		Usage:   "Chat assistant that tracks time allocation and clusters reported problems",
		Version: Version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Load configuration from `FILE`",
				Value:   "timeprofiler.toml",
			},
		},
		Commands: []*cli.Command{
			ServeCommand(),
			ConfigCommand(),
			ProblemsCommand(),
			ClassifyCommand(),
			TokenCommand(),
		},
	}
}
