package cmd

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/urfave/cli/v2"

	"github.com/timeprofiler/internal/config"
)

// ConfigCommand returns the config command
func ConfigCommand() *cli.Command {
	return &cli.Command{
		Name:  "config",
		Usage: "Create, check and inspect the TimeProfiler configuration",
		Subcommands: []*cli.Command{
			{
				Name:  "init",
				Usage: "Write a sample configuration file",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "output",
						Aliases: []string{"o"},
						Usage:   "Output file path",
						Value:   "timeprofiler.toml",
					},
				},
				Action: runConfigInit,
			},
			{
				Name:   "validate",
				Usage:  "Check the configuration and summarize what serve would run",
				Action: runConfigValidate,
			},
			{
				Name:   "show",
				Usage:  "Print the effective configuration (defaults, file and environment) with secrets masked",
				Action: runConfigShow,
			},
		},
	}
}

func runConfigInit(c *cli.Context) error {
	outputPath := c.String("output")

	if err := config.InitConfig(outputPath); err != nil {
		return fmt.Errorf("failed to initialize config: %w", err)
	}

	fmt.Fprintf(c.App.Writer, "Created configuration file at %s\n", outputPath)
	fmt.Fprintf(c.App.Writer, "Enable a chat platform and run: timeprofiler --config %s serve\n", outputPath)
	return nil
}

func runConfigValidate(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}

	if err := config.Validate(cfg); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	fmt.Fprintln(c.App.Writer, "Configuration is valid")
	w := tabwriter.NewWriter(c.App.Writer, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "  listen\t%s\n", cfg.Server.Addr)
	fmt.Fprintf(w, "  storage\t%s\n", storageSummary(cfg))
	fmt.Fprintf(w, "  platforms\t%s\n", strings.Join(enabledPlatforms(cfg), ", "))
	fmt.Fprintf(w, "  dispatch\t%d shards, queue %d\n", cfg.Dispatch.Shards, cfg.Dispatch.QueueSize)
	fmt.Fprintf(w, "  similarity threshold\t%g\n", cfg.Engine.SimilarityThreshold)
	fmt.Fprintf(w, "  allocation retries\t%s\n", limitSummary(cfg.Engine.AllocationRetryLimit))
	fmt.Fprintf(w, "  activities\t%d\n", len(cfg.Engine.Activities))
	if cfg.JobQueue.Enabled {
		fmt.Fprintf(w, "  delivery\tjob queue, %d workers\n", cfg.JobQueue.MaxWorkers)
	} else {
		fmt.Fprintf(w, "  delivery\tinline, timeout %s\n", cfg.Engine.DeliveryTimeout)
	}
	return w.Flush()
}

func runConfigShow(c *cli.Context) error {
	out, err := config.Effective(configPath(c))
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	_, err = c.App.Writer.Write(out)
	return err
}

func storageSummary(cfg *config.Config) string {
	switch cfg.Storage.Driver {
	case config.DriverSQLite:
		return fmt.Sprintf("sqlite (%s)", cfg.Storage.Path)
	case config.DriverPostgres:
		if cfg.Storage.DSN == "" {
			return "postgres (DATABASE_URL)"
		}
		return "postgres"
	default:
		return cfg.Storage.Driver + " (not persisted)"
	}
}

func enabledPlatforms(cfg *config.Config) []string {
	var names []string
	if cfg.Platforms.Web.Enabled {
		names = append(names, "web")
	}
	if cfg.Platforms.Slack.Enabled {
		names = append(names, "slack")
	}
	if cfg.Platforms.Teams.Enabled {
		names = append(names, "teams")
	}
	return names
}

func limitSummary(n int) string {
	if n == 0 {
		return "unlimited"
	}
	return fmt.Sprint(n)
}

// configPath resolves the global --config flag. A missing default file
// resolves to "" so defaults and environment apply.
func configPath(c *cli.Context) string {
	path := c.String("config")
	if !c.IsSet("config") {
		if _, err := os.Stat(path); err != nil {
			return ""
		}
	}
	return path
}
