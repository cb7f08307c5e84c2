package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"

	"github.com/timeprofiler/internal/app"
	"github.com/timeprofiler/internal/config"
	"github.com/timeprofiler/internal/logging"
)

// ServeCommand returns the CLI command for starting the chat service
func ServeCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Start the chat webhook server",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "addr",
				Aliases: []string{"a"},
				Usage:   "Listen address, overrides server.addr",
			},
		},
		Action: runServe,
	}
}

func runServe(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	if addr := c.String("addr"); addr != "" {
		cfg.Server.Addr = addr
	}

	_, closer, err := logging.Setup(cfg.Logging, os.Stderr)
	if err != nil {
		return fmt.Errorf("failed to set up logging: %w", err)
	}
	defer closer.Close()

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			log.Warn().Err(err).Msg("Shutdown was not clean")
		}
	}()

	log.Info().Str("addr", cfg.Server.Addr).Msg("Starting TimeProfiler")
	if err := a.Run(ctx); err != nil && ctx.Err() == nil {
		return err
	}
	log.Info().Msg("TimeProfiler stopped")
	return nil
}

// loadConfig reads the file named by the global --config flag. A missing
// default file is not an error; defaults and environment apply.
func loadConfig(c *cli.Context) (*config.Config, error) {
	cfg, err := config.LoadConfig(configPath(c))
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}
