package cmd

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/timeprofiler/internal/app"
)

// ProblemsCommand returns the problems command
func ProblemsCommand() *cli.Command {
	return &cli.Command{
		Name:  "problems",
		Usage: "Inspect clustered problem reports",
		Subcommands: []*cli.Command{
			{
				Name:  "trending",
				Usage: "List problems reported often and recently",
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:  "days",
						Usage: "Only include problems reported within the last `N` days",
						Value: 7,
					},
					&cli.IntFlag{
						Name:  "min-reports",
						Usage: "Minimum number of similar reports",
						Value: 3,
					},
					&cli.BoolFlag{
						Name:  "json",
						Usage: "Print JSON instead of a table",
					},
				},
				Action: runProblemsTrending,
			},
		},
	}
}

func runProblemsTrending(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}

	store, err := app.OpenStore(c.Context, cfg)
	if err != nil {
		return fmt.Errorf("failed to open storage: %w", err)
	}
	defer store.Close()

	list, err := app.NewAggregator(cfg, store).TrendingProblems(c.Context, c.Int("days"), c.Int("min-reports"))
	if err != nil {
		return fmt.Errorf("failed to load trending problems: %w", err)
	}

	if c.Bool("json") {
		enc := json.NewEncoder(c.App.Writer)
		enc.SetIndent("", "  ")
		return enc.Encode(list)
	}

	if len(list) == 0 {
		fmt.Fprintln(c.App.Writer, "No trending problems")
		return nil
	}
	w := tabwriter.NewWriter(c.App.Writer, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "COUNT\tLAST REPORTED\tDESCRIPTION")
	for _, p := range list {
		fmt.Fprintf(w, "%d\t%s\t%s\n", p.FrequencyCount, p.LastReported.Format(time.RFC3339), p.Description)
	}
	return w.Flush()
}
