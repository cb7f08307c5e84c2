package cmd

import (
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/timeprofiler/internal/allocation"
	"github.com/timeprofiler/internal/app"
	"github.com/timeprofiler/pkg/models"
)

// ClassifyCommand returns the classify command
func ClassifyCommand() *cli.Command {
	return &cli.Command{
		Name:      "classify",
		Usage:     "Show how a message would be categorized",
		ArgsUsage: "TEXT",
		Action:    runClassify,
	}
}

func runClassify(c *cli.Context) error {
	text := strings.TrimSpace(strings.Join(c.Args().Slice(), " "))
	if text == "" {
		return fmt.Errorf("message text is required")
	}

	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}

	category := app.NewClassifier(cfg).Classify(text)
	fmt.Fprintf(c.App.Writer, "category: %s\n", category)

	if category == models.CategoryTimeAllocation {
		activities, unit := allocation.NewParser(cfg.Engine.Activities).Parse(text)
		for _, name := range slices.Sorted(maps.Keys(activities)) {
			fmt.Fprintf(c.App.Writer, "  %s: %g %s\n", name, activities[name], unit)
		}
	}
	return nil
}
