package cmd

import (
	"fmt"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/timeprofiler/internal/platform/web"
)

// TokenCommand returns the command that issues web chat tokens
func TokenCommand() *cli.Command {
	return &cli.Command{
		Name:      "token",
		Usage:     "Issue a bearer token for the web chat widget",
		ArgsUsage: "USER_ID",
		Flags: []cli.Flag{
			&cli.DurationFlag{
				Name:  "ttl",
				Usage: "Token lifetime",
				Value: 24 * time.Hour,
			},
		},
		Action: runToken,
	}
}

func runToken(c *cli.Context) error {
	userID := c.Args().First()
	if userID == "" {
		return fmt.Errorf("user id is required")
	}

	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	secret := cfg.Platforms.Web.JWTSecret
	if secret == "" {
		return fmt.Errorf("platforms.web.jwt_secret is not configured")
	}

	token, err := web.IssueToken(secret, userID, c.Duration("ttl"))
	if err != nil {
		return fmt.Errorf("failed to issue token: %w", err)
	}
	fmt.Fprintln(c.App.Writer, token)
	return nil
}
