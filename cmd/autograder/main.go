// Command autograder runs behaviour scenarios and probes student code
// through sandboxed workers.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/programme-lv/autograder/internal/config"
	"github.com/programme-lv/autograder/internal/logging"
	"github.com/urfave/cli/v3"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmd := &cli.Command{
		Name:  "autograder",
		Usage: "grade student code in sandboxed workers",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Usage: "TOML config file (default: $XDG_CONFIG_HOME/autograder/config.toml)"},
			&cli.StringFlag{Name: "log-level", Sources: cli.EnvVars("AUTOGRADER_LOG_LEVEL")},
			&cli.BoolFlag{Name: "no-color", Sources: cli.EnvVars("NO_COLOR")},
		},
		Commands: []*cli.Command{
			runCommand(),
			probeCommand(),
			fingerprintCommand(),
			healthCommand(),
		},
	}

	if err := cmd.Run(ctx, os.Args); err != nil {
		fmt.Fprintln(os.Stderr, color.RedString("error:"), err)
		os.Exit(1)
	}
}

// setup loads the configuration and builds the logger from root flags.
func setup(cmd *cli.Command) (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(cmd.String("config"))
	if err != nil {
		return nil, nil, err
	}
	level := cmd.String("log-level")
	if level == "" {
		level = cfg.LogLevel
	}
	noColor := cmd.Bool("no-color")
	if noColor {
		color.NoColor = true
	}
	return cfg, logging.New(os.Stderr, level, noColor), nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
