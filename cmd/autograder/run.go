package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/programme-lv/autograder/internal/behave"
	"github.com/programme-lv/autograder/internal/config"
	"github.com/programme-lv/autograder/internal/feedback"
	"github.com/programme-lv/autograder/internal/termgath"
	"github.com/urfave/cli/v3"
)

func runCommand() *cli.Command {
	return &cli.Command{
		Name:      "run",
		Usage:     "run behaviour scenario files",
		ArgsUsage: "<scenario.toml>...",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "parallel", Aliases: []string{"p"}, Value: 4, Usage: "modules run at once"},
			&cli.BoolFlag{Name: "json", Usage: "print per-scenario feedback as JSON"},
			&cli.BoolFlag{Name: "verbose", Aliases: []string{"v"}, Usage: "print every step"},
			&cli.BoolFlag{Name: "save", Usage: "also write the feedback report under the state directory"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if cmd.Args().Len() == 0 {
				return errors.New("no scenario files given")
			}
			cfg, log, err := setup(cmd)
			if err != nil {
				return err
			}

			var cases []behave.Case
			for _, path := range cmd.Args().Slice() {
				cs, err := behave.Parse(path)
				if err != nil {
					return fmt.Errorf("%s: %w", path, err)
				}
				cases = append(cases, cs...)
			}

			term := termgath.New(os.Stdout)
			term.Verbose = cmd.Bool("verbose")
			runner := &behave.Runner{
				Session:  cfg.SessionConfig(log),
				Parallel: int(cmd.Int("parallel")),
				Logger:   log,
			}
			if !cmd.Bool("json") {
				runner.Reporter = term
			}

			results, err := runner.Run(ctx, cases)
			if err != nil {
				return err
			}

			failed := 0
			fbs := make([]*feedback.Feedback, 0, len(results))
			for _, r := range results {
				if !r.Passed {
					failed++
				}
				fbs = append(fbs, r.Feedback)
			}
			if cmd.Bool("json") {
				if err := printJSON(fbs); err != nil {
					return err
				}
			} else {
				term.Summary(results)
			}
			if cmd.Bool("save") {
				path, err := saveReport(fbs, time.Now())
				if err != nil {
					return err
				}
				log.Info("report saved", "path", path)
			}
			if failed > 0 {
				return cli.Exit("", 1)
			}
			return nil
		},
	}
}

func saveReport(fbs []*feedback.Feedback, at time.Time) (string, error) {
	dir := config.ReportDir()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	b, err := json.MarshalIndent(fbs, "", "  ")
	if err != nil {
		return "", err
	}
	path := filepath.Join(dir, at.UTC().Format("20060102T150405Z")+".json")
	return path, os.WriteFile(path, b, 0o644)
}
