// Command autograder-worker hosts student code for one controller. It
// announces its address on stdout and serves one connection.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/programme-lv/autograder/internal/logging"
	"github.com/programme-lv/autograder/internal/wire"
	"github.com/programme-lv/autograder/internal/worker"
	"github.com/urfave/cli/v3"
)

func main() {
	cmd := &cli.Command{
		Name:  "autograder-worker",
		Usage: "sandbox worker, started by the autograder controller",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "host", Value: "127.0.0.1", Usage: "loopback address to listen on"},
			&cli.DurationFlag{Name: "accept-timeout", Value: worker.DefaultAcceptTimeout, Usage: "how long to wait for the controller"},
			&cli.DurationFlag{Name: "default-timeout", Value: worker.DefaultTimeout, Usage: "bound for requests without a timeout"},
			&cli.IntFlag{Name: "max-message", Value: wire.DefaultMaxFrame, Usage: "largest accepted message in bytes"},
			&cli.StringFlag{Name: "log-level", Value: "warn", Sources: cli.EnvVars("AUTOGRADER_WORKER_LOG_LEVEL")},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			log := logging.New(os.Stderr, cmd.String("log-level"), true).With("pid", os.Getpid())
			return worker.RunProcess(worker.Config{
				Host:          cmd.String("host"),
				AcceptTimeout: cmd.Duration("accept-timeout"),
				Options: worker.Options{
					DefaultTimeout: cmd.Duration("default-timeout"),
					MaxFrame:       int(cmd.Int("max-message")),
					Logger:         log,
				},
			})
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", time.Now().Format(time.TimeOnly), err)
		os.Exit(1)
	}
}
