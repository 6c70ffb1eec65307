package main

import (
	"context"
	"fmt"

	"github.com/fatih/color"
	"github.com/programme-lv/autograder/api"
	"github.com/programme-lv/autograder/pkg/session"
	"github.com/urfave/cli/v3"
)

func submissionFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: "file", Aliases: []string{"f"}, Required: true, Usage: "student source file"},
		&cli.StringFlag{Name: "leading", Usage: "code placed before the student source"},
		&cli.StringFlag{Name: "trailing", Usage: "code placed after the student source"},
	}
}

func loadSubmission(cmd *cli.Command) (session.Submission, error) {
	return session.LoadSubmission(session.Files{
		Leading:  cmd.String("leading"),
		Student:  cmd.String("file"),
		Trailing: cmd.String("trailing"),
	})
}

func probeCommand() *cli.Command {
	return &cli.Command{
		Name:  "probe",
		Usage: "start student code, then query variables and call functions",
		Flags: append(submissionFlags(),
			&cli.StringSliceFlag{Name: "query", Aliases: []string{"q"}, Usage: "variable to read"},
			&cli.StringSliceFlag{Name: "call", Aliases: []string{"c"}, Usage: "function to call without arguments"},
			&cli.DurationFlag{Name: "init-timeout", Usage: "override the start timeout"},
			&cli.DurationFlag{Name: "timeout", Usage: "override the per request timeout"},
		),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg, log, err := setup(cmd)
			if err != nil {
				return err
			}
			sub, err := loadSubmission(cmd)
			if err != nil {
				return err
			}
			sc := cfg.SessionConfig(log)
			if d := cmd.Duration("init-timeout"); d > 0 {
				sc.InitTimeout = d
			}

			s, err := session.New(sc)
			if err != nil {
				return err
			}
			defer s.Close()

			res, err := s.Start(ctx, sub)
			if err != nil {
				return err
			}
			fmt.Printf("start: %s\n", status(string(res.Status), res.Status == api.StartSuccess))
			printStreams(res.Stdout, res.Stderr)
			if res.ExecutionError != "" {
				fmt.Printf("error: %s\n", res.ExecutionError)
			}
			if res.Traceback != "" {
				fmt.Println(res.Traceback)
			}

			timeout := cmd.Duration("timeout")
			for _, name := range cmd.StringSlice("query") {
				q, err := s.Query(ctx, name, timeout)
				if err != nil {
					return fmt.Errorf("query %s: %w", name, err)
				}
				fmt.Printf("query %s: %s", name, status(string(q.Status), q.Status == api.QuerySuccess))
				if q.Status == api.QuerySuccess {
					fmt.Printf(" %#v", q.Value)
				}
				fmt.Println()
			}
			for _, name := range cmd.StringSlice("call") {
				f, err := s.QueryFunction(ctx, name, timeout, nil, nil)
				if err != nil {
					return fmt.Errorf("call %s: %w", name, err)
				}
				fmt.Printf("call %s: %s", name, status(string(f.Status), f.Status == api.FunctionSuccess))
				switch f.Status {
				case api.FunctionSuccess:
					fmt.Printf(" %#v", f.Value)
				case api.FunctionException:
					fmt.Printf(" %s: %s", f.ExceptionName, f.ExceptionMessage)
				}
				fmt.Println()
				printStreams(f.Stdout, f.Stderr)
				if f.Traceback != "" {
					fmt.Println(f.Traceback)
				}
			}
			if s.Tainted() {
				fmt.Println(color.YellowString("worker has an abandoned call"))
			}
			return nil
		},
	}
}

func fingerprintCommand() *cli.Command {
	return &cli.Command{
		Name:  "fingerprint",
		Usage: "print the module cache key of a submission",
		Flags: submissionFlags(),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			sub, err := loadSubmission(cmd)
			if err != nil {
				return err
			}
			fmt.Println(session.Fingerprint(sub))
			return nil
		},
	}
}

func status(s string, ok bool) string {
	if ok {
		return color.GreenString(s)
	}
	return color.RedString(s)
}

func printStreams(stdout, stderr string) {
	if stdout != "" {
		fmt.Printf("stdout:\n%s", stdout)
	}
	if stderr != "" {
		fmt.Printf("stderr:\n%s", color.YellowString(stderr))
	}
}
