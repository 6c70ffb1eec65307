package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	pretty_table "github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/programme-lv/autograder/api"
	"github.com/programme-lv/autograder/pkg/session"
	"github.com/urfave/cli/v3"
)

type health int

const (
	healthOK health = iota
	healthWarn
	healthError
)

type feedbackRow struct {
	unit    string
	health  health
	message string
}

const healthProbe = `x = 1
function spin() while true do end end`

func healthCommand() *cli.Command {
	return &cli.Command{
		Name:  "health",
		Usage: "check that workers boot, answer and enforce timeouts",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg, log, err := setup(cmd)
			if err != nil {
				return err
			}
			rows := checkHealth(ctx, cfg.SessionConfig(log))
			outputFeedback(rows)
			for _, r := range rows {
				if r.health == healthError {
					return cli.Exit("", 1)
				}
			}
			return nil
		},
	}
}

func checkHealth(ctx context.Context, cfg session.Config) []feedbackRow {
	if err := cfg.Validate(); err != nil {
		return []feedbackRow{{unit: "Worker", health: healthError, message: err.Error()}}
	}
	rows := []feedbackRow{{unit: "Worker", health: healthOK, message: strings.Join(cfg.Command, " ")}}

	s, err := session.New(cfg)
	if err != nil {
		return append(rows, feedbackRow{unit: "Boot", health: healthError, message: err.Error()})
	}
	defer s.Close()

	begin := time.Now()
	res, err := s.Start(ctx, session.Submission{FileName: "health.lua", Student: healthProbe})
	switch {
	case err != nil:
		return append(rows, feedbackRow{unit: "Boot", health: healthError, message: err.Error()})
	case res.Status != api.StartSuccess:
		msg := fmt.Sprintf("%s: %s", res.Status, res.ExecutionError)
		if stderr := s.Stderr(); stderr != "" {
			msg += "\n" + stderr
		}
		return append(rows, feedbackRow{unit: "Boot", health: healthError, message: msg})
	}
	rows = append(rows, feedbackRow{
		unit:    "Boot",
		health:  healthOK,
		message: fmt.Sprintf("%s, pid %d, %s", s.Interpreter(), s.Pid(), time.Since(begin).Round(time.Millisecond)),
	})

	if v, err := s.Value(ctx, "x"); err != nil || v != int64(1) {
		rows = append(rows, feedbackRow{unit: "Query", health: healthError, message: fmt.Sprintf("got %v, %v", v, err)})
	} else {
		rows = append(rows, feedbackRow{unit: "Query", health: healthOK, message: "x = 1"})
	}

	f, err := s.QueryFunction(ctx, "spin", 200*time.Millisecond, nil, nil)
	switch {
	case err != nil:
		rows = append(rows, feedbackRow{unit: "Timeout", health: healthError, message: err.Error()})
	case f.Status != api.FunctionTimeout:
		rows = append(rows, feedbackRow{unit: "Timeout", health: healthError, message: "runaway call returned " + string(f.Status)})
	default:
		rows = append(rows, feedbackRow{unit: "Timeout", health: healthOK, message: "runaway call abandoned"})
	}

	if cfg.User == "" {
		rows = append(rows, feedbackRow{unit: "Privileges", health: healthWarn, message: "worker runs as the controller user"})
	} else {
		rows = append(rows, feedbackRow{unit: "Privileges", health: healthOK, message: "worker runs as " + cfg.User})
	}
	return rows
}

func outputFeedback(feedback []feedbackRow) {
	t := pretty_table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.AppendHeader(pretty_table.Row{"Unit", "Health", "Message"})
	for _, row := range feedback {
		healthCode := ""
		switch row.health {
		case healthOK:
			healthCode = "OKAY"
		case healthWarn:
			healthCode = "WARN"
		case healthError:
			healthCode = "ERROR"
		}
		t.AppendRow(pretty_table.Row{row.unit, healthCode, row.message})
	}
	t.SetStyle(pretty_table.StyleColoredDark)
	textColor := text.Transformer(func(s interface{}) string {
		switch s.(string) {
		case "OKAY":
			return text.FgHiGreen.Sprint(s)
		case "WARN":
			return text.FgHiYellow.Sprint(s)
		case "ERROR":
			return text.FgHiRed.Sprint(s)
		}
		return ""
	})
	t.SetColumnConfigs([]pretty_table.ColumnConfig{
		{
			Name:        "Health",
			Transformer: textColor,
			Align:       text.AlignCenter,
		},
	})
	t.Render()
}
