// Package termgath prints scenario progress and results to a terminal.
package termgath

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/fatih/color"
	pretty_table "github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/programme-lv/autograder/internal/behave"
)

type TerminalGatherer struct {
	StartedAt time.Time
	// Verbose also prints every step, not only failed ones.
	Verbose bool

	mu  sync.Mutex
	out io.Writer
}

func New(out io.Writer) *TerminalGatherer {
	return &TerminalGatherer{StartedAt: time.Now(), out: out}
}

func (t *TerminalGatherer) StartScenario(c behave.Case) {
	if !t.Verbose {
		return
	}
	t.printf("-> %s\n", c.Name)
}

func (t *TerminalGatherer) FinishStep(c behave.Case, step behave.Step, passed bool, detail string) {
	switch {
	case !passed:
		t.printf("   %s %s: %s: %s\n", color.RedString("FAIL"), c.Name, step, detail)
	case t.Verbose:
		t.printf("   %s %s: %s\n", color.GreenString("ok"), c.Name, step)
	}
}

func (t *TerminalGatherer) FinishScenario(r behave.Result) {
	verdict := color.GreenString("PASS")
	if !r.Passed {
		verdict = color.RedString("FAIL")
	}
	t.printf("<- %s %s %s (%s)\n", verdict, r.Case.Name, points(r), r.Duration.Round(time.Millisecond))
}

// Summary renders a table of all results and a closing line.
func (t *TerminalGatherer) Summary(results []behave.Result) {
	t.mu.Lock()
	defer t.mu.Unlock()

	tbl := pretty_table.NewWriter()
	tbl.SetOutputMirror(t.out)
	tbl.AppendHeader(pretty_table.Row{"Scenario", "Module", "Start", "Result", "Points", "Time"})

	passed := 0
	var got, total float64
	for _, r := range results {
		verdict := "FAIL"
		if r.Passed {
			verdict = "PASS"
			passed++
		}
		start := "-"
		if r.Start != nil {
			start = string(r.Start.Status)
		}
		got += r.Points
		total += r.MaxPoints
		tbl.AppendRow(pretty_table.Row{
			r.Case.Name,
			r.Case.Module,
			start,
			verdict,
			points(r),
			r.Duration.Round(time.Millisecond),
		})
	}
	tbl.SetStyle(pretty_table.StyleColoredDark)
	tbl.SetColumnConfigs([]pretty_table.ColumnConfig{
		{
			Name: "Result",
			Transformer: text.Transformer(func(v interface{}) string {
				if s, _ := v.(string); s == "PASS" {
					return text.FgHiGreen.Sprint(s)
				}
				return text.FgHiRed.Sprint(v)
			}),
			Align: text.AlignCenter,
		},
	})
	tbl.Render()

	dur := time.Since(t.StartedAt).Round(time.Millisecond)
	fmt.Fprintf(t.out, "== %d/%d scenarios passed, %g/%g points, %s ==\n", passed, len(results), got, total, dur)
}

func (t *TerminalGatherer) printf(format string, args ...any) {
	t.mu.Lock()
	defer t.mu.Unlock()
	fmt.Fprintf(t.out, format, args...)
}

func points(r behave.Result) string {
	return fmt.Sprintf("%g/%g", r.Points, r.MaxPoints)
}
