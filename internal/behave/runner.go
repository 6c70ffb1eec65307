package behave

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"
	"time"

	"github.com/lmittmann/tint"
	"github.com/programme-lv/autograder/api"
	"github.com/programme-lv/autograder/internal/feedback"
	"github.com/programme-lv/autograder/internal/logging"
	"github.com/programme-lv/autograder/pkg/session"
	"golang.org/x/sync/errgroup"
)

// Reporter observes a run. Calls for different modules may be concurrent.
type Reporter interface {
	StartScenario(c Case)
	FinishStep(c Case, step Step, passed bool, detail string)
	FinishScenario(r Result)
}

type Result struct {
	Case      Case
	Start     *session.StartResult
	Feedback  *feedback.Feedback
	Passed    bool
	Points    float64
	MaxPoints float64
	Duration  time.Duration
}

type Runner struct {
	Session session.Config
	// Parallel bounds how many modules run at once; <= 0 means no limit.
	Parallel int
	Reporter Reporter
	Logger   *slog.Logger
}

// Run executes cases and returns one result per case, in input order.
// Cases of the same module run in order on one shared session; cases
// without a module each get a fresh session.
func (r *Runner) Run(ctx context.Context, cases []Case) ([]Result, error) {
	results := make([]Result, len(cases))

	var groups [][]int
	byModule := map[string]int{}
	for i, c := range cases {
		if c.Module == "" {
			groups = append(groups, []int{i})
			continue
		}
		g, ok := byModule[c.Module]
		if !ok {
			g = len(groups)
			byModule[c.Module] = g
			groups = append(groups, nil)
		}
		groups[g] = append(groups[g], i)
	}

	errs, ctx := errgroup.WithContext(ctx)
	if r.Parallel > 0 {
		errs.SetLimit(r.Parallel)
	}
	for _, group := range groups {
		errs.Go(func() error {
			return r.runGroup(ctx, cases, group, results)
		})
	}
	if err := errs.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func (r *Runner) runGroup(ctx context.Context, cases []Case, group []int, results []Result) error {
	first := cases[group[0]]
	cfg := r.Session
	if first.InitTimeout > 0 {
		cfg.InitTimeout = first.InitTimeout
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	cache := session.NewCache(cfg)
	defer func() {
		if err := cache.Close(); err != nil {
			logging.Or(r.Logger).Warn("close module sessions", "module", first.Module, tint.Err(err))
		}
	}()

	for _, i := range group {
		if err := ctx.Err(); err != nil {
			return err
		}
		results[i] = r.runCase(ctx, cases[i], cache)
	}
	return nil
}

func (r *Runner) runCase(ctx context.Context, c Case, cache *session.Cache) (res Result) {
	begin := time.Now()
	res = Result{
		Case:      c,
		Feedback:  feedback.New(c.Name),
		Passed:    true,
		MaxPoints: c.MaxPoints(),
	}
	if r.Reporter != nil {
		r.Reporter.StartScenario(c)
	}
	defer func() {
		res.Duration = time.Since(begin)
		if r.Reporter != nil {
			r.Reporter.FinishScenario(res)
		}
	}()

	fb := res.Feedback
	s, start, err := cache.Acquire(ctx, c.Submission)
	if err != nil {
		logging.Or(r.Logger).Error("open session", "scenario", c.Name, tint.Err(err))
		res.Passed = false
		fb.AddMessage(fmt.Sprintf("Sandbox could not be opened: %v. ", err))
		fb.SetScore(0)
		return res
	}
	res.Start = start

	if string(start.Status) != c.Expect.Status {
		res.Passed = false
		fb.AddMessage(fmt.Sprintf("Start status was %q, expected %q. ", start.Status, c.Expect.Status))
		if start.ExecutionError != "" {
			fb.AddMessage(start.ExecutionError + ". ")
		}
	}
	if c.Expect.Stdout != nil && start.Stdout != *c.Expect.Stdout {
		res.Passed = false
		fb.AddMessage(fmt.Sprintf("Start printed %q, expected %q. ", start.Stdout, *c.Expect.Stdout))
	}
	if c.Expect.Error != "" && start.ExecutionError != c.Expect.Error {
		res.Passed = false
		fb.AddMessage(fmt.Sprintf("Start error was %q, expected %q. ", start.ExecutionError, c.Expect.Error))
	}

	for _, step := range c.Steps {
		var detail string
		if s == nil {
			detail = "sandbox unusable"
		} else {
			detail = r.runStep(ctx, s, step)
		}
		passed := detail == ""
		if passed {
			res.Points += step.Points
		} else {
			res.Passed = false
			fb.AddMessage(fmt.Sprintf("%s: %s. ", step, detail))
		}
		if r.Reporter != nil {
			r.Reporter.FinishStep(c, step, passed, detail)
		}
	}
	fb.SetScore(res.Points)
	return res
}

// runStep returns an empty string when the step met its expectations,
// otherwise what went wrong.
func (r *Runner) runStep(ctx context.Context, s *session.Session, step Step) string {
	want := step.Expect
	switch step.Kind {
	case QueryStep:
		q, err := s.Query(ctx, step.Name, step.Timeout)
		if err != nil {
			return err.Error()
		}
		if string(q.Status) != want.Status {
			return fmt.Sprintf("status %s, expected %s", q.Status, want.Status)
		}
		if want.Value != nil && !Equal(q.Value, want.Value) {
			return fmt.Sprintf("value %v, expected %v", q.Value, want.Value)
		}
		return ""
	}

	f, err := s.QueryFunction(ctx, step.Name, step.Timeout, step.Args, step.Kwargs)
	if err != nil {
		return err.Error()
	}
	if string(f.Status) != want.Status {
		detail := fmt.Sprintf("status %s, expected %s", f.Status, want.Status)
		if f.Status == api.FunctionException {
			detail += fmt.Sprintf(" (%s: %s)", f.ExceptionName, f.ExceptionMessage)
		}
		return detail
	}
	if want.Exception != "" && f.ExceptionName != want.Exception {
		return fmt.Sprintf("raised %s, expected %s", f.ExceptionName, want.Exception)
	}
	if want.Value != nil && !Equal(f.Value, want.Value) {
		return fmt.Sprintf("returned %v, expected %v", f.Value, want.Value)
	}
	if want.Stdout != nil && f.Stdout != *want.Stdout {
		return fmt.Sprintf("printed %q, expected %q", f.Stdout, *want.Stdout)
	}
	return ""
}

// Equal compares decoded values, treating integer and float numbers
// with the same value as equal.
func Equal(got, want any) bool {
	return reflect.DeepEqual(normalize(got), normalize(want))
}

func normalize(v any) any {
	switch x := v.(type) {
	case int:
		return float64(x)
	case int64:
		return float64(x)
	case float32:
		return float64(x)
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = normalize(e)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, e := range x {
			out[k] = normalize(e)
		}
		return out
	}
	return v
}
