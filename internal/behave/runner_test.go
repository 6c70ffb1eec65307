package behave

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"

	"github.com/programme-lv/autograder/internal/worker"
	"github.com/programme-lv/autograder/pkg/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const workerEnv = "AUTOGRADER_TEST_WORKER"

func TestMain(m *testing.M) {
	if os.Getenv(workerEnv) == "1" {
		if err := worker.RunProcess(worker.Config{}); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		os.Exit(0)
	}
	os.Exit(m.Run())
}

type recorder struct {
	mu       sync.Mutex
	started  []string
	steps    int
	finished []string
}

func (r *recorder) StartScenario(c Case) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.started = append(r.started, c.Name)
}

func (r *recorder) FinishStep(Case, Step, bool, string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.steps++
}

func (r *recorder) FinishScenario(res Result) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.finished = append(r.finished, res.Case.Name)
}

func sessionConfig(t *testing.T) session.Config {
	t.Helper()
	exe, err := os.Executable()
	require.NoError(t, err)
	cfg := session.DefaultConfig()
	cfg.Command = []string{exe}
	cfg.Env = []string{workerEnv + "=1"}
	return cfg
}

func TestRunnerSharesModuleState(t *testing.T) {
	cases, err := ParseBytes([]byte(counterScenarios))
	require.NoError(t, err)

	rec := &recorder{}
	r := &Runner{Session: sessionConfig(t), Parallel: 2, Reporter: rec}
	results, err := r.Run(context.Background(), cases)
	require.NoError(t, err)
	require.Len(t, results, 3)

	for _, res := range results {
		assert.True(t, res.Passed, "%s: %s", res.Case.Name, res.Feedback.Message())
		assert.Equal(t, res.MaxPoints, res.Points)
	}
	assert.Equal(t, 2.0, results[1].Points)
	score, ok := results[2].Feedback.Score()
	require.True(t, ok)
	assert.Equal(t, 0.5, score)

	assert.Len(t, rec.started, 3)
	assert.Len(t, rec.finished, 3)
	assert.Equal(t, 6, rec.steps)
}

func TestRunnerReportsFailures(t *testing.T) {
	cases, err := ParseBytes([]byte(`
[[scenarios]]
description = "broken"
code = "x = = 1"

  [[scenarios.steps]]
  query = "x"
  points = 1
  expect = { value = 1 }

[[scenarios]]
description = "wrong answer"
code = "function add(a, b) return a - b end"

  [[scenarios.steps]]
  call = "add"
  args = [2, 3]
  points = 1
  expect = { value = 5 }
`))
	require.NoError(t, err)

	r := &Runner{Session: sessionConfig(t)}
	results, err := r.Run(context.Background(), cases)
	require.NoError(t, err)

	broken := results[0]
	assert.False(t, broken.Passed)
	assert.Equal(t, "exception", string(broken.Start.Status))
	assert.Contains(t, broken.Feedback.Message(), `Start status was "exception"`)
	assert.Zero(t, broken.Points)

	wrong := results[1]
	assert.False(t, wrong.Passed)
	assert.Contains(t, wrong.Feedback.Message(), "call add: returned -1, expected 5")
	assert.Equal(t, 1.0, wrong.MaxPoints)
}
