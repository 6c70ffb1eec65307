package termgath

import (
	"bytes"
	"testing"
	"time"

	"github.com/fatih/color"
	"github.com/programme-lv/autograder/api"
	"github.com/programme-lv/autograder/internal/behave"
	"github.com/programme-lv/autograder/pkg/session"
	"github.com/stretchr/testify/assert"
)

func TestReportsScenarios(t *testing.T) {
	color.NoColor = true
	var buf bytes.Buffer
	g := New(&buf)
	g.Verbose = true

	c := behave.Case{Name: "counter", Module: "m"}
	step := behave.Step{Kind: behave.CallStep, Name: "inc", Points: 1}
	g.StartScenario(c)
	g.FinishStep(c, step, true, "")
	g.FinishStep(c, step, false, "returned 2, expected 1")
	g.FinishScenario(behave.Result{Case: c, Points: 1, MaxPoints: 2, Duration: 15 * time.Millisecond})

	out := buf.String()
	assert.Contains(t, out, "-> counter")
	assert.Contains(t, out, "ok counter: call inc")
	assert.Contains(t, out, "FAIL counter: call inc: returned 2, expected 1")
	assert.Contains(t, out, "<- FAIL counter 1/2 (15ms)")
}

func TestSummary(t *testing.T) {
	color.NoColor = true
	var buf bytes.Buffer
	g := New(&buf)

	g.Summary([]behave.Result{
		{
			Case:      behave.Case{Name: "first"},
			Start:     &session.StartResult{Status: api.StartSuccess},
			Passed:    true,
			Points:    2,
			MaxPoints: 2,
		},
		{Case: behave.Case{Name: "second"}, MaxPoints: 1},
	})

	out := buf.String()
	assert.Contains(t, out, "first")
	assert.Contains(t, out, "second")
	assert.Contains(t, out, "success")
	assert.Contains(t, out, "== 1/2 scenarios passed, 2/3 points")
}
