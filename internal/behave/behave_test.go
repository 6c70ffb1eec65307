package behave

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const counterScenarios = `
[[scenarios]]
description = "counter starts at zero"
module = "counter"
file_name = "counter.lua"
code = """
counter = 0
function inc()
  counter = counter + 1
  return counter
end
function get_counter() return counter end
"""

  [[scenarios.steps]]
  call = "inc"
  points = 1
  expect = { value = 1 }

  [[scenarios.steps]]
  query = "counter"
  expect = { value = 1 }

[[scenarios]]
description = "counter keeps state"
module = "counter"
file_name = "counter.lua"
code = """
counter = 0
function inc()
  counter = counter + 1
  return counter
end
function get_counter() return counter end
"""

  [[scenarios.steps]]
  call = "get_counter"
  points = 2
  expect = { value = 1 }

[[scenarios]]
description = "raises"
init_timeout_ms = 2000
code = """
function check(n)
  if n < 0 then error({name = "ValueError", message = "negative"}) end
  return {n, n * 2}
end
"""

  [[scenarios.steps]]
  call = "check"
  args = [-1]
  expect = { status = "exception", exception = "ValueError" }

  [[scenarios.steps]]
  call = "check"
  args = [2]
  points = 0.5
  expect = { value = [2, 4.0] }

  [[scenarios.steps]]
  query = "missing"
  expect = { status = "not_found" }
`

func TestParse(t *testing.T) {
	cases, err := ParseBytes([]byte(counterScenarios))
	require.NoError(t, err)
	require.Len(t, cases, 3)

	c := cases[0]
	assert.Equal(t, "counter starts at zero", c.Name)
	assert.Equal(t, "counter", c.Module)
	assert.Equal(t, "counter.lua", c.Submission.FileName)
	assert.Equal(t, "success", c.Expect.Status)
	require.Len(t, c.Steps, 2)
	assert.Equal(t, CallStep, c.Steps[0].Kind)
	assert.Equal(t, "inc", c.Steps[0].Name)
	assert.Equal(t, int64(1), c.Steps[0].Expect.Value)
	assert.Equal(t, QueryStep, c.Steps[1].Kind)
	assert.Equal(t, 1.0, c.MaxPoints())

	r := cases[2]
	assert.Equal(t, DefaultFileName, r.Submission.FileName)
	assert.Equal(t, 2*time.Second, r.InitTimeout)
	assert.Equal(t, []any{int64(-1)}, r.Steps[0].Args)
	assert.Equal(t, "exception", r.Steps[0].Expect.Status)
	assert.NotEqual(t, cases[0].ID, cases[1].ID)
}

func TestParseRejectsBadSteps(t *testing.T) {
	for name, doc := range map[string]string{
		"no code":        "[[scenarios]]\ndescription = \"x\"\n",
		"no target":      "[[scenarios]]\ncode = \"x = 1\"\n[[scenarios.steps]]\npoints = 1\n",
		"both targets":   "[[scenarios]]\ncode = \"x = 1\"\n[[scenarios.steps]]\nquery = \"x\"\ncall = \"f\"\n",
		"bad status":     "[[scenarios]]\ncode = \"x = 1\"\n[[scenarios.steps]]\nquery = \"x\"\nexpect = { status = \"timeout\" }\n",
		"bad start":      "[[scenarios]]\ncode = \"x = 1\"\nexpect = { status = \"crashed\" }\n",
		"query with arg": "[[scenarios]]\ncode = \"x = 1\"\n[[scenarios.steps]]\nquery = \"x\"\nargs = [1]\n",
		"not toml":       "[[scenarios",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := ParseBytes([]byte(doc))
			assert.Error(t, err)
		})
	}
}

func TestParseFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scenarios.toml")
	require.NoError(t, os.WriteFile(path, []byte(counterScenarios), 0o644))
	cases, err := Parse(path)
	require.NoError(t, err)
	assert.Len(t, cases, 3)

	_, err = Parse(filepath.Join(t.TempDir(), "missing.toml"))
	assert.Error(t, err)
}

func TestEqual(t *testing.T) {
	assert.True(t, Equal(int64(2), 2.0))
	assert.True(t, Equal([]any{int64(1), "a"}, []any{1.0, "a"}))
	assert.True(t, Equal(map[string]any{"k": int64(3)}, map[string]any{"k": int64(3)}))
	assert.False(t, Equal(int64(2), "2"))
	assert.False(t, Equal([]any{int64(1)}, []any{int64(1), int64(2)}))
}
