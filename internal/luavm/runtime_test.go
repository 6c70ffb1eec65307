package luavm_test

import (
	"context"
	"encoding/json"
	"slices"
	"testing"
	"time"

	"github.com/programme-lv/autograder/api"
	"github.com/programme-lv/autograder/internal/luavm"
	"github.com/programme-lv/autograder/internal/namespace"
	"github.com/programme-lv/autograder/internal/policy"
	"github.com/programme-lv/autograder/pkg/codec"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRuntime(t *testing.T, pol *policy.Policy) *luavm.Runtime {
	t.Helper()
	rt, err := luavm.New(luavm.Options{FileName: "student.lua", Policy: pol})
	require.NoError(t, err)
	t.Cleanup(rt.Close)
	return rt
}

func ctx(t *testing.T) context.Context {
	t.Helper()
	c, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return c
}

func decode(t *testing.T, v api.Value) any {
	t.Helper()
	got, err := codec.Decode(v)
	require.NoError(t, err)
	return got
}

func lookup(t *testing.T, rt *luavm.Runtime, name string) namespace.Entry {
	t.Helper()
	ns := namespace.New()
	ns.Replace(rt.Snapshot())
	e, ok := ns.Lookup(name)
	require.True(t, ok, "%s not in namespace %v", name, ns.Names())
	return e
}

const counter = `counter = 0
function inc()
  counter = counter + 1
  return counter
end
`

func TestCounterScenario(t *testing.T) {
	rt := newRuntime(t, nil)

	out, err := rt.Exec(ctx(t), counter)
	require.NoError(t, err)
	require.Nil(t, out.Fault)

	for want := int64(1); want <= 2; want++ {
		out, err = rt.Call(ctx(t), "inc", nil, nil)
		require.NoError(t, err)
		require.Nil(t, out.Fault)
		assert.Equal(t, want, decode(t, out.Value))
	}

	assert.Equal(t, int64(2), decode(t, lookup(t, rt, "counter").Value))
	assert.Equal(t, namespace.Callable, lookup(t, rt, "inc").Kind)
}

func TestSnapshotSkipsLibraries(t *testing.T) {
	rt := newRuntime(t, nil)
	_, err := rt.Exec(ctx(t), "x = 1\nlocal hidden = 2\nprint = function() end\n")
	require.NoError(t, err)

	var names []string
	for _, e := range rt.Snapshot() {
		names = append(names, e.Name)
	}
	slices.Sort(names)
	assert.Equal(t, []string{"print", "x"}, names)
}

func TestCapturesStreamsPerCall(t *testing.T) {
	rt := newRuntime(t, policy.New([]string{"io", "string"}, nil))

	out, err := rt.Exec(ctx(t), `print("boot", 1)
function greet(name)
  io.write("hello, ", name, "\n")
  io.stderr:write("warn\n")
  return string.upper(name)
end`)
	require.NoError(t, err)
	assert.Equal(t, "boot\t1\n", out.Stdout)

	out, err = rt.Call(ctx(t), "greet", []any{"ada"}, nil)
	require.NoError(t, err)
	require.Nil(t, out.Fault)
	assert.Equal(t, "hello, ada\n", out.Stdout)
	assert.Equal(t, "warn\n", out.Stderr)
	assert.Equal(t, "ADA", decode(t, out.Value))
}

func TestSyntaxError(t *testing.T) {
	rt := newRuntime(t, nil)

	out, err := rt.Exec(ctx(t), "x = 1\nthis is not lua\n")
	require.NoError(t, err)
	require.NotNil(t, out.Fault)
	assert.Equal(t, luavm.SyntaxError, out.Fault.Name)
	assert.NotEmpty(t, out.Fault.Traceback)
	assert.Contains(t, out.Fault.Traceback, "student.lua")
	assert.Empty(t, rt.Snapshot())
}

func TestRuntimeErrorKeepsPartialNamespace(t *testing.T) {
	rt := newRuntime(t, nil)

	out, err := rt.Exec(ctx(t), "a = 1\nerror(\"boom\")\nb = 2\n")
	require.NoError(t, err)
	require.NotNil(t, out.Fault)
	assert.Equal(t, luavm.RuntimeError, out.Fault.Name)
	assert.Contains(t, out.Fault.Message, "student.lua:2: boom")
	assert.Contains(t, out.Fault.Traceback, `error("boom")`)

	snap := rt.Snapshot()
	require.Len(t, snap, 1)
	assert.Equal(t, "a", snap[0].Name)
}

func TestNamedErrors(t *testing.T) {
	rt := newRuntime(t, nil)
	_, err := rt.Exec(ctx(t), `function check(n)
  if n < 0 then
    error({name = "ValueError", message = "negative"})
  end
  return n
end
function nilarith()
  return nil + 1
end`)
	require.NoError(t, err)

	out, err := rt.Call(ctx(t), "check", []any{-1}, nil)
	require.NoError(t, err)
	require.NotNil(t, out.Fault)
	assert.Equal(t, "ValueError", out.Fault.Name)
	assert.Equal(t, "negative", out.Fault.Message)
	assert.NotEmpty(t, out.Fault.Traceback)

	out, err = rt.Call(ctx(t), "nilarith", nil, nil)
	require.NoError(t, err)
	require.NotNil(t, out.Fault)
	assert.Equal(t, luavm.RuntimeError, out.Fault.Name)
}

func TestInfiniteLoopIsInterrupted(t *testing.T) {
	rt := newRuntime(t, nil)
	_, err := rt.Exec(ctx(t), "x = 5\nfunction spin() while true do end end")
	require.NoError(t, err)

	c, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = rt.Call(c, "spin", nil, nil)
	require.ErrorIs(t, err, luavm.ErrInterrupted)

	// the state is still usable
	out, err := rt.Call(ctx(t), "tostring", []any{int64(3)}, nil)
	require.NoError(t, err)
	assert.Equal(t, "3", decode(t, out.Value))
}

func TestCallNotCallable(t *testing.T) {
	rt := newRuntime(t, nil)
	_, err := rt.Exec(ctx(t), "x = 1")
	require.NoError(t, err)

	_, err = rt.Call(ctx(t), "x", nil, nil)
	require.ErrorIs(t, err, luavm.ErrNotCallable)
	_, err = rt.Call(ctx(t), "missing", nil, nil)
	require.ErrorIs(t, err, luavm.ErrNotCallable)
}

func TestArgumentsAndResults(t *testing.T) {
	rt := newRuntime(t, nil)
	_, err := rt.Exec(ctx(t), `function sum(list, opts)
  local s = 0
  for _, v in ipairs(list) do s = s + v end
  if opts and opts.double then s = s * 2 end
  return s
end
function pair() return 1, "two" end
function none() end
function keyed(t) return t[2.5] end
Point = setmetatable({x = 1, y = 2}, {__name = "Point"})`)
	require.NoError(t, err)

	out, err := rt.Call(ctx(t), "sum", []any{[]any{int64(1), int64(2), 3.5}}, map[string]any{"double": true})
	require.NoError(t, err)
	require.Nil(t, out.Fault)
	assert.Equal(t, int64(13), decode(t, out.Value))

	out, err = rt.Call(ctx(t), "pair", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, []any{int64(1), "two"}, decode(t, out.Value))

	out, err = rt.Call(ctx(t), "none", nil, nil)
	require.NoError(t, err)
	assert.Nil(t, decode(t, out.Value))

	arg := codec.Table{Entries: []codec.Entry{{Key: 2.5, Value: "found"}}}
	out, err = rt.Call(ctx(t), "keyed", []any{arg}, nil)
	require.NoError(t, err)
	assert.Equal(t, "found", decode(t, out.Value))

	point := decode(t, lookup(t, rt, "Point").Value)
	tbl, ok := point.(codec.Table)
	require.True(t, ok)
	assert.Equal(t, "Point", tbl.Class)
	x, ok := tbl.Get("x")
	require.True(t, ok)
	assert.Equal(t, int64(1), x)

	_, err = rt.Call(ctx(t), "sum", []any{make(chan int)}, nil)
	require.ErrorIs(t, err, luavm.ErrUnsupported)
}

func TestImportPolicy(t *testing.T) {
	rt := newRuntime(t, policy.New([]string{"math", "os"}, []string{"os"}))

	out, err := rt.Exec(ctx(t), `m = require("math")
local ok, e = pcall(require, "os")
denied = not ok
reason = e.name`)
	require.NoError(t, err)
	require.Nil(t, out.Fault)
	assert.Equal(t, true, decode(t, lookup(t, rt, "denied").Value))
	assert.Equal(t, luavm.ImportError, decode(t, lookup(t, rt, "reason").Value))

	out, err = rt.Exec(ctx(t), `require("io")`)
	require.NoError(t, err)
	require.NotNil(t, out.Fault)
	assert.Equal(t, luavm.ImportError, out.Fault.Name)

	out, err = rt.Exec(ctx(t), `dofile("/etc/passwd")`)
	require.NoError(t, err)
	require.NotNil(t, out.Fault)
}

func TestOsExitRaises(t *testing.T) {
	rt := newRuntime(t, policy.New([]string{"os"}, nil))
	out, err := rt.Exec(ctx(t), "os.exit(3)")
	require.NoError(t, err)
	require.NotNil(t, out.Fault)
	assert.Equal(t, luavm.SystemExit, out.Fault.Name)
	assert.Equal(t, "exit code 3", out.Fault.Message)
}

func TestToWireShapes(t *testing.T) {
	rt := newRuntime(t, nil)
	_, err := rt.Exec(ctx(t), `empty = {}
list = {1, 2, {3}}
obj = {b = 1, a = "x"}
mixed = {1, 2, k = "v"}
holes = {1, nil, 3}
cyc = {}
cyc.self = cyc
fn = function(a, b, ...) end
nan = 0/0
bin = "\255\254"`)
	require.NoError(t, err)

	assert.Equal(t, []any{}, decode(t, lookup(t, rt, "empty").Value))
	assert.Equal(t, []any{int64(1), int64(2), []any{int64(3)}}, decode(t, lookup(t, rt, "list").Value))
	assert.JSONEq(t, `{"a":"x","b":1}`, string(lookup(t, rt, "obj").Value.JSON))

	mixed, ok := decode(t, lookup(t, rt, "mixed").Value).(codec.Table)
	require.True(t, ok)
	v, ok := mixed.Get("k")
	require.True(t, ok)
	assert.Equal(t, "v", v)
	v, ok = mixed.Get(int64(2))
	require.True(t, ok)
	assert.Equal(t, int64(2), v)

	_, ok = decode(t, lookup(t, rt, "holes").Value).(codec.Table)
	assert.True(t, ok)

	cyc, ok := decode(t, lookup(t, rt, "cyc").Value).(codec.Table)
	require.True(t, ok)
	self, ok := cyc.Get("self")
	require.True(t, ok)
	assert.Equal(t, api.OpaqueCycle, self.(codec.Foreign).Type)

	fn := decode(t, lookup(t, rt, "fn").Value).(codec.Function)
	assert.Equal(t, 2, fn.Params)
	assert.True(t, fn.Variadic)

	assert.Equal(t, api.OpaqueValue, lookup(t, rt, "nan").Value.Kind)
	assert.Equal(t, []byte{0xff, 0xfe}, decode(t, lookup(t, rt, "bin").Value))

	b, err := json.Marshal(lookup(t, rt, "list").Value)
	require.NoError(t, err)
	assert.Contains(t, string(b), `"kind":"json"`)
}

func TestDeepTableIsTruncated(t *testing.T) {
	rt := newRuntime(t, nil)
	_, err := rt.Exec(ctx(t), `deep = {}
local t = deep
for i = 1, 80 do t[1] = {}; t = t[1] end`)
	require.NoError(t, err)

	b, err := json.Marshal(lookup(t, rt, "deep").Value)
	require.NoError(t, err)
	assert.Contains(t, string(b), `"type":"depth_limit"`)
	assert.NotContains(t, string(b), `"type":"cycle"`)
}

func TestStreamsWithoutIoLibrary(t *testing.T) {
	rt := newRuntime(t, nil)
	out, err := rt.Exec(ctx(t), `io.stderr:write("warn", 1, "\n")
io.write("a")
io.stdout:write("b")
no_open = io.open == nil`)
	require.NoError(t, err)
	require.Nil(t, out.Fault, "%v", out.Fault)
	assert.Equal(t, "ab", out.Stdout)
	assert.Equal(t, "warn1\n", out.Stderr)
	assert.Equal(t, true, decode(t, lookup(t, rt, "no_open").Value))
}

func TestOutputIsBounded(t *testing.T) {
	rt, err := luavm.New(luavm.Options{MaxOutput: 8})
	require.NoError(t, err)
	defer rt.Close()

	out, err := rt.Exec(ctx(t), `print("0123456789")`)
	require.NoError(t, err)
	assert.Equal(t, "01234567\n[output truncated]\n", out.Stdout)
}
