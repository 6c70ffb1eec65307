// Package luavm hosts student Lua code in a gopher-lua state.
//
// A Runtime is not safe for concurrent use; the worker drives it from its
// execution lane only.
package luavm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/programme-lv/autograder/api"
	"github.com/programme-lv/autograder/internal/namespace"
	"github.com/programme-lv/autograder/internal/policy"
	lua "github.com/yuin/gopher-lua"
)

// Interpreter names the hosted language in the hello frame.
const Interpreter = "gopher-lua " + lua.LuaVersion

var (
	// ErrInterrupted means the call's context ended while it ran. The
	// outcome is meaningless and the lane has already reported a timeout.
	ErrInterrupted = errors.New("execution interrupted")
	ErrNotCallable = errors.New("not callable")
)

type Options struct {
	FileName      string
	Policy        *policy.Policy
	MaxOutput     int
	CallStackSize int
}

// Outcome is the result of executing the chunk or calling a function.
// Fault is nil on success.
type Outcome struct {
	Stdout string
	Stderr string
	Value  api.Value
	Fault  *Fault
}

type Runtime struct {
	L         *lua.LState
	fileName  string
	lines     []string
	policy    *policy.Policy
	maxOutput int
	out       *capture
	baseline  map[string]lua.LValue
}

var openers = map[string]struct {
	name string
	fn   lua.LGFunction
}{
	"package":   {lua.LoadLibName, lua.OpenPackage},
	"table":     {lua.TabLibName, lua.OpenTable},
	"string":    {lua.StringLibName, lua.OpenString},
	"math":      {lua.MathLibName, lua.OpenMath},
	"coroutine": {lua.CoroutineLibName, lua.OpenCoroutine},
	"os":        {lua.OsLibName, lua.OpenOs},
	"io":        {lua.IoLibName, lua.OpenIo},
	"debug":     {lua.DebugLibName, lua.OpenDebug},
	"channel":   {lua.ChannelLibName, lua.OpenChannel},
}

// New creates a state with the base library, the libraries the policy
// allows, and stream capture installed.
func New(opts Options) (*Runtime, error) {
	if opts.Policy == nil {
		opts.Policy = policy.New(nil, nil)
	}
	if opts.FileName == "" {
		opts.FileName = "student.lua"
	}
	L := lua.NewState(lua.Options{
		SkipOpenLibs:  true,
		CallStackSize: opts.CallStackSize,
	})
	r := &Runtime{
		L:         L,
		fileName:  opts.FileName,
		policy:    opts.Policy,
		maxOutput: opts.MaxOutput,
	}
	if err := r.open(lua.BaseLibName, lua.OpenBase); err != nil {
		L.Close()
		return nil, err
	}
	for _, lib := range opts.Policy.Libraries() {
		o := openers[lib]
		if err := r.open(o.name, o.fn); err != nil {
			L.Close()
			return nil, err
		}
	}
	r.harden()

	r.baseline = map[string]lua.LValue{}
	L.G.Global.ForEach(func(k, v lua.LValue) {
		if name, ok := k.(lua.LString); ok {
			r.baseline[string(name)] = v
		}
	})
	return r, nil
}

func (r *Runtime) open(name string, fn lua.LGFunction) error {
	err := r.L.CallByParam(lua.P{Fn: r.L.NewFunction(fn), NRet: 0, Protect: true}, lua.LString(name))
	if err != nil {
		return fmt.Errorf("open %q library: %w", name, err)
	}
	return nil
}

// harden removes filesystem access from the base library and routes
// output and imports through the runtime.
func (r *Runtime) harden() {
	L := r.L
	for _, name := range []string{"dofile", "loadfile", "module", "_printregs"} {
		L.SetGlobal(name, lua.LNil)
	}
	L.SetGlobal("print", L.NewFunction(r.print))
	L.SetGlobal("require", L.NewFunction(r.require))

	// the captured streams are reachable even when the io library is not
	io, ok := L.GetGlobal("io").(*lua.LTable)
	if !ok {
		io = L.NewTable()
		L.SetGlobal("io", io)
	}
	stdout := r.newWriter(func(c *capture) *limitedBuffer { return &c.stdout })
	stderr := r.newWriter(func(c *capture) *limitedBuffer { return &c.stderr })
	io.RawSetString("stdout", stdout)
	io.RawSetString("stderr", stderr)
	io.RawSetString("write", L.NewFunction(func(L *lua.LState) int {
		writeArgs(L, &r.capture().stdout, 1)
		L.Push(stdout)
		return 1
	}))
	// stdin belongs to the supervisor
	for _, name := range []string{"stdin", "read", "lines", "input", "output", "popen"} {
		io.RawSetString(name, lua.LNil)
	}
	if os, ok := L.GetGlobal("os").(*lua.LTable); ok {
		os.RawSetString("exit", L.NewFunction(func(L *lua.LState) int {
			raise(L, SystemExit, fmt.Sprintf("exit code %d", L.OptInt(1, 0)))
			return 0
		}))
	}
}

func (r *Runtime) require(L *lua.LState) int {
	name := L.CheckString(1)
	if !r.policy.Allows(name) {
		raise(L, ImportError, fmt.Sprintf("module %q is not allowed", name))
		return 0
	}
	mod := L.GetGlobal(name)
	if mod == lua.LNil {
		raise(L, ImportError, fmt.Sprintf("module %q not found", name))
		return 0
	}
	L.Push(mod)
	return 1
}

// Exec compiles source under the runtime's file name and runs it.
func (r *Runtime) Exec(ctx context.Context, source string) (Outcome, error) {
	r.lines = strings.Split(source, "\n")
	r.out = newCapture(r.maxOutput)

	fn, err := r.L.Load(strings.NewReader(source), r.fileName)
	if err != nil {
		return Outcome{Fault: r.fault(err)}, nil
	}

	r.L.SetContext(ctx)
	defer r.L.RemoveContext()

	base := r.L.GetTop()
	r.L.Push(fn)
	err = r.L.PCall(0, 0, nil)
	r.L.SetTop(base)
	return r.finish(ctx, err, nil)
}

// Call invokes the global function name. Non-empty kwargs are passed as
// one trailing table argument.
func (r *Runtime) Call(ctx context.Context, name string, args []any, kwargs map[string]any) (Outcome, error) {
	fn := r.L.GetGlobal(name)
	if !IsCallable(r.L, fn) {
		return Outcome{}, fmt.Errorf("%s: %w", name, ErrNotCallable)
	}
	params := make([]lua.LValue, 0, len(args)+1)
	for i, a := range args {
		lv, err := FromGo(r.L, a)
		if err != nil {
			return Outcome{}, fmt.Errorf("argument %d: %w", i+1, err)
		}
		params = append(params, lv)
	}
	if len(kwargs) > 0 {
		lv, err := FromGo(r.L, kwargs)
		if err != nil {
			return Outcome{}, fmt.Errorf("keyword arguments: %w", err)
		}
		params = append(params, lv)
	}

	r.out = newCapture(r.maxOutput)
	r.L.SetContext(ctx)
	defer r.L.RemoveContext()

	base := r.L.GetTop()
	r.L.Push(fn)
	for _, p := range params {
		r.L.Push(p)
	}
	err := r.L.PCall(len(params), lua.MultRet, nil)
	var results []lua.LValue
	if err == nil {
		for i := base + 1; i <= r.L.GetTop(); i++ {
			results = append(results, r.L.Get(i))
		}
	}
	r.L.SetTop(base)
	return r.finish(ctx, err, results)
}

func (r *Runtime) finish(ctx context.Context, err error, results []lua.LValue) (Outcome, error) {
	if ctx.Err() != nil {
		return Outcome{}, ErrInterrupted
	}
	out := Outcome{
		Stdout: r.out.stdout.String(),
		Stderr: r.out.stderr.String(),
	}
	if err != nil {
		out.Fault = r.fault(err)
		return out, nil
	}
	switch len(results) {
	case 0:
		out.Value = api.RawJSON(jsonNull)
	case 1:
		out.Value = ToWire(results[0])
	default:
		out.Value = ListToWire(results)
	}
	return out, nil
}

// IsCallable reports whether v is a function or has a __call metamethod.
func IsCallable(L *lua.LState, v lua.LValue) bool {
	if _, ok := v.(*lua.LFunction); ok {
		return true
	}
	switch v.(type) {
	case *lua.LTable, *lua.LUserData:
		_, ok := L.GetMetaField(v, "__call").(*lua.LFunction)
		return ok
	}
	return false
}

// Snapshot describes every global created or replaced by student code,
// in definition order.
func (r *Runtime) Snapshot() []namespace.Entry {
	var entries []namespace.Entry
	r.L.G.Global.ForEach(func(k, v lua.LValue) {
		name, ok := k.(lua.LString)
		if !ok {
			return
		}
		if base, ok := r.baseline[string(name)]; ok && base == v {
			return
		}
		e := namespace.Entry{Name: string(name), Value: ToWire(v)}
		if IsCallable(r.L, v) {
			e.Kind = namespace.Callable
		}
		entries = append(entries, e)
	})
	return entries
}

func (r *Runtime) Close() {
	r.L.Close()
}
