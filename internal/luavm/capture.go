package luavm

import (
	"bytes"

	lua "github.com/yuin/gopher-lua"
)

// DefaultMaxOutput bounds each captured stream of a single call.
const DefaultMaxOutput = 1 << 20

// TruncatedMark ends a stream that was cut at its limit.
const TruncatedMark = "\n[output truncated]\n"

// limitedBuffer drops writes past its limit and remembers that it did.
type limitedBuffer struct {
	buf       bytes.Buffer
	limit     int
	truncated bool
}

func (lb *limitedBuffer) Write(p []byte) (int, error) {
	n := len(p)
	remaining := lb.limit - lb.buf.Len()
	if remaining <= 0 {
		lb.truncated = lb.truncated || n > 0
		return n, nil
	}
	if len(p) > remaining {
		p = p[:remaining]
		lb.truncated = true
	}
	lb.buf.Write(p)
	return n, nil
}

func (lb *limitedBuffer) WriteString(s string) (int, error) {
	return lb.Write([]byte(s))
}

func (lb *limitedBuffer) String() string {
	if lb.truncated {
		return lb.buf.String() + TruncatedMark
	}
	return lb.buf.String()
}

// capture holds the streams of one execution.
type capture struct {
	stdout limitedBuffer
	stderr limitedBuffer
}

func newCapture(limit int) *capture {
	if limit <= 0 {
		limit = DefaultMaxOutput
	}
	return &capture{
		stdout: limitedBuffer{limit: limit},
		stderr: limitedBuffer{limit: limit},
	}
}

// print mirrors the base library print, writing to the current capture.
func (r *Runtime) print(L *lua.LState) int {
	out := &r.capture().stdout
	top := L.GetTop()
	for i := 1; i <= top; i++ {
		out.WriteString(L.ToStringMeta(L.Get(i)).String())
		if i != top {
			out.WriteString("\t")
		}
	}
	out.WriteString("\n")
	return 0
}

// newWriter returns a file-like table whose write method appends to the
// stream chosen by pick.
func (r *Runtime) newWriter(pick func(*capture) *limitedBuffer) *lua.LTable {
	w := r.L.NewTable()
	w.RawSetString("write", r.L.NewFunction(func(L *lua.LState) int {
		writeArgs(L, pick(r.capture()), 2)
		L.Push(L.Get(1))
		return 1
	}))
	return w
}

func writeArgs(L *lua.LState, out *limitedBuffer, from int) {
	for i := from; i <= L.GetTop(); i++ {
		switch v := L.Get(i).(type) {
		case lua.LString:
			out.WriteString(string(v))
		case lua.LNumber:
			out.WriteString(v.String())
		default:
			L.ArgError(i, "string expected, got "+v.Type().String())
		}
	}
}

func (r *Runtime) capture() *capture {
	if r.out == nil {
		r.out = newCapture(r.maxOutput)
	}
	return r.out
}
