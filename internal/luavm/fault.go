package luavm

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	lua "github.com/yuin/gopher-lua"
)

// Exception names reported for faults that carry no name of their own.
const (
	RuntimeError  = "RuntimeError"
	SyntaxError   = "SyntaxError"
	ImportError   = "ImportError"
	SystemExit    = "SystemExit"
	InternalError = "InternalError"
)

// Fault is a failure raised by student code.
type Fault struct {
	Name      string
	Message   string
	Traceback string
}

func (f *Fault) Error() string {
	return f.Name + ": " + f.Message
}

// raise throws a named error table, the same shape students use with
// error({name = ..., message = ...}).
func raise(L *lua.LState, name, msg string) {
	e := L.NewTable()
	e.RawSetString("name", lua.LString(name))
	e.RawSetString("message", lua.LString(msg))
	mt := L.NewTable()
	mt.RawSetString("__name", lua.LString(name))
	mt.RawSetString("__tostring", L.NewFunction(func(L *lua.LState) int {
		L.Push(lua.LString(name + ": " + msg))
		return 1
	}))
	e.Metatable = mt
	L.Error(e, 1)
}

// fault classifies an error returned by Load or PCall.
func (r *Runtime) fault(err error) *Fault {
	var apiErr *lua.ApiError
	if !errors.As(err, &apiErr) {
		return &Fault{Name: InternalError, Message: err.Error(), Traceback: err.Error()}
	}

	f := &Fault{Name: RuntimeError}
	switch apiErr.Type {
	case lua.ApiErrorSyntax:
		f.Name = SyntaxError
	case lua.ApiErrorPanic:
		f.Name = InternalError
	}

	switch obj := apiErr.Object.(type) {
	case *lua.LTable:
		if name, ok := obj.RawGetString("name").(lua.LString); ok && name != "" {
			f.Name = string(name)
		} else if class := className(obj); class != "" && class != "object" {
			f.Name = class
		}
		if msg, ok := obj.RawGetString("message").(lua.LString); ok {
			f.Message = string(msg)
		} else {
			f.Message = r.L.ToStringMeta(obj).String()
		}
	case nil:
		f.Message = err.Error()
	default:
		f.Message = strings.TrimRight(obj.String(), "\n")
	}
	f.Traceback = r.traceback(f, apiErr.StackTrace)
	return f
}

var syntaxLine = regexp.MustCompile(`line:(\d+)`)

// traceback renders the Lua stack trace with the offending source lines
// of the student chunk below the frames that point into it.
func (r *Runtime) traceback(f *Fault, stack string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %s\n", f.Name, f.Message)

	if strings.TrimSpace(stack) == "" {
		// syntax errors come without a stack
		b.WriteString("stack traceback:\n")
		fmt.Fprintf(&b, "\t%s: in main chunk\n", r.fileName)
		if m := syntaxLine.FindStringSubmatch(f.Message); m != nil {
			if n, err := strconv.Atoi(m[1]); err == nil {
				r.writeSourceLine(&b, n)
			}
		}
		return strings.TrimRight(b.String(), "\n")
	}

	prefix := r.fileName + ":"
	for _, line := range strings.Split(stack, "\n") {
		b.WriteString(line)
		b.WriteByte('\n')
		frame := strings.TrimSpace(line)
		if !strings.HasPrefix(frame, prefix) {
			continue
		}
		rest := frame[len(prefix):]
		end := strings.IndexByte(rest, ':')
		if end < 0 {
			continue
		}
		if n, err := strconv.Atoi(rest[:end]); err == nil {
			r.writeSourceLine(&b, n)
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

func (r *Runtime) writeSourceLine(b *strings.Builder, n int) {
	if n < 1 || n > len(r.lines) {
		return
	}
	if src := strings.TrimSpace(r.lines[n-1]); src != "" {
		fmt.Fprintf(b, "\t\t%s\n", src)
	}
}
