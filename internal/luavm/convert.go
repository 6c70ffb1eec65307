package luavm

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"slices"
	"time"
	"unicode/utf8"

	"github.com/programme-lv/autograder/api"
	"github.com/programme-lv/autograder/pkg/codec"
	lua "github.com/yuin/gopher-lua"
)

// MaxDepth bounds nesting when describing tables.
const MaxDepth = 64

var ErrUnsupported = errors.New("unsupported argument type")

var jsonNull = []byte("null")

// ToWire describes a Lua value for the controller. It never fails:
// values JSON cannot carry become opaque descriptions.
func ToWire(v lua.LValue) api.Value {
	e := &describer{seen: map[*lua.LTable]bool{}}
	return e.describe(v, 0)
}

// ListToWire describes several values as one ordered sequence.
func ListToWire(vs []lua.LValue) api.Value {
	e := &describer{seen: map[*lua.LTable]bool{}}
	items := make([]api.Value, len(vs))
	for i, v := range vs {
		items[i] = e.describe(v, 1)
	}
	return sequence(items)
}

type describer struct {
	seen map[*lua.LTable]bool
}

func (d *describer) describe(v lua.LValue, depth int) api.Value {
	switch x := v.(type) {
	case *lua.LNilType:
		return api.RawJSON(jsonNull)
	case lua.LBool:
		if x {
			return api.RawJSON([]byte("true"))
		}
		return api.RawJSON([]byte("false"))
	case lua.LNumber:
		f := float64(x)
		switch {
		case math.IsNaN(f):
			return api.OpaqueOf(api.Opaque{Type: api.OpaqueNumber, Repr: "nan"})
		case math.IsInf(f, 1):
			return api.OpaqueOf(api.Opaque{Type: api.OpaqueNumber, Repr: "inf"})
		case math.IsInf(f, -1):
			return api.OpaqueOf(api.Opaque{Type: api.OpaqueNumber, Repr: "-inf"})
		}
		b, _ := json.Marshal(f)
		return api.RawJSON(b)
	case lua.LString:
		s := string(x)
		if !utf8.ValidString(s) {
			return api.OpaqueOf(api.Opaque{Type: api.OpaqueBytes, Repr: base64.StdEncoding.EncodeToString([]byte(s))})
		}
		b, _ := json.Marshal(s)
		return api.RawJSON(b)
	case *lua.LTable:
		return d.table(x, depth)
	case *lua.LFunction:
		o := api.Opaque{Type: api.OpaqueFunction, Repr: x.String()}
		if !x.IsG && x.Proto != nil {
			o.Params = int(x.Proto.NumParameters)
			o.Variadic = x.Proto.IsVarArg != 0
		} else {
			o.Variadic = true
		}
		return api.OpaqueOf(o)
	}
	return api.OpaqueOf(api.Opaque{Type: api.OpaqueForeign, Class: v.Type().String(), Repr: v.String()})
}

func (d *describer) table(t *lua.LTable, depth int) api.Value {
	if d.seen[t] {
		return api.OpaqueOf(api.Opaque{Type: api.OpaqueCycle, Repr: t.String()})
	}
	if depth >= MaxDepth {
		return api.OpaqueOf(api.Opaque{Type: api.OpaqueDepthLimit, Repr: t.String()})
	}
	d.seen[t] = true
	defer delete(d.seen, t)

	var keys, vals []lua.LValue
	t.ForEach(func(k, v lua.LValue) {
		keys = append(keys, k)
		vals = append(vals, v)
	})

	class := className(t)
	if class == "" {
		if n, ok := arrayLength(keys); ok {
			items := make([]api.Value, n)
			for i := range n {
				items[i] = d.describe(t.RawGetInt(i+1), depth+1)
			}
			return sequence(items)
		}
		if allStrings(keys) {
			items := make([]api.Value, len(vals))
			for i, v := range vals {
				items[i] = d.describe(v, depth+1)
			}
			if all(items, api.Value.IsJSON) {
				return object(keys, items)
			}
		}
	}

	o := api.Opaque{Type: api.OpaqueTable, Repr: t.String()}
	if class != "" {
		o.Type = api.OpaqueObject
		o.Class = class
	}
	for i, k := range keys {
		o.Entries = append(o.Entries, api.OpaqueEntry{
			Key:   d.describe(k, depth+1),
			Value: d.describe(vals[i], depth+1),
		})
	}
	return api.OpaqueOf(o)
}

// className is the metatable __name of t, "object" for other metatables
// and "" for plain tables.
func className(t *lua.LTable) string {
	mt, ok := t.Metatable.(*lua.LTable)
	if !ok {
		return ""
	}
	if name, ok := mt.RawGetString("__name").(lua.LString); ok && name != "" {
		return string(name)
	}
	return "object"
}

// arrayLength reports whether keys are exactly 1..n. Empty tables are
// treated as empty sequences.
func arrayLength(keys []lua.LValue) (int, bool) {
	n := len(keys)
	for _, k := range keys {
		num, ok := k.(lua.LNumber)
		if !ok {
			return 0, false
		}
		f := float64(num)
		if f != math.Trunc(f) || f < 1 || f > float64(n) {
			return 0, false
		}
	}
	return n, true
}

func allStrings(keys []lua.LValue) bool {
	for _, k := range keys {
		if _, ok := k.(lua.LString); !ok {
			return false
		}
	}
	return true
}

func all(items []api.Value, pred func(api.Value) bool) bool {
	for _, it := range items {
		if !pred(it) {
			return false
		}
	}
	return true
}

func sequence(items []api.Value) api.Value {
	if !all(items, api.Value.IsJSON) {
		o := api.Opaque{Type: api.OpaqueTable}
		for i, it := range items {
			b, _ := json.Marshal(i + 1)
			o.Entries = append(o.Entries, api.OpaqueEntry{Key: api.RawJSON(b), Value: it})
		}
		return api.OpaqueOf(o)
	}
	var buf bytes.Buffer
	buf.WriteByte('[')
	for i, it := range items {
		if i > 0 {
			buf.WriteByte(',')
		}
		buf.Write(it.JSON)
	}
	buf.WriteByte(']')
	return api.RawJSON(buf.Bytes())
}

// object keeps the table's iteration order in the JSON document.
func object(keys []lua.LValue, items []api.Value) api.Value {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		kb, _ := json.Marshal(string(k.(lua.LString)))
		buf.Write(kb)
		buf.WriteByte(':')
		buf.Write(items[i].JSON)
	}
	buf.WriteByte('}')
	return api.RawJSON(buf.Bytes())
}

// FromGo converts a decoded call argument into a Lua value.
func FromGo(L *lua.LState, v any) (lua.LValue, error) {
	switch x := v.(type) {
	case nil:
		return lua.LNil, nil
	case bool:
		return lua.LBool(x), nil
	case int:
		return lua.LNumber(x), nil
	case int8:
		return lua.LNumber(x), nil
	case int16:
		return lua.LNumber(x), nil
	case int32:
		return lua.LNumber(x), nil
	case int64:
		return lua.LNumber(x), nil
	case uint:
		return lua.LNumber(x), nil
	case uint8:
		return lua.LNumber(x), nil
	case uint16:
		return lua.LNumber(x), nil
	case uint32:
		return lua.LNumber(x), nil
	case uint64:
		return lua.LNumber(x), nil
	case float32:
		return lua.LNumber(x), nil
	case float64:
		return lua.LNumber(x), nil
	case string:
		return lua.LString(x), nil
	case []byte:
		return lua.LString(x), nil
	case time.Time:
		return lua.LString(x.Format(time.RFC3339Nano)), nil
	case []any:
		t := L.CreateTable(len(x), 0)
		for i, item := range x {
			lv, err := FromGo(L, item)
			if err != nil {
				return nil, fmt.Errorf("[%d]: %w", i+1, err)
			}
			t.RawSetInt(i+1, lv)
		}
		return t, nil
	case map[string]any:
		keys := make([]string, 0, len(x))
		for k := range x {
			keys = append(keys, k)
		}
		slices.Sort(keys)
		t := L.CreateTable(0, len(x))
		for _, k := range keys {
			lv, err := FromGo(L, x[k])
			if err != nil {
				return nil, fmt.Errorf("%s: %w", k, err)
			}
			t.RawSetString(k, lv)
		}
		return t, nil
	case codec.Table:
		return tableFromGo(L, x)
	case *codec.Table:
		return tableFromGo(L, *x)
	}
	return nil, fmt.Errorf("%w: %T", ErrUnsupported, v)
}

func tableFromGo(L *lua.LState, x codec.Table) (lua.LValue, error) {
	t := L.CreateTable(0, len(x.Entries))
	for _, e := range x.Entries {
		k, err := FromGo(L, e.Key)
		if err != nil {
			return nil, fmt.Errorf("key: %w", err)
		}
		if k == lua.LNil {
			return nil, fmt.Errorf("%w: nil table key", ErrUnsupported)
		}
		v, err := FromGo(L, e.Value)
		if err != nil {
			return nil, fmt.Errorf("%v: %w", e.Key, err)
		}
		t.RawSet(k, v)
	}
	if x.Class != "" {
		mt := L.NewTable()
		mt.RawSetString("__name", lua.LString(x.Class))
		t.Metatable = mt
	}
	return t, nil
}
