// Package codec converts values between Go and the two wire encodings.
//
// The safe encoding is JSON plus a data-only opaque description for
// values JSON cannot carry (api.Value). Decode is the only path applied
// to anything the worker sends, so nothing produced by student code is
// ever fed to a general object decoder.
//
// The unsafe encoding (Blob) is a general object serialization used for
// call arguments travelling from the controller to its own worker.
package codec

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"github.com/programme-lv/autograder/api"
)

var (
	ErrUnsupported = errors.New("value cannot be encoded")
	ErrMalformed   = errors.New("malformed encoded value")
)

// Table is an ordered key/value container for mappings whose keys are
// not all strings, or that carry a class name.
type Table struct {
	Class   string
	Entries []Entry
}

type Entry struct {
	Key   any
	Value any
}

// Get returns the value stored under key.
func (t Table) Get(key any) (any, bool) {
	for _, e := range t.Entries {
		if e.Key == key {
			return e.Value, true
		}
	}
	return nil, false
}

// Function describes a callable value reported by the worker.
type Function struct {
	Params   int
	Variadic bool
	Repr     string
}

// Foreign describes a value with no data representation (threads,
// userdata, channels), as well as cycle markers.
type Foreign struct {
	Type string
	Repr string
}

// EncodeSafe encodes a JSON-native Go value. Values that need the opaque
// description (Table, NaN, ...) are described instead.
func EncodeSafe(v any) (api.Value, error) {
	switch x := v.(type) {
	case Table:
		return describeTable(x)
	case *Table:
		return describeTable(*x)
	case float64:
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return api.OpaqueOf(api.Opaque{Type: api.OpaqueNumber, Repr: formatSpecial(x)}), nil
		}
	case []byte:
		return api.OpaqueOf(api.Opaque{Type: api.OpaqueBytes, Repr: base64.StdEncoding.EncodeToString(x)}), nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return api.Value{}, fmt.Errorf("%w: %v", ErrUnsupported, err)
	}
	return api.RawJSON(b), nil
}

func describeTable(t Table) (api.Value, error) {
	o := api.Opaque{Type: api.OpaqueTable, Class: t.Class}
	if t.Class != "" {
		o.Type = api.OpaqueObject
	}
	for _, e := range t.Entries {
		k, err := EncodeSafe(e.Key)
		if err != nil {
			return api.Value{}, err
		}
		v, err := EncodeSafe(e.Value)
		if err != nil {
			return api.Value{}, err
		}
		o.Entries = append(o.Entries, api.OpaqueEntry{Key: k, Value: v})
	}
	return api.OpaqueOf(o), nil
}

// Decode turns a worker-reported value into Go values: nil, bool,
// int64, float64, string, []any, map[string]any, Table, Function,
// Foreign and []byte. It never executes anything.
func Decode(v api.Value) (any, error) {
	switch v.Kind {
	case api.JSONValue:
		return decodeJSON(v.JSON)
	case api.OpaqueValue:
		if v.Opaque == nil {
			return nil, fmt.Errorf("%w: opaque value without body", ErrMalformed)
		}
		return decodeOpaque(*v.Opaque)
	}
	return nil, fmt.Errorf("%w: unknown value kind %q", ErrMalformed, v.Kind)
}

func decodeJSON(raw json.RawMessage) (any, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("%w: empty json value", ErrMalformed)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return normalizeNumbers(v), nil
}

func normalizeNumbers(v any) any {
	switch x := v.(type) {
	case json.Number:
		if i, err := x.Int64(); err == nil {
			return i
		}
		f, _ := x.Float64()
		return f
	case []any:
		for i := range x {
			x[i] = normalizeNumbers(x[i])
		}
		return x
	case map[string]any:
		for k := range x {
			x[k] = normalizeNumbers(x[k])
		}
		return x
	}
	return v
}

func decodeOpaque(o api.Opaque) (any, error) {
	switch o.Type {
	case api.OpaqueTable, api.OpaqueObject:
		t := Table{Class: o.Class}
		for _, e := range o.Entries {
			k, err := Decode(e.Key)
			if err != nil {
				return nil, err
			}
			if !hashableKey(k) {
				return nil, fmt.Errorf("%w: table key of type %T", ErrMalformed, k)
			}
			v, err := Decode(e.Value)
			if err != nil {
				return nil, err
			}
			t.Entries = append(t.Entries, Entry{Key: k, Value: v})
		}
		return t, nil
	case api.OpaqueFunction:
		return Function{Params: o.Params, Variadic: o.Variadic, Repr: o.Repr}, nil
	case api.OpaqueNumber:
		return parseSpecial(o.Repr)
	case api.OpaqueBytes:
		b, err := base64.StdEncoding.DecodeString(o.Repr)
		if err != nil {
			return nil, fmt.Errorf("%w: bytes: %v", ErrMalformed, err)
		}
		return b, nil
	case api.OpaqueCycle, api.OpaqueDepthLimit:
		return Foreign{Type: o.Type, Repr: o.Repr}, nil
	case api.OpaqueForeign:
		return Foreign{Type: o.Class, Repr: o.Repr}, nil
	}
	return nil, fmt.Errorf("%w: unknown opaque type %q", ErrMalformed, o.Type)
}

func hashableKey(v any) bool {
	switch v.(type) {
	case []any, map[string]any, Table, []byte:
		return false
	}
	return true
}

func formatSpecial(f float64) string {
	switch {
	case math.IsNaN(f):
		return "nan"
	case math.IsInf(f, 1):
		return "inf"
	default:
		return "-inf"
	}
}

func parseSpecial(s string) (float64, error) {
	switch s {
	case "nan":
		return math.NaN(), nil
	case "inf":
		return math.Inf(1), nil
	case "-inf":
		return math.Inf(-1), nil
	}
	return 0, fmt.Errorf("%w: number %q", ErrMalformed, s)
}
