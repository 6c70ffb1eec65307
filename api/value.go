package api

import "encoding/json"

type ValueKind string

const (
	// JSONValue carries a JSON-native value verbatim.
	JSONValue ValueKind = "json"
	// OpaqueValue describes a value JSON cannot represent. It is data
	// only: decoding it never runs code.
	OpaqueValue ValueKind = "opaque"
)

// Value is how the worker reports a namespace value or a return value.
type Value struct {
	Kind   ValueKind       `json:"kind"`
	JSON   json.RawMessage `json:"json,omitempty"`
	Opaque *Opaque         `json:"opaque,omitempty"`
}

// Opaque types
const (
	OpaqueTable    = "table"
	OpaqueObject   = "object"
	OpaqueFunction = "function"
	OpaqueNumber   = "number"
	OpaqueBytes    = "bytes"
	OpaqueCycle    = "cycle"
	OpaqueForeign  = "foreign"
)

// OpaqueDepthLimit replaces a table nested deeper than the describer
// follows. Unlike OpaqueCycle it says nothing about reachability.
const OpaqueDepthLimit = "depth_limit"

// Opaque is a structural description of a non JSON-native value. Class
// is the metatable __name of an object, or the Lua type name of a foreign
// value. Repr is a display form, except for bytes where it is the base64
// of the content.
type Opaque struct {
	Type     string        `json:"type"`
	Class    string        `json:"class,omitempty"`
	Repr     string        `json:"repr,omitempty"`
	Entries  []OpaqueEntry `json:"entries,omitempty"`
	Params   int           `json:"params,omitempty"`
	Variadic bool          `json:"variadic,omitempty"`
}

type OpaqueEntry struct {
	Key   Value `json:"key"`
	Value Value `json:"value"`
}

// RawJSON wraps an already encoded JSON document.
func RawJSON(b []byte) Value {
	return Value{Kind: JSONValue, JSON: json.RawMessage(b)}
}

func OpaqueOf(o Opaque) Value {
	return Value{Kind: OpaqueValue, Opaque: &o}
}

// IsJSON reports whether v is JSON-native.
func (v Value) IsJSON() bool { return v.Kind == JSONValue }
