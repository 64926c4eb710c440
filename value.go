package zarr

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"sort"

	"github.com/tidwall/jsonc"
)

// Kind enumerates the variants a Value can hold
type Kind uint8

const (
	KindNull Kind = iota
	KindBool
	KindNumber
	KindString
	KindList
	KindMap
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindBool:
		return "bool"
	case KindNumber:
		return "number"
	case KindString:
		return "string"
	case KindList:
		return "list"
	case KindMap:
		return "map"
	}
	return "unknown"
}

// Value is one node of a decoded attribute document. The zero Value is null.
type Value struct {
	kind Kind
	b    bool
	n    float64
	s    string
	l    []Value
	m    Attributes
}

var (
	_ json.Unmarshaler = (*Value)(nil)
	_ json.Marshaler   = (*Value)(nil)
)

func Null() Value { return Value{} }
func Bool(b bool) Value { return Value{kind: KindBool, b: b} }
func Number(n float64) Value { return Value{kind: KindNumber, n: n} }
func String(s string) Value { return Value{kind: KindString, s: s} }
func List(vs ...Value) Value { return Value{kind: KindList, l: vs} }
func Map(attrs Attributes) Value { return Value{kind: KindMap, m: attrs} }
func Strings(ss ...string) Value {
	vs := make([]Value, len(ss))
	for i, s := range ss {
		vs[i] = String(s)
	}
	return List(vs...)
}

// ValueOf converts the output of encoding/json into a Value. Unknown Go types
// become null.
func ValueOf(v interface{}) Value {
	switch x := v.(type) {
	case nil:
		return Null()
	case Value:
		return x
	case bool:
		return Bool(x)
	case float64:
		return Number(x)
	case float32:
		return Number(float64(x))
	case int:
		return Number(float64(x))
	case int64:
		return Number(float64(x))
	case json.Number:
		f, err := x.Float64()
		if err != nil {
			return String(x.String())
		}
		return Number(f)
	case string:
		return String(x)
	case []string:
		return Strings(x...)
	case []interface{}:
		vs := make([]Value, len(x))
		for i, el := range x {
			vs[i] = ValueOf(el)
		}
		return List(vs...)
	case map[string]interface{}:
		attrs := make(Attributes, len(x))
		for k, el := range x {
			attrs[k] = ValueOf(el)
		}
		return Map(attrs)
	case Attributes:
		return Map(x)
	}
	return Null()
}

func (v Value) Kind() Kind { return v.kind }
func (v Value) IsNull() bool { return v.kind == KindNull }

func (v Value) AsBool() (bool, bool) {
	return v.b, v.kind == KindBool
}

func (v Value) AsFloat() (float64, bool) {
	return v.n, v.kind == KindNumber
}

// AsInt succeeds only for numbers with no fractional part
func (v Value) AsInt() (int, bool) {
	if v.kind != KindNumber || v.n != math.Trunc(v.n) {
		return 0, false
	}
	return int(v.n), true
}

func (v Value) AsString() (string, bool) {
	return v.s, v.kind == KindString
}

func (v Value) AsList() ([]Value, bool) {
	return v.l, v.kind == KindList
}

func (v Value) AsMap() (Attributes, bool) {
	return v.m, v.kind == KindMap
}

// Interface converts back to the encoding/json representation
func (v Value) Interface() interface{} {
	switch v.kind {
	case KindBool:
		return v.b
	case KindNumber:
		return v.n
	case KindString:
		return v.s
	case KindList:
		out := make([]interface{}, len(v.l))
		for i, el := range v.l {
			out[i] = el.Interface()
		}
		return out
	case KindMap:
		return v.m.Interface()
	}
	return nil
}

func (v Value) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.Interface())
}

func (v *Value) UnmarshalJSON(d []byte) error {
	dec := json.NewDecoder(bytes.NewReader(d))
	dec.UseNumber()
	var raw interface{}
	if err := dec.Decode(&raw); err != nil {
		return err
	}
	*v = ValueOf(raw)
	return nil
}

// Attributes stores userland metadata of a group or array (.zattrs)
type Attributes map[string]Value

func (Attributes) MetaType() MetaType { return MTAttributes }

// ParseAttributes decodes a .zattrs document. Comments and trailing commas are
// tolerated.
func ParseAttributes(d []byte) (Attributes, error) {
	var v Value
	if err := v.UnmarshalJSON(jsonc.ToJSON(d)); err != nil {
		return nil, err
	}
	if v.IsNull() {
		return Attributes{}, nil
	}
	attrs, ok := v.AsMap()
	if !ok {
		return nil, fmt.Errorf("attributes must be a JSON object, got %s", v.Kind())
	}
	return attrs, nil
}

func (a *Attributes) UnmarshalJSON(d []byte) error {
	attrs, err := ParseAttributes(d)
	if err != nil {
		return err
	}
	*a = attrs
	return nil
}

func (a Attributes) MarshalJSON() ([]byte, error) {
	return json.Marshal(a.Interface())
}

// Interface converts to a plain map[string]interface{}
func (a Attributes) Interface() map[string]interface{} {
	out := make(map[string]interface{}, len(a))
	for k, v := range a {
		out[k] = v.Interface()
	}
	return out
}

// Keys returns the attribute names in sorted order
func (a Attributes) Keys() []string {
	keys := make([]string, 0, len(a))
	for k := range a {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (a Attributes) Get(key string) (Value, bool) {
	v, ok := a[key]
	return v, ok
}

func (a Attributes) String(key string) (string, bool) {
	return a[key].AsString()
}

func (a Attributes) Int(key string) (int, bool) {
	return a[key].AsInt()
}

func (a Attributes) Float(key string) (float64, bool) {
	return a[key].AsFloat()
}

func (a Attributes) Bool(key string) (bool, bool) {
	return a[key].AsBool()
}

func (a Attributes) List(key string) ([]Value, bool) {
	return a[key].AsList()
}

func (a Attributes) Map(key string) (Attributes, bool) {
	return a[key].AsMap()
}
