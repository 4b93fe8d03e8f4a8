// Package messaging implements the namespaced, event/ack protocol layered on
// top of the Engine (spec §4.2, §4.6-§4.8): the packet codec, the
// per-connection Client, the Namespace+Adapter rooms engine, and the
// user-visible Socket.
package messaging

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/pkg/errors"
)

// ValueKind tags the variant a Value holds (spec §9's "dynamic types":
// JsonValue = Null | Bool | Number | String | Bytes | Array | Object).
type ValueKind int

const (
	KindNull ValueKind = iota
	KindBool
	KindNumber
	KindString
	KindBytes
	KindArray
	KindObject
)

// KV is one key/value pair of an object-kind Value; Values keep object key
// order so wire output is deterministic.
type KV struct {
	Key string
	Val Value
}

// Value is a JSON-compatible value tree that may additionally hold opaque
// byte sequences (KindBytes) at any depth, standing in for the Python
// source's untyped dict/list/str/bytes payloads.
type Value struct {
	Kind ValueKind
	B    bool
	N    float64
	S    string
	Bin  []byte
	Arr  []Value
	Obj  []KV
}

func Null() Value               { return Value{Kind: KindNull} }
func Bool(b bool) Value         { return Value{Kind: KindBool, B: b} }
func Number(n float64) Value    { return Value{Kind: KindNumber, N: n} }
func String(s string) Value     { return Value{Kind: KindString, S: s} }
func Bytes(b []byte) Value      { return Value{Kind: KindBytes, Bin: b} }
func Array(vs ...Value) Value   { return Value{Kind: KindArray, Arr: vs} }
func Object(kvs ...KV) Value    { return Value{Kind: KindObject, Obj: kvs} }
func Field(k string, v Value) KV { return KV{Key: k, Val: v} }

// HasBin reports whether v contains an opaque byte sequence at any depth —
// the `has_bin` predicate of spec's GLOSSARY.
func HasBin(v Value) bool {
	switch v.Kind {
	case KindBytes:
		return true
	case KindArray:
		for _, e := range v.Arr {
			if HasBin(e) {
				return true
			}
		}
	case KindObject:
		for _, kv := range v.Obj {
			if HasBin(kv.Val) {
				return true
			}
		}
	}
	return false
}

// ExtractBinary walks v, replacing every KindBytes value with a placeholder
// object {_placeholder: true, num: N}, and returns the rewritten tree plus
// the attachments collected in encounter order (spec §4.2 step 1).
func ExtractBinary(v Value) (Value, [][]byte) {
	var attachments [][]byte
	rewritten := extractBinary(v, &attachments)
	return rewritten, attachments
}

func extractBinary(v Value, attachments *[][]byte) Value {
	switch v.Kind {
	case KindBytes:
		num := len(*attachments)
		*attachments = append(*attachments, v.Bin)
		return placeholder(num)
	case KindArray:
		out := make([]Value, len(v.Arr))
		for i, e := range v.Arr {
			out[i] = extractBinary(e, attachments)
		}
		return Value{Kind: KindArray, Arr: out}
	case KindObject:
		out := make([]KV, len(v.Obj))
		for i, kv := range v.Obj {
			out[i] = KV{Key: kv.Key, Val: extractBinary(kv.Val, attachments)}
		}
		return Value{Kind: KindObject, Obj: out}
	default:
		return v
	}
}

func placeholder(num int) Value {
	return Object(Field("_placeholder", Bool(true)), Field("num", Number(float64(num))))
}

// ReconstructBinary is the inverse of ExtractBinary: it substitutes every
// placeholder object by the attachment its "num" selects (spec §4.2's
// decoding step 4).
func ReconstructBinary(v Value, attachments [][]byte) (Value, error) {
	switch v.Kind {
	case KindObject:
		if num, ok := placeholderNum(v); ok {
			if num < 0 || num >= len(attachments) {
				return Value{}, errors.Errorf("messaging: placeholder num %d out of range (have %d attachments)", num, len(attachments))
			}
			return Bytes(attachments[num]), nil
		}
		out := make([]KV, len(v.Obj))
		for i, kv := range v.Obj {
			rv, err := ReconstructBinary(kv.Val, attachments)
			if err != nil {
				return Value{}, err
			}
			out[i] = KV{Key: kv.Key, Val: rv}
		}
		return Value{Kind: KindObject, Obj: out}, nil
	case KindArray:
		out := make([]Value, len(v.Arr))
		for i, e := range v.Arr {
			rv, err := ReconstructBinary(e, attachments)
			if err != nil {
				return Value{}, err
			}
			out[i] = rv
		}
		return Value{Kind: KindArray, Arr: out}, nil
	default:
		return v, nil
	}
}

func placeholderNum(v Value) (int, bool) {
	if v.Kind != KindObject {
		return 0, false
	}
	var isPlaceholder bool
	var num float64
	haveNum := false
	for _, kv := range v.Obj {
		switch kv.Key {
		case "_placeholder":
			isPlaceholder = kv.Val.Kind == KindBool && kv.Val.B
		case "num":
			if kv.Val.Kind == KindNumber {
				num = kv.Val.N
				haveNum = true
			}
		}
	}
	if isPlaceholder && haveNum {
		return int(num), true
	}
	return 0, false
}

// MarshalJSON renders v as standard JSON. KindBytes is not JSON-representable
// and is an error here — callers must ExtractBinary first.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.Kind {
	case KindNull:
		return []byte("null"), nil
	case KindBool:
		if v.B {
			return []byte("true"), nil
		}
		return []byte("false"), nil
	case KindNumber:
		return json.Marshal(v.N)
	case KindString:
		return json.Marshal(v.S)
	case KindBytes:
		return nil, errors.New("messaging: cannot marshal raw bytes to JSON; call ExtractBinary first")
	case KindArray:
		buf := []byte{'['}
		for i, e := range v.Arr {
			if i > 0 {
				buf = append(buf, ',')
			}
			eb, err := e.MarshalJSON()
			if err != nil {
				return nil, err
			}
			buf = append(buf, eb...)
		}
		buf = append(buf, ']')
		return buf, nil
	case KindObject:
		buf := []byte{'{'}
		for i, kv := range v.Obj {
			if i > 0 {
				buf = append(buf, ',')
			}
			kb, _ := json.Marshal(kv.Key)
			buf = append(buf, kb...)
			buf = append(buf, ':')
			vb, err := kv.Val.MarshalJSON()
			if err != nil {
				return nil, err
			}
			buf = append(buf, vb...)
		}
		buf = append(buf, '}')
		return buf, nil
	default:
		return nil, errors.Errorf("messaging: unknown value kind %d", v.Kind)
	}
}

// FromJSON decodes a JSON document into a Value tree. Numbers become
// KindNumber (float64); there is no KindBytes in the result — binary
// payloads only appear after ReconstructBinary runs.
func FromJSON(raw []byte) (Value, error) {
	var generic any
	if len(raw) == 0 {
		return Null(), nil
	}
	if err := json.Unmarshal(raw, &generic); err != nil {
		return Value{}, errors.Wrap(err, "messaging: invalid json")
	}
	return fromGoDecoded(generic), nil
}

func fromGoDecoded(v any) Value {
	switch t := v.(type) {
	case nil:
		return Null()
	case bool:
		return Bool(t)
	case float64:
		return Number(t)
	case string:
		return String(t)
	case []any:
		out := make([]Value, len(t))
		for i, e := range t {
			out[i] = fromGoDecoded(e)
		}
		return Value{Kind: KindArray, Arr: out}
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		out := make([]KV, 0, len(keys))
		for _, k := range keys {
			out = append(out, KV{Key: k, Val: fromGoDecoded(t[k])})
		}
		return Value{Kind: KindObject, Obj: out}
	default:
		return String(fmt.Sprintf("%v", t))
	}
}

// FromGo converts an idiomatic Go value (nil, bool, numeric kinds, string,
// []byte, []any, map[string]any, json.RawMessage, or an already-built Value)
// into a Value tree. It is the ergonomic entry point used by Socket.Emit and
// friends so callers don't need to hand-build Value trees for simple calls.
func FromGo(v any) (Value, error) {
	switch t := v.(type) {
	case Value:
		return t, nil
	case nil:
		return Null(), nil
	case bool:
		return Bool(t), nil
	case string:
		return String(t), nil
	case []byte:
		return Bytes(t), nil
	case json.RawMessage:
		return FromJSON(t)
	case int:
		return Number(float64(t)), nil
	case int32:
		return Number(float64(t)), nil
	case int64:
		return Number(float64(t)), nil
	case float32:
		return Number(float64(t)), nil
	case float64:
		return Number(t), nil
	case []any:
		out := make([]Value, len(t))
		for i, e := range t {
			ev, err := FromGo(e)
			if err != nil {
				return Value{}, err
			}
			out[i] = ev
		}
		return Value{Kind: KindArray, Arr: out}, nil
	case []Value:
		return Value{Kind: KindArray, Arr: t}, nil
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		out := make([]KV, 0, len(keys))
		for _, k := range keys {
			ev, err := FromGo(t[k])
			if err != nil {
				return Value{}, err
			}
			out = append(out, KV{Key: k, Val: ev})
		}
		return Value{Kind: KindObject, Obj: out}, nil
	default:
		raw, err := json.Marshal(v)
		if err != nil {
			return Value{}, errors.Wrapf(err, "messaging: cannot convert %T to Value", v)
		}
		return FromJSON(raw)
	}
}

// ToGo converts a Value tree back into idiomatic Go (map[string]any,
// []any, string, float64, bool, nil, []byte for KindBytes). Useful when
// application code wants to json.Unmarshal event args into a struct via an
// intermediate any.
func (v Value) ToGo() any {
	switch v.Kind {
	case KindNull:
		return nil
	case KindBool:
		return v.B
	case KindNumber:
		return v.N
	case KindString:
		return v.S
	case KindBytes:
		return v.Bin
	case KindArray:
		out := make([]any, len(v.Arr))
		for i, e := range v.Arr {
			out[i] = e.ToGo()
		}
		return out
	case KindObject:
		out := make(map[string]any, len(v.Obj))
		for _, kv := range v.Obj {
			out[kv.Key] = kv.Val.ToGo()
		}
		return out
	default:
		return nil
	}
}
