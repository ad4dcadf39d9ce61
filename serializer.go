package styx

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"unicode/utf8"

	"github.com/tidwall/gjson"
)

// Serializer converts values to and from bytes. A nil Value is serialized as
// "no value".
type Serializer interface {
	Serialize(Value) ([]byte, error)
	Deserialize([]byte) (Value, error)
}

const (
	binaryTag = "$binary"
	mapTag    = "$map"
)

// toPlain converts v to the generic JSON data model. Binary becomes
// {"$binary": base64}; a Map becomes an object when every key is Text, and
// {"$map": [[k, v], ...]} otherwise, or when an object would be mistaken for
// one of these tagged forms.
func toPlain(v Value) (any, error) {
	switch v := v.(type) {
	case nil:
		return nil, nil
	case Bool:
		return bool(v), nil
	case Number:
		f := float64(v)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return nil, fmt.Errorf("%w: number %v", ErrUnsupportedValue, f)
		}
		return f, nil
	case Text:
		return plainText(v)
	case Binary:
		return map[string]any{binaryTag: base64.StdEncoding.EncodeToString(v)}, nil
	case List:
		res := make([]any, len(v))
		for i := range v {
			p, err := toPlain(v[i])
			if err != nil {
				return nil, err
			}
			res[i] = p
		}
		return res, nil
	case Map:
		return mapToPlain(v)
	}
	return nil, fmt.Errorf("%w: %T", ErrUnsupportedValue, v)
}

func mapToPlain(m Map) (any, error) {
	es, err := Collect(m.SortedMap)
	if err != nil {
		return nil, err
	}
	asObject := !(len(es) == 1 && isTaggedKey(es[0].Key))
	for _, e := range es {
		if _, ok := e.Key.(Text); !ok {
			asObject = false
			break
		}
	}
	if asObject {
		obj := make(map[string]any, len(es))
		for _, e := range es {
			k, err := plainText(e.Key.(Text))
			if err != nil {
				return nil, err
			}
			p, err := toPlain(e.Val)
			if err != nil {
				return nil, err
			}
			obj[k] = p
		}
		return obj, nil
	}
	pairs := make([]any, 0, len(es))
	for _, e := range es {
		k, err := toPlain(e.Key)
		if err != nil {
			return nil, err
		}
		v, err := toPlain(e.Val)
		if err != nil {
			return nil, err
		}
		pairs = append(pairs, []any{k, v})
	}
	return map[string]any{mapTag: pairs}, nil
}

// plainText rejects text that is not UTF-8, which JSON and protobuf strings
// would otherwise replace or refuse.
func plainText(t Text) (string, error) {
	if !utf8.ValidString(string(t)) {
		return "", fmt.Errorf("%w: text %q is not UTF-8", ErrUnsupportedValue, string(t))
	}
	return string(t), nil
}

func isTaggedKey(k Value) bool {
	t, ok := k.(Text)
	return ok && (t == binaryTag || t == mapTag)
}

// fromPlain is the inverse of toPlain.
func fromPlain(p any) (Value, error) {
	switch p := p.(type) {
	case nil:
		return nil, nil
	case bool:
		return Bool(p), nil
	case float64:
		return Number(p), nil
	case string:
		return Text(p), nil
	case []any:
		res := make(List, len(p))
		for i := range p {
			v, err := fromPlain(p[i])
			if err != nil {
				return nil, err
			}
			res[i] = v
		}
		return res, nil
	case map[string]any:
		if len(p) == 1 {
			if b, ok := p[binaryTag]; ok {
				s, ok := b.(string)
				if !ok {
					return nil, fmt.Errorf("%w: %s is not a string", ErrMalformed, binaryTag)
				}
				return decodeBinary(s)
			}
			if pairs, ok := p[mapTag]; ok {
				l, ok := pairs.([]any)
				if !ok {
					return nil, fmt.Errorf("%w: %s is not a list", ErrMalformed, mapTag)
				}
				return pairsToMap(len(l), func(i int) (any, any, bool) {
					pair, ok := l[i].([]any)
					if !ok || len(pair) != 2 {
						return nil, nil, false
					}
					return pair[0], pair[1], true
				}, fromPlain)
			}
		}
		var m SortedMap = NewInMemory()
		for k, pv := range p {
			v, err := fromPlain(pv)
			if err != nil {
				return nil, err
			}
			if v == nil {
				continue
			}
			m, err = m.Put(Text(k), v)
			if err != nil {
				return nil, err
			}
		}
		return Map{m}, nil
	}
	return nil, fmt.Errorf("%w: unexpected %T", ErrMalformed, p)
}

func decodeBinary(s string) (Value, error) {
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: bad base64 in %s", ErrMalformed, binaryTag)
	}
	return Binary(b), nil
}

func pairsToMap[T any](n int, pair func(int) (T, T, bool), conv func(T) (Value, error)) (Value, error) {
	var m SortedMap = NewInMemory()
	for i := 0; i < n; i++ {
		pk, pv, ok := pair(i)
		if !ok {
			return nil, fmt.Errorf("%w: %s entry %d is not a pair", ErrMalformed, mapTag, i)
		}
		k, err := conv(pk)
		if err != nil {
			return nil, err
		}
		if k == nil {
			return nil, fmt.Errorf("%w: %s entry %d has no key", ErrMalformed, mapTag, i)
		}
		v, err := conv(pv)
		if err != nil {
			return nil, err
		}
		m, err = m.Put(k, v)
		if err != nil {
			return nil, err
		}
	}
	return Map{m}, nil
}

// TextSerializer is the canonical, human-readable encoding used by the file
// and S3 backends: JSON, with binaries and non-text-keyed maps in tagged
// objects. The list 1, 2, 3, 4 serializes as [1,2,3,4].
type TextSerializer struct{}

func (TextSerializer) Serialize(v Value) ([]byte, error) {
	p, err := toPlain(v)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(p); err != nil {
		return nil, fmt.Errorf("encode: %w", err)
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

func (TextSerializer) Deserialize(b []byte) (Value, error) {
	if len(bytes.TrimSpace(b)) == 0 {
		return nil, fmt.Errorf("%w: empty", ErrMalformed)
	}
	if !gjson.ValidBytes(b) {
		return nil, fmt.Errorf("%w: invalid text encoding", ErrMalformed)
	}
	return fromResult(gjson.ParseBytes(b))
}

func fromResult(r gjson.Result) (Value, error) {
	switch r.Type {
	case gjson.Null:
		return nil, nil
	case gjson.False:
		return Bool(false), nil
	case gjson.True:
		return Bool(true), nil
	case gjson.Number:
		return Number(r.Num), nil
	case gjson.String:
		return Text(r.Str), nil
	}
	if r.IsArray() {
		elems := r.Array()
		res := make(List, len(elems))
		for i := range elems {
			v, err := fromResult(elems[i])
			if err != nil {
				return nil, err
			}
			res[i] = v
		}
		return res, nil
	}
	if !r.IsObject() {
		return nil, fmt.Errorf("%w: unexpected %q", ErrMalformed, strings.TrimSpace(r.Raw))
	}
	fields := r.Map()
	if len(fields) == 1 {
		if b, ok := fields[binaryTag]; ok {
			if b.Type != gjson.String {
				return nil, fmt.Errorf("%w: %s is not a string", ErrMalformed, binaryTag)
			}
			return decodeBinary(b.Str)
		}
		if pairs, ok := fields[mapTag]; ok {
			if !pairs.IsArray() {
				return nil, fmt.Errorf("%w: %s is not a list", ErrMalformed, mapTag)
			}
			l := pairs.Array()
			return pairsToMap(len(l), func(i int) (gjson.Result, gjson.Result, bool) {
				pair := l[i].Array()
				if !l[i].IsArray() || len(pair) != 2 {
					return gjson.Result{}, gjson.Result{}, false
				}
				return pair[0], pair[1], true
			}, fromResult)
		}
	}
	var m SortedMap = NewInMemory()
	var err error
	r.ForEach(func(key, val gjson.Result) bool {
		var v Value
		v, err = fromResult(val)
		if err != nil {
			return false
		}
		if v == nil {
			return true
		}
		m, err = m.Put(Text(key.String()), v)
		return err == nil
	})
	if err != nil {
		return nil, err
	}
	return Map{m}, nil
}
