package statelog

import (
	"bytes"
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"unicode/utf16"

	"golang.org/x/text/unicode/norm"
)

// KeyMessage is the one key every outcome carries.
const KeyMessage = "message"

// Outcome is the free-form audit payload attached to a transition. Producers
// document their own key sets next to the code that builds them.
type Outcome map[string]any

// NewOutcome starts an outcome with its human-readable message.
func NewOutcome(message string) Outcome {
	return Outcome{KeyMessage: message}
}

// With sets key and returns the outcome for chaining.
func (o Outcome) With(key string, value any) Outcome {
	o[key] = value
	return o
}

// Message returns the outcome message, or "" when absent.
func (o Outcome) Message() string {
	s, _ := o[KeyMessage].(string)
	return s
}

// Encode serialises the outcome as canonical JSON: sorted keys, NFC strings,
// no HTML escaping. Identical outcomes always produce identical bytes.
func (o Outcome) Encode() ([]byte, error) {
	if o == nil {
		return []byte("{}"), nil
	}
	return marshalCanonical(map[string]any(o))
}

// DecodeOutcome parses a stored outcome.
func DecodeOutcome(b []byte) (Outcome, error) {
	if len(b) == 0 {
		return Outcome{}, nil
	}
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	var o Outcome
	if err := dec.Decode(&o); err != nil {
		return nil, fmt.Errorf("decode outcome: %w", err)
	}
	if o == nil {
		o = Outcome{}
	}
	return o, nil
}

func marshalCanonical(v any) ([]byte, error) {
	switch val := v.(type) {
	case nil:
		return []byte("null"), nil
	case string:
		return marshalString(val)
	case bool:
		if val {
			return []byte("true"), nil
		}
		return []byte("false"), nil
	case int:
		return []byte(fmt.Sprintf("%d", val)), nil
	case int64:
		return []byte(fmt.Sprintf("%d", val)), nil
	case json.Number:
		if _, err := val.Int64(); err != nil {
			return nil, fmt.Errorf("non-integer number %s in outcome", val)
		}
		return []byte(val.String()), nil
	case float32, float64:
		return nil, fmt.Errorf("floats are not allowed in outcomes: %v", val)
	case []string:
		items := make([]any, len(val))
		for i, s := range val {
			items[i] = s
		}
		return marshalArray(items)
	case []any:
		return marshalArray(val)
	case []Outcome:
		items := make([]any, len(val))
		for i, o := range val {
			items[i] = map[string]any(o)
		}
		return marshalArray(items)
	case []map[string]any:
		items := make([]any, len(val))
		for i, m := range val {
			items[i] = m
		}
		return marshalArray(items)
	case Outcome:
		return marshalObject(val)
	case map[string]any:
		return marshalObject(val)
	case map[string]string:
		obj := make(map[string]any, len(val))
		for k, s := range val {
			obj[k] = s
		}
		return marshalObject(obj)
	case fmt.Stringer:
		return marshalString(val.String())
	}

	// Named string and integer types (enums) encode as their underlying value.
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.String:
		return marshalString(rv.String())
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return []byte(fmt.Sprintf("%d", rv.Int())), nil
	}
	return nil, fmt.Errorf("unsupported outcome value type %T", v)
}

func marshalString(s string) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(norm.NFC.String(s)); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

func marshalArray(items []any) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('[')
	for i, item := range items {
		if i > 0 {
			buf.WriteByte(',')
		}
		b, err := marshalCanonical(item)
		if err != nil {
			return nil, fmt.Errorf("[%d]: %w", i, err)
		}
		buf.Write(b)
	}
	buf.WriteByte(']')
	return buf.Bytes(), nil
}

func marshalObject(obj map[string]any) ([]byte, error) {
	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	// Keys sort by UTF-16 code units, matching RFC 8785.
	sort.Slice(keys, func(i, j int) bool { return lessUTF16(keys[i], keys[j]) })

	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		kb, err := marshalString(k)
		if err != nil {
			return nil, err
		}
		buf.Write(kb)
		buf.WriteByte(':')
		vb, err := marshalCanonical(obj[k])
		if err != nil {
			return nil, fmt.Errorf("%q: %w", k, err)
		}
		buf.Write(vb)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func lessUTF16(a, b string) bool {
	ua, ub := utf16.Encode([]rune(a)), utf16.Encode([]rune(b))
	for i := 0; i < len(ua) && i < len(ub); i++ {
		if ua[i] != ub[i] {
			return ua[i] < ub[i]
		}
	}
	return len(ua) < len(ub)
}
