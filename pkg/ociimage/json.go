package ociimage

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"time"
)

// Time formats as ISO-8601 with second precision, as the canonical codec
// requires, regardless of the precision a caller constructed it with.
type Time time.Time

func NewTime(t time.Time) Time { return Time(t.UTC().Truncate(time.Second)) }

func (t Time) Time() time.Time { return time.Time(t) }

func (t Time) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Time(t).UTC().Truncate(time.Second).Format(time.RFC3339))
}

func (t *Time) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	parsed, err := time.Parse(time.RFC3339, s)
	if err != nil {
		// Tolerate fractional seconds from servers that don't round-trip
		// our own canonical form.
		parsed, err = time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return fmt.Errorf("ociimage: invalid timestamp %q: %w", s, err)
		}
	}
	*t = Time(parsed.UTC().Truncate(time.Second))
	return nil
}

// Encode produces the canonical wire bytes for v: keys sorted
// lexicographically at every level, two-space pretty-printed, with a
// trailing newline. Digests are computed over exactly these bytes, so
// encoding must never depend on Go's map/struct-field default ordering.
func Encode(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("ociimage: marshal: %w", err)
	}
	generic, err := decodeGeneric(raw)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := writeCanonical(&buf, generic, 0); err != nil {
		return nil, err
	}
	buf.WriteByte('\n')
	return buf.Bytes(), nil
}

// Decode parses canonical (or any valid) JSON bytes into v. Unknown
// fields and null-for-optional values are tolerated, per stdlib
// encoding/json's default behavior.
func Decode(b []byte, v any) error {
	return json.Unmarshal(b, v)
}

func decodeGeneric(raw []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("ociimage: canonicalize: %w", err)
	}
	return v, nil
}

func writeCanonical(buf *bytes.Buffer, v any, depth int) error {
	switch val := v.(type) {
	case nil:
		buf.WriteString("null")
	case bool:
		if val {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}
	case json.Number:
		buf.WriteString(val.String())
	case string:
		encoded, err := json.Marshal(val)
		if err != nil {
			return err
		}
		buf.Write(encoded)
	case []any:
		return writeArray(buf, val, depth)
	case map[string]any:
		return writeObject(buf, val, depth)
	default:
		return fmt.Errorf("ociimage: unsupported canonical value type %T", v)
	}
	return nil
}

func writeArray(buf *bytes.Buffer, items []any, depth int) error {
	if len(items) == 0 {
		buf.WriteString("[]")
		return nil
	}
	buf.WriteString("[\n")
	inner := indent(depth + 1)
	for i, item := range items {
		buf.WriteString(inner)
		if err := writeCanonical(buf, item, depth+1); err != nil {
			return err
		}
		if i < len(items)-1 {
			buf.WriteByte(',')
		}
		buf.WriteByte('\n')
	}
	buf.WriteString(indent(depth))
	buf.WriteByte(']')
	return nil
}

func writeObject(buf *bytes.Buffer, obj map[string]any, depth int) error {
	if len(obj) == 0 {
		buf.WriteString("{}")
		return nil
	}
	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	buf.WriteString("{\n")
	inner := indent(depth + 1)
	for i, k := range keys {
		buf.WriteString(inner)
		keyBytes, err := json.Marshal(k)
		if err != nil {
			return err
		}
		buf.Write(keyBytes)
		buf.WriteString(": ")
		if err := writeCanonical(buf, obj[k], depth+1); err != nil {
			return err
		}
		if i < len(keys)-1 {
			buf.WriteByte(',')
		}
		buf.WriteByte('\n')
	}
	buf.WriteString(indent(depth))
	buf.WriteByte('}')
	return nil
}

func indent(depth int) string {
	return string(bytes.Repeat([]byte("  "), depth))
}
