package ir

import (
	"bytes"
	"encoding/json"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"unicode/utf16"
)

// Value is a sealed interface for resolved workflow input values.
// Only IRString and IRInt implement it: workflow backends accept strings and
// numbers, and floats are forbidden because they break dispatch key stability.
type Value interface {
	irValue() // Sealed - only these types implement it
}

// IRString represents a string input value.
type IRString string

func (IRString) irValue() {}

// IRInt represents an integer input value.
// Always int64, never float64.
type IRInt int64

func (IRInt) irValue() {}

// ValueString renders v the way it is sent to a workflow backend.
func ValueString(v Value) string {
	switch val := v.(type) {
	case IRString:
		return string(val)
	case IRInt:
		return strconv.FormatInt(int64(val), 10)
	default:
		return ""
	}
}

// Inputs maps workflow input names to resolved values.
// Use SortedKeys() for deterministic iteration.
type Inputs map[string]Value

// SortedKeys returns keys in RFC 8785 order (UTF-16 code units).
func (in Inputs) SortedKeys() []string {
	return sortedKeys(in)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, compareUTF16)
	return keys
}

// Strings renders every value as a string, as GitHub's workflow_dispatch
// API requires.
func (in Inputs) Strings() map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = ValueString(v)
	}
	return out
}

// String renders inputs as "k=v" pairs in key order, for logs and replies.
func (in Inputs) String() string {
	parts := make([]string, 0, len(in))
	for _, k := range in.SortedKeys() {
		parts = append(parts, k+"="+ValueString(in[k]))
	}
	return strings.Join(parts, ", ")
}

// MarshalJSON encodes strings as JSON strings and integers as JSON numbers.
func (in Inputs) MarshalJSON() ([]byte, error) {
	if in == nil {
		return []byte("{}"), nil
	}
	return MarshalCanonical(in)
}

// UnmarshalJSON decodes a JSON object whose values are strings or integers.
func (in *Inputs) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		return err
	}

	out := make(Inputs, len(raw))
	for k, v := range raw {
		switch val := v.(type) {
		case string:
			out[k] = IRString(val)
		case json.Number:
			n, err := val.Int64()
			if err != nil {
				return fmt.Errorf("input %q: floats are forbidden: %s", k, val)
			}
			out[k] = IRInt(n)
		default:
			return fmt.Errorf("input %q: unsupported type %T", k, v)
		}
	}
	*in = out
	return nil
}

// compareUTF16 orders strings by UTF-16 code units per RFC 8785.
func compareUTF16(a, b string) int {
	ua := utf16.Encode([]rune(a))
	ub := utf16.Encode([]rune(b))
	for i := 0; i < len(ua) && i < len(ub); i++ {
		if ua[i] != ub[i] {
			if ua[i] < ub[i] {
				return -1
			}
			return 1
		}
	}
	return len(ua) - len(ub)
}
