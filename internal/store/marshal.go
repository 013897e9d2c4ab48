package store

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/roach88/beastmode/internal/ir"
)

// timeLayout keeps sub-second precision and sorts lexically in UTC.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// marshalInputs converts resolved inputs to canonical JSON TEXT for storage.
// Uses RFC 8785 canonical JSON for deterministic serialization, so the same
// inputs always produce the same bytes.
func marshalInputs(inputs ir.Inputs) (string, error) {
	if inputs == nil {
		return "{}", nil
	}
	data, err := ir.MarshalCanonical(inputs)
	if err != nil {
		return "", fmt.Errorf("marshal inputs: %w", err)
	}
	return string(data), nil
}

// unmarshalInputs parses canonical JSON TEXT to Inputs.
// Uses ir.Inputs.UnmarshalJSON which handles large integers via json.Number
// to avoid float64 precision loss for values > 2^53.
func unmarshalInputs(data string) (ir.Inputs, error) {
	if data == "" || data == "{}" {
		return ir.Inputs{}, nil
	}
	var inputs ir.Inputs
	if err := json.Unmarshal([]byte(data), &inputs); err != nil {
		return nil, fmt.Errorf("unmarshal inputs: %w", err)
	}
	return inputs, nil
}

// marshalSlots converts proposal slots to JSON TEXT.
// Uses json.Encoder with HTML escaping disabled so user text is stored as typed.
func marshalSlots(slots []ir.Slot) (string, error) {
	if len(slots) == 0 {
		return "[]", nil
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(slots); err != nil {
		return "", fmt.Errorf("marshal slots: %w", err)
	}
	// Encoder adds a trailing newline, remove it
	return strings.TrimSpace(buf.String()), nil
}

func unmarshalSlots(data string) ([]ir.Slot, error) {
	if data == "" || data == "[]" {
		return nil, nil
	}
	var slots []ir.Slot
	if err := json.Unmarshal([]byte(data), &slots); err != nil {
		return nil, fmt.Errorf("unmarshal slots: %w", err)
	}
	return slots, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse time %q: %w", s, err)
	}
	return t, nil
}
