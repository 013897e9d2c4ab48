package ir

import (
	"fmt"
	"strconv"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

// MarshalCanonical encodes v in RFC 8785 canonical JSON. Dispatch keys and
// rule ids hash this encoding and nothing else.
//
// Accepted: Value, string, int, int64, Inputs and map[string]string. Object
// keys sort by UTF-16 code units, strings are NFC-normalized and escaped
// minimally (no HTML escaping). Null and floats are rejected.
func MarshalCanonical(v any) ([]byte, error) {
	return appendCanonical(nil, v)
}

func appendCanonical(dst []byte, v any) ([]byte, error) {
	switch val := v.(type) {
	case IRString:
		return appendCanonicalString(dst, string(val)), nil
	case string:
		return appendCanonicalString(dst, val), nil
	case IRInt:
		return strconv.AppendInt(dst, int64(val), 10), nil
	case int64:
		return strconv.AppendInt(dst, val, 10), nil
	case int:
		return strconv.AppendInt(dst, int64(val), 10), nil
	case Inputs:
		return appendCanonicalObject(dst, sortedKeys(val), func(k string) any { return val[k] })
	case map[string]string:
		return appendCanonicalObject(dst, sortedKeys(val), func(k string) any { return val[k] })
	case nil:
		return nil, fmt.Errorf("canonical json: null is not allowed")
	case float32, float64:
		return nil, fmt.Errorf("canonical json: float %v is not allowed", val)
	default:
		return nil, fmt.Errorf("canonical json: unsupported type %T", v)
	}
}

func appendCanonicalObject(dst []byte, keys []string, get func(string) any) ([]byte, error) {
	dst = append(dst, '{')
	for i, k := range keys {
		if i > 0 {
			dst = append(dst, ',')
		}
		dst = appendCanonicalString(dst, k)
		dst = append(dst, ':')
		var err error
		if dst, err = appendCanonical(dst, get(k)); err != nil {
			return nil, fmt.Errorf("key %q: %w", k, err)
		}
	}
	return append(dst, '}'), nil
}

// appendCanonicalString escapes only what JSON requires: quote, backslash
// and control characters, with the short forms where JSON has them.
func appendCanonicalString(dst []byte, s string) []byte {
	const hex = "0123456789abcdef"
	s = norm.NFC.String(s)
	dst = append(dst, '"')
	for i := 0; i < len(s); {
		c := s[i]
		if c >= utf8.RuneSelf {
			r, size := utf8.DecodeRuneInString(s[i:])
			if r == utf8.RuneError && size == 1 {
				dst = append(dst, `�`...)
			} else {
				dst = append(dst, s[i:i+size]...)
			}
			i += size
			continue
		}
		switch c {
		case '"', '\\':
			dst = append(dst, '\\', c)
		case '\b':
			dst = append(dst, '\\', 'b')
		case '\f':
			dst = append(dst, '\\', 'f')
		case '\n':
			dst = append(dst, '\\', 'n')
		case '\r':
			dst = append(dst, '\\', 'r')
		case '\t':
			dst = append(dst, '\\', 't')
		default:
			if c < 0x20 {
				dst = append(dst, '\\', 'u', '0', '0', hex[c>>4], hex[c&0xf])
			} else {
				dst = append(dst, c)
			}
		}
		i++
	}
	return append(dst, '"')
}
