package flags

import (
	"encoding/json"
	"fmt"
	"reflect"
)

// Value codec shared by the handle and the registry's bulk paths. An
// attribute slot only holds scalars, so structured values travel as JSON
// text and everything else passes through untouched.

// IsStructured reports whether v is a mapping or sequence value that must
// be encoded to text before it can live in an attribute slot.
func IsStructured(v any) bool {
	if v == nil {
		return false
	}
	switch reflect.TypeOf(v).Kind() {
	case reflect.Map, reflect.Slice, reflect.Array:
		return true
	default:
		return false
	}
}

// Encode maps a logical flag value to its stored form: structured values
// become JSON text, scalars pass through unchanged.
func Encode(v any) (any, error) {
	if !IsStructured(v) {
		return v, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode flag value: %w", err)
	}
	return string(data), nil
}

// Decode maps a stored value back to its logical form. A string whose
// first byte is '{' or '[' is treated as encoded structured data and
// JSON-decoded; on malformed input the raw string is returned as-is.
//
// The heuristic cannot tell a literal string that merely looks like JSON
// from an encoded structured value: a string that happens to parse is
// silently reinterpreted as structured data. Known limitation, kept
// deliberately.
func Decode(stored any) any {
	s, ok := stored.(string)
	if !ok || !looksEncoded(s) {
		return stored
	}

	var v any
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return stored
	}
	return v
}

func looksEncoded(s string) bool {
	return len(s) > 0 && (s[0] == '{' || s[0] == '[')
}

// decodeWithDefault is the defensive decode used by get-or-create: when the
// caller's default is structured, a stored string that fails to decode
// yields the default instead of leaking the raw text to a caller expecting
// structured data.
func decodeWithDefault(stored, def any) any {
	if IsStructured(def) {
		s, ok := stored.(string)
		if !ok {
			return stored
		}
		var v any
		if err := json.Unmarshal([]byte(s), &v); err != nil {
			return def
		}
		return v
	}
	return Decode(stored)
}
