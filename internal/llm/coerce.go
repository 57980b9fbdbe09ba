package llm

import (
	"reflect"
	"strings"
)

// IsNull reports whether a model-provided value means "not present".
func IsNull(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "null", "none", "n/a", "nil", "unknown":
		return true
	default:
		return false
	}
}

// nullStringHook turns literal "null"-like strings into empty values before decoding.
func nullStringHook(from reflect.Type, to reflect.Type, data any) (any, error) {
	if from.Kind() != reflect.String {
		return data, nil
	}
	s, ok := data.(string)
	if !ok || !IsNull(s) {
		return data, nil
	}

	if to.Kind() == reflect.Interface {
		return nil, nil
	}
	return reflect.Zero(to).Interface(), nil
}
