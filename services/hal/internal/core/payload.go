package core

import (
	"rangenode-go/errcode"
	"rangenode-go/x/jsonx"
)

// As asserts a payload to the concrete value type T.
// Pointers are not accepted. A nil payload is treated as the zero value of T.
func As[T any](v any) (T, errcode.Code) {
	var zero T
	if v == nil {
		return zero, ""
	}
	t, ok := v.(T)
	if !ok {
		return zero, errcode.InvalidPayload
	}
	return t, ""
}

// Decode asserts a typed payload, falling back to a JSON round trip for the
// map-shaped payloads the config service publishes.
func Decode[T any](v any) (T, errcode.Code) {
	if t, code := As[T](v); code == "" {
		return t, ""
	}
	var out T
	if err := jsonx.Decode(v, &out); err != nil {
		var zero T
		return zero, errcode.InvalidPayload
	}
	return out, ""
}
