// Package jsonx decodes the JSON-shaped payloads that travel the bus: raw
// bytes from embedded config, map[string]any from the config service, or
// typed structs from in-process publishers.
package jsonx

import "encoding/json"

// Decode fills dst from raw bytes, a JSON string, or any JSON-shaped value
// via a marshal round trip.
func Decode[T any](src any, dst *T) error {
	switch v := src.(type) {
	case []byte:
		return json.Unmarshal(v, dst)
	case string:
		return json.Unmarshal([]byte(v), dst)
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return err
		}
		return json.Unmarshal(b, dst)
	}
}
