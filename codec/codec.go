// Package codec centralizes key and item encoding for persisted pages.
//
// The codec name is recorded in the index descriptor. Reopening a store adopts
// the recorded codec; a name ByName does not know makes the store unreadable.
package codec

import (
	"fmt"
	"reflect"
)

// Codec encodes/decodes values.
// Implementations must be safe for concurrent use.
type Codec interface {
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
	Name() string
}

// ByName returns a built-in codec by its stable name.
func ByName(name string) (Codec, bool) {
	switch name {
	case "json":
		return JSON{}, true
	case "go-json":
		return GoJSON{}, true
	default:
		return nil, false
	}
}

// Encode marshals v with c, falling back to Default when c is nil.
func Encode[T any](c Codec, v T) ([]byte, error) {
	if c == nil {
		c = Default
	}
	b, err := c.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("codec %s: marshal %T: %w", c.Name(), v, err)
	}
	return b, nil
}

// Decode unmarshals data into a fresh T.
func Decode[T any](c Codec, data []byte) (T, error) {
	if c == nil {
		c = Default
	}
	var v T
	if err := c.Unmarshal(data, &v); err != nil {
		return v, fmt.Errorf("codec %s: unmarshal %T: %w", c.Name(), v, err)
	}
	return v, nil
}

// EncodeField encodes a page field. String-kinded values are stored as their
// raw bytes so keys that are not valid UTF-8 survive a round trip unchanged;
// everything else goes through c.
func EncodeField[T any](c Codec, v T) ([]byte, error) {
	if s, ok := any(v).(string); ok {
		return []byte(s), nil
	}
	if rv := reflect.ValueOf(&v).Elem(); rv.Kind() == reflect.String {
		return []byte(rv.String()), nil
	}
	return Encode(c, v)
}

// DecodeField reverses EncodeField.
func DecodeField[T any](c Codec, data []byte) (T, error) {
	var v T
	if p, ok := any(&v).(*string); ok {
		*p = string(data)
		return v, nil
	}
	if rv := reflect.ValueOf(&v).Elem(); rv.Kind() == reflect.String {
		rv.SetString(string(data))
		return v, nil
	}
	return Decode[T](c, data)
}
