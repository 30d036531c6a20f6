package log

import "fmt"

// Field is a single structured logging attribute.
type Field struct {
	Key   string
	Value interface{}
}

// Str creates a string field.
func Str(key, value string) Field { return Field{Key: key, Value: value} }

// Int creates an int field.
func Int(key string, value int) Field { return Field{Key: key, Value: value} }

// Int64 creates an int64 field.
func Int64(key string, value int64) Field { return Field{Key: key, Value: value} }

// Uint64 creates a uint64 field.
func Uint64(key string, value uint64) Field { return Field{Key: key, Value: value} }

// Bool creates a bool field.
func Bool(key string, value bool) Field { return Field{Key: key, Value: value} }

// Err creates an error field under the conventional "error" key.
func Err(err error) Field {
	if err == nil {
		return Field{Key: "error", Value: nil}
	}
	return Field{Key: "error", Value: err.Error()}
}

// Component tags a logger/entry with the owning component name.
func Component(name string) Field { return Field{Key: ComponentKey, Value: name} }

// Any creates a field from an arbitrary value, stringifying unknown types.
func Any(key string, value interface{}) Field {
	switch v := value.(type) {
	case string, int, int64, uint64, bool, float64:
		return Field{Key: key, Value: v}
	default:
		return Field{Key: key, Value: fmt.Sprintf("%v", v)}
	}
}
