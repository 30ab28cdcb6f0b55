package log

import "time"

// Field is a single structured log field.
type Field struct {
	Key   string
	Value interface{}
}

// F creates a field from a key and an arbitrary value.
func F(key string, value interface{}) Field { return Field{Key: key, Value: value} }

// Str creates a string field.
func Str(key, value string) Field { return Field{Key: key, Value: value} }

// Int creates an int field.
func Int(key string, value int) Field { return Field{Key: key, Value: value} }

// Int64 creates an int64 field.
func Int64(key string, value int64) Field { return Field{Key: key, Value: value} }

// Bool creates a bool field.
func Bool(key string, value bool) Field { return Field{Key: key, Value: value} }

// Dur creates a duration field rendered in its native string form.
func Dur(key string, value time.Duration) Field { return Field{Key: key, Value: value.String()} }

// Err creates an "error" field; nil errors render as empty.
func Err(err error) Field {
	if err == nil {
		return Field{Key: "error", Value: ""}
	}
	return Field{Key: "error", Value: err.Error()}
}

// Component tags logs with the emitting component name.
func Component(name string) Field { return Field{Key: "component", Value: name} }
