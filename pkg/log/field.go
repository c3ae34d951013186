package log

import "time"

// Field is a single structured key/value pair.
type Field struct {
	Key   string
	Value interface{}
}

func Str(key, value string) Field               { return Field{Key: key, Value: value} }
func Int(key string, value int) Field           { return Field{Key: key, Value: value} }
func Int64(key string, value int64) Field       { return Field{Key: key, Value: value} }
func Uint64(key string, value uint64) Field     { return Field{Key: key, Value: value} }
func Uint32(key string, value uint32) Field     { return Field{Key: key, Value: value} }
func Bool(key string, value bool) Field         { return Field{Key: key, Value: value} }
func Dur(key string, value time.Duration) Field { return Field{Key: key, Value: value.String()} }
func Any(key string, value interface{}) Field   { return Field{Key: key, Value: value} }
func Component(name string) Field               { return Field{Key: ComponentKey, Value: name} }
func Stringer(key string, v interface{ String() string }) Field {
	return Field{Key: key, Value: v.String()}
}

// Err attaches an error under the "error" key. A nil error yields an empty value.
func Err(err error) Field {
	if err == nil {
		return Field{Key: "error", Value: nil}
	}
	return Field{Key: "error", Value: err.Error()}
}
