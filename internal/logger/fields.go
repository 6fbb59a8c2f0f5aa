package logger

import (
	"log/slog"
	"time"
)

// Field is a single structured key/value pair.
type Field struct {
	Key   string
	Value any
}

func (f Field) attr() slog.Attr {
	switch v := f.Value.(type) {
	case error:
		return slog.String(f.Key, v.Error())
	case time.Duration:
		return slog.String(f.Key, v.String())
	default:
		return slog.Any(f.Key, v)
	}
}

func String(key, value string) Field             { return Field{Key: key, Value: value} }
func Int(key string, value int) Field            { return Field{Key: key, Value: value} }
func Int64(key string, value int64) Field        { return Field{Key: key, Value: value} }
func Uint64(key string, value uint64) Field      { return Field{Key: key, Value: value} }
func Float64(key string, value float64) Field    { return Field{Key: key, Value: value} }
func Bool(key string, value bool) Field          { return Field{Key: key, Value: value} }
func Duration(key string, d time.Duration) Field { return Field{Key: key, Value: d} }
func Time(key string, t time.Time) Field         { return Field{Key: key, Value: t} }
func Any(key string, value any) Field            { return Field{Key: key, Value: value} }

// Error wraps an error under the "error" key. A nil error is logged as null.
func Error(err error) Field {
	if err == nil {
		return Field{Key: "error", Value: nil}
	}
	return Field{Key: "error", Value: err}
}
