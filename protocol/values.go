package protocol

import (
	"fmt"
	"reflect"
	"time"
)

// NormalizeArgument converts an argument to the form it is packed in.
//
// time.Time values are packed as msgpack timestamps (seconds plus nanoseconds)
// in UTC. Integer enumerations implementing fmt.Stringer are replaced by their
// name. Everything else is returned unchanged.
func NormalizeArgument(v interface{}) interface{} {
	switch t := v.(type) {
	case nil:
		return nil
	case time.Time:
		return t.UTC()
	case *time.Time:
		if t == nil {
			return nil
		}
		return t.UTC()
	case time.Duration:
		return int64(t)
	case fmt.Stringer:
		if isEnum(reflect.TypeOf(v)) {
			return t.String()
		}
	}
	return v
}

func isEnum(t reflect.Type) bool {
	switch t.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return true
	}
	return false
}
