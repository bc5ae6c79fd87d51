package telemetry

import (
	"math"
	"reflect"

	"github.com/stoewer/go-strcase"
)

// Fields copies the exported fields of a decoded MAVLink message into a map
// keyed by snake_case field name. Enums become their numeric value and fixed
// arrays become lists. Non-finite floats become nil.
func Fields(msg any) map[string]any {
	v := reflect.ValueOf(msg)
	for v.Kind() == reflect.Pointer {
		if v.IsNil() {
			return map[string]any{}
		}
		v = v.Elem()
	}
	if v.Kind() != reflect.Struct {
		return map[string]any{}
	}

	t := v.Type()
	out := make(map[string]any, t.NumField())
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if !f.IsExported() {
			continue
		}
		if value, ok := plain(v.Field(i)); ok {
			out[strcase.SnakeCase(f.Name)] = value
		}
	}
	return out
}

// plain converts v to a type every payload encoder accepts.
func plain(v reflect.Value) (any, bool) {
	switch v.Kind() {
	case reflect.Bool:
		return v.Bool(), true
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return v.Int(), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return v.Uint(), true
	case reflect.Float32, reflect.Float64:
		// Unavailable MAVLink readings are NaN, which JSON cannot carry.
		f := v.Float()
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return nil, true
		}
		return f, true
	case reflect.String:
		return v.String(), true
	case reflect.Array, reflect.Slice:
		list := make([]any, 0, v.Len())
		for i := 0; i < v.Len(); i++ {
			if item, ok := plain(v.Index(i)); ok {
				list = append(list, item)
			}
		}
		return list, true
	default:
		return nil, false
	}
}
