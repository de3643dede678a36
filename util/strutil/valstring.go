package strutil

import (
	"fmt"
	"reflect"
	"strconv"
)

// Vtos converts any numeric or common type value to a string.
func Vtos(value any) (string, error) {
	v := reflect.ValueOf(value)

	if !v.IsValid() {
		return "", fmt.Errorf("invalid value")
	}

	if v.Kind() == reflect.Ptr {
		v = v.Elem()
	}

	switch v.Kind() {
	case reflect.String:
		return v.String(), nil

	case reflect.Float32, reflect.Float64:
		return fmt.Sprintf("%f", v.Float()), nil

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return fmt.Sprintf("%d", v.Int()), nil

	case reflect.Bool:
		return fmt.Sprintf("%v", v.Bool()), nil

	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return fmt.Sprintf("%d", v.Uint()), nil

	default:
		return "", fmt.Errorf("unsupported kind %s", v.Kind())
	}
}

// Stov converts a string to a value of exactly the given type, including
// named types (e.g. a `type TrackID string` field parses like a string but
// comes back as a TrackID). Parse failures and overflow are reported.
func Stov(value string, typ reflect.Type) (any, error) {
	out := reflect.New(typ).Elem()

	switch typ.Kind() {
	case reflect.String:
		out.SetString(value)

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n, err := strconv.ParseInt(value, 10, typ.Bits())
		if err != nil {
			return nil, err
		}
		out.SetInt(n)

	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		n, err := strconv.ParseUint(value, 10, typ.Bits())
		if err != nil {
			return nil, err
		}
		out.SetUint(n)

	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(value, typ.Bits())
		if err != nil {
			return nil, err
		}
		out.SetFloat(f)

	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return nil, err
		}
		out.SetBool(b)

	default:
		return nil, fmt.Errorf("unsupported type %s", typ)
	}

	return out.Interface(), nil
}
