package internal

import (
	"reflect"
	"strconv"
)

// Param returns the named route parameter converted to T, or the zero value.
//
//	id := trellis.Param[int](c, "id")
func Param[T ~string | ~int | ~int64 | ~float64 | ~bool](c *Controller, name string) T {
	v, _ := convertParam[T](c.Param(name))
	return v
}

// Query returns the query value converted to T, or the zero value.
func Query[T ~string | ~int | ~int64 | ~float64 | ~bool](c *Controller, name string) T {
	v, _ := convertParam[T](c.Request().Query().Get(name))
	return v
}

// QueryDefault returns the query value converted to T, or defaultValue when
// it is empty or does not parse.
func QueryDefault[T ~string | ~int | ~int64 | ~float64 | ~bool](c *Controller, name string, defaultValue T) T {
	raw := c.Request().Query().Get(name)
	if raw == "" {
		return defaultValue
	}
	v, ok := convertParam[T](raw)
	if !ok {
		return defaultValue
	}
	return v
}

// convertParam converts a raw string to T. Named types convert through
// their underlying kind.
func convertParam[T ~string | ~int | ~int64 | ~float64 | ~bool](raw string) (T, bool) {
	var zero T
	v := reflect.ValueOf(&zero).Elem()
	switch v.Kind() {
	case reflect.String:
		v.SetString(raw)
	case reflect.Int, reflect.Int64:
		n, err := strconv.ParseInt(raw, 10, v.Type().Bits())
		if err != nil {
			return zero, false
		}
		v.SetInt(n)
	case reflect.Float64:
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return zero, false
		}
		v.SetFloat(f)
	case reflect.Bool:
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return zero, false
		}
		v.SetBool(b)
	default:
		return zero, false
	}
	return zero, true
}
