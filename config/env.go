package config

import (
	"encoding"
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"
)

var (
	durationType        = reflect.TypeFor[time.Duration]()
	textUnmarshalerType = reflect.TypeFor[encoding.TextUnmarshaler]()
)

// loadFromEnv overlays every field tagged `env:"NAME"` with the value of
// NAME when it is set and non-empty. Nested structs (including the adapter
// configs) are walked.
func loadFromEnv(cfg *Config) error {
	return overlayEnv(reflect.ValueOf(cfg).Elem())
}

func overlayEnv(v reflect.Value) error {
	t := v.Type()
	for i := range t.NumField() {
		sf := t.Field(i)
		if !sf.IsExported() {
			continue
		}
		fv := v.Field(i)

		name, tagged := sf.Tag.Lookup("env")
		if !tagged {
			if fv.Kind() == reflect.Struct {
				if err := overlayEnv(fv); err != nil {
					return err
				}
			}
			continue
		}

		raw, ok := os.LookupEnv(name)
		if !ok || raw == "" {
			continue
		}
		if err := assign(fv, raw); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	return nil
}

// assign parses raw into dst. Durations use time.ParseDuration, slices are
// comma separated and maps take k=v pairs.
func assign(dst reflect.Value, raw string) error {
	if reflect.PointerTo(dst.Type()).Implements(textUnmarshalerType) {
		return dst.Addr().Interface().(encoding.TextUnmarshaler).UnmarshalText([]byte(raw))
	}
	if dst.Type() == durationType {
		d, err := time.ParseDuration(raw)
		if err != nil {
			return fmt.Errorf("invalid duration %q", raw)
		}
		dst.SetInt(int64(d))
		return nil
	}

	switch dst.Kind() {
	case reflect.String:
		dst.SetString(raw)
	case reflect.Bool:
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return fmt.Errorf("invalid boolean %q", raw)
		}
		dst.SetBool(b)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n, err := strconv.ParseInt(raw, 10, dst.Type().Bits())
		if err != nil {
			return fmt.Errorf("invalid integer %q", raw)
		}
		dst.SetInt(n)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		n, err := strconv.ParseUint(raw, 10, dst.Type().Bits())
		if err != nil {
			return fmt.Errorf("invalid unsigned integer %q", raw)
		}
		dst.SetUint(n)
	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(raw, dst.Type().Bits())
		if err != nil {
			return fmt.Errorf("invalid float %q", raw)
		}
		dst.SetFloat(f)
	case reflect.Slice:
		parts := splitList(raw)
		out := reflect.MakeSlice(dst.Type(), len(parts), len(parts))
		for i, p := range parts {
			if err := assign(out.Index(i), p); err != nil {
				return fmt.Errorf("element %d: %w", i, err)
			}
		}
		dst.Set(out)
	case reflect.Map:
		if dst.Type().Key().Kind() != reflect.String {
			return fmt.Errorf("unsupported map key %s", dst.Type().Key())
		}
		out := reflect.MakeMap(dst.Type())
		for _, pair := range splitList(raw) {
			k, val, ok := strings.Cut(pair, "=")
			if !ok {
				return fmt.Errorf("invalid map entry %q, want key=value", pair)
			}
			elem := reflect.New(dst.Type().Elem()).Elem()
			if err := assign(elem, strings.TrimSpace(val)); err != nil {
				return fmt.Errorf("entry %q: %w", k, err)
			}
			out.SetMapIndex(reflect.ValueOf(strings.TrimSpace(k)).Convert(dst.Type().Key()), elem)
		}
		dst.Set(out)
	default:
		return fmt.Errorf("unsupported kind %s", dst.Kind())
	}
	return nil
}

func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
