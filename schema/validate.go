package schema

import (
	"encoding/json"
	"fmt"
	"maps"
	"math"
	"reflect"
	"slices"
	"strings"
	"unicode/utf8"

	"github.com/invopop/jsonschema"
)

// ValidationError describes why a value does not match a schema.
// Field is a dotted path ("a.b", "list[2]"); empty means the value itself.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return fmt.Sprintf("%q %s", e.Field, e.Reason)
}

// ParseObjectSchema parses a configuration schema document.
//
// Only a restricted subset is accepted: the root must describe an object, and
// additionalProperties may only be omitted or false. Unknown properties are
// always rejected by ValidateObject, whichever of the two is used.
func ParseObjectSchema(data []byte) (*jsonschema.Schema, error) {
	if len(data) == 0 {
		return &jsonschema.Schema{Type: "object"}, nil
	}
	var s jsonschema.Schema
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parsing schema: %w", err)
	}
	if err := checkObjectSchema(&s, ""); err != nil {
		return nil, err
	}
	return &s, nil
}

func checkObjectSchema(s *jsonschema.Schema, path string) error {
	if s.Type != "" && s.Type != "object" {
		return fmt.Errorf("schema%s: type must be \"object\", got %q", at(path), s.Type)
	}
	if s.AdditionalProperties != nil && !IsFalse(s.AdditionalProperties) {
		return fmt.Errorf("schema%s: additionalProperties must be false", at(path))
	}
	if s.Properties == nil {
		return nil
	}
	for pair := s.Properties.Oldest(); pair != nil; pair = pair.Next() {
		if pair.Value == nil {
			continue
		}
		if pair.Value.Type == "object" {
			if err := checkObjectSchema(pair.Value, join(path, pair.Key)); err != nil {
				return err
			}
		}
	}
	return nil
}

// IsFalse reports whether s is the boolean schema false.
func IsFalse(s *jsonschema.Schema) bool {
	if s == nil {
		return false
	}
	b, err := json.Marshal(s)
	return err == nil && string(b) == "false"
}

// ValidateObject validates value against an object schema and returns a
// normalized copy with defaults applied for missing properties.
// A nil value is treated as an empty object.
func ValidateObject(s *jsonschema.Schema, value any) (map[string]any, error) {
	if value == nil {
		value = map[string]any{}
	}
	obj, ok := asObject(value)
	if !ok {
		return nil, &ValidationError{Reason: fmt.Sprintf("must be an object, got %s", kindOf(value))}
	}
	if s == nil {
		s = &jsonschema.Schema{Type: "object"}
	}
	return validateObject(s, obj, "")
}

func validateObject(s *jsonschema.Schema, obj map[string]any, path string) (map[string]any, error) {
	for _, key := range slices.Sorted(maps.Keys(obj)) {
		if _, ok := property(s, key); !ok {
			return nil, &ValidationError{Field: join(path, key), Reason: "is not allowed (unknown property)"}
		}
	}
	for _, name := range s.Required {
		if _, ok := obj[name]; !ok {
			return nil, &ValidationError{Field: join(path, name), Reason: "is required"}
		}
	}

	out := make(map[string]any, len(obj))
	if s.Properties == nil {
		return out, nil
	}
	for pair := s.Properties.Oldest(); pair != nil; pair = pair.Next() {
		v, ok := obj[pair.Key]
		if !ok {
			if pair.Value != nil && pair.Value.Default != nil {
				out[pair.Key] = cloneValue(pair.Value.Default)
			}
			continue
		}
		nv, err := validateValue(pair.Value, v, join(path, pair.Key))
		if err != nil {
			return nil, err
		}
		out[pair.Key] = nv
	}
	return out, nil
}

func validateValue(s *jsonschema.Schema, v any, path string) (any, error) {
	if s == nil {
		return v, nil
	}
	if len(s.Enum) > 0 && !inEnum(s.Enum, v) {
		return nil, &ValidationError{Field: path, Reason: fmt.Sprintf("must be one of %v", s.Enum)}
	}

	switch s.Type {
	case "":
		return v, nil
	case "string":
		str, ok := v.(string)
		if !ok {
			return nil, typeError(path, s.Type, v)
		}
		n := uint64(utf8.RuneCountInString(str))
		if s.MinLength != nil && n < *s.MinLength {
			return nil, &ValidationError{Field: path, Reason: fmt.Sprintf("must be at least %d characters", *s.MinLength)}
		}
		if s.MaxLength != nil && n > *s.MaxLength {
			return nil, &ValidationError{Field: path, Reason: fmt.Sprintf("must be at most %d characters", *s.MaxLength)}
		}
	case "boolean":
		if _, ok := v.(bool); !ok {
			return nil, typeError(path, s.Type, v)
		}
	case "number":
		f, ok := toFloat(v)
		if !ok {
			return nil, typeError(path, s.Type, v)
		}
		if err := checkRange(s, f, path); err != nil {
			return nil, err
		}
	case "integer":
		f, ok := toFloat(v)
		if !ok || f != math.Trunc(f) {
			return nil, typeError(path, s.Type, v)
		}
		if err := checkRange(s, f, path); err != nil {
			return nil, err
		}
	case "null":
		if v != nil {
			return nil, typeError(path, s.Type, v)
		}
	case "array":
		rv := reflect.ValueOf(v)
		if v == nil || rv.Kind() != reflect.Slice {
			return nil, typeError(path, s.Type, v)
		}
		items := make([]any, rv.Len())
		for i := range items {
			item, err := validateValue(s.Items, rv.Index(i).Interface(), fmt.Sprintf("%s[%d]", path, i))
			if err != nil {
				return nil, err
			}
			items[i] = item
		}
		return items, nil
	case "object":
		obj, ok := asObject(v)
		if !ok {
			return nil, typeError(path, s.Type, v)
		}
		return validateObject(s, obj, path)
	default:
		return nil, &ValidationError{Field: path, Reason: fmt.Sprintf("has unsupported schema type %q", s.Type)}
	}
	return v, nil
}

// cloneValue copies maps and slices so callers can modify a default without
// changing the schema it came from.
func cloneValue(v any) any {
	switch x := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, e := range x {
			out[k] = cloneValue(e)
		}
		return out
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = cloneValue(e)
		}
		return out
	}
	return v
}

func checkRange(s *jsonschema.Schema, f float64, path string) error {
	if s.Minimum != "" {
		if lo, err := s.Minimum.Float64(); err == nil && f < lo {
			return &ValidationError{Field: path, Reason: fmt.Sprintf("must be >= %s", s.Minimum)}
		}
	}
	if s.Maximum != "" {
		if hi, err := s.Maximum.Float64(); err == nil && f > hi {
			return &ValidationError{Field: path, Reason: fmt.Sprintf("must be <= %s", s.Maximum)}
		}
	}
	return nil
}

func property(s *jsonschema.Schema, name string) (*jsonschema.Schema, bool) {
	if s.Properties == nil {
		return nil, false
	}
	return s.Properties.Get(name)
}

func asObject(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case map[any]any:
		out := make(map[string]any, len(m))
		for k, val := range m {
			ks, ok := k.(string)
			if !ok {
				return nil, false
			}
			out[ks] = val
		}
		return out, true
	}
	return nil, false
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case float64:
		return n, true
	case float32:
		return float64(n), true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(rv.Int()), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return float64(rv.Uint()), true
	}
	return 0, false
}

func inEnum(enum []any, v any) bool {
	vf, vNum := toFloat(v)
	for _, e := range enum {
		if ef, ok := toFloat(e); ok && vNum {
			if ef == vf {
				return true
			}
			continue
		}
		if reflect.DeepEqual(e, v) {
			return true
		}
	}
	return false
}

func typeError(path, want string, v any) error {
	return &ValidationError{Field: path, Reason: fmt.Sprintf("must be %s, got %s", want, kindOf(v))}
}

func kindOf(v any) string {
	if v == nil {
		return "null"
	}
	switch v.(type) {
	case string:
		return "string"
	case bool:
		return "boolean"
	}
	if _, ok := toFloat(v); ok {
		return "number"
	}
	if _, ok := asObject(v); ok {
		return "object"
	}
	if reflect.ValueOf(v).Kind() == reflect.Slice {
		return "array"
	}
	return fmt.Sprintf("%T", v)
}

func join(path, key string) string {
	if path == "" {
		return key
	}
	return path + "." + key
}

func at(path string) string {
	if path == "" {
		return ""
	}
	return " at " + strings.TrimSpace(path)
}
