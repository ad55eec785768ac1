package envelope

import (
	"encoding"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"strings"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
)

// maxPlainDepth bounds recursion through nested values. Anything deeper is
// replaced with nil.
const maxPlainDepth = 64

// omit marks a value that has no JSON representation. It is dropped from
// objects, and becomes nil inside arrays.
type omitValue struct{}

var omit = omitValue{}

var (
	jsonMarshalerType = reflect.TypeFor[json.Marshaler]()
	textMarshalerType = reflect.TypeFor[encoding.TextMarshaler]()
	protoMessageType  = reflect.TypeFor[proto.Message]()
	errorType         = reflect.TypeFor[error]()
)

// ToPlain converts v into plain data: nil, bool, string, int64, uint64,
// float64, []any, or map[string]any.
//
// Protobuf messages are converted via their canonical JSON mapping. Values
// implementing [json.Marshaler] or [encoding.TextMarshaler] are honoured.
// Errors become their message. Functions, channels, complex numbers, NaN
// and infinities have no representation: they are dropped from maps and
// structs, and become nil elsewhere. Cycles and values nested deeper than
// an internal limit become nil. ToPlain never panics.
func ToPlain(v any) (out any) {
	defer func() {
		if r := recover(); r != nil {
			out = nil
		}
	}()
	c := plainConverter{active: make(map[uintptr]struct{})}
	out = c.convert(reflect.ValueOf(v), 0)
	if out == omit {
		out = nil
	}
	return out
}

type plainConverter struct {
	active map[uintptr]struct{}
}

func (c *plainConverter) convert(v reflect.Value, depth int) any {
	if !v.IsValid() {
		return nil
	}
	if depth > maxPlainDepth {
		return nil
	}

	if v.Kind() == reflect.Interface {
		if v.IsNil() {
			return nil
		}
		return c.convert(v.Elem(), depth)
	}

	if v.Kind() == reflect.Pointer && v.IsNil() {
		return nil
	}

	if out, ok := c.convertKnown(v); ok {
		return out
	}

	switch v.Kind() {
	case reflect.Bool:
		return v.Bool()
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return v.Int()
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return v.Uint()
	case reflect.Float32, reflect.Float64:
		f := v.Float()
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return nil
		}
		return f
	case reflect.String:
		return v.String()
	case reflect.Pointer:
		if !c.enter(v.Pointer()) {
			return nil
		}
		defer c.leave(v.Pointer())
		return c.convert(v.Elem(), depth+1)
	case reflect.Slice:
		if v.IsNil() {
			return nil
		}
		if v.Type().Elem().Kind() == reflect.Uint8 {
			return base64.StdEncoding.EncodeToString(v.Bytes())
		}
		if v.Len() > 0 {
			if !c.enter(v.Pointer()) {
				return nil
			}
			defer c.leave(v.Pointer())
		}
		return c.convertList(v, depth)
	case reflect.Array:
		return c.convertList(v, depth)
	case reflect.Map:
		if v.IsNil() {
			return nil
		}
		if !c.enter(v.Pointer()) {
			return nil
		}
		defer c.leave(v.Pointer())
		return c.convertMap(v, depth)
	case reflect.Struct:
		return c.convertStruct(v, depth)
	default:
		// func, chan, complex, unsafe pointer
		return omit
	}
}

// convertKnown handles values with their own encoding.
func (c *plainConverter) convertKnown(v reflect.Value) (any, bool) {
	if !v.CanInterface() {
		return nil, false
	}
	t := v.Type()
	switch {
	case t.Implements(protoMessageType):
		msg := v.Interface().(proto.Message)
		b, err := protojson.Marshal(msg)
		if err != nil {
			return nil, true
		}
		return decodePlain(b), true
	case t.Implements(jsonMarshalerType):
		b, err := v.Interface().(json.Marshaler).MarshalJSON()
		if err != nil {
			return nil, true
		}
		return decodePlain(b), true
	case t.Implements(textMarshalerType):
		b, err := v.Interface().(encoding.TextMarshaler).MarshalText()
		if err != nil {
			return nil, true
		}
		return string(b), true
	case t.Implements(errorType):
		return v.Interface().(error).Error(), true
	}
	return nil, false
}

func (c *plainConverter) convertList(v reflect.Value, depth int) []any {
	out := make([]any, v.Len())
	for i := range out {
		elem := c.convert(v.Index(i), depth+1)
		if elem == omit {
			elem = nil
		}
		out[i] = elem
	}
	return out
}

func (c *plainConverter) convertMap(v reflect.Value, depth int) map[string]any {
	out := make(map[string]any, v.Len())
	iter := v.MapRange()
	for iter.Next() {
		key, ok := mapKey(iter.Key())
		if !ok {
			continue
		}
		elem := c.convert(iter.Value(), depth+1)
		if elem == omit {
			continue
		}
		out[key] = elem
	}
	return out
}

func (c *plainConverter) convertStruct(v reflect.Value, depth int) map[string]any {
	out := make(map[string]any)
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		if !field.IsExported() {
			continue
		}
		name, omitEmpty, skip := jsonFieldName(field)
		if skip {
			continue
		}
		fv := v.Field(i)
		if field.Anonymous && name == "" {
			if fv.Kind() == reflect.Pointer {
				if fv.IsNil() {
					continue
				}
				fv = fv.Elem()
			}
			if fv.Kind() == reflect.Struct {
				for k, e := range c.convertStruct(fv, depth+1) {
					if _, exists := out[k]; !exists {
						out[k] = e
					}
				}
				continue
			}
		}
		if name == "" {
			name = field.Name
		}
		if omitEmpty && fv.IsZero() {
			continue
		}
		elem := c.convert(fv, depth+1)
		if elem == omit {
			continue
		}
		out[name] = elem
	}
	return out
}

func (c *plainConverter) enter(ptr uintptr) bool {
	if _, ok := c.active[ptr]; ok {
		return false
	}
	c.active[ptr] = struct{}{}
	return true
}

func (c *plainConverter) leave(ptr uintptr) {
	delete(c.active, ptr)
}

func jsonFieldName(field reflect.StructField) (name string, omitEmpty, skip bool) {
	tag, ok := field.Tag.Lookup("json")
	if !ok {
		return "", false, false
	}
	if tag == "-" {
		return "", false, true
	}
	name, opts, _ := strings.Cut(tag, ",")
	for opts != "" {
		var opt string
		opt, opts, _ = strings.Cut(opts, ",")
		if opt == "omitempty" || opt == "omitzero" {
			omitEmpty = true
		}
	}
	return name, omitEmpty, false
}

func mapKey(k reflect.Value) (string, bool) {
	if k.Kind() == reflect.Interface {
		if k.IsNil() {
			return "", false
		}
		k = k.Elem()
	}
	switch k.Kind() {
	case reflect.String:
		return k.String(), true
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr,
		reflect.Bool:
		return fmt.Sprint(k.Interface()), true
	}
	if k.CanInterface() {
		if tm, ok := k.Interface().(encoding.TextMarshaler); ok {
			b, err := tm.MarshalText()
			if err != nil {
				return "", false
			}
			return string(b), true
		}
	}
	return "", false
}

func decodePlain(b []byte) any {
	var out any
	if err := json.Unmarshal(b, &out); err != nil {
		return nil
	}
	return out
}
