package page

import (
	"math"
	"math/big"
	"reflect"
	"strconv"

	"github.com/dop251/goja"
	"github.com/joeycumines/grpcweb-devtools/envelope"
)

// maxExportDepth bounds the nesting of exported values.
const maxExportDepth = 64

var (
	typeMap   = reflect.TypeOf(map[string]any(nil))
	typeArray = reflect.TypeOf([]any(nil))
)

// Export converts a JavaScript value into plain data, with the semantics of
// JSON.stringify followed by JSON.parse, except that it never throws:
//
//   - an object with a callable toObject() (grpc-web generated messages) is
//     exported as the result of that call, otherwise toJSON() is honoured
//   - functions and symbols are omitted from objects, and null in arrays
//   - NaN and ±Infinity become null, and BigInt a decimal string
//   - cycles, excessive depth, and properties whose getter throws become null
//   - Go values wrapped by the runtime (such as proto messages) go through
//     [envelope.ToPlain]
//
// A top-level undefined, function or symbol exports as nil. Export must be
// called on the loop goroutine that owns rt.
func Export(rt *goja.Runtime, v goja.Value) any {
	x := exporter{rt: rt, active: make(map[*goja.Object]struct{})}
	out, ok := x.value(v, 0, true)
	if !ok {
		return nil
	}
	return out
}

type exporter struct {
	rt     *goja.Runtime
	active map[*goja.Object]struct{}
}

// value converts v, reporting false if it should be omitted from an
// enclosing object.
func (x *exporter) value(v goja.Value, depth int, hooks bool) (out any, ok bool) {
	if v == nil || goja.IsUndefined(v) {
		return nil, false
	}
	if goja.IsNull(v) {
		return nil, true
	}
	obj, isObject := v.(*goja.Object)
	if !isObject {
		return x.primitive(v)
	}
	if _, isFunc := goja.AssertFunction(obj); isFunc {
		return nil, false
	}
	if depth >= maxExportDepth {
		return nil, true
	}
	if _, seen := x.active[obj]; seen {
		return nil, true
	}
	x.active[obj] = struct{}{}
	defer delete(x.active, obj)

	if hooks {
		for _, name := range [...]string{"toObject", "toJSON"} {
			if result, called, failed := x.callMethod(obj, name); failed {
				return nil, true
			} else if called {
				return x.value(result, depth+1, false)
			}
		}
	}

	switch et := obj.ExportType(); {
	case et == typeArray:
		return x.array(obj, depth), true
	case et == typeMap, et == nil:
		return x.object(obj, depth), true
	case et.Kind() == reflect.Func:
		return nil, false
	default:
		return x.goValue(obj), true
	}
}

func (x *exporter) primitive(v goja.Value) (any, bool) {
	if _, isSymbol := v.(*goja.Symbol); isSymbol {
		return nil, false
	}
	switch val := v.Export().(type) {
	case float64:
		if math.IsNaN(val) || math.IsInf(val, 0) {
			return nil, true
		}
		return val, true
	case int64:
		return float64(val), true
	case *big.Int:
		return val.String(), true
	case string, bool:
		return val, true
	default:
		return nil, true
	}
}

// callMethod calls obj[name]() if it is callable. It reports whether it was
// called, and whether the lookup or the call threw.
func (x *exporter) callMethod(obj *goja.Object, name string) (result goja.Value, called, failed bool) {
	var prop goja.Value
	if ex := x.rt.Try(func() { prop = obj.Get(name) }); ex != nil {
		return nil, false, true
	}
	fn, ok := goja.AssertFunction(prop)
	if !ok {
		return nil, false, false
	}
	result, err := fn(obj)
	if err != nil {
		return nil, true, true
	}
	return result, true, false
}

func (x *exporter) array(obj *goja.Object, depth int) []any {
	var length int64
	if ex := x.rt.Try(func() { length = obj.Get("length").ToInteger() }); ex != nil {
		return []any{}
	}
	out := make([]any, 0, length)
	for i := int64(0); i < length; i++ {
		var elem goja.Value
		if ex := x.rt.Try(func() { elem = obj.Get(strconv.FormatInt(i, 10)) }); ex != nil {
			out = append(out, nil)
			continue
		}
		v, ok := x.value(elem, depth+1, true)
		if !ok {
			v = nil
		}
		out = append(out, v)
	}
	return out
}

func (x *exporter) object(obj *goja.Object, depth int) map[string]any {
	var keys []string
	if ex := x.rt.Try(func() { keys = obj.Keys() }); ex != nil {
		return map[string]any{}
	}
	out := make(map[string]any, len(keys))
	for _, key := range keys {
		var prop goja.Value
		if ex := x.rt.Try(func() { prop = obj.Get(key) }); ex != nil {
			out[key] = nil
			continue
		}
		if v, ok := x.value(prop, depth+1, true); ok {
			out[key] = v
		}
	}
	return out
}

func (x *exporter) goValue(obj *goja.Object) (out any) {
	defer func() {
		if r := recover(); r != nil {
			out = nil
		}
	}()
	return envelope.ToPlain(obj.Export())
}
