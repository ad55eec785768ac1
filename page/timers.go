package page

import (
	"github.com/dop251/goja"
	eventloop "github.com/joeycumines/go-eventloop"
)

// timers binds setTimeout, setInterval, their clear functions and
// queueMicrotask, scheduled on the page loop.
type timers struct {
	page *Page
	js   *eventloop.JS
}

func newTimers(p *Page, loop *eventloop.Loop) (*timers, error) {
	js, err := eventloop.NewJS(loop)
	if err != nil {
		return nil, err
	}
	return &timers{page: p, js: js}, nil
}

func (x *timers) bind(global *goja.Object) error {
	for name, fn := range map[string]func(goja.FunctionCall) goja.Value{
		"setTimeout":     x.setTimeout,
		"clearTimeout":   x.clearTimeout,
		"setInterval":    x.setInterval,
		"clearInterval":  x.clearInterval,
		"queueMicrotask": x.queueMicrotask,
	} {
		if err := global.Set(name, fn); err != nil {
			return err
		}
	}
	return nil
}

// callback asserts that the first argument is a function, returning a task
// that calls it with any extra arguments. Exceptions are logged.
func (x *timers) callback(name string, call goja.FunctionCall, extra int) func() {
	rt := x.page.runtime
	fn, ok := goja.AssertFunction(call.Argument(0))
	if !ok {
		panic(rt.NewTypeError(name + " requires a function as first argument"))
	}
	var args []goja.Value
	if len(call.Arguments) > extra {
		args = append(args, call.Arguments[extra:]...)
	}
	return func() {
		if _, err := fn(goja.Undefined(), args...); err != nil {
			x.page.logger.Err().Err(err).Str("timer", name).Log("page: timer callback threw")
		}
	}
}

// delay is the delay argument in milliseconds. Negative and non-numeric
// delays are treated as zero.
func delay(v goja.Value) int {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return 0
	}
	ms := v.ToInteger()
	if ms < 0 {
		return 0
	}
	return int(ms)
}

func (x *timers) setTimeout(call goja.FunctionCall) goja.Value {
	task := x.callback("setTimeout", call, 2)
	id, err := x.js.SetTimeout(task, delay(call.Argument(1)))
	if err != nil {
		panic(x.page.runtime.NewGoError(err))
	}
	return x.page.runtime.ToValue(id)
}

func (x *timers) clearTimeout(call goja.FunctionCall) goja.Value {
	if id := call.Argument(0).ToInteger(); id > 0 {
		// unknown or already fired
		_ = x.js.ClearTimeout(uint64(id))
	}
	return goja.Undefined()
}

func (x *timers) setInterval(call goja.FunctionCall) goja.Value {
	task := x.callback("setInterval", call, 2)
	id, err := x.js.SetInterval(task, delay(call.Argument(1)))
	if err != nil {
		panic(x.page.runtime.NewGoError(err))
	}
	return x.page.runtime.ToValue(id)
}

func (x *timers) clearInterval(call goja.FunctionCall) goja.Value {
	if id := call.Argument(0).ToInteger(); id > 0 {
		_ = x.js.ClearInterval(uint64(id))
	}
	return goja.Undefined()
}

func (x *timers) queueMicrotask(call goja.FunctionCall) goja.Value {
	if err := x.js.QueueMicrotask(x.callback("queueMicrotask", call, len(call.Arguments))); err != nil {
		panic(x.page.runtime.NewGoError(err))
	}
	return goja.Undefined()
}
