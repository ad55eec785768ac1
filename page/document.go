package page

import (
	"errors"
	"slices"
	"strconv"
	"strings"

	"github.com/dop251/goja"
)

// ErrNotChild is returned by [Document.RemoveChild] for an element that is
// not currently attached.
var ErrNotChild = errors.New("page: element is not a child of the document")

// ScriptElement is a classic script element.
type ScriptElement struct {
	name     string
	text     string
	executed bool
	obj      *goja.Object
}

// Name returns the script name used in stack traces.
func (s *ScriptElement) Name() string { return s.name }

// Text returns the script source.
func (s *ScriptElement) Text() string { return s.text }

// SetText replaces the script source. It has no effect once the script has
// executed.
func (s *ScriptElement) SetText(text string) { s.text = text }

// Executed reports whether the script has run.
func (s *ScriptElement) Executed() bool { return s.executed }

// Document holds the scripts currently inserted into the page.
type Document struct {
	page     *Page
	children []*ScriptElement
	created  int
}

func newDocument(p *Page) *Document {
	return &Document{page: p}
}

// CreateScript creates a detached script element. An empty name is replaced
// with a generated one.
func (d *Document) CreateScript(name, text string) *ScriptElement {
	d.created++
	if name == "" {
		name = "script-" + strconv.Itoa(d.created)
	}
	return &ScriptElement{name: name, text: text}
}

// AppendChild inserts el into the document. A script executes synchronously
// on its first insertion; a script never executes twice. The returned error
// is the script's compile error or uncaught exception, in which case el is
// still attached. Must be called on the loop goroutine.
func (d *Document) AppendChild(el *ScriptElement) error {
	if el == nil {
		return errors.New("page: nil element")
	}
	if !slices.Contains(d.children, el) {
		d.children = append(d.children, el)
	}
	if el.executed {
		return nil
	}
	el.executed = true
	_, err := d.page.RunString(el.name, el.text)
	return err
}

// RemoveChild detaches el from the document. Removing a script does not undo
// its effects.
func (d *Document) RemoveChild(el *ScriptElement) error {
	i := slices.Index(d.children, el)
	if i < 0 {
		return ErrNotChild
	}
	d.children = slices.Delete(d.children, i, i+1)
	return nil
}

// Scripts returns the scripts currently attached, in insertion order.
func (d *Document) Scripts() []*ScriptElement {
	return slices.Clone(d.children)
}

// elementHolder is stored on the JavaScript element object, linking it to
// its Go element.
type elementHolder struct {
	el *ScriptElement
}

func (d *Document) bind(global *goja.Object) error {
	rt := d.page.runtime
	document := rt.NewObject()

	if err := document.Set("createElement", func(call goja.FunctionCall) goja.Value {
		tag := strings.ToLower(call.Argument(0).String())
		if tag != "script" {
			panic(rt.NewTypeError("page: unsupported element: " + tag))
		}
		return d.elementObject(d.CreateScript("", ""))
	}); err != nil {
		return err
	}

	head := rt.NewObject()
	if err := head.Set("appendChild", func(call goja.FunctionCall) goja.Value {
		el := d.elementFromJS(call.Argument(0))
		if text := el.obj.Get("textContent"); text != nil && !goja.IsUndefined(text) && !goja.IsNull(text) {
			el.SetText(text.String())
		}
		if err := d.AppendChild(el); err != nil {
			// an inline script error is reported, never thrown to the inserter
			d.page.logger.Err().
				Err(err).
				Str("script", el.name).
				Log("page: script error")
		}
		return call.Argument(0)
	}); err != nil {
		return err
	}
	if err := head.Set("removeChild", func(call goja.FunctionCall) goja.Value {
		if err := d.RemoveChild(d.elementFromJS(call.Argument(0))); err != nil {
			panic(rt.NewGoError(err))
		}
		return call.Argument(0)
	}); err != nil {
		return err
	}

	for _, name := range []string{"head", "documentElement", "body"} {
		if err := document.Set(name, head); err != nil {
			return err
		}
	}
	return global.Set("document", document)
}

func (d *Document) elementObject(el *ScriptElement) *goja.Object {
	if el.obj != nil {
		return el.obj
	}
	rt := d.page.runtime
	obj := rt.NewObject()
	_ = obj.Set("tagName", "SCRIPT")
	_ = obj.Set("textContent", el.text)
	_ = obj.DefineDataProperty("_element", rt.ToValue(&elementHolder{el: el}), goja.FLAG_FALSE, goja.FLAG_FALSE, goja.FLAG_FALSE)
	_ = obj.Set("remove", func(goja.FunctionCall) goja.Value {
		_ = d.RemoveChild(el)
		return goja.Undefined()
	})
	el.obj = obj
	return obj
}

func (d *Document) elementFromJS(v goja.Value) *ScriptElement {
	if obj, ok := v.(*goja.Object); ok {
		if v := obj.Get("_element"); v != nil {
			if holder, ok := v.Export().(*elementHolder); ok {
				return holder.el
			}
		}
	}
	panic(d.page.runtime.NewTypeError("page: argument is not an element"))
}
