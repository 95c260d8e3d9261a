package sandbox

import (
	"context"
	"net/url"
	"strings"

	"github.com/GriffinCanCode/vsite/internal/resolver"
	"github.com/GriffinCanCode/vsite/internal/shim"
	"github.com/dop251/goja"
	"go.uber.org/zap"
)

// patchedKey marks a jQuery object whose helpers were already replaced.
const patchedKey = "__vsite_patched__"

// bindings installs the shim layer into a VM. Every browser API that would
// need a server is replaced here and nowhere else.
type bindings struct {
	ctx   context.Context
	rt    *Runtime
	vm    *goja.Runtime
	layer *shim.Layer
	log   *zap.Logger
}

func newBindings(ctx context.Context, rt *Runtime, layer *shim.Layer, log *zap.Logger) *bindings {
	return &bindings{ctx: ctx, rt: rt, vm: rt.VM(), layer: layer, log: log}
}

// install defines the replaced globals. They are pinned: bundles ship
// browser-side versions of the same patches in their utility scripts, and
// those assignments must not displace these.
func (b *bindings) install() {
	global := b.vm.GlobalObject()
	pin(b.vm, global, "fetch", b.fetch)
	pin(b.vm, global, "URLSearchParams", b.searchParams)

	history := b.vm.NewObject()
	history.Set("length", 1)
	history.Set("state", goja.Null())
	pin(b.vm, history, "replaceState", func(goja.FunctionCall) goja.Value { return goja.Undefined() })
	history.Set("pushState", func(goja.FunctionCall) goja.Value { return goja.Undefined() })
	history.Set("back", func() {})
	history.Set("forward", func() {})
	history.Set("go", func(goja.FunctionCall) goja.Value { return goja.Undefined() })
	pin(b.vm, global, "history", history)

	pin(b.vm, global, "globalContext", b.context())
}

// context is the read-only view of the navigation state that bundle helper
// scripts (normalizePath and friends) expect as window.globalContext.
func (b *bindings) context() *goja.Object {
	nav := b.layer.Navigation()
	obj := b.vm.NewObject()
	pin(b.vm, obj, "current_path", nav.CurrentPath)
	pin(b.vm, obj, "getParameters", nav.GetParameters)
	pin(b.vm, obj, "anchor", nav.Anchor)
	return obj
}

// pin defines a non-writable, non-configurable property. Plain assignments
// to it are ignored in sloppy code and throw in strict code.
func pin(vm *goja.Runtime, obj *goja.Object, name string, v any) {
	if err := obj.DefineDataProperty(name, vm.ToValue(v), goja.FLAG_FALSE, goja.FLAG_FALSE, goja.FLAG_TRUE); err != nil {
		panic(err)
	}
}

func (b *bindings) fetch(call goja.FunctionCall) goja.Value {
	req := &shim.Request{Method: "GET", Headers: map[string]string{}}

	input := call.Argument(0)
	if obj, ok := input.(*goja.Object); ok && present(obj.Get("url")) {
		req.URL = obj.Get("url").String()
	} else if ok && present(obj.Get("href")) {
		req.URL = obj.Get("href").String()
	} else {
		req.URL = resolver.Coerce(input.Export())
	}

	if init, ok := call.Argument(1).(*goja.Object); ok {
		if m := init.Get("method"); present(m) {
			req.Method = strings.ToUpper(m.String())
		}
		if h, ok := init.Get("headers").(*goja.Object); ok {
			for _, k := range h.Keys() {
				req.Headers[k] = h.Get(k).String()
			}
		}
		if body := init.Get("body"); present(body) {
			req.Body = []byte(body.String())
		}
	}

	promise, resolve, reject := b.vm.NewPromise()
	go func() {
		resp, err := b.layer.Fetch(b.ctx, req)
		b.rt.Post(func() {
			if err != nil {
				reject(b.vm.NewTypeError("Failed to fetch: %v", err))
				return
			}
			resolve(b.response(resp))
		})
	}()
	return b.vm.ToValue(promise)
}

func (b *bindings) response(resp *shim.Response) *goja.Object {
	obj := b.vm.NewObject()
	obj.Set("ok", resp.OK())
	obj.Set("status", resp.Status)
	obj.Set("statusText", resp.StatusText)
	obj.Set("url", resp.URL)
	obj.Set("redirected", false)

	headers := b.vm.NewObject()
	headers.Set("get", func(name string) goja.Value {
		if v := shim.HeaderValue(resp.Headers, name); v != "" {
			return b.vm.ToValue(v)
		}
		return goja.Null()
	})
	headers.Set("has", func(name string) bool { return shim.HeaderValue(resp.Headers, name) != "" })
	obj.Set("headers", headers)

	body := resp.Body
	obj.Set("text", func() goja.Value {
		return b.settled(b.vm.ToValue(string(body)), nil)
	})
	obj.Set("json", func() goja.Value {
		parse, _ := goja.AssertFunction(b.vm.Get("JSON").ToObject(b.vm).Get("parse"))
		v, err := parse(goja.Undefined(), b.vm.ToValue(string(body)))
		return b.settled(v, err)
	})
	obj.Set("arrayBuffer", func() goja.Value {
		return b.settled(b.vm.ToValue(b.vm.NewArrayBuffer(append([]byte(nil), body...))), nil)
	})
	return obj
}

// settled returns a promise already resolved with v or rejected with err.
func (b *bindings) settled(v goja.Value, err error) goja.Value {
	promise, resolve, reject := b.vm.NewPromise()
	if err != nil {
		if ex, ok := err.(*goja.Exception); ok {
			reject(ex.Value())
		} else {
			reject(b.vm.NewGoError(err))
		}
	} else {
		resolve(v)
	}
	return b.vm.ToValue(promise)
}

func (b *bindings) searchParams(call goja.ConstructorCall) *goja.Object {
	var init string
	switch arg := call.Argument(0); {
	case !present(arg):
	case isObject(arg):
		obj := arg.ToObject(b.vm)
		var pairs []string
		for _, k := range obj.Keys() {
			pairs = append(pairs, url.QueryEscape(k)+"="+url.QueryEscape(obj.Get(k).String()))
		}
		init = strings.Join(pairs, "&")
	default:
		init = arg.String()
	}

	p := b.layer.NewParams(init)
	obj := call.This

	obj.Set("get", func(key string) goja.Value {
		if v, ok := p.Get(key); ok {
			return b.vm.ToValue(v)
		}
		return goja.Null()
	})
	obj.Set("getAll", func(key string) []string { return p.GetAll(key) })
	obj.Set("has", func(key string) bool { return p.Has(key) })
	obj.Set("append", func(key, value string) { p.Append(key, value) })
	obj.Set("set", func(key, value string) { p.Set(key, value) })
	// Removing parameters is ignored; pages strip their own query after reading it.
	obj.Set("delete", func(goja.FunctionCall) goja.Value { return goja.Undefined() })
	obj.Set("toString", func() string { return p.String() })
	obj.Set("forEach", func(call goja.FunctionCall) goja.Value {
		for _, e := range p.Entries() {
			if _, err := b.rt.Call(call.Argument(0), goja.Undefined(), b.vm.ToValue(e.Value), b.vm.ToValue(e.Key), obj); err != nil {
				panic(err)
			}
		}
		return goja.Undefined()
	})
	obj.Set("entries", func() goja.Value { return b.iterator(b.pairs(p)) })
	obj.Set("keys", func() goja.Value {
		var keys []any
		for _, e := range p.Entries() {
			keys = append(keys, e.Key)
		}
		return b.iterator(b.vm.NewArray(keys...))
	})
	obj.Set("values", func() goja.Value {
		var vals []any
		for _, e := range p.Entries() {
			vals = append(vals, e.Value)
		}
		return b.iterator(b.vm.NewArray(vals...))
	})
	_ = obj.SetSymbol(goja.SymIterator, func() goja.Value { return b.iterator(b.pairs(p)) })
	return nil
}

func (b *bindings) pairs(p *shim.Params) *goja.Object {
	var out []any
	for _, e := range p.Entries() {
		out = append(out, b.vm.NewArray(e.Key, e.Value))
	}
	return b.vm.NewArray(out...)
}

func (b *bindings) iterator(arr *goja.Object) goja.Value {
	values, _ := goja.AssertFunction(arr.Get("values"))
	it, err := values(arr)
	if err != nil {
		panic(err)
	}
	return it
}

// patchJQuery routes jQuery.ajax for virtual URLs to the file store and gives
// jQuery.getQueryParameters the simulated query string as its default.
// It reports whether a jQuery object was found.
func (b *bindings) patchJQuery() bool {
	jq, ok := b.vm.Get("jQuery").(*goja.Object)
	if !ok {
		return false
	}
	if present(jq.Get(patchedKey)) {
		return true
	}

	if orig, ok := goja.AssertFunction(jq.Get("ajax")); ok {
		pin(b.vm, jq, "ajax", func(call goja.FunctionCall) goja.Value {
			return b.ajax(orig, call)
		})
	}
	if orig, ok := goja.AssertFunction(jq.Get("getQueryParameters")); ok {
		pin(b.vm, jq, "getQueryParameters", func(call goja.FunctionCall) goja.Value {
			arg := call.Argument(0)
			if goja.IsUndefined(arg) {
				arg = b.vm.ToValue(b.layer.QueryString())
			}
			v, err := orig(call.This, arg)
			if err != nil {
				panic(err)
			}
			return v
		})
	}
	_ = jq.DefineDataProperty(patchedKey, b.vm.ToValue(true), goja.FLAG_FALSE, goja.FLAG_FALSE, goja.FLAG_FALSE)
	return true
}

// ajax answers virtual requests synchronously through the settings'
// complete callback and passes everything else to the original.
func (b *bindings) ajax(orig goja.Callable, call goja.FunctionCall) goja.Value {
	var ref string
	settings, _ := call.Argument(0).(*goja.Object)
	if s, ok := call.Argument(0).Export().(string); ok {
		ref = s
		settings, _ = call.Argument(1).(*goja.Object)
	} else if settings != nil && present(settings.Get("url")) {
		ref = settings.Get("url").String()
	}

	text, handled, err := b.layer.Ajax(b.ctx, ref)
	if !handled {
		v, err := orig(call.This, call.Arguments...)
		if err != nil {
			panic(err)
		}
		return v
	}

	xhr := b.vm.NewObject()
	status := ""
	if err != nil {
		b.log.Warn("virtual ajax failed", zap.String("url", ref), zap.Error(err))
		xhr.Set("status", 404)
		status = "error"
	} else {
		xhr.Set("status", 200)
	}
	xhr.Set("responseText", text)

	if settings != nil {
		if complete, ok := goja.AssertFunction(settings.Get("complete")); ok {
			if _, err := complete(settings, xhr, b.vm.ToValue(status)); err != nil {
				panic(err)
			}
		}
	}
	return goja.Undefined()
}

func present(v goja.Value) bool {
	return v != nil && !goja.IsUndefined(v) && !goja.IsNull(v)
}

func isObject(v goja.Value) bool {
	_, ok := v.(*goja.Object)
	return ok
}
