package sandbox

import (
	"strings"

	"github.com/andybalholm/cascadia"
	"github.com/dop251/goja"
	"go.uber.org/zap"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// nodeKey is the hidden property that links a wrapper back to its node.
const nodeKey = "__go_node_wrapper__"

// DOM exposes a parsed document to scripts. Wrappers are created lazily and
// cached, so a node always maps to the same object. Only the loop goroutine
// may touch a DOM.
type DOM struct {
	rt   *Runtime
	vm   *goja.Runtime
	log  *zap.Logger
	root *html.Node

	wrappers  map[*html.Node]*goja.Object
	listeners map[*html.Node]map[string][]goja.Value
	window    map[string][]goja.Value
	handlers  map[string]goja.Value
	fragments map[*html.Node]bool

	// OnInsert observes subtrees attached to the document.
	OnInsert func(nodes []*html.Node)
	// OnDefault runs an event's default action unless it was prevented.
	OnDefault func(target *html.Node, ev *Event)
	// OnLocation receives assignments to location.
	OnLocation func(ref string)

	hash string
}

// Event is the Go side of a dispatched event.
type Event struct {
	Type      string
	Key       string
	Ctrl      bool
	prevented bool
	stopped   bool
	obj       *goja.Object
}

// Prevented reports whether a handler cancelled the default action.
func (e *Event) Prevented() bool {
	return e.prevented
}

// Object is the script-visible event.
func (e *Event) Object() *goja.Object {
	return e.obj
}

func newDOM(rt *Runtime, root *html.Node, log *zap.Logger) *DOM {
	return &DOM{
		rt:        rt,
		vm:        rt.VM(),
		log:       log,
		root:      root,
		wrappers:  make(map[*html.Node]*goja.Object),
		listeners: make(map[*html.Node]map[string][]goja.Value),
		window:    make(map[string][]goja.Value),
		handlers:  make(map[string]goja.Value),
		fragments: make(map[*html.Node]bool),
	}
}

// Root returns the document node.
func (d *DOM) Root() *html.Node {
	return d.root
}

// Hash returns the fragment the document is scrolled to, with its '#'.
func (d *DOM) Hash() string {
	return d.hash
}

// Install defines window, document, location, history and navigator.
func (d *DOM) Install(userAgent string) {
	global := d.vm.GlobalObject()
	d.vm.Set("window", global)
	d.vm.Set("self", global)
	d.vm.Set("document", d.wrap(d.root))

	global.Set("addEventListener", func(call goja.FunctionCall) goja.Value {
		typ := call.Argument(0).String()
		d.window[typ] = append(d.window[typ], call.Argument(1))
		return goja.Undefined()
	})
	global.Set("removeEventListener", func(call goja.FunctionCall) goja.Value {
		typ := call.Argument(0).String()
		d.window[typ] = without(d.window[typ], call.Argument(1))
		return goja.Undefined()
	})

	location := d.vm.NewObject()
	d.accessor(location, "href", func() goja.Value {
		return d.vm.ToValue("about:srcdoc" + d.hash)
	}, func(v goja.Value) { d.assign(v.String()) })
	d.accessor(location, "hash", func() goja.Value {
		return d.vm.ToValue(d.hash)
	}, func(v goja.Value) { d.assign("#" + strings.TrimPrefix(v.String(), "#")) })
	location.Set("protocol", "about:")
	location.Set("pathname", "srcdoc")
	location.Set("search", "")
	location.Set("assign", func(ref string) { d.assign(ref) })
	location.Set("replace", func(ref string) { d.assign(ref) })
	location.Set("reload", func() {})
	location.Set("toString", func() string { return "about:srcdoc" + d.hash })
	d.vm.Set("location", location)

	navigator := d.vm.NewObject()
	navigator.Set("userAgent", userAgent)
	navigator.Set("language", "en-US")
	d.vm.Set("navigator", navigator)

	d.vm.Set("Event", func(call goja.ConstructorCall) *goja.Object {
		call.This.Set("type", call.Argument(0).String())
		return nil
	})
}

func (d *DOM) assign(ref string) {
	if strings.HasPrefix(ref, "#") {
		d.ScrollTo(strings.TrimPrefix(ref, "#"))
		return
	}
	if d.OnLocation != nil {
		d.OnLocation(ref)
	}
}

// ScrollTo records the fragment on display and reports whether an element
// with that id or name exists.
func (d *DOM) ScrollTo(anchor string) bool {
	if anchor == "" {
		d.hash = ""
		return false
	}
	d.hash = "#" + anchor
	return d.anchorTarget(anchor) != nil
}

func (d *DOM) anchorTarget(anchor string) *html.Node {
	var found *html.Node
	walk(d.root, func(n *html.Node) bool {
		if n.Type == html.ElementNode && (attr(n, "id") == anchor || (n.DataAtom == atom.A && attr(n, "name") == anchor)) {
			found = n
			return false
		}
		return true
	})
	return found
}

// Wrap returns the script object of a node.
func (d *DOM) Wrap(n *html.Node) goja.Value {
	return d.wrap(n)
}

func (d *DOM) wrap(n *html.Node) goja.Value {
	if n == nil {
		return goja.Null()
	}
	if obj, ok := d.wrappers[n]; ok {
		return obj
	}

	obj := d.vm.NewObject()
	_ = obj.DefineDataProperty(nodeKey, d.vm.ToValue(n), goja.FLAG_FALSE, goja.FLAG_FALSE, goja.FLAG_FALSE)
	d.wrappers[n] = obj

	d.defineNode(obj, n)
	switch n.Type {
	case html.ElementNode:
		d.defineElement(obj, n)
	case html.DocumentNode:
		if n == d.root {
			d.defineDocument(obj)
		}
	}
	return obj
}

func (d *DOM) wrapAll(nodes []*html.Node) goja.Value {
	vals := make([]any, len(nodes))
	for i, n := range nodes {
		vals[i] = d.wrap(n)
	}
	return d.vm.NewArray(vals...)
}

// unwrap returns the node behind a wrapper, or nil.
func (d *DOM) unwrap(v goja.Value) *html.Node {
	obj, ok := v.(*goja.Object)
	if !ok || obj == nil {
		return nil
	}
	raw := obj.Get(nodeKey)
	if raw == nil {
		return nil
	}
	n, _ := raw.Export().(*html.Node)
	return n
}

func (d *DOM) mustUnwrap(v goja.Value) *html.Node {
	n := d.unwrap(v)
	if n == nil {
		panic(d.vm.NewTypeError("parameter is not of type 'Node'"))
	}
	return n
}

func (d *DOM) accessor(obj *goja.Object, name string, get func() goja.Value, set func(goja.Value)) {
	getter := d.vm.ToValue(func(goja.FunctionCall) goja.Value { return get() })
	var setter goja.Value
	if set != nil {
		setter = d.vm.ToValue(func(call goja.FunctionCall) goja.Value {
			set(call.Argument(0))
			return goja.Undefined()
		})
	}
	_ = obj.DefineAccessorProperty(name, getter, setter, goja.FLAG_FALSE, goja.FLAG_TRUE)
}

func (d *DOM) defineNode(obj *goja.Object, n *html.Node) {
	d.accessor(obj, "nodeType", func() goja.Value { return d.vm.ToValue(nodeType(n)) }, nil)
	d.accessor(obj, "nodeName", func() goja.Value { return d.vm.ToValue(nodeName(n)) }, nil)
	d.accessor(obj, "parentNode", func() goja.Value { return d.wrap(n.Parent) }, nil)
	d.accessor(obj, "parentElement", func() goja.Value {
		if n.Parent == nil || n.Parent.Type != html.ElementNode {
			return goja.Null()
		}
		return d.wrap(n.Parent)
	}, nil)
	d.accessor(obj, "firstChild", func() goja.Value { return d.wrap(n.FirstChild) }, nil)
	d.accessor(obj, "lastChild", func() goja.Value { return d.wrap(n.LastChild) }, nil)
	d.accessor(obj, "nextSibling", func() goja.Value { return d.wrap(n.NextSibling) }, nil)
	d.accessor(obj, "previousSibling", func() goja.Value { return d.wrap(n.PrevSibling) }, nil)
	d.accessor(obj, "childNodes", func() goja.Value { return d.wrapAll(children(n, false)) }, nil)
	d.accessor(obj, "ownerDocument", func() goja.Value { return d.wrap(d.root) }, nil)
	d.accessor(obj, "textContent", func() goja.Value {
		return d.vm.ToValue(textContent(n))
	}, func(v goja.Value) {
		removeChildren(n)
		if s := v.String(); s != "" {
			n.AppendChild(&html.Node{Type: html.TextNode, Data: s})
		}
	})
	if n.Type == html.TextNode || n.Type == html.CommentNode {
		d.accessor(obj, "data", func() goja.Value { return d.vm.ToValue(n.Data) },
			func(v goja.Value) { n.Data = v.String() })
		d.accessor(obj, "nodeValue", func() goja.Value { return d.vm.ToValue(n.Data) },
			func(v goja.Value) { n.Data = v.String() })
	}

	obj.Set("appendChild", func(call goja.FunctionCall) goja.Value {
		child := d.mustUnwrap(call.Argument(0))
		d.insert(n, child, nil)
		return call.Argument(0)
	})
	obj.Set("insertBefore", func(call goja.FunctionCall) goja.Value {
		child := d.mustUnwrap(call.Argument(0))
		ref := d.unwrap(call.Argument(1))
		if ref != nil && ref.Parent != n {
			panic(d.vm.NewTypeError("reference node is not a child of this node"))
		}
		d.insert(n, child, ref)
		return call.Argument(0)
	})
	obj.Set("removeChild", func(call goja.FunctionCall) goja.Value {
		child := d.mustUnwrap(call.Argument(0))
		if child.Parent != n {
			panic(d.vm.NewTypeError("node is not a child of this node"))
		}
		n.RemoveChild(child)
		return call.Argument(0)
	})
	obj.Set("replaceChild", func(call goja.FunctionCall) goja.Value {
		repl := d.mustUnwrap(call.Argument(0))
		old := d.mustUnwrap(call.Argument(1))
		if old.Parent != n {
			panic(d.vm.NewTypeError("node is not a child of this node"))
		}
		d.insert(n, repl, old)
		n.RemoveChild(old)
		return call.Argument(1)
	})
	obj.Set("contains", func(call goja.FunctionCall) goja.Value {
		other := d.unwrap(call.Argument(0))
		for p := other; p != nil; p = p.Parent {
			if p == n {
				return d.vm.ToValue(true)
			}
		}
		return d.vm.ToValue(false)
	})
	obj.Set("hasChildNodes", func() bool { return n.FirstChild != nil })
	obj.Set("addEventListener", func(call goja.FunctionCall) goja.Value {
		typ := call.Argument(0).String()
		if d.listeners[n] == nil {
			d.listeners[n] = make(map[string][]goja.Value)
		}
		d.listeners[n][typ] = append(d.listeners[n][typ], call.Argument(1))
		return goja.Undefined()
	})
	obj.Set("removeEventListener", func(call goja.FunctionCall) goja.Value {
		typ := call.Argument(0).String()
		if m := d.listeners[n]; m != nil {
			m[typ] = without(m[typ], call.Argument(1))
		}
		return goja.Undefined()
	})
	obj.Set("dispatchEvent", func(call goja.FunctionCall) goja.Value {
		typ := call.Argument(0).ToObject(d.vm).Get("type").String()
		ev := d.Activate(n, &Event{Type: typ})
		return d.vm.ToValue(!ev.prevented)
	})
}

func (d *DOM) defineElement(obj *goja.Object, n *html.Node) {
	d.accessor(obj, "tagName", func() goja.Value { return d.vm.ToValue(strings.ToUpper(n.Data)) }, nil)
	d.accessor(obj, "localName", func() goja.Value { return d.vm.ToValue(n.Data) }, nil)

	for _, name := range []string{"id", "name", "type", "href", "src", "action", "title", "alt", "rel", "target", "placeholder", "htmlFor"} {
		key := name
		if key == "htmlFor" {
			key = "for"
		}
		d.accessor(obj, name, func() goja.Value { return d.vm.ToValue(attr(n, key)) },
			func(v goja.Value) { setAttr(n, key, v.String()) })
	}
	d.accessor(obj, "className", func() goja.Value { return d.vm.ToValue(attr(n, "class")) },
		func(v goja.Value) { setAttr(n, "class", v.String()) })
	d.accessor(obj, "method", func() goja.Value {
		m := strings.ToLower(attr(n, "method"))
		if m == "" {
			m = "get"
		}
		return d.vm.ToValue(m)
	}, func(v goja.Value) { setAttr(n, "method", v.String()) })
	d.accessor(obj, "value", func() goja.Value { return d.vm.ToValue(controlValue(n)) },
		func(v goja.Value) { setControlValue(n, v.String()) })
	for _, name := range []string{"checked", "disabled", "selected", "hidden"} {
		key := name
		d.accessor(obj, name, func() goja.Value { return d.vm.ToValue(hasAttr(n, key)) },
			func(v goja.Value) {
				if v.ToBoolean() {
					setAttr(n, key, "")
				} else {
					removeAttr(n, key)
				}
			})
	}

	d.accessor(obj, "children", func() goja.Value { return d.wrapAll(children(n, true)) }, nil)
	d.accessor(obj, "firstElementChild", func() goja.Value {
		if kids := children(n, true); len(kids) > 0 {
			return d.wrap(kids[0])
		}
		return goja.Null()
	}, nil)
	d.accessor(obj, "innerHTML", func() goja.Value {
		var b strings.Builder
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			_ = html.Render(&b, c)
		}
		return d.vm.ToValue(b.String())
	}, func(v goja.Value) { d.setInnerHTML(n, v.String()) })
	d.accessor(obj, "outerHTML", func() goja.Value {
		var b strings.Builder
		_ = html.Render(&b, n)
		return d.vm.ToValue(b.String())
	}, nil)
	d.accessor(obj, "innerText", func() goja.Value { return d.vm.ToValue(textContent(n)) },
		func(v goja.Value) {
			removeChildren(n)
			n.AppendChild(&html.Node{Type: html.TextNode, Data: v.String()})
		})
	if n.DataAtom == atom.Form {
		d.accessor(obj, "elements", func() goja.Value { return d.wrapAll(formControls(n)) }, nil)
		obj.Set("submit", func() { d.Activate(n, &Event{Type: "submit"}) })
		obj.Set("reset", func() {})
	}

	style := d.vm.NewObject()
	style.Set("setProperty", func(string, string) {})
	style.Set("getPropertyValue", func(string) string { return "" })
	obj.Set("style", style)
	obj.Set("dataset", d.vm.NewObject())
	obj.Set("classList", d.classList(n))

	obj.Set("getAttribute", func(call goja.FunctionCall) goja.Value {
		name := strings.ToLower(call.Argument(0).String())
		if !hasAttr(n, name) {
			return goja.Null()
		}
		return d.vm.ToValue(attr(n, name))
	})
	obj.Set("setAttribute", func(name, value string) { setAttr(n, strings.ToLower(name), value) })
	obj.Set("removeAttribute", func(name string) { removeAttr(n, strings.ToLower(name)) })
	obj.Set("hasAttribute", func(name string) bool { return hasAttr(n, strings.ToLower(name)) })
	obj.Set("querySelector", func(sel string) goja.Value { return d.wrap(d.queryFirst(n, sel)) })
	obj.Set("querySelectorAll", func(sel string) goja.Value { return d.wrapAll(d.queryAll(n, sel)) })
	obj.Set("getElementsByTagName", func(tag string) goja.Value { return d.wrapAll(d.queryAll(n, tag)) })
	obj.Set("getElementsByClassName", func(class string) goja.Value {
		return d.wrapAll(d.queryAll(n, classSelector(class)))
	})
	obj.Set("matches", func(sel string) bool { return d.compile(sel).Match(n) })
	obj.Set("closest", func(sel string) goja.Value {
		s := d.compile(sel)
		for p := n; p != nil && p.Type == html.ElementNode; p = p.Parent {
			if s.Match(p) {
				return d.wrap(p)
			}
		}
		return goja.Null()
	})
	obj.Set("remove", func() {
		if n.Parent != nil {
			n.Parent.RemoveChild(n)
		}
	})
	obj.Set("cloneNode", func(call goja.FunctionCall) goja.Value {
		return d.wrap(clone(n, call.Argument(0).ToBoolean()))
	})
	obj.Set("click", func() { d.Activate(n, &Event{Type: "click"}) })
	obj.Set("focus", func() {})
	obj.Set("blur", func() {})
	obj.Set("scrollIntoView", func() {
		if id := attr(n, "id"); id != "" {
			d.hash = "#" + id
		}
	})
}

func (d *DOM) defineDocument(obj *goja.Object) {
	d.accessor(obj, "documentElement", func() goja.Value { return d.wrap(d.find(atom.Html)) }, nil)
	d.accessor(obj, "head", func() goja.Value { return d.wrap(d.find(atom.Head)) }, nil)
	d.accessor(obj, "body", func() goja.Value { return d.wrap(d.find(atom.Body)) }, nil)
	d.accessor(obj, "readyState", func() goja.Value { return d.vm.ToValue("complete") }, nil)
	d.accessor(obj, "title", func() goja.Value {
		if t := d.find(atom.Title); t != nil {
			return d.vm.ToValue(strings.TrimSpace(textContent(t)))
		}
		return d.vm.ToValue("")
	}, func(v goja.Value) {
		t := d.find(atom.Title)
		if t == nil {
			head := d.find(atom.Head)
			if head == nil {
				return
			}
			t = element("title")
			head.AppendChild(t)
		}
		removeChildren(t)
		t.AppendChild(&html.Node{Type: html.TextNode, Data: v.String()})
	})
	d.accessor(obj, "location", func() goja.Value { return d.vm.Get("location") }, nil)
	d.accessor(obj, "defaultView", func() goja.Value { return d.vm.GlobalObject() }, nil)
	obj.Set("cookie", "")

	obj.Set("getElementById", func(id string) goja.Value {
		var found *html.Node
		walk(d.root, func(n *html.Node) bool {
			if n.Type == html.ElementNode && attr(n, "id") == id {
				found = n
				return false
			}
			return true
		})
		return d.wrap(found)
	})
	obj.Set("querySelector", func(sel string) goja.Value { return d.wrap(d.queryFirst(d.root, sel)) })
	obj.Set("querySelectorAll", func(sel string) goja.Value { return d.wrapAll(d.queryAll(d.root, sel)) })
	obj.Set("getElementsByTagName", func(tag string) goja.Value { return d.wrapAll(d.queryAll(d.root, tag)) })
	obj.Set("getElementsByClassName", func(class string) goja.Value {
		return d.wrapAll(d.queryAll(d.root, classSelector(class)))
	})
	obj.Set("getElementsByName", func(name string) goja.Value {
		var out []*html.Node
		walk(d.root, func(n *html.Node) bool {
			if n.Type == html.ElementNode && attr(n, "name") == name {
				out = append(out, n)
			}
			return true
		})
		return d.wrapAll(out)
	})
	obj.Set("createElement", func(tag string) goja.Value { return d.wrap(element(tag)) })
	obj.Set("createTextNode", func(text string) goja.Value {
		return d.wrap(&html.Node{Type: html.TextNode, Data: text})
	})
	obj.Set("createComment", func(text string) goja.Value {
		return d.wrap(&html.Node{Type: html.CommentNode, Data: text})
	})
	obj.Set("createDocumentFragment", func() goja.Value {
		frag := &html.Node{Type: html.DocumentNode}
		d.fragments[frag] = true
		return d.wrap(frag)
	})
}

func (d *DOM) classList(n *html.Node) *goja.Object {
	list := d.vm.NewObject()
	classes := func() []string { return strings.Fields(attr(n, "class")) }
	store := func(cs []string) { setAttr(n, "class", strings.Join(cs, " ")) }
	has := func(c string) bool {
		for _, x := range classes() {
			if x == c {
				return true
			}
		}
		return false
	}
	list.Set("contains", has)
	list.Set("add", func(call goja.FunctionCall) goja.Value {
		cs := classes()
		for _, a := range call.Arguments {
			if c := a.String(); !has(c) {
				cs = append(cs, c)
				store(cs)
			}
		}
		return goja.Undefined()
	})
	list.Set("remove", func(call goja.FunctionCall) goja.Value {
		for _, a := range call.Arguments {
			var kept []string
			for _, x := range classes() {
				if x != a.String() {
					kept = append(kept, x)
				}
			}
			store(kept)
		}
		return goja.Undefined()
	})
	list.Set("toggle", func(c string) bool {
		if has(c) {
			var kept []string
			for _, x := range classes() {
				if x != c {
					kept = append(kept, x)
				}
			}
			store(kept)
			return false
		}
		store(append(classes(), c))
		return true
	})
	return list
}

// insert attaches child to parent before ref (nil appends). Fragments are
// emptied into the parent. Subtrees that land in the document are reported
// to OnInsert.
func (d *DOM) insert(parent, child, ref *html.Node) {
	var added []*html.Node
	if d.fragments[child] {
		for c := child.FirstChild; c != nil; c = child.FirstChild {
			child.RemoveChild(c)
			parent.InsertBefore(c, ref)
			added = append(added, c)
		}
	} else {
		if child == ref {
			return
		}
		if child.Parent != nil {
			child.Parent.RemoveChild(child)
		}
		parent.InsertBefore(child, ref)
		added = []*html.Node{child}
	}
	d.inserted(parent, added)
}

func (d *DOM) setInnerHTML(n *html.Node, markup string) {
	ctx := n
	if n.Type != html.ElementNode {
		ctx = element("body")
	}
	nodes, err := html.ParseFragment(strings.NewReader(markup), ctx)
	if err != nil {
		panic(d.vm.NewGoError(err))
	}
	removeChildren(n)
	for _, c := range nodes {
		n.AppendChild(c)
	}
	d.inserted(n, nodes)
}

func (d *DOM) inserted(parent *html.Node, nodes []*html.Node) {
	if d.OnInsert == nil || len(nodes) == 0 || !d.attached(parent) {
		return
	}
	d.OnInsert(nodes)
}

func (d *DOM) attached(n *html.Node) bool {
	for p := n; p != nil; p = p.Parent {
		if p == d.root {
			return true
		}
	}
	return false
}

func (d *DOM) compile(sel string) cascadia.Selector {
	s, err := cascadia.Compile(sel)
	if err != nil {
		panic(d.vm.NewTypeError("'%s' is not a valid selector", sel))
	}
	return s
}

// Query returns the first element under root matching sel, or nil.
func (d *DOM) Query(sel string) (*html.Node, error) {
	s, err := cascadia.Compile(sel)
	if err != nil {
		return nil, err
	}
	return s.MatchFirst(d.root), nil
}

func (d *DOM) queryFirst(n *html.Node, sel string) *html.Node {
	for _, m := range d.compile(sel).MatchAll(n) {
		if m != n {
			return m
		}
	}
	return nil
}

func (d *DOM) queryAll(n *html.Node, sel string) []*html.Node {
	var out []*html.Node
	for _, m := range d.compile(sel).MatchAll(n) {
		if m != n {
			out = append(out, m)
		}
	}
	return out
}

func (d *DOM) find(a atom.Atom) *html.Node {
	var found *html.Node
	walk(d.root, func(n *html.Node) bool {
		if n.Type == html.ElementNode && n.DataAtom == a {
			found = n
			return false
		}
		return true
	})
	return found
}

// Activate dispatches ev at target and then runs its default action.
func (d *DOM) Activate(target *html.Node, ev *Event) *Event {
	d.Dispatch(target, ev)
	if !ev.prevented && d.OnDefault != nil {
		d.OnDefault(target, ev)
	}
	return ev
}

// Dispatch delivers ev to target and its ancestors, then to window.
// Listeners run before the inline on<type> attribute at each node.
func (d *DOM) Dispatch(target *html.Node, ev *Event) {
	obj := d.eventObject(target, ev)

	for n := target; n != nil && !ev.stopped; n = n.Parent {
		this := d.wrap(n)
		obj.Set("currentTarget", this)

		if m := d.listeners[n]; m != nil {
			for _, fn := range append([]goja.Value(nil), m[ev.Type]...) {
				d.call("listener", fn, this, obj)
			}
		}
		if n.Type == html.ElementNode {
			if src, ok := attrOK(n, "on"+ev.Type); ok {
				ret := d.call("inline handler", d.handler(src), this, obj)
				if ret != nil && ret.StrictEquals(d.vm.ToValue(false)) {
					ev.prevented = true
				}
			}
		}
	}

	if !ev.stopped {
		obj.Set("currentTarget", d.vm.GlobalObject())
		for _, fn := range append([]goja.Value(nil), d.window[ev.Type]...) {
			d.call("listener", fn, d.vm.GlobalObject(), obj)
		}
	}
}

func (d *DOM) eventObject(target *html.Node, ev *Event) *goja.Object {
	obj := d.vm.NewObject()
	obj.Set("type", ev.Type)
	obj.Set("target", d.wrap(target))
	obj.Set("srcElement", d.wrap(target))
	obj.Set("bubbles", true)
	obj.Set("key", ev.Key)
	obj.Set("ctrlKey", ev.Ctrl)
	obj.Set("metaKey", false)
	obj.Set("shiftKey", false)
	obj.Set("altKey", false)
	obj.Set("button", 0)
	obj.Set("preventDefault", func() { ev.prevented = true })
	obj.Set("stopPropagation", func() { ev.stopped = true })
	obj.Set("stopImmediatePropagation", func() { ev.stopped = true })
	d.accessor(obj, "defaultPrevented", func() goja.Value { return d.vm.ToValue(ev.prevented) }, nil)
	ev.obj = obj
	return obj
}

// handler compiles an inline event attribute once per distinct source.
func (d *DOM) handler(src string) goja.Value {
	if fn, ok := d.handlers[src]; ok {
		return fn
	}
	fn, err := d.vm.RunString("(function(event){\n" + src + "\n})")
	if err != nil {
		d.log.Warn("inline handler does not compile", zap.String("source", src), zap.Error(err))
		fn = goja.Undefined()
	}
	d.handlers[src] = fn
	return fn
}

func (d *DOM) call(what string, fn, this goja.Value, args ...goja.Value) goja.Value {
	callable, ok := goja.AssertFunction(fn)
	if !ok {
		if obj, isObj := fn.(*goja.Object); isObj {
			if callable, ok = goja.AssertFunction(obj.Get("handleEvent")); ok {
				this = obj
			}
		}
		if !ok {
			return nil
		}
	}
	ret, err := callable(this, args...)
	if err != nil {
		d.log.Warn("event handler threw", zap.String("handler", what), zap.Error(err))
		return nil
	}
	return ret
}

func without(list []goja.Value, fn goja.Value) []goja.Value {
	for i, v := range list {
		if v.SameAs(fn) {
			return append(list[:i:i], list[i+1:]...)
		}
	}
	return list
}
