package sandbox

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"sync"

	"github.com/GriffinCanCode/vsite/internal/config"
	"github.com/GriffinCanCode/vsite/internal/monitoring"
	"github.com/GriffinCanCode/vsite/internal/protocol"
	"github.com/GriffinCanCode/vsite/internal/resolver"
	"github.com/GriffinCanCode/vsite/internal/retrieve"
	"github.com/GriffinCanCode/vsite/internal/rewrite"
	"github.com/GriffinCanCode/vsite/internal/shared/id"
	"github.com/GriffinCanCode/vsite/internal/shared/types"
	"github.com/GriffinCanCode/vsite/internal/shim"
	"github.com/GriffinCanCode/vsite/internal/vfs"
	"github.com/PuerkitoBio/goquery"
	"github.com/dop251/goja"
	"go.uber.org/zap"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// ErrNoElement is returned when a selector matches nothing.
var ErrNoElement = errors.New("no element matches selector")

// Deps are the collaborators shared by every sandbox.
type Deps struct {
	Pipeline *rewrite.Pipeline
	Platform shim.Platform
	Metrics  *monitoring.Metrics
	Logger   *zap.Logger
}

// Adapter is the content side of one page: it owns the document, the VM
// that runs its scripts and the content end of the pipe.
type Adapter struct {
	id     id.SandboxID
	config Config
	deps   Deps
	log    *zap.Logger

	port  *protocol.Port
	relay *retrieve.Relay
	rt    *Runtime

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.RWMutex
	state  State
	title  string
	result rewrite.Result

	ready     chan struct{}
	readyOnce sync.Once
	closeOnce sync.Once

	// Owned by the loop goroutine.
	doc      *goquery.Document
	dom      *DOM
	bind     *bindings
	shared   types.SharedContext
	res      resolver.Resolver
	files    retrieve.Retriever
	executed map[*html.Node]bool
	click    ClickResult
}

// Launch parses page, starts its VM and announces readiness on port.
func Launch(ctx context.Context, page types.Page, port *protocol.Port, cfg Config, deps Deps) (*Adapter, error) {
	if deps.Pipeline == nil {
		deps.Pipeline = rewrite.New(zap.NewNop(), rewrite.DefaultConfig())
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(page.HTML))
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML: %w", err)
	}

	sid := id.NewSandboxID()
	log := deps.Logger.With(zap.String("sandbox", sid.String()))
	ctx, cancel := context.WithCancel(ctx)

	a := &Adapter{
		id:       sid,
		config:   cfg,
		deps:     deps,
		log:      log,
		port:     port,
		relay:    retrieve.NewRelay(port),
		rt:       NewRuntime(cfg, log),
		ctx:      ctx,
		cancel:   cancel,
		ready:    make(chan struct{}),
		doc:      doc,
		executed: make(map[*html.Node]bool),
		title:    page.Title,
	}

	deps.Metrics.SandboxLaunched()
	if err := a.rt.Do(ctx, a.setup); err != nil {
		a.Close()
		return nil, err
	}

	go a.listen()

	a.setState(StateAwaitingContext)
	if err := port.Send(protocol.ActionReady, nil); err != nil {
		a.Close()
		return nil, fmt.Errorf("announce ready: %w", err)
	}
	return a, nil
}

func (a *Adapter) setup() error {
	a.dom = newDOM(a.rt, a.doc.Nodes[0], a.log)
	a.dom.OnDefault = a.defaultAction
	a.dom.OnLocation = a.assign
	a.dom.Install(a.config.UserAgent)
	pin(a.rt.VM(), a.rt.VM().GlobalObject(), "virtualClick", a.virtualClick)
	return nil
}

// listen dispatches host messages. File replies are delivered here, off
// the loop, so a script blocked on a retrieval can still be answered.
func (a *Adapter) listen() {
	for msg := range a.port.Messages() {
		switch msg.Action {
		case protocol.ActionSendFile:
			var reply protocol.SendFile
			if err := msg.Decode(&reply); err != nil {
				a.log.Warn("bad file reply", zap.Error(err))
				continue
			}
			if !a.relay.Deliver(reply) {
				a.log.Debug("stale file reply", zap.String("path", reply.Path))
			}
		case protocol.ActionSetContext:
			var sc protocol.SetContext
			if err := msg.Decode(&sc); err != nil {
				a.log.Warn("bad context", zap.Error(err))
				continue
			}
			a.rt.Post(func() { a.boot(sc.Context) })
		case protocol.ActionScrollToAnchor:
			a.rt.Post(a.scrollToAnchor)
		default:
			a.log.Warn("unexpected message",
				zap.String("action", string(msg.Action)),
				zap.Error(types.ErrProtocolMismatch))
		}
	}
}

// boot rewrites the document with the received context and runs its scripts.
func (a *Adapter) boot(sc types.SharedContext) {
	if a.State() != StateAwaitingContext {
		a.log.Debug("context ignored", zap.String("state", a.State().String()))
		return
	}
	a.setState(StateRewriting)

	a.shared = sc
	a.res = resolver.New(sc.Navigation.CurrentPath)
	a.files = a.retriever(sc)
	layer := shim.New(shim.Config{
		Navigation: sc.Navigation,
		Files:      a.files,
		Platform:   a.deps.Platform,
		Metrics:    a.deps.Metrics,
		Logger:     a.log,
	})
	a.bind = newBindings(a.ctx, a.rt, layer, a.log)
	a.bind.install()

	rewrite.InjectUtils(a.doc, sc.Utils)
	result := a.deps.Pipeline.Run(a.ctx, a.doc, a.res, a.files)
	if a.ctx.Err() != nil {
		return
	}

	a.dom.OnInsert = a.onInsert

	var scripts []*html.Node
	walk(a.dom.Root(), func(n *html.Node) bool {
		if n.Type == html.ElementNode && n.DataAtom == atom.Script {
			scripts = append(scripts, n)
		}
		return true
	})
	for i, n := range scripts {
		if a.ctx.Err() != nil {
			return
		}
		a.execute(n, i)
	}

	a.dom.Dispatch(a.dom.Root(), &Event{Type: "DOMContentLoaded"})
	a.dom.Dispatch(a.dom.Root(), &Event{Type: "load"})

	title := strings.TrimSpace(rewrite.Title(a.dom.Root()))
	favicon := rewrite.Favicon(a.dom.Root())

	a.mu.Lock()
	a.title = title
	a.result = result
	a.mu.Unlock()
	a.setState(StateReady)

	if err := a.port.Send(protocol.ActionSetTitle, protocol.SetTitle{Title: title, Favicon: favicon}); err != nil {
		a.log.Debug("title not sent", zap.Error(err))
	}
	a.readyOnce.Do(func() { close(a.ready) })
}

// retriever picks the strategy the context allows: a tree snapshot is read
// directly, otherwise files are relayed through the host.
func (a *Adapter) retriever(sc types.SharedContext) retrieve.Retriever {
	strategy := config.RetrievalRelay
	var base retrieve.Retriever = a.relay
	if sc.FileTree != nil {
		strategy = config.RetrievalTree
		base = retrieve.NewTree(sc.FileTree)
	}
	return retrieve.Func(func(ctx context.Context, path string) (types.FileRecord, error) {
		rec, err := base.Retrieve(ctx, path)
		a.deps.Metrics.RecordRetrieval(strategy, err)
		return rec, err
	})
}

func isJavaScript(n *html.Node) bool {
	switch strings.ToLower(strings.TrimSpace(attr(n, "type"))) {
	case "", "text/javascript", "application/javascript", "application/x-javascript":
		return true
	}
	return false
}

// execute runs one script element. A failing script is logged and does not
// stop the others.
func (a *Adapter) execute(n *html.Node, index int) {
	if a.executed[n] || !isJavaScript(n) {
		return
	}
	a.executed[n] = true

	if src, ok := attrOK(n, "src"); ok {
		a.log.Debug("script not embedded, skipped", zap.String("src", src))
		return
	}

	src := textContent(n)
	name := "inline-" + strconv.Itoa(index)
	if util := attr(n, rewrite.UtilAttr); util != "" {
		name = util
	} else if i := strings.LastIndex(src, rewrite.SourceURLMarker); i >= 0 {
		name = strings.TrimSpace(src[i+len(rewrite.SourceURLMarker):])
	}
	a.run(name, src)
}

func (a *Adapter) run(name, src string) {
	if _, err := a.rt.RunScript(name, src); err != nil {
		a.log.Warn("script failed", zap.String("script", name), zap.Error(err))
	}
	a.bind.patchJQuery()
}

// onInsert is the mutation watcher: inserted subtrees get the same rewrite
// as the initial document, and inserted scripts run.
func (a *Adapter) onInsert(nodes []*html.Node) {
	a.deps.Pipeline.ApplyDynamic(a.ctx, nodes, a.res, a.files, func(fn func()) { a.rt.Post(fn) })

	for _, n := range nodes {
		walk(n, func(c *html.Node) bool {
			if c.Type == html.ElementNode && c.DataAtom == atom.Script {
				a.insertScript(c)
			}
			return true
		})
	}
}

func (a *Adapter) insertScript(n *html.Node) {
	src, ok := attrOK(n, "src")
	if !ok {
		a.execute(n, len(a.executed))
		return
	}
	if a.executed[n] || !isJavaScript(n) || !resolver.IsVirtual(src) {
		return
	}
	a.executed[n] = true

	path, _, _ := a.res.Resolve(src)
	go func() {
		rec, err := a.files.Retrieve(a.ctx, path)
		if a.ctx.Err() != nil {
			return
		}
		a.rt.Post(func() {
			if err != nil {
				a.log.Warn("inserted script not found", zap.String("path", path), zap.Error(err))
				return
			}
			text, err := vfs.Text(rec)
			if err != nil {
				a.log.Warn("inserted script unreadable", zap.String("path", path), zap.Error(err))
				return
			}
			a.run(path, text)
		})
	}()
}

func (a *Adapter) scrollToAnchor() {
	if anchor := a.shared.Navigation.Anchor; anchor != "" {
		if !a.dom.ScrollTo(anchor) {
			a.log.Debug("anchor not in document", zap.String("anchor", anchor))
		}
	}
	if a.State() == StateReady {
		a.setState(StateInteractive)
	}
}

// virtualClick is the global the rewritten handlers call. It turns the
// clicked link or submitted form into a navigation request for the host.
func (a *Adapter) virtualClick(call goja.FunctionCall) goja.Value {
	ev, _ := call.Argument(0).(*goja.Object)
	if ev == nil {
		return a.rt.VM().ToValue(false)
	}
	if prevent, ok := goja.AssertFunction(ev.Get("preventDefault")); ok {
		if _, err := prevent(ev); err != nil {
			panic(err)
		}
	}

	el := a.dom.unwrap(ev.Get("currentTarget"))
	if el == nil {
		el = a.dom.unwrap(ev.Get("target"))
	}
	if el != nil {
		a.requestNavigation(el)
	}
	return a.rt.VM().ToValue(false)
}

// requestNavigation posts the target of a link or the submission of a form.
func (a *Adapter) requestNavigation(el *html.Node) {
	var nav protocol.VirtualClick
	if el.DataAtom == atom.Form {
		nav.Path, _, nav.Anchor = a.res.Resolve(attr(el, "action"))
		nav.GetParameters = serializeForm(el)
	} else if link := enclosing(el, atom.A); link != nil {
		nav.Path, nav.GetParameters, nav.Anchor = a.res.Resolve(attr(link, "href"))
	} else {
		return
	}

	a.click.Virtual = nav.Path
	if err := a.port.Send(protocol.ActionVirtualClick, nav); err != nil {
		a.log.Debug("navigation not sent", zap.String("path", nav.Path), zap.Error(err))
	}
}

func (a *Adapter) assign(ref string) {
	if resolver.IsVirtual(ref) {
		path, query, anchor := a.res.Resolve(ref)
		a.click.Virtual = path
		_ = a.port.Send(protocol.ActionVirtualClick, protocol.VirtualClick{Path: path, GetParameters: query, Anchor: anchor})
		return
	}
	a.openExternal(ref)
}

// defaultAction is what the browser would do for an event nobody cancelled.
func (a *Adapter) defaultAction(target *html.Node, ev *Event) {
	switch ev.Type {
	case "click":
		if link := enclosing(target, atom.A); link != nil {
			a.follow(link)
			return
		}
		if isSubmitter(target) {
			if form := enclosing(target, atom.Form); form != nil {
				a.dom.Activate(form, &Event{Type: "submit"})
			}
		}
	case "submit":
		if target.DataAtom == atom.Form {
			a.submit(target)
		}
	}
}

func isSubmitter(n *html.Node) bool {
	switch n.DataAtom {
	case atom.Button:
		t := strings.ToLower(attr(n, "type"))
		return t == "" || t == "submit"
	case atom.Input:
		t := strings.ToLower(attr(n, "type"))
		return t == "submit" || t == "image"
	}
	return false
}

func (a *Adapter) follow(link *html.Node) {
	href, ok := attrOK(link, "href")
	if !ok {
		return
	}
	lower := strings.ToLower(href)
	switch {
	case strings.HasPrefix(href, "#"):
		a.scrollTo(href[1:])
	case strings.HasPrefix(lower, rewrite.SameDocument):
		if _, frag, found := strings.Cut(href, "#"); found {
			a.scrollTo(frag)
		}
	case strings.HasPrefix(lower, "javascript:"):
		code, err := url.PathUnescape(href[len("javascript:"):])
		if err != nil {
			code = href[len("javascript:"):]
		}
		a.run("javascript-url", code)
	case resolver.IsVirtual(href):
		a.requestNavigation(link)
	default:
		a.openExternal(href)
	}
}

func (a *Adapter) scrollTo(anchor string) {
	a.dom.ScrollTo(anchor)
	a.click.Anchor = anchor
}

func (a *Adapter) submit(form *html.Node) {
	action := attr(form, "action")
	method := strings.ToLower(strings.TrimSpace(attr(form, "method")))
	switch {
	case resolver.IsVirtual(action) && (method == "" || method == "get"):
		a.requestNavigation(form)
	case resolver.IsVirtual(action):
		a.log.Info("form submission to the virtual site is not GET, ignored",
			zap.String("action", action), zap.String("method", method))
	case action != "":
		a.openExternal(action)
	}
}

func (a *Adapter) openExternal(ref string) {
	a.click.External = ref
	a.log.Info("external link opened outside the sandbox", zap.String("url", ref))
}

// ID returns the sandbox identifier.
func (a *Adapter) ID() id.SandboxID {
	return a.id
}

// State returns the lifecycle state.
func (a *Adapter) State() State {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.state
}

func (a *Adapter) setState(s State) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.state == StateDisposed {
		return
	}
	a.state = s
}

// Title returns the document title reported to the host.
func (a *Adapter) Title() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.title
}

// Result returns the outcome of the initial rewrite.
func (a *Adapter) Result() rewrite.Result {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.result
}

// Console returns captured console output.
func (a *Adapter) Console() []LogEntry {
	return a.rt.Console()
}

// WaitReady blocks until the document has been rewritten and its scripts ran.
func (a *Adapter) WaitReady(ctx context.Context) error {
	select {
	case <-a.ready:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-a.ctx.Done():
		return ErrClosed
	}
}

// Click dispatches a click on the first element matching selector.
func (a *Adapter) Click(ctx context.Context, selector string) (ClickResult, error) {
	return a.activate(ctx, selector, "click")
}

// Submit submits the form matching selector, or the form containing it.
func (a *Adapter) Submit(ctx context.Context, selector string) (ClickResult, error) {
	return a.activate(ctx, selector, "submit")
}

func (a *Adapter) activate(ctx context.Context, selector, typ string) (ClickResult, error) {
	if err := a.WaitReady(ctx); err != nil {
		return ClickResult{}, err
	}
	var res ClickResult
	err := a.rt.Do(ctx, func() error {
		n, err := a.dom.Query(selector)
		if err != nil {
			return fmt.Errorf("invalid selector %q: %w", selector, err)
		}
		if n == nil {
			return fmt.Errorf("%w: %s", ErrNoElement, selector)
		}
		if typ == "submit" && n.DataAtom != atom.Form {
			if n = enclosing(n, atom.Form); n == nil {
				return fmt.Errorf("%w: form for %s", ErrNoElement, selector)
			}
		}

		a.click = ClickResult{}
		ev := a.dom.Activate(n, &Event{Type: typ})
		res = a.click
		res.Prevented = ev.Prevented()
		return nil
	})
	return res, err
}

// KeyUp dispatches a keyup on the document. Ctrl+Z asks the host for its menu.
func (a *Adapter) KeyUp(ctx context.Context, key string, ctrl bool) error {
	if err := a.WaitReady(ctx); err != nil {
		return err
	}
	return a.rt.Do(ctx, func() error {
		target := a.dom.find(atom.Body)
		if target == nil {
			target = a.dom.Root()
		}
		a.dom.Dispatch(target, &Event{Type: "keyup", Key: key, Ctrl: ctrl})
		if ctrl && strings.EqualFold(key, "z") {
			return a.port.Send(protocol.ActionShowMenu, nil)
		}
		return nil
	})
}

// Eval runs src in the page and exports its result.
func (a *Adapter) Eval(ctx context.Context, src string) (any, error) {
	var out any
	err := a.rt.Do(ctx, func() error {
		v, err := a.rt.RunScript("eval", src)
		if err != nil {
			return err
		}
		out = v.Export()
		return nil
	})
	return out, err
}

// HTML renders the live document once it has been rewritten.
func (a *Adapter) HTML(ctx context.Context) (string, error) {
	if err := a.WaitReady(ctx); err != nil {
		return "", err
	}
	var out string
	err := a.rt.Do(ctx, func() error {
		var b strings.Builder
		if err := html.Render(&b, a.dom.Root()); err != nil {
			return err
		}
		out = b.String()
		return nil
	})
	return out, err
}

// Anchor returns the fragment the document is scrolled to, without '#'.
func (a *Adapter) Anchor(ctx context.Context) (string, error) {
	var out string
	err := a.rt.Do(ctx, func() error {
		out = strings.TrimPrefix(a.dom.Hash(), "#")
		return nil
	})
	return out, err
}

// Close disposes the sandbox and its pipe. Outstanding retrievals fail and
// any message still in flight is dropped.
func (a *Adapter) Close() error {
	a.closeOnce.Do(func() {
		a.setState(StateDisposed)
		a.cancel()
		a.relay.Close()
		_ = a.port.Close()
		_ = a.rt.Close()
		a.deps.Metrics.SandboxDisposed()
		a.log.Debug("sandbox disposed")
	})
	return nil
}
