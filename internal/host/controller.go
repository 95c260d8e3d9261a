package host

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/GriffinCanCode/vsite/internal/config"
	"github.com/GriffinCanCode/vsite/internal/monitoring"
	"github.com/GriffinCanCode/vsite/internal/protocol"
	"github.com/GriffinCanCode/vsite/internal/resolver"
	"github.com/GriffinCanCode/vsite/internal/sandbox"
	"github.com/GriffinCanCode/vsite/internal/shared/types"
	"github.com/GriffinCanCode/vsite/internal/vfs"
	"go.uber.org/zap"
)

var (
	ErrClosed    = errors.New("controller closed")
	ErrNoSandbox = errors.New("no page on display")
	ErrNoHistory = errors.New("no history entry in that direction")
)

// Config configures a Controller.
type Config struct {
	Retrieval string // config.RetrievalRelay or config.RetrievalTree
	Metrics   *monitoring.Metrics
}

// handleState follows one sandbox through the host side of the handshake.
type handleState int

const (
	awaitingReady handleState = iota
	serving
	navigatingAway
)

type handle struct {
	sandbox Sandbox
	port    *protocol.Port
	nav     types.NavigationState
	state   handleState
}

func (h *handle) id() string {
	if h == nil || h.sandbox == nil {
		return ""
	}
	return h.sandbox.ID().String()
}

// State is a point-in-time view of the controller.
type State struct {
	Session    string                `json:"session"`
	Navigation types.NavigationState `json:"navigation"`
	History    []types.HistoryEntry  `json:"history"`
	Cursor     int                   `json:"cursor"`
	Chrome     Chrome                `json:"chrome"`
	Sandbox    string                `json:"sandbox,omitempty"`
	Pending    string                `json:"pending,omitempty"`
}

// Controller is the host context. A single loop goroutine owns the session,
// the sandbox handles and the chrome; commands and sandbox messages are
// serialized through it.
type Controller struct {
	session  *Session
	launcher Launcher
	config   Config
	metrics  *monitoring.Metrics
	log      *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	jobs   chan func()
	done   chan struct{}
	exited chan struct{}

	closeOnce sync.Once

	// Owned by the loop goroutine.
	current *handle
	pending *handle
	chrome  Chrome
	outbox  []Event

	mu    sync.RWMutex
	state State

	subMu   sync.Mutex
	subs    map[int]chan Event
	nextSub int
}

// New creates a controller and starts its loop. Call Start to show the
// session's initial page.
func New(session *Session, launcher Launcher, log *zap.Logger, cfg Config) *Controller {
	if cfg.Retrieval == "" {
		cfg.Retrieval = config.RetrievalRelay
	}
	ctx, cancel := context.WithCancel(context.Background())
	c := &Controller{
		session:  session,
		launcher: launcher,
		config:   cfg,
		metrics:  cfg.Metrics,
		log:      log.Named("host"),
		ctx:      ctx,
		cancel:   cancel,
		jobs:     make(chan func(), 64),
		done:     make(chan struct{}),
		exited:   make(chan struct{}),
		subs:     make(map[int]chan Event),
	}
	c.publish()
	go c.loop()
	return c
}

func (c *Controller) loop() {
	defer close(c.exited)
	for {
		select {
		case <-c.done:
			return
		case job := <-c.jobs:
			job()
			c.publish()
			c.flush()
		}
	}
}

func (c *Controller) post(fn func()) bool {
	select {
	case c.jobs <- fn:
		return true
	case <-c.done:
		return false
	}
}

// do runs fn on the loop and waits for its result. The snapshot is
// published before do returns.
func (c *Controller) do(ctx context.Context, fn func() error) error {
	errc := make(chan error, 1)
	job := func() {
		err := fn()
		c.publish()
		c.flush()
		errc <- err
	}
	if !c.post(job) {
		return ErrClosed
	}
	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-c.exited:
		return ErrClosed
	}
}

// Start shows the session's initial page.
func (c *Controller) Start(ctx context.Context) error {
	return c.do(ctx, func() error {
		nav := c.session.Navigation
		return c.navigate(nav, func() { c.session.push(nav) })
	})
}

// Navigate performs a virtual navigation and records it in history. The
// path is a tree key; it is normalized, so "./b.html" and "/b.html" name
// the same record as "b.html".
func (c *Controller) Navigate(ctx context.Context, nav types.NavigationState) error {
	nav.CurrentPath = resolver.Normalize(nav.CurrentPath, "")
	return c.do(ctx, func() error {
		return c.navigate(nav, func() { c.session.push(nav) })
	})
}

// NavigateTo resolves ref against the page on display and navigates to it.
func (c *Controller) NavigateTo(ctx context.Context, ref string) error {
	return c.do(ctx, func() error {
		path, query, anchor := resolver.New(c.session.Navigation.CurrentPath).Resolve(ref)
		nav := types.NavigationState{CurrentPath: path, GetParameters: query, Anchor: anchor}
		return c.navigate(nav, func() { c.session.push(nav) })
	})
}

// Back restores the previous history entry verbatim.
func (c *Controller) Back(ctx context.Context) error {
	return c.traverse(ctx, -1)
}

// Forward restores the next history entry verbatim.
func (c *Controller) Forward(ctx context.Context) error {
	return c.traverse(ctx, 1)
}

func (c *Controller) traverse(ctx context.Context, delta int) error {
	return c.do(ctx, func() error {
		entry, ok := c.session.peek(delta)
		if !ok {
			return ErrNoHistory
		}
		return c.navigate(entry.Navigation(), func() { c.session.move(delta) })
	})
}

// navigate validates the target and launches a sandbox for it. commit
// records the navigation in history once the sandbox is running.
func (c *Controller) navigate(nav types.NavigationState, commit func()) error {
	log := c.log.With(zap.String("path", nav.CurrentPath))

	rec, ok := c.session.Store.Get(nav.CurrentPath)
	if !ok {
		log.Warn("navigation target not found")
		c.metrics.RecordNavigation(monitoring.OutcomeNotFound)
		c.chrome.Loading = c.pending != nil
		c.emit(Event{Type: EventNotFound, Path: nav.CurrentPath})
		return fmt.Errorf("%w: %s", types.ErrResourceNotFound, nav.CurrentPath)
	}
	if !rec.IsHTML() {
		log.Info("non-HTML target opened as download", zap.String("mime_type", rec.MimeType))
		c.metrics.RecordNavigation(monitoring.OutcomeExternal)
		c.chrome.Loading = c.pending != nil
		c.emit(Event{Type: EventOpen, Path: nav.CurrentPath})
		return nil
	}

	text, err := vfs.Text(rec)
	if err != nil {
		c.metrics.RecordNavigation(monitoring.OutcomeFailed)
		return fmt.Errorf("failed to read %s: %w", nav.CurrentPath, err)
	}

	if c.pending != nil {
		log.Debug("superseding navigation in flight", zap.String("sandbox", c.pending.id()))
		c.dispose(c.pending)
		c.pending = nil
	}

	hostPort, contentPort := protocol.Pipe(protocol.WithTap(c.tap))
	h := &handle{port: hostPort, nav: nav}
	c.pending = h
	c.chrome.Loading = true

	page := types.Page{Navigation: nav, HTML: text}
	sb, err := c.launcher.Launch(c.ctx, page, contentPort)
	if err != nil {
		log.Error("sandbox launch failed", zap.Error(err))
		c.metrics.RecordNavigation(monitoring.OutcomeFailed)
		_ = hostPort.Close()
		c.pending = nil
		c.chrome.Loading = false
		c.emit(Event{Type: EventFailed, Path: nav.CurrentPath, Error: err.Error()})
		return fmt.Errorf("launch sandbox: %w", err)
	}
	h.sandbox = sb
	c.session.Navigation = nav
	commit()
	go c.pump(h)

	navCopy := nav
	c.emit(Event{Type: EventLoading, Sandbox: h.id(), Navigation: &navCopy})
	return nil
}

// pump forwards one sandbox's messages to the loop.
func (c *Controller) pump(h *handle) {
	for msg := range h.port.Messages() {
		if !c.post(func() { c.receive(h, msg) }) {
			return
		}
	}
}

func (c *Controller) tap(from protocol.Side, msg protocol.Message) {
	c.metrics.RecordMessage(string(from), string(msg.Action))
}

// receive handles one message from a sandbox on the loop. Messages from a
// sandbox that is neither on display nor loading are ignored.
func (c *Controller) receive(h *handle, msg protocol.Message) {
	if h != c.current && h != c.pending {
		c.log.Debug("message from disposed sandbox ignored",
			zap.String("action", string(msg.Action)),
			zap.Error(types.ErrProtocolMismatch))
		return
	}

	switch msg.Action {
	case protocol.ActionReady:
		c.ready(h)
	case protocol.ActionRetrieveFile:
		var req protocol.RetrieveFile
		if err := msg.Decode(&req); err != nil {
			c.log.Debug("bad file request", zap.Error(err))
			return
		}
		reply := protocol.SendFile{Path: req.Path}
		if rec, ok := c.session.Store.Get(req.Path); ok {
			reply.Found = true
			reply.File = &rec
		} else {
			c.log.Debug("requested file not found", zap.String("path", req.Path))
		}
		_ = h.port.Send(protocol.ActionSendFile, reply)
	case protocol.ActionVirtualClick:
		var vc protocol.VirtualClick
		if err := msg.Decode(&vc); err != nil {
			c.log.Debug("bad navigation request", zap.Error(err))
			return
		}
		nav := vc.Navigation()
		if err := c.navigate(nav, func() { c.session.push(nav) }); err != nil {
			c.log.Debug("virtual navigation failed", zap.Error(err))
		}
	case protocol.ActionSetTitle:
		var st protocol.SetTitle
		if err := msg.Decode(&st); err != nil {
			c.log.Debug("bad title", zap.Error(err))
			return
		}
		if h != c.current {
			return
		}
		c.chrome.Title = sanitizeTitle(st.Title)
		c.chrome.Favicon = resolveFavicon(c.session.Store, h.nav.CurrentPath, st.Favicon)
		c.emit(Event{Type: EventTitle, Sandbox: h.id(), Title: c.chrome.Title, Favicon: c.chrome.Favicon})
	case protocol.ActionShowMenu:
		c.chrome.MenuOpen = true
		c.emit(Event{Type: EventMenu, Sandbox: h.id()})
	default:
		c.log.Debug("unexpected message",
			zap.String("action", string(msg.Action)),
			zap.Error(types.ErrProtocolMismatch))
	}
}

// ready answers the handshake and, for a loading sandbox, swaps it in.
func (c *Controller) ready(h *handle) {
	if h.state != awaitingReady {
		c.log.Debug("duplicate ready ignored", zap.String("sandbox", h.id()))
		return
	}
	h.state = serving

	sc := c.session.Context(h.nav, c.config.Retrieval)
	if err := h.port.Send(protocol.ActionSetContext, protocol.SetContext{Context: sc}); err != nil {
		c.log.Debug("context not sent", zap.Error(err))
		return
	}
	_ = h.port.Send(protocol.ActionScrollToAnchor, nil)

	if h != c.pending {
		return
	}
	old := c.current
	c.current, c.pending = h, nil
	if old != nil {
		c.dispose(old)
	}
	c.chrome.Loading = false
	c.metrics.RecordNavigation(monitoring.OutcomeLoaded)

	nav := h.nav
	c.emit(Event{Type: EventReady, Sandbox: h.id(), Navigation: &nav})
}

func (c *Controller) dispose(h *handle) {
	h.state = navigatingAway
	if h.sandbox != nil {
		if err := h.sandbox.Close(); err != nil {
			c.log.Warn("sandbox close failed", zap.String("sandbox", h.id()), zap.Error(err))
		}
	}
	_ = h.port.Close()
}

// Sandbox returns the sandbox on display.
func (c *Controller) Sandbox(ctx context.Context) (Sandbox, error) {
	var sb Sandbox
	err := c.do(ctx, func() error {
		if c.current == nil || c.current.sandbox == nil {
			return ErrNoSandbox
		}
		sb = c.current.sandbox
		return nil
	})
	return sb, err
}

// Click clicks an element of the page on display.
func (c *Controller) Click(ctx context.Context, selector string) (sandbox.ClickResult, error) {
	sb, err := c.Sandbox(ctx)
	if err != nil {
		return sandbox.ClickResult{}, err
	}
	return sb.Click(ctx, selector)
}

// Submit submits a form of the page on display.
func (c *Controller) Submit(ctx context.Context, selector string) (sandbox.ClickResult, error) {
	sb, err := c.Sandbox(ctx)
	if err != nil {
		return sandbox.ClickResult{}, err
	}
	return sb.Submit(ctx, selector)
}

// KeyUp sends a key release to the page on display.
func (c *Controller) KeyUp(ctx context.Context, key string, ctrl bool) error {
	sb, err := c.Sandbox(ctx)
	if err != nil {
		return err
	}
	return sb.KeyUp(ctx, key, ctrl)
}

// HTML renders the page on display.
func (c *Controller) HTML(ctx context.Context) (string, error) {
	sb, err := c.Sandbox(ctx)
	if err != nil {
		return "", err
	}
	return sb.HTML(ctx)
}

// CloseMenu hides the side panel.
func (c *Controller) CloseMenu(ctx context.Context) error {
	return c.do(ctx, func() error {
		c.chrome.MenuOpen = false
		return nil
	})
}

// Panel returns the side panel over the session's files.
func (c *Controller) Panel() Panel {
	return NewPanel(c.session.Store)
}

// State returns the latest snapshot.
func (c *Controller) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	st := c.state
	st.History = append([]types.HistoryEntry(nil), st.History...)
	return st
}

func (c *Controller) publish() {
	history, cursor := c.session.History()
	st := State{
		Session:    c.session.ID.String(),
		Navigation: c.session.Navigation,
		History:    history,
		Cursor:     cursor,
		Chrome:     c.chrome,
		Sandbox:    c.current.id(),
		Pending:    c.pending.id(),
	}
	c.mu.Lock()
	c.state = st
	c.mu.Unlock()
}

// WaitLoaded blocks until no navigation is in flight.
func (c *Controller) WaitLoaded(ctx context.Context) error {
	events, cancel := c.Subscribe(16)
	defer cancel()
	for {
		if st := c.State(); !st.Chrome.Loading && st.Pending == "" {
			return nil
		}
		select {
		case _, ok := <-events:
			if !ok {
				return ErrClosed
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Subscribe returns a channel of events and a function that ends the
// subscription. Events are dropped for subscribers that fall behind.
func (c *Controller) Subscribe(buffer int) (<-chan Event, func()) {
	ch := make(chan Event, buffer)
	c.subMu.Lock()
	n := c.nextSub
	c.nextSub++
	if c.subs == nil {
		close(ch)
	} else {
		c.subs[n] = ch
	}
	c.subMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			c.subMu.Lock()
			defer c.subMu.Unlock()
			if _, ok := c.subs[n]; ok {
				delete(c.subs, n)
				close(ch)
			}
		})
	}
}

// emit queues an event; it is delivered after the current job's state is published.
func (c *Controller) emit(ev Event) {
	ev.Time = time.Now()
	c.outbox = append(c.outbox, ev)
}

func (c *Controller) flush() {
	if len(c.outbox) == 0 {
		return
	}
	events := c.outbox
	c.outbox = nil

	c.subMu.Lock()
	defer c.subMu.Unlock()
	for _, ev := range events {
		for _, ch := range c.subs {
			select {
			case ch <- ev:
			default:
				c.log.Debug("event dropped for slow subscriber", zap.String("type", string(ev.Type)))
			}
		}
	}
}

// Close disposes every sandbox and stops the loop.
func (c *Controller) Close() error {
	c.closeOnce.Do(func() {
		_ = c.do(context.Background(), func() error {
			if c.pending != nil {
				c.dispose(c.pending)
				c.pending = nil
			}
			if c.current != nil {
				c.dispose(c.current)
				c.current = nil
			}
			c.chrome.Loading = false
			return nil
		})
		c.cancel()
		close(c.done)
		<-c.exited

		c.subMu.Lock()
		for n, ch := range c.subs {
			close(ch)
			delete(c.subs, n)
		}
		c.subs = nil
		c.subMu.Unlock()
	})
	return nil
}
