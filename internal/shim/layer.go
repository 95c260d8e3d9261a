package shim

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/GriffinCanCode/vsite/internal/monitoring"
	"github.com/GriffinCanCode/vsite/internal/resolver"
	"github.com/GriffinCanCode/vsite/internal/retrieve"
	"github.com/GriffinCanCode/vsite/internal/shared/types"
	"github.com/GriffinCanCode/vsite/internal/vfs"
	"go.uber.org/zap"
)

// ErrNetworkDisabled is returned for non-virtual requests when no Platform is set.
var ErrNetworkDisabled = errors.New("shim: real network disabled")

// Request is a fetch request as seen by the shim.
type Request struct {
	URL     string
	Method  string
	Headers map[string]string
	Body    []byte
}

// Response is a fetch response handed back to page scripts.
type Response struct {
	URL        string
	Status     int
	StatusText string
	Headers    map[string]string
	Body       []byte
	Virtual    bool
}

// OK reports a 2xx status.
func (r *Response) OK() bool {
	return r.Status >= 200 && r.Status < 300
}

// Platform is the real network primitive non-virtual requests are delegated to.
type Platform interface {
	Fetch(ctx context.Context, req *Request) (*Response, error)
}

// Config configures a Layer.
type Config struct {
	Navigation types.NavigationState
	Files      retrieve.Retriever
	Platform   Platform
	// Search is the query string of the sandbox's own location, which for
	// a sandboxed document is always empty.
	Search  string
	Metrics *monitoring.Metrics
	Logger  *zap.Logger
}

// Layer answers server-dependent browser APIs from the virtual site.
type Layer struct {
	nav      types.NavigationState
	res      resolver.Resolver
	files    retrieve.Retriever
	platform Platform
	search   string
	metrics  *monitoring.Metrics
	log      *zap.Logger
}

// New creates a layer for one sandbox.
func New(cfg Config) *Layer {
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Layer{
		nav:      cfg.Navigation,
		res:      resolver.New(cfg.Navigation.CurrentPath),
		files:    cfg.Files,
		platform: cfg.Platform,
		search:   cfg.Search,
		metrics:  cfg.Metrics,
		log:      log,
	}
}

// Navigation returns the simulated location.
func (l *Layer) Navigation() types.NavigationState {
	return l.nav
}

// Resolver returns the resolver bound to the current path.
func (l *Layer) Resolver() resolver.Resolver {
	return l.res
}

// Fetch serves virtual URLs from the tree and delegates the rest.
func (l *Layer) Fetch(ctx context.Context, req *Request) (*Response, error) {
	if !resolver.IsVirtual(req.URL) {
		l.metrics.RecordFetch("network")
		if l.platform == nil {
			return nil, fmt.Errorf("%w: %s", ErrNetworkDisabled, req.URL)
		}
		return l.platform.Fetch(ctx, req)
	}

	l.metrics.RecordFetch("virtual")
	path, _, _ := l.res.Resolve(req.URL)
	rec, err := l.files.Retrieve(ctx, path)
	if errors.Is(err, types.ErrResourceNotFound) {
		l.log.Debug("virtual fetch missed", zap.String("path", path))
		return &Response{
			URL:        path,
			Status:     http.StatusNotFound,
			StatusText: http.StatusText(http.StatusNotFound),
			Headers:    map[string]string{},
			Virtual:    true,
		}, nil
	}
	if err != nil {
		return nil, err
	}

	body, err := vfs.Decode(rec)
	if err != nil {
		return nil, err
	}
	return &Response{
		URL:        path,
		Status:     http.StatusOK,
		StatusText: http.StatusText(http.StatusOK),
		Headers:    map[string]string{"content-type": rec.MimeType},
		Body:       body,
		Virtual:    true,
	}, nil
}

// NewParams builds the state of a new URLSearchParams. When the sandbox's own
// location has no query string, an empty instance reads the simulated one.
func (l *Layer) NewParams(init string) *Params {
	p := ParseParams(init)
	if l.search == "" && l.nav.GetParameters != "" {
		p.fallback = ParseParams(l.nav.GetParameters)
	}
	return p
}

// Ajax answers a jQuery.ajax call for a virtual URL with the file's text.
// handled is false when the call should go to the page's own $.ajax.
func (l *Layer) Ajax(ctx context.Context, url string) (text string, handled bool, err error) {
	if !resolver.IsVirtual(url) {
		return "", false, nil
	}
	path, _, _ := l.res.Resolve(url)
	rec, err := l.files.Retrieve(ctx, path)
	if err != nil {
		return "", true, err
	}
	text, err = vfs.Text(rec)
	return text, true, err
}

// QueryString is the default argument of jQuery.getQueryParameters.
func (l *Layer) QueryString() string {
	return "?" + l.nav.GetParameters
}

// ResolveHref maps a virtual reference to a tree path; other references are
// returned unchanged.
func (l *Layer) ResolveHref(ref string) string {
	if !resolver.IsVirtual(ref) {
		return ref
	}
	path, _, _ := l.res.Resolve(ref)
	return path
}

// HeaderValue looks up a header case-insensitively.
func HeaderValue(headers map[string]string, name string) string {
	for k, v := range headers {
		if strings.EqualFold(k, name) {
			return v
		}
	}
	return ""
}
