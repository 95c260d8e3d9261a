package rewrite

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/GriffinCanCode/vsite/internal/monitoring"
	"github.com/GriffinCanCode/vsite/internal/resolver"
	"github.com/GriffinCanCode/vsite/internal/retrieve"
	"github.com/GriffinCanCode/vsite/internal/shared/types"
	"github.com/GriffinCanCode/vsite/internal/vfs"
	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
	"golang.org/x/sync/errgroup"
)

// Element kinds, as reported in failures and metrics.
const (
	KindScript = "script"
	KindStyle  = "stylesheet"
	KindImage  = "image"
)

// SourceURLMarker precedes the path appended to inlined scripts.
const SourceURLMarker = "\n//# sourceURL="

// Config configures a Pipeline.
type Config struct {
	Workers int
	Metrics *monitoring.Metrics
}

// DefaultConfig returns the default pipeline configuration.
func DefaultConfig() Config {
	return Config{Workers: 8}
}

// Pipeline rewrites documents of the virtual site.
type Pipeline struct {
	log     *zap.Logger
	workers int
	metrics *monitoring.Metrics
}

// Result describes one run.
type Result struct {
	Title    string
	Favicon  string
	Embedded int
	Failures []error
}

// Prepared is a rendered page.
type Prepared struct {
	Result
	HTML string
}

// New creates a pipeline.
func New(log *zap.Logger, cfg Config) *Pipeline {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	return &Pipeline{log: log, workers: cfg.Workers, metrics: cfg.Metrics}
}

// embed is one element waiting for its file.
type embed struct {
	kind string
	sel  *goquery.Selection
	path string
	rec  types.FileRecord
	err  error
}

// Prepare parses a page, injects utility scripts, rewrites it and renders it.
func (p *Pipeline) Prepare(ctx context.Context, page string, res resolver.Resolver, r retrieve.Retriever, utils types.Utils) (*Prepared, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(page))
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML: %w", err)
	}

	InjectUtils(doc, utils)
	result := p.Run(ctx, doc, res, r)

	out, err := doc.Html()
	if err != nil {
		return nil, fmt.Errorf("failed to render HTML: %w", err)
	}
	return &Prepared{Result: result, HTML: out}, nil
}

// Run applies every step to doc.
func (p *Pipeline) Run(ctx context.Context, doc *goquery.Document, res resolver.Resolver, r retrieve.Retriever) Result {
	start := time.Now()
	defer func() { p.metrics.ObservePipeline(time.Since(start)) }()

	var result Result
	if len(doc.Nodes) > 0 {
		result.Title = Title(doc.Nodes[0])
		result.Favicon = Favicon(doc.Nodes[0])
	}

	jobs := p.collect(doc.Selection, res, true)
	p.fetch(ctx, jobs, r)

	for _, j := range jobs {
		if err := p.apply(j); err != nil {
			result.Failures = append(result.Failures, err)
			continue
		}
		result.Embedded++
	}

	within(doc.Selection, "a[href]").Each(func(_ int, s *goquery.Selection) { FixLink(s) })
	within(doc.Selection, "form[action]").Each(func(_ int, s *goquery.Selection) { FixForm(s) })

	return result
}

// ApplyDynamic rewrites subtrees inserted after load. Links and forms are fixed
// immediately; images are retrieved in the background and handed to schedule,
// which must run the mutation on the goroutine that owns the DOM.
func (p *Pipeline) ApplyDynamic(ctx context.Context, nodes []*html.Node, res resolver.Resolver, r retrieve.Retriever, schedule func(func())) {
	for _, n := range nodes {
		if n.Type != html.ElementNode {
			continue
		}
		sel := goquery.NewDocumentFromNode(n).Selection

		within(sel, "a[href]").Each(func(_ int, s *goquery.Selection) { FixLink(s) })
		within(sel, "form[action]").Each(func(_ int, s *goquery.Selection) { FixForm(s) })

		for _, j := range p.collect(sel, res, false) {
			go func(j *embed) {
				j.rec, j.err = r.Retrieve(ctx, j.path)
				if ctx.Err() != nil {
					return
				}
				schedule(func() { _ = p.apply(j) })
			}(j)
		}
	}
}

// collect finds the elements that reference virtual files. With full set,
// scripts and stylesheets are included as well as images.
func (p *Pipeline) collect(root *goquery.Selection, res resolver.Resolver, full bool) []*embed {
	var jobs []*embed
	add := func(kind, ref string, s *goquery.Selection) {
		if !resolver.IsVirtual(ref) {
			return
		}
		path, _, _ := res.Resolve(ref)
		jobs = append(jobs, &embed{kind: kind, sel: s, path: path})
	}

	if full {
		within(root, "script[src]").Each(func(_ int, s *goquery.Selection) {
			add(KindScript, s.AttrOr("src", ""), s)
		})
		within(root, "link[href]").Each(func(_ int, s *goquery.Selection) {
			if isStylesheet(s) {
				add(KindStyle, s.AttrOr("href", ""), s)
			}
		})
	}
	within(root, "img[src]").Each(func(_ int, s *goquery.Selection) {
		add(KindImage, s.AttrOr("src", ""), s)
	})
	return jobs
}

// fetch retrieves every job's file concurrently. Individual errors stay on
// the job; they never cancel the others.
func (p *Pipeline) fetch(ctx context.Context, jobs []*embed, r retrieve.Retriever) {
	var g errgroup.Group
	g.SetLimit(p.workers)
	for _, j := range jobs {
		g.Go(func() error {
			j.rec, j.err = r.Retrieve(ctx, j.path)
			return nil
		})
	}
	_ = g.Wait()
}

func (p *Pipeline) apply(j *embed) error {
	err := j.err
	if err == nil {
		switch j.kind {
		case KindScript:
			err = inlineScript(j.sel, j.rec)
		case KindStyle:
			err = inlineStyle(j.sel, j.rec)
		case KindImage:
			err = inlineImage(j.sel, j.rec)
		}
	}
	if err == nil {
		return nil
	}

	p.metrics.RecordEmbedFailure(j.kind)
	p.log.Warn("embed failed",
		zap.String("kind", j.kind),
		zap.String("path", j.path),
		zap.Error(err))
	return fmt.Errorf("%w: %s %s: %v", types.ErrEmbedFailure, j.kind, j.path, err)
}

func inlineScript(s *goquery.Selection, rec types.FileRecord) error {
	text, err := vfs.Text(rec)
	if err != nil {
		return err
	}
	s.RemoveAttr("src")
	setText(s, text+SourceURLMarker+rec.Path)
	return nil
}

// setText replaces the children of each element with one raw text node.
// goquery's SetText escapes, which would corrupt script bodies.
func setText(s *goquery.Selection, text string) {
	for _, n := range s.Nodes {
		for c := n.FirstChild; c != nil; c = n.FirstChild {
			n.RemoveChild(c)
		}
		n.AppendChild(&html.Node{Type: html.TextNode, Data: text})
	}
}

func inlineStyle(s *goquery.Selection, rec types.FileRecord) error {
	text, err := vfs.Text(rec)
	if err != nil {
		return err
	}
	style := &html.Node{Type: html.ElementNode, Data: "style", DataAtom: atom.Style}
	if media, ok := s.Attr("media"); ok {
		style.Attr = append(style.Attr, html.Attribute{Key: "media", Val: media})
	}
	style.AppendChild(&html.Node{Type: html.TextNode, Data: text})
	s.ReplaceWithNodes(style)
	return nil
}

func inlineImage(s *goquery.Selection, rec types.FileRecord) error {
	uri, err := DataURI(rec)
	if err != nil {
		return err
	}
	s.SetAttr("src", uri)
	return nil
}
