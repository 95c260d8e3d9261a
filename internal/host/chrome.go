package host

import (
	"fmt"
	"html"
	"path"
	"sort"
	"strings"

	"github.com/GriffinCanCode/vsite/internal/resolver"
	"github.com/GriffinCanCode/vsite/internal/rewrite"
	"github.com/GriffinCanCode/vsite/internal/shared/types"
	"github.com/GriffinCanCode/vsite/internal/vfs"
	"github.com/bmatcuk/doublestar/v4"
	"github.com/gabriel-vasile/mimetype"
	"github.com/microcosm-cc/bluemonday"
)

// Chrome is the outer user interface state around the sandbox.
type Chrome struct {
	Title    string `json:"title"`
	Favicon  string `json:"favicon,omitempty"`
	Loading  bool   `json:"loading"`
	MenuOpen bool   `json:"menu_open"`
}

var titlePolicy = bluemonday.StrictPolicy()

// sanitizeTitle strips markup from a page title.
func sanitizeTitle(title string) string {
	return strings.TrimSpace(html.UnescapeString(titlePolicy.Sanitize(title)))
}

// resolveFavicon turns a favicon reference made in the page at current into
// something the chrome can show on its own. Virtual SVG and base64 records
// become data URIs; other virtual records are not usable and yield "".
func resolveFavicon(store *vfs.Store, current, ref string) string {
	if ref == "" {
		return ""
	}
	if !resolver.IsVirtual(ref) {
		return ref
	}
	p, _, _ := resolver.New(current).Resolve(ref)
	rec, ok := store.Get(p)
	if !ok || !(rec.IsSVG() || rec.Base64Encoded) {
		return ""
	}
	uri, err := rewrite.DataURI(rec)
	if err != nil {
		return ""
	}
	return uri
}

// Panel is the informational side panel: every file of the site, each
// downloadable on its own.
type Panel struct {
	store *vfs.Store
}

// NewPanel creates a panel over store.
func NewPanel(store *vfs.Store) Panel {
	return Panel{store: store}
}

// Files lists the paths matching a doublestar pattern, sorted. An empty
// pattern lists everything.
func (p Panel) Files(pattern string) ([]string, error) {
	all := p.store.Paths()
	if pattern == "" {
		return all, nil
	}
	if !doublestar.ValidatePattern(pattern) {
		return nil, fmt.Errorf("invalid pattern %q: %w", pattern, doublestar.ErrBadPattern)
	}
	var out []string
	for _, f := range all {
		if ok, _ := doublestar.Match(pattern, f); ok {
			out = append(out, f)
		}
	}
	sort.Strings(out)
	return out, nil
}

// Download is one file ready to be saved.
type Download struct {
	Path     string
	Name     string
	MimeType string
	Data     []byte
}

// Download decodes a file. A missing MIME type is sniffed from the content.
func (p Panel) Download(filePath string) (*Download, error) {
	rec, ok := p.store.Get(filePath)
	if !ok {
		return nil, fmt.Errorf("%w: %s", types.ErrResourceNotFound, filePath)
	}
	data, err := vfs.Decode(rec)
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", filePath, err)
	}

	mime := rec.MimeType
	if mime == "" || mime == "application/octet-stream" {
		mime = mimetype.Detect(data).String()
	}
	return &Download{
		Path:     filePath,
		Name:     path.Base(filePath),
		MimeType: mime,
		Data:     data,
	}, nil
}
