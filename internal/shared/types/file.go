package types

import (
	"sort"
	"strings"
)

// MimeHTML is the MIME type that marks a record as a navigable page.
const MimeHTML = "text/html"

// FileRecord is one file of the bundled site.
type FileRecord struct {
	Path          string `json:"-" yaml:"-" toml:"-"`
	Data          string `json:"data" yaml:"data" toml:"data"`
	MimeType      string `json:"mime_type" yaml:"mime_type" toml:"mime_type"`
	Base64Encoded bool   `json:"base64encoded" yaml:"base64encoded" toml:"base64encoded"`
}

// IsHTML reports whether the record can be displayed as a page.
// Either the MIME type or the .html extension is sufficient.
func (f FileRecord) IsHTML() bool {
	if strings.EqualFold(f.MimeType, MimeHTML) {
		return true
	}
	return strings.HasSuffix(strings.ToLower(f.Path), ".html")
}

// IsSVG reports whether the record holds an SVG image.
func (f FileRecord) IsSVG() bool {
	return strings.HasPrefix(strings.ToLower(f.MimeType), "image/svg")
}

// FileTree maps normalized paths to file records.
type FileTree map[string]FileRecord

// Paths returns the keys of the tree in lexical order.
func (t FileTree) Paths() []string {
	paths := make([]string, 0, len(t))
	for p := range t {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// Utility script names, in the order they run inside a sandbox. Bundles
// store the shared helpers under UtilCommon; UtilCommonAlias is accepted
// for hand-built payloads.
const (
	UtilCommon      = "zundler_common"
	UtilCommonAlias = "common"
	UtilInjectPre   = "inject_pre"
	UtilInjectPost  = "inject_post"
)

// Util is one named utility script.
type Util struct {
	Name   string
	Source string
}

// Utils holds the helper scripts shipped with a bundle, keyed by name.
type Utils map[string]string

// Pre returns the scripts that run before any page script.
func (u Utils) Pre() []Util {
	common := UtilCommon
	if u[common] == "" {
		common = UtilCommonAlias
	}
	return u.pick(common, UtilInjectPre)
}

// Post returns the scripts that run after every page script.
func (u Utils) Post() []Util {
	return u.pick(UtilInjectPost)
}

func (u Utils) pick(names ...string) []Util {
	var out []Util
	for _, n := range names {
		if src, ok := u[n]; ok && src != "" {
			out = append(out, Util{Name: n, Source: src})
		}
	}
	return out
}

// Clone returns an independent copy.
func (u Utils) Clone() Utils {
	out := make(Utils, len(u))
	for k, v := range u {
		out[k] = v
	}
	return out
}
