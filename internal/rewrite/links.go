package rewrite

import (
	"strings"

	"github.com/GriffinCanCode/vsite/internal/resolver"
	"github.com/PuerkitoBio/goquery"
)

// VirtualClickHandler is the inline handler attached to virtual links and forms.
const VirtualClickHandler = "virtualClick(event)"

// SameDocument is the scheme of the sandbox's own document.
const SameDocument = "about:srcdoc"

// FixLink rewires one anchor.
func FixLink(s *goquery.Selection) {
	href, ok := s.Attr("href")
	if !ok {
		return
	}

	switch {
	case resolver.IsVirtual(href):
		s.SetAttr("onclick", VirtualClickHandler)
	case strings.HasPrefix(href, "#"):
		s.SetAttr("href", SameDocument+href)
	case !hasPrefixFold(href, SameDocument) && !hasPrefixFold(href, "javascript:"):
		s.SetAttr("target", "_blank")
	}
}

// FixForm rewires one form whose action is virtual and whose method is GET.
// A missing method means GET.
func FixForm(s *goquery.Selection) {
	action, ok := s.Attr("action")
	if !ok || !resolver.IsVirtual(action) {
		return
	}
	method := strings.ToLower(strings.TrimSpace(s.AttrOr("method", "get")))
	if method != "get" {
		return
	}
	s.SetAttr("onsubmit", VirtualClickHandler)
}

func hasPrefixFold(s, prefix string) bool {
	return len(s) >= len(prefix) && strings.EqualFold(s[:len(prefix)], prefix)
}

// within selects css among the selection itself and its descendants.
func within(s *goquery.Selection, css string) *goquery.Selection {
	return s.Filter(css).AddSelection(s.Find(css))
}

// isStylesheet reports whether a link's rel list names a stylesheet.
func isStylesheet(s *goquery.Selection) bool {
	for _, rel := range strings.Fields(s.AttrOr("rel", "")) {
		if strings.EqualFold(rel, "stylesheet") {
			return true
		}
	}
	return false
}
