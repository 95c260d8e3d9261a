package rewrite

import (
	"strings"

	"github.com/antchfx/htmlquery"
	"golang.org/x/net/html"
)

const faviconXPath = `//link[@href][contains(concat(' ', translate(normalize-space(@rel), 'ICON', 'icon'), ' '), ' icon ')]`

// Title returns the text of the document's first <title>.
func Title(root *html.Node) string {
	n := htmlquery.FindOne(root, "//title")
	if n == nil {
		return ""
	}
	return strings.TrimSpace(htmlquery.InnerText(n))
}

// Favicon returns the href of the first icon link, or "".
func Favicon(root *html.Node) string {
	n := htmlquery.FindOne(root, faviconXPath)
	if n == nil {
		return ""
	}
	return htmlquery.SelectAttr(n, "href")
}
