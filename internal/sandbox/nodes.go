package sandbox

import (
	"net/url"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

func element(tag string) *html.Node {
	tag = strings.ToLower(tag)
	return &html.Node{Type: html.ElementNode, Data: tag, DataAtom: atom.Lookup([]byte(tag))}
}

func nodeType(n *html.Node) int {
	switch n.Type {
	case html.ElementNode:
		return 1
	case html.TextNode:
		return 3
	case html.CommentNode:
		return 8
	case html.DocumentNode:
		return 9
	case html.DoctypeNode:
		return 10
	default:
		return 0
	}
}

func nodeName(n *html.Node) string {
	switch n.Type {
	case html.ElementNode:
		return strings.ToUpper(n.Data)
	case html.TextNode:
		return "#text"
	case html.CommentNode:
		return "#comment"
	case html.DocumentNode:
		return "#document"
	default:
		return n.Data
	}
}

// walk visits n and its descendants in document order until fn returns false.
func walk(n *html.Node, fn func(*html.Node) bool) bool {
	if !fn(n) {
		return false
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if !walk(c, fn) {
			return false
		}
	}
	return true
}

func children(n *html.Node, elementsOnly bool) []*html.Node {
	var out []*html.Node
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if !elementsOnly || c.Type == html.ElementNode {
			out = append(out, c)
		}
	}
	return out
}

func removeChildren(n *html.Node) {
	for c := n.FirstChild; c != nil; c = n.FirstChild {
		n.RemoveChild(c)
	}
}

func textContent(n *html.Node) string {
	if n.Type == html.TextNode || n.Type == html.CommentNode {
		return n.Data
	}
	var b strings.Builder
	walk(n, func(c *html.Node) bool {
		if c.Type == html.TextNode {
			b.WriteString(c.Data)
		}
		return true
	})
	return b.String()
}

func attrOK(n *html.Node, key string) (string, bool) {
	for _, a := range n.Attr {
		if a.Namespace == "" && strings.EqualFold(a.Key, key) {
			return a.Val, true
		}
	}
	return "", false
}

func attr(n *html.Node, key string) string {
	v, _ := attrOK(n, key)
	return v
}

func hasAttr(n *html.Node, key string) bool {
	_, ok := attrOK(n, key)
	return ok
}

func setAttr(n *html.Node, key, val string) {
	for i, a := range n.Attr {
		if a.Namespace == "" && strings.EqualFold(a.Key, key) {
			n.Attr[i].Val = val
			return
		}
	}
	n.Attr = append(n.Attr, html.Attribute{Key: key, Val: val})
}

func removeAttr(n *html.Node, key string) {
	for i, a := range n.Attr {
		if a.Namespace == "" && strings.EqualFold(a.Key, key) {
			n.Attr = append(n.Attr[:i], n.Attr[i+1:]...)
			return
		}
	}
}

func clone(n *html.Node, deep bool) *html.Node {
	c := &html.Node{
		Type:      n.Type,
		DataAtom:  n.DataAtom,
		Data:      n.Data,
		Namespace: n.Namespace,
		Attr:      append([]html.Attribute(nil), n.Attr...),
	}
	if deep {
		for k := n.FirstChild; k != nil; k = k.NextSibling {
			c.AppendChild(clone(k, true))
		}
	}
	return c
}

func classSelector(classes string) string {
	var b strings.Builder
	for _, c := range strings.Fields(classes) {
		b.WriteByte('.')
		b.WriteString(c)
	}
	if b.Len() == 0 {
		return ":not(*)"
	}
	return b.String()
}

// controlValue reads the current value of a form control.
func controlValue(n *html.Node) string {
	switch n.DataAtom {
	case atom.Textarea:
		return textContent(n)
	case atom.Select:
		var first, chosen *html.Node
		walk(n, func(c *html.Node) bool {
			if c.Type == html.ElementNode && c.DataAtom == atom.Option {
				if first == nil {
					first = c
				}
				if hasAttr(c, "selected") {
					chosen = c
					return false
				}
			}
			return true
		})
		if chosen == nil {
			chosen = first
		}
		if chosen == nil {
			return ""
		}
		return controlValue(chosen)
	case atom.Option:
		if v, ok := attrOK(n, "value"); ok {
			return v
		}
		return strings.TrimSpace(textContent(n))
	case atom.Input:
		v, ok := attrOK(n, "value")
		if !ok {
			switch strings.ToLower(attr(n, "type")) {
			case "checkbox", "radio":
				return "on"
			}
		}
		return v
	default:
		return attr(n, "value")
	}
}

func setControlValue(n *html.Node, v string) {
	switch n.DataAtom {
	case atom.Textarea:
		removeChildren(n)
		n.AppendChild(&html.Node{Type: html.TextNode, Data: v})
	case atom.Select:
		walk(n, func(c *html.Node) bool {
			if c.Type == html.ElementNode && c.DataAtom == atom.Option {
				if controlValue(c) == v {
					setAttr(c, "selected", "")
				} else {
					removeAttr(c, "selected")
				}
			}
			return true
		})
	default:
		setAttr(n, "value", v)
	}
}

// formControls returns the listed controls of a form in document order.
func formControls(form *html.Node) []*html.Node {
	var out []*html.Node
	walk(form, func(c *html.Node) bool {
		if c.Type == html.ElementNode {
			switch c.DataAtom {
			case atom.Input, atom.Select, atom.Textarea, atom.Button:
				out = append(out, c)
			}
		}
		return true
	})
	return out
}

// serializeForm encodes a form's successful controls as
// application/x-www-form-urlencoded, in document order.
func serializeForm(form *html.Node) string {
	var pairs []string
	for _, c := range formControls(form) {
		name := attr(c, "name")
		if name == "" || hasAttr(c, "disabled") {
			continue
		}
		if c.DataAtom == atom.Button {
			continue
		}
		if c.DataAtom == atom.Input {
			switch strings.ToLower(attr(c, "type")) {
			case "submit", "button", "reset", "image", "file":
				continue
			case "checkbox", "radio":
				if !hasAttr(c, "checked") {
					continue
				}
			}
		}
		pairs = append(pairs, url.QueryEscape(name)+"="+url.QueryEscape(controlValue(c)))
	}
	return strings.Join(pairs, "&")
}

// enclosing returns the nearest element at or above n with the given tag.
func enclosing(n *html.Node, a atom.Atom) *html.Node {
	for p := n; p != nil; p = p.Parent {
		if p.Type == html.ElementNode && p.DataAtom == a {
			return p
		}
	}
	return nil
}
