package rewrite

import (
	"github.com/GriffinCanCode/vsite/internal/shared/types"
	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// UtilAttr marks script elements that carry bundle utility code.
const UtilAttr = "data-vsite-util"

// InjectUtils places the bundle's utility scripts so that, in document order,
// common and inject_pre precede every page script and inject_post follows them.
func InjectUtils(doc *goquery.Document, utils types.Utils) {
	head := doc.Find("head").First()
	pre := utils.Pre()
	for i := len(pre) - 1; i >= 0; i-- {
		head.PrependNodes(utilScript(pre[i].Name, pre[i].Source))
	}

	body := doc.Find("body").First()
	for _, u := range utils.Post() {
		body.AppendNodes(utilScript(u.Name, u.Source))
	}
}

func utilScript(name, src string) *html.Node {
	n := &html.Node{
		Type:     html.ElementNode,
		Data:     "script",
		DataAtom: atom.Script,
		Attr:     []html.Attribute{{Key: UtilAttr, Val: name}},
	}
	n.AppendChild(&html.Node{Type: html.TextNode, Data: src})
	return n
}
