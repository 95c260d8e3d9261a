package sandbox

import (
	"context"
	"encoding/base64"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/GriffinCanCode/vsite/internal/protocol"
	"github.com/GriffinCanCode/vsite/internal/shared/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// host is a minimal host end: it answers file requests from tree and
// forwards every other message to msgs.
type host struct {
	port *protocol.Port
	tree types.FileTree
	msgs chan protocol.Message
}

func newHost(port *protocol.Port, tree types.FileTree) *host {
	h := &host{port: port, tree: tree, msgs: make(chan protocol.Message, 64)}
	go func() {
		for msg := range port.Messages() {
			if msg.Action != protocol.ActionRetrieveFile {
				h.msgs <- msg
				continue
			}
			var req protocol.RetrieveFile
			if err := msg.Decode(&req); err != nil {
				continue
			}
			reply := protocol.SendFile{Path: req.Path}
			if rec, ok := h.tree[req.Path]; ok {
				reply.Found = true
				reply.File = &rec
			}
			_ = port.Send(protocol.ActionSendFile, reply)
		}
	}()
	return h
}

func (h *host) next(t *testing.T, action protocol.Action) protocol.Message {
	t.Helper()
	select {
	case msg := <-h.msgs:
		require.Equal(t, action, msg.Action)
		return msg
	case <-time.After(3 * time.Second):
		t.Fatalf("no %s message", action)
		return protocol.Message{}
	}
}

type launchOpts struct {
	nav    types.NavigationState
	tree   types.FileTree
	utils  types.Utils
	direct bool
}

func launch(t *testing.T, page string, opts launchOpts) (*Adapter, *host) {
	t.Helper()
	if opts.nav.CurrentPath == "" {
		opts.nav.CurrentPath = "index.html"
	}
	hostPort, contentPort := protocol.Pipe()
	h := newHost(hostPort, opts.tree)

	cfg := DefaultConfig()
	cfg.Timeout = 2 * time.Second
	a, err := Launch(context.Background(), types.Page{HTML: page, Navigation: opts.nav}, contentPort, cfg, Deps{Logger: zap.NewNop()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })

	h.next(t, protocol.ActionReady)
	assert.Equal(t, StateAwaitingContext, a.State())

	sc := types.SharedContext{Navigation: opts.nav, Utils: opts.utils}
	if opts.direct {
		sc.FileTree = opts.tree
	}
	require.NoError(t, hostPort.Send(protocol.ActionSetContext, protocol.SetContext{Context: sc}))
	require.NoError(t, hostPort.Send(protocol.ActionScrollToAnchor, nil))

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	require.NoError(t, a.WaitReady(ctx))
	return a, h
}

func eval(t *testing.T, a *Adapter, src string) any {
	t.Helper()
	v, err := a.Eval(context.Background(), src)
	require.NoError(t, err)
	return v
}

func text(path, body string) types.FileRecord {
	return types.FileRecord{Path: path, Data: body, MimeType: "text/plain"}
}

func TestHandshakeReportsTitleAndFavicon(t *testing.T) {
	page := `<html><head><title> Home </title><link rel="icon" href="img/fav.png"></head><body></body></html>`
	a, h := launch(t, page, launchOpts{})

	var title protocol.SetTitle
	require.NoError(t, h.next(t, protocol.ActionSetTitle).Decode(&title))
	assert.Equal(t, "Home", title.Title)
	assert.Equal(t, "img/fav.png", title.Favicon)
	assert.Equal(t, "Home", a.Title())

	require.Eventually(t, func() bool { return a.State() == StateInteractive }, time.Second, 10*time.Millisecond)
}

func TestScriptsRunInDocumentOrder(t *testing.T) {
	page := `<html><head><script>order.push("page")</script></head><body><p>x</p></body></html>`
	utils := types.Utils{
		types.UtilCommon:     `var order = ["common"];`,
		types.UtilInjectPre:  `order.push("pre");`,
		types.UtilInjectPost: `order.push("post");`,
	}
	a, _ := launch(t, page, launchOpts{utils: utils})

	assert.Equal(t, "common,pre,page,post", eval(t, a, `order.join(",")`))
}

func TestEmbeddedScriptsRunWithEitherStrategy(t *testing.T) {
	tree := types.FileTree{
		"js/app.js": types.FileRecord{Data: `window.loaded = "yes";`, MimeType: "text/javascript"},
	}
	page := `<html><head><script src="js/app.js"></script></head><body></body></html>`

	for _, direct := range []bool{false, true} {
		name := "relay"
		if direct {
			name = "tree"
		}
		t.Run(name, func(t *testing.T) {
			a, _ := launch(t, page, launchOpts{tree: tree, direct: direct})
			assert.Equal(t, "yes", eval(t, a, `window.loaded`))
			assert.Equal(t, 1, a.Result().Embedded)
		})
	}
}

func TestFailingScriptDoesNotStopOthers(t *testing.T) {
	page := `<html><body><script>throw new Error("boom")</script><script>window.after = 1</script></body></html>`
	a, _ := launch(t, page, launchOpts{})

	assert.EqualValues(t, 1, eval(t, a, `window.after`))
}

func TestURLSearchParamsReadsSimulatedQuery(t *testing.T) {
	a, _ := launch(t, `<html><body></body></html>`, launchOpts{
		nav: types.NavigationState{CurrentPath: "search.html", GetParameters: "q=foo"},
	})

	assert.Equal(t, "foo", eval(t, a, `new URLSearchParams(window.location.search).get("q")`))
	assert.Equal(t, "bar", eval(t, a, `new URLSearchParams("q=bar").get("q")`))
	assert.Nil(t, eval(t, a, `new URLSearchParams("a=1").get("q")`))

	eval(t, a, `var p = new URLSearchParams("a=1"); p.delete("a"); window.kept = p.get("a")`)
	assert.Equal(t, "1", eval(t, a, `window.kept`))
	assert.Nil(t, eval(t, a, `history.replaceState(null, "", "x.html")`))
}

func TestFetchServesVirtualFiles(t *testing.T) {
	tree := types.FileTree{
		"data/site.json": types.FileRecord{Data: `{"name":"vsite"}`, MimeType: "application/json"},
	}
	a, _ := launch(t, `<html><body></body></html>`, launchOpts{
		nav:  types.NavigationState{CurrentPath: "docs/index.html"},
		tree: tree,
	})

	eval(t, a, `
		fetch("../data/site.json").then(function (r) { return r.json() }).then(function (d) { window.name1 = d.name })
		fetch("missing.json").then(function (r) { window.status = r.status; window.ok = r.ok })
	`)

	require.Eventually(t, func() bool {
		v, _ := a.Eval(context.Background(), `window.name1`)
		return v == "vsite"
	}, 2*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool {
		v, _ := a.Eval(context.Background(), `window.status`)
		return v == int64(404)
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, false, eval(t, a, `window.ok`))
}

func TestClickOnVirtualLinkRequestsNavigation(t *testing.T) {
	page := `<html><body><a id="l" href="b.html?x=1#top"><span id="s">go</span></a></body></html>`
	a, h := launch(t, page, launchOpts{nav: types.NavigationState{CurrentPath: "docs/a.html"}})
	h.next(t, protocol.ActionSetTitle)

	res, err := a.Click(context.Background(), "#s")
	require.NoError(t, err)
	assert.True(t, res.Prevented)
	assert.Equal(t, "docs/b.html", res.Virtual)

	var nav protocol.VirtualClick
	require.NoError(t, h.next(t, protocol.ActionVirtualClick).Decode(&nav))
	assert.Equal(t, protocol.VirtualClick{Path: "docs/b.html", GetParameters: "x=1", Anchor: "top"}, nav)
}

func TestSubmitSerializesForm(t *testing.T) {
	page := `<html><body>
		<form id="f" action="search.html#results">
			<input name="q" value="hello world">
			<input type="checkbox" name="all">
			<input type="checkbox" name="exact" checked>
			<select name="lang"><option value="en">English</option><option value="de" selected>German</option></select>
			<input type="submit" id="go" name="go" value="Go">
		</form></body></html>`
	a, h := launch(t, page, launchOpts{nav: types.NavigationState{CurrentPath: "docs/index.html"}})
	h.next(t, protocol.ActionSetTitle)

	_, err := a.Click(context.Background(), "#go")
	require.NoError(t, err)

	var nav protocol.VirtualClick
	require.NoError(t, h.next(t, protocol.ActionVirtualClick).Decode(&nav))
	assert.Equal(t, "docs/search.html", nav.Path)
	assert.Equal(t, "q=hello+world&exact=on&lang=de", nav.GetParameters)
	assert.Equal(t, "results", nav.Anchor)
}

func TestPostFormIsNotRewired(t *testing.T) {
	page := `<html><body><form id="f" method="post" action="save.html"><input name="a" value="1"></form></body></html>`
	a, h := launch(t, page, launchOpts{})
	h.next(t, protocol.ActionSetTitle)

	res, err := a.Submit(context.Background(), "#f")
	require.NoError(t, err)
	assert.Empty(t, res.Virtual)
	select {
	case msg := <-h.msgs:
		t.Fatalf("unexpected %s", msg.Action)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestAnchorLinkScrollsInPlace(t *testing.T) {
	page := `<html><body><a id="a" href="#sec">down</a><h2 id="sec">Section</h2></body></html>`
	a, _ := launch(t, page, launchOpts{})

	res, err := a.Click(context.Background(), "#a")
	require.NoError(t, err)
	assert.Equal(t, "sec", res.Anchor)
	assert.Empty(t, res.Virtual)

	anchor, err := a.Anchor(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "sec", anchor)
}

func TestExternalLinkOpensOutside(t *testing.T) {
	page := `<html><body>
		<a id="e" href="https://example.com/">out</a>
		<a id="blocked" href="https://example.com/" onclick="return false">blocked</a>
	</body></html>`
	a, _ := launch(t, page, launchOpts{})

	res, err := a.Click(context.Background(), "#e")
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/", res.External)

	res, err = a.Click(context.Background(), "#blocked")
	require.NoError(t, err)
	assert.True(t, res.Prevented)
	assert.Empty(t, res.External)
}

func TestListenersRunBeforeInlineHandler(t *testing.T) {
	page := `<html><body><button id="b" onclick="seen.push('inline')">b</button>
		<script>
			var seen = [];
			document.getElementById("b").addEventListener("click", function () { seen.push("listener") });
			document.addEventListener("click", function () { seen.push("document") });
		</script></body></html>`
	a, _ := launch(t, page, launchOpts{})

	_, err := a.Click(context.Background(), "#b")
	require.NoError(t, err)
	assert.Equal(t, "listener,inline,document", eval(t, a, `seen.join(",")`))
}

func TestCtrlZAsksForMenu(t *testing.T) {
	a, h := launch(t, `<html><body></body></html>`, launchOpts{})
	h.next(t, protocol.ActionSetTitle)

	require.NoError(t, a.KeyUp(context.Background(), "x", true))
	require.NoError(t, a.KeyUp(context.Background(), "z", false))
	require.NoError(t, a.KeyUp(context.Background(), "z", true))
	h.next(t, protocol.ActionShowMenu)
}

func TestScrollToAnchorFromNavigation(t *testing.T) {
	page := `<html><body><h1 id="intro">Intro</h1></body></html>`
	a, _ := launch(t, page, launchOpts{nav: types.NavigationState{CurrentPath: "index.html", Anchor: "intro"}})

	require.Eventually(t, func() bool {
		anchor, _ := a.Anchor(context.Background())
		return anchor == "intro" && a.State() == StateInteractive
	}, time.Second, 10*time.Millisecond)
}

func TestInsertedContentIsRewritten(t *testing.T) {
	png := base64.StdEncoding.EncodeToString([]byte("\x89PNG\r\n\x1a\nfake"))
	tree := types.FileTree{
		"img/logo.png": types.FileRecord{Data: png, MimeType: "image/png", Base64Encoded: true},
	}
	page := `<html><body><div id="box"></div>
		<script>
			document.getElementById("box").innerHTML = '<a id="dyn" href="c.html">c</a><img id="pic" src="img/logo.png">';
		</script></body></html>`
	a, _ := launch(t, page, launchOpts{tree: tree})

	assert.Equal(t, "virtualClick(event)", eval(t, a, `document.getElementById("dyn").getAttribute("onclick")`))
	require.Eventually(t, func() bool {
		v, _ := a.Eval(context.Background(), `document.getElementById("pic").getAttribute("src")`)
		s, _ := v.(string)
		return strings.HasPrefix(s, "data:image/png;base64,")
	}, 2*time.Second, 10*time.Millisecond)
}

func TestInsertedScriptRuns(t *testing.T) {
	tree := types.FileTree{"js/late.js": text("js/late.js", `window.late = true;`)}
	page := `<html><body><script>
		var s = document.createElement("script");
		s.textContent = "window.inline = true;";
		document.body.appendChild(s);
		var r = document.createElement("script");
		r.setAttribute("src", "js/late.js");
		document.body.appendChild(r);
	</script></body></html>`
	a, _ := launch(t, page, launchOpts{tree: tree})

	assert.Equal(t, true, eval(t, a, `window.inline`))
	require.Eventually(t, func() bool {
		v, _ := a.Eval(context.Background(), `window.late`)
		return v == true
	}, 2*time.Second, 10*time.Millisecond)
}

func TestJQueryHelpersArePatched(t *testing.T) {
	tree := types.FileTree{"data/index.txt": text("data/index.txt", "indexed")}
	page := `<html><body>
		<script>
			window.jQuery = {
				ajax: function (s) { window.original = s.url },
				getQueryParameters: function (s) { return "params:" + s }
			};
		</script>
		<script>
			jQuery.ajax({url: "data/index.txt", complete: function (xhr, status) { window.got = xhr.responseText + "|" + status }});
			jQuery.ajax({url: "https://example.com/x"});
		</script>
		<script>
			jQuery.ajax = function () { window.replaced = true };
			jQuery.getQueryParameters = function () { return "replaced" };
		</script></body></html>`
	a, _ := launch(t, page, launchOpts{
		tree: tree,
		nav:  types.NavigationState{CurrentPath: "index.html", GetParameters: "q=term"},
	})

	assert.Equal(t, "indexed|", eval(t, a, `window.got`))
	assert.Equal(t, "https://example.com/x", eval(t, a, `window.original`))
	assert.Equal(t, "params:?q=term", eval(t, a, `jQuery.getQueryParameters()`))
	assert.Equal(t, "params:?a=1", eval(t, a, `jQuery.getQueryParameters("?a=1")`))
	assert.Nil(t, eval(t, a, `window.replaced`))
}

// bundleUtils reads the utility scripts a bundle of the given generation
// carries under testdata/bundle.
func bundleUtils(t *testing.T, generation string) types.Utils {
	t.Helper()
	utils := types.Utils{}
	for _, name := range []string{types.UtilCommon, types.UtilInjectPre, types.UtilInjectPost} {
		src, err := os.ReadFile(filepath.Join("testdata", "bundle", generation, name+".js"))
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		require.NoError(t, err)
		utils[name] = string(src)
	}
	require.Contains(t, utils, types.UtilCommon)
	return utils
}

func TestBundleUtilityScriptsKeepShims(t *testing.T) {
	tree := types.FileTree{"docs/data.txt": text("docs/data.txt", "from the tree")}
	page := `<html><head><title>Docs</title></head><body>
		<a id="next" href="b.html">next</a>
		<script>
			var got = "pending";
			fetch("data.txt").then(function (r) { return r.text() }).then(
				function (t) { got = t },
				function (e) { got = "ERR " + e });
		</script></body></html>`

	for _, generation := range []string{"legacy", "current"} {
		t.Run(generation, func(t *testing.T) {
			a, h := launch(t, page, launchOpts{
				tree:  tree,
				utils: bundleUtils(t, generation),
				nav:   types.NavigationState{CurrentPath: "docs/index.html", GetParameters: "q=x"},
			})
			h.next(t, protocol.ActionSetTitle)

			require.Eventually(t, func() bool {
				v, _ := a.Eval(context.Background(), `got`)
				return v != "pending"
			}, 2*time.Second, 10*time.Millisecond)
			assert.Equal(t, "from the tree", eval(t, a, `got`))

			assert.Equal(t, "function", eval(t, a, `typeof normalizePath`))
			assert.Equal(t, "docs/data.txt", eval(t, a, `normalizePath("data.txt")`))
			assert.Equal(t, "x", eval(t, a, `new URLSearchParams().get("q")`))

			res, err := a.Click(context.Background(), "#next")
			require.NoError(t, err)
			assert.Equal(t, "docs/b.html", res.Virtual)
			var nav protocol.VirtualClick
			require.NoError(t, h.next(t, protocol.ActionVirtualClick).Decode(&nav))
			assert.Equal(t, "docs/b.html", nav.Path)
		})
	}
}

func TestGlobalContextIsReadOnly(t *testing.T) {
	a, _ := launch(t, `<html><body></body></html>`, launchOpts{
		nav: types.NavigationState{CurrentPath: "a/b.html", GetParameters: "k=v", Anchor: "top"},
	})

	eval(t, a, `globalContext.current_path = "elsewhere.html"; window.fetch = null; history.replaceState = null`)
	assert.Equal(t, "a/b.html", eval(t, a, `globalContext.current_path`))
	assert.Equal(t, "k=v", eval(t, a, `globalContext.getParameters`))
	assert.Equal(t, "top", eval(t, a, `globalContext.anchor`))
	assert.Equal(t, "function", eval(t, a, `typeof fetch`))
	assert.Equal(t, "function", eval(t, a, `typeof history.replaceState`))

	_, err := a.Eval(context.Background(), `"use strict"; fetch = null`)
	assert.Error(t, err)
}

func TestContextRightAfterReadyIsKept(t *testing.T) {
	for i := 0; i < 20; i++ {
		hostPort, contentPort := protocol.Pipe()
		nav := types.NavigationState{CurrentPath: "index.html"}
		go func() {
			for msg := range hostPort.Messages() {
				if msg.Action == protocol.ActionReady {
					_ = hostPort.Send(protocol.ActionSetContext, protocol.SetContext{Context: types.SharedContext{Navigation: nav}})
				}
			}
		}()

		a, err := Launch(context.Background(), types.Page{HTML: `<html><body></body></html>`, Navigation: nav}, contentPort, DefaultConfig(), Deps{Logger: zap.NewNop()})
		require.NoError(t, err)

		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		require.NoError(t, a.WaitReady(ctx))
		cancel()
		require.NoError(t, a.Close())
		_ = hostPort.Close()
	}
}

func TestElementIdentityIsStable(t *testing.T) {
	a, _ := launch(t, `<html><body><p id="p" class="a b">hi</p></body></html>`, launchOpts{})

	assert.Equal(t, true, eval(t, a, `document.getElementById("p") === document.querySelector("p.a")`))
	assert.Equal(t, true, eval(t, a, `document.body.children[0] === document.getElementById("p")`))
	eval(t, a, `document.getElementById("p").classList.remove("a"); document.getElementById("p").classList.add("c")`)
	assert.Equal(t, "b c", eval(t, a, `document.getElementById("p").className`))
}

func TestCloseDisposesSandbox(t *testing.T) {
	a, _ := launch(t, `<html><body></body></html>`, launchOpts{})
	require.NoError(t, a.Close())

	assert.Equal(t, StateDisposed, a.State())
	_, err := a.Eval(context.Background(), `1`)
	assert.ErrorIs(t, err, ErrClosed)
	_, err = a.Click(context.Background(), "body")
	assert.Error(t, err)
}

func TestRelayRetrievalAbortsOnClose(t *testing.T) {
	hostPort, contentPort := protocol.Pipe()
	a, err := Launch(context.Background(), types.Page{HTML: `<html><head><script src="a.js"></script></head></html>`},
		contentPort, DefaultConfig(), Deps{})
	require.NoError(t, err)

	msg := <-hostPort.Messages()
	require.Equal(t, protocol.ActionReady, msg.Action)
	require.NoError(t, hostPort.Send(protocol.ActionSetContext, protocol.SetContext{
		Context: types.SharedContext{Navigation: types.NavigationState{CurrentPath: "index.html"}},
	}))
	msg = <-hostPort.Messages()
	require.Equal(t, protocol.ActionRetrieveFile, msg.Action)

	require.NoError(t, a.Close())
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.ErrorIs(t, a.WaitReady(ctx), ErrClosed)
}
