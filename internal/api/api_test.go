package api

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/GriffinCanCode/vsite/internal/config"
	"github.com/GriffinCanCode/vsite/internal/host"
	"github.com/GriffinCanCode/vsite/internal/monitoring"
	"github.com/GriffinCanCode/vsite/internal/sandbox"
	"github.com/GriffinCanCode/vsite/internal/shared/types"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func payload() *types.Payload {
	return &types.Payload{
		CurrentPath: "index.html",
		FileTree: types.FileTree{
			"index.html": {MimeType: "text/html", Data: `<html><head><title>Home</title></head><body>` +
				`<a id="next" href="docs/a.html?x=1#top">next</a>` +
				`<form id="f" action="docs/a.html"><input name="q" value="go"><button id="go">go</button></form>` +
				`</body></html>`},
			"docs/a.html":  {MimeType: "text/html", Data: `<html><head><title>A</title></head><body><h1 id="top">A</h1></body></html>`},
			"img/logo.png": {MimeType: "image/png", Base64Encoded: true, Data: base64.StdEncoding.EncodeToString([]byte("\x89PNG\r\n\x1a\n"))},
			"notes.txt":    {MimeType: "text/plain", Data: "hello"},
		},
	}
}

type fixture struct {
	server     *Server
	controller *host.Controller
}

func setup(t *testing.T) *fixture {
	t.Helper()
	session, err := host.NewSession(payload())
	require.NoError(t, err)

	metrics := monitoring.NewMetrics()
	scfg := sandbox.DefaultConfig()
	scfg.Timeout = 2 * time.Second
	factory := sandbox.NewFactory(scfg, sandbox.Deps{Logger: zap.NewNop(), Metrics: metrics})

	ctrl := host.New(session, host.FactoryLauncher(factory), zap.NewNop(), host.Config{Metrics: metrics})
	t.Cleanup(func() { _ = ctrl.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	require.NoError(t, ctrl.Start(ctx))
	require.NoError(t, ctrl.WaitLoaded(ctx))

	cfg := config.Default()
	cfg.RateLimit.Enabled = false
	return &fixture{server: NewServer(ctrl, cfg, metrics, zap.NewNop()), controller: ctrl}
}

func (f *fixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v))
	return v
}

func TestHealthAndState(t *testing.T) {
	f := setup(t)

	w := f.do(t, "GET", "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "healthy", decode[map[string]any](t, w)["status"])

	w = f.do(t, "GET", "/state", nil)
	require.Equal(t, http.StatusOK, w.Code)
	st := decode[host.State](t, w)
	assert.Equal(t, "index.html", st.Navigation.CurrentPath)
	assert.NotEmpty(t, st.Sandbox)
	assert.Len(t, st.History, 1)
}

func TestFiles(t *testing.T) {
	f := setup(t)

	tests := []struct {
		name       string
		query      string
		wantStatus int
		wantFiles  []string
	}{
		{"all", "", http.StatusOK, []string{"docs/a.html", "img/logo.png", "index.html", "notes.txt"}},
		{"glob", "?match=**/*.html", http.StatusOK, []string{"docs/a.html", "index.html"}},
		{"bad pattern", "?match=%5B", http.StatusBadRequest, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := f.do(t, "GET", "/files"+tt.query, nil)
			require.Equal(t, tt.wantStatus, w.Code)
			if tt.wantFiles != nil {
				body := decode[struct {
					Files []string `json:"files"`
				}](t, w)
				assert.Equal(t, tt.wantFiles, body.Files)
			}
		})
	}
}

func TestDownload(t *testing.T) {
	f := setup(t)

	w := f.do(t, "GET", "/files/img/logo.png", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "image/png", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Header().Get("Content-Disposition"), `filename="logo.png"`)
	assert.Equal(t, []byte("\x89PNG\r\n\x1a\n"), w.Body.Bytes())

	w = f.do(t, "GET", "/files/missing.txt", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestNavigateAndHistory(t *testing.T) {
	f := setup(t)

	w := f.do(t, "POST", "/navigate", NavigateRequest{Ref: "docs/a.html?x=2#top", Wait: true})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	st := decode[host.State](t, w)
	assert.Equal(t, types.NavigationState{CurrentPath: "docs/a.html", GetParameters: "x=2", Anchor: "top"}, st.Navigation)

	w = f.do(t, "GET", "/page", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `<h1 id="top">A</h1>`)

	w = f.do(t, "POST", "/back?wait=true", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "index.html", decode[host.State](t, w).Navigation.CurrentPath)

	w = f.do(t, "POST", "/back", nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = f.do(t, "POST", "/forward?wait=true", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "x=2", decode[host.State](t, w).Navigation.GetParameters)
}

func TestNavigateErrors(t *testing.T) {
	f := setup(t)

	tests := []struct {
		name       string
		body       any
		wantStatus int
	}{
		{"missing target", NavigateRequest{Ref: "nope.html"}, http.StatusNotFound},
		{"empty request", NavigateRequest{}, http.StatusBadRequest},
		{"oversized ref", NavigateRequest{Ref: strings.Repeat("a", MaxRefLength+1)}, http.StatusBadRequest},
		{"explicit path", NavigateRequest{Path: "docs/a.html", Wait: true}, http.StatusOK},
		{"rooted path", NavigateRequest{Path: "/docs/a.html", Wait: true}, http.StatusOK},
		{"dotted path", NavigateRequest{Path: "./docs/../docs/a.html", Wait: true}, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := f.do(t, "POST", "/navigate", tt.body)
			assert.Equal(t, tt.wantStatus, w.Code, w.Body.String())
		})
	}
}

func TestClickAndSubmit(t *testing.T) {
	f := setup(t)

	w := f.do(t, "POST", "/click", SelectorRequest{Selector: "#nope"})
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = f.do(t, "POST", "/click", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(t, "POST", "/submit", SelectorRequest{Selector: "#go"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	res := decode[sandbox.ClickResult](t, w)
	assert.Equal(t, "docs/a.html", res.Virtual)

	require.Eventually(t, func() bool {
		st := f.controller.State()
		return st.Navigation.CurrentPath == "docs/a.html" && st.Navigation.GetParameters == "q=go" && st.Pending == ""
	}, 3*time.Second, 10*time.Millisecond)
}

func TestKeyOpensMenu(t *testing.T) {
	f := setup(t)

	w := f.do(t, "POST", "/key", KeyRequest{Key: "z", Ctrl: true})
	require.Equal(t, http.StatusNoContent, w.Code)
	require.Eventually(t, func() bool { return f.controller.State().Chrome.MenuOpen }, 2*time.Second, 10*time.Millisecond)

	w = f.do(t, "POST", "/menu/close", nil)
	require.Equal(t, http.StatusNoContent, w.Code)
	assert.False(t, f.controller.State().Chrome.MenuOpen)
}

func TestMetrics(t *testing.T) {
	f := setup(t)

	w := f.do(t, "GET", "/metrics", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "vsite_navigations_total")
}

func TestEventStream(t *testing.T) {
	f := setup(t)
	srv := httptest.NewServer(f.server.Handler())
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/events"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))

	var hello struct {
		Type  string     `json:"type"`
		State host.State `json:"state"`
	}
	require.NoError(t, conn.ReadJSON(&hello))
	assert.Equal(t, "state", hello.Type)
	assert.Equal(t, "index.html", hello.State.Navigation.CurrentPath)

	require.NoError(t, conn.WriteJSON(map[string]string{"type": "ping"}))
	for {
		var msg map[string]any
		require.NoError(t, conn.ReadJSON(&msg))
		if msg["type"] == "pong" {
			break
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	require.NoError(t, f.controller.NavigateTo(ctx, "docs/a.html"))

	seen := map[host.EventType]bool{}
	for !seen[host.EventReady] {
		var ev host.Event
		require.NoError(t, conn.ReadJSON(&ev))
		seen[ev.Type] = true
	}
	assert.True(t, seen[host.EventLoading])
}
