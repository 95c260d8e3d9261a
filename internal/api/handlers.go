package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/GriffinCanCode/vsite/internal/host"
	"github.com/GriffinCanCode/vsite/internal/sandbox"
	"github.com/GriffinCanCode/vsite/internal/shared/types"
	"github.com/bmatcuk/doublestar/v4"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// waitTimeout bounds how long a request with wait=true blocks on a load.
const waitTimeout = 10 * time.Second

type handlers struct {
	controller *host.Controller
	log        *zap.Logger
}

// NavigateRequest asks for a navigation. Ref is resolved against the page
// on display; otherwise Path, GetParameters and Anchor are used verbatim.
type NavigateRequest struct {
	Ref           string `json:"ref"`
	Path          string `json:"path"`
	GetParameters string `json:"getParameters"`
	Anchor        string `json:"anchor"`
	Wait          bool   `json:"wait"`
}

// SelectorRequest targets one element of the page on display.
type SelectorRequest struct {
	Selector string `json:"selector" binding:"required"`
}

// KeyRequest is a key release on the page on display.
type KeyRequest struct {
	Key  string `json:"key" binding:"required"`
	Ctrl bool   `json:"ctrl"`
}

func (h *handlers) health(c *gin.Context) {
	st := h.controller.State()
	c.JSON(http.StatusOK, gin.H{
		"status":  "healthy",
		"session": st.Session,
		"sandbox": st.Sandbox,
		"loading": st.Chrome.Loading,
	})
}

func (h *handlers) state(c *gin.Context) {
	c.JSON(http.StatusOK, h.controller.State())
}

func (h *handlers) files(c *gin.Context) {
	pattern := c.Query("match")
	if err := validatePattern(pattern); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	files, err := h.controller.Panel().Files(pattern)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"files": files, "count": len(files)})
}

func (h *handlers) download(c *gin.Context) {
	path := strings.TrimPrefix(c.Param("path"), "/")
	d, err := h.controller.Panel().Download(path)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", d.Name))
	c.Data(http.StatusOK, d.MimeType, d.Data)
}

func (h *handlers) navigate(c *gin.Context) {
	var req NavigateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := validateNavigate(req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx := c.Request.Context()
	var err error
	if req.Ref != "" {
		err = h.controller.NavigateTo(ctx, req.Ref)
	} else {
		err = h.controller.Navigate(ctx, types.NavigationState{
			CurrentPath:   req.Path,
			GetParameters: req.GetParameters,
			Anchor:        req.Anchor,
		})
	}
	h.settle(c, err, req.Wait)
}

func (h *handlers) back(c *gin.Context) {
	h.settle(c, h.controller.Back(c.Request.Context()), c.Query("wait") == "true")
}

func (h *handlers) forward(c *gin.Context) {
	h.settle(c, h.controller.Forward(c.Request.Context()), c.Query("wait") == "true")
}

// settle answers a navigation, optionally after the new page has loaded.
func (h *handlers) settle(c *gin.Context, err error, wait bool) {
	if err != nil {
		h.fail(c, err)
		return
	}
	if !wait {
		c.JSON(http.StatusAccepted, h.controller.State())
		return
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), waitTimeout)
	defer cancel()
	if err := h.controller.WaitLoaded(ctx); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, h.controller.State())
}

func (h *handlers) page(c *gin.Context) {
	html, err := h.controller.HTML(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.Data(http.StatusOK, "text/html; charset=utf-8", []byte(html))
}

func (h *handlers) click(c *gin.Context) {
	h.activate(c, h.controller.Click)
}

func (h *handlers) submit(c *gin.Context) {
	h.activate(c, h.controller.Submit)
}

func (h *handlers) activate(c *gin.Context, fn func(context.Context, string) (sandbox.ClickResult, error)) {
	var req SelectorRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := validateSelector(req.Selector); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	res, err := fn(c.Request.Context(), req.Selector)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *handlers) key(c *gin.Context) {
	var req KeyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.controller.KeyUp(c.Request.Context(), req.Key, req.Ctrl); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *handlers) closeMenu(c *gin.Context) {
	if err := h.controller.CloseMenu(c.Request.Context()); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// fail maps controller errors onto status codes.
func (h *handlers) fail(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, types.ErrResourceNotFound), errors.Is(err, sandbox.ErrNoElement):
		status = http.StatusNotFound
	case errors.Is(err, doublestar.ErrBadPattern):
		status = http.StatusBadRequest
	case errors.Is(err, host.ErrNoHistory), errors.Is(err, host.ErrNoSandbox):
		status = http.StatusConflict
	case errors.Is(err, host.ErrClosed), errors.Is(err, sandbox.ErrClosed):
		status = http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		status = http.StatusGatewayTimeout
	}
	if status >= http.StatusInternalServerError {
		h.log.Warn("request failed", zap.String("path", c.FullPath()), zap.Error(err))
	}
	c.JSON(status, gin.H{"error": err.Error()})
}
