package server

import (
	"bytes"
	"context"
	"encoding/json"
	"image/png"
	"net/http"
	"strconv"
	"time"

	"github.com/drummonds/pageview/engine"
	"github.com/drummonds/pageview/surface"
	"github.com/labstack/echo/v4"
)

// statsTimeout bounds how long a request waits for the scheduler loop
const statsTimeout = 5 * time.Second

// Navigator is the part of the scheduler the routes drive
type Navigator interface {
	OnNavigate(lazy bool)
	Stats(ctx context.Context) (engine.Stats, error)
}

// ServerHandler will inject the variables needed into routes
type ServerHandler struct {
	Scheduler  Navigator
	Surface    *surface.ImageSurface
	Channel    *Channel
	ZoomLevels []float64
}

// NavigateRequest is the body of POST /api/navigate. A missing zoom index
// keeps the current one.
type NavigateRequest struct {
	Page      int  `json:"page"`
	ZoomIndex *int `json:"zoomIndex,omitempty"`
	Lazy      bool `json:"lazy"`
}

// Selection is the host's current page and zoom
type Selection struct {
	Page       int     `json:"page"`
	ZoomIndex  int     `json:"zoomIndex"`
	ZoomFactor float64 `json:"zoomFactor"`
	Lazy       bool    `json:"lazy"`
}

// DocumentInfo is the response of GET /api/document
type DocumentInfo struct {
	PageCount  int             `json:"pageCount"`
	ZoomLevels []float64       `json:"zoomLevels"`
	Selection  Selection       `json:"selection"`
	Properties json.RawMessage `json:"properties,omitempty"`
}

// AddRoutes registers every API route on e
func (h *ServerHandler) AddRoutes(e *echo.Echo) {
	e.GET("/api/health", h.GetHealth)
	e.GET("/api/document", h.GetDocument)
	e.POST("/api/navigate", h.Navigate)
	e.GET("/api/page.png", h.GetPageImage)
	e.GET("/api/text", h.GetTextOverlay)
	e.GET("/api/stats", h.GetStats)
}

func errorJSON(c echo.Context, code int, message string) error {
	return c.JSON(code, map[string]string{
		"error":   http.StatusText(code),
		"message": message,
	})
}

func (h *ServerHandler) selection(lazy bool) Selection {
	zoomIndex := h.Channel.ZoomLevelIndex()
	sel := Selection{Page: h.Channel.Page(), ZoomIndex: zoomIndex, Lazy: lazy}
	if zoomIndex >= 0 && zoomIndex < len(h.ZoomLevels) {
		sel.ZoomFactor = h.ZoomLevels[zoomIndex]
	}
	return sel
}

// GetHealth reports that the server is up
func (h *ServerHandler) GetHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status":  "healthy",
		"service": "pageview",
	})
}

// GetDocument returns the page count, zoom levels and document properties
func (h *ServerHandler) GetDocument(c echo.Context) error {
	return c.JSON(http.StatusOK, DocumentInfo{
		PageCount:  h.Channel.PageCount(),
		ZoomLevels: h.ZoomLevels,
		Selection:  h.selection(false),
		Properties: h.Channel.Properties(),
	})
}

// Navigate changes the selection and tells the scheduler about it
func (h *ServerHandler) Navigate(c echo.Context) error {
	var req NavigateRequest
	if err := json.NewDecoder(c.Request().Body).Decode(&req); err != nil {
		return errorJSON(c, http.StatusBadRequest, "invalid navigate request: "+err.Error())
	}
	pageCount := h.Channel.PageCount()
	if pageCount == 0 {
		return errorJSON(c, http.StatusServiceUnavailable, "no document loaded")
	}
	if req.Page < 1 || req.Page > pageCount {
		return errorJSON(c, http.StatusBadRequest, "page must be between 1 and "+strconv.Itoa(pageCount))
	}
	zoomIndex := h.Channel.ZoomLevelIndex()
	if req.ZoomIndex != nil {
		zoomIndex = *req.ZoomIndex
	}
	if zoomIndex < 0 || zoomIndex >= len(h.ZoomLevels) {
		return errorJSON(c, http.StatusBadRequest, "zoomIndex must be between 0 and "+strconv.Itoa(len(h.ZoomLevels)-1))
	}

	h.Channel.Select(req.Page, zoomIndex)
	h.Scheduler.OnNavigate(req.Lazy)
	return c.JSON(http.StatusAccepted, h.selection(req.Lazy))
}

// GetPageImage serves the visible surface as PNG, optionally scaled to ?width=
func (h *ServerHandler) GetPageImage(c echo.Context) error {
	width := 0
	if raw := c.QueryParam("width"); raw != "" {
		w, err := strconv.Atoi(raw)
		if err != nil || w < 1 {
			return errorJSON(c, http.StatusBadRequest, "width must be a positive integer")
		}
		width = w
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, h.Surface.Snapshot(width)); err != nil {
		return errorJSON(c, http.StatusInternalServerError, "unable to encode page: "+err.Error())
	}
	c.Response().Header().Set("Cache-Control", "no-store")
	return c.Blob(http.StatusOK, "image/png", buf.Bytes())
}

// GetTextOverlay serves the selectable text over the visible page
func (h *ServerHandler) GetTextOverlay(c echo.Context) error {
	return c.JSON(http.StatusOK, h.Surface.OverlaySnapshot())
}

// GetStats returns scheduler, cache and surface counters
func (h *ServerHandler) GetStats(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), statsTimeout)
	defer cancel()
	stats, err := h.Scheduler.Stats(ctx)
	if err != nil {
		return errorJSON(c, http.StatusServiceUnavailable, "scheduler unavailable: "+err.Error())
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"scheduler": stats,
		"surface":   h.Surface.Info(),
	})
}
