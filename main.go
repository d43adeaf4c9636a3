package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	config "github.com/drummonds/pageview/config"
	engine "github.com/drummonds/pageview/engine"
	"github.com/drummonds/pageview/engine/pdfrenderer"
	"github.com/drummonds/pageview/server"
	"github.com/drummonds/pageview/surface"
)

// Logger is global since we will need it everywhere
var Logger *slog.Logger

// injectGlobals injects all of our globals into their packages
func injectGlobals(logger *slog.Logger) {
	Logger = logger
	config.Logger = Logger
	engine.Logger = Logger
	pdfrenderer.Logger = Logger
}

// newEcho builds the HTTP server around an already wired handler
func newEcho(handler *server.ServerHandler) *echo.Echo {
	e := echo.New()
	e.HideBanner = true

	// Custom 404 handler
	e.HTTPErrorHandler = func(err error, c echo.Context) {
		code := http.StatusInternalServerError
		if he, ok := err.(*echo.HTTPError); ok {
			code = he.Code
		}
		if code == http.StatusNotFound {
			c.JSON(http.StatusNotFound, map[string]string{
				"error":   "Not Found",
				"message": "The requested API endpoint does not exist",
				"path":    c.Request().URL.Path,
			})
			return
		}
		e.DefaultHTTPErrorHandler(err, c)
	}

	e.Use(middleware.CORSWithConfig(middleware.DefaultCORSConfig))
	e.Use(middleware.Recover())
	handler.AddRoutes(e)
	return e
}

func main() {
	port := flag.String("port", "", "Port to run the viewer on (overrides SERVER_PORT)")
	doc := flag.String("doc", "", "PDF to open at startup (overrides DOCUMENT_URI)")
	flag.Parse()

	viewerConfig, logger := config.SetupViewer()
	injectGlobals(logger) //inject the logger into all of the packages
	if *port != "" {
		viewerConfig.ListenAddrPort = *port
	}
	if *doc != "" {
		viewerConfig.DocumentURI = *doc
	}

	if err := startupChecks(viewerConfig); err != nil {
		Logger.Error("Startup checks failed", "error", err)
		os.Exit(1)
	}

	fmt.Println("\n" + strings.Repeat("=", 50))
	fmt.Println("📄  pageview")
	fmt.Println(strings.Repeat("=", 50))
	fmt.Println("• Backend:", viewerConfig.RenderBackend)
	fmt.Println("• Zoom levels:", viewerConfig.ZoomLevels)
	fmt.Println("• Cached pages:", viewerConfig.MaxCached)
	fmt.Println(strings.Repeat("=", 50) + "\n")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	channel := server.NewChannel(viewerConfig.DefaultZoomIndex)
	visible := surface.New()
	scheduler := engine.NewScheduler(pdfrenderer.NewOpener(viewerConfig.RenderBackend), channel, visible, engine.Options{
		ZoomLevels:       viewerConfig.ZoomLevels,
		MaxCached:        viewerConfig.MaxCached,
		DevicePixelRatio: viewerConfig.DevicePixelRatio,
	})
	go func() {
		if err := scheduler.Run(ctx); err != nil {
			Logger.Info("Scheduler stopped", "reason", err)
		}
	}()

	if viewerConfig.DocumentURI != "" {
		if err := scheduler.Load(ctx, viewerConfig.DocumentURI); err != nil {
			Logger.Error("Unable to load document, serving without one", "uri", viewerConfig.DocumentURI, "error", err)
		}
	} else {
		Logger.Warn("No DOCUMENT_URI set, serving without a document")
	}

	if c := scheduler.InitializeSchedules(viewerConfig.StatsInterval); c != nil {
		defer c.Stop()
	}

	handler := &server.ServerHandler{
		Scheduler:  scheduler,
		Surface:    visible,
		Channel:    channel,
		ZoomLevels: scheduler.ZoomLevels(),
	}
	e := newEcho(handler)
	e.Use(middleware.Logger())

	if viewerConfig.ListenAddrIP == "" {
		Logger.Info("No Ip Addr set, binding on ALL addresses")
	}
	addr := fmt.Sprintf("%s:%s", viewerConfig.ListenAddrIP, viewerConfig.ListenAddrPort)
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := e.Shutdown(shutdownCtx); err != nil {
			Logger.Error("Server shutdown failed", "error", err)
		}
	}()

	Logger.Info("Starting HTTP server", "address", addr)
	if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
		Logger.Error("Failed to start server", "error", err)
		os.Exit(1)
	}
}
