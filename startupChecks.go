package main

import (
	"fmt"
	"os"

	config "github.com/drummonds/pageview/config"
	"github.com/drummonds/pageview/engine/pdfrenderer"
)

// startupChecks performs all the checks to make sure the viewer can render.
// Failures are logged; only an unknown backend is returned as an error.
func startupChecks(viewerConfig config.ViewerConfig) error {
	if err := backendChecks(viewerConfig); err != nil {
		return err
	}
	documentChecks(viewerConfig)
	return nil
}

// backendChecks ensures the render backend is one we know
func backendChecks(viewerConfig config.ViewerConfig) error {
	switch viewerConfig.RenderBackend {
	case "", pdfrenderer.BackendPDFium:
		Logger.Info("Rendering with PDFium (WebAssembly)")
	case pdfrenderer.BackendFitz:
		Logger.Info("Rendering with MuPDF (go-fitz)")
	default:
		Logger.Error("Unknown render backend", "backend", viewerConfig.RenderBackend)
		return fmt.Errorf("%w: %q", pdfrenderer.ErrUnknownBackend, viewerConfig.RenderBackend)
	}
	return nil
}

// documentChecks warns early when the startup document cannot be opened
func documentChecks(viewerConfig config.ViewerConfig) {
	if viewerConfig.DocumentURI == "" {
		Logger.Warn("Document URI not configured")
		return
	}

	path, err := pdfrenderer.DocumentPath(viewerConfig.DocumentURI)
	if err != nil {
		Logger.Warn("Document URI is not a local file", "uri", viewerConfig.DocumentURI, "error", err)
		return
	}

	docInfo, err := os.Stat(path)
	if err != nil {
		Logger.Warn("Document not found", "path", path, "error", err)
		return
	}
	if docInfo.IsDir() {
		Logger.Warn("Document path is a directory, not a PDF", "path", path)
		return
	}
	Logger.Info("Document exists", "path", path, "size", docInfo.Size())
}
