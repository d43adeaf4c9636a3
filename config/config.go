package config

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Logger is global since we will need it everywhere
var Logger *slog.Logger

// ViewerConfig contains all of the viewer settings
type ViewerConfig struct {
	ListenAddrIP     string
	ListenAddrPort   string
	DocumentURI      string
	RenderBackend    string
	ZoomLevels       []float64 // percentages, ascending
	DefaultZoomIndex int
	MaxCached        int
	DevicePixelRatio float64
	StatsInterval    int // minutes, 0 disables
}

var defaultZoomLevels = []float64{50, 75, 100, 125, 150}

// envReader reads typed settings from the environment. Values that do not
// parse fall back to the default and are remembered so they can be logged
// once the logger exists.
type envReader struct {
	invalid []string
}

func (r *envReader) lookup(key string) (string, bool) {
	value := strings.TrimSpace(os.Getenv(key))
	return value, value != ""
}

func (r *envReader) reject(key, value string) {
	r.invalid = append(r.invalid, key+"="+value)
}

// str returns the value of key or defaultValue when unset
func (r *envReader) str(key, defaultValue string) string {
	if value, ok := r.lookup(key); ok {
		return value
	}
	return defaultValue
}

func (r *envReader) boolean(key string, defaultValue bool) bool {
	value, ok := r.lookup(key)
	if !ok {
		return defaultValue
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		r.reject(key, value)
		return defaultValue
	}
	return parsed
}

func (r *envReader) integer(key string, defaultValue int) int {
	value, ok := r.lookup(key)
	if !ok {
		return defaultValue
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		r.reject(key, value)
		return defaultValue
	}
	return parsed
}

func (r *envReader) float(key string, defaultValue float64) float64 {
	value, ok := r.lookup(key)
	if !ok {
		return defaultValue
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		r.reject(key, value)
		return defaultValue
	}
	return parsed
}

// ParseZoomLevels parses a comma separated list of positive, strictly
// ascending percentages such as "50,75,100"
func ParseZoomLevels(value string) ([]float64, error) {
	var levels []float64
	for _, field := range strings.Split(value, ",") {
		field = strings.TrimSpace(field)
		if field == "" {
			continue
		}
		level, err := strconv.ParseFloat(field, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid zoom level %q: %w", field, err)
		}
		if level <= 0 {
			return nil, fmt.Errorf("zoom level %v must be positive", level)
		}
		if len(levels) > 0 && level <= levels[len(levels)-1] {
			return nil, fmt.Errorf("zoom levels must be ascending, %v follows %v", level, levels[len(levels)-1])
		}
		levels = append(levels, level)
	}
	if len(levels) == 0 {
		return nil, fmt.Errorf("no zoom levels in %q", value)
	}
	return levels, nil
}

// SetupViewer loads configuration and returns ViewerConfig and Logger
func SetupViewer() (ViewerConfig, *slog.Logger) {
	viewerConfigLive := ViewerConfig{}

	// Load .env file (silently ignore if doesn't exist)
	_ = godotenv.Load(".env")
	_ = godotenv.Load("config.env")

	env := &envReader{}
	logger := setupLogging(env)
	Logger = logger

	viewerConfigLive.ListenAddrPort = env.str("SERVER_PORT", "8000")
	viewerConfigLive.ListenAddrIP = env.str("SERVER_ADDR", "")
	viewerConfigLive.DocumentURI = env.str("DOCUMENT_URI", "")
	viewerConfigLive.RenderBackend = env.str("RENDER_BACKEND", "pdfium")

	zoomLevels, err := ParseZoomLevels(env.str("ZOOM_LEVELS", "50,75,100,125,150"))
	if err != nil {
		logger.Error("Invalid ZOOM_LEVELS, using defaults", "error", err)
		zoomLevels = append([]float64(nil), defaultZoomLevels...)
	}
	viewerConfigLive.ZoomLevels = zoomLevels

	viewerConfigLive.DefaultZoomIndex = env.integer("DEFAULT_ZOOM_INDEX", defaultZoomIndex(zoomLevels))
	if viewerConfigLive.DefaultZoomIndex < 0 || viewerConfigLive.DefaultZoomIndex >= len(zoomLevels) {
		logger.Error("DEFAULT_ZOOM_INDEX out of range, using 100%", "index", viewerConfigLive.DefaultZoomIndex)
		viewerConfigLive.DefaultZoomIndex = defaultZoomIndex(zoomLevels)
	}

	viewerConfigLive.MaxCached = env.integer("MAX_CACHED", 6)
	if viewerConfigLive.MaxCached < 1 {
		logger.Error("MAX_CACHED must be at least 1, using 6", "value", viewerConfigLive.MaxCached)
		viewerConfigLive.MaxCached = 6
	}

	viewerConfigLive.DevicePixelRatio = env.float("DEVICE_PIXEL_RATIO", 1)
	if viewerConfigLive.DevicePixelRatio <= 0 {
		logger.Error("DEVICE_PIXEL_RATIO must be positive, using 1", "value", viewerConfigLive.DevicePixelRatio)
		viewerConfigLive.DevicePixelRatio = 1
	}

	viewerConfigLive.StatsInterval = env.integer("STATS_INTERVAL", 0)

	for _, setting := range env.invalid {
		logger.Warn("Ignoring unparsable setting, using default", "setting", setting)
	}

	logger.Info("Viewer configuration loaded",
		"document", viewerConfigLive.DocumentURI,
		"backend", viewerConfigLive.RenderBackend,
		"zoomLevels", viewerConfigLive.ZoomLevels,
		"maxCached", viewerConfigLive.MaxCached,
		"pixelRatio", viewerConfigLive.DevicePixelRatio)

	return viewerConfigLive, logger
}

// defaultZoomIndex picks 100% if present, else the middle level
func defaultZoomIndex(levels []float64) int {
	for i, level := range levels {
		if level == 100 {
			return i
		}
	}
	return len(levels) / 2
}

// setupLogging configures the application logger
func setupLogging(env *envReader) *slog.Logger {
	logLevel := env.str("LOG_LEVEL", "info")
	var level slog.Level

	switch logLevel {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	handlerOptions := &slog.HandlerOptions{Level: level}

	logOutput := env.str("LOG_OUTPUT", "stdout")
	var logWriter io.Writer = os.Stdout

	if logOutput == "file" {
		logPath, err := filepath.Abs(filepath.ToSlash(env.str("LOG_FILE", "pageview.log")))
		if err != nil {
			fmt.Printf("Error creating log file path: %v\n", err)
		} else {
			logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
			if err != nil {
				fmt.Printf("Failed to open log file: %v\n", err)
			} else {
				logWriter = logFile
				fmt.Println("Logging to file: ", logPath)
			}
		}
	}

	if env.boolean("LOG_JSON", false) {
		return slog.New(slog.NewJSONHandler(logWriter, handlerOptions))
	}
	return slog.New(slog.NewTextHandler(logWriter, handlerOptions))
}
