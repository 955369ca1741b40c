package handlers

import (
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// RouterConfig collects what NewRouter needs to build the HTTP surface.
type RouterConfig struct {
	Devices     *DeviceHandler
	WebSocket   *WebSocketHandler
	WSPath      string
	StaticDir   string
	CORSOrigins []string
	Logger      zerolog.Logger
}

// NewRouter builds the gin engine serving the API, the websocket endpoint
// and the static dashboard.
func NewRouter(cfg RouterConfig) *gin.Engine {
	r := gin.New()
	r.Use(Recovery(cfg.Logger))
	r.Use(RequestLogger(cfg.Logger))
	r.Use(CORSMiddleware(cfg.CORSOrigins))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status": "ok",
		})
	})

	api := r.Group("/api")
	{
		cfg.Devices.RegisterRoutes(api)
	}

	cfg.WebSocket.RegisterRoutes(r, cfg.WSPath)

	if cfg.StaticDir != "" {
		r.NoRoute(staticHandler(cfg.StaticDir))
	}

	return r
}

// staticHandler serves files under dir, falling back to index.html.
func staticHandler(dir string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Method != http.MethodGet && c.Request.Method != http.MethodHead {
			sendError(c, http.StatusNotFound, "NOT_FOUND", "Route not found")
			return
		}
		if strings.HasPrefix(c.Request.URL.Path, "/api/") {
			sendError(c, http.StatusNotFound, "NOT_FOUND", "Route not found")
			return
		}

		name := filepath.Join(dir, filepath.FromSlash(filepath.Clean("/"+c.Request.URL.Path)))
		if info, err := os.Stat(name); err == nil && !info.IsDir() {
			c.File(name)
			return
		}

		index := filepath.Join(dir, "index.html")
		if _, err := os.Stat(index); err != nil {
			sendError(c, http.StatusNotFound, "NOT_FOUND", "Route not found")
			return
		}
		c.File(index)
	}
}
