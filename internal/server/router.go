// Package server exposes the inventory and the backup pipeline over HTTP.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"boxes-go/internal/backup"
	"boxes-go/internal/boxes"
	"boxes-go/internal/inventory"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

var (
	errMissingInventory = errors.New("inventory service dependency required")
	errMissingBuilder   = errors.New("backup builder dependency required")
	errMissingRestorer  = errors.New("restorer dependency required")
)

// multipartOverhead is allowed on top of the archive size for the form
// framing around an uploaded backup.
const multipartOverhead int64 = 1 << 20

// Pinger reports whether the store answers.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Dependencies struct {
	Inventory *inventory.Service
	Builder   *backup.Builder
	Restorer  *backup.Restorer
	// Store backs the health check. Optional.
	Store  Pinger
	Logger boxes.Logger
	// MaxUploadSize caps restore uploads. Zero disables the request body cap;
	// the restorer still enforces its own limit.
	MaxUploadSize  int64
	AllowedOrigins []string
}

// NewHTTPHandler builds the gin router serving the API.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Inventory == nil {
		return nil, errMissingInventory
	}
	if deps.Builder == nil {
		return nil, errMissingBuilder
	}
	if deps.Restorer == nil {
		return nil, errMissingRestorer
	}

	logger := deps.Logger
	if logger == nil {
		logger = boxes.NewNopLogger()
	}

	origins := deps.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestLogger(logger))
	router.Use(cors.New(cors.Config{
		AllowOrigins:     origins,
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowHeaders:     []string{"Content-Type"},
		ExposeHeaders:    []string{"Content-Disposition"},
		MaxAge:           12 * time.Hour,
		AllowCredentials: false,
	}))

	handler := &httpHandler{
		inventory:     deps.Inventory,
		builder:       deps.Builder,
		restorer:      deps.Restorer,
		store:         deps.Store,
		logger:        logger,
		maxUploadSize: deps.MaxUploadSize,
	}

	api := router.Group("/api")
	api.GET("/health", handler.handleHealth)

	api.GET("/boxes", handler.handleListBoxes)
	api.POST("/boxes", handler.handleCreateBox)
	api.GET("/boxes/:id", handler.handleGetBox)
	api.PUT("/boxes/:id", handler.handleUpdateBox)
	api.DELETE("/boxes/:id", handler.handleDeleteBox)
	api.GET("/boxes/:id/items", handler.handleListItems)
	api.POST("/boxes/:id/items", handler.handleAddItem)

	api.GET("/items/:id", handler.handleGetItem)
	api.DELETE("/items/:id", handler.handleDeleteItem)

	api.GET("/locations", handler.handleListLocations)
	api.POST("/locations", handler.handleCreateLocation)
	api.DELETE("/locations/:id", handler.handleDeleteLocation)

	api.GET("/search", handler.handleSearch)
	api.GET("/activity", handler.handleActivity)
	api.GET("/stats", handler.handleStats)

	api.GET("/backup", handler.handleBackup)
	api.POST("/restore", handler.handleRestore)
	api.GET("/restore/status", handler.handleRestoreStatus)

	router.GET("/uploads/receipts/:name", handler.handleReceipt)

	return router, nil
}

type httpHandler struct {
	inventory     *inventory.Service
	builder       *backup.Builder
	restorer      *backup.Restorer
	store         Pinger
	logger        boxes.Logger
	maxUploadSize int64
}

func requestLogger(logger boxes.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		args := []any{
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", status,
			"duration", time.Since(start),
		}
		switch {
		case status >= http.StatusInternalServerError:
			logger.Error("request", args...)
		case status >= http.StatusBadRequest:
			logger.Warn("request", args...)
		default:
			logger.Info("request", args...)
		}
	}
}

func (h *httpHandler) handleHealth(c *gin.Context) {
	if h.store != nil {
		if err := h.store.Ping(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "restore": h.restorer.Status().Phase})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "restore": h.restorer.Status().Phase})
}
