package api

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"docchat/internal/auth"
	"docchat/internal/contentstore"
	"docchat/internal/ingest"
	"docchat/internal/logger"
	"docchat/internal/observability"
	"docchat/internal/relay"
	"docchat/internal/service/catalog"
)

// ChatIDHeader carries the chat identifier of a streamed turn.
const ChatIDHeader = "X-Chat-Id"

// Deps are the collaborators the HTTP layer is wired to.
type Deps struct {
	Catalog  *catalog.Service
	Receiver *ingest.Receiver
	Store    contentstore.Store
	Relay    *relay.Relay
	Auth     *auth.Service
	Metrics  *observability.Metrics
	Gatherer prometheus.Gatherer
	DB       *sql.DB
	Log      *logger.Logger
}

// Handler wires HTTP routes to the upload pipeline, the chat relay and the catalog.
type Handler struct {
	catalog  *catalog.Service
	receiver *ingest.Receiver
	store    contentstore.Store
	relay    *relay.Relay
	auth     *auth.Service
	metrics  *observability.Metrics
	gatherer prometheus.Gatherer
	db       *sql.DB
	log      *logger.Logger
}

func NewHandler(d Deps) *Handler {
	log := d.Log
	if log == nil {
		log = logger.Nop()
	}
	return &Handler{
		catalog:  d.Catalog,
		receiver: d.Receiver,
		store:    d.Store,
		relay:    d.Relay,
		auth:     d.Auth,
		metrics:  d.Metrics,
		gatherer: d.Gatherer,
		db:       d.DB,
		log:      log.With("component", "api"),
	}
}

// RegisterRoutes attaches all HTTP routes to the router.
func (h *Handler) RegisterRoutes(router *gin.Engine) {
	router.GET("/healthz", h.health)
	if h.gatherer != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{})))
	}

	api := router.Group("/api")
	api.Use(h.auth.Middleware())
	api.POST("/upload", h.uploadDocument)
	api.GET("/documents", h.listDocuments)
	api.POST("/chat", h.chat)
	api.GET("/chats", h.listChats)
	api.POST("/chats", h.createChat)
	api.GET("/chats/:chatId", h.getChat)
	api.DELETE("/chats/:chatId", h.deleteChat)
}

// NewRouter builds the gin engine with logging, recovery and CORS.
func NewRouter(log *logger.Logger, corsOrigins []string) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), RequestLogger(log))
	if len(corsOrigins) > 0 {
		router.Use(cors.New(cors.Config{
			AllowOrigins:     corsOrigins,
			AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
			AllowHeaders:     []string{"Authorization", "Content-Type"},
			ExposeHeaders:    []string{ChatIDHeader},
			AllowCredentials: true,
			MaxAge:           12 * time.Hour,
		}))
	}
	return router
}

// RequestLogger logs one line per request.
func RequestLogger(log *logger.Logger) gin.HandlerFunc {
	if log == nil {
		log = logger.Nop()
	}
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		status := c.Writer.Status()
		kv := []interface{}{
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", status,
			"latency", time.Since(start),
			"bytes", c.Writer.Size(),
		}
		switch {
		case status >= http.StatusInternalServerError:
			log.Error("request", kv...)
		case status >= http.StatusBadRequest:
			log.Warn("request", kv...)
		default:
			log.Info("request", kv...)
		}
	}
}

func (h *Handler) health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()
	if h.db != nil {
		if err := h.db.PingContext(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": err.Error()})
			return
		}
	}
	if err := h.auth.Ready(ctx); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *Handler) ownerID(c *gin.Context) (string, bool) {
	ownerID, ok := auth.OwnerIDFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"success": false, "error": "Unauthorized"})
		return "", false
	}
	return ownerID, true
}
