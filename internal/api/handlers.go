package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"scalpscan/internal/config"
	"scalpscan/internal/metrics"
	"scalpscan/internal/models"
	"scalpscan/internal/service/analysis"
	"scalpscan/internal/service/gallery"
)

// Gallery stores and lists session photographs.
type Gallery interface {
	Upload(ctx context.Context, req gallery.UploadRequest) (*gallery.UploadResult, error)
	List(ctx context.Context, sessionID string) (*gallery.Listing, error)
}

// Analyzer runs the vision analysis.
type Analyzer interface {
	Analyze(ctx context.Context, req analysis.Request) (*models.Analysis, error)
}

// Handler wires HTTP routes to the gallery and analysis services.
type Handler struct {
	gallery      Gallery
	analyzer     Analyzer
	metrics      *metrics.Metrics
	logger       *slog.Logger
	maxBodyBytes int64
	provider     string
}

type Options struct {
	MaxBodyBytes int64
	Provider     string
	Logger       *slog.Logger
}

// NewHandler constructs a Handler instance. m may be nil.
func NewHandler(g Gallery, a Analyzer, m *metrics.Metrics, opts Options) *Handler {
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = config.DefaultMaxBodyBytes
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Provider == "" {
		opts.Provider = config.DefaultProvider
	}
	return &Handler{
		gallery:      g,
		analyzer:     a,
		metrics:      m,
		logger:       opts.Logger,
		maxBodyBytes: opts.MaxBodyBytes,
		provider:     opts.Provider,
	}
}

// RegisterRoutes attaches all HTTP routes to the router.
func (h *Handler) RegisterRoutes(router *gin.Engine) {
	router.Use(requestID(), requestLogger(h.logger))
	if h.metrics != nil {
		router.Use(h.metrics.Middleware())
		router.GET("/metrics", gin.WrapH(h.metrics.Handler()))
	}
	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := router.Group("/api", cors())
	h.route(api, "/upload", http.MethodPost, h.upload)
	h.route(api, "/uploads", http.MethodGet, h.listUploads)
	h.route(api, "/analyze-image", http.MethodPost, h.analyzeImage)
}

// route registers handle for method and a 405 for every other method;
// OPTIONS is answered by the cors middleware.
func (h *Handler) route(group *gin.RouterGroup, path, method string, handle gin.HandlerFunc) {
	group.Handle(method, path, handle)
	group.OPTIONS(path, func(c *gin.Context) { c.Status(http.StatusNoContent) })
	notAllowed := methodNotAllowed(method + ", " + http.MethodOptions)
	for _, m := range []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete} {
		if m != method {
			group.Handle(m, path, notAllowed)
		}
	}
}

func (h *Handler) upload(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxBodyBytes)

	req, err := decodeUpload(c)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "request body too large"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	res, err := h.gallery.Upload(c.Request.Context(), req)
	if err != nil {
		if gallery.IsClientError(err) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	receipts := make([]models.Receipt, 0, len(res.Files))
	for _, f := range res.Files {
		receipts = append(receipts, f.Receipt())
		if h.metrics != nil {
			h.metrics.ObserveUpload(f.SizeBytes)
		}
	}
	if res.MirrorErr != nil && h.metrics != nil {
		h.metrics.ObserveMirrorFailure()
	}
	c.JSON(http.StatusOK, gin.H{
		"success":   true,
		"sessionId": res.SessionID,
		"files":     receipts,
	})
}

func (h *Handler) listUploads(c *gin.Context) {
	sessionID := strings.TrimSpace(c.Query("sessionId"))
	if sessionID == "" {
		sessionID = strings.TrimSpace(c.GetHeader(headerSessionID))
	}
	listing, err := h.gallery.List(c.Request.Context(), sessionID)
	if err != nil {
		if errors.Is(err, gallery.ErrMissingSession) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "sessionId is required"})
			return
		}
		if errors.Is(err, gallery.ErrInvalidSession) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, listing)
}

func (h *Handler) analyzeImage(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxBodyBytes)

	var req analysis.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		h.observeAnalysis("client_error")
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	result, err := h.analyzer.Analyze(c.Request.Context(), req)
	if err != nil {
		status, body, outcome := h.analysisError(err)
		h.observeAnalysis(outcome)
		c.JSON(status, body)
		return
	}
	h.observeAnalysis("ok")
	c.JSON(http.StatusOK, gin.H{"success": true, "analysis": result})
}

// analysisError maps gateway errors to a status and body. Provider
// credentials never reach the body.
func (h *Handler) analysisError(err error) (int, gin.H, string) {
	var parseErr *analysis.ParseError
	var provErr *analysis.ProviderError
	switch {
	case errors.Is(err, analysis.ErrNoImages):
		return http.StatusBadRequest, gin.H{"error": "imageUrl or imageUrls is required"}, "client_error"
	case errors.Is(err, analysis.ErrNotConfigured):
		return http.StatusInternalServerError, gin.H{
			"error": "image analysis is not configured",
			"hint":  "set the API key of the " + h.provider + " provider",
		}, "not_configured"
	case errors.Is(err, analysis.ErrUnauthorized):
		return http.StatusInternalServerError, gin.H{
			"error":   "invalid vision provider API key",
			"details": "contact the administrator",
		}, "provider_error"
	case errors.Is(err, analysis.ErrRateLimited):
		return http.StatusTooManyRequests, gin.H{
			"error":   "vision provider rate limit exceeded",
			"details": "try again in a moment",
		}, "rate_limited"
	case errors.As(err, &parseErr):
		return http.StatusInternalServerError, gin.H{
			"error":   "could not parse the model reply",
			"details": parseErr.Raw,
		}, "parse_error"
	case errors.As(err, &provErr):
		return http.StatusInternalServerError, gin.H{
			"error":   "image analysis failed",
			"details": provErr.Error(),
		}, "provider_error"
	default:
		return http.StatusInternalServerError, gin.H{"error": "image analysis failed", "details": err.Error()}, "provider_error"
	}
}

func (h *Handler) observeAnalysis(outcome string) {
	if h.metrics != nil {
		h.metrics.ObserveAnalysis(outcome)
	}
}
