// Package analysis sends scalp photographs to a vision model and decodes
// its structured diagnosis.
package analysis

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"scalpscan/internal/config"
	"scalpscan/internal/models"
	"scalpscan/internal/redis"
)

const (
	defaultTemperature float32 = 0.3
	defaultMaxTokens           = 1000
)

// ChatModel is the part of an eino chat model the gateway needs.
type ChatModel interface {
	Generate(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.Message, error)
}

// Cache holds successful analyses.
type Cache interface {
	SetJSON(ctx context.Context, key string, value any, ttl time.Duration) error
	GetJSON(ctx context.Context, key string, dst any) error
}

type Options struct {
	Cache    Cache
	CacheTTL time.Duration
	Logger   *slog.Logger
}

// Request selects the images to analyze. With MultiImage set ImageURLs is
// used; otherwise ImageURL, falling back to ImageURLs when it is empty.
type Request struct {
	ImageURL   string           `json:"imageUrl"`
	ImageURLs  []string         `json:"imageUrls"`
	Metadata   *models.Metadata `json:"metadata"`
	MultiImage bool             `json:"isMultiImage"`
}

func (r Request) urls() []string {
	var urls []string
	switch {
	case r.MultiImage && len(r.ImageURLs) > 0:
		urls = r.ImageURLs
	case r.ImageURL != "":
		urls = []string{r.ImageURL}
	default:
		urls = r.ImageURLs
	}
	out := make([]string, 0, len(urls))
	for _, u := range urls {
		if u = strings.TrimSpace(u); u != "" {
			out = append(out, u)
		}
	}
	return out
}

// Gateway performs one model call per Analyze. It never retries.
type Gateway struct {
	model       ChatModel
	provider    string
	temperature float32
	maxTokens   int
	cache       Cache
	cacheTTL    time.Duration
	logger      *slog.Logger
	now         func() time.Time
}

// New builds the gateway for the named provider. A provider without an API
// key yields a gateway whose Analyze returns ErrNotConfigured.
func New(ctx context.Context, provider string, cfg config.ProviderConfig, opts Options) (*Gateway, error) {
	var chat ChatModel
	if cfg.APIKey != "" {
		if cfg.Model == "" && provider == config.DefaultProvider {
			cfg.Model = config.DefaultModel
		}
		m, err := modelFactory(ctx, provider, cfg)
		if err != nil {
			return nil, fmt.Errorf("init %s model: %w", provider, err)
		}
		chat = m
	}
	return NewWithModel(chat, provider, cfg, opts), nil
}

// NewWithModel wraps an existing chat model; m may be nil.
func NewWithModel(m ChatModel, provider string, cfg config.ProviderConfig, opts Options) *Gateway {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	g := &Gateway{
		model:       m,
		provider:    provider,
		temperature: defaultTemperature,
		maxTokens:   defaultMaxTokens,
		cache:       opts.Cache,
		cacheTTL:    opts.CacheTTL,
		logger:      opts.Logger.With("component", "analysis", "provider", provider),
		now:         time.Now,
	}
	if cfg.Temperature > 0 {
		g.temperature = cfg.Temperature
	}
	if cfg.MaxTokens > 0 {
		g.maxTokens = cfg.MaxTokens
	}
	return g
}

// Configured reports whether a model is available.
func (g *Gateway) Configured() bool { return g != nil && g.model != nil }

// Analyze asks the model about the request's images.
func (g *Gateway) Analyze(ctx context.Context, req Request) (*models.Analysis, error) {
	urls := req.urls()
	if len(urls) == 0 {
		return nil, ErrNoImages
	}
	if !g.Configured() {
		return nil, ErrNotConfigured
	}
	md := req.Metadata
	if md.IsEmpty() {
		md = nil
	}

	cacheKey := ""
	if g.cache != nil && g.cacheTTL > 0 {
		cacheKey = redis.AnalysisKey(digest(urls, md))
		var cached models.Analysis
		err := g.cache.GetJSON(ctx, cacheKey, &cached)
		if err == nil {
			g.logger.DebugContext(ctx, "analysis served from cache", "images", len(urls))
			return &cached, nil
		}
		if !errors.Is(err, redis.ErrCacheMiss) {
			g.logger.WarnContext(ctx, "analysis cache read failed", "err", err)
		}
	}

	g.logger.InfoContext(ctx, "analyzing images", "images", len(urls))
	reply, err := g.model.Generate(ctx, buildMessages(urls, md),
		model.WithTemperature(g.temperature),
		model.WithMaxTokens(g.maxTokens),
	)
	if err != nil {
		pe := providerError(err)
		g.logger.ErrorContext(ctx, "vision provider call failed", "status", pe.Status, "err", err)
		return nil, pe
	}
	if reply == nil {
		return nil, &ProviderError{Err: errors.New("empty reply from model")}
	}

	result, err := parseReply(reply.Content)
	if err != nil {
		g.logger.ErrorContext(ctx, "model reply is not JSON", "raw", reply.Content)
		return nil, err
	}
	result.AnalyzedAt = g.now().UTC()
	result.Metadata = md
	if len(urls) > 1 {
		result.ImageURLs = urls
	}
	result.ImageURL = urls[0]
	if req.ImageURL != "" {
		result.ImageURL = req.ImageURL
	}
	if reply.ResponseMeta != nil && reply.ResponseMeta.Usage != nil {
		result.TokensUsed = reply.ResponseMeta.Usage.TotalTokens
	}

	if cacheKey != "" {
		if err := g.cache.SetJSON(ctx, cacheKey, result, g.cacheTTL); err != nil {
			g.logger.WarnContext(ctx, "analysis cache write failed", "err", err)
		}
	}
	return result, nil
}

func digest(urls []string, md *models.Metadata) string {
	h := sha256.New()
	for _, u := range urls {
		h.Write([]byte(u))
		h.Write([]byte{0})
	}
	if md != nil {
		raw, _ := json.Marshal(md)
		h.Write(raw)
	}
	return hex.EncodeToString(h.Sum(nil))
}
