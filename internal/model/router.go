package model

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/harunnryd/matsuri/internal/config"
	apperrors "github.com/harunnryd/matsuri/internal/errors"
	"github.com/harunnryd/matsuri/internal/logger"
	"github.com/harunnryd/matsuri/internal/model/contract"
	anthropicProvider "github.com/harunnryd/matsuri/internal/model/providers/anthropic"
	geminiProvider "github.com/harunnryd/matsuri/internal/model/providers/gemini"
	openaiProvider "github.com/harunnryd/matsuri/internal/model/providers/openai"
)

// DefaultModelRouter implements ModelRouter interface
type DefaultModelRouter struct {
	cfg       config.ModelsConfig
	providers map[string]Provider
	mu        sync.RWMutex
}

// NewModelRouter creates a new model router
func NewModelRouter(cfg config.ModelsConfig) (*DefaultModelRouter, error) {
	router := &DefaultModelRouter{
		cfg:       cfg,
		providers: make(map[string]Provider),
	}

	if err := router.initProviders(); err != nil {
		return nil, err
	}

	return router, nil
}

// Route routes a completion request to the appropriate provider
func (r *DefaultModelRouter) Route(ctx context.Context, model string, req contract.CompletionRequest) (*contract.CompletionResponse, error) {
	runID := logger.GetRunID(ctx)

	slog.Debug("Routing completion request", "model", model, "run_id", runID, "stage", logger.GetStage(ctx))

	provider, resolvedModel, err := r.resolveProvider(ctx, model)
	if err != nil {
		return nil, err
	}

	resp, err := r.executeWithFallback(ctx, resolvedModel, provider, req, runID)
	if err != nil {
		return nil, err
	}

	return resp, nil
}

// RouteEmbedding routes an embedding request to the appropriate provider
func (r *DefaultModelRouter) RouteEmbedding(ctx context.Context, model string, text string) ([]float32, error) {
	runID := logger.GetRunID(ctx)

	slog.Debug("Routing embedding request", "model", model, "run_id", runID)

	tryModels := r.embeddingTryOrder(model)
	var lastErr error

	for _, tryModel := range tryModels {
		select {
		case <-ctx.Done():
			return nil, apperrors.Wrap(ctx.Err(), "embedding request cancelled")
		default:
		}

		r.mu.RLock()
		provider, exists := r.providers[tryModel]
		r.mu.RUnlock()
		if !exists {
			continue
		}

		embeddings, err := provider.Embed(ctx, text)
		if err == nil {
			slog.Debug("Embedding completed", "model", tryModel, "run_id", runID)
			return embeddings, nil
		}

		if isEmbeddingUnsupported(err) {
			slog.Warn("Embedding unsupported by provider, trying next model", "model", tryModel, "error", err, "run_id", runID)
			continue
		}

		lastErr = err
		slog.Warn("Embedding failed for model, trying next model", "model", tryModel, "error", err, "run_id", runID)
	}

	if lastErr != nil {
		return nil, apperrors.Wrap(lastErr, "embedding failed")
	}

	return nil, apperrors.NotFound("no embedding-capable model configured")
}

func (r *DefaultModelRouter) embeddingTryOrder(requestedModel string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := make(map[string]struct{}, len(r.providers)+2)
	order := make([]string, 0, len(r.providers)+2)

	appendUnique := func(name string) {
		if name == "" {
			return
		}
		if _, ok := seen[name]; ok {
			return
		}
		seen[name] = struct{}{}
		order = append(order, name)
	}

	appendUnique(requestedModel)
	appendUnique(r.cfg.Embedding)

	registered := make([]string, 0, len(r.providers))
	for name := range r.providers {
		registered = append(registered, name)
	}
	sort.Strings(registered)

	for _, name := range registered {
		appendUnique(name)
	}

	return order
}

func isEmbeddingUnsupported(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "embedding not supported") ||
		strings.Contains(msg, "embeddings not implemented") ||
		strings.Contains(msg, "not support embeddings")
}

// ListModels returns all registered model names
func (r *DefaultModelRouter) ListModels() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	models := make([]string, 0, len(r.providers))
	for name := range r.providers {
		models = append(models, name)
	}

	return models
}

// Health checks the health of the router and its providers
func (r *DefaultModelRouter) Health(ctx context.Context) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for name, provider := range r.providers {
		if err := provider.Health(ctx); err != nil {
			slog.Warn("Provider unhealthy", "provider", name, "error", err)
			return apperrors.Transient(fmt.Sprintf("provider %s unhealthy", name))
		}
	}

	return nil
}

// initProviders initializes all providers from configuration
func (r *DefaultModelRouter) initProviders() error {
	for _, entry := range r.cfg.Registry {
		provider, err := r.createProvider(entry)
		if err != nil {
			slog.Warn("Failed to create provider", "provider", entry.Provider, "model", entry.Name, "error", err)
			continue
		}

		r.providers[entry.Name] = provider
		slog.Debug("Provider initialized", "name", entry.Name, "type", entry.Provider)
	}

	if len(r.providers) == 0 && len(r.cfg.Registry) > 0 {
		return apperrors.Internal("no providers initialized")
	}

	return nil
}

// resolveProvider resolves a provider by model name, substituting the
// fallback model when the requested one is not registered. The returned
// name is the model the provider actually serves.
func (r *DefaultModelRouter) resolveProvider(ctx context.Context, model string) (Provider, string, error) {
	select {
	case <-ctx.Done():
		return nil, "", apperrors.Wrap(ctx.Err(), "provider resolution cancelled")
	default:
	}

	r.mu.RLock()
	provider, exists := r.providers[model]
	r.mu.RUnlock()

	if !exists {
		slog.Warn("Model not found", "model", model)

		if r.cfg.Fallback != "" && model != r.cfg.Fallback {
			slog.Info("Trying fallback model", "model", model, "fallback", r.cfg.Fallback)

			fallbackProvider, fallbackExists := r.providers[r.cfg.Fallback]
			if !fallbackExists {
				return nil, "", apperrors.NotFound(fmt.Sprintf("model %s not found", model))
			}

			return fallbackProvider, r.cfg.Fallback, nil
		}

		return nil, "", apperrors.NotFound(fmt.Sprintf("model %s not found", model))
	}

	return provider, model, nil
}

// executeWithFallback executes a request with fallback logic. Throttling
// errors are returned untouched so the caller's backoff policy can retry
// the same model; switching providers mid-retry would change which cache
// verdicts get produced.
func (r *DefaultModelRouter) executeWithFallback(ctx context.Context, model string, provider Provider, req contract.CompletionRequest, runID string) (*contract.CompletionResponse, error) {
	maxAttempts := r.cfg.MaxFallbackAttempts
	if maxAttempts <= 0 {
		maxAttempts = config.DefaultMaxFallbackAttempts
	}
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	currentModel := model
	currentProvider := provider

	for attempt := 0; attempt < maxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return nil, apperrors.Wrap(ctx.Err(), "request execution cancelled")
		default:
		}

		req.Model = currentModel
		resp, err := currentProvider.Generate(ctx, req)
		if err == nil {
			slog.Debug("Request completed", "model", currentModel, "attempt", attempt+1, "run_id", runID)
			return resp, nil
		}

		if apperrors.IsRateLimit(err) {
			return nil, apperrors.Wrap(err, "provider request failed")
		}

		slog.Error("Provider request failed", "model", currentModel, "attempt", attempt+1, "error", err)

		if r.cfg.Fallback == "" || currentModel == r.cfg.Fallback {
			return nil, apperrors.Wrap(err, "provider request failed")
		}

		slog.Info("Attempting fallback", "from", currentModel, "to", r.cfg.Fallback)

		fallbackProvider, exists := r.providers[r.cfg.Fallback]
		if !exists {
			return nil, apperrors.NotFound(fmt.Sprintf("fallback model %s not found", r.cfg.Fallback))
		}

		currentModel = r.cfg.Fallback
		currentProvider = fallbackProvider
	}

	return nil, apperrors.Internal("fallback exhausted")
}

// createProvider creates a provider instance based on registry entry
func (r *DefaultModelRouter) createProvider(entry config.ModelRegistry) (Provider, error) {
	timeout, err := config.DurationOrDefault(entry.RequestTimeout, config.DefaultRequestTimeout)
	if err != nil {
		return nil, apperrors.InvalidInput(fmt.Sprintf("invalid request_timeout for model %s: %v", entry.Name, err))
	}

	switch entry.Provider {
	case "openai":
		baseURL := entry.BaseURL
		if baseURL == "" {
			baseURL = config.DefaultOpenAIBaseURL
		}

		if entry.APIKey == "" {
			return nil, apperrors.InvalidInput("API key required for OpenAI provider")
		}

		return &ProviderAdapter{
			provider:     openaiProvider.New(entry.APIKey, baseURL, entry.Name),
			name:         entry.Name,
			providerType: "openai",
			timeout:      timeout,
		}, nil

	case "anthropic":
		if entry.APIKey == "" {
			return nil, apperrors.InvalidInput("API key required for Anthropic provider")
		}

		return &ProviderAdapter{
			provider:     anthropicProvider.New(entry.APIKey),
			name:         entry.Name,
			providerType: "anthropic",
			timeout:      timeout,
		}, nil

	case "gemini":
		if entry.APIKey == "" {
			return nil, apperrors.InvalidInput("API key required for Gemini provider")
		}

		provider, err := geminiProvider.New(entry.APIKey)
		if err != nil {
			return nil, apperrors.Wrap(err, "failed to create Gemini provider")
		}

		return &ProviderAdapter{
			provider:     provider,
			name:         entry.Name,
			providerType: "gemini",
			timeout:      timeout,
		}, nil

	default:
		return nil, apperrors.InvalidInput(fmt.Sprintf("unknown provider type: %s", entry.Provider))
	}
}
