// Package aiclient wraps the model router with the pipeline's calling
// discipline: deterministic and creative call modes, a fixed pacing delay
// after every successful call, and bounded exponential backoff when the
// provider throttles.
package aiclient

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	apperrors "github.com/harunnryd/matsuri/internal/errors"
	"github.com/harunnryd/matsuri/internal/model"
	"github.com/harunnryd/matsuri/internal/model/contract"
)

// Caller is what the stages see: two calling modes, one prompt in, one
// response text out.
type Caller interface {
	Call(ctx context.Context, prompt string) (string, error)
	CallCreative(ctx context.Context, prompt string) (string, error)
}

type Config struct {
	Model               string
	CreativeTemperature float32
	// PacingDelay is slept after every successful call so bursts of chunked
	// calls stay under provider rate tiers.
	PacingDelay time.Duration
	// RetryMaxAttempts bounds throttling retries; the delay before retry n
	// is RetryBaseDelay doubled n times.
	RetryMaxAttempts int
	RetryBaseDelay   time.Duration
}

type Client struct {
	router model.ModelRouter
	cfg    Config
	sleep  func(time.Duration)
}

func New(router model.ModelRouter, cfg Config) *Client {
	return &Client{
		router: router,
		cfg:    cfg,
		sleep:  time.Sleep,
	}
}

// Call asks for a deterministic completion (temperature zero). Stage
// verdicts are cached forever, so they must be reproducible.
func (c *Client) Call(ctx context.Context, prompt string) (string, error) {
	return c.call(ctx, prompt, 0)
}

// CallCreative asks for a completion with the configured creative
// temperature, for output where variety reads better than determinism.
func (c *Client) CallCreative(ctx context.Context, prompt string) (string, error) {
	return c.call(ctx, prompt, c.cfg.CreativeTemperature)
}

func (c *Client) call(ctx context.Context, prompt string, temperature float32) (string, error) {
	req := contract.CompletionRequest{
		Model:       c.cfg.Model,
		Messages:    []contract.Message{{Role: "user", Content: prompt}},
		Temperature: temperature,
	}

	var lastErr error
	for attempt := 0; attempt <= c.cfg.RetryMaxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return "", apperrors.Wrap(ctx.Err(), "call cancelled")
		default:
		}

		resp, err := c.router.Route(ctx, c.cfg.Model, req)
		if err == nil {
			if c.cfg.PacingDelay > 0 {
				c.sleep(c.cfg.PacingDelay)
			}
			return resp.Content, nil
		}

		if !apperrors.IsRateLimit(err) {
			return "", err
		}

		lastErr = err
		if attempt == c.cfg.RetryMaxAttempts {
			break
		}

		delay := c.cfg.RetryBaseDelay * (1 << attempt)
		slog.Warn("Rate limited, backing off", "attempt", attempt+1, "max_attempts", c.cfg.RetryMaxAttempts, "delay", delay)
		c.sleep(delay)
	}

	return "", fmt.Errorf("rate limit retries exhausted after %d attempts: %w", c.cfg.RetryMaxAttempts, lastErr)
}
