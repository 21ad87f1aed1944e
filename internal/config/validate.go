package config

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/robfig/cron/v3"
)

// Validate checks the assembled configuration before any stage runs. A run
// must never fail halfway through on a field that could have been rejected
// up front.
func (c *Config) Validate() error {
	v := validator.New()
	if err := v.Struct(c); err != nil {
		return fmt.Errorf("config: %w", err)
	}

	if _, err := DurationOrDefault(c.AI.PacingDelay, DefaultPacingDelay); err != nil {
		return fmt.Errorf("config: ai.pacing_delay: %w", err)
	}
	if _, err := DurationOrDefault(c.AI.RetryBaseDelay, DefaultRetryBaseDelay); err != nil {
		return fmt.Errorf("config: ai.retry_base_delay: %w", err)
	}

	if _, err := ParseWindows(c.Pipeline.Windows); err != nil {
		return fmt.Errorf("config: pipeline.windows: %w", err)
	}

	prompts := map[string]string{
		"pipeline.prompts.detection":   c.Pipeline.Prompts.Detection,
		"pipeline.prompts.event_type":  c.Pipeline.Prompts.EventType,
		"pipeline.prompts.schedule":    c.Pipeline.Prompts.Schedule,
		"pipeline.prompts.interests":   c.Pipeline.Prompts.Interests,
		"pipeline.prompts.description": c.Pipeline.Prompts.Description,
	}
	for name, tpl := range prompts {
		if !strings.Contains(tpl, "{messages}") {
			return fmt.Errorf("config: %s: missing {messages} placeholder", name)
		}
	}
	if !strings.Contains(c.Pipeline.Prompts.Interests, "{interests}") {
		return fmt.Errorf("config: pipeline.prompts.interests: missing {interests} placeholder")
	}

	if c.Watch.Schedule != "" {
		if _, err := cron.ParseStandard(c.Watch.Schedule); err != nil {
			return fmt.Errorf("config: watch.schedule: %w", err)
		}
	}

	if c.Suppress.Enabled && c.Models.Embedding == "" {
		return fmt.Errorf("config: suppress.enabled requires models.embedding")
	}

	return nil
}
