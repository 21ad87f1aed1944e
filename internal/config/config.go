package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/harunnryd/matsuri/internal/paths"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/cobra"
)

type Config struct {
	Log      LogConfig      `koanf:"log"`
	Data     DataConfig     `koanf:"data"`
	Models   ModelsConfig   `koanf:"models"`
	AI       AIConfig       `koanf:"ai"`
	Pipeline PipelineConfig `koanf:"pipeline"`
	Sources  SourcesConfig  `koanf:"sources"`
	Suppress SuppressConfig `koanf:"suppress"`
	Debug    DebugConfig    `koanf:"debug"`
	Watch    WatchConfig    `koanf:"watch"`
}

type LogConfig struct {
	Level string `koanf:"level" validate:"oneof=debug info warn error"`
}

type DataConfig struct {
	// Dir holds the caches, the message archive and debug output. Empty
	// means the platform data home.
	Dir string `koanf:"dir"`
}

type ModelsConfig struct {
	Default             string          `koanf:"default" validate:"required"`
	Fallback            string          `koanf:"fallback"`
	Embedding           string          `koanf:"embedding"`
	MaxFallbackAttempts int             `koanf:"max_fallback_attempts" validate:"min=0"`
	Registry            []ModelRegistry `koanf:"registry" validate:"min=1,dive"`
}

type ModelRegistry struct {
	Name           string `koanf:"name" validate:"required"`
	Provider       string `koanf:"provider" validate:"oneof=openai anthropic gemini"`
	BaseURL        string `koanf:"base_url"`
	APIKey         string `koanf:"api_key"`
	RequestTimeout string `koanf:"request_timeout"`
}

type AIConfig struct {
	// PacingDelay is slept after every successful call.
	PacingDelay string `koanf:"pacing_delay"`
	// RetryMaxAttempts bounds rate-limit retries per call.
	RetryMaxAttempts int `koanf:"retry_max_attempts" validate:"min=0"`
	// RetryBaseDelay is doubled on each consecutive retry.
	RetryBaseDelay      string  `koanf:"retry_base_delay"`
	CreativeTemperature float64 `koanf:"creative_temperature" validate:"gt=0,lte=2"`
}

type PipelineConfig struct {
	Interests     []string         `koanf:"interests" validate:"min=1"`
	Windows       []string         `koanf:"windows"`
	Cues          []string         `koanf:"cues" validate:"min=1"`
	LookaheadDays int              `koanf:"lookahead_days" validate:"min=1"`
	LookbackDays  int              `koanf:"lookback_days" validate:"min=1"`
	MinConfidence float64          `koanf:"min_confidence" validate:"gte=0,lte=1"`
	SkipOnline    bool             `koanf:"skip_online"`
	BatchSizes    BatchSizesConfig `koanf:"batch_sizes"`
	Prompts       PromptsConfig    `koanf:"prompts"`
}

type BatchSizesConfig struct {
	Detection   int `koanf:"detection" validate:"min=1"`
	EventType   int `koanf:"event_type" validate:"min=1"`
	Schedule    int `koanf:"schedule" validate:"min=1"`
	Interests   int `koanf:"interests" validate:"min=1"`
	Description int `koanf:"description" validate:"min=1"`
}

type PromptsConfig struct {
	Detection   string `koanf:"detection" validate:"required"`
	EventType   string `koanf:"event_type" validate:"required"`
	Schedule    string `koanf:"schedule" validate:"required"`
	Interests   string `koanf:"interests" validate:"required"`
	Description string `koanf:"description" validate:"required"`
}

type SourcesConfig struct {
	Telegram TelegramConfig `koanf:"telegram"`
	Slack    SlackConfig    `koanf:"slack"`
	RSS      RSSConfig      `koanf:"rss"`
}

type TelegramConfig struct {
	Enabled       bool    `koanf:"enabled"`
	BotToken      string  `koanf:"bot_token"`
	Chats         []int64 `koanf:"chats"`
	UpdateTimeout int     `koanf:"update_timeout"`
}

type SlackConfig struct {
	Enabled  bool     `koanf:"enabled"`
	BotToken string   `koanf:"bot_token"`
	Channels []string `koanf:"channels"`
}

type RSSConfig struct {
	Enabled bool     `koanf:"enabled"`
	Feeds   []string `koanf:"feeds"`
}

type SuppressConfig struct {
	Enabled   bool    `koanf:"enabled"`
	Threshold float64 `koanf:"threshold" validate:"gte=0,lte=1"`
}

type DebugConfig struct {
	// Enabled writes one JSONL audit file per run under the data dir.
	Enabled bool `koanf:"enabled"`
}

type WatchConfig struct {
	Schedule string `koanf:"schedule"`
}

const (
	DefaultLogLevel = "info"

	DefaultModelDefault        = "gpt-4o-mini"
	DefaultModelFallback       = "claude-3-5-haiku-latest"
	DefaultModelEmbedding      = "text-embedding-3-small"
	DefaultMaxFallbackAttempts = 2
	DefaultOpenAIBaseURL       = "https://api.openai.com/v1"
	DefaultRequestTimeout      = "120s"

	DefaultPacingDelay         = "1s"
	DefaultRetryMaxAttempts    = 5
	DefaultRetryBaseDelay      = "2s"
	DefaultCreativeTemperature = 0.7

	DefaultLookaheadDays = 30
	DefaultLookbackDays  = 7
	DefaultMinConfidence = 0.75
	DefaultSkipOnline    = false

	DefaultDetectionBatchSize   = 10
	DefaultEventTypeBatchSize   = 10
	DefaultScheduleBatchSize    = 10
	DefaultInterestsBatchSize   = 5
	DefaultDescriptionBatchSize = 5

	DefaultTelegramUpdateTimeout = 60

	DefaultSuppressThreshold = 0.92

	DefaultWatchSchedule = "0 8 * * *"
)

// DefaultCues shortlist candidate messages before any AI call: weekday and
// month names plus the usual relative date words.
var DefaultCues = []string{
	"monday", "tuesday", "wednesday", "thursday", "friday", "saturday", "sunday",
	"jan", "feb", "mar", "apr", "may", "jun", "jul", "aug", "sep", "oct", "nov", "dec",
	"today", "tomorrow", "tonight", "this week", "next week",
}

const DefaultDetectionPrompt = `Today is {today}.
Below is a numbered list of chat messages. Decide for each whether it announces a specific upcoming event, such as a meetup, concert, lecture, workshop or game night happening at a concrete time.
Reply with the numbers of the messages that announce an event, one number per line. Reply with the single word none if none of them do.

{messages}`

const DefaultEventTypePrompt = `Below is a numbered list of event announcements. Classify how each event is attended: 0 means offline (in person), 1 means online, 2 means hybrid.
Reply with one line per item in the form INDEX: CLASS.

{messages}`

const DefaultSchedulePrompt = `Today is {today}.
Below is a numbered list of event announcements. Extract the start date and time of each event.
Reply with one line per item in the form INDEX: DD Mon YYYY HH:MM using a 24 hour clock, for example 1: 05 Dec 2099 19:30. If only the hour is known, omit the minutes. If you cannot determine the date, reply INDEX: unknown.

{messages}`

const DefaultInterestsPrompt = `The user's interests, numbered:
{interests}

Below is a numbered list of event announcements. For each announcement, decide which interests it serves and how confident you are, with confidence between 0 and 1.
Reply with one block per item: first a line holding the item number followed by a colon, then one INTEREST:CONFIDENCE pair per line. List only interests that apply.

{messages}`

const DefaultDescriptionPrompt = `Below is a numbered list of event announcements. Write a short catchy title and a one sentence summary for each.
Reply with one block per item: first a line holding the item number followed by a colon, then a TITLE: line and a SUMMARY: line.

{messages}`

func Load(cmd *cobra.Command) (*Config, error) {
	k := koanf.New(".")

	// Hardcoded Defaults
	defaults := map[string]interface{}{
		"log.level":                    DefaultLogLevel,
		"data.dir":                     "",
		"models.default":               DefaultModelDefault,
		"models.fallback":              DefaultModelFallback,
		"models.embedding":             DefaultModelEmbedding,
		"models.max_fallback_attempts": DefaultMaxFallbackAttempts,
		"models.registry": []ModelRegistry{
			{Name: DefaultModelDefault, Provider: "openai", RequestTimeout: DefaultRequestTimeout},
			{Name: DefaultModelFallback, Provider: "anthropic", RequestTimeout: DefaultRequestTimeout},
			{Name: "gemini-2.0-flash", Provider: "gemini", RequestTimeout: DefaultRequestTimeout},
		},
		"ai.pacing_delay":                  DefaultPacingDelay,
		"ai.retry_max_attempts":            DefaultRetryMaxAttempts,
		"ai.retry_base_delay":              DefaultRetryBaseDelay,
		"ai.creative_temperature":          DefaultCreativeTemperature,
		"pipeline.interests":               []string{},
		"pipeline.windows":                 []string{},
		"pipeline.cues":                    DefaultCues,
		"pipeline.lookahead_days":          DefaultLookaheadDays,
		"pipeline.lookback_days":           DefaultLookbackDays,
		"pipeline.min_confidence":          DefaultMinConfidence,
		"pipeline.skip_online":             DefaultSkipOnline,
		"pipeline.batch_sizes.detection":   DefaultDetectionBatchSize,
		"pipeline.batch_sizes.event_type":  DefaultEventTypeBatchSize,
		"pipeline.batch_sizes.schedule":    DefaultScheduleBatchSize,
		"pipeline.batch_sizes.interests":   DefaultInterestsBatchSize,
		"pipeline.batch_sizes.description": DefaultDescriptionBatchSize,
		"pipeline.prompts.detection":       DefaultDetectionPrompt,
		"pipeline.prompts.event_type":      DefaultEventTypePrompt,
		"pipeline.prompts.schedule":        DefaultSchedulePrompt,
		"pipeline.prompts.interests":       DefaultInterestsPrompt,
		"pipeline.prompts.description":     DefaultDescriptionPrompt,
		"sources.telegram.update_timeout":  DefaultTelegramUpdateTimeout,
		"suppress.enabled":                 false,
		"suppress.threshold":               DefaultSuppressThreshold,
		"debug.enabled":                    false,
		"watch.schedule":                   DefaultWatchSchedule,
	}
	for key, value := range defaults {
		k.Set(key, value)
	}

	// Config file loading
	configPath := ""
	if cmd != nil {
		if flag := cmd.Flags().Lookup("config"); flag != nil {
			configPath = strings.TrimSpace(flag.Value.String())
		}
	}

	if configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, err
		}
	} else {
		home, err := os.UserHomeDir()
		if err == nil {
			globalPath := filepath.Join(home, ".matsuri", "config.yaml")
			if err := k.Load(file.Provider(globalPath), yaml.Parser()); err != nil {
				slog.Debug("Global config not found or invalid", "path", globalPath, "error", err)
			}
		}
	}

	// Environment Variables
	k.Load(env.Provider("MATSURI_", ".", func(s string) string {
		return strings.Replace(strings.ToLower(strings.TrimPrefix(s, "MATSURI_")), "_", ".", -1)
	}), nil)

	// CLI Flags
	if cmd != nil {
		k.Load(posflag.Provider(cmd.Flags(), ".", k), nil)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, err
	}

	for i, m := range cfg.Models.Registry {
		if m.Provider == "" {
			cfg.Models.Registry[i].Provider = "openai"
		}
	}

	if err := normalizePathFields(&cfg); err != nil {
		return nil, err
	}

	// Post-Process: Inject standard Env Vars if missing
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		for i, m := range cfg.Models.Registry {
			if m.Provider == "openai" && m.APIKey == "" {
				cfg.Models.Registry[i].APIKey = key
			}
		}
	}
	if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" {
		for i, m := range cfg.Models.Registry {
			if m.Provider == "anthropic" && m.APIKey == "" {
				cfg.Models.Registry[i].APIKey = key
			}
		}
	}
	if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		for i, m := range cfg.Models.Registry {
			if m.Provider == "gemini" && m.APIKey == "" {
				cfg.Models.Registry[i].APIKey = key
			}
		}
	}
	if token := os.Getenv("TELEGRAM_BOT_TOKEN"); token != "" && cfg.Sources.Telegram.BotToken == "" {
		cfg.Sources.Telegram.BotToken = token
	}
	if token := os.Getenv("SLACK_BOT_TOKEN"); token != "" && cfg.Sources.Slack.BotToken == "" {
		cfg.Sources.Slack.BotToken = token
	}

	return &cfg, nil
}

func normalizePathFields(cfg *Config) error {
	if cfg == nil {
		return nil
	}

	dataDir, err := expandConfiguredPath(cfg.Data.Dir)
	if err != nil {
		return err
	}
	if dataDir != "" {
		cfg.Data.Dir = dataDir
	}

	return nil
}

func expandConfiguredPath(path string) (string, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return "", nil
	}
	expanded, err := paths.Expand(trimmed)
	if err != nil {
		return "", err
	}
	return expanded, nil
}
