// Package config loads the bot's environment-driven configuration.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"

	"tire-assistant/internal/integrations/paramstore"
)

const (
	StoreDynamo   = "dynamodb"
	StorePostgres = "postgres"
	StoreMemory   = "memory"

	LLMModeText  = "text"
	LLMModeTools = "tools"

	// localPrefix namespaces environment-provided secrets when SSM is not used.
	localPrefix = "/tire-assistant"
)

type Config struct {
	// Secrets
	ParamPrefix     string `env:"PARAM_PREFIX"`
	VerifyToken     string `env:"FACEBOOK_VERIFY_TOKEN"`
	PageAccessToken string `env:"FACEBOOK_PAGE_ACCESS_TOKEN"`
	OpenAIAPIKey    string `env:"OPENAI_API_KEY"`

	// Store
	StoreBackend string        `env:"STORE_BACKEND" envDefault:"dynamodb"`
	StateTable   string        `env:"STATE_TABLE"`
	DatabaseURL  string        `env:"DATABASE_URL"`
	LeaseTTL     time.Duration `env:"LEASE_TTL" envDefault:"60s"`
	LeaseWait    time.Duration `env:"LEASE_WAIT" envDefault:"10s"`

	// LLM
	LLMMode           string        `env:"LLM_MODE" envDefault:"text"`
	OpenAIModel       string        `env:"OPENAI_MODEL" envDefault:"gpt-4"`
	OpenAITemperature float64       `env:"OPENAI_TEMPERATURE" envDefault:"0.7"`
	OpenAIBaseURL     string        `env:"OPENAI_BASE_URL"`
	LLMTimeout        time.Duration `env:"LLM_TIMEOUT" envDefault:"20s"`
	ModerationEnabled bool          `env:"MODERATION_ENABLED" envDefault:"false"`

	// Conversation
	HistoryLimit       int    `env:"HISTORY_LIMIT" envDefault:"6"`
	PromptPath         string `env:"PROMPT_PATH"`
	FallbackCustomerID string `env:"FALLBACK_CUSTOMER_ID" envDefault:"C0000"`
	CloseOnEndSentinel bool   `env:"CLOSE_ON_END_SENTINEL" envDefault:"false"`

	// Delivery
	GraphAPIBaseURL       string        `env:"GRAPH_API_BASE_URL" envDefault:"https://graph.facebook.com/v18.0"`
	SendTimeout           time.Duration `env:"SEND_TIMEOUT" envDefault:"10s"`
	TypingDelayPerChar    time.Duration `env:"TYPING_DELAY_PER_CHAR" envDefault:"30ms"`
	TypingDelayCap        time.Duration `env:"TYPING_DELAY_CAP" envDefault:"4s"`
	TypingRefreshInterval time.Duration `env:"TYPING_REFRESH_INTERVAL" envDefault:"0s"`
	SplitBubbles          bool          `env:"SPLIT_BUBBLES" envDefault:"false"`

	// Process
	HTTPPort int    `env:"HTTP_PORT" envDefault:"8080"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
}

// Load parses the process environment into Config.
func Load() (*Config, error) {
	return parse(env.Options{})
}

// LoadFrom parses the given variables instead of the process environment.
func LoadFrom(vars map[string]string) (*Config, error) {
	return parse(env.Options{Environment: vars})
}

func parse(opts env.Options) (*Config, error) {
	cfg := &Config{}
	if err := env.ParseWithOptions(cfg, opts); err != nil {
		return nil, fmt.Errorf("parse env config: %w", err)
	}
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) normalize() {
	c.ParamPrefix = strings.TrimRight(strings.TrimSpace(c.ParamPrefix), "/")
	c.StoreBackend = strings.ToLower(strings.TrimSpace(c.StoreBackend))
	c.LLMMode = strings.ToLower(strings.TrimSpace(c.LLMMode))
	c.StateTable = strings.TrimSpace(c.StateTable)
	c.DatabaseURL = strings.TrimSpace(c.DatabaseURL)
	if c.HistoryLimit <= 0 {
		c.HistoryLimit = 6
	}
}

// Validate reports the first inconsistent setting.
func (c *Config) Validate() error {
	switch c.StoreBackend {
	case StoreDynamo:
		if c.StateTable == "" {
			return errors.New("config: STATE_TABLE is required for the dynamodb store")
		}
	case StorePostgres:
		if c.DatabaseURL == "" {
			return errors.New("config: DATABASE_URL is required for the postgres store")
		}
	case StoreMemory:
	default:
		return fmt.Errorf("config: unknown STORE_BACKEND %q", c.StoreBackend)
	}

	if c.LLMMode != LLMModeText && c.LLMMode != LLMModeTools {
		return fmt.Errorf("config: unknown LLM_MODE %q", c.LLMMode)
	}
	if c.OpenAITemperature < 0 || c.OpenAITemperature > 2 {
		return fmt.Errorf("config: OPENAI_TEMPERATURE %v out of range", c.OpenAITemperature)
	}
	if c.TypingDelayPerChar < 0 || c.TypingDelayCap < 0 || c.TypingRefreshInterval < 0 {
		return errors.New("config: typing delays must not be negative")
	}
	if c.LeaseTTL <= 0 {
		return errors.New("config: LEASE_TTL must be positive")
	}

	if c.UsesSSM() {
		return nil
	}
	var missing []string
	if c.VerifyToken == "" {
		missing = append(missing, "FACEBOOK_VERIFY_TOKEN")
	}
	if c.PageAccessToken == "" {
		missing = append(missing, "FACEBOOK_PAGE_ACCESS_TOKEN")
	}
	if c.OpenAIAPIKey == "" {
		missing = append(missing, "OPENAI_API_KEY")
	}
	if len(missing) > 0 {
		return fmt.Errorf("config: PARAM_PREFIX is empty and %s not set", strings.Join(missing, ", "))
	}
	return nil
}

// UsesSSM reports whether secrets are read from Parameter Store.
func (c *Config) UsesSSM() bool {
	return c.ParamPrefix != ""
}

// SecretPrefix is the path under which secrets are looked up.
func (c *Config) SecretPrefix() string {
	if c.UsesSSM() {
		return c.ParamPrefix
	}
	return localPrefix
}

// EnvSecrets exposes environment-provided secrets through the same names SSM
// would use.
func (c *Config) EnvSecrets() paramstore.Static {
	return paramstore.Static{
		paramstore.Name(localPrefix, paramstore.VerifyToken): c.VerifyToken,
		paramstore.Name(localPrefix, paramstore.PageToken):   c.PageAccessToken,
		paramstore.Name(localPrefix, paramstore.OpenAIToken): c.OpenAIAPIKey,
	}
}
