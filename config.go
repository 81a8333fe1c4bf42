package tutorgate

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration.
type Config struct {
	Quota     QuotaConfig     `yaml:"quota"`
	Retrieval RetrievalConfig `yaml:"retrieval"`
	Gateway   GatewayConfig   `yaml:"gateway"`
	Session   SessionConfig   `yaml:"session"`
	Tutor     TutorConfig     `yaml:"tutor"`
	Counter   CounterConfig   `yaml:"counter"`
	Index     IndexConfig     `yaml:"index"`
	Embedder  EmbedderConfig  `yaml:"embedder"`
}

// QuotaConfig configures the per-user request and token windows.
type QuotaConfig struct {
	RequestsPerWindow int64         `yaml:"requests_per_window"`
	RequestWindow     time.Duration `yaml:"request_window"`
	TokensPerWindow   int64         `yaml:"tokens_per_window"`
	TokenWindow       time.Duration `yaml:"token_window"`
	KeyPrefix         string        `yaml:"key_prefix"`
	FailOpen          bool          `yaml:"fail_open"`
}

// RetrievalConfig configures the reformulation fan-out.
type RetrievalConfig struct {
	TopK           int           `yaml:"top_k"`
	QueryTimeout   time.Duration `yaml:"query_timeout"`
	ExpandTimeout  time.Duration `yaml:"expand_timeout"`
	ScoreThreshold float64       `yaml:"score_threshold"`

	// Reformulations is the number of alternative phrasings looked up next
	// to the original query. Nil uses DefaultReformulations; 0 disables
	// expansion.
	Reformulations *int `yaml:"reformulations"`

	// MaxParallel caps concurrent lookups of one call; 0 means one per reformulation.
	MaxParallel int `yaml:"max_parallel"`

	// Compression narrows merged passages to their relevant extract with an
	// LLM and drops passages with none.
	Compression bool `yaml:"compression"`
}

// GatewayConfig configures the provider chain.
type GatewayConfig struct {
	Retry RetryPolicy  `yaml:"retry"`
	Chain []LinkConfig `yaml:"chain"`

	// Policy orders the chain: config_order (default) tries links as listed,
	// health_first demotes links that keep failing until they cool down.
	Policy string `yaml:"policy"`
}

// LinkConfig configures one provider of the chain, in fallback order.
type LinkConfig struct {
	Name      string        `yaml:"name"`
	Provider  string        `yaml:"provider"`
	Model     string        `yaml:"model"`
	BaseURL   string        `yaml:"base_url"`
	Auth      Auth          `yaml:"auth"`
	Timeout   time.Duration `yaml:"timeout"`
	RateLimit float64       `yaml:"rate_limit"`
	Burst     int           `yaml:"burst"`
}

// SessionConfig configures short-term conversation memory.
type SessionConfig struct {
	MaxTurns int `yaml:"max_turns"`
}

// TutorConfig configures the request pipeline.
type TutorConfig struct {
	RequestTimeout   time.Duration `yaml:"request_timeout"`
	MaxConcurrent    int64         `yaml:"max_concurrent"`
	SystemPrompt     string        `yaml:"system_prompt"`
	MaxContextTokens int           `yaml:"max_context_tokens"`
	HistoryTurns     int           `yaml:"history_turns"`
	CommitTimeout    time.Duration `yaml:"commit_timeout"`

	// MaxSources caps Response.Sources and SourcePreviewChars cuts each
	// source's content. 0 uses the default; a negative value disables the
	// limit.
	MaxSources         int `yaml:"max_sources"`
	SourcePreviewChars int `yaml:"source_preview_chars"`
}

// CounterConfig selects the CounterStore backend.
type CounterConfig struct {
	Kind string `yaml:"kind"` // memory, redis, postgres
	Addr string `yaml:"addr"`
	DSN  string `yaml:"dsn"`
}

// IndexConfig selects the VectorIndex backend.
type IndexConfig struct {
	Kind       string `yaml:"kind"` // memory, sqlite, qdrant
	Path       string `yaml:"path"`
	URL        string `yaml:"url"`
	APIKey     string `yaml:"api_key"`
	Collection string `yaml:"collection"`
}

// EmbedderConfig selects the embedding backend.
type EmbedderConfig struct {
	Kind    string `yaml:"kind"` // openai, ollama, mock
	BaseURL string `yaml:"base_url"`
	Model   string `yaml:"model"`
	Auth    Auth   `yaml:"auth"`
}

// Defaults.
const (
	DefaultRequestsPerWindow = 100
	DefaultRequestWindow     = time.Hour
	DefaultTokensPerWindow   = 10000
	DefaultTokenWindow       = 24 * time.Hour
	DefaultKeyPrefix         = "tutorgate:quota:"

	DefaultTopK           = 5
	DefaultReformulations = 3
	DefaultQueryTimeout   = 5 * time.Second
	DefaultExpandTimeout  = 5 * time.Second

	DefaultLinkTimeout = 30 * time.Second

	DefaultMaxTurns = 10

	DefaultRequestTimeout     = 60 * time.Second
	DefaultMaxConcurrent      = 64
	DefaultCommitTimeout      = 2 * time.Second
	DefaultMaxSources         = 3
	DefaultSourcePreviewChars = 200
)

// DefaultConfig returns a Config with every default applied and no providers.
func DefaultConfig() Config {
	var cfg Config
	cfg.applyDefaults()
	return cfg
}

// LoadConfig reads and parses a YAML config file.
// Environment variables in the format ${VAR} are expanded before parsing.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("tutorgate: read config: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return Config{}, fmt.Errorf("tutorgate: parse config: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func (c *Config) applyDefaults() {
	c.Quota = c.Quota.withDefaults()
	c.Retrieval = c.Retrieval.withDefaults()
	c.Gateway.Retry = c.Gateway.Retry.withDefaults()
	if c.Gateway.Policy == "" {
		c.Gateway.Policy = PolicyConfigOrder
	}
	for i := range c.Gateway.Chain {
		if c.Gateway.Chain[i].Timeout == 0 {
			c.Gateway.Chain[i].Timeout = DefaultLinkTimeout
		}
		if c.Gateway.Chain[i].Name == "" {
			c.Gateway.Chain[i].Name = c.Gateway.Chain[i].Provider
		}
	}
	if c.Session.MaxTurns == 0 {
		c.Session.MaxTurns = DefaultMaxTurns
	}
	c.Tutor = c.Tutor.withDefaults()
	if c.Counter.Kind == "" {
		c.Counter.Kind = "memory"
	}
	if c.Index.Kind == "" {
		c.Index.Kind = "memory"
	}
}

// Validate checks the config for required fields and consistency.
func (c Config) Validate() error {
	if err := c.Quota.Validate(); err != nil {
		return err
	}
	if err := c.Retrieval.Validate(); err != nil {
		return err
	}
	if err := c.Gateway.Retry.Validate(); err != nil {
		return err
	}
	switch c.Gateway.Policy {
	case PolicyConfigOrder, PolicyHealthFirst:
	default:
		return fmt.Errorf("tutorgate: config: unknown gateway.policy %q", c.Gateway.Policy)
	}
	if len(c.Gateway.Chain) == 0 {
		return fmt.Errorf("tutorgate: config: at least one gateway.chain entry is required")
	}

	names := make(map[string]bool, len(c.Gateway.Chain))
	for i, l := range c.Gateway.Chain {
		if l.Provider == "" {
			return fmt.Errorf("tutorgate: config: chain[%d]: provider is required", i)
		}
		if l.Model == "" {
			return fmt.Errorf("tutorgate: config: chain[%d] (%s): model is required", i, l.Name)
		}
		if names[l.Name] {
			return fmt.Errorf("tutorgate: config: duplicate chain name %q", l.Name)
		}
		names[l.Name] = true
		if l.Timeout < 0 {
			return fmt.Errorf("tutorgate: config: chain[%d] (%s): timeout must not be negative", i, l.Name)
		}
		if l.RateLimit < 0 || l.Burst < 0 {
			return fmt.Errorf("tutorgate: config: chain[%d] (%s): rate_limit and burst must not be negative", i, l.Name)
		}
	}

	if c.Session.MaxTurns < 1 {
		return fmt.Errorf("tutorgate: config: session.max_turns must be positive")
	}
	return c.Tutor.Validate()
}

func (q QuotaConfig) withDefaults() QuotaConfig {
	if q.RequestsPerWindow == 0 {
		q.RequestsPerWindow = DefaultRequestsPerWindow
	}
	if q.RequestWindow == 0 {
		q.RequestWindow = DefaultRequestWindow
	}
	if q.TokensPerWindow == 0 {
		q.TokensPerWindow = DefaultTokensPerWindow
	}
	if q.TokenWindow == 0 {
		q.TokenWindow = DefaultTokenWindow
	}
	if q.KeyPrefix == "" {
		q.KeyPrefix = DefaultKeyPrefix
	}
	return q
}

// Validate checks the quota settings.
func (q QuotaConfig) Validate() error {
	if q.RequestsPerWindow < 1 || q.TokensPerWindow < 1 {
		return fmt.Errorf("tutorgate: config: quota limits must be positive")
	}
	if q.RequestWindow <= 0 || q.TokenWindow <= 0 {
		return fmt.Errorf("tutorgate: config: quota windows must be positive")
	}
	return nil
}

func (r RetrievalConfig) withDefaults() RetrievalConfig {
	if r.TopK == 0 {
		r.TopK = DefaultTopK
	}
	if r.Reformulations == nil {
		r.Reformulations = IntPtr(DefaultReformulations)
	}
	if r.QueryTimeout == 0 {
		r.QueryTimeout = DefaultQueryTimeout
	}
	if r.ExpandTimeout == 0 {
		r.ExpandTimeout = DefaultExpandTimeout
	}
	return r
}

// Validate checks the retrieval settings.
func (r RetrievalConfig) Validate() error {
	if r.TopK < 1 {
		return fmt.Errorf("tutorgate: config: retrieval.top_k must be positive")
	}
	if r.Reformulations != nil && *r.Reformulations < 0 {
		return fmt.Errorf("tutorgate: config: retrieval.reformulations must not be negative")
	}
	if r.QueryTimeout <= 0 || r.ExpandTimeout <= 0 {
		return fmt.Errorf("tutorgate: config: retrieval timeouts must be positive")
	}
	if r.MaxParallel < 0 {
		return fmt.Errorf("tutorgate: config: retrieval.max_parallel must not be negative")
	}
	return nil
}

func (t TutorConfig) withDefaults() TutorConfig {
	if t.RequestTimeout == 0 {
		t.RequestTimeout = DefaultRequestTimeout
	}
	if t.MaxConcurrent == 0 {
		t.MaxConcurrent = DefaultMaxConcurrent
	}
	if t.SystemPrompt == "" {
		t.SystemPrompt = DefaultSystemPrompt
	}
	if t.CommitTimeout == 0 {
		t.CommitTimeout = DefaultCommitTimeout
	}
	if t.MaxSources == 0 {
		t.MaxSources = DefaultMaxSources
	}
	if t.SourcePreviewChars == 0 {
		t.SourcePreviewChars = DefaultSourcePreviewChars
	}
	return t
}

// Validate checks the tutor settings.
func (t TutorConfig) Validate() error {
	if t.RequestTimeout <= 0 {
		return fmt.Errorf("tutorgate: config: tutor.request_timeout must be positive")
	}
	if t.MaxConcurrent < 1 {
		return fmt.Errorf("tutorgate: config: tutor.max_concurrent must be positive")
	}
	if t.MaxContextTokens < 0 || t.HistoryTurns < 0 {
		return fmt.Errorf("tutorgate: config: tutor.max_context_tokens and history_turns must not be negative")
	}
	return nil
}
