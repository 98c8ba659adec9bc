// Package config loads AutOSINT's directory-based configuration: a
// top-level config.yaml holding every tunable, a tools/<role>/*.json tree of
// LLM tool schemas, and a prompts/<role>.md tree of system prompts. Secrets
// (API keys, DSNs) are sourced from a .env file alongside config.yaml,
// following the teacher's env-over-yaml precedence.
package config

import (
	"time"

	"autosint/internal/llm"
)

type AnthropicPromptCacheConfig struct {
	Enabled       bool `yaml:"enabled"`
	CacheSystem   bool `yaml:"cache_system"`
	CacheTools    bool `yaml:"cache_tools"`
	CacheMessages bool `yaml:"cache_messages"`
}

type AnthropicConfig struct {
	APIKey      string                     `yaml:"api_key"`
	BaseURL     string                     `yaml:"base_url"`
	Model       string                     `yaml:"model"`
	PromptCache AnthropicPromptCacheConfig `yaml:"prompt_cache"`
	ExtraParams map[string]any             `yaml:"extra_params"`
}

type OpenAIConfig struct {
	APIKey      string         `yaml:"api_key"`
	BaseURL     string         `yaml:"base_url"`
	Model       string         `yaml:"model"`
	ExtraParams map[string]any `yaml:"extra_params"`
}

type ProviderConfig struct {
	Anthropic AnthropicConfig `yaml:"anthropic"`
	OpenAI    OpenAIConfig    `yaml:"openai"`
}

// RoleConfig binds an agent role ("analyst" or "processor") to a provider,
// model, and per-session safety limits (spec.md §4.1/§4.2).
type RoleConfig struct {
	Provider                string `yaml:"provider"`
	Model                   string `yaml:"model"`
	MaxTurns                int    `yaml:"max_turns"`
	MaxConsecutiveMalformed int    `yaml:"max_consecutive_malformed"`
}

type GraphConfig struct {
	URI                 string `yaml:"uri"`
	Username            string `yaml:"username"`
	Password            string `yaml:"password"`
	Database            string `yaml:"database"`
	EmbeddingDimensions  int    `yaml:"embedding_dimensions"`
	FulltextResultsLimit int    `yaml:"fulltext_results_limit"`
}

type StoreConfig struct {
	DSN string `yaml:"dsn"`
}

type QueueConfig struct {
	Addr                     string `yaml:"addr"`
	Password                 string `yaml:"password"`
	ConsumerGroup            string `yaml:"consumer_group"`
	HeartbeatTTLSeconds      int    `yaml:"heartbeat_ttl_seconds"`
	HeartbeatIntervalSeconds int    `yaml:"heartbeat_interval_seconds"`
}

type EmbeddingsConfig struct {
	Endpoint           string `yaml:"endpoint"`
	APIKey             string `yaml:"api_key"`
	Model              string `yaml:"model"`
	AuthHeader         string `yaml:"auth_header"`
	BatchSize          int    `yaml:"batch_size"`
	BackfillIntervalMinutes int `yaml:"backfill_interval_minutes"`
}

type DedupConfig struct {
	FuzzyThreshold     float64 `yaml:"fuzzy_threshold"`
	EmbeddingThreshold float64 `yaml:"embedding_threshold"`
	FulltextCandidates int     `yaml:"fulltext_candidates"`
}

type RetryConfig struct {
	MaxAttempts       int     `yaml:"max_attempts"`
	InitialBackoffMS  int     `yaml:"initial_backoff_ms"`
	MaxBackoffMS      int     `yaml:"max_backoff_ms"`
	BackoffMultiplier float64 `yaml:"backoff_multiplier"`
	JitterEnabled     bool    `yaml:"jitter_enabled"`
}

type BreakerConfig struct {
	FailureThreshold int `yaml:"failure_threshold"`
	CooldownSeconds  int `yaml:"cooldown_seconds"`
}

type ProcessorPoolConfig struct {
	PoolSize                 int `yaml:"pool_size"`
	HeartbeatTTLSeconds      int `yaml:"heartbeat_ttl_seconds"`
	HeartbeatIntervalSeconds int `yaml:"heartbeat_interval_seconds"`
}

type OrchestratorConfig struct {
	MaxCyclesPerInvestigation int `yaml:"max_cycles_per_investigation"`
	ConsecutiveAllFailLimit   int `yaml:"consecutive_all_fail_limit"`
	WaitForWorkOrdersCeilingMinutes int `yaml:"wait_for_work_orders_ceiling_minutes"`
}

func (o OrchestratorConfig) WaitForWorkOrdersCeiling() time.Duration {
	return time.Duration(o.WaitForWorkOrdersCeilingMinutes) * time.Minute
}

type ToolLimitsConfig struct {
	MaxSearchResults     int `yaml:"max_search_results"`
	MaxEntityDetailChars int `yaml:"max_entity_detail_chars"`
	MaxClaimPreviewChars int `yaml:"max_claim_preview_chars"`
	MaxWorkOrdersPerCycle int `yaml:"max_work_orders_per_cycle"`
}

type ObsConfig struct {
	ServiceName      string `yaml:"service_name"`
	ServiceVersion   string `yaml:"service_version"`
	Environment      string `yaml:"environment"`
	OTLP             string `yaml:"otlp_endpoint"`
	LogPayloads      bool   `yaml:"log_payloads"`
	LogTruncateBytes int    `yaml:"log_truncate_bytes"`
}

type HTTPConfig struct {
	Addr string `yaml:"addr"`
}

type FetcherConfig struct {
	BaseURL        string `yaml:"base_url"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// Config is the fully loaded, validated configuration tree.
type Config struct {
	Providers     ProviderConfig         `yaml:"providers"`
	Roles         map[string]RoleConfig  `yaml:"roles"`
	Graph         GraphConfig            `yaml:"graph"`
	Store         StoreConfig            `yaml:"store"`
	Queue         QueueConfig            `yaml:"queue"`
	Embeddings    EmbeddingsConfig       `yaml:"embeddings"`
	Dedup         DedupConfig            `yaml:"dedup"`
	Retry         RetryConfig            `yaml:"retry"`
	Breaker       BreakerConfig          `yaml:"breaker"`
	ProcessorPool ProcessorPoolConfig    `yaml:"processor_pool"`
	Orchestrator  OrchestratorConfig     `yaml:"orchestrator"`
	Tools         ToolLimitsConfig       `yaml:"tools"`
	Observability ObsConfig              `yaml:"observability"`
	HTTP          HTTPConfig             `yaml:"http"`
	Fetcher       FetcherConfig          `yaml:"fetcher"`

	// Populated by Load from the tools/ and prompts/ directory trees, not
	// from config.yaml itself.
	ToolSchemas map[string][]llm.ToolSchema `yaml:"-"`
	Prompts     map[string]string           `yaml:"-"`
}
