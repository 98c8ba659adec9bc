package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"autosint/internal/llm"
)

// Load reads config.yaml from dir, overrides secrets from a .env file and
// the process environment, walks dir/tools and dir/prompts, then validates
// the result. Any failure aborts with a descriptive error — there is no
// zero-value fallback, per spec.md §6.
func Load(dir string) (Config, error) {
	_ = godotenv.Overload(filepath.Join(dir, ".env"))

	var cfg Config
	b, err := os.ReadFile(filepath.Join(dir, "config.yaml"))
	if err != nil {
		return Config{}, fmt.Errorf("read config.yaml: %w", err)
	}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config.yaml: %w", err)
	}

	applyEnvOverrides(&cfg)
	applyDefaults(&cfg)

	schemas, err := loadToolSchemas(filepath.Join(dir, "tools"))
	if err != nil {
		return Config{}, fmt.Errorf("load tool schemas: %w", err)
	}
	cfg.ToolSchemas = schemas

	prompts, err := loadPrompts(filepath.Join(dir, "prompts"))
	if err != nil {
		return Config{}, fmt.Errorf("load prompts: %w", err)
	}
	cfg.Prompts = prompts

	if err := cfg.validate(); err != nil {
		return Config{}, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

// applyEnvOverrides lets secrets live outside config.yaml (and therefore
// outside version control), matching the teacher's env-over-yaml loader.
func applyEnvOverrides(cfg *Config) {
	cfg.Providers.Anthropic.APIKey = firstNonEmpty(os.Getenv("ANTHROPIC_API_KEY"), cfg.Providers.Anthropic.APIKey)
	cfg.Providers.OpenAI.APIKey = firstNonEmpty(os.Getenv("OPENAI_API_KEY"), cfg.Providers.OpenAI.APIKey)
	cfg.Graph.Password = firstNonEmpty(os.Getenv("GRAPH_PASSWORD"), cfg.Graph.Password)
	cfg.Store.DSN = firstNonEmpty(os.Getenv("STORE_DSN"), cfg.Store.DSN)
	cfg.Queue.Password = firstNonEmpty(os.Getenv("QUEUE_PASSWORD"), cfg.Queue.Password)
	cfg.Embeddings.APIKey = firstNonEmpty(os.Getenv("EMBEDDINGS_API_KEY"), cfg.Embeddings.APIKey)
}

func applyDefaults(cfg *Config) {
	if cfg.Queue.ConsumerGroup == "" {
		cfg.Queue.ConsumerGroup = "processors"
	}
	if cfg.Queue.HeartbeatTTLSeconds == 0 {
		cfg.Queue.HeartbeatTTLSeconds = 30
	}
	if cfg.Queue.HeartbeatIntervalSeconds == 0 {
		cfg.Queue.HeartbeatIntervalSeconds = cfg.Queue.HeartbeatTTLSeconds / 3
		if cfg.Queue.HeartbeatIntervalSeconds == 0 {
			cfg.Queue.HeartbeatIntervalSeconds = 1
		}
	}
	if cfg.ProcessorPool.PoolSize == 0 {
		cfg.ProcessorPool.PoolSize = 4
	}
	if cfg.ProcessorPool.HeartbeatTTLSeconds == 0 {
		cfg.ProcessorPool.HeartbeatTTLSeconds = cfg.Queue.HeartbeatTTLSeconds
	}
	if cfg.ProcessorPool.HeartbeatIntervalSeconds == 0 {
		cfg.ProcessorPool.HeartbeatIntervalSeconds = cfg.Queue.HeartbeatIntervalSeconds
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry.MaxAttempts = 5
	}
	if cfg.Retry.InitialBackoffMS == 0 {
		cfg.Retry.InitialBackoffMS = 200
	}
	if cfg.Retry.MaxBackoffMS == 0 {
		cfg.Retry.MaxBackoffMS = 10_000
	}
	if cfg.Retry.BackoffMultiplier == 0 {
		cfg.Retry.BackoffMultiplier = 2
	}
	if cfg.Breaker.FailureThreshold == 0 {
		cfg.Breaker.FailureThreshold = 5
	}
	if cfg.Breaker.CooldownSeconds == 0 {
		cfg.Breaker.CooldownSeconds = 30
	}
	if cfg.Dedup.FuzzyThreshold == 0 {
		cfg.Dedup.FuzzyThreshold = 0.85
	}
	if cfg.Dedup.EmbeddingThreshold == 0 {
		cfg.Dedup.EmbeddingThreshold = 0.9
	}
	if cfg.Dedup.FulltextCandidates == 0 {
		cfg.Dedup.FulltextCandidates = 10
	}
	if cfg.Orchestrator.MaxCyclesPerInvestigation == 0 {
		cfg.Orchestrator.MaxCyclesPerInvestigation = 10
	}
	if cfg.Orchestrator.ConsecutiveAllFailLimit == 0 {
		cfg.Orchestrator.ConsecutiveAllFailLimit = 2
	}
	if cfg.Orchestrator.WaitForWorkOrdersCeilingMinutes == 0 {
		cfg.Orchestrator.WaitForWorkOrdersCeilingMinutes = 60
	}
	if cfg.Tools.MaxSearchResults == 0 {
		cfg.Tools.MaxSearchResults = 20
	}
	if cfg.Tools.MaxEntityDetailChars == 0 {
		cfg.Tools.MaxEntityDetailChars = 4000
	}
	if cfg.Tools.MaxClaimPreviewChars == 0 {
		cfg.Tools.MaxClaimPreviewChars = 500
	}
	if cfg.Tools.MaxWorkOrdersPerCycle == 0 {
		cfg.Tools.MaxWorkOrdersPerCycle = 8
	}
	if cfg.Embeddings.BatchSize == 0 {
		cfg.Embeddings.BatchSize = 50
	}
	if cfg.Embeddings.BackfillIntervalMinutes == 0 {
		cfg.Embeddings.BackfillIntervalMinutes = 5
	}
	if cfg.HTTP.Addr == "" {
		cfg.HTTP.Addr = ":8080"
	}
	if cfg.Fetcher.TimeoutSeconds == 0 {
		cfg.Fetcher.TimeoutSeconds = 30
	}
	if cfg.Observability.ServiceName == "" {
		cfg.Observability.ServiceName = "autosintd"
	}
}

// toolFile mirrors the on-disk shape of tools/<role>/<tool>.json.
type toolFile struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// loadToolSchemas walks dir (tools/<role>/<tool>.json) returning a map from
// role to its ordered tool schemas. A missing dir is a configuration error:
// every role needs its tool set.
func loadToolSchemas(dir string) (map[string][]llm.ToolSchema, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read tools directory %s: %w", dir, err)
	}
	out := make(map[string][]llm.ToolSchema)
	for _, roleEntry := range entries {
		if !roleEntry.IsDir() {
			continue
		}
		role := roleEntry.Name()
		roleDir := filepath.Join(dir, role)
		files, err := os.ReadDir(roleDir)
		if err != nil {
			return nil, fmt.Errorf("read tools/%s: %w", role, err)
		}
		var schemas []llm.ToolSchema
		for _, f := range files {
			if f.IsDir() || !strings.HasSuffix(f.Name(), ".json") {
				continue
			}
			raw, err := os.ReadFile(filepath.Join(roleDir, f.Name()))
			if err != nil {
				return nil, fmt.Errorf("read %s: %w", f.Name(), err)
			}
			var tf toolFile
			if err := json.Unmarshal(raw, &tf); err != nil {
				return nil, fmt.Errorf("parse tool schema %s/%s: %w", role, f.Name(), err)
			}
			if tf.Name == "" {
				return nil, fmt.Errorf("tool schema %s/%s missing name", role, f.Name())
			}
			schemas = append(schemas, llm.ToolSchema{
				Name:        tf.Name,
				Description: tf.Description,
				Parameters:  tf.Parameters,
			})
		}
		out[role] = schemas
	}
	return out, nil
}

// loadPrompts walks dir (prompts/<role>.md) returning a map from role to
// system prompt text.
func loadPrompts(dir string) (map[string]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read prompts directory %s: %w", dir, err)
	}
	out := make(map[string]string)
	for _, f := range entries {
		if f.IsDir() || !strings.HasSuffix(f.Name(), ".md") {
			continue
		}
		role := strings.TrimSuffix(f.Name(), ".md")
		raw, err := os.ReadFile(filepath.Join(dir, f.Name()))
		if err != nil {
			return nil, fmt.Errorf("read prompt %s: %w", f.Name(), err)
		}
		out[role] = string(raw)
	}
	return out, nil
}

func (c Config) validate() error {
	var missing []string
	if c.Providers.Anthropic.APIKey == "" && c.Providers.OpenAI.APIKey == "" {
		missing = append(missing, "providers.anthropic.api_key or providers.openai.api_key")
	}
	if c.Graph.URI == "" {
		missing = append(missing, "graph.uri")
	}
	if c.Store.DSN == "" {
		missing = append(missing, "store.dsn")
	}
	if c.Queue.Addr == "" {
		missing = append(missing, "queue.addr")
	}
	for _, role := range []string{"analyst", "processor"} {
		r, ok := c.Roles[role]
		if !ok {
			missing = append(missing, fmt.Sprintf("roles.%s", role))
			continue
		}
		if r.Provider != "anthropic" && r.Provider != "openai" {
			missing = append(missing, fmt.Sprintf("roles.%s.provider (anthropic|openai)", role))
		}
		if len(c.ToolSchemas[role]) == 0 {
			missing = append(missing, fmt.Sprintf("tools/%s (no schemas found)", role))
		}
		if strings.TrimSpace(c.Prompts[role]) == "" {
			missing = append(missing, fmt.Sprintf("prompts/%s.md", role))
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing or invalid: %s", strings.Join(missing, ", "))
	}
	return nil
}
