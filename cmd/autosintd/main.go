// Command autosintd is the AutOSINT engine process: it loads configuration,
// wires the graph/store/queue/embedding/fetcher clients and the two LLM
// provider adapters, then runs the Orchestrator's investigation fibers, the
// Processor pool, and the embedding backfill sweep side by side behind one
// HTTP surface (spec.md §6).
package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"autosint/internal/agentsession"
	"autosint/internal/backfill"
	"autosint/internal/breaker"
	"autosint/internal/config"
	"autosint/internal/dedup"
	"autosint/internal/embedding"
	"autosint/internal/fetcher"
	"autosint/internal/graph"
	"autosint/internal/llm"
	"autosint/internal/llm/anthropic"
	"autosint/internal/llm/openai"
	"autosint/internal/observability"
	"autosint/internal/orchestrator"
	"autosint/internal/processor"
	"autosint/internal/queue"
	"autosint/internal/retry"
	"autosint/internal/store"
)

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func main() {
	if err := run(); err != nil {
		log.Fatal().Err(err).Msg("autosintd")
	}
}

func run() error {
	configDir := getenv("AUTOSINT_CONFIG_DIR", "config")
	cfg, err := config.Load(configDir)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	observability.InitLogger(getenv("LOG_PATH", ""), getenv("LOG_LEVEL", "info"))

	baseCtx := context.Background()
	shutdownOTel, err := observability.InitOTel(baseCtx, cfg.Observability)
	if err != nil {
		log.Warn().Err(err).Msg("otel init failed, continuing without observability")
		shutdownOTel = func(context.Context) error { return nil }
	}
	defer func() { _ = shutdownOTel(context.Background()) }()

	tr := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: 7 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
		ForceAttemptHTTP2:     true,
		TLSHandshakeTimeout:   7 * time.Second,
		MaxIdleConns:          200,
		MaxIdleConnsPerHost:   50,
		MaxConnsPerHost:       200,
		IdleConnTimeout:       90 * time.Second,
		ResponseHeaderTimeout: 30 * time.Second,
	}
	httpClient := observability.NewHTTPClient(&http.Client{Transport: tr})

	graphClient, err := graph.New(baseCtx, cfg.Graph)
	if err != nil {
		return fmt.Errorf("connect graph: %w", err)
	}
	defer func() { _ = graphClient.Close(context.Background()) }()
	if err := graphClient.EnsureSchema(baseCtx); err != nil {
		return fmt.Errorf("ensure graph schema: %w", err)
	}

	storeClient, err := store.New(baseCtx, cfg.Store)
	if err != nil {
		return fmt.Errorf("connect store: %w", err)
	}
	defer storeClient.Close()
	if err := storeClient.EnsureSchema(baseCtx, cfg.Graph.EmbeddingDimensions); err != nil {
		return fmt.Errorf("ensure store schema: %w", err)
	}

	queueClient, err := queue.New(cfg.Queue)
	if err != nil {
		return fmt.Errorf("connect queue: %w", err)
	}
	defer func() { _ = queueClient.Close() }()

	fetcherClient := fetcher.New(cfg.Fetcher, httpClient)
	embeddingClient := embedding.New(cfg.Embeddings, httpClient)
	breakerRegistry := breaker.New(cfg.Breaker)
	retryCfg := retry.NewConfig(cfg.Retry)

	graphClient.WithBreaker(breakerRegistry.Get(breaker.Graph))
	storeClient.WithBreaker(breakerRegistry.Get(breaker.Store))
	queueClient.WithBreaker(breakerRegistry.Get(breaker.Queue))
	embeddingClient.WithRetry(retryCfg)

	dedupCascade := dedup.New(graphClient, nil, cfg.Dedup)

	analystRole, ok := cfg.Roles["analyst"]
	if !ok {
		return fmt.Errorf("roles.analyst missing from config")
	}
	processorRole, ok := cfg.Roles["processor"]
	if !ok {
		return fmt.Errorf("roles.processor missing from config")
	}

	chatBreaker := breakerRegistry.Get(breaker.ChatAPI)
	analystProvider, err := buildProvider(analystRole, cfg.Providers, httpClient, chatBreaker, retryCfg)
	if err != nil {
		return fmt.Errorf("build analyst provider: %w", err)
	}
	processorProvider, err := buildProvider(processorRole, cfg.Providers, httpClient, chatBreaker, retryCfg)
	if err != nil {
		return fmt.Errorf("build processor provider: %w", err)
	}

	analystDeps := orchestrator.AnalystDeps{
		Graph:    graphClient,
		Store:    storeClient,
		Queue:    queueClient,
		Embedder: embeddingClient,
		Fetcher:  fetcherClient,
		Dedup:    dedupCascade,
		Limits:   cfg.Tools,
	}
	orch := orchestrator.New(
		storeClient,
		breakerRegistry,
		analystDeps,
		analystProvider,
		cfg.Prompts["analyst"],
		cfg.ToolSchemas["analyst"],
		agentsession.Config{MaxTurns: analystRole.MaxTurns, MaxConsecutiveMalformed: analystRole.MaxConsecutiveMalformed},
		cfg.Orchestrator,
	)

	pool := processor.New(
		queueClient,
		storeClient,
		processor.SessionDeps{
			Graph:    graphClient,
			Embedder: embeddingClient,
			Fetcher:  fetcherClient,
			Dedup:    dedupCascade,
			Limits:   cfg.Tools,
		},
		processorProvider,
		cfg.Prompts["processor"],
		cfg.ToolSchemas["processor"],
		agentsession.Config{MaxTurns: processorRole.MaxTurns, MaxConsecutiveMalformed: processorRole.MaxConsecutiveMalformed},
		processor.Config{
			PoolSize:          cfg.ProcessorPool.PoolSize,
			HeartbeatTTL:      time.Duration(cfg.ProcessorPool.HeartbeatTTLSeconds) * time.Second,
			HeartbeatInterval: time.Duration(cfg.ProcessorPool.HeartbeatIntervalSeconds) * time.Second,
		},
	)

	sweeper := backfill.New(graphClient, embeddingClient)

	ctx, cancel := signal.NotifyContext(baseCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := orch.Recover(ctx); err != nil {
		return fmt.Errorf("recover investigations: %w", err)
	}

	e := newEchoServer(orch, breakerRegistry)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return pool.Run(gctx) })
	g.Go(func() error {
		if err := sweeper.Run(gctx); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		return nil
	})
	g.Go(func() error { return runBreakerReporter(gctx, breakerRegistry) })
	g.Go(func() error {
		go func() {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			_ = e.Shutdown(shutdownCtx)
		}()
		if err := e.Start(cfg.HTTP.Addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	log.Info().Str("addr", cfg.HTTP.Addr).Msg("autosintd started")
	if err := g.Wait(); err != nil {
		return fmt.Errorf("autosintd: %w", err)
	}
	log.Info().Msg("autosintd stopped")
	return nil
}

// buildProvider resolves a role's configured provider name to a concrete
// llm.Provider, overriding the provider's configured model with the role's
// model when set (spec.md §4.1's per-role provider/model binding).
func buildProvider(role config.RoleConfig, providers config.ProviderConfig, httpClient *http.Client, chatBreaker *breaker.Breaker, retryCfg retry.Config) (llm.Provider, error) {
	switch role.Provider {
	case "anthropic":
		cfg := providers.Anthropic
		if role.Model != "" {
			cfg.Model = role.Model
		}
		return anthropic.New(cfg, httpClient).WithBreaker(chatBreaker).WithRetry(retryCfg), nil
	case "openai":
		cfg := providers.OpenAI
		if role.Model != "" {
			cfg.Model = role.Model
		}
		return openai.New(cfg, httpClient).WithBreaker(chatBreaker).WithRetry(retryCfg), nil
	default:
		return nil, fmt.Errorf("unknown provider %q", role.Provider)
	}
}

var breakerOpenGauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{
	Name: "autosint_breaker_open",
	Help: "1 if the named dependency's circuit breaker is fully open, else 0.",
}, []string{"dependency"})

func init() {
	prometheus.MustRegister(breakerOpenGauge)
}

// runBreakerReporter refreshes the breaker gauges every 5 seconds until ctx
// is cancelled, feeding GET /metrics (spec.md §6).
func runBreakerReporter(ctx context.Context, registry *breaker.Registry) error {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	deps := []string{breaker.Graph, breaker.Store, breaker.Queue, breaker.ChatAPI, breaker.Fetcher}
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			for _, name := range deps {
				v := 0.0
				if registry.Get(name).Open() {
					v = 1.0
				}
				breakerOpenGauge.WithLabelValues(name).Set(v)
			}
		}
	}
}

type investigateRequest struct {
	Prompt   string  `json:"prompt"`
	ParentID *string `json:"parent_id,omitempty"`
}

type investigateResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// newEchoServer wires /investigate, /health, and /metrics (spec.md §6).
func newEchoServer(orch *orchestrator.Orchestrator, breakerRegistry *breaker.Registry) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.POST("/investigate", func(c echo.Context) error {
		var req investigateRequest
		if err := c.Bind(&req); err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
		}
		if req.Prompt == "" {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "prompt is required"})
		}
		id := uuid.NewString()
		if _, err := orch.StartInvestigation(c.Request().Context(), id, req.Prompt, req.ParentID); err != nil {
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
		}
		go func() {
			runCtx := context.Background()
			if err := orch.RunInvestigation(runCtx, id); err != nil {
				observability.LoggerWithTrace(runCtx).Error().Err(err).Str("investigation_id", id).Msg("investigation fiber exited with error")
			}
		}()
		return c.JSON(http.StatusAccepted, investigateResponse{ID: id, Status: "pending"})
	})

	e.GET("/health", func(c echo.Context) error {
		if name, open := breakerRegistry.AnyHardOpen(); open {
			return c.JSON(http.StatusServiceUnavailable, map[string]string{"status": "degraded", "open_dependency": name})
		}
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})

	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	return e
}
