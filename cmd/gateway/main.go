// Command gateway runs the cognitive gateway's turn orchestrator behind a
// minimal HTTP front door.
//
// The HTTP surface itself is intentionally thin: authentication, static
// file serving, and SSE formatting are external collaborators' concerns.
// This binary's job is composition — wiring provider adapters, the
// three-layer cache, the shared-state backbone, and the breaker registries
// into an orchestrator.Pipeline, then exposing one endpoint that runs a turn.
//
// # Configuration
//
// Environment variables (see cogateway/config for the turn-pipeline
// settings; the following configure this process's topology):
//
//	GATEWAY_ADDR              - HTTP listen address (default: ":8090")
//	GUIDE_PROVIDER            - "openai" | "anthropic" | "bedrock" (default: "openai")
//	COORDINATOR_PROVIDER      - defaults to GUIDE_PROVIDER if unset
//	TOOL_SERVER_URL           - base URL the agent loop posts tool calls to
//	TOOL_APPROVAL_TOOLS       - comma-separated tool names requiring approval
//	RECIPES_ROOT              - recipe YAML directory (default: "./recipes")
//	DISTRIBUTED_CACHE_ENABLE  - "true" to back the three cache layers with a
//	                            Redis-backed pulse rmap instead of in-process maps
//	REDIS_URL                 - Redis address for distributed cache/rate-limit state
//	DURABLE_STORE_ENABLE      - "true" to back claims/ledger with MongoDB
//	MONGO_URI                 - MongoDB connection string
//	MONGO_DATABASE            - MongoDB database name (default: "cogateway")
//	ENGINE                    - "inproc" (default) | "temporal"
//	TEMPORAL_HOST_PORT        - Temporal frontend address (default: "localhost:7233")
//	TEMPORAL_TASK_QUEUE       - task queue name (default: "cogateway-agent-loop")
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	mongodriver "go.mongodb.org/mongo-driver/v2/mongo"
	mongooptions "go.mongodb.org/mongo-driver/v2/mongo/options"
	temporalclient "go.temporal.io/sdk/client"
	temporalopentelemetry "go.temporal.io/sdk/contrib/opentelemetry"
	temporalinterceptor "go.temporal.io/sdk/interceptor"
	"goa.design/clue/log"
	"goa.design/pulse/rmap"

	"cogateway/artifact/fsstore"
	"cogateway/breaker"
	"cogateway/cache"
	cachecluster "cogateway/cache/cluster"
	cacheinmem "cogateway/cache/inmem"
	"cogateway/claims"
	claimsinmem "cogateway/claims/inmem"
	claimsmongo "cogateway/claims/mongo"
	claimsmongoclient "cogateway/claims/mongo/clients/mongo"
	"cogateway/config"
	embeddinglocal "cogateway/embedding/local"
	"cogateway/engine"
	"cogateway/engine/inproc"
	enginetemporal "cogateway/engine/temporal"
	"cogateway/ledger"
	ledgerinmem "cogateway/ledger/inmem"
	ledgermongo "cogateway/ledger/mongo"
	ledgermongoclient "cogateway/ledger/mongo/clients/mongo"
	"cogateway/model"
	"cogateway/model/anthropic"
	"cogateway/model/bedrock"
	"cogateway/model/gateway"
	"cogateway/model/middleware"
	"cogateway/model/openai"
	"cogateway/orchestrator"
	"cogateway/recipe"
	"cogateway/sessionctx"
	"cogateway/telemetry"
	"cogateway/toolclient"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(context.Background(), err)
	}
}

func run() error {
	ctx := log.Context(context.Background(), log.WithFormat(logFormat()))
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	bundle := telemetry.Bundle{
		Logger:  telemetry.NewClueLogger(),
		Metrics: telemetry.NewClueMetrics(),
		Tracer:  telemetry.NewClueTracer(),
	}

	var rm *rmap.Map
	if envBoolOr("DISTRIBUTED_CACHE_ENABLE", false) {
		rdb := redis.NewClient(&redis.Options{Addr: envOr("REDIS_URL", "localhost:6379")})
		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("connect to redis: %w", err)
		}
		defer rdb.Close()
		m, err := rmap.Join(ctx, "cogateway-cache", rdb)
		if err != nil {
			return fmt.Errorf("join cache rmap: %w", err)
		}
		rm = m
	}

	embedder := embeddinglocal.New()

	guideClient, err := newProviderClient(ctx, cfg.Guide)
	if err != nil {
		return fmt.Errorf("build guide client: %w", err)
	}
	coordinatorClient, err := newProviderClient(ctx, cfg.Coordinator)
	if err != nil {
		return fmt.Errorf("build coordinator client: %w", err)
	}

	llmBreakers := breaker.NewRegistry(breaker.Options{
		FailureThreshold: cfg.Breaker.FailureThreshold,
		SuccessThreshold: cfg.Breaker.SuccessThreshold,
		Window:           time.Duration(cfg.Breaker.WindowSeconds) * time.Second,
		RecoveryTimeout:  time.Duration(cfg.Breaker.RecoveryTimeout) * time.Second,
	})
	toolBreakers := breaker.NewRegistry(breaker.Options{
		FailureThreshold: cfg.Breaker.FailureThreshold,
		SuccessThreshold: cfg.Breaker.SuccessThreshold,
		Window:           time.Duration(cfg.Breaker.WindowSeconds) * time.Second,
		RecoveryTimeout:  time.Duration(cfg.Breaker.RecoveryTimeout) * time.Second,
	})

	models := map[string]model.Client{
		orchestrator.RolePlanner:     wrapLLMClient(ctx, guideClient, llmBreakers.Get("planner"), rm, "planner"),
		orchestrator.RoleCoordinator: wrapLLMClient(ctx, coordinatorClient, llmBreakers.Get("coordinator"), rm, "coordinator"),
		orchestrator.RoleVerifier:    wrapLLMClient(ctx, guideClient, llmBreakers.Get("verifier"), rm, "verifier"),
	}

	responseCache, claimCache, toolCache := buildCacheLayers(rm)

	claimStore, ledgerStore, err := buildDurableStores(ctx)
	if err != nil {
		return fmt.Errorf("build durable stores: %w", err)
	}

	artifactRoot := envOr("ARTIFACT_ROOT", cfg.SharedStateDir+"/artifacts")
	artifactStore, err := fsstore.New(artifactRoot)
	if err != nil {
		return fmt.Errorf("open artifact store: %w", err)
	}

	var approvalTools []string
	if raw := os.Getenv("TOOL_APPROVAL_TOOLS"); raw != "" {
		approvalTools = strings.Split(raw, ",")
	}
	invoker := toolclient.New(toolclient.Options{
		BaseURL:   envOr("TOOL_SERVER_URL", "http://localhost:9100"),
		Telemetry: bundle,
	}, approvalTools, nil)

	eng, err := buildEngine(bundle)
	if err != nil {
		return fmt.Errorf("build engine: %w", err)
	}

	selector := recipe.NewSelector(envOr("RECIPES_ROOT", "./recipes"), cfg.PromptsDir)
	agentLoopRecipe, err := selector.Select("coordinator", "agent_loop", "")
	var agentLoopCfg recipe.AgentLoopConfig
	if err == nil {
		agentLoopCfg = agentLoopRecipe.AgentLoop
	} else {
		agentLoopCfg = recipe.AgentLoopConfig{Enabled: true, MaxSteps: cfg.MaxCycles, ToolsPerStep: 1}
	}

	pipeline := &orchestrator.Pipeline{
		Models:          models,
		ResponseCache:   responseCache,
		ClaimCache:      claimCache,
		ToolCache:       toolCache,
		ClaimStore:      claimStore,
		LedgerStore:     ledgerStore,
		ArtifactStore:   artifactStore,
		SessionStore:    sessionctx.New(),
		Breakers:        toolBreakers,
		Embedder:        embedder,
		Invoker:         invoker,
		Engine:          eng,
		TranscriptsRoot: cfg.TranscriptsDir,
		RepoRoot:        cfg.MemoryRoot,
		SessionDir:      cfg.SharedStateDir,
		AgentLoopConfig: agentLoopCfg,
	}

	srv := newTurnServer(pipeline)

	addr := envOr("GATEWAY_ADDR", ":8090")
	httpSrv := &http.Server{Addr: addr, Handler: srv}

	errc := make(chan error, 1)
	go func() {
		log.Printf(ctx, "gateway listening on %s", addr)
		errc <- httpSrv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	}
}

// newProviderClient builds the model.Client for one configured endpoint,
// dispatching on Endpoint.Provider. "openai" is the default since spec.md
// names POST /v1/chat/completions as the canonical outbound shape.
func newProviderClient(ctx context.Context, ep config.Endpoint) (model.Client, error) {
	switch strings.ToLower(ep.Provider) {
	case "anthropic":
		return anthropic.NewFromAPIKey(ep.APIKey, ep.ModelID)
	case "bedrock":
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			return nil, fmt.Errorf("load aws config: %w", err)
		}
		rt := bedrockruntime.NewFromConfig(awsCfg)
		return bedrock.New(rt, bedrock.Options{DefaultModel: ep.ModelID, MaxTokens: 4096})
	default:
		return openai.New(openai.Options{BaseURL: ep.URL, APIKey: ep.APIKey, DefaultModel: ep.ModelID})
	}
}

// wrapLLMClient layers the adaptive rate limiter and the named circuit
// breaker around a provider client via model/gateway's middleware chain,
// matching the "global concurrency cap on outbound LLM calls" back-pressure
// requirement. rm, when non-nil, makes the limiter's budget cluster-shared.
func wrapLLMClient(ctx context.Context, client model.Client, b *breaker.Breaker, rm *rmap.Map, key string) model.Client {
	breakered := &breakerClient{next: client, breaker: b}
	limiter := middleware.NewAdaptiveRateLimiter(ctx, rm, "llm:"+key, 60000, 180000)
	srv, err := gateway.NewServer(gateway.WithProvider(breakered), gateway.WithUnary(rateLimitUnary(limiter)))
	if err != nil {
		// WithProvider is always set above, so NewServer cannot fail here;
		// fall back to the unwrapped client rather than panicking a process
		// on a precondition that's always satisfied.
		return breakered
	}
	return srv
}

func rateLimitUnary(limiter *middleware.AdaptiveRateLimiter) gateway.UnaryMiddleware {
	wrapped := limiter.Middleware()
	return func(next gateway.UnaryHandler) gateway.UnaryHandler {
		limited := wrapped(unaryAsClient{next})
		return func(ctx context.Context, req model.Request) (model.Response, error) {
			return limited.Complete(ctx, req)
		}
	}
}

type unaryAsClient struct{ handler gateway.UnaryHandler }

func (u unaryAsClient) Complete(ctx context.Context, req model.Request) (model.Response, error) {
	return u.handler(ctx, req)
}

// breakerClient wraps a model.Client with the LLM circuit breaker, matching
// spec.md's "two instances in the system: one for LLM endpoints ... and one
// for tool categories" — this is the LLM-side instance, one per role.
type breakerClient struct {
	next    model.Client
	breaker *breaker.Breaker
}

func (c *breakerClient) Complete(ctx context.Context, req model.Request) (model.Response, error) {
	var resp model.Response
	err := c.breaker.Call(ctx, func(ctx context.Context) error {
		var callErr error
		resp, callErr = c.next.Complete(ctx, req)
		return callErr
	})
	return resp, err
}

func buildCacheLayers(rm *rmap.Map) (cache.Layer, cache.Layer, cache.Layer) {
	if rm == nil {
		return cacheinmem.New("response", 2000, 0.30),
			cacheinmem.New("claim", 5000, 0.30),
			cacheinmem.New("tool_output", 3000, 0.30)
	}
	return cachecluster.New("response", rm, 2000, 0.30),
		cachecluster.New("claim", rm, 5000, 0.30),
		cachecluster.New("tool_output", rm, 3000, 0.30)
}

func buildDurableStores(ctx context.Context) (claims.Store, ledger.Store, error) {
	if !envBoolOr("DURABLE_STORE_ENABLE", false) {
		return claimsinmem.New(), ledgerinmem.New(), nil
	}
	uri := envOr("MONGO_URI", "mongodb://localhost:27017")
	db := envOr("MONGO_DATABASE", "cogateway")

	mc, err := mongodriver.Connect(mongooptions.Client().ApplyURI(uri))
	if err != nil {
		return nil, nil, fmt.Errorf("connect mongo: %w", err)
	}
	if err := mc.Ping(ctx, nil); err != nil {
		return nil, nil, fmt.Errorf("ping mongo: %w", err)
	}

	claimsClient, err := claimsmongoclient.New(claimsmongoclient.Options{Client: mc, Database: db})
	if err != nil {
		return nil, nil, fmt.Errorf("build claims mongo client: %w", err)
	}
	claimStore, err := claimsmongo.NewStore(claimsClient)
	if err != nil {
		return nil, nil, fmt.Errorf("build claims store: %w", err)
	}

	ledgerClient, err := ledgermongoclient.New(ledgermongoclient.Options{Client: mc, Database: db})
	if err != nil {
		return nil, nil, fmt.Errorf("build ledger mongo client: %w", err)
	}
	ledgerStore, err := ledgermongo.NewStore(ledgerClient)
	if err != nil {
		return nil, nil, fmt.Errorf("build ledger store: %w", err)
	}

	return claimStore, ledgerStore, nil
}

func buildEngine(bundle telemetry.Bundle) (engine.Engine, error) {
	switch strings.ToLower(envOr("ENGINE", "inproc")) {
	case "temporal":
		tracingInterceptor, err := temporalopentelemetry.NewTracingInterceptor(temporalopentelemetry.TracerOptions{
			Tracer: otel.Tracer("cogateway/engine/temporal"),
		})
		if err != nil {
			return nil, fmt.Errorf("build temporal tracing interceptor: %w", err)
		}
		c, err := temporalclient.Dial(temporalclient.Options{
			HostPort:     envOr("TEMPORAL_HOST_PORT", "localhost:7233"),
			Interceptors: []temporalinterceptor.ClientInterceptor{tracingInterceptor},
		})
		if err != nil {
			return nil, fmt.Errorf("dial temporal: %w", err)
		}
		return enginetemporal.New(c, envOr("TEMPORAL_TASK_QUEUE", "cogateway-agent-loop"), bundle), nil
	default:
		return inproc.New(bundle), nil
	}
}

func logFormat() log.Format {
	if log.IsTerminal() {
		return log.FormatTerminal
	}
	return log.FormatJSON
}

func envOr(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envBoolOr(key string, defaultVal bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return defaultVal
}

// turnRequest is the HTTP body for POST /v1/turns.
type turnRequest struct {
	SessionID string `json:"session_id"`
	TraceID   string `json:"trace_id"`
	Domain    string `json:"domain"`
	Query     string `json:"query"`
}

type turnResponse struct {
	Answer string                     `json:"answer"`
	Phases []orchestrator.PhaseResult `json:"phases"`
}

// turnServer exposes the pipeline over HTTP. It enforces the per-session
// in-flight turn limit of 1 named in spec.md's back-pressure section: a
// second request on the same session blocks on that session's mutex rather
// than running concurrently against shared session state.
type turnServer struct {
	pipeline *orchestrator.Pipeline

	mu       sync.Mutex
	sessions map[string]*sync.Mutex
}

func newTurnServer(p *orchestrator.Pipeline) *turnServer {
	return &turnServer{pipeline: p, sessions: make(map[string]*sync.Mutex)}
}

func (s *turnServer) sessionLock(sessionID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.sessions[sessionID]
	if !ok {
		l = &sync.Mutex{}
		s.sessions[sessionID] = l
	}
	return l
}

func (s *turnServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/v1/turns" || r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}

	var req turnRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("decode request: %v", err), http.StatusBadRequest)
		return
	}
	if req.SessionID == "" || req.Query == "" {
		http.Error(w, "session_id and query are required", http.StatusBadRequest)
		return
	}
	if req.TraceID == "" {
		req.TraceID = req.SessionID + "-" + uuid.NewString()
	}

	lock := s.sessionLock(req.SessionID)
	lock.Lock()
	defer lock.Unlock()

	result, err := s.pipeline.RunTurn(r.Context(), req.SessionID, req.TraceID, req.Domain, req.Query, orchestrator.MemoryDocs{})
	if err != nil {
		http.Error(w, fmt.Sprintf("run turn: %v", err), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(turnResponse{Answer: result.Answer, Phases: result.Phases})
}
