// reqminer-server wires the core agent runtime (message bus, worker
// pools, the mining/validation/rewrite/kg/dedup pipeline, and the
// Planner/Solver/Verifier triad) to an HTTP surface. The transport
// implementation itself (gin, SSE framing) is an external collaborator
// (spec.md §1); the route contract it exposes follows spec.md §6.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"github.com/codeready-toolchain/reqminer/pkg/bus"
	"github.com/codeready-toolchain/reqminer/pkg/cache"
	"github.com/codeready-toolchain/reqminer/pkg/chunking"
	"github.com/codeready-toolchain/reqminer/pkg/config"
	"github.com/codeready-toolchain/reqminer/pkg/dedup"
	"github.com/codeready-toolchain/reqminer/pkg/docparser"
	"github.com/codeready-toolchain/reqminer/pkg/events"
	"github.com/codeready-toolchain/reqminer/pkg/kgbuild"
	"github.com/codeready-toolchain/reqminer/pkg/llm"
	"github.com/codeready-toolchain/reqminer/pkg/mining"
	"github.com/codeready-toolchain/reqminer/pkg/models"
	"github.com/codeready-toolchain/reqminer/pkg/orchestrator"
	"github.com/codeready-toolchain/reqminer/pkg/persistence"
	"github.com/codeready-toolchain/reqminer/pkg/persistence/postgres"
	"github.com/codeready-toolchain/reqminer/pkg/rewrite"
	"github.com/codeready-toolchain/reqminer/pkg/triad"
	"github.com/codeready-toolchain/reqminer/pkg/validation"
	"github.com/codeready-toolchain/reqminer/pkg/vectorstore"
	"github.com/codeready-toolchain/reqminer/pkg/vectorstore/qdrant"
	"github.com/codeready-toolchain/reqminer/pkg/workbench"
	"github.com/codeready-toolchain/reqminer/pkg/workbench/tools"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func main() {
	configDir := flag.String("config-dir",
		getEnv("CONFIG_DIR", "./deploy/config"),
		"Path to configuration directory")
	flag.Parse()

	envPath := filepath.Join(*configDir, ".env")
	if err := godotenv.Load(envPath); err != nil {
		slog.Warn("could not load .env file, continuing with existing environment", "path", envPath, "error", err)
	} else {
		slog.Info("loaded environment file", "path", envPath)
	}

	httpPort := getEnv("HTTP_PORT", "8080")
	gin.SetMode(getEnv("GIN_MODE", "release"))

	ctx := context.Background()

	cfg, err := config.Initialize(ctx, *configDir)
	if err != nil {
		slog.Error("failed to initialize configuration", "error", err)
		os.Exit(1)
	}
	stats := cfg.Stats()
	slog.Info("configuration loaded",
		"criteria", stats.Criteria,
		"lexicon_override", stats.HasLexiconOverride,
		"validation_max_concurrent", stats.ValidationMaxConc,
		"rewrite_max_concurrent", stats.RewriteMaxConc,
	)

	store, closeStore := buildPersistence(ctx, cfg)
	defer closeStore()

	vstore, embedder, closeVector := buildVectorStore(ctx, cfg)
	defer closeVector()

	chatClient := buildChatClient()

	chunker := chunking.New()
	parserRegistry := docparser.NewRegistry()
	artifactCache := cache.New(store)

	miningAgent := mining.New(parserRegistry, chunker, chatClient)
	validator := validation.New(chatClient, store, artifactCache)
	rewriter := rewrite.New(chatClient, validator, store)
	duplicateDetector := dedup.New(embedder)
	kgBuilder := kgbuild.New(chatClient, vstore, embedder)

	hub := events.NewHub()
	pipeline := orchestrator.New(miningAgent, kgBuilder, validator, rewriter, duplicateDetector, hub)

	messageBus := bus.New(slog.Default())
	toolRegistry := workbench.New()
	if err := toolRegistry.Register(tools.NewQdrantSearch(vstore, embedder)); err != nil {
		slog.Error("failed to register qdrant_search tool", "error", err)
		os.Exit(1)
	}
	if err := toolRegistry.Register(tools.PythonCodeExecution{}); err != nil {
		slog.Error("failed to register python_exec tool", "error", err)
		os.Exit(1)
	}
	reflectionTriad := triad.New(chatClient, messageBus, store, toolRegistry, vstore, embedder)

	router := gin.Default()
	registerRoutes(router, cfg, pipeline, validator, kgBuilder, hub, store, reflectionTriad)

	slog.Info("starting reqminer HTTP server", "port", httpPort)
	if err := router.Run(":" + httpPort); err != nil {
		slog.Error("HTTP server exited", "error", err)
		os.Exit(1)
	}
}

// buildPersistence connects to PostgreSQL. If POSTGRES_HOST (or the
// config-file equivalent) is unreachable, the server still starts on an
// in-memory persistence.MemoryStore, whose cache and evaluation history
// last only for the life of the process.
func buildPersistence(ctx context.Context, cfg *config.Config) (persistence.Persistence, func()) {
	pgCfg := postgres.Config{
		Host:     cfg.Persistence.Host,
		Port:     cfg.Persistence.Port,
		User:     cfg.Persistence.User,
		Password: cfg.Persistence.Password,
		Database: cfg.Persistence.Database,
		SSLMode:  cfg.Persistence.SSLMode,
	}

	client, err := postgres.NewClient(ctx, pgCfg)
	if err != nil {
		slog.Warn("postgres unavailable, falling back to an in-memory store for this run", "error", err)
		mem := persistence.NewMemoryStore()
		return mem, func() {}
	}

	slog.Info("connected to PostgreSQL", "host", pgCfg.Host, "database", pgCfg.Database)
	return client, func() {
		if err := client.Close(); err != nil {
			slog.Warn("error closing postgres client", "error", err)
		}
	}
}

// buildVectorStore dials Qdrant at the configured URL (DefaultConfig sets
// "localhost", so it is tried unless the URL is configured empty); when the
// URL is empty or qdrant.New fails, it falls back to the in-process
// MemoryStore/HashEmbedder pair so KGBuilder,
// DuplicateDetector, and the triad's top-k retrieval still function
// end-to-end in a single-process demo (spec.md §1: no on-disk vector
// index is a non-goal, not "no vector store at all").
func buildVectorStore(ctx context.Context, cfg *config.Config) (vectorstore.VectorStore, vectorstore.Embedder, func()) {
	embedder := vectorstore.NewHashEmbedder(cfg.Qdrant.Dims)

	if cfg.Qdrant.URL == "" {
		slog.Info("QDRANT_URL not set, using the in-memory vector store")
		return vectorstore.NewMemoryStore(), embedder, func() {}
	}

	addr := fmt.Sprintf("%s:%d", cfg.Qdrant.URL, cfg.Qdrant.Port)
	store, err := qdrant.New(addr)
	if err != nil {
		slog.Warn("qdrant unavailable, falling back to an in-memory vector store", "addr", addr, "error", err)
		return vectorstore.NewMemoryStore(), embedder, func() {}
	}

	for _, collection := range []string{"requirements_v2", "kg_nodes_v1", "kg_edges_v1", "arch_trace"} {
		if err := store.EnsureCollection(ctx, collection, cfg.Qdrant.Dims); err != nil {
			slog.Warn("failed to ensure collection", "collection", collection, "error", err)
		}
	}

	slog.Info("connected to Qdrant", "addr", addr)
	return store, embedder, func() {
		if err := store.Close(); err != nil {
			slog.Warn("error closing qdrant connection", "error", err)
		}
	}
}

// buildChatClient wires the LLM provider collaborator (spec.md §1: "The
// LLM provider (accessed through a single ChatClient interface ...)").
// LLM_ENDPOINT names an HTTP adapter speaking reqminer's own
// CompletionRequest/CompletionResponse JSON shape; when unset, the server
// still starts and every agent handler that needs a completion observes
// an upstream_unavailable-style error through the Result sum type
// (spec.md §7), never a panic.
func buildChatClient() llm.ChatClient {
	endpoint := os.Getenv("LLM_ENDPOINT")
	if endpoint == "" {
		slog.Warn("LLM_ENDPOINT not set; mining/validation/rewrite/kg calls will fail with upstream_unavailable until configured")
		return llm.NewHTTPClient("", "")
	}
	return llm.NewHTTPClient(endpoint, os.Getenv("LLM_API_KEY"))
}

func registerRoutes(
	router *gin.Engine,
	cfg *config.Config,
	pipeline *orchestrator.Orchestrator,
	validator *validation.Delegator,
	kgBuilder *kgbuild.Builder,
	hub *events.Hub,
	store persistence.Persistence,
	reflectionTriad *triad.Triad,
) {
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status": "healthy",
			"configuration": gin.H{
				"criteria":                  cfg.Stats().Criteria,
				"validation_max_concurrent": cfg.Stats().ValidationMaxConc,
				"rewrite_max_concurrent":    cfg.Stats().RewriteMaxConc,
			},
		})
	})

	api := router.Group("/api")

	api.POST("/mining/upload", func(c *gin.Context) {
		form, err := c.MultipartForm()
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "detail": err.Error()})
			return
		}

		inputs, err := readUploadedFiles(form.File["files"])
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "detail": err.Error()})
			return
		}
		if len(inputs) == 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "detail": "no files uploaded"})
			return
		}

		opts := orchestrator.Options{
			Mining: mining.Options{
				MinTokens:      formInt(form, "chunk_tokens_min", cfg.Chunking.TokensMin),
				MaxTokens:      formInt(form, "chunk_size", cfg.Chunking.TokensMax),
				OverlapTokens:  formInt(form, "chunk_overlap", cfg.Chunking.OverlapTokens),
				NeighborRefs:   formBool(form, "neighbor_refs"),
				Model:          formString(form, "model", cfg.ModelName),
				WorkerEndpoint: cfg.WorkerEndpoint,
			},
			VerdictThreshold:        cfg.VerdictThreshold,
			ValidationMaxConcurrent: cfg.Concurrency.ValidationMaxConcurrent,
			ValidationTimeout:       cfg.Concurrency.ValidationTimeout,
			Rewrite: rewrite.Options{
				MaxConcurrent: cfg.Concurrency.RewriteMaxConcurrent,
				Timeout:       cfg.Concurrency.RewriteTimeout,
			},
			DedupThreshold: 0.90,
		}

		sessionID := uuid.NewString()
		go func() {
			runCtx := context.Background()
			if _, err := pipeline.Run(runCtx, sessionID, inputs, opts); err != nil {
				slog.Error("pipeline run failed", "session_id", sessionID, "error", err)
			}
		}()

		c.JSON(http.StatusAccepted, gin.H{"session_id": sessionID})
	})

	api.GET("/workflow/stream/:sessionId", func(c *gin.Context) {
		sessionID := c.Param("sessionId")
		stream, ok := hub.Get(sessionID)
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "invalid_request", "detail": "unknown session"})
			return
		}

		c.Header("Content-Type", "text/event-stream")
		c.Header("Cache-Control", "no-cache")
		c.Header("Connection", "keep-alive")

		c.Stream(func(w io.Writer) bool {
			ev, ok := stream.Next(c.Request.Context())
			if !ok {
				return false
			}
			return events.WriteSSE(w, ev) == nil
		})
	})

	api.POST("/v1/evaluate/single", func(c *gin.Context) {
		var req struct {
			Text         string   `json:"text"`
			CriteriaKeys []string `json:"criteria_keys"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "detail": err.Error()})
			return
		}
		score, evaluations, err := validator.ValidateOne(c.Request.Context(), req.Text, req.CriteriaKeys)
		if err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "upstream_unavailable", "detail": err.Error()})
			return
		}
		verdict := "fail"
		if score >= cfg.VerdictThreshold {
			verdict = "pass"
		}
		c.JSON(http.StatusOK, gin.H{"score": score, "verdict": verdict, "evaluation": evaluations})
	})

	api.POST("/v1/validate/batch", func(c *gin.Context) {
		var req struct {
			Items              []string `json:"items"`
			IncludeSuggestions bool     `json:"includeSuggestions"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "detail": err.Error()})
			return
		}

		requirements := make([]models.Requirement, len(req.Items))
		for i, text := range req.Items {
			requirements[i] = models.Requirement{ReqID: fmt.Sprintf("batch-%d", i), Title: text}
		}

		result, err := validator.Validate(c.Request.Context(), requirements, nil, cfg.VerdictThreshold, cfg.Concurrency.ValidationMaxConcurrent, cfg.Concurrency.ValidationTimeout)
		if err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "upstream_unavailable", "detail": err.Error()})
			return
		}

		out := make([]gin.H, len(result.Results))
		for i, r := range result.Results {
			entry := gin.H{
				"id":           r.ReqID,
				"originalText": r.Title,
				"score":        r.AggregateScore,
				"verdict":      r.Verdict,
				"evaluation":   r.Evaluations,
			}
			if req.IncludeSuggestions {
				suggestions, err := store.SuggestionsForChecksum(c.Request.Context(), cache.Checksum(r.Title))
				if err == nil {
					entry["suggestions"] = suggestions
				}
			}
			out[i] = entry
		}
		c.JSON(http.StatusOK, out)
	})

	api.POST("/v1/triad/solve", func(c *gin.Context) {
		var req struct {
			Task      string `json:"task"`
			ReqID     string `json:"req_id"`
			SessionID string `json:"session_id"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "detail": err.Error()})
			return
		}
		if req.SessionID == "" {
			req.SessionID = uuid.NewString()
		}

		outcome, err := reflectionTriad.Run(c.Request.Context(), req.Task, req.ReqID, req.SessionID, triad.Options{Model: cfg.ModelName})
		if err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "upstream_unavailable", "detail": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"req_id":     outcome.ReqID,
			"state":      outcome.State,
			"accepted":   outcome.Accepted,
			"timed_out":  outcome.TimedOut,
			"rounds":     len(outcome.Rounds),
			"ui_payload": outcome.UIPayload,
			"error":      outcome.Error,
		})
	})

	api.POST("/kg/build", func(c *gin.Context) {
		var req struct {
			Items   []jsonRequirement `json:"items"`
			UseLLM  bool              `json:"use_llm"`
			Persist string            `json:"persist"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "detail": err.Error()})
			return
		}

		result, err := kgBuilder.Build(c.Request.Context(), toRequirements(req.Items), kgbuild.Options{
			UseLLM:  req.UseLLM,
			Persist: req.Persist,
			Model:   cfg.ModelName,
		})
		if err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "upstream_unavailable", "detail": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"nodes": result.Nodes, "edges": result.Edges, "stats": result.Stats})
	})
}

func readUploadedFiles(headers []*multipart.FileHeader) ([]any, error) {
	inputs := make([]any, 0, len(headers))
	for _, fh := range headers {
		f, err := fh.Open()
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", fh.Filename, err)
		}
		data, err := io.ReadAll(f)
		f.Close()
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", fh.Filename, err)
		}
		inputs = append(inputs, mining.FileOrText{
			Filename:    fh.Filename,
			Data:        data,
			ContentType: contentTypeFor(fh.Filename),
		})
	}
	return inputs, nil
}

func contentTypeFor(filename string) string {
	switch filepath.Ext(filename) {
	case ".md":
		return "text/markdown"
	case ".json":
		return "application/json"
	default:
		return "text/plain"
	}
}

func formInt(form *multipart.Form, key string, def int) int {
	v := formString(form, key, "")
	if v == "" {
		return def
	}
	var out int
	if _, err := fmt.Sscanf(v, "%d", &out); err != nil || out <= 0 {
		return def
	}
	return out
}

func formBool(form *multipart.Form, key string) bool {
	return formString(form, key, "") == "true"
}

func formString(form *multipart.Form, key, def string) string {
	if vals, ok := form.Value[key]; ok && len(vals) > 0 {
		return vals[0]
	}
	return def
}

// jsonRequirement is the /api/kg/build request shape for one requirement,
// kept distinct from models.Requirement. JSON decoding ignores unknown
// fields; no warning is logged for them.
type jsonRequirement struct {
	ReqID  string   `json:"req_id"`
	Title  string   `json:"title"`
	Tag    string   `json:"tag"`
	Actors []string `json:"actors"`
}

func toRequirements(items []jsonRequirement) []models.Requirement {
	out := make([]models.Requirement, 0, len(items))
	for _, it := range items {
		out = append(out, models.Requirement{
			ReqID:  it.ReqID,
			Title:  it.Title,
			Tag:    models.NormalizeTag(it.Tag),
			Actors: it.Actors,
		})
	}
	return out
}
