package mcp

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/ThreatFlux/hybridrag/internal/async"
	"github.com/ThreatFlux/hybridrag/internal/config"
	"github.com/ThreatFlux/hybridrag/internal/registry"
	"github.com/ThreatFlux/hybridrag/internal/retrieval"
	"github.com/ThreatFlux/hybridrag/internal/store"
	"github.com/ThreatFlux/hybridrag/pkg/version"
)

// Server bridges MCP clients with the hybrid retrieval engine.
type Server struct {
	mcp      *mcp.Server
	cfg      *config.Config
	db       *store.DocumentStore
	registry *registry.Registry
	builder  *async.Builder
	logger   *slog.Logger
}

// RetrieveInput defines the input schema for the retrieve tool.
type RetrieveInput struct {
	Query          string    `json:"query" jsonschema:"the search query to execute"`
	QueryEmbedding []float32 `json:"query_embedding,omitempty" jsonschema:"precomputed embedding of the query; vector search is skipped without it"`
	TopK           int       `json:"top_k,omitempty" jsonschema:"maximum number of results, default 10"`
	Rerank         bool      `json:"rerank,omitempty" jsonschema:"rerank fused candidates before returning"`
	FastMode       bool      `json:"fast_mode,omitempty" jsonschema:"skip graph degree boosting for lower latency"`
	DisableLexical bool      `json:"disable_lexical,omitempty" jsonschema:"skip the BM25 source for this request"`
	DisableVector  bool      `json:"disable_vector,omitempty" jsonschema:"skip the vector source for this request"`
	DisableGraph   bool      `json:"disable_graph,omitempty" jsonschema:"skip the graph source for this request"`
}

// RetrieveOutput defines the output schema for the retrieve tool.
type RetrieveOutput struct {
	Results []retrieval.Result `json:"results" jsonschema:"fused results ordered by score descending"`
}

// BuildInput defines the input schema for the build_indexes tool.
// The use_* flags default to true when omitted; a component stays off
// regardless when its global toggle is disabled.
type BuildInput struct {
	Rebuild   bool  `json:"rebuild,omitempty" jsonschema:"clear existing indexes before ingesting instead of adding missing chunks"`
	UseBM25   *bool `json:"use_bm25,omitempty" jsonschema:"build the BM25 lexical index; default true"`
	UseFAISS  *bool `json:"use_faiss,omitempty" jsonschema:"build the vector index; default true"`
	UseGraph  *bool `json:"use_graph,omitempty" jsonschema:"build the knowledge graph; default true"`
	BatchSize int   `json:"batch_size,omitempty" jsonschema:"chunks ingested per batch; default from server configuration"`
}

// BuildOutput defines the output schema for the build_indexes tool.
type BuildOutput struct {
	State            string  `json:"state" jsonschema:"build state after starting: building"`
	Message          string  `json:"message,omitempty"`
	ChunksTotal      int     `json:"chunks_total" jsonschema:"number of stored chunks the build will process"`
	BM25Enabled      bool    `json:"bm25_enabled" jsonschema:"whether the lexical index is part of this build"`
	VectorEnabled    bool    `json:"vector_enabled" jsonschema:"whether the vector index is part of this build"`
	GraphEnabled     bool    `json:"graph_enabled" jsonschema:"whether the graph is part of this build"`
	EstimatedSeconds float64 `json:"estimated_seconds" jsonschema:"rough completion estimate from the chunk count"`
}

// StatusInput is empty; rag_status takes no parameters.
type StatusInput struct{}

// StatusOutput defines the output schema for the rag_status tool.
type StatusOutput struct {
	retrieval.Status
	Build async.ProgressSnapshot `json:"build" jsonschema:"state of the current or last index build"`
}

// ToggleInput defines the input schema for the toggle_component tool.
type ToggleInput struct {
	Component string `json:"component" jsonschema:"component to toggle: bm25, vector, or graph"`
	Enabled   bool   `json:"enabled" jsonschema:"desired state"`
}

// ToggleOutput defines the output schema for the toggle_component tool.
type ToggleOutput struct {
	Component string `json:"component"`
	Enabled   bool   `json:"enabled"`
}

// BackendInput defines the input schema for the set_graph_backend tool.
type BackendInput struct {
	Backend string `json:"backend" jsonschema:"graph backend to activate: memory or enhanced"`
}

// BackendOutput defines the output schema for the set_graph_backend tool.
type BackendOutput struct {
	Backend string `json:"backend"`
}

// NewServer creates a new MCP server over the given engine components.
func NewServer(cfg *config.Config, db *store.DocumentStore, reg *registry.Registry, builder *async.Builder, logger *slog.Logger) (*Server, error) {
	if db == nil {
		return nil, errors.New("document store is required")
	}
	if reg == nil {
		return nil, errors.New("registry is required")
	}
	if cfg == nil {
		cfg = config.NewConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		cfg:      cfg,
		db:       db,
		registry: reg,
		builder:  builder,
		logger:   logger,
	}

	s.mcp = mcp.NewServer(
		&mcp.Implementation{
			Name:    "HybridRAG",
			Version: version.Version,
		},
		nil,
	)

	s.registerTools()
	return s, nil
}

// MCPServer returns the underlying MCP server instance.
func (s *Server) MCPServer() *mcp.Server {
	return s.mcp
}

// registerTools registers all tools with the MCP server.
func (s *Server) registerTools() {
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "retrieve",
		Description: "Hybrid retrieval over the indexed corpus. Fuses BM25, vector, and graph results into one ranked list; sources can be disabled per request.",
	}, s.retrieveHandler)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "build_indexes",
		Description: "Build or rebuild the retrieval indexes from the stored chunk corpus in the background. Progress is reported by rag_status.",
	}, s.buildHandler)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "rag_status",
		Description: "Report corpus counts, component toggles, index sizes, and index build progress.",
	}, s.statusHandler)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "toggle_component",
		Description: "Enable or disable a retrieval component (bm25, vector, graph) globally. Disabled components are skipped even when a request asks for them.",
	}, s.toggleHandler)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "set_graph_backend",
		Description: "Switch the graph store backend between memory and enhanced. Current graph state is persisted before the swap.",
	}, s.backendHandler)

	s.logger.Info("mcp_tools_registered", slog.Int("count", 5))
}

// coordinator assembles a per-request coordinator from the registry's
// live components.
func (s *Server) coordinator(ctx context.Context, toggles retrieval.Toggles) (*retrieval.Coordinator, error) {
	lexical, err := s.registry.Lexical(ctx)
	if err != nil {
		return nil, err
	}
	vector, err := s.registry.Vector(ctx)
	if err != nil {
		return nil, err
	}
	g, err := s.registry.Graph(ctx)
	if err != nil {
		return nil, err
	}

	return retrieval.New(retrieval.Deps{
		Lexical:  lexical,
		Vector:   vector,
		Graph:    g,
		DB:       s.db,
		Reranker: retrieval.NewTermOverlapReranker(),
		Weights: retrieval.Weights{
			Lexical: s.cfg.Retrieval.LexicalWeight,
			Vector:  s.cfg.Retrieval.VectorWeight,
			Graph:   s.cfg.Retrieval.GraphWeight,
		},
		BatchSize: s.cfg.Index.BatchSize,
		Logger:    s.logger,
	}, toggles), nil
}

// retrieveHandler is the MCP SDK handler for the retrieve tool.
func (s *Server) retrieveHandler(ctx context.Context, _ *mcp.CallToolRequest, input RetrieveInput) (
	*mcp.CallToolResult,
	RetrieveOutput,
	error,
) {
	start := time.Now()
	requestID := generateRequestID()

	if strings.TrimSpace(input.Query) == "" && len(input.QueryEmbedding) == 0 {
		return nil, RetrieveOutput{}, NewInvalidParamsError("query or query_embedding is required")
	}

	topK := input.TopK
	if topK <= 0 {
		topK = s.cfg.Retrieval.DefaultTopK
	}
	if topK > s.cfg.Retrieval.MaxTopK {
		topK = s.cfg.Retrieval.MaxTopK
	}

	toggles := retrieval.Toggles{
		Lexical: !input.DisableLexical,
		Vector:  !input.DisableVector,
		Graph:   !input.DisableGraph,
	}

	s.logger.Info("retrieve_started",
		slog.String("request_id", requestID),
		slog.String("query", input.Query),
		slog.Int("top_k", topK))

	coord, err := s.coordinator(ctx, toggles)
	if err != nil {
		return nil, RetrieveOutput{}, MapError(err)
	}

	results, err := coord.Retrieve(ctx, input.Query, input.QueryEmbedding, retrieval.RetrieveOptions{
		TopK:     topK,
		Rerank:   input.Rerank,
		FastMode: input.FastMode,
	})
	duration := time.Since(start)

	if err != nil {
		s.logger.Error("retrieve_failed",
			slog.String("request_id", requestID),
			slog.Duration("duration", duration),
			slog.String("error", err.Error()))
		return nil, RetrieveOutput{}, MapError(err)
	}

	s.logger.Info("retrieve_completed",
		slog.String("request_id", requestID),
		slog.Duration("duration", duration),
		slog.Int("result_count", len(results)))

	if results == nil {
		results = []retrieval.Result{}
	}
	return nil, RetrieveOutput{Results: results}, nil
}

// estimatedBuildSecondsPerChunk is the rough per-chunk cost used for
// the completion estimate returned by build_indexes.
const estimatedBuildSecondsPerChunk = 0.005

// enabledFlag interprets an optional boolean: absent means true.
func enabledFlag(v *bool) bool {
	return v == nil || *v
}

// buildHandler is the MCP SDK handler for the build_indexes tool. The
// build runs in the background; the tool returns as soon as it starts.
func (s *Server) buildHandler(ctx context.Context, _ *mcp.CallToolRequest, input BuildInput) (
	*mcp.CallToolResult,
	BuildOutput,
	error,
) {
	ragCfg, err := s.db.GetRAGConfig(ctx)
	if err != nil {
		return nil, BuildOutput{}, MapError(err)
	}
	chunks, err := s.db.CountChunks(ctx)
	if err != nil {
		return nil, BuildOutput{}, MapError(err)
	}

	// Per-request selection ANDed with the persisted global toggles.
	toggles := retrieval.Toggles{
		Lexical: enabledFlag(input.UseBM25) && ragCfg.LexicalEnabled,
		Vector:  enabledFlag(input.UseFAISS) && ragCfg.VectorEnabled,
		Graph:   enabledFlag(input.UseGraph) && ragCfg.GraphEnabled,
	}

	coord, err := s.coordinator(ctx, toggles)
	if err != nil {
		return nil, BuildOutput{}, MapError(err)
	}

	rebuild := input.Rebuild
	batchSize := input.BatchSize
	// The build outlives this request; it is bounded by the builder's
	// own timeout, not the request context.
	err = s.builder.Start(context.Background(), func(buildCtx context.Context, p *async.Progress) (retrieval.BuildSummary, error) {
		summary, buildErr := coord.BuildIndexes(buildCtx, retrieval.BuildOptions{
			Rebuild:   rebuild,
			BatchSize: batchSize,
		})
		p.Advance(summary.ChunksTotal)
		return summary, buildErr
	})
	if err != nil {
		return nil, BuildOutput{}, MapError(err)
	}

	s.logger.Info("build_started",
		slog.Bool("rebuild", rebuild),
		slog.Int("chunks_total", chunks),
		slog.Bool("bm25", toggles.Lexical),
		slog.Bool("vector", toggles.Vector),
		slog.Bool("graph", toggles.Graph))
	return nil, BuildOutput{
		State:            async.StateBuilding,
		Message:          "Index build started. Poll rag_status for progress.",
		ChunksTotal:      chunks,
		BM25Enabled:      toggles.Lexical,
		VectorEnabled:    toggles.Vector,
		GraphEnabled:     toggles.Graph,
		EstimatedSeconds: float64(chunks) * estimatedBuildSecondsPerChunk,
	}, nil
}

// statusHandler is the MCP SDK handler for the rag_status tool.
func (s *Server) statusHandler(ctx context.Context, _ *mcp.CallToolRequest, _ StatusInput) (
	*mcp.CallToolResult,
	StatusOutput,
	error,
) {
	coord, err := s.coordinator(ctx, retrieval.EnableAll())
	if err != nil {
		return nil, StatusOutput{}, MapError(err)
	}

	status, err := coord.CurrentStatus(ctx)
	if err != nil {
		return nil, StatusOutput{}, MapError(err)
	}

	out := StatusOutput{Status: status}
	if s.builder != nil {
		out.Build = s.builder.Progress().Snapshot()
	}
	return nil, out, nil
}

// toggleHandler is the MCP SDK handler for the toggle_component tool.
func (s *Server) toggleHandler(ctx context.Context, _ *mcp.CallToolRequest, input ToggleInput) (
	*mcp.CallToolResult,
	ToggleOutput,
	error,
) {
	if input.Component == "" {
		return nil, ToggleOutput{}, NewInvalidParamsError("component is required")
	}

	if err := s.db.SetComponentEnabled(ctx, input.Component, input.Enabled); err != nil {
		return nil, ToggleOutput{}, MapError(err)
	}

	s.logger.Info("component_toggled",
		slog.String("component", input.Component),
		slog.Bool("enabled", input.Enabled))
	return nil, ToggleOutput{Component: input.Component, Enabled: input.Enabled}, nil
}

// backendHandler is the MCP SDK handler for the set_graph_backend tool.
func (s *Server) backendHandler(ctx context.Context, _ *mcp.CallToolRequest, input BackendInput) (
	*mcp.CallToolResult,
	BackendOutput,
	error,
) {
	if input.Backend == "" {
		return nil, BackendOutput{}, NewInvalidParamsError("backend is required")
	}

	if err := s.db.SetGraphBackend(ctx, input.Backend); err != nil {
		return nil, BackendOutput{}, MapError(err)
	}
	if err := s.registry.ResetGraphBackend(ctx); err != nil {
		return nil, BackendOutput{}, MapError(err)
	}

	s.logger.Info("graph_backend_set", slog.String("backend", input.Backend))
	return nil, BackendOutput{Backend: input.Backend}, nil
}

// Serve starts the server with the specified transport.
func (s *Server) Serve(ctx context.Context, transport string) error {
	s.logger.Info("mcp_server_starting", slog.String("transport", transport))

	switch transport {
	case "stdio":
		err := s.mcp.Run(ctx, &mcp.StdioTransport{})
		if err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Error("mcp_server_stopped", slog.String("error", err.Error()))
			return err
		}
		s.logger.Info("mcp_server_stopped")
		return nil
	default:
		return fmt.Errorf("unknown transport: %s (supported: stdio)", transport)
	}
}

// generateRequestID creates a short unique request ID for log correlation.
func generateRequestID() string {
	b := make([]byte, 4)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
