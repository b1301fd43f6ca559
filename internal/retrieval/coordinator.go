// Package retrieval orchestrates the three retrieval sources: it
// builds indexes from the persisted corpus, runs enabled sources in
// parallel for a query, fuses their hit lists into one ranked answer
// set, and optionally applies a reranking pass.
package retrieval

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	ragerrors "github.com/ThreatFlux/hybridrag/internal/errors"
	"github.com/ThreatFlux/hybridrag/internal/graph"
	"github.com/ThreatFlux/hybridrag/internal/store"
)

const (
	defaultTopK      = 10
	defaultBatchSize = 64

	// candidateMultiplier widens per-source fetches so fusion has a
	// candidate pool larger than the final cut.
	candidateMultiplier = 2
)

// Toggles are the per-request component enable flags. Each is further
// gated by the persisted RAGConfig: a component requested here but
// globally disabled stays off.
type Toggles struct {
	Lexical bool
	Vector  bool
	Graph   bool
}

// EnableAll requests every component.
func EnableAll() Toggles {
	return Toggles{Lexical: true, Vector: true, Graph: true}
}

// Deps are the collaborators a Coordinator works with. Reranker is
// optional; zero Weights fall back to DefaultWeights.
type Deps struct {
	Lexical   *store.LexicalIndex
	Vector    *store.VectorIndex
	Graph     graph.Store
	DB        *store.DocumentStore
	Reranker  Reranker
	Weights   Weights
	BatchSize int
	Logger    *slog.Logger
}

// Coordinator is constructed per request with its toggles and fuses
// per-source results into a single ranked list.
type Coordinator struct {
	lexical  *store.LexicalIndex
	vector   *store.VectorIndex
	graph    graph.Store
	db       *store.DocumentStore
	reranker Reranker

	weights   Weights
	batchSize int
	toggles   Toggles

	logger *slog.Logger
}

// New creates a coordinator for one request.
func New(deps Deps, toggles Toggles) *Coordinator {
	weights := deps.Weights
	if weights == (Weights{}) {
		weights = DefaultWeights()
	}
	batchSize := deps.BatchSize
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		lexical:   deps.Lexical,
		vector:    deps.Vector,
		graph:     deps.Graph,
		db:        deps.DB,
		reranker:  deps.Reranker,
		weights:   weights,
		batchSize: batchSize,
		toggles:   toggles,
		logger:    logger,
	}
}

// effectiveToggles ANDs the per-request toggles with the persisted
// global configuration. Global disable always wins.
func (c *Coordinator) effectiveToggles(ctx context.Context) (Toggles, error) {
	cfg, err := c.db.GetRAGConfig(ctx)
	if err != nil {
		return Toggles{}, err
	}
	return Toggles{
		Lexical: c.toggles.Lexical && cfg.LexicalEnabled,
		Vector:  c.toggles.Vector && cfg.VectorEnabled,
		Graph:   c.toggles.Graph && cfg.GraphEnabled,
	}, nil
}

// RetrieveOptions tune one retrieval call.
type RetrieveOptions struct {
	TopK     int
	Rerank   bool
	FastMode bool
}

// Retrieve queries every enabled source in parallel, fuses the hit
// lists by chunk ID, optionally reranks, and returns the top results.
// The vector source only runs when a query embedding was provided.
// An empty corpus yields an empty list, never an error.
func (c *Coordinator) Retrieve(ctx context.Context, query string, queryEmbedding []float32, opts RetrieveOptions) ([]Result, error) {
	if query == "" && len(queryEmbedding) == 0 {
		return nil, ragerrors.New(ragerrors.ErrCodeQueryEmpty, "retrieve requires a query or a query embedding", nil)
	}

	topK := opts.TopK
	if topK <= 0 {
		topK = defaultTopK
	}
	fetchLimit := topK * candidateMultiplier

	enabled, err := c.effectiveToggles(ctx)
	if err != nil {
		return nil, err
	}

	var (
		lexicalHits []store.LexicalResult
		vectorHits  []store.VectorResult
		graphHits   []graphHit
	)

	// The index searches are in-memory and non-blocking, so a plain
	// group (no context propagation) is enough here.
	var g errgroup.Group

	if enabled.Lexical && c.lexical != nil && query != "" {
		g.Go(func() error {
			lexicalHits = c.lexical.Search(query, fetchLimit)
			return nil
		})
	}
	if enabled.Vector && c.vector != nil && len(queryEmbedding) > 0 {
		g.Go(func() error {
			hits, searchErr := c.vector.Search(queryEmbedding, fetchLimit)
			if searchErr != nil {
				// Dimension mismatch is a programmer error, not a
				// degradation case; it fails the whole retrieve.
				return searchErr
			}
			vectorHits = hits
			return nil
		})
	}
	if enabled.Graph && c.graph != nil && query != "" {
		g.Go(func() error {
			graphHits = c.graphSearch(query, fetchLimit, opts.FastMode)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	fused := fuseResults(lexicalHits, vectorHits, graphHits, c.weights)

	if opts.Rerank {
		fused = c.rerankResults(ctx, query, fused)
	}

	if len(fused) > topK {
		fused = fused[:topK]
	}

	c.logger.Debug("retrieval_complete",
		slog.Int("lexical_hits", len(lexicalHits)),
		slog.Int("vector_hits", len(vectorHits)),
		slog.Int("graph_hits", len(graphHits)),
		slog.Int("fused", len(fused)))
	return fused, nil
}

// graphSearch matches query terms against graph nodes and maps the
// hits back to chunks: a node carrying a chunk ID contributes
// directly, and entity/concept hits contribute through the chunk
// nodes in their immediate neighborhood.
func (c *Coordinator) graphSearch(query string, limit int, fastMode bool) []graphHit {
	nodeHits := c.graph.Search(query, graph.SearchOptions{
		MaxResults: limit,
		FastMode:   fastMode,
	})

	best := make(map[string]graphHit)
	record := func(chunkID string, score float64, content string) {
		if chunkID == "" || score <= 0 {
			return
		}
		if existing, ok := best[chunkID]; !ok || score > existing.Score {
			best[chunkID] = graphHit{ChunkID: chunkID, Score: score, Content: content}
		}
	}

	for _, hit := range nodeHits {
		if hit.Node.ChunkID != "" {
			record(hit.Node.ChunkID, hit.Score, hit.Node.Content)
			continue
		}
		// Entity/concept node: walk one hop in both directions to the
		// chunk nodes that mention it.
		sub := c.graph.GetSubgraph([]string{hit.Node.ID}, 1)
		for _, neighbor := range sub.Nodes {
			if neighbor.ChunkID != "" {
				record(neighbor.ChunkID, hit.Score, neighbor.Content)
			}
		}
	}

	hits := make([]graphHit, 0, len(best))
	for _, h := range best {
		hits = append(hits, h)
	}
	return hits
}

// rerankResults applies the optional reranking pass. Any failure or
// unavailability keeps the pre-rerank ranking.
func (c *Coordinator) rerankResults(ctx context.Context, query string, fused []Result) []Result {
	if c.reranker == nil || len(fused) < 2 {
		return fused
	}
	if !c.reranker.Available(ctx) {
		c.logger.Debug("reranker_unavailable")
		return fused
	}

	reranked, err := c.reranker.Rerank(ctx, query, fused)
	if err != nil {
		c.logger.Warn("rerank_failed_keeping_fused_order",
			slog.String("error", err.Error()))
		return fused
	}
	return reranked
}

// BuildOptions tune one index build.
type BuildOptions struct {
	// Rebuild clears each enabled index before ingesting; otherwise
	// only chunks not yet present are added.
	Rebuild   bool
	BatchSize int
}

// BuildSummary reports what a build accomplished. On timeout the
// counts reflect the partial progress that was kept.
type BuildSummary struct {
	ChunksTotal    int           `json:"chunks_total"`
	LexicalIndexed int           `json:"lexical_indexed"`
	VectorIndexed  int           `json:"vector_indexed"`
	GraphNodes     int           `json:"graph_nodes"`
	GraphEdges     int           `json:"graph_edges"`
	Enabled        Toggles       `json:"-"`
	Duration       time.Duration `json:"duration"`
}

// BuildIndexes (re)builds every enabled index from the persisted
// chunk corpus. The caller bounds the build with a context deadline;
// hitting it reports a distinct timeout error and keeps partial index
// state rather than rolling back.
func (c *Coordinator) BuildIndexes(ctx context.Context, opts BuildOptions) (BuildSummary, error) {
	start := time.Now()
	batchSize := opts.BatchSize
	if batchSize <= 0 {
		batchSize = c.batchSize
	}

	summary := BuildSummary{}

	enabled, err := c.effectiveToggles(ctx)
	if err != nil {
		return summary, err
	}
	summary.Enabled = enabled

	chunks, err := c.db.ListChunks(ctx)
	if err != nil {
		return summary, err
	}
	summary.ChunksTotal = len(chunks)

	if enabled.Lexical && c.lexical != nil {
		if err := c.buildLexical(ctx, chunks, opts.Rebuild, batchSize, &summary); err != nil {
			summary.Duration = time.Since(start)
			return summary, err
		}
	}
	if enabled.Vector && c.vector != nil {
		if err := c.buildVector(ctx, chunks, opts.Rebuild, batchSize, &summary); err != nil {
			summary.Duration = time.Since(start)
			return summary, err
		}
	}
	if enabled.Graph && c.graph != nil {
		nodes, edges, err := c.graph.BuildFromDatabase(ctx, c.db)
		if err != nil {
			summary.Duration = time.Since(start)
			return summary, c.buildError(ctx, err)
		}
		summary.GraphNodes = nodes
		summary.GraphEdges = edges
		if err := c.graph.Save(); err != nil {
			summary.Duration = time.Since(start)
			return summary, err
		}
	}

	summary.Duration = time.Since(start)
	c.logger.Info("indexes_built",
		slog.Int("chunks", summary.ChunksTotal),
		slog.Int("lexical", summary.LexicalIndexed),
		slog.Int("vector", summary.VectorIndexed),
		slog.Int("graph_nodes", summary.GraphNodes),
		slog.Bool("rebuild", opts.Rebuild),
		slog.Duration("duration", summary.Duration))
	return summary, nil
}

func (c *Coordinator) buildLexical(ctx context.Context, chunks []store.Chunk, rebuild bool, batchSize int, summary *BuildSummary) error {
	if rebuild {
		if err := c.lexical.Clear(); err != nil {
			return err
		}
	}

	batch := make([]store.Document, 0, batchSize)
	flush := func() {
		if len(batch) > 0 {
			c.lexical.AddDocuments(batch)
			summary.LexicalIndexed += len(batch)
			batch = batch[:0]
		}
	}

	for _, chunk := range chunks {
		if err := ctx.Err(); err != nil {
			flush()
			return c.buildError(ctx, err)
		}
		if !rebuild && c.lexical.Contains(chunk.ID) {
			continue
		}
		batch = append(batch, store.Document{ID: chunk.ID, Content: chunk.Content})
		if len(batch) >= batchSize {
			flush()
		}
	}
	flush()

	return c.lexical.Save()
}

func (c *Coordinator) buildVector(ctx context.Context, chunks []store.Chunk, rebuild bool, batchSize int, summary *BuildSummary) error {
	if rebuild {
		if err := c.vector.Clear(); err != nil {
			return err
		}
	}

	batch := make([]store.Chunk, 0, batchSize)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := c.vector.AddEmbeddings(batch); err != nil {
			return err
		}
		summary.VectorIndexed += len(batch)
		batch = batch[:0]
		return nil
	}

	for _, chunk := range chunks {
		if err := ctx.Err(); err != nil {
			if flushErr := flush(); flushErr != nil {
				return flushErr
			}
			return c.buildError(ctx, err)
		}
		if len(chunk.Embedding) == 0 {
			continue
		}
		if !rebuild && c.vector.Contains(chunk.ID) {
			continue
		}
		batch = append(batch, chunk)
		if len(batch) >= batchSize {
			if err := flush(); err != nil {
				return err
			}
		}
	}
	if err := flush(); err != nil {
		return err
	}

	return c.vector.Save()
}

// buildError classifies a context failure: deadline expiry is a
// timeout (retryable, partial state kept), anything else is a build
// failure.
func (c *Coordinator) buildError(ctx context.Context, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		c.logger.Warn("index_build_timeout", slog.String("error", err.Error()))
		return ragerrors.TimeoutError("index build exceeded its time budget", err)
	}
	return ragerrors.New(ragerrors.ErrCodeBuildFailed, "index build aborted", err)
}

// Status summarizes corpus and per-component state for the caller.
type Status struct {
	Documents      int     `json:"documents"`
	Chunks         int     `json:"chunks"`
	LexicalEnabled bool    `json:"lexical_enabled"`
	VectorEnabled  bool    `json:"vector_enabled"`
	GraphEnabled   bool    `json:"graph_enabled"`
	GraphBackend   string  `json:"graph_backend"`
	LexicalSize    int     `json:"lexical_size"`
	VectorSize     int     `json:"vector_size"`
	GraphNodeCount int     `json:"graph_node_count"`
	GraphEdgeCount int     `json:"graph_edge_count"`
}

// CurrentStatus reports corpus counts, global toggles, and component
// sizes.
func (c *Coordinator) CurrentStatus(ctx context.Context) (Status, error) {
	cfg, err := c.db.GetRAGConfig(ctx)
	if err != nil {
		return Status{}, err
	}

	docs, err := c.db.CountDocuments(ctx)
	if err != nil {
		return Status{}, err
	}
	chunks, err := c.db.CountChunks(ctx)
	if err != nil {
		return Status{}, err
	}

	status := Status{
		Documents:      docs,
		Chunks:         chunks,
		LexicalEnabled: cfg.LexicalEnabled,
		VectorEnabled:  cfg.VectorEnabled,
		GraphEnabled:   cfg.GraphEnabled,
		GraphBackend:   cfg.GraphBackend,
	}
	if c.lexical != nil {
		status.LexicalSize = c.lexical.Count()
	}
	if c.vector != nil {
		status.VectorSize = c.vector.Count()
	}
	if c.graph != nil {
		status.GraphNodeCount = c.graph.NodeCount()
		status.GraphEdgeCount = c.graph.EdgeCount()
	}
	return status, nil
}
