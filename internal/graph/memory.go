package graph

import (
	"context"
	"encoding/gob"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/google/uuid"

	ragerrors "github.com/ThreatFlux/hybridrag/internal/errors"
	"github.com/ThreatFlux/hybridrag/internal/store"
)

const defaultSearchResults = 10

// MemoryGraph is the classic backend: a directed graph held in plain
// adjacency maps, persisted as one gob blob. It is the core both
// backends build on.
type MemoryGraph struct {
	mu sync.RWMutex

	path string

	nodes map[string]store.GraphNode
	edges map[string]store.GraphEdge
	out   map[string][]string // source node -> edge IDs
	in    map[string][]string // target node -> edge IDs

	extractor EntityExtractor
	damping   float64
	logger    *slog.Logger
}

// graphSnapshot is the gob persistence payload. Adjacency is rebuilt
// on load.
type graphSnapshot struct {
	Nodes map[string]store.GraphNode
	Edges map[string]store.GraphEdge
}

// NewMemoryGraph creates an empty graph persisting to path. A nil
// extractor gets the capitalized-phrase default.
func NewMemoryGraph(path string, extractor EntityExtractor, logger *slog.Logger) *MemoryGraph {
	if extractor == nil {
		extractor = NewCapitalizedPhraseExtractor()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &MemoryGraph{
		path:      path,
		nodes:     make(map[string]store.GraphNode),
		edges:     make(map[string]store.GraphEdge),
		out:       make(map[string][]string),
		in:        make(map[string][]string),
		extractor: extractor,
		damping:   defaultPageRankDamping,
		logger:    logger,
	}
}

// AddNode inserts or replaces a node. An empty ID is rejected.
func (g *MemoryGraph) AddNode(node store.GraphNode) error {
	if node.ID == "" {
		return ragerrors.New(ragerrors.ErrCodeInvalidInput, "graph node requires an id", nil)
	}
	if node.NodeType == "" {
		node.NodeType = "entity"
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	g.nodes[node.ID] = node
	return nil
}

// AddEdge inserts an edge. Both endpoints must already exist; edges
// never create phantom nodes. A missing edge ID gets a generated one
// and a zero weight defaults to 1.0.
func (g *MemoryGraph) AddEdge(edge store.GraphEdge) error {
	if edge.SourceID == "" || edge.TargetID == "" {
		return ragerrors.New(ragerrors.ErrCodeInvalidInput, "graph edge requires source and target", nil)
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.nodes[edge.SourceID]; !ok {
		return ragerrors.Newf(ragerrors.ErrCodeInvalidInput, "edge source %q does not exist", edge.SourceID)
	}
	if _, ok := g.nodes[edge.TargetID]; !ok {
		return ragerrors.Newf(ragerrors.ErrCodeInvalidInput, "edge target %q does not exist", edge.TargetID)
	}

	if edge.ID == "" {
		edge.ID = uuid.NewString()
	}
	if edge.Weight == 0 {
		edge.Weight = 1.0
	}

	if _, replacing := g.edges[edge.ID]; !replacing {
		g.out[edge.SourceID] = append(g.out[edge.SourceID], edge.ID)
		g.in[edge.TargetID] = append(g.in[edge.TargetID], edge.ID)
	}
	g.edges[edge.ID] = edge
	return nil
}

// GetNode looks a node up by ID.
func (g *MemoryGraph) GetNode(id string) (store.GraphNode, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	node, ok := g.nodes[id]
	return node, ok
}

// GetNeighbors walks outgoing edges breadth-first up to maxDepth hops.
// The start node itself is excluded. Results are sorted by node ID so
// traversal order never leaks map iteration order.
func (g *MemoryGraph) GetNeighbors(id string, relationType string, maxDepth int) []store.GraphNode {
	if maxDepth <= 0 {
		maxDepth = 1
	}

	g.mu.RLock()
	defer g.mu.RUnlock()

	if _, ok := g.nodes[id]; !ok {
		return []store.GraphNode{}
	}

	visited := map[string]struct{}{id: {}}
	frontier := []string{id}

	for depth := 0; depth < maxDepth && len(frontier) > 0; depth++ {
		var next []string
		for _, nodeID := range frontier {
			for _, edgeID := range g.out[nodeID] {
				edge := g.edges[edgeID]
				if relationType != "" && edge.Relation != relationType {
					continue
				}
				if _, seen := visited[edge.TargetID]; seen {
					continue
				}
				visited[edge.TargetID] = struct{}{}
				next = append(next, edge.TargetID)
			}
		}
		frontier = next
	}

	delete(visited, id)
	neighbors := make([]store.GraphNode, 0, len(visited))
	for nodeID := range visited {
		neighbors = append(neighbors, g.nodes[nodeID])
	}
	sort.Slice(neighbors, func(a, b int) bool { return neighbors[a].ID < neighbors[b].ID })
	return neighbors
}

// Search matches query terms against node content. The base score is
// the fraction of query terms present in the node; outside fast mode a
// degree boost favors well-connected nodes. Ties break by node ID.
func (g *MemoryGraph) Search(query string, opts SearchOptions) []SearchResult {
	terms := store.Tokenize(query)
	if len(terms) == 0 {
		return []SearchResult{}
	}
	maxResults := opts.MaxResults
	if maxResults <= 0 {
		maxResults = defaultSearchResults
	}

	typeFilter := toSet(opts.NodeTypes)
	relationFilter := toSet(opts.RelationTypes)

	g.mu.RLock()
	defer g.mu.RUnlock()

	maxDegree := 0
	if !opts.FastMode {
		for id := range g.nodes {
			if d := g.degreeLocked(id, relationFilter); d > maxDegree {
				maxDegree = d
			}
		}
	}

	results := make([]SearchResult, 0)
	for _, node := range g.nodes {
		if len(typeFilter) > 0 {
			if _, ok := typeFilter[node.NodeType]; !ok {
				continue
			}
		}

		nodeTerms := toSet(store.Tokenize(node.Content))
		matched := 0
		for _, term := range terms {
			if _, ok := nodeTerms[term]; ok {
				matched++
			}
		}
		if matched == 0 {
			continue
		}
		score := float64(matched) / float64(len(terms))

		if !opts.FastMode && maxDegree > 0 {
			boost := float64(g.degreeLocked(node.ID, relationFilter)) / float64(maxDegree)
			score = 0.8*score + 0.2*boost
		}

		results = append(results, SearchResult{Node: node, Score: score})
	}

	sort.Slice(results, func(a, b int) bool {
		if results[a].Score != results[b].Score {
			return results[a].Score > results[b].Score
		}
		return results[a].Node.ID < results[b].Node.ID
	})
	if len(results) > maxResults {
		results = results[:maxResults]
	}
	return results
}

// degreeLocked counts in+out edges of a node, optionally restricted to
// a relation set. Caller must hold at least the read lock.
func (g *MemoryGraph) degreeLocked(id string, relationFilter map[string]struct{}) int {
	count := 0
	for _, edgeID := range g.out[id] {
		if edgeMatchesRelation(g.edges[edgeID], relationFilter) {
			count++
		}
	}
	for _, edgeID := range g.in[id] {
		if edgeMatchesRelation(g.edges[edgeID], relationFilter) {
			count++
		}
	}
	return count
}

func edgeMatchesRelation(edge store.GraphEdge, filter map[string]struct{}) bool {
	if len(filter) == 0 {
		return true
	}
	_, ok := filter[edge.Relation]
	return ok
}

func toSet(items []string) map[string]struct{} {
	if len(items) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(items))
	for _, item := range items {
		set[item] = struct{}{}
	}
	return set
}

// GetSubgraph collects all nodes within depth hops of the seeds,
// following edges in both directions, plus every edge whose endpoints
// both landed in the collected set.
func (g *MemoryGraph) GetSubgraph(seedIDs []string, depth int) Subgraph {
	if depth < 0 {
		depth = 0
	}

	g.mu.RLock()
	defer g.mu.RUnlock()

	visited := make(map[string]struct{})
	var frontier []string
	for _, id := range seedIDs {
		if _, ok := g.nodes[id]; ok {
			if _, seen := visited[id]; !seen {
				visited[id] = struct{}{}
				frontier = append(frontier, id)
			}
		}
	}

	for d := 0; d < depth && len(frontier) > 0; d++ {
		var next []string
		for _, nodeID := range frontier {
			for _, edgeID := range append(append([]string{}, g.out[nodeID]...), g.in[nodeID]...) {
				edge := g.edges[edgeID]
				for _, endpoint := range []string{edge.SourceID, edge.TargetID} {
					if _, seen := visited[endpoint]; !seen {
						visited[endpoint] = struct{}{}
						next = append(next, endpoint)
					}
				}
			}
		}
		frontier = next
	}

	sub := Subgraph{
		Nodes: make([]store.GraphNode, 0, len(visited)),
		Edges: make([]store.GraphEdge, 0),
	}
	for id := range visited {
		sub.Nodes = append(sub.Nodes, g.nodes[id])
	}
	sort.Slice(sub.Nodes, func(a, b int) bool { return sub.Nodes[a].ID < sub.Nodes[b].ID })

	for _, edge := range g.edges {
		_, srcIn := visited[edge.SourceID]
		_, dstIn := visited[edge.TargetID]
		if srcIn && dstIn {
			sub.Edges = append(sub.Edges, edge)
		}
	}
	sort.Slice(sub.Edges, func(a, b int) bool { return sub.Edges[a].ID < sub.Edges[b].ID })
	return sub
}

// NodeCount returns the number of nodes.
func (g *MemoryGraph) NodeCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.nodes)
}

// EdgeCount returns the number of edges.
func (g *MemoryGraph) EdgeCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.edges)
}

// BuildFromDatabase loads the persisted graph tables. When no nodes
// are persisted it falls back to deriving a graph from raw chunks: one
// node per chunk, one node per extracted entity, and a "contains" edge
// from chunk to entity. Edges referencing missing nodes are skipped
// with a warning, never fatal.
func (g *MemoryGraph) BuildFromDatabase(ctx context.Context, db Persistence) (int, int, error) {
	nodes, err := db.ListGraphNodes(ctx)
	if err != nil {
		return 0, 0, ragerrors.New(ragerrors.ErrCodeBuildFailed, "load graph nodes", err)
	}

	if err := g.Clear(); err != nil {
		return 0, 0, err
	}

	if len(nodes) == 0 {
		return g.buildFromChunks(ctx, db)
	}

	for _, node := range nodes {
		if err := g.AddNode(node); err != nil {
			g.logger.Warn("graph_node_skipped",
				slog.String("node_id", node.ID),
				slog.String("error", err.Error()))
		}
	}

	edges, err := db.ListGraphEdges(ctx)
	if err != nil {
		return 0, 0, ragerrors.New(ragerrors.ErrCodeBuildFailed, "load graph edges", err)
	}
	skipped := 0
	for _, edge := range edges {
		if err := g.AddEdge(edge); err != nil {
			skipped++
			g.logger.Warn("graph_edge_skipped",
				slog.String("edge_id", edge.ID),
				slog.String("source", edge.SourceID),
				slog.String("target", edge.TargetID),
				slog.String("error", err.Error()))
		}
	}

	g.logger.Info("graph_built_from_database",
		slog.Int("nodes", g.NodeCount()),
		slog.Int("edges", g.EdgeCount()),
		slog.Int("edges_skipped", skipped))
	return g.NodeCount(), g.EdgeCount(), nil
}

// buildFromChunks is the naive fallback when no graph was persisted.
// The capitalized-phrase heuristic is not real NER; it exists so graph
// retrieval has something to work with before a proper extraction
// pipeline has run.
func (g *MemoryGraph) buildFromChunks(ctx context.Context, db Persistence) (int, int, error) {
	chunks, err := db.ListChunks(ctx)
	if err != nil {
		return 0, 0, ragerrors.New(ragerrors.ErrCodeBuildFailed, "load chunks for graph fallback", err)
	}
	if len(chunks) == 0 {
		g.logger.Info("graph_build_empty", slog.String("reason", "no nodes and no chunks"))
		return 0, 0, nil
	}

	for _, chunk := range chunks {
		if chunk.ID == "" || chunk.Content == "" {
			continue
		}
		chunkNodeID := "chunk:" + chunk.ID
		if err := g.AddNode(store.GraphNode{
			ID:       chunkNodeID,
			Content:  chunk.Content,
			NodeType: "chunk",
			ChunkID:  chunk.ID,
		}); err != nil {
			continue
		}

		for _, entity := range g.extractor.Extract(chunk.Content) {
			entityNodeID := "entity:" + entity
			if _, exists := g.GetNode(entityNodeID); !exists {
				if err := g.AddNode(store.GraphNode{
					ID:       entityNodeID,
					Content:  entity,
					NodeType: "entity",
				}); err != nil {
					continue
				}
			}
			if err := g.AddEdge(store.GraphEdge{
				SourceID: chunkNodeID,
				TargetID: entityNodeID,
				Relation: "contains",
			}); err != nil {
				g.logger.Warn("graph_fallback_edge_skipped",
					slog.String("chunk_id", chunk.ID),
					slog.String("entity", entity),
					slog.String("error", err.Error()))
			}
		}
	}

	g.logger.Info("graph_built_from_chunks",
		slog.Int("chunks", len(chunks)),
		slog.Int("nodes", g.NodeCount()),
		slog.Int("edges", g.EdgeCount()))
	return g.NodeCount(), g.EdgeCount(), nil
}

// SaveToDatabase replaces the persisted graph tables with the current
// in-memory graph. Batching is handled by the persistence layer.
func (g *MemoryGraph) SaveToDatabase(ctx context.Context, db Persistence) (int, int, error) {
	g.mu.RLock()
	nodes := make([]store.GraphNode, 0, len(g.nodes))
	for _, node := range g.nodes {
		nodes = append(nodes, node)
	}
	edges := make([]store.GraphEdge, 0, len(g.edges))
	for _, edge := range g.edges {
		edges = append(edges, edge)
	}
	g.mu.RUnlock()

	sort.Slice(nodes, func(a, b int) bool { return nodes[a].ID < nodes[b].ID })
	sort.Slice(edges, func(a, b int) bool { return edges[a].ID < edges[b].ID })

	if err := db.ReplaceGraph(ctx, nodes, edges); err != nil {
		return 0, 0, err
	}
	return len(nodes), len(edges), nil
}

// Save writes the graph as one gob blob at its configured path.
func (g *MemoryGraph) Save() error {
	g.mu.RLock()
	snap := graphSnapshot{Nodes: g.nodes, Edges: g.edges}
	g.mu.RUnlock()

	if err := os.MkdirAll(filepath.Dir(g.path), 0o755); err != nil {
		return ragerrors.New(ragerrors.ErrCodeSaveFailed, "create graph directory", err)
	}

	tmp := g.path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return ragerrors.New(ragerrors.ErrCodeSaveFailed, "create graph file", err)
	}
	if err := gob.NewEncoder(f).Encode(&snap); err != nil {
		f.Close()
		os.Remove(tmp)
		return ragerrors.New(ragerrors.ErrCodeSaveFailed, "encode graph", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return ragerrors.New(ragerrors.ErrCodeSaveFailed, "close graph file", err)
	}
	if err := os.Rename(tmp, g.path); err != nil {
		os.Remove(tmp)
		return ragerrors.New(ragerrors.ErrCodeSaveFailed, "rename graph file", err)
	}

	g.logger.Info("graph_saved",
		slog.String("path", g.path),
		slog.Int("nodes", len(snap.Nodes)),
		slog.Int("edges", len(snap.Edges)))
	return nil
}

// Load restores the graph from disk. A missing file or empty snapshot
// returns (false, nil).
func (g *MemoryGraph) Load() (bool, error) {
	f, err := os.Open(g.path)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, ragerrors.New(ragerrors.ErrCodeFileRead, "open graph file", err)
	}
	defer f.Close()

	var snap graphSnapshot
	if err := gob.NewDecoder(f).Decode(&snap); err != nil {
		return false, ragerrors.New(ragerrors.ErrCodeCorruptIndex, "decode graph", err)
	}
	if len(snap.Nodes) == 0 {
		return false, nil
	}

	g.mu.Lock()
	g.nodes = snap.Nodes
	g.edges = make(map[string]store.GraphEdge, len(snap.Edges))
	g.out = make(map[string][]string)
	g.in = make(map[string][]string)
	skipped := 0
	for id, edge := range snap.Edges {
		_, srcOK := g.nodes[edge.SourceID]
		_, dstOK := g.nodes[edge.TargetID]
		if !srcOK || !dstOK {
			skipped++
			continue
		}
		g.edges[id] = edge
		g.out[edge.SourceID] = append(g.out[edge.SourceID], id)
		g.in[edge.TargetID] = append(g.in[edge.TargetID], id)
	}
	counts := [2]int{len(g.nodes), len(g.edges)}
	g.mu.Unlock()

	if skipped > 0 {
		g.logger.Warn("graph_orphan_edges_skipped", slog.Int("skipped", skipped))
	}
	g.logger.Info("graph_loaded",
		slog.String("path", g.path),
		slog.Int("nodes", counts[0]),
		slog.Int("edges", counts[1]))
	return true, nil
}

// Clear drops all graph state and removes the persisted file.
func (g *MemoryGraph) Clear() error {
	g.mu.Lock()
	g.nodes = make(map[string]store.GraphNode)
	g.edges = make(map[string]store.GraphEdge)
	g.out = make(map[string][]string)
	g.in = make(map[string][]string)
	g.mu.Unlock()

	if err := os.Remove(g.path); err != nil && !os.IsNotExist(err) {
		return ragerrors.New(ragerrors.ErrCodeFileWrite, "remove graph file", err)
	}
	return nil
}

var _ Store = (*MemoryGraph)(nil)
