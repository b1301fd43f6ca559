package graph

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	ragerrors "github.com/ThreatFlux/hybridrag/internal/errors"
	"github.com/ThreatFlux/hybridrag/internal/store"
)

const defaultSearchCacheSize = 1024

// semanticWeight blends the token-overlap similarity into the core
// term-match score during enhanced search.
const semanticWeight = 0.3

// EnhancedGraph layers two refinements on the memory core: a semantic
// rescoring pass (token-set similarity between the full query and the
// full node content, skipped in fast mode) and bounded caching of
// search results and the analysis snapshot. Any mutation purges both
// caches.
type EnhancedGraph struct {
	*MemoryGraph

	cache *lru.Cache[string, []SearchResult]

	statsMu    sync.Mutex
	stats      Stats
	statsValid bool
}

// NewEnhancedGraph creates the enhanced backend. cacheSize <= 0 uses
// the default.
func NewEnhancedGraph(path string, extractor EntityExtractor, cacheSize int, logger *slog.Logger) (*EnhancedGraph, error) {
	if cacheSize <= 0 {
		cacheSize = defaultSearchCacheSize
	}
	cache, err := lru.New[string, []SearchResult](cacheSize)
	if err != nil {
		return nil, ragerrors.New(ragerrors.ErrCodeInternal, "create graph search cache", err)
	}
	return &EnhancedGraph{
		MemoryGraph: NewMemoryGraph(path, extractor, logger),
		cache:       cache,
	}, nil
}

// Search consults the cache, then runs the core search and, unless
// fast mode is requested, blends in a semantic similarity pass.
func (g *EnhancedGraph) Search(query string, opts SearchOptions) []SearchResult {
	key := searchCacheKey(query, opts)
	if cached, ok := g.cache.Get(key); ok {
		return cached
	}

	results := g.MemoryGraph.Search(query, opts)
	if !opts.FastMode {
		results = g.rescoreSemantic(query, results)
	}
	g.cache.Add(key, results)
	return results
}

// rescoreSemantic blends Dice similarity between the query's and each
// node's token sets into the core score, then re-sorts. Term-match
// scoring only counts how many query terms appear; the similarity term
// additionally penalizes nodes whose content is mostly unrelated.
func (g *EnhancedGraph) rescoreSemantic(query string, results []SearchResult) []SearchResult {
	queryTerms := toSet(store.Tokenize(query))
	if len(queryTerms) == 0 {
		return results
	}

	rescored := make([]SearchResult, len(results))
	copy(rescored, results)
	for i := range rescored {
		sim := diceSimilarity(queryTerms, toSet(store.Tokenize(rescored[i].Node.Content)))
		rescored[i].Score = (1-semanticWeight)*rescored[i].Score + semanticWeight*sim
	}

	sort.Slice(rescored, func(a, b int) bool {
		if rescored[a].Score != rescored[b].Score {
			return rescored[a].Score > rescored[b].Score
		}
		return rescored[a].Node.ID < rescored[b].Node.ID
	})
	return rescored
}

// diceSimilarity is 2|A∩B| / (|A|+|B|) over token sets.
func diceSimilarity(a, b map[string]struct{}) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	shared := 0
	for t := range a {
		if _, ok := b[t]; ok {
			shared++
		}
	}
	return 2 * float64(shared) / float64(len(a)+len(b))
}

func searchCacheKey(query string, opts SearchOptions) string {
	nodeTypes := append([]string{}, opts.NodeTypes...)
	relations := append([]string{}, opts.RelationTypes...)
	sort.Strings(nodeTypes)
	sort.Strings(relations)
	return fmt.Sprintf("%s|%s|%s|%d|%t",
		query, strings.Join(nodeTypes, ","), strings.Join(relations, ","),
		opts.MaxResults, opts.FastMode)
}

// Analyze serves a cached snapshot; mutations invalidate it.
func (g *EnhancedGraph) Analyze() Stats {
	g.statsMu.Lock()
	defer g.statsMu.Unlock()

	if !g.statsValid {
		g.stats = g.MemoryGraph.Analyze()
		g.statsValid = true
	}
	return g.stats
}

// invalidate drops both caches.
func (g *EnhancedGraph) invalidate() {
	g.cache.Purge()
	g.statsMu.Lock()
	g.statsValid = false
	g.statsMu.Unlock()
}

// AddNode invalidates the caches around the core mutation.
func (g *EnhancedGraph) AddNode(node store.GraphNode) error {
	g.invalidate()
	return g.MemoryGraph.AddNode(node)
}

// AddEdge invalidates the caches around the core mutation.
func (g *EnhancedGraph) AddEdge(edge store.GraphEdge) error {
	g.invalidate()
	return g.MemoryGraph.AddEdge(edge)
}

// BuildFromDatabase rebuilds the core graph and drops cached results.
func (g *EnhancedGraph) BuildFromDatabase(ctx context.Context, db Persistence) (int, int, error) {
	g.invalidate()
	return g.MemoryGraph.BuildFromDatabase(ctx, db)
}

// Load restores the core graph and drops cached results.
func (g *EnhancedGraph) Load() (bool, error) {
	g.invalidate()
	return g.MemoryGraph.Load()
}

// Clear wipes the core graph and the caches.
func (g *EnhancedGraph) Clear() error {
	g.invalidate()
	return g.MemoryGraph.Clear()
}

var _ Store = (*EnhancedGraph)(nil)

// New constructs the backend named by the configuration string.
func New(backend, path string, extractor EntityExtractor, cacheSize int, logger *slog.Logger) (Store, error) {
	switch backend {
	case BackendMemory, "":
		return NewMemoryGraph(path, extractor, logger), nil
	case BackendEnhanced:
		return NewEnhancedGraph(path, extractor, cacheSize, logger)
	default:
		return nil, ragerrors.Newf(ragerrors.ErrCodeUnknownBackend,
			"unknown graph backend %q (want %s or %s)", backend, BackendMemory, BackendEnhanced)
	}
}
