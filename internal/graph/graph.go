// Package graph implements the entity/relationship store behind graph
// retrieval: traversal, keyword search over nodes, centrality ranking,
// and whole-graph statistics. Two backends share one contract: the
// classic in-memory backend and an enhanced backend that adds an LRU
// search cache on top of the same core.
package graph

import (
	"context"

	"github.com/ThreatFlux/hybridrag/internal/store"
)

// Backend names accepted by New.
const (
	BackendMemory   = "memory"
	BackendEnhanced = "enhanced"
)

// Centrality method names accepted by ImportantNodes.
const (
	CentralityPageRank    = "pagerank"
	CentralityBetweenness = "betweenness"
	CentralityDegree      = "degree"
	CentralityEigenvector = "eigenvector"
)

// SearchOptions narrow a node search.
type SearchOptions struct {
	NodeTypes     []string // empty = all
	RelationTypes []string // empty = all; filters which edges count toward connectivity boost
	MaxResults    int
	FastMode      bool // skip the degree-centrality boost
}

// SearchResult is one node hit with its match score.
type SearchResult struct {
	Node  store.GraphNode
	Score float64
}

// RankedNode is a node tagged with its centrality score.
type RankedNode struct {
	ID       string
	Content  string
	NodeType string
	Score    float64
	Metadata map[string]string
}

// Stats summarizes graph shape. Every field is zero-valued on an
// empty graph; Analyze never fails.
type Stats struct {
	NodeCount             int
	EdgeCount             int
	Density               float64
	AverageDegree         float64
	ConnectedComponents   int
	LargestComponentSize  int
	Diameter              int
	AverageShortestPath   float64
	ClusteringCoefficient float64
	NodeTypes             map[string]int
	RelationTypes         map[string]int
}

// Subgraph is the slice of the graph around a set of seed nodes.
type Subgraph struct {
	Nodes []store.GraphNode
	Edges []store.GraphEdge
}

// Persistence is the database surface the graph needs: read persisted
// nodes/edges/chunks and bulk-replace the graph tables.
type Persistence interface {
	ListGraphNodes(ctx context.Context) ([]store.GraphNode, error)
	ListGraphEdges(ctx context.Context) ([]store.GraphEdge, error)
	ListChunks(ctx context.Context) ([]store.Chunk, error)
	ReplaceGraph(ctx context.Context, nodes []store.GraphNode, edges []store.GraphEdge) error
}

// Store is the capability contract shared by both backends.
type Store interface {
	AddNode(node store.GraphNode) error
	AddEdge(edge store.GraphEdge) error
	GetNode(id string) (store.GraphNode, bool)

	// GetNeighbors walks up to maxDepth hops out from id, optionally
	// restricted to one relation type. The start node is not included.
	GetNeighbors(id string, relationType string, maxDepth int) []store.GraphNode

	Search(query string, opts SearchOptions) []SearchResult
	GetSubgraph(seedIDs []string, depth int) Subgraph

	// ImportantNodes ranks nodes by the named centrality method.
	// Unknown methods and non-converging eigenvector runs fall back
	// to pagerank.
	ImportantNodes(topN int, method string) ([]RankedNode, error)

	// SetPageRankDamping overrides the pagerank damping factor.
	// Values outside (0,1) are ignored.
	SetPageRankDamping(damping float64)

	Analyze() Stats

	BuildFromDatabase(ctx context.Context, db Persistence) (nodes, edges int, err error)
	SaveToDatabase(ctx context.Context, db Persistence) (nodes, edges int, err error)

	Save() error
	Load() (bool, error)
	Clear() error

	NodeCount() int
	EdgeCount() int
}
