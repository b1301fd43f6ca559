// Package store provides the three retrieval indexes (lexical, vector) and
// the SQLite persistence layer for chunks, graph tables, and the RAG
// configuration row. Graph traversal itself lives in internal/graph.
package store

import (
	"fmt"
)

// DefaultDimensions matches the common embedding-API output size.
const DefaultDimensions = 1536

// Chunk is the retrieval unit produced by the document-processing layer.
// Chunks are immutable once indexed except for re-embedding.
type Chunk struct {
	ID         string            // Unique chunk ID
	DocumentID string            // Parent document ID
	Content    string            // Text content
	ChunkIndex int               // Position within the document
	Embedding  []float32         // Optional embedding vector
	Metadata   map[string]string // Custom metadata
}

// Document is the minimal unit fed to the lexical index.
type Document struct {
	ID      string
	Content string
}

// LexicalResult is a single lexical (BM25) search hit.
type LexicalResult struct {
	ID      string
	Score   float64
	Content string
}

// VectorResult is a single nearest-neighbor search hit.
// Score is 1/(1+distance), bounded in (0, 1].
type VectorResult struct {
	ID       string
	Score    float64
	Content  string
	Metadata map[string]string
}

// GraphNode is an entity/concept/chunk node persisted in graph_nodes.
type GraphNode struct {
	ID       string
	Content  string
	NodeType string            // "entity", "concept", "chunk", ...
	ChunkID  string            // Originating chunk, empty when not applicable
	Metadata map[string]string
}

// GraphEdge is a directed relation persisted in graph_edges.
// Source and Target must reference existing nodes; loaders skip
// edges whose endpoints are missing.
type GraphEdge struct {
	ID       string
	SourceID string
	TargetID string
	Relation string
	Weight   float64
	Metadata map[string]string
}

// RAGConfig is the single authoritative configuration row controlling
// which retrieval components are active and which graph backend is used.
type RAGConfig struct {
	LexicalEnabled bool
	VectorEnabled  bool
	GraphEnabled   bool
	GraphBackend   string // "memory" | "enhanced"
}

// ErrDimensionMismatch indicates a vector did not match the index dimension.
type ErrDimensionMismatch struct {
	Expected int
	Got      int
}

func (e ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("dimension mismatch: expected %d, got %d", e.Expected, e.Got)
}
