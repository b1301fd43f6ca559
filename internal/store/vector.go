package store

import (
	"bufio"
	"encoding/gob"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/coder/hnsw"

	ragerrors "github.com/ThreatFlux/hybridrag/internal/errors"
)

// VectorIndex is an HNSW-backed nearest-neighbor index over chunk
// embeddings using L2 distance. Scores are 1/(1+distance), so an exact
// match scores 1.0 and similarity decays smoothly with distance.
//
// The underlying graph is created lazily on the first insert; an index
// that never receives a vector never allocates one. Duplicate IDs are
// handled by lazy deletion: the old graph node is orphaned from the ID
// maps and the new vector gets a fresh internal key.
type VectorIndex struct {
	mu sync.RWMutex

	path       string
	dimensions int

	graph *hnsw.Graph[uint64] // nil until first insert or load

	idMap   map[string]uint64 // chunk ID -> internal key
	keyMap  map[uint64]string // internal key -> chunk ID
	nextKey uint64

	contents map[string]string
	metadata map[string]map[string]string

	logger *slog.Logger
}

// vectorMetadata is the gob payload written alongside the graph export.
type vectorMetadata struct {
	Dimensions int
	IDMap      map[string]uint64
	NextKey    uint64
	Contents   map[string]string
	Metadata   map[string]map[string]string
}

// NewVectorIndex creates an empty index persisting to path (graph
// export) and path+".meta" (ID maps and payloads). A non-positive
// dimension falls back to DefaultDimensions.
func NewVectorIndex(path string, dimensions int, logger *slog.Logger) *VectorIndex {
	if dimensions <= 0 {
		dimensions = DefaultDimensions
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &VectorIndex{
		path:       path,
		dimensions: dimensions,
		idMap:      make(map[string]uint64),
		keyMap:     make(map[uint64]string),
		contents:   make(map[string]string),
		metadata:   make(map[string]map[string]string),
		logger:     logger,
	}
}

// Dimensions returns the fixed vector dimension of this index.
func (v *VectorIndex) Dimensions() int {
	return v.dimensions
}

// ensureGraphLocked creates the HNSW graph on first use.
// Caller must hold the write lock.
func (v *VectorIndex) ensureGraphLocked() {
	if v.graph != nil {
		return
	}
	g := hnsw.NewGraph[uint64]()
	g.Distance = hnsw.EuclideanDistance
	g.M = 16
	g.EfSearch = 20
	g.Ml = 0.25
	v.graph = g
}

// AddEmbedding inserts one vector with its payload. The vector length
// must match the index dimension exactly; a mismatch is rejected
// before touching the graph.
func (v *VectorIndex) AddEmbedding(id string, vector []float32, content string, meta map[string]string) error {
	if id == "" || content == "" || len(vector) == 0 {
		return ragerrors.New(ragerrors.ErrCodeInvalidInput, "embedding requires id, vector, and content", nil)
	}
	if len(vector) != v.dimensions {
		return ragerrors.New(ragerrors.ErrCodeDimensionMismatch, "add embedding",
			ErrDimensionMismatch{Expected: v.dimensions, Got: len(vector)})
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	v.insertLocked(id, vector, content, meta)
	return nil
}

// AddEmbeddings inserts a batch. Entries missing an ID, vector, or
// content are skipped; a wrong-length vector is a hard error because it
// indicates a misconfigured embedder rather than dirty data.
func (v *VectorIndex) AddEmbeddings(chunks []Chunk) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	added := 0
	for _, c := range chunks {
		if c.ID == "" || c.Content == "" || len(c.Embedding) == 0 {
			continue
		}
		if len(c.Embedding) != v.dimensions {
			return ragerrors.New(ragerrors.ErrCodeDimensionMismatch, "add embeddings",
				ErrDimensionMismatch{Expected: v.dimensions, Got: len(c.Embedding)}).
				WithDetail("chunk_id", c.ID)
		}
		v.insertLocked(c.ID, c.Embedding, c.Content, c.Metadata)
		added++
	}

	v.logger.Debug("vector_embeddings_added",
		slog.Int("added", added),
		slog.Int("skipped", len(chunks)-added),
		slog.Int("total", len(v.idMap)))
	return nil
}

// insertLocked adds one vector under the write lock. Re-inserting an
// existing ID orphans the old graph node instead of deleting it;
// removing nodes from coder/hnsw graphs is unreliable near empty.
func (v *VectorIndex) insertLocked(id string, vector []float32, content string, meta map[string]string) {
	v.ensureGraphLocked()

	if oldKey, exists := v.idMap[id]; exists {
		delete(v.keyMap, oldKey)
		delete(v.idMap, id)
	}

	key := v.nextKey
	v.nextKey++

	vec := make([]float32, len(vector))
	copy(vec, vector)

	v.graph.Add(hnsw.MakeNode(key, vec))
	v.idMap[id] = key
	v.keyMap[key] = id
	v.contents[id] = content
	v.metadata[id] = meta
}

// Search returns up to topK nearest chunks by L2 distance, best first.
// An empty index returns an empty slice, never an error.
func (v *VectorIndex) Search(query []float32, topK int) ([]VectorResult, error) {
	if len(query) != v.dimensions {
		return nil, ragerrors.New(ragerrors.ErrCodeDimensionMismatch, "vector search",
			ErrDimensionMismatch{Expected: v.dimensions, Got: len(query)})
	}
	if topK <= 0 {
		return []VectorResult{}, nil
	}

	v.mu.RLock()
	defer v.mu.RUnlock()

	if v.graph == nil || v.graph.Len() == 0 {
		return []VectorResult{}, nil
	}

	nodes := v.graph.Search(query, topK)

	results := make([]VectorResult, 0, len(nodes))
	for _, node := range nodes {
		id, ok := v.keyMap[node.Key]
		if !ok {
			// Orphaned by lazy deletion.
			continue
		}
		distance := v.graph.Distance(query, node.Value)
		results = append(results, VectorResult{
			ID:       id,
			Score:    1.0 / (1.0 + float64(distance)),
			Content:  v.contents[id],
			Metadata: v.metadata[id],
		})
	}
	return results, nil
}

// Contains reports whether a chunk ID has a live vector.
func (v *VectorIndex) Contains(id string) bool {
	v.mu.RLock()
	defer v.mu.RUnlock()

	_, ok := v.idMap[id]
	return ok
}

// Count returns the number of live vectors (orphans excluded).
func (v *VectorIndex) Count() int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return len(v.idMap)
}

// Save writes the graph export and the metadata sidecar atomically.
// Saving an empty index is a no-op that removes stale artifacts.
func (v *VectorIndex) Save() error {
	v.mu.RLock()
	defer v.mu.RUnlock()

	if v.graph == nil || len(v.idMap) == 0 {
		for _, p := range []string{v.path, v.metaPath()} {
			if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
				return ragerrors.New(ragerrors.ErrCodeFileWrite, "remove stale vector artifact", err)
			}
		}
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(v.path), 0o755); err != nil {
		return ragerrors.New(ragerrors.ErrCodeSaveFailed, "create index directory", err)
	}

	tmp := v.path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return ragerrors.New(ragerrors.ErrCodeSaveFailed, "create vector index file", err)
	}
	if err := v.graph.Export(f); err != nil {
		f.Close()
		os.Remove(tmp)
		return ragerrors.New(ragerrors.ErrCodeSaveFailed, "export vector graph", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return ragerrors.New(ragerrors.ErrCodeSaveFailed, "close vector index file", err)
	}
	if err := os.Rename(tmp, v.path); err != nil {
		os.Remove(tmp)
		return ragerrors.New(ragerrors.ErrCodeSaveFailed, "rename vector index file", err)
	}

	if err := v.saveMetadataLocked(); err != nil {
		return err
	}

	v.logger.Info("vector_index_saved",
		slog.String("path", v.path),
		slog.Int("vectors", len(v.idMap)))
	return nil
}

func (v *VectorIndex) metaPath() string {
	return v.path + ".meta"
}

func (v *VectorIndex) saveMetadataLocked() error {
	meta := vectorMetadata{
		Dimensions: v.dimensions,
		IDMap:      v.idMap,
		NextKey:    v.nextKey,
		Contents:   v.contents,
		Metadata:   v.metadata,
	}

	tmp := v.metaPath() + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return ragerrors.New(ragerrors.ErrCodeSaveFailed, "create vector metadata file", err)
	}
	if err := gob.NewEncoder(f).Encode(&meta); err != nil {
		f.Close()
		os.Remove(tmp)
		return ragerrors.New(ragerrors.ErrCodeSaveFailed, "encode vector metadata", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return ragerrors.New(ragerrors.ErrCodeSaveFailed, "close vector metadata file", err)
	}
	if err := os.Rename(tmp, v.metaPath()); err != nil {
		os.Remove(tmp)
		return ragerrors.New(ragerrors.ErrCodeSaveFailed, "rename vector metadata file", err)
	}
	return nil
}

// Load restores the index from its two artifacts. Both must exist and
// agree on dimension for the load to succeed; if either is absent the
// index stays empty and (false, nil) is returned.
func (v *VectorIndex) Load() (bool, error) {
	metaFile, err := os.Open(v.metaPath())
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, ragerrors.New(ragerrors.ErrCodeFileRead, "open vector metadata file", err)
	}
	defer metaFile.Close()

	var meta vectorMetadata
	if err := gob.NewDecoder(metaFile).Decode(&meta); err != nil {
		return false, ragerrors.New(ragerrors.ErrCodeCorruptIndex, "decode vector metadata", err)
	}
	if meta.Dimensions != v.dimensions {
		return false, ragerrors.Newf(ragerrors.ErrCodeDimensionMismatch,
			"persisted vector index has dimension %d, configured %d",
			meta.Dimensions, v.dimensions)
	}

	graphFile, err := os.Open(v.path)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, ragerrors.New(ragerrors.ErrCodeFileRead, "open vector index file", err)
	}
	defer graphFile.Close()

	g := hnsw.NewGraph[uint64]()
	g.Distance = hnsw.EuclideanDistance
	g.M = 16
	g.EfSearch = 20
	g.Ml = 0.25

	// Import requires an io.ByteReader.
	if err := g.Import(bufio.NewReader(graphFile)); err != nil {
		return false, ragerrors.New(ragerrors.ErrCodeCorruptIndex, "import vector graph", err)
	}

	v.mu.Lock()
	v.graph = g
	v.idMap = meta.IDMap
	v.nextKey = meta.NextKey
	v.contents = meta.Contents
	v.metadata = meta.Metadata
	v.keyMap = make(map[uint64]string, len(meta.IDMap))
	for id, key := range meta.IDMap {
		v.keyMap[key] = id
	}
	count := len(v.idMap)
	v.mu.Unlock()

	if count == 0 {
		return false, nil
	}

	v.logger.Info("vector_index_loaded",
		slog.String("path", v.path),
		slog.Int("vectors", count),
		slog.Int("dimensions", v.dimensions))
	return true, nil
}

// Clear drops all vectors and removes both persisted artifacts.
func (v *VectorIndex) Clear() error {
	v.mu.Lock()
	v.graph = nil
	v.idMap = make(map[string]uint64)
	v.keyMap = make(map[uint64]string)
	v.contents = make(map[string]string)
	v.metadata = make(map[string]map[string]string)
	v.nextKey = 0
	v.mu.Unlock()

	for _, p := range []string{v.path, v.metaPath()} {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			return ragerrors.New(ragerrors.ErrCodeFileWrite, "remove vector artifact", err)
		}
	}
	return nil
}
