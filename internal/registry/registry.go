// Package registry owns the single live instance of each index. The
// three components are constructed and loaded from disk at most once
// per process; accessors are safe under concurrent first-call races.
package registry

import (
	"context"
	"log/slog"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/ThreatFlux/hybridrag/internal/config"
	ragerrors "github.com/ThreatFlux/hybridrag/internal/errors"
	"github.com/ThreatFlux/hybridrag/internal/graph"
	"github.com/ThreatFlux/hybridrag/internal/store"
)

// Index artifact names under <data_dir>/indexes.
const (
	lexicalFile = "lexical.gob"
	vectorFile  = "vectors.hnsw"
	graphFile   = "graph.gob"
)

// Registry is the process-wide holder of the retrieval components.
// Initialization uses double-checked locking: a lock-free fast path,
// then a mutex + condition variable so racing callers block until the
// winner finishes instead of spinning or proceeding with nil parts.
type Registry struct {
	cfg    *config.Config
	db     *store.DocumentStore
	logger *slog.Logger

	initialized atomic.Bool

	mu           sync.Mutex
	cond         *sync.Cond
	initializing bool

	lexical *store.LexicalIndex
	vector  *store.VectorIndex
	graph   graph.Store
}

// New creates an uninitialized registry. Components are constructed
// lazily on first access.
func New(cfg *config.Config, db *store.DocumentStore, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Registry{cfg: cfg, db: db, logger: logger}
	r.cond = sync.NewCond(&r.mu)
	if db != nil {
		// The configured backend seeds the RAGConfig row on first read;
		// an existing row always wins.
		db.SetDefaultGraphBackend(cfg.Graph.Backend)
	}
	return r
}

func (r *Registry) indexDir() string {
	return filepath.Join(r.cfg.Paths.DataDir, "indexes")
}

// Initialize constructs and loads all three components. Idempotent and
// safe for concurrent callers: losers of the race wait on the
// condition variable until the winner finishes.
func (r *Registry) Initialize(ctx context.Context) error {
	// Fast path, no lock.
	if r.initialized.Load() {
		return nil
	}

	r.mu.Lock()
	for r.initializing {
		r.cond.Wait()
	}
	if r.initialized.Load() {
		r.mu.Unlock()
		return nil
	}
	r.initializing = true
	r.mu.Unlock()

	lexical, vector, graphStore, err := r.constructAll(ctx)

	r.mu.Lock()
	r.initializing = false
	if err == nil {
		r.lexical = lexical
		r.vector = vector
		r.graph = graphStore
		r.initialized.Store(true)
	}
	r.cond.Broadcast()
	r.mu.Unlock()

	return err
}

// constructAll builds and loads each component outside the lock. A
// missing persisted file is a clean cold start; only real failures
// surface.
func (r *Registry) constructAll(ctx context.Context) (*store.LexicalIndex, *store.VectorIndex, graph.Store, error) {
	dir := r.indexDir()

	lexical := store.NewLexicalIndex(filepath.Join(dir, lexicalFile), r.logger)
	if _, err := lexical.Load(); err != nil {
		return nil, nil, nil, err
	}

	vector := store.NewVectorIndex(filepath.Join(dir, vectorFile), r.cfg.Index.Dimensions, r.logger)
	if _, err := vector.Load(); err != nil {
		return nil, nil, nil, err
	}

	graphStore, err := r.constructGraph(ctx)
	if err != nil {
		return nil, nil, nil, err
	}

	r.logger.Info("registry_initialized",
		slog.String("index_dir", dir),
		slog.Int("lexical_documents", lexical.Count()),
		slog.Int("vectors", vector.Count()),
		slog.Int("graph_nodes", graphStore.NodeCount()))
	return lexical, vector, graphStore, nil
}

// constructGraph resolves the backend from the persisted RAGConfig and
// loads the graph file.
func (r *Registry) constructGraph(ctx context.Context) (graph.Store, error) {
	ragCfg, err := r.db.GetRAGConfig(ctx)
	if err != nil {
		return nil, err
	}

	g, err := graph.New(ragCfg.GraphBackend, filepath.Join(r.indexDir(), graphFile),
		nil, r.cfg.Graph.SearchCacheSize, r.logger)
	if err != nil {
		return nil, err
	}
	if _, err := g.Load(); err != nil {
		return nil, err
	}
	g.SetPageRankDamping(r.cfg.Graph.PageRankDamping)
	return g, nil
}

// Lexical returns the singleton lexical index, initializing on first
// access. If initialization completed but the component is absent, a
// fresh instance is constructed and loaded without re-running full
// initialization.
func (r *Registry) Lexical(ctx context.Context) (*store.LexicalIndex, error) {
	if err := r.Initialize(ctx); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.lexical == nil {
		lexical := store.NewLexicalIndex(filepath.Join(r.indexDir(), lexicalFile), r.logger)
		if _, err := lexical.Load(); err != nil {
			return nil, err
		}
		r.lexical = lexical
	}
	return r.lexical, nil
}

// Vector returns the singleton vector index.
func (r *Registry) Vector(ctx context.Context) (*store.VectorIndex, error) {
	if err := r.Initialize(ctx); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.vector == nil {
		vector := store.NewVectorIndex(filepath.Join(r.indexDir(), vectorFile), r.cfg.Index.Dimensions, r.logger)
		if _, err := vector.Load(); err != nil {
			return nil, err
		}
		r.vector = vector
	}
	return r.vector, nil
}

// Graph returns the singleton graph store.
func (r *Registry) Graph(ctx context.Context) (graph.Store, error) {
	if err := r.Initialize(ctx); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.graph == nil {
		g, err := r.constructGraph(ctx)
		if err != nil {
			return nil, err
		}
		r.graph = g
	}
	return r.graph, nil
}

// ResetGraphBackend persists the current graph, re-resolves the
// desired backend from the RAGConfig, and swaps only the graph store.
// Lexical and vector state is untouched.
func (r *Registry) ResetGraphBackend(ctx context.Context) error {
	if err := r.Initialize(ctx); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.graph != nil {
		if _, _, err := r.graph.SaveToDatabase(ctx, r.db); err != nil {
			r.logger.Warn("graph_persist_before_swap_failed",
				slog.String("error", err.Error()))
		}
		if err := r.graph.Save(); err != nil {
			r.logger.Warn("graph_save_before_swap_failed",
				slog.String("error", err.Error()))
		}
	}

	g, err := r.constructGraph(ctx)
	if err != nil {
		return err
	}
	r.graph = g

	r.logger.Info("graph_backend_swapped")
	return nil
}

// ClearAll wipes the three components' in-memory and on-disk state and
// resets the initialized flag; the next access reinitializes from
// empty.
func (r *Registry) ClearAll(ctx context.Context) error {
	if err := r.Initialize(ctx); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	var firstErr error
	if r.lexical != nil {
		if err := r.lexical.Clear(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if r.vector != nil {
		if err := r.vector.Clear(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if r.graph != nil {
		if err := r.graph.Clear(); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	r.lexical = nil
	r.vector = nil
	r.graph = nil
	r.initialized.Store(false)

	if firstErr != nil {
		return ragerrors.New(ragerrors.ErrCodeInternal, "clear registry components", firstErr)
	}
	r.logger.Info("registry_cleared")
	return nil
}

// Close persists all live components. The registry stays usable; Close
// exists as the shutdown hook so in-memory state reaches disk.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var firstErr error
	if r.lexical != nil {
		if err := r.lexical.Save(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if r.vector != nil {
		if err := r.vector.Save(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if r.graph != nil {
		if err := r.graph.Save(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
