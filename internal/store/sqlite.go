package store

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sync"

	_ "modernc.org/sqlite" // Pure Go SQLite driver (no CGO)

	ragerrors "github.com/ThreatFlux/hybridrag/internal/errors"
)

// graphBatchSize caps rows per transaction when replacing graph tables
// so a large graph save never holds one giant transaction.
const graphBatchSize = 1000

// DocumentStore is the SQLite persistence layer: chunks, graph tables,
// and the single rag_config row. WAL mode with a single writer
// connection keeps concurrent readers safe without lock contention.
type DocumentStore struct {
	mu     sync.RWMutex
	db     *sql.DB
	path   string
	closed bool

	// defaultBackend seeds graph_impl when the rag_config row is first
	// created. An existing row is never touched.
	defaultBackend string

	logger *slog.Logger
}

// validateIntegrity checks an existing database file before opening it
// for real. A missing file is fine; it will be created.
func validateIntegrity(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}

	db, err := sql.Open("sqlite", path+"?mode=ro")
	if err != nil {
		return ragerrors.New(ragerrors.ErrCodeDatabase, "cannot open for validation", err)
	}
	defer db.Close()

	var result string
	if err := db.QueryRow("PRAGMA integrity_check").Scan(&result); err != nil {
		return ragerrors.New(ragerrors.ErrCodeDatabase, "integrity check failed", err)
	}
	if result != "ok" {
		return ragerrors.Newf(ragerrors.ErrCodeDatabase, "database corrupted: %s", result)
	}
	return nil
}

// OpenDocumentStore opens (or creates) the database at path.
// An empty path opens an in-memory database for testing.
func OpenDocumentStore(path string, logger *slog.Logger) (*DocumentStore, error) {
	if logger == nil {
		logger = slog.Default()
	}

	dsn := ":memory:"
	if path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, ragerrors.New(ragerrors.ErrCodeDatabase, "create database directory", err)
		}
		if err := validateIntegrity(path); err != nil {
			return nil, err
		}
		dsn = path
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, ragerrors.New(ragerrors.ErrCodeDatabase, "open database", err)
	}

	// Single writer prevents SQLITE_BUSY under concurrent access.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	// WAL must be set via PRAGMA for modernc.org/sqlite; DSN params
	// are not honored.
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA temp_store = MEMORY",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, ragerrors.New(ragerrors.ErrCodeDatabase, "set pragma", err)
		}
	}

	s := &DocumentStore{db: db, path: path, logger: logger}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *DocumentStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY
	);

	CREATE TABLE IF NOT EXISTS chunks (
		id          TEXT PRIMARY KEY,
		document_id TEXT NOT NULL,
		content     TEXT NOT NULL,
		chunk_index INTEGER NOT NULL DEFAULT 0,
		embedding   BLOB,
		metadata    TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_chunks_document ON chunks(document_id);

	CREATE TABLE IF NOT EXISTS graph_nodes (
		id        TEXT PRIMARY KEY,
		content   TEXT NOT NULL,
		node_type TEXT NOT NULL,
		chunk_id  TEXT,
		metadata  TEXT
	);

	CREATE TABLE IF NOT EXISTS graph_edges (
		id        TEXT PRIMARY KEY,
		source_id TEXT NOT NULL,
		target_id TEXT NOT NULL,
		relation  TEXT NOT NULL,
		weight    REAL NOT NULL DEFAULT 1.0,
		metadata  TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_edges_source ON graph_edges(source_id);
	CREATE INDEX IF NOT EXISTS idx_edges_target ON graph_edges(target_id);

	-- Single-row component toggle configuration. The id=1 constraint
	-- makes it impossible to end up with competing rows.
	CREATE TABLE IF NOT EXISTS rag_config (
		id              INTEGER PRIMARY KEY CHECK (id = 1),
		bm25_enabled    INTEGER NOT NULL DEFAULT 1,
		vector_enabled  INTEGER NOT NULL DEFAULT 1,
		graph_enabled   INTEGER NOT NULL DEFAULT 1,
		graph_impl      TEXT NOT NULL DEFAULT 'memory'
	);

	INSERT OR IGNORE INTO schema_version (version) VALUES (1);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return ragerrors.New(ragerrors.ErrCodeDatabase, "initialize schema", err)
	}
	return nil
}

// SaveChunks upserts chunks in one transaction.
func (s *DocumentStore) SaveChunks(ctx context.Context, chunks []Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ragerrors.New(ragerrors.ErrCodeDatabase, "store is closed", nil)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return ragerrors.New(ragerrors.ErrCodeDatabase, "begin transaction", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO chunks (id, document_id, content, chunk_index, embedding, metadata)
		VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return ragerrors.New(ragerrors.ErrCodeDatabase, "prepare chunk insert", err)
	}
	defer stmt.Close()

	for _, c := range chunks {
		if c.ID == "" {
			continue
		}
		meta, err := encodeMetadata(c.Metadata)
		if err != nil {
			return err
		}
		if _, err := stmt.ExecContext(ctx, c.ID, c.DocumentID, c.Content,
			c.ChunkIndex, encodeVector(c.Embedding), meta); err != nil {
			return ragerrors.New(ragerrors.ErrCodeDatabase, "insert chunk", err).
				WithDetail("chunk_id", c.ID)
		}
	}

	if err := tx.Commit(); err != nil {
		return ragerrors.New(ragerrors.ErrCodeDatabase, "commit chunks", err)
	}
	return nil
}

// ListChunks returns all chunks ordered by document and position.
func (s *DocumentStore) ListChunks(ctx context.Context) ([]Chunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ragerrors.New(ragerrors.ErrCodeDatabase, "store is closed", nil)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, document_id, content, chunk_index, embedding, metadata
		FROM chunks ORDER BY document_id, chunk_index`)
	if err != nil {
		return nil, ragerrors.New(ragerrors.ErrCodeDatabase, "query chunks", err)
	}
	defer rows.Close()

	var chunks []Chunk
	for rows.Next() {
		var (
			c        Chunk
			embBlob  []byte
			metaText sql.NullString
		)
		if err := rows.Scan(&c.ID, &c.DocumentID, &c.Content, &c.ChunkIndex, &embBlob, &metaText); err != nil {
			return nil, ragerrors.New(ragerrors.ErrCodeDatabase, "scan chunk", err)
		}
		c.Embedding = decodeVector(embBlob)
		c.Metadata, err = decodeMetadata(metaText)
		if err != nil {
			return nil, err
		}
		chunks = append(chunks, c)
	}
	if err := rows.Err(); err != nil {
		return nil, ragerrors.New(ragerrors.ErrCodeDatabase, "iterate chunks", err)
	}
	return chunks, nil
}

// CountChunks returns the chunk row count.
func (s *DocumentStore) CountChunks(ctx context.Context) (int, error) {
	return s.countQuery(ctx, `SELECT COUNT(*) FROM chunks`)
}

// CountDocuments returns the number of distinct documents.
func (s *DocumentStore) CountDocuments(ctx context.Context) (int, error) {
	return s.countQuery(ctx, `SELECT COUNT(DISTINCT document_id) FROM chunks`)
}

func (s *DocumentStore) countQuery(ctx context.Context, query string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return 0, ragerrors.New(ragerrors.ErrCodeDatabase, "store is closed", nil)
	}

	var n int
	if err := s.db.QueryRowContext(ctx, query).Scan(&n); err != nil {
		return 0, ragerrors.New(ragerrors.ErrCodeDatabase, "count query", err)
	}
	return n, nil
}

// ListGraphNodes returns all persisted graph nodes.
func (s *DocumentStore) ListGraphNodes(ctx context.Context) ([]GraphNode, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ragerrors.New(ragerrors.ErrCodeDatabase, "store is closed", nil)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, content, node_type, chunk_id, metadata FROM graph_nodes`)
	if err != nil {
		return nil, ragerrors.New(ragerrors.ErrCodeDatabase, "query graph nodes", err)
	}
	defer rows.Close()

	var nodes []GraphNode
	for rows.Next() {
		var (
			n        GraphNode
			chunkID  sql.NullString
			metaText sql.NullString
		)
		if err := rows.Scan(&n.ID, &n.Content, &n.NodeType, &chunkID, &metaText); err != nil {
			return nil, ragerrors.New(ragerrors.ErrCodeDatabase, "scan graph node", err)
		}
		n.ChunkID = chunkID.String
		n.Metadata, err = decodeMetadata(metaText)
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, n)
	}
	if err := rows.Err(); err != nil {
		return nil, ragerrors.New(ragerrors.ErrCodeDatabase, "iterate graph nodes", err)
	}
	return nodes, nil
}

// ListGraphEdges returns all persisted graph edges.
func (s *DocumentStore) ListGraphEdges(ctx context.Context) ([]GraphEdge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ragerrors.New(ragerrors.ErrCodeDatabase, "store is closed", nil)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, source_id, target_id, relation, weight, metadata FROM graph_edges`)
	if err != nil {
		return nil, ragerrors.New(ragerrors.ErrCodeDatabase, "query graph edges", err)
	}
	defer rows.Close()

	var edges []GraphEdge
	for rows.Next() {
		var (
			e        GraphEdge
			metaText sql.NullString
		)
		if err := rows.Scan(&e.ID, &e.SourceID, &e.TargetID, &e.Relation, &e.Weight, &metaText); err != nil {
			return nil, ragerrors.New(ragerrors.ErrCodeDatabase, "scan graph edge", err)
		}
		e.Metadata, err = decodeMetadata(metaText)
		if err != nil {
			return nil, err
		}
		edges = append(edges, e)
	}
	if err := rows.Err(); err != nil {
		return nil, ragerrors.New(ragerrors.ErrCodeDatabase, "iterate graph edges", err)
	}
	return edges, nil
}

// ReplaceGraph atomically swaps the persisted graph for the given
// nodes and edges. Inserts are committed in batches of graphBatchSize
// rows; the preceding delete and each batch are separate transactions,
// so readers never block behind one long write.
func (s *DocumentStore) ReplaceGraph(ctx context.Context, nodes []GraphNode, edges []GraphEdge) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ragerrors.New(ragerrors.ErrCodeDatabase, "store is closed", nil)
	}

	if _, err := s.db.ExecContext(ctx, `DELETE FROM graph_edges`); err != nil {
		return ragerrors.New(ragerrors.ErrCodeDatabase, "clear graph edges", err)
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM graph_nodes`); err != nil {
		return ragerrors.New(ragerrors.ErrCodeDatabase, "clear graph nodes", err)
	}

	for start := 0; start < len(nodes); start += graphBatchSize {
		end := start + graphBatchSize
		if end > len(nodes) {
			end = len(nodes)
		}
		if err := s.insertNodeBatch(ctx, nodes[start:end]); err != nil {
			return err
		}
	}
	for start := 0; start < len(edges); start += graphBatchSize {
		end := start + graphBatchSize
		if end > len(edges) {
			end = len(edges)
		}
		if err := s.insertEdgeBatch(ctx, edges[start:end]); err != nil {
			return err
		}
	}

	s.logger.Info("graph_persisted",
		slog.Int("nodes", len(nodes)),
		slog.Int("edges", len(edges)))
	return nil
}

func (s *DocumentStore) insertNodeBatch(ctx context.Context, nodes []GraphNode) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return ragerrors.New(ragerrors.ErrCodeDatabase, "begin node batch", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO graph_nodes (id, content, node_type, chunk_id, metadata)
		VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return ragerrors.New(ragerrors.ErrCodeDatabase, "prepare node insert", err)
	}
	defer stmt.Close()

	for _, n := range nodes {
		meta, err := encodeMetadata(n.Metadata)
		if err != nil {
			return err
		}
		if _, err := stmt.ExecContext(ctx, n.ID, n.Content, n.NodeType, n.ChunkID, meta); err != nil {
			return ragerrors.New(ragerrors.ErrCodeDatabase, "insert graph node", err).
				WithDetail("node_id", n.ID)
		}
	}
	if err := tx.Commit(); err != nil {
		return ragerrors.New(ragerrors.ErrCodeDatabase, "commit node batch", err)
	}
	return nil
}

func (s *DocumentStore) insertEdgeBatch(ctx context.Context, edges []GraphEdge) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return ragerrors.New(ragerrors.ErrCodeDatabase, "begin edge batch", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO graph_edges (id, source_id, target_id, relation, weight, metadata)
		VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return ragerrors.New(ragerrors.ErrCodeDatabase, "prepare edge insert", err)
	}
	defer stmt.Close()

	for _, e := range edges {
		meta, err := encodeMetadata(e.Metadata)
		if err != nil {
			return err
		}
		if _, err := stmt.ExecContext(ctx, e.ID, e.SourceID, e.TargetID, e.Relation, e.Weight, meta); err != nil {
			return ragerrors.New(ragerrors.ErrCodeDatabase, "insert graph edge", err).
				WithDetail("edge_id", e.ID)
		}
	}
	if err := tx.Commit(); err != nil {
		return ragerrors.New(ragerrors.ErrCodeDatabase, "commit edge batch", err)
	}
	return nil
}

// SetDefaultGraphBackend sets the backend seeded into the rag_config
// row on first access. Unknown names are ignored; a row that already
// exists keeps its persisted selection.
func (s *DocumentStore) SetDefaultGraphBackend(backend string) {
	if backend != "memory" && backend != "enhanced" {
		return
	}
	s.mu.Lock()
	s.defaultBackend = backend
	s.mu.Unlock()
}

// GetRAGConfig reads the configuration row, creating the default row
// on first access (everything enabled, configured graph backend).
func (s *DocumentStore) GetRAGConfig(ctx context.Context) (RAGConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return RAGConfig{}, ragerrors.New(ragerrors.ErrCodeDatabase, "store is closed", nil)
	}

	seedBackend := s.defaultBackend
	if seedBackend == "" {
		seedBackend = "memory"
	}
	if _, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO rag_config (id, bm25_enabled, vector_enabled, graph_enabled, graph_impl)
		VALUES (1, 1, 1, 1, ?)`, seedBackend); err != nil {
		return RAGConfig{}, ragerrors.New(ragerrors.ErrCodeDatabase, "seed rag config", err)
	}

	var (
		cfg     RAGConfig
		lexical int
		vector  int
		graph   int
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT bm25_enabled, vector_enabled, graph_enabled, graph_impl
		FROM rag_config WHERE id = 1`).
		Scan(&lexical, &vector, &graph, &cfg.GraphBackend)
	if err != nil {
		return RAGConfig{}, ragerrors.New(ragerrors.ErrCodeDatabase, "read rag config", err)
	}

	cfg.LexicalEnabled = lexical != 0
	cfg.VectorEnabled = vector != 0
	cfg.GraphEnabled = graph != 0
	return cfg, nil
}

// SetComponentEnabled flips one component toggle. Accepted component
// names: "bm25" (alias "lexical"), "vector" (alias "faiss"), "graph".
func (s *DocumentStore) SetComponentEnabled(ctx context.Context, component string, enabled bool) error {
	var column string
	switch component {
	case "bm25", "lexical":
		column = "bm25_enabled"
	case "vector", "faiss":
		column = "vector_enabled"
	case "graph":
		column = "graph_enabled"
	default:
		return ragerrors.Newf(ragerrors.ErrCodeUnknownComponent,
			"unknown component %q (want bm25, vector, or graph)", component)
	}

	// Seed the row first so the UPDATE always hits.
	if _, err := s.GetRAGConfig(ctx); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	value := 0
	if enabled {
		value = 1
	}
	if _, err := s.db.ExecContext(ctx,
		`UPDATE rag_config SET `+column+` = ? WHERE id = 1`, value); err != nil {
		return ragerrors.New(ragerrors.ErrCodeDatabase, "update component toggle", err)
	}

	s.logger.Info("component_toggle_updated",
		slog.String("component", component),
		slog.Bool("enabled", enabled))
	return nil
}

// SetGraphBackend persists the graph backend selection.
func (s *DocumentStore) SetGraphBackend(ctx context.Context, backend string) error {
	if backend != "memory" && backend != "enhanced" {
		return ragerrors.Newf(ragerrors.ErrCodeUnknownBackend,
			"unknown graph backend %q (want memory or enhanced)", backend)
	}

	if _, err := s.GetRAGConfig(ctx); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.ExecContext(ctx,
		`UPDATE rag_config SET graph_impl = ? WHERE id = 1`, backend); err != nil {
		return ragerrors.New(ragerrors.ErrCodeDatabase, "update graph backend", err)
	}

	s.logger.Info("graph_backend_updated", slog.String("backend", backend))
	return nil
}

// ClearAll wipes every table except the configuration row.
func (s *DocumentStore) ClearAll(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ragerrors.New(ragerrors.ErrCodeDatabase, "store is closed", nil)
	}

	for _, table := range []string{"graph_edges", "graph_nodes", "chunks"} {
		if _, err := s.db.ExecContext(ctx, `DELETE FROM `+table); err != nil {
			return ragerrors.New(ragerrors.ErrCodeDatabase, "clear table "+table, err)
		}
	}

	s.logger.Info("database_cleared")
	return nil
}

// Close shuts the database connection down. Safe to call twice.
func (s *DocumentStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	if err := s.db.Close(); err != nil {
		return ragerrors.New(ragerrors.ErrCodeDatabase, "close database", err)
	}
	return nil
}

// encodeVector packs a float32 slice as little-endian bytes.
// A nil or empty vector encodes as nil (NULL column).
func encodeVector(vec []float32) []byte {
	if len(vec) == 0 {
		return nil
	}
	buf := make([]byte, 4*len(vec))
	for i, f := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// decodeVector is the inverse of encodeVector. Truncated blobs drop
// the trailing partial value.
func decodeVector(buf []byte) []float32 {
	if len(buf) < 4 {
		return nil
	}
	vec := make([]float32, len(buf)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return vec
}

func encodeMetadata(meta map[string]string) (sql.NullString, error) {
	if len(meta) == 0 {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(meta)
	if err != nil {
		return sql.NullString{}, ragerrors.New(ragerrors.ErrCodeDatabase, "encode metadata", err)
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

func decodeMetadata(text sql.NullString) (map[string]string, error) {
	if !text.Valid || text.String == "" {
		return nil, nil
	}
	var meta map[string]string
	if err := json.Unmarshal([]byte(text.String), &meta); err != nil {
		return nil, ragerrors.New(ragerrors.ErrCodeDatabase, "decode metadata", err)
	}
	return meta, nil
}
