package store

import (
	"encoding/gob"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"

	ragerrors "github.com/ThreatFlux/hybridrag/internal/errors"
)

// BM25 tuning constants (Okapi defaults).
const (
	bm25K1 = 1.5
	bm25B  = 0.75
)

// LexicalIndex is an in-memory BM25 index over document chunks.
//
// Documents live in three parallel slices sharing one index space:
// docIDs[i], corpus[i], and tokenized[i] always describe the same
// document. Mutations rebuild the scorer from scratch; corpora are
// small enough (thousands of chunks) that full rebuilds stay cheap.
type LexicalIndex struct {
	mu sync.RWMutex

	path string

	docIDs    []string
	corpus    []string
	tokenized [][]string

	// Derived scoring state, rebuilt after every mutation.
	docFreq map[string]int // term -> number of docs containing it
	docLen  []int
	avgLen  float64

	logger *slog.Logger
}

// NewLexicalIndex creates an empty index that persists to path.
func NewLexicalIndex(path string, logger *slog.Logger) *LexicalIndex {
	if logger == nil {
		logger = slog.Default()
	}
	return &LexicalIndex{
		path:      path,
		docIDs:    []string{},
		corpus:    []string{},
		tokenized: [][]string{},
		docFreq:   map[string]int{},
		logger:    logger,
	}
}

// AddDocument indexes a single document. Entries with an empty ID or
// empty content are ignored.
func (idx *LexicalIndex) AddDocument(id, content string) {
	if id == "" || content == "" {
		return
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()

	idx.appendLocked(id, content)
	idx.rebuildLocked()
}

// AddDocuments indexes a batch with a single rebuild at the end.
// Invalid entries are skipped, not fatal.
func (idx *LexicalIndex) AddDocuments(docs []Document) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	added := 0
	for _, d := range docs {
		if d.ID == "" || d.Content == "" {
			continue
		}
		idx.appendLocked(d.ID, d.Content)
		added++
	}
	if added > 0 {
		idx.rebuildLocked()
	}
	idx.logger.Debug("lexical_documents_added",
		slog.Int("added", added),
		slog.Int("skipped", len(docs)-added),
		slog.Int("total", len(idx.docIDs)))
}

func (idx *LexicalIndex) appendLocked(id, content string) {
	idx.docIDs = append(idx.docIDs, id)
	idx.corpus = append(idx.corpus, content)
	idx.tokenized = append(idx.tokenized, Tokenize(content))
}

// rebuildLocked recomputes document frequencies and length statistics.
// Caller must hold the write lock.
func (idx *LexicalIndex) rebuildLocked() {
	idx.docFreq = make(map[string]int, len(idx.docFreq))
	idx.docLen = make([]int, len(idx.tokenized))

	totalLen := 0
	for i, toks := range idx.tokenized {
		idx.docLen[i] = len(toks)
		totalLen += len(toks)

		seen := make(map[string]struct{}, len(toks))
		for _, t := range toks {
			if _, ok := seen[t]; ok {
				continue
			}
			seen[t] = struct{}{}
			idx.docFreq[t]++
		}
	}

	idx.avgLen = 0
	if len(idx.tokenized) > 0 {
		idx.avgLen = float64(totalLen) / float64(len(idx.tokenized))
	}
}

// Search returns up to topK documents scored against the query,
// highest score first. Only documents with a positive BM25 score are
// returned; an empty corpus or a query with no indexed terms yields an
// empty slice. Ties break by insertion order so results are stable.
func (idx *LexicalIndex) Search(query string, topK int) []LexicalResult {
	if topK <= 0 {
		return []LexicalResult{}
	}

	terms := Tokenize(query)
	if len(terms) == 0 {
		return []LexicalResult{}
	}

	idx.mu.RLock()
	defer idx.mu.RUnlock()

	n := len(idx.docIDs)
	if n == 0 {
		return []LexicalResult{}
	}

	type scored struct {
		pos   int
		score float64
	}
	hits := make([]scored, 0, n)
	for i := 0; i < n; i++ {
		s := idx.scoreLocked(terms, i)
		if s > 0 {
			hits = append(hits, scored{pos: i, score: s})
		}
	}

	sort.SliceStable(hits, func(a, b int) bool {
		return hits[a].score > hits[b].score
	})

	if len(hits) > topK {
		hits = hits[:topK]
	}

	results := make([]LexicalResult, len(hits))
	for i, h := range hits {
		results[i] = LexicalResult{
			ID:      idx.docIDs[h.pos],
			Score:   h.score,
			Content: idx.corpus[h.pos],
		}
	}
	return results
}

// scoreLocked computes the Okapi BM25 score of document i for the
// query terms. Caller must hold at least the read lock.
func (idx *LexicalIndex) scoreLocked(terms []string, i int) float64 {
	n := float64(len(idx.docIDs))
	dl := float64(idx.docLen[i])

	tf := make(map[string]int, len(idx.tokenized[i]))
	for _, t := range idx.tokenized[i] {
		tf[t]++
	}

	score := 0.0
	for _, term := range terms {
		df := idx.docFreq[term]
		if df == 0 {
			continue
		}
		freq := float64(tf[term])
		if freq == 0 {
			continue
		}

		idf := math.Log(1 + (n-float64(df)+0.5)/(float64(df)+0.5))
		norm := freq * (bm25K1 + 1) / (freq + bm25K1*(1-bm25B+bm25B*dl/idx.avgLen))
		score += idf * norm
	}
	return score
}

// Contains reports whether a document ID is already indexed.
func (idx *LexicalIndex) Contains(id string) bool {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	for _, existing := range idx.docIDs {
		if existing == id {
			return true
		}
	}
	return false
}

// Count returns the number of indexed documents.
func (idx *LexicalIndex) Count() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.docIDs)
}

// lexicalSnapshot is the gob persistence payload. The derived scoring
// state is not stored; Load rebuilds it.
type lexicalSnapshot struct {
	DocIDs    []string
	Corpus    []string
	Tokenized [][]string
}

// Save atomically writes the index to its configured path.
func (idx *LexicalIndex) Save() error {
	idx.mu.RLock()
	snap := lexicalSnapshot{
		DocIDs:    idx.docIDs,
		Corpus:    idx.corpus,
		Tokenized: idx.tokenized,
	}
	idx.mu.RUnlock()

	if err := os.MkdirAll(filepath.Dir(idx.path), 0o755); err != nil {
		return ragerrors.New(ragerrors.ErrCodeSaveFailed, "create index directory", err)
	}

	tmp := idx.path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return ragerrors.New(ragerrors.ErrCodeSaveFailed, "create lexical index file", err)
	}

	if err := gob.NewEncoder(f).Encode(&snap); err != nil {
		f.Close()
		os.Remove(tmp)
		return ragerrors.New(ragerrors.ErrCodeSaveFailed, "encode lexical index", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return ragerrors.New(ragerrors.ErrCodeSaveFailed, "close lexical index file", err)
	}
	if err := os.Rename(tmp, idx.path); err != nil {
		os.Remove(tmp)
		return ragerrors.New(ragerrors.ErrCodeSaveFailed, "rename lexical index file", err)
	}

	idx.logger.Info("lexical_index_saved",
		slog.String("path", idx.path),
		slog.Int("documents", len(snap.DocIDs)))
	return nil
}

// Load restores the index from disk. A missing file is not an error:
// it returns (false, nil) and leaves the index empty. A present but
// undecodable file is reported as corruption.
func (idx *LexicalIndex) Load() (bool, error) {
	f, err := os.Open(idx.path)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, ragerrors.New(ragerrors.ErrCodeFileRead, "open lexical index file", err)
	}
	defer f.Close()

	var snap lexicalSnapshot
	if err := gob.NewDecoder(f).Decode(&snap); err != nil {
		return false, ragerrors.New(ragerrors.ErrCodeCorruptIndex, "decode lexical index", err)
	}
	if len(snap.DocIDs) != len(snap.Corpus) || len(snap.DocIDs) != len(snap.Tokenized) {
		return false, ragerrors.Newf(ragerrors.ErrCodeCorruptIndex,
			"lexical index arrays disagree: %d ids, %d docs, %d token lists",
			len(snap.DocIDs), len(snap.Corpus), len(snap.Tokenized))
	}

	idx.mu.Lock()
	idx.docIDs = snap.DocIDs
	idx.corpus = snap.Corpus
	idx.tokenized = snap.Tokenized
	idx.rebuildLocked()
	count := len(idx.docIDs)
	idx.mu.Unlock()

	if count == 0 {
		return false, nil
	}

	idx.logger.Info("lexical_index_loaded",
		slog.String("path", idx.path),
		slog.Int("documents", count))
	return true, nil
}

// Clear drops all documents and removes the persisted file.
func (idx *LexicalIndex) Clear() error {
	idx.mu.Lock()
	idx.docIDs = []string{}
	idx.corpus = []string{}
	idx.tokenized = [][]string{}
	idx.docFreq = map[string]int{}
	idx.docLen = nil
	idx.avgLen = 0
	idx.mu.Unlock()

	if err := os.Remove(idx.path); err != nil && !os.IsNotExist(err) {
		return ragerrors.New(ragerrors.ErrCodeFileWrite, "remove lexical index file", err)
	}
	return nil
}
