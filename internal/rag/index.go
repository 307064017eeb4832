// ABOUTME: Full-text retrieval index over the agent's knowledge documents using bleve
// ABOUTME: Loads .txt, .md, and .csv files from a directory and serves top-k chunk lookups

package rag

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/keyword"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
	"github.com/blevesearch/bleve/v2/mapping"
)

// Defaults for chunking and retrieval.
const (
	DefaultChunkSize    = 1000
	DefaultChunkOverlap = 200
	DefaultTopK         = 3
)

// Config configures the index.
type Config struct {
	// IndexPath is where the bleve index lives; empty keeps it in memory.
	IndexPath    string
	ChunkSize    int
	ChunkOverlap int
	TopK         int
}

// Index implements the retriever over a bleve index.
type Index struct {
	index  bleve.Index
	cfg    Config
	logger *slog.Logger

	mu      sync.Mutex
	usedIDs map[string]bool
}

// Open creates or opens the index. A corrupted on-disk index is rebuilt.
func Open(cfg Config, logger *slog.Logger) (*Index, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "rag")

	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = DefaultChunkSize
	}
	if cfg.ChunkOverlap < 0 {
		cfg.ChunkOverlap = 0
	}
	if cfg.TopK <= 0 {
		cfg.TopK = DefaultTopK
	}

	var (
		idx bleve.Index
		err error
	)
	if cfg.IndexPath == "" {
		idx, err = bleve.NewMemOnly(buildIndexMapping())
	} else {
		idx, err = openOnDisk(cfg.IndexPath, logger)
	}
	if err != nil {
		return nil, err
	}

	return &Index{
		index:   idx,
		cfg:     cfg,
		logger:  logger,
		usedIDs: make(map[string]bool),
	}, nil
}

func openOnDisk(path string, logger *slog.Logger) (bleve.Index, error) {
	idx, err := bleve.Open(path)
	if err == nil {
		return idx, nil
	}
	if !errors.Is(err, bleve.ErrorIndexPathDoesNotExist) {
		logger.Warn("index appears corrupted, recreating", "path", path, "error", err)
		if err := os.RemoveAll(path); err != nil {
			return nil, fmt.Errorf("removing corrupted index: %w", err)
		}
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("creating index directory: %w", err)
	}
	idx, err = bleve.New(path, buildIndexMapping())
	if err != nil {
		return nil, fmt.Errorf("creating index: %w", err)
	}
	logger.Info("retrieval index created", "path", path)
	return idx, nil
}

func buildIndexMapping() mapping.IndexMapping {
	indexMapping := bleve.NewIndexMapping()
	chunkMapping := bleve.NewDocumentMapping()

	sourceField := bleve.NewTextFieldMapping()
	sourceField.Analyzer = keyword.Name
	sourceField.Store = true
	chunkMapping.AddFieldMappingsAt("source", sourceField)

	textField := bleve.NewTextFieldMapping()
	textField.Analyzer = standard.Name
	textField.Store = true
	chunkMapping.AddFieldMappingsAt("text", textField)

	indexMapping.DefaultMapping = chunkMapping
	return indexMapping
}

// AddDocument chunks text and indexes every chunk under the document ID.
// Repeated IDs get a numeric suffix.
func (i *Index) AddDocument(id, text string) (int, error) {
	chunks := Split(text, i.cfg.ChunkSize, i.cfg.ChunkOverlap)
	if len(chunks) == 0 {
		return 0, nil
	}

	docID := i.uniqueID(id)
	batch := i.index.NewBatch()
	for n, chunk := range chunks {
		doc := map[string]any{
			"source": docID,
			"text":   chunk,
		}
		if err := batch.Index(fmt.Sprintf("%s:%d", docID, n), doc); err != nil {
			return 0, fmt.Errorf("indexing chunk %d of %s: %w", n, docID, err)
		}
	}
	if err := i.index.Batch(batch); err != nil {
		return 0, fmt.Errorf("writing batch for %s: %w", docID, err)
	}

	i.logger.Debug("indexed document", "id", docID, "chunks", len(chunks))
	return len(chunks), nil
}

func (i *Index) uniqueID(base string) string {
	i.mu.Lock()
	defer i.mu.Unlock()

	id := base
	for n := 2; i.usedIDs[id]; n++ {
		id = fmt.Sprintf("%s#%d", base, n)
	}
	i.usedIDs[id] = true
	return id
}

// LoadDirectory indexes every supported file under dir. Unreadable files are
// logged and skipped; it returns the number of documents indexed.
func (i *Index) LoadDirectory(ctx context.Context, dir string) (int, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return 0, fmt.Errorf("reading docs directory: %w", err)
	}
	if !info.IsDir() {
		return 0, fmt.Errorf("docs path %s is not a directory", dir)
	}

	loaded := 0
	err = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.IsDir() {
			return nil
		}

		text, ok, err := readDocument(path)
		if err != nil {
			i.logger.Warn("failed to read document", "path", path, "error", err)
			return nil
		}
		if !ok {
			i.logger.Debug("ignoring unsupported file", "path", path)
			return nil
		}

		rel, _ := filepath.Rel(dir, path)
		if _, err := i.AddDocument(filepath.ToSlash(rel), text); err != nil {
			return err
		}
		loaded++
		return nil
	})
	if err != nil {
		return loaded, fmt.Errorf("loading documents: %w", err)
	}

	if loaded == 0 {
		i.logger.Warn("no documents found", "path", dir)
	} else {
		i.logger.Info("documents loaded", "path", dir, "count", loaded)
	}
	return loaded, nil
}

// readDocument returns the text of a supported file. CSV rows are flattened
// to comma-separated lines.
func readDocument(path string) (string, bool, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".txt", ".md":
		data, err := os.ReadFile(path)
		if err != nil {
			return "", false, err
		}
		return string(data), true, nil
	case ".csv":
		f, err := os.Open(path)
		if err != nil {
			return "", false, err
		}
		defer f.Close()

		r := csv.NewReader(f)
		r.FieldsPerRecord = -1
		rows, err := r.ReadAll()
		if err != nil {
			return "", false, err
		}
		lines := make([]string, 0, len(rows))
		for _, row := range rows {
			lines = append(lines, strings.Join(row, ", "))
		}
		return strings.Join(lines, "\n"), true, nil
	default:
		return "", false, nil
	}
}

// RetrieveContext returns the text of the best matching chunks for query.
func (i *Index) RetrieveContext(ctx context.Context, query string) ([]string, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, nil
	}

	q := bleve.NewMatchQuery(query)
	q.SetField("text")

	req := bleve.NewSearchRequest(q)
	req.Size = i.cfg.TopK
	req.Fields = []string{"text"}

	res, err := i.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("searching index: %w", err)
	}

	out := make([]string, 0, len(res.Hits))
	for _, hit := range res.Hits {
		if text, ok := hit.Fields["text"].(string); ok && text != "" {
			out = append(out, text)
		}
	}
	i.logger.Debug("retrieved context", "query_len", len(query), "hits", len(out))
	return out, nil
}

// Count reports how many chunks are indexed.
func (i *Index) Count() (uint64, error) {
	return i.index.DocCount()
}

// Close closes the underlying index.
func (i *Index) Close() error {
	return i.index.Close()
}
