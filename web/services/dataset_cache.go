package services

import (
	"fmt"
	"os"

	lru "github.com/hashicorp/golang-lru"
	"go.uber.org/zap"

	"datachat/database"
	"datachat/dataset"
)

// DatasetCache keeps parsed datasets in memory so repeated messages against
// the same upload skip re-parsing. Only the parsed table is cached; summary
// statistics are recomputed from rows on every use.
type DatasetCache struct {
	cache  *lru.Cache
	logger *zap.Logger
}

func NewDatasetCache(size int, logger *zap.Logger) (*DatasetCache, error) {
	if size <= 0 {
		size = 32
	}
	cache, err := lru.New(size)
	if err != nil {
		return nil, fmt.Errorf("create dataset cache: %w", err)
	}
	return &DatasetCache{cache: cache, logger: logger}, nil
}

func cacheKey(record database.FileRecord) string {
	// Re-uploading the same filename keeps its record ID; the upload service
	// invalidates the entry before reparsing so a stale parse is never served.
	return record.ID.String()
}

// Load returns the parsed dataset for a tracked data file, parsing from disk
// on a cache miss.
func (dc *DatasetCache) Load(record database.FileRecord) (*dataset.Dataset, error) {
	key := cacheKey(record)
	if cached, ok := dc.cache.Get(key); ok {
		if ds, ok := cached.(*dataset.Dataset); ok {
			return ds, nil
		}
	}

	f, err := os.Open(record.FilePath)
	if err != nil {
		return nil, fmt.Errorf("open data file %s: %w", record.Filename, err)
	}
	defer f.Close()

	var ds *dataset.Dataset
	switch record.FileType {
	case "json":
		ds, err = dataset.LoadJSON(record.Filename, f)
	default:
		ds, err = dataset.LoadCSV(record.Filename, f)
	}
	if err != nil {
		return nil, err
	}

	dc.cache.Add(key, ds)
	dc.logger.Debug("dataset parsed and cached",
		zap.String("file", record.Filename),
		zap.Int("rows", len(ds.Rows)))
	return ds, nil
}

// Invalidate drops one record's cached parse.
func (dc *DatasetCache) Invalidate(record database.FileRecord) {
	dc.cache.Remove(cacheKey(record))
}
