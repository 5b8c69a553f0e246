package aifs

import (
	"context"
	"time"

	"github.com/aifs-project/aifs/vectorindex"
)

// SearchOptions configures SearchVectors.
type SearchOptions struct {
	// Filter restricts candidates to assets whose metadata carries
	// every given key/value pair.
	Filter map[string]string
}

// SearchOption mutates SearchOptions.
type SearchOption func(*SearchOptions)

// WithSearchFilter restricts results to assets matching the metadata
// equality filter.
func WithSearchFilter(filter map[string]string) SearchOption {
	return func(o *SearchOptions) { o.Filter = filter }
}

// SearchVectors returns the k nearest visible embeddings in a
// namespace, best first. Scores follow the index metric: similarity for
// cosine and dot, distance for the rest. Assets pending in uncommitted
// transactions never appear.
func (e *Engine) SearchVectors(ctx context.Context, namespace string, query []float32, k int, optFns ...SearchOption) ([]vectorindex.Result, error) {
	start := time.Now()
	results, err := e.searchVectors(ctx, namespace, query, k, optFns...)
	e.metrics.RecordSearch(k, time.Since(start), err)
	e.logger.LogSearch(ctx, namespace, k, len(results), err)
	return results, translateError(err)
}

func (e *Engine) searchVectors(ctx context.Context, namespace string, query []float32, k int, optFns ...SearchOption) ([]vectorindex.Result, error) {
	if err := e.checkOpen(); err != nil {
		return nil, err
	}
	if k <= 0 {
		return nil, ErrInvalidK
	}

	opts := SearchOptions{}
	for _, fn := range optFns {
		fn(&opts)
	}

	var searchOpts []vectorindex.SearchOption
	if len(opts.Filter) > 0 {
		searchOpts = append(searchOpts, vectorindex.WithFilter(opts.Filter))
	}
	return e.index.Search(ctx, namespace, query, k, searchOpts...)
}
