package search

import (
	"context"
	"log/slog"
	"sort"

	"github.com/pedagogic/courseforge/ai"
	"github.com/pedagogic/courseforge/core"
	"github.com/pedagogic/courseforge/storage"
)

// Searcher provides tenant-scoped retrieval over indexed vector points,
// combining dense similarity with a lexical overlap signal. The tenant
// filter is mandatory and enforced on every signal before fusion: a point
// from another tenant is never a candidate, regardless of similarity.
type Searcher struct {
	points   storage.VectorPointRepository
	embedder ai.Embedder
	hybrid   bool
	logger   *slog.Logger
}

// Option configures a Searcher.
type Option func(*Searcher) error

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(s *Searcher) error {
		if logger == nil {
			logger = slog.Default()
		}
		s.logger = logger
		return nil
	}
}

// WithHybrid enables or disables lexical score fusion. Enabled by default.
func WithHybrid(enabled bool) Option {
	return func(s *Searcher) error {
		s.hybrid = enabled
		return nil
	}
}

// NewSearcher creates a new searcher.
func NewSearcher(
	points storage.VectorPointRepository,
	embedder ai.Embedder,
	opts ...Option,
) (*Searcher, error) {
	if points == nil {
		return nil, ErrPointRepositoryRequired
	}
	if embedder == nil {
		return nil, ErrEmbedderRequired
	}

	s := &Searcher{
		points:   points,
		embedder: embedder,
		hybrid:   true,
		logger:   slog.Default(),
	}

	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}

	return s, nil
}

// Search returns up to topK passages relevant to the query within the
// tenant filter, ranked by fused score descending. An empty result is not
// an error.
func (s *Searcher) Search(ctx context.Context, query string, filter core.TenantFilter, topK int) ([]*core.PointMatch, error) {
	return s.SearchWithMonitor(ctx, query, filter, topK, nil)
}

// SearchWithMonitor is Search with observation hooks for each stage.
func (s *Searcher) SearchWithMonitor(ctx context.Context, query string, filter core.TenantFilter, topK int, monitor SearchMonitor) ([]*core.PointMatch, error) {
	if monitor == nil {
		monitor = &noopMonitor{}
	}
	if err := core.ValidateTenantFilter(filter); err != nil {
		return nil, err
	}
	if topK <= 0 {
		return nil, ErrInvalidTopK
	}

	monitor.Start(query, filter)

	vectors, err := s.embedder.EmbedTexts(ctx, []string{query}, ai.TaskQuery)
	if err != nil {
		s.logger.Error("error embedding query", "err", err)
		return nil, err
	}
	if len(vectors) != 1 {
		s.logger.Error("embedder returned wrong vector count for query", "count", len(vectors))
		return nil, ErrEmbedderRequired
	}
	queryVector := vectors[0]
	monitor.AfterQueryEmbedding(len(queryVector))

	// Fetch extra dense candidates when fusing, so a lexical boost can
	// promote a result from just below the cutoff.
	denseK := topK
	if s.hybrid {
		denseK = topK * 3
	}
	matches, err := s.points.Search(ctx, queryVector, filter, denseK)
	if err != nil {
		s.logger.Error("error searching vector points", "err", err)
		return nil, err
	}

	denseIds := make([]core.ID, len(matches))
	for i, match := range matches {
		denseIds[i] = match.Point.ChunkId
	}
	monitor.AfterDenseSearch(denseIds)

	results := make([]*core.PointMatch, 0, len(matches))
	queryWords := tokenizeAndFilter(query)
	for _, match := range matches {
		if !s.inTenant(match.Point, filter) {
			// Must never reach a caller; the key scheme makes this
			// unreachable unless the store is corrupted.
			s.logger.Error("tenant isolation violation detected",
				"expected_org", filter.OrganizationID,
				"got_org", match.Point.Payload.OrganizationID,
				"chunk", match.Point.ChunkId)
			continue
		}

		score := match.Score
		if s.hybrid {
			lexical := lexicalScore(match.Point.Payload.Text, queryWords)
			score += 0.3 * lexical
			if lexical == 1 {
				monitor.DenseAndLexicalHit(match.Point)
			} else {
				monitor.DenseHit(match.Point)
			}
		} else {
			monitor.DenseHit(match.Point)
		}

		results = append(results, &core.PointMatch{Point: match.Point, Score: score})
	}
	monitor.AfterLexicalScoring(len(results))

	sort.Slice(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
	if len(results) > topK {
		results = results[:topK]
	}

	monitor.Finish(results)
	return results, nil
}

func (s *Searcher) inTenant(point *core.VectorPoint, filter core.TenantFilter) bool {
	if point.Payload.OrganizationID != filter.OrganizationID {
		return false
	}
	if filter.CourseID != "" && point.Payload.CourseID != filter.CourseID {
		return false
	}
	return true
}
