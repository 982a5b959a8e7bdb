package search

import "github.com/pedagogic/courseforge/core"

// SearchMonitor provides hooks to observe the search process.
// Implement this interface to track intermediate steps and results during search.
type SearchMonitor interface {
	Start(query string, filter core.TenantFilter)
	AfterQueryEmbedding(dimension int)
	AfterDenseSearch(ids []core.ID)
	AfterLexicalScoring(candidates int)
	DenseAndLexicalHit(point *core.VectorPoint)
	DenseHit(point *core.VectorPoint)
	Finish(results []*core.PointMatch)
}

// noopMonitor is a no-op implementation of SearchMonitor
type noopMonitor struct{}

var _ SearchMonitor = (*noopMonitor)(nil)

func (n *noopMonitor) Start(_ string, _ core.TenantFilter) {}
func (n *noopMonitor) AfterQueryEmbedding(_ int)           {}
func (n *noopMonitor) AfterDenseSearch(_ []core.ID)        {}
func (n *noopMonitor) AfterLexicalScoring(_ int)           {}
func (n *noopMonitor) DenseAndLexicalHit(_ *core.VectorPoint) {}
func (n *noopMonitor) DenseHit(_ *core.VectorPoint)        {}
func (n *noopMonitor) Finish(_ []*core.PointMatch)         {}
