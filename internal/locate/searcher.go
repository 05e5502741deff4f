package locate

import "context"

// Searcher runs a query through an ordered list of sources. Later
// sources are skipped as soon as the accumulated results are as
// accurate as the query's data can support.
type Searcher struct {
	kind    ResultKind
	sources []Source
}

// NewSearcher builds a searcher over the given sources, consulted in
// order.
func NewSearcher(kind ResultKind, sources ...Source) *Searcher {
	return &Searcher{kind: kind, sources: sources}
}

// Search resolves the query to its single best result. An empty
// result of the searcher's kind means no answer.
func (s *Searcher) Search(ctx context.Context, q *Query) Result {
	q.EmitQueryStats()

	results := NewResultList(s.kind)
	for _, source := range s.sources {
		if ctx.Err() != nil {
			// The client is gone; partial results are worthless.
			return emptyResult(s.kind)
		}
		if !source.ShouldSearch(q, results) {
			continue
		}
		results.Extend(source.Search(ctx, q))
		if results.Satisfies(q) {
			break
		}
	}

	best := results.Best()
	q.EmitResultStats(best)
	return best
}
