package locate

import "context"

// Source produces location estimates from one kind of data.
type Source interface {
	// Name identifies the source in metrics.
	Name() DataSource

	// ShouldSearch reports whether the source can contribute to the
	// query given the results accumulated so far.
	ShouldSearch(q *Query, results *ResultList) bool

	// Search returns the source's results. Sources absorb their own
	// failures and return empty results instead of errors so one
	// broken backend never takes down the whole pipeline.
	Search(ctx context.Context, q *Query) *ResultList
}
