// Package retrieval ranks policy snippets against a customer query. Local
// ranks the SQLite policy table in process, Remote delegates to a vector
// store service, and Cached memoizes either.
package retrieval

import (
	"context"

	"github.com/nstogner/solemate/pkg/domain"
)

// Defaults for the two ranking stages.
const (
	DefaultTopK       = 50
	DefaultRerankTopN = 5
)

// Searcher returns policies ranked against query, best first, optionally
// restricted to intents.
type Searcher interface {
	Search(ctx context.Context, query string, intents []string) ([]domain.PolicyMatch, error)
}

// Options control how many candidates survive each stage.
type Options struct {
	// TopK is the number of candidates kept by the first stage.
	TopK int
	// RerankTopN is the number of matches returned after reranking.
	RerankTopN int
	// ScoreThreshold drops reranked matches scoring below it.
	ScoreThreshold float64
}

func (o Options) withDefaults() Options {
	if o.TopK <= 0 {
		o.TopK = DefaultTopK
	}
	if o.RerankTopN <= 0 {
		o.RerankTopN = DefaultRerankTopN
	}
	return o
}
