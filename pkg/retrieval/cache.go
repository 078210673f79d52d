package retrieval

import (
	"context"
	"log/slog"
	"strings"

	lru "github.com/hashicorp/golang-lru"

	"github.com/nstogner/solemate/pkg/domain"
)

// Cached memoizes a Searcher by normalized query and intents. Errors are
// not cached.
type Cached struct {
	next  Searcher
	cache *lru.Cache
}

var _ Searcher = (*Cached)(nil)

func NewCached(next Searcher, size int) (*Cached, error) {
	c, err := lru.New(size)
	if err != nil {
		return nil, err
	}
	return &Cached{next: next, cache: c}, nil
}

func (c *Cached) Search(ctx context.Context, query string, intents []string) ([]domain.PolicyMatch, error) {
	key := cacheKey(query, intents)
	if v, ok := c.cache.Get(key); ok {
		slog.Debug("Policy cache hit", "query", query)
		return append([]domain.PolicyMatch(nil), v.([]domain.PolicyMatch)...), nil
	}
	matches, err := c.next.Search(ctx, query, intents)
	if err != nil {
		return nil, err
	}
	c.cache.Add(key, append([]domain.PolicyMatch(nil), matches...))
	return matches, nil
}

// Purge drops every cached result, e.g. after new policies are ingested.
func (c *Cached) Purge() {
	c.cache.Purge()
}

func cacheKey(query string, intents []string) string {
	return strings.Join(strings.Fields(strings.ToLower(query)), " ") + "|" + strings.Join(intents, ",")
}
