package retrieval

import (
	"context"
	"fmt"
	"math"
	"regexp"
	"sort"
	"strings"

	"github.com/nstogner/solemate/pkg/domain"
	"github.com/nstogner/solemate/pkg/store"
)

// Local ranks policies from a PolicyStore. The first stage scores token
// frequency vectors; the rerank stage adds adjacent-token pairs so phrase
// matches ("final sale", "store credit") outrank scattered words.
type Local struct {
	Policies store.PolicyStore
	Options  Options
}

var _ Searcher = (*Local)(nil)

func NewLocal(policies store.PolicyStore, opts Options) *Local {
	return &Local{Policies: policies, Options: opts.withDefaults()}
}

func (l *Local) Search(ctx context.Context, query string, intents []string) ([]domain.PolicyMatch, error) {
	opts := l.Options.withDefaults()
	policies, err := l.Policies.ListPolicies(ctx, intents)
	if err != nil {
		return nil, fmt.Errorf("list policies: %w", err)
	}

	q := BuildEmbedding(query, false)
	candidates := make([]domain.PolicyMatch, 0, len(policies))
	for _, p := range policies {
		candidates = append(candidates, domain.PolicyMatch{Policy: p, Score: cosineSimilarity(q, BuildEmbedding(p.Text, false))})
	}
	sortMatches(candidates)
	if len(candidates) > opts.TopK {
		candidates = candidates[:opts.TopK]
	}

	rq := BuildEmbedding(query, true)
	for i := range candidates {
		candidates[i].Score = cosineSimilarity(rq, BuildEmbedding(candidates[i].Policy.Text, true))
	}
	sortMatches(candidates)
	if len(candidates) > opts.RerankTopN {
		candidates = candidates[:opts.RerankTopN]
	}

	out := candidates[:0]
	for _, m := range candidates {
		if m.Score >= opts.ScoreThreshold {
			out = append(out, m)
		}
	}
	return out, nil
}

func sortMatches(m []domain.PolicyMatch) {
	sort.SliceStable(m, func(i, j int) bool {
		if m[i].Score == m[j].Score {
			return m[i].Policy.ID < m[j].Policy.ID
		}
		return m[i].Score > m[j].Score
	})
}

var tokenRegex = regexp.MustCompile(`[a-zA-Z0-9]+`)

// BuildEmbedding returns the L2-normalized token frequency vector of text.
// With pairs set, adjacent token pairs are counted too.
func BuildEmbedding(text string, pairs bool) map[string]float64 {
	tokens := tokenRegex.FindAllString(strings.ToLower(text), -1)
	freq := make(map[string]float64)
	prev := ""
	for _, token := range tokens {
		if len(token) < 2 {
			continue
		}
		freq[token]++
		if pairs && prev != "" {
			freq[prev+" "+token]++
		}
		prev = token
	}

	var norm float64
	for _, count := range freq {
		norm += count * count
	}
	if norm == 0 {
		return freq
	}
	norm = math.Sqrt(norm)
	for k, count := range freq {
		freq[k] = count / norm
	}
	return freq
}

func cosineSimilarity(a, b map[string]float64) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	var dot float64
	for token, aval := range a {
		if bval, ok := b[token]; ok {
			dot += aval * bval
		}
	}
	if dot == 0 {
		return 0
	}

	var normA, normB float64
	for _, val := range a {
		normA += val * val
	}
	for _, val := range b {
		normB += val * val
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
