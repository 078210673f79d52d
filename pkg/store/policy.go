package store

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"

	"github.com/nstogner/solemate/pkg/domain"
)

// PolicyID is the content key of a policy: the sha256 of its lower-cased,
// trimmed text. Identical statements from different documents collapse into
// one policy.
func PolicyID(text string) string {
	sum := sha256.Sum256([]byte(strings.ToLower(strings.TrimSpace(text))))
	return hex.EncodeToString(sum[:])
}

// CollatePolicies groups summaries by PolicyID and merges their intents.
// Output order follows first appearance.
func CollatePolicies(in []domain.Policy) []domain.Policy {
	index := make(map[string]int)
	var out []domain.Policy
	for _, p := range in {
		p.Text = strings.TrimSpace(p.Text)
		if p.Text == "" {
			continue
		}
		id := PolicyID(p.Text)
		if i, ok := index[id]; ok {
			out[i].Intents = MergeIntents(out[i].Intents, p.Intents)
			continue
		}
		p.ID = id
		p.Intents = MergeIntents(nil, p.Intents)
		index[id] = len(out)
		out = append(out, p)
	}
	return out
}

// MergeIntents returns the sorted, de-duplicated, lower-cased union of a and b.
func MergeIntents(a, b []string) []string {
	set := make(map[string]struct{}, len(a)+len(b))
	for _, s := range append(append([]string(nil), a...), b...) {
		s = strings.ToLower(strings.TrimSpace(s))
		if s != "" {
			set[s] = struct{}{}
		}
	}
	out := make([]string, 0, len(set))
	for s := range set {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}
