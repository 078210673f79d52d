package support

import (
	"context"
	"errors"
	"sort"
	"strings"

	"github.com/nstogner/solemate/pkg/domain"
)

// Intents is the fixed vocabulary policies are tagged with.
var Intents = []string{
	"damaged item",
	"exchange",
	"payment",
	"refund",
	"replacement",
	"return",
	"shipping",
}

// IntentsFromQuery returns the intents mentioned in text, sorted.
func IntentsFromQuery(text string) []string {
	lower := strings.ToLower(text)
	var out []string
	for _, intent := range Intents {
		if strings.Contains(lower, intent) {
			out = append(out, intent)
		}
	}
	sort.Strings(out)
	return out
}

// PolicyArgs are the arguments of Get-Relevant-Policies-By-Query.
type PolicyArgs struct {
	QueryText string `json:"query_text" validate:"required" jsonschema:"description=The user's query string."`
}

// --- Get-Relevant-Policies-By-Query ---

func (tb *Toolbox) relevantPolicies(ctx context.Context, args PolicyArgs) ([]string, error) {
	matches, err := tb.Policies.Search(ctx, args.QueryText, IntentsFromQuery(args.QueryText))
	if err != nil {
		var te *domain.ToolError
		if errors.As(err, &te) {
			return nil, err
		}
		return nil, domain.Upstream("Policy search failed", err)
	}
	if len(matches) == 0 {
		return nil, domain.NotFoundf("No relevant policies found for this query.")
	}
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		out = append(out, m.Policy.Text)
	}
	return out, nil
}
