// Package support implements the customer-support tools the agent binds to:
// order lookup, product recommendations, policy retrieval, date arithmetic
// and return authorization.
package support

import (
	"context"
	"fmt"
	"time"

	"github.com/nstogner/solemate/pkg/domain"
	"github.com/nstogner/solemate/pkg/tools"
)

// Stable tool names. The model binds to these.
const (
	GetOrderDetails      = "Get-Order-Details"
	RecommendProducts    = "Product-Recommendor-By-OrderID"
	GetRelevantPolicies  = "Get-Relevant-Policies-By-Query"
	DaysSinceDate        = "Days-Since-Date"
	GenerateReturnAuth   = "Generate-Return-Authorization"
	maxRecommendations   = 3
	returnAuthPrompt     = "Should I generate the RA number for you? yes/no"
	invalidOrderIDMsg    = "Order ID must be a five-digit number."
	noSimilarProductsMsg = "No similar products found for this order ID."
)

// OrderSource is the order data the tools read from.
type OrderSource interface {
	// GetOrder returns the order or an error wrapping domain.ErrNotFound.
	GetOrder(ctx context.Context, orderID int) (*domain.Order, error)
	// SimilarProducts returns up to limit product names sharing the order's
	// category and size, for the same gender or unisex.
	SimilarProducts(ctx context.Context, orderID, limit int) ([]string, error)
}

// PolicySource ranks policy snippets against a free-text query.
type PolicySource interface {
	Search(ctx context.Context, query string, intents []string) ([]domain.PolicyMatch, error)
}

// Toolbox holds the collaborators the support tools are built on.
type Toolbox struct {
	Orders   OrderSource
	Policies PolicySource

	// Now defaults to time.Now.
	Now func() time.Time
}

// Definitions returns the five support tools. Only return authorization is
// sensitive.
func (tb *Toolbox) Definitions() []*tools.Definition {
	return []*tools.Definition{
		tools.New(GetOrderDetails,
			"Fetches order details from the database given the 5-digit order ID. Returns the order record with its date in YYYY-MM-DD format.",
			tools.Safe, tb.getOrderDetails),
		tools.New(RecommendProducts,
			"Retrieves up to three similar products for the given 5-digit order ID. Use this tool only if the user asks for a product recommendation. It matches product category, size and gender (or unisex).",
			tools.Safe, tb.recommendProducts),
		tools.New(GetRelevantPolicies,
			"Retrieves the most relevant store policies for the user's query, ranked by relevance.",
			tools.Safe, tb.relevantPolicies),
		tools.New(DaysSinceDate,
			"Calculates the number of days passed since the given date (YYYY-MM-DD).",
			tools.Safe, tb.daysSinceDate),
		tools.New(GenerateReturnAuth,
			"Generates a return authorization number for the given 5-digit order ID. Call this only after the order was checked to be eligible for return.",
			tools.Sensitive, generateReturnAuthorization,
			tools.WithConfirmPrompt(returnAuthPrompt)),
	}
}

// Register adds the support tools to r.
func Register(r *tools.Registry, tb *Toolbox) error {
	if tb.Orders == nil || tb.Policies == nil {
		return fmt.Errorf("support toolbox needs both an order and a policy source")
	}
	for _, d := range tb.Definitions() {
		if err := r.Register(d); err != nil {
			return fmt.Errorf("registering %s: %w", d.Name, err)
		}
	}
	return nil
}

func (tb *Toolbox) now() time.Time {
	if tb.Now != nil {
		return tb.Now()
	}
	return time.Now()
}
