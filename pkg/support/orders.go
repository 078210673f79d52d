package support

import (
	"context"
	"errors"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/nstogner/solemate/pkg/domain"
)

const (
	minOrderID = 10000
	maxOrderID = 99999
)

// OrderID is a five-digit order number. Models sometimes send it quoted or
// as a float; both decode, anything else decodes to 0 and fails validation.
type OrderID int

func (id *OrderID) UnmarshalJSON(b []byte) error {
	s := strings.Trim(strings.TrimSpace(string(b)), `"`)
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || f != math.Trunc(f) || f < math.MinInt32 || f > math.MaxInt32 {
		*id = 0
		return nil
	}
	*id = OrderID(f)
	return nil
}

// Valid reports whether id is in the five-digit range.
func (id OrderID) Valid() bool {
	return id >= minOrderID && id <= maxOrderID
}

// OrderArgs are the arguments of every order-keyed tool.
type OrderArgs struct {
	OrderID OrderID `json:"order_id" jsonschema:"description=The 5-digit order ID.,minimum=10000,maximum=99999"`
}

func (a OrderArgs) Validate() error {
	if !a.OrderID.Valid() {
		return domain.Validationf(invalidOrderIDMsg)
	}
	return nil
}

// --- Get-Order-Details ---

func (tb *Toolbox) getOrderDetails(ctx context.Context, args OrderArgs) (*domain.Order, error) {
	o, err := tb.Orders.GetOrder(ctx, int(args.OrderID))
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, domain.NotFoundf("No order found with ID: %d", args.OrderID)
		}
		return nil, domain.Upstream("Database error", err)
	}
	out := *o
	out.OrderDate = normalizeDate(o.OrderDate)
	return &out, nil
}

var orderDateLayouts = []string{
	"2006-01-02 15:04:05",
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// normalizeDate renders a stored order timestamp as YYYY-MM-DD. Unknown
// layouts are returned unchanged.
func normalizeDate(s string) string {
	s = strings.TrimSpace(s)
	for _, layout := range orderDateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Format(time.DateOnly)
		}
	}
	return s
}

// --- Product-Recommendor-By-OrderID ---

func (tb *Toolbox) recommendProducts(ctx context.Context, args OrderArgs) ([]string, error) {
	names, err := tb.Orders.SimilarProducts(ctx, int(args.OrderID), maxRecommendations)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return nil, domain.Upstream("Database error", err)
	}
	if len(names) == 0 {
		return nil, domain.NotFoundf(noSimilarProductsMsg)
	}
	if len(names) > maxRecommendations {
		names = names[:maxRecommendations]
	}
	return names, nil
}
