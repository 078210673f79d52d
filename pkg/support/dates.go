package support

import (
	"context"
	"strings"
	"time"

	"github.com/nstogner/solemate/pkg/domain"
)

// DateArgs are the arguments of Days-Since-Date.
type DateArgs struct {
	DateStr string `json:"date_str" jsonschema:"description=The date string in YYYY-MM-DD format."`
}

// --- Days-Since-Date ---

// daysSinceDate counts calendar days from the given date to today in the
// clock's location. Future dates yield negative counts.
func (tb *Toolbox) daysSinceDate(ctx context.Context, args DateArgs) (int, error) {
	now := tb.now()
	d, err := time.ParseInLocation(time.DateOnly, strings.TrimSpace(args.DateStr), now.Location())
	if err != nil {
		return 0, domain.Validationf("Incorrect date format. Please use YYYY-MM-DD.")
	}
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	then := time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, time.UTC)
	return int(today.Sub(then).Hours() / 24), nil
}
