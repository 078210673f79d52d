package store

import (
	"context"

	"github.com/nstogner/solemate/pkg/domain"
)

// ThreadStore persists conversation threads, including the pending
// confirmation marker, so a paused turn can be resumed after a restart.
type ThreadStore interface {
	// Get returns the committed state of a thread. An unknown id yields a new
	// empty thread with Version 0.
	Get(ctx context.Context, id string) (*domain.Thread, error)

	// Commit atomically replaces the stored thread. It fails with
	// domain.ErrConflict if t.Version does not match the stored version. On
	// success t.Version is incremented.
	Commit(ctx context.Context, t *domain.Thread) error

	// List returns thread summaries, most recently updated first.
	List(ctx context.Context) ([]domain.ThreadInfo, error)

	// Subscribe returns a channel that emits thread IDs after every commit,
	// and a func that detaches and closes it.
	Subscribe() (<-chan string, func())
}

// OrderStore is the order table the support tools read from.
type OrderStore interface {
	// GetOrder returns an order by id. Returns an error wrapping
	// domain.ErrNotFound if it does not exist.
	GetOrder(ctx context.Context, orderID int) (*domain.Order, error)

	// SimilarProducts returns up to limit product names from other orders with
	// the same category and size whose gender matches or is unisex, by
	// quantity descending.
	SimilarProducts(ctx context.Context, orderID, limit int) ([]string, error)

	// UpsertOrders inserts or replaces orders keyed by order id.
	UpsertOrders(ctx context.Context, orders []domain.Order) error
}

// PolicyStore holds the summarized policy statements.
type PolicyStore interface {
	// ListPolicies returns the policies tagged with any of intents, or all
	// policies if intents is empty.
	ListPolicies(ctx context.Context, intents []string) ([]domain.Policy, error)

	// UpsertPolicies inserts policies keyed by PolicyID of their text. An
	// existing policy keeps its text and gains any new intents.
	UpsertPolicies(ctx context.Context, policies []domain.Policy) error
}
