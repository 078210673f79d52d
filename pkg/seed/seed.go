// Package seed loads order and policy fixtures into the stores.
package seed

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/nstogner/solemate/pkg/domain"
	"github.com/nstogner/solemate/pkg/store"
)

// PolicyDoc is one summarized policy document: the intents it answers and
// its short statements.
type PolicyDoc struct {
	Intents []string `yaml:"intents"`
	Summary []string `yaml:"summary"`
}

// Fixture is the seed file format.
type Fixture struct {
	Orders   []domain.Order `yaml:"orders"`
	Policies []PolicyDoc    `yaml:"policies"`
}

// Result counts what was written.
type Result struct {
	Orders   int
	Policies int
}

func Parse(r io.Reader) (*Fixture, error) {
	var f Fixture
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil && err != io.EOF {
		return nil, fmt.Errorf("parse fixture: %w", err)
	}
	return &f, nil
}

func Load(path string) (*Fixture, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	return Parse(file)
}

// PolicyStatements flattens the documents into collated policies, one per
// distinct statement.
func (f *Fixture) PolicyStatements() []domain.Policy {
	var flat []domain.Policy
	for _, doc := range f.Policies {
		for _, s := range doc.Summary {
			flat = append(flat, domain.Policy{Text: s, Intents: doc.Intents})
		}
	}
	return store.CollatePolicies(flat)
}

// Validate rejects orders the tools could never look up.
func (f *Fixture) Validate() error {
	seen := make(map[int]bool, len(f.Orders))
	for i, o := range f.Orders {
		if o.OrderID < 10000 || o.OrderID > 99999 {
			return fmt.Errorf("orders[%d]: order_id %d is not a five-digit number", i, o.OrderID)
		}
		if seen[o.OrderID] {
			return fmt.Errorf("orders[%d]: duplicate order_id %d", i, o.OrderID)
		}
		seen[o.OrderID] = true
	}
	return nil
}

// Apply upserts the fixture.
func Apply(ctx context.Context, orders store.OrderStore, policies store.PolicyStore, f *Fixture) (Result, error) {
	if err := f.Validate(); err != nil {
		return Result{}, err
	}
	if err := orders.UpsertOrders(ctx, f.Orders); err != nil {
		return Result{}, fmt.Errorf("upsert orders: %w", err)
	}
	stmts := f.PolicyStatements()
	if err := policies.UpsertPolicies(ctx, stmts); err != nil {
		return Result{}, fmt.Errorf("upsert policies: %w", err)
	}
	return Result{Orders: len(f.Orders), Policies: len(stmts)}, nil
}

// Watch reloads the fixture at path every interval until ctx is done.
// Failed rounds are logged and retried on the next tick. after runs after
// every successful round.
func Watch(ctx context.Context, path string, interval time.Duration, orders store.OrderStore, policies store.PolicyStore, after func(Result)) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			f, err := Load(path)
			if err == nil {
				var res Result
				if res, err = Apply(ctx, orders, policies, f); err == nil {
					slog.Info("Fixture reloaded", "path", path, "orders", res.Orders, "policies", res.Policies)
					if after != nil {
						after(res)
					}
					continue
				}
			}
			slog.Error("Fixture reload failed", "path", path, "error", err)
		}
	}
}
