package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/nstogner/solemate/pkg/domain"
	"github.com/nstogner/solemate/pkg/store"
)

// Store implements ThreadStore, OrderStore, and PolicyStore using SQLite.
type Store struct {
	db          *sql.DB
	subscribers []chan string
	mu          sync.RWMutex
}

// Verify interface compliance at compile time.
var _ store.ThreadStore = (*Store)(nil)
var _ store.OrderStore = (*Store)(nil)
var _ store.PolicyStore = (*Store)(nil)

// New opens (or creates) a SQLite database at the given path and runs migrations.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_txlock=immediate&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS threads (
		id TEXT PRIMARY KEY,
		pending TEXT NOT NULL DEFAULT '',
		version INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS messages (
		id TEXT PRIMARY KEY,
		thread_id TEXT NOT NULL,
		seq INTEGER NOT NULL,
		role TEXT NOT NULL,
		content TEXT NOT NULL DEFAULT '',
		tool_calls TEXT NOT NULL DEFAULT '',
		tool_call_id TEXT NOT NULL DEFAULT '',
		is_error BOOLEAN NOT NULL DEFAULT 0,
		timestamp DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		FOREIGN KEY (thread_id) REFERENCES threads(id) ON DELETE CASCADE
	);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_messages_thread_seq ON messages(thread_id, seq);

	CREATE TABLE IF NOT EXISTS orders (
		order_id INTEGER PRIMARY KEY,
		product_category TEXT NOT NULL DEFAULT '',
		product_name TEXT NOT NULL DEFAULT '',
		size TEXT NOT NULL DEFAULT '',
		quantity INTEGER NOT NULL DEFAULT 0,
		price TEXT NOT NULL DEFAULT '0',
		order_date TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT '',
		payment_method TEXT NOT NULL DEFAULT '',
		shipping_address TEXT NOT NULL DEFAULT '',
		final_sale BOOLEAN NOT NULL DEFAULT 0,
		gender TEXT NOT NULL DEFAULT ''
	);
	CREATE INDEX IF NOT EXISTS idx_orders_match ON orders(product_category, size);

	CREATE TABLE IF NOT EXISTS policies (
		id TEXT PRIMARY KEY,
		text TEXT NOT NULL,
		intents TEXT NOT NULL DEFAULT '[]',
		updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// --- ThreadStore ---

func (s *Store) Get(ctx context.Context, id string) (*domain.Thread, error) {
	t := domain.NewThread(id)
	var pending string
	err := s.db.QueryRowContext(ctx,
		`SELECT pending, version, created_at, updated_at FROM threads WHERE id = ?`, id,
	).Scan(&pending, &t.Version, &t.CreatedAt, &t.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return t, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get thread %s: %w", id, err)
	}
	if pending != "" {
		t.Pending = &domain.ToolCall{}
		if err := json.Unmarshal([]byte(pending), t.Pending); err != nil {
			return nil, fmt.Errorf("decode pending call of thread %s: %w", id, err)
		}
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, role, content, tool_calls, tool_call_id, is_error, timestamp
		 FROM messages WHERE thread_id = ? ORDER BY seq ASC`, id)
	if err != nil {
		return nil, fmt.Errorf("get messages of thread %s: %w", id, err)
	}
	defer rows.Close()

	for rows.Next() {
		var m domain.Message
		var calls string
		if err := rows.Scan(&m.ID, &m.Role, &m.Content, &calls, &m.ToolCallID, &m.IsError, &m.Timestamp); err != nil {
			return nil, err
		}
		if calls != "" {
			if err := json.Unmarshal([]byte(calls), &m.ToolCalls); err != nil {
				return nil, fmt.Errorf("decode tool calls of message %s: %w", m.ID, err)
			}
		}
		t.Messages = append(t.Messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if err := t.Validate(); err != nil {
		return nil, fmt.Errorf("thread %s: %w", id, err)
	}
	return t, nil
}

// Commit writes the thread in a single transaction. Messages are
// append-only, so only messages beyond the stored count are inserted.
func (s *Store) Commit(ctx context.Context, t *domain.Thread) error {
	if err := t.Validate(); err != nil {
		return err
	}
	pending := ""
	if t.Pending != nil {
		b, err := json.Marshal(t.Pending)
		if err != nil {
			return fmt.Errorf("encode pending call: %w", err)
		}
		pending = string(b)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin commit: %w", err)
	}
	defer tx.Rollback()

	var stored int64
	err = tx.QueryRowContext(ctx, `SELECT version FROM threads WHERE id = ?`, t.ID).Scan(&stored)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("read version: %w", err)
	}
	if stored != t.Version {
		return fmt.Errorf("%w: thread %s is at version %d, commit based on %d", domain.ErrConflict, t.ID, stored, t.Version)
	}

	now := time.Now().UTC()
	created := t.CreatedAt
	if created.IsZero() {
		created = now
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO threads (id, pending, version, created_at, updated_at) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET pending = excluded.pending, version = excluded.version, updated_at = excluded.updated_at`,
		t.ID, pending, t.Version+1, created, now,
	)
	if err != nil {
		return fmt.Errorf("write thread: %w", err)
	}

	var count int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM messages WHERE thread_id = ?`, t.ID).Scan(&count); err != nil {
		return fmt.Errorf("count messages: %w", err)
	}
	if count > len(t.Messages) {
		return fmt.Errorf("%w: thread %s would drop %d committed messages", domain.ErrProtocol, t.ID, count-len(t.Messages))
	}

	for i := count; i < len(t.Messages); i++ {
		m := &t.Messages[i]
		if m.ID == "" {
			m.ID = uuid.NewString()
		}
		calls := ""
		if len(m.ToolCalls) > 0 {
			b, err := json.Marshal(m.ToolCalls)
			if err != nil {
				return fmt.Errorf("encode tool calls: %w", err)
			}
			calls = string(b)
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO messages (id, thread_id, seq, role, content, tool_calls, tool_call_id, is_error, timestamp)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			m.ID, t.ID, i+1, m.Role, m.Content, calls, m.ToolCallID, m.IsError, m.Timestamp,
		)
		if err != nil {
			return fmt.Errorf("insert message %d: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit thread %s: %w", t.ID, err)
	}
	t.Version++
	t.CreatedAt = created
	t.UpdatedAt = now

	s.notifySubscribers(t.ID)
	return nil
}

func (s *Store) List(ctx context.Context) ([]domain.ThreadInfo, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT t.id, t.pending, t.updated_at, (SELECT COUNT(*) FROM messages m WHERE m.thread_id = t.id)
		 FROM threads t ORDER BY t.updated_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var infos []domain.ThreadInfo
	for rows.Next() {
		var info domain.ThreadInfo
		var pending string
		if err := rows.Scan(&info.ID, &pending, &info.UpdatedAt, &info.MessageCount); err != nil {
			return nil, err
		}
		info.State = domain.StateIdle
		if pending != "" {
			info.State = domain.StateAwaitingConfirmation
		}
		infos = append(infos, info)
	}
	return infos, rows.Err()
}

func (s *Store) Subscribe() (<-chan string, func()) {
	ch := make(chan string, 64)
	s.mu.Lock()
	s.subscribers = append(s.subscribers, ch)
	s.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			s.subscribers = slices.DeleteFunc(s.subscribers, func(c chan string) bool { return c == ch })
			s.mu.Unlock()
			close(ch)
		})
	}
}

func (s *Store) notifySubscribers(threadID string) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, ch := range s.subscribers {
		select {
		case ch <- threadID:
		default:
			// Drop if subscriber is not consuming fast enough.
		}
	}
}

// --- OrderStore ---

func (s *Store) GetOrder(ctx context.Context, orderID int) (*domain.Order, error) {
	o := &domain.Order{}
	err := s.db.QueryRowContext(ctx,
		`SELECT order_id, product_category, product_name, size, quantity, price,
		        order_date, status, payment_method, shipping_address, final_sale, gender
		 FROM orders WHERE order_id = ?`, orderID,
	).Scan(&o.OrderID, &o.ProductCategory, &o.ProductName, &o.Size, &o.Quantity, &o.Price,
		&o.OrderDate, &o.Status, &o.PaymentMethod, &o.ShippingAddress, &o.FinalSale, &o.Gender)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("order %d: %w", orderID, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get order %d: %w", orderID, err)
	}
	return o, nil
}

func (s *Store) SimilarProducts(ctx context.Context, orderID, limit int) ([]string, error) {
	var category, gender, size string
	err := s.db.QueryRowContext(ctx,
		`SELECT product_category, gender, size FROM orders WHERE order_id = ?`, orderID,
	).Scan(&category, &gender, &size)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("order %d: %w", orderID, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get order %d: %w", orderID, err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT product_name FROM orders
		 WHERE (gender = ? OR lower(gender) = 'unisex')
		   AND product_category = ?
		   AND size = ?
		   AND order_id != ?
		 ORDER BY quantity DESC
		 LIMIT ?`,
		gender, category, size, orderID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("similar products for %d: %w", orderID, err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

func (s *Store) UpsertOrders(ctx context.Context, orders []domain.Order) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT OR REPLACE INTO orders (order_id, product_category, product_name, size, quantity, price,
			order_date, status, payment_method, shipping_address, final_sale, gender)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, o := range orders {
		if _, err := stmt.ExecContext(ctx, o.OrderID, o.ProductCategory, o.ProductName, o.Size, o.Quantity,
			o.Price.String(), o.OrderDate, o.Status, o.PaymentMethod, o.ShippingAddress, o.FinalSale, o.Gender,
		); err != nil {
			return fmt.Errorf("upsert order %d: %w", o.OrderID, err)
		}
	}
	return tx.Commit()
}

// --- PolicyStore ---

func (s *Store) ListPolicies(ctx context.Context, intents []string) ([]domain.Policy, error) {
	query := `SELECT id, text, intents, updated_at FROM policies ORDER BY id`
	var args []any
	if len(intents) > 0 {
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(intents)), ",")
		query = `SELECT id, text, intents, updated_at FROM policies p
			WHERE EXISTS (SELECT 1 FROM json_each(p.intents) j WHERE j.value IN (` + placeholders + `))
			ORDER BY id`
		for _, in := range intents {
			args = append(args, in)
		}
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list policies: %w", err)
	}
	defer rows.Close()

	var policies []domain.Policy
	for rows.Next() {
		var p domain.Policy
		var raw string
		if err := rows.Scan(&p.ID, &p.Text, &raw, &p.UpdatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(raw), &p.Intents); err != nil {
			return nil, fmt.Errorf("decode intents of policy %s: %w", p.ID, err)
		}
		policies = append(policies, p)
	}
	return policies, rows.Err()
}

func (s *Store) UpsertPolicies(ctx context.Context, policies []domain.Policy) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	for _, p := range store.CollatePolicies(policies) {
		var raw string
		err := tx.QueryRowContext(ctx, `SELECT intents FROM policies WHERE id = ?`, p.ID).Scan(&raw)
		switch {
		case errors.Is(err, sql.ErrNoRows):
		case err != nil:
			return fmt.Errorf("read policy %s: %w", p.ID, err)
		default:
			var existing []string
			if err := json.Unmarshal([]byte(raw), &existing); err != nil {
				return fmt.Errorf("decode intents of policy %s: %w", p.ID, err)
			}
			p.Intents = store.MergeIntents(existing, p.Intents)
		}

		b, err := json.Marshal(p.Intents)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO policies (id, text, intents, updated_at) VALUES (?, ?, ?, ?)
			 ON CONFLICT(id) DO UPDATE SET intents = excluded.intents, updated_at = excluded.updated_at`,
			p.ID, p.Text, string(b), now,
		)
		if err != nil {
			return fmt.Errorf("upsert policy %s: %w", p.ID, err)
		}
	}
	return tx.Commit()
}
