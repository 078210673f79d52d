// Package memory provides an in-process ThreadStore. Nothing is persisted;
// it backs controller and server tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nstogner/solemate/pkg/domain"
	"github.com/nstogner/solemate/pkg/store"
)

var _ store.ThreadStore = (*Store)(nil)

// Store keeps committed threads in a map. Get returns copies, so callers
// never share state with the store.
type Store struct {
	mu          sync.RWMutex
	threads     map[string]*domain.Thread
	subscribers []chan string
}

func New() *Store {
	return &Store{threads: make(map[string]*domain.Thread)}
}

func (s *Store) Get(ctx context.Context, id string) (*domain.Thread, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.threads[id]
	if !ok {
		return domain.NewThread(id), nil
	}
	return t.Clone(), nil
}

func (s *Store) Commit(ctx context.Context, t *domain.Thread) error {
	if err := t.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	var stored int64
	created := time.Now().UTC()
	if cur, ok := s.threads[t.ID]; ok {
		stored = cur.Version
		created = cur.CreatedAt
		if len(t.Messages) < len(cur.Messages) {
			s.mu.Unlock()
			return fmt.Errorf("%w: thread %s would drop %d committed messages", domain.ErrProtocol, t.ID, len(cur.Messages)-len(t.Messages))
		}
	}
	if stored != t.Version {
		s.mu.Unlock()
		return fmt.Errorf("%w: thread %s is at version %d, commit based on %d", domain.ErrConflict, t.ID, stored, t.Version)
	}
	for i := range t.Messages {
		if t.Messages[i].ID == "" {
			t.Messages[i].ID = uuid.NewString()
		}
	}
	t.Version++
	t.CreatedAt = created
	t.UpdatedAt = time.Now().UTC()
	s.threads[t.ID] = t.Clone()
	s.mu.Unlock()

	s.notifySubscribers(t.ID)
	return nil
}

func (s *Store) List(ctx context.Context) ([]domain.ThreadInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	infos := make([]domain.ThreadInfo, 0, len(s.threads))
	for _, t := range s.threads {
		infos = append(infos, domain.ThreadInfo{
			ID:           t.ID,
			State:        t.State(),
			MessageCount: len(t.Messages),
			UpdatedAt:    t.UpdatedAt,
		})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].UpdatedAt.After(infos[j].UpdatedAt) })
	return infos, nil
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

func (s *Store) notifySubscribers(id string) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, ch := range s.subscribers {
		select {
		case ch <- id:
		default:
		}
	}
}
