package memory

import (
	"context"
	"sync"

	"github.com/go-go-golems/parley/pkg/store"
	"github.com/pkg/errors"
)

// Store keeps records in process memory. It is what tests and the
// memory driver use.
type Store struct {
	mu      sync.RWMutex
	records []store.Record
	ids     map[string]struct{}
	closed  bool
}

func New() *Store {
	return &Store{ids: map[string]struct{}{}}
}

func (s *Store) Append(ctx context.Context, r store.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return store.ErrClosed
	}
	if _, ok := s.ids[r.ID]; ok {
		return errors.Wrapf(store.ErrDuplicateID, "append %s", r.ID)
	}
	s.ids[r.ID] = struct{}{}
	s.records = append(s.records, r)
	return nil
}

func (s *Store) ListRecent(ctx context.Context, limit int, options ...store.ListOption) ([]store.Record, error) {
	if err := store.ValidateLimit(limit); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	o := store.NewListOptions(options...)

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, store.ErrClosed
	}
	ret := []store.Record{}
	for i := len(s.records) - 1; i >= 0 && len(ret) < limit; i-- {
		if o.Matches(s.records[i]) {
			ret = append(ret, s.records[i])
		}
	}
	return ret, nil
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

var _ store.Store = (*Store)(nil)
