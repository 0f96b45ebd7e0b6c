// Package memory provides in-process implementations of the kv ports, used by
// tests and by deployments that rebuild the index on every start.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"ledgerindex/internal/core"
)

// Box is a mutex guarded map. Values are stored as given.
type Box[V any] struct {
	mu    sync.RWMutex
	items map[string]V
}

func NewBox[V any]() *Box[V] {
	return &Box[V]{items: make(map[string]V)}
}

func (b *Box[V]) Get(_ context.Context, key string) (V, bool, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	v, ok := b.items[key]
	return v, ok, nil
}

func (b *Box[V]) Put(_ context.Context, key string, value V) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.items[key] = value
	return nil
}

func (b *Box[V]) PutAll(_ context.Context, entries map[string]V) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for k, v := range entries {
		b.items[k] = v
	}
	return nil
}

func (b *Box[V]) Delete(_ context.Context, key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.items, key)
	return nil
}

func (b *Box[V]) Clear(_ context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.items = make(map[string]V)
	return nil
}

// ForEach visits a snapshot of the box, so fn may mutate the box.
func (b *Box[V]) ForEach(ctx context.Context, fn func(key string, value V) error) error {
	return b.visit(ctx, b.snapshot("", "", false), fn)
}

func (b *Box[V]) Range(ctx context.Context, from, to string, fn func(key string, value V) error) error {
	return b.visit(ctx, b.snapshot(from, to, true), fn)
}

// Len returns the number of stored keys.
func (b *Box[V]) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.items)
}

type entry[V any] struct {
	key   string
	value V
}

func (b *Box[V]) snapshot(from, to string, bounded bool) []entry[V] {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]entry[V], 0, len(b.items))
	for k, v := range b.items {
		if bounded && (k < from || k > to) {
			continue
		}
		out = append(out, entry[V]{key: k, value: v})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].key < out[j].key })
	return out
}

func (b *Box[V]) visit(ctx context.Context, entries []entry[V], fn func(string, V) error) error {
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(e.key, e.value); err != nil {
			return err
		}
	}
	return nil
}

// RecordStore keeps transactions in a map keyed by id.
type RecordStore struct {
	mu    sync.RWMutex
	loc   *time.Location
	items map[string]core.Transaction
}

// NewRecordStore returns an empty store. loc is used by ForEachInRange to
// derive each record's day.
func NewRecordStore(loc *time.Location) *RecordStore {
	if loc == nil {
		loc = time.Local
	}
	return &RecordStore{loc: loc, items: make(map[string]core.Transaction)}
}

func (s *RecordStore) Get(_ context.Context, id string) (core.Transaction, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tx, ok := s.items[id]
	return tx, ok, nil
}

func (s *RecordStore) Put(_ context.Context, tx core.Transaction) error {
	if err := tx.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[tx.ID] = tx
	return nil
}

func (s *RecordStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.items, id)
	return nil
}

func (s *RecordStore) Clear(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = make(map[string]core.Transaction)
	return nil
}

func (s *RecordStore) Count(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items), nil
}

// ForEach visits records in id order over a snapshot.
func (s *RecordStore) ForEach(ctx context.Context, fn func(core.Transaction) error) error {
	return s.ForEachInRange(ctx, "", "", fn)
}

func (s *RecordStore) ForEachInRange(ctx context.Context, from, to core.DateKey, fn func(core.Transaction) error) error {
	s.mu.RLock()
	out := make([]core.Transaction, 0, len(s.items))
	for _, tx := range s.items {
		day := core.KeyOf(tx.Date, s.loc)
		if from != "" && day < from {
			continue
		}
		if to != "" && day > to {
			continue
		}
		out = append(out, tx)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	for _, tx := range out {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(tx); err != nil {
			return err
		}
	}
	return nil
}
