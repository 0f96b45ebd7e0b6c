// Package kv declares the storage ports the index engine consumes: a record
// store holding transactions and generic key-value boxes for derived data.
package kv

import (
	"context"

	"ledgerindex/internal/core"
)

// Ports for storage adapters.
type (
	// RecordStore is the source of truth for transaction records.
	RecordStore interface {
		Get(ctx context.Context, id string) (core.Transaction, bool, error)
		Put(ctx context.Context, tx core.Transaction) error
		Delete(ctx context.Context, id string) error
		Clear(ctx context.Context) error
		ForEach(ctx context.Context, fn func(core.Transaction) error) error
		Count(ctx context.Context) (int, error)
	}

	// RangeScanner is implemented by record stores that can pre-filter a scan
	// to transactions whose day lies in [from, to]. An empty to is unbounded.
	RangeScanner interface {
		ForEachInRange(ctx context.Context, from, to core.DateKey, fn func(core.Transaction) error) error
	}

	// Box is a namespaced key-value map of derived values.
	Box[V any] interface {
		Get(ctx context.Context, key string) (V, bool, error)
		Put(ctx context.Context, key string, value V) error
		PutAll(ctx context.Context, entries map[string]V) error
		Delete(ctx context.Context, key string) error
		Clear(ctx context.Context) error
		ForEach(ctx context.Context, fn func(key string, value V) error) error
		// Range visits keys in [from, to] in ascending order.
		Range(ctx context.Context, from, to string, fn func(key string, value V) error) error
	}
)
