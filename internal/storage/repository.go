package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"ledgerindex/internal/core"
	"ledgerindex/internal/kv"

	_ "modernc.org/sqlite"
)

// Namespaces of the derived index data.
const (
	NamespaceDateIndex    = "date_index"
	NamespaceDailySummary = "daily_summary"
	NamespaceIndexMeta    = "index_meta"
)

// DB is a SQLite database holding the transactions table and the index
// namespaces.
type DB struct {
	db   *sql.DB
	path string
}

// Open opens (creating if needed) the database at dbPath and runs migrations.
func Open(dbPath string) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dsn(dbPath, false))
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if _, err := migrateSchema(dbPath); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &DB{db: db, path: dbPath}, nil
}

// OpenReadOnly opens an existing database without migrating it. Chunk workers
// use it to scan transactions on a handle of their own.
func OpenReadOnly(dbPath string) (*DB, error) {
	if _, err := os.Stat(dbPath); err != nil {
		return nil, fmt.Errorf("stat database: %w", err)
	}

	db, err := sql.Open("sqlite", dsn(dbPath, true))
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &DB{db: db, path: dbPath}, nil
}

func dsn(path string, readOnly bool) string {
	params := []string{"_pragma=busy_timeout(5000)"}
	if readOnly {
		params = append(params, "mode=ro")
	} else {
		params = append(params, "_pragma=journal_mode(WAL)")
	}
	return "file:" + path + "?" + strings.Join(params, "&")
}

func (d *DB) Path() string {
	return d.path
}

func (d *DB) Close() error {
	if d.db != nil {
		return d.db.Close()
	}
	return nil
}

// RecordStore implements kv.RecordStore and kv.RangeScanner on the
// transactions table. Day keys are derived with loc at write time.
type RecordStore struct {
	db  *sql.DB
	loc *time.Location
}

func (d *DB) Records(loc *time.Location) *RecordStore {
	if loc == nil {
		loc = time.Local
	}
	return &RecordStore{db: d.db, loc: loc}
}

const transactionColumns = `id, occurred_at, currency, amount, kind, needs_review, is_cleared, is_balance_adjustment, note`

func (r *RecordStore) Get(ctx context.Context, id string) (core.Transaction, bool, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+transactionColumns+` FROM transactions WHERE id = ?`, id)
	tx, err := scanTransaction(row)
	if err == sql.ErrNoRows {
		return core.Transaction{}, false, nil
	}
	if err != nil {
		return core.Transaction{}, false, fmt.Errorf("get transaction %s: %w", id, err)
	}
	return tx, true, nil
}

func (r *RecordStore) Put(ctx context.Context, tx core.Transaction) error {
	if err := tx.Validate(); err != nil {
		return err
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO transactions (id, occurred_at, date_key, currency, amount, kind, needs_review, is_cleared, is_balance_adjustment, note)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			occurred_at = excluded.occurred_at,
			date_key = excluded.date_key,
			currency = excluded.currency,
			amount = excluded.amount,
			kind = excluded.kind,
			needs_review = excluded.needs_review,
			is_cleared = excluded.is_cleared,
			is_balance_adjustment = excluded.is_balance_adjustment,
			note = excluded.note`,
		tx.ID,
		tx.Date.Format(time.RFC3339Nano),
		string(core.KeyOf(tx.Date, r.loc)),
		core.NormalizeCurrency(tx.Currency),
		tx.Amount.String(),
		string(tx.Kind),
		tx.NeedsReview,
		tx.IsCleared,
		tx.IsBalanceAdjustment,
		tx.Note,
	)
	if err != nil {
		return fmt.Errorf("put transaction %s: %w", tx.ID, err)
	}
	return nil
}

func (r *RecordStore) Delete(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM transactions WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete transaction %s: %w", id, err)
	}
	return nil
}

func (r *RecordStore) Clear(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM transactions`); err != nil {
		return fmt.Errorf("clear transactions: %w", err)
	}
	slog.InfoContext(ctx, "Transactions table cleared")
	return nil
}

func (r *RecordStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM transactions`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count transactions: %w", err)
	}
	return n, nil
}

func (r *RecordStore) ForEach(ctx context.Context, fn func(core.Transaction) error) error {
	return r.ForEachInRange(ctx, "", "", fn)
}

// ForEachInRange uses the date_key index to restrict the scan.
func (r *RecordStore) ForEachInRange(ctx context.Context, from, to core.DateKey, fn func(core.Transaction) error) error {
	query := `SELECT ` + transactionColumns + ` FROM transactions`
	var (
		where []string
		args  []any
	)
	if from != "" {
		where = append(where, "date_key >= ?")
		args = append(args, string(from))
	}
	if to != "" {
		where = append(where, "date_key <= ?")
		args = append(args, string(to))
	}
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY id"

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("scan transactions: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return fmt.Errorf("read transaction row: %w", err)
		}
		if err := fn(tx); err != nil {
			return err
		}
	}
	return rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTransaction(row rowScanner) (core.Transaction, error) {
	var (
		tx                          core.Transaction
		occurredAt, amount, kind    string
		needsReview, cleared, isAdj bool
	)
	if err := row.Scan(&tx.ID, &occurredAt, &tx.Currency, &amount, &kind, &needsReview, &cleared, &isAdj, &tx.Note); err != nil {
		return core.Transaction{}, err
	}

	date, err := time.Parse(time.RFC3339Nano, occurredAt)
	if err != nil {
		return core.Transaction{}, fmt.Errorf("parse occurred_at %q: %w", occurredAt, err)
	}
	value, err := decimal.NewFromString(amount)
	if err != nil {
		return core.Transaction{}, fmt.Errorf("parse amount %q: %w", amount, err)
	}

	tx.Date = date
	tx.Amount = value
	tx.Kind = core.Kind(kind)
	tx.NeedsReview = needsReview
	tx.IsCleared = cleared
	tx.IsBalanceAdjustment = isAdj
	return tx, nil
}

// Box implements kv.Box for one namespace of the index_entries table.
// Values that fail to decode are reported as absent.
type Box[V any] struct {
	db        *sql.DB
	namespace string
	codec     kv.Codec[V]
}

func NewBox[V any](d *DB, namespace string, codec kv.Codec[V]) *Box[V] {
	return &Box[V]{db: d.db, namespace: namespace, codec: codec}
}

func (b *Box[V]) Get(ctx context.Context, key string) (V, bool, error) {
	var (
		zero V
		raw  []byte
	)
	err := b.db.QueryRowContext(ctx,
		`SELECT value FROM index_entries WHERE namespace = ? AND key = ?`, b.namespace, key).Scan(&raw)
	if err == sql.ErrNoRows {
		return zero, false, nil
	}
	if err != nil {
		return zero, false, fmt.Errorf("get %s/%s: %w", b.namespace, key, err)
	}
	v, err := b.codec.Decode(raw)
	if err != nil {
		slog.WarnContext(ctx, "Undecodable index entry treated as absent",
			"namespace", b.namespace, "key", key, "error", err)
		return zero, false, nil
	}
	return v, true, nil
}

func (b *Box[V]) Put(ctx context.Context, key string, value V) error {
	raw, err := b.codec.Encode(value)
	if err != nil {
		return fmt.Errorf("encode %s/%s: %w", b.namespace, key, err)
	}
	_, err = b.db.ExecContext(ctx, `
		INSERT INTO index_entries (namespace, key, value) VALUES (?, ?, ?)
		ON CONFLICT(namespace, key) DO UPDATE SET value = excluded.value`,
		b.namespace, key, raw)
	if err != nil {
		return fmt.Errorf("put %s/%s: %w", b.namespace, key, err)
	}
	return nil
}

// PutAll writes every entry in a single SQLite transaction.
func (b *Box[V]) PutAll(ctx context.Context, entries map[string]V) error {
	if len(entries) == 0 {
		return nil
	}

	sqlTx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin bulk put %s: %w", b.namespace, err)
	}
	defer sqlTx.Rollback()

	stmt, err := sqlTx.PrepareContext(ctx, `
		INSERT INTO index_entries (namespace, key, value) VALUES (?, ?, ?)
		ON CONFLICT(namespace, key) DO UPDATE SET value = excluded.value`)
	if err != nil {
		return fmt.Errorf("prepare bulk put %s: %w", b.namespace, err)
	}
	defer stmt.Close()

	for key, value := range entries {
		raw, err := b.codec.Encode(value)
		if err != nil {
			return fmt.Errorf("encode %s/%s: %w", b.namespace, key, err)
		}
		if _, err := stmt.ExecContext(ctx, b.namespace, key, raw); err != nil {
			return fmt.Errorf("bulk put %s/%s: %w", b.namespace, key, err)
		}
	}

	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("commit bulk put %s: %w", b.namespace, err)
	}
	return nil
}

func (b *Box[V]) Delete(ctx context.Context, key string) error {
	_, err := b.db.ExecContext(ctx,
		`DELETE FROM index_entries WHERE namespace = ? AND key = ?`, b.namespace, key)
	if err != nil {
		return fmt.Errorf("delete %s/%s: %w", b.namespace, key, err)
	}
	return nil
}

func (b *Box[V]) Clear(ctx context.Context) error {
	if _, err := b.db.ExecContext(ctx, `DELETE FROM index_entries WHERE namespace = ?`, b.namespace); err != nil {
		return fmt.Errorf("clear %s: %w", b.namespace, err)
	}
	slog.InfoContext(ctx, "Index namespace cleared", "namespace", b.namespace)
	return nil
}

func (b *Box[V]) ForEach(ctx context.Context, fn func(key string, value V) error) error {
	return b.query(ctx, fn,
		`SELECT key, value FROM index_entries WHERE namespace = ? ORDER BY key`, b.namespace)
}

func (b *Box[V]) Range(ctx context.Context, from, to string, fn func(key string, value V) error) error {
	return b.query(ctx, fn,
		`SELECT key, value FROM index_entries WHERE namespace = ? AND key >= ? AND key <= ? ORDER BY key`,
		b.namespace, from, to)
}

func (b *Box[V]) query(ctx context.Context, fn func(string, V) error, query string, args ...any) error {
	rows, err := b.db.QueryContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("iterate %s: %w", b.namespace, err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			key string
			raw []byte
		)
		if err := rows.Scan(&key, &raw); err != nil {
			return fmt.Errorf("read %s row: %w", b.namespace, err)
		}
		v, err := b.codec.Decode(raw)
		if err != nil {
			slog.WarnContext(ctx, "Skipping undecodable index entry",
				"namespace", b.namespace, "key", key, "error", err)
			continue
		}
		if err := fn(key, v); err != nil {
			return err
		}
	}
	return rows.Err()
}
