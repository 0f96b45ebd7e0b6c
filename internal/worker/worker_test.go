package worker

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"ledgerindex/internal/amqp"
	"ledgerindex/internal/core"
	"ledgerindex/internal/index"
	"ledgerindex/internal/kv"
	"ledgerindex/internal/kv/memory"
	"ledgerindex/internal/storage"
)

func seededDB(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ledger.db")
	db, err := storage.Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer db.Close()

	records := db.Records(time.UTC)
	for i, day := range []int{1, 2, 2, 5, 9, 40} {
		tx := core.Transaction{
			ID:        string(rune('a' + i)),
			Date:      time.Date(2025, 3, day, 10, 0, 0, 0, time.UTC),
			Currency:  "EUR",
			Amount:    decimal.NewFromInt(int64(10 * (i + 1))),
			Kind:      core.KindExpense,
			IsCleared: true,
		}
		if day == 40 {
			tx.Date = time.Date(2025, 4, 9, 10, 0, 0, 0, time.UTC)
		}
		if err := records.Put(context.Background(), tx); err != nil {
			t.Fatalf("put: %v", err)
		}
	}
	return path
}

func testJob(path string) index.ChunkJob {
	return index.ChunkJob{ID: "job-1", From: "20250302", To: "20250331", StorePath: path, Timezone: "UTC"}
}

func TestLocalRunnerMatchesInline(t *testing.T) {
	ctx := context.Background()
	path := seededDB(t)
	job := testJob(path)

	got, err := LocalRunner{YieldEvery: 2}.RunChunk(ctx, job)
	if err != nil {
		t.Fatalf("local runner: %v", err)
	}
	if got.JobID != job.ID || got.Scanned != 4 {
		t.Fatalf("result = %+v", got)
	}
	want := map[core.DateKey][]string{"20250302": {"b", "c"}, "20250305": {"d"}, "20250309": {"e"}}
	if !reflect.DeepEqual(got.DateIndex, want) {
		t.Fatalf("date index = %v, want %v", got.DateIndex, want)
	}

	db, err := storage.OpenReadOnly(path)
	if err != nil {
		t.Fatalf("open read-only: %v", err)
	}
	defer db.Close()
	inline, err := index.InlineRunner{Store: db.Records(time.UTC)}.RunChunk(ctx, job)
	if err != nil {
		t.Fatalf("inline runner: %v", err)
	}
	if !reflect.DeepEqual(inline.DateIndex, got.DateIndex) || len(inline.Summaries) != len(got.Summaries) {
		t.Fatalf("inline %+v != local %+v", inline, got)
	}
	s := got.Summaries["20250302|EUR"]
	if s.Total != 2 || !s.ExpenseAmount.Equal(decimal.NewFromInt(50)) {
		t.Fatalf("summary = %+v", s)
	}
}

func TestLocalRunnerErrors(t *testing.T) {
	ctx := context.Background()

	if _, err := (LocalRunner{}).RunChunk(ctx, index.ChunkJob{ID: "x"}); err == nil {
		t.Fatal("expected error without store path")
	}
	if _, err := (LocalRunner{}).RunChunk(ctx, testJob(filepath.Join(t.TempDir(), "missing.db"))); err == nil {
		t.Fatal("expected error for missing database")
	}

	blocked := LocalRunner{Open: func(string, *time.Location) (kv.RecordStore, io.Closer, error) {
		time.Sleep(time.Second)
		return nil, nil, errors.New("too late")
	}}
	cctx, cancel := context.WithTimeout(ctx, 10*time.Millisecond)
	defer cancel()
	if _, err := blocked.RunChunk(cctx, testJob("/unused")); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

func TestChunkWorkerHandlesJob(t *testing.T) {
	store := memory.NewRecordStore(time.UTC)
	_ = store.Put(context.Background(), core.Transaction{
		ID: "x", Date: time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC), Kind: core.KindIncome, Amount: decimal.NewFromInt(3),
	})
	var openedPath string
	w := NewChunkWorker(func(path string, _ *time.Location) (kv.RecordStore, io.Closer, error) {
		openedPath = path
		return store, nopCloser{}, nil
	}, 10, time.Second)

	res, err := w.HandleChunkJob(context.Background(), amqp.NewChunkJobMessage(testJob("/data/ledger.db")))
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if openedPath != "/data/ledger.db" || res.JobID != "job-1" || len(res.DateIndex["20250310"]) != 1 {
		t.Fatalf("result = %+v (opened %q)", res, openedPath)
	}

	bad := testJob("/data/ledger.db")
	bad.Timezone = "Nowhere/Land"
	if _, err := w.HandleChunkJob(context.Background(), amqp.NewChunkJobMessage(bad)); err == nil {
		t.Fatal("expected timezone error")
	}
}

type fakeRequester struct {
	reply *amqp.ChunkResultMessage
	err   error
}

func (f fakeRequester) RequestChunk(context.Context, index.ChunkJob) (*amqp.ChunkResultMessage, error) {
	return f.reply, f.err
}

func TestAMQPRunner(t *testing.T) {
	job := testJob("/data/ledger.db")
	ok := &index.ChunkResult{DateIndex: map[core.DateKey][]string{"20250305": {"d"}}}

	tests := []struct {
		name    string
		req     fakeRequester
		wantErr error
	}{
		{"success", fakeRequester{reply: amqp.NewChunkResultMessage(job.ID, ok, nil)}, nil},
		{"transport error", fakeRequester{err: amqp.ErrCircuitOpen}, amqp.ErrCircuitOpen},
		{"worker error", fakeRequester{reply: amqp.NewChunkResultMessage(job.ID, nil, errors.New("disk"))}, index.ErrJobFailed},
		{"wrong job", fakeRequester{reply: amqp.NewChunkResultMessage("other", ok, nil)}, index.ErrJobFailed},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			res, err := AMQPRunner{Client: tc.req, Timeout: time.Second}.RunChunk(context.Background(), job)
			if tc.wantErr != nil {
				if !errors.Is(err, tc.wantErr) {
					t.Fatalf("err = %v, want %v", err, tc.wantErr)
				}
				return
			}
			if err != nil || res.JobID != job.ID || len(res.DateIndex) != 1 {
				t.Fatalf("res = %+v, err = %v", res, err)
			}
		})
	}
}
