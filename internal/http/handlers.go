package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"ledgerindex/internal/core"
	"ledgerindex/internal/index"
	"ledgerindex/internal/log"
)

const maxBodyBytes = 1 << 20

type transactionJSON struct {
	ID                  string          `json:"id"`
	Date                string          `json:"date"`
	Currency            string          `json:"currency,omitempty"`
	Amount              decimal.Decimal `json:"amount"`
	Kind                string          `json:"kind"`
	NeedsReview         bool            `json:"needs_review,omitempty"`
	IsCleared           bool            `json:"is_cleared,omitempty"`
	IsBalanceAdjustment bool            `json:"is_balance_adjustment,omitempty"`
	Note                string          `json:"note,omitempty"`
}

func toJSON(tx core.Transaction) transactionJSON {
	return transactionJSON{
		ID:                  tx.ID,
		Date:                tx.Date.Format(time.RFC3339),
		Currency:            tx.Currency,
		Amount:              tx.Amount,
		Kind:                tx.Kind.String(),
		NeedsReview:         tx.NeedsReview,
		IsCleared:           tx.IsCleared,
		IsBalanceAdjustment: tx.IsBalanceAdjustment,
		Note:                tx.Note,
	}
}

func (t transactionJSON) toTransaction(loc *time.Location) (core.Transaction, error) {
	date, err := parseDay(t.Date, loc)
	if err != nil {
		return core.Transaction{}, err
	}
	kind, err := core.ParseKind(t.Kind)
	if err != nil {
		return core.Transaction{}, err
	}
	return core.Transaction{
		ID:                  strings.TrimSpace(t.ID),
		Date:                date,
		Currency:            t.Currency,
		Amount:              t.Amount,
		Kind:                kind,
		NeedsReview:         t.NeedsReview,
		IsCleared:           t.IsCleared,
		IsBalanceAdjustment: t.IsBalanceAdjustment,
		Note:                t.Note,
	}, nil
}

// parseDay accepts RFC 3339 timestamps, YYYY-MM-DD and YYYYMMDD. Bare dates
// are midnight in loc.
func parseDay(s string, loc *time.Location) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, errors.New("missing date")
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	if t, err := time.ParseInLocation("2006-01-02", s, loc); err == nil {
		return t, nil
	}
	if k, err := core.ParseDateKey(s); err == nil {
		return k.Time(loc), nil
	}
	return time.Time{}, fmt.Errorf("invalid date %q", s)
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.EnsureReady(r.Context()); err != nil {
		log.FromContext(r.Context()).WarnContext(r.Context(), "Index not ready", log.FieldError, err)
		http.Error(w, "not ready", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, s.engine.HistoryOptimizationStatus(r.Context()))
}

type backfillResponse struct {
	Advanced bool                `json:"advanced"`
	Status   index.HistoryStatus `json:"status"`
}

func (s *Server) handleBackfill(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	advanced, err := s.engine.BackfillNextChunk(ctx, s.chunkDays)
	if err != nil {
		writeInternal(w, r, "backfill failed", err, log.OpBackfill)
		return
	}
	writeJSON(w, r, http.StatusOK, backfillResponse{
		Advanced: advanced,
		Status:   s.engine.HistoryOptimizationStatus(ctx),
	})
}

func (s *Server) handlePause(paused bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if err := s.engine.SetPaused(ctx, paused); err != nil {
			writeInternal(w, r, "failed to update backfill state", err, log.OpBackfill)
			return
		}
		if !paused && s.backfill != nil {
			s.backfill.Trigger()
		}
		writeJSON(w, r, http.StatusOK, s.engine.HistoryOptimizationStatus(ctx))
	}
}

func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if err := s.engine.ClearAll(ctx); err != nil {
		writeInternal(w, r, "failed to clear data", err, log.OpClear)
		return
	}
	writeJSON(w, r, http.StatusOK, s.engine.HistoryOptimizationStatus(ctx))
}

// handleListTransactions answers exactly one of ?date=, ?from=&to= or ?upto=.
func (s *Server) handleListTransactions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()
	loc := s.engine.Location()

	var (
		txs []core.Transaction
		err error
	)
	switch {
	case q.Get("date") != "":
		day, perr := parseDay(q.Get("date"), loc)
		if perr != nil {
			writeError(w, r, http.StatusBadRequest, perr.Error())
			return
		}
		txs, err = s.engine.TransactionsForDate(ctx, day)
	case q.Get("from") != "" || q.Get("to") != "":
		from, perr := parseDay(q.Get("from"), loc)
		if perr != nil {
			writeError(w, r, http.StatusBadRequest, "from: "+perr.Error())
			return
		}
		to, perr := parseDay(q.Get("to"), loc)
		if perr != nil {
			writeError(w, r, http.StatusBadRequest, "to: "+perr.Error())
			return
		}
		txs, err = s.engine.TransactionsInRange(ctx, from, to)
	case q.Get("upto") != "":
		upTo, perr := parseDay(q.Get("upto"), loc)
		if perr != nil {
			writeError(w, r, http.StatusBadRequest, perr.Error())
			return
		}
		txs, err = s.engine.TransactionsUpTo(ctx, upTo)
	default:
		writeError(w, r, http.StatusBadRequest, "one of date, from/to or upto is required")
		return
	}
	if err != nil {
		writeInternal(w, r, "failed to list transactions", err, log.OpQuery)
		return
	}

	out := make([]transactionJSON, 0, len(txs))
	for _, tx := range txs {
		out = append(out, toJSON(tx))
	}
	writeJSON(w, r, http.StatusOK, out)
}

func (s *Server) handleSaveTransaction(w http.ResponseWriter, r *http.Request) {
	var body transactionJSON
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&body); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid JSON body")
		return
	}

	status := http.StatusOK
	if id := r.PathValue("id"); id != "" {
		body.ID = id
	} else if strings.TrimSpace(body.ID) == "" {
		body.ID = uuid.NewString()
		status = http.StatusCreated
	}

	tx, err := body.toTransaction(s.engine.Location())
	if err == nil {
		err = tx.Validate()
	}
	if err != nil {
		writeError(w, r, http.StatusUnprocessableEntity, err.Error())
		return
	}

	if err := s.engine.Save(r.Context(), tx); err != nil {
		writeInternal(w, r, "failed to save transaction", err, log.OpWrite)
		return
	}
	writeJSON(w, r, status, toJSON(tx))
}

func (s *Server) handleDeleteTransaction(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.Remove(r.Context(), r.PathValue("id")); err != nil {
		writeInternal(w, r, "failed to delete transaction", err, log.OpWrite)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleStatistics(w http.ResponseWriter, r *http.Request) {
	stats, err := s.engine.Statistics(r.Context(), r.URL.Query().Get("currency"))
	if err != nil {
		writeInternal(w, r, "failed to compute statistics", err, log.OpQuery)
		return
	}
	writeJSON(w, r, http.StatusOK, stats)
}
