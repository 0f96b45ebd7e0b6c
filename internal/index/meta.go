package index

import (
	"context"
	"fmt"
	"strconv"

	"ledgerindex/internal/core"
	"ledgerindex/internal/kv"
)

// IndexVersion is bumped whenever the persisted index layout changes.
const IndexVersion = 2

const (
	metaVersion          = "version"
	metaIndexedFrom      = "indexed_from"
	metaOldestData       = "oldest_data"
	metaLastIndexed      = "last_indexed"
	metaBackfillComplete = "backfill_complete"
	metaPaused           = "paused"
	metaRebuildNeeded    = "rebuild_needed"
)

// Meta is the persisted index bookkeeping.
type Meta struct {
	Version          int
	IndexedFrom      core.DateKey
	OldestData       core.DateKey
	LastIndexed      core.DateKey
	BackfillComplete bool
	Paused           bool
	RebuildNeeded    bool
}

// needsBootstrap reports whether the persisted state cannot be trusted at all.
func (m Meta) needsBootstrap() bool {
	return m.Version != IndexVersion || m.RebuildNeeded || m.IndexedFrom.IsZero() || m.OldestData.IsZero()
}

// freshMeta describes a fully covered index whose every date is day.
func freshMeta(day core.DateKey) Meta {
	return Meta{
		Version:          IndexVersion,
		IndexedFrom:      day,
		OldestData:       day,
		LastIndexed:      day,
		BackfillComplete: true,
	}
}

// loadMeta reads the metadata namespace. Malformed values read as absent.
func loadMeta(ctx context.Context, box kv.Box[string]) (Meta, error) {
	var m Meta
	err := box.ForEach(ctx, func(key, value string) error {
		switch key {
		case metaVersion:
			m.Version, _ = strconv.Atoi(value)
		case metaIndexedFrom:
			m.IndexedFrom = parseMetaDate(value)
		case metaOldestData:
			m.OldestData = parseMetaDate(value)
		case metaLastIndexed:
			m.LastIndexed = parseMetaDate(value)
		case metaBackfillComplete:
			m.BackfillComplete, _ = strconv.ParseBool(value)
		case metaPaused:
			m.Paused, _ = strconv.ParseBool(value)
		case metaRebuildNeeded:
			m.RebuildNeeded, _ = strconv.ParseBool(value)
		}
		return nil
	})
	if err != nil {
		return Meta{}, fmt.Errorf("load index metadata: %w", err)
	}
	return m, nil
}

func saveMeta(ctx context.Context, box kv.Box[string], m Meta) error {
	err := box.PutAll(ctx, map[string]string{
		metaVersion:          strconv.Itoa(m.Version),
		metaIndexedFrom:      m.IndexedFrom.String(),
		metaOldestData:       m.OldestData.String(),
		metaLastIndexed:      m.LastIndexed.String(),
		metaBackfillComplete: strconv.FormatBool(m.BackfillComplete),
		metaPaused:           strconv.FormatBool(m.Paused),
		metaRebuildNeeded:    strconv.FormatBool(m.RebuildNeeded),
	})
	if err != nil {
		return fmt.Errorf("save index metadata: %w", err)
	}
	return nil
}

func parseMetaDate(s string) core.DateKey {
	k, err := core.ParseDateKey(s)
	if err != nil {
		return ""
	}
	return k
}
