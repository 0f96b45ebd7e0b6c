package index

import "ledgerindex/internal/core"

// Route says how a read over a day range is answered.
type Route int

const (
	// RouteScan answers from a full scan of the record store.
	RouteScan Route = iota
	// RouteIndexed answers from the date index alone.
	RouteIndexed
	// RouteSplit scans days before Boundary and reads the index from Boundary on.
	RouteSplit
)

func (r Route) String() string {
	switch r {
	case RouteIndexed:
		return "indexed"
	case RouteSplit:
		return "split"
	default:
		return "scan"
	}
}

// Coverage is the routing decision for one read.
type Coverage struct {
	Route    Route
	Boundary core.DateKey
}

// coverageOf decides how to answer a read over [from, to]. An empty from
// means "since the beginning of data", which the index can serve only once
// backfill is complete. Every query goes through here.
func coverageOf(v view, from, to core.DateKey) Coverage {
	m := v.meta
	switch {
	case !v.enabled || m.IndexedFrom.IsZero():
		return Coverage{Route: RouteScan}
	case from.IsZero():
		if m.BackfillComplete {
			return Coverage{Route: RouteIndexed}
		}
		return Coverage{Route: RouteScan}
	case from >= m.IndexedFrom:
		return Coverage{Route: RouteIndexed}
	case !to.IsZero() && to < m.IndexedFrom:
		return Coverage{Route: RouteScan}
	default:
		return Coverage{Route: RouteSplit, Boundary: m.IndexedFrom}
	}
}
