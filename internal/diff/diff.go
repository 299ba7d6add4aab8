// Package diff compares successive versions of a quote's line items and
// pricing summary and reports which rows, cells and aggregate changed.
package diff

import "github.com/zhouzirui/quotesync/internal/model/quote"

// Snapshot is the part of a quote the engine compares.
type Snapshot struct {
	Items []quote.LineItem
	// Total is nil when the quote has no summary.
	Total *float64
}

// SnapshotOf captures q. A nil quote yields an empty snapshot.
func SnapshotOf(q *quote.Quote) Snapshot {
	if q == nil {
		return Snapshot{}
	}
	snap := Snapshot{Items: append([]quote.LineItem(nil), q.Items...)}
	if q.Summary != nil {
		total := q.Summary.Total
		snap.Total = &total
	}
	return snap
}

// CellChanges flags the changed cells of one row.
type CellChanges struct {
	Price bool
	Qty   bool
}

// Any reports whether any cell changed.
func (c CellChanges) Any() bool { return c.Price || c.Qty }

// Changes is the result of one comparison. Rows only holds changed rows.
type Changes struct {
	Rows  map[string]CellChanges
	Total bool
}

// Row reports whether the row with id changed.
func (c Changes) Row(id string) bool {
	_, ok := c.Rows[id]
	return ok
}

// Cells returns the changed cells of row id.
func (c Changes) Cells(id string) CellChanges {
	return c.Rows[id]
}

// Empty reports whether nothing changed.
func (c Changes) Empty() bool {
	return len(c.Rows) == 0 && !c.Total
}

// Compute diffs next against prev. With no previous snapshot nothing is
// reported so the first render does not flash. Removed rows are not
// reported; rows are matched by id, never by position.
func Compute(prev *Snapshot, next Snapshot) Changes {
	changes := Changes{Rows: map[string]CellChanges{}}
	if prev == nil {
		return changes
	}

	before := make(map[string]quote.LineItem, len(prev.Items))
	for _, it := range prev.Items {
		before[it.ID] = it
	}

	for _, it := range next.Items {
		old, ok := before[it.ID]
		if !ok {
			changes.Rows[it.ID] = CellChanges{Price: true, Qty: true}
			continue
		}
		cells := CellChanges{
			Price: old.UnitPrice != it.UnitPrice || old.Currency != it.Currency,
			Qty:   old.Quantity != it.Quantity,
		}
		if cells.Any() {
			changes.Rows[it.ID] = cells
		}
	}

	if prev.Total != nil && next.Total != nil && *prev.Total != *next.Total {
		changes.Total = true
	}
	return changes
}

// Tracker remembers the most recent snapshot and diffs each new one
// against it. It is not safe for concurrent use.
type Tracker struct {
	prev *Snapshot
}

// Observe diffs next against the remembered snapshot and then remembers next.
func (t *Tracker) Observe(next Snapshot) Changes {
	changes := Compute(t.prev, next)
	t.prev = &next
	return changes
}

// Reset forgets the remembered snapshot.
func (t *Tracker) Reset() {
	t.prev = nil
}

// SessionTracker keeps one Tracker per scenario.
type SessionTracker struct {
	trackers map[string]*Tracker
}

// NewSessionTracker returns an empty tracker.
func NewSessionTracker() *SessionTracker {
	return &SessionTracker{trackers: make(map[string]*Tracker)}
}

// Observe diffs every scenario of s against its previous version and
// returns the changes keyed by scenario id. Scenarios no longer present
// are forgotten, and so is any scenario without a quote, so its first quote
// renders without highlights.
func (st *SessionTracker) Observe(s *quote.Session) map[string]Changes {
	out := make(map[string]Changes)
	if s == nil {
		st.trackers = make(map[string]*Tracker)
		return out
	}

	seen := make(map[string]struct{}, len(s.Scenarios))
	for _, sc := range s.Scenarios {
		if sc.Quote == nil {
			delete(st.trackers, sc.ID)
			out[sc.ID] = Changes{Rows: map[string]CellChanges{}}
			continue
		}
		seen[sc.ID] = struct{}{}
		tr, ok := st.trackers[sc.ID]
		if !ok {
			tr = &Tracker{}
			st.trackers[sc.ID] = tr
		}
		out[sc.ID] = tr.Observe(SnapshotOf(sc.Quote))
	}
	for id := range st.trackers {
		if _, ok := seen[id]; !ok {
			delete(st.trackers, id)
		}
	}
	return out
}

// Reset forgets every scenario, typically when a different session is loaded.
func (st *SessionTracker) Reset() {
	st.trackers = make(map[string]*Tracker)
}
