package main

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/fatih/color"

	"github.com/zhouzirui/quotesync/internal/diff"
	"github.com/zhouzirui/quotesync/internal/model/quote"
	"github.com/zhouzirui/quotesync/internal/service/session"
)

var (
	changed = color.New(color.FgYellow, color.Bold).SprintFunc()
	dim     = color.New(color.Faint).SprintFunc()
	title   = color.New(color.FgCyan, color.Bold).SprintFunc()
	failed  = color.New(color.FgRed).SprintFunc()
)

// watcher prints each confirmed session version. Versions still awaiting
// the server are announced but not diffed.
type watcher struct {
	out   io.Writer
	flash time.Duration

	mu          sync.Mutex
	tracker     *diff.SessionTracker
	highlighter map[string]*diff.Highlighter
	sessionID   string
	lastErr     string
}

func newWatcher(out io.Writer, flash time.Duration) *watcher {
	return &watcher{
		out:         out,
		flash:       flash,
		tracker:     diff.NewSessionTracker(),
		highlighter: make(map[string]*diff.Highlighter),
	}
}

// Render implements the store subscription.
func (w *watcher) Render(snap session.Snapshot) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if snap.Err != "" && snap.Err != w.lastErr {
		fmt.Fprintln(w.out, failed("error: "+snap.Err))
	}
	w.lastErr = snap.Err

	s := snap.Session
	if s == nil || snap.Status == session.Loading {
		return
	}
	if s.ID != w.sessionID {
		w.tracker.Reset()
		w.highlighter = make(map[string]*diff.Highlighter)
		w.sessionID = s.ID
	}
	if s.Thinking {
		fmt.Fprintln(w.out, dim("… waiting for server"))
		return
	}

	changes := w.tracker.Observe(s)
	for id, c := range changes {
		h, ok := w.highlighter[id]
		if !ok {
			h = diff.NewHighlighter(w.flash, 0)
			w.highlighter[id] = h
		}
		h.Apply(c)
	}
	writeSession(w.out, s, w.highlighter, snap.RoundTrip)
}

func writeSession(out io.Writer, s *quote.Session, hl map[string]*diff.Highlighter, rt time.Duration) {
	header := fmt.Sprintf("== %s (%s)", s.Title, s.ID)
	if rt > 0 {
		header += dim(fmt.Sprintf(" rtt %s", rt.Round(time.Millisecond)))
	}
	fmt.Fprintln(out, title(header))

	for _, sc := range s.Scenarios {
		h := hl[sc.ID]
		if h == nil {
			h = diff.NewHighlighter(0, 0)
		}
		fmt.Fprintf(out, "[%s]\n", sc.Label)
		if sc.Quote == nil {
			fmt.Fprintln(out, dim("  no quote yet"))
			continue
		}

		for _, it := range sc.Quote.Items {
			cells := h.Cells(it.ID)
			marker := " "
			if h.Row(it.ID) {
				marker = changed("*")
			}
			price := fmt.Sprintf("%10.2f %s", it.UnitPrice, it.Currency)
			qty := fmt.Sprintf("x%-4d", it.Quantity)
			if cells.Price {
				price = changed(price)
			}
			if cells.Qty {
				qty = changed(qty)
			}
			fmt.Fprintf(out, " %s %-10s %-24s %s %s %s\n", marker, it.ID, it.Product, price, qty, dim(it.LeadTime.String()))
		}

		if sum := sc.Quote.Summary; sum != nil {
			total := fmt.Sprintf("%.2f %s", sum.Total, sum.Currency)
			if h.Total() {
				total = changed(total)
			}
			fmt.Fprintf(out, "   total %s\n", total)
		}
	}

	if n := len(s.ChatMessages); n > 0 {
		last := s.ChatMessages[n-1]
		fmt.Fprintf(out, "%s %s\n", dim(string(last.Role)+":"), last.Content)
	}
}
