package diff

import (
	"time"

	"github.com/patrickmn/go-cache"
)

const (
	DefaultFlash = 1200 * time.Millisecond
	DefaultSweep = 850 * time.Millisecond
)

const (
	keyTotal = "total"
	keySweep = "sweep"
)

// Highlighter turns Changes into flags that expire on their own.
type Highlighter struct {
	flash time.Duration
	sweep time.Duration
	flags *cache.Cache
}

// NewHighlighter creates a highlighter. Non-positive durations use the defaults.
func NewHighlighter(flash, sweep time.Duration) *Highlighter {
	if flash <= 0 {
		flash = DefaultFlash
	}
	if sweep <= 0 {
		sweep = DefaultSweep
	}
	return &Highlighter{
		flash: flash,
		sweep: sweep,
		flags: cache.New(flash, 2*flash),
	}
}

// Apply raises flags for c. A flag raised again restarts its timer.
func (h *Highlighter) Apply(c Changes) {
	for id, cells := range c.Rows {
		h.flags.Set(rowKey(id), cells, h.flash)
	}
	if c.Total {
		h.flags.Set(keyTotal, true, h.flash)
	}
	if len(c.Rows) > 0 {
		h.flags.Set(keySweep, true, h.sweep)
	}
}

// Row reports whether row id is flashing.
func (h *Highlighter) Row(id string) bool {
	_, ok := h.flags.Get(rowKey(id))
	return ok
}

// Cells returns the flashing cells of row id.
func (h *Highlighter) Cells(id string) CellChanges {
	v, ok := h.flags.Get(rowKey(id))
	if !ok {
		return CellChanges{}
	}
	return v.(CellChanges)
}

// Total reports whether the aggregate total is flashing.
func (h *Highlighter) Total() bool {
	_, ok := h.flags.Get(keyTotal)
	return ok
}

// Sweeping reports whether the table sweep is running.
func (h *Highlighter) Sweeping() bool {
	_, ok := h.flags.Get(keySweep)
	return ok
}

// Clear drops every flag.
func (h *Highlighter) Clear() {
	h.flags.Flush()
}

func rowKey(id string) string { return "row:" + id }
