package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/zhouzirui/quotesync/internal/service/session"
)

type quantityEdit struct {
	Scenario string
	Item     string
	Quantity int
}

// parseQuantityEdit reads "item=N" or "scenario/item=N".
func parseQuantityEdit(raw string) (quantityEdit, error) {
	target, value, ok := strings.Cut(raw, "=")
	if !ok {
		return quantityEdit{}, fmt.Errorf("invalid -qty %q: want item=N", raw)
	}
	qty, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil || qty <= 0 {
		return quantityEdit{}, fmt.Errorf("invalid -qty quantity %q: want a positive integer", value)
	}

	edit := quantityEdit{Quantity: qty}
	if scenario, item, ok := strings.Cut(target, "/"); ok {
		edit.Scenario, edit.Item = strings.TrimSpace(scenario), strings.TrimSpace(item)
	} else {
		edit.Item = strings.TrimSpace(target)
	}
	if edit.Item == "" {
		return quantityEdit{}, fmt.Errorf("invalid -qty %q: missing item id", raw)
	}
	return edit, nil
}

// apply resolves the scenario when omitted and sends the edit.
func (e quantityEdit) apply(store *session.Store) error {
	scenario := e.Scenario
	if scenario == "" {
		current := store.Snapshot().Session
		if current == nil {
			return session.ErrNoSession
		}
		for _, sc := range current.Scenarios {
			if sc.Quote == nil {
				continue
			}
			if _, ok := sc.Quote.Item(e.Item); ok {
				scenario = sc.ID
				break
			}
		}
		if scenario == "" {
			return fmt.Errorf("item %s: %w", e.Item, session.ErrItemMissing)
		}
	}
	return store.SetQuantity(scenario, e.Item, e.Quantity)
}
