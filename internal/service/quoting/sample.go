package quoting

import (
	"time"

	"github.com/google/uuid"

	"github.com/zhouzirui/quotesync/internal/model/quote"
)

const (
	ScenarioCost     = "cost"
	ScenarioBalanced = "balanced"
	ScenarioFeature  = "feature"
)

// SampleSession builds the three-scenario session served to new users.
func SampleSession(userID string, now time.Time) *quote.Session {
	header := quote.HeaderData{
		DealID:      "D12345",
		QuoteNumber: "Q-1001",
		Status:      quote.StatusDraft,
		ExpiryDate:  "2025-12-31",
		PriceList:   quote.PriceList{Name: "Standard", Region: "NA", Currency: quote.CurrencyUSD},
	}
	withTitle := func(title string) quote.HeaderData {
		h := header
		h.Title = title
		return h
	}
	usd := func(v float64) *float64 { return &v }
	priced := func(title string, items ...quote.LineItem) *quote.Quote {
		q := &quote.Quote{
			Header:  withTitle(title),
			Items:   items,
			Summary: &quote.PricingSummary{Currency: quote.CurrencyUSD, Tax: usd(0), Discount: usd(0)},
			TraceID: uuid.NewString(),
		}
		q.Recalculate()
		return q
	}

	session := quote.NewSession(userID)
	session.Title = "Balanced Solution"
	session.Scenarios = []quote.Scenario{
		{ID: ScenarioCost, Label: "Cost-Optimized", Quote: priced("Cost-Optimized Deal",
			quote.LineItem{ID: "item-1", Category: "Switch", ProductCode: "SW-100", Product: "Basic Switch",
				LeadTime: quote.Days(10), UnitPrice: 200, Quantity: 2, Currency: quote.CurrencyUSD},
		)},
		{ID: ScenarioBalanced, Label: "Balanced", Quote: priced("Balanced Solution",
			quote.LineItem{ID: "item-2", Category: "Router", ProductCode: "RT-200", Product: "Mid-Range Router",
				LeadTime: quote.Days(7), UnitPrice: 500, Quantity: 1, Currency: quote.CurrencyUSD},
			quote.LineItem{ID: "item-3", Category: "License", ProductCode: "LIC-200", Product: "Support License",
				LeadTime: quote.Instant(), UnitPrice: 120, Quantity: 1, Currency: quote.CurrencyUSD},
		)},
		{ID: ScenarioFeature, Label: "Feature-Rich", Quote: priced("Feature-Rich Package",
			quote.LineItem{ID: "item-4", Category: "Firewall", ProductCode: "FW-900", Product: "Next-Gen Firewall",
				LeadTime: quote.Days(14), UnitPrice: 1500, Quantity: 1, Currency: quote.CurrencyUSD},
			quote.LineItem{ID: "item-5", Category: "Service", Product: "Onsite Installation",
				LeadTime: quote.NotApplicable(), UnitPrice: 300, Quantity: 1, Currency: quote.CurrencyUSD},
		)},
	}
	session.ChatMessages = []quote.ChatMessage{
		quote.NewMessage(session.ID, quote.RoleAssistant, "Here are three options to start from.", now),
	}
	return session
}
