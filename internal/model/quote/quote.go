package quote

// CurrencyCode is an ISO currency accepted on quotes.
type CurrencyCode string

const (
	CurrencyUSD CurrencyCode = "USD"
	CurrencyEUR CurrencyCode = "EUR"
	CurrencyCRC CurrencyCode = "CRC"
)

// Status is the lifecycle state of a quote.
type Status string

const (
	StatusNotSubmitted Status = "NOT_SUBMITTED"
	StatusDraft        Status = "DRAFT"
	StatusSubmitted    Status = "SUBMITTED"
	StatusApproved     Status = "APPROVED"
	StatusRejected     Status = "REJECTED"
	StatusExpired      Status = "EXPIRED"
)

// Quote is the priced configuration owned by a scenario.
type Quote struct {
	Header  HeaderData      `json:"header"`
	Items   []LineItem      `json:"items" validate:"dive"`
	Summary *PricingSummary `json:"summary,omitempty"`
	TraceID string          `json:"traceId,omitempty"`
}

// HeaderData carries quote metadata.
type HeaderData struct {
	Title                 string    `json:"title"`
	DealID                string    `json:"dealId"`
	QuoteNumber           string    `json:"quoteNumber"`
	Status                Status    `json:"status" validate:"omitempty,oneof=NOT_SUBMITTED DRAFT SUBMITTED APPROVED REJECTED EXPIRED"`
	ExpiryDate            string    `json:"expiryDate"`
	PriceProtectionExpiry *string   `json:"priceProtectionExpiry"`
	PriceList             PriceList `json:"priceList"`
}

// PriceList describes the catalogue a quote is priced against.
type PriceList struct {
	Name     string       `json:"name"`
	Region   string       `json:"region"`
	Currency CurrencyCode `json:"currency" validate:"omitempty,oneof=USD EUR CRC"`
}

// LineItem is one row of a quote. ID is the stable identity used for diffing.
type LineItem struct {
	ID          string       `json:"id" validate:"required"`
	Category    string       `json:"category"`
	ProductCode string       `json:"productCode,omitempty"`
	Product     string       `json:"product"`
	LeadTime    LeadTime     `json:"leadTime"`
	UnitPrice   float64      `json:"unitPrice" validate:"gte=0"`
	Quantity    int          `json:"quantity" validate:"gt=0"`
	Currency    CurrencyCode `json:"currency" validate:"oneof=USD EUR CRC"`
}

// PricingSummary aggregates a quote. When every field is present
// Total == Subtotal - Discount + Tax.
type PricingSummary struct {
	Currency CurrencyCode `json:"currency" validate:"oneof=USD EUR CRC"`
	Subtotal float64      `json:"subtotal" validate:"gte=0"`
	Tax      *float64     `json:"tax,omitempty"`
	Discount *float64     `json:"discount,omitempty"`
	Total    float64      `json:"total"`
}

// ExtendedPrice is unitPrice * quantity.
func (li LineItem) ExtendedPrice() float64 {
	return li.UnitPrice * float64(li.Quantity)
}

// ExtendedTotal sums the extended price of every item.
func (q *Quote) ExtendedTotal() float64 {
	var total float64
	for _, it := range q.Items {
		total += it.ExtendedPrice()
	}
	return total
}

// Item looks up a line item by id.
func (q *Quote) Item(id string) (*LineItem, bool) {
	for i := range q.Items {
		if q.Items[i].ID == id {
			return &q.Items[i], true
		}
	}
	return nil, false
}

// Recalculate rebuilds the summary from the items, keeping tax and discount.
func (q *Quote) Recalculate() {
	currency := q.Header.PriceList.Currency
	if q.Summary != nil && q.Summary.Currency != "" {
		currency = q.Summary.Currency
	}
	if currency == "" && len(q.Items) > 0 {
		currency = q.Items[0].Currency
	}
	if currency == "" {
		currency = CurrencyUSD
	}

	summary := PricingSummary{Currency: currency, Subtotal: q.ExtendedTotal()}
	if q.Summary != nil {
		summary.Tax = cloneFloat(q.Summary.Tax)
		summary.Discount = cloneFloat(q.Summary.Discount)
	}
	summary.Total = summary.Subtotal
	if summary.Discount != nil {
		summary.Total -= *summary.Discount
	}
	if summary.Tax != nil {
		summary.Total += *summary.Tax
	}
	q.Summary = &summary
}

// Clone returns a deep copy of q.
func (q *Quote) Clone() *Quote {
	if q == nil {
		return nil
	}
	out := *q
	out.Items = append([]LineItem(nil), q.Items...)
	if q.Items != nil && out.Items == nil {
		out.Items = []LineItem{}
	}
	if q.Summary != nil {
		s := *q.Summary
		s.Tax = cloneFloat(q.Summary.Tax)
		s.Discount = cloneFloat(q.Summary.Discount)
		out.Summary = &s
	}
	if q.Header.PriceProtectionExpiry != nil {
		v := *q.Header.PriceProtectionExpiry
		out.Header.PriceProtectionExpiry = &v
	}
	return &out
}
