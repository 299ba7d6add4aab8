package quote

import (
	"errors"
	"fmt"
	"sync"

	"github.com/go-playground/validator/v10"
)

// ErrCurrencyMismatch reports a line item priced in a different currency than its summary.
var ErrCurrencyMismatch = errors.New("line item currency does not match summary currency")

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func validatorInstance() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

// Validate checks the structural invariants of a session: non-negative
// prices, positive quantities, known currencies, and per-quote currency
// agreement between items and summary.
func Validate(s *Session) error {
	if s == nil {
		return errors.New("session is nil")
	}
	if err := validatorInstance().Struct(s); err != nil {
		return fmt.Errorf("invalid session: %w", err)
	}
	for _, sc := range s.Scenarios {
		if sc.Quote == nil || sc.Quote.Summary == nil {
			continue
		}
		for _, it := range sc.Quote.Items {
			if it.Currency != sc.Quote.Summary.Currency {
				return fmt.Errorf("scenario %s item %s: %w", sc.ID, it.ID, ErrCurrencyMismatch)
			}
		}
	}
	return nil
}
