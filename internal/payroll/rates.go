package payroll

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// ErrNoRateAvailable is returned when neither the direct nor the inverse
// rate for a currency pair is stored. Callers must treat this as an error
// condition, never silently substituting a rate.
var ErrNoRateAvailable = errors.New("no exchange rate available for currency pair")

// RateRecord is one locked exchange rate for a payroll run.
type RateRecord struct {
	FromCurrencyID string          `json:"from_currency_id"`
	ToCurrencyID   string          `json:"to_currency_id"`
	Rate           decimal.Decimal `json:"rate"`
	RateDate       time.Time       `json:"rate_date"`
	Source         string          `json:"source"`
}

// RateSet is a payroll run's locked rate table, keyed by currency pair.
// Rates are fixed at rate-selection time and never re-derived afterward;
// there is no interpolation across dates.
type RateSet map[string]decimal.Decimal

// RateKey builds the lookup key for a currency pair.
func RateKey(fromID, toID string) string {
	return fromID + "_" + toID
}

// NewRateSet builds a rate set from locked rate records. A later record
// for the same pair overwrites an earlier one.
func NewRateSet(records []RateRecord) RateSet {
	set := make(RateSet, len(records))
	for _, r := range records {
		set[RateKey(r.FromCurrencyID, r.ToCurrencyID)] = r.Rate
	}
	return set
}

// Lookup returns the stored rate for the pair and whether it was present.
func (s RateSet) Lookup(fromID, toID string) (decimal.Decimal, bool) {
	rate, ok := s[RateKey(fromID, toID)]
	return rate, ok
}

// Conversion is the result of converting an amount with a stored rate.
type Conversion struct {
	Amount   decimal.Decimal `json:"amount"`
	RateUsed decimal.Decimal `json:"rate_used"`
	// Inverted is true when the rate was derived as 1/rate from the
	// opposite pair's stored record.
	Inverted bool `json:"inverted"`
}

// ConvertWithStoredRate converts an amount between currencies using only
// the locked rate set. It tries, in order: identity (same currency, rate
// 1), the direct pair, then the inverse pair as 1/rate. When neither
// direction is stored it fails with ErrNoRateAvailable - unlike the split
// calculator's lenient preview policy, this path never defaults.
func ConvertWithStoredRate(amount decimal.Decimal, fromID, toID string, rates RateSet) (*Conversion, error) {
	if fromID == toID {
		return &Conversion{Amount: amount, RateUsed: decimal.NewFromInt(1)}, nil
	}

	if rate, ok := rates.Lookup(fromID, toID); ok {
		return &Conversion{Amount: amount.Mul(rate), RateUsed: rate}, nil
	}

	if inverse, ok := rates.Lookup(toID, fromID); ok && !inverse.IsZero() {
		rate := decimal.NewFromInt(1).Div(inverse)
		return &Conversion{Amount: amount.Mul(rate), RateUsed: rate, Inverted: true}, nil
	}

	return nil, ErrNoRateAvailable
}
