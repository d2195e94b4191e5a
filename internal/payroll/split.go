package payroll

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// MissingRatePolicy controls what the split calculator does when the rate
// from the local to the secondary currency is not in the locked set. The
// two behaviors exist because UI previews prefer a lenient identity
// fallback while disbursement paths must fail closed; call sites pick one
// explicitly.
type MissingRatePolicy string

const (
	// MissingRateDefaultIdentity substitutes a rate of 1 when the pair is
	// absent. The result can misstate a disbursement if rates are
	// genuinely missing; suitable for previews only.
	MissingRateDefaultIdentity MissingRatePolicy = "default_identity"
	// MissingRateFail rejects the calculation when the pair is absent.
	MissingRateFail MissingRatePolicy = "fail"
)

// ErrMissingRate is returned under MissingRateFail when the local to
// secondary rate is not locked.
var ErrMissingRate = errors.New("exchange rate not locked for secondary currency")

// ErrNegativeNetPay is returned when the net pay amount is negative.
var ErrNegativeNetPay = errors.New("net pay cannot be negative")

var (
	one     = decimal.NewFromInt(1)
	hundred = decimal.NewFromInt(100)
)

// CalculateNetPaySplit decomposes a net pay amount (denominated in the
// employee's local currency) into currency-tagged payment legs according
// to the preference and the run's locked rates.
//
// Fallback behavior: a nil preference, an all_primary method, or a missing
// secondary currency or method parameter all resolve to a single
// full-amount primary leg. The fixed-amount branch clamps the secondary
// leg so it never exceeds net pay; the primary remainder is never
// negative. The local-currency equivalents of the returned legs always
// sum exactly to netPayLocal.
func CalculateNetPaySplit(
	netPayLocal decimal.Decimal,
	localCurrencyID string,
	pref *CurrencyPreference,
	rates RateSet,
	policy MissingRatePolicy,
) ([]NetPaySplit, error) {
	if netPayLocal.IsNegative() {
		return nil, ErrNegativeNetPay
	}

	if pref == nil || pref.SplitMethod == SplitAllPrimary || pref.SecondaryCurrencyID == nil {
		return allPrimary(netPayLocal, localCurrencyID), nil
	}

	switch pref.SplitMethod {
	case SplitPercentage:
		if pref.SecondaryCurrencyPercentage == nil {
			return allPrimary(netPayLocal, localCurrencyID), nil
		}
		return percentageSplit(netPayLocal, localCurrencyID, *pref.SecondaryCurrencyID,
			*pref.SecondaryCurrencyPercentage, rates, policy)

	case SplitFixedAmount:
		if pref.SecondaryCurrencyFixedAmount == nil {
			return allPrimary(netPayLocal, localCurrencyID), nil
		}
		return fixedAmountSplit(netPayLocal, localCurrencyID, *pref.SecondaryCurrencyID,
			*pref.SecondaryCurrencyFixedAmount, rates, policy)

	default:
		return nil, fmt.Errorf("unknown split method: %q", pref.SplitMethod)
	}
}

// allPrimary returns the single-leg default split.
func allPrimary(netPayLocal decimal.Decimal, localCurrencyID string) []NetPaySplit {
	return []NetPaySplit{{
		CurrencyID:              localCurrencyID,
		Amount:                  netPayLocal,
		ExchangeRateUsed:        one,
		LocalCurrencyEquivalent: netPayLocal,
		IsPrimary:               true,
	}}
}

// secondaryRate resolves the local-to-secondary rate under the policy.
func secondaryRate(localCurrencyID, secondaryCurrencyID string, rates RateSet, policy MissingRatePolicy) (decimal.Decimal, error) {
	if rate, ok := rates.Lookup(localCurrencyID, secondaryCurrencyID); ok {
		return rate, nil
	}
	if policy == MissingRateFail {
		return decimal.Decimal{}, fmt.Errorf("%w: %s to %s", ErrMissingRate, localCurrencyID, secondaryCurrencyID)
	}
	return one, nil
}

func percentageSplit(
	netPayLocal decimal.Decimal,
	localCurrencyID, secondaryCurrencyID string,
	percentage decimal.Decimal,
	rates RateSet,
	policy MissingRatePolicy,
) ([]NetPaySplit, error) {
	rate, err := secondaryRate(localCurrencyID, secondaryCurrencyID, rates, policy)
	if err != nil {
		return nil, err
	}

	localPortion := netPayLocal.Mul(percentage.Div(hundred))
	secondaryAmount := localPortion.Mul(rate)

	return []NetPaySplit{
		{
			CurrencyID:              secondaryCurrencyID,
			Amount:                  secondaryAmount,
			ExchangeRateUsed:        rate,
			LocalCurrencyEquivalent: localPortion,
			IsPrimary:               false,
		},
		{
			CurrencyID:              localCurrencyID,
			Amount:                  netPayLocal.Sub(localPortion),
			ExchangeRateUsed:        one,
			LocalCurrencyEquivalent: netPayLocal.Sub(localPortion),
			IsPrimary:               true,
		},
	}, nil
}

func fixedAmountSplit(
	netPayLocal decimal.Decimal,
	localCurrencyID, secondaryCurrencyID string,
	fixedAmount decimal.Decimal,
	rates RateSet,
	policy MissingRatePolicy,
) ([]NetPaySplit, error) {
	rate, err := secondaryRate(localCurrencyID, secondaryCurrencyID, rates, policy)
	if err != nil {
		return nil, err
	}
	if rate.IsZero() {
		return nil, fmt.Errorf("%w: zero rate from %s to %s", ErrMissingRate, localCurrencyID, secondaryCurrencyID)
	}

	// Value the fixed secondary amount in local currency, then clamp so the
	// secondary leg can never exceed the total net pay.
	localEquivalent := fixedAmount.Div(rate)
	if localEquivalent.GreaterThan(netPayLocal) {
		localEquivalent = netPayLocal
	}
	secondaryAmount := localEquivalent.Mul(rate)

	return []NetPaySplit{
		{
			CurrencyID:              secondaryCurrencyID,
			Amount:                  secondaryAmount,
			ExchangeRateUsed:        rate,
			LocalCurrencyEquivalent: localEquivalent,
			IsPrimary:               false,
		},
		{
			CurrencyID:              localCurrencyID,
			Amount:                  netPayLocal.Sub(localEquivalent),
			ExchangeRateUsed:        one,
			LocalCurrencyEquivalent: netPayLocal.Sub(localEquivalent),
			IsPrimary:               true,
		},
	}, nil
}
