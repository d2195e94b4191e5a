package payroll

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func decPtr(s string) *decimal.Decimal {
	d := dec(s)
	return &d
}

func sPtr(s string) *string { return &s }

// assertLocalSum verifies the value-preservation invariant: the legs'
// local-currency equivalents must sum exactly to the net pay.
func assertLocalSum(t *testing.T, splits []NetPaySplit, netPayLocal decimal.Decimal) {
	t.Helper()
	sum := decimal.Zero
	for _, s := range splits {
		sum = sum.Add(s.LocalCurrencyEquivalent)
	}
	if !sum.Equal(netPayLocal) {
		t.Errorf("local equivalents sum to %s, want exactly %s", sum, netPayLocal)
	}
}

func TestCalculateNetPaySplit_NoPreference(t *testing.T) {
	splits, err := CalculateNetPaySplit(dec("1000"), "USD", nil, RateSet{}, MissingRateDefaultIdentity)
	if err != nil {
		t.Fatalf("CalculateNetPaySplit() error = %v", err)
	}
	if len(splits) != 1 {
		t.Fatalf("got %d splits, want 1", len(splits))
	}
	leg := splits[0]
	if leg.CurrencyID != "USD" || !leg.Amount.Equal(dec("1000")) || !leg.IsPrimary {
		t.Errorf("unexpected default leg: %+v", leg)
	}
	if !leg.ExchangeRateUsed.Equal(dec("1")) {
		t.Errorf("default leg rate = %s, want 1", leg.ExchangeRateUsed)
	}
	assertLocalSum(t, splits, dec("1000"))
}

func TestCalculateNetPaySplit_AllPrimaryMethod(t *testing.T) {
	pref := &CurrencyPreference{
		PrimaryCurrencyID:   "USD",
		SecondaryCurrencyID: sPtr("JMD"),
		SplitMethod:         SplitAllPrimary,
	}
	splits, err := CalculateNetPaySplit(dec("500"), "USD", pref, RateSet{}, MissingRateFail)
	if err != nil {
		t.Fatalf("CalculateNetPaySplit() error = %v", err)
	}
	if len(splits) != 1 || !splits[0].IsPrimary {
		t.Errorf("all_primary should produce one primary leg, got %+v", splits)
	}
}

func TestCalculateNetPaySplit_Percentage(t *testing.T) {
	pref := &CurrencyPreference{
		PrimaryCurrencyID:           "USD",
		SecondaryCurrencyID:         sPtr("JMD"),
		SplitMethod:                 SplitPercentage,
		SecondaryCurrencyPercentage: decPtr("20"),
	}
	rates := RateSet{RateKey("USD", "JMD"): dec("150")}

	splits, err := CalculateNetPaySplit(dec("1000"), "USD", pref, rates, MissingRateFail)
	if err != nil {
		t.Fatalf("CalculateNetPaySplit() error = %v", err)
	}
	if len(splits) != 2 {
		t.Fatalf("got %d splits, want 2", len(splits))
	}

	secondary, primary := splits[0], splits[1]
	if secondary.IsPrimary || !primary.IsPrimary {
		t.Fatal("expected secondary leg first, primary leg second")
	}
	if secondary.CurrencyID != "JMD" || !secondary.Amount.Equal(dec("30000")) {
		t.Errorf("secondary leg = %s %s, want 30000 JMD", secondary.Amount, secondary.CurrencyID)
	}
	if !secondary.LocalCurrencyEquivalent.Equal(dec("200")) {
		t.Errorf("secondary local equivalent = %s, want 200", secondary.LocalCurrencyEquivalent)
	}
	if !secondary.ExchangeRateUsed.Equal(dec("150")) {
		t.Errorf("secondary rate = %s, want 150", secondary.ExchangeRateUsed)
	}
	if primary.CurrencyID != "USD" || !primary.Amount.Equal(dec("800")) {
		t.Errorf("primary leg = %s %s, want 800 USD", primary.Amount, primary.CurrencyID)
	}
	assertLocalSum(t, splits, dec("1000"))
}

func TestCalculateNetPaySplit_PercentageMissingRate(t *testing.T) {
	pref := &CurrencyPreference{
		PrimaryCurrencyID:           "USD",
		SecondaryCurrencyID:         sPtr("JMD"),
		SplitMethod:                 SplitPercentage,
		SecondaryCurrencyPercentage: decPtr("20"),
	}

	// Lenient preview policy: absent rate defaults to 1.
	splits, err := CalculateNetPaySplit(dec("1000"), "USD", pref, RateSet{}, MissingRateDefaultIdentity)
	if err != nil {
		t.Fatalf("CalculateNetPaySplit() error = %v", err)
	}
	if !splits[0].Amount.Equal(dec("200")) || !splits[0].ExchangeRateUsed.Equal(dec("1")) {
		t.Errorf("lenient policy: secondary leg = %s at rate %s, want 200 at rate 1",
			splits[0].Amount, splits[0].ExchangeRateUsed)
	}

	// Fail-closed policy rejects the calculation instead.
	if _, err := CalculateNetPaySplit(dec("1000"), "USD", pref, RateSet{}, MissingRateFail); !errors.Is(err, ErrMissingRate) {
		t.Errorf("fail policy error = %v, want ErrMissingRate", err)
	}
}

func TestCalculateNetPaySplit_FixedAmount(t *testing.T) {
	pref := &CurrencyPreference{
		PrimaryCurrencyID:            "USD",
		SecondaryCurrencyID:          sPtr("JMD"),
		SplitMethod:                  SplitFixedAmount,
		SecondaryCurrencyFixedAmount: decPtr("15000"),
	}
	rates := RateSet{RateKey("USD", "JMD"): dec("150")}

	splits, err := CalculateNetPaySplit(dec("1000"), "USD", pref, rates, MissingRateFail)
	if err != nil {
		t.Fatalf("CalculateNetPaySplit() error = %v", err)
	}
	secondary, primary := splits[0], splits[1]
	if !secondary.Amount.Equal(dec("15000")) {
		t.Errorf("secondary amount = %s, want 15000", secondary.Amount)
	}
	if !secondary.LocalCurrencyEquivalent.Equal(dec("100")) {
		t.Errorf("secondary local equivalent = %s, want 100", secondary.LocalCurrencyEquivalent)
	}
	if !primary.Amount.Equal(dec("900")) {
		t.Errorf("primary amount = %s, want 900", primary.Amount)
	}
	assertLocalSum(t, splits, dec("1000"))
}

func TestCalculateNetPaySplit_FixedAmountClamped(t *testing.T) {
	// 300000 JMD at 150 values to 2000 USD, more than the 1000 net pay:
	// the secondary leg is clamped and the primary remainder is exactly 0.
	pref := &CurrencyPreference{
		PrimaryCurrencyID:            "USD",
		SecondaryCurrencyID:          sPtr("JMD"),
		SplitMethod:                  SplitFixedAmount,
		SecondaryCurrencyFixedAmount: decPtr("300000"),
	}
	rates := RateSet{RateKey("USD", "JMD"): dec("150")}

	splits, err := CalculateNetPaySplit(dec("1000"), "USD", pref, rates, MissingRateFail)
	if err != nil {
		t.Fatalf("CalculateNetPaySplit() error = %v", err)
	}
	secondary, primary := splits[0], splits[1]
	if !secondary.LocalCurrencyEquivalent.Equal(dec("1000")) {
		t.Errorf("clamped local equivalent = %s, want 1000", secondary.LocalCurrencyEquivalent)
	}
	if !secondary.Amount.Equal(dec("150000")) {
		t.Errorf("clamped secondary amount = %s, want 150000", secondary.Amount)
	}
	if !primary.Amount.IsZero() {
		t.Errorf("primary remainder = %s, want exactly 0 (never negative)", primary.Amount)
	}
	if primary.Amount.IsNegative() {
		t.Error("primary remainder must never be negative")
	}
	assertLocalSum(t, splits, dec("1000"))
}

func TestCalculateNetPaySplit_MissingSecondaryCurrency(t *testing.T) {
	// Method configured but no secondary currency: fall back to all-primary.
	pref := &CurrencyPreference{
		PrimaryCurrencyID:           "USD",
		SplitMethod:                 SplitPercentage,
		SecondaryCurrencyPercentage: decPtr("50"),
	}
	splits, err := CalculateNetPaySplit(dec("1000"), "USD", pref, RateSet{}, MissingRateFail)
	if err != nil {
		t.Fatalf("CalculateNetPaySplit() error = %v", err)
	}
	if len(splits) != 1 || !splits[0].IsPrimary {
		t.Errorf("missing secondary currency should fall back to all-primary, got %+v", splits)
	}
}

func TestCalculateNetPaySplit_MissingMethodParameter(t *testing.T) {
	tests := []struct {
		name string
		pref *CurrencyPreference
	}{
		{"percentage without value", &CurrencyPreference{
			PrimaryCurrencyID:   "USD",
			SecondaryCurrencyID: sPtr("JMD"),
			SplitMethod:         SplitPercentage,
		}},
		{"fixed amount without value", &CurrencyPreference{
			PrimaryCurrencyID:   "USD",
			SecondaryCurrencyID: sPtr("JMD"),
			SplitMethod:         SplitFixedAmount,
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			splits, err := CalculateNetPaySplit(dec("1000"), "USD", tt.pref, RateSet{}, MissingRateFail)
			if err != nil {
				t.Fatalf("CalculateNetPaySplit() error = %v", err)
			}
			if len(splits) != 1 || !splits[0].Amount.Equal(dec("1000")) {
				t.Errorf("expected all-primary fallback, got %+v", splits)
			}
		})
	}
}

func TestCalculateNetPaySplit_NegativeNetPay(t *testing.T) {
	if _, err := CalculateNetPaySplit(dec("-1"), "USD", nil, RateSet{}, MissingRateFail); !errors.Is(err, ErrNegativeNetPay) {
		t.Errorf("error = %v, want ErrNegativeNetPay", err)
	}
}

func TestCalculateNetPaySplit_Idempotent(t *testing.T) {
	pref := &CurrencyPreference{
		PrimaryCurrencyID:           "USD",
		SecondaryCurrencyID:         sPtr("EUR"),
		SplitMethod:                 SplitPercentage,
		SecondaryCurrencyPercentage: decPtr("33"),
		EffectiveDate:               time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	rates := RateSet{RateKey("USD", "EUR"): dec("0.92")}

	first, err := CalculateNetPaySplit(dec("2345.67"), "USD", pref, rates, MissingRateFail)
	if err != nil {
		t.Fatalf("CalculateNetPaySplit() error = %v", err)
	}
	second, err := CalculateNetPaySplit(dec("2345.67"), "USD", pref, rates, MissingRateFail)
	if err != nil {
		t.Fatalf("CalculateNetPaySplit() error = %v", err)
	}
	if len(first) != len(second) {
		t.Fatalf("split counts differ: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if !first[i].Amount.Equal(second[i].Amount) ||
			!first[i].LocalCurrencyEquivalent.Equal(second[i].LocalCurrencyEquivalent) ||
			first[i].CurrencyID != second[i].CurrencyID {
			t.Errorf("leg %d differs between identical invocations", i)
		}
	}
	assertLocalSum(t, first, dec("2345.67"))
}
