package payroll

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestInMemoryPreferenceRepository_LatestEffectiveWins(t *testing.T) {
	repo := NewInMemoryPreferenceRepository()

	older := &CurrencyPreference{
		EmployeeID:        "emp-1",
		CompanyID:         "co-1",
		PrimaryCurrencyID: "USD",
		SplitMethod:       SplitAllPrimary,
		EffectiveDate:     time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	newer := &CurrencyPreference{
		EmployeeID:                  "emp-1",
		CompanyID:                   "co-1",
		PrimaryCurrencyID:           "USD",
		SecondaryCurrencyID:         sPtr("JMD"),
		SplitMethod:                 SplitPercentage,
		SecondaryCurrencyPercentage: decPtr("25"),
		EffectiveDate:               time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	for _, pref := range []*CurrencyPreference{older, newer} {
		if _, err := repo.Save(context.Background(), pref); err != nil {
			t.Fatalf("Save() error = %v", err)
		}
	}

	active, err := repo.ActiveForEmployee(context.Background(), "co-1", "emp-1", time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("ActiveForEmployee() error = %v", err)
	}
	if active.SplitMethod != SplitPercentage {
		t.Errorf("active preference method = %q, want the later percentage record", active.SplitMethod)
	}

	// Before the newer record takes effect, the older one still applies.
	active, err = repo.ActiveForEmployee(context.Background(), "co-1", "emp-1", time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("ActiveForEmployee() error = %v", err)
	}
	if active.SplitMethod != SplitAllPrimary {
		t.Errorf("active preference method = %q, want the older all_primary record", active.SplitMethod)
	}
}

func TestInMemoryPreferenceRepository_ExpiredPreferenceIgnored(t *testing.T) {
	repo := NewInMemoryPreferenceRepository()

	ended := time.Date(2025, 12, 31, 0, 0, 0, 0, time.UTC)
	if _, err := repo.Save(context.Background(), &CurrencyPreference{
		EmployeeID:        "emp-1",
		CompanyID:         "co-1",
		PrimaryCurrencyID: "USD",
		SplitMethod:       SplitAllPrimary,
		EffectiveDate:     time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		EndDate:           &ended,
	}); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	_, err := repo.ActiveForEmployee(context.Background(), "co-1", "emp-1", time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC))
	if !errors.Is(err, ErrPreferenceNotFound) {
		t.Errorf("ActiveForEmployee() error = %v, want ErrPreferenceNotFound", err)
	}
}

func TestInMemoryPreferenceRepository_Validation(t *testing.T) {
	repo := NewInMemoryPreferenceRepository()
	effective := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		pref *CurrencyPreference
	}{
		{"missing employee", &CurrencyPreference{CompanyID: "co-1", PrimaryCurrencyID: "USD", SplitMethod: SplitAllPrimary, EffectiveDate: effective}},
		{"missing primary currency", &CurrencyPreference{EmployeeID: "emp-1", CompanyID: "co-1", SplitMethod: SplitAllPrimary, EffectiveDate: effective}},
		{"unknown method", &CurrencyPreference{EmployeeID: "emp-1", CompanyID: "co-1", PrimaryCurrencyID: "USD", SplitMethod: "half_half", EffectiveDate: effective}},
		{"percentage above 100", &CurrencyPreference{EmployeeID: "emp-1", CompanyID: "co-1", PrimaryCurrencyID: "USD", SplitMethod: SplitPercentage, SecondaryCurrencyPercentage: decPtr("101"), EffectiveDate: effective}},
		{"negative fixed amount", &CurrencyPreference{EmployeeID: "emp-1", CompanyID: "co-1", PrimaryCurrencyID: "USD", SplitMethod: SplitFixedAmount, SecondaryCurrencyFixedAmount: decPtr("-5"), EffectiveDate: effective}},
		{"missing effective date", &CurrencyPreference{EmployeeID: "emp-1", CompanyID: "co-1", PrimaryCurrencyID: "USD", SplitMethod: SplitAllPrimary}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := repo.Save(context.Background(), tt.pref); !errors.Is(err, ErrInvalidPreference) {
				t.Errorf("Save() error = %v, want ErrInvalidPreference", err)
			}
		})
	}
}

func TestInMemoryRateRepository_LockOnce(t *testing.T) {
	repo := NewInMemoryRateRepository()
	day := time.Date(2026, 2, 28, 0, 0, 0, 0, time.UTC)
	records := []RateRecord{
		{FromCurrencyID: "USD", ToCurrencyID: "JMD", Rate: dec("150"), RateDate: day, Source: "central_bank"},
	}

	if err := repo.LockRates(context.Background(), "co-1", "run-1", records); err != nil {
		t.Fatalf("LockRates() error = %v", err)
	}
	if err := repo.LockRates(context.Background(), "co-1", "run-1", records); !errors.Is(err, ErrRatesAlreadyLocked) {
		t.Errorf("second LockRates() error = %v, want ErrRatesAlreadyLocked", err)
	}

	set, err := repo.RatesForRun(context.Background(), "co-1", "run-1")
	if err != nil {
		t.Fatalf("RatesForRun() error = %v", err)
	}
	rate, ok := set.Lookup("USD", "JMD")
	if !ok || !rate.Equal(dec("150")) {
		t.Errorf("Lookup() = %s, %v; want 150, true", rate, ok)
	}

	if _, err := repo.RatesForRun(context.Background(), "co-1", "run-404"); !errors.Is(err, ErrRatesNotLocked) {
		t.Errorf("RatesForRun(unknown) error = %v, want ErrRatesNotLocked", err)
	}
}
