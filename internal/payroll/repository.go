package payroll

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Repository errors.
var (
	// ErrPreferenceNotFound is returned when no preference is active for
	// the employee on the requested date.
	ErrPreferenceNotFound = errors.New("no active currency preference")
	// ErrInvalidPreference is returned when a preference fails validation.
	ErrInvalidPreference = errors.New("invalid currency preference")
	// ErrRatesAlreadyLocked is returned when locking rates for a run that
	// already has a locked set. Locked rates are immutable.
	ErrRatesAlreadyLocked = errors.New("exchange rates already locked for payroll run")
	// ErrRatesNotLocked is returned when a run has no locked rate set yet.
	ErrRatesNotLocked = errors.New("exchange rates not locked for payroll run")
)

// PreferenceRepository stores employee currency preferences.
type PreferenceRepository interface {
	// Save inserts or replaces a preference record.
	Save(ctx context.Context, pref *CurrencyPreference) (*CurrencyPreference, error)

	// ActiveForEmployee resolves the preference in effect for an employee
	// on the given date: the latest-effective, not-yet-expired record.
	// Returns ErrPreferenceNotFound when none applies.
	ActiveForEmployee(ctx context.Context, companyID, employeeID string, asOf time.Time) (*CurrencyPreference, error)
}

// RateRepository stores per-run locked exchange-rate sets.
type RateRepository interface {
	// LockRates stores the rate set for a run. A run's rates are locked
	// once; re-locking returns ErrRatesAlreadyLocked.
	LockRates(ctx context.Context, companyID, runID string, records []RateRecord) error

	// RatesForRun returns the locked rate set for a run, or
	// ErrRatesNotLocked when the run has no locked set.
	RatesForRun(ctx context.Context, companyID, runID string) (RateSet, error)
}

// validatePreference checks required preference fields and parameter
// consistency for the chosen split method.
func validatePreference(pref *CurrencyPreference) error {
	if pref == nil {
		return ErrInvalidPreference
	}
	if pref.EmployeeID == "" || pref.CompanyID == "" || pref.PrimaryCurrencyID == "" {
		return ErrInvalidPreference
	}
	if !ValidSplitMethods[pref.SplitMethod] {
		return ErrInvalidPreference
	}
	if pref.EffectiveDate.IsZero() {
		return ErrInvalidPreference
	}
	if pref.SecondaryCurrencyPercentage != nil {
		p := *pref.SecondaryCurrencyPercentage
		if p.IsNegative() || p.GreaterThan(hundred) {
			return ErrInvalidPreference
		}
	}
	if pref.SecondaryCurrencyFixedAmount != nil && pref.SecondaryCurrencyFixedAmount.IsNegative() {
		return ErrInvalidPreference
	}
	return nil
}

// InMemoryPreferenceRepository implements PreferenceRepository with
// in-memory storage. Used for testing and development. Thread-safe.
type InMemoryPreferenceRepository struct {
	mu    sync.RWMutex
	prefs []*CurrencyPreference
}

// NewInMemoryPreferenceRepository creates an in-memory preference repository.
func NewInMemoryPreferenceRepository() *InMemoryPreferenceRepository {
	return &InMemoryPreferenceRepository{}
}

// Save inserts or replaces a preference record.
func (r *InMemoryPreferenceRepository) Save(ctx context.Context, pref *CurrencyPreference) (*CurrencyPreference, error) {
	if err := validatePreference(pref); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now().UTC()
	stored := *pref
	if stored.ID == "" {
		stored.ID = uuid.New().String()
		stored.CreatedAt = now
	}
	stored.UpdatedAt = now

	for i, existing := range r.prefs {
		if existing.ID == stored.ID {
			r.prefs[i] = &stored
			result := stored
			return &result, nil
		}
	}
	r.prefs = append(r.prefs, &stored)

	result := stored
	return &result, nil
}

// ActiveForEmployee resolves the preference in effect on the given date.
func (r *InMemoryPreferenceRepository) ActiveForEmployee(ctx context.Context, companyID, employeeID string, asOf time.Time) (*CurrencyPreference, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var best *CurrencyPreference
	for _, pref := range r.prefs {
		if pref.CompanyID != companyID || pref.EmployeeID != employeeID {
			continue
		}
		if !pref.ActiveOn(asOf) {
			continue
		}
		// Latest effective record wins.
		if best == nil || pref.EffectiveDate.After(best.EffectiveDate) {
			best = pref
		}
	}
	if best == nil {
		return nil, ErrPreferenceNotFound
	}

	result := *best
	return &result, nil
}

// lockedRates keys a run's rate set by company and run.
type lockedRates struct {
	companyID string
	runID     string
	records   []RateRecord
}

// InMemoryRateRepository implements RateRepository with in-memory storage.
// Thread-safe.
type InMemoryRateRepository struct {
	mu    sync.RWMutex
	locks map[string]*lockedRates
}

// NewInMemoryRateRepository creates an in-memory rate repository.
func NewInMemoryRateRepository() *InMemoryRateRepository {
	return &InMemoryRateRepository{
		locks: make(map[string]*lockedRates),
	}
}

func runKey(companyID, runID string) string {
	return companyID + "/" + runID
}

// LockRates stores the rate set for a run, once.
func (r *InMemoryRateRepository) LockRates(ctx context.Context, companyID, runID string, records []RateRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := runKey(companyID, runID)
	if _, exists := r.locks[key]; exists {
		return ErrRatesAlreadyLocked
	}
	r.locks[key] = &lockedRates{
		companyID: companyID,
		runID:     runID,
		records:   append([]RateRecord(nil), records...),
	}
	return nil
}

// RatesForRun returns the locked rate set for a run.
func (r *InMemoryRateRepository) RatesForRun(ctx context.Context, companyID, runID string) (RateSet, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	lock, exists := r.locks[runKey(companyID, runID)]
	if !exists {
		return nil, ErrRatesNotLocked
	}
	return NewRateSet(lock.records), nil
}
