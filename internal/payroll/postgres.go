package payroll

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/daryls-hrplus/intellihrm-sub048/internal/tracing"
)

// Backing tables, used for queries and span naming.
const (
	preferencesTable = "currency_preferences"
	runRatesTable    = "payroll_run_rates"
)

// PostgresPreferenceRepository is the Postgres-backed PreferenceRepository.
type PostgresPreferenceRepository struct {
	db *sql.DB
}

// NewPostgresPreferenceRepository creates a Postgres preference repository.
func NewPostgresPreferenceRepository(db *sql.DB) *PostgresPreferenceRepository {
	return &PostgresPreferenceRepository{db: db}
}

// Save inserts or replaces a preference record.
func (r *PostgresPreferenceRepository) Save(ctx context.Context, pref *CurrencyPreference) (result *CurrencyPreference, err error) {
	if err := validatePreference(pref); err != nil {
		return nil, err
	}

	ctx, end := tracing.StartDBSpan(ctx, preferencesTable, tracing.DBOperationInsert)
	defer func() { end(err) }()

	now := time.Now().UTC()
	stored := *pref
	if stored.ID == "" {
		stored.ID = uuid.New().String()
		stored.CreatedAt = now
	}
	stored.UpdatedAt = now

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO currency_preferences
			(id, employee_id, company_id, primary_currency_id, secondary_currency_id,
			 split_method, secondary_currency_percentage, secondary_currency_fixed_amount,
			 effective_date, end_date, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (id) DO UPDATE SET
			primary_currency_id = EXCLUDED.primary_currency_id,
			secondary_currency_id = EXCLUDED.secondary_currency_id,
			split_method = EXCLUDED.split_method,
			secondary_currency_percentage = EXCLUDED.secondary_currency_percentage,
			secondary_currency_fixed_amount = EXCLUDED.secondary_currency_fixed_amount,
			effective_date = EXCLUDED.effective_date,
			end_date = EXCLUDED.end_date,
			updated_at = EXCLUDED.updated_at`,
		stored.ID, stored.EmployeeID, stored.CompanyID, stored.PrimaryCurrencyID,
		stored.SecondaryCurrencyID, string(stored.SplitMethod),
		decimalOrNil(stored.SecondaryCurrencyPercentage),
		decimalOrNil(stored.SecondaryCurrencyFixedAmount),
		stored.EffectiveDate, stored.EndDate, stored.CreatedAt, stored.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to save currency preference: %w", err)
	}

	saved := stored
	return &saved, nil
}

// ActiveForEmployee resolves the preference in effect on the given date.
func (r *PostgresPreferenceRepository) ActiveForEmployee(ctx context.Context, companyID, employeeID string, asOf time.Time) (pref *CurrencyPreference, err error) {
	ctx, end := tracing.StartDBSpan(ctx, preferencesTable, tracing.DBOperationQuery)
	defer func() { end(err) }()

	row := r.db.QueryRowContext(ctx, `
		SELECT id, employee_id, company_id, primary_currency_id, secondary_currency_id,
		       split_method, secondary_currency_percentage, secondary_currency_fixed_amount,
		       effective_date, end_date, created_at, updated_at
		FROM currency_preferences
		WHERE company_id = $1
		  AND employee_id = $2
		  AND effective_date <= $3
		  AND (end_date IS NULL OR end_date >= $3)
		ORDER BY effective_date DESC
		LIMIT 1`, companyID, employeeID, asOf)

	pref, err = scanPreference(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrPreferenceNotFound
	}
	if err != nil {
		return nil, err
	}
	return pref, nil
}

// scanPreference reads one preference row.
func scanPreference(row *sql.Row) (*CurrencyPreference, error) {
	var (
		pref        CurrencyPreference
		splitMethod string
		secondary   sql.NullString
		percentage  sql.NullString
		fixedAmount sql.NullString
		endDate     sql.NullTime
	)
	err := row.Scan(
		&pref.ID, &pref.EmployeeID, &pref.CompanyID, &pref.PrimaryCurrencyID,
		&secondary, &splitMethod, &percentage, &fixedAmount,
		&pref.EffectiveDate, &endDate, &pref.CreatedAt, &pref.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	pref.SplitMethod = SplitMethod(splitMethod)
	if secondary.Valid {
		s := secondary.String
		pref.SecondaryCurrencyID = &s
	}
	if percentage.Valid {
		d, err := decimal.NewFromString(percentage.String)
		if err != nil {
			return nil, fmt.Errorf("invalid stored percentage: %w", err)
		}
		pref.SecondaryCurrencyPercentage = &d
	}
	if fixedAmount.Valid {
		d, err := decimal.NewFromString(fixedAmount.String)
		if err != nil {
			return nil, fmt.Errorf("invalid stored fixed amount: %w", err)
		}
		pref.SecondaryCurrencyFixedAmount = &d
	}
	if endDate.Valid {
		t := endDate.Time
		pref.EndDate = &t
	}

	return &pref, nil
}

// decimalOrNil maps an optional decimal to its SQL representation.
func decimalOrNil(d *decimal.Decimal) interface{} {
	if d == nil {
		return nil
	}
	return d.String()
}

// PostgresRateRepository is the Postgres-backed RateRepository.
type PostgresRateRepository struct {
	db *sql.DB
}

// NewPostgresRateRepository creates a Postgres rate repository.
func NewPostgresRateRepository(db *sql.DB) *PostgresRateRepository {
	return &PostgresRateRepository{db: db}
}

// LockRates stores the rate set for a run, once.
func (r *PostgresRateRepository) LockRates(ctx context.Context, companyID, runID string, records []RateRecord) (err error) {
	ctx, end := tracing.StartDBSpan(ctx, runRatesTable, tracing.DBOperationInsert)
	defer func() { end(err) }()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	var exists bool
	err = tx.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM payroll_run_rates WHERE company_id = $1 AND run_id = $2
		)`, companyID, runID).Scan(&exists)
	if err != nil {
		return fmt.Errorf("failed to check locked rates: %w", err)
	}
	if exists {
		return ErrRatesAlreadyLocked
	}

	stmt, err := tx.PrepareContext(ctx, pq.CopyIn("payroll_run_rates",
		"company_id", "run_id", "from_currency_id", "to_currency_id",
		"rate", "rate_date", "source", "locked_at"))
	if err != nil {
		return fmt.Errorf("failed to prepare rate insert: %w", err)
	}

	lockedAt := time.Now().UTC()
	for _, rec := range records {
		if _, err := stmt.ExecContext(ctx, companyID, runID, rec.FromCurrencyID, rec.ToCurrencyID,
			rec.Rate.String(), rec.RateDate, rec.Source, lockedAt); err != nil {
			_ = stmt.Close()
			return fmt.Errorf("failed to insert rate record: %w", err)
		}
	}
	if _, err := stmt.ExecContext(ctx); err != nil {
		_ = stmt.Close()
		return fmt.Errorf("failed to flush rate records: %w", err)
	}
	if err := stmt.Close(); err != nil {
		return fmt.Errorf("failed to close rate insert: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit locked rates: %w", err)
	}
	return nil
}

// RatesForRun returns the locked rate set for a run.
func (r *PostgresRateRepository) RatesForRun(ctx context.Context, companyID, runID string) (set RateSet, err error) {
	ctx, end := tracing.StartDBSpan(ctx, runRatesTable, tracing.DBOperationQuery)
	defer func() { end(err) }()

	rows, err := r.db.QueryContext(ctx, `
		SELECT from_currency_id, to_currency_id, rate
		FROM payroll_run_rates
		WHERE company_id = $1 AND run_id = $2`, companyID, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query locked rates: %w", err)
	}
	defer rows.Close()

	set = make(RateSet)
	for rows.Next() {
		var fromID, toID, rateStr string
		if err := rows.Scan(&fromID, &toID, &rateStr); err != nil {
			return nil, fmt.Errorf("failed to scan rate record: %w", err)
		}
		rate, err := decimal.NewFromString(rateStr)
		if err != nil {
			return nil, fmt.Errorf("invalid stored rate: %w", err)
		}
		set[RateKey(fromID, toID)] = rate
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate rate records: %w", err)
	}
	if len(set) == 0 {
		return nil, ErrRatesNotLocked
	}

	return set, nil
}
