package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/daryls-hrplus/intellihrm-sub048/internal/audit"
	"github.com/daryls-hrplus/intellihrm-sub048/internal/jobs"
	"github.com/daryls-hrplus/intellihrm-sub048/internal/middleware"
	"github.com/daryls-hrplus/intellihrm-sub048/internal/payroll"
)

// PayrollHandlers holds dependencies for payroll HTTP handlers.
type PayrollHandlers struct {
	prefRepo payroll.PreferenceRepository
	rateRepo payroll.RateRepository

	// auditRepo receives an entry for every configuration mutation these
	// handlers perform. Recording is fail-closed: a mutation whose entry
	// cannot be written is reported as a server error.
	auditRepo audit.Repository

	// defaultPolicy applies when a split preview does not name a
	// missing-rate policy.
	defaultPolicy payroll.MissingRatePolicy

	jobMetrics *jobs.Metrics
}

// NewPayrollHandlers creates a new PayrollHandlers instance.
func NewPayrollHandlers(prefRepo payroll.PreferenceRepository, rateRepo payroll.RateRepository, auditRepo audit.Repository, defaultPolicy payroll.MissingRatePolicy) *PayrollHandlers {
	if defaultPolicy == "" {
		defaultPolicy = payroll.MissingRateDefaultIdentity
	}
	return &PayrollHandlers{
		prefRepo:      prefRepo,
		rateRepo:      rateRepo,
		auditRepo:     auditRepo,
		defaultPolicy: defaultPolicy,
	}
}

// WithJobMetrics attaches job metrics for rate locking and split
// calculation instrumentation. Returns the handlers for chaining.
func (h *PayrollHandlers) WithJobMetrics(m *jobs.Metrics) *PayrollHandlers {
	h.jobMetrics = m
	return h
}

func (h *PayrollHandlers) observeJob(jobType string, start time.Time, failed bool) {
	if h.jobMetrics == nil {
		return
	}
	status := jobs.StatusSuccess
	if failed {
		status = jobs.StatusFailure
	}
	h.jobMetrics.IncJobsTotal(jobType, status)
	h.jobMetrics.ObserveJobDuration(jobType, time.Since(start).Seconds())
}

// PreferenceRequest is the request body for PUT /payroll/preferences/{id}.
type PreferenceRequest struct {
	PrimaryCurrencyID            string           `json:"primary_currency_id"`
	SecondaryCurrencyID          *string          `json:"secondary_currency_id,omitempty"`
	SplitMethod                  string           `json:"split_method"`
	SecondaryCurrencyPercentage  *decimal.Decimal `json:"secondary_currency_percentage,omitempty"`
	SecondaryCurrencyFixedAmount *decimal.Decimal `json:"secondary_currency_fixed_amount,omitempty"`
	EffectiveDate                string           `json:"effective_date"`      // RFC3339
	EndDate                      *string          `json:"end_date,omitempty"`  // RFC3339
}

// LockRatesRequest is the request body for POST /payroll/runs/{id}/rates.
type LockRatesRequest struct {
	Rates []RateRecordRequest `json:"rates"`
}

// RateRecordRequest is one exchange rate in a lock request.
type RateRecordRequest struct {
	FromCurrencyID string          `json:"from_currency_id"`
	ToCurrencyID   string          `json:"to_currency_id"`
	Rate           decimal.Decimal `json:"rate"`
	RateDate       string          `json:"rate_date"` // RFC3339
	Source         string          `json:"source"`
}

// LockRatesResponse is the response body for a successful rate lock.
type LockRatesResponse struct {
	RunID string `json:"run_id"`
	Count int    `json:"count"`
}

// SplitPreviewRequest is the request body for POST /payroll/split/preview.
// The preference is resolved from the employee's stored configuration and
// the rates from the run's locked set; either may be absent, in which case
// the calculator's fallbacks apply.
type SplitPreviewRequest struct {
	EmployeeID      string          `json:"employee_id"`
	NetPay          decimal.Decimal `json:"net_pay"`
	LocalCurrencyID string          `json:"local_currency_id"`
	RunID           string          `json:"run_id,omitempty"`
	AsOf            string          `json:"as_of,omitempty"`   // RFC3339, defaults to now
	Policy          string          `json:"policy,omitempty"`  // default_identity | fail
}

// SplitPreviewResponse is the response body for a split preview.
type SplitPreviewResponse struct {
	Splits     []payroll.NetPaySplit `json:"splits"`
	TotalLocal decimal.Decimal       `json:"total_local"`
}

// Preferences handles GET and PUT /payroll/preferences/{employeeID}.
func (h *PayrollHandlers) Preferences(w http.ResponseWriter, r *http.Request) {
	employeeID := strings.Trim(strings.TrimPrefix(r.URL.Path, "/payroll/preferences/"), "/")
	if employeeID == "" || strings.Contains(employeeID, "/") {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeBadRequest, "Employee ID is required")
		return
	}

	companyID := middleware.GetCompanyID(r.Context())
	if companyID == "" {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeAuthFailed)
		WriteError(w, ctx, http.StatusUnauthorized, ErrCodeAuthFailed, "Authentication required")
		return
	}

	switch r.Method {
	case http.MethodGet:
		h.getPreference(w, r, companyID, employeeID)
	case http.MethodPut:
		h.putPreference(w, r, companyID, employeeID)
	default:
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusMethodNotAllowed, ErrCodeBadRequest, "Method not allowed")
	}
}

func (h *PayrollHandlers) getPreference(w http.ResponseWriter, r *http.Request, companyID, employeeID string) {
	asOf := time.Now().UTC()
	if raw := r.URL.Query().Get("as_of"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			ctx := middleware.SetErrorCode(r.Context(), ErrCodeValidation)
			WriteError(w, ctx, http.StatusBadRequest, ErrCodeValidation, "'as_of' must be RFC3339")
			return
		}
		asOf = t
	}

	pref, err := h.prefRepo.ActiveForEmployee(r.Context(), companyID, employeeID, asOf)
	if err != nil {
		if errors.Is(err, payroll.ErrPreferenceNotFound) {
			ctx := middleware.SetErrorCode(r.Context(), ErrCodeNotFound)
			WriteError(w, ctx, http.StatusNotFound, ErrCodeNotFound, "No active currency preference")
			return
		}
		slog.ErrorContext(r.Context(), "failed to resolve currency preference", "error", err, "employee_id", employeeID)
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeInternal)
		WriteError(w, ctx, http.StatusInternalServerError, ErrCodeInternal, "Failed to resolve preference")
		return
	}

	writeJSON(w, r, http.StatusOK, pref)
}

func (h *PayrollHandlers) putPreference(w http.ResponseWriter, r *http.Request, companyID, employeeID string) {
	var req PreferenceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeBadRequest, "Invalid JSON in request body")
		return
	}

	effective, err := time.Parse(time.RFC3339, req.EffectiveDate)
	if err != nil {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeValidation)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeValidation, "'effective_date' must be RFC3339")
		return
	}

	var endDate *time.Time
	if req.EndDate != nil {
		t, err := time.Parse(time.RFC3339, *req.EndDate)
		if err != nil {
			ctx := middleware.SetErrorCode(r.Context(), ErrCodeValidation)
			WriteError(w, ctx, http.StatusBadRequest, ErrCodeValidation, "'end_date' must be RFC3339")
			return
		}
		if t.Before(effective) {
			ctx := middleware.SetErrorCode(r.Context(), ErrCodeValidation)
			WriteError(w, ctx, http.StatusBadRequest, ErrCodeValidation, "'end_date' must not be before 'effective_date'")
			return
		}
		endDate = &t
	}

	pref := &payroll.CurrencyPreference{
		EmployeeID:                   employeeID,
		CompanyID:                    companyID,
		PrimaryCurrencyID:            strings.TrimSpace(req.PrimaryCurrencyID),
		SecondaryCurrencyID:          req.SecondaryCurrencyID,
		SplitMethod:                  payroll.SplitMethod(req.SplitMethod),
		SecondaryCurrencyPercentage:  req.SecondaryCurrencyPercentage,
		SecondaryCurrencyFixedAmount: req.SecondaryCurrencyFixedAmount,
		EffectiveDate:                effective,
		EndDate:                      endDate,
	}

	// The record being superseded, for the audit entry's before-state. A
	// first-time preference has none.
	previous, err := h.prefRepo.ActiveForEmployee(r.Context(), companyID, employeeID, effective)
	if err != nil && !errors.Is(err, payroll.ErrPreferenceNotFound) {
		slog.ErrorContext(r.Context(), "failed to resolve prior preference", "error", err, "employee_id", employeeID)
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeInternal)
		WriteError(w, ctx, http.StatusInternalServerError, ErrCodeInternal, "Failed to save preference")
		return
	}

	stored, err := h.prefRepo.Save(r.Context(), pref)
	if err != nil {
		if errors.Is(err, payroll.ErrInvalidPreference) {
			ctx := middleware.SetErrorCode(r.Context(), ErrCodeValidation)
			WriteError(w, ctx, http.StatusBadRequest, ErrCodeValidation, "Invalid currency preference")
			return
		}
		slog.ErrorContext(r.Context(), "failed to save currency preference", "error", err, "employee_id", employeeID)
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeInternal)
		WriteError(w, ctx, http.StatusInternalServerError, ErrCodeInternal, "Failed to save preference")
		return
	}

	if _, err := audit.Record(r.Context(), h.auditRepo, audit.RecordInput{
		CompanyID:  companyID,
		EventType:  audit.EventPreferenceUpdated,
		EntityType: "currency_preference",
		EntityID:   stored.ID,
		OldValues:  preferenceSnapshot(previous),
		NewValues:  preferenceSnapshot(stored),
	}); err != nil {
		slog.ErrorContext(r.Context(), "failed to record audit entry", "error", err, "employee_id", employeeID)
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeInternal)
		WriteError(w, ctx, http.StatusInternalServerError, ErrCodeInternal, "Preference saved but not audited")
		return
	}

	slog.InfoContext(r.Context(), "currency preference saved",
		"company_id", companyID,
		"employee_id", employeeID,
		"split_method", stored.SplitMethod,
	)
	writeJSON(w, r, http.StatusOK, stored)
}

// LockRates handles POST /payroll/runs/{runID}/rates - stores the exchange
// rate set for a payroll run. Rates lock exactly once; a second attempt is
// rejected so a run's conversions stay reproducible.
func (h *PayrollHandlers) LockRates(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusMethodNotAllowed, ErrCodeBadRequest, "Method not allowed")
		return
	}

	pathParts := strings.Split(strings.Trim(strings.TrimPrefix(r.URL.Path, "/payroll/runs/"), "/"), "/")
	if len(pathParts) != 2 || pathParts[0] == "" || pathParts[1] != "rates" {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeBadRequest, "Run ID is required")
		return
	}
	runID := pathParts[0]

	companyID := middleware.GetCompanyID(r.Context())
	if companyID == "" {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeAuthFailed)
		WriteError(w, ctx, http.StatusUnauthorized, ErrCodeAuthFailed, "Authentication required")
		return
	}

	var req LockRatesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeBadRequest, "Invalid JSON in request body")
		return
	}
	if len(req.Rates) == 0 {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeValidation)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeValidation, "At least one rate is required")
		return
	}

	records := make([]payroll.RateRecord, 0, len(req.Rates))
	for _, raw := range req.Rates {
		if raw.FromCurrencyID == "" || raw.ToCurrencyID == "" {
			ctx := middleware.SetErrorCode(r.Context(), ErrCodeValidation)
			WriteError(w, ctx, http.StatusBadRequest, ErrCodeValidation, "Rate currency IDs are required")
			return
		}
		if !raw.Rate.IsPositive() {
			ctx := middleware.SetErrorCode(r.Context(), ErrCodeValidation)
			WriteError(w, ctx, http.StatusBadRequest, ErrCodeValidation, "Rates must be positive")
			return
		}
		rateDate := time.Now().UTC()
		if raw.RateDate != "" {
			t, err := time.Parse(time.RFC3339, raw.RateDate)
			if err != nil {
				ctx := middleware.SetErrorCode(r.Context(), ErrCodeValidation)
				WriteError(w, ctx, http.StatusBadRequest, ErrCodeValidation, "'rate_date' must be RFC3339")
				return
			}
			rateDate = t
		}
		records = append(records, payroll.RateRecord{
			FromCurrencyID: raw.FromCurrencyID,
			ToCurrencyID:   raw.ToCurrencyID,
			Rate:           raw.Rate,
			RateDate:       rateDate,
			Source:         raw.Source,
		})
	}

	lockStart := time.Now()
	err := h.rateRepo.LockRates(r.Context(), companyID, runID, records)
	h.observeJob(jobs.JobTypeRateLocking, lockStart, err != nil)
	if err != nil {
		if errors.Is(err, payroll.ErrRatesAlreadyLocked) {
			ctx := middleware.SetErrorCode(r.Context(), ErrCodeRatesLocked)
			WriteError(w, ctx, http.StatusConflict, ErrCodeRatesLocked, "Exchange rates already locked for this run")
			return
		}
		slog.ErrorContext(r.Context(), "failed to lock exchange rates", "error", err, "run_id", runID)
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeInternal)
		WriteError(w, ctx, http.StatusInternalServerError, ErrCodeInternal, "Failed to lock rates")
		return
	}

	if _, err := audit.Record(r.Context(), h.auditRepo, audit.RecordInput{
		CompanyID:  companyID,
		EventType:  audit.EventRatesLocked,
		EntityType: "payroll_run",
		EntityID:   runID,
		NewValues:  rateSnapshot(records),
	}); err != nil {
		slog.ErrorContext(r.Context(), "failed to record audit entry", "error", err, "run_id", runID)
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeInternal)
		WriteError(w, ctx, http.StatusInternalServerError, ErrCodeInternal, "Rates locked but not audited")
		return
	}

	slog.InfoContext(r.Context(), "exchange rates locked",
		"company_id", companyID,
		"run_id", runID,
		"count", len(records),
	)
	writeJSON(w, r, http.StatusCreated, LockRatesResponse{
		RunID: runID,
		Count: len(records),
	})
}

// SplitPreview handles POST /payroll/split/preview - computes the
// currency split for a net pay amount using the employee's stored
// preference and the run's locked rates.
func (h *PayrollHandlers) SplitPreview(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusMethodNotAllowed, ErrCodeBadRequest, "Method not allowed")
		return
	}

	companyID := middleware.GetCompanyID(r.Context())
	if companyID == "" {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeAuthFailed)
		WriteError(w, ctx, http.StatusUnauthorized, ErrCodeAuthFailed, "Authentication required")
		return
	}

	var req SplitPreviewRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeBadRequest, "Invalid JSON in request body")
		return
	}

	if req.EmployeeID == "" {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeValidation)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeValidation, "'employee_id' is required")
		return
	}
	if req.LocalCurrencyID == "" {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeValidation)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeValidation, "'local_currency_id' is required")
		return
	}

	policy := h.defaultPolicy
	switch req.Policy {
	case "":
	case string(payroll.MissingRateDefaultIdentity):
		policy = payroll.MissingRateDefaultIdentity
	case string(payroll.MissingRateFail):
		policy = payroll.MissingRateFail
	default:
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeValidation)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeValidation, "policy must be 'default_identity' or 'fail'")
		return
	}

	asOf := time.Now().UTC()
	if req.AsOf != "" {
		t, err := time.Parse(time.RFC3339, req.AsOf)
		if err != nil {
			ctx := middleware.SetErrorCode(r.Context(), ErrCodeValidation)
			WriteError(w, ctx, http.StatusBadRequest, ErrCodeValidation, "'as_of' must be RFC3339")
			return
		}
		asOf = t
	}

	// A missing preference is not an error: the calculator falls back to a
	// single all-primary leg.
	pref, err := h.prefRepo.ActiveForEmployee(r.Context(), companyID, req.EmployeeID, asOf)
	if err != nil && !errors.Is(err, payroll.ErrPreferenceNotFound) {
		slog.ErrorContext(r.Context(), "failed to resolve currency preference", "error", err, "employee_id", req.EmployeeID)
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeInternal)
		WriteError(w, ctx, http.StatusInternalServerError, ErrCodeInternal, "Failed to resolve preference")
		return
	}

	rates := payroll.RateSet{}
	if req.RunID != "" {
		rates, err = h.rateRepo.RatesForRun(r.Context(), companyID, req.RunID)
		if err != nil {
			if errors.Is(err, payroll.ErrRatesNotLocked) {
				ctx := middleware.SetErrorCode(r.Context(), ErrCodeNotFound)
				WriteError(w, ctx, http.StatusNotFound, ErrCodeNotFound, "Exchange rates not locked for this run")
				return
			}
			slog.ErrorContext(r.Context(), "failed to load locked rates", "error", err, "run_id", req.RunID)
			ctx := middleware.SetErrorCode(r.Context(), ErrCodeInternal)
			WriteError(w, ctx, http.StatusInternalServerError, ErrCodeInternal, "Failed to load rates")
			return
		}
	}

	calcStart := time.Now()
	splits, err := payroll.CalculateNetPaySplit(req.NetPay, req.LocalCurrencyID, pref, rates, policy)
	h.observeJob(jobs.JobTypePayrollCalculation, calcStart, err != nil)
	if err != nil {
		switch {
		case errors.Is(err, payroll.ErrNegativeNetPay):
			ctx := middleware.SetErrorCode(r.Context(), ErrCodeValidation)
			WriteError(w, ctx, http.StatusBadRequest, ErrCodeValidation, "Net pay cannot be negative")
		case errors.Is(err, payroll.ErrMissingRate):
			ctx := middleware.SetErrorCode(r.Context(), ErrCodeMissingRate)
			WriteError(w, ctx, http.StatusUnprocessableEntity, ErrCodeMissingRate, err.Error())
		default:
			slog.ErrorContext(r.Context(), "failed to calculate split", "error", err, "employee_id", req.EmployeeID)
			ctx := middleware.SetErrorCode(r.Context(), ErrCodeInvalidSplit)
			WriteError(w, ctx, http.StatusBadRequest, ErrCodeInvalidSplit, "Failed to calculate split")
		}
		return
	}

	writeJSON(w, r, http.StatusOK, SplitPreviewResponse{
		Splits:     splits,
		TotalLocal: req.NetPay,
	})
}

// preferenceSnapshot captures a preference's audited fields. A nil
// preference yields a nil snapshot, rendered as JSON null.
func preferenceSnapshot(pref *payroll.CurrencyPreference) audit.Snapshot {
	if pref == nil {
		return nil
	}
	return audit.Snapshot{
		{Name: "employee_id", Value: audit.String(pref.EmployeeID)},
		{Name: "primary_currency_id", Value: audit.String(pref.PrimaryCurrencyID)},
		{Name: "secondary_currency_id", Value: optionalString(pref.SecondaryCurrencyID)},
		{Name: "split_method", Value: audit.String(string(pref.SplitMethod))},
		{Name: "secondary_currency_percentage", Value: optionalDecimal(pref.SecondaryCurrencyPercentage)},
		{Name: "secondary_currency_fixed_amount", Value: optionalDecimal(pref.SecondaryCurrencyFixedAmount)},
		{Name: "effective_date", Value: audit.String(pref.EffectiveDate.UTC().Format(time.RFC3339))},
		{Name: "end_date", Value: optionalTime(pref.EndDate)},
	}
}

// rateSnapshot captures a locked rate set: the pair count plus one field
// per currency pair, keyed the way the rate set keys them.
func rateSnapshot(records []payroll.RateRecord) audit.Snapshot {
	snap := audit.Snapshot{
		{Name: "rate_count", Value: audit.Number(float64(len(records)))},
	}
	for _, rec := range records {
		snap = append(snap, audit.Field{
			Name:  payroll.RateKey(rec.FromCurrencyID, rec.ToCurrencyID),
			Value: audit.String(rec.Rate.String()),
		})
	}
	return snap
}

func optionalString(s *string) audit.FieldValue {
	if s == nil {
		return audit.Null()
	}
	return audit.String(*s)
}

func optionalDecimal(d *decimal.Decimal) audit.FieldValue {
	if d == nil {
		return audit.Null()
	}
	return audit.String(d.String())
}

func optionalTime(t *time.Time) audit.FieldValue {
	if t == nil {
		return audit.Null()
	}
	return audit.String(t.UTC().Format(time.RFC3339))
}
