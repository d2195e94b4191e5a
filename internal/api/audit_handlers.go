package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/daryls-hrplus/intellihrm-sub048/internal/audit"
	"github.com/daryls-hrplus/intellihrm-sub048/internal/jobs"
	"github.com/daryls-hrplus/intellihrm-sub048/internal/middleware"
)

// AuditHandlers holds dependencies for audit trail HTTP handlers.
type AuditHandlers struct {
	repo     audit.Repository
	archiver audit.Archiver // nil disables export archiving

	// pageLimit caps the number of entries a single query returns.
	pageLimit int

	jobMetrics *jobs.Metrics
}

// NewAuditHandlers creates a new AuditHandlers instance. archiver may be
// nil when long-term export storage is not configured.
func NewAuditHandlers(repo audit.Repository, archiver audit.Archiver, pageLimit int) *AuditHandlers {
	if pageLimit <= 0 {
		pageLimit = audit.MaxQueryLimit
	}
	return &AuditHandlers{
		repo:      repo,
		archiver:  archiver,
		pageLimit: pageLimit,
	}
}

// WithJobMetrics attaches job metrics for verification and export
// instrumentation. Returns the handlers for chaining.
func (h *AuditHandlers) WithJobMetrics(m *jobs.Metrics) *AuditHandlers {
	h.jobMetrics = m
	return h
}

// observeJob records one job execution when metrics are attached.
func (h *AuditHandlers) observeJob(jobType string, start time.Time, failed bool) {
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

// AuditLogsResponse is the response body for GET /audit/logs.
type AuditLogsResponse struct {
	Entries []*audit.Entry `json:"entries"`
	Count   int            `json:"count"`
}

// VerifyResponse is the response body for GET /audit/logs/verify.
type VerifyResponse struct {
	Valid bool              `json:"valid"`
	Chain audit.ChainReport `json:"chain"`
}

// ExportRequest is the request body for POST /audit/logs/export.
type ExportRequest struct {
	Format     string `json:"format"` // "csv" or "json"
	EventTypes string `json:"event_types,omitempty"`
	EntityType string `json:"entity_type,omitempty"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id,omitempty"`
	From       string `json:"from,omitempty"` // RFC3339
	To         string `json:"to,omitempty"`   // RFC3339
	// Archive uploads the artifact to long-term object storage instead of
	// returning it inline. Requires the archiver to be configured.
	Archive bool `json:"archive,omitempty"`
}

// ExportArchivedResponse is the response body when an export is archived
// rather than returned inline.
type ExportArchivedResponse struct {
	ObjectKey string            `json:"object_key"`
	Entries   int               `json:"entries"`
	Chain     audit.ChainReport `json:"chain"`
}

// QueryLogs handles GET /audit/logs - returns audit entries for the
// authenticated company, newest-first, filterable by event type, entity,
// actor, and time range.
func (h *AuditHandlers) QueryLogs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
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

	filter, err := h.filterFromQuery(r, companyID)
	if err != nil {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeValidation)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeValidation, err.Error())
		return
	}

	entries, err := h.repo.Query(r.Context(), filter)
	if err != nil {
		slog.ErrorContext(r.Context(), "failed to query audit entries", "error", err, "company_id", companyID)
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeInternal)
		WriteError(w, ctx, http.StatusInternalServerError, ErrCodeInternal, "Failed to query audit trail")
		return
	}
	if entries == nil {
		entries = []*audit.Entry{}
	}

	writeJSON(w, r, http.StatusOK, AuditLogsResponse{
		Entries: entries,
		Count:   len(entries),
	})
}

// VerifyChain handles GET /audit/logs/verify - runs checksum chain
// verification over the filtered window and reports the outcome.
func (h *AuditHandlers) VerifyChain(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
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

	filter, err := h.filterFromQuery(r, companyID)
	if err != nil {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeValidation)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeValidation, err.Error())
		return
	}

	entries, err := h.repo.Query(r.Context(), filter)
	if err != nil {
		slog.ErrorContext(r.Context(), "failed to query audit entries for verification", "error", err, "company_id", companyID)
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeInternal)
		WriteError(w, ctx, http.StatusInternalServerError, ErrCodeInternal, "Failed to query audit trail")
		return
	}

	start := time.Now()
	report := audit.VerifyChain(entries)
	h.observeJob(jobs.JobTypeChainVerification, start, report.Status == audit.ChainBroken)
	if report.Status == audit.ChainBroken {
		slog.WarnContext(r.Context(), "audit chain verification failed",
			"company_id", companyID,
			"entries", report.Entries,
			"break_index", report.BreakIndex,
		)
	}

	writeJSON(w, r, http.StatusOK, VerifyResponse{
		Valid: report.Valid(),
		Chain: report,
	})
}

// Export handles POST /audit/logs/export - renders a filtered window as
// CSV or JSON. The artifact is returned inline, or uploaded to object
// storage when archiving is requested.
func (h *AuditHandlers) Export(w http.ResponseWriter, r *http.Request) {
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

	var req ExportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeBadRequest, "Invalid JSON in request body")
		return
	}

	format := audit.ExportFormat(strings.ToLower(strings.TrimSpace(req.Format)))
	if format != audit.ExportFormatCSV && format != audit.ExportFormatJSON {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeUnsupportedFormat)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeUnsupportedFormat, "format must be 'csv' or 'json'")
		return
	}

	filter, err := h.filterFromExportRequest(req, companyID)
	if err != nil {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeValidation)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeValidation, err.Error())
		return
	}

	if req.Archive && h.archiver == nil {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeValidation)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeValidation, "Export archiving is not configured")
		return
	}

	start := time.Now()
	result, err := audit.Export(r.Context(), h.repo, audit.ExportOptions{Format: format, Filter: filter})
	h.observeJob(jobs.JobTypeAuditExport, start, err != nil)
	if err != nil {
		slog.ErrorContext(r.Context(), "failed to export audit trail", "error", err, "company_id", companyID)
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeInternal)
		WriteError(w, ctx, http.StatusInternalServerError, ErrCodeInternal, "Failed to export audit trail")
		return
	}

	if req.Archive {
		uploadStart := time.Now()
		key, err := h.archiver.ArchiveExport(r.Context(), companyID, result, format)
		h.observeJob(jobs.JobTypeArchiveUpload, uploadStart, err != nil)
		if err != nil {
			slog.ErrorContext(r.Context(), "failed to archive audit export", "error", err, "company_id", companyID)
			ctx := middleware.SetErrorCode(r.Context(), ErrCodeInternal)
			WriteError(w, ctx, http.StatusInternalServerError, ErrCodeInternal, "Failed to archive export")
			return
		}

		slog.InfoContext(r.Context(), "audit export archived",
			"company_id", companyID,
			"object_key", key,
			"entries", result.Entries,
			"chain_status", result.Chain.Status,
		)
		writeJSON(w, r, http.StatusOK, ExportArchivedResponse{
			ObjectKey: key,
			Entries:   result.Entries,
			Chain:     result.Chain,
		})
		return
	}

	w.Header().Set("Content-Type", result.ContentType)
	w.Header().Set("X-Export-Entries", strconv.Itoa(result.Entries))
	w.Header().Set("X-Export-Chain-Status", string(result.Chain.Status))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(result.Data); err != nil {
		slog.ErrorContext(r.Context(), "failed to write export response", "error", err)
	}
}

// filterFromQuery builds an audit filter from URL query parameters.
func (h *AuditHandlers) filterFromQuery(r *http.Request, companyID string) (audit.Filter, error) {
	q := r.URL.Query()
	return h.buildFilter(companyID, q.Get("event_types"), q.Get("entity_type"),
		q.Get("entity_id"), q.Get("actor_id"), q.Get("from"), q.Get("to"), q.Get("limit"))
}

// filterFromExportRequest builds an audit filter from an export request
// body. Exports are not limit-capped by the page limit; the repository's
// hard cap still applies.
func (h *AuditHandlers) filterFromExportRequest(req ExportRequest, companyID string) (audit.Filter, error) {
	return h.buildFilter(companyID, req.EventTypes, req.EntityType,
		req.EntityID, req.ActorID, req.From, req.To, "")
}

func (h *AuditHandlers) buildFilter(companyID, eventTypes, entityType, entityID, actorID, from, to, limit string) (audit.Filter, error) {
	filter := audit.Filter{
		CompanyID:  companyID,
		EntityType: strings.TrimSpace(entityType),
		EntityID:   strings.TrimSpace(entityID),
		ActorID:    strings.TrimSpace(actorID),
		Limit:      h.pageLimit,
	}

	if eventTypes != "" {
		for _, raw := range strings.Split(eventTypes, ",") {
			et := audit.EventType(strings.TrimSpace(raw))
			if et == "" {
				continue
			}
			if !audit.ValidEventTypes[et] {
				return audit.Filter{}, fmt.Errorf("unknown event type: %q", et)
			}
			filter.EventTypes = append(filter.EventTypes, et)
		}
	}

	if from != "" {
		t, err := time.Parse(time.RFC3339, from)
		if err != nil {
			return audit.Filter{}, fmt.Errorf("'from' must be RFC3339: %v", err)
		}
		filter.From = t
	}
	if to != "" {
		t, err := time.Parse(time.RFC3339, to)
		if err != nil {
			return audit.Filter{}, fmt.Errorf("'to' must be RFC3339: %v", err)
		}
		filter.To = t
	}
	if !filter.From.IsZero() && !filter.To.IsZero() && filter.To.Before(filter.From) {
		return audit.Filter{}, fmt.Errorf("'to' must not be before 'from'")
	}

	if limit != "" {
		n, err := strconv.Atoi(limit)
		if err != nil || n <= 0 {
			return audit.Filter{}, fmt.Errorf("'limit' must be a positive integer")
		}
		if n < filter.Limit {
			filter.Limit = n
		}
	}

	return filter, nil
}

// writeJSON encodes a JSON response body with the given status.
func writeJSON(w http.ResponseWriter, r *http.Request, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.ErrorContext(r.Context(), "failed to encode response", "error", err)
	}
}
