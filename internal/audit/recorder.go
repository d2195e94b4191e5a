package audit

import (
	"context"

	"github.com/daryls-hrplus/intellihrm-sub048/internal/middleware"
)

// Record appends an entry to the audit trail, filling tenant and actor from
// the request context when the input leaves them unset. A nil ActorID after
// context resolution marks the event as system-initiated.
//
// Error handling: recording is fail-closed - if the append fails, the error
// is returned to the caller so the tracked action can be surfaced as
// unaudited. Compliance requirements take precedence over availability here.
func Record(ctx context.Context, repo Repository, input RecordInput) (*Entry, error) {
	if repo == nil {
		return nil, ErrNilRepository
	}

	if input.CompanyID == "" {
		input.CompanyID = middleware.GetCompanyID(ctx)
	}
	if input.ActorID == nil {
		if actor := middleware.GetActorID(ctx); actor != "" {
			input.ActorID = &actor
		}
	}

	if err := validateRecordInput(input); err != nil {
		return nil, err
	}

	return repo.Append(ctx, input)
}

// RecordSystem appends a system-initiated entry (no actor), bypassing
// context resolution. Used by schedulers and background jobs.
func RecordSystem(ctx context.Context, repo Repository, input RecordInput) (*Entry, error) {
	if repo == nil {
		return nil, ErrNilRepository
	}
	input.ActorID = nil
	if err := validateRecordInput(input); err != nil {
		return nil, err
	}
	return repo.Append(ctx, input)
}
