package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"lodgemail/internal/types"
)

// Store is the subset of the dispatch repository used by the service's
// user-initiated operations.
type Store interface {
	Create(ctx context.Context, rec *types.DispatchRecord) error
	Get(ctx context.Context, id string) (*types.DispatchRecord, error)
	Cancel(ctx context.Context, id string, at time.Time) (types.DispatchState, error)
	List(ctx context.Context, filter types.DispatchFilter) ([]*types.DispatchRecord, error)
}

// ScheduleInput is the payload for scheduling a deferred email.
type ScheduleInput struct {
	Recipients    []string
	Subject       string
	BodyHTML      string
	ScheduledAt   time.Time
	Kind          types.DispatchKind
	CorrelationID string
	TenantID      string
}

// SendNowInput is the payload for the immediate-send path.
type SendNowInput struct {
	Recipients []string
	Subject    string
	BodyHTML   string
	TenantID   string
}

// Service implements the user-initiated dispatch operations: schedule,
// immediate send, cancel, and the read endpoints. Background delivery of
// scheduled records lives in scheduler.TickService.
type Service struct {
	store      Store
	resolver   *Resolver
	dispatcher *Dispatcher
	logger     *slog.Logger
	now        func() time.Time
}

// NewService creates a dispatch Service.
func NewService(store Store, resolver *Resolver, dispatcher *Dispatcher, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:      store,
		resolver:   resolver,
		dispatcher: dispatcher,
		logger:     logger,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// WithNowFunc overrides the clock, for deterministic tests.
func (s *Service) WithNowFunc(now func() time.Time) *Service {
	s.now = now
	return s
}

// Schedule validates the input and creates a dispatch record in the
// scheduled state. A scheduled_at in the past is allowed; the record
// becomes due on the next tick.
func (s *Service) Schedule(ctx context.Context, input ScheduleInput) (*types.DispatchRecord, error) {
	if err := validateContent(input.Subject, input.BodyHTML, input.Recipients); err != nil {
		return nil, err
	}
	if input.ScheduledAt.IsZero() {
		return nil, types.NewAppError(types.ErrCodeValidationMissingField, "scheduled_at is required", nil)
	}

	kind := input.Kind
	if kind == "" {
		kind = types.KindAdHoc
	}

	rec := &types.DispatchRecord{
		Recipients:    dedupAddresses(input.Recipients),
		Subject:       input.Subject,
		BodyHTML:      input.BodyHTML,
		ScheduledAt:   input.ScheduledAt.UTC(),
		State:         types.StateScheduled,
		Kind:          kind,
		CorrelationID: input.CorrelationID,
		TenantID:      input.TenantID,
	}

	if err := s.store.Create(ctx, rec); err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "dispatch record scheduled",
		"dispatch_id", rec.ID,
		"scheduled_at", rec.ScheduledAt,
		"kind", rec.Kind,
		"tenant_id", rec.TenantID,
	)
	return rec, nil
}

// SendNow resolves recipients and delivers immediately, bypassing the
// store entirely. Nothing is persisted for this path; the returned result
// is the only trace besides logs. Partial delivery is reflected in the
// result, not rolled back.
func (s *Service) SendNow(ctx context.Context, input SendNowInput) (DeliveryResult, error) {
	if err := validateContent(input.Subject, input.BodyHTML, input.Recipients); err != nil {
		return DeliveryResult{}, err
	}

	recipients := s.resolver.ResolveExplicit(ctx, input.Recipients, input.TenantID)

	// A synthetic record carries the content through the dispatcher; it
	// never touches the store.
	rec := &types.DispatchRecord{
		ID:       fmt.Sprintf("adhoc_%d", s.now().UnixNano()),
		Subject:  input.Subject,
		BodyHTML: input.BodyHTML,
		TenantID: input.TenantID,
	}

	result := s.dispatcher.Deliver(ctx, rec, recipients)

	s.logger.InfoContext(ctx, "immediate send completed",
		"delivered", result.Delivered,
		"attempted", result.Attempted,
		"tenant_id", input.TenantID,
	)
	return result, nil
}

// Cancel transitions a scheduled record to cancelled. A record already in
// a terminal state is reported with its current state and never mutated,
// so cancelling twice is safe.
func (s *Service) Cancel(ctx context.Context, id string) (types.DispatchState, error) {
	state, err := s.store.Cancel(ctx, id, s.now())
	if err != nil {
		return "", err
	}

	if state != types.StateCancelled {
		s.logger.InfoContext(ctx, "cancel requested for terminal record, no-op",
			"dispatch_id", id,
			"state", state,
		)
	} else {
		s.logger.InfoContext(ctx, "dispatch record cancelled", "dispatch_id", id)
	}
	return state, nil
}

// Get returns one dispatch record by ID.
func (s *Service) Get(ctx context.Context, id string) (*types.DispatchRecord, error) {
	return s.store.Get(ctx, id)
}

// List returns dispatch records matching the filter.
func (s *Service) List(ctx context.Context, filter types.DispatchFilter) ([]*types.DispatchRecord, error) {
	return s.store.List(ctx, filter)
}

// validateContent checks the fields shared by Schedule and SendNow.
func validateContent(subject, bodyHTML string, recipients []string) error {
	if subject == "" {
		return types.NewAppError(types.ErrCodeValidationMissingField, "subject is required", nil)
	}
	if bodyHTML == "" {
		return types.NewAppError(types.ErrCodeValidationMissingField, "body is required", nil)
	}
	for _, addr := range recipients {
		if addr == "" {
			continue
		}
		if !types.ValidEmail(addr) {
			return types.NewAppErrorWithDetails(
				types.ErrCodeValidationInvalidEmail,
				fmt.Sprintf("invalid recipient address: %s", addr),
				nil,
				map[string]any{"recipient": addr},
			)
		}
	}
	return nil
}
