// Package handlers contains the HTTP handler implementations for the
// LodgeMail API: scheduling, immediate send, cancellation, and the read
// endpoints for dispatch records.
package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"lodgemail/internal/core"
	"lodgemail/internal/dispatch"
	"lodgemail/internal/types"
)

// DispatchService is the contract the email handler depends on. Mirrors
// the concrete dispatch.Service methods used here.
type DispatchService interface {
	Schedule(ctx context.Context, input dispatch.ScheduleInput) (*types.DispatchRecord, error)
	SendNow(ctx context.Context, input dispatch.SendNowInput) (dispatch.DeliveryResult, error)
	Cancel(ctx context.Context, id string) (types.DispatchState, error)
	Get(ctx context.Context, id string) (*types.DispatchRecord, error)
	List(ctx context.Context, filter types.DispatchFilter) ([]*types.DispatchRecord, error)
}

// ScheduleEmailRequest is the request body for POST /v1/emails/schedule.
type ScheduleEmailRequest struct {
	Recipients    []string `json:"recipients,omitempty"`
	Subject       string   `json:"subject"`
	BodyHTML      string   `json:"body_html"`
	ScheduledAt   string   `json:"scheduled_at"`
	Kind          string   `json:"kind,omitempty"`
	CorrelationID string   `json:"correlation_id,omitempty"`
	TenantID      string   `json:"tenant_id,omitempty"`
}

// SendEmailRequest is the request body for POST /v1/emails/send.
type SendEmailRequest struct {
	Recipients []string `json:"recipients,omitempty"`
	Subject    string   `json:"subject"`
	BodyHTML   string   `json:"body_html"`
	TenantID   string   `json:"tenant_id,omitempty"`
}

// ScheduleEmailResponse is returned on a successful schedule.
type ScheduleEmailResponse struct {
	ID          string    `json:"id"`
	State       string    `json:"state"`
	ScheduledAt time.Time `json:"scheduled_at"`
}

// SendEmailResponse is returned by the immediate-send path.
type SendEmailResponse struct {
	DeliveredCount int `json:"delivered_count"`
	AttemptedCount int `json:"attempted_count"`
}

// CancelEmailResponse reports the record state after a cancel request.
// State echoes the record's actual state, which differs from "cancelled"
// when the record had already reached a terminal state.
type CancelEmailResponse struct {
	ID    string `json:"id"`
	State string `json:"state"`
}

// ListEmailsResponse wraps the record list.
type ListEmailsResponse struct {
	Items []*types.DispatchRecord `json:"items"`
}

// validKinds enumerates the accepted values of the kind field.
var validKinds = map[types.DispatchKind]bool{
	types.KindReminder:    true,
	types.KindTask:        true,
	types.KindGuestNotice: true,
	types.KindAdHoc:       true,
}

// tenantFor picks the tenant for a request: an explicit body tenant_id
// wins, otherwise the authenticated key's tenant applies.
func tenantFor(bodyTenantID string, actor types.Actor) string {
	if bodyTenantID != "" {
		return bodyTenantID
	}
	return actor.TenantID
}

// EmailHandler serves the /v1/emails routes.
type EmailHandler struct {
	service DispatchService
	logger  *slog.Logger
}

// NewEmailHandler creates an EmailHandler.
func NewEmailHandler(service DispatchService, logger *slog.Logger) *EmailHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &EmailHandler{service: service, logger: logger}
}

// RegisterRoutes mounts the email routes on the provided chi.Router.
func (h *EmailHandler) RegisterRoutes(r chi.Router) {
	r.Route("/emails", func(r chi.Router) {
		r.Post("/schedule", h.Schedule)
		r.Post("/send", h.Send)
		r.Get("/", h.List)

		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.Get)
			r.Post("/cancel", h.Cancel)
		})
	})
}

// Schedule handles POST /v1/emails/schedule. Returns 201 with the new
// record's ID; a scheduled_at in the past is accepted and becomes due on
// the next tick.
func (h *EmailHandler) Schedule(w http.ResponseWriter, r *http.Request) {
	actor, ok := types.GetActor(r.Context())
	if !ok {
		core.Error(w, r, types.NewAppError(types.ErrCodeAuthTokenMissing, "Authentication required", nil))
		return
	}

	var req ScheduleEmailRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}

	if req.ScheduledAt == "" {
		core.Error(w, r, types.NewAppError(types.ErrCodeValidationMissingField, "scheduled_at is required", nil))
		return
	}
	scheduledAt, err := time.Parse(time.RFC3339, req.ScheduledAt)
	if err != nil {
		core.Error(w, r, types.NewAppErrorWithDetails(
			types.ErrCodeValidationScheduleTime,
			"scheduled_at must be an RFC 3339 timestamp",
			err,
			map[string]any{"scheduled_at": req.ScheduledAt},
		))
		return
	}

	kind := types.DispatchKind(req.Kind)
	if req.Kind != "" && !validKinds[kind] {
		core.Error(w, r, types.NewAppErrorWithDetails(
			types.ErrCodeValidationInvalidField,
			"kind must be one of reminder, task, guest_notice, ad_hoc",
			nil,
			map[string]any{"kind": req.Kind},
		))
		return
	}

	rec, err := h.service.Schedule(r.Context(), dispatch.ScheduleInput{
		Recipients:    req.Recipients,
		Subject:       req.Subject,
		BodyHTML:      req.BodyHTML,
		ScheduledAt:   scheduledAt,
		Kind:          kind,
		CorrelationID: req.CorrelationID,
		TenantID:      tenantFor(req.TenantID, actor),
	})
	if err != nil {
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusCreated, ScheduleEmailResponse{
		ID:          rec.ID,
		State:       string(rec.State),
		ScheduledAt: rec.ScheduledAt,
	})
}

// Send handles POST /v1/emails/send. Delivery happens synchronously and
// nothing is persisted; partial delivery is reported in the counts rather
// than as an error.
func (h *EmailHandler) Send(w http.ResponseWriter, r *http.Request) {
	actor, ok := types.GetActor(r.Context())
	if !ok {
		core.Error(w, r, types.NewAppError(types.ErrCodeAuthTokenMissing, "Authentication required", nil))
		return
	}

	var req SendEmailRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}

	result, err := h.service.SendNow(r.Context(), dispatch.SendNowInput{
		Recipients: req.Recipients,
		Subject:    req.Subject,
		BodyHTML:   req.BodyHTML,
		TenantID:   tenantFor(req.TenantID, actor),
	})
	if err != nil {
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusOK, SendEmailResponse{
		DeliveredCount: result.Delivered,
		AttemptedCount: result.Attempted,
	})
}

// Cancel handles POST /v1/emails/{id}/cancel. Cancelling a record that
// already reached a terminal state is a no-op reported via the state field.
func (h *EmailHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	state, err := h.service.Cancel(r.Context(), id)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusOK, CancelEmailResponse{ID: id, State: string(state)})
}

// Get handles GET /v1/emails/{id}.
func (h *EmailHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	rec, err := h.service.Get(r.Context(), id)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusOK, rec)
}

// List handles GET /v1/emails. Results are scoped to the caller's tenant
// and can be narrowed with the state, kind, and limit query parameters.
func (h *EmailHandler) List(w http.ResponseWriter, r *http.Request) {
	actor, ok := types.GetActor(r.Context())
	if !ok {
		core.Error(w, r, types.NewAppError(types.ErrCodeAuthTokenMissing, "Authentication required", nil))
		return
	}

	filter := types.DispatchFilter{
		TenantID: actor.TenantID,
		State:    types.DispatchState(r.URL.Query().Get("state")),
		Kind:     types.DispatchKind(r.URL.Query().Get("kind")),
	}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 1 {
			core.Error(w, r, types.NewAppError(types.ErrCodeValidationInvalidField, "limit must be a positive integer", nil))
			return
		}
		filter.Limit = limit
	}

	items, err := h.service.List(r.Context(), filter)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	if items == nil {
		items = []*types.DispatchRecord{}
	}

	core.JSON(w, r, http.StatusOK, ListEmailsResponse{Items: items})
}
