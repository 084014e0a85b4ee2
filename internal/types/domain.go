// Package types defines the shared domain model for the LodgeMail email
// dispatch service: dispatch records and their lifecycle states, the
// transport-facing send input, tenant notification settings, and the
// application error taxonomy.
package types

import (
	"strings"
	"time"
)

// DispatchState is the lifecycle state of a dispatch record.
//
// Transitions are monotonic: scheduled -> {sent, failed, cancelled}.
// Terminal states are never re-entered or changed; a failed record is
// never retried automatically.
type DispatchState string

const (
	StateScheduled DispatchState = "scheduled"
	StateSent      DispatchState = "sent"
	StateFailed    DispatchState = "failed"
	StateCancelled DispatchState = "cancelled"
)

// IsTerminal reports whether the state permits no further transitions.
func (s DispatchState) IsTerminal() bool {
	return s == StateSent || s == StateFailed || s == StateCancelled
}

// DispatchKind tags a record with the business feature that created it.
// Kinds are attribution only; delivery logic never branches on them.
type DispatchKind string

const (
	KindReminder    DispatchKind = "reminder"
	KindTask        DispatchKind = "task"
	KindGuestNotice DispatchKind = "guest_notice"
	KindAdHoc       DispatchKind = "ad_hoc"
)

// DispatchRecord is one outbound email and its lifecycle state.
// Subject and BodyHTML are immutable once the record is created.
// Recipients may be empty at creation; resolution happens at send time
// (see dispatch.Resolver).
type DispatchRecord struct {
	ID            string        `json:"id"`
	Recipients    []string      `json:"recipients"`
	Subject       string        `json:"subject"`
	BodyHTML      string        `json:"body_html"`
	ScheduledAt   time.Time     `json:"scheduled_at"`
	State         DispatchState `json:"state"`
	Kind          DispatchKind  `json:"kind"`
	CorrelationID string        `json:"correlation_id,omitempty"`
	TenantID      string        `json:"tenant_id,omitempty"`
	CreatedAt     time.Time     `json:"created_at"`
	CompletedAt   *time.Time    `json:"completed_at,omitempty"`
	ErrorDetail   string        `json:"error_detail,omitempty"`
}

// TenantSettings holds the per-tenant notification addresses used for
// fallback recipient resolution. Read at send time, not at schedule time,
// so address changes apply to already-scheduled records.
type TenantSettings struct {
	TenantID         string   `json:"tenant_id"`
	PrimaryEmail     string   `json:"primary_email,omitempty"`
	AdditionalEmails []string `json:"additional_emails,omitempty"`
}

// EmailAddress is a sender identity for the transport.
type EmailAddress struct {
	Address string `json:"address"`
	Name    string `json:"name,omitempty"`
}

// SendInput carries one pre-rendered email to the transport provider.
type SendInput struct {
	To          string
	From        EmailAddress
	Subject     string
	BodyHTML    string
	ReferenceID string // dispatch record ID for provider-side correlation
}

// DispatchFilter scopes List queries on the dispatch store.
type DispatchFilter struct {
	TenantID string
	State    DispatchState // empty matches all states
	Kind     DispatchKind  // empty matches all kinds
	Limit    int
}

// ValidEmail performs a minimal structural check on an address. The
// transport provider is the real authority; this only rejects obvious
// garbage at the API boundary.
func ValidEmail(addr string) bool {
	at := strings.IndexByte(addr, '@')
	if at <= 0 || at == len(addr)-1 {
		return false
	}
	if strings.ContainsAny(addr, " \t\r\n") {
		return false
	}
	return strings.IndexByte(addr[at+1:], '.') > 0
}
