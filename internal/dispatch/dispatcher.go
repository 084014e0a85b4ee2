package dispatch

import (
	"context"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"lodgemail/internal/external"
	"lodgemail/internal/types"
)

// maxConcurrentSends bounds the per-record delivery fan-out so a large
// recipient list cannot exhaust provider connections.
const maxConcurrentSends = 8

// DeliveryResult summarizes one delivery attempt across all recipients of
// a record.
type DeliveryResult struct {
	// Delivered is the number of recipients the provider accepted.
	Delivered int
	// Attempted is the total number of recipients.
	Attempted int
	// FirstErr is the error for the lowest-indexed failed recipient, nil
	// when everything succeeded. Using recipient order rather than
	// completion order keeps the captured error deterministic.
	FirstErr error
}

// AllDelivered reports whether every recipient was accepted.
func (r DeliveryResult) AllDelivered() bool {
	return r.FirstErr == nil && r.Delivered == r.Attempted
}

// Dispatcher delivers one email to a list of recipients via the configured
// EmailProvider, one Send call per recipient, issued concurrently.
//
// Partial delivery is accepted: recipients that succeeded before another
// one failed stay delivered, and the record as a whole is marked failed.
// Nothing is rolled back or retried.
type Dispatcher struct {
	provider external.EmailProvider
	from     types.EmailAddress
	logger   *slog.Logger
}

// NewDispatcher creates a Dispatcher sending from the given identity.
func NewDispatcher(provider external.EmailProvider, from types.EmailAddress, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		provider: provider,
		from:     from,
		logger:   logger,
	}
}

// Deliver sends the record's content to every recipient. The caller is
// responsible for resolving recipients first; an empty list yields an
// empty successful result.
func (d *Dispatcher) Deliver(ctx context.Context, rec *types.DispatchRecord, recipients []string) DeliveryResult {
	result := DeliveryResult{Attempted: len(recipients)}
	if len(recipients) == 0 {
		return result
	}

	var mu sync.Mutex
	errs := make([]error, len(recipients))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentSends)

	for i, to := range recipients {
		g.Go(func() error {
			msgID, err := d.provider.Send(gctx, types.SendInput{
				To:          to,
				From:        d.from,
				Subject:     rec.Subject,
				BodyHTML:    rec.BodyHTML,
				ReferenceID: rec.ID,
			})
			if err != nil {
				errs[i] = err
				d.logger.ErrorContext(gctx, "email delivery failed",
					"dispatch_id", rec.ID,
					"recipient", to,
					"error", err,
				)
				// Other recipients keep going; returning the error here
				// would cancel the group.
				return nil
			}

			mu.Lock()
			result.Delivered++
			mu.Unlock()

			d.logger.InfoContext(gctx, "email delivered",
				"dispatch_id", rec.ID,
				"recipient", to,
				"provider_msg_id", msgID,
			)
			return nil
		})
	}

	// Workers never return errors, so Wait only synchronizes.
	_ = g.Wait()

	for _, err := range errs {
		if err != nil {
			result.FirstErr = err
			break
		}
	}

	return result
}
