package external

import (
	"context"
	"fmt"
	"log/slog"

	"lodgemail/internal/types"
)

// Stub implementations let the service boot in local/test mode without real
// provider credentials. They log every call and return predictable values.

// StubEmailProvider implements EmailProvider by logging calls and returning
// a fake message ID. Used when Email.Provider is "stub" or APP_ENV=local.
type StubEmailProvider struct {
	logger *slog.Logger
}

// NewStubEmailProvider creates a new StubEmailProvider.
func NewStubEmailProvider(logger *slog.Logger) *StubEmailProvider {
	return &StubEmailProvider{logger: logger}
}

func (s *StubEmailProvider) Send(ctx context.Context, input types.SendInput) (string, error) {
	s.logger.InfoContext(ctx, "stub: Send email called",
		"to", input.To,
		"subject", input.Subject,
		"from", input.From.Address,
	)
	return fmt.Sprintf("msg_stub_%s", input.ReferenceID), nil
}

var _ EmailProvider = (*StubEmailProvider)(nil)
