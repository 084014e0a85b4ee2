package external

import (
	"context"

	"lodgemail/internal/types"
)

// EmailProvider abstracts the outbound email transport. Implementations
// transmit pre-rendered content (Subject, BodyHTML) to a single recipient
// per call; fan-out over multiple recipients happens above this layer.
type EmailProvider interface {
	// Send transmits one email and returns the provider's message ID for
	// correlation.
	Send(ctx context.Context, input types.SendInput) (providerMsgID string, err error)
}

// ArchiveUploader abstracts the object-store upload used by the retention
// sweep to park expired dispatch records in cold storage before deleting
// them from the database.
type ArchiveUploader interface {
	// UploadArchive uploads one compressed archive object under the given
	// key. Implementations must not delete anything on failure; the caller
	// skips the corresponding database delete when the upload errors.
	UploadArchive(ctx context.Context, key string, data []byte) error
}
