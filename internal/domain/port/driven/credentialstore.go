package driven

import (
	"context"
	"errors"

	"github.com/ericfisherdev/invoicedesk/internal/domain/model"
)

// Sentinel errors returned by CredentialStore implementations.
var (
	// ErrStoreUnavailable indicates the persistence backend could not be
	// reached or failed to complete a read or write. Implementations wrap the
	// underlying cause with it.
	ErrStoreUnavailable = errors.New("credential store unavailable")

	// ErrCredentialExists indicates a credential with the same email is
	// already stored.
	ErrCredentialExists = errors.New("credential already exists")
)

// CredentialStore defines the driven port for credential persistence.
// It is the only component that touches the backing file, database, or
// remote table.
type CredentialStore interface {
	// FindByEmail returns the credential whose email exactly equals email.
	// Returns nil, nil if no such credential exists.
	FindByEmail(ctx context.Context, email string) (*model.Credential, error)

	// Insert persists cred before returning. Returns ErrCredentialExists if
	// the email is already stored.
	Insert(ctx context.Context, cred model.Credential) error

	// Ping checks that the backend is reachable.
	Ping(ctx context.Context) error

	// Close releases the backend handle.
	Close() error
}
