// Package mailbox opens authenticated IMAP sessions and exposes the handful
// of operations the downloader needs: select a folder, list every message
// and fetch one raw message.
package mailbox

import (
	"context"

	"github.com/nhle/emailflesh/internal/model"
)

// Session is an open, authenticated mailbox connection.
type Session interface {
	// SelectFolder opens the named folder. Fails with *FolderError.
	SelectFolder(ctx context.Context, name string) error

	// ListAll returns every message in the selected folder in the order the
	// server reports them. Positions are 1-based.
	ListAll(ctx context.Context) ([]model.MessageRef, error)

	// FetchRaw returns the full RFC 5322 bytes of one message. Fails with
	// *FetchError for per-message problems and *NetworkError when the
	// connection itself is gone.
	FetchRaw(ctx context.Context, ref model.MessageRef) ([]byte, error)

	// Close logs out and releases the connection. Safe to call more than
	// once and after earlier failures.
	Close() error
}

// Dialer opens sessions.
type Dialer interface {
	// Connect dials, negotiates TLS and logs in. Fails with *NetworkError
	// or *AuthError.
	Connect(ctx context.Context, creds model.Credentials) (Session, error)
}
