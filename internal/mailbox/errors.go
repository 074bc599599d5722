package mailbox

import (
	"errors"
	"fmt"
)

// AuthError indicates that the server rejected the credentials.
type AuthError struct {
	Account string
	Err     error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("authentication failed for %s: %v", e.Account, e.Err)
}

func (e *AuthError) Unwrap() error { return e.Err }

// NetworkError indicates the server could not be reached or the connection
// was lost.
type NetworkError struct {
	Op   string
	Addr string
	Err  error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Addr, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// FolderError indicates the folder is missing or cannot be selected.
type FolderError struct {
	Folder string
	Err    error
}

func (e *FolderError) Error() string {
	return fmt.Sprintf("selecting folder %q: %v", e.Folder, e.Err)
}

func (e *FolderError) Unwrap() error { return e.Err }

// FetchError reports that a single message could not be retrieved. The
// caller skips the message and carries on.
type FetchError struct {
	UID      uint32
	Position int
	Err      error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetching message %d (uid %d): %v", e.Position, e.UID, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// IsAuthError reports whether err (or any error in its chain) is an AuthError.
func IsAuthError(err error) bool {
	var authErr *AuthError
	return errors.As(err, &authErr)
}

// IsNetworkError reports whether err (or any error in its chain) is a
// NetworkError.
func IsNetworkError(err error) bool {
	var netErr *NetworkError
	return errors.As(err, &netErr)
}

// IsFolderError reports whether err (or any error in its chain) is a
// FolderError.
func IsFolderError(err error) bool {
	var folderErr *FolderError
	return errors.As(err, &folderErr)
}

// IsFetchError reports whether err (or any error in its chain) is a
// FetchError.
func IsFetchError(err error) bool {
	var fetchErr *FetchError
	return errors.As(err, &fetchErr)
}

// IsConnectionError reports whether err belongs to the connection phase
// (auth, network or folder) and should end the run.
func IsConnectionError(err error) bool {
	return IsAuthError(err) || IsNetworkError(err) || IsFolderError(err)
}
