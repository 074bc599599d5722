package model

import "strings"

// Credentials identifies an IMAP account and the secret used to log in.
type Credentials struct {
	// Account is the account identifier, usually the full email address.
	// It doubles as the progress key.
	Account string `json:"account"`

	// Password is the account password or app-specific password.
	Password string `json:"-"`
}

// LocalPart returns the part of the account before the "@", used as the
// per-account download subfolder. Accounts without an "@" are returned
// unchanged.
func (c Credentials) LocalPart() string {
	return AccountLocalPart(c.Account)
}

// AccountLocalPart returns the mailbox name of an address.
func AccountLocalPart(account string) string {
	local, _, found := strings.Cut(account, "@")
	if !found || local == "" {
		return account
	}
	return local
}

// MessageRef is one entry in a mailbox listing.
type MessageRef struct {
	// UID is the server-assigned identifier of the message.
	UID uint32 `json:"uid"`

	// Position is the 1-based index of the message in the listing.
	Position int `json:"position"`
}

// AttachmentPart is a single named file carried by a message.
type AttachmentPart struct {
	Filename string
	MIMEType string
	Payload  []byte
}
