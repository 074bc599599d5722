package model

import "time"

// ProgressRecord is the checkpoint stored for one account.
type ProgressRecord struct {
	// Account is the key the record is stored under.
	Account string `json:"account"`

	// LastProcessed is the 1-based position of the last message whose
	// attachments were fully written. Zero means nothing processed yet.
	LastProcessed int `json:"last_processed"`

	// LastUpdated is when the checkpoint was last written.
	LastUpdated time.Time `json:"last_updated"`
}

// DownloadRecord is a ledger entry for one attachment written to disk.
type DownloadRecord struct {
	ID           string    `db:"id" json:"id"`
	Account      string    `db:"account" json:"account"`
	MessageIndex int       `db:"message_index" json:"message_index"`
	MessageUID   uint32    `db:"message_uid" json:"message_uid"`
	Filename     string    `db:"filename" json:"filename"`
	Path         string    `db:"path" json:"path"`
	Size         int64     `db:"size" json:"size"`
	SavedAt      time.Time `db:"saved_at" json:"saved_at"`
}
