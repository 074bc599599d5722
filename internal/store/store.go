package store

import (
	"context"

	"github.com/nhle/emailflesh/internal/model"
)

// HistoryFilter controls filtering and pagination for ledger queries.
type HistoryFilter struct {
	Account *string
	Since   *int // minimum message index, inclusive
	Limit   int
	Offset  int
}

// Store is the download ledger: one row per attachment written to disk.
// It is a record for the user, never consulted to skip work.
type Store interface {
	RecordDownload(ctx context.Context, rec model.DownloadRecord) error
	ListDownloads(ctx context.Context, opts HistoryFilter) ([]model.DownloadRecord, error)
	CountDownloads(ctx context.Context, account string) (int, error)
	DeleteAccountHistory(ctx context.Context, account string) (int64, error)
	Close() error
}
