package store

import (
	"context"

	"github.com/rudransh-shrivastava/swapbytes/internal/db"
)

// TransferRepository records files exchanged with peers.
type TransferRepository interface {
	RecordTransfer(ctx context.Context, t db.Transfer) (db.Transfer, error)
	ListTransfers(ctx context.Context, limit int) ([]db.Transfer, error)
	TransfersByPeer(ctx context.Context, peerID string) ([]db.Transfer, error)
}
