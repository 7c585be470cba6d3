// Package store provides database access for the transfer ledger.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/rudransh-shrivastava/swapbytes/internal/db"
	"gorm.io/gorm"
)

var ErrInvalidTransfer = errors.New("invalid transfer")

type TransferStore struct {
	DB *gorm.DB
}

func NewTransferStore(gormDB *gorm.DB) *TransferStore {
	return &TransferStore{DB: gormDB}
}

func (ts *TransferStore) RecordTransfer(ctx context.Context, t db.Transfer) (db.Transfer, error) {
	if t.Direction != db.DirectionSent && t.Direction != db.DirectionReceived {
		return db.Transfer{}, ErrInvalidTransfer
	}
	if t.PeerID == "" || t.Resource == "" {
		return db.Transfer{}, ErrInvalidTransfer
	}
	if t.CreatedAt == 0 {
		t.CreatedAt = time.Now().Unix()
	}

	if err := ts.DB.WithContext(ctx).Create(&t).Error; err != nil {
		return db.Transfer{}, err
	}
	return t, nil
}

// ListTransfers returns the newest transfers first. A limit of zero or less
// returns all of them.
func (ts *TransferStore) ListTransfers(ctx context.Context, limit int) ([]db.Transfer, error) {
	transfers := []db.Transfer{}
	q := ts.DB.WithContext(ctx).Order("id desc")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&transfers).Error; err != nil {
		return nil, err
	}
	return transfers, nil
}

func (ts *TransferStore) TransfersByPeer(ctx context.Context, peerID string) ([]db.Transfer, error) {
	transfers := []db.Transfer{}
	err := ts.DB.WithContext(ctx).
		Where("peer_id = ?", peerID).
		Order("id asc").
		Find(&transfers).Error
	if err != nil {
		return nil, err
	}
	return transfers, nil
}

var _ TransferRepository = (*TransferStore)(nil)
