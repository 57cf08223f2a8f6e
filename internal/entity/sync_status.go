package entity

import (
	"time"

	"github.com/guregu/null/v6"
)

type SyncState string

const (
	SyncStatePending SyncState = "pending"
	SyncStateSyncing SyncState = "syncing"
	SyncStateSynced  SyncState = "synced"
	SyncStateFailed  SyncState = "failed"
)

// SyncStatus is advisory metadata per (instrument, timeframe): it tells the
// backfill fetch collaborator how fresh the cached range is, it is not a
// correctness guarantee for queries.
type SyncStatus struct {
	InstrumentID string      `db:"instrument_id" json:"instrument_id"`
	Timeframe    Timeframe   `db:"timeframe" json:"timeframe"`
	State        SyncState   `db:"state" json:"state"`
	LastSyncedAt null.Time   `db:"last_synced_at" json:"last_synced_at"`
	ErrorDetail  null.String `db:"error_detail" json:"error_detail,omitempty"`
	CreatedAt    time.Time   `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time   `db:"updated_at" json:"updated_at"`
}

func (SyncStatus) TableName() string {
	return "bar_sync_statuses"
}
