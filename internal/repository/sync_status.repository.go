package repository

import (
	"context"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"
	"github.com/quantbench/marketfeed-service/internal/entity"
)

type SyncStatusRepository struct {
	db *sqlx.DB
}

func NewSyncStatusRepository(db *sqlx.DB) *SyncStatusRepository {
	return &SyncStatusRepository{db: db}
}

func (r *SyncStatusRepository) Upsert(ctx context.Context, status *entity.SyncStatus) error {
	queryBuilder := sq.StatementBuilder.
		PlaceholderFormat(sq.Dollar).
		Insert(entity.SyncStatus{}.TableName()).
		Columns(
			"instrument_id",
			"timeframe",
			"state",
			"last_synced_at",
			"error_detail",
			"created_at",
			"updated_at",
		).
		Values(
			status.InstrumentID,
			status.Timeframe,
			status.State,
			status.LastSyncedAt,
			status.ErrorDetail,
			status.CreatedAt,
			status.UpdatedAt,
		).
		Suffix(`ON CONFLICT (instrument_id, timeframe)
DO UPDATE SET
	state = EXCLUDED.state,
	last_synced_at = EXCLUDED.last_synced_at,
	error_detail = EXCLUDED.error_detail,
	updated_at = EXCLUDED.updated_at`)

	query, args, err := queryBuilder.ToSql()
	if err != nil {
		return err
	}

	_, err = r.db.ExecContext(ctx, query, args...)
	return err
}

func (r *SyncStatusRepository) Get(ctx context.Context, instrumentID string, timeframe entity.Timeframe) (*entity.SyncStatus, error) {
	var status entity.SyncStatus
	err := r.db.GetContext(ctx, &status, "SELECT * FROM bar_sync_statuses WHERE instrument_id = $1 AND timeframe = $2", instrumentID, timeframe)
	if err != nil {
		return nil, err
	}
	return &status, nil
}

func (r *SyncStatusRepository) GetAll(ctx context.Context) ([]entity.SyncStatus, error) {
	var statuses []entity.SyncStatus
	err := r.db.SelectContext(ctx, &statuses, "SELECT * FROM bar_sync_statuses order by updated_at desc")
	return statuses, err
}
