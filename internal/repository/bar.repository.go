package repository

import (
	"context"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"
	"github.com/quantbench/marketfeed-service/internal/entity"
)

type BarRepository struct {
	db *sqlx.DB
}

func NewBarRepository(db *sqlx.DB) *BarRepository {
	return &BarRepository{db: db}
}

// Upsert writes bars keyed on (instrument_id, timeframe, bucket_start). A bar
// with an existing key replaces the stored row, which is how live-to-historical
// reconciliation and corrections are applied.
func (r *BarRepository) Upsert(ctx context.Context, bars []entity.Bar) error {
	if len(bars) == 0 {
		return nil
	}

	queryBuilder := sq.StatementBuilder.
		PlaceholderFormat(sq.Dollar).
		Insert(entity.Bar{}.TableName()).
		Columns(
			"instrument_id",
			"timeframe",
			"bucket_start",
			"open_price",
			"high_price",
			"low_price",
			"close_price",
			"volume",
			"is_final",
			"created_at",
			"updated_at",
		)

	for _, bar := range bars {
		queryBuilder = queryBuilder.Values(
			bar.InstrumentID,
			bar.Timeframe,
			bar.BucketStart,
			bar.OpenPrice,
			bar.HighPrice,
			bar.LowPrice,
			bar.ClosePrice,
			bar.Volume,
			bar.IsFinal,
			bar.CreatedAt,
			bar.UpdatedAt,
		)
	}

	queryBuilder = queryBuilder.Suffix(`ON CONFLICT (instrument_id, timeframe, bucket_start)
DO UPDATE SET
	open_price = EXCLUDED.open_price,
	high_price = EXCLUDED.high_price,
	low_price = EXCLUDED.low_price,
	close_price = EXCLUDED.close_price,
	volume = EXCLUDED.volume,
	is_final = EXCLUDED.is_final,
	updated_at = EXCLUDED.updated_at`)

	query, args, err := queryBuilder.ToSql()
	if err != nil {
		return err
	}

	_, err = r.db.ExecContext(ctx, query, args...)
	return err
}

// QueryRange returns cached bars with bucket_start in [start, end), ordered
// ascending by bucket_start.
func (r *BarRepository) QueryRange(ctx context.Context, instrumentID string, timeframe entity.Timeframe, start, end time.Time) ([]entity.Bar, error) {
	queryBuilder := sq.StatementBuilder.
		PlaceholderFormat(sq.Dollar).
		Select("*").
		From(entity.Bar{}.TableName()).
		Where(sq.Eq{"instrument_id": instrumentID, "timeframe": timeframe}).
		Where(sq.GtOrEq{"bucket_start": start}).
		Where(sq.Lt{"bucket_start": end}).
		OrderBy("bucket_start asc")

	query, args, err := queryBuilder.ToSql()
	if err != nil {
		return nil, err
	}

	var bars []entity.Bar
	err = r.db.SelectContext(ctx, &bars, query, args...)
	return bars, err
}
