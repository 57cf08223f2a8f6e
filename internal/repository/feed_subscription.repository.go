package repository

import (
	"context"

	"github.com/jmoiron/sqlx"
	"github.com/quantbench/marketfeed-service/internal/entity"
)

type FeedSubscriptionRepository struct {
	db *sqlx.DB
}

func NewFeedSubscriptionRepository(db *sqlx.DB) *FeedSubscriptionRepository {
	return &FeedSubscriptionRepository{db: db}
}

func (r *FeedSubscriptionRepository) GetAll(ctx context.Context) ([]entity.FeedSubscription, error) {
	var subscriptions []entity.FeedSubscription
	err := r.db.SelectContext(ctx, &subscriptions, "SELECT * FROM feed_subscriptions order by created_at desc")
	return subscriptions, err
}

func (r *FeedSubscriptionRepository) GetByInstrument(ctx context.Context, instrumentID string) (*entity.FeedSubscription, error) {
	var subscription entity.FeedSubscription
	err := r.db.GetContext(ctx, &subscription, "SELECT * FROM feed_subscriptions WHERE instrument_id = $1", instrumentID)
	if err != nil {
		return nil, err
	}
	return &subscription, nil
}
