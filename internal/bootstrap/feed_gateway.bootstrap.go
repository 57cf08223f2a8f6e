package bootstrap

import (
	"context"

	"github.com/quantbench/marketfeed-service/internal/config"
	"github.com/quantbench/marketfeed-service/internal/constant"
	"github.com/quantbench/marketfeed-service/internal/entity"
	"github.com/quantbench/marketfeed-service/internal/infrastructure"
	"github.com/quantbench/marketfeed-service/internal/repository"
	"github.com/quantbench/marketfeed-service/internal/service/aggregator"
	"github.com/quantbench/marketfeed-service/internal/service/connection"
	"github.com/quantbench/marketfeed-service/internal/service/gateway"
	"github.com/quantbench/marketfeed-service/internal/service/history"
	"github.com/quantbench/marketfeed-service/internal/service/livestore"
	"github.com/quantbench/marketfeed-service/internal/service/subscription"
	"github.com/quantbench/marketfeed-service/internal/util"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// StartFeedGateway runs the ingestion side: one persistent gateway connection,
// the subscription coordinator, per-timeframe bar aggregators, redis live-bar
// snapshots, and sealed-bar publication to JetStream.
func StartFeedGateway(cmd *cobra.Command, args []string) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := infrastructure.NewPostgresConnection(ctx, config.Env.Database["market_data"])
	util.ContinueOrFatal(err)
	infrastructure.StartPostgresHealthCheck(ctx, db, config.Env.Database["market_data"].PingInterval)

	nc, js, err := infrastructure.NewJetstream()
	util.ContinueOrFatal(err)

	err = history.EnsureBarStream(ctx, js)
	util.ContinueOrFatal(err)

	liveStore, err := livestore.NewRedisLiveBarStore(config.Env.Redis["live_bars"].CacheDSN, config.Env.Market.LiveBarTTL)
	util.ContinueOrFatal(err)

	feedSubscriptionRepo := repository.NewFeedSubscriptionRepository(db)

	wsGateway, err := gateway.NewWSGateway(config.Env.Gateway)
	util.ContinueOrFatal(err)

	manager := connection.NewManager(wsGateway, config.Env.Gateway)
	coordinator := subscription.NewCoordinator(wsGateway, manager, config.Env.Gateway.SubscribeTimeout)

	aggregators := make([]*aggregator.Aggregator, 0, len(config.Env.Market.Timeframes))
	for _, raw := range config.Env.Market.Timeframes {
		timeframe := entity.Timeframe(raw)
		agg, err := aggregator.New(timeframe)
		util.ContinueOrFatal(err)

		agg.OnSealed(func(bar entity.Bar) {
			subject := constant.GetBarStreamSubject(bar.InstrumentID, string(bar.Timeframe))
			if err := util.PublishEvent(js, subject, entity.BarEvent{Data: bar}); err != nil {
				logrus.Errorf("failed to publish sealed bar %s/%s: %v", bar.InstrumentID, bar.Timeframe, err)
			}
		})

		aggregators = append(aggregators, agg)
	}

	manager.SetMessageHandler(func(ctx context.Context, message []byte) error {
		tick, err := gateway.ParseTick(message)
		if err != nil {
			return err
		}
		if tick == nil {
			return nil
		}

		for _, agg := range aggregators {
			agg.OnTick(*tick)
			if bar := agg.CurrentBar(tick.InstrumentID); bar != nil {
				if err := liveStore.SaveCurrent(ctx, *bar); err != nil {
					logrus.Debugf("live bar snapshot failed: %v", err)
				}
			}
		}

		return nil
	})

	subscribeAll := func(ctx context.Context) {
		subs, err := feedSubscriptionRepo.GetAll(ctx)
		if err != nil {
			logrus.Errorf("error loading feed subscriptions: %v", err)
			return
		}

		for _, sub := range subs {
			result, err := coordinator.Subscribe(ctx, sub.InstrumentID)
			if err != nil {
				logrus.Errorf("subscribe failed: %v", err)
				continue
			}
			logrus.WithFields(logrus.Fields{
				"instrument_id": result.InstrumentID,
				"subscribed":    result.Subscribed,
				"fallback":      result.UsedFallback,
			}).Info("instrument subscription established")
		}
	}

	manager.OnStateChange(coordinator.HandleConnectionChange)
	manager.OnStateChange(func(change entity.ConnectionStateChange) {
		if err := liveStore.SaveConnectionState(ctx, change); err != nil {
			logrus.Debugf("connection state snapshot failed: %v", err)
		}
		// Subscriptions do not survive a reconnect; re-establish them every
		// time the manager reports Connected.
		if change.State == entity.ConnectionConnected {
			go subscribeAll(ctx)
		}
	})

	err = manager.Connect(ctx, entity.GatewayCredentials{Token: config.Env.Gateway.Token})
	util.ContinueOrFatal(err)

	subscribeAll(ctx)

	wait := gracefulShutdown(ctx, config.Env.GracefulShutdownTimeout, map[string]operation{
		"gateway connection": func(ctx context.Context) error {
			manager.Disconnect()
			cancel()
			return nil
		},
		"database": func(ctx context.Context) error {
			return db.Close()
		},
		"nats connection": func(ctx context.Context) error {
			return infrastructure.CloseJetstream(nc)
		},
		"redis connection": func(ctx context.Context) error {
			return liveStore.Close()
		},
	})

	<-wait
}
