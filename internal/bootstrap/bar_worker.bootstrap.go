package bootstrap

import (
	"context"

	"github.com/quantbench/marketfeed-service/internal/config"
	"github.com/quantbench/marketfeed-service/internal/infrastructure"
	"github.com/quantbench/marketfeed-service/internal/repository"
	"github.com/quantbench/marketfeed-service/internal/service/history"
	"github.com/quantbench/marketfeed-service/internal/util"
	"github.com/spf13/cobra"
)

// StartBarWorker runs the persistence side: a JetStream queue consumer that
// writes sealed and backfilled bars into the historical cache.
func StartBarWorker(cmd *cobra.Command, args []string) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := infrastructure.NewPostgresConnection(ctx, config.Env.Database["market_data"])
	util.ContinueOrFatal(err)
	infrastructure.StartPostgresHealthCheck(ctx, db, config.Env.Database["market_data"].PingInterval)

	nc, js, err := infrastructure.NewJetstream()
	util.ContinueOrFatal(err)

	barRepo := repository.NewBarRepository(db)
	syncStatusRepo := repository.NewSyncStatusRepository(db)

	historyService := history.NewService(js, barRepo, syncStatusRepo, config.Env.Market.EventMaxAge)

	err = historyService.JetstreamEventSubscribe(ctx)
	util.ContinueOrFatal(err)

	wait := gracefulShutdown(ctx, config.Env.GracefulShutdownTimeout, map[string]operation{
		"database": func(ctx context.Context) error {
			cancel()
			return db.Close()
		},
		"nats connection": func(ctx context.Context) error {
			return infrastructure.CloseJetstream(nc)
		},
	})

	<-wait
}
