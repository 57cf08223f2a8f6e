package bootstrap

import (
	"context"
	"net/http"

	"github.com/quantbench/marketfeed-service/internal/config"
	marketdatahttp "github.com/quantbench/marketfeed-service/internal/handler/marketdata/http"
	"github.com/quantbench/marketfeed-service/internal/infrastructure"
	"github.com/quantbench/marketfeed-service/internal/repository"
	"github.com/quantbench/marketfeed-service/internal/service/history"
	"github.com/quantbench/marketfeed-service/internal/service/livestore"
	"github.com/quantbench/marketfeed-service/internal/service/series"
	"github.com/quantbench/marketfeed-service/internal/util"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// StartAPI serves the chart-facing read surface: merged bar series, gap
// listings for the backfill collaborator, sync status, and connection state.
func StartAPI(cmd *cobra.Command, args []string) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := infrastructure.NewPostgresConnection(ctx, config.Env.Database["market_data"])
	util.ContinueOrFatal(err)
	infrastructure.StartPostgresHealthCheck(ctx, db, config.Env.Database["market_data"].PingInterval)

	nc, js, err := infrastructure.NewJetstream()
	util.ContinueOrFatal(err)

	liveStore, err := livestore.NewRedisLiveBarStore(config.Env.Redis["live_bars"].CacheDSN, config.Env.Market.LiveBarTTL)
	util.ContinueOrFatal(err)

	barRepo := repository.NewBarRepository(db)
	syncStatusRepo := repository.NewSyncStatusRepository(db)

	historyService := history.NewService(js, barRepo, syncStatusRepo, config.Env.Market.EventMaxAge)
	merger := series.NewMerger(historyService, liveStore)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})

	handler := marketdatahttp.NewMarketDataHTTPHandler(merger, historyService, liveStore)
	handler.Register(mux)

	httpServer := infrastructure.NewHTTPServerWithConfig(infrastructure.DefaultHTTPServerConfig(), mux)
	go func() {
		if err := httpServer.Start(); err != nil {
			logrus.Fatalf("http server failed: %v", err)
		}
	}()

	wait := gracefulShutdown(ctx, config.Env.GracefulShutdownTimeout, map[string]operation{
		"http server": func(ctx context.Context) error {
			return httpServer.Shutdown(ctx)
		},
		"database": func(ctx context.Context) error {
			cancel()
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
