package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/grafana/pyroscope-go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/yuridevx/proxyhub/pkg/api"
	"github.com/yuridevx/proxyhub/pkg/catalog"
	"github.com/yuridevx/proxyhub/pkg/config"
	"github.com/yuridevx/proxyhub/pkg/geoip"
	"github.com/yuridevx/proxyhub/pkg/health"
	"github.com/yuridevx/proxyhub/pkg/importer"
	"github.com/yuridevx/proxyhub/pkg/metrics"
	"github.com/yuridevx/proxyhub/pkg/providers"
	"github.com/yuridevx/proxyhub/pkg/proxytest"
	"github.com/yuridevx/proxyhub/pkg/reconciler"
	"github.com/yuridevx/proxyhub/pkg/store"
	"github.com/yuridevx/proxyhub/pkg/store/boltstore"
	"github.com/yuridevx/proxyhub/pkg/store/pgstore"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func initializeLogger(conf *config.Config) (*zap.Logger, error) {
	var logConfig zap.Config
	if conf.ZapProduction {
		logConfig = zap.NewProductionConfig()
	} else {
		logConfig = zap.NewDevelopmentConfig()
	}

	switch conf.ZapLogLevel {
	case "debug":
		logConfig.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	case "info":
		logConfig.Level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	case "warn":
		logConfig.Level = zap.NewAtomicLevelAt(zapcore.WarnLevel)
	case "error":
		logConfig.Level = zap.NewAtomicLevelAt(zapcore.ErrorLevel)
	default:
		logConfig.Level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	}

	return logConfig.Build()
}

func openStore(ctx context.Context, log *zap.Logger, conf *config.Config) (store.Store, error) {
	if conf.DSN != "" {
		return pgstore.New(ctx, log, conf.DSN)
	}
	if conf.BoltPath != "" {
		return boltstore.Open(conf.BoltPath)
	}
	return boltstore.NewDefault()
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	conf := config.NewConfig()

	logger, err := initializeLogger(conf)
	if err != nil {
		panic(err)
	}
	defer func() { _ = logger.Sync() }()

	if conf.PyroscopeURL != "" {
		profiler, err := pyroscope.Start(pyroscope.Config{
			ApplicationName: "proxyhub",
			ServerAddress:   conf.PyroscopeURL,
		})
		if err != nil {
			logger.Warn("pyroscope disabled", zap.Error(err))
		} else {
			defer func() { _ = profiler.Stop() }()
		}
	}

	st, err := openStore(ctx, logger, conf)
	if err != nil {
		logger.Fatal("open store", zap.Error(err))
	}
	defer func() { _ = st.Close() }()

	var geo *geoip.Database
	if conf.GeoIPPath != "" {
		if geo, err = geoip.Open(conf.GeoIPPath); err != nil {
			logger.Warn("geoip disabled", zap.String("path", conf.GeoIPPath), zap.Error(err))
		}
		defer func() { _ = geo.Close() }()
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	checker := proxytest.NewChecker(logger, conf.EchoURLs, time.Duration(conf.ProxyTimeoutS)*time.Second, geo, m)
	tracker := health.NewTracker(logger, st, checker,
		health.WithParallel(conf.ParallelTests),
		health.WithDeadline(time.Duration(conf.BatchDeadlineS)*time.Second),
		health.WithRetestAfter(time.Duration(conf.RetestAfterS)*time.Second),
		health.WithMetrics(m),
	)
	imp := importer.New(logger, st, providers.NewTextList(logger, nil), m, conf.DefaultTags)
	srv := api.NewServer(logger, catalog.New(logger, st), imp, tracker, api.WithGatherer(reg))

	if conf.RetestIntervalS > 0 {
		reconciler.RunReconciler(
			ctx,
			tracker.Reconcile,
			reconciler.WithLogger(logger, "retest"),
			reconciler.WithFailBackOff(&backoff.ConstantBackOff{Interval: time.Minute}),
			reconciler.WithWaitBackOff(&backoff.ConstantBackOff{Interval: time.Duration(conf.RetestIntervalS) * time.Second}),
		)
	}

	httpServer := &http.Server{
		Addr:              conf.ListenAddr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info("listening", zap.String("addr", conf.ListenAddr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server stopped", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
}
