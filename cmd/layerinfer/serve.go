package main

import (
	"context"
	"errors"
	"net/http"
	"os"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/opengraphlabs/layerinfer/internal/config"
	"github.com/opengraphlabs/layerinfer/internal/events"
	"github.com/opengraphlabs/layerinfer/internal/inference"
	"github.com/opengraphlabs/layerinfer/internal/middleware/ratelimit"
	"github.com/opengraphlabs/layerinfer/internal/modelquery"
	"github.com/opengraphlabs/layerinfer/internal/runstore"
	"github.com/opengraphlabs/layerinfer/internal/server"
	"github.com/opengraphlabs/layerinfer/internal/session"
	"github.com/opengraphlabs/layerinfer/internal/ws"
	"github.com/opengraphlabs/layerinfer/pkg/logger"
)

func newServeCommand(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP and websocket API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := bootstrap(cmd, *configPath, os.Stdout)
			if err != nil {
				return err
			}
			defer a.logger.Sync()
			return a.serve(cmd.Context())
		},
	}
	addLedgerFlags(cmd)
	return cmd
}

func (a *app) serve(ctx context.Context) error {
	log := a.logger
	cfg := a.cfg

	shutdownTracing, err := a.setupTracing(os.Stderr)
	if err != nil {
		return err
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			log.Warn("Failed to flush traces", zap.Error(err))
		}
	}()

	if cfg.Inference.ChainDelay < inference.DefaultChainDelay {
		log.Warn("Chain delay below the recommended minimum",
			zap.Duration("chain_delay", cfg.Inference.ChainDelay),
			zap.Duration("recommended", inference.DefaultChainDelay))
	}
	defaultMode, err := inference.ParseMode(cfg.Inference.DefaultMode)
	if err != nil {
		return err
	}

	store, err := runstore.Open(cfg.Store, log.Named("runstore"))
	if err != nil {
		return err
	}
	defer store.Close()

	builder, err := a.builder()
	if err != nil {
		return err
	}
	client, err := a.dialLedger(ctx)
	if err != nil {
		return err
	}
	defer client.Close()

	models := modelquery.NewCachedClient(a.modelSource(), cfg.ModelCache.TTL, cfg.ModelCache.Capacity)
	models.Start()
	defer models.Stop()

	fanout, closers := a.publishers()
	defer func() {
		for _, c := range closers {
			if err := c(); err != nil {
				log.Warn("Failed to close event publisher", zap.Error(err))
			}
		}
	}()

	hubCfg := ws.DefaultConfig()
	hubCfg.AllowedOrigins = cfg.HTTP.AllowedOrigins
	hub := ws.NewHub(hubCfg, log.Named("ws"))
	defer hub.Close()

	opts := []session.Option{session.WithBroadcaster(hub), session.WithRunSaver(store)}
	if fanout.Len() > 0 {
		opts = append(opts, session.WithEventSink(fanout))
	}
	mgr := session.NewManager(models, builder, client, session.Config{
		ChainDelay:  cfg.Inference.ChainDelay,
		MaxSessions: cfg.Inference.MaxSessions,
	}, log.Named("session"), opts...)
	defer mgr.Shutdown()

	var srvOpts []server.Option
	if cfg.RateLimit.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RateLimit.RedisAddr})
		defer rdb.Close()
		srvOpts = append(srvOpts, server.WithRunLimiter(
			ratelimit.NewRedisLimiter(rdb, cfg.RateLimit.Window, cfg.RateLimit.RunsPerWindow)))
	}

	g, gctx := errgroup.WithContext(ctx)
	api := server.NewServer(gctx, server.Config{
		ServiceName:    cfg.Tracing.ServiceName,
		AllowedOrigins: cfg.HTTP.AllowedOrigins,
		DefaultMode:    defaultMode,
	}, log.Named("http"), mgr, models, store, hub, srvOpts...)

	httpSrv := &http.Server{
		Addr:         cfg.HTTP.Addr,
		Handler:      api.Router(),
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}

	a.loader.Watch(func(c *config.Config) {
		a.level.SetLevel(logger.ParseLevel(c.Log.Level))
	})

	g.Go(func() error {
		log.Info("Starting API server", zap.String("addr", cfg.HTTP.Addr), zap.String("network", cfg.Ledger.Network))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("Shutting down server...")
		sctx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
		defer cancel()
		return httpSrv.Shutdown(sctx)
	})

	err = g.Wait()
	log.Info("Server exited", zap.Error(err))
	return err
}

// publishers builds the configured event backends.
func (a *app) publishers() (*events.FanOut, []func() error) {
	cfg := a.cfg.Events
	log := a.logger.Named("events")
	fanout := events.NewFanOut(log)
	var closers []func() error

	if len(cfg.KafkaBrokers) > 0 {
		k := events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic, log)
		fanout.Add("kafka", k)
		closers = append(closers, k.Close)
	}
	if cfg.RedisAddr != "" {
		r := events.NewRedisPublisher(cfg.RedisAddr, log)
		fanout.Add("redis", r)
		closers = append(closers, r.Close)
	}
	if cfg.WebhookURL != "" {
		fanout.Add("webhook", events.NewWebhookPublisher(cfg.WebhookURL, cfg.WebhookTimeout, log))
	}
	return fanout, closers
}
