package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"donorline/internal/db"
	"donorline/internal/engine"
	"donorline/internal/feed"
	"donorline/internal/migrate"
	"donorline/internal/persona"
	"donorline/internal/server"
	"donorline/internal/simulation"
)

type serveOptions struct {
	addr             string
	basePath         string
	allowLegacyActor bool
	allowDevLogin    bool
	baseInterval     time.Duration
	reapInterval     time.Duration
	staleAfter       time.Duration
	feedInterval     time.Duration
	kafkaBrokers     string
	kafkaTopic       string
	seed             int64
}

func serveCmd() *cobra.Command {
	var opts serveOptions
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server with the simulation engine",
		RunE: func(cmd *cobra.Command, args []string) error {
			secret := viper.GetString("jwt-secret")
			if secret == "" {
				return fmt.Errorf("DONORLINE_JWT_SECRET is required for bearer auth")
			}
			return serve(cmd.Context(), opts, secret)
		},
	}
	cmd.Flags().StringVar(&opts.addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&opts.basePath, "base-path", "/v0", "API base path")
	cmd.Flags().String("jwt-secret", "", "HS256 secret for bearer tokens (or DONORLINE_JWT_SECRET)")
	cmd.Flags().BoolVar(&opts.allowLegacyActor, "allow-legacy-actor", false, "accept the X-Actor-Id header without credentials")
	cmd.Flags().BoolVar(&opts.allowDevLogin, "dev-login", false, "expose POST /auth/dev/login")
	cmd.Flags().DurationVar(&opts.baseInterval, "tick-interval", simulation.DefaultBaseInterval, "simulation tick interval at speed 1")
	cmd.Flags().DurationVar(&opts.reapInterval, "reap-interval", simulation.DefaultReapInterval, "how often stale runs are swept")
	cmd.Flags().DurationVar(&opts.staleAfter, "stale-after", simulation.DefaultStaleAfter, "idle time after which a running run is reaped")
	cmd.Flags().DurationVar(&opts.feedInterval, "feed-interval", 2*time.Second, "event feed delivery interval")
	cmd.Flags().StringVar(&opts.kafkaBrokers, "kafka-brokers", "", "comma separated brokers; publishes every event when set")
	cmd.Flags().StringVar(&opts.kafkaTopic, "kafka-topic", "donorline.events", "kafka topic for the event feed")
	cmd.Flags().Int64Var(&opts.seed, "seed", 0, "random seed for fabricated data (0 uses the clock)")
	_ = viper.BindPFlag("jwt-secret", cmd.Flags().Lookup("jwt-secret"))
	return cmd
}

// serveStack is everything serve runs, wired but not started.
type serveStack struct {
	handler    http.Handler
	sims       *simulation.Registry
	reaper     *simulation.Reaper
	dispatcher *feed.Dispatcher
	kafka      *feed.KafkaSink
}

func buildServeStack(e engine.Engine, opts serveOptions, secret string, logger *zap.Logger) (*serveStack, error) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	seed := opts.seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	st := &serveStack{}
	st.sims = simulation.NewRegistry(engine.SimulationStore{Engine: e}, simulation.Options{
		BaseInterval: opts.baseInterval,
		Seed:         seed,
		Logger:       logger,
		Metrics:      simulation.NewMetrics(reg),
	})
	st.reaper = simulation.NewReaper(st.sims, opts.reapInterval, opts.staleAfter)

	var global []feed.Sink
	if opts.kafkaBrokers != "" {
		st.kafka = feed.NewKafkaSink(feed.KafkaConfig{Brokers: strings.Split(opts.kafkaBrokers, ","), Topic: opts.kafkaTopic})
		global = append(global, st.kafka)
	}
	st.dispatcher = feed.NewDispatcher(e.Repo, feed.Options{
		Interval: opts.feedInterval,
		Global:   global,
		Logger:   logger,
		Registry: reg,
	})

	handler, err := server.New(server.Config{
		Engine:     e,
		Simulation: st.sims,
		Persona:    persona.New(seed),
		Metrics:    promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}),
		BasePath:   opts.basePath,
		Auth: server.AuthConfig{
			JWTSecret:              secret,
			AllowLegacyActorHeader: opts.allowLegacyActor,
			AllowDevLogin:          opts.allowDevLogin,
		},
		Logger: logger,
	})
	if err != nil {
		st.close(context.Background(), logger)
		return nil, err
	}
	st.handler = handler
	return st, nil
}

func (st *serveStack) close(ctx context.Context, logger *zap.Logger) {
	if err := st.sims.Close(ctx); err != nil {
		logger.Warn("simulation shutdown", zap.Error(err))
	}
	if st.kafka != nil {
		if err := st.kafka.Close(); err != nil {
			logger.Warn("kafka sink close", zap.Error(err))
		}
	}
}

func serve(parent context.Context, opts serveOptions, secret string) error {
	logger, err := newLogger()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	conn, err := db.Open(db.Config{Workspace: viper.GetString("workspace")})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	st, err := buildServeStack(engine.New(conn, logger), opts, secret, logger)
	if err != nil {
		return err
	}
	srv := &http.Server{Addr: opts.addr, Handler: st.handler, ReadHeaderTimeout: 10 * time.Second}

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("serving donorline api",
			zap.String("addr", opts.addr), zap.String("base_path", opts.basePath),
			zap.Bool("legacy_actor_header", opts.allowLegacyActor), zap.Bool("dev_login", opts.allowDevLogin))
		fmt.Printf("Serving Donorline API on http://%s%s (OpenAPI at /openapi.json, Swagger UI at /docs, metrics at /metrics)\n", opts.addr, opts.basePath)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		err := srv.Shutdown(shutdownCtx)
		st.close(shutdownCtx, logger)
		return err
	})
	g.Go(func() error { return st.reaper.Run(gctx) })
	g.Go(func() error { return st.dispatcher.Run(gctx) })
	return g.Wait()
}
