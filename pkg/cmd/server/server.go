package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	_ "net/http/pprof" //nolint:gosec // by design
	"os"
	"os/signal"
	"runtime"
	"sync"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	otlpruntime "go.opentelemetry.io/contrib/instrumentation/runtime"

	"github.com/mpapenbr/livetiming-gateway-go/log"
	"github.com/mpapenbr/livetiming-gateway-go/pkg/cmd/util"
	"github.com/mpapenbr/livetiming-gateway-go/pkg/config"
	"github.com/mpapenbr/livetiming-gateway-go/pkg/endpoints/api"
	"github.com/mpapenbr/livetiming-gateway-go/pkg/health"
	"github.com/mpapenbr/livetiming-gateway-go/pkg/livetiming/polling/nascar"
	natspub "github.com/mpapenbr/livetiming-gateway-go/pkg/publish/nats"
	redispub "github.com/mpapenbr/livetiming-gateway-go/pkg/publish/redis"
	"github.com/mpapenbr/livetiming-gateway-go/pkg/service"
	"github.com/mpapenbr/livetiming-gateway-go/pkg/utils"
)

//nolint:funlen // by design
func NewServerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "starts the live timing gateway",
		RunE: func(cmd *cobra.Command, args []string) error {
			return startServer(cmd.Context())
		},
	}
	cmd.Flags().StringVarP(&config.APIAddr,
		"api-addr",
		"a",
		"localhost:8080",
		"HTTP API listen address")
	cmd.Flags().StringVar(&config.TLSServerAddr,
		"tls-server-addr",
		"",
		"HTTP API listen address (tls)")
	cmd.Flags().StringVar(&config.TLSCertFile,
		"tls-cert",
		"",
		"path to TLS certificate")
	cmd.Flags().StringVar(&config.TLSKeyFile,
		"tls-key",
		"",
		"path to TLS key")
	cmd.Flags().StringVar(&config.TraefikCerts,
		"traefik-certs",
		"",
		"path to the traefik acme store")
	cmd.Flags().StringVar(&config.TraefikCertDomain,
		"traefik-cert-domain",
		"",
		"domain to lookup within the traefik acme store")
	cmd.Flags().StringSliceVar(&config.AllowedOrigins,
		"allowed-origins",
		[]string{},
		"CORS origins allowed to access the API (empty allows all)")
	cmd.Flags().StringSliceVar(&config.Series,
		"series",
		[]string{},
		"series to enable (f1, imsa, wec, nascar, indycar). Default: all")
	cmd.Flags().StringVar(&config.PollInterval,
		"poll-interval",
		"3s",
		"poll interval for NASCAR and IndyCar")
	cmd.Flags().IntVar(&config.InactiveFactor,
		"inactive-factor",
		5,
		"poll interval multiplier while no session is live")
	cmd.Flags().StringVar(&config.PublishInterval,
		"publish-interval",
		"1s",
		"min duration between two snapshots of F1, IMSA and WEC")
	cmd.Flags().IntVar(&config.NascarSeriesID,
		"nascar-series-id",
		nascar.SeriesCup,
		"NASCAR series (1 Cup, 2 Xfinity, 3 Truck)")
	cmd.Flags().IntVar(&config.NascarRaceID,
		"nascar-race-id",
		0,
		"pin the NASCAR race (0 uses the current race of the schedule)")
	cmd.Flags().BoolVar(&config.IndycarNXT,
		"indycar-nxt",
		false,
		"poll the INDY NXT documents instead of the IndyCar ones")
	cmd.Flags().StringVar(&config.NatsURL,
		"nats-url",
		"",
		"NATS server url. Snapshots are published if set")
	cmd.Flags().StringVar(&config.NatsSubjectPrefix,
		"nats-subject-prefix",
		natspub.DefaultSubjectPrefix,
		"subject prefix for published snapshots")
	cmd.Flags().StringVar(&config.NatsBucket,
		"nats-bucket",
		natspub.DefaultBucket,
		"JetStream KV bucket for the latest snapshots")
	cmd.Flags().StringVar(&config.RedisURL,
		"redis-url",
		"",
		"Redis url. Latest snapshots are stored if set")
	cmd.Flags().StringVar(&config.RedisTTL,
		"redis-ttl",
		"2h",
		"expiry of the latest snapshot in Redis")
	cmd.Flags().BoolVar(&config.EnableTelemetry,
		"enable-telemetry",
		false,
		"enables telemetry")
	cmd.Flags().StringVar(&config.TelemetryEndpoint,
		"telemetry-endpoint",
		"localhost:4317",
		"Endpoint that receives open telemetry data (use \"stdout\" for console)")
	cmd.Flags().IntVar(&config.ProfilingPort,
		"profiling-port",
		0,
		"port to use for providing profiling data")
	return cmd
}

//nolint:funlen,cyclop // by design
func startServer(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	logger, err := util.SetupLogger()
	if err != nil {
		return err
	}
	ctx = log.AddToContext(ctx, logger)

	series, err := util.ParseSeries(config.Series)
	if err != nil {
		return err
	}
	log.Debug("Config:",
		log.Any("series", series),
		log.String("api", config.APIAddr),
		log.String("nats", config.NatsURL),
		log.String("redis", config.RedisURL),
		log.String("pollInterval", config.PollInterval),
	)

	if config.ProfilingPort > 0 {
		log.Info("Starting profiling server on port", log.Int("port", config.ProfilingPort))
		go func() {
			//nolint:gosec // by design
			err := http.ListenAndServe(
				fmt.Sprintf("localhost:%d", config.ProfilingPort),
				nil)
			if err != nil {
				log.Error("Profiling server stopped", log.ErrorField(err))
			}
		}()
	}

	if err := waitForRequiredServices(ctx); err != nil {
		return err
	}

	var telemetry *config.Telemetry
	if config.EnableTelemetry {
		log.Info("Enabling telemetry")
		if telemetry, err = config.SetupTelemetry(ctx); err != nil {
			log.Warn("Could not setup telemetry", log.ErrorField(err))
		}
		err = otlpruntime.Start(otlpruntime.WithMinimumReadMemStatsInterval(time.Second))
		if err != nil {
			log.Warn("Could not start runtime metrics", log.ErrorField(err))
		}
	}

	publishers, err := createPublishers(ctx)
	if err != nil {
		log.Error("could not create publishers", log.ErrorField(err))
		return err
	}

	sup := service.NewSupervisor(
		service.WithSeries(series...),
		service.WithPublisher(publishers...),
		service.WithPollInterval(util.ParseDuration(config.PollInterval, 3*time.Second)),
		service.WithInactiveFactor(config.InactiveFactor),
		service.WithPublishInterval(util.ParseDuration(config.PublishInterval, time.Second)),
		service.WithSource(util.PollingSources()...),
	)
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	if err := sup.Start(runCtx); err != nil {
		return err
	}

	apiServer := api.NewServer(
		api.WithLiveSource(sup),
		api.WithHealthChecker(health.NewChecker()),
		api.WithAllowedOrigins(config.AllowedOrigins...),
	)
	servers := startHTTPServers(runCtx, apiServer.Handler())
	if len(servers) == 0 {
		sup.Stop()
		return errors.New("no listen address configured")
	}
	log.Info("Server started", log.Any("series", sup.Series()))
	setupGoRoutinesDump()

	sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-sigCtx.Done()
	log.Debug("Got signal, shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	for _, srv := range servers {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Warn("http server shutdown", log.ErrorField(err))
		}
	}
	cancel()
	sup.Stop()
	if telemetry != nil {
		telemetry.Shutdown()
	}
	log.Info("Server terminated")
	return nil
}

//nolint:whitespace // can't make both editor and linter happy
func createPublishers(ctx context.Context) (
	[]service.Publisher, error,
) {
	ret := []service.Publisher{}
	if config.NatsURL != "" {
		conn, err := nats.Connect(config.NatsURL,
			nats.Name("livetiming-gateway"),
			nats.MaxReconnects(-1))
		if err != nil {
			return nil, fmt.Errorf("connect nats: %w", err)
		}
		p, err := natspub.New(ctx, conn,
			natspub.WithSubjectPrefix(config.NatsSubjectPrefix),
			natspub.WithBucket(config.NatsBucket))
		if err != nil {
			conn.Close()
			return nil, err
		}
		log.Info("Publishing to NATS", log.String("url", config.NatsURL))
		ret = append(ret, p)
	}
	if config.RedisURL != "" {
		opts, err := redis.ParseURL(config.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		client := redis.NewClient(opts)
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		log.Info("Storing snapshots in Redis", log.String("addr", opts.Addr))
		ret = append(ret, redispub.New(client,
			redispub.WithTTL(util.ParseDuration(config.RedisTTL, 2*time.Hour))))
	}
	return ret, nil
}

func startHTTPServers(ctx context.Context, handler http.Handler) []*http.Server {
	ret := []*http.Server{}
	run := func(srv *http.Server, serve func() error) {
		go func() {
			if err := serve(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("http server stopped", log.String("addr", srv.Addr), log.ErrorField(err))
			}
		}()
	}
	if config.APIAddr != "" {
		log.Info("Starting HTTP API", log.String("addr", config.APIAddr))
		srv := &http.Server{
			Addr:              config.APIAddr,
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
		}
		run(srv, srv.ListenAndServe)
		ret = append(ret, srv)
	}
	if config.TLSServerAddr != "" {
		tlsConfig := newTLSConfig(ctx, certSource{
			certFile:      config.TLSCertFile,
			keyFile:       config.TLSKeyFile,
			traefikFile:   config.TraefikCerts,
			traefikDomain: config.TraefikCertDomain,
		})
		if tlsConfig == nil {
			log.Warn("TLS listen address set but no certificate available",
				log.String("addr", config.TLSServerAddr))
			return ret
		}
		log.Info("Starting HTTP API (tls)", log.String("addr", config.TLSServerAddr))
		srv := &http.Server{
			Addr:              config.TLSServerAddr,
			Handler:           handler,
			TLSConfig:         tlsConfig,
			ReadHeaderTimeout: 10 * time.Second,
		}
		run(srv, func() error { return srv.ListenAndServeTLS("", "") })
		ret = append(ret, srv)
	}
	return ret
}

func setupGoRoutinesDump() {
	go func() {
		sigs := make(chan os.Signal, 1)
		signal.Notify(sigs, syscall.SIGQUIT)
		buf := make([]byte, 1<<20)
		for {
			<-sigs
			stacklen := runtime.Stack(buf, true)
			fmt.Printf("=== received SIGQUIT ===\n*** goroutine dump...\n%s\n*** end\n",
				buf[:stacklen])
		}
	}()
}

func waitForRequiredServices(ctx context.Context) error {
	timeout := util.ParseDuration(config.WaitForServices, 60*time.Second)

	addrs := []string{}
	if addr := utils.ExtractFromNatsURL(config.NatsURL); addr != "" {
		addrs = append(addrs, addr)
	}
	if addr := utils.ExtractFromRedisURL(config.RedisURL); addr != "" {
		addrs = append(addrs, addr)
	}
	wg := sync.WaitGroup{}
	errs := make([]error, len(addrs))
	for i, addr := range addrs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = utils.WaitForTCP(ctx, addr, timeout)
		}()
	}
	log.Debug("Waiting for connection checks to return")
	wg.Wait()
	if err := errors.Join(errs...); err != nil {
		log.Error("required services not ready", log.ErrorField(err))
		return err
	}
	log.Debug("Required services are available")
	return nil
}
