package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/urfave/cli/v2"
	"gopkg.in/yaml.v3"

	"github.com/arloliu/leasefeed"
	"github.com/arloliu/leasefeed/feed/jsfeed"
	"github.com/arloliu/leasefeed/store/natskv"
	"github.com/arloliu/leasefeed/store/redisstore"
	"github.com/arloliu/leasefeed/strategy"
)

// loadConfig decodes path on top of the defaults, so a file only needs the
// values it changes.
func loadConfig(path string) (leasefeed.Config, error) {
	cfg := leasefeed.DefaultConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}

	return cfg, nil
}

// openStore connects the lease store selected by --store.
func openStore(c *cli.Context, js jetstream.JetStream, logger leasefeed.Logger) (leasefeed.LeaseStore, func(), error) {
	switch c.String("store") {
	case "nats":
		store, err := natskv.New(c.Context, js,
			natskv.WithBucket(c.String("bucket")),
			natskv.WithLogger(logger),
		)

		return store, func() {}, err

	case "redis":
		rdb := redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs: []string{c.String("redis-addr")},
		})

		pingCtx, cancel := context.WithTimeout(c.Context, 3*time.Second)
		defer cancel()
		if err := rdb.Ping(pingCtx).Err(); err != nil {
			_ = rdb.Close()
			return nil, nil, fmt.Errorf("redis ping: %w", err)
		}

		store := redisstore.New(rdb,
			redisstore.WithPrefix(c.String("bucket")),
			redisstore.WithLogger(logger),
		)

		return store, func() { _ = rdb.Close() }, nil

	default:
		return nil, nil, fmt.Errorf("unknown store %q", c.String("store"))
	}
}

func newStrategy(name string) (leasefeed.LoadBalancingStrategy, error) {
	switch name {
	case "equal-share":
		return strategy.NewEqualShare(), nil
	case "consistent-hash":
		return strategy.NewConsistentHash(), nil
	default:
		return nil, fmt.Errorf("unknown strategy %q", name)
	}
}

func connect(c *cli.Context, name string) (*nats.Conn, jetstream.JetStream, error) {
	nc, err := nats.Connect(c.String("nats-url"),
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("jetstream: %w", err)
	}

	return nc, js, nil
}

func runWorker(c *cli.Context) error {
	logger, err := newLogger(c)
	if err != nil {
		return err
	}

	cfg, err := loadConfig(c.String("config"))
	if err != nil {
		return err
	}

	hostID := c.String("host-id")
	if hostID == "" {
		hostID = defaultHostID()
	}
	logger = logger.With("host_id", hostID)

	balancer, err := newStrategy(c.String("strategy"))
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	nc, js, err := connect(c, "leasefeed-worker-"+hostID)
	if err != nil {
		return err
	}
	defer nc.Close()

	stream, err := js.Stream(ctx, c.String("stream"))
	if err != nil {
		return fmt.Errorf("open stream %s: %w", c.String("stream"), err)
	}
	feed := jsfeed.New(stream,
		jsfeed.WithSubjectPrefix(c.String("subject-prefix")),
		jsfeed.WithLogger(logger),
	)

	store, closeStore, err := openStore(c, js, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := leasefeed.NewPrometheusMetrics(reg, "")

	ctrl, err := leasefeed.NewController(&cfg, hostID, store, feed, &logObserver{logger: logger},
		leasefeed.WithLogger(logger),
		leasefeed.WithMetrics(metrics),
		leasefeed.WithStrategy(balancer),
		leasefeed.WithPartitionSource(feed),
	)
	if err != nil {
		return err
	}

	var srv *http.Server
	if addr := c.String("metrics-addr"); addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
		mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
			if ctrl.State() != leasefeed.StateRunning {
				w.WriteHeader(http.StatusServiceUnavailable)
			}
			_, _ = fmt.Fprintf(w, "%s owned=%d\n", ctrl.State(), len(ctrl.OwnedLeases()))
		})
		srv = &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server failed", "error", err)
			}
		}()
	}

	if err := ctrl.Start(ctx); err != nil {
		return err
	}
	logger.Info("worker running", "stream", c.String("stream"), "store", c.String("store"))

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout+5*time.Second)
	defer cancel()

	if srv != nil {
		_ = srv.Shutdown(shutdownCtx)
	}

	return ctrl.Stop(shutdownCtx)
}

func listLeases(c *cli.Context) error {
	logger, err := newLogger(c)
	if err != nil {
		return err
	}

	nc, js, err := connect(c, "leasefeed-leases")
	if err != nil {
		return err
	}
	defer nc.Close()

	store, closeStore, err := openStore(c, js, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	leases, err := store.ListLeases(c.Context)
	if err != nil {
		return err
	}

	now := time.Now()
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "PARTITION\tOWNER\tCONTINUATION\tAGE")
	for _, l := range leases {
		owner := l.Owner
		if owner == "" {
			owner = "-"
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
			l.LeaseToken, owner, l.ContinuationToken, now.Sub(l.Timestamp).Truncate(time.Second))
	}

	return w.Flush()
}
