// Command leasefeed-worker runs a change-feed worker host.
//
// Each instance joins the group of hosts sharing a lease store, takes its
// share of the partitions of a JetStream stream and logs every change it
// receives. Start several instances against the same NATS server (or Redis)
// to watch partitions move between them.
//
//	leasefeed-worker run --nats-url nats://127.0.0.1:4222 --stream ORDERS --subject-prefix orders.
//	leasefeed-worker leases --nats-url nats://127.0.0.1:4222
package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/urfave/cli/v2"

	"github.com/arloliu/leasefeed/internal/logging"
)

func main() {
	app := &cli.App{
		Name:  "leasefeed-worker",
		Usage: "process change-feed partitions with lease-based distribution",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "nats-url",
				Usage:   "NATS server URL",
				Value:   "nats://127.0.0.1:4222",
				EnvVars: []string{"NATS_URL"},
			},
			&cli.StringFlag{
				Name:  "store",
				Usage: "lease store backend: nats or redis",
				Value: "nats",
			},
			&cli.StringFlag{
				Name:    "redis-addr",
				Usage:   "Redis address, used with --store redis",
				Value:   "127.0.0.1:6379",
				EnvVars: []string{"REDIS_ADDR"},
			},
			&cli.StringFlag{
				Name:  "bucket",
				Usage: "lease bucket (nats) or key prefix (redis)",
				Value: "leasefeed-leases",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "debug, info, warn or error",
				Value: "info",
			},
			&cli.StringFlag{
				Name:  "log-format",
				Usage: "json or text",
				Value: "json",
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "run",
				Usage:  "run a worker host",
				Action: runWorker,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "config",
						Aliases: []string{"c"},
						Usage:   "YAML file overriding controller defaults",
					},
					&cli.StringFlag{
						Name:    "host-id",
						Usage:   "stable host identity (default: hostname plus a random suffix)",
						EnvVars: []string{"LEASEFEED_HOST_ID"},
					},
					&cli.StringFlag{
						Name:     "stream",
						Usage:    "JetStream stream to read",
						Required: true,
					},
					&cli.StringFlag{
						Name:  "subject-prefix",
						Usage: "subject prefix stripped to obtain partition names",
					},
					&cli.StringFlag{
						Name:  "strategy",
						Usage: "load balancing strategy: equal-share or consistent-hash",
						Value: "equal-share",
					},
					&cli.StringFlag{
						Name:  "metrics-addr",
						Usage: "address serving /metrics, empty to disable",
						Value: ":9090",
					},
				},
			},
			{
				Name:   "leases",
				Usage:  "print the lease table",
				Action: listLeases,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newLogger(c *cli.Context) (*logging.SlogLogger, error) {
	level, err := logging.ParseLevel(c.String("log-level"))
	if err != nil {
		return nil, err
	}

	return logging.NewSlogHandler(os.Stderr, c.String("log-format"), level), nil
}

// defaultHostID returns hostname-<8 hex chars>, unique per process start.
func defaultHostID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "host"
	}
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]

	return host + "-" + suffix
}
