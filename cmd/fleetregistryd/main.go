// Command fleetregistryd runs a service-discovery registry node: the
// in-memory registry core, its preservation/eviction controller, and (when
// a peer address is configured) an outbound replication channel.
//
// Logging:
//   - Base logger is created here with output format and level
//   - Logger is passed to all components via dependency injection
//   - No global slog configuration (no slog.SetDefault)
//   - Components scope loggers with their own attributes
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	_ "net/http/pprof" //nolint:gosec // G108: pprof is intentionally available when --pprof flag is set
	"os"
	"os/signal"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"fleetregistry/internal/eviction"
	"fleetregistry/internal/logging"
	"fleetregistry/internal/metrics"
	"fleetregistry/internal/registry"
	"fleetregistry/internal/replication"
	"fleetregistry/internal/replication/grpctransport"
)

var version = "dev"

func main() {
	baseHandler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	})
	filterHandler := logging.NewComponentFilterHandler(baseHandler, slog.LevelInfo)
	logger := slog.New(filterHandler)

	rootCmd := &cobra.Command{
		Use:   "fleetregistryd",
		Short: "Service-discovery registry node",
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			pprofAddr, _ := cmd.Flags().GetString("pprof")
			if pprofAddr != "" {
				go func() {
					logger.Info("pprof server listening", "addr", pprofAddr)
					pprofSrv := &http.Server{Addr: pprofAddr, ReadHeaderTimeout: 10 * time.Second}
					if err := pprofSrv.ListenAndServe(); err != nil {
						logger.Error("pprof server error", "error", err)
					}
				}()
			}
			return nil
		},
	}
	rootCmd.PersistentFlags().String("log-level", "info", "log level: debug, info, warn, error")
	rootCmd.PersistentFlags().String("pprof", "", "pprof HTTP server address (e.g. localhost:6060). WARNING: exposes CPU/memory profiles and goroutine dumps, bind to loopback only")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run the registry node",
		RunE: func(cmd *cobra.Command, _ []string) error {
			logLevel, _ := cmd.Flags().GetString("log-level")
			runLogger := logger
			var lvl slog.Level
			if err := lvl.UnmarshalText([]byte(logLevel)); err == nil {
				runLogger = slog.New(logging.NewComponentFilterHandler(baseHandler, lvl))
			}

			heartbeatInterval, _ := cmd.Flags().GetDuration("heartbeat-interval")
			watermark, _ := cmd.Flags().GetInt("subscriber-high-watermark")
			quotaInitial, _ := cmd.Flags().GetInt("eviction-quota-initial")
			peerAddr, _ := cmd.Flags().GetString("peer-addr")
			listenAddr, _ := cmd.Flags().GetString("listen-addr")
			nodeID, _ := cmd.Flags().GetString("node-id")
			if nodeID == "" {
				nodeID = uuid.Must(uuid.NewV7()).String()
			}
			runLogger = runLogger.With("node_id", nodeID)

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
			defer cancel()

			return run(ctx, runLogger, nodeConfig{
				heartbeatInterval: heartbeatInterval,
				watermark:         watermark,
				quotaInitial:      quotaInitial,
				peerAddr:          peerAddr,
				listenAddr:        listenAddr,
				nodeID:            nodeID,
			})
		},
	}
	runCmd.Flags().Duration("heartbeat-interval", 30*time.Second, "replication channel heartbeat interval")
	runCmd.Flags().Int("subscriber-high-watermark", 1024, "per-subscriber backpressure buffer limit")
	runCmd.Flags().Int("eviction-quota-initial", 0, "first eviction quota grant requested at startup")
	runCmd.Flags().String("peer-addr", "", "replication peer gRPC dial target; empty disables replication")
	runCmd.Flags().String("listen-addr", ":7761", "this node's registration endpoint (logged only; serving inbound register/update/unregister calls is out of scope for the core)")
	runCmd.Flags().String("node-id", "", "this node's identifier, used only for log correlation; generated as a UUIDv7 when omitted")

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(*cobra.Command, []string) {
			fmt.Println(version)
		},
	}

	rootCmd.AddCommand(runCmd, versionCmd)
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

type nodeConfig struct {
	heartbeatInterval time.Duration
	watermark         int
	quotaInitial      int
	peerAddr          string
	listenAddr        string
	nodeID            string
}

func run(ctx context.Context, logger *slog.Logger, cfg nodeConfig) error {
	logger.Info("starting fleetregistryd", "listen_addr", cfg.listenAddr, "peer_addr", cfg.peerAddr, "node_id", cfg.nodeID)

	meterProvider := sdkmetric.NewMeterProvider()
	defer func() { _ = meterProvider.Shutdown(context.Background()) }()

	sink, err := metrics.New(meterProvider)
	if err != nil {
		return fmt.Errorf("create metric sink: %w", err)
	}

	quota := eviction.NewRateLimitedQuotaStream(eviction.RateLimitedQuotaStreamConfig{
		Limit:   rate.Limit(1),
		Burst:   16,
		Tick:    time.Second,
		Initial: cfg.quotaInitial,
	})

	evictionLogger := logger.With("component", "eviction-controller")
	completer := &registryCompleter{}
	controller := eviction.NewController[registry.Source](completer, quota, evictionLogger)

	reg := registry.New(registry.Config{
		SubscriberBufferHighWatermark: cfg.watermark,
		Metrics:                       sink,
		Logger:                        logger,
	}, controller)
	completer.reg = reg
	defer reg.Shutdown(ctx)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return controller.Run(gctx) })

	if cfg.peerAddr != "" {
		client := grpctransport.NewClient(cfg.peerAddr, nil)
		channel, err := replication.NewChannel(reg, client, replication.Config{
			HeartbeatInterval: cfg.heartbeatInterval,
			Logger:            logger,
		})
		if err != nil {
			return fmt.Errorf("create replication channel: %w", err)
		}
		g.Go(func() error { return channel.Start(gctx) })
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("node stopped: %w", err)
	}
	logger.Info("shutdown complete")
	return nil
}

// registryCompleter adapts *registry.Registry to eviction.Completer,
// deferring the reference until after the registry is constructed (the
// controller must exist before the registry, which takes it as a
// constructor argument).
type registryCompleter struct {
	reg *registry.Registry
}

func (c *registryCompleter) CompleteEviction(id string, source registry.Source) error {
	return c.reg.CompleteEviction(id, source)
}
