// dnp3master daemon -- master-side session engine for a request/response
// SCADA protocol.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/dantte-lp/dnp3master/internal/config"
	"github.com/dantte-lp/dnp3master/internal/control"
	"github.com/dantte-lp/dnp3master/internal/master"
	"github.com/dantte-lp/dnp3master/internal/metrics"
	"github.com/dantte-lp/dnp3master/internal/transport"
	appversion "github.com/dantte-lp/dnp3master/internal/version"
)

// shutdownTimeout is the maximum time to wait for HTTP servers to drain
// active connections during graceful shutdown.
const shutdownTimeout = 10 * time.Second

// reconnectDelay is how long to wait before redialing the outstation
// transport after a link failure.
const reconnectDelay = 5 * time.Second

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "", "path to configuration file (YAML)")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		slog.New(slog.NewTextHandler(os.Stderr, nil)).Error("failed to load configuration",
			slog.String("error", err.Error()),
		)
		return 1
	}

	logLevel := new(slog.LevelVar)
	logLevel.Set(config.ParseLogLevel(cfg.Log.Level))
	logger := newLoggerWithLevel(cfg.Log, logLevel)

	logger.Info("dnp3master starting",
		slog.String("version", appversion.Version),
		slog.String("control_addr", cfg.Control.Addr),
		slog.String("metrics_addr", cfg.Metrics.Addr),
		slog.String("transport_addr", cfg.Master.TransportAddr),
	)

	reg := prometheus.NewRegistry()

	sess := master.NewSession(logger,
		master.WithResponseTimeout(cfg.Master.ResponseTimeout),
		master.WithDecodeLevel(config.ParseLogLevel(cfg.Master.DecodeLevel)),
		master.WithControlQueueDepth(cfg.Master.ControlQueueDepth),
	)

	collector := metrics.NewCollector(reg, sess.Metrics)

	if err := runServers(cfg, sess, collector, reg, logger, *configPath, logLevel); err != nil {
		logger.Error("dnp3master exited with error", slog.String("error", err.Error()))
		return 1
	}

	logger.Info("dnp3master stopped")
	return 0
}

// runServers wires up the session loop, the control HTTP API and the
// metrics HTTP server under one errgroup with signal-aware shutdown.
func runServers(
	cfg *config.Config,
	sess *master.Session,
	collector *metrics.Collector,
	reg *prometheus.Registry,
	logger *slog.Logger,
	configPath string,
	logLevel *slog.LevelVar,
) error {
	metricsSrv := newMetricsServer(cfg.Metrics, reg)
	controlSrv := newControlServer(cfg.Control, sess, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gCtx := errgroup.WithContext(ctx)

	startHTTPServers(gCtx, g, cfg, controlSrv, metricsSrv, logger)
	startDaemonGoroutines(gCtx, g, configPath, logLevel, sess, collector, logger)

	g.Go(func() error {
		return runSessionLoop(gCtx, cfg.Master.TransportAddr, sess, logger)
	})

	reconcileAssociations(sess, cfg.Associations, collector, logger)

	notifyReady(logger)

	g.Go(func() error {
		<-gCtx.Done()
		return gracefulShutdown(gCtx, logger, controlSrv, metricsSrv)
	})

	if err := g.Wait(); err != nil {
		return fmt.Errorf("run servers: %w", err)
	}
	return nil
}

// runSessionLoop dials the outstation transport and drives the session
// loop, redialing after a link failure until ctx is done: this
// protocol's single shared stream must be reestablished as a whole on
// failure, unlike a datagram transport where individual packets can simply
// be dropped and retried.
func runSessionLoop(ctx context.Context, addr string, sess *master.Session, logger *slog.Logger) error {
	for {
		if ctx.Err() != nil {
			return nil
		}

		conn, err := (&net.Dialer{}).DialContext(ctx, "tcp", addr)
		if err != nil {
			logger.Warn("failed to dial outstation transport, retrying",
				slog.String("addr", addr), slog.String("error", err.Error()))
			if !sleepOrDone(ctx, reconnectDelay) {
				return nil
			}
			continue
		}

		logger.Info("connected to outstation transport", slog.String("addr", addr))
		link := transport.NewFrameTransport(conn, logger)

		runErr := sess.Run(ctx, link, link)
		_ = conn.Close()

		if runErr == nil {
			return nil
		}
		if runErr.Shutdown {
			return nil
		}

		logger.Warn("session link failed, reconnecting",
			slog.String("error", runErr.Error()))
		if !sleepOrDone(ctx, reconnectDelay) {
			return nil
		}
	}
}

func sleepOrDone(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// startHTTPServers registers the control and metrics HTTP server goroutines.
func startHTTPServers(
	ctx context.Context,
	g *errgroup.Group,
	cfg *config.Config,
	controlSrv *http.Server,
	metricsSrv *http.Server,
	logger *slog.Logger,
) {
	lc := net.ListenConfig{}

	g.Go(func() error {
		logger.Info("control API listening", slog.String("addr", cfg.Control.Addr))
		return listenAndServe(ctx, &lc, controlSrv, cfg.Control.Addr)
	})

	g.Go(func() error {
		logger.Info("metrics server listening",
			slog.String("addr", cfg.Metrics.Addr),
			slog.String("path", cfg.Metrics.Path),
		)
		return listenAndServe(ctx, &lc, metricsSrv, cfg.Metrics.Addr)
	})
}

// startDaemonGoroutines registers the watchdog and SIGHUP reload goroutines.
func startDaemonGoroutines(
	ctx context.Context,
	g *errgroup.Group,
	configPath string,
	logLevel *slog.LevelVar,
	sess *master.Session,
	collector *metrics.Collector,
	logger *slog.Logger,
) {
	g.Go(func() error {
		return runWatchdog(ctx, logger)
	})

	sigHUP := make(chan os.Signal, 1)
	signal.Notify(sigHUP, syscall.SIGHUP)
	g.Go(func() error {
		defer signal.Stop(sigHUP)
		handleSIGHUP(ctx, sigHUP, configPath, logLevel, sess, collector, logger)
		return nil
	})
}

// -------------------------------------------------------------------------
// Systemd Integration — sd_notify + watchdog
// -------------------------------------------------------------------------

func notifyReady(logger *slog.Logger) {
	sent, err := daemon.SdNotify(false, daemon.SdNotifyReady)
	if err != nil {
		logger.Warn("failed to notify systemd readiness", slog.String("error", err.Error()))
		return
	}
	if sent {
		logger.Info("notified systemd: READY")
	}
}

func notifyStopping(logger *slog.Logger) {
	sent, err := daemon.SdNotify(false, daemon.SdNotifyStopping)
	if err != nil {
		logger.Warn("failed to notify systemd stopping", slog.String("error", err.Error()))
		return
	}
	if sent {
		logger.Info("notified systemd: STOPPING")
	}
}

// runWatchdog sends periodic watchdog keepalives to systemd at half the
// configured watchdog interval; exits immediately if no watchdog is set.
func runWatchdog(ctx context.Context, logger *slog.Logger) error {
	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil {
		logger.Warn("failed to check systemd watchdog", slog.String("error", err.Error()))
		return nil
	}
	if interval == 0 {
		logger.Debug("systemd watchdog not configured, skipping keepalive")
		return nil
	}

	tickInterval := interval / 2
	logger.Info("systemd watchdog enabled",
		slog.Duration("watchdog_sec", interval),
		slog.Duration("keepalive_interval", tickInterval),
	)

	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, wdErr := daemon.SdNotify(false, daemon.SdNotifyWatchdog); wdErr != nil {
				logger.Warn("failed to send watchdog keepalive", slog.String("error", wdErr.Error()))
			}
		}
	}
}

// -------------------------------------------------------------------------
// SIGHUP Reload — log level + association reconciliation
// -------------------------------------------------------------------------

func handleSIGHUP(
	ctx context.Context,
	sigHUP <-chan os.Signal,
	configPath string,
	logLevel *slog.LevelVar,
	sess *master.Session,
	collector *metrics.Collector,
	logger *slog.Logger,
) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-sigHUP:
			logger.Info("received SIGHUP, reloading configuration")
			reloadConfig(configPath, logLevel, sess, collector, logger)
		}
	}
}

func reloadConfig(
	configPath string,
	logLevel *slog.LevelVar,
	sess *master.Session,
	collector *metrics.Collector,
	logger *slog.Logger,
) {
	newCfg, err := loadConfig(configPath)
	if err != nil {
		logger.Error("failed to reload configuration, keeping current settings",
			slog.String("error", err.Error()))
		return
	}

	oldLevel := logLevel.Level()
	newLevel := config.ParseLogLevel(newCfg.Log.Level)
	logLevel.Set(newLevel)

	logger.Info("configuration reloaded",
		slog.String("old_log_level", oldLevel.String()),
		slog.String("new_log_level", newLevel.String()),
	)

	reconcileAssociations(sess, newCfg.Associations, collector, logger)
}

// reconcileAssociations registers every declarative association from the
// config that is not yet known to the session. Associations removed from
// the config are left registered until an operator removes them through
// the control API.
func reconcileAssociations(sess *master.Session, associations []config.AssociationConfig, collector *metrics.Collector, logger *slog.Logger) {
	for _, ac := range associations {
		class1, class2, class3 := ac.EventClasses()

		assoc := master.NewAssociation(master.EndpointAddress(ac.Address))
		assoc.SetEnabledEventClasses(master.EventClasses{Class1: class1, Class2: class2, Class3: class3})
		if ac.IntegrityPollPeriod > 0 {
			assoc.AddPoll(master.PollDefinition{
				Request: master.NewClassScanRequest(master.IntegrityClasses()),
				Period:  ac.IntegrityPollPeriod,
			})
		}

		result := make(chan error, 1)
		sess.Messages() <- master.NewAddAssociationMessage(assoc, func(err error) { result <- err })

		if err := <-result; err != nil {
			logger.Error("failed to register declarative association",
				slog.Uint64("address", uint64(ac.Address)), slog.String("error", err.Error()))
			continue
		}

		collector.SetAssociationRegistered(ac.Address, true)
		logger.Info("association registered",
			slog.Uint64("address", uint64(ac.Address)),
			slog.Duration("integrity_poll_period", ac.IntegrityPollPeriod),
		)
	}
}

// -------------------------------------------------------------------------
// Graceful Shutdown
// -------------------------------------------------------------------------

func gracefulShutdown(ctx context.Context, logger *slog.Logger, servers ...*http.Server) error {
	logger.Info("initiating graceful shutdown")
	notifyStopping(logger)

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()

	var shutdownErr error
	for _, srv := range servers {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			shutdownErr = errors.Join(shutdownErr, fmt.Errorf("shutdown server: %w", err))
		}
	}
	return shutdownErr
}

// -------------------------------------------------------------------------
// Server Setup
// -------------------------------------------------------------------------

func listenAndServe(ctx context.Context, lc *net.ListenConfig, srv *http.Server, addr string) error {
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve on %s: %w", addr, err)
	}
	return nil
}

func newMetricsServer(cfg config.MetricsConfig, reg *prometheus.Registry) *http.Server {
	mux := http.NewServeMux()
	mux.Handle(cfg.Path, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
}

func newControlServer(cfg config.ControlConfig, sess *master.Session, logger *slog.Logger) *http.Server {
	srv := control.New(sess.Messages(), logger)
	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		cfg, err := config.Load(path)
		if err != nil {
			return nil, fmt.Errorf("load config from %s: %w", path, err)
		}
		return cfg, nil
	}
	return config.DefaultConfig(), nil
}

func newLoggerWithLevel(cfg config.LogConfig, level *slog.LevelVar) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	switch cfg.Format {
	case "text":
		handler = slog.NewTextHandler(os.Stdout, opts)
	default:
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}
