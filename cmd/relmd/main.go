/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// relmd runs the reliable messaging layer of one daemon of a job.
// It connects to its tree neighbors over gRPC and reads commands from stdin:
// payloads typed in are reliably sent to other daemons, and payloads delivered
// to this daemon are stored and printed.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/alecthomas/kingpin.v2"

	"github.com/openpmix/prrte-sub010/pkg/config"
	"github.com/openpmix/prrte-sub010/pkg/deliverystore"
	"github.com/openpmix/prrte-sub010/pkg/eventlog"
	"github.com/openpmix/prrte-sub010/pkg/grpctransport"
	"github.com/openpmix/prrte-sub010/pkg/logging"
	"github.com/openpmix/prrte-sub010/pkg/modules"
	"github.com/openpmix/prrte-sub010/pkg/node"
	"github.com/openpmix/prrte-sub010/pkg/routing"
	t "github.com/openpmix/prrte-sub010/pkg/types"
)

// Each daemon of a local job listens on localBasePort plus its rank.
const localBasePort = 10000

// parseArgs builds the daemon configuration from the optional configuration file
// and the command line flags, which take precedence.
func parseArgs(args []string) (*config.Daemon, error) {
	app := kingpin.New("relmd", "Reliable messaging daemon.")
	configFile := app.Flag("config", "YAML configuration file.").ExistingFile()
	rank := app.Flag("rank", "Rank of this daemon.").Default("-1").Int()
	radix := app.Flag("radix", "Fan-out of the routing tree.").Default("0").Int()
	peers := app.Flag("peer", "Listen address of a daemon as rank=host:port, may be repeated.").StringMap()
	local := app.Flag("local", "Run in a job of this many daemons on the local host.").Default("0").Int()
	logLevel := app.Flag("logLevel", "Log level.").Enum("debug", "info", "warn", "error")
	logFormat := app.Flag("logFormat", "Logging library.").Enum("zerolog", "zap")
	metricsListen := app.Flag("metricsListen", "Address of the /metrics endpoint.").String()
	eventLog := app.Flag("eventLog", "Directory to record the event log to.").String()
	deliveryStore := app.Flag("deliveryStore", "Directory of the delivery store.").String()

	if _, err := app.Parse(args); err != nil {
		return nil, err
	}

	cfg := config.Default()
	if *configFile != "" {
		var err error
		if cfg, err = config.Load(*configFile); err != nil {
			return nil, err
		}
	}

	if *rank >= 0 {
		cfg.Rank = t.Rank(*rank)
	}
	if *radix > 0 {
		cfg.Radix = *radix
	}
	if *local > 0 {
		cfg.Peers = map[t.Rank]string{}
		for i := 0; i < *local; i++ {
			cfg.Peers[t.Rank(i)] = fmt.Sprintf("127.0.0.1:%d", localBasePort+i)
		}
	}
	for key, addr := range *peers {
		r, err := strconv.ParseUint(key, 10, 32)
		if err != nil {
			return nil, errors.Errorf("bad peer rank %q", key)
		}
		cfg.Peers[t.Rank(r)] = addr
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}
	if *logFormat != "" {
		cfg.LogFormat = *logFormat
	}
	if *metricsListen != "" {
		cfg.MetricsListen = *metricsListen
	}
	if *eventLog != "" {
		cfg.EventLog = *eventLog
	}
	if *deliveryStore != "" {
		cfg.DeliveryStore = *deliveryStore
	}

	if err := cfg.Validate(); err != nil {
		return nil, errors.WithMessage(err, "invalid configuration")
	}
	return cfg, nil
}

// newLogger creates the logger of the daemon with the configured library.
// The returned function flushes buffered messages.
func newLogger(cfg *config.Daemon) (logging.Logger, func(), error) {
	level, err := logging.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, nil, err
	}

	switch cfg.LogFormat {
	case "zap":
		zapConfig := zap.NewProductionConfig()
		zapConfig.Level = zap.NewAtomicLevelAt(zapLevel(level))
		zapLogger, err := zapConfig.Build()
		if err != nil {
			return nil, nil, errors.WithMessage(err, "could not create zap logger")
		}
		return logging.Synchronize(logging.NewZapLogger(zapLogger)), func() { _ = zapLogger.Sync() }, nil
	default:
		zl := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
			Level(logging.ZerologLevel(level)).
			With().Timestamp().Uint32("rank", uint32(cfg.Rank)).Logger()
		return logging.Synchronize(logging.NewZerologLogger(zl)), func() {}, nil
	}
}

func zapLevel(level logging.LogLevel) zapcore.Level {
	switch level {
	case logging.LevelDebug:
		return zapcore.DebugLevel
	case logging.LevelInfo:
		return zapcore.InfoLevel
	case logging.LevelWarn:
		return zapcore.WarnLevel
	default:
		return zapcore.ErrorLevel
	}
}

func serveMetrics(addr string, registry *prometheus.Registry, logger logging.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	server := &http.Server{Addr: addr, Handler: mux}
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Log(logging.LevelError, "metrics endpoint failed", "addr", addr, "err", err)
		}
	}()
	return server
}

func run(cfg *config.Daemon) error {
	logger, flush, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer flush()

	tree, err := routing.NewTree(cfg.Rank, cfg.NumRanks(), cfg.Radix)
	if err != nil {
		return err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(prometheus.NewGoCollector())
	relmConfig := cfg.Relm(logger)
	relmConfig.Registerer = registry
	if cfg.MetricsListen != "" {
		server := serveMetrics(cfg.MetricsListen, registry, logger)
		defer server.Close()
	}

	store, err := deliverystore.Open(cfg.DeliveryStore, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	var interceptor modules.EventInterceptor
	if cfg.EventLog != "" {
		recorder, err := eventlog.NewRecorder(cfg.EventLog, cfg.Rank, cfg.NumRanks())
		if err != nil {
			return err
		}
		defer recorder.Stop()
		logger.Log(logging.LevelInfo, "recording event log", "dir", cfg.EventLog, "session", recorder.Session().String())
		interceptor = recorder
	}

	transport := grpctransport.NewGrpcTransport(cfg.Peers, cfg.Rank, logger)
	if err := transport.Start(); err != nil {
		return errors.WithMessage(err, "could not start transport")
	}
	defer transport.Stop()

	c := &console{
		output: os.Stdout,
		store:  store,
	}

	n, err := node.New(relmConfig, &modules.Modules{
		Transport:   transport,
		Topology:    tree,
		Deliverer:   c,
		Interceptor: interceptor,
	}, transport)
	if err != nil {
		return err
	}
	c.node = n

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	go func() {
		if err := c.serve(ctx, os.Stdin); err != nil {
			logger.Log(logging.LevelError, "console failed", "err", err)
		}
		cancel()
	}()

	logger.Log(logging.LevelInfo, "daemon running", "ranks", cfg.NumRanks(), "parent", tree.Parent(), "children", tree.Children())
	exitErr := n.Run(ctx)
	if exitErr == context.Canceled {
		return nil
	}
	return exitErr
}

func main() {
	kingpin.Version("0.0.1")
	cfg, err := parseArgs(os.Args[1:])
	if err != nil {
		kingpin.Fatalf("failed to parse arguments, %s, try --help", err)
	}
	if err := run(cfg); err != nil {
		kingpin.Fatalf("%s", err)
	}
}
