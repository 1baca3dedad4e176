package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	_ "net/http/pprof" // Enable pprof
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/crowdsight/crowd-density-server/internal/alerts"
	"github.com/crowdsight/crowd-density-server/internal/config"
	"github.com/crowdsight/crowd-density-server/internal/logger"
	"github.com/crowdsight/crowd-density-server/internal/metrics"
	"github.com/crowdsight/crowd-density-server/internal/server"
	"github.com/crowdsight/crowd-density-server/internal/state"
	"github.com/crowdsight/crowd-density-server/internal/vision"
	"github.com/crowdsight/crowd-density-server/internal/worker"
)

var (
	// Command-line flags; unset flags defer to environment configuration
	httpAddr    = flag.String("http", "", "HTTP server address (overrides HTTP_ADDR)")
	metricsAddr = flag.String("metrics", "", "Metrics server address (overrides METRICS_ADDR)")
	pprofAddr   = flag.String("pprof", ":6060", "pprof server address")
	logLevel    = flag.String("log-level", "info", "Log level (debug, info, warn, error, silent)")
	logColor    = flag.Bool("log-color", true, "Enable colored log output")
)

// Server bundles the long-lived components of the crowd density service.
type Server struct {
	cfg        *config.Config
	store      state.Store
	registry   *worker.Registry
	sink       alerts.Sink
	metrics    *metrics.Metrics
	httpServer *http.Server
}

func main() {
	flag.Parse()

	// Initialize logger
	level, err := logger.ParseLevel(*logLevel)
	if err != nil {
		log.Fatalf("Invalid log level: %v", err)
	}
	logger.Init(level, os.Stderr, *logColor)

	logger.Info("Main", "Crowd density server starting...")
	logger.Info("Main", "Log level: %s", level)

	srv, err := NewServer()
	if err != nil {
		log.Fatalf("Failed to create server: %v", err)
	}

	srv.Start()

	// Wait for shutdown signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	log.Println("Shutting down...")

	if err := srv.Shutdown(); err != nil {
		log.Printf("Error during shutdown: %v", err)
	}

	log.Println("Server stopped")
}

// NewServer wires configuration, state backend, alert sink and HTTP surface.
func NewServer() (*Server, error) {
	cfg := config.Load()
	if *httpAddr != "" {
		cfg.HTTPAddr = *httpAddr
	}
	if *metricsAddr != "" {
		cfg.MetricsAddr = *metricsAddr
	}

	level, _ := logger.ParseLevel(*logLevel)
	mainLog := logger.New(level, os.Stderr, *logColor)

	m := metrics.New()

	ctx, cancel := context.WithTimeout(context.Background(), cfg.DialTimeout+time.Second)
	defer cancel()
	store := state.New(ctx, cfg, mainLog)
	backend := "memory"
	if _, ok := store.(*state.EtcdStore); ok {
		backend = "etcd"
	}

	sink, err := alerts.NewKafkaSink(cfg.KafkaBrokers, cfg.KafkaAlertTopic, mainLog)
	if err != nil {
		mainLog.Warn("Main", "alert sink disabled: %v", err)
		sink = alerts.NoopSink{}
	}

	registry := worker.NewRegistry()

	// Built-in heuristic capabilities; a model-backed deployment swaps
	// these for its real detector and density estimator.
	caps := worker.Capabilities{
		Detector: vision.NewBlobDetector(),
		Density:  vision.NewGridDensityEstimator(),
	}

	api := server.New(cfg, mainLog, store, registry, caps, sink, m, backend)

	return &Server{
		cfg:      cfg,
		store:    store,
		registry: registry,
		sink:     sink,
		metrics:  m,
		httpServer: &http.Server{
			Addr:    cfg.HTTPAddr,
			Handler: api.Handler(),
		},
	}, nil
}

// Start launches the pprof, metrics and API listeners.
func (s *Server) Start() {
	logger.Info("Main", "HTTP server: %s", s.cfg.HTTPAddr)
	logger.Info("Main", "Metrics server: %s", s.cfg.MetricsAddr)
	logger.Info("Main", "pprof server: %s", *pprofAddr)

	go func() {
		if err := http.ListenAndServe(*pprofAddr, nil); err != nil {
			log.Printf("pprof server error: %v", err)
		}
	}()

	go func() {
		if err := s.metrics.StartServer(s.cfg.MetricsAddr); err != nil {
			log.Printf("Metrics server error: %v", err)
		}
	}()

	go func() {
		if err := s.httpServer.ListenAndServe(); err != http.ErrServerClosed {
			log.Printf("HTTP server error: %v", err)
		}
	}()
}

// Shutdown stops every stream worker, then the HTTP server and backends.
func (s *Server) Shutdown() error {
	stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	s.registry.StopAll(stopCtx)

	s.sink.Close()
	if err := s.store.Close(); err != nil {
		log.Printf("State store close error: %v", err)
	}

	ctx, cancelHTTP := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelHTTP()
	return s.httpServer.Shutdown(ctx)
}
