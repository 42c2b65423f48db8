package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"agentwatch/config"
	"agentwatch/internal/checker"
	"agentwatch/internal/ingest"
	"agentwatch/internal/logger"
	"agentwatch/internal/notify"
	"agentwatch/internal/pipeline"
	"agentwatch/internal/queue"
	"agentwatch/internal/rules"
	"agentwatch/internal/verify"
)

func findConfigFile(configArg string) string {
	if configArg != "" {
		path := configArg
		if _, err := os.Stat(path); err == nil {
			return path
		}
		log.Printf("Warning: config file not found at %s, trying default locations", path)
	}

	if _, err := os.Stat("agentwatch.yml"); err == nil {
		return "agentwatch.yml"
	}

	exePath, err := os.Executable()
	if err == nil {
		exeDir := filepath.Dir(exePath)
		path := filepath.Join(exeDir, "agentwatch.yml")
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return "agentwatch.yml"
}

func applyDefaults(cfg *config.Config) {
	if cfg.AgentWatch.Ingest.Redis.Addr == "" {
		cfg.AgentWatch.Ingest.Redis.Addr = "127.0.0.1:6379"
	}
	if cfg.AgentWatch.Ingest.Redis.Key == "" {
		cfg.AgentWatch.Ingest.Redis.Key = "agent_state_changes"
	}
	if cfg.AgentWatch.Ingest.Redis.BlockTimeout == 0 {
		cfg.AgentWatch.Ingest.Redis.BlockTimeout = config.Duration(5 * time.Second)
	}

	if cfg.AgentWatch.Queue.Mode == "" {
		cfg.AgentWatch.Queue.Mode = "redis"
	}
	if cfg.AgentWatch.Queue.Redis.Addr == "" {
		cfg.AgentWatch.Queue.Redis.Addr = "127.0.0.1:6379"
	}
	if cfg.AgentWatch.Queue.Redis.KeyPrefix == "" {
		cfg.AgentWatch.Queue.Redis.KeyPrefix = "agentwatch:queue"
	}
	if cfg.AgentWatch.Queue.GracePeriod <= 0 {
		cfg.AgentWatch.Queue.GracePeriod = config.Duration(15 * time.Minute)
	}
	if cfg.AgentWatch.Queue.Visibility <= 0 {
		cfg.AgentWatch.Queue.Visibility = config.Duration(2 * time.Minute)
	}
	if cfg.AgentWatch.Queue.RetryDelay <= 0 {
		cfg.AgentWatch.Queue.RetryDelay = config.Duration(time.Minute)
	}
	if cfg.AgentWatch.Queue.MaxAttempts <= 0 {
		cfg.AgentWatch.Queue.MaxAttempts = 5
	}

	if cfg.AgentWatch.Checker.Timeout <= 0 {
		cfg.AgentWatch.Checker.Timeout = config.Duration(10 * time.Second)
	}

	if cfg.AgentWatch.Verify.CheckAttempts <= 0 {
		cfg.AgentWatch.Verify.CheckAttempts = 3
	}
	if cfg.AgentWatch.Verify.CheckBackoff <= 0 {
		cfg.AgentWatch.Verify.CheckBackoff = config.Duration(500 * time.Millisecond)
	}

	if cfg.AgentWatch.Notify.Mode == "" {
		cfg.AgentWatch.Notify.Mode = "file"
	}
	if cfg.AgentWatch.Notify.File.Path == "" {
		cfg.AgentWatch.Notify.File.Path = "output/notifications.jsonl"
	}

	if cfg.AgentWatch.Pipeline.Workers <= 0 {
		cfg.AgentWatch.Pipeline.Workers = 1
	}
	if cfg.AgentWatch.Pipeline.BatchSize <= 0 {
		cfg.AgentWatch.Pipeline.BatchSize = 10
	}
	if cfg.AgentWatch.Pipeline.PollInterval <= 0 {
		cfg.AgentWatch.Pipeline.PollInterval = config.Duration(5 * time.Second)
	}
	if cfg.AgentWatch.Pipeline.ProcessingTimeout <= 0 {
		cfg.AgentWatch.Pipeline.ProcessingTimeout = config.Duration(time.Minute)
	}

	if cfg.AgentWatch.Metrics.Listen == "" {
		cfg.AgentWatch.Metrics.Listen = ":9097"
	}

	if cfg.AgentWatch.Logging.Level == "" {
		cfg.AgentWatch.Logging.Level = "info"
	}
}

func loadConfig(args []string) *config.Config {
	configArg := ""
	if len(args) > 0 {
		configArg = args[0]
	}

	configPath := findConfigFile(configArg)

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	applyDefaults(cfg)

	if err := logger.Init(cfg.AgentWatch.Logging.Enabled, cfg.AgentWatch.Logging.Level, cfg.AgentWatch.Logging.File, cfg.AgentWatch.Logging.Console); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}

	logger.Infof("AgentWatch starting")
	logger.Infof("Config loaded from: %s", configPath)
	return cfg
}

func buildQueue(cfg *config.Config) queue.DelayQueue {
	switch cfg.AgentWatch.Queue.Mode {
	case "redis":
		q, err := queue.NewRedisQueue(queue.RedisConfig{
			Addr:        cfg.AgentWatch.Queue.Redis.Addr,
			Password:    cfg.AgentWatch.Queue.Redis.Password,
			DB:          cfg.AgentWatch.Queue.Redis.DB,
			KeyPrefix:   cfg.AgentWatch.Queue.Redis.KeyPrefix,
			Visibility:  cfg.AgentWatch.Queue.Visibility.Std(),
			RetryDelay:  cfg.AgentWatch.Queue.RetryDelay.Std(),
			MaxAttempts: cfg.AgentWatch.Queue.MaxAttempts,
		})
		if err != nil {
			logger.Errorf("Failed to create Redis delay queue: %v", err)
			log.Fatalf("Failed to create Redis delay queue: %v", err)
		}
		logger.Infof("Delay queue mode: redis (%s)", cfg.AgentWatch.Queue.Redis.Addr)
		return q
	case "memory":
		logger.Infof("Delay queue mode: memory")
		return queue.NewMemoryQueue(
			cfg.AgentWatch.Queue.Visibility.Std(),
			cfg.AgentWatch.Queue.RetryDelay.Std(),
			cfg.AgentWatch.Queue.MaxAttempts,
		)
	default:
		log.Fatalf("Unknown queue mode: %s", cfg.AgentWatch.Queue.Mode)
		return nil
	}
}

func buildPublisher(cfg *config.Config) notify.Publisher {
	switch cfg.AgentWatch.Notify.Mode {
	case "http":
		p, err := notify.NewHTTPPublisher(notify.HTTPConfig{
			URL:     cfg.AgentWatch.Notify.HTTP.URL,
			Timeout: cfg.AgentWatch.Notify.HTTP.Timeout.Std(),
			Headers: cfg.AgentWatch.Notify.HTTP.Headers,
		})
		if err != nil {
			logger.Errorf("Failed to create HTTP publisher: %v", err)
			log.Fatalf("Failed to create HTTP publisher: %v", err)
		}
		logger.Infof("Notification mode: http (%s)", cfg.AgentWatch.Notify.HTTP.URL)
		return p
	case "file":
		p, err := notify.NewFilePublisher(cfg.AgentWatch.Notify.File.Path)
		if err != nil {
			logger.Errorf("Failed to create file publisher: %v", err)
			log.Fatalf("Failed to create file publisher: %v", err)
		}
		logger.Infof("Notification mode: file (%s)", cfg.AgentWatch.Notify.File.Path)
		return p
	case "none":
		logger.Infof("Notification mode: none")
		return notify.NopPublisher{}
	default:
		log.Fatalf("Unknown notify mode: %s", cfg.AgentWatch.Notify.Mode)
		return nil
	}
}

func buildRules(cfg *config.Config) rules.Engine {
	if !cfg.AgentWatch.Ingest.Rules.Enabled {
		return rules.AllowAll{}
	}
	if strings.TrimSpace(cfg.AgentWatch.Ingest.Rules.Path) == "" {
		logger.Warnf("Scope rules enabled but rules.path is empty; admitting all events")
		return rules.AllowAll{}
	}

	engine, stats, err := rules.NewSigmaEngine(cfg.AgentWatch.Ingest.Rules.Path)
	if err != nil {
		logger.Errorf("Failed to load scope rules from %s: %v", cfg.AgentWatch.Ingest.Rules.Path, err)
		log.Fatalf("Failed to load scope rules: %v", err)
	}
	logger.Infof("Scope rules loaded: loaded=%d skipped_complex=%d skipped_invalid=%d files=%d",
		stats.Loaded, stats.SkippedComplex, stats.SkippedInvalid, stats.TotalFiles)
	if stats.Loaded == 0 {
		logger.Warnf("No compatible scope rules loaded; every event will be rejected")
	}
	return engine
}

func serveMetrics(cfg *config.Config) *http.Server {
	if !cfg.AgentWatch.Metrics.Enabled {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	server := &http.Server{Addr: cfg.AgentWatch.Metrics.Listen, Handler: mux}
	go func() {
		logger.Infof("Metrics server listening on %s", cfg.AgentWatch.Metrics.Listen)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Errorf("Metrics server failed: %v", err)
		}
	}()
	return server
}

func runMonitor(args []string, withIngest bool) {
	cfg := loadConfig(args)

	metricsServer := serveMetrics(cfg)
	delayQueue := buildQueue(cfg)
	publisher := buildPublisher(cfg)

	client, err := checker.NewControlPlaneClient(checker.Config{
		BaseURL: cfg.AgentWatch.Checker.BaseURL,
		Timeout: cfg.AgentWatch.Checker.Timeout.Std(),
		Headers: cfg.AgentWatch.Checker.Headers,
	})
	if err != nil {
		logger.Errorf("Failed to create control-plane client: %v", err)
		log.Fatalf("Failed to create control-plane client: %v", err)
	}

	engine := verify.NewEngine(client, verify.Config{
		CheckAllClusters: cfg.AgentWatch.Scope.CheckAllClusters,
		TagKey:           cfg.AgentWatch.Scope.TagKey,
		TagValue:         cfg.AgentWatch.Scope.TagValue,
		CheckAttempts:    cfg.AgentWatch.Verify.CheckAttempts,
		CheckBackoff:     cfg.AgentWatch.Verify.CheckBackoff.Std(),
	})

	notifier := notify.NewNotifier(publisher)

	coordinator := pipeline.NewCoordinator(delayQueue, engine, notifier, pipeline.Config{
		Workers:           cfg.AgentWatch.Pipeline.Workers,
		BatchSize:         cfg.AgentWatch.Pipeline.BatchSize,
		PollInterval:      cfg.AgentWatch.Pipeline.PollInterval.Std(),
		ProcessingTimeout: cfg.AgentWatch.Pipeline.ProcessingTimeout.Std(),
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		if err := coordinator.Run(ctx); err != nil && err != context.Canceled {
			logger.Errorf("Coordinator error: %v", err)
		}
	}()

	var consumer *ingest.Consumer
	if withIngest && cfg.AgentWatch.Ingest.Enabled {
		consumer, err = ingest.NewConsumer(ingest.ConsumerConfig{
			Addr:         cfg.AgentWatch.Ingest.Redis.Addr,
			Password:     cfg.AgentWatch.Ingest.Redis.Password,
			DB:           cfg.AgentWatch.Ingest.Redis.DB,
			Key:          cfg.AgentWatch.Ingest.Redis.Key,
			BlockTimeout: cfg.AgentWatch.Ingest.Redis.BlockTimeout.Std(),
		})
		if err != nil {
			logger.Errorf("Failed to create ingest consumer: %v", err)
			log.Fatalf("Failed to create ingest consumer: %v", err)
		}

		ingestor := ingest.NewIngestor(consumer, delayQueue, buildRules(cfg), cfg.AgentWatch.Queue.GracePeriod.Std())
		go func() {
			if err := ingestor.Run(ctx); err != nil && err != context.Canceled {
				logger.Errorf("Ingest error: %v", err)
			}
		}()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Infof("Shutting down")
	cancel()
	time.Sleep(1 * time.Second)

	if metricsServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		metricsServer.Shutdown(shutdownCtx)
		shutdownCancel()
	}
	if consumer != nil {
		if err := consumer.Close(); err != nil {
			logger.Errorf("Error closing ingest consumer: %v", err)
		}
	}
	if err := publisher.Close(); err != nil {
		logger.Errorf("Error closing publisher: %v", err)
	}
	if err := delayQueue.Close(); err != nil {
		logger.Errorf("Error closing delay queue: %v", err)
	}

	logger.Infof("AgentWatch stopped")
}

func runIngest(args []string) {
	cfg := loadConfig(args)

	metricsServer := serveMetrics(cfg)
	delayQueue := buildQueue(cfg)

	consumer, err := ingest.NewConsumer(ingest.ConsumerConfig{
		Addr:         cfg.AgentWatch.Ingest.Redis.Addr,
		Password:     cfg.AgentWatch.Ingest.Redis.Password,
		DB:           cfg.AgentWatch.Ingest.Redis.DB,
		Key:          cfg.AgentWatch.Ingest.Redis.Key,
		BlockTimeout: cfg.AgentWatch.Ingest.Redis.BlockTimeout.Std(),
	})
	if err != nil {
		logger.Errorf("Failed to create ingest consumer: %v", err)
		log.Fatalf("Failed to create ingest consumer: %v", err)
	}

	ingestor := ingest.NewIngestor(consumer, delayQueue, buildRules(cfg), cfg.AgentWatch.Queue.GracePeriod.Std())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		if err := ingestor.Run(ctx); err != nil && err != context.Canceled {
			logger.Errorf("Ingest error: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Infof("Shutting down")
	cancel()
	time.Sleep(1 * time.Second)

	if metricsServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		metricsServer.Shutdown(shutdownCtx)
		shutdownCancel()
	}
	if err := consumer.Close(); err != nil {
		logger.Errorf("Error closing ingest consumer: %v", err)
	}
	if err := delayQueue.Close(); err != nil {
		logger.Errorf("Error closing delay queue: %v", err)
	}

	logger.Infof("AgentWatch stopped")
}

func main() {
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "run":
			runMonitor(os.Args[2:], true)
			return
		case "ingest":
			runIngest(os.Args[2:])
			return
		default:
			// Backward-compatible mode: first arg is config path.
			runMonitor(os.Args[1:], true)
			return
		}
	}

	runMonitor(nil, true)
}
