package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/annel0/voxedit/internal/api"
	"github.com/annel0/voxedit/internal/config"
	"github.com/annel0/voxedit/internal/editor"
	"github.com/annel0/voxedit/internal/eventbus"
	"github.com/annel0/voxedit/internal/logging"
	"github.com/annel0/voxedit/internal/metrics"
	"github.com/annel0/voxedit/internal/observability"
	"github.com/annel0/voxedit/internal/storage"
	"github.com/annel0/voxedit/internal/voxel"
)

func main() {
	configPath := flag.String("config", "", "путь к YAML конфигурации (по умолчанию $VOXEDIT_CONFIG)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Ошибка загрузки конфигурации: %v", err)
	}
	if err := setupLogging(cfg.Log); err != nil {
		log.Fatalf("Ошибка инициализации логирования: %v", err)
	}
	defer logging.CloseDefaultLogger()
	defer logging.GetLoggerManager().CloseAll()

	if err := run(cfg); err != nil {
		logging.Error("Сервер остановлен с ошибкой: %v", err)
		os.Exit(1)
	}
	logging.Info("Сервер успешно остановлен")
}

func setupLogging(lc config.LogConfig) error {
	console, err := logging.ParseLevel(lc.Level)
	if err != nil {
		return err
	}
	file, err := logging.ParseLevel(lc.FileLevel)
	if err != nil {
		return err
	}
	logging.Configure(logging.Options{Dir: lc.Dir, ConsoleLevel: console, FileLevel: file})
	return logging.InitDefaultLogger("voxeditd")
}

func run(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logging.Info("Запуск voxeditd...")

	// === ТРАССИРОВКА ===
	if cfg.Tracing.Enabled {
		shutdown, err := observability.InitTelemetry(ctx, observability.Options{
			ServiceName: "voxeditd",
			Endpoint:    cfg.Tracing.Endpoint,
			Insecure:    cfg.Tracing.Insecure,
		})
		if err != nil {
			return fmt.Errorf("трассировка: %w", err)
		}
		defer func() {
			if err := shutdown(context.Background()); err != nil {
				logging.Warn("Остановка трассировки: %v", err)
			}
		}()
	}

	// === МЕТРИКИ ===
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	pool := voxel.NewPool(cfg.Blocks.Limit)
	m.WatchPool(pool)

	// === ХРАНИЛИЩЕ ===
	level, err := storage.ParseLevel(cfg.Storage.Compression)
	if err != nil {
		return err
	}
	store, err := storage.Open(storage.Options{
		Path:     cfg.Storage.Path,
		Level:    level,
		Workers:  cfg.Storage.Workers,
		InMemory: cfg.Storage.Path == "",
	})
	if err != nil {
		return fmt.Errorf("хранилище: %w", err)
	}
	defer store.Close()
	if cfg.Storage.Path == "" {
		logging.Warn("storage.path не задан: проекты хранятся в памяти")
	}

	// === ШИНА СОБЫТИЙ ===
	bus := eventbus.NewMemoryBus(1024)
	defer bus.Close()
	if _, err := eventbus.StartLoggingListener(bus); err != nil {
		return err
	}
	busMetrics := eventbus.NewMetricsExporter(bus, reg, time.Second)
	busMetrics.Start()
	defer busMetrics.Stop()

	// === РЕДАКТОР ===
	ed := editor.New(editor.Options{
		Pool:           pool,
		Metrics:        m,
		Bus:            bus,
		Store:          store,
		HistoryMax:     cfg.History.MaxNodes,
		Workers:        cfg.Storage.Workers,
		TerrainSeed:    cfg.Procgen.Seed,
		TerrainScale:   cfg.Procgen.Scale,
		TerrainMaxArea: cfg.Procgen.MaxArea,
	})
	defer ed.Close()

	// === REST API ===
	restPort := fmt.Sprintf(":%d", cfg.Server.GetRESTPort())
	rest := api.NewRestServer(api.Config{Port: restPort, Editor: ed, Registry: reg})
	if err := rest.Start(); err != nil {
		return err
	}
	defer rest.Shutdown(context.Background())

	// Отдельный порт метрик, если задан
	if port := cfg.Server.GetMetricsPort(); port > 0 {
		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			logging.Info("Prometheus /metrics доступен по адресу %s", srv.Addr)
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logging.Error("Ошибка Prometheus HTTP сервера: %v", err)
			}
		}()
		defer srv.Shutdown(context.Background())
	}

	logging.Info("Все сервисы запущены")
	logging.Info("   REST API: http://localhost%s", restPort)
	logging.Info("   Health check: http://localhost%s/health", restPort)

	<-ctx.Done()
	logging.Info("Получен сигнал завершения, остановка...")
	return nil
}
