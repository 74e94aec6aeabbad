// Command adpulse-ingest consumes raw metric records from Kafka and
// writes them into ClickHouse.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/vk-rv/adpulse/internal/adpulse"
	"github.com/vk-rv/adpulse/internal/ch"
	"github.com/vk-rv/adpulse/internal/chprometheus"
	"github.com/vk-rv/adpulse/internal/kafka"
	"github.com/vk-rv/adpulse/internal/stdlog"
	"github.com/vk-rv/adpulse/internal/svc/ingest"
	"github.com/vk-rv/adpulse/internal/svcotel"
	"go.uber.org/automaxprocs/maxprocs"
)

func main() {
	const failed = 1

	cfg := config{}
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		slog.Error("failed to create config", slog.Any("error", err))
		os.Exit(failed)
	}

	logger := stdlog.NewSlogLogger(logOutput(cfg.Log.Output), cfg.Log.Text)
	slog.SetDefault(logger)

	if err := run(&cfg, logger); err != nil {
		logger.Error("adpulse ingest start / shutdown problem", slog.Any("error", err))
		os.Exit(failed)
	}
}

func run(cfg *config, logger *slog.Logger) error {
	l := func(format string, a ...any) {
		logger.Info(fmt.Sprintf(strings.TrimPrefix(format, "maxprocs: "), a...))
	}
	opt := maxprocs.Logger(l)
	if _, err := maxprocs.Set(opt); err != nil {
		return fmt.Errorf("maxprocs set error: %w", err)
	}

	term := make(chan os.Signal, 1)
	signal.Notify(term, os.Interrupt)
	termCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		sig := <-term
		logger.Info("signal was received", slog.String("signal", sig.String()))
		cancel()
	}()

	clickConn, clickClose, err := ch.ConnectLoop(termCtx, cfg.ClickHouse.DSN, ch.DefaultTimeout, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err = clickClose(); err != nil {
			logger.Error("close clickhouse connection pool on ingest shutdown", slog.Any("error", err))
		}
	}()

	reg := prometheus.NewRegistry()
	regCollectors := []prometheus.Collector{
		collectors.NewGoCollector(),
		chprometheus.NewClickhouseCollector(clickConn, "olap"),
	}
	for i := range regCollectors {
		if err = reg.Register(regCollectors[i]); err != nil {
			return fmt.Errorf("register prometheus collector: %w", err)
		}
	}

	olap := ch.NewClickhouseStore(clickConn, svcotel.NewNoopProvider())

	ingestService := ingest.NewIngestService(olap, logger.With(slog.String("service", "ingest")))

	consumer, err := kafka.NewConsumer(&kafka.ConsumerConfig{
		CommonConfig: kafka.CommonConfig{
			Brokers:  cfg.Kafka.Brokers,
			ClientID: "adpulse-ingest",
			Logger:   logger.With(slog.String("service", "kafka")),
		},
		Reg:       reg,
		Processor: ingestService,
		GroupID:   cfg.Kafka.GroupID,
		Topics:    []adpulse.Topic{adpulse.MetricsTopic},
		Delivery:  adpulse.AtLeastOnceDeliveryType,
	})
	if err != nil {
		return err
	}

	var metricsSrv *http.Server
	if cfg.Metrics.Enabled {
		router := http.NewServeMux()
		router.Handle(cfg.Metrics.Path, promhttp.HandlerFor(reg, promhttp.HandlerOpts{
			ErrorLog: slog.NewLogLogger(logger.With(slog.String("service", "prometheus")).
				Handler(), slog.LevelError),
			Timeout: time.Second * 1,
		}))
		metricsSrv = &http.Server{
			Addr:              net.JoinHostPort(cfg.Metrics.Host, cfg.Metrics.Port),
			Handler:           router,
			ReadTimeout:       5 * time.Second,
			WriteTimeout:      15 * time.Second,
			ReadHeaderTimeout: 10 * time.Second,
			IdleTimeout:       120 * time.Second,
			ErrorLog: slog.NewLogLogger(
				logger.With(slog.String("service", "metrics_server")).
					Handler(), slog.LevelError),
		}
		go func() {
			err = metricsSrv.ListenAndServe()
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("listen on specified port for metrics", slog.Any("error", err))
				cancel()
			}
		}()
	}

	logger.Info("ingest started",
		slog.String("group", cfg.Kafka.GroupID),
		slog.String("runtime", runtime.Version()),
		slog.String("os", runtime.GOOS))

	err = consumer.Run(termCtx)

	if closeErr := consumer.Close(); closeErr != nil {
		logger.Error("close kafka consumer on ingest shutdown", slog.Any("error", closeErr))
	}

	if metricsSrv != nil {
		ctxShutDown, cancelShutdown := context.WithTimeout(context.Background(), cfg.CloseTimeout)
		defer cancelShutdown()
		if shutdownErr := metricsSrv.Shutdown(ctxShutDown); shutdownErr != nil {
			return fmt.Errorf("graceful shutdown for metrics failed: %w", shutdownErr)
		}
	}

	if err != nil {
		return fmt.Errorf("consume metrics: %w", err)
	}

	logger.Info("ingest exited properly")

	return nil
}

// logOutput maps the LOG_OUTPUT setting onto a writer.
func logOutput(name string) io.Writer {
	if name == "stdout" {
		return os.Stdout
	}
	return os.Stderr
}

//nolint:tagalign // later
type config struct {
	ClickHouse struct {
		DSN string `env:"CLICKHOUSE_DSN" env-required:"true"`
	}
	Kafka struct {
		Brokers []string `env:"KAFKA_BROKERS" env-default:"localhost:9092"`
		GroupID string   `env:"KAFKA_GROUP_ID" env-default:"adpulse-ingest"`
	}
	Metrics struct {
		Host    string `env:"METRICS_HOST"    env-default:"localhost"`
		Port    string `env:"METRICS_PORT"    env-default:"8083"`
		Path    string `env:"METRICS_PATH"    env-default:"/metrics"`
		Enabled bool   `env:"METRICS_ENABLED" env-default:"false"`
	}
	Log struct {
		Output string `env:"LOG_OUTPUT" env-default:"stderr"`
		Text   bool   `env:"LOG_TEXT"   env-default:"false"`
	}
	CloseTimeout time.Duration `env:"CLOSE_TIMEOUT" env-default:"5s"`
}
