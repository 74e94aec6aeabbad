// Command adpulse serves the ad-metrics query API.
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
	"github.com/vk-rv/adpulse/internal/ch"
	"github.com/vk-rv/adpulse/internal/chprometheus"
	"github.com/vk-rv/adpulse/internal/migrator"
	"github.com/vk-rv/adpulse/internal/server"
	"github.com/vk-rv/adpulse/internal/stdlog"
	"github.com/vk-rv/adpulse/internal/svc/metrics"
	"github.com/vk-rv/adpulse/internal/svcotel"
	"go.uber.org/automaxprocs/maxprocs"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.9.0"
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
		logger.Error("adpulse api server start / shutdown problem", slog.Any("error", err))
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
	go func() {
		sig := <-term
		logger.Info("signal was received", slog.String("signal", sig.String()))
		cancel()
	}()

	var tracingProvider svcotel.TracerProvider
	if cfg.Tracing.ReporterURI != "" {
		p, err := startTracing(
			termCtx,
			cfg.Tracing.ServiceName,
			cfg.Tracing.ReporterURI,
			cfg.Tracing.Probability,
		)
		if err != nil {
			return fmt.Errorf("start tracing: %w", err)
		}
		tracingProvider = p
	} else {
		tracingProvider = svcotel.NewNoopProvider()
	}

	clickConn, clickClose, err := ch.ConnectLoop(termCtx, cfg.ClickHouse.DSN, ch.DefaultTimeout, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err = clickClose(); err != nil {
			logger.Error("close clickhouse connection pool on server shutdown", slog.Any("error", err))
		}
	}()

	olapm, err := migrator.NewMigrator(cfg.ClickHouse.DSN, logger)
	if err != nil {
		return err
	}
	if err = olapm.Up(cfg.ForceMigrate); err != nil {
		return fmt.Errorf("migrate up: %w", err)
	}
	if sourceErr, err := olapm.Close(); sourceErr != nil || err != nil {
		return fmt.Errorf("close olap migrator: %w, %w", sourceErr, err)
	}

	olap := ch.NewClickhouseStore(clickConn, tracingProvider)

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

	now := time.Now

	metricsService := metrics.NewMetricsService(olap, logger.With(slog.String("service", "metrics")))

	var handler http.Handler = server.NewHandler(&server.Backend{
		Now:            now,
		MetricsService: metricsService,
		Reg:            reg,
		Logger:         logger,
	})

	handler = otelhttp.NewHandler(handler, "/", otelhttp.WithTracerProvider(tracingProvider))

	srv := &http.Server{
		Addr:              net.JoinHostPort(cfg.Server.Host, cfg.Server.Port),
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      15 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
		Handler:           handler,
		ErrorLog:          slog.NewLogLogger(logger.Handler(), slog.LevelError),
	}

	go func() {
		err = srv.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("listen on specified port", slog.Any("error", err))
			cancel()
		}
	}()

	var metricsSrv *http.Server
	if cfg.Metrics.Enabled {
		router := http.NewServeMux()
		router.Handle(cfg.Metrics.Path, promhttp.HandlerFor(reg, promhttp.HandlerOpts{
			ErrorLog: slog.NewLogLogger(logger.With(slog.String("service", "prometheus")).
				Handler(), slog.LevelError),
			Timeout: time.Second * 1,
		}))
		metricsSrv = &http.Server{
			Addr:              net.JoinHostPort(cfg.Server.Host, cfg.Metrics.Port),
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

	metricsPort := ""
	if metricsSrv != nil {
		metricsPort = cfg.Metrics.Port
	}

	logger.Info("server started",
		slog.String("host", cfg.Server.Host),
		slog.String("port", cfg.Server.Port),
		slog.String("metrics_port", metricsPort),
		slog.String("runtime", runtime.Version()),
		slog.String("os", runtime.GOOS))

	<-termCtx.Done()

	ctxShutDown, cancel := context.WithTimeout(context.Background(), cfg.Server.CloseTimeout)
	defer cancel()

	if err = srv.Shutdown(ctxShutDown); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}

	if metricsSrv != nil {
		if err = metricsSrv.Shutdown(ctxShutDown); err != nil {
			return fmt.Errorf("graceful shutdown for metrics failed: %w", err)
		}
	}

	logger.Info("server exited properly")

	return nil
}

// startTracing configure open telemetry to be used.
func startTracing(ctx context.Context, serviceName, reporterURI string, probability float64) (*trace.TracerProvider, error) {
	exporter, err := otlptrace.New(
		ctx,
		otlptracegrpc.NewClient(
			otlptracegrpc.WithInsecure(),
			otlptracegrpc.WithEndpoint(reporterURI),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("creating new exporter: %w", err)
	}

	traceProvider := trace.NewTracerProvider(
		trace.WithSampler(trace.TraceIDRatioBased(probability)),
		trace.WithBatcher(exporter,
			trace.WithMaxExportBatchSize(trace.DefaultMaxExportBatchSize),
			trace.WithBatchTimeout(trace.DefaultScheduleDelay*time.Millisecond),
		),
		trace.WithResource(
			resource.NewWithAttributes(
				semconv.SchemaURL,
				semconv.ServiceNameKey.String(serviceName),
			),
		),
	)

	// We must set this provider as the global provider for things to work,
	// but we pass this provider around the program where needed to collect
	// our traces.
	otel.SetTracerProvider(traceProvider)

	// Chooses the HTTP header formats we extract incoming trace contexts from,
	// and the headers we set in outgoing requests.
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return traceProvider, nil
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
	Server struct {
		Host         string        `env:"SERVER_HOST"   env-default:"localhost"`
		Port         string        `env:"SERVER_PORT"   env-default:"8080"`
		CloseTimeout time.Duration `env:"CLOSE_TIMEOUT" env-default:"5s"`
	}
	Metrics struct {
		Port    string `env:"METRICS_PORT"    env-default:"8081"`
		Path    string `env:"METRICS_PATH"    env-default:"/metrics"`
		Enabled bool   `env:"METRICS_ENABLED" env-default:"false"`
	}
	Log struct {
		Output string `env:"LOG_OUTPUT" env-default:"stderr"`
		Text   bool   `env:"LOG_TEXT"   env-default:"false"`
	}
	Tracing struct {
		ReporterURI string  `env:"TRACING_REPORTER_URI" env-default:""`
		ServiceName string  `env:"TRACING_SERVICE_NAME" env-default:"adpulse"`
		Probability float64 `env:"TRACING_PROBABILITY"  env-default:"1.0"`
	}
	ForceMigrate bool `env:"FORCE_MIGRATE" env-default:"false"`
}
