// Command adpulse-worker runs the cron scheduler and the job queue
// consumer executing aggregation and retention jobs.
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
	"github.com/vk-rv/adpulse/internal/redisq"
	"github.com/vk-rv/adpulse/internal/scheduler"
	"github.com/vk-rv/adpulse/internal/stdlog"
	"github.com/vk-rv/adpulse/internal/svcotel"
	"github.com/vk-rv/adpulse/internal/worker"
	"go.uber.org/automaxprocs/maxprocs"
	"golang.org/x/sync/errgroup"
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
		logger.Error("adpulse worker start / shutdown problem", slog.Any("error", err))
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
			logger.Error("close clickhouse connection pool on worker shutdown", slog.Any("error", err))
		}
	}()

	rdb, redisClose, err := redisq.ConnectLoop(termCtx, cfg.Redis.Addr, redisq.DefaultConnTimeout, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err = redisClose(); err != nil {
			logger.Error("close redis client on worker shutdown", slog.Any("error", err))
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

	now := time.Now

	olap := ch.NewClickhouseStore(clickConn, svcotel.NewNoopProvider())

	queueCfg := redisq.Config{
		Client:      rdb,
		Logger:      logger.With(slog.String("service", "queue")),
		Name:        cfg.Queue.Name,
		MaxAttempts: cfg.Queue.MaxAttempts,
	}
	queue, err := redisq.NewQueue(queueCfg)
	if err != nil {
		return err
	}

	sched := scheduler.New(queue, now, cfg.RetentionDays, logger.With(slog.String("service", "scheduler")))

	pipeline := worker.NewPipeline(olap, now, reg, logger.With(slog.String("service", "pipeline")))

	consumer, err := redisq.NewConsumer(queueCfg, pipeline, sched)
	if err != nil {
		return err
	}

	if err = sched.Start(); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
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

	logger.Info("worker started",
		slog.String("queue", cfg.Queue.Name),
		slog.Int("retention_days", cfg.RetentionDays),
		slog.String("runtime", runtime.Version()),
		slog.String("os", runtime.GOOS))

	group, groupCtx := errgroup.WithContext(termCtx)
	group.Go(func() error {
		return consumer.Run(groupCtx)
	})

	err = group.Wait()

	sched.Stop()

	// queue and consumer share the client closed by redisClose above.

	if metricsSrv != nil {
		ctxShutDown, cancelShutdown := context.WithTimeout(context.Background(), cfg.CloseTimeout)
		defer cancelShutdown()
		if shutdownErr := metricsSrv.Shutdown(ctxShutDown); shutdownErr != nil {
			return fmt.Errorf("graceful shutdown for metrics failed: %w", shutdownErr)
		}
	}

	if err != nil {
		return fmt.Errorf("consume jobs: %w", err)
	}

	logger.Info("worker exited properly")

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
	Redis struct {
		Addr string `env:"REDIS_ADDR" env-default:"localhost:6379"`
	}
	Queue struct {
		Name        string `env:"QUEUE_NAME"         env-default:"adpulse:jobs"`
		MaxAttempts int    `env:"QUEUE_MAX_ATTEMPTS" env-default:"1"`
	}
	Metrics struct {
		Host    string `env:"METRICS_HOST"    env-default:"localhost"`
		Port    string `env:"METRICS_PORT"    env-default:"8082"`
		Path    string `env:"METRICS_PATH"    env-default:"/metrics"`
		Enabled bool   `env:"METRICS_ENABLED" env-default:"false"`
	}
	Log struct {
		Output string `env:"LOG_OUTPUT" env-default:"stderr"`
		Text   bool   `env:"LOG_TEXT"   env-default:"false"`
	}
	RetentionDays int           `env:"RETENTION_DAYS" env-default:"90"`
	CloseTimeout  time.Duration `env:"CLOSE_TIMEOUT"  env-default:"5s"`
}
