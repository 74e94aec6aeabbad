// Command adpulse-generator emits synthetic ad metrics either directly
// into ClickHouse or onto the Kafka ingest topic.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/vk-rv/adpulse/internal/ch"
	"github.com/vk-rv/adpulse/internal/generator"
	"github.com/vk-rv/adpulse/internal/kafka"
	"github.com/vk-rv/adpulse/internal/stdlog"
	"github.com/vk-rv/adpulse/internal/svcotel"
	"go.uber.org/automaxprocs/maxprocs"
)

const (
	sinkClickHouse = "clickhouse"
	sinkKafka      = "kafka"
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
		logger.Error("adpulse generator start / shutdown problem", slog.Any("error", err))
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

	var sink generator.Sink
	switch cfg.Sink {
	case sinkClickHouse:
		clickConn, clickClose, err := ch.ConnectLoop(termCtx, cfg.ClickHouse.DSN, ch.DefaultTimeout, logger)
		if err != nil {
			return err
		}
		defer func() {
			if err = clickClose(); err != nil {
				logger.Error("close clickhouse connection pool on generator shutdown", slog.Any("error", err))
			}
		}()
		sink = generator.NewStoreSink(ch.NewClickhouseStore(clickConn, svcotel.NewNoopProvider()))
	case sinkKafka:
		producer, err := kafka.NewProducer(&kafka.ProducerConfig{
			CommonConfig: kafka.CommonConfig{
				Brokers:  cfg.Kafka.Brokers,
				ClientID: "adpulse-generator",
				Logger:   logger.With(slog.String("service", "kafka")),
			},
			Reg:                    prometheus.NewRegistry(),
			CompressionCodec:       []kafka.CompressionCodec{kafka.ZstdCompression(), kafka.NoCompression()},
			Sync:                   true,
			AllowAutoTopicCreation: true,
		})
		if err != nil {
			return err
		}
		defer func() {
			if err = producer.Close(); err != nil {
				logger.Error("close kafka producer on generator shutdown", slog.Any("error", err))
			}
		}()
		sink = generator.NewProducerSink(producer)
	default:
		return fmt.Errorf("unknown sink %q, expected %q or %q", cfg.Sink, sinkClickHouse, sinkKafka)
	}

	gen := generator.New(
		sink,
		time.Duration(cfg.IntervalSeconds)*time.Second,
		time.Now,
		nil,
		logger.With(slog.String("service", "generator")),
	)

	if err := gen.Run(termCtx); err != nil {
		return fmt.Errorf("run generator: %w", err)
	}

	logger.Info("generator exited properly")

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
		DSN string `env:"CLICKHOUSE_DSN" env-default:""`
	}
	Kafka struct {
		Brokers []string `env:"KAFKA_BROKERS" env-default:"localhost:9092"`
	}
	Log struct {
		Output string `env:"LOG_OUTPUT" env-default:"stderr"`
		Text   bool   `env:"LOG_TEXT"   env-default:"false"`
	}
	Sink            string `env:"GENERATOR_SINK"             env-default:"clickhouse"`
	IntervalSeconds int    `env:"GENERATOR_INTERVAL_SECONDS" env-default:"60"`
}
