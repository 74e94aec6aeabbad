// Package generator produces synthetic ad metric rows on a fixed interval,
// useful for local development and load tests.
package generator

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"math/rand/v2"
	"time"

	"github.com/vk-rv/adpulse/internal/adpulse"
)

// DefaultInterval is how often a batch is emitted when no interval is set.
const DefaultInterval = 60 * time.Second

const (
	numCampaigns   = 5
	adsPerCampaign = 5
)

// Sink receives generated metric batches.
type Sink interface {
	// Write delivers one batch of generated rows.
	Write(ctx context.Context, metrics []adpulse.RawMetric) error
}

// SinkFunc is a function type that implements the Sink interface.
type SinkFunc func(context.Context, []adpulse.RawMetric) error

// Write returns f(ctx, metrics).
func (f SinkFunc) Write(ctx context.Context, metrics []adpulse.RawMetric) error {
	return f(ctx, metrics)
}

// Generator emits one batch of rows per campaign/ad pair every interval.
type Generator struct {
	sink      Sink
	now       func() time.Time
	rnd       *rand.Rand
	logger    *slog.Logger
	campaigns []string
	interval  time.Duration
}

// New is a constructor of Generator. A nil rnd falls back to the shared
// generator, a non-positive interval falls back to DefaultInterval.
func New(sink Sink, interval time.Duration, now func() time.Time, rnd *rand.Rand, logger *slog.Logger) *Generator {
	if interval <= 0 {
		interval = DefaultInterval
	}
	campaigns := make([]string, 0, numCampaigns)
	for i := 1; i <= numCampaigns; i++ {
		campaigns = append(campaigns, fmt.Sprintf("campaign_%d", i))
	}
	return &Generator{
		sink:      sink,
		now:       now,
		rnd:       rnd,
		logger:    logger,
		campaigns: campaigns,
		interval:  interval,
	}
}

// Run emits an initial batch and then one batch per interval until the
// context is canceled.
func (g *Generator) Run(ctx context.Context) error {
	g.logger.Info("starting metric generation",
		slog.Duration("interval", g.interval))

	if err := g.emit(ctx); err != nil {
		return err
	}

	ticker := time.NewTicker(g.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := g.emit(ctx); err != nil {
				return err
			}
		}
	}
}

func (g *Generator) emit(ctx context.Context) error {
	metrics := g.Batch(g.now().UTC())
	if err := g.sink.Write(ctx, metrics); err != nil {
		return fmt.Errorf("generator: write batch: %w", err)
	}
	g.logger.Info("inserted metrics", slog.Int("count", len(metrics)))
	return nil
}

// Batch generates one row per campaign/ad pair at the given timestamp.
// Impressions range from 1000 to 10000, the click-through rate from 0.5%
// to 5%, conversions from 1% to 10% of clicks and the cost per click from
// $0.5 to $2.
func (g *Generator) Batch(timestamp time.Time) []adpulse.RawMetric {
	metrics := make([]adpulse.RawMetric, 0, len(g.campaigns)*adsPerCampaign)
	for _, campaignID := range g.campaigns {
		for adNum := range adsPerCampaign {
			impressions := g.intN(9000) + 1000
			clicks := int(float64(impressions) * (g.float64()*0.045 + 0.005))
			conversions := int(float64(clicks) * (g.float64()*0.09 + 0.01))
			spend := math.Round(float64(clicks)*(g.float64()*1.5+0.5)*100) / 100

			metrics = append(metrics, adpulse.RawMetric{
				Timestamp:   timestamp,
				CampaignID:  campaignID,
				AdID:        fmt.Sprintf("%s_ad_%d", campaignID, adNum),
				Impressions: uint32(impressions),
				Clicks:      uint32(clicks),
				Conversions: uint32(conversions),
				Spend:       spend,
			})
		}
	}
	return metrics
}

func (g *Generator) intN(n int) int {
	if g.rnd != nil {
		return g.rnd.IntN(n)
	}
	return rand.IntN(n)
}

func (g *Generator) float64() float64 {
	if g.rnd != nil {
		return g.rnd.Float64()
	}
	return rand.Float64()
}
