package server_test

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk-rv/adpulse/internal/adpulse"
	"github.com/vk-rv/adpulse/internal/mock"
	"github.com/vk-rv/adpulse/internal/server"
	"github.com/vk-rv/adpulse/internal/svc/metrics"
)

func newTestHandler(t *testing.T, store *mock.MetricsStore) *server.Handler {
	t.Helper()

	logger := slog.New(slog.DiscardHandler)
	return server.NewHandler(&server.Backend{
		Now:            time.Now,
		MetricsService: metrics.NewMetricsService(store, logger),
		Reg:            prometheus.NewRegistry(),
		Logger:         logger,
	})
}

type apiResponse struct {
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
	Success bool            `json:"success"`
}

func doRequest(t *testing.T, h *server.Handler, target string) (int, apiResponse) {
	t.Helper()

	req := httptest.NewRequest(http.MethodGet, target, http.NoBody)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	require.Equal(t, "application/json", w.Header().Get("Content-Type"))

	var resp apiResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return w.Code, resp
}

func TestGetSummary(t *testing.T) {
	t.Parallel()

	var gotCriteria *adpulse.SummaryCriteria
	store := &mock.MetricsStore{
		SummarizeDailyFn: func(_ context.Context, c *adpulse.SummaryCriteria) ([]adpulse.SummaryRow, error) {
			gotCriteria = c
			return []adpulse.SummaryRow{
				{
					Date:             adpulse.Day(time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC)),
					CampaignID:       "campaign_1",
					TotalImpressions: 5000,
					TotalClicks:      120,
					TotalConversions: 10,
					TotalSpend:       96.5,
					AvgCTR:           2.4,
					AvgCPC:           0.8,
				},
			}, nil
		},
	}
	h := newTestHandler(t, store)

	code, resp := doRequest(t, h, "/metrics/summary?start_date=2024-03-01&end_date=2024-03-31&campaign_id=campaign_1")

	require.Equal(t, http.StatusOK, code)
	assert.True(t, resp.Success)
	assert.Empty(t, resp.Error)

	var rows []adpulse.SummaryRow
	require.NoError(t, json.Unmarshal(resp.Data, &rows))
	require.Len(t, rows, 1)
	assert.Equal(t, "campaign_1", rows[0].CampaignID)
	assert.Equal(t, uint64(5000), rows[0].TotalImpressions)

	require.NotNil(t, gotCriteria)
	require.NotNil(t, gotCriteria.StartDate)
	require.NotNil(t, gotCriteria.EndDate)
	assert.Equal(t, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), *gotCriteria.StartDate)
	assert.Equal(t, time.Date(2024, 3, 31, 0, 0, 0, 0, time.UTC), *gotCriteria.EndDate)
	assert.Equal(t, "campaign_1", gotCriteria.CampaignID)
}

func TestGetSummary_NoFilters(t *testing.T) {
	t.Parallel()

	store := &mock.MetricsStore{
		SummarizeDailyFn: func(_ context.Context, c *adpulse.SummaryCriteria) ([]adpulse.SummaryRow, error) {
			assert.Nil(t, c.StartDate)
			assert.Nil(t, c.EndDate)
			assert.Empty(t, c.CampaignID)
			return nil, nil
		},
	}
	h := newTestHandler(t, store)

	code, resp := doRequest(t, h, "/metrics/summary")

	require.Equal(t, http.StatusOK, code)
	assert.True(t, resp.Success)
	assert.Equal(t, "[]", string(resp.Data), "empty result should be an empty array, not null")
}

func TestGetSummary_InvalidDate(t *testing.T) {
	t.Parallel()

	store := &mock.MetricsStore{
		SummarizeDailyFn: func(_ context.Context, _ *adpulse.SummaryCriteria) ([]adpulse.SummaryRow, error) {
			t.Fatal("store should not be called for invalid input")
			return nil, nil
		},
	}
	h := newTestHandler(t, store)

	code, resp := doRequest(t, h, "/metrics/summary?start_date=not-a-date")

	require.Equal(t, http.StatusBadRequest, code)
	assert.False(t, resp.Success)
	assert.Contains(t, resp.Error, "start_date")
}

func TestGetSummary_StoreError(t *testing.T) {
	t.Parallel()

	store := &mock.MetricsStore{
		SummarizeDailyFn: func(_ context.Context, _ *adpulse.SummaryCriteria) ([]adpulse.SummaryRow, error) {
			return nil, errors.New("clickhouse: connection refused")
		},
	}
	h := newTestHandler(t, store)

	code, resp := doRequest(t, h, "/metrics/summary")

	require.Equal(t, http.StatusInternalServerError, code)
	assert.False(t, resp.Success)
	assert.Equal(t, "failed to fetch metrics", resp.Error, "internal details should not leak to the client")
}

func TestGetRealtime(t *testing.T) {
	t.Parallel()

	store := &mock.MetricsStore{
		RealtimeMetricsFn: func(_ context.Context, c *adpulse.RealtimeCriteria) ([]adpulse.RealtimeRow, error) {
			assert.Equal(t, 15, c.WindowMinutes)
			return []adpulse.RealtimeRow{
				{
					Minute:      adpulse.Minute(time.Date(2024, 3, 10, 12, 4, 0, 0, time.UTC)),
					Impressions: 300,
					Clicks:      9,
					Conversions: 1,
					Spend:       7.2,
					AvgCTR:      3.0,
				},
			}, nil
		},
	}
	h := newTestHandler(t, store)

	code, resp := doRequest(t, h, "/metrics/realtime?window_minutes=15")

	require.Equal(t, http.StatusOK, code)
	assert.True(t, resp.Success)

	var rows []adpulse.RealtimeRow
	require.NoError(t, json.Unmarshal(resp.Data, &rows))
	require.Len(t, rows, 1)
	assert.Equal(t, uint64(300), rows[0].Impressions)
}

func TestGetRealtime_DefaultWindow(t *testing.T) {
	t.Parallel()

	store := &mock.MetricsStore{
		RealtimeMetricsFn: func(_ context.Context, c *adpulse.RealtimeCriteria) ([]adpulse.RealtimeRow, error) {
			assert.Equal(t, metrics.DefaultRealtimeWindowMinutes, c.WindowMinutes)
			return nil, nil
		},
	}
	h := newTestHandler(t, store)

	code, resp := doRequest(t, h, "/metrics/realtime")

	require.Equal(t, http.StatusOK, code)
	assert.True(t, resp.Success)
	assert.Equal(t, "[]", string(resp.Data))
}

func TestGetRealtime_InvalidWindow(t *testing.T) {
	t.Parallel()

	h := newTestHandler(t, &mock.MetricsStore{})

	code, resp := doRequest(t, h, "/metrics/realtime?window_minutes=abc")

	require.Equal(t, http.StatusBadRequest, code)
	assert.False(t, resp.Success)
	assert.Contains(t, resp.Error, "window_minutes")
}

func TestRoot(t *testing.T) {
	t.Parallel()

	h := newTestHandler(t, &mock.MetricsStore{})

	code, resp := doRequest(t, h, "/")

	require.Equal(t, http.StatusOK, code)
	assert.True(t, resp.Success)

	var status map[string]string
	require.NoError(t, json.Unmarshal(resp.Data, &status))
	assert.Equal(t, "ok", status["status"])
}
