package metrics

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hrygo/nudger/server/service/nudge"
)

func scrape(t *testing.T, e *PrometheusExporter) string {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/metrics", http.NoBody)
	rec := httptest.NewRecorder()
	e.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	return string(body)
}

func TestPrometheusExporter(t *testing.T) {
	exporter := NewPrometheusExporter(DefaultConfig())

	exporter.ObserveDispatch(nudge.TypeDailyTip, nudge.OutcomeDelivered, 120*time.Millisecond)
	exporter.ObserveDispatch(nudge.TypeDailyTip, nudge.OutcomeDelivered, 80*time.Millisecond)
	exporter.ObserveDispatch(nudge.TypeDailyTip, nudge.OutcomeSkippedCap, time.Millisecond)
	exporter.ObserveChannelAttempt(nudge.ChannelPush, errors.New("timeout"), time.Second)
	exporter.ObserveChannelAttempt(nudge.ChannelEmail, nil, time.Second)
	exporter.ObserveLockContention()
	exporter.ObserveBatch(nudge.TypeStreakWarning, 42)

	body := scrape(t, exporter)

	tests := []struct {
		name string
		line string
	}{
		{"delivered", `nudger_dispatch_total{nudge_type="DAILY_TIP",outcome="delivered"} 2`},
		{"capped", `nudger_dispatch_total{nudge_type="DAILY_TIP",outcome="skipped_cap"} 1`},
		{"latency", `nudger_dispatch_latency_seconds_count{nudge_type="DAILY_TIP"} 3`},
		{"push error", `nudger_channel_attempts_total{channel="push",status="error"} 1`},
		{"email success", `nudger_channel_attempts_total{channel="email",status="success"} 1`},
		{"contention", `nudger_lock_contention_total 1`},
		{"batch", `nudger_batch_users_count{nudge_type="STREAK_WARNING"} 1`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Contains(t, body, tt.line)
		})
	}
}

func TestSeparateRegistries(t *testing.T) {
	a := NewPrometheusExporter(DefaultConfig())
	b := NewPrometheusExporter(Config{})
	a.ObserveLockContention()

	assert.Contains(t, scrape(t, a), "nudger_lock_contention_total 1")
	assert.Contains(t, scrape(t, b), "nudger_lock_contention_total 0")
	assert.NotSame(t, a.GetRegistry(), b.GetRegistry())
}
