package monitoring

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/scribeworks/formfill-cli/internal/config"
	"github.com/scribeworks/formfill-cli/internal/cost"
	"github.com/scribeworks/formfill-cli/internal/model"
	"github.com/scribeworks/formfill-cli/internal/store"
)

func TestCheckerCheckSendsAlerts(t *testing.T) {
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "checker.db"))
	require.NoError(t, err)
	require.NoError(t, st.Migrate(context.Background()))
	t.Cleanup(func() { st.Close() })

	// Six failed records out of six finished trips the failure rate alert.
	for i := 0; i < 6; i++ {
		seedRecord(t, st, model.StatusFailed, model.TokenUsage{}, 0)
	}

	var received atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var alert Alert
		require.NoError(t, json.NewDecoder(r.Body).Decode(&alert))
		assert.Equal(t, AlertFailureRate, alert.Type)
		received.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	cfg := config.MonitoringConfig{
		WebhookURL:           srv.URL,
		LookbackWindowHours:  24,
		FailureRateThreshold: 0.25,
	}
	checker := NewChecker(
		NewCollector(st, cost.NewCalculator(cost.DefaultRates()), "claude-sonnet-4-5-20250929"),
		NewAlerter(cfg), cfg)

	checker.check(context.Background(), zap.NewNop())
	assert.Equal(t, int64(1), received.Load())
}

func TestCheckerRunStopsOnCancel(t *testing.T) {
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "checker.db"))
	require.NoError(t, err)
	require.NoError(t, st.Migrate(context.Background()))
	t.Cleanup(func() { st.Close() })

	cfg := config.MonitoringConfig{CheckIntervalSecs: 1}
	checker := NewChecker(
		NewCollector(st, cost.NewCalculator(cost.DefaultRates()), "claude-sonnet-4-5-20250929"),
		NewAlerter(cfg), cfg)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		checker.Run(ctx)
		close(done)
	}()

	cancel()
	<-done
}
