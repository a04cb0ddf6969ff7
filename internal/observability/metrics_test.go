package observability

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"solana-trade-ledger/internal/domain"
)

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	m.RecordNotification("ws", 1)
	m.RecordFetch(nil)
	m.RecordTrade(domain.SideBuy, "", time.Now())
	m.SetStatus(domain.Status{})
	m.RecordPriceCycle(1, 1, 0, time.Second, nil)
	m.RecordHTTP("/health", "200", time.Millisecond)
}

func TestMetrics_Records(t *testing.T) {
	m := NewMetrics("test", nil)

	m.RecordNotification("ws", 42)
	m.RecordNotification("ws", 43)
	assert.Equal(t, 2.0, testutil.ToFloat64(m.NotificationsReceived.WithLabelValues("ws")))
	assert.Equal(t, 43.0, testutil.ToFloat64(m.HighestSlotSeen))

	m.RecordFetch(errors.New("x"))
	m.RecordFetch(nil)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.FetchFailures))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.TransactionsFetched))

	m.RecordDecode([]domain.DecodedTrade{{Side: domain.SideBuy}, {Side: domain.SideSell}}, []string{"short_data"})
	assert.Equal(t, 1.0, testutil.ToFloat64(m.TradesDecoded.WithLabelValues("buy")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.DecodeSkipped.WithLabelValues("short_data")))

	m.RecordTrade(domain.SideSell, "", time.Time{})
	m.RecordTrade(domain.SideSell, "duplicate", time.Time{})
	assert.Equal(t, 1.0, testutil.ToFloat64(m.TradesApplied.WithLabelValues("sell")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.TradesRejected.WithLabelValues("duplicate")))

	m.SetStatus(domain.Status{ActivePositions: 3, ClosedPositions: 1, TrackedAssets: 2, TrackedWallets: 4})
	assert.Equal(t, 3.0, testutil.ToFloat64(m.ActivePositions))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.TrackedWallets))

	m.RecordPriceCycle(5, 2, 1, time.Second, nil)
	m.RecordPriceCycle(0, 0, 0, time.Second, errors.New("down"))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.PriceCycles.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.PriceCycles.WithLabelValues("error")))
	assert.Equal(t, 5.0, testutil.ToFloat64(m.SnapshotsApplied))

	m.RecordSourceSwitch("slot", "ws", "slot")
	assert.Equal(t, 0.0, testutil.ToFloat64(m.ActiveSource.WithLabelValues("ws")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ActiveSource.WithLabelValues("slot")))
}

func TestNewMetrics_Registers(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics("reg", reg)
	m.RecordResubscribe()

	families, err := reg.Gather()
	require.NoError(t, err)
	names := make(map[string]bool)
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["reg_ingestion_resubscribes_total"])
	assert.True(t, names["reg_ledger_active_positions"])
}
