package observability

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestRecordDeliveries(t *testing.T) {
	beforeFailed := testutil.ToFloat64(DeliveryFailures())
	beforeDelivered := testutil.ToFloat64(deliveredCounter)

	RecordDeliveries(3, 1)

	require.InDelta(t, beforeDelivered+3, testutil.ToFloat64(deliveredCounter), 1e-9)
	require.InDelta(t, beforeFailed+1, testutil.ToFloat64(DeliveryFailures()), 1e-9)
}

func TestSamplePersistWatermarkIgnoresZeroTime(t *testing.T) {
	ts := time.Date(2025, time.October, 27, 9, 0, 0, 0, time.UTC)
	RecordSamplePersisted(ts)
	RecordSamplePersisted(time.Time{})

	require.Equal(t, float64(ts.Unix()), testutil.ToFloat64(SamplePersistWatermark()))
}

func TestSubscribersGauge(t *testing.T) {
	SetSubscribers(4)
	require.Equal(t, 4.0, testutil.ToFloat64(subscribersGauge))
	SetSubscribers(0)
	require.Zero(t, testutil.ToFloat64(subscribersGauge))
}
