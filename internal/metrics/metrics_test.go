package metrics

import (
	"strings"
	"testing"

	"github.com/astrorafael/emadb/internal/ema"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetrics(t *testing.T) {
	m := New()

	m.Received(ema.CurrentSample)
	m.Received(ema.CurrentSample)
	if got := testutil.ToFloat64(m.received.WithLabelValues("current")); got != 2 {
		t.Fatalf("expected 2 received, got %f", got)
	}

	m.Dropped(ema.MinMaxHistory, Malformed)
	m.DroppedTopic()
	if got := testutil.ToFloat64(m.dropped.WithLabelValues("minmax", Malformed)); got != 1 {
		t.Fatalf("expected 1 malformed minmax, got %f", got)
	}
	if got := testutil.ToFloat64(m.dropped.WithLabelValues("unknown", UnknownTopic)); got != 1 {
		t.Fatalf("expected 1 unknown topic, got %f", got)
	}

	m.Stored(ema.AveragesHistory, 12)
	m.Stored(ema.AveragesHistory, 0)
	if got := testutil.ToFloat64(m.stored.WithLabelValues("samples")); got != 12 {
		t.Fatalf("expected 12 stored, got %f", got)
	}

	m.QueueDepth(ema.AverageSample, 3)
	m.QueueDepth(ema.AverageSample, 0)
	if got := testutil.ToFloat64(m.queueDepth.WithLabelValues("average")); got != 0 {
		t.Fatalf("expected empty queue, got %f", got)
	}

	m.State(2)
	m.ConnectAttempt()
	expected := `
# HELP emadb_mqtt_state Subscriber state (0 disconnected, 1 connecting, 2 connected, 3 failed).
# TYPE emadb_mqtt_state gauge
emadb_mqtt_state 2
# HELP emadb_mqtt_connect_attempts_total Connection attempts to the broker.
# TYPE emadb_mqtt_connect_attempts_total counter
emadb_mqtt_connect_attempts_total 1
`
	if err := testutil.GatherAndCompare(m.Registry(), strings.NewReader(expected),
		"emadb_mqtt_state", "emadb_mqtt_connect_attempts_total"); err != nil {
		t.Fatal(err)
	}
}

func TestNilMetrics(t *testing.T) {
	var m *Metrics
	m.Received(ema.CurrentSample)
	m.Dropped(ema.CurrentSample, Busy)
	m.DroppedTopic()
	m.Stored(ema.CurrentSample, 1)
	m.QueueDepth(ema.CurrentSample, 1)
	m.State(1)
	m.ConnectAttempt()
	if m.Registry() != nil {
		t.Error("nil metrics has a registry")
	}
}
