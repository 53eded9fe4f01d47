package metrics

import (
	"testing"

	dto "github.com/prometheus/client_model/go"
)

func counterValue(t *testing.T, c interface{ Write(*dto.Metric) error }) float64 {
	t.Helper()
	metric := &dto.Metric{}
	if err := c.Write(metric); err != nil {
		t.Fatalf("Failed to write metric: %v", err)
	}
	return metric.Counter.GetValue()
}

func TestRecordAuthEvent(t *testing.T) {
	authEventsTotal.Reset()

	RecordAuthEvent("refresh", "replay")
	RecordAuthEvent("refresh", "replay")

	if got := counterValue(t, authEventsTotal.WithLabelValues("refresh", "replay")); got != 2 {
		t.Errorf("Expected counter value 2, got %f", got)
	}
}

func TestRecordUpload(t *testing.T) {
	uploadsTotal.Reset()

	RecordUpload("presign", "success")

	if got := counterValue(t, uploadsTotal.WithLabelValues("presign", "success")); got != 1 {
		t.Errorf("Expected counter value 1, got %f", got)
	}
	if got := counterValue(t, uploadsTotal.WithLabelValues("complete", "success")); got != 0 {
		t.Errorf("Expected untouched label to be 0, got %f", got)
	}
}

func TestRecordHTTPRequest(t *testing.T) {
	httpRequestsTotal.Reset()
	httpRequestDuration.Reset()

	RecordHTTPRequest("/health/live", "GET", "200", 0.002)

	if got := counterValue(t, httpRequestsTotal.WithLabelValues("/health/live", "GET", "200")); got != 1 {
		t.Errorf("Expected counter value 1, got %f", got)
	}
}

func TestSocketConnectedGauge(t *testing.T) {
	realtimeConnections.Set(0)
	SocketConnected(1)
	SocketConnected(1)
	SocketConnected(-1)

	metric := &dto.Metric{}
	if err := realtimeConnections.Write(metric); err != nil {
		t.Fatalf("Failed to write metric: %v", err)
	}
	if metric.Gauge.GetValue() != 1 {
		t.Errorf("Expected gauge value 1, got %f", metric.Gauge.GetValue())
	}
}
