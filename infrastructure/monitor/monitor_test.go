package monitor

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestQuoteMetrics(t *testing.T) {
	m := New(DefaultConfig())

	m.RecordQuote("ASML", "quoted")
	m.RecordQuote("ASML", "quoted")
	m.RecordQuote("ASML", "stop_out")
	m.UpdateQuote("ASML", 100.2, 0.1)

	if got := testutil.ToFloat64(m.quotes.WithLabelValues("ASML", "quoted")); got != 2 {
		t.Errorf("Expected quoted count 2, got %f", got)
	}
	if got := testutil.ToFloat64(m.quotes.WithLabelValues("ASML", "stop_out")); got != 1 {
		t.Errorf("Expected stop_out count 1, got %f", got)
	}
	if got := testutil.ToFloat64(m.fairValue.WithLabelValues("ASML")); got != 100.2 {
		t.Errorf("Expected fair value 100.2, got %f", got)
	}
}

func TestVenueCallMetrics(t *testing.T) {
	m := New(DefaultConfig())

	m.ObserveVenueCall("insert", 0.002, "")
	m.ObserveVenueCall("insert", 0.003, "transport")

	if got := testutil.ToFloat64(m.venueErrors.WithLabelValues("insert", "transport")); got != 1 {
		t.Errorf("Expected 1 transport error, got %f", got)
	}
	if got := testutil.CollectAndCount(m.venueLatency); got != 1 {
		t.Errorf("Expected 1 latency series, got %d", got)
	}
}

func TestPositionAndExposure(t *testing.T) {
	m := New(DefaultConfig())
	m.UpdatePosition("ASML", -12)
	m.UpdateTotalExposure(30)

	if got := testutil.ToFloat64(m.position.WithLabelValues("ASML")); got != -12 {
		t.Errorf("Expected position -12, got %f", got)
	}
	if got := testutil.ToFloat64(m.totalExposure); got != 30 {
		t.Errorf("Expected exposure 30, got %f", got)
	}
}

func TestHandlerExposesRegistry(t *testing.T) {
	m := New(DefaultConfig())
	m.RecordOrderInserted("bid")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), "mm_quoter_orders_inserted_total") {
		t.Fatalf("metrics output missing orders_inserted_total:\n%s", body)
	}
}
