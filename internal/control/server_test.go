package control

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mm-quoter/gateway"
	"mm-quoter/infrastructure/monitor"
	"mm-quoter/internal/engine"
	"mm-quoter/news"
	"mm-quoter/risk"
	"mm-quoter/strategy"
)

type staticStatus struct{ st engine.Status }

func (s staticStatus) Status() engine.Status { return s.st }

type fixture struct {
	srv      *httptest.Server
	widening *strategy.Widening
	mon      *monitor.Monitor
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	clk := risk.NewManualClock(time.Unix(1_700_000_000, 0))
	w := strategy.NewWidening(strategy.DefaultWideningConfig(), clk)
	mon := monitor.New(monitor.DefaultConfig())
	d := news.NewDispatcher([]gateway.Instrument{"ASML", "NVDA"}, w, nil, mon)
	status := staticStatus{st: engine.Status{
		State:       "RUNNING",
		Positions:   map[string]int64{"ASML": 12},
		Instruments: map[string]engine.InstrumentStatus{"ASML": {State: "QUOTED"}},
	}}
	s := NewServer(Config{AllowedOrigins: []string{"http://ops.local"}}, status, d, mon.Handler(), nil)
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)
	return &fixture{srv: srv, widening: w, mon: mon}
}

func post(t *testing.T, url, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestFlagGlobal(t *testing.T) {
	f := newFixture(t)
	resp := post(t, f.srv.URL+"/api/v1/news/global", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out FlagResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Equal(t, "global", out.Scope)
	assert.Equal(t, 2, f.widening.EffectiveHalfSpreadTicks("NVDA", 1))
}

func TestFlagInstrument(t *testing.T) {
	f := newFixture(t)
	resp := post(t, f.srv.URL+"/api/v1/news/ASML", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 3, f.widening.EffectiveHalfSpreadTicks("ASML", 1))
	assert.Equal(t, 1, f.widening.EffectiveHalfSpreadTicks("NVDA", 1))

	resp = post(t, f.srv.URL+"/api/v1/news/TSLA", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestPostHeadline(t *testing.T) {
	f := newFixture(t)
	resp := post(t, f.srv.URL+"/api/v1/news", `{"text":"#GlobalEconomy: NVDA guidance"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out HeadlineResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.True(t, out.Global)
	assert.Equal(t, []string{"NVDA"}, out.Instruments)

	assert.Equal(t, http.StatusBadRequest, post(t, f.srv.URL+"/api/v1/news", `{`).StatusCode)
	assert.Equal(t, http.StatusBadRequest, post(t, f.srv.URL+"/api/v1/news", `{}`).StatusCode)
}

func TestStatusAndHealth(t *testing.T) {
	f := newFixture(t)

	resp, err := http.Get(f.srv.URL + "/api/v1/status")
	require.NoError(t, err)
	defer resp.Body.Close()
	var st engine.Status
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&st))
	assert.Equal(t, "RUNNING", st.State)
	assert.Equal(t, int64(12), st.Positions["ASML"])

	resp2, err := http.Get(f.srv.URL + "/health")
	require.NoError(t, err)
	defer resp2.Body.Close()
	var health map[string]string
	require.NoError(t, json.NewDecoder(resp2.Body).Decode(&health))
	assert.Equal(t, "ok", health["status"])
	assert.Equal(t, "RUNNING", health["engine"])
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture(t)
	post(t, f.srv.URL+"/api/v1/news/global", "")

	resp, err := http.Get(f.srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `mm_quoter_news_flags_total{scope="global"} 1`)
}

func TestCORSPreflight(t *testing.T) {
	f := newFixture(t)
	req, err := http.NewRequest(http.MethodOptions, f.srv.URL+"/api/v1/news/global", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "http://ops.local")
	req.Header.Set("Access-Control-Request-Method", "POST")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "http://ops.local", resp.Header.Get("Access-Control-Allow-Origin"))
}

func TestStartAndShutdown(t *testing.T) {
	s := NewServer(Config{Addr: "127.0.0.1:0"}, staticStatus{}, nil, nil, nil)
	require.NoError(t, s.Start())
	resp, err := http.Get("http://" + s.Addr() + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.NoError(t, s.Shutdown(ctx))
}

func TestServerWithoutSources(t *testing.T) {
	s := NewServer(Config{}, nil, nil, nil, nil)
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/v1/status")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	var out ErrorResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Equal(t, "status unavailable", out.Error)

	health, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	defer health.Body.Close()
	assert.Equal(t, http.StatusOK, health.StatusCode)

	flag := post(t, srv.URL+"/api/v1/news/global", "")
	assert.Equal(t, http.StatusNotFound, flag.StatusCode)
}
