package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Observe(t *testing.T) {
	m := New(nil)

	m.ObserveCO2(440, 425, 408.55)
	m.ObserveTemperature(23)
	m.Transaction("ok")
	m.Transaction("ok")
	m.Transaction("timeout")
	m.Reconnect()
	m.PublishError()

	assert.Equal(t, 440.0, testutil.ToFloat64(m.CO2.WithLabelValues(KindCurrent)))
	assert.Equal(t, 425.0, testutil.ToFloat64(m.CO2.WithLabelValues(KindMean)))
	assert.InDelta(t, 408.55, testutil.ToFloat64(m.CO2.WithLabelValues(KindMean2)), 1e-9)
	assert.Equal(t, 23.0, testutil.ToFloat64(m.Temperature))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.Transactions.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Transactions.WithLabelValues("timeout")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Reconnects))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.PublishErrs))
}

func TestMetrics_IndependentRegistries(t *testing.T) {
	a := New(nil)
	b := New(nil)

	a.Reconnect()
	assert.Equal(t, 1.0, testutil.ToFloat64(a.Reconnects))
	assert.Equal(t, 0.0, testutil.ToFloat64(b.Reconnects))
}

func TestHandler(t *testing.T) {
	m := New(nil)
	m.ObserveCO2(500, 500, 500)

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "OK", string(body))

	resp, err = http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	body, _ = io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, strings.Contains(string(body), `mhz19_co2_ppm{kind="current"} 500`))

	resp, err = http.Post(srv.URL+"/metrics", "text/plain", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}
