// Package metrics exports sensor and connectivity metrics for Prometheus.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

// Labels of mhz19_co2_ppm.
const (
	KindCurrent = "current"
	KindMean    = "mean"
	KindMean2   = "mean2"
)

// Metrics holds the collectors on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	CO2          *prometheus.GaugeVec
	Temperature  prometheus.Gauge
	Transactions *prometheus.CounterVec
	Reconnects   prometheus.Counter
	PublishErrs  prometheus.Counter

	log logrus.FieldLogger
}

// New creates and registers all collectors.
func New(log logrus.FieldLogger) *Metrics {
	if log == nil {
		log = logrus.StandardLogger()
	}
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		CO2: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "mhz19_co2_ppm",
				Help: "CO2 concentration in ppm",
			},
			[]string{"kind"},
		),
		Temperature: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "mhz19_temperature_celsius",
			Help: "Sensor temperature in degrees Celsius",
		}),
		Transactions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mhz19_transactions_total",
				Help: "Sensor transactions by outcome",
			},
			[]string{"status"},
		),
		Reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mhz19_mqtt_reconnects_total",
			Help: "MQTT connection attempts after the initial connect",
		}),
		PublishErrs: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mhz19_publish_errors_total",
			Help: "Telemetry publishes that failed",
		}),
		log: log,
	}

	m.registry.MustRegister(
		m.CO2,
		m.Temperature,
		m.Transactions,
		m.Reconnects,
		m.PublishErrs,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry returns the registry the collectors are registered on.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// ObserveCO2 records a raw reading and both means.
func (m *Metrics) ObserveCO2(current int, mean, mean2 float64) {
	m.CO2.WithLabelValues(KindCurrent).Set(float64(current))
	m.CO2.WithLabelValues(KindMean).Set(mean)
	m.CO2.WithLabelValues(KindMean2).Set(mean2)
}

// ObserveTemperature records the sensor temperature.
func (m *Metrics) ObserveTemperature(c int) {
	m.Temperature.Set(float64(c))
}

// Transaction counts one sensor transaction.
func (m *Metrics) Transaction(status string) {
	m.Transactions.WithLabelValues(status).Inc()
}

// Reconnect counts one MQTT reconnection attempt.
func (m *Metrics) Reconnect() {
	m.Reconnects.Inc()
}

// PublishError counts one failed telemetry publish.
func (m *Metrics) PublishError() {
	m.PublishErrs.Inc()
}

// Handler returns the router serving /metrics and /health.
func (m *Metrics) Handler() http.Handler {
	r := mux.NewRouter()
	r.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	r.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	}).Methods(http.MethodGet)
	return r
}

// Serve exposes the metrics on addr until ctx is done.
func (m *Metrics) Serve(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           m.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	m.log.Infof("Metrics server listening on %s", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
