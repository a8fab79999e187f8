package monitor

// Copyright (C) 2021-2025 Intel Corporation
// SPDX-License-Identifier: BSD-3-Clause

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const promMetricPrefix = "tsccal_"

// promCollector holds the series updated after every sample.
type promCollector struct {
	frequency    *prometheus.GaugeVec
	drift        *prometheus.GaugeVec
	calibrations *prometheus.CounterVec
}

func newPromCollector(registerer prometheus.Registerer) (*promCollector, error) {
	c := &promCollector{
		frequency: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: promMetricPrefix + "tsc_frequency_hz",
				Help: "Time-stamp counter frequency in Hz, 0 when unknown",
			},
			[]string{"machine", "source"},
		),
		drift: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: promMetricPrefix + "tsc_frequency_drift_ppm",
				Help: "Difference from the first known frequency in parts per million",
			},
			[]string{"machine"},
		),
		calibrations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: promMetricPrefix + "calibrations_total",
				Help: "Frequency queries by outcome",
			},
			[]string{"machine", "result"},
		),
	}
	for _, collector := range []prometheus.Collector{c.frequency, c.drift, c.calibrations} {
		if err := registerer.Register(collector); err != nil {
			return nil, err
		}
	}
	return c, nil
}

func (c *promCollector) update(s sample) {
	// only one source series per machine carries the current value
	c.frequency.DeletePartialMatch(prometheus.Labels{"machine": s.machine})
	c.frequency.WithLabelValues(s.machine, string(s.source)).Set(float64(s.hz))
	if s.hz == 0 {
		c.calibrations.WithLabelValues(s.machine, "failed").Inc()
		c.drift.DeleteLabelValues(s.machine)
		return
	}
	c.calibrations.WithLabelValues(s.machine, "ok").Inc()
	c.drift.WithLabelValues(s.machine).Set(s.driftPPM)
}

func startPrometheusServer(listenAddr string, gatherer prometheus.Gatherer) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	slog.Info("Starting Prometheus metrics server", slog.String("address", listenAddr))
	server := &http.Server{
		Addr:              listenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 3 * time.Second,
	}
	go func() {
		err := server.ListenAndServe()
		if err != nil && err != http.ErrServerClosed {
			slog.Error("Prometheus HTTP server ListenAndServe error", slog.String("error", err.Error()))
		}
	}()
	return server
}
