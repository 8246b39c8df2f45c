// Command exchanged is the trusted half of the login flow. It is the only
// process that holds the client secret; it redeems authorization codes and
// resolves identities on behalf of the public onboard binary.
package main

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/lenxapp/onboard/config"
	"github.com/lenxapp/onboard/exchange"
	"github.com/lenxapp/onboard/middleware"
)

func main() {
	log := logrus.StandardLogger()

	cfg, err := config.LoadExchange()
	if err != nil {
		log.WithError(err).Fatal("loading configuration failed")
	}
	if cfg.ClientID == "" || cfg.ClientSecret == "" {
		log.Warn("client credentials not set, token exchanges will fail until they are configured")
	}

	metrics := exchange.NewMetrics(prometheus.DefaultRegisterer)
	svc := exchange.NewService(exchange.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     cfg.TokenURL,
		UserInfoURL:  cfg.UserInfoURL,
	}, exchange.WithLogger(log), exchange.WithMetrics(metrics))

	handler := exchange.Handler(svc,
		middleware.NewRequestIDProcessor(log),
		middleware.NewAPISecurityHeadersProcessor(),
	)

	mux := http.NewServeMux()
	mux.Handle("/auth/x/", handler)
	if cfg.MetricsAddr == "" {
		mux.Handle("GET /metrics", promhttp.Handler())
	} else {
		go serveMetrics(log, cfg.MetricsAddr)
	}

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       2 * time.Minute,
	}
	log.WithField("addr", cfg.ListenAddr).Info("exchanged listening")
	if err := srv.ListenAndServe(); err != nil {
		log.WithError(err).Fatal("server stopped")
	}
}

func serveMetrics(log *logrus.Logger, addr string) {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	log.WithField("addr", addr).Info("metrics listening")
	if err := srv.ListenAndServe(); err != nil {
		log.WithError(err).Error("metrics server stopped")
	}
}
