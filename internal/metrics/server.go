package metrics

import (
	"net/http"
	"time"

	"github.com/oremus-labs/ol-ops-console/internal/logutil"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Handler serves the process metrics plus a plain liveness endpoint.
func Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return mux
}

// Serve exposes Handler on addr in the background. The caller shuts the
// returned server down.
func Serve(addr string) *http.Server {
	srv := &http.Server{
		Addr:              addr,
		Handler:           Handler(),
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	go func() {
		logutil.Info("metrics_listening", logutil.Fields{"addr": addr})
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logutil.Error("metrics_server_failed", err, nil)
		}
	}()
	return srv
}
