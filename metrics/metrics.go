// Package metrics exposes process metrics in Prometheus text format on a
// dedicated listener, separate from the API server.
package metrics

import (
	"context"
	"fmt"
	"net/http"

	vmmetrics "github.com/VictoriaMetrics/metrics"
)

// MetricsServer serves /metrics on its own address.
type MetricsServer struct {
	srv *http.Server
}

// New creates a metrics server for the given service name and listen address.
// An empty address yields a server whose ListenAndServe is a no-op.
func New(name, addr string) (*MetricsServer, error) {
	if name == "" {
		return nil, fmt.Errorf("metrics: empty service name")
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/metrics", func(w http.ResponseWriter, r *http.Request) {
		vmmetrics.WritePrometheus(w, true)
	})

	return &MetricsServer{
		srv: &http.Server{
			Addr:    addr,
			Handler: mux,
		},
	}, nil
}

func (m *MetricsServer) ListenAndServe() error {
	if m.srv.Addr == "" {
		return nil
	}
	return m.srv.ListenAndServe()
}

func (m *MetricsServer) Shutdown(ctx context.Context) error {
	return m.srv.Shutdown(ctx)
}

// Counter returns the named counter, creating it on first use.
func Counter(name string) *vmmetrics.Counter {
	return vmmetrics.GetOrCreateCounter(name)
}
