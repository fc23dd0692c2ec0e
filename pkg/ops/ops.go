// Package ops exposes sync counters and a small local health/metrics
// endpoint for the CLI's long-running tail mode.
package ops

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"convsync/pkg/logger"
)

var (
	// EventsApplied counts realtime events applied to the store, by action.
	EventsApplied = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "convsync_events_applied_total",
		Help: "Realtime events applied to the day-bucketed store.",
	}, []string{"action"})

	// EventsDiscarded counts realtime events dropped before apply.
	EventsDiscarded = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "convsync_events_discarded_total",
		Help: "Realtime events discarded (decode failure, foreign conversation, duplicate, unknown target).",
	}, []string{"reason"})

	// OutboxSends counts outbox send attempts by result.
	OutboxSends = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "convsync_outbox_sends_total",
		Help: "Offline-queue send attempts.",
	}, []string{"result"})

	// OutboxPending tracks the current number of queued offline messages.
	OutboxPending = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "convsync_outbox_pending",
		Help: "Offline messages currently queued.",
	})

	// ResyncRuns counts scheduled full reloads.
	ResyncRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "convsync_resync_runs_total",
		Help: "Scheduled full-reload runs.",
	}, []string{"result"})
)

// Serve starts the ops HTTP server on addr and shuts it down when ctx is
// canceled. It returns once the listener is closed.
func Serve(ctx context.Context, addr string) error {
	r := mux.NewRouter()
	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	}).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	srv := &http.Server{Addr: addr, Handler: r, ReadHeaderTimeout: 5 * time.Second}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	logger.Info("ops_listening", "addr", addr)

	select {
	case <-ctx.Done():
		sctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(sctx)
		return nil
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}
