package app

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/chrissnell/irrigationwx/internal/log"
	"github.com/chrissnell/irrigationwx/internal/types"
)

// HealthStatus is the /healthz response body
type HealthStatus struct {
	Status          string     `json:"status"`
	Store           string     `json:"store"`
	SnapshotUpdated *time.Time `json:"snapshot_updated_at,omitempty"`
	SnapshotAgeSec  *float64   `json:"snapshot_age_seconds,omitempty"`
	Error           string     `json:"error,omitempty"`
}

// Router returns the ops routes: Prometheus metrics and a health probe
func (a *App) Router() *mux.Router {
	router := mux.NewRouter()
	router.Use(log.HTTPMiddleware(a.logger))
	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	router.HandleFunc("/healthz", a.handleHealth).Methods(http.MethodGet)
	return router
}

func (a *App) newServer() *http.Server {
	return &http.Server{
		Addr:              a.cfg.HTTP.ListenAddr,
		Handler:           a.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
}

func (a *App) serveHTTP(ctx context.Context, srv *http.Server) error {
	go func() {
		<-ctx.Done()
		a.logger.Info("shutting down the ops HTTP server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	a.logger.Infof("ops HTTP server listening on %s", srv.Addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// handleHealth reports 503 only when the store is unreachable. A missing
// snapshot is still healthy: the producer may not have run yet.
func (a *App) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := HealthStatus{Status: "ok", Store: a.cfg.Store.Backend}
	code := http.StatusOK

	snap, err := a.Reader.Latest(r.Context())
	switch {
	case err == nil:
		updated := snap.UpdatedAt
		age := a.clock.Since(updated).Seconds()
		status.SnapshotUpdated = &updated
		status.SnapshotAgeSec = &age
	case errors.Is(err, types.ErrStoreUnavailable):
		status.Status = "unavailable"
		status.Error = err.Error()
		code = http.StatusServiceUnavailable
	default:
		status.Error = err.Error()
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(status)
}
