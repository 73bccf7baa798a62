// Package httpapi exposes the local HTTP surface: vehicle queries,
// user-triggered wake, settings and token CRUD, and grid data passthrough.
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

// Server wraps http.Server with graceful shutdown.
type Server struct {
	server *http.Server
	logger *logrus.Logger
}

// NewServer builds the HTTP server around the API handler.
func NewServer(addr string, handler *Handler, logger *logrus.Logger) *Server {
	return &Server{
		server: &http.Server{
			Addr:         addr,
			Handler:      handler.Router(),
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 60 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		logger: logger,
	}
}

// Run starts the server and blocks until ctx is cancelled or the listener
// fails. Shutdown waits up to ten seconds for in-flight requests.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.WithField("addr", s.server.Addr).Info("Starting HTTP API")
		errCh <- s.server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.server.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err == nil || errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// Router builds the route table.
func (h *Handler) Router() http.Handler {
	r := mux.NewRouter()
	api := r.PathPrefix("/api").Subrouter()

	api.HandleFunc("/vehicles", h.getVehicles).Methods(http.MethodGet)
	api.HandleFunc("/vehicles/{id}/data", h.getVehicleData).Methods(http.MethodGet)
	api.HandleFunc("/vehicles/{id}/wake", h.wakeVehicle).Methods(http.MethodPost)
	api.HandleFunc("/vehicles/{id}/command/{name}", h.sendCommand).Methods(http.MethodPost)

	api.HandleFunc("/settings", h.getSettings).Methods(http.MethodGet)
	api.HandleFunc("/settings", h.saveSettings).Methods(http.MethodPost)
	api.HandleFunc("/settings", h.deleteSettings).Methods(http.MethodDelete)

	api.HandleFunc("/token", h.getToken).Methods(http.MethodGet)
	api.HandleFunc("/token", h.saveToken).Methods(http.MethodPost)

	api.HandleFunc("/energy/current", h.getEnergyCurrent).Methods(http.MethodGet)
	api.HandleFunc("/energy/history", h.getEnergyHistory).Methods(http.MethodGet)

	api.HandleFunc("/status", h.getStatus).Methods(http.MethodGet)

	return r
}
