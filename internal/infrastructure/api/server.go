// Package api provides the management server of the relay agent: plugin and
// option control, captured request inspection and replay, and metrics.
package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/haxorport/haxorport-relay-agent/internal/domain/model"
	"github.com/haxorport/haxorport-relay-agent/internal/domain/port"
)

// PluginManager exposes the plugin registry
type PluginManager interface {
	Descriptors() []model.PluginDescriptor
	Descriptor(name string) (model.PluginDescriptor, error)
	Apply(ctx context.Context, name string, enabled *bool, settings map[string]string) error
}

// OptionsStore exposes the live relay options
type OptionsStore interface {
	Current() model.RelayOptions
	Update(opts model.RelayOptions) error
}

// HistoryReader exposes captured exchanges
type HistoryReader interface {
	List() []model.CapturedExchange
	Get(id string) (model.CapturedExchange, error)
	Request(id string) (*model.RelayedRequest, error)
}

// Server is the management HTTP server
type Server struct {
	Listen   string
	Plugins  PluginManager
	Options  OptionsStore
	History  HistoryReader
	Handler  port.RequestHandler
	Gatherer prometheus.Gatherer
	Logger   port.Logger
}

// Run starts the server and blocks until ctx is cancelled or listening fails
func (s *Server) Run(ctx context.Context) error {
	s.Logger.Info("Starting management server on %s", s.Listen)

	httpServer := http.Server{
		Addr:              s.Listen,
		Handler:           s.Routes(),
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      2 * time.Minute,
		IdleTimeout:       30 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			s.Logger.Warn("Management server shutdown: %v", err)
		}
	}()

	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "management server failed")
	}
	return nil
}

// Routes builds the management router
func (s *Server) Routes() http.Handler {
	router := mux.NewRouter()
	v1 := router.PathPrefix("/api/v1").Subrouter()

	v1.HandleFunc("/plugins", s.listPlugins).Methods(http.MethodGet)
	v1.HandleFunc("/plugins/{name}", s.getPlugin).Methods(http.MethodGet)
	v1.HandleFunc("/plugins/{name}", s.updatePlugin).Methods(http.MethodPut)

	v1.HandleFunc("/options", s.getOptions).Methods(http.MethodGet)
	v1.HandleFunc("/options", s.updateOptions).Methods(http.MethodPut)

	if s.History != nil {
		v1.HandleFunc("/requests", s.listRequests).Methods(http.MethodGet)
		v1.HandleFunc("/requests/{id}", s.getRequest).Methods(http.MethodGet)
		v1.HandleFunc("/requests/{id}/replay", s.replayRequest).Methods(http.MethodPost)
	}

	if s.Gatherer != nil {
		router.Handle("/metrics", promhttp.HandlerFor(s.Gatherer, promhttp.HandlerOpts{}))
	}
	router.HandleFunc("/ping", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, "pong")
	}).Methods(http.MethodGet)

	return s.recoverer(router)
}

// pluginUpdate is the body of PUT /api/v1/plugins/{name}
type pluginUpdate struct {
	Enabled  *bool             `json:"enabled"`
	Settings map[string]string `json:"settings"`
}

func (s *Server) listPlugins(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.Plugins.Descriptors())
}

func (s *Server) getPlugin(w http.ResponseWriter, r *http.Request) {
	d, err := s.Plugins.Descriptor(mux.Vars(r)["name"])
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, d)
}

func (s *Server) updatePlugin(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	var body pluginUpdate
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeError(w, errors.Wrapf(model.ErrConfiguration, "invalid body: %v", err))
		return
	}
	if err := s.Plugins.Apply(r.Context(), name, body.Enabled, body.Settings); err != nil {
		s.writeError(w, err)
		return
	}
	d, err := s.Plugins.Descriptor(name)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, d)
}

func (s *Server) getOptions(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.Options.Current())
}

func (s *Server) updateOptions(w http.ResponseWriter, r *http.Request) {
	var opts model.RelayOptions
	if err := json.NewDecoder(r.Body).Decode(&opts); err != nil {
		s.writeError(w, errors.Wrapf(model.ErrConfiguration, "invalid body: %v", err))
		return
	}
	if err := s.Options.Update(opts); err != nil {
		s.writeError(w, err)
		return
	}
	s.Logger.Info("Target URL changed to %s", opts.TargetURL)
	s.writeJSON(w, http.StatusOK, s.Options.Current())
}

func (s *Server) listRequests(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.History.List())
}

func (s *Server) getRequest(w http.ResponseWriter, r *http.Request) {
	e, err := s.History.Get(mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, e)
}

// replayResult is the outcome of re-issuing a captured request
type replayResult struct {
	StatusCode int         `json:"status_code"`
	Reason     string      `json:"reason"`
	Header     http.Header `json:"header"`
	Body       string      `json:"body"`
}

func (s *Server) replayRequest(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	req, err := s.History.Request(id)
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.Logger.Info("Replaying request %s: %s %s", id, req.Method, req.Path)
	resp, err := s.Handler.HandleRelayRequest(r.Context(), req)
	if err != nil {
		s.writeError(w, err)
		return
	}

	result := replayResult{StatusCode: resp.StatusCode, Reason: resp.Reason, Header: resp.Header}
	if resp.Body != nil {
		data, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			s.writeError(w, errors.Wrap(err, "failed to read replayed response"))
			return
		}
		result.Body = string(data)
	}
	s.writeJSON(w, http.StatusOK, result)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.Logger.Warn("Failed to write response: %v", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, model.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, model.ErrConfiguration), errors.Is(err, model.ErrNotSupported):
		status = http.StatusBadRequest
	}
	if status == http.StatusInternalServerError {
		s.Logger.Error("Management request failed: %v", err)
	}
	s.writeJSON(w, status, map[string]string{"error": err.Error()})
}

func (s *Server) recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.Logger.Error("Panic in management handler %s %s: %v", r.Method, r.URL.Path, rec)
				http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}
