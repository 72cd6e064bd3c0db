// Package ctlapi is the UI-facing surface of the daemon: a local HTTP API
// the driver app renders from. It never talks to the ride backend itself;
// every write goes through the store's optimistic actions.
package ctlapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/likmaa/apk-tic-driver-app-sub000/internal/engine"
	"github.com/likmaa/apk-tic-driver-app-sub000/internal/persist"
	"github.com/likmaa/apk-tic-driver-app-sub000/internal/store"
)

type Server struct {
	engine  *engine.Engine
	store   *store.Store
	persist *persist.Store
	logger  *slog.Logger
	mux     *mux.Router
}

func NewServer(eng *engine.Engine, st *store.Store, ps *persist.Store, logger *slog.Logger) *Server {
	s := &Server{engine: eng, store: st, persist: ps, logger: logger, mux: mux.NewRouter()}
	s.registerMiddleware()
	s.routes()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	}).Methods("GET")
	s.mux.Handle("/metrics", promhttp.Handler())

	v1 := s.mux.PathPrefix("/v1").Subrouter()
	v1.HandleFunc("/state", s.handleState).Methods("GET")
	v1.HandleFunc("/current-ride", s.handleCurrentRide).Methods("GET")
	v1.HandleFunc("/offers", s.handleOffers).Methods("GET")
	v1.HandleFunc("/history", s.handleHistory).Methods("GET")
	v1.HandleFunc("/nav-preference", s.handleGetNavPref).Methods("GET")
	v1.HandleFunc("/nav-preference", s.handleSetNavPref).Methods("PUT")

	v1.HandleFunc("/online", s.handleOnline).Methods("POST")
	v1.HandleFunc("/offline", s.handleOffline).Methods("POST")
	v1.HandleFunc("/offers/{id}/accept", s.handleAccept).Methods("POST")
	v1.HandleFunc("/offers/{id}/decline", s.handleDecline).Methods("POST")
	v1.HandleFunc("/ride/arrived", s.handleArrived).Methods("POST")
	v1.HandleFunc("/ride/start", s.handleStart).Methods("POST")
	v1.HandleFunc("/ride/start-stop", s.handleStartStop).Methods("POST")
	v1.HandleFunc("/ride/end-stop", s.handleEndStop).Methods("POST")
	v1.HandleFunc("/ride/complete", s.handleComplete).Methods("POST")
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"online":             s.engine.Online(),
		"realtime_connected": s.engine.RealtimeConnected(),
		"current_ride":       s.store.CurrentRide(),
		"offers":             len(s.store.Offers()),
	})
}

func (s *Server) handleCurrentRide(w http.ResponseWriter, r *http.Request) {
	ride := s.store.CurrentRide()
	if ride == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, ride)
}

func (s *Server) handleOffers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.store.Offers())
}

// handleHistory returns local history; ?refresh=true reconciles against
// the backend first (tab-focus behavior in the UI).
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("refresh") == "true" {
		if err := s.store.LoadHistoryFromBackend(r.Context()); err != nil {
			s.logger.Warn("history refresh failed", "error", err)
		}
	}
	writeJSON(w, http.StatusOK, s.store.History())
}

func (s *Server) handleGetNavPref(w http.ResponseWriter, r *http.Request) {
	pref, err := s.persist.NavPreference()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"nav_app": pref})
}

func (s *Server) handleSetNavPref(w http.ResponseWriter, r *http.Request) {
	var body struct {
		NavApp string `json:"nav_app"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.persist.SetNavPreference(body.NavApp); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleOnline(w http.ResponseWriter, r *http.Request) {
	s.toggle(w, r, true)
}

func (s *Server) handleOffline(w http.ResponseWriter, r *http.Request) {
	s.toggle(w, r, false)
}

func (s *Server) toggle(w http.ResponseWriter, r *http.Request, online bool) {
	if err := s.engine.SetOnline(r.Context(), online); err != nil {
		writeError(w, http.StatusBadGateway, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"online": s.engine.Online()})
}

func (s *Server) handleAccept(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := s.store.AcceptRequest(r.Context(), id); err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.store.CurrentRide())
}

func (s *Server) handleDecline(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := s.store.DeclineRequest(r.Context(), id); err != nil {
		writeStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleArrived(w http.ResponseWriter, r *http.Request) {
	s.rideAction(w, r, s.store.SignalArrival)
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	s.rideAction(w, r, s.store.SetPickupDone)
}

func (s *Server) handleStartStop(w http.ResponseWriter, r *http.Request) {
	s.rideAction(w, r, s.store.StartStop)
}

func (s *Server) handleEndStop(w http.ResponseWriter, r *http.Request) {
	s.rideAction(w, r, s.store.EndStop)
}

func (s *Server) rideAction(w http.ResponseWriter, r *http.Request, action func(context.Context) error) {
	if err := action(r.Context()); err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.store.CurrentRide())
}

// handleComplete finishes the ride and binds the private ride channel so
// the rating and payment confirmation reach the end-of-ride screen.
func (s *Server) handleComplete(w http.ResponseWriter, r *http.Request) {
	ride := s.store.CurrentRide()
	result, err := s.store.CompleteRide(r.Context())
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if ride != nil {
		s.engine.BindRideEvents(ride.ID)
	}
	writeJSON(w, http.StatusOK, result)
}

func writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrUnknownOffer), errors.Is(err, store.ErrNoCurrentRide):
		writeError(w, http.StatusNotFound, err)
	case errors.Is(err, store.ErrActionInFlight):
		writeError(w, http.StatusConflict, err)
	case errors.Is(err, store.ErrInvalidTransition):
		writeError(w, http.StatusUnprocessableEntity, err)
	default:
		writeError(w, http.StatusBadGateway, err)
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}
