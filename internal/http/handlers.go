package httpapi

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/example/ride-hailing/internal/lifecycle"
	"github.com/example/ride-hailing/internal/models"
	"github.com/example/ride-hailing/internal/notify"
)

// Server is the HTTP surface: driver-facing listing and transitions, the
// rider-facing request endpoint, and the rider websocket subscription.
type Server struct {
	logger  *slog.Logger
	service *lifecycle.Service
	hub     *notify.Hub
	ready   func(ctx context.Context) error
	mux     *mux.Router
}

// NewServer wires the routes. ready is the readiness probe for /ready, nil
// when the backing store needs no connectivity check.
func NewServer(logger *slog.Logger, service *lifecycle.Service, hub *notify.Hub, ready func(ctx context.Context) error) *Server {
	s := &Server{logger: logger, service: service, hub: hub, ready: ready, mux: mux.NewRouter()}
	s.registerMiddleware()
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("/api/ride-requests", s.handleListPending).Methods("GET")
	s.mux.HandleFunc("/api/ride-requests", s.handleRequestRide).Methods("POST")
	s.mux.HandleFunc("/api/ride-requests/{id}", s.handleGetRide).Methods("GET")
	s.mux.HandleFunc("/api/ride-requests/{id}/accept", s.handleAcceptRide).Methods("POST")
	s.mux.HandleFunc("/api/ride-requests/{id}/complete", s.handleCompleteRide).Methods("POST")
	s.mux.HandleFunc("/api/ride-requests/{id}/cancel", s.handleCancelRide).Methods("POST")
	s.mux.HandleFunc("/ws/riders/{rider_id}", s.handleRiderWS)
	s.mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200); w.Write([]byte("ok")) }).Methods("GET")
	s.mux.HandleFunc("/ready", s.handleReady).Methods("GET")
	s.mux.Handle("/metrics", promhttp.Handler())
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.ready != nil {
		if err := s.ready(r.Context()); err != nil {
			http.Error(w, "store not ready", http.StatusServiceUnavailable)
			return
		}
	}
	w.WriteHeader(200)
	w.Write([]byte("ready"))
}

func (s *Server) handleListPending(w http.ResponseWriter, r *http.Request) {
	reqs, err := s.service.ListPending(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, reqs)
}

type requestRideBody struct {
	RiderID         string  `json:"riderId"`
	PickupLatitude  float64 `json:"pickupLatitude"`
	PickupLongitude float64 `json:"pickupLongitude"`
	Destination     string  `json:"destination"`
	RiderEmail      string  `json:"riderEmail"`
}

func (s *Server) handleRequestRide(w http.ResponseWriter, r *http.Request) {
	var body requestRideBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.respondJSON(w, http.StatusBadRequest, errorBody{Error: "invalid JSON body"})
		return
	}
	req, err := s.service.RequestRide(r.Context(), body.RiderID, body.PickupLatitude, body.PickupLongitude, body.Destination, body.RiderEmail)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.respondJSON(w, http.StatusCreated, req)
}

func (s *Server) handleGetRide(w http.ResponseWriter, r *http.Request) {
	req, err := s.service.GetRide(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, req)
}

type acceptRideBody struct {
	DriverID      string `json:"driverId"`
	DriverName    string `json:"driverName"`
	DriverVehicle string `json:"driverVehicle"`
}

func (s *Server) handleAcceptRide(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var body acceptRideBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.respondJSON(w, http.StatusBadRequest, errorBody{Error: "invalid JSON body"})
		return
	}
	if _, err := s.service.AcceptRide(r.Context(), id, body.DriverID, body.DriverName, body.DriverVehicle); err != nil {
		s.writeError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, transitionResponse{Message: "ride request accepted", RideRequestID: id})
}

func (s *Server) handleCompleteRide(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if _, err := s.service.CompleteRide(r.Context(), id); err != nil {
		s.writeError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, transitionResponse{Message: "ride completed", RideRequestID: id})
}

func (s *Server) handleCancelRide(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if _, err := s.service.CancelRide(r.Context(), id); err != nil {
		s.writeError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, transitionResponse{Message: "ride request cancelled", RideRequestID: id})
}

var upgrader = websocket.Upgrader{}

// handleRiderWS streams record snapshots for one rider: the current state on
// connect (null when absent), then every subsequent change.
func (s *Server) handleRiderWS(w http.ResponseWriter, r *http.Request) {
	riderID := mux.Vars(r)["rider_id"]
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		http.Error(w, "upgrade failed", http.StatusBadRequest)
		return
	}
	session := s.hub.Add(riderID, conn)
	cancel := s.service.Watch(riderID, func(req *models.RideRequest) {
		if err := session.Send(req); err != nil {
			s.logger.Debug("rider ws send failed", "rider_id", riderID, "error", err)
		}
	})

	// The read loop only exists to notice the peer going away.
	go func() {
		defer func() {
			cancel()
			s.hub.Remove(riderID, session)
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

type transitionResponse struct {
	Message       string `json:"message"`
	RideRequestID string `json:"rideRequestId"`
}

type errorBody struct {
	Error string `json:"error"`
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	var status int
	switch {
	case errors.Is(err, models.ErrInvalidArgument):
		status = http.StatusBadRequest
	case errors.Is(err, models.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, models.ErrConflict):
		status = http.StatusConflict
	case errors.Is(err, models.ErrTimeout):
		status = http.StatusGatewayTimeout
	default:
		status = http.StatusInternalServerError
	}
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", "error", err)
		s.respondJSON(w, status, errorBody{Error: "internal error"})
		return
	}
	s.respondJSON(w, status, errorBody{Error: err.Error()})
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("encode response", "error", err)
	}
}

func newID() string { b := make([]byte, 8); _, _ = rand.Read(b); return hex.EncodeToString(b) }
