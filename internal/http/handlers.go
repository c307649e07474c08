package httpapi

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/example/courier-dispatch/internal/dispatch"
	"github.com/example/courier-dispatch/internal/fanout"
	"github.com/example/courier-dispatch/internal/ingest"
	"github.com/example/courier-dispatch/internal/models"
	"github.com/example/courier-dispatch/internal/relay"
	"github.com/example/courier-dispatch/internal/storage"
)

type Server struct {
	Engine  *dispatch.Engine
	Relay   *relay.Relay
	Gateway *fanout.Gateway
	Store   storage.Store
	Kafka   *ingest.KafkaProducer // optional; nil means reports go straight to the relay
	logger  *slog.Logger
	mux     *mux.Router
}

func NewServer(engine *dispatch.Engine, rel *relay.Relay, gw *fanout.Gateway, store storage.Store, kafka *ingest.KafkaProducer, logger *slog.Logger) *Server {
	s := &Server{
		Engine:  engine,
		Relay:   rel,
		Gateway: gw,
		Store:   store,
		Kafka:   kafka,
		logger:  logger,
		mux:     mux.NewRouter(),
	}
	s.registerMiddleware()
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("/api/v1/bookings", s.handleCreateBooking).Methods("POST")
	s.mux.HandleFunc("/api/v1/bookings", s.handleListBookings).Methods("GET")
	s.mux.HandleFunc("/api/v1/bookings/{id}", s.handleGetBooking).Methods("GET")
	s.mux.HandleFunc("/api/v1/bookings/{id}/claim", s.handleClaimBooking).Methods("POST")
	s.mux.HandleFunc("/api/v1/bookings/{id}/status", s.handleTransitionStatus).Methods("POST")
	s.mux.HandleFunc("/api/v1/bookings/{id}/cancel", s.handleCancelBooking).Methods("POST")
	s.mux.HandleFunc("/api/v1/drivers", s.handleRegisterDriver).Methods("POST")
	s.mux.HandleFunc("/api/v1/drivers/{id}/location", s.handleDriverLocation).Methods("GET")
	s.mux.HandleFunc("/internal/driver/locations", s.handleReportLocation).Methods("POST")
	s.mux.HandleFunc("/ws", s.Gateway.HandleWS)
	s.mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200); w.Write([]byte("ok")) }).Methods("GET")
	s.mux.Handle("/metrics", promhttp.Handler())
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }

type createBookingRequest struct {
	RequesterID  string       `json:"requester_id"`
	Pickup       models.Coord `json:"pickup"`
	Dropoff      models.Coord `json:"dropoff"`
	VehicleClass string       `json:"vehicle_class"`
}

func (s *Server) handleCreateBooking(w http.ResponseWriter, r *http.Request) {
	var req createBookingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	class, ok := models.ParseVehicleClass(req.VehicleClass)
	if !ok {
		http.Error(w, "invalid vehicle class", http.StatusBadRequest)
		return
	}
	b, err := s.Engine.CreateBooking(r.Context(), req.RequesterID, req.Pickup, req.Dropoff, class)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, b)
}

func (s *Server) handleGetBooking(w http.ResponseWriter, r *http.Request) {
	b, err := s.Store.GetBooking(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (s *Server) handleListBookings(w http.ResponseWriter, r *http.Request) {
	requester := r.URL.Query().Get("requester_id")
	if requester == "" {
		http.Error(w, "requester_id is required", http.StatusBadRequest)
		return
	}
	var status *models.BookingStatus
	if v := r.URL.Query().Get("status"); v != "" {
		st, ok := models.ParseBookingStatus(v)
		if !ok {
			http.Error(w, "invalid status", http.StatusBadRequest)
			return
		}
		status = &st
	}
	list, err := s.Store.ListBookingsByRequester(r.Context(), requester, status)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	if list == nil {
		list = []models.Booking{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleClaimBooking(w http.ResponseWriter, r *http.Request) {
	var req struct {
		DriverID string `json:"driver_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	b, err := s.Engine.ClaimBooking(r.Context(), mux.Vars(r)["id"], req.DriverID)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (s *Server) handleTransitionStatus(w http.ResponseWriter, r *http.Request) {
	var req struct {
		DriverID string `json:"driver_id"`
		Status   string `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	// free-form status strings stop here; the engine only ever sees
	// members of the fixed state machine
	to, ok := models.ParseBookingStatus(req.Status)
	if !ok {
		http.Error(w, "invalid status", http.StatusBadRequest)
		return
	}
	b, err := s.Engine.TransitionStatus(r.Context(), mux.Vars(r)["id"], req.DriverID, to)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (s *Server) handleCancelBooking(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ActorID string `json:"actor_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	b, err := s.Engine.CancelBooking(r.Context(), mux.Vars(r)["id"], req.ActorID)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

type registerDriverRequest struct {
	UserID       string `json:"user_id"`
	Name         string `json:"name"`
	Phone        string `json:"phone"`
	VehicleClass string `json:"vehicle_class"`
	Plate        string `json:"plate"`
}

func (s *Server) handleRegisterDriver(w http.ResponseWriter, r *http.Request) {
	var req registerDriverRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	d, err := s.Engine.RegisterDriver(r.Context(), req.UserID, req.Name, req.Phone, models.VehicleClass(req.VehicleClass), req.Plate)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, d)
}

func (s *Server) handleDriverLocation(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	c, known, err := s.Relay.CurrentLocation(r.Context(), id)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	resp := struct {
		DriverID string        `json:"driver_id"`
		Location *models.Coord `json:"location"`
	}{DriverID: id}
	if known {
		resp.Location = &c
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleReportLocation(w http.ResponseWriter, r *http.Request) {
	var rep models.LocationReport
	if err := json.NewDecoder(r.Body).Decode(&rep); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	// with Kafka configured the consumer applies the report; otherwise
	// apply it inline
	if s.Kafka != nil {
		if err := s.Kafka.PublishReport(rep); err != nil {
			s.writeErr(w, err)
			return
		}
		w.WriteHeader(http.StatusAccepted)
		return
	}
	if err := s.Relay.ReportLocation(r.Context(), rep); err != nil {
		s.writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) writeErr(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, models.ErrValidation):
		status = http.StatusBadRequest
	case errors.Is(err, models.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, models.ErrConflict), errors.Is(err, models.ErrDriverUnavailable):
		status = http.StatusConflict
	case errors.Is(err, models.ErrNotAuthorized):
		status = http.StatusForbidden
	case errors.Is(err, models.ErrDependencyTimeout):
		status = http.StatusServiceUnavailable
	}
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", "error", err)
		http.Error(w, "internal error", status)
		return
	}
	http.Error(w, err.Error(), status)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func newID() string { b := make([]byte, 8); _, _ = rand.Read(b); return hex.EncodeToString(b) }
