package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/example/ride-lifecycle/internal/dispatch"
	"github.com/example/ride-lifecycle/internal/models"
	"github.com/example/ride-lifecycle/internal/participant"
	"github.com/example/ride-lifecycle/internal/registry"
	"github.com/example/ride-lifecycle/internal/ride"
)

type Server struct {
	Registry *registry.Registry
	WSReg    *dispatch.WSRegistry
	mux      *mux.Router
	logger   *slog.Logger
}

func NewServer(reg *registry.Registry, wsreg *dispatch.WSRegistry, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if wsreg == nil {
		wsreg = dispatch.NewWSRegistry()
	}
	s := &Server{Registry: reg, WSReg: wsreg, mux: mux.NewRouter(), logger: logger}
	s.registerMiddleware()
	s.routes()
	return s
}

func (s *Server) routes() {
	api := s.mux.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/users", s.handleCreateUser).Methods("POST")
	api.HandleFunc("/drivers", s.handleCreateDriver).Methods("POST")
	api.HandleFunc("/drivers/available", s.handleAvailableDrivers).Methods("GET")
	api.HandleFunc("/drivers/{id}/location", s.handleDriverLocation).Methods("POST")
	api.HandleFunc("/rides", s.handleRideRequest).Methods("POST")
	api.HandleFunc("/rides", s.handleListRides).Methods("GET")
	api.HandleFunc("/rides/{id}", s.handleGetRide).Methods("GET")
	api.HandleFunc("/rides/{id}/accept", s.handleAccept).Methods("POST")
	api.HandleFunc("/rides/{id}/status", s.handleStatus).Methods("POST")
	api.HandleFunc("/rides/{id}/start", s.rideAction((*ride.Ride).Start)).Methods("POST")
	api.HandleFunc("/rides/{id}/complete", s.rideAction((*ride.Ride).Complete)).Methods("POST")
	api.HandleFunc("/rides/{id}/cancel", s.rideAction((*ride.Ride).Cancel)).Methods("POST")
	api.HandleFunc("/rides/{id}/pay", s.handlePay).Methods("POST")
	api.HandleFunc("/ratings", s.handleRating).Methods("POST")

	s.mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200); w.Write([]byte("ok")) }).Methods("GET")
	s.mux.Handle("/metrics", promhttp.Handler())
	s.mux.HandleFunc("/ws/{participant_id}", s.handleWS)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }

type participantResponse struct {
	ID      string   `json:"id"`
	Name    string   `json:"name"`
	Role    string   `json:"role"`
	Rating  *float64 `json:"rating,omitempty"`
	Premium bool     `json:"premium,omitempty"`
	VIP     bool     `json:"vip,omitempty"`
	Car     string   `json:"car,omitempty"`
	Free    *bool    `json:"available,omitempty"`
}

type createUserRequest struct {
	Name           string `json:"name"`
	PaymentDetails string `json:"payment_details"`
	Premium        *struct {
		Benefits string  `json:"benefits"`
		Discount float64 `json:"discount"`
	} `json:"premium,omitempty"`
}

func (s *Server) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	var req createUserRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Name == "" {
		writeError(w, &models.ValidationError{Field: "name", Reason: "must not be empty"})
		return
	}
	var policy *participant.PremiumPolicy
	if req.Premium != nil {
		policy = &participant.PremiumPolicy{Benefits: req.Premium.Benefits, Discount: req.Premium.Discount}
	}
	u := s.Registry.NewUser(req.Name, req.PaymentDetails, policy)
	writeJSON(w, http.StatusCreated, userResponse(u))
}

type createDriverRequest struct {
	Name       string        `json:"name"`
	CarDetails string        `json:"car_details"`
	Location   *models.Coord `json:"location,omitempty"`
	VIP        *struct {
		Active    bool    `json:"active"`
		MinRating float64 `json:"min_rating"`
	} `json:"vip,omitempty"`
}

func (s *Server) handleCreateDriver(w http.ResponseWriter, r *http.Request) {
	var req createDriverRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Name == "" {
		writeError(w, &models.ValidationError{Field: "name", Reason: "must not be empty"})
		return
	}
	var policy *participant.VIPPolicy
	if req.VIP != nil {
		policy = &participant.VIPPolicy{Active: req.VIP.Active, MinRating: req.VIP.MinRating}
	}
	d := s.Registry.NewDriver(req.Name, req.CarDetails, policy)
	if req.Location != nil {
		d.UpdateLocation(req.Location.Lat, req.Location.Lon)
	}
	writeJSON(w, http.StatusCreated, driverResponse(d))
}

func (s *Server) handleAvailableDrivers(w http.ResponseWriter, r *http.Request) {
	drivers := s.Registry.AvailableDrivers()
	out := make([]participantResponse, 0, len(drivers))
	for _, d := range drivers {
		out = append(out, driverResponse(d))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleDriverLocation(w http.ResponseWriter, r *http.Request) {
	d, err := s.Registry.Driver(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	var c models.Coord
	if !decode(w, r, &c) {
		return
	}
	d.UpdateLocation(c.Lat, c.Lon)
	w.WriteHeader(http.StatusNoContent)
}

type rideRequest struct {
	UserID   string          `json:"user_id"`
	DriverID string          `json:"driver_id,omitempty"`
	Pickup   models.Location `json:"pickup"`
	Dropoff  models.Location `json:"dropoff"`
}

// handleRideRequest creates a ride for an explicit driver or, without
// driver_id, waits for the matcher to find and assign one.
func (s *Server) handleRideRequest(w http.ResponseWriter, r *http.Request) {
	var req rideRequest
	if !decode(w, r, &req) {
		return
	}
	u, err := s.Registry.User(req.UserID)
	if err != nil {
		writeError(w, err)
		return
	}
	var d *participant.Driver
	if req.DriverID != "" {
		if d, err = s.Registry.Driver(req.DriverID); err != nil {
			writeError(w, err)
			return
		}
	}
	rd, err := s.Registry.RequestRide(r.Context(), u, req.Pickup, req.Dropoff, d).Wait(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, rd.Snapshot())
}

func (s *Server) handleListRides(w http.ResponseWriter, r *http.Request) {
	seq := s.Registry.Rides()
	if st := r.URL.Query().Get("status"); st != "" {
		status := models.Status(st)
		if !status.Valid() {
			writeError(w, &models.ValidationError{Field: "status", Reason: "unknown status " + st})
			return
		}
		seq = s.Registry.RidesByStatus(status)
	}
	out := []ride.Snapshot{}
	for rd := range seq {
		out = append(out, rd.Snapshot())
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetRide(w http.ResponseWriter, r *http.Request) {
	rd, err := s.Registry.Ride(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rd.Snapshot())
}

func (s *Server) handleAccept(w http.ResponseWriter, r *http.Request) {
	rd, err := s.Registry.Ride(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	var req struct {
		DriverID string `json:"driver_id"`
	}
	if !decode(w, r, &req) {
		return
	}
	d, err := s.Registry.Driver(req.DriverID)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := d.AcceptRide(rd); err != nil {
		writeError(w, err)
		return
	}
	s.Registry.Notify(rd)
	writeJSON(w, http.StatusOK, rd.Snapshot())
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	rd, err := s.Registry.Ride(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	var req struct {
		Status models.Status `json:"status"`
	}
	if !decode(w, r, &req) {
		return
	}
	if err := rd.UpdateStatus(req.Status); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rd.Snapshot())
}

func (s *Server) rideAction(fn func(*ride.Ride) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rd, err := s.Registry.Ride(mux.Vars(r)["id"])
		if err != nil {
			writeError(w, err)
			return
		}
		if err := fn(rd); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, rd.Snapshot())
	}
}

func (s *Server) handlePay(w http.ResponseWriter, r *http.Request) {
	rd, err := s.Registry.Ride(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	var req struct {
		UserID string  `json:"user_id"`
		Tip    float64 `json:"tip"`
	}
	if !decode(w, r, &req) {
		return
	}
	u, err := s.Registry.User(req.UserID)
	if err != nil {
		writeError(w, err)
		return
	}
	tk, err := s.Registry.Pay(r.Context(), u, rd, req.Tip)
	if err != nil {
		writeError(w, err)
		return
	}
	if _, err := tk.Wait(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rd.Snapshot())
}

type ratingRequest struct {
	FromID   string `json:"from_id"`
	ToID     string `json:"to_id"`
	Score    int    `json:"score"`
	Feedback string `json:"feedback"`
}

// handleRating accepts a user rating a driver or a driver rating a user.
func (s *Server) handleRating(w http.ResponseWriter, r *http.Request) {
	var req ratingRequest
	if !decode(w, r, &req) {
		return
	}
	var (
		rating models.Rating
		err    error
	)
	if u, uerr := s.Registry.User(req.FromID); uerr == nil {
		d, derr := s.Registry.Driver(req.ToID)
		if derr != nil {
			writeError(w, derr)
			return
		}
		rating, err = u.RateDriver(d, req.Score, req.Feedback)
	} else if d, derr := s.Registry.Driver(req.FromID); derr == nil {
		u, uerr := s.Registry.User(req.ToID)
		if uerr != nil {
			writeError(w, uerr)
			return
		}
		rating, err = d.RateUser(u, req.Score, req.Feedback)
	} else {
		writeError(w, registry.ErrNotFound)
		return
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"score":     rating.Score,
		"feedback":  rating.Feedback,
		"timestamp": rating.Timestamp,
	})
}

var upgrader = websocket.Upgrader{}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["participant_id"]
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "participant_id", id, "error", err)
		return
	}
	s.WSReg.Add(id, conn)
	go s.readPump(id, conn)
}

// readPump drains client frames so close messages are seen, then drops the
// session.
func (s *Server) readPump(id string, conn *websocket.Conn) {
	defer s.WSReg.RemoveConn(id, conn)
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func userResponse(u *participant.User) participantResponse {
	resp := participantResponse{ID: u.ID(), Name: u.Name(), Role: string(u.Role())}
	if avg, ok := u.AverageRating(); ok {
		resp.Rating = &avg
	}
	_, resp.Premium = u.Premium()
	return resp
}

func driverResponse(d *participant.Driver) participantResponse {
	free := d.Available()
	resp := participantResponse{ID: d.ID(), Name: d.Name(), Role: string(d.Role()), Car: d.Car(), Free: &free}
	if avg, ok := d.AverageRating(); ok {
		resp.Rating = &avg
	}
	_, resp.VIP = d.VIP()
	return resp
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	var (
		ve *models.ValidationError
		ud *models.UnavailableDriverError
		nd *models.NoDriverFoundError
		pf *models.PaymentFailure
	)
	switch {
	case errors.As(err, &ve):
		return http.StatusBadRequest
	case errors.Is(err, registry.ErrNotFound):
		return http.StatusNotFound
	case errors.As(err, &ud),
		errors.Is(err, ride.ErrInvalidTransition),
		errors.Is(err, ride.ErrRideFinished),
		errors.Is(err, ride.ErrAlreadyAssigned),
		errors.Is(err, ride.ErrPaymentInProgress):
		return http.StatusConflict
	case errors.As(err, &pf):
		return http.StatusPaymentRequired
	case errors.As(err, &nd):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, statusFor(err), map[string]string{"error": err.Error()})
}
