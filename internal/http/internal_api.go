package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/example/delivery-tracking/internal/apperr"
	"github.com/example/delivery-tracking/internal/models"
)

// handleNotifyAssignment is the CRUD layer's entry into the core after an
// assignment made over plain HTTP.
func (s *Server) handleNotifyAssignment(w http.ResponseWriter, r *http.Request) {
	id, err := s.identify(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var body struct {
		DriverID string `json:"driverId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeError(w, r, apperr.Wrap(apperr.BadRequest, "malformed body", err))
		return
	}
	if err := s.router.NotifyAssignment(r.Context(), id, mux.Vars(r)["order_id"], body.DriverID); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleNotifyStatus(w http.ResponseWriter, r *http.Request) {
	id, err := s.identify(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var body struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeError(w, r, apperr.Wrap(apperr.BadRequest, "malformed body", err))
		return
	}
	status, ok := models.ParseStatus(body.Status)
	if !ok {
		s.writeError(w, r, apperr.Newf(apperr.BadRequest, "unknown status %q", body.Status))
		return
	}
	if err := s.router.NotifyStatusChange(r.Context(), id, mux.Vars(r)["order_id"], status); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRooms(w http.ResponseWriter, r *http.Request) {
	id, err := s.identify(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if id.Role != models.RoleAdmin {
		s.writeError(w, r, apperr.New(apperr.Forbidden, "admin only"))
		return
	}
	writeJSON(w, http.StatusOK, s.registry.Snapshot())
}
