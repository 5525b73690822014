package httpserver

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/radiusdt/adperf/internal/models"
)

func decode[T any](w http.ResponseWriter, r *http.Request, s *Server) (T, bool) {
	var v T
	if err := json.NewDecoder(r.Body).Decode(&v); err != nil {
		s.errorResponse(w, "invalid json", http.StatusBadRequest)
		return v, false
	}
	return v, true
}

func (s *Server) handleListClients(w http.ResponseWriter, r *http.Request) {
	list, err := s.settings.ListClients(r.Context())
	if err != nil {
		s.settingsError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleUpsertClient(w http.ResponseWriter, r *http.Request) {
	c, ok := decode[models.ClientSettings](w, r, s)
	if !ok {
		return
	}
	saved, err := s.settings.UpsertClient(r.Context(), c)
	if err != nil {
		s.settingsError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, saved)
}

func (s *Server) handleDeleteClient(w http.ResponseWriter, r *http.Request) {
	if err := s.settings.DeleteClient(r.Context(), chi.URLParam(r, "name")); err != nil {
		s.settingsError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListUnits(w http.ResponseWriter, r *http.Request) {
	list, err := s.settings.ListUnits(r.Context())
	if err != nil {
		s.settingsError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleUpsertUnit(w http.ResponseWriter, r *http.Request) {
	u, ok := decode[models.UnitAssignment](w, r, s)
	if !ok {
		return
	}
	saved, err := s.settings.UpsertUnit(r.Context(), u)
	if err != nil {
		s.settingsError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, saved)
}

func (s *Server) handleDeleteUnit(w http.ResponseWriter, r *http.Request) {
	if err := s.settings.DeleteUnit(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.settingsError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListThresholds(w http.ResponseWriter, r *http.Request) {
	list, err := s.settings.ListThresholds(r.Context())
	if err != nil {
		s.settingsError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleUpsertThreshold(w http.ResponseWriter, r *http.Request) {
	t, ok := decode[models.KPIThreshold](w, r, s)
	if !ok {
		return
	}
	saved, err := s.settings.UpsertThreshold(r.Context(), t)
	if err != nil {
		s.settingsError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, saved)
}

// handleDeleteThreshold takes the four key columns as query parameters.
func (s *Server) handleDeleteThreshold(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	key := models.KPIKey{
		Medium:       q.Get("medium"),
		MainCategory: q.Get("main_category"),
		SubCategory:  q.Get("sub_category"),
		AdObjective:  q.Get("ad_objective"),
	}
	if err := s.settings.DeleteThreshold(r.Context(), key); err != nil {
		s.settingsError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
