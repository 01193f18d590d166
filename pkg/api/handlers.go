package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/kernelpipe/dispatchoor/pkg/report"
	"github.com/kernelpipe/dispatchoor/pkg/store"
)

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	_ = json.NewEncoder(w).Encode(v)
}

func (s *server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *server) handleGetRecord(w http.ResponseWriter, r *http.Request) {
	rec, err := s.db.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, errorResponse{"record not found"})

			return
		}

		s.log.WithError(err).Error("Failed to get record")
		writeJSON(w, http.StatusInternalServerError, errorResponse{"internal error"})

		return
	}

	writeJSON(w, http.StatusOK, rec)
}

// handleListRecords queries records by simple field filters passed as query
// parameters (kind, name, state, result, parent).
func (s *server) handleListRecords(w http.ResponseWriter, r *http.Request) {
	filter := store.Filter{}

	for _, field := range []string{
		store.FieldKind,
		store.FieldName,
		store.FieldState,
		store.FieldResult,
		store.FieldParent,
		store.FieldCreatedAfter,
	} {
		if value := r.URL.Query().Get(field); value != "" {
			filter[field] = value
		}
	}

	records, err := s.db.Find(r.Context(), filter)
	if err != nil {
		s.log.WithError(err).Error("Failed to query records")
		writeJSON(w, http.StatusInternalServerError, errorResponse{"internal error"})

		return
	}

	writeJSON(w, http.StatusOK, records)
}

// handleGetReport renders the report for one record as plain text.
func (s *server) handleGetReport(w http.ResponseWriter, r *http.Request) {
	rec, err := s.db.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, errorResponse{"record not found"})

			return
		}

		s.log.WithError(err).Error("Failed to get record")
		writeJSON(w, http.StatusInternalServerError, errorResponse{"internal error"})

		return
	}

	text, err := s.builder.Render(r.Context(), rec)
	if err != nil {
		if errors.Is(err, report.ErrUnsupportedKind) {
			writeJSON(w, http.StatusUnprocessableEntity,
				errorResponse{"record kind has no report"})

			return
		}

		s.log.WithError(err).Error("Failed to render report")
		writeJSON(w, http.StatusInternalServerError, errorResponse{"internal error"})

		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)

	_, _ = w.Write([]byte(text))
}
