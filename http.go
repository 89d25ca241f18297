package aibadge

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hazyhaar/aibadge/internal/shield"
)

// maxMatchBody caps POST /match bodies.
const maxMatchBody = 8 << 20

// Routes returns the status HTTP surface:
//
//	GET  /healthz
//	GET  /stats
//	GET  /ids/{id}
//	POST /ids/{id}/check
//	POST /match          (body: detail page HTML)
func (e *Engine) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(shield.HeadToGet)
	r.Use(shield.SecurityHeaders(shield.DefaultHeaders()))
	r.Use(shield.RequestLog(e.logger))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		e.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Get("/stats", func(w http.ResponseWriter, r *http.Request) {
		e.writeJSON(w, http.StatusOK, e.Stats(r.Context()))
	})

	r.Route("/ids/{id}", func(r chi.Router) {
		r.Get("/", func(w http.ResponseWriter, r *http.Request) {
			e.writeJSON(w, http.StatusOK, e.Status(chi.URLParam(r, "id")))
		})
		r.Post("/check", func(w http.ResponseWriter, r *http.Request) {
			out, err := e.Check(r.Context(), []string{chi.URLParam(r, "id")})
			if err != nil {
				e.writeError(w, http.StatusServiceUnavailable, err)
				return
			}
			e.writeJSON(w, http.StatusOK, out[0])
		})
	})

	r.Post("/match", func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(io.LimitReader(r.Body, maxMatchBody+1))
		if err != nil {
			e.writeError(w, http.StatusBadRequest, err)
			return
		}
		if len(body) > maxMatchBody {
			e.writeError(w, http.StatusRequestEntityTooLarge, errors.New("page too large"))
			return
		}
		e.writeJSON(w, http.StatusOK, e.Match(body))
	})

	return r
}

func (e *Engine) writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		e.logger.Debug("aibadge: write response", "status", code, "error", err)
	}
}

func (e *Engine) writeError(w http.ResponseWriter, code int, err error) {
	e.writeJSON(w, code, map[string]string{"error": err.Error()})
}
