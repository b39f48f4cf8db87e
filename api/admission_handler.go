package api

import (
	"encoding/json"
	"net/http"

	"github.com/huytu0702/university-admission-portal-sub001/admission"
	"github.com/huytu0702/university-admission-portal-sub001/id"
)

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var in admission.SubmitInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, "request body must be valid JSON")
		return
	}

	key := r.Header.Get("Idempotency-Key")
	res, replayed, err := s.eng.Service().Submit(r.Context(), key, in)
	if err != nil {
		mapError(w, err)
		return
	}

	if replayed {
		w.Header().Set("Idempotent-Replay", "true")
	}
	status := http.StatusCreated
	if res.Async {
		status = http.StatusAccepted
	}
	writeJSON(w, status, res)
}

func (s *Server) handleGetApplication(w http.ResponseWriter, r *http.Request) {
	appID, err := id.ParseApplicationID(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid application id")
		return
	}

	app, err := s.eng.Service().Get(r.Context(), appID)
	if err != nil {
		mapError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, app)
}

// handleCheckout settles the application fee. The application ID comes
// from the applicationId query parameter (the payUrl returned by
// submit) or a JSON body with the same field.
func (s *Server) handleCheckout(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("applicationId")
	if raw == "" {
		var body struct {
			ApplicationID string `json:"applicationId"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err == nil {
			raw = body.ApplicationID
		}
	}
	appID, err := id.ParseApplicationID(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid application id")
		return
	}

	receipt, err := s.eng.Service().Checkout(r.Context(), appID)
	if err != nil {
		mapError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, receipt)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if err := s.eng.Store().Ping(r.Context()); err != nil {
		writeError(w, http.StatusServiceUnavailable, "store unreachable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
