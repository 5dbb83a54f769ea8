package ev

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/oddsedge/ev-engine/internal/devig"
	"github.com/oddsedge/ev-engine/internal/model"
)

// maxBatchItems caps the batch request size.
const maxBatchItems = 10

// Routes mounts the EV endpoints on a chi router.
func (s *Service) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/ev", s.HandleCalculateEV)
	r.Post("/ev/batch", s.HandleCalculateEVBatch)
	r.Get("/ev/history/{offerID}", s.HandleHistory)
	if s.hub != nil {
		r.Get("/ws", s.hub.HandleWS)
	}
	return r
}

// HandleCalculateEV handles POST /api/v1/ev. The ?fresh=true query
// parameter skips the result cache.
func (s *Service) HandleCalculateEV(w http.ResponseWriter, r *http.Request) {
	var req model.EVRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, newError(CodeInvalidRequest, http.StatusBadRequest, "invalid request body"))
		return
	}
	if req.OfferID == "" {
		writeError(w, newError(CodeInvalidRequest, http.StatusBadRequest, "offerId is required"))
		return
	}
	if e := validateItem(req); e != nil {
		writeError(w, e)
		return
	}

	res, err := s.CalculateEV(r.Context(), req, freshRequested(r))
	if err != nil {
		writeError(w, AsError(err))
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// HandleCalculateEVBatch handles POST /api/v1/ev/batch. The envelope is
// always structurally successful; only malformed requests get a non-200.
func (s *Service) HandleCalculateEVBatch(w http.ResponseWriter, r *http.Request) {
	var req model.BatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, newError(CodeInvalidRequest, http.StatusBadRequest, "invalid request body"))
		return
	}
	if req.OfferID == "" {
		writeError(w, newError(CodeInvalidRequest, http.StatusBadRequest, "offerId is required"))
		return
	}
	if len(req.Items) < 1 || len(req.Items) > maxBatchItems {
		writeError(w, newError(CodeInvalidRequest, http.StatusBadRequest,
			"batch must contain 1-%d items", maxBatchItems))
		return
	}
	for i, item := range req.Items {
		if e := validateItem(item.Request(req.OfferID)); e != nil {
			e.Message = "item " + strconv.Itoa(i) + ": " + e.Message
			writeError(w, e)
			return
		}
	}

	writeJSON(w, http.StatusOK, s.CalculateEVBatch(r.Context(), req, freshRequested(r)))
}

// HandleHistory handles GET /api/v1/ev/history/{offerID}.
func (s *Service) HandleHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeError(w, newError(CodeInvalidRequest, http.StatusServiceUnavailable,
			"calculation history is not configured"))
		return
	}
	offerID := chi.URLParam(r, "offerID")
	records, err := s.history.ListByOffer(r.Context(), offerID, 50)
	if err != nil {
		writeError(w, newError(CodeInternal, http.StatusInternalServerError,
			"failed to load history"))
		return
	}
	writeJSON(w, http.StatusOK, records)
}

// validateItem checks everything that is the boundary's job rather than
// the pipeline's: required fields, known tokens, positive bankroll.
func validateItem(req model.EVRequest) *Error {
	if req.ParticipantID == "" {
		return newError(CodeInvalidRequest, http.StatusBadRequest, "participantId is required")
	}
	if req.Side != model.SideOver && req.Side != model.SideUnder {
		return newError(CodeInvalidRequest, http.StatusBadRequest,
			"side must be %q or %q", model.SideOver, model.SideUnder)
	}
	if req.Sportsbook == "" {
		return newError(CodeInvalidRequest, http.StatusBadRequest, "sportsbook is required")
	}
	if len(req.ReferenceBooks) == 0 {
		return newError(CodeInvalidRequest, http.StatusBadRequest, "referenceBooks must be non-empty")
	}
	if _, err := devig.ParseMethod(req.Method); err != nil {
		return newError(CodeInvalidRequest, http.StatusBadRequest, "unknown devig method %q", req.Method)
	}
	if req.Bankroll != nil && !req.Bankroll.IsPositive() {
		return newError(CodeInvalidRequest, http.StatusBadRequest, "bankroll must be positive")
	}
	return nil
}

func freshRequested(r *http.Request) bool {
	return r.URL.Query().Get("fresh") == "true"
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response with the failure code.
func writeError(w http.ResponseWriter, e *Error) {
	writeJSON(w, e.Status, e)
}
