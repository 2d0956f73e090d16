package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"optimus/internal/core"
	"optimus/pkg/domain"
)

const maxBodyBytes = 1 << 20

// NoCaseCreatedMessage is returned when a case is requested against an invalid norm.
const NoCaseCreatedMessage = "Norm is not valid; no case created."

type createNormRequest struct {
	Text string `json:"text"`
}

type normRequest struct {
	NormID *int64 `json:"norm_id"`
}

type solveCaseRequest struct {
	Decision string `json:"decision"`
}

// decodeBody decodes an optional JSON body. An empty body leaves dst untouched.
func decodeBody(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: invalid JSON body: %v", domain.ErrInvalidArgument, err)
	}
	return nil
}

func (h *Handler) normID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	var req normRequest
	if err := decodeBody(w, r, &req); err != nil {
		h.writeServiceError(w, r, err)
		return 0, false
	}
	if req.NormID == nil {
		writeError(w, http.StatusBadRequest, "norm_id is required")
		return 0, false
	}
	return *req.NormID, true
}

func (h *Handler) createNorm(w http.ResponseWriter, r *http.Request) {
	var req createNormRequest
	if err := decodeBody(w, r, &req); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	norm, err := h.svc.CreateNorm(r.Context(), req.Text)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, norm)
}

func (h *Handler) listNorms(w http.ResponseWriter, r *http.Request, filter core.NormFilter, key string) {
	norms, err := h.svc.ListNorms(r.Context(), filter)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	if key == "" {
		writeJSON(w, http.StatusOK, norms)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{key: norms})
}

func (h *Handler) getNorms(w http.ResponseWriter, r *http.Request) {
	h.listNorms(w, r, core.NormsAll, "")
}

func (h *Handler) getAllNorms(w http.ResponseWriter, r *http.Request) {
	h.listNorms(w, r, core.NormsAll, "norms")
}

func (h *Handler) getValidNorms(w http.ResponseWriter, r *http.Request) {
	h.listNorms(w, r, core.NormsValid, "valid_norms")
}

func (h *Handler) getInvalidNorms(w http.ResponseWriter, r *http.Request) {
	h.listNorms(w, r, core.NormsInvalid, "invalid_norms")
}

func (h *Handler) checkConstitutionality(w http.ResponseWriter, r *http.Request) {
	id, ok := h.normID(w, r)
	if !ok {
		return
	}
	norm, err := h.svc.CheckConstitutionality(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, norm)
}

func (h *Handler) markUnconstitutional(w http.ResponseWriter, r *http.Request) {
	id, ok := h.normID(w, r)
	if !ok {
		return
	}
	norm, err := h.svc.MarkUnconstitutional(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message": fmt.Sprintf("Norm #%d has been marked as unconstitutional.", norm.ID),
		"norm":    norm,
	})
}

func (h *Handler) createCase(w http.ResponseWriter, r *http.Request) {
	id, ok := h.normID(w, r)
	if !ok {
		return
	}
	c, created, err := h.svc.CreateCase(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	if !created {
		writeJSON(w, http.StatusOK, map[string]any{"message": NoCaseCreatedMessage, "case": nil})
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

func (h *Handler) generateCitizenCases(w http.ResponseWriter, r *http.Request) {
	batch, err := h.svc.GenerateCitizenCases(r.Context())
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, batch)
}

func (h *Handler) listCases(w http.ResponseWriter, r *http.Request, filter core.CaseFilter, key string) {
	cases, err := h.svc.ListCases(r.Context(), filter)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"total": len(cases), key: cases})
}

func (h *Handler) getPendingCases(w http.ResponseWriter, r *http.Request) {
	h.listCases(w, r, core.CasesPending, "pending_cases")
}

func (h *Handler) getSolvedCases(w http.ResponseWriter, r *http.Request) {
	h.listCases(w, r, core.CasesSolved, "solved_cases")
}

func (h *Handler) getAllCases(w http.ResponseWriter, r *http.Request) {
	h.listCases(w, r, core.CasesAll, "cases")
}

// solveCase takes the decision from the JSON body or the decision query
// parameter; Accepted when neither is given.
func (h *Handler) solveCase(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "case_id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "case_id must be a positive integer")
		return
	}
	var req solveCaseRequest
	if err := decodeBody(w, r, &req); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	raw := strings.TrimSpace(req.Decision)
	if raw == "" {
		raw = strings.TrimSpace(r.URL.Query().Get("decision"))
	}
	decision := domain.DecisionAccepted
	if raw != "" {
		if decision, err = domain.ParseDecision(raw); err != nil {
			h.writeServiceError(w, r, err)
			return
		}
	}
	solved, err := h.svc.SolveCase(r.Context(), id, decision)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message": fmt.Sprintf("Case %d has been solved", solved.ID),
		"case":    solved,
	})
}

func (h *Handler) simulateDay(w http.ResponseWriter, r *http.Request) {
	iteration, err := h.svc.SimulateDay(r.Context())
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message":   fmt.Sprintf("Day %d simulated successfully!", iteration),
		"iteration": iteration,
	})
}

func (h *Handler) getDayState(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.svc.DayState())
}

func (h *Handler) getStatistics(w http.ResponseWriter, r *http.Request) {
	stats, err := h.svc.Statistics(r.Context())
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (h *Handler) getNormativeInflation(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.svc.NormativeInflation(r.Context()))
}

func (h *Handler) getNotifications(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.notifications.List(r.URL.Query().Get("type")))
}

func (h *Handler) getActivities(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"activities": h.svc.Activities()})
}
