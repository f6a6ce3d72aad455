package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/carestack/supplyline/internal/core/domain"
	"github.com/carestack/supplyline/internal/core/service"
)

type HTTPHandler struct {
	requisitions *service.RequisitionService
}

func NewHTTPHandler(requisitions *service.RequisitionService) *HTTPHandler {
	return &HTTPHandler{requisitions: requisitions}
}

func (h *HTTPHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/requisitions", h.Create)
	mux.HandleFunc("GET /api/requisitions", h.List)
	mux.HandleFunc("GET /api/requisitions/stats", h.Stats)
	mux.HandleFunc("GET /api/requisitions/{id}", h.Get)
	mux.HandleFunc("PATCH /api/requisitions/{id}", h.Update)
	mux.HandleFunc("POST /api/requisitions/{id}/submit", h.Submit)
	mux.HandleFunc("POST /api/requisitions/{id}/approve", h.Approve)
	mux.HandleFunc("POST /api/requisitions/{id}/reject", h.Reject)
	mux.HandleFunc("POST /api/requisitions/{id}/fulfill", h.Fulfill)
	mux.HandleFunc("POST /api/requisitions/{id}/cancel", h.Cancel)
	mux.HandleFunc("GET /health", h.HealthCheck)
}

type approveRequest struct {
	Approver    string                   `json:"approver"`
	Notes       string                   `json:"notes"`
	Adjustments []service.ItemAdjustment `json:"adjustments"`
}

type rejectRequest struct {
	Approver string `json:"approver"`
	Reason   string `json:"reason"`
}

type fulfillRequest struct {
	Fulfiller    string                           `json:"fulfiller"`
	Instructions []service.FulfillmentInstruction `json:"instructions"`
	Notes        string                           `json:"notes"`
}

type cancelRequest struct {
	Reason string `json:"reason"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (h *HTTPHandler) Create(w http.ResponseWriter, r *http.Request) {
	var in service.CreateRequisitionInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}
	req, err := h.requisitions.Create(r.Context(), in)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, req)
}

func (h *HTTPHandler) Get(w http.ResponseWriter, r *http.Request) {
	detail, err := h.requisitions.GetByID(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

func (h *HTTPHandler) Update(w http.ResponseWriter, r *http.Request) {
	var in service.UpdateRequisitionInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}
	req, err := h.requisitions.Update(r.Context(), r.PathValue("id"), in)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

func (h *HTTPHandler) Submit(w http.ResponseWriter, r *http.Request) {
	req, err := h.requisitions.Submit(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

func (h *HTTPHandler) Approve(w http.ResponseWriter, r *http.Request) {
	var body approveRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}
	req, err := h.requisitions.Approve(r.Context(), r.PathValue("id"), body.Approver, body.Notes, body.Adjustments)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

func (h *HTTPHandler) Reject(w http.ResponseWriter, r *http.Request) {
	var body rejectRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}
	req, err := h.requisitions.Reject(r.Context(), r.PathValue("id"), body.Approver, body.Reason)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

func (h *HTTPHandler) Fulfill(w http.ResponseWriter, r *http.Request) {
	var body fulfillRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}
	req, err := h.requisitions.Fulfill(r.Context(), r.PathValue("id"), body.Fulfiller, body.Instructions, body.Notes)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

func (h *HTTPHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	var body cancelRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
			return
		}
	}
	req, err := h.requisitions.Cancel(r.Context(), r.PathValue("id"), body.Reason)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

func (h *HTTPHandler) List(w http.ResponseWriter, r *http.Request) {
	filter, err := parseFilter(r)
	if err != nil {
		writeError(w, err)
		return
	}
	page, err := h.requisitions.List(r.Context(), filter)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (h *HTTPHandler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.requisitions.Stats(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (h *HTTPHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func parseFilter(r *http.Request) (domain.RequisitionFilter, error) {
	q := r.URL.Query()
	var filter domain.RequisitionFilter

	if v := q.Get("status"); v != "" {
		status := domain.RequisitionStatus(v)
		filter.Status = &status
	}
	if v := q.Get("department"); v != "" {
		filter.DepartmentID = &v
	}
	if v := q.Get("priority"); v != "" {
		priority := domain.Priority(v)
		filter.Priority = &priority
	}
	for name, dst := range map[string]**time.Time{"needed_from": &filter.NeededFrom, "needed_to": &filter.NeededTo} {
		if v := q.Get(name); v != "" {
			t, err := time.Parse(time.RFC3339, v)
			if err != nil {
				return filter, errInvalidQuery(name)
			}
			*dst = &t
		}
	}
	filter.Search = q.Get("search")
	for name, dst := range map[string]*int{"page": &filter.Page, "page_size": &filter.PageSize} {
		if v := q.Get(name); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				return filter, errInvalidQuery(name)
			}
			*dst = n
		}
	}
	return filter, nil
}

func errInvalidQuery(name string) error {
	return &invalidQueryError{name: name}
}

type invalidQueryError struct {
	name string
}

func (e *invalidQueryError) Error() string {
	return "invalid query parameter: " + e.name
}

func (e *invalidQueryError) Unwrap() error {
	return domain.ErrValidation
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	message := "internal error"

	switch {
	case errors.Is(err, domain.ErrValidation):
		status = http.StatusBadRequest
		message = err.Error()
	case errors.Is(err, domain.ErrNotFound):
		status = http.StatusNotFound
		message = err.Error()
	case errors.Is(err, domain.ErrInvalidState), errors.Is(err, domain.ErrInsufficientStock):
		status = http.StatusConflict
		message = err.Error()
	}

	writeJSON(w, status, errorResponse{Error: message})
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
