package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/tournevent/fulfillment/internal/fulfillment"
	"github.com/tournevent/fulfillment/pkg/shipper"
	"go.uber.org/zap"
)

type fulfillRequest struct {
	CourierID int `json:"courierId"`
}

type fulfillResponse struct {
	*fulfillment.Result
	Message string `json:"message"`
}

type batchRequest struct {
	OrderIDs  []string `json:"orderIds"`
	CourierID int      `json:"courierId"`
}

type documentRequest struct {
	OrderIDs []string `json:"orderIds"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handleFulfill(w http.ResponseWriter, r *http.Request) {
	var req fulfillRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid JSON: "+err.Error())
			return
		}
	}

	res, err := s.svc.FulfillOrder(r.Context(), chi.URLParam(r, "orderID"), fulfillment.FulfillOptions{CourierID: req.CourierID})
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, fulfillResponse{Result: res, Message: res.Message()})
}

func (s *Server) handleQuotes(w http.ResponseWriter, r *http.Request) {
	options, err := s.svc.GetCourierQuotes(r.Context(), chi.URLParam(r, "orderID"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	quotes := make([]courierQuote, len(options))
	for i, o := range options {
		quotes[i] = toCourierQuote(o)
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": quotes})
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "orderID")
	if err := s.svc.CancelOrder(r.Context(), orderID); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"orderId": orderID, "cancelled": true})
}

func (s *Server) handleTracking(w http.ResponseWriter, r *http.Request) {
	tracking, err := s.svc.TrackOrder(r.Context(), chi.URLParam(r, "orderID"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toTrackingResponse(tracking))
}

func (s *Server) handleBatch(w http.ResponseWriter, r *http.Request) {
	var req batchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON: "+err.Error())
		return
	}
	if len(req.OrderIDs) == 0 {
		writeError(w, http.StatusBadRequest, "orderIds is required")
		return
	}

	result := s.batch.Run(r.Context(), req.OrderIDs, req.CourierID, nil)
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleDocument(w http.ResponseWriter, r *http.Request) {
	kind := shipper.DocumentKind(chi.URLParam(r, "kind"))
	switch kind {
	case shipper.DocumentLabel, shipper.DocumentManifest, shipper.DocumentInvoice:
	default:
		writeError(w, http.StatusNotFound, "unknown document kind")
		return
	}

	var req documentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON: "+err.Error())
		return
	}
	if len(req.OrderIDs) == 0 {
		writeError(w, http.StatusBadRequest, "orderIds is required")
		return
	}

	doc, err := s.svc.GenerateDocument(r.Context(), kind, req.OrderIDs)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, documentResponse{Kind: string(doc.Kind), URL: doc.URL, NotCreated: doc.NotCreated})
}

func (s *Server) handleListShipments(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := shipper.ShipmentFilter{Status: q.Get("status")}
	var err error
	if v := q.Get("page"); v != "" {
		if filter.Page, err = strconv.Atoi(v); err != nil {
			writeError(w, http.StatusBadRequest, "page must be a number")
			return
		}
	}
	if v := q.Get("per_page"); v != "" {
		if filter.PerPage, err = strconv.Atoi(v); err != nil {
			writeError(w, http.StatusBadRequest, "per_page must be a number")
			return
		}
	}

	rows, err := s.svc.ListShipments(r.Context(), filter)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	out := make([]shipmentRow, len(rows))
	for i, row := range rows {
		out[i] = toShipmentRow(row)
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": out})
}

// statusFor maps a fulfillment error to an HTTP status.
// retryAfterSeconds is advertised on responses for transient provider failures.
const retryAfterSeconds = 30

func statusFor(err error) int {
	switch {
	case errors.Is(err, shipper.ErrOrderNotFound):
		return http.StatusNotFound
	case shipper.IsValidation(err),
		errors.Is(err, shipper.ErrNotRegistered),
		errors.Is(err, shipper.ErrNoTrackingNumber):
		return http.StatusUnprocessableEntity
	case errors.Is(err, shipper.ErrRateLimitExceeded):
		return http.StatusTooManyRequests
	case errors.Is(err, shipper.ErrAuthCooldown),
		errors.Is(err, shipper.ErrServiceUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, shipper.ErrAuthFailed),
		errors.Is(err, shipper.ErrShipmentCreateFailed):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Ctx(r.Context()).Error("Request failed",
			zap.String("path", r.URL.Path),
			zap.Int("status", status),
			zap.Error(err),
		)
	}
	if shipper.IsRetryable(err) {
		w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds))
	}
	writeError(w, status, err.Error())
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
