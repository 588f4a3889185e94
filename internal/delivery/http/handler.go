package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/bookacut/queuesync/internal/connectivity"
	"github.com/bookacut/queuesync/internal/service"
	"github.com/bookacut/queuesync/internal/store"
	"github.com/bookacut/queuesync/pkg/logger"
)

// SyncInspector exposes the connectivity state and backlog for the status
// endpoint.
type SyncInspector interface {
	State() connectivity.State
	PendingCount(ctx context.Context) (int, error)
}

type HTTPHandler struct {
	queueService service.QueueService
	sync         SyncInspector
	logger       logger.Logger
	validator    *validator.Validate
}

func NewHTTPHandler(queueService service.QueueService, sync SyncInspector, logger logger.Logger) *HTTPHandler {
	return &HTTPHandler{
		queueService: queueService,
		sync:         sync,
		logger:       logger,
		validator:    validator.New(),
	}
}

type joinQueueRequest struct {
	ShopID     string `json:"shop_id" validate:"required"`
	CustomerID string `json:"customer_id" validate:"required"`
	BookingID  string `json:"booking_id"`
}

type entryActionRequest struct {
	ShopID     string `json:"shop_id"`
	CustomerID string `json:"customer_id"`
}

// HealthCheck handles health check requests
func (h *HTTPHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	response := map[string]interface{}{
		"status":  "healthy",
		"service": "queuesync",
	}
	h.respondJSON(w, http.StatusOK, response)
}

// SyncStatus reports the connectivity state and the deferred-write backlog.
func (h *HTTPHandler) SyncStatus(w http.ResponseWriter, r *http.Request) {
	pending, err := h.sync.PendingCount(r.Context())
	if err != nil {
		h.logger.Error(r.Context(), "Failed to count pending mutations", "error", err)
		h.respondError(w, http.StatusInternalServerError, "Failed to read sync status", err)
		return
	}

	h.respondJSON(w, http.StatusOK, map[string]interface{}{
		"state":             string(h.sync.State()),
		"pending_mutations": pending,
	})
}

// JoinQueue handles join queue requests
func (h *HTTPHandler) JoinQueue(w http.ResponseWriter, r *http.Request) {
	var req joinQueueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	// Validate request
	if err := h.validator.Struct(req); err != nil {
		h.respondError(w, http.StatusBadRequest, "Validation failed", err)
		return
	}

	out, err := h.queueService.JoinQueue(r.Context(), service.JoinQueueInput{
		ShopID:     req.ShopID,
		CustomerID: req.CustomerID,
		BookingID:  req.BookingID,
	})
	if err != nil {
		h.respondServiceError(w, r, "Failed to join queue", err)
		return
	}

	if out.Outcome == connectivity.OutcomeEnqueued {
		h.respondJSON(w, http.StatusAccepted, map[string]interface{}{
			"outcome":     string(out.Outcome),
			"mutation_id": out.MutationID,
			"message":     "You're offline. The join will sync when connection returns.",
		})
		return
	}

	h.respondJSON(w, http.StatusCreated, map[string]interface{}{
		"outcome":                string(out.Outcome),
		"entry":                  out.Entry,
		"position":               out.Position,
		"estimated_wait_minutes": out.EstimatedWaitMinutes,
	})
}

// GetShopQueue returns a shop's active queue in display order.
func (h *HTTPHandler) GetShopQueue(w http.ResponseWriter, r *http.Request) {
	shopID := chi.URLParam(r, "shopId")
	if shopID == "" {
		h.respondError(w, http.StatusBadRequest, "Shop ID is required", nil)
		return
	}

	entries, err := h.queueService.GetShopQueue(r.Context(), shopID)
	if err != nil {
		h.respondServiceError(w, r, "Failed to read shop queue", err)
		return
	}

	h.respondJSON(w, http.StatusOK, map[string]interface{}{"entries": entries})
}

// GetCustomerQueue returns a customer's active entries across shops.
func (h *HTTPHandler) GetCustomerQueue(w http.ResponseWriter, r *http.Request) {
	customerID := chi.URLParam(r, "customerId")
	if customerID == "" {
		h.respondError(w, http.StatusBadRequest, "Customer ID is required", nil)
		return
	}

	entries, err := h.queueService.GetCustomerQueue(r.Context(), customerID)
	if err != nil {
		h.respondServiceError(w, r, "Failed to read customer queue", err)
		return
	}

	h.respondJSON(w, http.StatusOK, map[string]interface{}{"entries": entries})
}

func (h *HTTPHandler) StartService(w http.ResponseWriter, r *http.Request) {
	h.entryAction(w, r, h.queueService.StartService)
}

func (h *HTTPHandler) CompleteService(w http.ResponseWriter, r *http.Request) {
	h.entryAction(w, r, h.queueService.CompleteService)
}

func (h *HTTPHandler) CancelEntry(w http.ResponseWriter, r *http.Request) {
	h.entryAction(w, r, h.queueService.CancelEntry)
}

func (h *HTTPHandler) entryAction(
	w http.ResponseWriter,
	r *http.Request,
	action func(ctx context.Context, ref service.EntryRef) (service.MutationOutput, error),
) {
	entryID := chi.URLParam(r, "entryId")
	if entryID == "" {
		h.respondError(w, http.StatusBadRequest, "Entry ID is required", nil)
		return
	}

	var req entryActionRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			h.respondError(w, http.StatusBadRequest, "Invalid request body", err)
			return
		}
	}

	out, err := action(r.Context(), service.EntryRef{
		EntryID:    entryID,
		ShopID:     req.ShopID,
		CustomerID: req.CustomerID,
	})
	if err != nil {
		h.respondServiceError(w, r, "Failed to update entry", err)
		return
	}

	status := http.StatusOK
	if out.Outcome == connectivity.OutcomeEnqueued {
		status = http.StatusAccepted
	}
	h.respondJSON(w, status, map[string]interface{}{
		"outcome":     string(out.Outcome),
		"mutation_id": out.MutationID,
	})
}

func (h *HTTPHandler) respondServiceError(w http.ResponseWriter, r *http.Request, message string, err error) {
	switch {
	case errors.Is(err, service.ErrMissingShopID),
		errors.Is(err, service.ErrMissingCustomerID),
		errors.Is(err, service.ErrMissingEntryID):
		h.respondError(w, http.StatusBadRequest, err.Error(), err)
	case errors.Is(err, connectivity.ErrOffline):
		h.respondError(w, http.StatusServiceUnavailable, "Offline and the request cannot be deferred", err)
	default:
		var se *store.StatusError
		if errors.As(err, &se) {
			// Surface the store's own verdict.
			h.respondError(w, se.StatusCode, message, err)
			return
		}
		h.logger.Error(r.Context(), message, "error", err)
		h.respondError(w, http.StatusBadGateway, message, err)
	}
}

// Helper functions

func (h *HTTPHandler) respondJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error(context.Background(), "Failed to encode JSON response", "error", err)
	}
}

func (h *HTTPHandler) respondError(w http.ResponseWriter, statusCode int, message string, err error) {
	response := map[string]interface{}{
		"error": message,
		"code":  statusCode,
	}

	if err != nil {
		h.logger.Debug(context.Background(), "Error response", "message", message, "error", err.Error())
	}

	h.respondJSON(w, statusCode, response)
}
