package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/repolens/billing/internal/auth"
	"github.com/repolens/billing/internal/usecases"
)

var _ VerificationService = (*usecases.VerificationService)(nil)
var _ EntitlementService = (*usecases.EntitlementService)(nil)

// Error categories returned to callers. Deliberately coarse: a not-found
// order and a bad signature are indistinguishable from the outside so the
// endpoint does not leak which orders exist.
const (
	errCategoryUnauthorized       = "unauthorized"
	errCategoryInvalidRequest     = "invalid_request"
	errCategoryAlreadyProcessed   = "already_processed"
	errCategoryVerificationFailed = "verification_failed"
)

type HTTPHandler struct {
	logger              *slog.Logger
	tokens              *auth.TokenVerifier
	verificationService VerificationService
	entitlementService  EntitlementService
}

func NewHTTPHandler(logger *slog.Logger, tokens *auth.TokenVerifier, verificationService VerificationService, entitlementService EntitlementService) *HTTPHandler {
	return &HTTPHandler{
		logger:              logger,
		tokens:              tokens,
		verificationService: verificationService,
		entitlementService:  entitlementService,
	}
}

func (h *HTTPHandler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/billing/verify-payment", h.VerifyPayment).Methods("POST")
	router.HandleFunc("/billing/entitlement", h.GetEntitlement).Methods("GET")
	router.HandleFunc("/health", h.Health).Methods("GET")
}

type verifyPaymentResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// VerifyPayment is the single externally reachable verification operation.
// It authenticates the caller, hands the untrusted payload to the
// verification service and maps the outcome to a coarse response category.
func (h *HTTPHandler) VerifyPayment(w http.ResponseWriter, r *http.Request) {
	requestID := uuid.NewString()

	userID, err := h.tokens.SubjectFromHeader(r.Header.Get("Authorization"))
	if err != nil {
		h.logger.Warn("[Verify Payment] Unauthenticated callback", "request_id", requestID)
		writeJSON(w, http.StatusUnauthorized, verifyPaymentResponse{Success: false, Error: errCategoryUnauthorized})
		return
	}

	var cb usecases.PaymentCallback
	if err = json.NewDecoder(r.Body).Decode(&cb); err != nil {
		h.logger.Warn("[Verify Payment] Malformed payload", "request_id", requestID, "user_id", userID)
		writeJSON(w, http.StatusBadRequest, verifyPaymentResponse{Success: false, Error: errCategoryInvalidRequest})
		return
	}

	err = h.verificationService.VerifyPayment(r.Context(), userID, cb)
	if err == nil {
		writeJSON(w, http.StatusOK, verifyPaymentResponse{Success: true})
		return
	}

	category := errCategoryVerificationFailed
	switch {
	case errors.Is(err, usecases.ErrMissingFields):
		category = errCategoryInvalidRequest
	case errors.Is(err, usecases.ErrAlreadyProcessed):
		category = errCategoryAlreadyProcessed
	case errors.Is(err, usecases.ErrOrderNotFound), errors.Is(err, usecases.ErrBadSignature):
		// Same category on purpose.
	}

	h.logger.Warn("[Verify Payment] Verification rejected",
		"request_id", requestID,
		"user_id", userID,
		"order_id", cb.OrderID,
		"category", category,
		"error", err)

	writeJSON(w, http.StatusBadRequest, verifyPaymentResponse{Success: false, Error: category})
}

// GetEntitlement returns the caller's entitlement for the billing page.
func (h *HTTPHandler) GetEntitlement(w http.ResponseWriter, r *http.Request) {
	userID, err := h.tokens.SubjectFromHeader(r.Header.Get("Authorization"))
	if err != nil {
		writeJSON(w, http.StatusUnauthorized, verifyPaymentResponse{Success: false, Error: errCategoryUnauthorized})
		return
	}

	entitlement, err := h.entitlementService.GetForUser(r.Context(), userID)
	if err != nil {
		h.logger.Error("[Entitlement] Failed to load entitlement", "user_id", userID, "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, entitlement)
}

func (h *HTTPHandler) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}
