package handlers

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/j4xie/my-prototype-logistics-sub021/internal/activation"
	"github.com/j4xie/my-prototype-logistics-sub021/internal/middleware"
)

// ActivationHandler handles activation-code endpoints. Both are callable
// without prior authentication.
type ActivationHandler struct {
	service   *activation.Service
	ipLimiter *middleware.RateLimiter
}

// NewActivationHandler creates an activation handler.
func NewActivationHandler(service *activation.Service) *ActivationHandler {
	return &ActivationHandler{
		service:   service,
		ipLimiter: middleware.NewRateLimiter(10*time.Minute, 30),
	}
}

type validateRequest struct {
	Code     string `json:"code"`
	DeviceID string `json:"device_id"`
}

type validateResponse struct {
	Code          string     `json:"code"`
	Type          string     `json:"type"`
	TenantID      string     `json:"tenant_id,omitempty"`
	RemainingUses int        `json:"remaining_uses"`
	ValidUntil    *time.Time `json:"valid_until,omitempty"`
}

// HandleValidate handles POST /activation/validate.
func (h *ActivationHandler) HandleValidate(w http.ResponseWriter, r *http.Request) {
	var req validateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if !h.ipLimiter.Allow(middleware.GetIPKey(r)) {
		respondWithError(w, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}

	info, err := h.service.Validate(r.Context(), req.Code, req.DeviceID)
	if err != nil {
		respondWithAppError(w, err)
		return
	}

	resp := validateResponse{
		Code:          info.Code,
		Type:          string(info.Type),
		RemainingUses: info.RemainingUses,
		ValidUntil:    info.ValidUntil,
	}
	if info.TenantID != nil {
		resp.TenantID = info.TenantID.String()
	}
	respondJSON(w, http.StatusOK, resp)
}

type redeemRequest struct {
	Code       string `json:"code"`
	DeviceID   string `json:"device_id"`
	DeviceInfo string `json:"device_info"`
}

type redeemResponse struct {
	RecordID   string    `json:"record_id"`
	Code       string    `json:"code"`
	DeviceID   string    `json:"device_id"`
	ActivatedAt time.Time `json:"activated_at"`
}

// HandleRedeem handles POST /activation/redeem.
func (h *ActivationHandler) HandleRedeem(w http.ResponseWriter, r *http.Request) {
	var req redeemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if !h.ipLimiter.Allow(middleware.GetIPKey(r)) {
		respondWithError(w, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}

	record, err := h.service.Redeem(r.Context(), req.Code, req.DeviceID, req.DeviceInfo, clientIP(r))
	if err != nil {
		respondWithAppError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, redeemResponse{
		RecordID:    record.ID.String(),
		Code:        strings.TrimSpace(req.Code),
		DeviceID:    record.DeviceID,
		ActivatedAt: record.CreatedAt,
	})
}

// clientIP extracts the client IP from the request.
func clientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		ips := strings.Split(forwarded, ",")
		return strings.TrimSpace(ips[0])
	}
	return r.RemoteAddr
}
