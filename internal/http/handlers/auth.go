package handlers

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/j4xie/my-prototype-logistics-sub021/internal/apperr"
	"github.com/j4xie/my-prototype-logistics-sub021/internal/auth"
	"github.com/j4xie/my-prototype-logistics-sub021/internal/middleware"
	"github.com/j4xie/my-prototype-logistics-sub021/internal/model"
	"github.com/j4xie/my-prototype-logistics-sub021/internal/register"
)

// AuthHandler handles registration and session endpoints.
type AuthHandler struct {
	registration *register.Service
	sessions     *auth.SessionService
	ipLimiter    *middleware.RateLimiter
}

// NewAuthHandler creates an auth handler. The IP limiter covers the
// unauthenticated endpoints; per-phone limiting happens against the store.
func NewAuthHandler(registration *register.Service, sessions *auth.SessionService) *AuthHandler {
	return &AuthHandler{
		registration: registration,
		sessions:     sessions,
		ipLimiter:    middleware.NewRateLimiter(10*time.Minute, 20),
	}
}

type requestVerificationRequest struct {
	TenantID string `json:"tenant_id"`
	Phone    string `json:"phone"`
}

type requestVerificationResponse struct {
	VerificationToken string `json:"verification_token"`
}

// HandleRequestVerification handles POST /auth/request_verification.
func (h *AuthHandler) HandleRequestVerification(w http.ResponseWriter, r *http.Request) {
	var req requestVerificationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.Phone = strings.TrimSpace(req.Phone)

	tenantID, err := uuid.Parse(req.TenantID)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "tenant_id must be a uuid")
		return
	}
	if req.Phone == "" {
		respondWithError(w, http.StatusBadRequest, "phone is required")
		return
	}

	if !h.ipLimiter.Allow(middleware.GetIPKey(r)) {
		respondWithError(w, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}

	token, err := h.registration.RequestVerification(r.Context(), tenantID, req.Phone)
	if err != nil {
		logMaskedPhone(req.Phone, "request verification failed", err)
		if errors.Is(err, register.ErrTooManyRequests) {
			respondWithError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		respondWithAppError(w, err)
		return
	}

	// The token is returned directly: delivering it out of band (SMS) is an
	// external collaborator's job.
	respondJSON(w, http.StatusOK, requestVerificationResponse{VerificationToken: token})
}

type registerRequest struct {
	Phone    string `json:"phone"`
	Username string `json:"username"`
	Password string `json:"password"`
	Email    string `json:"email"`
	FullName string `json:"full_name"`
	Token    string `json:"verification_token"`
}

// HandleRegister handles POST /auth/register.
func (h *AuthHandler) HandleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if !h.ipLimiter.Allow(middleware.GetIPKey(r)) {
		respondWithError(w, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}

	user, err := h.registration.CompleteRegistration(r.Context(), register.CompleteInput{
		Phone:    req.Phone,
		Username: req.Username,
		Password: req.Password,
		Email:    req.Email,
		FullName: req.FullName,
		Token:    req.Token,
	})
	if err != nil {
		logMaskedPhone(req.Phone, "registration failed", err)
		respondWithAppError(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, map[string]any{
		"user":    newUserResponse(&user),
		"message": "registered; account awaits activation by an administrator",
	})
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	TenantID string `json:"tenant_id"`
}

type tokenPairResponse struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	TokenType    string    `json:"token_type"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// HandleLogin handles POST /auth/login.
func (h *AuthHandler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.Username = strings.TrimSpace(req.Username)
	if req.Username == "" || req.Password == "" {
		respondWithError(w, http.StatusBadRequest, "username and password are required")
		return
	}
	tenantID, err := uuid.Parse(req.TenantID)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "tenant_id must be a uuid")
		return
	}

	if !h.ipLimiter.Allow(middleware.GetIPKey(r)) {
		respondWithError(w, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}

	user, pair, err := h.sessions.Login(r.Context(), req.Username, req.Password, tenantID)
	if err != nil {
		log.Printf("login failed for %q: %v", req.Username, err)
		respondWithAppError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"access_token":  pair.AccessToken,
		"refresh_token": pair.RefreshToken,
		"token_type":    "bearer",
		"expires_at":    pair.ExpiresAt,
		"user":          newUserResponse(user),
	})
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// HandleRefresh handles POST /auth/refresh.
func (h *AuthHandler) HandleRefresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.RefreshToken = strings.TrimSpace(req.RefreshToken)
	if req.RefreshToken == "" {
		respondWithError(w, http.StatusBadRequest, "refresh_token is required")
		return
	}

	pair, err := h.sessions.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		respondWithAppError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, tokenPairResponse{
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		TokenType:    "bearer",
		ExpiresAt:    pair.ExpiresAt,
	})
}

// HandleLogout handles POST /auth/logout.
func (h *AuthHandler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.RefreshToken = strings.TrimSpace(req.RefreshToken)
	if req.RefreshToken == "" {
		respondWithError(w, http.StatusBadRequest, "refresh_token is required")
		return
	}

	if err := h.sessions.Logout(r.Context(), req.RefreshToken); err != nil {
		respondWithAppError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"message": "logged out"})
}

type changePasswordRequest struct {
	OldPassword string `json:"old_password"`
	NewPassword string `json:"new_password"`
}

// HandleChangePassword handles POST /auth/change_password (protected).
// A successful change revokes every session of the principal.
func (h *AuthHandler) HandleChangePassword(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.GetUser(r.Context())
	if !ok || user == nil {
		respondWithError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req changePasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := h.sessions.ChangePassword(r.Context(), user.ID, req.OldPassword, req.NewPassword); err != nil {
		respondWithAppError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"message": "password changed; all sessions revoked"})
}

// HandleMe handles GET /me (protected).
func (h *AuthHandler) HandleMe(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.GetUser(r.Context())
	if !ok || user == nil {
		respondWithError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	resp := newUserResponse(user)
	if claims, ok := middleware.GetClaims(r.Context()); ok {
		resp.Modules = claims.Modules
	}
	respondJSON(w, http.StatusOK, resp)
}

// userResponse is the user object in API responses.
type userResponse struct {
	ID         string   `json:"id"`
	TenantID   string   `json:"tenant_id,omitempty"`
	Username   string   `json:"username"`
	Email      string   `json:"email"`
	Phone      string   `json:"phone"`
	FullName   string   `json:"full_name,omitempty"`
	Role       string   `json:"role"`
	RoleLevel  int      `json:"role_level"`
	Department string   `json:"department,omitempty"`
	Active     bool     `json:"active"`
	Modules    []string `json:"modules,omitempty"`
}

func newUserResponse(u *model.User) *userResponse {
	resp := &userResponse{
		ID:        u.ID.String(),
		Username:  u.Username,
		Email:     u.Email,
		Phone:     maskPhone(u.Phone),
		FullName:  u.FullName,
		Role:      string(u.RoleCode),
		RoleLevel: u.RoleLevel,
		Active:    u.Active,
	}
	if u.TenantID != nil {
		resp.TenantID = u.TenantID.String()
	}
	if u.Department != nil {
		resp.Department = *u.Department
	}
	return resp
}

// respondJSON writes a JSON response body.
func respondJSON(w http.ResponseWriter, statusCode int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Printf("encode response: %v", err)
	}
}

// respondWithError sends a JSON error response.
func respondWithError(w http.ResponseWriter, statusCode int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// respondWithAppError maps a tagged error to its HTTP status and exposes the
// machine-readable kind alongside the message.
func respondWithAppError(w http.ResponseWriter, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(apperr.HTTPStatus(err))
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error": err.Error(),
		"kind":  string(apperr.KindOf(err)),
	})
}

// logMaskedPhone logs a failure with the phone number masked.
func logMaskedPhone(phone, msg string, err error) {
	log.Printf("phone %s: %s: %v", maskPhone(phone), msg, err)
}

// maskPhone masks a phone number for logs and responses (e.g. +86********90).
func maskPhone(phone string) string {
	if len(phone) <= 4 {
		return "****"
	}
	return phone[:2] + strings.Repeat("*", len(phone)-4) + phone[len(phone)-2:]
}
