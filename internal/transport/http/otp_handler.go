// Copyright 2026 The SecureDocs Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/securedocs/securedocs/internal/audit"
	"github.com/securedocs/securedocs/internal/otp"
)

// OtpSetup begins second-factor provisioning for the current user
// @Summary Begin OTP Setup
// @Description Generate a fresh TOTP secret and enrollment URI
// @Tags OTP
// @Produce json
// @Security BearerAuth
// @Success 200 {object} map[string]string
// @Failure 409 {object} map[string]string
// @Router /otp/setup [post]
func (h *Handler) OtpSetup(w http.ResponseWriter, r *http.Request) {
	userID := GetUserID(r.Context())

	enrollment, err := h.otpManager.BeginProvisioning(r.Context(), userID)
	if err != nil {
		if errors.Is(err, otp.ErrAlreadyActive) {
			respondError(w, http.StatusConflict, "second factor already active; reset it first")
			return
		}
		respondError(w, http.StatusInternalServerError, "failed to begin setup")
		return
	}

	h.auditLogger.Log(r.Context(), audit.Event{
		Type:      audit.TypeOtpProvisioned,
		ActorID:   userID,
		IPAddress: getIPAddress(r),
		UserAgent: r.UserAgent(),
	})

	// The secret travels once, at enrollment time, so the user can key
	// it into an authenticator; it is never served again.
	respondJSON(w, http.StatusOK, map[string]string{
		"secret": enrollment.Secret,
		"uri":    enrollment.URL,
	})
}

// OtpCodeRequest carries a six-digit code
type OtpCodeRequest struct {
	Code string `json:"code" binding:"required" example:"123456"`
}

// OtpActivate confirms a pending enrollment with a first valid code
// @Summary Activate OTP
// @Description Confirm possession of the provisioned secret
// @Tags OTP
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body OtpCodeRequest true "TOTP Code"
// @Success 200 {object} map[string]string
// @Failure 400 {object} map[string]string
// @Failure 401 {object} map[string]string
// @Failure 409 {object} map[string]string
// @Router /otp/activate [post]
func (h *Handler) OtpActivate(w http.ResponseWriter, r *http.Request) {
	userID := GetUserID(r.Context())

	var req OtpCodeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	err := h.otpManager.ConfirmActivation(r.Context(), userID, req.Code)
	if err != nil {
		switch {
		case errors.Is(err, otp.ErrNoPendingSetup):
			respondError(w, http.StatusConflict, "no pending setup; begin setup first")
		case errors.Is(err, otp.ErrAlreadyActive):
			respondError(w, http.StatusConflict, "second factor already active")
		case errors.Is(err, otp.ErrBadCodeFormat):
			respondError(w, http.StatusBadRequest, "code must be exactly six digits")
		case errors.Is(err, otp.ErrCodeMismatch):
			respondError(w, http.StatusUnauthorized, "code does not match")
		default:
			respondError(w, http.StatusInternalServerError, "failed to activate")
		}
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{
		"message": "second factor activated",
	})
}

// OtpReset wipes a user's enrollment (administrative)
// @Summary Reset OTP
// @Description Clear a user's second-factor enrollment
// @Tags Users
// @Produce json
// @Security BearerAuth
// @Param userID path string true "User ID"
// @Success 200 {object} map[string]string
// @Failure 404 {object} map[string]string
// @Router /users/{userID}/otp/reset [post]
func (h *Handler) OtpReset(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	if err := h.otpManager.Reset(r.Context(), GetUserID(r.Context()), userID); err != nil {
		respondError(w, http.StatusNotFound, "user not found")
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{
		"message": "second factor reset",
	})
}
