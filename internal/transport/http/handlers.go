// @title SecureDocs API
// @version 1.0.0
// @description Classified document vault with step-up authentication
// @termsOfService http://swagger.io/terms/

// @license.name Apache 2.0
// @license.url http://www.apache.org/licenses/LICENSE-2.0

// @host localhost:8080
// @BasePath /api/v1

// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/securedocs/securedocs/internal/audit"
	"github.com/securedocs/securedocs/internal/authz"
	"github.com/securedocs/securedocs/internal/document"
	"github.com/securedocs/securedocs/internal/enforce"
	"github.com/securedocs/securedocs/internal/identity"
	"github.com/securedocs/securedocs/internal/observability/logger"
	"github.com/securedocs/securedocs/internal/otp"
	"github.com/securedocs/securedocs/internal/storage"
	"github.com/securedocs/securedocs/internal/token"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// Handler holds HTTP handlers and dependencies
type Handler struct {
	identityService *identity.Service
	documentService *document.Service
	otpManager      *otp.Manager
	tokenManager    *token.Manager
	pipeline        *enforce.Pipeline
	store           *storage.FilesystemStore
	auditLogger     audit.Logger
	maxUploadBytes  int64
}

// NewHandler creates a new HTTP handler
func NewHandler(
	identityService *identity.Service,
	documentService *document.Service,
	otpManager *otp.Manager,
	tokenManager *token.Manager,
	pipeline *enforce.Pipeline,
	store *storage.FilesystemStore,
	auditLogger audit.Logger,
	maxUploadBytes int64,
) *Handler {
	return &Handler{
		identityService: identityService,
		documentService: documentService,
		otpManager:      otpManager,
		tokenManager:    tokenManager,
		pipeline:        pipeline,
		store:           store,
		auditLogger:     auditLogger,
		maxUploadBytes:  maxUploadBytes,
	}
}

// NewRouter creates a new HTTP router. authLimiter throttles the
// credential and OTP endpoints; apiLimiter covers everything else.
func NewRouter(h *Handler, apiLimiter, authLimiter *RateLimiter) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(RateLimitMiddleware(apiLimiter))
	r.Use(func(handler http.Handler) http.Handler {
		return otelhttp.NewHandler(handler, "http_request",
			otelhttp.WithSpanNameFormatter(func(operation string, r *http.Request) string {
				return r.Method + " " + r.URL.Path
			}),
		)
	})
	r.Use(LoggingMiddleware())
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	// Health check
	r.Get("/health", h.HealthCheck)

	// API routes
	r.Route("/api/v1", func(r chi.Router) {
		// Credential endpoints carry the tight limiter
		r.Group(func(r chi.Router) {
			r.Use(RateLimitMiddleware(authLimiter))
			r.Post("/auth/login", h.Login)
			r.Post("/auth/refresh", h.Refresh)
		})

		// Protected routes
		r.Group(func(r chi.Router) {
			r.Use(h.AuthMiddleware)

			r.Get("/auth/me", h.GetCurrentUser)
			r.Post("/auth/change-password", h.ChangePassword)

			// Second-factor lifecycle; code-bearing routes get the
			// tight limiter too
			r.Route("/otp", func(r chi.Router) {
				r.Post("/setup", h.OtpSetup)
				r.With(RateLimitMiddleware(authLimiter)).Post("/activate", h.OtpActivate)
			})

			// Documents
			r.Route("/documents", func(r chi.Router) {
				r.Get("/", h.ListDocuments)
				r.Post("/", h.UploadDocument)
				r.Route("/{documentID}", func(r chi.Router) {
					r.Get("/", h.GetDocument)
					r.Put("/", h.UpdateDocument)
					r.Delete("/", h.DeleteDocument)
					r.Get("/download", h.DownloadDocument)
					r.Post("/archive", h.ArchiveDocument)
					r.Put("/classification", h.ReclassifyDocument)
				})
			})

			// Administration
			r.Route("/users", func(r chi.Router) {
				r.Use(RequireRole(authz.RoleAdmin))
				r.Get("/", h.ListUsers)
				r.Post("/", h.Register)
				r.Post("/{userID}/unlock", h.UnlockUser)
				r.Post("/{userID}/active", h.SetUserActive)
				r.Post("/{userID}/otp/reset", h.OtpReset)
			})
		})
	})

	return r
}

// HealthCheck returns the health status
// @Summary Health Check
// @Description Checks if the service is up and running
// @Tags System
// @Produce json
// @Success 200 {object} map[string]string
// @Router /health [get]
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"service": "securedocs",
	})
}

// RegisterRequest represents registration data
type RegisterRequest struct {
	Email    string `json:"email" binding:"required" example:"user@example.com"`
	FullName string `json:"full_name" example:"Jane Doe"`
	Password string `json:"password" binding:"required" example:"secret123"`
	Role     string `json:"role" example:"standard"`
}

// Register handles user creation by an administrator
// @Summary Create User
// @Description Create a new user account
// @Tags Users
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body RegisterRequest true "Registration Data"
// @Success 201 {object} map[string]any
// @Failure 400 {object} map[string]string
// @Failure 409 {object} map[string]string
// @Router /users [post]
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	role := authz.Role(req.Role)
	if req.Role == "" {
		role = authz.RoleStandard
	}

	user, err := h.identityService.Register(r.Context(), req.Email, req.FullName, req.Password, role)
	if err != nil {
		slog.ErrorContext(r.Context(), "failed to create user",
			logger.Error(err),
			logger.Email(req.Email),
		)

		switch {
		case errors.Is(err, identity.ErrUserAlreadyExists):
			respondError(w, http.StatusConflict, "user already exists")
		case errors.Is(err, identity.ErrInvalidEmail):
			respondError(w, http.StatusBadRequest, "invalid email address")
		case errors.Is(err, identity.ErrWeakPassword):
			respondError(w, http.StatusBadRequest, "password does not meet security requirements")
		default:
			respondError(w, http.StatusBadRequest, "failed to create user")
		}
		return
	}

	respondJSON(w, http.StatusCreated, map[string]any{
		"user_id": user.ID,
		"email":   user.Email,
		"role":    user.Role,
	})
}

// LoginRequest represents login credentials
type LoginRequest struct {
	Email    string `json:"email" binding:"required" example:"user@example.com"`
	Password string `json:"password" binding:"required" example:"secret123"`
}

// Login handles user login
// @Summary Login
// @Description Authenticate user and issue access and refresh tokens
// @Tags Auth
// @Accept json
// @Produce json
// @Param request body LoginRequest true "Credentials"
// @Success 200 {object} map[string]any
// @Failure 401 {object} map[string]string
// @Failure 423 {object} map[string]string
// @Router /auth/login [post]
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	user, err := h.identityService.Authenticate(r.Context(), req.Email, req.Password)
	if err != nil {
		switch {
		case errors.Is(err, identity.ErrAccountLocked):
			respondError(w, http.StatusLocked, "account is locked")
		case errors.Is(err, identity.ErrAccountInactive):
			respondError(w, http.StatusForbidden, "account is inactive")
		default:
			respondError(w, http.StatusUnauthorized, "invalid credentials")
		}
		return
	}

	access, err := h.tokenManager.IssueAccess(user.ID, user.Role)
	if err != nil {
		slog.ErrorContext(r.Context(), "failed to issue access token", logger.Error(err))
		respondError(w, http.StatusInternalServerError, "failed to issue tokens")
		return
	}
	refresh, err := h.tokenManager.IssueRefresh(user.ID, user.Role)
	if err != nil {
		slog.ErrorContext(r.Context(), "failed to issue refresh token", logger.Error(err))
		respondError(w, http.StatusInternalServerError, "failed to issue tokens")
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"access_token":  access,
		"refresh_token": refresh,
		"user_id":       user.ID,
		"email":         user.Email,
		"role":          user.Role,
		"otp_enabled":   user.SecondFactor.Enabled,
	})
}

// RefreshRequest carries a refresh token
type RefreshRequest struct {
	RefreshToken string `json:"refresh_token" binding:"required"`
}

// Refresh exchanges a refresh token for a new access token
// @Summary Refresh Tokens
// @Description Issue a new access token from a valid refresh token
// @Tags Auth
// @Accept json
// @Produce json
// @Param request body RefreshRequest true "Refresh Token"
// @Success 200 {object} map[string]any
// @Failure 401 {object} map[string]string
// @Router /auth/refresh [post]
func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	var req RefreshRequest

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	claims, err := h.tokenManager.ParseRefresh(req.RefreshToken)
	if err != nil {
		respondError(w, http.StatusUnauthorized, "invalid refresh token")
		return
	}

	// Re-read the account: a token issued before a lockout or
	// deactivation must not mint fresh credentials.
	user, err := h.identityService.GetUser(r.Context(), claims.Subject)
	if err != nil {
		respondError(w, http.StatusUnauthorized, "unknown account")
		return
	}
	if !user.Active {
		respondError(w, http.StatusForbidden, "account is inactive")
		return
	}
	if user.Locked {
		respondError(w, http.StatusLocked, "account is locked")
		return
	}

	access, err := h.tokenManager.IssueAccess(user.ID, user.Role)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to issue tokens")
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"access_token": access,
	})
}

// GetCurrentUser returns the current authenticated user identity
// @Summary Get Current User
// @Description Retrieve details of the currently logged-in user
// @Tags Auth
// @Produce json
// @Security BearerAuth
// @Success 200 {object} map[string]any
// @Failure 404 {object} map[string]string
// @Router /auth/me [get]
func (h *Handler) GetCurrentUser(w http.ResponseWriter, r *http.Request) {
	userID := GetUserID(r.Context())

	user, err := h.identityService.GetUser(r.Context(), userID)
	if err != nil {
		respondError(w, http.StatusNotFound, "user not found")
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"user_id":     user.ID,
		"email":       user.Email,
		"full_name":   user.FullName,
		"role":        user.Role,
		"otp_enabled": user.SecondFactor.Enabled,
		"otp_state":   user.SecondFactor.State(),
	})
}

// ChangePasswordRequest represents password change data
type ChangePasswordRequest struct {
	OldPassword string `json:"old_password" binding:"required"`
	NewPassword string `json:"new_password" binding:"required"`
}

// ChangePassword changes the user password
// @Summary Change Password
// @Description Update the password for the current user
// @Tags Auth
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body ChangePasswordRequest true "Password Change Data"
// @Success 200 {object} map[string]string
// @Failure 400 {object} map[string]string
// @Failure 401 {object} map[string]string
// @Router /auth/change-password [post]
func (h *Handler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	userID := GetUserID(r.Context())

	var req ChangePasswordRequest

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	err := h.identityService.ChangePassword(r.Context(), userID, req.OldPassword, req.NewPassword)
	if err != nil {
		switch {
		case errors.Is(err, identity.ErrInvalidCredentials):
			respondError(w, http.StatusUnauthorized, "invalid old password")
		case errors.Is(err, identity.ErrWeakPassword):
			respondError(w, http.StatusBadRequest, "new password does not meet security requirements")
		default:
			respondError(w, http.StatusInternalServerError, "failed to change password")
		}
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{
		"message": "password changed successfully",
	})
}

// ListUsers returns all user accounts
// @Summary List Users
// @Description List all user accounts
// @Tags Users
// @Produce json
// @Security BearerAuth
// @Success 200 {object} map[string]any
// @Router /users [get]
func (h *Handler) ListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.identityService.ListUsers(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list users")
		return
	}

	out := make([]map[string]any, 0, len(users))
	for _, u := range users {
		out = append(out, map[string]any{
			"user_id":         u.ID,
			"email":           u.Email,
			"full_name":       u.FullName,
			"role":            u.Role,
			"active":          u.Active,
			"locked":          u.Locked,
			"failed_attempts": u.FailedAttempts,
			"otp_state":       u.SecondFactor.State(),
		})
	}

	respondJSON(w, http.StatusOK, map[string]any{"users": out})
}

// UnlockUser clears a user's lockout state
// @Summary Unlock User
// @Description Reset the failed-attempt counter and unlock the account
// @Tags Users
// @Produce json
// @Security BearerAuth
// @Param userID path string true "User ID"
// @Success 200 {object} map[string]string
// @Failure 404 {object} map[string]string
// @Router /users/{userID}/unlock [post]
func (h *Handler) UnlockUser(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	if err := h.identityService.Unlock(r.Context(), GetUserID(r.Context()), userID); err != nil {
		if errors.Is(err, identity.ErrUserNotFound) {
			respondError(w, http.StatusNotFound, "user not found")
			return
		}
		respondError(w, http.StatusInternalServerError, "failed to unlock user")
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{
		"message": "account unlocked",
	})
}

// SetActiveRequest toggles account activity
type SetActiveRequest struct {
	Active bool `json:"active"`
}

// SetUserActive activates or deactivates an account
// @Summary Set User Active
// @Description Activate or deactivate a user account
// @Tags Users
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param userID path string true "User ID"
// @Param request body SetActiveRequest true "Active Flag"
// @Success 200 {object} map[string]string
// @Failure 404 {object} map[string]string
// @Router /users/{userID}/active [post]
func (h *Handler) SetUserActive(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	var req SetActiveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := h.identityService.SetActive(r.Context(), userID, req.Active); err != nil {
		if errors.Is(err, identity.ErrUserNotFound) {
			respondError(w, http.StatusNotFound, "user not found")
			return
		}
		respondError(w, http.StatusInternalServerError, "failed to update user")
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{
		"message": "account updated",
	})
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{
		"error": message,
	})
}

func getIPAddress(r *http.Request) string {
	// Check X-Forwarded-For header first
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		return xff
	}
	// Check X-Real-IP header
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	return r.RemoteAddr
}
