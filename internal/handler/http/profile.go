package http

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/AdityaNittala03/gonews-auth/internal/service"
	"github.com/AdityaNittala03/gonews-auth/pkg/middleware"
	"github.com/AdityaNittala03/gonews-auth/pkg/validator"
)

// ProfileHandler handles HTTP requests for the profile endpoints.
type ProfileHandler struct {
	service *service.AuthService
	logger  *slog.Logger
}

// NewProfileHandler creates a new profile HTTP handler.
func NewProfileHandler(svc *service.AuthService, logger *slog.Logger) *ProfileHandler {
	return &ProfileHandler{service: svc, logger: logger}
}

// UpdateProfileRequest is the JSON request body for updating the profile.
type UpdateProfileRequest struct {
	Name        *string           `json:"name" validate:"omitempty,min=1,max=100"`
	Phone       *string           `json:"phone" validate:"omitempty,max=20"`
	Preferences map[string]string `json:"preferences"`
}

// GetProfile handles GET /users/me
func (h *ProfileHandler) GetProfile(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserIDFromContext(r.Context())
	if userID == "" {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "user not authenticated")
		return
	}

	user, err := h.service.GetProfile(r.Context(), userID)
	if err != nil {
		writeAppError(w, r, err, h.logger)
		return
	}

	writeSuccess(w, http.StatusOK, "profile retrieved", user)
}

// UpdateProfile handles PUT /users/me
func (h *ProfileHandler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20) // 1MB limit

	userID := middleware.UserIDFromContext(r.Context())
	if userID == "" {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "user not authenticated")
		return
	}

	var req UpdateProfileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION", "invalid request body: "+err.Error())
		return
	}

	if err := validator.Validate(req); err != nil {
		writeValidationError(w, err)
		return
	}

	input := service.UpdateProfileInput{
		Name:        req.Name,
		Phone:       req.Phone,
		Preferences: req.Preferences,
	}

	user, err := h.service.UpdateProfile(r.Context(), userID, input)
	if err != nil {
		writeAppError(w, r, err, h.logger)
		return
	}

	writeSuccess(w, http.StatusOK, "profile updated", user)
}
