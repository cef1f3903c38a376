package user

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/getsentry/sentry-go"

	"finora/internal/auth"
	"finora/internal/media"
	"finora/internal/observability"
)

const (
	minFieldLength   = 3
	maxFieldLength   = 50
	maxJSONBodyBytes = 1 << 20
	avatarField      = "avatar"
)

// Store is the slice of auth.Repository the profile endpoints need.
type Store interface {
	GetByID(ctx context.Context, id string) (auth.Identity, error)
	UpdateProfile(ctx context.Context, userID string, update auth.ProfileUpdate) (auth.Identity, error)
}

type Handler struct {
	store    Store
	uploader media.ImageUploader
	logger   *observability.Logger
}

// NewHandler wires the profile endpoints. A nil uploader disables avatar
// uploads.
func NewHandler(store Store, uploader media.ImageUploader, logger *observability.Logger) *Handler {
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	return &Handler{store: store, uploader: uploader, logger: logger}
}

type profileRequest struct {
	Name     *string `json:"name"`
	Username *string `json:"username"`
}

func (h *Handler) GetProfile(w http.ResponseWriter, r *http.Request) {
	principal, ok := auth.PrincipalFrom(r.Context())
	if !ok {
		auth.WriteError(w, auth.ErrUnauthorized)
		return
	}

	identity, err := h.store.GetByID(r.Context(), principal.ID)
	if err != nil {
		h.fail(w, r, "get_profile_failed", err, "Failed to get user profile")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"data":    map[string]any{"user": identity.Profile()},
	})
}

func (h *Handler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	principal, ok := auth.PrincipalFrom(r.Context())
	if !ok {
		auth.WriteError(w, auth.ErrUnauthorized)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodyBytes)

	var req profileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION_FAILED", "invalid json body")
		return
	}

	update, message := validateProfile(req)
	if message != "" {
		writeError(w, http.StatusBadRequest, "VALIDATION_FAILED", message)
		return
	}

	identity, err := h.store.UpdateProfile(r.Context(), principal.ID, update)
	if err != nil {
		h.fail(w, r, "update_profile_failed", err, "Failed to update profile")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "Profile updated successfully",
		"data":    map[string]any{"user": identity.Profile()},
	})
}

func (h *Handler) UploadAvatar(w http.ResponseWriter, r *http.Request) {
	principal, ok := auth.PrincipalFrom(r.Context())
	if !ok {
		auth.WriteError(w, auth.ErrUnauthorized)
		return
	}

	if h.uploader == nil {
		writeError(w, http.StatusServiceUnavailable, "UPLOADS_DISABLED", "Avatar uploads are not configured")
		return
	}

	source, err := media.ReadImage(w, r, avatarField)
	switch {
	case errors.Is(err, media.ErrImageTooLarge):
		writeError(w, http.StatusRequestEntityTooLarge, "VALIDATION_FAILED", err.Error())
		return
	case err != nil:
		writeError(w, http.StatusBadRequest, "VALIDATION_FAILED", imageMessage(err))
		return
	}

	url, err := h.uploader.UploadImage(r.Context(), principal.ID, source)
	if err != nil {
		h.logger.Error("avatar_upload_failed", map[string]any{
			"user_id":    principal.ID,
			"request_id": observability.RequestIDFrom(r.Context()),
			"error":      err.Error(),
		})
		sentry.CaptureException(err)
		writeError(w, http.StatusBadGateway, "UPLOAD_FAILED", "Failed to upload avatar")
		return
	}

	identity, err := h.store.UpdateProfile(r.Context(), principal.ID, auth.ProfileUpdate{Avatar: &url})
	if err != nil {
		h.fail(w, r, "avatar_save_failed", err, "Failed to update avatar")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "Avatar updated successfully",
		"data":    map[string]any{"user": identity.Profile()},
	})
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, event string, err error, message string) {
	if errors.Is(err, auth.ErrNotFound) {
		auth.WriteError(w, auth.ErrUserNotFound)
		return
	}

	h.logger.Error(event, map[string]any{
		"request_id": observability.RequestIDFrom(r.Context()),
		"error":      err.Error(),
	})
	sentry.CaptureException(err)
	writeError(w, http.StatusInternalServerError, "INTERNAL_FAILURE", message)
}

func validateProfile(req profileRequest) (auth.ProfileUpdate, string) {
	if req.Name == nil && req.Username == nil {
		return auth.ProfileUpdate{}, "Name or username is required"
	}

	var update auth.ProfileUpdate
	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if !validLength(name) {
			return auth.ProfileUpdate{}, "Name must be between 3 and 50 characters"
		}
		update.Name = &name
	}
	if req.Username != nil {
		username := strings.TrimSpace(*req.Username)
		if !validLength(username) {
			return auth.ProfileUpdate{}, "Username must be between 3 and 50 characters"
		}
		update.Username = &username
	}
	return update, ""
}

func validLength(value string) bool {
	n := utf8.RuneCountInString(value)
	return n >= minFieldLength && n <= maxFieldLength
}

func imageMessage(err error) string {
	switch {
	case errors.Is(err, media.ErrImageMissing), errors.Is(err, media.ErrImageEmpty), errors.Is(err, media.ErrNotAnImage):
		return err.Error()
	default:
		return "invalid multipart form"
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]any{"success": false, "code": code, "message": message})
}
