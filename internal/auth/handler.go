package auth

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/getsentry/sentry-go"

	"finora/internal/observability"
)

const maxJSONBodyBytes = 1 << 20

type Handler struct {
	sessions    *SessionService
	credentials *CredentialService
	cookies     CookieWriter
	logger      *observability.Logger
}

func NewHandler(sessions *SessionService, credentials *CredentialService, cookies CookieWriter, logger *observability.Logger) *Handler {
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	return &Handler{sessions: sessions, credentials: credentials, cookies: cookies, logger: logger}
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type emailRequest struct {
	Email string `json:"email"`
}

type tokenRequest struct {
	Token string `json:"token"`
}

type resetPasswordRequest struct {
	Token       string `json:"token"`
	NewPassword string `json:"newPassword"`
}

type changePasswordRequest struct {
	CurrentPassword string `json:"currentPassword"`
	NewPassword     string `json:"newPassword"`
}

type userData struct {
	User Profile `json:"user"`
}

func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var body SignUpInput
	if !h.decode(w, r, &body) {
		return
	}

	profile, err := h.credentials.SignUp(r.Context(), body)
	if err != nil {
		h.fail(w, r, "register", err)
		return
	}

	writeSuccess(w, http.StatusCreated, "Registration Success", userData{User: profile}, nil)
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var body loginRequest
	if !h.decode(w, r, &body) {
		return
	}
	if !validEmail(normalizeEmail(body.Email)) || body.Password == "" {
		h.fail(w, r, "login", invalid("A valid email and password are required"))
		return
	}

	result, err := h.sessions.Login(r.Context(), body.Email, body.Password)
	if err != nil {
		h.fail(w, r, "login", err)
		return
	}

	h.cookies.SetTokens(w, result.Tokens)
	writeSuccess(w, http.StatusOK, "Login Success", userData{User: result.User}, &result.Tokens)
}

// Logout always clears the token cookies, whatever happens to the stored entry.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	principal, _ := PrincipalFrom(r.Context())

	refreshToken := cookieValue(r, RefreshTokenCookie)
	if refreshToken == "" {
		var body refreshRequest
		if !h.decodeOptional(w, r, &body) {
			return
		}
		refreshToken = body.RefreshToken
	}

	err := h.sessions.Logout(r.Context(), principal.ID, refreshToken)
	h.cookies.Clear(w)
	if err != nil {
		h.fail(w, r, "logout", err)
		return
	}

	writeSuccess(w, http.StatusOK, "Logged out successfully", nil, nil)
}

func (h *Handler) RefreshToken(w http.ResponseWriter, r *http.Request) {
	refreshToken := cookieValue(r, RefreshTokenCookie)
	if refreshToken == "" {
		var body refreshRequest
		if !h.decodeOptional(w, r, &body) {
			return
		}
		refreshToken = body.RefreshToken
	}
	if strings.TrimSpace(refreshToken) == "" {
		writeFailure(w, http.StatusUnauthorized, "INVALID_REFRESH_TOKEN", "Refresh token is required")
		return
	}

	tokens, err := h.sessions.Refresh(r.Context(), refreshToken)
	if err != nil {
		h.fail(w, r, "refresh", err)
		return
	}

	h.cookies.SetTokens(w, tokens)
	writeSuccess(w, http.StatusOK, "Token refreshed successfully", nil, &tokens)
}

func (h *Handler) ForgotPassword(w http.ResponseWriter, r *http.Request) {
	var body emailRequest
	if !h.decode(w, r, &body) {
		return
	}

	if err := h.credentials.ForgotPassword(r.Context(), body.Email); err != nil {
		h.fail(w, r, "forgot_password", err)
		return
	}

	writeSuccess(w, http.StatusOK, "Reset password email sent successfully", nil, nil)
}

func (h *Handler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var body resetPasswordRequest
	if !h.decode(w, r, &body) {
		return
	}
	if strings.TrimSpace(body.Token) == "" {
		h.fail(w, r, "reset_password", invalid("Reset token is required"))
		return
	}

	if err := h.credentials.ResetPassword(r.Context(), body.Token, body.NewPassword); err != nil {
		h.fail(w, r, "reset_password", err)
		return
	}

	writeSuccess(w, http.StatusOK, "Password reset successfully", nil, nil)
}

// VerifyEmail accepts the token as a query parameter, which is what the
// emailed link carries, or in a JSON body.
func (h *Handler) VerifyEmail(w http.ResponseWriter, r *http.Request) {
	token := strings.TrimSpace(r.URL.Query().Get("token"))
	if token == "" && r.Method == http.MethodPost {
		var body tokenRequest
		if !h.decodeOptional(w, r, &body) {
			return
		}
		token = strings.TrimSpace(body.Token)
	}
	if token == "" {
		h.fail(w, r, "verify_email", invalid("Verification token is required"))
		return
	}

	profile, err := h.credentials.VerifyEmail(r.Context(), token)
	if err != nil {
		h.fail(w, r, "verify_email", err)
		return
	}

	writeSuccess(w, http.StatusOK, "Email verified successfully", userData{User: profile}, nil)
}

func (h *Handler) ResendVerification(w http.ResponseWriter, r *http.Request) {
	var body emailRequest
	if !h.decode(w, r, &body) {
		return
	}

	if err := h.credentials.ResendVerification(r.Context(), body.Email); err != nil {
		h.fail(w, r, "resend_verification", err)
		return
	}

	writeSuccess(w, http.StatusOK, "Verification email sent successfully", nil, nil)
}

func (h *Handler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	principal, ok := PrincipalFrom(r.Context())
	if !ok {
		WriteError(w, ErrUnauthorized)
		return
	}

	var body changePasswordRequest
	if !h.decode(w, r, &body) {
		return
	}

	err := h.credentials.ChangePassword(r.Context(), principal.ID, body.CurrentPassword, body.NewPassword, cookieValue(r, RefreshTokenCookie))
	if err != nil {
		if errors.Is(err, ErrInvalidCredentials) {
			writeFailure(w, http.StatusUnauthorized, "INVALID_CREDENTIALS", "Current password is incorrect")
			return
		}
		h.fail(w, r, "change_password", err)
		return
	}

	writeSuccess(w, http.StatusOK, "Password changed successfully", nil, nil)
}

// fail reports err to the client. Internal failures are logged, sent to
// Sentry and leave the client logged out.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, event string, err error) {
	if IsInternal(err) {
		h.logger.Error(event+"_failed", map[string]any{
			"request_id": observability.RequestIDFrom(r.Context()),
			"error":      err.Error(),
		})
		sentry.CaptureException(err)
		h.cookies.Clear(w)
	}
	WriteError(w, err)
}

// decode reads a JSON body into dst. Keys dst does not declare are dropped.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodyBytes)

	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeFailure(w, http.StatusBadRequest, "VALIDATION_FAILED", "invalid json body")
		return false
	}
	return true
}

// decodeOptional is decode for endpoints whose body may be empty.
func (h *Handler) decodeOptional(w http.ResponseWriter, r *http.Request, dst any) bool {
	if r.Body == nil || r.Body == http.NoBody {
		return true
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodyBytes)

	if err := json.NewDecoder(r.Body).Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		writeFailure(w, http.StatusBadRequest, "VALIDATION_FAILED", "invalid json body")
		return false
	}
	return true
}
