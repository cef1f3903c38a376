package auth

import "time"

// Identity is the stored credential record of one registered user.
type Identity struct {
	ID                        string         `json:"id"`
	Name                      string         `json:"name"`
	Username                  string         `json:"username"`
	Email                     string         `json:"email"`
	Avatar                    string         `json:"avatar"`
	PasswordHash              string         `json:"-"`
	IsEmailVerified           bool           `json:"isEmailVerified"`
	VerificationToken         string         `json:"-"`
	VerificationTokenExpires  *time.Time     `json:"-"`
	ResetPasswordToken        string         `json:"-"`
	ResetPasswordTokenExpires *time.Time     `json:"-"`
	RefreshTokens             []RefreshToken `json:"-"`
	LastLogin                 *time.Time     `json:"lastLogin,omitempty"`
	CreatedAt                 time.Time      `json:"createdAt"`
	UpdatedAt                 time.Time      `json:"updatedAt"`
}

// RefreshToken is one live session. Token holds the digest of the issued
// refresh token, never the token itself.
type RefreshToken struct {
	Token     string
	CreatedAt time.Time
	ExpiresAt time.Time
}

// Alive reports whether the entry is still usable at now.
func (t RefreshToken) Alive(now time.Time) bool {
	return now.Before(t.ExpiresAt)
}

// Profile is the public projection of an Identity.
type Profile struct {
	ID              string     `json:"id"`
	Name            string     `json:"name"`
	Username        string     `json:"username"`
	Email           string     `json:"email"`
	Avatar          string     `json:"avatar"`
	IsEmailVerified bool       `json:"isEmailVerified"`
	LastLogin       *time.Time `json:"lastLogin,omitempty"`
	CreatedAt       time.Time  `json:"createdAt"`
	UpdatedAt       time.Time  `json:"updatedAt"`
}

// Profile strips every secret and bookkeeping field.
func (i Identity) Profile() Profile {
	return Profile{
		ID:              i.ID,
		Name:            i.Name,
		Username:        i.Username,
		Email:           i.Email,
		Avatar:          i.Avatar,
		IsEmailVerified: i.IsEmailVerified,
		LastLogin:       i.LastLogin,
		CreatedAt:       i.CreatedAt,
		UpdatedAt:       i.UpdatedAt,
	}
}

// Tokens is an access/refresh pair handed to the client.
type Tokens struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

// LoginResult is what a successful login returns.
type LoginResult struct {
	User   Profile
	Tokens Tokens
}

// SignUpInput is the raw registration form.
type SignUpInput struct {
	Name            string `json:"name"`
	Username        string `json:"username"`
	Email           string `json:"email"`
	Password        string `json:"password"`
	ConfirmPassword string `json:"confirmPassword"`
}

// ProfileUpdate carries optional profile changes; nil fields are left as is.
type ProfileUpdate struct {
	Name     *string
	Username *string
	Avatar   *string
}

// CleanupResult reports what PurgeExpired removed.
type CleanupResult struct {
	DeletedRefreshTokens     int64 `json:"deleted_refresh_tokens"`
	ClearedVerificationToken int64 `json:"cleared_verification_tokens"`
	ClearedResetTokens       int64 `json:"cleared_reset_tokens"`
}
