package auth

import (
	"net/http"
	"time"
)

const (
	AccessTokenCookie  = "accessToken"
	RefreshTokenCookie = "refreshToken"
)

// CookieWriter sets and clears the token cookies. Clearing reuses the exact
// attributes used for setting, otherwise browsers keep the old cookie.
type CookieWriter struct {
	production bool
	accessTTL  time.Duration
	refreshTTL time.Duration
}

func NewCookieWriter(production bool, accessTTL, refreshTTL time.Duration) CookieWriter {
	if accessTTL <= 0 {
		accessTTL = DefaultAccessTTL
	}
	if refreshTTL <= 0 {
		refreshTTL = DefaultRefreshTTL
	}
	return CookieWriter{production: production, accessTTL: accessTTL, refreshTTL: refreshTTL}
}

func (c CookieWriter) SetTokens(w http.ResponseWriter, tokens Tokens) {
	http.SetCookie(w, c.cookie(AccessTokenCookie, tokens.AccessToken, int(c.accessTTL.Seconds())))
	http.SetCookie(w, c.cookie(RefreshTokenCookie, tokens.RefreshToken, int(c.refreshTTL.Seconds())))
}

func (c CookieWriter) Clear(w http.ResponseWriter) {
	http.SetCookie(w, c.cookie(AccessTokenCookie, "", -1))
	http.SetCookie(w, c.cookie(RefreshTokenCookie, "", -1))
}

func (c CookieWriter) cookie(name, value string, maxAge int) *http.Cookie {
	cookie := &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   c.production,
		SameSite: http.SameSiteLaxMode,
	}
	if c.production {
		cookie.SameSite = http.SameSiteNoneMode
	}
	if maxAge < 0 {
		cookie.Expires = time.Unix(0, 0)
	}
	return cookie
}

func cookieValue(r *http.Request, name string) string {
	cookie, err := r.Cookie(name)
	if err != nil {
		return ""
	}
	return cookie.Value
}
