package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func cookiesByName(rec *httptest.ResponseRecorder) map[string]*http.Cookie {
	out := make(map[string]*http.Cookie)
	for _, c := range rec.Result().Cookies() {
		out[c.Name] = c
	}
	return out
}

func TestCookieWriterDevelopment(t *testing.T) {
	rec := httptest.NewRecorder()
	NewCookieWriter(false, 15*time.Minute, 7*24*time.Hour).SetTokens(rec, Tokens{AccessToken: "a", RefreshToken: "r"})

	cookies := cookiesByName(rec)
	require.Contains(t, cookies, AccessTokenCookie)
	require.Contains(t, cookies, RefreshTokenCookie)

	access := cookies[AccessTokenCookie]
	assert.Equal(t, "a", access.Value)
	assert.Equal(t, "/", access.Path)
	assert.True(t, access.HttpOnly)
	assert.False(t, access.Secure)
	assert.Equal(t, http.SameSiteLaxMode, access.SameSite)
	assert.Equal(t, 900, access.MaxAge)

	assert.Equal(t, 604800, cookies[RefreshTokenCookie].MaxAge)
}

func TestCookieWriterProduction(t *testing.T) {
	rec := httptest.NewRecorder()
	NewCookieWriter(true, 0, 0).SetTokens(rec, Tokens{AccessToken: "a", RefreshToken: "r"})

	for _, c := range cookiesByName(rec) {
		assert.True(t, c.Secure, c.Name)
		assert.True(t, c.HttpOnly, c.Name)
		assert.Equal(t, http.SameSiteNoneMode, c.SameSite, c.Name)
	}
}

func TestCookieWriterClearMatchesAttributes(t *testing.T) {
	rec := httptest.NewRecorder()
	NewCookieWriter(true, 0, 0).Clear(rec)

	cookies := cookiesByName(rec)
	require.Len(t, cookies, 2)
	for _, c := range cookies {
		assert.Empty(t, c.Value)
		assert.Negative(t, c.MaxAge)
		assert.Equal(t, "/", c.Path)
		assert.True(t, c.Secure)
		assert.Equal(t, http.SameSiteNoneMode, c.SameSite)
	}
}
