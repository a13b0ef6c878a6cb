package httputil

import (
	"errors"
	"net/http"
	"strings"
)

const AuthCookieName = "auth_token"

// GetTokenFromCookie extracts the JWT token from the auth cookie
func GetTokenFromCookie(r *http.Request) (string, error) {
	cookie, err := r.Cookie(AuthCookieName)
	if err != nil {
		return "", errors.New("auth cookie not found")
	}

	if cookie.Value == "" {
		return "", errors.New("auth cookie is empty")
	}

	return cookie.Value, nil
}

// GetTokenFromRequest looks at the auth cookie, then the Authorization
// header, then the token query parameter (browsers cannot set headers on a
// websocket upgrade).
func GetTokenFromRequest(r *http.Request) (string, error) {
	token, err := GetTokenFromCookie(r)
	if err == nil && token != "" {
		return token, nil
	}

	authHeader := r.Header.Get("Authorization")
	if authHeader != "" {
		return strings.TrimPrefix(authHeader, "Bearer "), nil
	}

	if token := r.URL.Query().Get("token"); token != "" {
		return token, nil
	}

	return "", errors.New("no auth token found in cookie, header or query")
}
