/*
# Module: handlers/auth.go
Admin password login issuing an HS256 session cookie.

## Linked Modules
(None - uses golang-jwt directly)

## Tags
http, auth, admin, jwt

## Exports
AdminAuth, NewAdminAuth, SessionCookieName

<!-- LinkedDoc RDF -->
@prefix code: <https://schema.codedoc.org/> .
<this> a code:Module ;
    code:name "handlers/auth.go" ;
    code:description "Admin password login issuing an HS256 session cookie" ;
    code:exports :AdminAuth, :NewAdminAuth, :SessionCookieName ;
    code:tags "http", "auth", "admin", "jwt" .
<!-- End LinkedDoc RDF -->
*/
package handlers

import (
	"crypto/subtle"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
)

// SessionCookieName holds the admin JWT
const SessionCookieName = "admin_session"

const sessionSubject = "admin"

// AdminAuth checks the admin password and signs session tokens
type AdminAuth struct {
	password string
	secret   []byte
	ttl      time.Duration
	logger   zerolog.Logger

	// FailureDelay slows down password guessing
	FailureDelay time.Duration
	Now          func() time.Time
}

// NewAdminAuth returns an AdminAuth; an empty password disables login
func NewAdminAuth(password, secret string, ttl time.Duration, logger zerolog.Logger) *AdminAuth {
	if ttl <= 0 {
		ttl = 12 * time.Hour
	}
	return &AdminAuth{
		password:     password,
		secret:       []byte(secret),
		ttl:          ttl,
		logger:       logger.With().Str("component", "admin_auth").Logger(),
		FailureDelay: 2 * time.Second,
		Now:          time.Now,
	}
}

// Issue signs a session token valid for the configured ttl
func (a *AdminAuth) Issue() (string, time.Time, error) {
	now := a.Now()
	expires := now.Add(a.ttl)
	claims := jwt.RegisteredClaims{
		Subject:   sessionSubject,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expires),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expires, nil
}

// Valid reports whether r carries an unexpired session cookie
func (a *AdminAuth) Valid(r *http.Request) bool {
	if a == nil || len(a.secret) == 0 {
		return false
	}
	cookie, err := r.Cookie(SessionCookieName)
	if err != nil || cookie.Value == "" {
		return false
	}
	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(cookie.Value, claims, func(t *jwt.Token) (interface{}, error) {
		return a.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(a.Now))
	if err != nil || !token.Valid {
		return false
	}
	return claims.Subject == sessionSubject
}

func (a *AdminAuth) requireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !a.Valid(r) {
			forbidden(w)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// HandleLogin checks the password and sets the session cookie
func (a *AdminAuth) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Password string `json:"password"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}

	if a.password == "" || len(a.secret) == 0 ||
		subtle.ConstantTimeCompare([]byte(req.Password), []byte(a.password)) != 1 {
		a.logger.Warn().Str("ip", getClientIP(r)).Msg("❌ failed admin login")
		time.Sleep(a.FailureDelay)
		forbidden(w)
		return
	}

	token, expires, err := a.Issue()
	if err != nil {
		a.logger.Error().Err(err).Msg("❌ failed to sign session")
		writeMessage(w, http.StatusInternalServerError, "internal error")
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    token,
		Path:     "/",
		Expires:  expires,
		HttpOnly: true,
		Secure:   r.TLS != nil,
		SameSite: http.SameSiteStrictMode,
	})
	a.logger.Info().Str("ip", getClientIP(r)).Msg("✅ admin logged in")
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":     "ok",
		"expires_at": expires.UTC(),
	})
}

// HandleLogout clears the session cookie
func (a *AdminAuth) HandleLogout(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
	})
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
