// Package identity provides anonymous per-browser session identity.
package identity

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net/http"
	"regexp"
	"time"

	"github.com/ashureev/shsh-tutor/internal/domain"
)

const (
	// DefaultCookieName is used when no cookie name is configured.
	DefaultCookieName   = "ev3_session"
	sessionCookieMaxAge = 7 * 24 * time.Hour
)

type contextKey int

const sessionIDKey contextKey = iota

var sessionIDPattern = regexp.MustCompile(`^s_[a-f0-9]{8}$`)

// SessionIDFromContext returns the request's session id, or the anonymous
// placeholder when the request carried none.
func SessionIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(sessionIDKey).(string); ok && v != "" {
		return v
	}
	return domain.AnonSessionID
}

// WithSessionID returns a context carrying sessionID.
func WithSessionID(ctx context.Context, sessionID string) context.Context {
	return context.WithValue(ctx, sessionIDKey, sessionID)
}

// NewSessionID mints an id of the form s_<8 hex>.
func NewSessionID() (string, error) {
	buf := make([]byte, 4)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate session id: %w", err)
	}
	return "s_" + hex.EncodeToString(buf), nil
}

// IsValidSessionID reports whether id has the minted format.
func IsValidSessionID(id string) bool {
	return sessionIDPattern.MatchString(id)
}

// Issuer sets and reads the session cookie.
type Issuer struct {
	CookieName string
	Secure     bool
}

// NewIssuer returns an issuer for cookieName. Cookies are marked Secure
// outside development.
func NewIssuer(cookieName string, isDev bool) *Issuer {
	if cookieName == "" {
		cookieName = DefaultCookieName
	}
	return &Issuer{CookieName: cookieName, Secure: !isDev}
}

// Issue mints a fresh session id and sets it as an HttpOnly cookie.
func (i *Issuer) Issue(w http.ResponseWriter) (string, error) {
	id, err := NewSessionID()
	if err != nil {
		return "", err
	}
	http.SetCookie(w, &http.Cookie{
		Name:     i.CookieName,
		Value:    id,
		Path:     "/",
		MaxAge:   int(sessionCookieMaxAge.Seconds()),
		Expires:  time.Now().Add(sessionCookieMaxAge),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   i.Secure,
	})
	return id, nil
}

// FromRequest returns the cookie's session id when present and well formed.
func (i *Issuer) FromRequest(r *http.Request) (string, bool) {
	c, err := r.Cookie(i.CookieName)
	if err != nil || !IsValidSessionID(c.Value) {
		return "", false
	}
	return c.Value, true
}

// Middleware places the cookie's session id, or the anonymous placeholder,
// into the request context. It never issues cookies itself.
func (i *Issuer) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sid, ok := i.FromRequest(r)
		if !ok {
			sid = domain.AnonSessionID
		}
		next.ServeHTTP(w, r.WithContext(WithSessionID(r.Context(), sid)))
	})
}
