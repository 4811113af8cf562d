package identity

import (
	"net/http"
	"time"

	"github.com/google/uuid"
)

// Resolver reads and issues the caller-identity cookie. The id lives only in
// the browser; the broker forwards it upstream and never stores it.
type Resolver struct {
	cookieName string
	maxAge     time.Duration
	secure     bool
}

func NewResolver(cookieName string, maxAge time.Duration, secure bool) *Resolver {
	if cookieName == "" {
		cookieName = "chatkit_session_id"
	}
	if maxAge <= 0 {
		maxAge = 30 * 24 * time.Hour
	}
	return &Resolver{cookieName: cookieName, maxAge: maxAge, secure: secure}
}

// Resolve returns the caller id from the request cookie, generating a fresh
// one when the cookie is absent or does not hold a UUID. issued reports
// whether the id is new and must be set on the response.
func (r *Resolver) Resolve(req *http.Request) (id string, issued bool) {
	if c, err := req.Cookie(r.cookieName); err == nil {
		if parsed, err := uuid.Parse(c.Value); err == nil {
			return parsed.String(), false
		}
	}
	return uuid.NewString(), true
}

// Cookie builds the caller-identity cookie with the documented attributes:
// Path=/, 30-day Max-Age, HttpOnly, SameSite=Lax, Secure in production.
func (r *Resolver) Cookie(id string) *http.Cookie {
	return &http.Cookie{
		Name:     r.cookieName,
		Value:    id,
		Path:     "/",
		MaxAge:   int(r.maxAge.Seconds()),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   r.secure,
	}
}

// SetCookie attaches the caller-identity cookie to a response.
func (r *Resolver) SetCookie(w http.ResponseWriter, id string) {
	http.SetCookie(w, r.Cookie(id))
}

// CookieName exposes the configured cookie name for handlers that need it.
func (r *Resolver) CookieName() string {
	return r.cookieName
}
