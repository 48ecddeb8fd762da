// Package tracking identifies visitors and publishes impression and click
// events for the articles they are shown.
package tracking

import (
	"net/http"

	"github.com/google/uuid"
)

// CookieName is the cookie holding the visitor id.
const CookieName = "user_id"

// UserID returns the visitor id from the request cookie. When there is none,
// a new UUID is minted and set on w; requests that carry the cookie never get
// a Set-Cookie back.
func UserID(w http.ResponseWriter, r *http.Request) string {
	if c, err := r.Cookie(CookieName); err == nil && c.Value != "" {
		return c.Value
	}
	id := uuid.NewString()
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    id,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	return id
}
