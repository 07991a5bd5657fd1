package http

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/gin-gonic/gin"
)

const (
	transactionCookie     = "gk_oauth_txn"
	transactionCookiePath = "/auth/oauth"
)

// sessionToken extracts the session token from the Authorization header or,
// failing that, the session cookie. bearer reports which one was used.
func sessionToken(c *gin.Context, cookieName string) (token string, bearer bool) {
	if auth := c.GetHeader("Authorization"); auth != "" {
		if len(auth) > 7 && strings.EqualFold(auth[:7], "Bearer ") {
			return strings.TrimSpace(auth[7:]), true
		}
		return "", true
	}
	if cookie, err := c.Cookie(cookieName); err == nil {
		return cookie, false
	}
	return "", false
}

func (h *AuthHandlers) setTransactionCookie(c *gin.Context, id string, maxAge int) {
	cookie := h.authService.Config().Cookie
	http.SetCookie(c.Writer, &http.Cookie{
		Name:     transactionCookie,
		Value:    id,
		Path:     transactionCookiePath,
		Domain:   cookie.Domain,
		MaxAge:   maxAge,
		Secure:   cookie.Secure,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

func (h *AuthHandlers) clearTransactionCookie(c *gin.Context) {
	h.setTransactionCookie(c, "", -1)
}

// withQuery appends key=value to a possibly relative URL
func withQuery(target, key, value string) string {
	u, err := url.Parse(target)
	if err != nil {
		return target
	}
	q := u.Query()
	q.Set(key, value)
	u.RawQuery = q.Encode()
	return u.String()
}
