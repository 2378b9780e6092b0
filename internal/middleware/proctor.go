package middleware

import (
	"crypto/subtle"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/stemsi/exstem-assess/internal/response"
)

// RequireProctorToken guards proctor endpoints with a shared static token,
// sent as a bearer header or ?token= for EventSource clients that cannot set headers.
// An empty configured token disables the proctor surface entirely.
func RequireProctorToken(token string) gin.HandlerFunc {
	expected := []byte(token)
	return func(c *gin.Context) {
		if len(expected) == 0 {
			response.AbortFail(c, http.StatusServiceUnavailable, response.ErrNotConfigured)
			return
		}

		got := bearerToken(c)
		if got == "" {
			got = c.Query("token")
		}
		if got == "" {
			response.AbortFail(c, http.StatusUnauthorized, response.ErrTokenRequired)
			return
		}
		if subtle.ConstantTimeCompare([]byte(got), expected) != 1 {
			response.AbortFail(c, http.StatusForbidden, response.ErrForbidden)
			return
		}

		c.Next()
	}
}
