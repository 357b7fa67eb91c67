package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const ClientCookieName = "multichat_client"
const CookieMaxAge = 30 * 24 * 60 * 60 // 30 days

// ClientKey is the gin context key holding the client id.
const ClientKey = "clientID"

// ClientMiddleware identifies the browser by cookie, issuing a new id when
// there is none or it is malformed.
func ClientMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		cookie, err := c.Cookie(ClientCookieName)
		var clientID uuid.UUID

		if err == nil {
			clientID, err = uuid.Parse(cookie)
		}
		if err != nil {
			clientID = uuid.New()
			c.SetSameSite(http.SameSiteLaxMode)
			c.SetCookie(ClientCookieName, clientID.String(), CookieMaxAge, "/", "", false, true)
		}

		c.Set(ClientKey, clientID.String())
		c.Next()
	}
}
