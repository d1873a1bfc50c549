package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// corsHandler sets the CORS response headers on every request and answers
// OPTIONS preflights directly, ahead of the authentication pipeline (a
// preflight carries no credentials). allowCookies additionally permits
// credentialed cross-origin requests.
func corsHandler(allowCookies bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Headers", "Authorization,Content-Type,Accept")
		c.Header("Access-Control-Allow-Methods", "GET,POST,PUT,PATCH,DELETE")
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Max-Age", "2592000")
		if allowCookies {
			c.Header("Access-Control-Allow-Credentials", "true")
		}

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusOK)
			return
		}
		c.Next()
	}
}
