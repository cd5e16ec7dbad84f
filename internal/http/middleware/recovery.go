// README: Panic recovery middleware answering JSON 500s.
package middleware

import (
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
)

func Recovery() gin.HandlerFunc {
	return gin.CustomRecovery(func(c *gin.Context, recovered any) {
		log.Printf("http: panic in %s %s [%s]: %v", c.Request.Method, c.Request.URL.Path, RequestID(c), recovered)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	})
}
