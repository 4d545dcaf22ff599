package middleware

import (
	"fmt"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
)

// AuditRecorder stores audited API calls.
type AuditRecorder interface {
	LogAPIRequest(instance, actor, action string, status int, clientIP string) error
}

// Audit records every state-changing request after it is handled. Reads
// are not audited.
func Audit(recorder AuditRecorder) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if recorder == nil || c.Request.Method == http.MethodGet || c.Request.Method == http.MethodOptions {
			return
		}

		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		action := fmt.Sprintf("%s %s", c.Request.Method, path)

		if err := recorder.LogAPIRequest(c.Param("name"), Subject(c), action, c.Writer.Status(), c.ClientIP()); err != nil {
			log.Printf("[API] Failed to audit %s: %v", action, err)
		}
	}
}
