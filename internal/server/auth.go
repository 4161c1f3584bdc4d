package server

import (
	"crypto/subtle"
	"strings"

	"github.com/gin-gonic/gin"
)

// AdminKeyRequired accepts "Authorization: Bearer <key>" or an Apikey header
// matching ADMIN_API_KEY.
func (s *Server) AdminKeyRequired() gin.HandlerFunc {
	expected := []byte(s.cfg.AdminAPIKey)
	return func(c *gin.Context) {
		key := strings.TrimSpace(c.GetHeader("Apikey"))
		if header := strings.TrimSpace(c.GetHeader("Authorization")); header != "" {
			parts := strings.Fields(header)
			if len(parts) != 2 || parts[0] != "Bearer" {
				AbortWithError(c, ErrUnauthorized)
				return
			}
			key = parts[1]
		}
		if key == "" || subtle.ConstantTimeCompare([]byte(key), expected) != 1 {
			AbortWithError(c, ErrUnauthorized)
			return
		}
		c.Next()
	}
}
