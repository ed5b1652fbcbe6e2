package handlers

import (
	"strings"

	"github.com/gin-gonic/gin"
)

func writeJSON(c *gin.Context, status int, payload any) {
	if payload == nil {
		c.Status(status)
		return
	}
	c.JSON(status, payload)
}

// writeError aborts the chain so later middleware does not write a second body.
func writeError(c *gin.Context, status int, message string) {
	c.AbortWithStatusJSON(status, gin.H{"error": message})
}

// roundParam returns the round id from the path so publishers and observers
// resolve the same topic.
func roundParam(c *gin.Context) string {
	return strings.TrimSpace(c.Param("id"))
}
