package mw

import (
	"strings"

	"github.com/gin-gonic/gin"
)

const actorKey = "actor"

// Actor copies the caller identity from a trusted request header into the
// context. Authentication happens in front of this service.
func Actor(header string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if v := strings.TrimSpace(c.GetHeader(header)); v != "" {
			c.Set(actorKey, v)
		}
		c.Next()
	}
}

// ActorOf returns the identity set by Actor, or "" when the header was absent.
func ActorOf(c *gin.Context) string {
	return c.GetString(actorKey)
}
