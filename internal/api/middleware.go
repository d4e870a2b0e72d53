package api

import (
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

// Actor identity is asserted by the gateway in front of the service.
const (
	HeaderActorID   = "X-Actor-ID"
	HeaderActorRole = "X-Actor-Role"
)

type Role string

const (
	RoleAdmin      Role = "admin"
	RoleManager    Role = "manager"
	RoleDispatcher Role = "dispatcher"
)

// Actor is the caller of a request.
type Actor struct {
	ID   string
	Role Role
}

const actorKey = "greencart_actor"

// actor rejects requests without an actor id and stores the Actor in the context.
func actor() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := strings.TrimSpace(c.GetHeader(HeaderActorID))
		if id == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"message": "Authentication required."})
			return
		}
		role := Role(strings.ToLower(strings.TrimSpace(c.GetHeader(HeaderActorRole))))
		c.Set(actorKey, Actor{ID: id, Role: role})
		c.Next()
	}
}

// actorFrom returns the Actor stored by the actor middleware.
func actorFrom(c *gin.Context) (Actor, bool) {
	v, ok := c.Get(actorKey)
	if !ok {
		return Actor{}, false
	}
	a, ok := v.(Actor)
	return a, ok
}

func requireRole(roles ...Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		a, ok := actorFrom(c)
		if !ok || !slices.Contains(roles, a.Role) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"message": "Access denied."})
			return
		}
		c.Next()
	}
}

// requestLogger logs one line per request.
func requestLogger(log *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		status := c.Writer.Status()
		attrs := []any{
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", status,
			"duration", time.Since(start),
		}
		if a, ok := actorFrom(c); ok {
			attrs = append(attrs, "actor", a.ID)
		}
		switch {
		case status >= 500:
			log.Error("request", attrs...)
		case status >= 400:
			log.Warn("request", attrs...)
		default:
			log.Debug("request", attrs...)
		}
	}
}
