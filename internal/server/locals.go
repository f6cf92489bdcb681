package server

import (
	"github.com/gin-gonic/gin"

	"github.com/parlance-app/backend/internal/airtable"
)

const localsKey = "server.locals"

// Locals are the application-scoped values visible to every handler.
type Locals struct {
	Env       map[string]string
	Secondary *airtable.Client
}

func (s *Server) locals(c *gin.Context) {
	c.Set(localsKey, Locals{Env: s.env, Secondary: s.secondary})
	c.Next()
}

// LocalsFrom returns the application-scoped values for a request. The
// environment map is shared and must not be modified.
func LocalsFrom(c *gin.Context) Locals {
	if v, ok := c.Get(localsKey); ok {
		if l, ok := v.(Locals); ok {
			return l
		}
	}
	return Locals{}
}
