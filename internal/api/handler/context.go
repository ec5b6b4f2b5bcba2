package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/gettalent/scheduler-service/internal/auth"
	"github.com/gettalent/scheduler-service/internal/scheduler"
)

const identityContextKey = "auth_identity"

// SetIdentity stores the authenticated identity on the request context;
// called by the auth middleware.
func SetIdentity(c *gin.Context, id auth.Identity) {
	c.Set(identityContextKey, id)
}

// RequesterFrom returns the caller's identity as a scheduler requester.
func RequesterFrom(c *gin.Context) scheduler.Requester {
	v, ok := c.Get(identityContextKey)
	if !ok {
		return scheduler.Requester{}
	}
	id, ok := v.(auth.Identity)
	if !ok {
		return scheduler.Requester{}
	}
	return scheduler.Requester{UserID: id.UserID, System: id.System}
}
