package server

import (
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/reservebill/internal/auditcontext"
	"github.com/smallbiznis/reservebill/pkg/tenantctx"
)

const (
	HeaderTenant = "X-Tenant-ID"
	HeaderActor  = "X-Actor-ID"

	actorTypeUser = "user"
)

// TenantContext resolves the tenant from the X-Tenant-ID header. Requests
// without a valid tenant id are rejected before reaching a handler.
func TenantContext() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := strings.TrimSpace(c.GetHeader(HeaderTenant))
		tenantID, err := snowflake.ParseString(raw)
		if raw == "" || err != nil || tenantID == 0 {
			AbortWithError(c, newValidationError("tenant", "invalid_tenant", "missing or invalid "+HeaderTenant+" header"))
			return
		}

		ctx := tenantctx.WithTenantID(c.Request.Context(), tenantID)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// ActorContext records the calling staff member for the audit trail.
func ActorContext() gin.HandlerFunc {
	return func(c *gin.Context) {
		if actorID := strings.TrimSpace(c.GetHeader(HeaderActor)); actorID != "" {
			ctx := auditcontext.WithActor(c.Request.Context(), actorTypeUser, actorID)
			c.Request = c.Request.WithContext(ctx)
		}
		c.Next()
	}
}

func actorID(c *gin.Context) string {
	_, id := auditcontext.ActorFromContext(c.Request.Context())
	return id
}
