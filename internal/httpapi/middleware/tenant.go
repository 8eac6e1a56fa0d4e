package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/dentora/orderchat/internal/common"
)

const TenantKey = "tenant_id"

// TenantRequired pins every chat request to a deployment/brand context.
func TenantRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		tenant := c.GetHeader("X-Tenant-ID")
		if tenant == "" {
			common.Fail(c, http.StatusBadRequest, 10010, "tenant header required")
			c.Abort()
			return
		}
		c.Set(TenantKey, tenant)
		c.Next()
	}
}
