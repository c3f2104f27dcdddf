package middleware

import (
	"github.com/gin-gonic/gin"

	appctx "stocklot/internal/core/context"
)

const HeaderActor = "X-Actor"

// Actor middleware propagates the acting user identity from the X-Actor
// header into the request context. Mutations stamp it into received_by and
// created_by fields; an empty value is allowed.
func Actor() gin.HandlerFunc {
	return func(c *gin.Context) {
		if actor := c.GetHeader(HeaderActor); actor != "" {
			ctx := appctx.WithActor(c.Request.Context(), actor)
			c.Request = c.Request.WithContext(ctx)
			c.Set("actor", actor)
		}
		c.Next()
	}
}
