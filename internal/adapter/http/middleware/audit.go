package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// OperatorAudit writes one audit line per successful operator decision
// (approve, reject, recharge, rate change), keyed by the acting operator.
func OperatorAudit(log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		status := c.Writer.Status()
		if status < 200 || status >= 300 || c.Request.Method == http.MethodGet {
			return
		}
		action, resource := auditAction(c.FullPath())
		if action == "" {
			return
		}

		log.Info().
			Str("audit", action).
			Str("resource", resource).
			Str("resource_id", c.Param("id")).
			Str("operator", c.GetString(CtxUserID)).
			Str("request_id", c.GetString(CtxRequestID)).
			Str("client_ip", c.ClientIP()).
			Msg("operator action")
	}
}

// auditAction maps a route template like /api/v1/withdrawals/:id/approve
// to ("approve", "withdrawal").
func auditAction(route string) (string, string) {
	parts := strings.Split(strings.Trim(route, "/"), "/")
	if len(parts) < 3 {
		return "", ""
	}
	last := parts[len(parts)-1]
	switch {
	case last == "approve" || last == "reject":
		return last, strings.TrimSuffix(parts[2], "s")
	case route == "/api/v1/treasury/rate":
		return "update_rate", "treasury"
	case route == "/api/v1/recharges":
		return "recharge", "wallet"
	}
	return "", ""
}
