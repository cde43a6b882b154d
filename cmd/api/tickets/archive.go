package tickets

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	app "github.com/storekit/support-go/cmd/api/app"
	metricspkg "github.com/storekit/support-go/cmd/api/metrics"
)

// Archive marks a ticket archived. Unlike the other proxied routes,
// archive falls back to local storage when the upstream is unreachable:
// the dashboard treats archival as must-not-fail housekeeping.
func Archive(a *app.App) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := ticketID(c)
		if !ok {
			return
		}
		if a.Upstream != nil {
			metricspkg.ProxiedRequestsTotal.Inc()
			err := a.Upstream.Relay(c, "/api/tickets/"+c.Param("id")+"/archive")
			if err == nil {
				return
			}
			log.Ctx(c.Request.Context()).Warn().Err(err).Int64("ticket", id).
				Msg("archive upstream failed, using local storage")
		}
		t, err := a.Store.Archive(c.Request.Context(), id)
		if err != nil {
			app.FailErr(c, http.StatusInternalServerError, "Failed to archive ticket", err)
			return
		}
		if t == nil {
			app.Fail(c, http.StatusNotFound, "Ticket not found")
			return
		}
		metricspkg.TicketsUpdatedTotal.Inc()
		c.JSON(http.StatusOK, gin.H{"success": true, "ticket": t})
	}
}
