package tickets

import (
	"net/http"

	"github.com/gin-gonic/gin"

	app "github.com/storekit/support-go/cmd/api/app"
	metricspkg "github.com/storekit/support-go/cmd/api/metrics"
)

// UpdateStatus is the dedicated status mutator used by the admin
// dashboard. It accepts the dashboard vocabulary (in_progress, closed)
// and shares the store's single status path with Update, so lifecycle
// timestamps are stamped the same way regardless of which endpoint
// changed the status.
func UpdateStatus(a *app.App) gin.HandlerFunc {
	return func(c *gin.Context) {
		if relay(a, c, "/"+c.Param("id")+"/status") {
			return
		}
		id, ok := ticketID(c)
		if !ok {
			return
		}
		var in struct {
			Status string `json:"status"`
		}
		if err := c.ShouldBindJSON(&in); err != nil || in.Status == "" {
			app.Fail(c, http.StatusBadRequest, "Status is required")
			return
		}
		t, err := a.Store.UpdateStatus(c.Request.Context(), id, toInternalStatus(in.Status))
		if err != nil {
			app.FailErr(c, http.StatusInternalServerError, "Failed to update status", err)
			return
		}
		if t == nil {
			app.Fail(c, http.StatusNotFound, "Ticket not found")
			return
		}
		metricspkg.TicketsUpdatedTotal.Inc()
		a.Jobs.Email(c.Request.Context(), t.CustomerEmail, "ticket_status", gin.H{"id": t.ID, "title": t.Title, "status": t.Status})
		c.JSON(http.StatusOK, gin.H{"success": true, "ticket": t})
	}
}
