package tickets

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	app "github.com/storekit/support-go/cmd/api/app"
	"github.com/storekit/support-go/internal/ticketstore"
)

// adminTicket is the flattened row shape the admin dashboard table
// renders. Statuses use the dashboard vocabulary.
type adminTicket struct {
	ID          int64     `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Status      string    `json:"status"`
	Priority    string    `json:"priority"`
	UserID      *int64    `json:"userId"`
	UserName    string    `json:"userName"`
	UserEmail   string    `json:"userEmail"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// AdminList returns every ticket in the admin dashboard shape.
func AdminList(a *app.App) gin.HandlerFunc {
	return func(c *gin.Context) {
		if relay(a, c, "") {
			return
		}
		ts, err := a.Store.All(c.Request.Context())
		if err != nil {
			app.FailErr(c, http.StatusInternalServerError, "Failed to fetch tickets", err)
			return
		}
		out := make([]adminTicket, 0, len(ts))
		for _, t := range ts {
			out = append(out, adminTicket{
				ID:          t.ID,
				Title:       t.Title,
				Description: t.Description,
				Status:      ticketstore.AdminStatus(t.Status),
				Priority:    t.Priority,
				UserID:      t.CustomerID,
				UserName:    t.CustomerName,
				UserEmail:   t.CustomerEmail,
				CreatedAt:   t.CreatedAt,
				UpdatedAt:   t.UpdatedAt,
			})
		}
		c.JSON(http.StatusOK, gin.H{"success": true, "tickets": out})
	}
}
