// Package tickets serves the support-ticket HTTP surface. Every handler
// has two paths: when an upstream API base is configured the request is
// relayed verbatim through internal/proxy, otherwise it runs against the
// local ticket store.
package tickets

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	app "github.com/storekit/support-go/cmd/api/app"
	metricspkg "github.com/storekit/support-go/cmd/api/metrics"
	userspkg "github.com/storekit/support-go/cmd/api/users"
	"github.com/storekit/support-go/internal/ticketstore"
)

// relay forwards the request upstream when proxy mode is on. Returns
// true when the request was handled (including upstream failures).
func relay(a *app.App, c *gin.Context, suffix string) bool {
	if a.Upstream == nil {
		return false
	}
	metricspkg.ProxiedRequestsTotal.Inc()
	if err := a.Upstream.Relay(c, "/api/tickets"+suffix); err != nil {
		app.FailErr(c, http.StatusInternalServerError, "upstream request failed", err)
	}
	return true
}

func ticketID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		app.Fail(c, http.StatusBadRequest, "Invalid ticket ID")
		return 0, false
	}
	return id, true
}

// List returns tickets scoped to the caller: admins see everything,
// customers only their own, and with no identifier at all the list is
// empty rather than an error.
func List(a *app.App) gin.HandlerFunc {
	return func(c *gin.Context) {
		if relay(a, c, "") {
			return
		}
		ctx := c.Request.Context()
		var (
			out []ticketstore.Ticket
			err error
		)
		switch {
		case c.Query("isAdmin") == "true":
			out, err = a.Store.All(ctx)
		case c.Query("customerEmail") != "":
			out, err = a.Store.ByCustomerEmail(ctx, c.Query("customerEmail"))
		case c.Query("customerId") != "":
			var id int64
			if id, err = strconv.ParseInt(c.Query("customerId"), 10, 64); err != nil {
				app.Fail(c, http.StatusBadRequest, "Invalid customer ID")
				return
			}
			out, err = a.Store.ByCustomerID(ctx, id)
		default:
			out = []ticketstore.Ticket{}
		}
		if err != nil {
			app.FailErr(c, http.StatusInternalServerError, "Failed to fetch tickets", err)
			return
		}
		c.JSON(http.StatusOK, out)
	}
}

type createReq struct {
	Title         string `json:"title" binding:"required"`
	Description   string `json:"description" binding:"required"`
	CustomerEmail string `json:"customerEmail" binding:"required,email"`
	CustomerID    *int64 `json:"customerId" binding:"required"`
	CustomerName  string `json:"customerName"`
	Category      string `json:"category"`
	Priority      string `json:"priority"`
}

// Create opens a new ticket. The submitting customer's identity is
// denormalized onto the row; a missing display name is resolved from the
// users table.
func Create(a *app.App) gin.HandlerFunc {
	return func(c *gin.Context) {
		if relay(a, c, "") {
			return
		}
		var in createReq
		if err := c.ShouldBindJSON(&in); err != nil {
			if _, ok := err.(validator.ValidationErrors); ok {
				app.Fail(c, http.StatusBadRequest, "Missing required fields")
				return
			}
			app.Fail(c, http.StatusBadRequest, "Invalid request body")
			return
		}
		ctx := c.Request.Context()
		name := in.CustomerName
		if name == "" {
			name = userspkg.LookupNameByEmail(ctx, a.DB, in.CustomerEmail)
		}
		t, err := a.Store.Create(ctx, ticketstore.NewTicket{
			Title:         in.Title,
			Description:   in.Description,
			Category:      in.Category,
			Priority:      in.Priority,
			CustomerEmail: in.CustomerEmail,
			CustomerName:  name,
			CustomerID:    in.CustomerID,
		})
		if err == ticketstore.ErrCustomerIDRequired {
			app.Fail(c, http.StatusBadRequest, "Missing required fields")
			return
		}
		if err != nil {
			app.FailErr(c, http.StatusInternalServerError, "Failed to create ticket", err)
			return
		}
		metricspkg.TicketsCreatedTotal.Inc()
		a.Jobs.Email(ctx, t.CustomerEmail, "ticket_created", gin.H{"id": t.ID, "title": t.Title})
		c.JSON(http.StatusOK, gin.H{"success": true, "ticket": t})
	}
}

// Get returns a single ticket.
func Get(a *app.App) gin.HandlerFunc {
	return func(c *gin.Context) {
		if relay(a, c, "/"+c.Param("id")) {
			return
		}
		id, ok := ticketID(c)
		if !ok {
			return
		}
		t, err := a.Store.ByID(c.Request.Context(), id)
		if err != nil {
			app.FailErr(c, http.StatusInternalServerError, "Failed to fetch ticket", err)
			return
		}
		if t == nil {
			app.Fail(c, http.StatusNotFound, "Ticket not found")
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true, "ticket": t})
	}
}

type updateReq struct {
	Title       *string `json:"title"`
	Description *string `json:"description"`
	Category    *string `json:"category"`
	Priority    *string `json:"priority"`
	Status      *string `json:"status"`
}

// Update applies a partial update. PUT is an alias for PATCH.
func Update(a *app.App) gin.HandlerFunc {
	return func(c *gin.Context) {
		if relay(a, c, "/"+c.Param("id")) {
			return
		}
		id, ok := ticketID(c)
		if !ok {
			return
		}
		var in updateReq
		if err := c.ShouldBindJSON(&in); err != nil {
			app.Fail(c, http.StatusBadRequest, "Invalid request body")
			return
		}
		if in.Status != nil {
			s := toInternalStatus(*in.Status)
			in.Status = &s
		}
		t, err := a.Store.Update(c.Request.Context(), id, ticketstore.TicketUpdate{
			Title:       in.Title,
			Description: in.Description,
			Category:    in.Category,
			Priority:    in.Priority,
			Status:      in.Status,
		})
		if err != nil {
			app.FailErr(c, http.StatusInternalServerError, "Failed to update ticket", err)
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

// Delete removes a ticket and its message thread.
func Delete(a *app.App) gin.HandlerFunc {
	return func(c *gin.Context) {
		if relay(a, c, "/"+c.Param("id")) {
			return
		}
		id, ok := ticketID(c)
		if !ok {
			return
		}
		removed, err := a.Store.Delete(c.Request.Context(), id)
		if err != nil {
			app.FailErr(c, http.StatusInternalServerError, "Failed to delete ticket", err)
			return
		}
		if !removed {
			app.Fail(c, http.StatusNotFound, "Ticket not found")
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true, "message": "Ticket " + strconv.FormatInt(id, 10) + " deleted"})
	}
}

// toInternalStatus maps the dashboard's status vocabulary onto stored
// values: in_progress becomes in-progress; everything else passes
// through unvalidated.
func toInternalStatus(s string) string {
	switch strings.TrimSpace(s) {
	case "in_progress":
		return ticketstore.StatusInProgress
	case "":
		return ticketstore.StatusOpen
	}
	return s
}
