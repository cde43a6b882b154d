package tickets

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/microcosm-cc/bluemonday"

	app "github.com/storekit/support-go/cmd/api/app"
	metricspkg "github.com/storekit/support-go/cmd/api/metrics"
	"github.com/storekit/support-go/internal/ticketstore"
)

// sanitizer strips markup from message bodies before storage. Strict
// policy: ticket threads are plain text.
var sanitizer = bluemonday.StrictPolicy()

// messageView is the thread shape the dashboard consumes.
type messageView struct {
	ID          int64            `json:"id"`
	TicketID    int64            `json:"ticketId"`
	Content     string           `json:"content"`
	IsAdmin     bool             `json:"isAdmin"`
	AuthorName  string           `json:"authorName"`
	CreatedAt   time.Time        `json:"createdAt"`
	Attachments []attachmentMeta `json:"attachments"`
}

type attachmentMeta struct {
	Name string `json:"name"`
	Type string `json:"type"`
	Size int64  `json:"size"`
}

func toMessageView(m ticketstore.Message) messageView {
	v := messageView{
		ID:          m.ID,
		TicketID:    m.TicketID,
		Content:     m.Message,
		IsAdmin:     !m.IsFromCustomer,
		AuthorName:  m.SenderName,
		CreatedAt:   m.CreatedAt,
		Attachments: []attachmentMeta{},
	}
	if len(m.Attachments) > 0 {
		// Stored metadata that fails to decode is dropped, not fatal.
		_ = json.Unmarshal(m.Attachments, &v.Attachments)
	}
	return v
}

// Messages returns a ticket's thread, oldest first.
func Messages(a *app.App) gin.HandlerFunc {
	return func(c *gin.Context) {
		if relay(a, c, "/"+c.Param("id")+"/messages") {
			return
		}
		id, ok := ticketID(c)
		if !ok {
			return
		}
		msgs, err := a.Store.Messages(c.Request.Context(), id)
		if err != nil {
			app.FailErr(c, http.StatusInternalServerError, "Failed to fetch messages", err)
			return
		}
		out := make([]messageView, 0, len(msgs))
		for _, m := range msgs {
			out = append(out, toMessageView(m))
		}
		c.JSON(http.StatusOK, out)
	}
}

type messageReq struct {
	Content       string `json:"content"`
	Message       string `json:"message"`
	CustomerEmail string `json:"customerEmail"`
	CustomerName  string `json:"customerName"`
	IsAdmin       bool   `json:"isAdmin"`
}

// AddMessage appends to a ticket's thread. Accepts JSON or multipart
// form data; multipart file parts named attachment_* contribute metadata
// only, the bytes themselves are never persisted. A submission with
// files and no text stores a placeholder body. A missing ticket is
// reported inside a 200 envelope so the dashboard's optimistic send can
// show the failure inline.
func AddMessage(a *app.App) gin.HandlerFunc {
	return func(c *gin.Context) {
		if relay(a, c, "/"+c.Param("id")+"/messages") {
			return
		}
		id, ok := ticketID(c)
		if !ok {
			return
		}
		in, atts, ok := bindMessage(c)
		if !ok {
			return
		}
		content := strings.TrimSpace(sanitizer.Sanitize(firstNonEmpty(in.Content, in.Message)))
		if content == "" && len(atts) == 0 {
			app.Fail(c, http.StatusBadRequest, "Message content is required")
			return
		}
		if content == "" {
			content = ticketstore.AttachmentPlaceholder
		}

		ctx := c.Request.Context()
		t, err := a.Store.ByID(ctx, id)
		if err != nil {
			app.FailErr(c, http.StatusInternalServerError, "Failed to add message", err)
			return
		}
		if t == nil {
			c.JSON(http.StatusOK, gin.H{"success": false, "message": "Ticket not found"})
			return
		}

		sender := in.CustomerName
		if sender == "" {
			if in.IsAdmin {
				sender = "Admin"
			} else {
				sender = t.CustomerName
			}
		}
		var attJSON json.RawMessage
		if len(atts) > 0 {
			attJSON, _ = json.Marshal(atts)
		}
		m, err := a.Store.AddMessage(ctx, ticketstore.NewMessage{
			TicketID:       id,
			Message:        content,
			IsFromCustomer: !in.IsAdmin,
			SenderName:     sender,
			SenderEmail:    in.CustomerEmail,
			Attachments:    attJSON,
		})
		if err != nil {
			app.FailErr(c, http.StatusInternalServerError, "Failed to add message", err)
			return
		}
		metricspkg.TicketMessagesTotal.Inc()
		if in.IsAdmin && t.CustomerEmail != "" {
			a.Jobs.Email(ctx, t.CustomerEmail, "ticket_reply", gin.H{"id": t.ID, "title": t.Title})
		}
		c.JSON(http.StatusOK, gin.H{"success": true, "message": toMessageView(*m)})
	}
}

// bindMessage decodes either a JSON body or a multipart form into a
// messageReq plus attachment metadata.
func bindMessage(c *gin.Context) (messageReq, []attachmentMeta, bool) {
	var in messageReq
	ct := c.ContentType()
	if !strings.HasPrefix(ct, "multipart/form-data") {
		if err := c.ShouldBindJSON(&in); err != nil {
			app.Fail(c, http.StatusBadRequest, "Invalid request body")
			return in, nil, false
		}
		return in, nil, true
	}
	form, err := c.MultipartForm()
	if err != nil {
		app.Fail(c, http.StatusBadRequest, "Invalid form data")
		return in, nil, false
	}
	in.Content = formValue(form.Value, "content")
	in.Message = formValue(form.Value, "message")
	in.CustomerEmail = formValue(form.Value, "customerEmail")
	in.CustomerName = formValue(form.Value, "customerName")
	in.IsAdmin = formValue(form.Value, "isAdmin") == "true"
	var atts []attachmentMeta
	for key, files := range form.File {
		if !strings.HasPrefix(key, "attachment_") {
			continue
		}
		for _, fh := range files {
			atts = append(atts, attachmentMeta{
				Name: fh.Filename,
				Type: fh.Header.Get("Content-Type"),
				Size: fh.Size,
			})
		}
	}
	return in, atts, true
}

func formValue(values map[string][]string, key string) string {
	if v, ok := values[key]; ok && len(v) > 0 {
		return v[0]
	}
	return ""
}

func firstNonEmpty(a, b string) string {
	if strings.TrimSpace(a) != "" {
		return a
	}
	return b
}
