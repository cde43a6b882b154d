// Package ticketstore is the sole authority for reading and writing
// ticket and ticket_messages rows. Handlers never issue SQL against
// these tables directly; they go through a Store.
package ticketstore

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// Ticket statuses. "closed" is an admin-display alias of resolved and is
// accepted as a stored value; transitions are not validated.
const (
	StatusOpen       = "open"
	StatusInProgress = "in-progress"
	StatusResolved   = "resolved"
	StatusArchived   = "archived"
	StatusClosed     = "closed"
)

// AttachmentPlaceholder is stored as the message body when a submission
// carries attachments but no text.
const AttachmentPlaceholder = "[File attachment]"

// ErrCustomerIDRequired is returned by Create when no customer id is given.
var ErrCustomerIDRequired = errors.New("customer_id is required")

type Ticket struct {
	ID               int64      `json:"id"`
	Title            string     `json:"title"`
	Description      string     `json:"description"`
	Category         string     `json:"category"`
	Priority         string     `json:"priority"`
	Status           string     `json:"status"`
	CustomerEmail    string     `json:"customer_email"`
	CustomerName     string     `json:"customer_name"`
	CustomerID       *int64     `json:"customer_id,omitempty"`
	AssignedToUserID *int64     `json:"assigned_to_user_id,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
	ResolvedAt       *time.Time `json:"resolved_at,omitempty"`
	ArchivedAt       *time.Time `json:"archived_at,omitempty"`
}

type Message struct {
	ID             int64           `json:"id"`
	TicketID       int64           `json:"ticket_id"`
	Message        string          `json:"message"`
	IsFromCustomer bool            `json:"is_from_customer"`
	SenderName     string          `json:"sender_name"`
	SenderEmail    string          `json:"sender_email,omitempty"`
	Attachments    json.RawMessage `json:"attachments,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
}

// NewTicket carries the fields accepted at creation time. Category and
// Priority default to "general"/"medium" when empty; Status is always
// "open" on insert.
type NewTicket struct {
	Title            string
	Description      string
	Category         string
	Priority         string
	CustomerEmail    string
	CustomerName     string
	CustomerID       *int64
	AssignedToUserID *int64
}

// TicketUpdate is a partial update; nil fields keep their prior value.
type TicketUpdate struct {
	Title            *string
	Description      *string
	Category         *string
	Priority         *string
	Status           *string
	AssignedToUserID *int64
}

type NewMessage struct {
	TicketID       int64
	Message        string
	IsFromCustomer bool
	SenderName     string
	SenderEmail    string
	Attachments    json.RawMessage
}

// Store is the ticket data-access contract. Not-found is a nil or empty
// result, never an error; errors mean the storage layer itself failed.
type Store interface {
	All(ctx context.Context) ([]Ticket, error)
	ByCustomerEmail(ctx context.Context, email string) ([]Ticket, error)
	ByCustomerID(ctx context.Context, id int64) ([]Ticket, error)
	ByID(ctx context.Context, id int64) (*Ticket, error)
	Create(ctx context.Context, in NewTicket) (*Ticket, error)
	Update(ctx context.Context, id int64, in TicketUpdate) (*Ticket, error)
	UpdateStatus(ctx context.Context, id int64, status string) (*Ticket, error)
	Archive(ctx context.Context, id int64) (*Ticket, error)
	Delete(ctx context.Context, id int64) (bool, error)
	Messages(ctx context.Context, ticketID int64) ([]Message, error)
	AddMessage(ctx context.Context, in NewMessage) (*Message, error)
}

// AdminStatus maps stored statuses to the shape the admin dashboard
// expects: in-progress becomes in_progress and resolved becomes closed.
func AdminStatus(s string) string {
	switch s {
	case StatusInProgress:
		return "in_progress"
	case StatusResolved:
		return StatusClosed
	case "":
		return StatusOpen
	}
	return s
}

// statusTimestamps reports which lifecycle stamps a transition to status
// sets at time now. Stamps are one-way: a later transition to a
// different status never clears them, so callers only overwrite when the
// returned pointer is non-nil.
func statusTimestamps(status string, now time.Time) (resolvedAt, archivedAt *time.Time) {
	switch status {
	case StatusResolved:
		resolvedAt = &now
	case StatusArchived:
		archivedAt = &now
	}
	return resolvedAt, archivedAt
}

func withDefaults(in NewTicket) NewTicket {
	if in.Category == "" {
		in.Category = "general"
	}
	if in.Priority == "" {
		in.Priority = "medium"
	}
	if in.CustomerName == "" {
		in.CustomerName = in.CustomerEmail
	}
	return in
}
