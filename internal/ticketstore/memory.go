package ticketstore

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

// Memory is an explicit in-memory Store used when no database is
// configured (dev mode) and as a test double. It is process-local and
// non-durable; a multi-instance deployment must use Postgres.
type Memory struct {
	mu       sync.Mutex
	tickets  []Ticket
	messages map[int64][]Message
	emails   map[int64]string // customer id -> email, for ByCustomerID
	seq      int64
	msgSeq   int64
}

func NewMemory() *Memory {
	return &Memory{
		messages: map[int64][]Message{},
		emails:   map[int64]string{},
	}
}

// RegisterCustomer records a customer id to email mapping so that
// ByCustomerID can resolve scoping the same way the Postgres store does
// through the users table.
func (s *Memory) RegisterCustomer(id int64, email string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.emails[id] = email
}

func (s *Memory) snapshot(keep func(Ticket) bool) []Ticket {
	out := []Ticket{}
	for _, t := range s.tickets {
		if keep(t) {
			out = append(out, t)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

func (s *Memory) All(ctx context.Context) ([]Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshot(func(Ticket) bool { return true }), nil
}

func (s *Memory) ByCustomerEmail(ctx context.Context, email string) ([]Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshot(func(t Ticket) bool { return strings.EqualFold(t.CustomerEmail, email) }), nil
}

func (s *Memory) ByCustomerID(ctx context.Context, id int64) ([]Ticket, error) {
	s.mu.Lock()
	email, ok := s.emails[id]
	s.mu.Unlock()
	if !ok {
		return []Ticket{}, nil
	}
	return s.ByCustomerEmail(ctx, email)
}

func (s *Memory) find(id int64) int {
	for i := range s.tickets {
		if s.tickets[i].ID == id {
			return i
		}
	}
	return -1
}

func (s *Memory) ByID(ctx context.Context, id int64) (*Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i := s.find(id); i >= 0 {
		t := s.tickets[i]
		return &t, nil
	}
	return nil, nil
}

func (s *Memory) Create(ctx context.Context, in NewTicket) (*Ticket, error) {
	if in.CustomerID == nil {
		return nil, ErrCustomerIDRequired
	}
	in = withDefaults(in)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	now := time.Now().UTC()
	t := Ticket{
		ID:               s.seq,
		Title:            in.Title,
		Description:      in.Description,
		Category:         in.Category,
		Priority:         in.Priority,
		Status:           StatusOpen,
		CustomerEmail:    in.CustomerEmail,
		CustomerName:     in.CustomerName,
		CustomerID:       in.CustomerID,
		AssignedToUserID: in.AssignedToUserID,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	s.tickets = append(s.tickets, t)
	s.messages[t.ID] = []Message{}
	return &t, nil
}

func (s *Memory) Update(ctx context.Context, id int64, in TicketUpdate) (*Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.find(id)
	if i < 0 {
		return nil, nil
	}
	t := &s.tickets[i]
	if in.Title != nil {
		t.Title = *in.Title
	}
	if in.Description != nil {
		t.Description = *in.Description
	}
	if in.Category != nil {
		t.Category = *in.Category
	}
	if in.Priority != nil {
		t.Priority = *in.Priority
	}
	now := time.Now().UTC()
	if in.Status != nil {
		t.Status = *in.Status
		resolved, archived := statusTimestamps(*in.Status, now)
		if resolved != nil {
			t.ResolvedAt = resolved
		}
		if archived != nil {
			t.ArchivedAt = archived
		}
	}
	if in.AssignedToUserID != nil {
		t.AssignedToUserID = in.AssignedToUserID
	}
	t.UpdatedAt = now
	out := *t
	return &out, nil
}

func (s *Memory) UpdateStatus(ctx context.Context, id int64, status string) (*Ticket, error) {
	return s.Update(ctx, id, TicketUpdate{Status: &status})
}

func (s *Memory) Archive(ctx context.Context, id int64) (*Ticket, error) {
	archived := StatusArchived
	return s.Update(ctx, id, TicketUpdate{Status: &archived})
}

func (s *Memory) Delete(ctx context.Context, id int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.find(id)
	if i < 0 {
		return false, nil
	}
	s.tickets = append(s.tickets[:i], s.tickets[i+1:]...)
	delete(s.messages, id)
	return true, nil
}

func (s *Memory) Messages(ctx context.Context, ticketID int64) ([]Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msgs := s.messages[ticketID]
	out := make([]Message, len(msgs))
	copy(out, msgs)
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *Memory) AddMessage(ctx context.Context, in NewMessage) (*Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.msgSeq++
	now := time.Now().UTC()
	m := Message{
		ID:             s.msgSeq,
		TicketID:       in.TicketID,
		Message:        in.Message,
		IsFromCustomer: in.IsFromCustomer,
		SenderName:     in.SenderName,
		SenderEmail:    in.SenderEmail,
		Attachments:    in.Attachments,
		CreatedAt:      now,
	}
	s.messages[in.TicketID] = append(s.messages[in.TicketID], m)
	if i := s.find(in.TicketID); i >= 0 {
		s.tickets[i].UpdatedAt = now
	}
	return &m, nil
}
