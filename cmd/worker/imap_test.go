package main

import (
	"context"
	"strings"
	"testing"

	"github.com/storekit/support-go/internal/ticketstore"
)

// stubCustomers recognizes a single customer account.
type stubCustomers struct {
	email string
	id    int64
	name  string
}

func (s *stubCustomers) ByEmail(ctx context.Context, email string) (int64, string, bool) {
	if strings.EqualFold(email, s.email) {
		return s.id, s.name, true
	}
	return 0, "", false
}

func rawMail(from, subject, body string) []byte {
	return []byte("From: " + from + "\r\n" +
		"To: support@example.com\r\n" +
		"Subject: " + subject + "\r\n" +
		"Content-Type: text/plain; charset=utf-8\r\n" +
		"\r\n" +
		body + "\r\n")
}

func TestHandleInboundOpensTicket(t *testing.T) {
	store := ticketstore.NewMemory()
	users := &stubCustomers{email: "jo@example.com", id: 5, name: "Jo"}

	raw := rawMail("Jo Doe <jo@example.com>", "Printer on fire", "It is burning.")
	if err := handleInbound(context.Background(), store, users, raw); err != nil {
		t.Fatalf("handleInbound: %v", err)
	}

	all, _ := store.All(context.Background())
	if len(all) != 1 {
		t.Fatalf("expected 1 ticket, got %d", len(all))
	}
	tk := all[0]
	if tk.Title != "Printer on fire" || tk.CustomerEmail != "jo@example.com" {
		t.Fatalf("unexpected ticket: %+v", tk)
	}
	if tk.CustomerID == nil || *tk.CustomerID != 5 {
		t.Fatalf("customer id not resolved: %+v", tk.CustomerID)
	}
	if tk.CustomerName != "Jo Doe" {
		t.Fatalf("display name should prefer the mail header: %q", tk.CustomerName)
	}
	if !strings.Contains(tk.Description, "It is burning.") {
		t.Fatalf("body lost: %q", tk.Description)
	}
}

func TestHandleInboundAppendsToThread(t *testing.T) {
	store := ticketstore.NewMemory()
	users := &stubCustomers{email: "jo@example.com", id: 5, name: "Jo"}
	cid := int64(5)
	tk, err := store.Create(context.Background(), ticketstore.NewTicket{
		Title: "login broken", Description: "d",
		CustomerEmail: "jo@example.com", CustomerName: "Jo", CustomerID: &cid,
	})
	if err != nil {
		t.Fatal(err)
	}

	raw := rawMail("jo@example.com", "Re: [TKT-1] login broken", "Still broken after reset.")
	if err := handleInbound(context.Background(), store, users, raw); err != nil {
		t.Fatalf("handleInbound: %v", err)
	}

	msgs, _ := store.Messages(context.Background(), tk.ID)
	if len(msgs) != 1 {
		t.Fatalf("expected 1 message, got %d", len(msgs))
	}
	m := msgs[0]
	if !m.IsFromCustomer || m.SenderEmail != "jo@example.com" {
		t.Fatalf("unexpected message: %+v", m)
	}
	if !strings.Contains(m.Message, "Still broken") {
		t.Fatalf("body lost: %q", m.Message)
	}

	all, _ := store.All(context.Background())
	if len(all) != 1 {
		t.Fatal("reply must not open a second ticket")
	}
}

func TestHandleInboundUnknownSenderDropped(t *testing.T) {
	store := ticketstore.NewMemory()
	users := &stubCustomers{email: "jo@example.com", id: 5, name: "Jo"}

	raw := rawMail("stranger@example.com", "Buy my stuff", "spam")
	if err := handleInbound(context.Background(), store, users, raw); err != nil {
		t.Fatalf("handleInbound: %v", err)
	}
	all, _ := store.All(context.Background())
	if len(all) != 0 {
		t.Fatal("unknown sender must not create tickets")
	}
}

func TestHandleInboundStripsMarkup(t *testing.T) {
	store := ticketstore.NewMemory()
	users := &stubCustomers{email: "jo@example.com", id: 5, name: "Jo"}

	raw := []byte("From: jo@example.com\r\n" +
		"To: support@example.com\r\n" +
		"Subject: styled mail\r\n" +
		"Content-Type: text/html; charset=utf-8\r\n" +
		"\r\n" +
		"<p>hello</p><script>alert(1)</script>\r\n")
	if err := handleInbound(context.Background(), store, users, raw); err != nil {
		t.Fatalf("handleInbound: %v", err)
	}
	all, _ := store.All(context.Background())
	if len(all) != 1 {
		t.Fatalf("expected 1 ticket, got %d", len(all))
	}
	if strings.Contains(all[0].Description, "<script>") {
		t.Fatalf("script not stripped: %q", all[0].Description)
	}
}
