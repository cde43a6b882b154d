package main

import (
	"context"
	"encoding/json"
	"net/smtp"
	"strings"
	"testing"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/storekit/support-go/internal/notify"
)

func TestSendEmail(t *testing.T) {
	var captured struct {
		addr string
		from string
		to   []string
		msg  string
	}
	smtpSendMail = func(addr string, _ smtp.Auth, from string, to []string, msg []byte) error {
		captured = struct {
			addr string
			from string
			to   []string
			msg  string
		}{addr, from, to, string(msg)}
		return nil
	}
	defer func() { smtpSendMail = smtp.SendMail }()

	c := Config{SMTPHost: "smtp", SMTPPort: "25", SMTPFrom: "from@example.com"}
	j := notify.EmailJob{To: "to@example.com", Template: "ticket_created",
		Data: map[string]any{"id": 7, "title": "login broken"}}
	if err := sendEmail(c, j); err != nil {
		t.Fatalf("sendEmail: %v", err)
	}
	if captured.addr != "smtp:25" || captured.from != "from@example.com" || captured.to[0] != "to@example.com" {
		t.Fatalf("unexpected send params: %+v", captured)
	}
	if !strings.Contains(captured.msg, "Subject: [TKT-7] Ticket received: login broken") {
		t.Fatalf("unexpected message: %s", captured.msg)
	}
}

func TestSendEmailRejectsHeaderInjection(t *testing.T) {
	sent := false
	smtpSendMail = func(string, smtp.Auth, string, []string, []byte) error {
		sent = true
		return nil
	}
	defer func() { smtpSendMail = smtp.SendMail }()

	c := Config{SMTPHost: "smtp", SMTPPort: "25", SMTPFrom: "from@example.com"}
	j := notify.EmailJob{To: "victim@example.com\r\nBcc: spam@example.com", Template: "ticket_created",
		Data: map[string]any{"id": 1, "title": "x"}}
	if err := sendEmail(c, j); err == nil {
		t.Fatal("expected error for injected To header")
	}
	if sent {
		t.Fatal("mail must not be sent for an invalid address")
	}
}

func TestSanitizeEmailHeader(t *testing.T) {
	tests := []struct{ in, want string }{
		{"plain subject", "plain subject"},
		{"evil\r\nBcc: spam@example.com", "evilBcc: spam@example.com"},
		{"  padded \n", "padded"},
	}
	for _, tt := range tests {
		if got := sanitizeEmailHeader(tt.in); got != tt.want {
			t.Fatalf("sanitizeEmailHeader(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestValidateEmailAddress(t *testing.T) {
	for _, ok := range []string{"a@b.com", "first.last+tag@example.co.uk"} {
		if err := validateEmailAddress(ok); err != nil {
			t.Fatalf("%s should be valid: %v", ok, err)
		}
	}
	for _, bad := range []string{"", "not-an-email", "a@b", "a @b.com"} {
		if err := validateEmailAddress(bad); err == nil {
			t.Fatalf("%s should be invalid", bad)
		}
	}
}

func TestProcessQueueJob(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	c := Config{SMTPFrom: "from@example.com"}
	job := notify.Job{Type: "send_email",
		Data: json.RawMessage(`{"to":"t@example.com","template":"ticket_created","data":{"id":1,"title":"x"}}`)}
	payload, _ := json.Marshal(job)
	if err := rdb.LPush(context.Background(), notify.QueueKey, payload).Err(); err != nil {
		t.Fatalf("lpush: %v", err)
	}

	var got notify.EmailJob
	send := func(_ Config, j notify.EmailJob) error {
		got = j
		return nil
	}
	if err := processQueueJob(context.Background(), c, rdb, send); err != nil {
		t.Fatalf("processQueueJob: %v", err)
	}
	if got.To != "t@example.com" || got.Template != "ticket_created" {
		t.Fatalf("job not dispatched: %+v", got)
	}
}

func TestProcessQueueJobUnknownType(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	payload, _ := json.Marshal(notify.Job{Type: "mystery", Data: json.RawMessage(`{}`)})
	_ = rdb.LPush(context.Background(), notify.QueueKey, payload).Err()

	called := false
	send := func(Config, notify.EmailJob) error { called = true; return nil }
	if err := processQueueJob(context.Background(), Config{}, rdb, send); err != nil {
		t.Fatalf("processQueueJob: %v", err)
	}
	if called {
		t.Fatal("unknown job type must not send email")
	}
}
