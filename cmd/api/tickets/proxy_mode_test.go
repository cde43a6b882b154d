package tickets

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/storekit/support-go/internal/ticketstore"

	apppkg "github.com/storekit/support-go/cmd/api/app"
)

// With an upstream base configured every ticket route relays instead of
// touching local storage.
func TestProxyModeRelaysTicketRoutes(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTeapot)
		_, _ = w.Write([]byte(`{"upstream":true,"method":"` + r.Method + `","path":"` + r.URL.RequestURI() + `"}`))
	}))
	defer upstream.Close()

	a, store := newTestApp(t, apppkg.Config{UpstreamAPIBase: upstream.URL})
	cid := int64(1)
	if _, err := store.Create(context.Background(), ticketstore.NewTicket{
		Title: "local", Description: "d", CustomerEmail: "a@b.com", CustomerID: &cid,
	}); err != nil {
		t.Fatal(err)
	}

	for _, tt := range []struct {
		method, url, wantPath string
	}{
		// List scoping travels as the query string and must reach the
		// upstream intact.
		{http.MethodGet, "/api/tickets?isAdmin=true", "/api/tickets?isAdmin=true"},
		{http.MethodGet, "/api/tickets?customerEmail=mia@example.com", "/api/tickets?customerEmail=mia@example.com"},
		{http.MethodGet, "/api/tickets/1", "/api/tickets/1"},
		{http.MethodGet, "/api/tickets/1/messages", "/api/tickets/1/messages"},
		{http.MethodPut, "/api/tickets/1/status", "/api/tickets/1/status"},
		{http.MethodPost, "/api/tickets/1/archive", "/api/tickets/1/archive"},
	} {
		rr := do(t, a, tt.method, tt.url, "")
		if rr.Code != http.StatusTeapot {
			t.Fatalf("%s %s: expected upstream status, got %d", tt.method, tt.url, rr.Code)
		}
		var body struct {
			Upstream bool   `json:"upstream"`
			Method   string `json:"method"`
			Path     string `json:"path"`
		}
		if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil || !body.Upstream {
			t.Fatalf("%s %s: not relayed: %s", tt.method, tt.url, rr.Body.String())
		}
		if body.Path != tt.wantPath {
			t.Fatalf("%s %s: relayed to %q, want %q", tt.method, tt.url, body.Path, tt.wantPath)
		}
		if body.Method != tt.method {
			t.Fatalf("%s %s: relayed as %s", tt.method, tt.url, body.Method)
		}
	}
}

// Archive is the one route that degrades to local storage when the
// upstream cannot be reached.
func TestArchiveFallsBackToLocal(t *testing.T) {
	dead := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	dead.Close() // base resolves but connections are refused

	a, store := newTestApp(t, apppkg.Config{UpstreamAPIBase: dead.URL})
	cid := int64(1)
	tk, err := store.Create(context.Background(), ticketstore.NewTicket{
		Title: "t", Description: "d", CustomerEmail: "a@b.com", CustomerID: &cid,
	})
	if err != nil {
		t.Fatal(err)
	}

	rr := do(t, a, http.MethodPost, "/api/tickets/1/archive", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected local fallback 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var out struct {
		Success bool               `json:"success"`
		Ticket  ticketstore.Ticket `json:"ticket"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &out); err != nil || !out.Success {
		t.Fatalf("unexpected body: %s", rr.Body.String())
	}
	if out.Ticket.Status != ticketstore.StatusArchived {
		t.Fatalf("ticket not archived locally: %+v", out.Ticket)
	}

	got, _ := store.ByID(context.Background(), tk.ID)
	if got == nil || got.ArchivedAt == nil {
		t.Fatal("archived_at not stamped in local store")
	}

	// Non-archive routes report the upstream failure instead.
	rr = do(t, a, http.MethodGet, "/api/tickets/1", "")
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 for dead upstream, got %d", rr.Code)
	}
}
