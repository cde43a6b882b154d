package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"golang.org/x/crypto/bcrypt"

	app "github.com/storekit/support-go/cmd/api/app"
)

// userDB serves the login credential lookup for one account.
type userDB struct {
	id    int64
	email string
	hash  string
	name  string
	role  string
}

type userRow struct {
	db  *userDB
	err error
}

func (r userRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	*(dest[0].(*int64)) = r.db.id
	*(dest[1].(*string)) = r.db.email
	*(dest[2].(*string)) = r.db.hash
	*(dest[3].(*string)) = r.db.name
	*(dest[4].(*string)) = r.db.role
	return nil
}

func (db *userDB) Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error) {
	return nil, errors.New("unexpected query")
}

func (db *userDB) QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row {
	if strings.EqualFold(args[0].(string), db.email) {
		return userRow{db: db}
	}
	return userRow{err: pgx.ErrNoRows}
}

func (db *userDB) Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error) {
	return pgconn.CommandTag{}, nil
}

func newAuthApp(t *testing.T, db app.DB) *app.App {
	t.Helper()
	gin.SetMode(gin.TestMode)
	cfg := app.Config{Env: "test", AuthMode: "local", AuthLocalSecret: "s3cret"}
	a := app.NewApp(cfg, db, nil, nil, nil, nil)
	a.R.POST("/api/auth/login", Login(a))
	a.R.POST("/api/auth/logout", Logout())
	a.R.GET("/api/me", Middleware(a), Me)
	return a
}

func TestLogin(t *testing.T) {
	hash, _ := bcrypt.GenerateFromPassword([]byte("hunter22"), bcrypt.MinCost)
	db := &userDB{id: 7, email: "jo@example.com", hash: string(hash), name: "Jo", role: "customer"}
	a := newAuthApp(t, db)

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/auth/login",
		strings.NewReader(`{"email":"JO@example.com","password":"hunter22"}`))
	req.Header.Set("Content-Type", "application/json")
	a.R.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var out struct {
		Success bool     `json:"success"`
		Token   string   `json:"token"`
		User    AuthUser `json:"user"`
	}
	_ = json.Unmarshal(rr.Body.Bytes(), &out)
	if !out.Success || out.Token == "" || out.User.ID != 7 {
		t.Fatalf("unexpected login response: %s", rr.Body.String())
	}
	cookie := rr.Header().Get("Set-Cookie")
	if !strings.Contains(cookie, "auth=") || !strings.Contains(cookie, "HttpOnly") {
		t.Fatalf("session cookie missing: %q", cookie)
	}

	// The issued token must pass the middleware.
	rr = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/api/me", nil)
	req.Header.Set("Authorization", "Bearer "+out.Token)
	a.R.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("me: expected 200, got %d", rr.Code)
	}
}

func TestLoginRejections(t *testing.T) {
	hash, _ := bcrypt.GenerateFromPassword([]byte("hunter22"), bcrypt.MinCost)
	db := &userDB{id: 7, email: "jo@example.com", hash: string(hash), name: "Jo", role: "customer"}
	a := newAuthApp(t, db)

	tests := []struct {
		name string
		body string
		want int
	}{
		{"wrong_password", `{"email":"jo@example.com","password":"nope"}`, http.StatusUnauthorized},
		{"unknown_user", `{"email":"who@example.com","password":"hunter22"}`, http.StatusUnauthorized},
		{"missing_fields", `{"email":"jo@example.com"}`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodPost, "/api/auth/login", strings.NewReader(tt.body))
			req.Header.Set("Content-Type", "application/json")
			a.R.ServeHTTP(rr, req)
			if rr.Code != tt.want {
				t.Fatalf("expected %d, got %d: %s", tt.want, rr.Code, rr.Body.String())
			}
		})
	}
}

func TestMiddlewareTokenFromCookie(t *testing.T) {
	a := newAuthApp(t, nil)
	token, err := SignToken("s3cret", AuthUser{ID: 3, Email: "c@example.com", Role: "customer"})
	if err != nil {
		t.Fatal(err)
	}
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/me", nil)
	req.AddCookie(&http.Cookie{Name: "auth", Value: token})
	a.R.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 via cookie, got %d", rr.Code)
	}
}

func TestMiddlewareMissingOrGarbageToken(t *testing.T) {
	a := newAuthApp(t, nil)
	rr := httptest.NewRecorder()
	a.R.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/me", nil))
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("no token: expected 401, got %d", rr.Code)
	}

	rr = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/me", nil)
	req.Header.Set("Authorization", "Bearer not.a.jwt")
	a.R.ServeHTTP(rr, req)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("garbage token: expected 401, got %d", rr.Code)
	}
}

func TestLogoutClearsCookie(t *testing.T) {
	a := newAuthApp(t, nil)
	rr := httptest.NewRecorder()
	a.R.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/auth/logout", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	cookie := rr.Header().Get("Set-Cookie")
	if !strings.Contains(cookie, "auth=") || !strings.Contains(cookie, "Max-Age=0") {
		t.Fatalf("cookie not cleared: %q", cookie)
	}
}

func TestRequireRole(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/admin", func(c *gin.Context) {
		c.Set("user", AuthUser{ID: 1, Role: "customer"})
	}, RequireRole("admin"), func(c *gin.Context) { c.String(200, "ok") })
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/admin", nil))
	if rr.Code != http.StatusForbidden {
		t.Fatalf("customer at admin gate: expected 403, got %d", rr.Code)
	}

	r = gin.New()
	r.GET("/admin", func(c *gin.Context) {
		c.Set("user", AuthUser{ID: 1, Role: "admin"})
	}, RequireRole("admin"), func(c *gin.Context) { c.String(200, "ok") })
	rr = httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/admin", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("admin at admin gate: expected 200, got %d", rr.Code)
	}
}
