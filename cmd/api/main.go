// The api command serves the support-ticket HTTP API: ticket and
// message CRUD for the customer dashboard and the admin panel, local
// account auth, admin configuration endpoints, and extension bundle
// downloads. With UPSTREAM_API_BASE set, ticket routes proxy to an
// external API instead of local storage.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/bcrypt"

	apppkg "github.com/storekit/support-go/cmd/api/app"
	authpkg "github.com/storekit/support-go/cmd/api/auth"
	"github.com/storekit/support-go/cmd/api/downloads"
	"github.com/storekit/support-go/cmd/api/handlers"
	metricspkg "github.com/storekit/support-go/cmd/api/metrics"
	"github.com/storekit/support-go/cmd/api/migrations"
	"github.com/storekit/support-go/cmd/api/tickets"
	userspkg "github.com/storekit/support-go/cmd/api/users"
	"github.com/storekit/support-go/internal/ratelimit"
	"github.com/storekit/support-go/internal/ticketstore"
)

func main() {
	_ = godotenv.Load()
	cfg := apppkg.GetConfig()
	if cfg.Env == "dev" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx := context.Background()

	var pool *pgxpool.Pool
	var db apppkg.DB
	var store ticketstore.Store
	if cfg.DatabaseURL != "" {
		var err error
		pool, err = pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Fatal().Err(err).Msg("db connect")
		}
		defer pool.Close()
		if err := migrations.Apply(ctx, cfg.DatabaseURL); err != nil {
			log.Fatal().Err(err).Msg("migrate up")
		}
		db = pool
		store = ticketstore.NewPostgres(pool)
	} else {
		log.Warn().Msg("no DATABASE_URL, tickets held in process memory")
		store = ticketstore.NewMemory()
	}

	var keyf jwt.Keyfunc
	if cfg.AuthMode == "oidc" {
		var err error
		keyf, err = jwksKeyfunc(ctx, cfg.JWKSURL)
		if err != nil {
			log.Fatal().Err(err).Str("jwks_url", cfg.JWKSURL).Msg("fetch jwks")
		}
	}

	var objs apppkg.ObjectStore
	if cfg.MinIOEndpoint != "" {
		mc, err := minio.New(cfg.MinIOEndpoint, &minio.Options{
			Creds:  credentials.NewStaticV4(cfg.MinIOAccess, cfg.MinIOSecret, ""),
			Secure: cfg.MinIOUseSSL,
		})
		if err != nil {
			log.Fatal().Err(err).Msg("minio init")
		}
		objs = mc
	} else if cfg.FileStorePath != "" {
		if err := os.MkdirAll(cfg.FileStorePath, 0o755); err != nil {
			log.Fatal().Err(err).Str("path", cfg.FileStorePath).Msg("create filestore path")
		}
		objs = &apppkg.FsObjectStore{Base: cfg.FileStorePath}
	}

	var rdb *redis.Client
	if cfg.RedisAddr != "" {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Error().Err(err).Msg("redis ping")
		}
		defer rdb.Close()
	}

	if cfg.AuthMode == "local" && pool != nil {
		if err := seedLocalAdmin(ctx, pool, cfg.AdminPassword); err != nil {
			log.Error().Err(err).Msg("seed local admin")
		}
	}

	a := apppkg.NewApp(cfg, db, store, keyf, objs, rdb)
	routes(a)

	srv := &http.Server{
		Addr:           cfg.Addr,
		Handler:        a.R,
		ReadTimeout:    15 * time.Second,
		WriteTimeout:   15 * time.Second,
		MaxHeaderBytes: 1 << 20,
	}
	log.Info().Str("addr", cfg.Addr).Str("auth_mode", cfg.AuthMode).
		Bool("proxy_mode", a.Upstream != nil).Msg("api listening")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatal().Err(err).Msg("listen")
	}
}

func routes(a *apppkg.App) {
	r := a.R
	r.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"ok": true}) })
	r.GET("/metrics", metricspkg.Handler())

	auth := authpkg.Middleware(a)
	admin := authpkg.RequireRole("admin")

	// Credential endpoints get a shared per-IP budget on top of the
	// process-wide limiter.
	loginLimit := ratelimit.New(a.Q, 10, time.Minute, "login").Middleware(ratelimit.ByIP)

	r.POST("/api/auth/register", loginLimit, userspkg.Register(a))
	r.POST("/api/auth/login", loginLimit, authpkg.Login(a))
	r.POST("/api/auth/logout", authpkg.Logout())
	r.OPTIONS("/api/auth/login", apppkg.Preflight("POST, OPTIONS"))
	r.OPTIONS("/api/auth/register", apppkg.Preflight("POST, OPTIONS"))
	r.GET("/api/me", auth, authpkg.Me)
	r.POST("/api/me/change-password", auth, userspkg.ChangePassword(a))

	t := r.Group("/api/tickets")
	{
		t.GET("", auth, tickets.List(a))
		t.POST("", auth, tickets.Create(a))
		t.OPTIONS("", apppkg.Preflight("GET, POST, OPTIONS"))
		t.GET("/:id", auth, tickets.Get(a))
		t.PATCH("/:id", auth, tickets.Update(a))
		t.PUT("/:id", auth, tickets.Update(a))
		t.DELETE("/:id", auth, tickets.Delete(a))
		t.OPTIONS("/:id", apppkg.Preflight("GET, PATCH, PUT, DELETE, OPTIONS"))
		t.PUT("/:id/status", auth, tickets.UpdateStatus(a))
		t.OPTIONS("/:id/status", apppkg.Preflight("PUT, OPTIONS"))
		t.POST("/:id/archive", auth, tickets.Archive(a))
		// Older dashboard builds still send PUT here.
		t.PUT("/:id/archive", auth, tickets.Archive(a))
		t.OPTIONS("/:id/archive", apppkg.Preflight("POST, PUT, OPTIONS"))
		t.GET("/:id/messages", auth, tickets.Messages(a))
		t.POST("/:id/messages", auth, tickets.AddMessage(a))
		t.OPTIONS("/:id/messages", apppkg.Preflight("GET, POST, OPTIONS"))
	}

	ad := r.Group("/api/admin", auth, admin)
	{
		ad.GET("/tickets", tickets.AdminList(a))
		ad.GET("/customers", userspkg.Customers(a))
		ad.GET("/chat-settings", handlers.ChatSettings(a))
		ad.PUT("/chat-settings", handlers.UpdateChatSettings(a))
		ad.GET("/dashboard-features", handlers.DashboardFeatures(a))
		ad.PUT("/dashboard-features", handlers.UpdateDashboardFeature(a))
		ad.POST("/extension-bundles/:type", downloads.Upload(a))
	}
	r.OPTIONS("/api/admin/chat-settings", apppkg.Preflight("GET, PUT, OPTIONS"))
	r.OPTIONS("/api/admin/dashboard-features", apppkg.Preflight("GET, PUT, OPTIONS"))

	r.GET("/api/users/:id", auth, admin, userspkg.Get(a))
	r.GET("/api/download-extension/:type", auth, downloads.Get(a))
	r.OPTIONS("/api/download-extension/:type", apppkg.Preflight("GET, OPTIONS"))
}

// jwksKeyfunc fetches the OIDC provider's key set and refreshes it every
// ten minutes. Lookup prefers the token's kid and falls back to the
// first key in the set.
func jwksKeyfunc(ctx context.Context, url string) (jwt.Keyfunc, error) {
	if url == "" {
		return nil, fmt.Errorf("OIDC_JWKS_URL is required in oidc mode")
	}
	httpClient := &http.Client{Timeout: 10 * time.Second}
	set, err := jwk.Fetch(ctx, url, jwk.WithHTTPClient(httpClient))
	if err != nil {
		return nil, err
	}
	setPtr := &set
	go func() {
		ticker := time.NewTicker(10 * time.Minute)
		defer ticker.Stop()
		for range ticker.C {
			if newSet, err := jwk.Fetch(context.Background(), url, jwk.WithHTTPClient(httpClient)); err == nil {
				*setPtr = newSet
			}
		}
	}()
	return func(t *jwt.Token) (interface{}, error) {
		kid, _ := t.Header["kid"].(string)
		if kid != "" {
			if key, ok := (*setPtr).LookupKeyID(kid); ok {
				var pub any
				if err := key.Raw(&pub); err != nil {
					return nil, err
				}
				return pub, nil
			}
		}
		it := (*setPtr).Iterate(context.Background())
		if it.Next(context.Background()) {
			if key, ok := it.Pair().Value.(jwk.Key); ok {
				var pub any
				if err := key.Raw(&pub); err != nil {
					return nil, err
				}
				return pub, nil
			}
		}
		return nil, fmt.Errorf("no jwk for kid: %s", kid)
	}, nil
}

// seedLocalAdmin ensures an admin account exists for local auth. The
// password comes from ADMIN_PASSWORD; the hash is refreshed when the
// account already exists so rotating the variable rotates the login.
func seedLocalAdmin(ctx context.Context, db *pgxpool.Pool, password string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	_, err = db.Exec(ctx, `insert into users (email, password_hash, name, role)
values ('admin@localhost', $1, 'Admin', 'admin')
on conflict (email) do update set password_hash = excluded.password_hash`, string(hash))
	if err != nil {
		return err
	}
	log.Info().Str("email", "admin@localhost").Msg("local admin ready")
	return nil
}
