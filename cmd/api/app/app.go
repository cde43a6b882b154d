package app

import (
	"context"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/minio/minio-go/v7"
	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"

	"github.com/storekit/support-go/internal/notify"
	"github.com/storekit/support-go/internal/proxy"
	"github.com/storekit/support-go/internal/ticketstore"
)

// Config holds API configuration values.
type Config struct {
	Addr        string
	DatabaseURL string
	Env         string
	RedisAddr   string
	// UpstreamAPIBase switches every ticket route into proxy mode.
	UpstreamAPIBase string
	// Local auth
	AuthMode        string // "local" or "oidc"
	AuthLocalSecret string
	AdminPassword   string
	JWKSURL         string
	// Object store for downloadable extension bundles
	MinIOEndpoint string
	MinIOAccess   string
	MinIOSecret   string
	MinIOBucket   string
	MinIOUseSSL   bool
	FileStorePath string
	// Testing helpers
	TestBypassAuth bool
	RateLimitRPS   float64
	RateLimitBurst int
}

// GetEnv returns the environment variable value or default.
func GetEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// GetConfig builds Config from environment.
func GetConfig() Config {
	cfg := Config{
		Addr:            GetEnv("ADDR", ":8080"),
		DatabaseURL:     GetEnv("DATABASE_URL", ""),
		Env:             GetEnv("ENV", "dev"),
		RedisAddr:       GetEnv("REDIS_ADDR", ""),
		UpstreamAPIBase: GetEnv("UPSTREAM_API_BASE", ""),
		AuthMode:        GetEnv("AUTH_MODE", "local"),
		AuthLocalSecret: GetEnv("AUTH_LOCAL_SECRET", ""),
		AdminPassword:   GetEnv("ADMIN_PASSWORD", "admin"),
		JWKSURL:         GetEnv("OIDC_JWKS_URL", ""),
		MinIOEndpoint:   GetEnv("MINIO_ENDPOINT", ""),
		MinIOAccess:     GetEnv("MINIO_ACCESS_KEY", ""),
		MinIOSecret:     GetEnv("MINIO_SECRET_KEY", ""),
		MinIOBucket:     GetEnv("MINIO_BUCKET", "bundles"),
		MinIOUseSSL:     GetEnv("MINIO_USE_SSL", "false") == "true",
		FileStorePath:   GetEnv("FILESTORE_PATH", ""),
		TestBypassAuth:  GetEnv("TEST_BYPASS_AUTH", "false") == "true",
	}
	if v, err := strconv.ParseFloat(GetEnv("RATE_LIMIT_RPS", "0"), 64); err == nil {
		cfg.RateLimitRPS = v
	}
	if v, err := strconv.Atoi(GetEnv("RATE_LIMIT_BURST", "0")); err == nil {
		cfg.RateLimitBurst = v
	}
	return cfg
}

// DB is a minimal interface to allow mocking in tests.
type DB interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

// ObjectStore wraps the subset of MinIO we need for tests.
type ObjectStore interface {
	PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
	RemoveObject(ctx context.Context, bucketName, objectName string, opts minio.RemoveObjectOptions) error
}

// FsObjectStore implements ObjectStore on the local filesystem for
// development and testing.
type FsObjectStore struct {
	Base string
}

func (f *FsObjectStore) dir(bucketName string) string {
	base := filepath.Clean(f.Base)
	if bucketName == "" {
		return base
	}
	return filepath.Join(base, bucketName)
}

// safePath constrains object paths within the bucket dir to prevent traversal.
func (f *FsObjectStore) safePath(bucketName, objectName string) (string, error) {
	dir := f.dir(bucketName)
	clean := filepath.Clean(filepath.Join(dir, objectName))
	if !strings.HasPrefix(clean, dir+string(os.PathSeparator)) && clean != dir {
		return "", os.ErrPermission
	}
	return clean, nil
}

func (f *FsObjectStore) PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64, opts minio.PutObjectOptions) (minio.UploadInfo, error) {
	_ = ctx
	if err := os.MkdirAll(f.dir(bucketName), 0o755); err != nil {
		return minio.UploadInfo{}, err
	}
	fp, err := f.safePath(bucketName, objectName)
	if err != nil {
		return minio.UploadInfo{}, err
	}
	tmp := fp + ".tmp"
	out, err := os.Create(tmp)
	if err != nil {
		return minio.UploadInfo{}, err
	}
	defer out.Close()
	if _, err := io.Copy(out, reader); err != nil {
		_ = os.Remove(tmp)
		return minio.UploadInfo{}, err
	}
	if err := os.Rename(tmp, fp); err != nil {
		return minio.UploadInfo{}, err
	}
	return minio.UploadInfo{Bucket: bucketName, Key: objectName, Size: objectSize}, nil
}

func (f *FsObjectStore) RemoveObject(ctx context.Context, bucketName, objectName string, opts minio.RemoveObjectOptions) error {
	_ = ctx
	_ = opts
	fp, err := f.safePath(bucketName, objectName)
	if err != nil {
		return err
	}
	return os.Remove(fp)
}

// PresignedPutObject is not supported for the filesystem store.
func (f *FsObjectStore) PresignedPutObject(ctx context.Context, bucketName, objectName string, expiry time.Duration) (*url.URL, error) {
	_ = ctx
	return nil, os.ErrPermission
}

// StatObject returns basic info for a stored object.
func (f *FsObjectStore) StatObject(ctx context.Context, bucketName, objectName string, opts minio.StatObjectOptions) (minio.ObjectInfo, error) {
	_ = ctx
	_ = opts
	fp, err := f.safePath(bucketName, objectName)
	if err != nil {
		return minio.ObjectInfo{}, err
	}
	fi, err := os.Stat(fp)
	if err != nil {
		return minio.ObjectInfo{}, err
	}
	return minio.ObjectInfo{Key: objectName, Size: fi.Size()}, nil
}

// App wires dependencies and the Gin router.
type App struct {
	Cfg      Config
	DB       DB
	Store    ticketstore.Store
	R        *gin.Engine
	Keyf     jwt.Keyfunc
	M        ObjectStore
	Q        *redis.Client
	Jobs     *notify.Queue
	Upstream *proxy.Client
}

// NewApp constructs an App with injected dependencies.
func NewApp(cfg Config, db DB, store ticketstore.Store, keyf jwt.Keyfunc, objs ObjectStore, q *redis.Client) *App {
	a := &App{Cfg: cfg, DB: db, Store: store, R: gin.New(), Keyf: keyf, M: objs, Q: q, Jobs: notify.New(q)}
	if cfg.UpstreamAPIBase != "" {
		a.Upstream = proxy.New(cfg.UpstreamAPIBase)
	}
	a.R.Use(gin.Recovery())
	a.R.Use(RequestID())
	if cfg.RateLimitRPS > 0 && cfg.RateLimitBurst > 0 {
		rl := rate.NewLimiter(rate.Limit(cfg.RateLimitRPS), cfg.RateLimitBurst)
		a.R.Use(RateLimit(rl))
	}
	a.R.Use(Logger())
	a.R.Use(CORS())
	return a
}
