// The worker command drains the redis job queue the API feeds: outbound
// notification emails, plus an optional IMAP poller that turns inbound
// support mail into tickets and thread replies.
package main

import (
	"bytes"
	"context"
	"embed"
	"encoding/json"
	"fmt"
	"net/smtp"
	"os"
	"regexp"
	"strings"
	"text/template"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/microcosm-cc/bluemonday"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/storekit/support-go/internal/notify"
	"github.com/storekit/support-go/internal/ticketstore"
)

type Config struct {
	DatabaseURL   string
	RedisAddr     string
	Env           string
	SMTPHost      string
	SMTPPort      string
	SMTPUser      string
	SMTPPass      string
	SMTPFrom      string
	IMAPHost      string
	IMAPUser      string
	IMAPPass      string
	IMAPFolder    string
	MinIOEndpoint string
	MinIOAccess   string
	MinIOSecret   string
	MinIOBucket   string
	MinIOUseSSL   bool
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func cfg() Config {
	_ = godotenv.Load()
	return Config{
		DatabaseURL:   getEnv("DATABASE_URL", ""),
		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		Env:           getEnv("ENV", "dev"),
		SMTPHost:      getEnv("SMTP_HOST", ""),
		SMTPPort:      getEnv("SMTP_PORT", "25"),
		SMTPUser:      getEnv("SMTP_USER", ""),
		SMTPPass:      getEnv("SMTP_PASS", ""),
		SMTPFrom:      getEnv("SMTP_FROM", ""),
		IMAPHost:      getEnv("IMAP_HOST", ""),
		IMAPUser:      getEnv("IMAP_USER", ""),
		IMAPPass:      getEnv("IMAP_PASS", ""),
		IMAPFolder:    getEnv("IMAP_FOLDER", "INBOX"),
		MinIOEndpoint: getEnv("MINIO_ENDPOINT", ""),
		MinIOAccess:   getEnv("MINIO_ACCESS_KEY", ""),
		MinIOSecret:   getEnv("MINIO_SECRET_KEY", ""),
		MinIOBucket:   getEnv("MINIO_BUCKET", ""),
		MinIOUseSSL:   getEnv("MINIO_USE_SSL", "false") == "true",
	}
}

//go:embed templates/*.tmpl
var templatesFS embed.FS

var mailTemplates = template.Must(template.ParseFS(templatesFS, "templates/*.tmpl"))

// Email address validation regex based on RFC 5322 simplified pattern
var emailRegex = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)

// HTML sanitization policy for inbound email bodies
var htmlPolicy = bluemonday.UGCPolicy()

// sanitizeEmailHeader removes CRLF characters that could be used for header injection
func sanitizeEmailHeader(input string) string {
	sanitized := strings.ReplaceAll(input, "\r", "")
	sanitized = strings.ReplaceAll(sanitized, "\n", "")
	return strings.TrimSpace(sanitized)
}

func validateEmailAddress(email string) error {
	email = strings.TrimSpace(email)
	if email == "" {
		return fmt.Errorf("email address cannot be empty")
	}
	if !emailRegex.MatchString(email) {
		return fmt.Errorf("invalid email address format: %s", email)
	}
	return nil
}

func sanitizeAndValidateEmail(email string) (string, error) {
	sanitized := sanitizeEmailHeader(email)
	if err := validateEmailAddress(sanitized); err != nil {
		return "", err
	}
	return sanitized, nil
}

func sanitizeEmailBody(body []byte) string {
	return string(htmlPolicy.SanitizeBytes(body))
}

// smtpSendMail is indirect so tests can capture the outbound message.
var smtpSendMail = smtp.SendMail

func sendEmail(c Config, j notify.EmailJob) error {
	to, err := sanitizeAndValidateEmail(j.To)
	if err != nil {
		return fmt.Errorf("invalid To address: %w", err)
	}
	from, err := sanitizeAndValidateEmail(c.SMTPFrom)
	if err != nil {
		return fmt.Errorf("invalid From address: %w", err)
	}

	var subjBuf, bodyBuf bytes.Buffer
	if err := mailTemplates.ExecuteTemplate(&subjBuf, j.Template+"_subject", j.Data); err != nil {
		return err
	}
	if err := mailTemplates.ExecuteTemplate(&bodyBuf, j.Template+"_body", j.Data); err != nil {
		return err
	}

	msg := bytes.Buffer{}
	msg.WriteString("From: " + from + "\r\n")
	msg.WriteString("To: " + to + "\r\n")
	msg.WriteString("Subject: " + sanitizeEmailHeader(subjBuf.String()) + "\r\n\r\n")
	msg.Write(bodyBuf.Bytes())

	addr := c.SMTPHost + ":" + c.SMTPPort
	var auth smtp.Auth
	if c.SMTPUser != "" {
		auth = smtp.PlainAuth("", c.SMTPUser, c.SMTPPass, c.SMTPHost)
	}
	return smtpSendMail(addr, auth, from, []string{to}, msg.Bytes())
}

type sendFunc func(Config, notify.EmailJob) error

// processQueueJob blocks for one job and dispatches it.
func processQueueJob(ctx context.Context, c Config, rdb *redis.Client, send sendFunc) error {
	res, err := rdb.BLPop(ctx, 0, notify.QueueKey).Result()
	if err != nil {
		return err
	}
	if len(res) < 2 {
		return nil
	}
	var job notify.Job
	if err := json.Unmarshal([]byte(res[1]), &job); err != nil {
		log.Error().Err(err).Msg("unmarshal job")
		return nil
	}
	switch job.Type {
	case "send_email":
		var ej notify.EmailJob
		if err := json.Unmarshal(job.Data, &ej); err != nil {
			log.Error().Err(err).Msg("unmarshal email job")
			return nil
		}
		if err := send(c, ej); err != nil {
			log.Error().Err(err).Str("to", ej.To).Str("template", ej.Template).Msg("send email")
		}
	default:
		log.Warn().Str("type", job.Type).Msg("unknown job type")
	}
	return nil
}

func main() {
	c := cfg()
	if c.Env == "dev" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})
	}
	ctx := context.Background()

	var db *pgxpool.Pool
	var store ticketstore.Store
	if c.DatabaseURL != "" {
		var err error
		db, err = pgxpool.New(ctx, c.DatabaseURL)
		if err != nil {
			log.Fatal().Err(err).Msg("db connect")
		}
		defer db.Close()
		store = ticketstore.NewPostgres(db)
	}

	rdb := redis.NewClient(&redis.Options{Addr: c.RedisAddr})
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Error().Err(err).Msg("redis ping failed (queue not active yet)")
	}
	defer rdb.Close()

	var mc *minio.Client
	if c.MinIOEndpoint != "" {
		var err error
		mc, err = minio.New(c.MinIOEndpoint, &minio.Options{
			Creds:  credentials.NewStaticV4(c.MinIOAccess, c.MinIOSecret, ""),
			Secure: c.MinIOUseSSL,
		})
		if err != nil {
			log.Error().Err(err).Msg("minio init")
		}
	}

	if c.IMAPHost != "" && store != nil {
		users := &pgCustomers{db: db}
		go func() {
			for {
				if err := pollIMAP(ctx, c, store, users, mc); err != nil {
					log.Error().Err(err).Msg("poll imap")
				}
				time.Sleep(time.Minute)
			}
		}()
	}

	log.Info().Msg("worker started")
	for {
		if err := processQueueJob(ctx, c, rdb, sendEmail); err != nil {
			log.Error().Err(err).Msg("blpop")
			time.Sleep(time.Second)
		}
	}
}

// pgCustomers resolves inbound senders against the users table.
type pgCustomers struct {
	db *pgxpool.Pool
}

func (p *pgCustomers) ByEmail(ctx context.Context, email string) (int64, string, bool) {
	var id int64
	var name string
	err := p.db.QueryRow(ctx,
		`select id, name from users where lower(email)=lower($1)`, email).Scan(&id, &name)
	if err != nil {
		return 0, "", false
	}
	return id, name, true
}
