// Package notify enqueues background jobs for the worker process.
package notify

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// QueueKey is the redis list the worker consumes with BLPOP.
const QueueKey = "jobs"

type Job struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type EmailJob struct {
	To       string      `json:"to"`
	Template string      `json:"template"`
	Data     interface{} `json:"data"`
}

// Queue pushes jobs onto redis. A nil Queue or nil client is a no-op so
// callers never need to guard for a missing redis deployment.
type Queue struct {
	rdb *redis.Client
}

func New(rdb *redis.Client) *Queue { return &Queue{rdb: rdb} }

// Email enqueues an outbound email job. Best effort: failures are logged
// and never surfaced to the request that triggered them.
func (q *Queue) Email(ctx context.Context, to, template string, data interface{}) {
	if q == nil || q.rdb == nil || to == "" {
		return
	}
	payload, err := json.Marshal(EmailJob{To: to, Template: template, Data: data})
	if err != nil {
		return
	}
	b, err := json.Marshal(Job{Type: "send_email", Data: payload})
	if err != nil {
		return
	}
	if err := q.rdb.RPush(ctx, QueueKey, b).Err(); err != nil {
		log.Ctx(ctx).Error().Err(err).Str("template", template).Msg("enqueue email")
	}
}
