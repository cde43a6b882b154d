package ticketstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DB is the minimal pgx surface the Postgres store needs; *pgxpool.Pool
// satisfies it, and tests substitute fakes.
type DB interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Postgres implements Store on a relational database.
type Postgres struct {
	db DB
}

func NewPostgres(db DB) *Postgres { return &Postgres{db: db} }

const ticketCols = `id, title, description, category, priority, status,
customer_email, customer_name, customer_id, assigned_to_user_id,
created_at, updated_at, resolved_at, archived_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTicket(r rowScanner) (*Ticket, error) {
	var t Ticket
	err := r.Scan(&t.ID, &t.Title, &t.Description, &t.Category, &t.Priority,
		&t.Status, &t.CustomerEmail, &t.CustomerName, &t.CustomerID,
		&t.AssignedToUserID, &t.CreatedAt, &t.UpdatedAt, &t.ResolvedAt, &t.ArchivedAt)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (s *Postgres) queryTickets(ctx context.Context, op, sql string, args ...any) ([]Ticket, error) {
	rows, err := s.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("ticketstore: %s: %w", op, err)
	}
	defer rows.Close()
	out := []Ticket{}
	for rows.Next() {
		t, err := scanTicket(rows)
		if err != nil {
			return nil, fmt.Errorf("ticketstore: %s: %w", op, err)
		}
		out = append(out, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ticketstore: %s: %w", op, err)
	}
	return out, nil
}

func (s *Postgres) All(ctx context.Context) ([]Ticket, error) {
	return s.queryTickets(ctx, "all",
		`select `+ticketCols+` from tickets order by created_at desc`)
}

func (s *Postgres) ByCustomerEmail(ctx context.Context, email string) ([]Ticket, error) {
	return s.queryTickets(ctx, "by customer email",
		`select `+ticketCols+` from tickets where customer_email=$1 order by created_at desc`, email)
}

// ByCustomerID resolves the customer's email first and scopes by that,
// matching the denormalized copy taken at creation time.
func (s *Postgres) ByCustomerID(ctx context.Context, id int64) ([]Ticket, error) {
	var email string
	err := s.db.QueryRow(ctx, `select email from users where id=$1`, id).Scan(&email)
	if errors.Is(err, pgx.ErrNoRows) {
		return []Ticket{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("ticketstore: by customer id: %w", err)
	}
	return s.ByCustomerEmail(ctx, email)
}

func (s *Postgres) ByID(ctx context.Context, id int64) (*Ticket, error) {
	row := s.db.QueryRow(ctx, `select `+ticketCols+` from tickets where id=$1`, id)
	t, err := scanTicket(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("ticketstore: by id: %w", err)
	}
	return t, nil
}

func (s *Postgres) Create(ctx context.Context, in NewTicket) (*Ticket, error) {
	if in.CustomerID == nil {
		return nil, ErrCustomerIDRequired
	}
	in = withDefaults(in)
	now := time.Now().UTC()
	const q = `insert into tickets
(title, description, category, priority, status, customer_email, customer_name, customer_id, assigned_to_user_id, created_at, updated_at)
values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $10)
returning ` + ticketCols
	row := s.db.QueryRow(ctx, q, in.Title, in.Description, in.Category, in.Priority,
		StatusOpen, in.CustomerEmail, in.CustomerName, in.CustomerID, in.AssignedToUserID, now)
	t, err := scanTicket(row)
	if err != nil {
		return nil, fmt.Errorf("ticketstore: create: %w", err)
	}
	return t, nil
}

// Update applies a partial update; omitted fields keep their prior value.
// resolved_at and archived_at are stamped only when the new status
// reaches them and are never cleared by later transitions.
func (s *Postgres) Update(ctx context.Context, id int64, in TicketUpdate) (*Ticket, error) {
	now := time.Now().UTC()
	const q = `update tickets set
title=coalesce($1,title),
description=coalesce($2,description),
category=coalesce($3,category),
priority=coalesce($4,priority),
status=coalesce($5,status),
assigned_to_user_id=coalesce($6,assigned_to_user_id),
updated_at=$7,
resolved_at=case when $5='resolved' then $7 else resolved_at end,
archived_at=case when $5='archived' then $7 else archived_at end
where id=$8
returning ` + ticketCols
	row := s.db.QueryRow(ctx, q, in.Title, in.Description, in.Category,
		in.Priority, in.Status, in.AssignedToUserID, now, id)
	t, err := scanTicket(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("ticketstore: update: %w", err)
	}
	return t, nil
}

func (s *Postgres) UpdateStatus(ctx context.Context, id int64, status string) (*Ticket, error) {
	return s.Update(ctx, id, TicketUpdate{Status: &status})
}

// Archive re-stamps archived_at on every call, matching Update's CASE
// behavior for repeat transitions into the same status.
func (s *Postgres) Archive(ctx context.Context, id int64) (*Ticket, error) {
	now := time.Now().UTC()
	const q = `update tickets set status='archived', archived_at=$1, updated_at=$1 where id=$2 returning ` + ticketCols
	row := s.db.QueryRow(ctx, q, now, id)
	t, err := scanTicket(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("ticketstore: archive: %w", err)
	}
	return t, nil
}

// Delete removes the thread then the ticket inside one transaction.
func (s *Postgres) Delete(ctx context.Context, id int64) (bool, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("ticketstore: delete: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()
	if _, err := tx.Exec(ctx, `delete from ticket_messages where ticket_id=$1`, id); err != nil {
		return false, fmt.Errorf("ticketstore: delete messages: %w", err)
	}
	tag, err := tx.Exec(ctx, `delete from tickets where id=$1`, id)
	if err != nil {
		return false, fmt.Errorf("ticketstore: delete: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("ticketstore: delete: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

const messageCols = `id, ticket_id, message, is_from_customer, sender_name,
coalesce(sender_email, ''), attachments, created_at`

func (s *Postgres) Messages(ctx context.Context, ticketID int64) ([]Message, error) {
	rows, err := s.db.Query(ctx,
		`select `+messageCols+` from ticket_messages where ticket_id=$1 order by created_at asc`, ticketID)
	if err != nil {
		return nil, fmt.Errorf("ticketstore: messages: %w", err)
	}
	defer rows.Close()
	out := []Message{}
	for rows.Next() {
		var m Message
		var att *string
		if err := rows.Scan(&m.ID, &m.TicketID, &m.Message, &m.IsFromCustomer,
			&m.SenderName, &m.SenderEmail, &att, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("ticketstore: messages: %w", err)
		}
		if att != nil {
			m.Attachments = []byte(*att)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ticketstore: messages: %w", err)
	}
	return out, nil
}

// AddMessage inserts the message and bumps the parent ticket's
// updated_at in the same transaction, so ticket lists stay ordered by
// last activity.
func (s *Postgres) AddMessage(ctx context.Context, in NewMessage) (*Message, error) {
	now := time.Now().UTC()
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("ticketstore: add message: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()
	var att *string
	if len(in.Attachments) > 0 {
		s := string(in.Attachments)
		att = &s
	}
	const q = `insert into ticket_messages
(ticket_id, message, is_from_customer, sender_name, sender_email, attachments, created_at)
values ($1, $2, $3, $4, nullif($5,''), $6, $7)
returning ` + messageCols
	var m Message
	var outAtt *string
	row := tx.QueryRow(ctx, q, in.TicketID, in.Message, in.IsFromCustomer,
		in.SenderName, in.SenderEmail, att, now)
	if err := row.Scan(&m.ID, &m.TicketID, &m.Message, &m.IsFromCustomer,
		&m.SenderName, &m.SenderEmail, &outAtt, &m.CreatedAt); err != nil {
		return nil, fmt.Errorf("ticketstore: add message: %w", err)
	}
	if outAtt != nil {
		m.Attachments = []byte(*outAtt)
	}
	if _, err := tx.Exec(ctx, `update tickets set updated_at=$1 where id=$2`, now, in.TicketID); err != nil {
		return nil, fmt.Errorf("ticketstore: touch ticket: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("ticketstore: add message: %w", err)
	}
	return &m, nil
}
