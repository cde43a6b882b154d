package ticketstore

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// fakeRow implements pgx.Row.
type fakeRow struct {
	err  error
	scan func(dest ...any) error
}

func (r *fakeRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	if r.scan != nil {
		return r.scan(dest...)
	}
	return nil
}

// scanFullTicket fills a full ticket column list.
func scanFullTicket(dest ...any) error {
	now := time.Now().UTC()
	*(dest[0].(*int64)) = 1
	*(dest[1].(*string)) = "t"
	*(dest[2].(*string)) = "d"
	*(dest[3].(*string)) = "general"
	*(dest[4].(*string)) = "medium"
	*(dest[5].(*string)) = StatusOpen
	*(dest[6].(*string)) = "a@b.com"
	*(dest[7].(*string)) = "A"
	*(dest[8].(**int64)) = nil
	*(dest[9].(**int64)) = nil
	*(dest[10].(*time.Time)) = now
	*(dest[11].(*time.Time)) = now
	*(dest[12].(**time.Time)) = nil
	*(dest[13].(**time.Time)) = nil
	return nil
}

type call struct {
	sql  string
	args []any
}

type fakeDB struct {
	calls  []call
	rowErr error
}

func (db *fakeDB) record(sql string, args []any) {
	db.calls = append(db.calls, call{sql: sql, args: args})
}

func (db *fakeDB) Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error) {
	db.record(sql, args)
	return nil, pgx.ErrNoRows
}

func (db *fakeDB) QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row {
	db.record(sql, args)
	if db.rowErr != nil {
		return &fakeRow{err: db.rowErr}
	}
	return &fakeRow{scan: scanFullTicket}
}

func (db *fakeDB) Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error) {
	db.record(sql, args)
	return pgconn.NewCommandTag("DELETE 1"), nil
}

func (db *fakeDB) Begin(ctx context.Context) (pgx.Tx, error) {
	return &fakeTx{db: db}, nil
}

// fakeTx routes statements back to the fakeDB and tracks commit state.
type fakeTx struct {
	db        *fakeDB
	committed bool
}

func (t *fakeTx) Begin(ctx context.Context) (pgx.Tx, error) { return t, nil }
func (t *fakeTx) Commit(ctx context.Context) error          { t.committed = true; return nil }
func (t *fakeTx) Rollback(ctx context.Context) error        { return nil }
func (t *fakeTx) CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error) {
	return 0, nil
}
func (t *fakeTx) SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults { return nil }
func (t *fakeTx) LargeObjects() pgx.LargeObjects                               { return pgx.LargeObjects{} }
func (t *fakeTx) Prepare(ctx context.Context, name, sql string) (*pgconn.StatementDescription, error) {
	return nil, nil
}
func (t *fakeTx) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	return t.db.Exec(ctx, sql, args...)
}
func (t *fakeTx) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	return t.db.Query(ctx, sql, args...)
}
func (t *fakeTx) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	return t.db.QueryRow(ctx, sql, args...)
}
func (t *fakeTx) Conn() *pgx.Conn { return nil }

func TestPostgresUpdateSQLShape(t *testing.T) {
	db := &fakeDB{}
	s := NewPostgres(db)
	status := StatusResolved
	if _, err := s.Update(context.Background(), 1, TicketUpdate{Status: &status}); err != nil {
		t.Fatalf("update: %v", err)
	}
	sql := db.calls[0].sql
	for _, want := range []string{
		"coalesce($1,title)",
		"coalesce($5,status)",
		"case when $5='resolved' then $7 else resolved_at end",
		"case when $5='archived' then $7 else archived_at end",
	} {
		if !strings.Contains(sql, want) {
			t.Fatalf("update sql missing %q: %s", want, sql)
		}
	}
}

func TestPostgresByIDNotFound(t *testing.T) {
	db := &fakeDB{rowErr: pgx.ErrNoRows}
	s := NewPostgres(db)
	got, err := s.ByID(context.Background(), 42)
	if err != nil || got != nil {
		t.Fatalf("want nil, nil for missing row, got %v %v", got, err)
	}
}

func TestPostgresCreateRequiresCustomerID(t *testing.T) {
	s := NewPostgres(&fakeDB{})
	if _, err := s.Create(context.Background(), NewTicket{Title: "t", Description: "d", CustomerEmail: "a@b.com"}); err != ErrCustomerIDRequired {
		t.Fatalf("expected ErrCustomerIDRequired, got %v", err)
	}
}

func TestPostgresDeleteOrdering(t *testing.T) {
	db := &fakeDB{}
	s := NewPostgres(db)
	ok, err := s.Delete(context.Background(), 7)
	if err != nil || !ok {
		t.Fatalf("delete: %v %v", ok, err)
	}
	if len(db.calls) != 2 {
		t.Fatalf("expected 2 statements, got %d", len(db.calls))
	}
	if !strings.Contains(db.calls[0].sql, "delete from ticket_messages") {
		t.Fatalf("messages must be deleted first: %s", db.calls[0].sql)
	}
	if !strings.Contains(db.calls[1].sql, "delete from tickets") {
		t.Fatalf("ticket delete missing: %s", db.calls[1].sql)
	}
}

func TestPostgresAllOrderClause(t *testing.T) {
	db := &fakeDB{}
	s := NewPostgres(db)
	if _, err := s.All(context.Background()); err == nil {
		t.Fatalf("expected wrapped error from fake query")
	}
	if !strings.Contains(db.calls[0].sql, "order by created_at desc") {
		t.Fatalf("missing order clause: %s", db.calls[0].sql)
	}
}
