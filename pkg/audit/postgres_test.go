package audit

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

type fakeDB struct {
	execs []string
	args  [][]any
	fail  bool
}

func (f *fakeDB) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	if f.fail {
		return pgconn.CommandTag{}, errors.New("db down")
	}
	f.execs = append(f.execs, sql)
	f.args = append(f.args, args)
	return pgconn.NewCommandTag("INSERT 0 1"), nil
}

func TestPostgresSinkWrite(t *testing.T) {
	db := &fakeDB{}
	sink := &PostgresSink{DB: db}
	entries := []Entry{
		{ID: "a", Timestamp: time.Now(), ClientIP: "10.0.0.1", Path: "/admin", Method: "GET", Success: false, Reason: "Unauthenticated"},
		{ID: "b", Timestamp: time.Now(), ClientIP: "10.0.0.2", Path: "/", Method: "GET", Success: true},
	}
	if err := sink.Write(context.Background(), entries); err != nil {
		t.Fatalf("write: %v", err)
	}
	if len(db.execs) != 2 || !strings.Contains(db.execs[0], "INSERT INTO access_log") {
		t.Fatalf("unexpected statements: %v", db.execs)
	}
	if db.args[0][0] != "a" || db.args[1][0] != "b" {
		t.Fatalf("unexpected insert args: %+v", db.args)
	}
}

func TestPostgresSinkWriteError(t *testing.T) {
	sink := &PostgresSink{DB: &fakeDB{fail: true}}
	err := sink.Write(context.Background(), []Entry{{ID: "a"}})
	if err == nil || !strings.Contains(err.Error(), "insert entry") {
		t.Fatalf("expected wrapped insert error, got %v", err)
	}
}

func TestPostgresSinkEnsureSchema(t *testing.T) {
	db := &fakeDB{}
	sink := &PostgresSink{DB: db}
	if err := sink.EnsureSchema(context.Background()); err != nil {
		t.Fatalf("ensure schema: %v", err)
	}
	if len(db.execs) != 1 || !strings.Contains(db.execs[0], "CREATE TABLE IF NOT EXISTS access_log") {
		t.Fatalf("unexpected schema statement: %v", db.execs)
	}
}
