package audit

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
)

type auditDB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PostgresSink appends access entries to the access_log table.
type PostgresSink struct {
	DB auditDB
}

// EnsureSchema creates the access_log table when it does not exist yet.
func (s *PostgresSink) EnsureSchema(ctx context.Context) error {
	_, err := s.DB.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS access_log (
			id TEXT PRIMARY KEY,
			ts TIMESTAMPTZ NOT NULL,
			client_ip TEXT NOT NULL,
			path TEXT NOT NULL,
			method TEXT NOT NULL,
			user_agent TEXT,
			success BOOLEAN NOT NULL,
			reason TEXT,
			principal TEXT,
			fingerprint TEXT,
			trust_score DOUBLE PRECISION
		)
	`)
	if err != nil {
		return fmt.Errorf("audit: ensure schema: %w", err)
	}
	return nil
}

func (s *PostgresSink) Write(ctx context.Context, entries []Entry) error {
	for _, e := range entries {
		_, err := s.DB.Exec(ctx, `
			INSERT INTO access_log
			(id, ts, client_ip, path, method, user_agent, success, reason, principal, fingerprint, trust_score)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
			ON CONFLICT (id) DO NOTHING
		`, e.ID, e.Timestamp, e.ClientIP, e.Path, e.Method, e.UserAgent, e.Success, e.Reason, e.Principal, e.Fingerprint, e.TrustScore)
		if err != nil {
			return fmt.Errorf("audit: insert entry %s: %w", e.ID, err)
		}
	}
	return nil
}
