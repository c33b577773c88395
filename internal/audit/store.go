// Package audit persists the grant lifecycle to the state database.
package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mattjoyce/wayguard/internal/authz"
	"github.com/mattjoyce/wayguard/internal/config"
)

// Entry is one row of the grant log.
type Entry struct {
	Seq         int64     `json:"seq"`
	GrantID     string    `json:"grant_id"`
	Name        string    `json:"name,omitempty"`
	Event       string    `json:"event"`
	Reason      string    `json:"reason,omitempty"`
	Permissions []string  `json:"permissions"`
	Command     string    `json:"command,omitempty"`
	CommandHash string    `json:"command_hash,omitempty"`
	ClientID    uint32    `json:"client_id,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Store reads and writes the grant_log table.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db, now: time.Now}
}

// Record appends ev to the log.
func (s *Store) Record(ctx context.Context, ev authz.Event) error {
	perms, err := json.Marshal(ev.Grant.Permissions)
	if err != nil {
		return fmt.Errorf("marshal permissions: %w", err)
	}
	var hash string
	if ev.Grant.Command != "" {
		hash = config.CommandFingerprint(ev.Grant.Command)
	}

	_, err = s.db.ExecContext(ctx, `
INSERT INTO grant_log(grant_id, name, event, reason, permissions, command, command_hash, client_id, created_at)
VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?);`,
		ev.Grant.ID,
		ev.Grant.Name,
		string(ev.Type),
		string(ev.Reason),
		string(perms),
		ev.Grant.Command,
		hash,
		int64(ev.Grant.ClientID),
		s.now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("insert grant log: %w", err)
	}
	return nil
}

// List returns up to limit entries, newest first. An empty grantID lists
// every grant.
func (s *Store) List(ctx context.Context, grantID string, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT seq, grant_id, name, event, reason, permissions, command, command_hash, client_id, created_at
FROM grant_log`
	args := []any{}
	if grantID != "" {
		query += " WHERE grant_id = ?"
		args = append(args, grantID)
	}
	query += " ORDER BY seq DESC LIMIT ?;"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query grant log: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			e                             Entry
			name, reason, command, cmdHash sql.NullString
			clientID                      sql.NullInt64
			perms, created                string
		)
		if err := rows.Scan(&e.Seq, &e.GrantID, &name, &e.Event, &reason, &perms, &command, &cmdHash, &clientID, &created); err != nil {
			return nil, fmt.Errorf("scan grant log: %w", err)
		}
		e.Name = name.String
		e.Reason = reason.String
		e.Command = command.String
		e.CommandHash = cmdHash.String
		e.ClientID = uint32(clientID.Int64)
		if err := json.Unmarshal([]byte(perms), &e.Permissions); err != nil {
			return nil, fmt.Errorf("decode permissions for seq %d: %w", e.Seq, err)
		}
		if e.CreatedAt, err = time.Parse(time.RFC3339Nano, created); err != nil {
			return nil, fmt.Errorf("parse created_at for seq %d: %w", e.Seq, err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate grant log: %w", err)
	}
	return out, nil
}

// Prune deletes entries older than retention and returns how many went.
func (s *Store) Prune(ctx context.Context, retention time.Duration) (int64, error) {
	cutoff := s.now().Add(-retention).UTC().Format(time.RFC3339Nano)
	res, err := s.db.ExecContext(ctx, "DELETE FROM grant_log WHERE created_at < ?;", cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune grant log: %w", err)
	}
	return res.RowsAffected()
}
