package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/hazyhaar/aibadge/confirm"
	"github.com/hazyhaar/aibadge/internal/dbopen"
	"github.com/hazyhaar/aibadge/internal/idgen"
)

// Lookup is one journalled confirmation lookup.
type Lookup struct {
	ID         string `json:"id"`
	SessionID  string `json:"session_id,omitempty"`
	Identifier string `json:"identifier"`
	Outcome    string `json:"outcome"`
	Status     int    `json:"status,omitempty"`
	ElapsedMS  int64  `json:"elapsed_ms"`
	Error      string `json:"error,omitempty"`
	CreatedAt  int64  `json:"created_at"`
}

// Journal writes confirm.Entry values to lookup_log for one session.
type Journal struct {
	store   *Store
	session string
	newID   idgen.Generator
}

// Journal returns a journal tagging its rows with session.
func (s *Store) Journal(session string) *Journal {
	return &Journal{
		store:   s,
		session: session,
		newID:   idgen.Prefixed("lkp_", idgen.Default),
	}
}

// Record implements confirm.Journal.
func (j *Journal) Record(ctx context.Context, e confirm.Entry) error {
	at := e.At
	if at.IsZero() {
		at = time.Now()
	}
	return dbopen.RunTx(ctx, j.store.DB, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO lookup_log
				(id, session_id, identifier, outcome, status, elapsed_ms, error, created_at)
			VALUES (?,?,?,?,?,?,?,?)`,
			j.newID(), j.session, e.Identifier, string(e.Outcome), e.Status,
			e.Elapsed.Milliseconds(), e.Error, at.UnixMilli(),
		)
		return err
	})
}

// RecentLookups returns the latest journal rows, newest first. An empty
// identifier selects all identifiers.
func (s *Store) RecentLookups(ctx context.Context, identifier string, limit int) ([]*Lookup, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `
		SELECT id, session_id, identifier, outcome, status, elapsed_ms, error, created_at
		FROM lookup_log`
	args := []any{}
	if identifier != "" {
		query += ` WHERE identifier = ?`
		args = append(args, identifier)
	}
	query += ` ORDER BY created_at DESC, id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Lookup
	for rows.Next() {
		l := &Lookup{}
		if err := rows.Scan(&l.ID, &l.SessionID, &l.Identifier, &l.Outcome,
			&l.Status, &l.ElapsedMS, &l.Error, &l.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// OutcomeCounts returns the number of journalled lookups per outcome.
func (s *Store) OutcomeCounts(ctx context.Context) (map[string]int, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT outcome, COUNT(*) FROM lookup_log GROUP BY outcome`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var outcome string
		var n int
		if err := rows.Scan(&outcome, &n); err != nil {
			return nil, err
		}
		counts[outcome] = n
	}
	return counts, rows.Err()
}
