package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/mmynk/walktracker/internal/models"
)

const entryColumns = `id, start_time, end_time, status, mode, location, pees, poops, revision, created_at, updated_at`

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (*models.Entry, error) {
	e := &models.Entry{Type: models.EntryType}
	var start int64
	var end sql.NullInt64

	if err := row.Scan(&e.ID, &start, &end, &e.Status, &e.Mode, &e.Location,
		&e.Pees, &e.Poops, &e.Revision, &e.CreatedAt, &e.UpdatedAt); err != nil {
		return nil, err
	}

	e.StartTime = fromMillis(start)
	if end.Valid {
		t := fromMillis(end.Int64)
		e.EndTime = &t
	}
	e.Users = []models.User{}
	return e, nil
}

func endTimeArg(e *models.Entry) any {
	if e.EndTime == nil {
		return nil
	}
	return toMillis(*e.EndTime)
}

// CreateEntry persists a new entry and its users.
func (s *SQLiteStore) CreateEntry(ctx context.Context, entry *models.Entry) error {
	// Generate ID if not set
	if entry.ID == "" || entry.IsTemporary() {
		entry.ID = uuid.New().String()
	}
	now := s.now().Unix()
	storedTimes(entry)
	entry.Type = models.EntryType
	entry.Revision = 1
	entry.CreatedAt = now
	entry.UpdatedAt = now

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO entries (`+entryColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, toMillis(entry.StartTime), endTimeArg(entry), entry.Status, entry.Mode, entry.Location,
		entry.Pees, entry.Poops, entry.Revision, entry.CreatedAt, entry.UpdatedAt,
	)
	if isConstraintViolation(err) {
		return fmt.Errorf("failed to insert entry: %w", models.ErrConflict)
	}
	if err != nil {
		return fmt.Errorf("failed to insert entry: %w", err)
	}

	if err := insertEntryUsers(ctx, tx, entry.ID, entry.Users); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func insertEntryUsers(ctx context.Context, tx *sql.Tx, entryID string, users []models.User) error {
	for i, u := range users {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO entry_users (entry_id, email, name, image, position) VALUES (?, ?, ?, ?, ?)`,
			entryID, u.Email, u.Name, nullString(u.Image), i,
		)
		if err != nil {
			return fmt.Errorf("failed to insert entry user: %w", err)
		}
	}
	return nil
}

// GetEntry retrieves an entry by ID, including its users.
func (s *SQLiteStore) GetEntry(ctx context.Context, entryID string) (*models.Entry, error) {
	return getEntry(ctx, s.db, entryID)
}

func getEntry(ctx context.Context, q querier, entryID string) (*models.Entry, error) {
	e, err := scanEntry(q.QueryRowContext(ctx,
		`SELECT `+entryColumns+` FROM entries WHERE id = ?`, entryID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("entry", entryID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get entry: %w", err)
	}

	if err := attachUsers(ctx, q, []*models.Entry{e}); err != nil {
		return nil, err
	}
	return e, nil
}

// UpdateEntry writes every mutable field of entry if the stored revision is
// still expectedRevision. The user set is replaced.
func (s *SQLiteStore) UpdateEntry(ctx context.Context, entry *models.Entry, expectedRevision int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := s.now().Unix()
	storedTimes(entry)
	res, err := tx.ExecContext(ctx,
		`UPDATE entries
		 SET start_time = ?, end_time = ?, status = ?, location = ?, pees = ?, poops = ?,
		     revision = revision + 1, updated_at = ?
		 WHERE id = ? AND revision = ?`,
		toMillis(entry.StartTime), endTimeArg(entry), entry.Status, entry.Location,
		entry.Pees, entry.Poops, now, entry.ID, expectedRevision,
	)
	if isConstraintViolation(err) {
		return fmt.Errorf("failed to update entry: %w", models.ErrConflict)
	}
	if err != nil {
		return fmt.Errorf("failed to update entry: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n == 0 {
		var rev int64
		err := tx.QueryRowContext(ctx, "SELECT revision FROM entries WHERE id = ?", entry.ID).Scan(&rev)
		if errors.Is(err, sql.ErrNoRows) {
			return notFound("entry", entry.ID)
		}
		if err != nil {
			return fmt.Errorf("failed to check entry revision: %w", err)
		}
		return fmt.Errorf("entry %s at revision %d, caller saw %d: %w", entry.ID, rev, expectedRevision, models.ErrConflict)
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM entry_users WHERE entry_id = ?", entry.ID); err != nil {
		return fmt.Errorf("failed to clear entry users: %w", err)
	}
	if err := insertEntryUsers(ctx, tx, entry.ID, entry.Users); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	entry.Revision = expectedRevision + 1
	entry.UpdatedAt = now
	return nil
}

// AddEntryUser adds a user to an active entry in one transaction. The insert
// is a set-add keyed by (entry, email), so concurrent appends of different
// users both land.
func (s *SQLiteStore) AddEntryUser(ctx context.Context, entryID string, user models.User) (*models.Entry, bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var status models.Status
	err = tx.QueryRowContext(ctx, "SELECT status FROM entries WHERE id = ?", entryID).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, notFound("entry", entryID)
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to get entry status: %w", err)
	}
	if status != models.StatusActive {
		return nil, false, models.NewValidationError("status", "users can only join active walks")
	}

	res, err := tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO entry_users (entry_id, email, name, image, position)
		 VALUES (?, ?, ?, ?, (SELECT COUNT(*) FROM entry_users WHERE entry_id = ?))`,
		entryID, user.Email, user.Name, nullString(user.Image), entryID,
	)
	if err != nil {
		return nil, false, fmt.Errorf("failed to add entry user: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, false, fmt.Errorf("failed to read rows affected: %w", err)
	}

	added := n > 0
	if added {
		if _, err := tx.ExecContext(ctx,
			"UPDATE entries SET revision = revision + 1, updated_at = ? WHERE id = ?",
			s.now().Unix(), entryID,
		); err != nil {
			return nil, false, fmt.Errorf("failed to bump revision: %w", err)
		}
	}

	e, err := getEntry(ctx, tx, entryID)
	if err != nil {
		return nil, false, err
	}

	if err := tx.Commit(); err != nil {
		return nil, false, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return e, added, nil
}

// DeleteEntry removes an entry. Deleting an unknown ID returns nil, nil.
func (s *SQLiteStore) DeleteEntry(ctx context.Context, entryID string) (*models.Entry, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	e, err := getEntry(ctx, tx, entryID)
	if errors.Is(err, models.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM entries WHERE id = ?", entryID); err != nil {
		return nil, fmt.Errorf("failed to delete entry: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return e, nil
}

// ActiveEntry returns the active auto entry, or nil if no walk is in progress.
func (s *SQLiteStore) ActiveEntry(ctx context.Context) (*models.Entry, error) {
	entries, err := s.listEntries(ctx,
		`WHERE status = 'active' AND mode = 'auto' ORDER BY start_time DESC LIMIT 1`)
	if err != nil {
		return nil, fmt.Errorf("failed to get active entry: %w", err)
	}
	if len(entries) == 0 {
		return nil, nil
	}
	return &entries[0], nil
}

// LatestOutsideEntry returns the most recent outside entry, or nil.
func (s *SQLiteStore) LatestOutsideEntry(ctx context.Context) (*models.Entry, error) {
	entries, err := s.listEntries(ctx,
		`WHERE location = 'outside' ORDER BY start_time DESC LIMIT 1`)
	if err != nil {
		return nil, fmt.Errorf("failed to get latest outside entry: %w", err)
	}
	if len(entries) == 0 {
		return nil, nil
	}
	return &entries[0], nil
}

// ListCompleted returns every completed entry, newest first.
func (s *SQLiteStore) ListCompleted(ctx context.Context) ([]models.Entry, error) {
	entries, err := s.listEntries(ctx,
		`WHERE status = 'completed' ORDER BY start_time DESC, id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list completed entries: %w", err)
	}
	return entries, nil
}

// ListCompletedBetween returns completed entries starting in [from, to).
func (s *SQLiteStore) ListCompletedBetween(ctx context.Context, from, to time.Time) ([]models.Entry, error) {
	entries, err := s.listEntries(ctx,
		`WHERE status = 'completed' AND start_time >= ? AND start_time < ? ORDER BY start_time DESC, id`,
		toMillis(from), toMillis(to))
	if err != nil {
		return nil, fmt.Errorf("failed to list entries between %s and %s: %w",
			from.Format(time.RFC3339), to.Format(time.RFC3339), err)
	}
	return entries, nil
}

// listEntries runs a SELECT over entries with the given clause and attaches
// users once the entry rows are closed.
func (s *SQLiteStore) listEntries(ctx context.Context, clause string, args ...any) ([]models.Entry, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+entryColumns+` FROM entries `+clause, args...)
	if err != nil {
		return nil, err
	}

	var ptrs []*models.Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan entry: %w", err)
		}
		ptrs = append(ptrs, e)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("failed to iterate entries: %w", err)
	}
	rows.Close()

	if err := attachUsers(ctx, s.db, ptrs); err != nil {
		return nil, err
	}

	entries := make([]models.Entry, len(ptrs))
	for i, e := range ptrs {
		entries[i] = *e
	}
	return entries, nil
}

// usersBatchSize bounds the IN list of one attachUsers query, well below
// SQLite's host parameter limit.
const usersBatchSize = 500

// attachUsers loads users for all given entries, one IN query per batch.
func attachUsers(ctx context.Context, q querier, entries []*models.Entry) error {
	byID := make(map[string]*models.Entry, len(entries))
	for _, e := range entries {
		byID[e.ID] = e
	}

	for start := 0; start < len(entries); start += usersBatchSize {
		end := min(start+usersBatchSize, len(entries))
		if err := attachUsersBatch(ctx, q, byID, entries[start:end]); err != nil {
			return err
		}
	}
	return nil
}

func attachUsersBatch(ctx context.Context, q querier, byID map[string]*models.Entry, batch []*models.Entry) error {
	args := make([]any, len(batch))
	for i, e := range batch {
		args[i] = e.ID
	}

	rows, err := q.QueryContext(ctx,
		`SELECT entry_id, email, name, image FROM entry_users
		 WHERE entry_id IN (?`+repeatPlaceholder(len(batch)-1)+`)
		 ORDER BY entry_id, position`,
		args...,
	)
	if err != nil {
		return fmt.Errorf("failed to get entry users: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var entryID string
		var u models.User
		var image sql.NullString
		if err := rows.Scan(&entryID, &u.Email, &u.Name, &image); err != nil {
			return fmt.Errorf("failed to scan entry user: %w", err)
		}
		if image.Valid {
			u.Image = image.String
		}
		if e, ok := byID[entryID]; ok {
			e.Users = append(e.Users, u)
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("failed to iterate entry users: %w", err)
	}
	return nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
