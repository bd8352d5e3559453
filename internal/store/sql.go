package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"agendas/api/internal/board"
	"agendas/api/internal/scope"
)

// Dialect selects the SQL flavour of a SQLStore. Queries are written with
// $n placeholders and rebound for SQLite.
type Dialect string

const (
	Postgres Dialect = "postgres"
	SQLite   Dialect = "sqlite"
)

var placeholder = regexp.MustCompile(`\$(\d+)`)

func (d Dialect) rebind(query string) string {
	if d == SQLite {
		return placeholder.ReplaceAllString(query, "?$1")
	}
	return query
}

func (d Dialect) isConflict(err error) bool {
	if d == SQLite {
		return isSQLiteConflict(err)
	}
	return isPostgresConflict(err)
}

// SQLStore persists indicators and meeting metadata in kpi_entries and
// meeting_metadata.
type SQLStore struct {
	db      *sql.DB
	dialect Dialect
}

func (s *SQLStore) DB() *sql.DB {
	return s.db
}

func (s *SQLStore) Dialect() Dialect {
	return s.dialect
}

func (s *SQLStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLStore) SelectIndicators(ctx context.Context, key scope.Key) ([]board.Record, error) {
	rows, err := s.db.QueryContext(ctx, s.dialect.rebind(`
		SELECT category, kpi_name, target, actual, status, actions
		FROM kpi_entries
		WHERE meeting_type = $1 AND branch_id = $2 AND meeting_date = $3
	`), key.Kind, key.BranchID, key.Date.String())
	if err != nil {
		return nil, fmt.Errorf("select indicators %s: %w", key, err)
	}
	defer rows.Close()

	var records []board.Record
	for rows.Next() {
		var record board.Record
		var status string
		if err := rows.Scan(&record.Category, &record.KPIName, &record.Target, &record.Actual, &status, &record.Actions); err != nil {
			return nil, fmt.Errorf("scan indicator: %w", err)
		}
		record.Status = board.Status(status)
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate indicators %s: %w", key, err)
	}
	return records, nil
}

// BulkInsertIndicators inserts all records in one transaction. Any existing
// row rolls back the whole batch with ErrConflict.
func (s *SQLStore) BulkInsertIndicators(ctx context.Context, key scope.Key, records []board.Record) error {
	if len(records) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin bulk insert: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, s.dialect.rebind(`
		INSERT INTO kpi_entries (meeting_type, branch_id, meeting_date, category, kpi_name, target, actual, status, actions)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`))
	if err != nil {
		return fmt.Errorf("prepare bulk insert: %w", err)
	}
	defer stmt.Close()

	for _, record := range records {
		if _, err := stmt.ExecContext(ctx, key.Kind, key.BranchID, key.Date.String(),
			record.Category, record.KPIName, record.Target, record.Actual, string(record.Status), record.Actions); err != nil {
			if s.dialect.isConflict(err) {
				return fmt.Errorf("bulk insert %s %q: %w", key, record.KPIName, ErrConflict)
			}
			return fmt.Errorf("bulk insert %s %q: %w", key, record.KPIName, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit bulk insert: %w", err)
	}
	return nil
}

// UpsertIndicator inserts the record or overwrites every value column of the
// existing row with the same natural key.
func (s *SQLStore) UpsertIndicator(ctx context.Context, key scope.Key, record board.Record) error {
	_, err := s.db.ExecContext(ctx, s.dialect.rebind(`
		INSERT INTO kpi_entries (meeting_type, branch_id, meeting_date, category, kpi_name, target, actual, status, actions)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (meeting_type, branch_id, meeting_date, category, kpi_name)
		DO UPDATE SET target=EXCLUDED.target, actual=EXCLUDED.actual, status=EXCLUDED.status,
			actions=EXCLUDED.actions, updated_at=CURRENT_TIMESTAMP
	`), key.Kind, key.BranchID, key.Date.String(),
		record.Category, record.KPIName, record.Target, record.Actual, string(record.Status), record.Actions)
	if err != nil {
		return fmt.Errorf("upsert indicator %s %q: %w", key, record.KPIName, err)
	}
	return nil
}

func (s *SQLStore) GetMetadata(ctx context.Context, key scope.MeetingKey) (board.Metadata, bool, error) {
	var meta board.Metadata
	var books string
	err := s.db.QueryRowContext(ctx, s.dialect.rebind(`
		SELECT facilitator, current_books FROM meeting_metadata
		WHERE meeting_type = $1 AND meeting_date = $2
	`), key.Kind, key.Date.String()).Scan(&meta.Facilitator, &books)
	if errors.Is(err, sql.ErrNoRows) {
		return board.Metadata{}, false, nil
	}
	if err != nil {
		return board.Metadata{}, false, fmt.Errorf("get metadata %s: %w", key, err)
	}
	if err := json.Unmarshal([]byte(books), &meta.ReadingList); err != nil {
		return board.Metadata{}, false, fmt.Errorf("decode reading list %s: %w", key, err)
	}
	return meta.Clone(), true, nil
}

func (s *SQLStore) InsertMetadata(ctx context.Context, key scope.MeetingKey, meta board.Metadata) error {
	books, err := encodeReadingList(meta)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, s.dialect.rebind(`
		INSERT INTO meeting_metadata (meeting_type, meeting_date, facilitator, current_books)
		VALUES ($1, $2, $3, $4)
	`), key.Kind, key.Date.String(), meta.Facilitator, books)
	if err != nil {
		if s.dialect.isConflict(err) {
			return fmt.Errorf("insert metadata %s: %w", key, ErrConflict)
		}
		return fmt.Errorf("insert metadata %s: %w", key, err)
	}
	return nil
}

func (s *SQLStore) UpsertMetadata(ctx context.Context, key scope.MeetingKey, meta board.Metadata) error {
	books, err := encodeReadingList(meta)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, s.dialect.rebind(`
		INSERT INTO meeting_metadata (meeting_type, meeting_date, facilitator, current_books)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (meeting_type, meeting_date)
		DO UPDATE SET facilitator=EXCLUDED.facilitator, current_books=EXCLUDED.current_books, updated_at=CURRENT_TIMESTAMP
	`), key.Kind, key.Date.String(), meta.Facilitator, books)
	if err != nil {
		return fmt.Errorf("upsert metadata %s: %w", key, err)
	}
	return nil
}

func encodeReadingList(meta board.Metadata) (string, error) {
	books, err := json.Marshal(meta.Clone().ReadingList)
	if err != nil {
		return "", fmt.Errorf("encode reading list: %w", err)
	}
	return string(books), nil
}

// SearchIndicators matches query case-insensitively against KPI names and
// action notes, newest meetings first.
func (s *SQLStore) SearchIndicators(ctx context.Context, query string, limit int) ([]IndicatorEntry, error) {
	if limit <= 0 {
		limit = 20
	}
	pattern := "%" + strings.ToLower(strings.TrimSpace(query)) + "%"
	rows, err := s.db.QueryContext(ctx, s.dialect.rebind(`
		SELECT meeting_type, branch_id, meeting_date, category, kpi_name, target, actual, status, actions
		FROM kpi_entries
		WHERE LOWER(actions) LIKE $1 OR LOWER(kpi_name) LIKE $1
		ORDER BY meeting_date DESC, branch_id, category, kpi_name
		LIMIT $2
	`), pattern, limit)
	if err != nil {
		return nil, fmt.Errorf("search indicators: %w", err)
	}
	return scanEntries(rows)
}

// ListIndicators returns every row that carries action notes.
func (s *SQLStore) ListIndicators(ctx context.Context) ([]IndicatorEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT meeting_type, branch_id, meeting_date, category, kpi_name, target, actual, status, actions
		FROM kpi_entries
		WHERE actions <> ''
		ORDER BY meeting_date, branch_id, category, kpi_name
	`)
	if err != nil {
		return nil, fmt.Errorf("list indicators: %w", err)
	}
	return scanEntries(rows)
}

func scanEntries(rows *sql.Rows) ([]IndicatorEntry, error) {
	defer rows.Close()
	var entries []IndicatorEntry
	for rows.Next() {
		var entry IndicatorEntry
		var date any
		var status string
		if err := rows.Scan(&entry.Scope.Kind, &entry.Scope.BranchID, &date,
			&entry.Record.Category, &entry.Record.KPIName, &entry.Record.Target,
			&entry.Record.Actual, &status, &entry.Record.Actions); err != nil {
			return nil, fmt.Errorf("scan indicator entry: %w", err)
		}
		parsed, err := scanDate(date)
		if err != nil {
			return nil, err
		}
		entry.Scope.Date = parsed
		entry.Record.Status = board.Status(status)
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate indicator entries: %w", err)
	}
	return entries, nil
}

// scanDate accepts the DATE representations of both drivers: pgx yields
// time.Time, SQLite yields text or a parsed time.
func scanDate(value any) (scope.Date, error) {
	switch v := value.(type) {
	case time.Time:
		return scope.DateOf(v.UTC()), nil
	case string:
		return scope.ParseDate(firstN(v, 10))
	case []byte:
		return scope.ParseDate(firstN(string(v), 10))
	default:
		return scope.Date{}, fmt.Errorf("unexpected meeting_date type %T", value)
	}
}

func firstN(value string, n int) string {
	if len(value) > n {
		return value[:n]
	}
	return value
}
