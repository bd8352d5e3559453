package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"agendas/api/internal/board"
	"agendas/api/internal/scope"
)

// PgFTS implements Searcher using PostgreSQL full-text search over the
// indicator table.
type PgFTS struct {
	db *sql.DB
}

func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

// Healthy always returns true; if Postgres is down the whole app is down.
func (p *PgFTS) Healthy() bool {
	return true
}

const pgDocument = `to_tsvector('english', kpi_name || ' ' || actions)`

func (p *PgFTS) Search(ctx context.Context, q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, 0, nil
	}

	tsQuery := "plainto_tsquery('english', $1)"
	args := []any{q.Text}
	where := []string{"actions <> ''", pgDocument + " @@ " + tsQuery}
	if q.Kind != "" {
		args = append(args, q.Kind)
		where = append(where, fmt.Sprintf("meeting_type = $%d", len(args)))
	}
	if q.BranchID != "" {
		args = append(args, q.BranchID)
		where = append(where, fmt.Sprintf("branch_id = $%d", len(args)))
	}
	whereSQL := strings.Join(where, " AND ")

	var total int
	if err := p.db.QueryRowContext(ctx, "SELECT count(*) FROM kpi_entries WHERE "+whereSQL, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("pgfts count: %w", err)
	}

	dataSQL := fmt.Sprintf(`
		SELECT meeting_type, branch_id, meeting_date::text, category, kpi_name, status,
			ts_headline('english', actions, %s, 'MaxFragments=1,MaxWords=30,StartSel=<mark>,StopSel=</mark>')
		FROM kpi_entries
		WHERE %s
		ORDER BY ts_rank(%s, %s) DESC, meeting_date DESC
		LIMIT %d`, tsQuery, whereSQL, pgDocument, tsQuery, q.limit())

	rows, err := p.db.QueryContext(ctx, dataSQL, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("pgfts query: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		var date, status string
		if err := rows.Scan(&r.Scope.Kind, &r.Scope.BranchID, &date, &r.Category, &r.KPIName, &status, &r.Snippet); err != nil {
			return nil, 0, fmt.Errorf("pgfts scan: %w", err)
		}
		if r.Scope.Date, err = scope.ParseDate(date); err != nil {
			return nil, 0, fmt.Errorf("pgfts scan date: %w", err)
		}
		r.Status = board.Status(status)
		results = append(results, r)
	}
	return results, total, rows.Err()
}
