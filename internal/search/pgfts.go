package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"callscript/internal/stepkey"
)

// PgFTS implements Searcher over the generated tsvector columns in Postgres.
type PgFTS struct {
	db *sql.DB
}

func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

// Healthy always returns true: if Postgres is down the whole service is down.
func (p *PgFTS) Healthy() bool {
	return true
}

// Search runs one UNION ALL over scripts and alternatives ranked by ts_rank, with
// ts_headline snippets.
func (p *PgFTS) Search(ctx context.Context, q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, 0, nil
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}

	tsQuery := "plainto_tsquery('english', $1)"
	args := []any{q.Text}
	stepFilter := ""
	if q.FilterStep != "" {
		args = append(args, q.FilterStep)
		stepFilter = " AND step_name = $2"
	}

	var subQueries []string
	if q.FilterType == "" || q.FilterType == ResultScript {
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'script'::text AS type, step_name AS id, step_name,
				ts_headline('english', content, %s, 'MaxFragments=1,MaxWords=30') AS snippet,
				ts_rank(fts, %s) AS rank
			FROM scripts
			WHERE fts @@ %s%s`, tsQuery, tsQuery, tsQuery, stepFilter))
	}
	if q.FilterType == "" || q.FilterType == ResultAlternative {
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'alternative'::text AS type, id, step_name,
				ts_headline('english', text, %s, 'MaxFragments=1,MaxWords=30') AS snippet,
				ts_rank(fts, %s) AS rank
			FROM alternatives
			WHERE fts @@ %s%s`, tsQuery, tsQuery, tsQuery, stepFilter))
	}
	if len(subQueries) == 0 {
		return nil, 0, nil
	}

	union := strings.Join(subQueries, " UNION ALL ")
	countSQL := fmt.Sprintf("SELECT count(*) FROM (%s) sub", union)
	dataSQL := fmt.Sprintf(`SELECT type, id, step_name, snippet
		FROM (%s) sub
		ORDER BY rank DESC
		LIMIT %d OFFSET %d`, union, limit, offset)

	var total int
	if err := p.db.QueryRowContext(ctx, countSQL, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("pgfts count: %w", err)
	}

	rows, err := p.db.QueryContext(ctx, dataSQL, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("pgfts query: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		var typ string
		if err := rows.Scan(&typ, &r.ID, &r.StepName, &r.Snippet); err != nil {
			return nil, 0, fmt.Errorf("pgfts scan: %w", err)
		}
		r.Type = ResultType(typ)
		r.BaseStep = stepkey.Base(r.StepName)
		results = append(results, r)
	}
	return results, total, rows.Err()
}

// LoadAllRecords returns every searchable record for a full reindex.
func (p *PgFTS) LoadAllRecords(ctx context.Context) ([]ScriptRecord, []AlternativeRecord, error) {
	scriptRows, err := p.db.QueryContext(ctx, `SELECT step_name, content FROM scripts`)
	if err != nil {
		return nil, nil, fmt.Errorf("load scripts: %w", err)
	}
	defer scriptRows.Close()

	scripts := make([]ScriptRecord, 0)
	for scriptRows.Next() {
		var r ScriptRecord
		if err := scriptRows.Scan(&r.StepName, &r.Content); err != nil {
			return nil, nil, fmt.Errorf("scan script: %w", err)
		}
		scripts = append(scripts, NewScriptRecord(r.StepName, r.Content))
	}
	if err := scriptRows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate scripts: %w", err)
	}

	altRows, err := p.db.QueryContext(ctx, `SELECT id, step_name, text FROM alternatives`)
	if err != nil {
		return nil, nil, fmt.Errorf("load alternatives: %w", err)
	}
	defer altRows.Close()

	alternatives := make([]AlternativeRecord, 0)
	for altRows.Next() {
		var r AlternativeRecord
		if err := altRows.Scan(&r.ID, &r.StepName, &r.Text); err != nil {
			return nil, nil, fmt.Errorf("scan alternative: %w", err)
		}
		alternatives = append(alternatives, NewAlternativeRecord(r.ID, r.StepName, r.Text))
	}
	if err := altRows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate alternatives: %w", err)
	}

	return scripts, alternatives, nil
}
