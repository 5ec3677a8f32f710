package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"callscript/internal/selection"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

type rowScanner interface {
	Scan(dest ...any) error
}

// Scripts

func (s *PostgresStore) GetScript(ctx context.Context, stepName string) (Script, error) {
	var item Script
	err := s.db.QueryRowContext(ctx, `
		SELECT step_name, content, updated_by, updated_at
		FROM scripts
		WHERE step_name=$1
	`, stepName).Scan(&item.StepName, &item.Content, &item.UpdatedBy, &item.UpdatedAt)
	if err != nil {
		return Script{}, err
	}
	return item, nil
}

func (s *PostgresStore) ListScripts(ctx context.Context) ([]Script, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT step_name, content, updated_by, updated_at
		FROM scripts
		ORDER BY step_name
	`)
	if err != nil {
		return nil, fmt.Errorf("list scripts: %w", err)
	}
	defer rows.Close()

	items := make([]Script, 0)
	for rows.Next() {
		var item Script
		if err := rows.Scan(&item.StepName, &item.Content, &item.UpdatedBy, &item.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan script: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate scripts: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) UpsertScript(ctx context.Context, item Script) (Script, error) {
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO scripts (step_name, content, updated_by)
		VALUES ($1, $2, $3)
		ON CONFLICT (step_name) DO UPDATE SET content=EXCLUDED.content, updated_by=EXCLUDED.updated_by, updated_at=NOW()
		RETURNING updated_at
	`, item.StepName, item.Content, item.UpdatedBy).Scan(&item.UpdatedAt)
	if err != nil {
		return Script{}, fmt.Errorf("upsert script: %w", err)
	}
	return item, nil
}

// Alternatives

const alternativeColumns = `id, step_name, text, sort_order, source_submission_id, created_by, created_at`

func scanAlternative(row rowScanner) (Alternative, error) {
	var item Alternative
	var source sql.NullString
	if err := row.Scan(&item.ID, &item.StepName, &item.Text, &item.Order, &source, &item.CreatedBy, &item.CreatedAt); err != nil {
		return Alternative{}, err
	}
	if source.Valid {
		item.SourceSubmissionID = &source.String
	}
	return item, nil
}

func (s *PostgresStore) ListAlternatives(ctx context.Context, stepName string) ([]Alternative, error) {
	return s.queryAlternatives(ctx, `
		SELECT `+alternativeColumns+`
		FROM alternatives
		WHERE step_name=$1
		ORDER BY sort_order, created_at, id
	`, stepName)
}

func (s *PostgresStore) ListAllAlternatives(ctx context.Context) ([]Alternative, error) {
	return s.queryAlternatives(ctx, `
		SELECT `+alternativeColumns+`
		FROM alternatives
		ORDER BY step_name, sort_order, created_at, id
	`)
}

func (s *PostgresStore) queryAlternatives(ctx context.Context, query string, args ...any) ([]Alternative, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list alternatives: %w", err)
	}
	defer rows.Close()

	items := make([]Alternative, 0)
	for rows.Next() {
		item, err := scanAlternative(rows)
		if err != nil {
			return nil, fmt.Errorf("scan alternative: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate alternatives: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) InsertAlternative(ctx context.Context, item Alternative) (Alternative, error) {
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO alternatives (id, step_name, text, sort_order, created_by)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING `+alternativeColumns,
		item.ID, item.StepName, item.Text, item.Order, item.CreatedBy)
	created, err := scanAlternative(row)
	if err != nil {
		return Alternative{}, fmt.Errorf("insert alternative: %w", err)
	}
	return created, nil
}

// DeleteAlternative returns sql.ErrNoRows when the step has no such alternative.
func (s *PostgresStore) DeleteAlternative(ctx context.Context, stepName, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM alternatives WHERE id=$1 AND step_name=$2`, id, stepName)
	if err != nil {
		return fmt.Errorf("delete alternative: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete alternative: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// Submissions

const submissionColumns = `id, step_name, text, sort_order, submitted_by, status, reason, approved_by, approved_at, created_at, updated_at`

func scanSubmission(row rowScanner) (Submission, error) {
	var item Submission
	var reason, approvedBy sql.NullString
	var approvedAt sql.NullTime
	if err := row.Scan(&item.ID, &item.StepName, &item.Text, &item.Order, &item.SubmittedBy, &item.Status,
		&reason, &approvedBy, &approvedAt, &item.CreatedAt, &item.UpdatedAt); err != nil {
		return Submission{}, err
	}
	if reason.Valid {
		item.Reason = &reason.String
	}
	if approvedBy.Valid {
		item.ApprovedBy = &approvedBy.String
	}
	if approvedAt.Valid {
		item.ApprovedAt = &approvedAt.Time
	}
	return item, nil
}

func (s *PostgresStore) CreateSubmission(ctx context.Context, item Submission) (Submission, error) {
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO submissions (id, step_name, text, sort_order, submitted_by, status)
		VALUES ($1, $2, $3, $4, $5, 'pending')
		RETURNING `+submissionColumns,
		item.ID, item.StepName, item.Text, item.Order, item.SubmittedBy)
	created, err := scanSubmission(row)
	if err != nil {
		return Submission{}, fmt.Errorf("create submission: %w", err)
	}
	return created, nil
}

func (s *PostgresStore) GetSubmission(ctx context.Context, id string) (Submission, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+submissionColumns+` FROM submissions WHERE id=$1`, id)
	return scanSubmission(row)
}

func (s *PostgresStore) ListApprovedSubmissions(ctx context.Context, stepName string) ([]Submission, error) {
	return s.querySubmissions(ctx, `
		SELECT `+submissionColumns+`
		FROM submissions
		WHERE step_name=$1 AND status='approved'
		ORDER BY sort_order, created_at, id
	`, stepName)
}

// ListUserSubmissions returns the user's submissions for a step in every status.
func (s *PostgresStore) ListUserSubmissions(ctx context.Context, stepName, userID string) ([]Submission, error) {
	return s.querySubmissions(ctx, `
		SELECT `+submissionColumns+`
		FROM submissions
		WHERE step_name=$1 AND submitted_by=$2
		ORDER BY sort_order, created_at, id
	`, stepName, userID)
}

func (s *PostgresStore) ListPendingSubmissions(ctx context.Context) ([]Submission, error) {
	return s.querySubmissions(ctx, `
		SELECT `+submissionColumns+`
		FROM submissions
		WHERE status='pending'
		ORDER BY created_at, id
	`)
}

func (s *PostgresStore) querySubmissions(ctx context.Context, query string, args ...any) ([]Submission, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list submissions: %w", err)
	}
	defer rows.Close()

	items := make([]Submission, 0)
	for rows.Next() {
		item, err := scanSubmission(rows)
		if err != nil {
			return nil, fmt.Errorf("scan submission: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate submissions: %w", err)
	}
	return items, nil
}

// UpdateSubmissionText edits a submission only while it is pending and only for its
// author. It returns ErrNotPending when the row exists but cannot be edited.
func (s *PostgresStore) UpdateSubmissionText(ctx context.Context, id, userID, text string, order int) (Submission, error) {
	row := s.db.QueryRowContext(ctx, `
		UPDATE submissions
		SET text=$3, sort_order=$4, updated_at=NOW()
		WHERE id=$1 AND submitted_by=$2 AND status='pending'
		RETURNING `+submissionColumns,
		id, userID, text, order)
	updated, err := scanSubmission(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Submission{}, s.explainMissedUpdate(ctx, id)
	}
	if err != nil {
		return Submission{}, fmt.Errorf("update submission: %w", err)
	}
	return updated, nil
}

// PromoteSubmission approves a pending submission and upserts its alternative in one
// transaction. If either write fails nothing changes and the submission stays pending.
func (s *PostgresStore) PromoteSubmission(ctx context.Context, id, moderatorID string, at time.Time) (Submission, Alternative, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Submission{}, Alternative{}, fmt.Errorf("begin promote tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	sub, err := scanSubmission(tx.QueryRowContext(ctx, `SELECT `+submissionColumns+` FROM submissions WHERE id=$1 FOR UPDATE`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Submission{}, Alternative{}, err
		}
		return Submission{}, Alternative{}, fmt.Errorf("lock submission: %w", err)
	}
	if sub.Status != SubmissionPending {
		return Submission{}, Alternative{}, ErrNotPending
	}

	alt, err := scanAlternative(tx.QueryRowContext(ctx, `
		INSERT INTO alternatives (id, step_name, text, sort_order, source_submission_id, created_by)
		VALUES ($1, $2, $3, $4, $1, $5)
		ON CONFLICT (source_submission_id) DO UPDATE SET text=EXCLUDED.text, sort_order=EXCLUDED.sort_order
		RETURNING `+alternativeColumns,
		sub.ID, sub.StepName, sub.Text, sub.Order, moderatorID))
	if err != nil {
		return Submission{}, Alternative{}, fmt.Errorf("upsert alternative: %w", err)
	}

	updated, err := scanSubmission(tx.QueryRowContext(ctx, `
		UPDATE submissions
		SET status='approved', approved_by=$2, approved_at=$3, updated_at=$3
		WHERE id=$1 AND status='pending'
		RETURNING `+submissionColumns,
		id, moderatorID, at))
	if errors.Is(err, sql.ErrNoRows) {
		return Submission{}, Alternative{}, ErrNotPending
	}
	if err != nil {
		return Submission{}, Alternative{}, fmt.Errorf("approve submission: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return Submission{}, Alternative{}, fmt.Errorf("commit promote tx: %w", err)
	}
	return updated, alt, nil
}

func (s *PostgresStore) RejectSubmission(ctx context.Context, id, moderatorID, reason string, at time.Time) (Submission, error) {
	var reasonArg any
	if reason != "" {
		reasonArg = reason
	}
	row := s.db.QueryRowContext(ctx, `
		UPDATE submissions
		SET status='rejected', reason=$4, approved_by=$2, approved_at=$3, updated_at=$3
		WHERE id=$1 AND status='pending'
		RETURNING `+submissionColumns,
		id, moderatorID, at, reasonArg)
	updated, err := scanSubmission(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Submission{}, s.explainMissedUpdate(ctx, id)
	}
	if err != nil {
		return Submission{}, fmt.Errorf("reject submission: %w", err)
	}
	return updated, nil
}

// explainMissedUpdate tells a missing submission apart from one that is no longer
// editable after a conditional update matched no rows.
func (s *PostgresStore) explainMissedUpdate(ctx context.Context, id string) error {
	var exists bool
	if err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM submissions WHERE id=$1)`, id).Scan(&exists); err != nil {
		return fmt.Errorf("check submission: %w", err)
	}
	if !exists {
		return sql.ErrNoRows
	}
	return ErrNotPending
}

// Selections

func (s *PostgresStore) Load(ctx context.Context, userID string) (map[string]selection.Selection, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT step_name, selected_index, default_index, total_alternatives, last_updated
		FROM user_selections
		WHERE user_id=$1
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("load selections: %w", err)
	}
	defer rows.Close()

	out := map[string]selection.Selection{}
	for rows.Next() {
		var step string
		var sel selection.Selection
		var def sql.NullInt64
		if err := rows.Scan(&step, &sel.SelectedIndex, &def, &sel.TotalAlternatives, &sel.LastUpdated); err != nil {
			return nil, fmt.Errorf("scan selection: %w", err)
		}
		if def.Valid {
			d := int(def.Int64)
			sel.DefaultIndex = &d
		}
		out[step] = sel
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate selections: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) Save(ctx context.Context, userID, stepName string, sel selection.Selection) error {
	var def any
	if sel.DefaultIndex != nil {
		def = *sel.DefaultIndex
	}
	lastUpdated := sel.LastUpdated
	if lastUpdated.IsZero() {
		lastUpdated = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO user_selections (user_id, step_name, selected_index, default_index, total_alternatives, last_updated)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (user_id, step_name)
		DO UPDATE SET selected_index=EXCLUDED.selected_index, default_index=EXCLUDED.default_index,
			total_alternatives=EXCLUDED.total_alternatives, last_updated=EXCLUDED.last_updated
	`, userID, stepName, sel.SelectedIndex, def, sel.TotalAlternatives, lastUpdated)
	if err != nil {
		return fmt.Errorf("save selection: %w", err)
	}
	return nil
}

// Roles

func (s *PostgresStore) UserRoles(ctx context.Context, userID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT role FROM role_members WHERE user_id=$1 ORDER BY role`, userID)
	if err != nil {
		return nil, fmt.Errorf("list user roles: %w", err)
	}
	defer rows.Close()

	roles := make([]string, 0)
	for rows.Next() {
		var role string
		if err := rows.Scan(&role); err != nil {
			return nil, fmt.Errorf("scan role: %w", err)
		}
		roles = append(roles, role)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate roles: %w", err)
	}
	return roles, nil
}

// ListRoleMembers returns every configured member keyed by user id.
func (s *PostgresStore) ListRoleMembers(ctx context.Context) (map[string][]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT user_id, role FROM role_members ORDER BY user_id, role`)
	if err != nil {
		return nil, fmt.Errorf("list role members: %w", err)
	}
	defer rows.Close()

	out := map[string][]string{}
	for rows.Next() {
		var member RoleMember
		if err := rows.Scan(&member.UserID, &member.Role); err != nil {
			return nil, fmt.Errorf("scan role member: %w", err)
		}
		out[member.UserID] = append(out[member.UserID], member.Role)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate role members: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) RoleMembers(ctx context.Context, role string) ([]RoleMember, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT user_id, role, created_at FROM role_members WHERE role=$1 ORDER BY user_id`, role)
	if err != nil {
		return nil, fmt.Errorf("list %s members: %w", role, err)
	}
	defer rows.Close()

	items := make([]RoleMember, 0)
	for rows.Next() {
		var item RoleMember
		if err := rows.Scan(&item.UserID, &item.Role, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan role member: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate role members: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) GrantRole(ctx context.Context, userID, role string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO role_members (user_id, role)
		VALUES ($1, $2)
		ON CONFLICT (user_id, role) DO NOTHING
	`, userID, role)
	if err != nil {
		return fmt.Errorf("grant role: %w", err)
	}
	return nil
}

func (s *PostgresStore) RevokeRole(ctx context.Context, userID, role string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM role_members WHERE user_id=$1 AND role=$2`, userID, role); err != nil {
		return fmt.Errorf("revoke role: %w", err)
	}
	return nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

var _ selection.Store = (*PostgresStore)(nil)
