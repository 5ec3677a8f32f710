package store

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"callscript/internal/selection"
)

func openTestStore(t *testing.T) *PostgresStore {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	dsn := strings.TrimSpace(os.Getenv("CALLSCRIPT_TEST_DATABASE_URL"))
	if dsn == "" {
		t.Skip("CALLSCRIPT_TEST_DATABASE_URL is not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	db, err := Open(ctx, dsn)
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	if err := resetPublicSchema(ctx, db); err != nil {
		t.Fatalf("reset schema: %v", err)
	}
	if _, err := ApplyMigrations(ctx, db, filepath.Join("..", "..", "db", "migrations")); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}
	return NewPostgresStore(db)
}

func TestPromoteSubmissionCreatesAlternative(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	sub, err := s.CreateSubmission(ctx, Submission{ID: "sub-1", StepName: "greeting", Text: "Good morning!", Order: 3, SubmittedBy: "007"})
	if err != nil {
		t.Fatalf("create submission: %v", err)
	}
	if sub.Status != SubmissionPending {
		t.Fatalf("expected pending, got %s", sub.Status)
	}

	approved, alt, err := s.PromoteSubmission(ctx, "sub-1", "manager", time.Now().UTC())
	if err != nil {
		t.Fatalf("promote submission: %v", err)
	}
	if approved.Status != SubmissionApproved || approved.ApprovedBy == nil || *approved.ApprovedBy != "manager" {
		t.Fatalf("unexpected approved submission %+v", approved)
	}
	if alt.Text != "Good morning!" || alt.Order != 3 || alt.SourceSubmissionID == nil {
		t.Fatalf("unexpected alternative %+v", alt)
	}

	alts, err := s.ListAlternatives(ctx, "greeting")
	if err != nil {
		t.Fatalf("list alternatives: %v", err)
	}
	if len(alts) != 1 {
		t.Fatalf("expected 1 alternative, got %d", len(alts))
	}

	if _, _, err := s.PromoteSubmission(ctx, "sub-1", "manager", time.Now().UTC()); !errors.Is(err, ErrNotPending) {
		t.Fatalf("expected ErrNotPending on second approval, got %v", err)
	}
	if _, err := s.RejectSubmission(ctx, "sub-1", "manager", "", time.Now().UTC()); !errors.Is(err, ErrNotPending) {
		t.Fatalf("expected ErrNotPending on reject after approve, got %v", err)
	}
}

func TestRejectSubmissionLeavesAlternatives(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if _, err := s.CreateSubmission(ctx, Submission{ID: "sub-2", StepName: "closing", Text: "Bye!", SubmittedBy: "007"}); err != nil {
		t.Fatalf("create submission: %v", err)
	}
	rejected, err := s.RejectSubmission(ctx, "sub-2", "admin", "off brand", time.Now().UTC())
	if err != nil {
		t.Fatalf("reject submission: %v", err)
	}
	if rejected.Status != SubmissionRejected || rejected.Reason == nil || *rejected.Reason != "off brand" {
		t.Fatalf("unexpected rejected submission %+v", rejected)
	}
	alts, err := s.ListAlternatives(ctx, "closing")
	if err != nil {
		t.Fatalf("list alternatives: %v", err)
	}
	if len(alts) != 0 {
		t.Fatalf("expected no alternatives, got %d", len(alts))
	}
	if _, err := s.UpdateSubmissionText(ctx, "sub-2", "007", "Bye now!", 0); !errors.Is(err, ErrNotPending) {
		t.Fatalf("expected ErrNotPending editing a rejected submission, got %v", err)
	}
	if _, err := s.RejectSubmission(ctx, "missing", "admin", "", time.Now().UTC()); !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("expected sql.ErrNoRows, got %v", err)
	}
}

func TestSelectionsRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	m := selection.NewManager(s)

	if _, err := m.SetDefault(ctx, "007", "outbound_greeting", 2, 5); err != nil {
		t.Fatalf("set default: %v", err)
	}
	sel, ok, err := m.Get(ctx, "007", "greeting")
	if err != nil || !ok {
		t.Fatalf("get: ok=%v err=%v", ok, err)
	}
	if sel.DefaultIndex == nil || *sel.DefaultIndex != 2 {
		t.Fatalf("expected default 2, got %+v", sel)
	}

	if _, changed, err := m.Clamp(ctx, "007", "greeting", 2); err != nil || !changed {
		t.Fatalf("clamp: changed=%v err=%v", changed, err)
	}
	all, err := s.Load(ctx, "007")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got := all["greeting"]; got.SelectedIndex != 1 || *got.DefaultIndex != 1 {
		t.Fatalf("expected clamped entry under greeting, got %+v", got)
	}
	if _, ok := all["outbound_greeting"]; !ok {
		t.Fatalf("expected outbound_greeting to be preserved")
	}
}

func TestRoleMembers(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.GrantRole(ctx, "kim", RoleManager); err != nil {
		t.Fatalf("grant: %v", err)
	}
	if err := s.GrantRole(ctx, "kim", RoleManager); err != nil {
		t.Fatalf("grant twice: %v", err)
	}
	roles, err := s.UserRoles(ctx, "kim")
	if err != nil {
		t.Fatalf("user roles: %v", err)
	}
	if len(roles) != 1 || roles[0] != RoleManager {
		t.Fatalf("unexpected roles %v", roles)
	}
	if err := s.RevokeRole(ctx, "kim", RoleManager); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	members, err := s.ListRoleMembers(ctx)
	if err != nil {
		t.Fatalf("list members: %v", err)
	}
	if len(members) != 0 {
		t.Fatalf("expected no members, got %v", members)
	}
}
