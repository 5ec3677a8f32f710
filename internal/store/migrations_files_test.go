package store

import (
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
)

var (
	createTablePattern = regexp.MustCompile(`(?is)CREATE TABLE IF NOT EXISTS (\w+) \((.*?)\n\);`)
	tableKeyPattern    = regexp.MustCompile(`(?i)^(?:PRIMARY KEY|UNIQUE) \(([^)]+)\)`)
	columnKeyPattern   = regexp.MustCompile(`(?i)^(\w+) .*\b(?:PRIMARY KEY|UNIQUE)\b`)
	conflictPattern    = regexp.MustCompile(`(?i)ON CONFLICT \(([^)]+)\)`)
	insertTablePattern = regexp.MustCompile(`^\s*(\w+)`)
)

func migrationsDir() string {
	return filepath.Join("..", "..", "db", "migrations")
}

func normalizeColumns(raw string) string {
	parts := strings.Split(raw, ",")
	for i, part := range parts {
		parts[i] = strings.ToLower(strings.TrimSpace(part))
	}
	return strings.Join(parts, ",")
}

// schemaKeys maps each table created by the up migrations to the column sets
// that carry a primary key or unique constraint.
func schemaKeys(t *testing.T) map[string]map[string]bool {
	t.Helper()
	files, err := upMigrations(os.DirFS(migrationsDir()))
	if err != nil {
		t.Fatalf("list migrations: %v", err)
	}

	keys := map[string]map[string]bool{}
	for _, name := range files {
		contents, err := os.ReadFile(filepath.Join(migrationsDir(), name))
		if err != nil {
			t.Fatalf("read %s: %v", name, err)
		}
		for _, table := range createTablePattern.FindAllStringSubmatch(string(contents), -1) {
			tableName := strings.ToLower(table[1])
			if keys[tableName] == nil {
				keys[tableName] = map[string]bool{}
			}
			for _, line := range strings.Split(table[2], "\n") {
				line = strings.TrimSuffix(strings.TrimSpace(line), ",")
				if m := tableKeyPattern.FindStringSubmatch(line); m != nil {
					keys[tableName][normalizeColumns(m[1])] = true
				} else if m := columnKeyPattern.FindStringSubmatch(line); m != nil {
					keys[tableName][strings.ToLower(m[1])] = true
				}
			}
		}
	}
	return keys
}

func TestEveryUpMigrationHasDown(t *testing.T) {
	files, err := upMigrations(os.DirFS(migrationsDir()))
	if err != nil {
		t.Fatalf("list migrations: %v", err)
	}
	if len(files) == 0 {
		t.Fatal("no migrations discovered")
	}
	for _, up := range files {
		down := strings.TrimSuffix(up, ".up.sql") + ".down.sql"
		if _, err := os.Stat(filepath.Join(migrationsDir(), down)); err != nil {
			t.Errorf("%s has no matching %s", up, down)
		}
	}
}

func TestSchemaKeysBackStoreUpserts(t *testing.T) {
	keys := schemaKeys(t)

	for _, tc := range []struct {
		table   string
		columns string
	}{
		{table: "user_selections", columns: "user_id,step_name"},
		{table: "alternatives", columns: "source_submission_id"},
		{table: "scripts", columns: "step_name"},
		{table: "role_members", columns: "user_id,role"},
		{table: "submissions", columns: "id"},
	} {
		if !keys[tc.table][tc.columns] {
			t.Errorf("%s must be unique on (%s), schema has %v", tc.table, tc.columns, keys[tc.table])
		}
	}

	source, err := os.ReadFile("postgres.go")
	if err != nil {
		t.Fatalf("read postgres.go: %v", err)
	}
	chunks := strings.Split(string(source), "INSERT INTO")
	checked := 0
	for _, chunk := range chunks[1:] {
		query, _, _ := strings.Cut(chunk, "`")
		conflict := conflictPattern.FindStringSubmatch(query)
		if conflict == nil {
			continue
		}
		table := strings.ToLower(insertTablePattern.FindStringSubmatch(query)[1])
		columns := normalizeColumns(conflict[1])
		if !keys[table][columns] {
			t.Errorf("ON CONFLICT (%s) on %s has no matching key in the migrations", columns, table)
		}
		checked++
	}
	if checked == 0 {
		t.Fatal("expected upserts in postgres.go")
	}
}
