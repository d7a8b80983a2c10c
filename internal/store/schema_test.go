package store

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeInspector struct {
	tables      map[string]bool
	columns     map[string]bool
	tableCalls  int
	columnCalls int
	err         error
}

func newFakeInspector(tables ...string) *fakeInspector {
	fi := &fakeInspector{tables: map[string]bool{}, columns: map[string]bool{}}
	for _, t := range tables {
		fi.tables[t] = true
	}
	return fi
}

func (fi *fakeInspector) TableExists(_ context.Context, table string) (bool, error) {
	fi.tableCalls++
	return fi.tables[table], fi.err
}

func (fi *fakeInspector) ColumnExists(_ context.Context, table, column string) (bool, error) {
	fi.columnCalls++
	return fi.columns[table+"."+column], fi.err
}

// fakeDB applies DDL to a fakeInspector and records every statement.
type fakeDB struct {
	inspector *fakeInspector
	execs     []string
}

func (db *fakeDB) Exec(_ context.Context, sql string, _ ...any) (pgconn.CommandTag, error) {
	db.execs = append(db.execs, sql)
	switch {
	case strings.Contains(sql, "CREATE TABLE IF NOT EXISTS users"):
		db.inspector.tables[tableUsers] = true
	case strings.Contains(sql, "CREATE TABLE IF NOT EXISTS accounts"):
		db.inspector.tables[tableAccounts] = true
		db.inspector.tables[tableStudentProfiles] = true
	case strings.HasPrefix(sql, "ALTER TABLE"):
		f := strings.Fields(sql)
		db.inspector.columns[f[2]+"."+f[8]] = true
	}
	return pgconn.CommandTag{}, nil
}

func (db *fakeDB) Query(context.Context, string, ...any) (pgx.Rows, error) { return nil, nil }
func (db *fakeDB) QueryRow(context.Context, string, ...any) pgx.Row        { return nil }

func (db *fakeDB) alters() []string {
	var out []string
	for _, s := range db.execs {
		if strings.HasPrefix(s, "ALTER TABLE") {
			out = append(out, s)
		}
	}
	return out
}

func TestParseSchemaMode(t *testing.T) {
	for in, want := range map[string]SchemaMode{
		"":           ModeUnknown,
		"auto":       ModeUnknown,
		"legacy":     ModeLegacy,
		"normalized": ModeNormalized,
	} {
		got, err := ParseSchemaMode(in)
		require.NoError(t, err)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseSchemaMode("sharded")
	assert.Error(t, err)
}

func TestProbeDetect(t *testing.T) {
	ctx := context.Background()

	cases := []struct {
		name   string
		tables []string
		want   SchemaMode
	}{
		{"empty database", nil, ModeUnknown},
		{"legacy only", []string{tableUsers}, ModeLegacy},
		{"normalized only", []string{tableAccounts, tableStudentProfiles}, ModeNormalized},
		{"both layouts prefer normalized", []string{tableUsers, tableAccounts, tableStudentProfiles}, ModeNormalized},
		{"accounts without profiles", []string{tableUsers, tableAccounts}, ModeLegacy},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			mode, err := NewProbe(newFakeInspector(tc.tables...)).Detect(ctx)
			require.NoError(t, err)
			assert.Equal(t, tc.want, mode)
		})
	}
}

func TestProbeCachesDetection(t *testing.T) {
	ctx := context.Background()
	fi := newFakeInspector(tableUsers)
	p := NewProbe(fi)

	_, err := p.Detect(ctx)
	require.NoError(t, err)
	calls := fi.tableCalls

	mode, err := p.Detect(ctx)
	require.NoError(t, err)
	assert.Equal(t, ModeLegacy, mode)
	assert.Equal(t, calls, fi.tableCalls)

	fi.tables[tableAccounts] = true
	fi.tables[tableStudentProfiles] = true
	p.Invalidate()
	mode, err = p.Detect(ctx)
	require.NoError(t, err)
	assert.Equal(t, ModeNormalized, mode)
}

func TestProbeDoesNotCacheUnknown(t *testing.T) {
	ctx := context.Background()
	fi := newFakeInspector()
	p := NewProbe(fi)

	mode, _ := p.Detect(ctx)
	assert.Equal(t, ModeUnknown, mode)

	fi.tables[tableUsers] = true
	mode, _ = p.Detect(ctx)
	assert.Equal(t, ModeLegacy, mode)
}

func TestProbeHasColumn(t *testing.T) {
	ctx := context.Background()
	fi := newFakeInspector(tableUsers)
	p := NewProbe(fi)

	ok, err := p.HasColumn(ctx, tableUsers, "seminar_score")
	require.NoError(t, err)
	assert.False(t, ok)

	fi.columns["users.seminar_score"] = true
	ok, err = p.HasColumn(ctx, tableUsers, "seminar_score")
	require.NoError(t, err)
	assert.True(t, ok)

	calls := fi.columnCalls
	ok, _ = p.HasColumn(ctx, tableUsers, "seminar_score")
	assert.True(t, ok)
	assert.Equal(t, calls, fi.columnCalls, "positive answers are cached")
}

func TestProbeInspectorError(t *testing.T) {
	fi := newFakeInspector()
	fi.err = errors.New("connection reset")
	_, err := NewProbe(fi).Detect(context.Background())
	assert.Error(t, err)
}

func TestEnsureSchemaLegacyAddsMissingColumns(t *testing.T) {
	ctx := context.Background()
	fi := newFakeInspector(tableUsers)
	fi.columns["users.score_updated_at"] = true
	db := &fakeDB{inspector: fi}

	report, err := EnsureSchema(ctx, db, NewProbe(fi), ProvisionOptions{})
	require.NoError(t, err)
	assert.Equal(t, ModeLegacy, report.Mode)
	assert.False(t, report.Bootstrapped)
	assert.ElementsMatch(t, []string{
		"academic_pct", "challenges_pct", "mastery_pct", "seminar_score", "extracurricular_score",
		"score_stale",
	}, report.AddedColumns)
	for _, stmt := range db.alters() {
		assert.Contains(t, stmt, "ALTER TABLE users ADD COLUMN IF NOT EXISTS")
	}
}

func TestEnsureSchemaIsIdempotent(t *testing.T) {
	ctx := context.Background()
	fi := newFakeInspector(tableAccounts, tableStudentProfiles)
	db := &fakeDB{inspector: fi}
	probe := NewProbe(fi)

	first, err := EnsureSchema(ctx, db, probe, ProvisionOptions{})
	require.NoError(t, err)
	assert.Len(t, first.AddedColumns, len(OptionalColumnNames()))
	assert.Len(t, db.alters(), len(OptionalColumnNames()))

	db.execs = nil
	second, err := EnsureSchema(ctx, db, probe, ProvisionOptions{})
	require.NoError(t, err)
	assert.Empty(t, second.AddedColumns)
	assert.Empty(t, db.alters(), "second run issues no ALTER")
}

func TestEnsureSchemaBootstrapsEmptyDatabase(t *testing.T) {
	ctx := context.Background()
	fi := newFakeInspector()
	db := &fakeDB{inspector: fi}

	report, err := EnsureSchema(ctx, db, NewProbe(fi), ProvisionOptions{Bootstrap: ModeNormalized})
	require.NoError(t, err)
	assert.True(t, report.Bootstrapped)
	assert.Equal(t, ModeNormalized, report.Mode)
	for _, stmt := range db.alters() {
		assert.Contains(t, stmt, "ALTER TABLE student_profiles")
	}
}

func TestEnsureSchemaWithoutBootstrapFailsOnEmptyDatabase(t *testing.T) {
	fi := newFakeInspector()
	_, err := EnsureSchema(context.Background(), &fakeDB{inspector: fi}, NewProbe(fi), ProvisionOptions{})
	assert.Error(t, err)
}
