package store

import (
	"context"
	"fmt"
	"log/slog"
)

const factTablesSQL = `
CREATE TABLE IF NOT EXISTS challenges (
    challenge_id UUID PRIMARY KEY,
    title TEXT NOT NULL,
    active BOOLEAN NOT NULL DEFAULT TRUE,
    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS challenge_submissions (
    id UUID PRIMARY KEY,
    user_id TEXT NOT NULL,
    challenge_id UUID NOT NULL REFERENCES challenges(challenge_id),
    percentage NUMERIC(5,2) NOT NULL CHECK (percentage >= 0 AND percentage <= 100),
    submitted_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_challenge_submissions_user ON challenge_submissions(user_id);

CREATE TABLE IF NOT EXISTS attendance_records (
    id UUID PRIMARY KEY,
    user_id TEXT NOT NULL,
    event_name TEXT NOT NULL,
    points INTEGER NOT NULL DEFAULT 100 CHECK (points >= 0),
    verified BOOLEAN NOT NULL DEFAULT FALSE,
    recorded_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_attendance_records_user ON attendance_records(user_id);

CREATE TABLE IF NOT EXISTS extracurricular_activities (
    id UUID PRIMARY KEY,
    user_id TEXT NOT NULL,
    title TEXT NOT NULL,
    score NUMERIC(12,2) NOT NULL CHECK (score >= 0),
    verified BOOLEAN NOT NULL DEFAULT TRUE,
    recorded_by TEXT NOT NULL DEFAULT '',
    recorded_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_extracurricular_activities_user ON extracurricular_activities(user_id);

CREATE TABLE IF NOT EXISTS score_weights (
    id SMALLINT PRIMARY KEY DEFAULT 1 CHECK (id = 1),
    academic NUMERIC(8,2) NOT NULL,
    challenges NUMERIC(8,2) NOT NULL,
    mastery NUMERIC(8,2) NOT NULL,
    seminars NUMERIC(8,2) NOT NULL,
    extracurricular NUMERIC(8,2) NOT NULL,
    updated_by TEXT NOT NULL DEFAULT '',
    updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
);`

type optionalColumn struct {
	name string
	ddl  string
}

// optionalColumns are the snapshot columns older databases may lack.
var optionalColumns = []optionalColumn{
	{"academic_pct", "NUMERIC(8,2) NOT NULL DEFAULT 0"},
	{"challenges_pct", "NUMERIC(8,2) NOT NULL DEFAULT 0"},
	{"mastery_pct", "NUMERIC(8,2) NOT NULL DEFAULT 0"},
	{"seminar_score", "NUMERIC(8,2) NOT NULL DEFAULT 0"},
	{"extracurricular_score", "NUMERIC(12,2) NOT NULL DEFAULT 0"},
	{"score_updated_at", "TIMESTAMP WITH TIME ZONE"},
	{"score_stale", "BOOLEAN NOT NULL DEFAULT FALSE"},
}

// OptionalColumnNames lists the auto-provisioned profile columns.
func OptionalColumnNames() []string {
	names := make([]string, len(optionalColumns))
	for i, c := range optionalColumns {
		names[i] = c.name
	}
	return names
}

type ProvisionOptions struct {
	// Bootstrap is the layout created when the database holds neither layout.
	// ModeUnknown disables bootstrapping.
	Bootstrap SchemaMode
	Logger    *slog.Logger
}

type ProvisionReport struct {
	Mode         SchemaMode `json:"mode"`
	Bootstrapped bool       `json:"bootstrapped"`
	AddedColumns []string   `json:"added_columns,omitempty"`
}

// EnsureSchema brings the database up to what the store needs. It is idempotent: a
// second run on a provisioned database detects every column and issues no ALTER.
func EnsureSchema(ctx context.Context, q Querier, probe *Probe, opts ProvisionOptions) (*ProvisionReport, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	report := &ProvisionReport{}

	mode, err := probe.Detect(ctx)
	if err != nil {
		return nil, Unavailable("detect schema", err)
	}
	if mode == ModeUnknown {
		if opts.Bootstrap == ModeUnknown {
			return nil, fmt.Errorf("no known schema layout found and bootstrap is disabled")
		}
		l, err := layoutFor(opts.Bootstrap)
		if err != nil {
			return nil, err
		}
		if _, err := q.Exec(ctx, l.bootstrapSQL()); err != nil {
			return nil, Unavailable("bootstrap "+string(opts.Bootstrap)+" layout", err)
		}
		logger.Info("bootstrapped schema layout", "mode", opts.Bootstrap)
		probe.Invalidate()
		report.Bootstrapped = true

		if mode, err = probe.Detect(ctx); err != nil {
			return nil, Unavailable("detect schema", err)
		}
		if mode == ModeUnknown {
			return nil, fmt.Errorf("schema still unknown after bootstrapping %s", opts.Bootstrap)
		}
	}
	report.Mode = mode

	if _, err := q.Exec(ctx, factTablesSQL); err != nil {
		return nil, Unavailable("create fact tables", err)
	}

	l, err := layoutFor(mode)
	if err != nil {
		return nil, err
	}
	table := l.profileTable()
	for _, col := range optionalColumns {
		ok, err := probe.HasColumn(ctx, table, col.name)
		if err != nil {
			return nil, Unavailable("probe column", err)
		}
		if ok {
			continue
		}
		stmt := fmt.Sprintf("ALTER TABLE %s ADD COLUMN IF NOT EXISTS %s %s", table, col.name, col.ddl)
		if _, err := q.Exec(ctx, stmt); err != nil {
			return nil, Unavailable("add column "+col.name, err)
		}
		logger.Info("provisioned profile column", "table", table, "column", col.name)
		report.AddedColumns = append(report.AddedColumns, col.name)
	}

	return report, nil
}
