package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

const (
	tableUsers           = "users"
	tableAccounts        = "accounts"
	tableStudentProfiles = "student_profiles"
)

// Querier is an interface that both *pgxpool.Pool and pgx.Tx implement.
type Querier interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// layout hides the physical shape of account and profile data. Grades, mastery and
// snapshot columns carry the same names in both layouts; only the table they live in
// and the account queries differ.
type layout interface {
	mode() SchemaMode
	profileTable() string
	bootstrapSQL() string

	findByIDNumber(ctx context.Context, q Querier, idNumber string) (string, error)
	findByLoginName(ctx context.Context, q Querier, loginName string) (string, error)
	userExists(ctx context.Context, q Querier, userID string) (bool, error)
	getAccount(ctx context.Context, q Querier, userID string) (*StudentAccount, error)
	createStudent(ctx context.Context, q Querier, a *StudentAccount) error
	listStudentIDs(ctx context.Context, q Querier) ([]string, error)

	// ensureProfile makes sure a profile row exists for an existing account.
	ensureProfile(ctx context.Context, q Querier, userID string) error
}

func layoutFor(mode SchemaMode) (layout, error) {
	switch mode {
	case ModeLegacy:
		return legacyLayout{}, nil
	case ModeNormalized:
		return normalizedLayout{}, nil
	}
	return nil, fmt.Errorf("no layout for schema mode %q", mode)
}

// ProfileTable names the table holding grades, mastery and the snapshot in mode.
func ProfileTable(mode SchemaMode) (string, error) {
	l, err := layoutFor(mode)
	if err != nil {
		return "", err
	}
	return l.profileTable(), nil
}

// --- legacy: one "users" table ---

type legacyLayout struct{}

func (legacyLayout) mode() SchemaMode     { return ModeLegacy }
func (legacyLayout) profileTable() string { return tableUsers }

func (legacyLayout) bootstrapSQL() string {
	return `
CREATE TABLE IF NOT EXISTS users (
    user_id TEXT PRIMARY KEY,
    id_number TEXT,
    login_name TEXT NOT NULL UNIQUE,
    full_name TEXT NOT NULL DEFAULT '',
    role TEXT NOT NULL DEFAULT 'student',
    grade1 NUMERIC(5,2),
    grade2 NUMERIC(5,2),
    grade3 NUMERIC(5,2),
    grade4 NUMERIC(5,2),
    mastery_score NUMERIC(5,2),
    score NUMERIC(12,2) NOT NULL DEFAULT 0,
    badge_color TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_users_id_number ON users(id_number);`
}

func (legacyLayout) findByIDNumber(ctx context.Context, q Querier, idNumber string) (string, error) {
	return queryUserID(ctx, q, `SELECT user_id FROM users WHERE id_number = $1 ORDER BY user_id LIMIT 1`, idNumber)
}

func (legacyLayout) findByLoginName(ctx context.Context, q Querier, loginName string) (string, error) {
	return queryUserID(ctx, q, `SELECT user_id FROM users WHERE login_name = $1 LIMIT 1`, loginName)
}

func (legacyLayout) userExists(ctx context.Context, q Querier, userID string) (bool, error) {
	var ok bool
	err := q.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM users WHERE user_id = $1)`, userID).Scan(&ok)
	return ok, err
}

func (legacyLayout) getAccount(ctx context.Context, q Querier, userID string) (*StudentAccount, error) {
	a := &StudentAccount{}
	var idNumber *string
	err := q.QueryRow(ctx, `
		SELECT user_id, id_number, login_name, full_name
		FROM users WHERE user_id = $1`, userID,
	).Scan(&a.UserID, &idNumber, &a.LoginName, &a.FullName)
	if IsNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if idNumber != nil {
		a.IDNumber = *idNumber
	}
	return a, nil
}

func (legacyLayout) createStudent(ctx context.Context, q Querier, a *StudentAccount) error {
	_, err := q.Exec(ctx, `
		INSERT INTO users (user_id, id_number, login_name, full_name, role)
		VALUES ($1, NULLIF($2, ''), $3, $4, 'student')`,
		a.UserID, a.IDNumber, a.LoginName, a.FullName)
	return err
}

func (legacyLayout) listStudentIDs(ctx context.Context, q Querier) ([]string, error) {
	return queryUserIDs(ctx, q, `SELECT user_id FROM users WHERE role = 'student' ORDER BY user_id`)
}

func (legacyLayout) ensureProfile(context.Context, Querier, string) error { return nil }

// --- normalized: "accounts" + "student_profiles" ---

type normalizedLayout struct{}

func (normalizedLayout) mode() SchemaMode     { return ModeNormalized }
func (normalizedLayout) profileTable() string { return tableStudentProfiles }

func (normalizedLayout) bootstrapSQL() string {
	return `
CREATE TABLE IF NOT EXISTS accounts (
    user_id TEXT PRIMARY KEY,
    login_name TEXT NOT NULL UNIQUE,
    full_name TEXT NOT NULL DEFAULT '',
    role TEXT NOT NULL DEFAULT 'student',
    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS student_profiles (
    user_id TEXT PRIMARY KEY REFERENCES accounts(user_id),
    id_number TEXT UNIQUE,
    grade1 NUMERIC(5,2),
    grade2 NUMERIC(5,2),
    grade3 NUMERIC(5,2),
    grade4 NUMERIC(5,2),
    mastery_score NUMERIC(5,2),
    score NUMERIC(12,2) NOT NULL DEFAULT 0,
    badge_color TEXT NOT NULL DEFAULT ''
);`
}

func (normalizedLayout) findByIDNumber(ctx context.Context, q Querier, idNumber string) (string, error) {
	return queryUserID(ctx, q, `SELECT user_id FROM student_profiles WHERE id_number = $1 LIMIT 1`, idNumber)
}

func (normalizedLayout) findByLoginName(ctx context.Context, q Querier, loginName string) (string, error) {
	return queryUserID(ctx, q, `SELECT user_id FROM accounts WHERE login_name = $1 LIMIT 1`, loginName)
}

func (normalizedLayout) userExists(ctx context.Context, q Querier, userID string) (bool, error) {
	var ok bool
	err := q.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM accounts WHERE user_id = $1)`, userID).Scan(&ok)
	return ok, err
}

func (normalizedLayout) getAccount(ctx context.Context, q Querier, userID string) (*StudentAccount, error) {
	a := &StudentAccount{}
	var idNumber *string
	err := q.QueryRow(ctx, `
		SELECT a.user_id, p.id_number, a.login_name, a.full_name
		FROM accounts a
		LEFT JOIN student_profiles p ON p.user_id = a.user_id
		WHERE a.user_id = $1`, userID,
	).Scan(&a.UserID, &idNumber, &a.LoginName, &a.FullName)
	if IsNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if idNumber != nil {
		a.IDNumber = *idNumber
	}
	return a, nil
}

func (normalizedLayout) createStudent(ctx context.Context, q Querier, a *StudentAccount) error {
	if _, err := q.Exec(ctx, `
		INSERT INTO accounts (user_id, login_name, full_name, role)
		VALUES ($1, $2, $3, 'student')`,
		a.UserID, a.LoginName, a.FullName); err != nil {
		return err
	}
	_, err := q.Exec(ctx, `
		INSERT INTO student_profiles (user_id, id_number)
		VALUES ($1, NULLIF($2, ''))`,
		a.UserID, a.IDNumber)
	return err
}

func (normalizedLayout) listStudentIDs(ctx context.Context, q Querier) ([]string, error) {
	return queryUserIDs(ctx, q, `SELECT user_id FROM accounts WHERE role = 'student' ORDER BY user_id`)
}

func (normalizedLayout) ensureProfile(ctx context.Context, q Querier, userID string) error {
	_, err := q.Exec(ctx, `
		INSERT INTO student_profiles (user_id) VALUES ($1)
		ON CONFLICT (user_id) DO NOTHING`, userID)
	return err
}

func queryUserID(ctx context.Context, q Querier, sql string, arg string) (string, error) {
	var id string
	err := q.QueryRow(ctx, sql, arg).Scan(&id)
	if IsNoRows(err) {
		return "", nil
	}
	return id, err
}

func queryUserIDs(ctx context.Context, q Querier, sql string) ([]string, error) {
	rows, err := q.Query(ctx, sql)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
