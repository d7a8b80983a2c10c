package store

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PostgresStore struct {
	pgFacts
	pool    *pgxpool.Pool
	timeout time.Duration
}

// Connect opens a pool and checks it is reachable.
func Connect(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return pool, nil
}

// NewPostgresStore wraps pool using the given layout. timeout bounds every store call
// and every student transaction; zero means unbounded.
func NewPostgresStore(pool *pgxpool.Pool, mode SchemaMode, timeout time.Duration) (*PostgresStore, error) {
	l, err := layoutFor(mode)
	if err != nil {
		return nil, err
	}
	return &PostgresStore{
		pgFacts: pgFacts{q: pool, layout: l, timeout: timeout},
		pool:    pool,
		timeout: timeout,
	}, nil
}

type OpenOptions struct {
	// Mode forces a layout; ModeUnknown detects it.
	Mode SchemaMode
	// Bootstrap creates the forced (or normalized) layout on an empty database.
	Bootstrap bool
	Timeout   time.Duration
	Logger    *slog.Logger
}

// OpenPostgres connects, detects the layout, provisions missing tables and columns, and
// returns a ready store.
func OpenPostgres(ctx context.Context, databaseURL string, opts OpenOptions) (*PostgresStore, *ProvisionReport, error) {
	pool, err := Connect(ctx, databaseURL)
	if err != nil {
		return nil, nil, err
	}

	bootstrap := ModeUnknown
	if opts.Bootstrap {
		bootstrap = opts.Mode
		if bootstrap == ModeUnknown {
			bootstrap = ModeNormalized
		}
	}

	probe := NewProbe(NewPostgresInspector(pool))
	report, err := EnsureSchema(ctx, pool, probe, ProvisionOptions{Bootstrap: bootstrap, Logger: opts.Logger})
	if err != nil {
		pool.Close()
		return nil, nil, err
	}
	if opts.Mode != ModeUnknown && opts.Mode != report.Mode {
		pool.Close()
		return nil, nil, fmt.Errorf("schema mode forced to %s but database uses %s", opts.Mode, report.Mode)
	}

	s, err := NewPostgresStore(pool, report.Mode, opts.Timeout)
	if err != nil {
		pool.Close()
		return nil, nil, err
	}
	return s, report, nil
}

func (s *PostgresStore) Mode() SchemaMode { return s.layout.mode() }

func (s *PostgresStore) Pool() *pgxpool.Pool { return s.pool }

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

// WithStudentTx holds a transaction-scoped advisory lock keyed by userID for the whole
// of fn. The lock is released on commit or rollback.
func (s *PostgresStore) WithStudentTx(ctx context.Context, userID string, fn func(tx Facts) error) error {
	ctx, cancel := bound(ctx, s.timeout)
	defer cancel()

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return Unavailable("begin transaction", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext('badger'), hashtext($1))`, userID); err != nil {
		return Unavailable("acquire student lock", err)
	}

	if err := fn(&pgFacts{q: tx, layout: s.layout}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return Unavailable("commit transaction", err)
	}
	return nil
}

func bound(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, timeout)
}

// pgFacts implements Facts over either the pool or an open transaction.
type pgFacts struct {
	q       Querier
	layout  layout
	timeout time.Duration
}

var gradeColumns = [4]string{"grade1", "grade2", "grade3", "grade4"}

func (f *pgFacts) FindUserIDByIDNumber(ctx context.Context, idNumber string) (string, error) {
	ctx, cancel := bound(ctx, f.timeout)
	defer cancel()
	id, err := f.layout.findByIDNumber(ctx, f.q, idNumber)
	return id, classify("find by id number", err)
}

func (f *pgFacts) FindUserIDByLoginName(ctx context.Context, loginName string) (string, error) {
	ctx, cancel := bound(ctx, f.timeout)
	defer cancel()
	id, err := f.layout.findByLoginName(ctx, f.q, loginName)
	return id, classify("find by login name", err)
}

func (f *pgFacts) UserExists(ctx context.Context, userID string) (bool, error) {
	ctx, cancel := bound(ctx, f.timeout)
	defer cancel()
	ok, err := f.layout.userExists(ctx, f.q, userID)
	return ok, classify("check user", err)
}

func (f *pgFacts) GetAccount(ctx context.Context, userID string) (*StudentAccount, error) {
	ctx, cancel := bound(ctx, f.timeout)
	defer cancel()
	a, err := f.layout.getAccount(ctx, f.q, userID)
	return a, classify("get account", err)
}

func (f *pgFacts) CreateStudent(ctx context.Context, account *StudentAccount) error {
	ctx, cancel := bound(ctx, f.timeout)
	defer cancel()
	return classify("create student", f.layout.createStudent(ctx, f.q, account))
}

func (f *pgFacts) ListStudentIDs(ctx context.Context) ([]string, error) {
	ctx, cancel := bound(ctx, f.timeout)
	defer cancel()
	ids, err := f.layout.listStudentIDs(ctx, f.q)
	return ids, classify("list students", err)
}

func (f *pgFacts) GetGrades(ctx context.Context, userID string) (*GradeRecord, error) {
	ctx, cancel := bound(ctx, f.timeout)
	defer cancel()

	g := &GradeRecord{UserID: userID}
	err := f.q.QueryRow(ctx, `
		SELECT grade1, grade2, grade3, grade4
		FROM `+f.layout.profileTable()+` WHERE user_id = $1`, userID,
	).Scan(&g.Years[0], &g.Years[1], &g.Years[2], &g.Years[3])
	if IsNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, classify("get grades", err)
	}
	return g, nil
}

func (f *pgFacts) SetGrade(ctx context.Context, userID string, year int, value *float64) error {
	if year < 1 || year > 4 {
		return Invalid("year must be between 1 and 4, got %d", year)
	}
	ctx, cancel := bound(ctx, f.timeout)
	defer cancel()

	if err := f.layout.ensureProfile(ctx, f.q, userID); err != nil {
		return classify("ensure profile", err)
	}
	tag, err := f.q.Exec(ctx, `
		UPDATE `+f.layout.profileTable()+` SET `+gradeColumns[year-1]+` = $2
		WHERE user_id = $1`, userID, value)
	if err != nil {
		return classify("set grade", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("student %s: %w", userID, ErrNotFound)
	}
	return nil
}

func (f *pgFacts) GetMastery(ctx context.Context, userID string) (*MasteryRecord, error) {
	ctx, cancel := bound(ctx, f.timeout)
	defer cancel()

	m := &MasteryRecord{UserID: userID}
	err := f.q.QueryRow(ctx, `
		SELECT mastery_score FROM `+f.layout.profileTable()+` WHERE user_id = $1`, userID,
	).Scan(&m.Percentage)
	if IsNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, classify("get mastery", err)
	}
	return m, nil
}

func (f *pgFacts) SetMastery(ctx context.Context, userID string, pct float64) error {
	ctx, cancel := bound(ctx, f.timeout)
	defer cancel()

	if err := f.layout.ensureProfile(ctx, f.q, userID); err != nil {
		return classify("ensure profile", err)
	}
	tag, err := f.q.Exec(ctx, `
		UPDATE `+f.layout.profileTable()+` SET mastery_score = $2
		WHERE user_id = $1`, userID, pct)
	if err != nil {
		return classify("set mastery", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("student %s: %w", userID, ErrNotFound)
	}
	return nil
}

func (f *pgFacts) CreateChallenge(ctx context.Context, c *Challenge) error {
	ctx, cancel := bound(ctx, f.timeout)
	defer cancel()
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	err := f.q.QueryRow(ctx, `
		INSERT INTO challenges (challenge_id, title, active)
		VALUES ($1, $2, $3)
		RETURNING created_at`,
		c.ID, c.Title, c.Active,
	).Scan(&c.CreatedAt)
	return classify("create challenge", err)
}

func (f *pgFacts) ChallengeExists(ctx context.Context, id uuid.UUID) (bool, error) {
	ctx, cancel := bound(ctx, f.timeout)
	defer cancel()
	var ok bool
	err := f.q.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM challenges WHERE challenge_id = $1)`, id).Scan(&ok)
	return ok, classify("check challenge", err)
}

func (f *pgFacts) ListActiveChallengeIDs(ctx context.Context) ([]uuid.UUID, error) {
	ctx, cancel := bound(ctx, f.timeout)
	defer cancel()

	rows, err := f.q.Query(ctx, `SELECT challenge_id FROM challenges WHERE active`)
	if err != nil {
		return nil, classify("list active challenges", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, classify("scan challenge id", err)
		}
		ids = append(ids, id)
	}
	return ids, classify("list active challenges", rows.Err())
}

func (f *pgFacts) CreateChallengeSubmission(ctx context.Context, sub *ChallengeSubmission) error {
	ctx, cancel := bound(ctx, f.timeout)
	defer cancel()
	if sub.ID == uuid.Nil {
		sub.ID = uuid.New()
	}
	err := f.q.QueryRow(ctx, `
		INSERT INTO challenge_submissions (id, user_id, challenge_id, percentage)
		VALUES ($1, $2, $3, $4)
		RETURNING submitted_at`,
		sub.ID, sub.UserID, sub.ChallengeID, sub.Percentage,
	).Scan(&sub.SubmittedAt)
	return classify("create challenge submission", err)
}

func (f *pgFacts) ListChallengeSubmissions(ctx context.Context, userID string) ([]ChallengeSubmission, error) {
	ctx, cancel := bound(ctx, f.timeout)
	defer cancel()

	rows, err := f.q.Query(ctx, `
		SELECT id, user_id, challenge_id, percentage, submitted_at
		FROM challenge_submissions WHERE user_id = $1
		ORDER BY submitted_at ASC`, userID)
	if err != nil {
		return nil, classify("list challenge submissions", err)
	}
	defer rows.Close()

	var subs []ChallengeSubmission
	for rows.Next() {
		var s ChallengeSubmission
		if err := rows.Scan(&s.ID, &s.UserID, &s.ChallengeID, &s.Percentage, &s.SubmittedAt); err != nil {
			return nil, classify("scan challenge submission", err)
		}
		subs = append(subs, s)
	}
	return subs, classify("list challenge submissions", rows.Err())
}

const attendanceColumns = `id, user_id, event_name, points, verified, recorded_at`

func (f *pgFacts) CreateAttendance(ctx context.Context, rec *AttendanceRecord) error {
	ctx, cancel := bound(ctx, f.timeout)
	defer cancel()
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	err := f.q.QueryRow(ctx, `
		INSERT INTO attendance_records (id, user_id, event_name, points, verified)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING recorded_at`,
		rec.ID, rec.UserID, rec.EventName, rec.Points, rec.Verified,
	).Scan(&rec.RecordedAt)
	return classify("create attendance", err)
}

func (f *pgFacts) SetAttendanceVerified(ctx context.Context, userID string, id uuid.UUID, verified bool) (*AttendanceRecord, error) {
	ctx, cancel := bound(ctx, f.timeout)
	defer cancel()

	r := &AttendanceRecord{}
	err := f.q.QueryRow(ctx, `
		UPDATE attendance_records SET verified = $3
		WHERE id = $1 AND user_id = $2
		RETURNING `+attendanceColumns, id, userID, verified,
	).Scan(&r.ID, &r.UserID, &r.EventName, &r.Points, &r.Verified, &r.RecordedAt)
	if IsNoRows(err) {
		return nil, fmt.Errorf("attendance record %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, classify("verify attendance", err)
	}
	return r, nil
}

func (f *pgFacts) DeleteAttendance(ctx context.Context, userID string, id uuid.UUID) error {
	ctx, cancel := bound(ctx, f.timeout)
	defer cancel()
	tag, err := f.q.Exec(ctx, `DELETE FROM attendance_records WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return classify("delete attendance", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("attendance record %s: %w", id, ErrNotFound)
	}
	return nil
}

func (f *pgFacts) ListAttendance(ctx context.Context, userID string) ([]AttendanceRecord, error) {
	ctx, cancel := bound(ctx, f.timeout)
	defer cancel()

	rows, err := f.q.Query(ctx, `
		SELECT `+attendanceColumns+`
		FROM attendance_records WHERE user_id = $1
		ORDER BY recorded_at ASC`, userID)
	if err != nil {
		return nil, classify("list attendance", err)
	}
	defer rows.Close()

	var recs []AttendanceRecord
	for rows.Next() {
		var r AttendanceRecord
		if err := rows.Scan(&r.ID, &r.UserID, &r.EventName, &r.Points, &r.Verified, &r.RecordedAt); err != nil {
			return nil, classify("scan attendance", err)
		}
		recs = append(recs, r)
	}
	return recs, classify("list attendance", rows.Err())
}

func (f *pgFacts) CreateExtracurricular(ctx context.Context, act *ExtracurricularActivity) error {
	ctx, cancel := bound(ctx, f.timeout)
	defer cancel()
	if act.ID == uuid.Nil {
		act.ID = uuid.New()
	}
	err := f.q.QueryRow(ctx, `
		INSERT INTO extracurricular_activities (id, user_id, title, score, verified, recorded_by)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING recorded_at`,
		act.ID, act.UserID, act.Title, act.Score, act.Verified, act.RecordedBy,
	).Scan(&act.RecordedAt)
	return classify("create extracurricular", err)
}

func (f *pgFacts) DeleteExtracurricular(ctx context.Context, userID string, id uuid.UUID) error {
	ctx, cancel := bound(ctx, f.timeout)
	defer cancel()
	tag, err := f.q.Exec(ctx, `DELETE FROM extracurricular_activities WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return classify("delete extracurricular", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("extracurricular activity %s: %w", id, ErrNotFound)
	}
	return nil
}

func (f *pgFacts) ListExtracurricular(ctx context.Context, userID string) ([]ExtracurricularActivity, error) {
	ctx, cancel := bound(ctx, f.timeout)
	defer cancel()

	rows, err := f.q.Query(ctx, `
		SELECT id, user_id, title, score, verified, recorded_by, recorded_at
		FROM extracurricular_activities WHERE user_id = $1
		ORDER BY recorded_at ASC`, userID)
	if err != nil {
		return nil, classify("list extracurricular", err)
	}
	defer rows.Close()

	var acts []ExtracurricularActivity
	for rows.Next() {
		var a ExtracurricularActivity
		if err := rows.Scan(&a.ID, &a.UserID, &a.Title, &a.Score, &a.Verified, &a.RecordedBy, &a.RecordedAt); err != nil {
			return nil, classify("scan extracurricular", err)
		}
		acts = append(acts, a)
	}
	return acts, classify("list extracurricular", rows.Err())
}

func (f *pgFacts) GetWeights(ctx context.Context) (*ScoreWeights, error) {
	ctx, cancel := bound(ctx, f.timeout)
	defer cancel()

	w := &ScoreWeights{}
	err := f.q.QueryRow(ctx, `
		SELECT academic, challenges, mastery, seminars, extracurricular, updated_by, updated_at
		FROM score_weights WHERE id = 1`,
	).Scan(&w.Academic, &w.Challenges, &w.Mastery, &w.Seminars, &w.Extracurricular, &w.UpdatedBy, &w.UpdatedAt)
	if IsNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, classify("get weights", err)
	}
	return w, nil
}

func (f *pgFacts) SaveWeights(ctx context.Context, w *ScoreWeights) error {
	ctx, cancel := bound(ctx, f.timeout)
	defer cancel()
	err := f.q.QueryRow(ctx, `
		INSERT INTO score_weights (id, academic, challenges, mastery, seminars, extracurricular, updated_by, updated_at)
		VALUES (1, $1, $2, $3, $4, $5, $6, NOW())
		ON CONFLICT (id) DO UPDATE SET
			academic = EXCLUDED.academic,
			challenges = EXCLUDED.challenges,
			mastery = EXCLUDED.mastery,
			seminars = EXCLUDED.seminars,
			extracurricular = EXCLUDED.extracurricular,
			updated_by = EXCLUDED.updated_by,
			updated_at = EXCLUDED.updated_at
		RETURNING updated_at`,
		w.Academic, w.Challenges, w.Mastery, w.Seminars, w.Extracurricular, w.UpdatedBy,
	).Scan(&w.UpdatedAt)
	return classify("save weights", err)
}

const snapshotColumns = `user_id, score, badge_color,
	academic_pct, challenges_pct, mastery_pct, seminar_score, extracurricular_score,
	score_updated_at, score_stale`

func (f *pgFacts) GetSnapshot(ctx context.Context, userID string) (*Snapshot, error) {
	ctx, cancel := bound(ctx, f.timeout)
	defer cancel()

	s := &Snapshot{}
	var computedAt *time.Time
	err := f.q.QueryRow(ctx, `
		SELECT `+snapshotColumns+`
		FROM `+f.layout.profileTable()+` WHERE user_id = $1`, userID,
	).Scan(
		&s.UserID, &s.Score, &s.Badge,
		&s.Categories.Academic, &s.Categories.Challenges, &s.Categories.Mastery,
		&s.Categories.Seminars, &s.Categories.Extracurricular,
		&computedAt, &s.Stale,
	)
	if IsNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, classify("get snapshot", err)
	}
	if computedAt == nil {
		return nil, nil
	}
	s.ComputedAt = *computedAt
	return s, nil
}

// SaveSnapshot writes score, tier and the five category values in one statement.
func (f *pgFacts) SaveSnapshot(ctx context.Context, snap *Snapshot) error {
	ctx, cancel := bound(ctx, f.timeout)
	defer cancel()

	if err := f.layout.ensureProfile(ctx, f.q, snap.UserID); err != nil {
		return classify("ensure profile", err)
	}
	c := snap.Categories
	tag, err := f.q.Exec(ctx, `
		UPDATE `+f.layout.profileTable()+` SET
			score = $2, badge_color = $3,
			academic_pct = $4, challenges_pct = $5, mastery_pct = $6,
			seminar_score = $7, extracurricular_score = $8,
			score_updated_at = $9, score_stale = $10
		WHERE user_id = $1`,
		snap.UserID, snap.Score, snap.Badge,
		c.Academic, c.Challenges, c.Mastery, c.Seminars, c.Extracurricular,
		snap.ComputedAt, snap.Stale,
	)
	if err != nil {
		return classify("save snapshot", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("student %s: %w", snap.UserID, ErrNotFound)
	}
	return nil
}

func (f *pgFacts) MarkSnapshotStale(ctx context.Context, userID string) error {
	ctx, cancel := bound(ctx, f.timeout)
	defer cancel()
	_, err := f.q.Exec(ctx, `
		UPDATE `+f.layout.profileTable()+` SET score_stale = TRUE
		WHERE user_id = $1 AND score_updated_at IS NOT NULL`, userID)
	return classify("mark snapshot stale", err)
}

func (f *pgFacts) ListSnapshots(ctx context.Context, limit int) ([]RankedSnapshot, error) {
	var lim any = limit
	switch {
	case limit == 0:
		lim = DefaultSnapshotLimit
	case limit < 0:
		lim = nil // LIMIT NULL
	}
	ctx, cancel := bound(ctx, f.timeout)
	defer cancel()

	rows, err := f.q.Query(ctx, `
		SELECT RANK() OVER (ORDER BY score DESC), user_id, score, badge_color
		FROM `+f.layout.profileTable()+`
		WHERE score_updated_at IS NOT NULL
		ORDER BY score DESC, user_id ASC
		LIMIT $1`, lim)
	if err != nil {
		return nil, classify("list snapshots", err)
	}
	defer rows.Close()

	var out []RankedSnapshot
	for rows.Next() {
		var r RankedSnapshot
		if err := rows.Scan(&r.Rank, &r.UserID, &r.Score, &r.Badge); err != nil {
			return nil, classify("scan snapshot", err)
		}
		out = append(out, r)
	}
	return out, classify("list snapshots", rows.Err())
}

// PostgresInspector answers probe questions from information_schema, scoped to the
// connection's current schema.
type PostgresInspector struct {
	q Querier
}

func NewPostgresInspector(q Querier) *PostgresInspector {
	return &PostgresInspector{q: q}
}

func (i *PostgresInspector) TableExists(ctx context.Context, table string) (bool, error) {
	var ok bool
	err := i.q.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM information_schema.tables
			WHERE table_schema = current_schema() AND table_name = $1
		)`, table).Scan(&ok)
	return ok, err
}

func (i *PostgresInspector) ColumnExists(ctx context.Context, table, column string) (bool, error) {
	var ok bool
	err := i.q.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM information_schema.columns
			WHERE table_schema = current_schema() AND table_name = $1 AND column_name = $2
		)`, table, column).Scan(&ok)
	return ok, err
}
