//go:build integration

package store

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupTestDB provisions a throwaway schema for mode and returns a store bound to it.
func setupTestDB(t *testing.T, mode SchemaMode) *PostgresStore {
	t.Helper()
	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		t.Skip("DATABASE_URL not set, skipping integration test")
	}
	ctx := context.Background()

	schema := fmt.Sprintf("badger_test_%s_%d", mode, time.Now().UnixNano())
	admin, err := Connect(ctx, dbURL)
	require.NoError(t, err)
	_, err = admin.Exec(ctx, "CREATE SCHEMA "+schema)
	require.NoError(t, err)

	cfg, err := pgxpool.ParseConfig(dbURL)
	require.NoError(t, err)
	cfg.ConnConfig.RuntimeParams["search_path"] = schema
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	require.NoError(t, err)

	report, err := EnsureSchema(ctx, pool, NewProbe(NewPostgresInspector(pool)), ProvisionOptions{Bootstrap: mode})
	require.NoError(t, err)
	require.Equal(t, mode, report.Mode)

	s, err := NewPostgresStore(pool, mode, 5*time.Second)
	require.NoError(t, err)

	t.Cleanup(func() {
		s.Close()
		_, _ = admin.Exec(ctx, "DROP SCHEMA "+schema+" CASCADE")
		admin.Close()
	})
	return s
}

func forEachPostgresMode(t *testing.T, fn func(t *testing.T, s *PostgresStore)) {
	for _, mode := range []SchemaMode{ModeLegacy, ModeNormalized} {
		t.Run(string(mode), func(t *testing.T) { fn(t, setupTestDB(t, mode)) })
	}
}

func TestPostgresEnsureSchemaTwice(t *testing.T) {
	s := setupTestDB(t, ModeNormalized)
	report, err := EnsureSchema(context.Background(), s.Pool(), NewProbe(NewPostgresInspector(s.Pool())), ProvisionOptions{})
	require.NoError(t, err)
	assert.False(t, report.Bootstrapped)
	assert.Empty(t, report.AddedColumns)
}

func TestPostgresAccountLookups(t *testing.T) {
	forEachPostgresMode(t, func(t *testing.T, s *PostgresStore) {
		ctx := context.Background()
		require.NoError(t, s.CreateStudent(ctx, &StudentAccount{
			UserID: "u1", IDNumber: "2024001", LoginName: "alice", FullName: "Alice",
		}))

		id, err := s.FindUserIDByIDNumber(ctx, "2024001")
		require.NoError(t, err)
		assert.Equal(t, "u1", id)

		id, err = s.FindUserIDByLoginName(ctx, "alice")
		require.NoError(t, err)
		assert.Equal(t, "u1", id)

		ok, err := s.UserExists(ctx, "u1")
		require.NoError(t, err)
		assert.True(t, ok)

		err = s.CreateStudent(ctx, &StudentAccount{UserID: "u2", LoginName: "alice"})
		assert.ErrorIs(t, err, ErrValidation)
	})
}

func TestPostgresFactsAndSnapshot(t *testing.T) {
	forEachPostgresMode(t, func(t *testing.T, s *PostgresStore) {
		ctx := context.Background()
		require.NoError(t, s.CreateStudent(ctx, &StudentAccount{UserID: "u1", LoginName: "alice"}))

		snap, err := s.GetSnapshot(ctx, "u1")
		require.NoError(t, err)
		assert.Nil(t, snap, "never computed")

		g := 91.25
		require.NoError(t, s.SetGrade(ctx, "u1", 3, &g))
		grades, err := s.GetGrades(ctx, "u1")
		require.NoError(t, err)
		require.NotNil(t, grades.Years[2])
		assert.Equal(t, 91.25, *grades.Years[2])

		c := &Challenge{Title: "Two Sum", Active: true}
		require.NoError(t, s.CreateChallenge(ctx, c))
		require.NoError(t, s.CreateChallengeSubmission(ctx, &ChallengeSubmission{UserID: "u1", ChallengeID: c.ID, Percentage: 75}))
		err = s.CreateChallengeSubmission(ctx, &ChallengeSubmission{UserID: "u1", ChallengeID: uuid.New(), Percentage: 75})
		assert.ErrorIs(t, err, ErrNotFound)

		rec := &AttendanceRecord{UserID: "u1", EventName: "Webinar", Points: DefaultAttendancePoints}
		require.NoError(t, s.CreateAttendance(ctx, rec))
		verified, err := s.SetAttendanceVerified(ctx, "u1", rec.ID, true)
		require.NoError(t, err)
		assert.True(t, verified.Verified)

		want := &Snapshot{
			UserID: "u1", Score: 42.5, Badge: "warning",
			Categories: CategoryScores{Academic: 91.25, Challenges: 100, Seminars: 1},
			ComputedAt: time.Now().UTC().Truncate(time.Microsecond),
		}
		require.NoError(t, s.SaveSnapshot(ctx, want))
		got, err := s.GetSnapshot(ctx, "u1")
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.True(t, want.SameValues(got))
		assert.False(t, got.Stale)

		require.NoError(t, s.MarkSnapshotStale(ctx, "u1"))
		got, err = s.GetSnapshot(ctx, "u1")
		require.NoError(t, err)
		assert.True(t, got.Stale)
		require.NoError(t, s.SaveSnapshot(ctx, want))
		got, err = s.GetSnapshot(ctx, "u1")
		require.NoError(t, err)
		assert.False(t, got.Stale, "saving a snapshot clears the flag")

		active, err := s.ListActiveChallengeIDs(ctx)
		require.NoError(t, err)
		assert.Len(t, active, 1)

		ranked, err := s.ListSnapshots(ctx, 10)
		require.NoError(t, err)
		require.Len(t, ranked, 1)
		assert.Equal(t, int64(1), ranked[0].Rank)
	})
}

func TestPostgresWeightsUpsert(t *testing.T) {
	s := setupTestDB(t, ModeLegacy)
	ctx := context.Background()

	w, err := s.GetWeights(ctx)
	require.NoError(t, err)
	assert.Nil(t, w)

	require.NoError(t, s.SaveWeights(ctx, &ScoreWeights{Academic: 40, Challenges: 20, Mastery: 20, Seminars: 10, Extracurricular: 10, UpdatedBy: "admin"}))
	require.NoError(t, s.SaveWeights(ctx, &ScoreWeights{Academic: 50, Challenges: 20, Mastery: 20, Seminars: 10, Extracurricular: 0, UpdatedBy: "admin"}))

	w, err = s.GetWeights(ctx)
	require.NoError(t, err)
	assert.Equal(t, 50.0, w.Academic)
	assert.Equal(t, 0.0, w.Extracurricular)
}

func TestPostgresStudentTxRollsBack(t *testing.T) {
	s := setupTestDB(t, ModeNormalized)
	ctx := context.Background()
	require.NoError(t, s.CreateStudent(ctx, &StudentAccount{UserID: "u1", LoginName: "alice"}))

	err := s.WithStudentTx(ctx, "u1", func(tx Facts) error {
		if err := tx.SetMastery(ctx, "u1", 80); err != nil {
			return err
		}
		return fmt.Errorf("abort")
	})
	require.Error(t, err)

	m, err := s.GetMastery(ctx, "u1")
	require.NoError(t, err)
	assert.Nil(t, m.Percentage)
}
