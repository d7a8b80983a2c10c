package resolver

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/MikeSquared-Agency/Badger/internal/store"
)

func newStore(t *testing.T, mode store.SchemaMode) *store.MemoryStore {
	t.Helper()
	s := store.NewMemoryStore(mode)
	ctx := context.Background()
	require.NoError(t, s.CreateStudent(ctx, &store.StudentAccount{UserID: "u-100", IDNumber: "S-2024-01", LoginName: "alice"}))
	// bob's ID number is carol's login name
	require.NoError(t, s.CreateStudent(ctx, &store.StudentAccount{UserID: "u-200", IDNumber: "carol", LoginName: "bob"}))
	require.NoError(t, s.CreateStudent(ctx, &store.StudentAccount{UserID: "u-300", LoginName: "carol"}))
	return s
}

func TestResolveChain(t *testing.T) {
	for _, mode := range []store.SchemaMode{store.ModeLegacy, store.ModeNormalized} {
		t.Run(string(mode), func(t *testing.T) {
			r := New(newStore(t, mode))
			ctx := context.Background()

			tests := []struct {
				identifier string
				want       Resolution
			}{
				{"S-2024-01", Resolution{Key: "u-100", Source: SourceIDNumber}},
				{"alice", Resolution{Key: "u-100", Source: SourceLoginName}},
				{"u-300", Resolution{Key: "u-300", Source: SourceUserID}},
				{"carol", Resolution{Key: "u-200", Source: SourceIDNumber}},
				{"ghost", Resolution{Key: "ghost", Source: SourcePassthrough}},
				{"", Resolution{Key: "", Source: SourcePassthrough}},
			}
			for _, tt := range tests {
				got, err := r.Resolve(ctx, tt.identifier)
				require.NoError(t, err)
				assert.Equal(t, tt.want, got, tt.identifier)
			}
		})
	}
}

func TestResolveDoesNotTrim(t *testing.T) {
	r := New(newStore(t, store.ModeNormalized))
	got, err := r.Resolve(context.Background(), " alice")
	require.NoError(t, err)
	assert.False(t, got.Found())
}

func TestResolveIsDeterministic(t *testing.T) {
	r := New(newStore(t, store.ModeLegacy))
	first, err := r.Resolve(context.Background(), "carol")
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		again, err := r.Resolve(context.Background(), "carol")
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

type mockLookup struct{ mock.Mock }

func (m *mockLookup) FindUserIDByIDNumber(ctx context.Context, idNumber string) (string, error) {
	args := m.Called(ctx, idNumber)
	return args.String(0), args.Error(1)
}

func (m *mockLookup) FindUserIDByLoginName(ctx context.Context, loginName string) (string, error) {
	args := m.Called(ctx, loginName)
	return args.String(0), args.Error(1)
}

func (m *mockLookup) UserExists(ctx context.Context, userID string) (bool, error) {
	args := m.Called(ctx, userID)
	return args.Bool(0), args.Error(1)
}

func TestResolveStoreFailure(t *testing.T) {
	ml := new(mockLookup)
	ml.On("FindUserIDByIDNumber", mock.Anything, "alice").Return("", nil)
	ml.On("FindUserIDByLoginName", mock.Anything, "alice").Return("", errors.New("connection refused"))

	_, err := New(ml).Resolve(context.Background(), "alice")
	assert.ErrorIs(t, err, store.ErrStorageUnavailable)
	ml.AssertNotCalled(t, "UserExists", mock.Anything, mock.Anything)
}

func TestResolveStopsAtFirstMatch(t *testing.T) {
	ml := new(mockLookup)
	ml.On("FindUserIDByIDNumber", mock.Anything, "S-1").Return("u-1", nil)

	got, err := New(ml).Resolve(context.Background(), "S-1")
	require.NoError(t, err)
	assert.Equal(t, Resolution{Key: "u-1", Source: SourceIDNumber}, got)
	ml.AssertNumberOfCalls(t, "FindUserIDByLoginName", 0)
}
