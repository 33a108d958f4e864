package credentials_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/theDeemoonn/foodMobile/credentials"
	"github.com/theDeemoonn/foodMobile/credentials/memstore"
	apperrors "github.com/theDeemoonn/foodMobile/internal/errors"
)

func TestSaveLoadClear(t *testing.T) {
	ctx := context.Background()
	s := memstore.New()

	err := credentials.Save(ctx, s, credentials.Record{AccessToken: "a1", RefreshToken: "r1", SessionID: "s1"})
	require.NoError(t, err)

	r, err := credentials.Load(ctx, s)
	require.NoError(t, err)
	require.Equal(t, credentials.Record{AccessToken: "a1", RefreshToken: "r1", SessionID: "s1"}, r)

	// A new pair without a session id drops the old one.
	err = credentials.Save(ctx, s, credentials.Record{AccessToken: "a2", RefreshToken: "r2"})
	require.NoError(t, err)
	_, ok, err := s.Get(ctx, credentials.SessionID)
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, credentials.Clear(ctx, s))
	require.Zero(t, s.Len())
}

func TestSave_PersistenceFailure(t *testing.T) {
	s := memstore.New()
	s.FailWrites(errors.New("disk full"))

	err := credentials.Save(context.Background(), s, credentials.Record{AccessToken: "a", RefreshToken: "r"})
	require.Error(t, err)
	require.Equal(t, apperrors.KindPersistence, apperrors.KindOf(err))
}

func TestClear_AttemptsEveryKey(t *testing.T) {
	ctx := context.Background()
	s := memstore.New()
	require.NoError(t, credentials.Save(ctx, s, credentials.Record{AccessToken: "a", RefreshToken: "r", SessionID: "s"}))

	s.FailRemovals(errors.New("locked"))
	err := credentials.Clear(ctx, s)
	require.Error(t, err)
	require.Equal(t, apperrors.KindPersistence, apperrors.KindOf(err))
	require.Contains(t, err.Error(), "access_token")
	require.Contains(t, err.Error(), "session_id")
}

func TestUnknownKey(t *testing.T) {
	s := memstore.New()
	err := s.Set(context.Background(), credentials.Key("userToken"), "x")
	require.ErrorIs(t, err, apperrors.ErrUnknownKey)
}
