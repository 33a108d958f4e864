package errors_test

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
	apperrors "github.com/theDeemoonn/foodMobile/internal/errors"
)

func TestKindOf(t *testing.T) {
	t.Run("nil", func(t *testing.T) {
		require.Equal(t, apperrors.KindUnknown, apperrors.KindOf(nil))
	})

	t.Run("wrapped kind", func(t *testing.T) {
		err := fmt.Errorf("outer: %w", apperrors.E(apperrors.KindPersistence, "store.Set", apperrors.ErrInternal))
		require.Equal(t, apperrors.KindPersistence, apperrors.KindOf(err))
		require.ErrorIs(t, err, apperrors.ErrInternal)
	})

	t.Run("busy sentinel", func(t *testing.T) {
		require.Equal(t, apperrors.KindBusy, apperrors.KindOf(apperrors.ErrBusy))
	})
}

func TestUserMessage(t *testing.T) {
	network := apperrors.E(apperrors.KindNetwork, "gateway.Get", fmt.Errorf("dial tcp: refused"))
	persistence := apperrors.E(apperrors.KindPersistence, "store.Set", fmt.Errorf("disk full"))

	require.Equal(t, apperrors.UserMessage(network), apperrors.UserMessage(persistence))
	require.Contains(t, apperrors.UserMessage(apperrors.E(apperrors.KindSessionExpired, "refresh", nil)), "session has expired")
	require.Empty(t, apperrors.UserMessage(nil))
}

func TestWrapf(t *testing.T) {
	require.NoError(t, apperrors.Wrapf(nil, "nothing"))
	err := apperrors.Wrapf(apperrors.ErrNotFound, "user %s", "42")
	require.EqualError(t, err, "user 42: not found")
	require.True(t, apperrors.Is(err, apperrors.ErrNotFound))
}
