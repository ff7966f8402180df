package auth

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Wyydra/ya-client/internal/core/domain"
)

func TestStore(t *testing.T) {
	s := NewStore("")
	require.False(t, s.Authenticated())
	_, err := s.Token(context.Background())
	require.ErrorIs(t, err, domain.ErrAuth)

	s.Set("t0k3n")
	require.True(t, s.Authenticated())
	tok, err := s.Token(context.Background())
	require.NoError(t, err)
	require.Equal(t, "t0k3n", tok)

	s.Clear()
	require.False(t, s.Authenticated())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s.Set("again")
	_, err = s.Token(ctx)
	require.ErrorIs(t, err, context.Canceled)
}
