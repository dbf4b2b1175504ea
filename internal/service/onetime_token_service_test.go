package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"task-management-api/internal/model"
	"task-management-api/internal/repository/memory"
	"task-management-api/internal/security"
)

func newTestOneTimeTokens(t *testing.T) (*OneTimeTokenService, *security.ManualClock) {
	t.Helper()

	clock := security.NewManualClock(testEpoch)
	svc := NewOneTimeTokenService(memory.NewOneTimeTokenStore(), clock, DefaultRetryPolicy(), 24*time.Hour, time.Hour)
	return svc, clock
}

func TestOneTimeTokenRedeem(t *testing.T) {
	t.Parallel()

	t.Run("redeems exactly once", func(t *testing.T) {
		t.Parallel()
		svc, _ := newTestOneTimeTokens(t)
		ctx := context.Background()

		secret, err := svc.Issue(ctx, "user-1", model.KindEmailVerify)
		require.NoError(t, err)
		require.Len(t, secret, 2*security.SecretBytes)

		userID, err := svc.Redeem(ctx, secret, model.KindEmailVerify)
		require.NoError(t, err)
		assert.Equal(t, "user-1", userID)

		_, err = svc.Redeem(ctx, secret, model.KindEmailVerify)
		require.ErrorIs(t, err, model.ErrTokenAlreadyUsed)
	})

	t.Run("expired", func(t *testing.T) {
		t.Parallel()
		svc, clock := newTestOneTimeTokens(t)
		ctx := context.Background()

		secret, err := svc.Issue(ctx, "user-1", model.KindPasswordReset)
		require.NoError(t, err)

		clock.Advance(time.Hour)
		_, err = svc.Redeem(ctx, secret, model.KindPasswordReset)
		require.ErrorIs(t, err, model.ErrTokenExpired)
	})

	t.Run("used then expired stays already used", func(t *testing.T) {
		t.Parallel()
		svc, clock := newTestOneTimeTokens(t)
		ctx := context.Background()

		secret, err := svc.Issue(ctx, "user-1", model.KindEmailVerify)
		require.NoError(t, err)
		_, err = svc.Redeem(ctx, secret, model.KindEmailVerify)
		require.NoError(t, err)

		clock.Advance(48 * time.Hour)
		_, err = svc.Redeem(ctx, secret, model.KindEmailVerify)
		require.ErrorIs(t, err, model.ErrTokenAlreadyUsed)
	})

	t.Run("purpose mismatch is not found", func(t *testing.T) {
		t.Parallel()
		svc, _ := newTestOneTimeTokens(t)
		ctx := context.Background()

		secret, err := svc.Issue(ctx, "user-1", model.KindEmailVerify)
		require.NoError(t, err)

		_, err = svc.Redeem(ctx, secret, model.KindPasswordReset)
		require.ErrorIs(t, err, model.ErrTokenNotFound)

		_, err = svc.Redeem(ctx, secret, model.KindEmailVerify)
		require.NoError(t, err)
	})

	t.Run("unknown and empty secrets", func(t *testing.T) {
		t.Parallel()
		svc, _ := newTestOneTimeTokens(t)
		ctx := context.Background()

		_, err := svc.Redeem(ctx, "deadbeef", model.KindEmailVerify)
		require.ErrorIs(t, err, model.ErrTokenNotFound)

		_, err = svc.Redeem(ctx, "  ", model.KindEmailVerify)
		require.ErrorIs(t, err, model.ErrTokenNotFound)
	})

	t.Run("bearer kinds are refused", func(t *testing.T) {
		t.Parallel()
		svc, _ := newTestOneTimeTokens(t)

		_, err := svc.Issue(context.Background(), "user-1", model.KindAccess)
		require.ErrorIs(t, err, model.ErrWrongTokenKind)
	})

	t.Run("concurrent redeem has one winner", func(t *testing.T) {
		t.Parallel()
		svc, _ := newTestOneTimeTokens(t)
		ctx := context.Background()

		secret, err := svc.Issue(ctx, "user-1", model.KindPasswordReset)
		require.NoError(t, err)

		const racers = 8
		errs := make([]error, racers)
		var wg sync.WaitGroup
		for i := range racers {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, errs[i] = svc.Redeem(ctx, secret, model.KindPasswordReset)
			}()
		}
		wg.Wait()

		wins := 0
		for _, err := range errs {
			if err == nil {
				wins++
				continue
			}
			require.True(t, errors.Is(err, model.ErrTokenAlreadyUsed), "unexpected error: %v", err)
		}
		assert.Equal(t, 1, wins)
	})
}

func TestOneTimeTokenReplacement(t *testing.T) {
	t.Parallel()

	t.Run("password reset replaces earlier secrets", func(t *testing.T) {
		t.Parallel()
		svc, _ := newTestOneTimeTokens(t)
		ctx := context.Background()

		first, err := svc.Issue(ctx, "user-1", model.KindPasswordReset)
		require.NoError(t, err)
		second, err := svc.Issue(ctx, "user-1", model.KindPasswordReset)
		require.NoError(t, err)

		_, err = svc.Redeem(ctx, first, model.KindPasswordReset)
		require.ErrorIs(t, err, model.ErrTokenNotFound)

		_, err = svc.Redeem(ctx, second, model.KindPasswordReset)
		require.NoError(t, err)
	})

	t.Run("email verify keeps earlier secrets unless replacing", func(t *testing.T) {
		t.Parallel()
		svc, _ := newTestOneTimeTokens(t)
		ctx := context.Background()

		first, err := svc.Issue(ctx, "user-1", model.KindEmailVerify)
		require.NoError(t, err)
		second, err := svc.Issue(ctx, "user-1", model.KindEmailVerify)
		require.NoError(t, err)

		_, err = svc.Redeem(ctx, first, model.KindEmailVerify)
		require.NoError(t, err)

		third, err := svc.IssueReplacing(ctx, "user-1", model.KindEmailVerify)
		require.NoError(t, err)

		_, err = svc.Redeem(ctx, second, model.KindEmailVerify)
		require.ErrorIs(t, err, model.ErrTokenNotFound)

		_, err = svc.Redeem(ctx, third, model.KindEmailVerify)
		require.NoError(t, err)
	})
}
