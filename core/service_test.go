package core

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterLoginVerify(t *testing.T) {
	ctx := context.Background()
	repo := newMemUserRepo()
	svc := newTestAuthService(t, repo, nil, nil)

	u, err := svc.Register(ctx, "alice@example.com", "pw123", "Alice")
	require.NoError(t, err)
	assert.Equal(t, PublicUser{ID: u.ID, Email: "alice@example.com", Name: "Alice", Role: RoleUser}, u)
	assert.NotEqual(t, "pw123", repo.users[u.ID].PasswordHash)

	res, err := svc.Login(ctx, "alice@example.com", "pw123")
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", res.User.Email)
	require.NotEmpty(t, res.Token)

	uid, err := svc.VerifyToken(res.Token)
	require.NoError(t, err)
	assert.Equal(t, u.ID, uid)
}

func TestRegisterDuplicateEmail(t *testing.T) {
	ctx := context.Background()
	svc := newTestAuthService(t, newMemUserRepo(), nil, nil)

	_, err := svc.Register(ctx, "alice@example.com", "pw123", "Alice")
	require.NoError(t, err)
	_, err = svc.Register(ctx, " alice@example.com ", "other", "Alice 2")
	assert.ErrorIs(t, err, ErrDuplicateEmail)

	status, code, _ := statusFor(err)
	assert.Equal(t, 409, status)
	assert.Equal(t, "CONFLICT", code)
}

func TestRegisterConcurrentSameEmail(t *testing.T) {
	ctx := context.Background()
	svc := newTestAuthService(t, newMemUserRepo(), nil, nil)

	const n = 8
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = svc.Register(ctx, "race@example.com", "pw", fmt.Sprintf("R%d", i))
		}(i)
	}
	wg.Wait()

	ok := 0
	for _, err := range errs {
		if err == nil {
			ok++
			continue
		}
		assert.ErrorIs(t, err, ErrDuplicateEmail)
	}
	assert.Equal(t, 1, ok)
}

func TestRegisterValidation(t *testing.T) {
	svc := newTestAuthService(t, newMemUserRepo(), nil, nil)
	cases := []struct{ email, password, name string }{
		{"", "pw", "A"},
		{"a@example.com", "", "A"},
		{"a@example.com", "pw", "   "},
		{"not-an-email", "pw", "A"},
		{"Alice <a@example.com>", "pw", "A"},
	}
	for _, tc := range cases {
		_, err := svc.Register(context.Background(), tc.email, tc.password, tc.name)
		assert.Equal(t, KindValidation, KindOf(err), "%+v: %v", tc, err)
	}
}

func TestLoginFailuresAreIndistinguishable(t *testing.T) {
	ctx := context.Background()
	metrics := NewMetrics()
	svc := newTestAuthService(t, newMemUserRepo(), nil, metrics)
	_, err := svc.Register(ctx, "alice@example.com", "pw123", "Alice")
	require.NoError(t, err)

	res1, errWrong := svc.Login(ctx, "alice@example.com", "wrong")
	res2, errUnknown := svc.Login(ctx, "bob@example.com", "pw123")
	assert.Nil(t, res1)
	assert.Nil(t, res2)
	assert.Same(t, ErrInvalidCredentials, errWrong)
	assert.Same(t, ErrInvalidCredentials, errUnknown)

	_, err = svc.Login(ctx, "alice@example.com", "pw123")
	require.NoError(t, err)

	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.authAttempts.WithLabelValues("failure")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.authAttempts.WithLabelValues("success")))
}

func TestLoginStoreUnavailable(t *testing.T) {
	repo := newMemUserRepo()
	repo.err = &AppError{Kind: KindUnavailable, Message: "database unavailable", Err: errors.New("dial tcp: refused")}
	svc := newTestAuthService(t, repo, nil, nil)

	_, err := svc.Login(context.Background(), "alice@example.com", "pw123")
	assert.Equal(t, KindUnavailable, KindOf(err))
	assert.NotErrorIs(t, err, ErrInvalidCredentials)
}

func TestIsAdmin(t *testing.T) {
	for role, want := range map[string]bool{
		RoleAdmin: true,
		RoleUser:  false,
		"Admin":   false,
		"":        false,
		"root":    false,
	} {
		assert.Equal(t, want, IsAdmin(PublicUser{Role: role}), "role %q", role)
	}
}

func TestCurrentUserIsCached(t *testing.T) {
	ctx := context.Background()
	metrics := NewMetrics()
	_, cache := newTestCache(t, metrics)
	repo := newMemUserRepo()
	svc := newTestAuthService(t, repo, cache, metrics)

	u, err := svc.Register(ctx, "alice@example.com", "pw123", "Alice")
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		got, err := svc.CurrentUser(ctx, u.ID)
		require.NoError(t, err)
		assert.Equal(t, u, got)
	}
	assert.Equal(t, 1, repo.finds)
	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.cacheHits.WithLabelValues("user")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.cacheMisses.WithLabelValues("user")))

	_, err = svc.CurrentUser(ctx, 999)
	assert.Equal(t, KindNotFound, KindOf(err))
}
