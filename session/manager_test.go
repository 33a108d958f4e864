package session_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"github.com/theDeemoonn/foodMobile/credentials"
	"github.com/theDeemoonn/foodMobile/credentials/memstore"
	"github.com/theDeemoonn/foodMobile/gateway"
	apperrors "github.com/theDeemoonn/foodMobile/internal/errors"
	"github.com/theDeemoonn/foodMobile/internal/mockapi"
	"github.com/theDeemoonn/foodMobile/session"
	"github.com/theDeemoonn/foodMobile/users"
	"golang.org/x/crypto/bcrypt"
)

const (
	testEmail    = "jane@example.com"
	testPassword = "secret1"
)

type testFixture struct {
	api     *mockapi.Server
	server  *httptest.Server
	store   *memstore.MemStore
	gateway *gateway.Gateway
	manager *session.Manager
}

func setupTestFixture(t *testing.T, apiOptions []mockapi.Option, options ...session.Option) *testFixture {
	t.Helper()
	apiOptions = append([]mockapi.Option{mockapi.WithBcryptCost(bcrypt.MinCost), mockapi.WithLogger(zerolog.Nop())}, apiOptions...)
	api, err := mockapi.New(apiOptions...)
	require.NoError(t, err)
	_, err = api.SeedUser(testEmail, testPassword, users.User{Name: "Jane"})
	require.NoError(t, err)

	server := httptest.NewServer(api)
	t.Cleanup(server.Close)

	store := memstore.New()
	gw, err := gateway.New(server.URL+mockapi.PublicPrefix, server.URL+mockapi.PrivatePrefix, store, gateway.WithLogger(zerolog.Nop()))
	require.NoError(t, err)

	options = append([]session.Option{session.WithLogger(zerolog.Nop())}, options...)
	m, err := session.New(gw, store, options...)
	require.NoError(t, err)
	gw.SetRefresher(m)
	t.Cleanup(m.Close)

	return &testFixture{api: api, server: server, store: store, gateway: gw, manager: m}
}

func (f *testFixture) login(t *testing.T) {
	t.Helper()
	f.manager.SetEmail(testEmail)
	f.manager.SetPassword(testPassword)
	require.NoError(t, f.manager.Login(context.Background()))
}

func (f *testFixture) record(t *testing.T) credentials.Record {
	t.Helper()
	rec, err := credentials.Load(context.Background(), f.store)
	require.NoError(t, err)
	return rec
}

func TestLogin_InvalidFormNeverReachesNetwork(t *testing.T) {
	f := setupTestFixture(t, nil)
	f.manager.SetEmail("not-an-email")
	f.manager.SetPassword("short")

	err := f.manager.Login(context.Background())
	require.Equal(t, apperrors.KindValidation, apperrors.KindOf(err))
	require.ErrorIs(t, err, apperrors.ErrInvalidEmail)

	state := f.manager.State()
	require.NotEmpty(t, state.Form.EmailError)
	require.NotEmpty(t, state.Form.PasswordError)
	require.Equal(t, session.StatusUnauthenticated, state.Status)
	require.False(t, state.IsLoading)
	require.Zero(t, f.api.LoginCalls())
}

func TestLogin_Success(t *testing.T) {
	f := setupTestFixture(t, nil)
	f.login(t)

	state := f.manager.State()
	require.Equal(t, session.StatusAuthenticated, state.Status)
	require.True(t, state.IsAuthenticated)
	require.True(t, f.manager.IsAuthenticated())
	require.False(t, state.IsLoading)
	require.Empty(t, state.Form.Password)
	require.WithinDuration(t, time.Now().Add(mockapi.DefaultAccessTokenTTL), state.AccessTokenExpiry, time.Minute)

	token := state.Token()
	require.NotNil(t, token)
	require.True(t, token.Valid())
	require.Equal(t, state.SessionID, token.Extra("session_id"))

	rec := f.record(t)
	require.Equal(t, state.AccessToken, rec.AccessToken)
	require.Equal(t, state.RefreshToken, rec.RefreshToken)
	require.Equal(t, state.SessionID, rec.SessionID)
}

func TestLogin_WrongPassword(t *testing.T) {
	f := setupTestFixture(t, nil)
	f.manager.SetEmail(testEmail)
	f.manager.SetPassword("wrong-password")

	err := f.manager.Login(context.Background())
	require.Equal(t, apperrors.KindAuthorization, apperrors.KindOf(err))
	require.True(t, gateway.IsUnauthorized(err))

	state := f.manager.State()
	require.Equal(t, session.StatusUnauthenticated, state.Status)
	require.False(t, state.IsAuthenticated)
	require.Equal(t, "Invalid email or password", state.Message)
	require.Zero(t, f.store.Len())
}

func TestLogin_PersistenceFailureBlocksAuthentication(t *testing.T) {
	f := setupTestFixture(t, nil)
	f.store.FailWrites(errors.New("disk full"))
	f.manager.SetEmail(testEmail)
	f.manager.SetPassword(testPassword)

	err := f.manager.Login(context.Background())
	require.Equal(t, apperrors.KindPersistence, apperrors.KindOf(err))

	state := f.manager.State()
	require.False(t, state.IsAuthenticated)
	require.Equal(t, session.StatusUnauthenticated, state.Status)
	require.Empty(t, state.AccessToken)
	require.Equal(t, apperrors.UserMessage(apperrors.E(apperrors.KindNetwork, "", nil)), state.Message)
}

func TestRegister(t *testing.T) {
	t.Run("tokens issued immediately", func(t *testing.T) {
		f := setupTestFixture(t, nil)
		f.manager.SetEmail("new@example.com")
		f.manager.SetPassword("secret1")
		f.manager.SetConfirmPassword("secret1")

		require.NoError(t, f.manager.Register(context.Background()))
		require.Equal(t, session.StatusAuthenticated, f.manager.State().Status)
		require.NotEmpty(t, f.record(t).SessionID)
	})

	t.Run("mismatched confirmation", func(t *testing.T) {
		f := setupTestFixture(t, nil)
		f.manager.SetEmail("new@example.com")
		f.manager.SetPassword("secret1")
		f.manager.SetConfirmPassword("secret2")

		err := f.manager.Register(context.Background())
		require.ErrorIs(t, err, apperrors.ErrPasswordsMismatch)
		require.Equal(t, "Passwords do not match", f.manager.State().Form.ConfirmPasswordError)
	})

	t.Run("email confirmation", func(t *testing.T) {
		f := setupTestFixture(t, []mockapi.Option{mockapi.WithEmailConfirmation("123456")})
		f.manager.SetEmail("new@example.com")
		f.manager.SetPassword("secret1")
		f.manager.SetConfirmPassword("secret1")

		require.NoError(t, f.manager.Register(context.Background()))
		state := f.manager.State()
		require.Equal(t, session.StatusAwaitingConfirmation, state.Status)
		require.Equal(t, "new@example.com", state.PendingEmail)
		require.False(t, state.IsAuthenticated)
		require.Zero(t, f.store.Len())

		err := f.manager.ConfirmEmail(context.Background(), "000000")
		require.Error(t, err)
		require.Equal(t, session.StatusAwaitingConfirmation, f.manager.State().Status)

		require.NoError(t, f.manager.ConfirmEmail(context.Background(), "123456"))
		state = f.manager.State()
		require.Equal(t, session.StatusAuthenticated, state.Status)
		require.Empty(t, state.PendingEmail)
		require.NotEmpty(t, f.record(t).AccessToken)
	})
}

func TestConfirmEmail_NotAwaiting(t *testing.T) {
	f := setupTestFixture(t, nil)
	err := f.manager.ConfirmEmail(context.Background(), "123456")
	require.ErrorIs(t, err, apperrors.ErrNotAwaitingConfirm)
}

func TestLogout(t *testing.T) {
	t.Run("clears everything", func(t *testing.T) {
		f := setupTestFixture(t, nil, session.WithNotifyBackendOnLogout(true))
		f.login(t)

		require.NoError(t, f.manager.Logout(context.Background()))
		state := f.manager.State()
		require.Equal(t, session.StatusUnauthenticated, state.Status)
		require.False(t, state.IsAuthenticated)
		require.Empty(t, state.AccessToken)
		require.Empty(t, state.Form.Email)
		require.Zero(t, f.store.Len())
		require.Equal(t, 1, f.api.LogoutCalls())
		require.Zero(t, f.api.ActiveSessions())
	})

	t.Run("network unreachable", func(t *testing.T) {
		f := setupTestFixture(t, nil, session.WithNotifyBackendOnLogout(true))
		f.login(t)
		f.server.Close()

		require.NoError(t, f.manager.Logout(context.Background()))
		require.False(t, f.manager.IsAuthenticated())
		require.Zero(t, f.store.Len())
	})

	t.Run("storage failure still ends the session", func(t *testing.T) {
		f := setupTestFixture(t, nil)
		f.login(t)
		f.store.FailRemovals(errors.New("keychain locked"))

		err := f.manager.Logout(context.Background())
		require.Equal(t, apperrors.KindPersistence, apperrors.KindOf(err))
		require.False(t, f.manager.IsAuthenticated())
	})
}

func TestCheckAuth(t *testing.T) {
	t.Run("no stored tokens makes no call", func(t *testing.T) {
		f := setupTestFixture(t, nil)
		require.NoError(t, f.manager.CheckAuth(context.Background()))
		require.Equal(t, session.StatusUnauthenticated, f.manager.State().Status)
		require.Zero(t, f.api.ValidateCalls())
		require.Zero(t, f.api.RefreshCalls())
	})

	t.Run("valid access token skips refresh", func(t *testing.T) {
		f := setupTestFixture(t, nil)
		f.login(t)
		f.manager.Close()

		fresh, err := session.New(f.gateway, f.store, session.WithLogger(zerolog.Nop()))
		require.NoError(t, err)
		require.NoError(t, fresh.CheckAuth(context.Background()))
		require.True(t, fresh.IsAuthenticated())
		require.Equal(t, 1, f.api.ValidateCalls())
		require.Zero(t, f.api.RefreshCalls())
	})

	t.Run("refresh token only", func(t *testing.T) {
		f := setupTestFixture(t, nil)
		f.login(t)
		rec := f.record(t)
		require.NoError(t, f.store.Remove(context.Background(), credentials.AccessToken))

		fresh, err := session.New(f.gateway, f.store, session.WithLogger(zerolog.Nop()))
		require.NoError(t, err)
		require.NoError(t, fresh.CheckAuth(context.Background()))

		state := fresh.State()
		require.Equal(t, session.StatusAuthenticated, state.Status)
		require.NotEqual(t, rec.RefreshToken, state.RefreshToken)
		require.Zero(t, f.api.ValidateCalls())
		require.Equal(t, 1, f.api.RefreshCalls())
		require.Equal(t, state.AccessToken, f.record(t).AccessToken)
	})

	t.Run("rejected access token falls back to refresh", func(t *testing.T) {
		f := setupTestFixture(t, nil)
		f.login(t)
		f.api.ExpireAccessTokens()

		require.NoError(t, f.manager.CheckAuth(context.Background()))
		require.True(t, f.manager.IsAuthenticated())
		require.Equal(t, 1, f.api.ValidateCalls())
		require.Equal(t, 1, f.api.RefreshCalls())
	})

	t.Run("locally expired access token is not validated", func(t *testing.T) {
		f := setupTestFixture(t, nil)
		f.login(t)

		later, err := session.New(f.gateway, f.store,
			session.WithLogger(zerolog.Nop()),
			session.WithNowTime(func() time.Time { return time.Now().Add(2 * mockapi.DefaultAccessTokenTTL) }))
		require.NoError(t, err)
		require.NoError(t, later.CheckAuth(context.Background()))
		require.True(t, later.IsAuthenticated())
		require.Zero(t, f.api.ValidateCalls())
		require.Equal(t, 1, f.api.RefreshCalls())
	})

	t.Run("everything rejected wipes credentials", func(t *testing.T) {
		f := setupTestFixture(t, nil)
		f.login(t)
		f.api.ExpireAccessTokens()
		f.api.RevokeRefreshTokens()

		err := f.manager.CheckAuth(context.Background())
		require.Equal(t, apperrors.KindSessionExpired, apperrors.KindOf(err))
		require.False(t, f.manager.IsAuthenticated())
		require.Equal(t, session.StatusUnauthenticated, f.manager.State().Status)
		require.Zero(t, f.store.Len())
	})

	t.Run("offline keeps credentials", func(t *testing.T) {
		f := setupTestFixture(t, nil)
		f.login(t)
		f.server.Close()

		err := f.manager.CheckAuth(context.Background())
		require.Equal(t, apperrors.KindNetwork, apperrors.KindOf(err))
		require.False(t, f.manager.IsAuthenticated())
		require.Equal(t, 3, f.store.Len())
	})
}

func TestGatewayRefresh(t *testing.T) {
	t.Run("expired session is refreshed transparently", func(t *testing.T) {
		f := setupTestFixture(t, nil)
		f.login(t)
		before := f.manager.State().SessionID
		f.api.ExpireAccessTokens()

		resp, err := f.gateway.Get(context.Background(), "/users/me")
		require.NoError(t, err)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		require.Equal(t, 1, f.api.RefreshCalls())

		state := f.manager.State()
		require.True(t, state.IsAuthenticated)
		require.NotEqual(t, before, state.SessionID)
		require.Equal(t, state.SessionID, f.record(t).SessionID)
	})

	t.Run("concurrent requests share one refresh", func(t *testing.T) {
		f := setupTestFixture(t, nil)
		f.login(t)
		f.api.ExpireAccessTokens()

		var wg sync.WaitGroup
		errs := make([]error, 5)
		for i := range errs {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_, errs[i] = f.gateway.Get(context.Background(), "/users/me")
			}(i)
		}
		wg.Wait()

		for _, err := range errs {
			require.NoError(t, err)
		}
		require.Equal(t, 1, f.api.RefreshCalls())
	})

	t.Run("rejected refresh ends the session", func(t *testing.T) {
		f := setupTestFixture(t, nil)
		f.login(t)
		f.api.ExpireAccessTokens()
		f.api.RevokeRefreshTokens()

		_, err := f.gateway.Get(context.Background(), "/users/me")
		require.Equal(t, apperrors.KindSessionExpired, apperrors.KindOf(err))
		require.False(t, f.manager.IsAuthenticated())
		require.Zero(t, f.store.Len())
		require.Contains(t, f.manager.State().Message, "session has expired")
	})
}

func TestSubscribe(t *testing.T) {
	f := setupTestFixture(t, nil)
	var (
		lock     sync.Mutex
		statuses []session.Status
	)
	unsubscribe := f.manager.Subscribe(func(s session.State) {
		lock.Lock()
		defer lock.Unlock()
		statuses = append(statuses, s.Status)
	})

	f.login(t)
	unsubscribe()
	require.NoError(t, f.manager.Logout(context.Background()))

	lock.Lock()
	defer lock.Unlock()
	require.Contains(t, statuses, session.StatusAuthenticating)
	require.Equal(t, session.StatusAuthenticated, statuses[len(statuses)-1])
}

// blockingRequester holds every request until released.
type blockingRequester struct {
	entered chan struct{}
	release chan struct{}
	body    string
}

func newBlockingRequester() *blockingRequester {
	return &blockingRequester{
		entered: make(chan struct{}, 10),
		release: make(chan struct{}),
		body:    `{"access_token":"access-1","refresh_token":"refresh-1","session_id":"session-1"}`,
	}
}

func (b *blockingRequester) Post(ctx context.Context, path string, body any, opts ...gateway.RequestOption) (*gateway.Response, error) {
	b.entered <- struct{}{}
	select {
	case <-b.release:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return &gateway.Response{StatusCode: http.StatusOK, Body: []byte(b.body)}, nil
}

func setupBlocking(t *testing.T) (*blockingRequester, *memstore.MemStore, *session.Manager) {
	t.Helper()
	req := newBlockingRequester()
	store := memstore.New()
	m, err := session.New(req, store, session.WithLogger(zerolog.Nop()))
	require.NoError(t, err)
	m.SetEmail(testEmail)
	m.SetPassword(testPassword)
	return req, store, m
}

func TestInFlightGuard(t *testing.T) {
	req, _, m := setupBlocking(t)

	done := make(chan error, 1)
	go func() { done <- m.Login(context.Background()) }()
	<-req.entered

	require.True(t, m.State().IsLoading)
	err := m.Login(context.Background())
	require.ErrorIs(t, err, apperrors.ErrBusy)
	require.Equal(t, apperrors.KindBusy, apperrors.KindOf(err))
	require.ErrorIs(t, m.CheckAuth(context.Background()), apperrors.ErrBusy)

	close(req.release)
	require.NoError(t, <-done)
	require.True(t, m.IsAuthenticated())
}

func TestClose_DropsLateResults(t *testing.T) {
	req, store, m := setupBlocking(t)
	notified := 0
	var lock sync.Mutex
	m.Subscribe(func(session.State) {
		lock.Lock()
		defer lock.Unlock()
		notified++
	})

	done := make(chan error, 1)
	go func() { done <- m.Login(context.Background()) }()
	<-req.entered

	m.Close()
	lock.Lock()
	before := notified
	lock.Unlock()

	close(req.release)
	require.ErrorIs(t, <-done, apperrors.ErrClosed)
	require.False(t, m.IsAuthenticated())
	require.Zero(t, store.Len())

	lock.Lock()
	defer lock.Unlock()
	require.Equal(t, before, notified)
}

func TestLogout_DuringLoginWins(t *testing.T) {
	req, store, m := setupBlocking(t)

	done := make(chan error, 1)
	go func() { done <- m.Login(context.Background()) }()
	<-req.entered

	require.NoError(t, m.Logout(context.Background()))
	close(req.release)
	<-done

	require.False(t, m.IsAuthenticated())
	require.Equal(t, session.StatusUnauthenticated, m.State().Status)
	require.Zero(t, store.Len())
}

// stallingStore holds the first Set until released.
type stallingStore struct {
	*memstore.MemStore
	once    sync.Once
	entered chan struct{}
	release chan struct{}
}

func newStallingStore() *stallingStore {
	return &stallingStore{MemStore: memstore.New(), entered: make(chan struct{}), release: make(chan struct{})}
}

func (s *stallingStore) Set(ctx context.Context, key credentials.Key, value string) error {
	s.once.Do(func() {
		close(s.entered)
		<-s.release
	})
	return s.MemStore.Set(ctx, key, value)
}

func setupStalling(t *testing.T) (*stallingStore, *session.Manager) {
	t.Helper()
	req := newBlockingRequester()
	close(req.release)
	store := newStallingStore()
	m, err := session.New(req, store, session.WithLogger(zerolog.Nop()))
	require.NoError(t, err)
	m.SetEmail(testEmail)
	m.SetPassword(testPassword)
	return store, m
}

func TestLogout_WhileCredentialsAreBeingWritten(t *testing.T) {
	store, m := setupStalling(t)

	loginDone := make(chan error, 1)
	go func() { loginDone <- m.Login(context.Background()) }()
	<-store.entered

	logoutDone := make(chan error, 1)
	go func() { logoutDone <- m.Logout(context.Background()) }()
	time.Sleep(20 * time.Millisecond)
	close(store.release)

	<-loginDone
	require.NoError(t, <-logoutDone)
	require.False(t, m.IsAuthenticated())
	require.Equal(t, session.StatusUnauthenticated, m.State().Status)
	require.Zero(t, store.Len(), "a logout always leaves the store empty")
}

func TestClose_WhileCredentialsAreBeingWritten(t *testing.T) {
	store, m := setupStalling(t)

	loginDone := make(chan error, 1)
	go func() { loginDone <- m.Login(context.Background()) }()
	<-store.entered

	m.Close()
	close(store.release)

	err := <-loginDone
	require.ErrorIs(t, err, apperrors.ErrClosed, "a dropped result is never reported as success")
	require.False(t, m.IsAuthenticated())
}
