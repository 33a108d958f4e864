package users_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"github.com/theDeemoonn/foodMobile/credentials/memstore"
	"github.com/theDeemoonn/foodMobile/gateway"
	apperrors "github.com/theDeemoonn/foodMobile/internal/errors"
	"github.com/theDeemoonn/foodMobile/internal/mockapi"
	"github.com/theDeemoonn/foodMobile/internal/utils"
	"github.com/theDeemoonn/foodMobile/session"
	"github.com/theDeemoonn/foodMobile/users"
	"golang.org/x/crypto/bcrypt"
)

const (
	testEmail    = "jane@example.com"
	testPassword = "secret1"
	mePath       = mockapi.PrivatePrefix + "/users/me"
)

type testFixture struct {
	api     *mockapi.Server
	store   *memstore.MemStore
	manager *session.Manager
	users   *users.Store
	me      *users.User
	other   *users.User
}

func setupTestFixture(t *testing.T, options ...users.Option) *testFixture {
	t.Helper()
	api, err := mockapi.New(mockapi.WithBcryptCost(bcrypt.MinCost), mockapi.WithLogger(zerolog.Nop()))
	require.NoError(t, err)
	me, err := api.SeedUser(testEmail, testPassword, users.User{Name: "Jane", Age: 30, Interests: "music, travel"})
	require.NoError(t, err)
	other, err := api.SeedUser("ivan@example.com", testPassword, users.User{Name: "Ivan", Age: 41, Gender: "male"})
	require.NoError(t, err)

	server := httptest.NewServer(api)
	t.Cleanup(server.Close)

	store := memstore.New()
	gw, err := gateway.New(server.URL+mockapi.PublicPrefix, server.URL+mockapi.PrivatePrefix, store, gateway.WithLogger(zerolog.Nop()))
	require.NoError(t, err)
	m, err := session.New(gw, store, session.WithLogger(zerolog.Nop()))
	require.NoError(t, err)
	gw.SetRefresher(m)
	t.Cleanup(m.Close)

	m.SetEmail(testEmail)
	m.SetPassword(testPassword)
	require.NoError(t, m.Login(context.Background()))

	options = append([]users.Option{users.WithLogger(zerolog.Nop())}, options...)
	s := users.NewStore(gw, m, options...)
	t.Cleanup(s.Close)

	return &testFixture{api: api, store: store, manager: m, users: s, me: me, other: other}
}

func TestStore_FetchAll(t *testing.T) {
	f := setupTestFixture(t)

	list, err := f.users.FetchAll(context.Background())
	require.NoError(t, err)
	require.Len(t, list, 2)
	require.Len(t, f.users.Users(), 2)
	require.NoError(t, f.users.Err())
	require.False(t, f.users.IsLoading())
}

func TestStore_FetchOne(t *testing.T) {
	f := setupTestFixture(t)

	u, err := f.users.FetchOne(context.Background(), f.other.ID)
	require.NoError(t, err)
	require.Equal(t, "Ivan", u.Name)
	require.Equal(t, f.other.ID, f.users.Selected().ID)

	_, err = f.users.FetchOne(context.Background(), "missing")
	require.Error(t, err)
	require.Equal(t, http.StatusNotFound, gateway.StatusCode(err))
	require.Equal(t, err, f.users.Err())
	require.Equal(t, f.other.ID, f.users.Selected().ID, "a failed fetch keeps the previous selection")
}

func TestStore_FetchMe(t *testing.T) {
	f := setupTestFixture(t)

	me, err := f.users.FetchMe(context.Background())
	require.NoError(t, err)
	require.Equal(t, f.me.ID, me.ID)
	require.Equal(t, f.me.ID, f.users.CurrentUserID())
	require.Equal(t, []string{"music", "travel"}, f.users.Current().InterestList())
}

func TestStore_FetchMe_RefreshesExpiredSession(t *testing.T) {
	f := setupTestFixture(t)
	f.api.ExpireAccessTokens()

	me, err := f.users.FetchMe(context.Background())
	require.NoError(t, err)
	require.Equal(t, f.me.ID, me.ID)
	require.Equal(t, 1, f.api.RefreshCalls())
	require.True(t, f.manager.IsAuthenticated())
}

func TestStore_FetchMe_LogsOutWhenSessionCannotBeRecovered(t *testing.T) {
	f := setupTestFixture(t)
	_, err := f.users.FetchMe(context.Background())
	require.NoError(t, err)

	f.api.ExpireAccessTokens()
	f.api.RevokeRefreshTokens()

	_, err = f.users.FetchMe(context.Background())
	require.Error(t, err)
	require.Equal(t, apperrors.KindSessionExpired, apperrors.KindOf(err))
	require.False(t, f.manager.IsAuthenticated())
	require.Nil(t, f.users.Current())
	require.Zero(t, f.store.Len())
}

func TestStore_FetchMe_GatewayTimeout(t *testing.T) {
	t.Run("logs out by default", func(t *testing.T) {
		f := setupTestFixture(t)
		f.api.FailNext(http.MethodGet, mePath, http.StatusGatewayTimeout, 1)

		_, err := f.users.FetchMe(context.Background())
		require.Equal(t, http.StatusGatewayTimeout, gateway.StatusCode(err))
		require.False(t, f.manager.IsAuthenticated())
		require.Zero(t, f.store.Len())
	})

	t.Run("kept when disabled", func(t *testing.T) {
		f := setupTestFixture(t, users.WithLogoutOnGatewayTimeout(false))
		f.api.FailNext(http.MethodGet, mePath, http.StatusGatewayTimeout, 1)

		_, err := f.users.FetchMe(context.Background())
		require.Equal(t, http.StatusGatewayTimeout, gateway.StatusCode(err))
		require.True(t, f.manager.IsAuthenticated())

		_, err = f.users.FetchMe(context.Background())
		require.NoError(t, err)
	})

	t.Run("other failures never log out", func(t *testing.T) {
		f := setupTestFixture(t)
		f.api.FailNext(http.MethodGet, mePath, http.StatusInternalServerError, 1)

		_, err := f.users.FetchMe(context.Background())
		require.Equal(t, http.StatusInternalServerError, gateway.StatusCode(err))
		require.True(t, f.manager.IsAuthenticated())
	})
}

func TestStore_Update(t *testing.T) {
	f := setupTestFixture(t)

	u, err := f.users.Update(context.Background(), f.me.ID, users.Patch{Name: utils.Ptr("Janet"), Age: utils.Ptr(31)})
	require.NoError(t, err)
	require.Equal(t, "Janet", u.Name)
	require.Equal(t, 31, u.Age)
	require.Equal(t, "Janet", f.users.Current().Name)
	require.Equal(t, "music, travel", f.users.Current().Interests, "unset fields are kept")

	_, err = f.users.Update(context.Background(), f.other.ID, users.Patch{Name: utils.Ptr("Hacked")})
	require.Equal(t, http.StatusForbidden, gateway.StatusCode(err))
	require.Equal(t, "Janet", f.users.Current().Name)
}

// echoRequester answers GET /users/me with me and echoes every PUT back as
// the user named in the path with the patched name.
type echoRequester struct {
	users.Requester
	me users.User
}

func (e *echoRequester) Get(_ context.Context, path string, _ ...gateway.RequestOption) (*gateway.Response, error) {
	return jsonResponse(e.me)
}

func (e *echoRequester) Put(_ context.Context, path string, body any, _ ...gateway.RequestOption) (*gateway.Response, error) {
	u := users.User{ID: strings.TrimPrefix(path, users.RouteUsers+"/")}
	if u.ID == e.me.ID {
		u = e.me
	}
	body.(users.Patch).Apply(&u)
	if u.ID == e.me.ID {
		e.me = u
	}
	return jsonResponse(u)
}

func jsonResponse(v any) (*gateway.Response, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return &gateway.Response{StatusCode: http.StatusOK, Body: body}, nil
}

func TestStore_Update_OtherUserEchoGoesToSelected(t *testing.T) {
	api := &echoRequester{me: users.User{ID: "me", Name: "Jane"}}
	s := users.NewStore(api, nil, users.WithLogger(zerolog.Nop()))
	t.Cleanup(s.Close)
	_, err := s.FetchMe(context.Background())
	require.NoError(t, err)

	u, err := s.Update(context.Background(), "someone", users.Patch{Name: utils.Ptr("Ivan")})
	require.NoError(t, err)
	require.Equal(t, "someone", u.ID)
	require.Equal(t, "Ivan", u.Name)
	require.Equal(t, "someone", s.Selected().ID)
	require.Equal(t, "me", s.Current().ID)
	require.Equal(t, "Jane", s.Current().Name)

	u, err = s.Update(context.Background(), "me", users.Patch{Name: utils.Ptr("Janet")})
	require.NoError(t, err)
	require.Equal(t, "Janet", u.Name)
	require.Equal(t, "Janet", s.Current().Name)
	require.Equal(t, "someone", s.Selected().ID)
}

func TestStore_FavoritesAndPaymentMethods(t *testing.T) {
	f := setupTestFixture(t)
	ctx := context.Background()

	u, err := f.users.AddFavorite(ctx, f.me.ID, "dish-1")
	require.NoError(t, err)
	require.True(t, u.HasFavorite("dish-1"))

	_, err = f.users.AddFavorite(ctx, f.me.ID, "dish-2")
	require.NoError(t, err)
	u, err = f.users.RemoveFavorite(ctx, f.me.ID, "dish-1")
	require.NoError(t, err)
	require.Equal(t, []string{"dish-2"}, u.Favorites)

	u, err = f.users.AddPaymentMethod(ctx, f.me.ID, users.PaymentMethod{Type: users.PaymentCard, Provider: "visa", ExpiryMonth: 4, ExpiryYear: 2030})
	require.NoError(t, err)
	require.Len(t, u.PaymentMethods, 1)
	require.NotEmpty(t, u.PaymentMethods[0].ID)
	require.Equal(t, f.me.ID, u.PaymentMethods[0].UserID)
	require.Len(t, f.users.Current().PaymentMethods, 1)
}

func TestStore_Closed(t *testing.T) {
	f := setupTestFixture(t)
	f.users.Close()

	_, err := f.users.FetchAll(context.Background())
	require.ErrorIs(t, err, apperrors.ErrClosed)
	require.Empty(t, f.users.Users())
}
