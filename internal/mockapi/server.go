// Package mockapi is an in-memory stand-in for the foodMobile backend. It
// serves the public auth routes and the private users and restaurants routes
// so the client packages can be exercised end to end in tests and local runs.
package mockapi

import (
	"crypto/rand"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/theDeemoonn/foodMobile/restaurants"
	"github.com/theDeemoonn/foodMobile/users"
	fakeuserrepo "github.com/theDeemoonn/foodMobile/users/repofake"
	"github.com/theDeemoonn/foodMobile/validation"
	"golang.org/x/crypto/bcrypt"
)

const (
	DefaultAccessTokenTTL  = 15 * time.Minute
	DefaultRefreshTokenTTL = 30 * 24 * time.Hour
)

// account is the credential side of a user; the profile lives in the users repo.
type account struct {
	UserID       string
	PasswordHash string
	Confirmed    bool
}

type fault struct {
	status int
	count  int
}

type Server struct {
	env             string
	router          *mux.Router
	logger          zerolog.Logger
	validator       *validation.Validator
	nowTime         func() time.Time
	issuer          string
	signingKey      []byte
	accessTokenTTL  time.Duration
	refreshTokenTTL time.Duration
	confirmCode     string
	bcryptCost      int

	lock          sync.Mutex
	accounts      map[string]*account // by email
	users         users.Repo
	restaurants   map[string]*restaurants.Restaurant
	accessTokens  map[string]string // jti to user id
	sessions      map[string]*storedSession
	refreshTokens map[string]*storedRefreshToken
	faults        map[string]*fault

	loginCalls    atomic.Int64
	validateCalls atomic.Int64
	refreshCalls  atomic.Int64
	logoutCalls   atomic.Int64
}

// Option defines a function type to modify the Server instance.
type Option func(*Server)

func WithEnv(env string) Option {
	return func(s *Server) {
		s.env = env
	}
}

func WithLogger(l zerolog.Logger) Option {
	return func(s *Server) {
		s.logger = l
	}
}

// WithNowTime sets the now time function (primarily for testing)
func WithNowTime(nowFunc func() time.Time) Option {
	return func(s *Server) {
		s.nowTime = nowFunc
	}
}

func WithAccessTokenTTL(d time.Duration) Option {
	return func(s *Server) {
		s.accessTokenTTL = d
	}
}

func WithRefreshTokenTTL(d time.Duration) Option {
	return func(s *Server) {
		s.refreshTokenTTL = d
	}
}

// WithEmailConfirmation makes registration wait for code before issuing tokens.
func WithEmailConfirmation(code string) Option {
	return func(s *Server) {
		s.confirmCode = code
	}
}

// WithBcryptCost lowers hashing cost, for tests.
func WithBcryptCost(cost int) Option {
	return func(s *Server) {
		s.bcryptCost = cost
	}
}

func New(options ...Option) (*Server, error) {
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("[mockapi.New] signing key: %w", err)
	}
	s := &Server{
		env:             "DEV",
		logger:          log.Logger,
		validator:       validation.New(validation.DefaultPasswordMinLength),
		nowTime:         time.Now,
		issuer:          "foodmobile-mockapi",
		signingKey:      key,
		accessTokenTTL:  DefaultAccessTokenTTL,
		refreshTokenTTL: DefaultRefreshTokenTTL,
		bcryptCost:      bcrypt.DefaultCost,
		accounts:        make(map[string]*account),
		users:           fakeuserrepo.NewFakeUserRepo(),
		restaurants:     make(map[string]*restaurants.Restaurant),
		accessTokens:    make(map[string]string),
		sessions:        make(map[string]*storedSession),
		refreshTokens:   make(map[string]*storedRefreshToken),
		faults:          make(map[string]*fault),
	}
	for _, opt := range options {
		opt(s)
	}
	s.initRoutes()
	return s, nil
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) initRoutes() {
	r := mux.NewRouter()
	r.Use(s.RecoverMiddleware, s.LoggingMiddleware, s.FaultMiddleware)
	r.HandleFunc(RouteHealth, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}).Methods(http.MethodGet)

	public := r.PathPrefix(PublicPrefix).Subrouter()
	public.HandleFunc(RouteAuthLogin, s.LoginHandler()).Methods(http.MethodPost)
	public.HandleFunc(RouteAuthRegister, s.RegisterHandler()).Methods(http.MethodPost)
	public.HandleFunc(RouteAuthConfirm, s.ConfirmHandler()).Methods(http.MethodPost)
	public.HandleFunc(RouteAuthValidate, s.ValidateHandler()).Methods(http.MethodPost)
	public.HandleFunc(RouteAuthRefresh, s.RefreshHandler()).Methods(http.MethodPost)
	public.HandleFunc(RouteAuthLogout, s.LogoutHandler()).Methods(http.MethodPost)

	private := r.PathPrefix(PrivatePrefix).Subrouter()
	private.Use(s.RequireAuth)
	// /users/me must be registered before /users/{id}.
	private.HandleFunc(RouteUserMe, s.MeHandler()).Methods(http.MethodGet)
	private.HandleFunc(RouteUsers, s.ListUsersHandler()).Methods(http.MethodGet)
	private.HandleFunc(RouteUser, s.GetUserHandler()).Methods(http.MethodGet)
	private.HandleFunc(RouteUser, s.UpdateUserHandler()).Methods(http.MethodPut)
	private.HandleFunc(RouteUserPaymentMethods, s.AddPaymentMethodHandler()).Methods(http.MethodPost)
	private.HandleFunc(RouteUserFavorites, s.AddFavoriteHandler()).Methods(http.MethodPost)
	private.HandleFunc(RouteUserFavorite, s.RemoveFavoriteHandler()).Methods(http.MethodDelete)
	private.HandleFunc(RouteRestaurants, s.ListRestaurantsHandler()).Methods(http.MethodGet)
	private.HandleFunc(RouteRestaurants, s.CreateRestaurantHandler()).Methods(http.MethodPost)
	private.HandleFunc(RouteRestaurant, s.GetRestaurantHandler()).Methods(http.MethodGet)
	private.HandleFunc(RouteRestaurant, s.UpdateRestaurantHandler()).Methods(http.MethodPut)

	s.router = r
	s.logRoutes()
}

func (s *Server) logRoutes() {
	if s.env != "DEV" {
		return
	}
	_ = s.router.Walk(func(route *mux.Route, _ *mux.Router, _ []*mux.Route) error {
		path, err := route.GetPathTemplate()
		if err != nil {
			return nil
		}
		methods, _ := route.GetMethods()
		for _, m := range methods {
			s.logger.Debug().Str("method", m).Str("path", path).Msg("route")
		}
		return nil
	})
}

// SeedUser creates a confirmed account with the given profile and returns the
// stored profile.
func (s *Server) SeedUser(email, password string, profile users.User) (*users.User, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.bcryptCost)
	if err != nil {
		return nil, err
	}
	email = normalizeEmail(email)
	s.lock.Lock()
	defer s.lock.Unlock()
	profile.Email = email
	if err := s.users.Upsert(&profile); err != nil {
		return nil, err
	}
	s.accounts[email] = &account{UserID: profile.ID, PasswordHash: string(hash), Confirmed: true}
	return s.users.GetByID(profile.ID)
}

// SeedRestaurant stores r as is, assigning an id when it has none.
func (s *Server) SeedRestaurant(r restaurants.Restaurant) *restaurants.Restaurant {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.putRestaurant(r)
}

// ExpireAccessTokens invalidates every access token and session while
// keeping refresh tokens usable.
func (s *Server) ExpireAccessTokens() {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.accessTokens = make(map[string]string)
	s.sessions = make(map[string]*storedSession)
}

// RevokeRefreshTokens invalidates every refresh token.
func (s *Server) RevokeRefreshTokens() {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.refreshTokens = make(map[string]*storedRefreshToken)
}

// FailNext makes the next count requests to method and path (the full path,
// including the channel prefix) answer with status.
func (s *Server) FailNext(method, path string, status, count int) {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.faults[method+" "+path] = &fault{status: status, count: count}
}

func (s *Server) LoginCalls() int    { return int(s.loginCalls.Load()) }
func (s *Server) ValidateCalls() int { return int(s.validateCalls.Load()) }
func (s *Server) RefreshCalls() int  { return int(s.refreshCalls.Load()) }
func (s *Server) LogoutCalls() int   { return int(s.logoutCalls.Load()) }

// ActiveSessions counts sessions that have not been revoked or rotated.
func (s *Server) ActiveSessions() int {
	s.lock.Lock()
	defer s.lock.Unlock()
	return len(s.sessions)
}
