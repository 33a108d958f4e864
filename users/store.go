package users

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/theDeemoonn/foodMobile/gateway"
	apperrors "github.com/theDeemoonn/foodMobile/internal/errors"
)

// Routes on the private channel.
const (
	RouteUsers = "/users"
	RouteMe    = "/users/me"
)

// Requester sends backend requests; *gateway.Gateway implements it.
type Requester interface {
	Get(ctx context.Context, path string, opts ...gateway.RequestOption) (*gateway.Response, error)
	Post(ctx context.Context, path string, body any, opts ...gateway.RequestOption) (*gateway.Response, error)
	Put(ctx context.Context, path string, body any, opts ...gateway.RequestOption) (*gateway.Response, error)
	Delete(ctx context.Context, path string, opts ...gateway.RequestOption) (*gateway.Response, error)
}

// Session is the part of the session the store needs to force a logout.
type Session interface {
	Logout(ctx context.Context) error
}

// Store holds the people list, the signed-in user's profile and the last
// profile opened by id.
type Store struct {
	api                    Requester
	session                Session
	logger                 zerolog.Logger
	logoutOnGatewayTimeout bool

	lock     sync.RWMutex
	users    []User
	current  *User
	selected *User
	pending  int
	err      error
	closed   bool
}

type Option func(*Store)

func WithLogger(l zerolog.Logger) Option {
	return func(s *Store) {
		s.logger = l
	}
}

// WithLogoutOnGatewayTimeout sets whether a 504 from /users/me ends the session.
func WithLogoutOnGatewayTimeout(enabled bool) Option {
	return func(s *Store) {
		s.logoutOnGatewayTimeout = enabled
	}
}

// NewStore creates a store. session may be nil, in which case FetchMe never
// forces a logout.
func NewStore(api Requester, session Session, options ...Option) *Store {
	s := &Store{
		api:                    api,
		session:                session,
		logger:                 log.Logger,
		logoutOnGatewayTimeout: true,
	}
	for _, opt := range options {
		opt(s)
	}
	return s
}

func (s *Store) Users() []User {
	s.lock.RLock()
	defer s.lock.RUnlock()
	return append([]User(nil), s.users...)
}

// Current is the signed-in user, or nil before FetchMe succeeded.
func (s *Store) Current() *User {
	s.lock.RLock()
	defer s.lock.RUnlock()
	return copyUser(s.current)
}

// CurrentUserID returns the signed-in user's id, or "" when unknown.
func (s *Store) CurrentUserID() string {
	s.lock.RLock()
	defer s.lock.RUnlock()
	if s.current == nil {
		return ""
	}
	return s.current.ID
}

func (s *Store) Selected() *User {
	s.lock.RLock()
	defer s.lock.RUnlock()
	return copyUser(s.selected)
}

func (s *Store) IsLoading() bool {
	s.lock.RLock()
	defer s.lock.RUnlock()
	return s.pending > 0
}

// Err is the error of the last finished call, nil if it succeeded.
func (s *Store) Err() error {
	s.lock.RLock()
	defer s.lock.RUnlock()
	return s.err
}

// Close stops the store from applying results of calls still in flight.
func (s *Store) Close() {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.closed = true
}

func (s *Store) FetchAll(ctx context.Context) ([]User, error) {
	var list []User
	err := s.run("FetchAll", func() error {
		resp, err := s.api.Get(ctx, RouteUsers)
		if err != nil {
			return err
		}
		return resp.Decode(&list)
	}, func() {
		s.users = list
	})
	return list, err
}

func (s *Store) FetchOne(ctx context.Context, id string) (*User, error) {
	var u User
	err := s.run("FetchOne", func() error {
		resp, err := s.api.Get(ctx, userPath(id))
		if err != nil {
			return err
		}
		return resp.Decode(&u)
	}, func() {
		s.selected = copyUser(&u)
	})
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// FetchMe loads the signed-in user's profile. A 401 that survived the
// gateway's refresh ends the session, as does a 504 when that policy is on.
func (s *Store) FetchMe(ctx context.Context) (*User, error) {
	var u User
	err := s.run("FetchMe", func() error {
		resp, err := s.api.Get(ctx, RouteMe)
		if err != nil {
			return err
		}
		return resp.Decode(&u)
	}, func() {
		s.current = copyUser(&u)
	})
	if err != nil {
		if s.shouldLogout(err) {
			s.logger.Warn().Err(err).Msg("profile request rejected, ending session")
			if logoutErr := s.session.Logout(ctx); logoutErr != nil {
				s.logger.Err(logoutErr).Msg("forced logout failed")
			}
			s.lock.Lock()
			s.current = nil
			s.lock.Unlock()
		}
		return nil, err
	}
	return &u, nil
}

func (s *Store) shouldLogout(err error) bool {
	if s.session == nil {
		return false
	}
	if apperrors.KindOf(err) == apperrors.KindSessionExpired || gateway.IsUnauthorized(err) {
		return true
	}
	return s.logoutOnGatewayTimeout && gateway.StatusCode(err) == http.StatusGatewayTimeout
}

// Update applies patch to user id and then reloads the signed-in profile.
// The echo replaces Current when id is the signed-in user and Selected
// otherwise.
func (s *Store) Update(ctx context.Context, id string, patch Patch) (*User, error) {
	var u User
	err := s.run("Update", func() error {
		resp, err := s.api.Put(ctx, userPath(id), patch)
		if err != nil {
			return err
		}
		return resp.Decode(&u)
	}, func() {
		if s.current != nil && s.current.ID == u.ID {
			s.current = copyUser(&u)
			return
		}
		s.selected = copyUser(&u)
	})
	if err != nil {
		return nil, err
	}
	if me, err := s.FetchMe(ctx); err == nil && me.ID == u.ID {
		return me, nil
	}
	return &u, nil
}

func (s *Store) AddPaymentMethod(ctx context.Context, userID string, pm PaymentMethod) (*User, error) {
	return s.mutateCurrent("AddPaymentMethod", func() (*gateway.Response, error) {
		return s.api.Post(ctx, userPath(userID)+"/payment-methods", pm)
	})
}

func (s *Store) AddFavorite(ctx context.Context, userID, itemID string) (*User, error) {
	return s.mutateCurrent("AddFavorite", func() (*gateway.Response, error) {
		return s.api.Post(ctx, userPath(userID)+"/favorites", favoriteRequest{ItemID: itemID})
	})
}

func (s *Store) RemoveFavorite(ctx context.Context, userID, itemID string) (*User, error) {
	return s.mutateCurrent("RemoveFavorite", func() (*gateway.Response, error) {
		return s.api.Delete(ctx, userPath(userID)+"/favorites/"+url.PathEscape(itemID))
	})
}

type favoriteRequest struct {
	ItemID string `json:"itemId"`
}

// mutateCurrent runs a call whose response is the updated signed-in user.
func (s *Store) mutateCurrent(op string, call func() (*gateway.Response, error)) (*User, error) {
	var u User
	err := s.run(op, func() error {
		resp, err := call()
		if err != nil {
			return err
		}
		return resp.Decode(&u)
	}, func() {
		s.current = copyUser(&u)
	})
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// run marks the store busy around call. On success apply runs under the
// write lock; either way the outcome replaces the last error.
func (s *Store) run(op string, call func() error, apply func()) error {
	s.lock.Lock()
	if s.closed {
		s.lock.Unlock()
		return apperrors.E(apperrors.KindUnknown, op, apperrors.ErrClosed)
	}
	s.pending++
	s.lock.Unlock()

	err := call()
	if err != nil {
		err = fmt.Errorf("[users.Store.%s] %w", op, err)
		s.logger.Debug().Err(err).Msg("users request failed")
	}

	s.lock.Lock()
	defer s.lock.Unlock()
	s.pending--
	if s.closed {
		return err
	}
	s.err = err
	if err == nil {
		apply()
	}
	return err
}

func userPath(id string) string {
	return RouteUsers + "/" + url.PathEscape(id)
}

func copyUser(u *User) *User {
	if u == nil {
		return nil
	}
	c := *u
	return &c
}
