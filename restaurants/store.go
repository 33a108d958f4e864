package restaurants

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/theDeemoonn/foodMobile/gateway"
	apperrors "github.com/theDeemoonn/foodMobile/internal/errors"
	"github.com/theDeemoonn/foodMobile/validation"
)

const RouteRestaurants = "/restaurants"

// Requester sends backend requests; *gateway.Gateway implements it.
type Requester interface {
	Get(ctx context.Context, path string, opts ...gateway.RequestOption) (*gateway.Response, error)
	Post(ctx context.Context, path string, body any, opts ...gateway.RequestOption) (*gateway.Response, error)
	Put(ctx context.Context, path string, body any, opts ...gateway.RequestOption) (*gateway.Response, error)
}

// Owner supplies the id of the signed-in user; *users.Store implements it.
type Owner interface {
	CurrentUserID() string
}

type Store struct {
	api       Requester
	owner     Owner
	validator *validation.Validator
	logger    zerolog.Logger

	lock        sync.RWMutex
	restaurants []Restaurant
	current     *Restaurant
	pending     int
	err         error
	closed      bool
}

type Option func(*Store)

func WithLogger(l zerolog.Logger) Option {
	return func(s *Store) {
		s.logger = l
	}
}

func WithValidator(v *validation.Validator) Option {
	return func(s *Store) {
		s.validator = v
	}
}

func NewStore(api Requester, owner Owner, options ...Option) *Store {
	s := &Store{
		api:       api,
		owner:     owner,
		validator: validation.New(validation.DefaultPasswordMinLength),
		logger:    log.Logger,
	}
	for _, opt := range options {
		opt(s)
	}
	return s
}

func (s *Store) Restaurants() []Restaurant {
	s.lock.RLock()
	defer s.lock.RUnlock()
	return append([]Restaurant(nil), s.restaurants...)
}

func (s *Store) Current() *Restaurant {
	s.lock.RLock()
	defer s.lock.RUnlock()
	return copyRestaurant(s.current)
}

func (s *Store) IsLoading() bool {
	s.lock.RLock()
	defer s.lock.RUnlock()
	return s.pending > 0
}

func (s *Store) Err() error {
	s.lock.RLock()
	defer s.lock.RUnlock()
	return s.err
}

func (s *Store) Close() {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.closed = true
}

func (s *Store) FetchAll(ctx context.Context) ([]Restaurant, error) {
	var list []Restaurant
	err := s.run("FetchAll", func() error {
		resp, err := s.api.Get(ctx, RouteRestaurants)
		if err != nil {
			return err
		}
		return resp.Decode(&list)
	}, func() {
		s.restaurants = list
	})
	return list, err
}

func (s *Store) FetchOne(ctx context.Context, id string) (*Restaurant, error) {
	var r Restaurant
	err := s.run("FetchOne", func() error {
		resp, err := s.api.Get(ctx, restaurantPath(id))
		if err != nil {
			return err
		}
		return resp.Decode(&r)
	}, func() {
		s.current = copyRestaurant(&r)
	})
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// Update sends only the fields set in patch; the backend keeps the rest.
func (s *Store) Update(ctx context.Context, id string, patch Patch) (*Restaurant, error) {
	var updated Restaurant
	err := s.run("Update", func() error {
		if patch.IsEmpty() {
			return apperrors.E(apperrors.KindValidation, "Update", errors.New("empty restaurant patch"))
		}
		resp, err := s.api.Put(ctx, restaurantPath(id), patch)
		if err != nil {
			return err
		}
		return resp.Decode(&updated)
	}, func() {
		s.current = copyRestaurant(&updated)
		s.replace(updated)
	})
	if err != nil {
		return nil, err
	}
	return &updated, nil
}

// Create registers r with the signed-in user added to its owners. Field checks
// run before any request is sent.
func (s *Store) Create(ctx context.Context, r Restaurant) (*Restaurant, error) {
	ownerID := ""
	if s.owner != nil {
		ownerID = s.owner.CurrentUserID()
	}
	if ownerID != "" && !r.IsOwnedBy(ownerID) {
		r.OwnerIDs = append(append([]string(nil), r.OwnerIDs...), ownerID)
	}

	var created Restaurant
	err := s.run("Create", func() error {
		if err := s.validator.Struct(r); err != nil {
			return apperrors.E(apperrors.KindValidation, "Create", err)
		}
		resp, err := s.api.Post(ctx, RouteRestaurants, r)
		if err != nil {
			return err
		}
		return resp.Decode(&created)
	}, func() {
		s.current = copyRestaurant(&created)
		s.restaurants = append(s.restaurants, created)
	})
	if err != nil {
		return nil, err
	}
	return &created, nil
}

// replace swaps the listed restaurant with r's id, if present.
func (s *Store) replace(r Restaurant) {
	for i := range s.restaurants {
		if s.restaurants[i].ID == r.ID {
			s.restaurants[i] = r
			return
		}
	}
}

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
		err = fmt.Errorf("[restaurants.Store.%s] %w", op, err)
		s.logger.Debug().Err(err).Msg("restaurants request failed")
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

func restaurantPath(id string) string {
	return RouteRestaurants + "/" + url.PathEscape(id)
}

func copyRestaurant(r *Restaurant) *Restaurant {
	if r == nil {
		return nil
	}
	c := *r
	return &c
}
