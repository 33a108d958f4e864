package mockapi

import (
	"net/http"
	"sort"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/theDeemoonn/foodMobile/restaurants"
	"github.com/theDeemoonn/foodMobile/users"
)

func (s *Server) MeHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		u, err := s.users.GetByID(userIDFrom(r.Context()))
		if err != nil {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, u)
	}
}

func (s *Server) ListUsersHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		list, err := s.users.List(0, 0)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		if list == nil {
			list = []*users.User{}
		}
		writeJSON(w, http.StatusOK, list)
	}
}

func (s *Server) GetUserHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		u, err := s.users.GetByID(mux.Vars(r)["id"])
		if err != nil {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, u)
	}
}

// UpdateUserHandler applies a profile patch. Users may only edit themselves.
func (s *Server) UpdateUserHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var patch users.Patch
		if !decode(w, r, &patch) {
			return
		}
		s.updateSelf(w, r, func(u *users.User) {
			patch.Apply(u)
		})
	}
}

func (s *Server) AddPaymentMethodHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var pm users.PaymentMethod
		if !decode(w, r, &pm) {
			return
		}
		s.updateSelf(w, r, func(u *users.User) {
			pm.ID = uuid.New().String()
			pm.UserID = u.ID
			u.PaymentMethods = append(u.PaymentMethods, pm)
		})
	}
}

func (s *Server) AddFavoriteHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ItemID string `json:"itemId"`
		}
		if !decode(w, r, &req) {
			return
		}
		if req.ItemID == "" {
			writeError(w, http.StatusBadRequest, "itemId is required")
			return
		}
		s.updateSelf(w, r, func(u *users.User) {
			if !u.HasFavorite(req.ItemID) {
				u.Favorites = append(u.Favorites, req.ItemID)
			}
		})
	}
}

func (s *Server) RemoveFavoriteHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		itemID := mux.Vars(r)["itemId"]
		s.updateSelf(w, r, func(u *users.User) {
			kept := make([]string, 0, len(u.Favorites))
			for _, f := range u.Favorites {
				if f != itemID {
					kept = append(kept, f)
				}
			}
			u.Favorites = kept
		})
	}
}

// updateSelf loads the user named by the path, checks it is the caller,
// applies mutate and writes back the result.
func (s *Server) updateSelf(w http.ResponseWriter, r *http.Request, mutate func(*users.User)) {
	id := mux.Vars(r)["id"]
	if id != userIDFrom(r.Context()) {
		writeError(w, http.StatusForbidden, "cannot modify another user")
		return
	}

	s.lock.Lock()
	defer s.lock.Unlock()
	u, err := s.users.GetByID(id)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	mutate(u)
	if err := s.users.Upsert(u); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, u)
}

func (s *Server) ListRestaurantsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.lock.Lock()
		list := make([]restaurants.Restaurant, 0, len(s.restaurants))
		for _, v := range s.restaurants {
			list = append(list, *v)
		}
		s.lock.Unlock()

		sort.Slice(list, func(i, j int) bool {
			return list[i].Name < list[j].Name
		})
		writeJSON(w, http.StatusOK, list)
	}
}

func (s *Server) GetRestaurantHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.lock.Lock()
		rest, ok := s.restaurants[mux.Vars(r)["id"]]
		var out restaurants.Restaurant
		if ok {
			out = *rest
		}
		s.lock.Unlock()

		if !ok {
			writeError(w, http.StatusNotFound, "restaurant not found")
			return
		}
		writeJSON(w, http.StatusOK, out)
	}
}

// CreateRestaurantHandler stores a new restaurant. The caller must be among
// its owners.
func (s *Server) CreateRestaurantHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var rest restaurants.Restaurant
		if !decode(w, r, &rest) {
			return
		}
		if err := s.validator.Struct(rest); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		if !rest.IsOwnedBy(userIDFrom(r.Context())) {
			writeError(w, http.StatusBadRequest, "owner_ids must include the caller")
			return
		}

		s.lock.Lock()
		rest.ID = ""
		created := s.putRestaurant(rest)
		s.lock.Unlock()
		writeJSON(w, http.StatusCreated, created)
	}
}

// UpdateRestaurantHandler applies a restaurant patch. Only owners may edit it.
func (s *Server) UpdateRestaurantHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var patch restaurants.Patch
		if !decode(w, r, &patch) {
			return
		}
		id := mux.Vars(r)["id"]

		s.lock.Lock()
		defer s.lock.Unlock()
		existing, ok := s.restaurants[id]
		if !ok {
			writeError(w, http.StatusNotFound, "restaurant not found")
			return
		}
		if !existing.IsOwnedBy(userIDFrom(r.Context())) {
			writeError(w, http.StatusForbidden, "not an owner")
			return
		}
		rest := *existing
		patch.Apply(&rest)
		if err := s.validator.Struct(rest); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, s.putRestaurant(rest))
	}
}

// putRestaurant stores a copy of r. The caller holds s.lock.
func (s *Server) putRestaurant(r restaurants.Restaurant) *restaurants.Restaurant {
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	stored := r
	s.restaurants[r.ID] = &stored
	out := r
	return &out
}
