// Package restaurants holds the restaurant entities and the client-side store
// that lists, opens, edits and creates them.
package restaurants

import (
	"time"

	"github.com/theDeemoonn/foodMobile/internal/utils"
	"github.com/theDeemoonn/foodMobile/users"
)

// Restaurant is a venue as the backend returns it. OGRN and INN are Russian
// registration numbers.
type Restaurant struct {
	ID           string        `json:"id,omitempty"`
	Email        string        `json:"email" validate:"required,email"`
	Name         string        `json:"name" validate:"required"`
	AveragePrice float64       `json:"averagePrice" validate:"min=0"`
	Description  string        `json:"description"`
	Category     string        `json:"category" validate:"required"`
	OGRN         string        `json:"ogrn" validate:"len=13,numeric"`
	INN          string        `json:"inn" validate:"len=10,numeric"`
	Address      string        `json:"address" validate:"required"`
	Avatar       string        `json:"avatar,omitempty"`
	Phone        string        `json:"phone" validate:"len=11,numeric"`
	Hours        string        `json:"hours"`
	Banned       bool          `json:"banned,omitempty"`
	BanReason    string        `json:"banReason,omitempty"`
	Roles        string        `json:"roles,omitempty"`
	Menu         []MenuItem    `json:"menu"`
	Orders       []users.Order `json:"orders"`
	Reviews      []Review      `json:"reviews"`
	Rating       float64       `json:"rating"`
	OwnerIDs     []string      `json:"owner_ids"`
}

type MenuItem struct {
	ID           string  `json:"id,omitempty"`
	RestaurantID string  `json:"restaurantId"`
	Name         string  `json:"name"`
	Description  string  `json:"description"`
	Price        float64 `json:"price"`
	Category     string  `json:"category"`
	ImageURL     string  `json:"imageUrl"`
}

type Review struct {
	ID           string    `json:"id,omitempty"`
	RestaurantID string    `json:"restaurantId"`
	UserID       string    `json:"userId"`
	Rating       int       `json:"rating"`
	Comment      string    `json:"comment"`
	CreatedAt    time.Time `json:"createdAt"`
}

// Rating is an aggregate of reviews.
type Rating struct {
	Rating float64 `json:"rating"`
	Count  int     `json:"count"`
}

// AverageRating aggregates the restaurant's reviews.
func (r *Restaurant) AverageRating() Rating {
	if len(r.Reviews) == 0 {
		return Rating{}
	}
	total := 0
	for _, rv := range r.Reviews {
		total += rv.Rating
	}
	return Rating{Rating: float64(total) / float64(len(r.Reviews)), Count: len(r.Reviews)}
}

func (r *Restaurant) IsOwnedBy(userID string) bool {
	for _, id := range r.OwnerIDs {
		if id == userID {
			return true
		}
	}
	return false
}

// Patch is a partial restaurant update; nil fields are left unchanged.
type Patch struct {
	Email        *string     `json:"email,omitempty"`
	Name         *string     `json:"name,omitempty"`
	AveragePrice *float64    `json:"averagePrice,omitempty"`
	Description  *string     `json:"description,omitempty"`
	Category     *string     `json:"category,omitempty"`
	OGRN         *string     `json:"ogrn,omitempty"`
	INN          *string     `json:"inn,omitempty"`
	Address      *string     `json:"address,omitempty"`
	Avatar       *string     `json:"avatar,omitempty"`
	Phone        *string     `json:"phone,omitempty"`
	Hours        *string     `json:"hours,omitempty"`
	Menu         *[]MenuItem `json:"menu,omitempty"`
}

func (p Patch) IsEmpty() bool {
	return p == Patch{}
}

// Apply copies the set fields of p onto r.
func (p Patch) Apply(r *Restaurant) {
	utils.Assign(&r.Email, p.Email)
	utils.Assign(&r.Name, p.Name)
	utils.Assign(&r.AveragePrice, p.AveragePrice)
	utils.Assign(&r.Description, p.Description)
	utils.Assign(&r.Category, p.Category)
	utils.Assign(&r.OGRN, p.OGRN)
	utils.Assign(&r.INN, p.INN)
	utils.Assign(&r.Address, p.Address)
	utils.Assign(&r.Avatar, p.Avatar)
	utils.Assign(&r.Phone, p.Phone)
	utils.Assign(&r.Hours, p.Hours)
	utils.Assign(&r.Menu, p.Menu)
}
