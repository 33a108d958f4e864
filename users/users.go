package users

import (
	"strings"
	"time"

	"github.com/theDeemoonn/foodMobile/internal/utils"
)

type PaymentType string

const (
	PaymentCash   PaymentType = "cash"
	PaymentCard   PaymentType = "card"
	PaymentOnline PaymentType = "online"
)

type OrderStatus string

const (
	OrderPending   OrderStatus = "pending"
	OrderConfirmed OrderStatus = "confirmed"
	OrderPreparing OrderStatus = "preparing"
	OrderDelivered OrderStatus = "delivered"
)

// PaymentMethod is a way the user pays for orders.
type PaymentMethod struct {
	ID          string      `json:"id,omitempty"`
	UserID      string      `json:"userId"`
	Type        PaymentType `json:"type"`
	Provider    string      `json:"provider"`
	AccountNo   string      `json:"accountNo"`
	ExpiryMonth int         `json:"expiryMonth"`
	ExpiryYear  int         `json:"expiryYear"`
}

type OrderItem struct {
	MenuItemID string `json:"menuItemId"`
	Quantity   int    `json:"quantity"`
}

type Order struct {
	ID            string        `json:"id,omitempty"`
	UserID        string        `json:"userId"`
	RestaurantID  string        `json:"restaurantId"`
	Items         []OrderItem   `json:"items"`
	PaymentMethod PaymentMethod `json:"paymentMethod"`
	Status        OrderStatus   `json:"status"`
	CreatedAt     time.Time     `json:"createdAt"`
	UpdatedAt     time.Time     `json:"updatedAt"`
}

// User is a profile as the backend returns it. The password never leaves the
// backend.
type User struct {
	ID             string          `json:"id,omitempty"`
	Email          string          `json:"email"`
	Name           string          `json:"name,omitempty"`
	Surname        string          `json:"surname,omitempty"`
	Age            int             `json:"age,omitempty"`
	Gender         string          `json:"gender,omitempty"`
	Phone          string          `json:"phone,omitempty"`
	Interests      string          `json:"interests,omitempty"` // comma separated
	Description    string          `json:"description,omitempty"`
	Avatar         string          `json:"avatar,omitempty"`
	Banned         bool            `json:"banned,omitempty"`
	BanReason      string          `json:"banReason,omitempty"`
	Roles          string          `json:"roles,omitempty"`
	Favorites      []string        `json:"favorites,omitempty"`
	PaymentMethods []PaymentMethod `json:"paymentMethods"`
	Orders         []Order         `json:"orders"`
}

// FullName joins name and surname, skipping the empty one.
func (u *User) FullName() string {
	return strings.TrimSpace(u.Name + " " + u.Surname)
}

// InterestList splits Interests into trimmed, non-empty entries.
func (u *User) InterestList() []string {
	var out []string
	for _, i := range strings.Split(u.Interests, ",") {
		if i = strings.TrimSpace(i); i != "" {
			out = append(out, i)
		}
	}
	return out
}

func (u *User) HasFavorite(itemID string) bool {
	for _, f := range u.Favorites {
		if f == itemID {
			return true
		}
	}
	return false
}

// Patch is a partial profile update; nil fields are left unchanged.
type Patch struct {
	Name        *string `json:"name,omitempty"`
	Surname     *string `json:"surname,omitempty"`
	Age         *int    `json:"age,omitempty"`
	Gender      *string `json:"gender,omitempty"`
	Phone       *string `json:"phone,omitempty"`
	Interests   *string `json:"interests,omitempty"`
	Description *string `json:"description,omitempty"`
	Avatar      *string `json:"avatar,omitempty"`
}

func (p Patch) IsEmpty() bool {
	return p == Patch{}
}

// Apply copies the set fields of p onto u.
func (p Patch) Apply(u *User) {
	utils.Assign(&u.Name, p.Name)
	utils.Assign(&u.Surname, p.Surname)
	utils.Assign(&u.Age, p.Age)
	utils.Assign(&u.Gender, p.Gender)
	utils.Assign(&u.Phone, p.Phone)
	utils.Assign(&u.Interests, p.Interests)
	utils.Assign(&u.Description, p.Description)
	utils.Assign(&u.Avatar, p.Avatar)
}

// Filter narrows a people list. Zero values match everything.
type Filter struct {
	MinAge    int
	MaxAge    int
	Gender    string   // "" or "all" matches any
	Interests []string // any one must appear in the user's interests
	Query     string   // case-insensitive match on name, surname or email
}

func (f Filter) Match(u *User) bool {
	if f.MinAge > 0 && u.Age < f.MinAge {
		return false
	}
	if f.MaxAge > 0 && u.Age > f.MaxAge {
		return false
	}
	if f.Gender != "" && !strings.EqualFold(f.Gender, "all") && !strings.EqualFold(f.Gender, u.Gender) {
		return false
	}
	if len(f.Interests) > 0 && !matchesAnyInterest(u, f.Interests) {
		return false
	}
	if q := strings.ToLower(strings.TrimSpace(f.Query)); q != "" {
		if !strings.Contains(strings.ToLower(u.Name), q) &&
			!strings.Contains(strings.ToLower(u.Surname), q) &&
			!strings.Contains(strings.ToLower(u.Email), q) {
			return false
		}
	}
	return true
}

func matchesAnyInterest(u *User, wanted []string) bool {
	have := strings.ToLower(u.Interests)
	for _, w := range wanted {
		if w = strings.ToLower(strings.TrimSpace(w)); w != "" && strings.Contains(have, w) {
			return true
		}
	}
	return false
}

// Apply returns the users matching f, in their original order.
func (f Filter) Apply(list []User) []User {
	out := make([]User, 0, len(list))
	for i := range list {
		if f.Match(&list[i]) {
			out = append(out, list[i])
		}
	}
	return out
}
