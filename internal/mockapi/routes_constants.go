package mockapi

// Route path constants
const (
	PublicPrefix  = "/api/public"
	PrivatePrefix = "/api/private"

	// Public auth routes
	RouteAuthLogin    = "/auth/login"
	RouteAuthRegister = "/auth/register"
	RouteAuthConfirm  = "/auth/confirm"
	RouteAuthValidate = "/auth/validate"
	RouteAuthRefresh  = "/auth/refresh"
	RouteAuthLogout   = "/auth/logout"

	// Private routes
	RouteUsers              = "/users"
	RouteUserMe             = "/users/me"
	RouteUser               = "/users/{id}"
	RouteUserPaymentMethods = "/users/{id}/payment-methods"
	RouteUserFavorites      = "/users/{id}/favorites"
	RouteUserFavorite       = "/users/{id}/favorites/{itemId}"
	RouteRestaurants        = "/restaurants"
	RouteRestaurant         = "/restaurants/{id}"

	RouteHealth = "/health"
)
