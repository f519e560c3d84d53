package models

// User is a walker known to the identity provider.
//
// Users are keyed by email. Entries reference users by value; a user holds no
// reference back to its entries.
type User struct {
	// Email is the user's email address (unique key).
	Email string `json:"email" validate:"required,email"`

	// Name is the display name used for ranking and announcements.
	Name string `json:"name"`

	// Image is an optional avatar URL.
	Image string `json:"image,omitempty"`
}

