package domain

// Profile is the product user that owns communications. ID is the user id.
type Profile struct {
	ID    string `json:"id" db:"id"`
	Email string `json:"email" db:"email"`
}
