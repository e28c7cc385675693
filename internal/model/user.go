package model

import "time"

type User struct {
	ID        int64        `json:"id"`
	Username  string       `json:"username"`
	Email     string       `json:"email"`
	FirstName string       `json:"first_name"`
	LastName  string       `json:"last_name"`
	Settings  UserSettings `json:"settings"`
	CreatedAt time.Time    `json:"created_at"`
}

// UserSettings is created together with its user.
type UserSettings struct {
	UserID       int64  `json:"user_id"`
	PublicKey    string `json:"public_key"`
	AdvancedView bool   `json:"advanced_view"`
}

type Group struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}
