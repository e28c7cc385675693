package request

type CreateUser struct {
	Username  string `json:"username" validate:"required,max=150"`
	Email     string `json:"email" validate:"omitempty,email"`
	PublicKey string `json:"public_key"`
}
