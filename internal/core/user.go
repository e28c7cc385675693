package core

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/crypto/ssh"

	"github.com/stackdio/stackd/internal/model"
)

type UserService struct {
	store UserStore
}

func NewUserService(store UserStore) *UserService {
	return &UserService{store: store}
}

// Create inserts a user together with its settings. The public key, when
// given, must be in authorized_keys format.
func (s *UserService) Create(ctx context.Context, username, email, publicKey string) (*model.User, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return nil, fmt.Errorf("%w: username is required", model.ErrInvalidInput)
	}
	publicKey = strings.TrimSpace(publicKey)
	if publicKey != "" {
		if _, _, _, _, err := ssh.ParseAuthorizedKey([]byte(publicKey)); err != nil {
			return nil, fmt.Errorf("%w: public key: %v", model.ErrInvalidInput, err)
		}
	}

	u := &model.User{
		Username: username,
		Email:    strings.TrimSpace(email),
		Settings: model.UserSettings{PublicKey: publicKey},
	}
	if err := s.store.CreateUser(ctx, u); err != nil {
		return nil, err
	}
	return u, nil
}

func (s *UserService) Get(ctx context.Context, id int64) (*model.User, error) {
	return s.store.GetUser(ctx, id)
}
