package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/stackdio/stackd/internal/model"
)

// CreateUser inserts a user and its settings row in one transaction.
func (s *Store) CreateUser(ctx context.Context, u *model.User) error {
	err := s.tx(ctx, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx,
			`INSERT INTO users (username, email, first_name, last_name) VALUES ($1, $2, $3, $4)
			 RETURNING id, created_at`,
			u.Username, u.Email, u.FirstName, u.LastName,
		).Scan(&u.ID, &u.CreatedAt)
		if err != nil {
			return err
		}
		u.Settings.UserID = u.ID
		_, err = tx.Exec(ctx,
			`INSERT INTO user_settings (user_id, public_key, advanced_view) VALUES ($1, $2, $3)`,
			u.ID, u.Settings.PublicKey, u.Settings.AdvancedView)
		return err
	})
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("create user %q: username taken: %w", u.Username, model.ErrInvalidInput)
		}
		return fmt.Errorf("create user %q: %w", u.Username, err)
	}
	return nil
}

// GetUser retrieves a user with its settings.
func (s *Store) GetUser(ctx context.Context, id int64) (*model.User, error) {
	var u model.User
	err := s.db.QueryRow(ctx,
		`SELECT u.id, u.username, u.email, u.first_name, u.last_name, u.created_at,
		        COALESCE(us.public_key, ''), COALESCE(us.advanced_view, false)
		 FROM users u LEFT JOIN user_settings us ON us.user_id = u.id
		 WHERE u.id = $1`, id,
	).Scan(&u.ID, &u.Username, &u.Email, &u.FirstName, &u.LastName, &u.CreatedAt,
		&u.Settings.PublicKey, &u.Settings.AdvancedView)
	if err != nil {
		return nil, notFound(err, "user", id)
	}
	u.Settings.UserID = u.ID
	return &u, nil
}

// GroupMembers returns the users of a group.
func (s *Store) GroupMembers(ctx context.Context, groupID int64) ([]model.User, error) {
	rows, err := s.db.Query(ctx,
		`SELECT u.id, u.username, u.email, u.first_name, u.last_name, u.created_at
		 FROM group_members gm JOIN users u ON u.id = gm.user_id
		 WHERE gm.group_id = $1 ORDER BY u.id`, groupID)
	if err != nil {
		return nil, fmt.Errorf("list members of group %d: %w", groupID, err)
	}
	defer rows.Close()

	var users []model.User
	for rows.Next() {
		var u model.User
		if err := rows.Scan(&u.ID, &u.Username, &u.Email, &u.FirstName, &u.LastName, &u.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan group member: %w", err)
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate group members: %w", err)
	}
	return users, nil
}
