package users

import (
	"context"
	"database/sql"
	"errors"
)

type PGRepo struct {
	DB *sql.DB
}

func (r *PGRepo) Upsert(ctx context.Context, user User) error {
	const query = `
INSERT INTO users (id, email, subscription_tier, created_at)
VALUES ($1, $2, $3, now())
ON CONFLICT (id) DO UPDATE SET
  email = EXCLUDED.email,
  subscription_tier = EXCLUDED.subscription_tier`
	_, err := r.DB.ExecContext(ctx, query, user.ID, nullableString(user.Email), user.SubscriptionTier)
	return err
}

func (r *PGRepo) GetByID(ctx context.Context, userID string) (User, error) {
	const query = `
SELECT id, email, subscription_tier, created_at
FROM users
WHERE id = $1
LIMIT 1`
	var user User
	var email sql.NullString
	err := r.DB.QueryRowContext(ctx, query, userID).Scan(&user.ID, &email, &user.SubscriptionTier, &user.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return User{}, ErrNotFound
		}
		return User{}, err
	}
	user.Email = email.String
	return user, nil
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}
