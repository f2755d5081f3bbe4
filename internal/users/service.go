package users

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var ErrInvalidTier = errors.New("unknown subscription tier")

type Service struct {
	Repo Repo
}

func NewService(repo Repo) *Service {
	return &Service{Repo: repo}
}

// Register creates or updates a user. An empty tier means free.
func (s *Service) Register(ctx context.Context, user User) (User, error) {
	if s == nil || s.Repo == nil {
		return User{}, errors.New("users service not configured")
	}
	user.ID = strings.TrimSpace(user.ID)
	if user.ID == "" {
		return User{}, errors.New("user id is required")
	}
	user.SubscriptionTier = strings.ToLower(strings.TrimSpace(user.SubscriptionTier))
	switch user.SubscriptionTier {
	case "":
		user.SubscriptionTier = TierFree
	case TierFree, TierPro, TierEnterprise:
	default:
		return User{}, fmt.Errorf("%w: %s", ErrInvalidTier, user.SubscriptionTier)
	}
	if err := s.Repo.Upsert(ctx, user); err != nil {
		return User{}, err
	}
	return s.Repo.GetByID(ctx, user.ID)
}

func (s *Service) GetByID(ctx context.Context, userID string) (User, error) {
	if s == nil || s.Repo == nil {
		return User{}, errors.New("users service not configured")
	}
	if strings.TrimSpace(userID) == "" {
		return User{}, errors.New("user id is required")
	}
	return s.Repo.GetByID(ctx, userID)
}
