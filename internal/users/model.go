package users

import "time"

// Subscription tiers known to the quota table.
const (
	TierFree       = "free"
	TierPro        = "pro"
	TierEnterprise = "enterprise"
)

type User struct {
	ID               string    `json:"id"`
	Email            string    `json:"email"`
	SubscriptionTier string    `json:"subscriptionTier"`
	CreatedAt        time.Time `json:"createdAt"`
}
