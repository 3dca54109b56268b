package dunning

import (
	"time"

	"github.com/flexprice/dunning/internal/types"
)

// Campaign groups subscriptions under one retry policy. At most one campaign
// is the default.
type Campaign struct {
	ID        string `db:"id" json:"id"`
	Name      string `db:"name" json:"name"`
	PolicyID  string `db:"policy_id" json:"policy_id"`
	IsDefault bool   `db:"is_default" json:"is_default"`
	types.BaseModel
}

// Assignment links a subscription to a campaign and tracks how far the
// current dunning run progressed.
type Assignment struct {
	ID               string     `db:"id" json:"id"`
	SubscriptionID   string     `db:"subscription_id" json:"subscription_id"`
	CampaignID       string     `db:"campaign_id" json:"campaign_id"`
	PolicyID         *string    `db:"policy_id" json:"policy_id,omitempty"`
	InvoiceID        *string    `db:"invoice_id" json:"invoice_id,omitempty"`
	CurrentRetryStep int        `db:"current_retry_step" json:"current_retry_step"`
	StartedAt        *time.Time `db:"started_at" json:"started_at,omitempty"`
	CompletedAt      *time.Time `db:"completed_at" json:"completed_at,omitempty"`
	UpdatedAt        time.Time  `db:"updated_at" json:"updated_at"`
}
