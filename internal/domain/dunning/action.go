package dunning

import (
	"time"

	"github.com/flexprice/dunning/internal/types"
)

// Action is the append-only audit record of a manual administrative
// operation.
type Action struct {
	ID             string                  `db:"id" json:"id"`
	SubscriptionID string                  `db:"subscription_id" json:"subscription_id"`
	InvoiceID      *string                 `db:"invoice_id" json:"invoice_id,omitempty"`
	Action         types.DunningActionType `db:"action" json:"action"`
	Reason         string                  `db:"reason" json:"reason,omitempty"`
	Actor          string                  `db:"actor" json:"actor"`
	Details        map[string]any          `db:"details" json:"details,omitempty"`
	CreatedAt      time.Time               `db:"created_at" json:"created_at"`
}
