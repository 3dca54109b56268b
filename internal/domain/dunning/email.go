package dunning

import (
	"strconv"
	"time"

	"github.com/flexprice/dunning/internal/types"
)

// DunningEmail is one customer notification tied to an invoice. OpenedAt and
// ClickedAt are filled by the tracking collaborator.
type DunningEmail struct {
	ID                string                    `db:"id" json:"id"`
	InvoiceID         string                    `db:"invoice_id" json:"invoice_id"`
	SubscriptionID    string                    `db:"subscription_id" json:"subscription_id"`
	AttemptNumber     int                       `db:"attempt_number" json:"attempt_number"`
	EmailType         types.DunningEmailType    `db:"email_type" json:"email_type"`
	Recipient         string                    `db:"recipient" json:"recipient"`
	DeliveryStatus    types.EmailDeliveryStatus `db:"delivery_status" json:"delivery_status"`
	ProviderMessageID string                    `db:"provider_message_id" json:"provider_message_id,omitempty"`
	SentAt            *time.Time                `db:"sent_at" json:"sent_at,omitempty"`
	OpenedAt          *time.Time                `db:"opened_at" json:"opened_at,omitempty"`
	ClickedAt         *time.Time                `db:"clicked_at" json:"clicked_at,omitempty"`
	LastError         string                    `db:"last_error" json:"last_error,omitempty"`
	CreatedAt         time.Time                 `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time                 `db:"updated_at" json:"updated_at"`
}

// DedupKey identifies the uniqueness slot of the email. retry_failure emails
// are unique per attempt, every other type once per invoice.
func (e *DunningEmail) DedupKey() string {
	if e.EmailType.AllowsRepeat() {
		return e.InvoiceID + ":" + string(e.EmailType) + ":" + strconv.Itoa(e.AttemptNumber)
	}
	return e.InvoiceID + ":" + string(e.EmailType)
}
