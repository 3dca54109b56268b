package types

import (
	"crypto/rand"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/teris-io/shortid"
)

const (
	UUID_PREFIX_SUBSCRIPTION   = "sub"
	UUID_PREFIX_INVOICE        = "inv"
	UUID_PREFIX_RETRY_ATTEMPT  = "rta"
	UUID_PREFIX_DUNNING_EMAIL  = "dem"
	UUID_PREFIX_RETRY_POLICY   = "rpol"
	UUID_PREFIX_CAMPAIGN       = "dcmp"
	UUID_PREFIX_ASSIGNMENT     = "dasg"
	UUID_PREFIX_DUNNING_ACTION = "dact"
	UUID_PREFIX_OUTBOX_MESSAGE = "obx"
	UUID_PREFIX_WEBHOOK_EVENT  = "whe"
	UUID_PREFIX_REQUEST        = "req"
	UUID_PREFIX_SWEEP          = "swp"
)

const invoiceNumberPrefix = "INV"

// GenerateUUID returns a lowercase ULID.
func GenerateUUID() string {
	return strings.ToLower(ulid.MustNew(ulid.Timestamp(time.Now()), rand.Reader).String())
}

// GenerateUUIDWithPrefix returns prefix_ULID, e.g. inv_01hx...
func GenerateUUIDWithPrefix(prefix string) string {
	if prefix == "" {
		return GenerateUUID()
	}
	return fmt.Sprintf("%s_%s", prefix, GenerateUUID())
}

// GenerateInvoiceNumber returns a human friendly invoice number that embeds
// the billing cycle, e.g. INV-3-k2Jd8xQ.
func GenerateInvoiceNumber(cycle int) string {
	id, err := shortid.Generate()
	if err != nil {
		id = GenerateUUID()[:10]
	}
	return fmt.Sprintf("%s-%d-%s", invoiceNumberPrefix, cycle, id)
}
