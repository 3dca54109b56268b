package pgsql

import (
	"database/sql"
	"testing"
	"time"

	ierr "github.com/flexprice/dunning/internal/errors"
	"github.com/flexprice/dunning/internal/types"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
)

func TestDunningCaseWhere(t *testing.T) {
	due := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	filter := types.NewDunningCaseFilter()
	filter.SubscriptionIDs = []string{"sub_1", "sub_2"}
	filter.CustomerID = "cus_1"
	filter.DueBefore = &due

	where, args := dunningCaseWhere(filter)
	assert.Equal(t,
		"invoice_status = 'past_due' AND status = 'published' AND subscription_id = ANY($1) AND customer_id = $2 AND next_retry_at <= $3",
		where)
	assert.Len(t, args, 3)
	assert.Equal(t, "cus_1", args[1])

	where, args = dunningCaseWhere(nil)
	assert.Equal(t, "invoice_status = 'past_due' AND status = 'published'", where)
	assert.Empty(t, args)
}

func TestDBErrorMapping(t *testing.T) {
	assert.True(t, ierr.IsNotFound(dbError(sql.ErrNoRows, "missing", nil)))
	assert.True(t, ierr.IsAlreadyExists(dbError(&pq.Error{Code: "23505"}, "dup", nil)))
	assert.True(t, ierr.IsDatabase(dbError(&pq.Error{Code: "40001"}, "serialization", nil)))
}

func TestIntArrayConversion(t *testing.T) {
	assert.Equal(t, pq.Int64Array{1, 3, 7}, toInt64Array([]int{1, 3, 7}))
	assert.Equal(t, []int{1, 3, 7}, fromInt64Array(pq.Int64Array{1, 3, 7}))
	assert.Equal(t, []int{}, fromInt64Array(nil))
}

func TestJSONValue(t *testing.T) {
	v, err := jsonValue(map[string]any{"days": 3})
	assert.NoError(t, err)
	assert.Equal(t, `{"days":3}`, v)

	v, err = jsonValue(nil)
	assert.NoError(t, err)
	assert.Nil(t, v)
}
