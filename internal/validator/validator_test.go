package validator

import (
	"testing"

	ierr "github.com/flexprice/dunning/internal/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sampleRequest struct {
	Reason string `validate:"required"`
	Days   int    `validate:"min=1,max=365"`
}

func TestValidateRequest(t *testing.T) {
	require.NoError(t, ValidateRequest(&sampleRequest{Reason: "customer asked", Days: 3}))

	err := ValidateRequest(&sampleRequest{Days: 0})
	require.Error(t, err)
	assert.True(t, ierr.IsValidation(err))

	details := ierr.GetReportableDetails(err)
	assert.Equal(t, "required", details["Reason"])
	assert.Equal(t, "min", details["Days"])
}
