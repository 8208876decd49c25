package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPolicy_Validate(t *testing.T) {
	assert.NoError(t, AuthPolicy.Validate())
	assert.NoError(t, APIPolicy.Validate())

	assert.ErrorIs(t, Policy{MaxRequests: 0, Window: time.Second}.Validate(), ErrInvalidMaxRequests)
	assert.ErrorIs(t, Policy{MaxRequests: 1}.Validate(), ErrInvalidWindow)
}
