package domain

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorMatching(t *testing.T) {
	err := fmt.Errorf("wrap: %w", ErrBidTooLow.With("bid must be at least %s", "55.01"))

	assert.True(t, errors.Is(err, ErrBidTooLow))
	assert.True(t, errors.Is(err, ErrConflict))
	assert.False(t, errors.Is(err, ErrStaleVersion))
	assert.False(t, errors.Is(err, ErrBusinessRule))
	assert.Equal(t, KindConflict, KindOf(err))
	assert.Equal(t, "wrap: bid must be at least 55.01", err.Error())

	assert.Equal(t, KindInternal, KindOf(errors.New("boom")))
}
