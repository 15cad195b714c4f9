package validation

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sample struct {
	Name string `validate:"required"`
	Mode string `validate:"oneof=blacklist whitelist"`
	N    int    `validate:"gte=-1"`
}

func TestStruct(t *testing.T) {
	t.Parallel()

	require.NoError(t, Struct(&sample{Name: "x", Mode: "blacklist", N: -1}))

	err := Struct(&sample{Mode: "other", N: -5})
	require.Error(t, err)

	var verr *Error
	require.True(t, errors.As(err, &verr))
	assert.Len(t, verr.Fields, 3)
	assert.Contains(t, err.Error(), "sample.Name is required")
	assert.Contains(t, err.Error(), "sample.Mode must be one of [blacklist whitelist]")
	assert.Contains(t, err.Error(), "sample.N must be at least -1")
}

func TestGetIsShared(t *testing.T) {
	t.Parallel()
	assert.Same(t, Get(), Get())
}
