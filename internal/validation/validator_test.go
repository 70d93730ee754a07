package validation_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	appErrors "github.com/unclebandit/reach-backend/internal/errors"
	"github.com/unclebandit/reach-backend/internal/validation"
)

type signup struct {
	Role  string `validate:"required,oneof=reporter influencer"`
	Email string `validate:"required,email"`
	Code  string `validate:"omitempty,len=6"`
}

func TestStruct(t *testing.T) {
	assert.NoError(t, validation.Struct(signup{Role: "reporter", Email: "a@example.com"}))

	err := validation.Struct(signup{Role: "admin", Email: "nope", Code: "12"})
	assert.ErrorIs(t, err, appErrors.ErrValidation)
	assert.ErrorContains(t, err, "Role must be one of [reporter influencer]")
	assert.ErrorContains(t, err, "Email must be a valid email address")
	assert.ErrorContains(t, err, "Code must be 6 characters long")

	err = validation.Struct(signup{})
	assert.ErrorContains(t, err, "Role is required")
}
