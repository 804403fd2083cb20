package validator

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sampleRequest struct {
	Email string `json:"email" validate:"required,email"`
	Code  string `json:"code" validate:"required,len=6,numeric"`
	Extra string `validate:"omitempty,min=2"`
}

func TestValidate_Valid(t *testing.T) {
	err := Validate(sampleRequest{Email: "reader@gonews.in", Code: "123456"})
	assert.NoError(t, err)
}

func TestValidate_FieldNamesComeFromJSONTags(t *testing.T) {
	err := Validate(sampleRequest{Email: "not-an-email", Code: "12"})
	require.Error(t, err)

	var valErr *ValidationError
	require.True(t, errors.As(err, &valErr))

	fields := valErr.Fields()
	assert.Contains(t, fields, "email")
	assert.Contains(t, fields, "code")
	assert.Equal(t, "must be a valid email address", fields["email"])
	assert.Equal(t, "must be exactly 6 characters", fields["code"])
}

func TestValidate_UntaggedFieldFallsBackToGoName(t *testing.T) {
	err := Validate(sampleRequest{Email: "reader@gonews.in", Code: "123456", Extra: "x"})
	require.Error(t, err)

	var valErr *ValidationError
	require.True(t, errors.As(err, &valErr))
	assert.Contains(t, valErr.Fields(), "Extra")
}

func TestValidate_MissingRequired(t *testing.T) {
	err := Validate(sampleRequest{})
	require.Error(t, err)

	var valErr *ValidationError
	require.True(t, errors.As(err, &valErr))
	assert.Contains(t, valErr.Error(), "is required")
}
