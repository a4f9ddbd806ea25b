package httpx

import (
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/bentoya/bentoya/internal/shared"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks struct tags on a request payload and maps failures onto the
// validation error class so they surface as 400s.
func Validate(payload any) error {
	err := validate.Struct(payload)
	if err == nil {
		return nil
	}
	var fields validator.ValidationErrors
	if errors.As(err, &fields) && len(fields) > 0 {
		f := fields[0]
		return fmt.Errorf("%w: field %s failed rule %s", shared.ErrValidation, f.Field(), f.Tag())
	}
	return fmt.Errorf("%w: %v", shared.ErrValidation, err)
}

// ParseDate parses a YYYY-MM-DD request field.
func ParseDate(field, value string) (time.Time, error) {
	t, err := time.Parse("2006-01-02", value)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %s must be YYYY-MM-DD", shared.ErrValidation, field)
	}
	return t, nil
}
