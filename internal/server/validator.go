package server

import (
	"fmt"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
)

// GenericEchoValidator validates bound request bodies with struct tags.
// Build it with NewValidator; Validate is called from concurrent requests.
type GenericEchoValidator struct {
	Validator *validator.Validate
}

// NewValidator returns a validator with required-struct checking enabled.
func NewValidator() *GenericEchoValidator {
	return &GenericEchoValidator{Validator: validator.New(validator.WithRequiredStructEnabled())}
}

func (gv *GenericEchoValidator) Validate(i any) error {
	if err := gv.Validator.Struct(i); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("received invalid request body: %v", err))
	}
	return nil
}
