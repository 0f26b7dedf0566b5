package validator

import (
	"errors"
	"fmt"
	"strings"
	"swimbook/pkg/logger"
	"swimbook/pkg/model"

	"github.com/go-playground/validator/v10"
)

type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (v ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", v.Field, v.Message)
}

type ValidationErrors []ValidationError

func (v ValidationErrors) Error() string {
	if len(v) == 0 {
		return ""
	}
	var messages []string
	for _, err := range v {
		messages = append(messages, err.Error())
	}
	return fmt.Sprintf("validation failed: %d error(s): [%s]", len(v), strings.Join(messages, "; "))
}

type BookingValidator struct {
	validate *validator.Validate
	logger   *logger.Logger
}

func NewBookingValidator(log *logger.Logger) *BookingValidator {
	v := validator.New()

	if err := v.RegisterValidation("booking_status", validateBookingStatus); err != nil {
		log.Fatal("Failed to register 'booking_status' validator",
			"error", err,
		)
	}

	log.Info("Booking validator initialized successfully")

	return &BookingValidator{
		validate: v,
		logger:   log,
	}
}

func validateBookingStatus(fl validator.FieldLevel) bool {
	_, err := model.ParseBookingStatus(fl.Field().String())
	return err == nil
}

// ValidateRequest checks a reservation request. It runs before any storage
// access, so a zero or negative spot count never reaches the ledger.
func (v *BookingValidator) ValidateRequest(req *model.BookingRequest) error {
	if err := v.validate.Struct(req); err != nil {
		var validationErrs validator.ValidationErrors
		if errors.As(err, &validationErrs) {
			return v.translateValidationErrors(validationErrs)
		}
		return err
	}
	return nil
}

// ParseStatuses validates a status filter and converts it.
func (v *BookingValidator) ParseStatuses(raw []string) ([]model.BookingStatus, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	if err := v.validate.Var(raw, "dive,booking_status"); err != nil {
		return nil, ValidationErrors{
			ValidationError{
				Field:   "status",
				Message: "status must be one of booked, waitlist, cancelled, checked_in, no_show",
			},
		}
	}

	statuses := make([]model.BookingStatus, len(raw))
	for i, s := range raw {
		statuses[i] = model.BookingStatus(s)
	}
	return statuses, nil
}

func (v *BookingValidator) translateValidationErrors(errs validator.ValidationErrors) ValidationErrors {
	var validationErrors ValidationErrors

	for _, err := range errs {
		message := err.Error()

		switch err.Tag() {
		case "required":
			message = fmt.Sprintf("%s is required", err.Field())
		case "min":
			message = fmt.Sprintf("%s must be at least %s", err.Field(), err.Param())
		case "max":
			if err.Kind().String() == "string" {
				message = fmt.Sprintf("%s must be at most %s characters", err.Field(), err.Param())
			} else {
				message = fmt.Sprintf("%s must be at most %s", err.Field(), err.Param())
			}
		case "mongodb":
			message = fmt.Sprintf("%s must be a valid id", err.Field())
		}

		validationErrors = append(validationErrors, ValidationError{
			Field:   err.Field(),
			Message: message,
		})
	}

	return validationErrors
}
