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

type SessionValidator struct {
	validate *validator.Validate
	logger   *logger.Logger
}

func NewSessionValidator(log *logger.Logger) *SessionValidator {
	v := validator.New()

	if err := v.RegisterValidation("session_status", validateSessionStatus); err != nil {
		log.Fatal("Failed to register 'session_status' validator", "error", err)
	}

	log.Info("Session validator initialized successfully")

	return &SessionValidator{
		validate: v,
		logger:   log,
	}
}

func validateSessionStatus(fl validator.FieldLevel) bool {
	_, err := model.ParseSessionStatus(fl.Field().String())
	return err == nil
}

func (v *SessionValidator) Validate(s *model.Session) error {
	return v.check(v.validate.Struct(s))
}

func (v *SessionValidator) ValidateUpdate(u *model.SessionUpdate) error {
	return v.check(v.validate.Struct(u))
}

func (v *SessionValidator) check(err error) error {
	if err == nil {
		return nil
	}
	var validationErrs validator.ValidationErrors
	if errors.As(err, &validationErrs) {
		return v.translateValidationErrors(validationErrs)
	}
	return err
}

func (v *SessionValidator) translateValidationErrors(errs validator.ValidationErrors) ValidationErrors {
	var validationErrors ValidationErrors

	for _, err := range errs {
		message := err.Error()

		switch err.Tag() {
		case "required":
			message = fmt.Sprintf("%s is required", err.Field())
		case "min":
			if err.Kind().String() == "string" {
				message = fmt.Sprintf("%s must be at least %s characters", err.Field(), err.Param())
			} else {
				message = fmt.Sprintf("%s must be at least %s", err.Field(), err.Param())
			}
		case "max":
			if err.Kind().String() == "string" {
				message = fmt.Sprintf("%s must be at most %s characters", err.Field(), err.Param())
			} else {
				message = fmt.Sprintf("%s must be at most %s", err.Field(), err.Param())
			}
		case "gtfield":
			message = fmt.Sprintf("%s must be after %s", err.Field(), err.Param())
		case "mongodb":
			message = fmt.Sprintf("%s must be a valid id", err.Field())
		case "session_status":
			message = "status must be one of draft, scheduled, completed, cancelled"
		}

		validationErrors = append(validationErrors, ValidationError{
			Field:   err.Field(),
			Message: message,
		})
	}

	return validationErrors
}
