package validator

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"bloodmatch/pkg/logger"
	"bloodmatch/pkg/model"

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

type MatchingValidator struct {
	validate *validator.Validate
	logger   *logger.Logger
	now      func() time.Time
}

func NewMatchingValidator(log *logger.Logger) *MatchingValidator {
	v := validator.New()

	// Report fields by their JSON names so messages line up with the payload.
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		if name == "" {
			return field.Name
		}
		return name
	})

	if err := v.RegisterValidation("blood_type", validateBloodType); err != nil {
		log.Fatal("Failed to register 'blood_type' validator", "error", err)
	}
	if err := v.RegisterValidation("urgency", validateUrgency); err != nil {
		log.Fatal("Failed to register 'urgency' validator", "error", err)
	}

	log.Debug("Matching validator initialized successfully")

	return &MatchingValidator{
		validate: v,
		logger:   log,
		now:      time.Now,
	}
}

func validateBloodType(fl validator.FieldLevel) bool {
	if fl.Field().Kind() != reflect.String {
		return false
	}
	_, err := model.ParseBloodType(fl.Field().String())
	return err == nil
}

func validateUrgency(fl validator.FieldLevel) bool {
	if fl.Field().Kind() != reflect.String {
		return false
	}
	return model.Urgency(strings.ToLower(fl.Field().String())).Valid()
}

func (v *MatchingValidator) ValidateDonor(reg *model.DonorRegistration) error {
	if err := v.structErr(reg); err != nil {
		return err
	}

	if reg.LastDonationAt != nil && reg.LastDonationAt.After(v.now()) {
		return ValidationErrors{
			ValidationError{
				Field:   "last_donation_at",
				Message: "last_donation_at cannot be in the future",
			},
		}
	}
	return nil
}

func (v *MatchingValidator) ValidateRequest(sub *model.RequestSubmission) error {
	return v.structErr(sub)
}

func (v *MatchingValidator) ValidatePosition(pos model.Position) error {
	return v.structErr(pos)
}

func (v *MatchingValidator) structErr(s any) error {
	if err := v.validate.Struct(s); err != nil {
		var validationErrs validator.ValidationErrors
		if errors.As(err, &validationErrs) {
			return v.translateValidationErrors(validationErrs)
		}
		return err
	}
	return nil
}

func (v *MatchingValidator) translateValidationErrors(errs validator.ValidationErrors) ValidationErrors {
	var validationErrors ValidationErrors

	for _, err := range errs {
		message := err.Error()

		switch err.Tag() {
		case "required":
			message = fmt.Sprintf("%s is required", err.Field())
		case "min":
			message = fmt.Sprintf("%s must be at least %s", err.Field(), err.Param())
		case "max":
			message = fmt.Sprintf("%s must be at most %s", err.Field(), err.Param())
		case "gt":
			message = fmt.Sprintf("%s must be greater than %s", err.Field(), err.Param())
		case "latitude":
			message = fmt.Sprintf("%s must be between -90 and 90", err.Field())
		case "longitude":
			message = fmt.Sprintf("%s must be between -180 and 180", err.Field())
		case "blood_type":
			message = fmt.Sprintf("%s must be one of O+, O-, A+, A-, B+, B-, AB+, AB-", err.Field())
		case "urgency":
			message = fmt.Sprintf("%s must be one of critical, high, medium, low", err.Field())
		}

		validationErrors = append(validationErrors, ValidationError{
			Field:   err.Field(),
			Message: message,
		})
	}

	return validationErrors
}
