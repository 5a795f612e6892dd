package validators

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"captain/internal/models"
)

var validate *validator.Validate

func init() {
	validate = validator.New()

	validate.RegisterValidation("notification_type", validateNotificationType)
	validate.RegisterValidation("message_status", validateMessageStatus)
	validate.RegisterValidation("sender", validateSender)
	validate.RegisterValidation("not_blank", validateNotBlank)
}

var (
	ErrInvalidNotificationType = errors.New("invalid notification type")
	ErrInvalidMessageStatus    = errors.New("invalid message status")
	ErrEmptyText               = errors.New("text must not be blank")
)

// ValidationError represents a field validation error
type ValidationError struct {
	Field   string `json:"field"`
	Tag     string `json:"tag"`
	Value   string `json:"value"`
	Message string `json:"message"`
}

type ValidationErrors []ValidationError

func (v ValidationErrors) Error() string {
	var messages []string
	for _, err := range v {
		messages = append(messages, fmt.Sprintf("%s: %s", err.Field, err.Message))
	}
	return strings.Join(messages, "; ")
}

// ValidateStruct validates a struct and returns detailed errors. The result
// is empty when s is valid.
func ValidateStruct(s interface{}) ValidationErrors {
	var validationErrors ValidationErrors

	err := validate.Struct(s)
	if err == nil {
		return nil
	}

	var fieldErrors validator.ValidationErrors
	if !errors.As(err, &fieldErrors) {
		return ValidationErrors{{Field: "", Tag: "invalid", Message: err.Error()}}
	}

	for _, fe := range fieldErrors {
		validationErrors = append(validationErrors, ValidationError{
			Field:   fe.Field(),
			Tag:     fe.Tag(),
			Value:   fmt.Sprintf("%v", fe.Value()),
			Message: getErrorMessage(fe),
		})
	}

	return validationErrors
}

// Validate is ValidateStruct returning a plain error, nil when valid.
func Validate(s interface{}) error {
	if errs := ValidateStruct(s); len(errs) > 0 {
		return errs
	}
	return nil
}

func ValidateNotificationDraft(draft models.NotificationDraft) error {
	if strings.TrimSpace(draft.Title) == "" || strings.TrimSpace(draft.Body) == "" {
		return ErrEmptyText
	}
	if !draft.Type.IsValid() {
		return fmt.Errorf("%w: %q", ErrInvalidNotificationType, draft.Type)
	}
	return Validate(draft)
}

func ValidateReceipt(receipt models.ReadReceipt) error {
	if receipt.Status != models.MessageStatusDelivered && receipt.Status != models.MessageStatusRead {
		return fmt.Errorf("%w: %q", ErrInvalidMessageStatus, receipt.Status)
	}
	if strings.TrimSpace(receipt.MessageID) == "" {
		return errors.New("messageId is required")
	}
	return nil
}

func getErrorMessage(err validator.FieldError) string {
	switch err.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", err.Field())
	case "min":
		return fmt.Sprintf("%s must be at least %s characters", err.Field(), err.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s characters", err.Field(), err.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", err.Field(), err.Param())
	case "notification_type":
		return "Type must be one of: order, message, system, payment"
	case "message_status":
		return "Status must be one of: sending, sent, delivered, read"
	case "sender":
		return "Sender must be customer or driver"
	case "not_blank":
		return fmt.Sprintf("%s must not be blank", err.Field())
	default:
		return fmt.Sprintf("Validation failed for %s", err.Field())
	}
}

func validateNotificationType(fl validator.FieldLevel) bool {
	return models.NotificationType(fl.Field().String()).IsValid()
}

func validateMessageStatus(fl validator.FieldLevel) bool {
	value := fl.Field().String()
	if value == "" {
		return true
	}
	return models.MessageStatus(value).IsValid()
}

func validateSender(fl validator.FieldLevel) bool {
	return models.Sender(fl.Field().String()).IsValid()
}

func validateNotBlank(fl validator.FieldLevel) bool {
	return strings.TrimSpace(fl.Field().String()) != ""
}

func SanitizeInput(input string) string {
	input = strings.TrimSpace(input)
	input = strings.ReplaceAll(input, "<", "&lt;")
	input = strings.ReplaceAll(input, ">", "&gt;")
	return input
}
